package validate

import (
	"context"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"MailFlow/internal/metrics"
)

// emailPattern requires local@domain.tld; anything looser is rejected before
// a DNS lookup is ever attempted.
var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

type Reason string

const (
	ReasonBadSyntax Reason = "bad syntax"
	ReasonNoMX      Reason = "no mail exchange record"
)

// Invalid is a rejected address annotated with why it was rejected.
type Invalid struct {
	Email  string `json:"email"`
	Reason Reason `json:"reason"`
}

// Result partitions the input into sendable and rejected addresses.
type Result struct {
	Valid   []string
	Invalid []Invalid
}

// MXResolver resolves MX records for a domain. Swappable for tests.
type MXResolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
}

type netResolver struct{}

func (netResolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	return net.DefaultResolver.LookupMX(ctx, domain)
}

// MXCache remembers whether a domain has MX records. It is shared across
// validator invocations so repeated domains cost one DNS lookup per process.
type MXCache struct {
	mu sync.RWMutex
	m  map[string]bool
}

func NewMXCache() *MXCache {
	return &MXCache{m: make(map[string]bool)}
}

func (c *MXCache) get(domain string) (ok, found bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ok, found = c.m[domain]
	return ok, found
}

func (c *MXCache) set(domain string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[domain] = ok
}

// Len reports how many domains have been resolved so far.
func (c *MXCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

type Options struct {
	// Workers bounds concurrent DNS lookups. Defaults to 20.
	Workers int
	// SkipMX disables the DNS phase entirely (syntax-only fast mode).
	SkipMX bool
	// LookupTimeout bounds a single MX lookup. Defaults to 5s.
	LookupTimeout time.Duration
	// Resolver overrides DNS resolution, mainly for tests.
	Resolver MXResolver
}

// Validator filters raw email lists down to addresses worth sending to.
// It is a pure filter: the only side effect is populating the MX cache.
type Validator struct {
	cache         *MXCache
	resolver      MXResolver
	log           *zap.Logger
	workers       int
	skipMX        bool
	lookupTimeout time.Duration
}

func New(cache *MXCache, log *zap.Logger, opts Options) *Validator {
	if opts.Workers <= 0 {
		opts.Workers = 20
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 5 * time.Second
	}
	if opts.Resolver == nil {
		opts.Resolver = netResolver{}
	}
	return &Validator{
		cache:         cache,
		resolver:      opts.Resolver,
		log:           log,
		workers:       opts.Workers,
		skipMX:        opts.SkipMX,
		lookupTimeout: opts.LookupTimeout,
	}
}

// Validate normalizes, syntax-checks, and MX-checks the given addresses.
func (v *Validator) Validate(ctx context.Context, emails []string) Result {
	var res Result
	var candidates []string

	for _, raw := range emails {
		email := strings.ToLower(strings.TrimSpace(raw))
		if email == "" {
			continue
		}
		if !emailPattern.MatchString(email) {
			res.Invalid = append(res.Invalid, Invalid{Email: email, Reason: ReasonBadSyntax})
			continue
		}
		candidates = append(candidates, email)
	}

	if v.skipMX {
		res.Valid = candidates
		return res
	}

	v.resolveDomains(ctx, candidates)

	for _, email := range candidates {
		domain := email[strings.LastIndex(email, "@")+1:]
		if ok, _ := v.cache.get(domain); ok {
			res.Valid = append(res.Valid, email)
		} else {
			res.Invalid = append(res.Invalid, Invalid{Email: email, Reason: ReasonNoMX})
		}
	}

	v.log.Debug("validation complete",
		zap.Int("input", len(emails)),
		zap.Int("valid", len(res.Valid)),
		zap.Int("invalid", len(res.Invalid)),
	)
	return res
}

// resolveDomains looks up every not-yet-cached domain concurrently and fills
// the cache. A lookup error or timeout is recorded as "no MX" (fail closed).
func (v *Validator) resolveDomains(ctx context.Context, emails []string) {
	pending := make(map[string]struct{})
	for _, email := range emails {
		domain := email[strings.LastIndex(email, "@")+1:]
		if _, found := v.cache.get(domain); found {
			metrics.MXCacheHits.Inc()
			continue
		}
		pending[domain] = struct{}{}
	}
	if len(pending) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)

	for domain := range pending {
		domain := domain
		metrics.MXCacheMisses.Inc()
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, v.lookupTimeout)
			defer cancel()

			records, err := v.resolver.LookupMX(lctx, domain)
			if err != nil {
				v.log.Debug("mx lookup failed", zap.String("domain", domain), zap.Error(err))
			}
			v.cache.set(domain, err == nil && len(records) > 0)
			return nil
		})
	}
	_ = g.Wait() // lookups never return errors, failures are cached as false
}
