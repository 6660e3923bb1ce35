package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// Backend API
	// ----------------------------
	BackendURL     string        `envconfig:"BACKEND_URL" required:"true"`
	BackendToken   string        `envconfig:"BACKEND_TOKEN" default:""`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"30s"`

	// ----------------------------
	// Workflow execution
	// ----------------------------
	RunTimeout     time.Duration `envconfig:"RUN_TIMEOUT" default:"1h"`
	RetryAttempts  int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	RetryMaxDelay  time.Duration `envconfig:"RETRY_MAX_DELAY" default:"10s"`

	// ----------------------------
	// Recipient validation
	// ----------------------------
	ValidatorWorkers int           `envconfig:"VALIDATOR_WORKERS" default:"20"`
	ValidatorSkipMX  bool          `envconfig:"VALIDATOR_SKIP_MX" default:"false"`
	MXLookupTimeout  time.Duration `envconfig:"MX_LOOKUP_TIMEOUT" default:"5s"`

	// ----------------------------
	// Scheduler
	// ----------------------------
	SchedulerInterval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"60s"`
	ScheduleLockLease time.Duration `envconfig:"SCHEDULE_LOCK_LEASE" default:"2h"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort     string `envconfig:"API_PORT" default:"8080"`
	APIRequests int    `envconfig:"API_REQUESTS_PER_SECOND" default:"10"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Run report mail
	// ----------------------------
	ReportSMTPHost string `envconfig:"REPORT_SMTP_HOST" default:""`
	ReportSMTPPort int    `envconfig:"REPORT_SMTP_PORT" default:"587"`
	ReportSMTPUser string `envconfig:"REPORT_SMTP_USER" default:""`
	ReportSMTPPass string `envconfig:"REPORT_SMTP_PASSWORD" default:""`
	ReportFrom     string `envconfig:"REPORT_FROM" default:""`
	ReportTo       string `envconfig:"REPORT_TO" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}
