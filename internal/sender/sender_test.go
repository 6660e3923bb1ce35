package sender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"MailFlow/internal/models"
)

func activeEngine(kind models.EngineKind) *models.EngineConfig {
	return &models.EngineConfig{
		ID:        1,
		Name:      "test-engine",
		Kind:      kind,
		Host:      "smtp.example.com",
		Port:      587,
		Username:  "user",
		Password:  "pass",
		APIKey:    "key-123",
		FromEmail: "noreply@example.com",
		Status:    "active",
	}
}

func TestBuildRejectsInactiveEngine(t *testing.T) {
	cfg := activeEngine(models.EngineSMTP)
	cfg.Status = "inactive"

	_, err := Build(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestBuildRequiresFromEmail(t *testing.T) {
	cfg := activeEngine(models.EngineSMTP)
	cfg.FromEmail = ""

	_, err := Build(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from_email")
}

func TestBuildSMTP(t *testing.T) {
	s, err := Build(activeEngine(models.EngineSMTP), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, s)
}

func TestBuildSMTPRequiresHost(t *testing.T) {
	cfg := activeEngine(models.EngineSMTP)
	cfg.Host = ""

	_, err := Build(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host")
}

func TestBuildMailgunRequiresAPIKey(t *testing.T) {
	cfg := activeEngine(models.EngineMailgun)
	cfg.APIKey = ""

	_, err := Build(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestBuildSendGrid(t *testing.T) {
	s, err := Build(activeEngine(models.EngineSendGrid), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SendGridSender{}, s)
}

func TestBuildSESRelayRequiresCredentials(t *testing.T) {
	cfg := activeEngine(models.EngineSESRelay)
	cfg.Password = ""

	_, err := Build(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestBuildUnknownKindDefaultsToSMTP(t *testing.T) {
	cfg := activeEngine(models.EngineKind("carrier_pigeon"))

	s, err := Build(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, s)
}

func TestMailgunDomainFallsBackToFromAddress(t *testing.T) {
	cfg := activeEngine(models.EngineMailgun)
	cfg.Host = ""

	s, err := Build(cfg, zap.NewNop())
	require.NoError(t, err)
	mg := s.(*MailgunSender)
	assert.Equal(t, "example.com", mg.domain)
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "a@b.com", formatAddress("a@b.com", ""))
	assert.Equal(t, `"Jane Doe" <a@b.com>`, formatAddress("a@b.com", "Jane Doe"))
}
