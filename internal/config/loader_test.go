package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  address: ":9090"
  readTimeout: 20s
logging:
  level: debug
session:
  backend: redis
  ttl: 2h
  redis:
    url: redis://localhost:6379/0
providers:
  - name: main
    type: memory
    priority: high
    settings:
      session_ttl: 1h
validation:
  parallel: true
  rules:
    - name: identifier-present
      priority: 10
      expression: 'has(data.identifier)'
`

func TestLoadConfigFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "redis", cfg.Session.Backend)
	require.NotNil(t, cfg.Session.Redis)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Session.Redis.URL)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "main", cfg.Providers[0].Name)
	assert.Equal(t, "high", cfg.Providers[0].Priority)
	assert.True(t, cfg.Providers[0].IsEnabled())
	assert.Equal(t, "1h", cfg.Providers[0].Settings["session_ttl"])

	require.Len(t, cfg.Validation.Rules, 1)
	assert.Equal(t, "identifier-present", cfg.Validation.Rules[0].Name)

	// Values absent from the file keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout.Duration())
	assert.Equal(t, 3, cfg.Health.UnhealthyThreshold)
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "avauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFromReader(strings.NewReader("server: [not a mapping"))
	assert.Error(t, err)
}

func TestEnvVarSubstitution(t *testing.T) {
	t.Setenv("AVAUTH_TEST_ADDR", ":7070")

	cfg, err := LoadConfigFromReader(strings.NewReader(`
server:
  address: "${AVAUTH_TEST_ADDR}"
logging:
  level: "${AVAUTH_TEST_LEVEL:-warn}"
`))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvVarSubstitutionUnsetWithoutDefault(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(`
logging:
  output: "${AVAUTH_TEST_DOES_NOT_EXIST}stdout"
`))
	require.NoError(t, err)
	assert.Equal(t, "stdout", cfg.Logging.Output)
}

func TestEnvVarEscapedDollar(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(`
logging:
  output: "$${literal}"
`))
	require.NoError(t, err)
	assert.Equal(t, "${literal}", cfg.Logging.Output)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	assert.Error(t, ValidateConfig(nil))
	assert.NoError(t, ValidateConfig(DefaultConfig()))

	cfg := DefaultConfig()
	cfg.Server.Address = ""
	assert.Error(t, ValidateConfig(cfg))

	cfg = DefaultConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, ValidateConfig(cfg))

	cfg = DefaultConfig()
	cfg.Session.Backend = "postgres"
	assert.Error(t, ValidateConfig(cfg))

	cfg = DefaultConfig()
	cfg.Session.Backend = "redis"
	assert.Error(t, ValidateConfig(cfg))
	cfg.Session.Redis = &RedisConfig{URL: "redis://localhost:6379"}
	assert.NoError(t, ValidateConfig(cfg))

	cfg = DefaultConfig()
	cfg.Providers = []ProviderConfig{{Name: "", Type: "memory"}}
	assert.Error(t, ValidateConfig(cfg))

	cfg.Providers = []ProviderConfig{{Name: "a", Type: ""}}
	assert.Error(t, ValidateConfig(cfg))

	cfg.Providers = []ProviderConfig{{Name: "a", Type: "memory"}, {Name: "a", Type: "jwt"}}
	assert.Error(t, ValidateConfig(cfg))

	cfg = DefaultConfig()
	cfg.Validation.Rules = []CELRuleConfig{{Name: "r", Expression: ""}}
	assert.Error(t, ValidateConfig(cfg))

	cfg.Validation.Rules = []CELRuleConfig{
		{Name: "r", Expression: "true"},
		{Name: "r", Expression: "false"},
	}
	assert.Error(t, ValidateConfig(cfg))
}

func TestDurationYAML(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader("session:\n  ttl: 90m\n"))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.Session.TTL.Duration())

	_, err = LoadConfigFromReader(strings.NewReader("session:\n  ttl: soon\n"))
	assert.Error(t, err)
}
