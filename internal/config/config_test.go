package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithEnvURL(t *testing.T) {
	t.Setenv("CRONOGRAMA_DATABASE__URL", "postgres://localhost/cronograma")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/cronograma", cfg.Database.URL)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "America/Lima", cfg.Notifications.Timezone)
	assert.Equal(t, 8, cfg.Notifications.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Notifications.PollInterval)
}

func TestLoad_FileThenEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  url: postgres://file-host/cronograma
server:
  port: "9000"
  read_timeout: 20s
log:
  level: debug
notifications:
  smtp:
    host: smtp.example.com
    from_address: noreply@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("CRONOGRAMA_SERVER__PORT", "9100")
	t.Setenv("CRONOGRAMA_NOTIFICATIONS__SMTP__HOST", "smtp.override.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment wins over the file
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "smtp.override.com", cfg.Notifications.SMTP.Host)

	// File wins over defaults
	assert.Equal(t, "postgres://file-host/cronograma", cfg.Database.URL)
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "noreply@example.com", cfg.Notifications.SMTP.FromAddress)
}

func TestLoad_Validation(t *testing.T) {
	_, err := Load("")
	assert.ErrorContains(t, err, "database.url")

	t.Setenv("CRONOGRAMA_DATABASE__URL", "postgres://localhost/cronograma")
	t.Setenv("CRONOGRAMA_LOG__LEVEL", "loud")
	_, err = Load("")
	assert.ErrorContains(t, err, "log.level")

	t.Setenv("CRONOGRAMA_LOG__LEVEL", "warn")
	t.Setenv("CRONOGRAMA_NOTIFICATIONS__TIMEZONE", "Mars/Olympus")
	_, err = Load("")
	assert.ErrorContains(t, err, "timezone")
}

func TestLocation(t *testing.T) {
	cfg := Default()
	loc := cfg.Location()
	require.NotNil(t, loc)
	assert.Equal(t, "America/Lima", loc.String())
}
