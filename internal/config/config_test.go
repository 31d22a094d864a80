package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultSchedule, cfg.Schedule)
	assert.Len(t, cfg.Profiles, 3)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadRoundTripsSavedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Profile = "cec"
	cfg.HorizonDays = 10
	cfg.FetchTimeout = 5 * time.Second
	cfg.StaleOnError = true
	require.NoError(t, Save(path, cfg))

	got, err := loadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cec", got.Profile)
	assert.Equal(t, 10, got.HorizonDays)
	assert.Equal(t, 5*time.Second, got.FetchTimeout)
	assert.True(t, got.StaleOnError)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
profile: mine
profiles:
  - id: mine
    title: Mine
    cover: https://example.com/cover.png
    link: https://example.com
    feed_url: https://example.com/feed.xml
    subject: Weekly
fetch_timeout: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := loadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.HorizonDays)
	assert.Equal(t, 200, cfg.SnippetLength)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, defaultSendTimeout, cfg.SendTimeout)
	assert.Equal(t, "rss", cfg.Profiles[0].FeedFormat)
	assert.Equal(t, "none", cfg.SMTP.TLS)
	assert.False(t, cfg.StaleOnError)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: [oops"), 0o600))

	_, err := loadFile(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyEnv(envMap(map[string]string{
		"MAIL_EMAIL":      "news@example.edu",
		"MAIL_PASSWORD":   "s3cret",
		"TO_EMAIL":        "a@example.edu, b@example.edu,",
		"SMTP_HOST":       "relay.example.edu",
		"SMTP_PORT":       "587",
		"CALNEWS_PROFILE": "cec",
		"LOG_LEVEL":       "debug",
	}))

	assert.Equal(t, "news@example.edu", cfg.Mail.From)
	assert.Equal(t, "news@example.edu", cfg.SMTP.Username)
	assert.Equal(t, "s3cret", cfg.SMTP.Password)
	assert.Equal(t, []string{"a@example.edu", "b@example.edu"}, cfg.Mail.To)
	assert.Equal(t, "relay.example.edu", cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "cec", cfg.Profile)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyEnvKeepsExplicitUsername(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SMTP.Username = "relay-user"
	cfg.ApplyEnv(envMap(map[string]string{"MAIL_EMAIL": "news@example.edu", "SMTP_PORT": "nope"}))

	assert.Equal(t, "relay-user", cfg.SMTP.Username)
	assert.Equal(t, 25, cfg.SMTP.Port)
}

func TestActiveProfile(t *testing.T) {
	cfg := DefaultConfig()

	p, err := cfg.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, "scis", p.ID)
	assert.Equal(t, p.Cover, p.PlaceholderMedia())

	cfg.Profile = "missing"
	_, err = cfg.ActiveProfile()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad schedule", func(c *Config) { c.Schedule = "every thursday" }, true},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, true},
		{"unknown profile", func(c *Config) { c.Profile = "nope" }, true},
		{"bad feed url", func(c *Config) { c.Profiles[0].FeedURL = "not a url" }, true},
		{"bad colour", func(c *Config) { c.Profiles[0].Palette.Primary = "navy" }, true},
		{"bad format", func(c *Config) { c.Profiles[0].FeedFormat = "json" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDelivery(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.ValidateDelivery(), "no sender or recipients")

	cfg.Mail.From = "news@example.edu"
	cfg.Mail.To = []string{"list@example.edu"}
	assert.NoError(t, cfg.ValidateDelivery())

	cfg.Mail.To = []string{"not-an-address"}
	assert.Error(t, cfg.ValidateDelivery())

	cfg.Mail.To = []string{"list@example.edu"}
	cfg.SMTP.TLS = "sometimes"
	assert.Error(t, cfg.ValidateDelivery())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CALNEWS_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CALNEWS_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("CALNEWS_TEST_DOTENV"))
}
