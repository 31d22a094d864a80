package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Palette holds the colours used by the newsletter template.
type Palette struct {
	Primary    string `yaml:"primary" json:"primary" validate:"required,hexcolor"`
	Accent     string `yaml:"accent" json:"accent" validate:"required,hexcolor"`
	Background string `yaml:"background" json:"background" validate:"required,hexcolor"`
	Text       string `yaml:"text" json:"text" validate:"required,hexcolor"`
}

// FooterItem is a static entry rendered below the events (career postings
// and the like).
type FooterItem struct {
	Title       string `yaml:"title" json:"title" validate:"required"`
	Link        string `yaml:"link" json:"link" validate:"required,url"`
	Description string `yaml:"description" json:"description"`
}

// Profile describes one newsletter variant.
type Profile struct {
	// ID selects the profile via Config.Profile / CALNEWS_PROFILE.
	ID    string `yaml:"id" json:"id" validate:"required"`
	Title string `yaml:"title" json:"title" validate:"required"`
	// Cover is the header image URL; it also stands in for missing event media
	// unless Placeholder is set.
	Cover string `yaml:"cover" json:"cover" validate:"required,url"`
	Link  string `yaml:"link" json:"link" validate:"required,url"`

	FeedURL string `yaml:"feed_url" json:"feed_url" validate:"required,url"`
	// FeedFormat is "rss" (default) or "ics".
	FeedFormat string `yaml:"feed_format" json:"feed_format" validate:"omitempty,oneof=rss ics"`

	Subject     string `yaml:"subject" json:"subject" validate:"required"`
	Placeholder string `yaml:"placeholder,omitempty" json:"placeholder,omitempty" validate:"omitempty,url"`

	Palette Palette `yaml:"palette" json:"palette"`

	FooterHeading string       `yaml:"footer_heading,omitempty" json:"footer_heading,omitempty"`
	Footer        []FooterItem `yaml:"footer,omitempty" json:"footer,omitempty" validate:"dive"`

	SubmitLink    string `yaml:"submit_link,omitempty" json:"submit_link,omitempty" validate:"omitempty,url"`
	Copyright     string `yaml:"copyright,omitempty" json:"copyright,omitempty"`
	TrackingPixel string `yaml:"tracking_pixel,omitempty" json:"tracking_pixel,omitempty" validate:"omitempty,url"`
}

// PlaceholderMedia returns the image used for events without media.
func (p Profile) PlaceholderMedia() string {
	if p.Placeholder != "" {
		return p.Placeholder
	}
	return p.Cover
}

// SMTPConfig describes the outbound mail relay.
type SMTPConfig struct {
	Host string `yaml:"host" json:"host" validate:"required,hostname|ip"`
	Port int    `yaml:"port" json:"port" validate:"required,min=1,max=65535"`
	// TLS is one of "none", "opportunistic", "mandatory".
	TLS      string `yaml:"tls" json:"tls" validate:"oneof=none opportunistic mandatory"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
}

// MailConfig holds the envelope addresses.
type MailConfig struct {
	From string   `yaml:"from" json:"from" validate:"required,email"`
	To   []string `yaml:"to" json:"to" validate:"required,min=1,dive,email"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the web endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the web endpoints in serve mode.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for the schedule and the date line.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Schedule is a standard 5-field cron expression evaluated in Timezone.
	Schedule string `yaml:"schedule" json:"schedule"`

	HorizonDays   int `yaml:"horizon_days" json:"horizon_days"`
	SnippetLength int `yaml:"snippet_length" json:"snippet_length"`

	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	SendTimeout  time.Duration `yaml:"send_timeout" json:"send_timeout"`

	// CacheDir holds the conditional-GET cache of the feed body and the last
	// preview snapshot.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// SkipEmpty suppresses the email when both buckets are empty.
	SkipEmpty bool `yaml:"skip_empty" json:"skip_empty"`

	// StaleOnError reuses the last cached feed when the origin fails. Off by
	// default, so an unreachable feed fails the run instead of mailing old
	// events.
	StaleOnError bool `yaml:"stale_on_error" json:"stale_on_error"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Profile  string    `yaml:"profile" json:"profile"`
	Profiles []Profile `yaml:"profiles" json:"profiles"`

	SMTP SMTPConfig `yaml:"smtp" json:"smtp"`
	Mail MailConfig `yaml:"mail" json:"mail"`

	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen        = "127.0.0.1:8080"
	defaultTimezone      = "America/New_York"
	defaultSchedule      = "0 15 * * THU"
	defaultHorizonDays   = 14
	defaultSnippetLength = 200
	defaultFetchTimeout  = 30 * time.Second
	defaultSendTimeout   = 60 * time.Second
	defaultCacheDir      = "/var/lib/calnews"
	defaultProfile       = "scis"
)

var fiuPalette = Palette{
	Primary:    "#081D3F",
	Accent:     "#F8C93E",
	Background: "#FAFAFA",
	Text:       "#626262",
}

// DefaultConfig returns an in-memory default configuration with the three
// stock newsletter profiles.
func DefaultConfig() *Config {
	return &Config{
		Listen:        defaultListen,
		Timezone:      defaultTimezone,
		Schedule:      defaultSchedule,
		HorizonDays:   defaultHorizonDays,
		SnippetLength: defaultSnippetLength,
		FetchTimeout:  defaultFetchTimeout,
		SendTimeout:   defaultSendTimeout,
		CacheDir:      defaultCacheDir,
		LogLevel:      "info",
		Profile:       defaultProfile,
		Profiles: []Profile{
			{
				ID:            "scis",
				Title:         "School of Computing and Information Sciences",
				Cover:         "https://www.cis.fiu.edu/wp-content/uploads/2019/09/scis-newsletter-cover-09192019.png",
				Link:          "https://www.cis.fiu.edu/events",
				FeedURL:       "https://calendar.fiu.edu/department/computing_information_sciences/calendar/xml",
				FeedFormat:    "rss",
				Subject:       "FIUSCIS Events Newsletter",
				Palette:       fiuPalette,
				FooterHeading: "Career Path",
				Footer: []FooterItem{
					{
						Title:       "ERP Application Developer I",
						Link:        "https://careerpath.cis.fiu.edu/job/fiu-panthersoft-fiu-miami-fl-7-erp-application-developer-i/",
						Description: "Entry level developer position at PantherSoft (FIU) for recent CS/IT graduates with programming experience.",
					},
					{
						Title:       "Entry Level SQL Developer",
						Link:        "https://careerpath.cis.fiu.edu/job/daasly-inc-hialeah-fl-7-entry-level-sql-developer/",
						Description: "Train directly with the company co-founders. Experience with MySQL, SQL Server, Redshift or BigQuery.",
					},
				},
				SubmitLink: "http://bit.ly/FIU-Create-Event",
				Copyright:  "FIU School of Computing and Information Sciences",
			},
			{
				ID:         "cec",
				Title:      "College of Engineering",
				Cover:      "https://www.cis.fiu.edu/wp-content/uploads/2019/07/1-update-CEC-Email-Newsletter-header-min.jpg",
				Link:       "https://cec.fiu.edu/",
				FeedURL:    "https://calendar.fiu.edu/department/cec/calendar/xml",
				FeedFormat: "rss",
				Subject:    "FIU CEC Events Newsletter",
				Palette:    fiuPalette,
				SubmitLink: "http://bit.ly/FIU-Create-Event",
				Copyright:  "FIU College of Engineering and Computing",
			},
			{
				ID:         "test",
				Title:      "Test",
				Cover:      "http://news.fiu.edu/wp-content/uploads/FIU-campus-2016-000px.jpg",
				Link:       "https://fiu.edu",
				FeedURL:    "https://calendar.fiu.edu/department/onestop/calendar/xml",
				FeedFormat: "rss",
				Subject:    "Test Events Newsletter",
				Palette:    fiuPalette,
			},
		},
		SMTP: SMTPConfig{
			Host: "smtp.cs.fiu.edu",
			Port: 25,
			TLS:  "none",
		},
		Mail:      MailConfig{To: []string{}},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.SnippetLength <= 0 {
		c.SnippetLength = defaultSnippetLength
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Profile == "" {
		c.Profile = defaultProfile
	}
	for i := range c.Profiles {
		if c.Profiles[i].FeedFormat == "" {
			c.Profiles[i].FeedFormat = "rss"
		}
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "none"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 25
	}
	if c.Mail.To == nil {
		c.Mail.To = []string{}
	}
}

// ApplyEnv overlays environment variables onto the config. Sender
// credentials and recipients normally arrive this way rather than through
// the YAML file.
//
//	MAIL_EMAIL      sender address (also the SMTP username when none is set)
//	MAIL_PASSWORD   SMTP password
//	TO_EMAIL        comma-separated recipients
//	SMTP_HOST       relay host
//	SMTP_PORT       relay port
//	CALNEWS_PROFILE active profile ID
//	LOG_LEVEL       debug|info|warn|error
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("MAIL_EMAIL"); v != "" {
		c.Mail.From = v
		if c.SMTP.Username == "" {
			c.SMTP.Username = v
		}
	}
	if v := getenv("MAIL_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := getenv("TO_EMAIL"); v != "" {
		c.Mail.To = splitList(v)
	}
	if v := getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = n
		}
	}
	if v := getenv("CALNEWS_PROFILE"); v != "" {
		c.Profile = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func splitList(csv string) []string {
	out := make([]string, 0)
	for _, s := range strings.Split(csv, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ActiveProfile returns the profile selected by c.Profile.
func (c *Config) ActiveProfile() (Profile, error) {
	for _, p := range c.Profiles {
		if p.ID == c.Profile {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("config: unknown profile %q", c.Profile)
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks everything needed to render a newsletter: the schedule,
// the timezone and the active profile.
func (c *Config) Validate() error {
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("config: schedule %q: %w", c.Schedule, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	p, err := c.ActiveProfile()
	if err != nil {
		return err
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("config: profile %q: %w", p.ID, err)
	}
	return nil
}

// ValidateDelivery additionally checks the SMTP relay and envelope.
func (c *Config) ValidateDelivery() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := validate.Struct(c.SMTP); err != nil {
		return fmt.Errorf("config: smtp: %w", err)
	}
	if err := validate.Struct(c.Mail); err != nil {
		return fmt.Errorf("config: mail: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: loading %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from the given YAML path and overlays the
// environment.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied after the file is read and are never
// written back to disk.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if cfg != nil {
		cfg.ApplyEnv(os.Getenv)
	}
	return cfg, err
}

func loadFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calnews-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
