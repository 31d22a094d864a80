package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"calnews/internal/config"
	"calnews/internal/feed"
	appLog "calnews/internal/log"
	"calnews/internal/mailer"
	"calnews/internal/metrics"
	"calnews/internal/pipeline"
	"calnews/internal/render"
)

var (
	cfgPath string
	envFile string
	profile string
	nowFlag string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "calnews",
	Short: "Calendar feed to HTML email newsletter",
	Long: `calnews fetches a department calendar feed, splits the events into an
upcoming window and a "save the date" list, renders an HTML newsletter and
mails it.

Example usage:
  calnews run                       # fetch, render and send once
  calnews run --dry-run --out a.html
  calnews serve                     # send on the configured cron schedule
  calnews preview --png preview.png`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "/etc/calnews/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with mail credentials")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "newsletter profile (overrides config and CALNEWS_PROFILE)")
}

// initConfig loads the dotenv file, the YAML config and the environment
// overlay, then applies the log level.
func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	c, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if profile != "" {
		c.Profile = profile
	}
	appLog.SetLevel(appLog.ParseLevel(c.LogLevel))

	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c

	appLog.Info("effective config",
		"config_path", cfgPath,
		"profile", cfg.Profile,
		"timezone", cfg.Timezone,
		"schedule", cfg.Schedule,
		"horizon_days", cfg.HorizonDays,
		"skip_empty", cfg.SkipEmpty,
		"recipients", len(cfg.Mail.To),
	)
	return nil
}

// newPipeline wires the HTTP fetcher and the embedded template renderer to
// the given sender. --now, when set, drives both ICS expansion and the date
// window.
func newPipeline(sender mailer.Sender, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	now, err := referenceClock(nowFlag)
	if err != nil {
		return nil, err
	}
	r, err := render.New()
	if err != nil {
		return nil, err
	}
	f := feed.NewHTTPFetcher(feed.Options{
		CacheDir:     cfg.CacheDir,
		Timeout:      cfg.FetchTimeout,
		Now:          now,
		StaleOnError: cfg.StaleOnError,
	})
	p, err := pipeline.New(cfg, f, r, sender, m)
	if err != nil {
		return nil, err
	}
	p.Now = now
	return p, nil
}

// referenceClock returns time.Now, or a fixed clock for an RFC3339 value.
func referenceClock(value string) (func() time.Time, error) {
	if value == "" {
		return time.Now, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("--now: %w", err)
	}
	return func() time.Time { return t }, nil
}
