package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	appLog "calnews/internal/log"
	"calnews/internal/mailer"
	"calnews/internal/metrics"
	"calnews/internal/pipeline"
	"calnews/internal/web"
)

const shutdownTimeout = 15 * time.Second

var (
	listenAddr   string
	withSnapshot bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Send on the cron schedule and serve the web endpoints",
	Long: `Start the scheduler and the HTTP server. The newsletter is sent whenever
the configured cron schedule fires, evaluated in the configured timezone.
SIGINT or SIGTERM stops both gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")
	serveCmd.Flags().BoolVar(&withSnapshot, "snapshot", false, "capture preview.png after every successful run")
}

// cronLogger routes robfig/cron's own messages into the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if err := cfg.ValidateDelivery(); err != nil {
		return err
	}

	m := metrics.New()
	p, err := newPipeline(mailer.NewSMTPSender(cfg.SMTP, cfg.SendTimeout), m)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Jobs keep running through shutdown; cron.Stop waits for them.
	jobCtx := context.WithoutCancel(ctx)

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(cfg.Schedule, func() { scheduledRun(jobCtx, p) }); err != nil {
		return err
	}
	c.Start()
	for _, e := range c.Entries() {
		appLog.Info("newsletter scheduled", "schedule", cfg.Schedule, "next", e.Next.Format(time.RFC3339))
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           web.NewServer(cfg, p, m).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case serveErr = <-errCh:
		appLog.Error("HTTP server failed", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	select {
	case <-c.Stop().Done():
	case <-shutdownCtx.Done():
		appLog.Warn("scheduled run still in progress at exit")
	}
	appLog.Info("calnews exiting")
	return serveErr
}

func scheduledRun(ctx context.Context, p *pipeline.Pipeline) {
	res, err := p.Run(ctx)
	if err != nil || !withSnapshot {
		// Run already logged the outcome.
		return
	}
	if err := snapshotHTML(ctx, res.HTML, web.PreviewPNGPath(cfg.CacheDir)); err != nil {
		appLog.Error("snapshot failed", err, "run_id", res.RunID)
	}
}
