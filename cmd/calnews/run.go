package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appLog "calnews/internal/log"
	"calnews/internal/mailer"
	"calnews/internal/pipeline"
)

var (
	dryRun  bool
	outPath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, render and send the newsletter once",
	Long: `Run one pipeline pass and exit.

Examples:
  calnews run                                   # mail via the configured relay
  calnews run --dry-run --out newsletter.html   # write the HTML instead
  calnews run --dry-run --now 2026-10-15T15:00:00-04:00`,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "write the HTML to --out instead of mailing it")
	runCmd.Flags().StringVar(&outPath, "out", "newsletter.html", "output file for --dry-run")
	runCmd.Flags().StringVar(&nowFlag, "now", "", "reference time (RFC3339) for the date window")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	var sender mailer.Sender
	if dryRun {
		sender = mailer.FileSender{Path: outPath}
	} else {
		if err := cfg.ValidateDelivery(); err != nil {
			return err
		}
		sender = mailer.NewSMTPSender(cfg.SMTP, cfg.SendTimeout)
	}

	p, err := newPipeline(sender, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := p.Run(ctx)
	if errors.Is(err, pipeline.ErrNothingToSend) {
		return nil
	}
	if err != nil {
		return err
	}
	appLog.Info("run finished", "run_id", res.RunID, "sent", res.Sent, "dry_run", dryRun)
	return nil
}
