package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"calnews/internal/capture"
	appLog "calnews/internal/log"
	"calnews/internal/mailer"
)

var (
	previewOut string
	previewPNG string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render the newsletter to a file without sending",
	Long: `Render the current newsletter to an HTML file and optionally capture a
PNG screenshot with headless Chromium.

Examples:
  calnews preview --out preview.html
  calnews preview --png preview.png`,
	RunE: runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)

	previewCmd.Flags().StringVar(&previewOut, "out", "preview.html", "HTML output file")
	previewCmd.Flags().StringVar(&previewPNG, "png", "", "also capture a PNG screenshot to this path")
	previewCmd.Flags().StringVar(&nowFlag, "now", "", "reference time (RFC3339) for the date window")
}

func runPreview(cmd *cobra.Command, _ []string) error {
	sender := mailer.FileSender{Path: previewOut}
	p, err := newPipeline(sender, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := p.Prepare(ctx)
	if err != nil {
		return err
	}
	msg := mailer.Message{Subject: p.Profile().Subject, To: cfg.Mail.To, HTML: res.HTML}
	if err := sender.Send(ctx, msg); err != nil {
		return err
	}

	if previewPNG == "" {
		return nil
	}
	return snapshot(ctx, previewOut, previewPNG)
}

// snapshot captures the rendered HTML file at htmlPath into pngPath.
func snapshot(ctx context.Context, htmlPath, pngPath string) error {
	u, err := capture.FileURL(htmlPath)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := capture.SnapshotPNG(ctx, capture.Options{URL: u, OutputPath: pngPath}); err != nil {
		return err
	}
	appLog.Info("snapshot written", "path", pngPath)
	return nil
}

// snapshotHTML writes html next to the PNG and captures it.
func snapshotHTML(ctx context.Context, html, pngPath string) error {
	htmlPath := filepath.Join(filepath.Dir(pngPath), "preview.html")
	if err := (mailer.FileSender{Path: htmlPath}).Send(ctx, mailer.Message{HTML: html}); err != nil {
		return err
	}
	return snapshot(ctx, htmlPath, pngPath)
}
