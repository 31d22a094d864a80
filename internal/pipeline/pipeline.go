// Package pipeline runs one newsletter: fetch the feed, bucket the events,
// render the email and hand it to a sender.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"calnews/internal/config"
	"calnews/internal/feed"
	appLog "calnews/internal/log"
	"calnews/internal/mailer"
	"calnews/internal/metrics"
	"calnews/internal/model"
	"calnews/internal/render"
	"calnews/internal/transform"
)

// Renderer turns template data into an HTML body.
type Renderer interface {
	Render(d render.Data) (string, error)
}

// Result describes a finished (or prepared) run.
type Result struct {
	RunID   string
	Buckets model.Buckets
	HTML    string
	Text    string
	// Sent is true once the sender accepted the message.
	Sent bool
}

// Pipeline wires the stages together. It is safe for concurrent use; runs
// that would overlap are rejected with ErrRunInProgress.
type Pipeline struct {
	cfg      *config.Config
	profile  config.Profile
	fetcher  feed.Fetcher
	renderer Renderer
	sender   mailer.Sender
	metrics  *metrics.Metrics

	// Now is the reference clock for the date window; time.Now by default.
	Now func() time.Time

	running sync.Mutex
}

// New builds a pipeline for the active profile of cfg. m may be nil.
func New(cfg *config.Config, fetcher feed.Fetcher, renderer Renderer, sender mailer.Sender, m *metrics.Metrics) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config is nil")
	}
	if fetcher == nil || renderer == nil || sender == nil {
		return nil, errors.New("pipeline: fetcher, renderer and sender are required")
	}
	p, err := cfg.ActiveProfile()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		profile:  p,
		fetcher:  fetcher,
		renderer: renderer,
		sender:   sender,
		metrics:  m,
		Now:      time.Now,
	}, nil
}

// Profile returns the profile this pipeline renders.
func (p *Pipeline) Profile() config.Profile { return p.profile }

// Run performs one full run and delivers the newsletter.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	if !p.running.TryLock() {
		return Result{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	res := Result{RunID: uuid.NewString()}
	logger := appLog.With("run_id", res.RunID, "profile", p.profile.ID)
	now := p.Now()
	logger.Info("run start", "now", now.Format(time.RFC3339))

	err := p.run(ctx, logger, now, &res)
	switch {
	case err == nil:
		p.metrics.RecordRun(metrics.ResultSuccess, time.Now())
		logger.Info("run complete", "before", len(res.Buckets.Before), "after", len(res.Buckets.After))
	case errors.Is(err, ErrNothingToSend):
		p.metrics.RecordRun(metrics.ResultSkipped, time.Now())
		logger.Info("run skipped: no events")
	default:
		p.metrics.RecordRun(metrics.ResultFailure, time.Now())
		logger.Error("run failed", "err", err)
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, now time.Time, res *Result) error {
	b, err := p.buckets(ctx, logger, now)
	if err != nil {
		return err
	}
	res.Buckets = b
	p.metrics.RecordBuckets(len(b.Before), len(b.After), len(b.Skipped))

	if b.Empty() && p.cfg.SkipEmpty {
		return ErrNothingToSend
	}

	if err := p.render(logger, now, res); err != nil {
		return err
	}

	msg := mailer.Message{
		From:    p.cfg.Mail.From,
		To:      p.cfg.Mail.To,
		Subject: p.profile.Subject,
		HTML:    res.HTML,
		Text:    res.Text,
	}
	sendCtx, cancel := withTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	err = p.sender.Send(sendCtx, msg)
	p.metrics.ObserveStage("send", time.Since(start))
	if err != nil {
		return &MailDeliveryError{Recipients: msg.To, Err: err}
	}
	res.Sent = true
	logger.Info("newsletter sent", "subject", msg.Subject, "recipients", len(msg.To))
	return nil
}

// Buckets fetches and transforms the feed without rendering.
func (p *Pipeline) Buckets(ctx context.Context) (model.Buckets, error) {
	return p.buckets(ctx, appLog.With("profile", p.profile.ID), p.Now())
}

// Prepare fetches, transforms and renders without sending. It does not take
// the run lock, so previews work while a run is in progress.
func (p *Pipeline) Prepare(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	logger := appLog.With("run_id", res.RunID, "profile", p.profile.ID)
	now := p.Now()

	b, err := p.buckets(ctx, logger, now)
	if err != nil {
		return res, err
	}
	res.Buckets = b
	if err := p.render(logger, now, &res); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Pipeline) buckets(ctx context.Context, logger *slog.Logger, now time.Time) (model.Buckets, error) {
	src := feed.Source{ID: p.profile.ID, URL: p.profile.FeedURL, Format: p.profile.FeedFormat}

	fetchCtx, cancel := withTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	raw, err := p.fetcher.Fetch(fetchCtx, src)
	p.metrics.ObserveStage("fetch", time.Since(start))
	if err != nil {
		return model.Buckets{}, &FeedFetchError{URL: src.URL, Err: err}
	}
	logger.Debug("feed fetched", "items", len(raw))

	start = time.Now()
	b := transform.Transform(raw, now, transform.Options{
		HorizonDays:      p.cfg.HorizonDays,
		SnippetLength:    p.cfg.SnippetLength,
		PlaceholderMedia: p.profile.PlaceholderMedia(),
	})
	p.metrics.ObserveStage("transform", time.Since(start))

	for _, e := range b.Skipped {
		var mf *transform.MalformedFeedItem
		if errors.As(e, &mf) {
			logger.Warn("skipping malformed feed item", "index", mf.Index, "field", mf.Field, "title", mf.Title, "link", mf.Link)
			continue
		}
		logger.Warn("skipping feed item", "err", e)
	}
	logger.Info("events bucketed", "before", len(b.Before), "after", len(b.After), "skipped", len(b.Skipped))
	return b, nil
}

func (p *Pipeline) render(logger *slog.Logger, now time.Time, res *Result) error {
	start := time.Now()
	defer func() { p.metrics.ObserveStage("render", time.Since(start)) }()

	html, err := p.renderer.Render(render.NewData(p.profile, res.Buckets, now, p.cfg.Location()))
	if err != nil {
		return &RenderError{Err: err}
	}
	res.HTML = html

	text, err := render.PlainText(html)
	if err != nil {
		// The HTML part alone is still a valid newsletter.
		logger.Warn("plain-text alternative unavailable", "err", err)
		return nil
	}
	res.Text = text
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
