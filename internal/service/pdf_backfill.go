package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/noah-isme/calibration-cert-api/internal/models"
	"github.com/noah-isme/calibration-cert-api/pkg/jobs"
)

const (
	defaultBackfillSchedule = "@every 10m"
	defaultBackfillBatch    = 50
)

type unrenderedCertificateLister interface {
	ListSignedWithoutPDF(ctx context.Context, limit int) ([]models.Certificate, error)
}

// PDFBackfill periodically re-queues signed certificates that still lack a PDF.
type PDFBackfill struct {
	certificates unrenderedCertificateLister
	scheduler    PDFScheduler
	cron         *cron.Cron
	schedule     string
	batch        int
	logger       *zap.Logger
}

// PDFBackfillOption customises the backfill sweeper.
type PDFBackfillOption func(*PDFBackfill)

// WithBackfillCron injects a preconfigured cron instance, mainly for tests.
func WithBackfillCron(c *cron.Cron) PDFBackfillOption {
	return func(b *PDFBackfill) {
		if c != nil {
			b.cron = c
		}
	}
}

// WithBackfillSchedule overrides the cron specification.
func WithBackfillSchedule(spec string) PDFBackfillOption {
	return func(b *PDFBackfill) {
		if spec != "" {
			b.schedule = spec
		}
	}
}

// WithBackfillBatch caps the number of certificates queued per sweep.
func WithBackfillBatch(size int) PDFBackfillOption {
	return func(b *PDFBackfill) {
		if size > 0 {
			b.batch = size
		}
	}
}

// NewPDFBackfill constructs the sweeper.
func NewPDFBackfill(certificates unrenderedCertificateLister, scheduler PDFScheduler, logger *zap.Logger, opts ...PDFBackfillOption) *PDFBackfill {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &PDFBackfill{
		certificates: certificates,
		scheduler:    scheduler,
		schedule:     defaultBackfillSchedule,
		batch:        defaultBackfillBatch,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cron == nil {
		b.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return b
}

// Start registers the sweep and launches the scheduler.
func (b *PDFBackfill) Start() error {
	if b.certificates == nil || b.scheduler == nil {
		return nil
	}
	if _, err := b.cron.AddFunc(b.schedule, func() {
		if err := b.Sweep(context.Background()); err != nil {
			b.logger.Warn("pdf backfill sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	b.cron.Start()
	return nil
}

// Stop halts the scheduler; the returned context is done once running sweeps finish.
func (b *PDFBackfill) Stop() context.Context {
	if b.cron == nil {
		return context.Background()
	}
	return b.cron.Stop()
}

// Sweep queues one batch of signed certificates without a stored PDF.
func (b *PDFBackfill) Sweep(ctx context.Context) error {
	certs, err := b.certificates.ListSignedWithoutPDF(ctx, b.batch)
	if err != nil {
		return fmt.Errorf("list unrendered certificates: %w", err)
	}

	var errs error
	queued := 0
	for _, cert := range certs {
		if err := b.scheduler.Enqueue(cert.ID); err != nil {
			if errors.Is(err, jobs.ErrAlreadyQueued) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("certificate %d: %w", cert.ID, err))
			continue
		}
		queued++
	}
	if queued > 0 {
		b.logger.Info("pdf backfill queued certificates", zap.Int("count", queued))
	}
	return errs
}
