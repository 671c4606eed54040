package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pptxplainer/internal/pipeline"

	"github.com/robfig/cron/v3"
)

const (
	UploadsSweepSpec = "@every 30s"

	minReconcileInterval = time.Minute
	sweepTimeout         = time.Minute
)

type Scheduler struct {
	ctx        context.Context
	cron       *cron.Cron
	worker     *pipeline.Worker
	staleAfter time.Duration
	uploadsDir string
	log        *slog.Logger
}

func New(
	ctx context.Context,
	worker *pipeline.Worker,
	staleAfter time.Duration,
	uploadsDir string,
	log *slog.Logger,
) *Scheduler {
	c := cron.New(cron.WithLocation(time.UTC))

	return &Scheduler{
		ctx:        ctx,
		cron:       c,
		worker:     worker,
		staleAfter: staleAfter,
		uploadsDir: uploadsDir,
		log:        log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.ReconcileSpec(), s.reconcileStale); err != nil {
		return err
	}

	if s.uploadsDir != "" {
		if _, err := s.cron.AddFunc(UploadsSweepSpec, s.sweepUploads); err != nil {
			return err
		}
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// ReconcileSpec runs the staleness sweep a few times per staleness window so
// a stuck job is picked up soon after it crosses the threshold.
func (s *Scheduler) ReconcileSpec() string {
	interval := s.staleAfter / 3
	if interval < minReconcileInterval {
		interval = minReconcileInterval
	}

	return fmt.Sprintf("@every %s", interval)
}

func (s *Scheduler) reconcileStale() {
	ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
	defer cancel()

	if ctx.Err() != nil {
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())

		return
	}

	s.worker.ReconcileStale(ctx)
}

func (s *Scheduler) sweepUploads() {
	ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
	defer cancel()

	if ctx.Err() != nil {
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())

		return
	}

	s.worker.SweepUploads(ctx)
}
