// Package pipeline drives jobs through the
// extract -> summarize -> aggregate -> persist flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pptxplainer/internal/aggregator"
	"pptxplainer/internal/database"
	"pptxplainer/internal/domain"
	"pptxplainer/internal/extractor"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultStaleAfter   = 15 * time.Minute
	defaultMaxAttempts  = 3
)

// errJobLost marks a job another actor took over after our claim; the job
// must be left alone, not failed.
var errJobLost = errors.New("job ownership lost")

// Summarizer is the per-deck generation dependency.
type Summarizer interface {
	Summarize(ctx context.Context, deck domain.Deck) ([]domain.SlideSummary, error)
}

type Config struct {
	PollInterval time.Duration
	JobDeadline  time.Duration
	StaleAfter   time.Duration
	MaxAttempts  int64
	UploadsDir   string
}

type Worker struct {
	db         *database.Database
	summarizer Summarizer
	cfg        Config
	log        *slog.Logger
}

func New(db *database.Database, s Summarizer, cfg Config, log *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	return &Worker{
		db:         db,
		summarizer: s,
		cfg:        cfg,
		log:        log,
	}
}

// Run polls for pending jobs until ctx is cancelled. Cycles with work proceed
// to the next poll as soon as the batch completes; idle cycles wait for the
// poll interval. Store failures are logged and retried next cycle, never
// allowed to crash the loop.
func (w *Worker) Run(ctx context.Context) {
	for {
		busy := w.runCycle(ctx)

		if ctx.Err() != nil {
			return
		}
		if busy {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// runCycle claims and processes one batch of pending jobs. Jobs within the
// batch run concurrently and independently; it returns true when the cycle
// had work.
func (w *Worker) runCycle(ctx context.Context) bool {
	ids, err := w.db.PendingJobIDs(ctx)
	if err != nil {
		w.log.ErrorContext(ctx, "Failed to list pending jobs",
			"error", err)

		return false
	}

	if len(ids) == 0 {
		return false
	}

	w.log.InfoContext(ctx, "Processing pending jobs",
		"jobCount", len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Go(func() {
			w.processJob(ctx, id)
		})
	}
	wg.Wait()

	return true
}

// processJob owns one job for one cycle. Every failure is contained here:
// nothing propagates to sibling jobs or the poll loop.
func (w *Worker) processJob(ctx context.Context, id int64) {
	claimed, err := w.db.ClaimJob(ctx, id)
	if err != nil {
		w.log.ErrorContext(ctx, "Failed to claim job",
			"error", err,
			"jobID", id)

		return
	}
	if !claimed {
		w.log.InfoContext(ctx, "Job claimed elsewhere, skipping",
			"jobID", id)

		return
	}

	parent := ctx
	if w.cfg.JobDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobDeadline)
		defer cancel()
	}

	start := time.Now()

	if err = w.explainJob(ctx, id); err != nil {
		if errors.Is(err, database.ErrJobNotFound) || errors.Is(err, errJobLost) {
			w.log.WarnContext(ctx, "Job vanished mid-cycle, skipping",
				"error", err,
				"jobID", id)

			return
		}

		// A shutdown is not a job failure: the row stays in processing and
		// the staleness sweep returns it to pending with attempts intact.
		// The per-job deadline expiring is a failure of this job alone.
		if parent.Err() != nil {
			w.log.WarnContext(ctx, "Job interrupted by shutdown, releasing to the sweep",
				"error", err,
				"jobID", id,
				"elapsedSeconds", time.Since(start).Seconds())

			return
		}

		w.log.ErrorContext(ctx, "Job failed",
			"error", err,
			"jobID", id,
			"elapsedSeconds", time.Since(start).Seconds())
		w.failJob(ctx, id)

		return
	}

	w.log.InfoContext(ctx, "Job done",
		"jobID", id,
		"elapsedSeconds", time.Since(start).Seconds())
}

func (w *Worker) explainJob(ctx context.Context, id int64) error {
	job, err := w.db.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("read job: %w", err)
	}

	// The claim put the job into processing; anything else means another
	// actor (e.g. the staleness sweep) touched it since.
	if !domain.CanTransition(job.Status, domain.StatusDone) {
		return fmt.Errorf("%w: job in status %s", errJobLost, job.Status)
	}

	payload, err := w.db.GetPayload(ctx, id)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	deck, err := extractor.Extract(payload)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	summaries, err := w.summarizer.Summarize(ctx, deck)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	doc := aggregator.Aggregate(job.Filename, summaries)

	if err = w.db.SetExplanation(ctx, id, doc); err != nil {
		return fmt.Errorf("store explanation: %w", err)
	}

	if err = w.db.SetFinishedAt(ctx, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("store finish time: %w", err)
	}

	finished, err := w.db.FinishJob(ctx, id, domain.StatusDone)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if !finished {
		return fmt.Errorf("%w: terminal write rejected", errJobLost)
	}

	if err = w.db.DeletePayload(ctx, id); err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}

	return nil
}

// failJob records the terminal failed status. The payload is kept for
// inspection. The job context may already be cancelled or past its deadline,
// so the write runs detached from it.
func (w *Worker) failJob(ctx context.Context, id int64) {
	ctx = context.WithoutCancel(ctx)

	finished, err := w.db.FinishJob(ctx, id, domain.StatusFailed)
	if err != nil {
		w.log.ErrorContext(ctx, "Failed to mark job failed",
			"error", err,
			"jobID", id)

		return
	}
	if !finished {
		w.log.WarnContext(ctx, "Job left processing before the failed write, skipping",
			"jobID", id)
	}
}

// ReconcileStale rescans processing jobs whose claim is older than the
// staleness threshold. This is the crash-recovery path: a worker that died
// mid-job leaves the row in processing, and the sweep returns it to pending
// or fails it once its attempts are spent.
func (w *Worker) ReconcileStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.cfg.StaleAfter)

	reset, failed, err := w.db.ResetStaleJobs(ctx, cutoff, w.cfg.MaxAttempts)
	if err != nil {
		w.log.ErrorContext(ctx, "Failed to reset stale jobs",
			"error", err,
			"cutoff", cutoff)

		return
	}

	if reset > 0 || failed > 0 {
		w.log.InfoContext(ctx, "Stale jobs reconciled",
			"resetCount", reset,
			"failedCount", failed,
			"cutoff", cutoff)
	}
}
