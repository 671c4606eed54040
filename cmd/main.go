package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pptxplainer/internal/config"
	"pptxplainer/internal/database"
	"pptxplainer/internal/llm"
	"pptxplainer/internal/pipeline"
	"pptxplainer/internal/scheduler"
	"pptxplainer/internal/summarizer"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	client := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.GenerationTimeout)
	summ := summarizer.New(client, cfg.SlideWorkers, summarizer.DefaultBackoff(), log)
	log.InfoContext(ctx, "Summarizer is initialized",
		"model", cfg.OpenAIModel,
		"slideWorkers", cfg.SlideWorkers,
		"generationTimeoutSeconds", cfg.GenerationTimeout.Seconds())

	worker := pipeline.New(db, summ, pipeline.Config{
		PollInterval: cfg.PollInterval,
		JobDeadline:  cfg.JobDeadline,
		StaleAfter:   cfg.StaleAfter,
		MaxAttempts:  cfg.MaxAttempts,
		UploadsDir:   cfg.UploadsDir,
	}, log)

	done := make(chan struct{})
	go func() {
		defer close(done)

		worker.Run(ctx)
	}()
	log.InfoContext(ctx, "Worker is started",
		"pollIntervalSeconds", cfg.PollInterval.Seconds(),
		"jobDeadlineSeconds", cfg.JobDeadline.Seconds())

	sched := scheduler.New(ctx, worker, cfg.StaleAfter, cfg.UploadsDir, log)

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", sched.ReconcileSpec())
		cancel()
		<-done

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"spec", sched.ReconcileSpec(),
		"uploadsDir", cfg.UploadsDir)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())
	cancel()

	<-done
	log.InfoContext(ctx, "Worker is drained",
		"signal", sig.String(),
		"uptimeSeconds", time.Since(start).Seconds())
}
