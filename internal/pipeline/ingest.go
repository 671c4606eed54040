package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

const pptxExtension = ".pptx"

// SweepUploads enqueues every pptx file found in the configured uploads
// directory as a pending job and removes the file once it is stored. Files
// that cannot be read or stored stay in place for the next sweep.
func (w *Worker) SweepUploads(ctx context.Context) {
	dir := w.cfg.UploadsDir
	if dir == "" {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.log.ErrorContext(ctx, "Failed to read uploads dir",
			"error", err,
			"dir", dir)

		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), pptxExtension) {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		payload, err := os.ReadFile(path)
		if err != nil {
			w.log.ErrorContext(ctx, "Failed to read upload",
				"error", err,
				"path", path)

			continue
		}

		filename := strings.TrimSuffix(entry.Name(), pptxExtension)

		job, err := w.db.CreateJob(ctx, filename, payload, "")
		if err != nil {
			w.log.ErrorContext(ctx, "Failed to enqueue upload",
				"error", err,
				"path", path)

			continue
		}

		if err = os.Remove(path); err != nil {
			// The job is already stored; a leftover file would be enqueued
			// again next sweep as a duplicate job.
			w.log.WarnContext(ctx, "Failed to remove ingested upload",
				"error", err,
				"path", path,
				"jobID", job.ID,
				"jobUID", job.UID)

			continue
		}

		w.log.InfoContext(ctx, "Upload enqueued",
			"path", path,
			"jobID", job.ID,
			"jobUID", job.UID)
	}
}
