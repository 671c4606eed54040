package database

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pptxplainer/internal/domain"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()

	ctx := context.Background()
	log := slog.New(slog.DiscardHandler)

	db, err := New(ctx, filepath.Join(t.TempDir(), "test.sqlite"), log)
	if err != nil {
		t.Fatalf("initialize db: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("close db: %v", closeErr)
		}
	})

	return db
}

func TestCreateAndGetJob(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	created, err := db.CreateJob(ctx, "lecture-1", []byte("payload"), "user@example.com")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if created.UID == "" {
		t.Fatalf("expected non-empty uid")
	}
	if created.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %s", created.Status)
	}

	job, err := db.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}

	if job.Filename != "lecture-1" || job.Owner != "user@example.com" {
		t.Fatalf("unexpected job fields: %+v", job)
	}
	if job.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %s", job.Status)
	}
	if job.FinishedAt != nil || job.Explanation != nil {
		t.Fatalf("expected no finish time or explanation on a fresh job")
	}

	payload, err := db.GetPayload(ctx, created.ID)
	if err != nil {
		t.Fatalf("get payload: %v", err)
	}
	if string(payload) != "payload" {
		t.Fatalf("expected payload %q, got %q", "payload", payload)
	}

	byUID, err := db.GetJobByUID(ctx, created.UID)
	if err != nil {
		t.Fatalf("get job by uid: %v", err)
	}
	if byUID.ID != created.ID {
		t.Fatalf("expected job %d by uid, got %d", created.ID, byUID.ID)
	}
}

func TestCreateJobValidation(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	if _, err := db.CreateJob(ctx, "  ", []byte("x"), ""); err == nil {
		t.Fatalf("expected error for empty filename")
	}

	if _, err := db.CreateJob(ctx, "name", nil, ""); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestUIDsAreUnique(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for range 20 {
		job, err := db.CreateJob(ctx, "file", []byte("x"), "")
		if err != nil {
			t.Fatalf("create job: %v", err)
		}

		if _, ok := seen[job.UID]; ok {
			t.Fatalf("duplicate uid %q", job.UID)
		}
		seen[job.UID] = struct{}{}
	}
}

func TestPendingJobIDs(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	first, err := db.CreateJob(ctx, "a", []byte("x"), "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	second, err := db.CreateJob(ctx, "b", []byte("y"), "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err = db.SetStatus(ctx, second.ID, domain.StatusDone); err != nil {
		t.Fatalf("set status: %v", err)
	}

	ids, err := db.PendingJobIDs(ctx)
	if err != nil {
		t.Fatalf("pending job ids: %v", err)
	}

	if len(ids) != 1 || ids[0] != first.ID {
		t.Fatalf("expected only job %d pending, got %v", first.ID, ids)
	}
}

func TestClaimJobFirstWriterWins(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	job, err := db.CreateJob(ctx, "race", []byte("x"), "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	const claimants = 8

	var wg sync.WaitGroup
	wins := make(chan bool, claimants)

	for range claimants {
		wg.Go(func() {
			claimed, claimErr := db.ClaimJob(ctx, job.ID)
			if claimErr != nil {
				t.Errorf("claim job: %v", claimErr)
				return
			}

			wins <- claimed
		})
	}
	wg.Wait()
	close(wins)

	won := 0
	for claimed := range wins {
		if claimed {
			won++
		}
	}

	if won != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", won)
	}

	claimedJob, err := db.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if claimedJob.Status != domain.StatusProcessing {
		t.Fatalf("expected processing status, got %s", claimedJob.Status)
	}
	if claimedJob.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", claimedJob.Attempts)
	}
}

func TestClaimJobAlreadyTerminal(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	job, err := db.CreateJob(ctx, "done", []byte("x"), "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err = db.SetStatus(ctx, job.ID, domain.StatusDone); err != nil {
		t.Fatalf("set status: %v", err)
	}

	claimed, err := db.ClaimJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("claim job: %v", err)
	}
	if claimed {
		t.Fatalf("expected claim of a done job to lose")
	}
}

func TestFinishJobRequiresProcessing(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	job, err := db.CreateJob(ctx, "raced", []byte("x"), "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	// A pending job has no claim to finish.
	finished, err := db.FinishJob(ctx, job.ID, domain.StatusDone)
	if err != nil {
		t.Fatalf("finish job: %v", err)
	}
	if finished {
		t.Fatalf("expected terminal write on a pending job to lose")
	}

	claimed, err := db.ClaimJob(ctx, job.ID)
	if err != nil || !claimed {
		t.Fatalf("claim job: claimed=%v err=%v", claimed, err)
	}

	finished, err = db.FinishJob(ctx, job.ID, domain.StatusDone)
	if err != nil {
		t.Fatalf("finish job: %v", err)
	}
	if !finished {
		t.Fatalf("expected terminal write on a processing job to win")
	}

	// A late failed write must not overwrite the terminal done.
	finished, err = db.FinishJob(ctx, job.ID, domain.StatusFailed)
	if err != nil {
		t.Fatalf("finish job: %v", err)
	}
	if finished {
		t.Fatalf("expected terminal write on a done job to lose")
	}

	after, err := db.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if after.Status != domain.StatusDone {
		t.Fatalf("expected done status, got %s", after.Status)
	}

	if _, err = db.FinishJob(ctx, job.ID, domain.StatusPending); err == nil {
		t.Fatalf("expected error for a non-terminal status")
	}
}

func TestSetStatusMissingJob(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	if err := db.SetStatus(ctx, 4242, domain.StatusDone); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	if err := db.SetFinishedAt(ctx, 4242, time.Now()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	if _, err := db.GetJob(ctx, 4242); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	if _, err := db.GetPayload(ctx, 4242); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestExplanationRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	job, err := db.CreateJob(ctx, "doc", []byte("x"), "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	doc := domain.ExplanationDocument{
		Topic: "doc",
		Slides: []domain.SlideExplanation{
			{
				Number: 1,
				Title:  "Intro",
				Content: map[string]string{
					"section 1": "Hello.",
					"section 2": "World\nagain.",
				},
			},
		},
	}

	if err = db.SetExplanation(ctx, job.ID, doc); err != nil {
		t.Fatalf("set explanation: %v", err)
	}

	stored, err := db.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}

	if stored.Explanation == nil {
		t.Fatalf("expected explanation to be present")
	}
	if stored.Explanation.Topic != doc.Topic {
		t.Fatalf("expected topic %q, got %q", doc.Topic, stored.Explanation.Topic)
	}
	if len(stored.Explanation.Slides) != 1 {
		t.Fatalf("expected 1 slide, got %d", len(stored.Explanation.Slides))
	}
	if stored.Explanation.Slides[0].Content["section 2"] != "World\nagain." {
		t.Fatalf("unexpected section content: %v", stored.Explanation.Slides[0].Content)
	}
}

func TestDeletePayloadIsIdempotent(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	job, err := db.CreateJob(ctx, "doc", []byte("x"), "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err = db.DeletePayload(ctx, job.ID); err != nil {
		t.Fatalf("delete payload: %v", err)
	}
	if err = db.DeletePayload(ctx, job.ID); err != nil {
		t.Fatalf("repeated delete payload: %v", err)
	}

	if _, err = db.GetPayload(ctx, job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound after delete, got %v", err)
	}
}

func TestResetStaleJobs(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	stale, err := db.CreateJob(ctx, "stale", []byte("x"), "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	exhausted, err := db.CreateJob(ctx, "exhausted", []byte("y"), "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	fresh, err := db.CreateJob(ctx, "fresh", []byte("z"), "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	for _, id := range []int64{stale.ID, exhausted.ID, fresh.ID} {
		claimed, claimErr := db.ClaimJob(ctx, id)
		if claimErr != nil || !claimed {
			t.Fatalf("claim job %d: claimed=%v err=%v", id, claimed, claimErr)
		}
	}

	// Burn the exhausted job's remaining attempts.
	query := "update uploads set attempts = ? where id = ?"
	if _, err = db.db.ExecContext(ctx, query, 3, exhausted.ID); err != nil {
		t.Fatalf("bump attempts: %v", err)
	}

	// Only the fresh job keeps a recent claim.
	old := time.Now().UTC().Add(-time.Hour)
	query = "update uploads set claimed_at = ? where id in (?, ?)"
	if _, err = db.db.ExecContext(ctx, query, old, stale.ID, exhausted.ID); err != nil {
		t.Fatalf("age claims: %v", err)
	}

	cutoff := time.Now().UTC().Add(-30 * time.Minute)

	reset, failed, err := db.ResetStaleJobs(ctx, cutoff, 3)
	if err != nil {
		t.Fatalf("reset stale jobs: %v", err)
	}
	if reset != 1 || failed != 1 {
		t.Fatalf("expected 1 reset and 1 failed, got %d and %d", reset, failed)
	}

	tests := []struct {
		name string
		id   int64
		want domain.Status
	}{
		{"Stale claim returns to pending", stale.ID, domain.StatusPending},
		{"Exhausted attempts become failed", exhausted.ID, domain.StatusFailed},
		{"Fresh claim is untouched", fresh.ID, domain.StatusProcessing},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			job, getErr := db.GetJob(ctx, test.id)
			if getErr != nil {
				t.Fatalf("get job: %v", getErr)
			}

			if job.Status != test.want {
				t.Fatalf("expected status %s, got %s", test.want, job.Status)
			}
		})
	}
}
