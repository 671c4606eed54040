package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pptxplainer/internal/domain"

	"github.com/google/uuid"
)

// ErrJobNotFound marks reads and writes that targeted a job that no longer
// exists (or never did).
var ErrJobNotFound = errors.New("job not found")

// CreateJob inserts a new pending job together with its payload. This is the
// upload-path entry point: the row is visible to the poll loop as soon as the
// transaction commits, never earlier.
func (d *Database) CreateJob(
	ctx context.Context,
	filename string,
	payload []byte,
	owner string,
) (domain.Job, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return domain.Job{}, errors.New("filename is empty")
	}
	if len(payload) == 0 {
		return domain.Job{}, errors.New("payload is empty")
	}

	uid := uuid.NewString()
	now := time.Now().UTC()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil &&
			!errors.Is(rollbackErr, sql.ErrTxDone) {
			d.log.ErrorContext(ctx, "Failed to rollback tx",
				"error", rollbackErr,
				"operation", "CreateJob")
		}
	}()

	query := `insert into uploads (uid, filename, status, owner, upload_time)
	values (?, ?, ?, ?, ?)`

	res, err := tx.ExecContext(ctx, query,
		uid, filename, string(domain.StatusPending), nullString(owner), now)
	if err != nil {
		return domain.Job{}, fmt.Errorf("insert upload: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.Job{}, fmt.Errorf("fetch upload ID: %w", err)
	}

	query = "insert into files (id, pptx_data) values (?, ?)"

	if _, err = tx.ExecContext(ctx, query, id, payload); err != nil {
		return domain.Job{}, fmt.Errorf("insert payload: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.Job{}, fmt.Errorf("commit tx: %w", err)
	}

	return domain.Job{
		ID:          id,
		UID:         uid,
		Filename:    filename,
		Status:      domain.StatusPending,
		Owner:       owner,
		SubmittedAt: now,
	}, nil
}

// PendingJobIDs returns every job currently in pending status. It takes no
// locks; claiming is a separate conditional write.
func (d *Database) PendingJobIDs(ctx context.Context) ([]int64, error) {
	query := "select id from uploads where status = ? order by id"

	rows, err := d.db.QueryContext(ctx, query, string(domain.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "PendingJobIDs")
		}
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return ids, nil
}

// ClaimJob atomically transitions a job from pending to processing. The
// condition on the current status makes the first writer win: a claimant that
// loses the race gets false and must not touch the job.
func (d *Database) ClaimJob(ctx context.Context, id int64) (bool, error) {
	query := `update uploads
	set status = ?, attempts = attempts + 1, claimed_at = ?
	where id = ? and status = ?`

	res, err := d.db.ExecContext(ctx, query,
		string(domain.StatusProcessing), time.Now().UTC(),
		id, string(domain.StatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to execute query: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to fetch affected rows: %w", err)
	}

	return n == 1, nil
}

func (d *Database) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	query := `select id, uid, filename, status, owner, attempts,
	upload_time, finish_time, explanation
	from uploads
	where id = ?`

	return d.scanJob(d.db.QueryRowContext(ctx, query, id))
}

func (d *Database) GetJobByUID(ctx context.Context, uid string) (*domain.Job, error) {
	query := `select id, uid, filename, status, owner, attempts,
	upload_time, finish_time, explanation
	from uploads
	where uid = ?`

	return d.scanJob(d.db.QueryRowContext(ctx, query, uid))
}

func (d *Database) scanJob(row *sql.Row) (*domain.Job, error) {
	var (
		job         domain.Job
		status      string
		owner       sql.NullString
		finishTime  sql.NullTime
		explanation sql.NullString
	)

	err := row.Scan(&job.ID, &job.UID, &job.Filename, &status, &owner,
		&job.Attempts, &job.SubmittedAt, &finishTime, &explanation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	job.Status = domain.Status(status)
	job.Owner = owner.String

	if finishTime.Valid {
		t := finishTime.Time
		job.FinishedAt = &t
	}

	if explanation.Valid && explanation.String != "" {
		var doc domain.ExplanationDocument
		if err = json.Unmarshal([]byte(explanation.String), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal explanation: %w", err)
		}

		job.Explanation = &doc
	}

	return &job, nil
}

// SetStatus writes the status unconditionally. Missing jobs are an error so
// callers notice rows that vanished mid-cycle.
func (d *Database) SetStatus(ctx context.Context, id int64, status domain.Status) error {
	query := "update uploads set status = ? where id = ?"

	res, err := d.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to fetch affected rows: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}

	return nil
}

// FinishJob writes a terminal status, conditional on the row still being in
// processing. Like ClaimJob, the condition makes the write safe against races:
// a claimant whose job was taken over gets false and must not touch the row.
func (d *Database) FinishJob(ctx context.Context, id int64, status domain.Status) (bool, error) {
	if !domain.IsTerminal(status) {
		return false, fmt.Errorf("status %s is not terminal", status)
	}

	query := "update uploads set status = ? where id = ? and status = ?"

	res, err := d.db.ExecContext(ctx, query,
		string(status), id, string(domain.StatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to execute query: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to fetch affected rows: %w", err)
	}

	return n == 1, nil
}

func (d *Database) SetFinishedAt(ctx context.Context, id int64, finishedAt time.Time) error {
	query := "update uploads set finish_time = ? where id = ?"

	res, err := d.db.ExecContext(ctx, query, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to fetch affected rows: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}

	return nil
}

func (d *Database) SetExplanation(
	ctx context.Context,
	id int64,
	doc domain.ExplanationDocument,
) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal explanation: %w", err)
	}

	query := "update uploads set explanation = ? where id = ?"

	res, err := d.db.ExecContext(ctx, query, string(data), id)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to fetch affected rows: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}

	return nil
}

func (d *Database) GetPayload(ctx context.Context, id int64) ([]byte, error) {
	query := "select pptx_data from files where id = ?"

	var payload []byte

	err := d.db.QueryRowContext(ctx, query, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	return payload, nil
}

// DeletePayload removes the stored source bytes. Deleting an already-deleted
// payload is a no-op.
func (d *Database) DeletePayload(ctx context.Context, id int64) error {
	query := "delete from files where id = ?"

	if _, err := d.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}

	return nil
}

// ResetStaleJobs reconciles processing rows whose claim is older than cutoff:
// jobs that already burned maxAttempts claims become failed, the rest go back
// to pending for another cycle.
func (d *Database) ResetStaleJobs(
	ctx context.Context,
	cutoff time.Time,
	maxAttempts int64,
) (reset int64, failed int64, err error) {
	query := `update uploads
	set status = ?
	where status = ? and claimed_at < ? and attempts >= ?`

	res, err := d.db.ExecContext(ctx, query,
		string(domain.StatusFailed), string(domain.StatusProcessing),
		cutoff.UTC(), maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to execute query: %w", err)
	}

	failed, err = res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch affected rows: %w", err)
	}

	query = `update uploads
	set status = ?, claimed_at = null
	where status = ? and claimed_at < ?`

	res, err = d.db.ExecContext(ctx, query,
		string(domain.StatusPending), string(domain.StatusProcessing),
		cutoff.UTC())
	if err != nil {
		return 0, failed, fmt.Errorf("failed to execute query: %w", err)
	}

	reset, err = res.RowsAffected()
	if err != nil {
		return 0, failed, fmt.Errorf("failed to fetch affected rows: %w", err)
	}

	return reset, failed, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)

	return sql.NullString{String: s, Valid: s != ""}
}
