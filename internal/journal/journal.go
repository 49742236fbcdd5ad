// Package journal keeps a PostgreSQL record of every mapping batch: which run
// it belonged to, which remote job served it and how it ended. Result
// payloads are never stored.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
)

// Schema creates the journal table
const Schema = `
CREATE TABLE IF NOT EXISTS mapping_batches (
	run_id      TEXT        NOT NULL,
	batch_index INTEGER     NOT NULL,
	job_id      TEXT        NOT NULL DEFAULT '',
	state       TEXT        NOT NULL,
	id_count    INTEGER     NOT NULL,
	first_id    TEXT        NOT NULL DEFAULT '',
	error       TEXT        NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, batch_index)
)`

// ErrRunNotFound is returned when no batch of a run was recorded
var ErrRunNotFound = errors.New("run not found")

// DB is the subset of *sqlx.DB the journal uses
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Entry is one recorded batch outcome
type Entry struct {
	RunID      string    `db:"run_id" json:"run_id"`
	BatchIndex int       `db:"batch_index" json:"batch_index"`
	JobID      string    `db:"job_id" json:"job_id,omitempty"`
	State      string    `db:"state" json:"state"`
	IDCount    int       `db:"id_count" json:"id_count"`
	FirstID    string    `db:"first_id" json:"first_id"`
	Error      string    `db:"error" json:"error,omitempty"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// Journal records batch outcomes. It satisfies idmapping.Recorder.
type Journal struct {
	db     DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Journal on db
func New(db DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Journal{db: db, logger: logger, now: time.Now}
}

// EnsureSchema creates the journal table if it does not exist
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Record stores the outcome of one batch. Recording the same batch of a run
// twice keeps the latest outcome.
func (j *Journal) Record(ctx context.Context, runID string, res domain.Result) error {
	entry := NewEntry(runID, res, j.now())

	query := `
		INSERT INTO mapping_batches (run_id, batch_index, job_id, state, id_count, first_id, error, recorded_at)
		VALUES (:run_id, :batch_index, :job_id, :state, :id_count, :first_id, :error, :recorded_at)
		ON CONFLICT (run_id, batch_index) DO UPDATE
		SET job_id = EXCLUDED.job_id,
		    state = EXCLUDED.state,
		    error = EXCLUDED.error,
		    recorded_at = EXCLUDED.recorded_at
	`

	if _, err := j.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to record batch %d of run %s: %w", res.Batch.Index, runID, err)
	}

	j.logger.Debug("Batch outcome recorded",
		slog.String("run_id", runID),
		slog.Int("batch", entry.BatchIndex),
		slog.String("state", entry.State),
	)

	return nil
}

// Run returns the recorded batches of a run ordered by batch index
func (j *Journal) Run(ctx context.Context, runID string) ([]Entry, error) {
	query := `
		SELECT run_id, batch_index, job_id, state, id_count, first_id, error, recorded_at
		FROM mapping_batches
		WHERE run_id = $1
		ORDER BY batch_index
	`

	var entries []Entry
	if err := j.db.SelectContext(ctx, &entries, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list batches of run %s: %w", runID, err)
	}
	if len(entries) == 0 {
		return nil, ErrRunNotFound
	}
	return entries, nil
}

// NewEntry describes a batch result as a journal row
func NewEntry(runID string, res domain.Result, at time.Time) Entry {
	entry := Entry{
		RunID:      runID,
		BatchIndex: res.Batch.Index,
		State:      string(domain.JobStateDelivered),
		IDCount:    len(res.Batch.IDs),
		RecordedAt: at.UTC(),
	}
	if len(res.Batch.IDs) > 0 {
		entry.FirstID = res.Batch.IDs[0]
	}
	if res.Payload != nil {
		entry.JobID = res.Payload.JobID
	}

	if res.Err != nil {
		entry.State = string(domain.JobStateFailed)
		entry.Error = res.Err.Error()

		var batchErr *domain.BatchError
		if errors.As(res.Err, &batchErr) {
			entry.JobID = batchErr.JobID
		}
	}

	return entry
}
