// Package audit writes the fire-and-forget per-call audit row of
// spec.md's supplemental call-summary log. Rows are never read back by
// the dialog engine; this package exists purely for operators.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelterline/relay/internal/dialog"
	"github.com/shelterline/relay/pkg/logging"
)

// execer is the narrow pgx surface the store needs, satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists dialog.CallRecord rows to Postgres. It implements
// dialog.AuditRecorder.
type Store struct {
	db      execer
	timeout time.Duration
	logger  *logging.Logger
}

// New builds a Postgres-backed Store. timeout bounds each background
// insert; it defaults to 5s. logger defaults to logging.Default().
func New(pool *pgxpool.Pool, timeout time.Duration, logger *logging.Logger) *Store {
	if pool == nil {
		panic("audit: pgx pool required")
	}
	return newStoreWithExec(pool, timeout, logger)
}

func newStoreWithExec(exec execer, timeout time.Duration, logger *logging.Logger) *Store {
	if exec == nil {
		panic("audit: exec required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: exec, timeout: timeout, logger: logger}
}

var _ dialog.AuditRecorder = (*Store)(nil)

// Record inserts rec in the background and returns immediately. The
// insert runs against its own bounded-timeout context rather than ctx,
// since the webhook request that produced rec may already be served by
// the time the insert finishes.
func (s *Store) Record(ctx context.Context, rec dialog.CallRecord) error {
	go s.insert(rec)
	return nil
}

func (s *Store) insert(rec dialog.CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	id := uuid.New()
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_audit_records (
			id, call_id, caller, started_at, ended_at,
			turn_count, had_retrieval, sms_sent, outcome
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (call_id) DO NOTHING
	`, id, rec.CallID, nullString(rec.Caller), rec.StartedAt, rec.EndedAt,
		rec.TurnCount, rec.HadRetrieval, rec.SMSSent, nullString(rec.Outcome))
	if err != nil {
		s.logger.Warn("audit: insert failed", "call_id", rec.CallID, "error", fmt.Errorf("audit: insert call record: %w", err))
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
