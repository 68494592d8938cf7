package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecorder appends events to valine.audit_events.
//
// Insert failures are logged and swallowed: a broken audit path must not
// take authentication down with it.
type PostgresRecorder struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresRecorder creates a Postgres-backed recorder.
func NewPostgresRecorder(pool *pgxpool.Pool, log *slog.Logger) *PostgresRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresRecorder{pool: pool, log: log}
}

func (r *PostgresRecorder) Record(ctx context.Context, now time.Time, ev Event) {
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO valine.audit_events (
			id, action, user_id, record_id, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
	`, uuid.NewString(), action, nullIfEmpty(ev.UserID), nullIfEmpty(ev.RecordID),
		now, nullIfEmpty(ev.IP), nullIfEmpty(strings.TrimSpace(ev.UserAgent)), metaVal)
	if err != nil {
		r.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
