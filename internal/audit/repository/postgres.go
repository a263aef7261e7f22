package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docsign-engine/backend/internal/audit/domain"
)

// PostgresRepository stores audit events in audit_events. A trigger in the schema rejects
// UPDATE and DELETE on that table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an audit repository that uses the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Append takes a transaction-scoped advisory lock on the request id, reads the chain head,
// seals e and inserts it.
func (r *PostgresRepository) Append(ctx context.Context, e *domain.Event) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, e.RequestID); err != nil {
			return err
		}
		var (
			seq  int64
			prev string
		)
		err := tx.QueryRow(ctx, `
			SELECT seq, hash FROM audit_events WHERE request_id = $1 ORDER BY seq DESC LIMIT 1`,
			e.RequestID).Scan(&seq, &prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		e.Seal(prev, seq+1)
		_, err = tx.Exec(ctx, `
			INSERT INTO audit_events (
				id, request_id, seq, event_type, occurred_at, actor_kind, actor_id, actor_ip,
				actor_user_agent, metadata, prev_hash, hash
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			e.ID, e.RequestID, e.Seq, string(e.Type), e.OccurredAt, e.Actor.Kind, e.Actor.ID, e.Actor.IP,
			e.Actor.UserAgent, []byte(e.Metadata), e.PrevHash, e.Hash)
		return err
	})
}

// ListByRequest returns the events of requestID ordered by seq.
func (r *PostgresRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, seq, event_type, occurred_at, actor_kind, actor_id, actor_ip,
			actor_user_agent, metadata, prev_hash, hash
		FROM audit_events WHERE request_id = $1 ORDER BY seq`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Event
	for rows.Next() {
		var (
			e    domain.Event
			typ  string
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Seq, &typ, &e.OccurredAt, &e.Actor.Kind, &e.Actor.ID,
			&e.Actor.IP, &e.Actor.UserAgent, &meta, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(typ)
		e.OccurredAt = e.OccurredAt.UTC()
		if e.Metadata, err = domain.Recanonicalize(meta); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
