package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docsign-engine/backend/internal/otp/domain"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an OTP challenge repository that uses the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create supersedes the request's active challenge and inserts c in one transaction.
// The partial unique index on active challenges rejects a concurrent second insert.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Challenge) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE otp_challenges SET superseded_at = $1
			WHERE request_id = $2 AND consumed_at IS NULL AND superseded_at IS NULL`,
			c.IssuedAt, c.RequestID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO otp_challenges (id, request_id, code_hash, issued_at, expires_at, attempt_count)
			VALUES ($1, $2, $3, $4, $5, 0)`,
			c.ID, c.RequestID, c.CodeHash, c.IssuedAt, c.ExpiresAt)
		return err
	})
}

// GetActive returns the active challenge for requestID, or nil if not found.
func (r *PostgresRepository) GetActive(ctx context.Context, requestID string) (*domain.Challenge, error) {
	var c domain.Challenge
	err := r.pool.QueryRow(ctx, `
		SELECT id, request_id, code_hash, issued_at, expires_at, attempt_count, consumed_at, superseded_at
		FROM otp_challenges
		WHERE request_id = $1 AND consumed_at IS NULL AND superseded_at IS NULL`, requestID).
		Scan(&c.ID, &c.RequestID, &c.CodeHash, &c.IssuedAt, &c.ExpiresAt, &c.AttemptCount, &c.ConsumedAt, &c.SupersededAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// RecordAttempt increments attempt_count with a single conditional UPDATE.
func (r *PostgresRepository) RecordAttempt(ctx context.Context, id string, max int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		UPDATE otp_challenges SET attempt_count = attempt_count + 1
		WHERE id = $1 AND attempt_count < $2 AND consumed_at IS NULL AND superseded_at IS NULL
		RETURNING attempt_count`, id, max).Scan(&n)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	var (
		count  int
		active bool
	)
	err = r.pool.QueryRow(ctx, `
		SELECT attempt_count, consumed_at IS NULL AND superseded_at IS NULL
		FROM otp_challenges WHERE id = $1`, id).Scan(&count, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotActive
		}
		return 0, err
	}
	if !active {
		return count, ErrNotActive
	}
	return count, ErrAttemptsExhausted
}

// Consume sets consumed_at once.
func (r *PostgresRepository) Consume(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE otp_challenges SET consumed_at = $1
		WHERE id = $2 AND consumed_at IS NULL AND superseded_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}
	return nil
}

// ListByRequest returns the request's challenge history ordered by issue time.
func (r *PostgresRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.Challenge, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, code_hash, issued_at, expires_at, attempt_count, consumed_at, superseded_at
		FROM otp_challenges
		WHERE request_id = $1
		ORDER BY issued_at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Challenge
	for rows.Next() {
		var c domain.Challenge
		if err := rows.Scan(&c.ID, &c.RequestID, &c.CodeHash, &c.IssuedAt, &c.ExpiresAt, &c.AttemptCount, &c.ConsumedAt, &c.SupersededAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
