package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"docsign-engine/backend/internal/signature/domain"
)

const requestColumns = `id, public_token_hash, document_type, document_title, document_url,
	coalesce(signed_document_url, ''), document_hash, signer_name, signer_email, requester_id,
	status, expires_at, signed_at, decline_reason, finalized_at, otp_issue_count,
	last_otp_issued_at, created_at, updated_at, version`

// PostgresRepository stores signature requests in the signature_requests table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a signature request repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts r. r.Version is stored as given (normally 1).
func (r *PostgresRepository) Create(ctx context.Context, req *domain.SignatureRequest) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO signature_requests (
			id, public_token_hash, document_type, document_title, document_url, signed_document_url,
			document_hash, signer_name, signer_email, requester_id, status, expires_at,
			otp_issue_count, created_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		req.ID, req.PublicTokenHash, req.DocumentType, req.DocumentTitle, req.DocumentURL, req.SignedDocumentURL,
		req.DocumentHash, req.SignerName, req.SignerEmail, req.RequesterID, string(req.Status), req.ExpiresAt,
		req.OTPIssueCount, req.CreatedAt, req.UpdatedAt, req.Version,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateToken
	}
	return err
}

// GetByID returns the request for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.SignatureRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM signature_requests WHERE id = $1`, id)
	return scanOne(row)
}

// GetByTokenHash returns the request whose public token hashes to tokenHash, or nil if not found.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.SignatureRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM signature_requests WHERE public_token_hash = $1`, tokenHash)
	return scanOne(row)
}

// UpdateIfUnchanged writes the mutable lifecycle columns of next guarded by status and version.
func (r *PostgresRepository) UpdateIfUnchanged(ctx context.Context, next *domain.SignatureRequest, expectedStatus domain.Status, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE signature_requests SET
			status = $1, signed_at = $2, decline_reason = $3, finalized_at = $4,
			otp_issue_count = $5, last_otp_issued_at = $6, signed_document_url = NULLIF($7,''),
			updated_at = $8, version = version + 1
		WHERE id = $9 AND status = $10 AND version = $11`,
		string(next.Status), next.SignedAt, next.DeclineReason, next.FinalizedAt,
		next.OTPIssueCount, next.LastOTPIssuedAt, next.SignedDocumentURL,
		next.UpdatedAt, next.ID, string(expectedStatus), expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	next.Version = expectedVersion + 1
	return nil
}

// SetDocumentHashIfEmpty records hash when none has been captured yet.
func (r *PostgresRepository) SetDocumentHashIfEmpty(ctx context.Context, id, hash string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE signature_requests SET document_hash = $1 WHERE id = $2 AND document_hash = ''`, hash, id)
	return err
}

// ListOverdue returns non-terminal requests due at or before now, oldest deadline first.
func (r *PostgresRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.SignatureRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM signature_requests
		WHERE status IN ('PENDING', 'OTP_ISSUED') AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.SignatureRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanOne(row pgx.Row) (*domain.SignatureRequest, error) {
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func scanRequest(row pgx.Row) (*domain.SignatureRequest, error) {
	var (
		req    domain.SignatureRequest
		status string
	)
	err := row.Scan(
		&req.ID, &req.PublicTokenHash, &req.DocumentType, &req.DocumentTitle, &req.DocumentURL,
		&req.SignedDocumentURL, &req.DocumentHash, &req.SignerName, &req.SignerEmail, &req.RequesterID,
		&status, &req.ExpiresAt, &req.SignedAt, &req.DeclineReason, &req.FinalizedAt, &req.OTPIssueCount,
		&req.LastOTPIssuedAt, &req.CreatedAt, &req.UpdatedAt, &req.Version,
	)
	if err != nil {
		return nil, err
	}
	req.Status = domain.Status(status)
	return &req, nil
}
