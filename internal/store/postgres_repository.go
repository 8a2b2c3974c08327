/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all SQL touching the `payment_requests` table.
 *
 * Amount columns are stored as TEXT: atomic-unit token amounts are unsigned
 * 64-bit integers and must survive round-trips without precision loss, which
 * rules out float-backed numeric handling on either side of the driver.
 *
 * @dependencies
 * - context, errors, strconv, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paybridge/oracle-service/internal/domain"
)

var (
	ErrPaymentNotFound = errors.New("payment request not found")
	ErrDuplicateID     = errors.New("payment id already exists")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the payment_requests table if it does not exist yet.
// The oracle owns this single table, so boot-time DDL stands in for a
// migration tool.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS payment_requests (
			id              TEXT PRIMARY KEY,
			target_account  TEXT NOT NULL,
			kind            TEXT NOT NULL,
			item_amount     TEXT NOT NULL,
			expected_amount TEXT NOT NULL,
			expected_sender TEXT,
			status          TEXT NOT NULL DEFAULT 'pending',
			tx_signature    TEXT,
			target_tx_hash  TEXT,
			failure_reason  TEXT,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_payment_requests_status_expires
			ON payment_requests (status, expires_at);
	`)
	return err
}

// CreatePayment persists a new payment request. The id is generated by the
// service (timestamp + random suffix), so a collision indicates a bug and is
// surfaced as ErrDuplicateID rather than silently overwritten.
func (r *PostgresRepository) CreatePayment(ctx context.Context, req *domain.PaymentRequest) error {
	query := `
		INSERT INTO payment_requests
			(id, target_account, kind, item_amount, expected_amount, expected_sender, status, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $8)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		req.ID,
		req.TargetAccount,
		string(req.Kind),
		strconv.FormatUint(req.ItemAmount, 10),
		strconv.FormatUint(req.ExpectedAmount, 10),
		req.ExpectedSender,
		string(req.Status),
		req.CreatedAt,
		req.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateID
	}
	return nil
}

// GetPayment returns the stored record or ErrPaymentNotFound.
func (r *PostgresRepository) GetPayment(ctx context.Context, id string) (*domain.PaymentRequest, error) {
	query := `
		SELECT id, target_account, kind, item_amount, expected_amount, expected_sender,
		       status, tx_signature, target_tx_hash, failure_reason, created_at, expires_at, updated_at
		FROM payment_requests
		WHERE id = $1
	`
	var (
		req                      domain.PaymentRequest
		kind, status             string
		itemAmount, expectAmount string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&req.ID,
		&req.TargetAccount,
		&kind,
		&itemAmount,
		&expectAmount,
		&req.ExpectedSender,
		&status,
		&req.TxSignature,
		&req.TargetTxHash,
		&req.FailureReason,
		&req.CreatedAt,
		&req.ExpiresAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	req.Kind = domain.PaymentKind(kind)
	req.Status = domain.PaymentStatus(status)
	if req.ItemAmount, err = strconv.ParseUint(itemAmount, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt item_amount for payment %s: %w", id, err)
	}
	if req.ExpectedAmount, err = strconv.ParseUint(expectAmount, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt expected_amount for payment %s: %w", id, err)
	}
	return &req, nil
}

// MarkPaymentCompleted records the terminal completed state together with the
// source signature and target-chain hash. The status predicate makes the
// pending -> completed transition atomic: of two racing confirmations only one
// observes rows_affected = 1.
func (r *PostgresRepository) MarkPaymentCompleted(ctx context.Context, id, txSignature, targetTxHash string) (bool, error) {
	query := `
		UPDATE payment_requests
		SET status = 'completed', tx_signature = $2, target_tx_hash = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, id, txSignature, targetTxHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaymentExpired transitions pending -> expired under the same guard.
func (r *PostgresRepository) MarkPaymentExpired(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE payment_requests
		SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaymentFailed records an unrecoverable verification outcome.
func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, id, reason string) (bool, error) {
	query := `
		UPDATE payment_requests
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CleanupExpiredPayments sweeps pending rows whose payment window has closed.
func (r *PostgresRepository) CleanupExpiredPayments(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE payment_requests
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at < $1
	`
	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
