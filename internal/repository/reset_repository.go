package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Leadrat/Quotation-Management-System-sub012/internal/models"
)

// PasswordResetRepository owns the password_reset_tokens table.
type PasswordResetRepository struct {
	db *sqlx.DB
}

// NewPasswordResetRepository creates a new instance of PasswordResetRepository.
func NewPasswordResetRepository(db *sqlx.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Create persists a reset record. Only the token hash is stored.
func (r *PasswordResetRepository) Create(ctx context.Context, token *models.PasswordResetToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at, used_at) VALUES (:id, :user_id, :token_hash, :expires_at, :created_at, :used_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create password reset token: %w", err)
	}
	return nil
}

// FindByHash returns the reset record matching the hash of a presented token.
func (r *PasswordResetRepository) FindByHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	const query = `SELECT id, user_id, token_hash, expires_at, created_at, used_at FROM password_reset_tokens WHERE token_hash = $1 LIMIT 1`
	var prt models.PasswordResetToken
	if err := r.db.GetContext(ctx, &prt, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find password reset token: %w", err)
	}
	return &prt, nil
}

// VoidActiveForUser marks every unused record of a user as consumed so that
// at most one valid reset token exists per user at any time.
func (r *PasswordResetRepository) VoidActiveForUser(ctx context.Context, userID string, now time.Time) error {
	const query = `UPDATE password_reset_tokens SET used_at = $2 WHERE user_id = $1 AND used_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, userID, now); err != nil {
		return fmt.Errorf("void password reset tokens: %w", err)
	}
	return nil
}

// Redeem marks the reset record used and updates the user's password hash in
// one transaction. The used_at IS NULL guard makes the token single-use: a
// second redemption finds zero rows and the transaction rolls back, leaving
// neither side applied.
func (r *PasswordResetRepository) Redeem(ctx context.Context, tokenID, userID, passwordHash string, now time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("redeem password reset: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const markQuery = `UPDATE password_reset_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`
	res, err := tx.ExecContext(ctx, markQuery, tokenID, now)
	if err != nil {
		return false, fmt.Errorf("redeem password reset: mark used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("redeem password reset: rows affected: %w", err)
	}
	if affected != 1 {
		return false, nil
	}

	const passwordQuery = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, passwordQuery, userID, passwordHash, now); err != nil {
		return false, fmt.Errorf("redeem password reset: update password: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("redeem password reset: commit: %w", err)
	}
	return true, nil
}
