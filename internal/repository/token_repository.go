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

// RefreshTokenRepository owns the refresh_tokens table. Every state change is
// a single conditional UPDATE guarded by the expected current state, so a
// record leaves ACTIVE exactly once even under concurrent writers; callers
// branch on the reported rows-affected outcome.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create persists a refresh token record. Only the token hash is stored.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.FamilyID == "" {
		token.FamilyID = token.ID
	}
	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now().UTC()
	}
	if token.State == "" {
		token.State = models.RefreshStateActive
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, issued_at, expires_at, state, replaced_by, redeemed_at, revoked_at, ip_address, user_agent) VALUES (:id, :user_id, :family_id, :token_hash, :issued_at, :expires_at, :state, :replaced_by, :redeemed_at, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindByHash returns the record matching the hash of a presented token.
func (r *RefreshTokenRepository) FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, family_id, token_hash, issued_at, expires_at, state, replaced_by, redeemed_at, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token by hash: %w", err)
	}
	return &rt, nil
}

// FindByID returns a record by identifier.
func (r *RefreshTokenRepository) FindByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, family_id, token_hash, issued_at, expires_at, state, replaced_by, redeemed_at, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE id = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token by id: %w", err)
	}
	return &rt, nil
}

// Rotate transitions oldID from ACTIVE to ROTATED and links it to newID.
// The WHERE clause is the synchronization point: of N concurrent rotations
// against the same record, exactly one observes rows-affected == 1; the rest
// get false and must treat the token as reused.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID, newID string, now time.Time) (bool, error) {
	const query = `UPDATE refresh_tokens SET state = $2, replaced_by = $3, redeemed_at = $4 WHERE id = $1 AND state = $5`
	res, err := r.db.ExecContext(ctx, query, oldID, models.RefreshStateRotated, newID, now, models.RefreshStateActive)
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: rows affected: %w", err)
	}
	return affected == 1, nil
}

// MarkState moves a single record out of ACTIVE into the given terminal
// state. Returns false when the record was no longer ACTIVE, which callers
// treat as an idempotent no-op.
func (r *RefreshTokenRepository) MarkState(ctx context.Context, id string, to models.RefreshTokenState, now time.Time) (bool, error) {
	const query = `UPDATE refresh_tokens SET state = $2, revoked_at = $3 WHERE id = $1 AND state = $4`
	res, err := r.db.ExecContext(ctx, query, id, to, now, models.RefreshStateActive)
	if err != nil {
		return false, fmt.Errorf("mark refresh token %s: %w", to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark refresh token %s: rows affected: %w", to, err)
	}
	return affected == 1, nil
}

// RevokeFamily moves every still-ACTIVE record of a token family into the
// given terminal state. Records already out of ACTIVE keep their state, so
// per-record transitions stay monotonic. Returns the number of records moved.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string, to models.RefreshTokenState, now time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET state = $2, revoked_at = $3 WHERE family_id = $1 AND state = $4`
	res, err := r.db.ExecContext(ctx, query, familyID, to, now, models.RefreshStateActive)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token family: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token family: rows affected: %w", err)
	}
	return affected, nil
}

// RevokeAllForUser revokes every ACTIVE record belonging to a user. Each
// record transitions independently; the operation is idempotent rather than
// a single cross-record transaction.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET state = $2, revoked_at = $3 WHERE user_id = $1 AND state = $4`
	res, err := r.db.ExecContext(ctx, query, userID, models.RefreshStateRevoked, now, models.RefreshStateActive)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: rows affected: %w", err)
	}
	return affected, nil
}
