package models

import "time"

// RefreshTokenState is the lifecycle state of a refresh token record.
// Transitions are monotonic: a record leaves ACTIVE exactly once and never
// returns.
type RefreshTokenState string

const (
	RefreshStateActive      RefreshTokenState = "ACTIVE"
	RefreshStateRotated     RefreshTokenState = "ROTATED"
	RefreshStateRevoked     RefreshTokenState = "REVOKED"
	RefreshStateExpired     RefreshTokenState = "EXPIRED"
	RefreshStateCompromised RefreshTokenState = "COMPROMISED"
)

// RefreshToken is the persisted record of an issued refresh token. Only the
// SHA-256 hash of the opaque token material is stored; the plaintext exists
// solely in the response to the client. FamilyID groups a token with every
// descendant produced by rotation, so replay detection can revoke the whole
// lineage with one guarded update.
type RefreshToken struct {
	ID         string            `db:"id" json:"id"`
	UserID     string            `db:"user_id" json:"user_id"`
	FamilyID   string            `db:"family_id" json:"family_id"`
	TokenHash  string            `db:"token_hash" json:"-"`
	IssuedAt   time.Time         `db:"issued_at" json:"issued_at"`
	ExpiresAt  time.Time         `db:"expires_at" json:"expires_at"`
	State      RefreshTokenState `db:"state" json:"state"`
	ReplacedBy *string           `db:"replaced_by" json:"replaced_by,omitempty"`
	RedeemedAt *time.Time        `db:"redeemed_at" json:"redeemed_at,omitempty"`
	RevokedAt  *time.Time        `db:"revoked_at" json:"revoked_at,omitempty"`
	IPAddress  string            `db:"ip_address" json:"-"`
	UserAgent  string            `db:"user_agent" json:"-"`
}

// Expired reports whether the record is past its expiry at the given time.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// PasswordResetToken is a single-use, short-TTL reset record. As with
// refresh tokens, only the hash of the mailed token is stored.
type PasswordResetToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
}
