package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Leadrat/Quotation-Management-System-sub012/internal/models"
)

// Opaque token sizing: 32 random bytes gives 256 bits of entropy for both
// refresh and reset material.
const opaqueTokenBytes = 32

// TokenConfig defines signing and lifetime parameters for issued tokens.
type TokenConfig struct {
	Secret            string
	Issuer            string
	Audience          []string
	AccessTokenExpiry time.Duration
	RefreshExpiry     time.Duration
}

// TokenCodec mints and verifies access tokens and generates the opaque
// material for refresh and reset tokens. Validation is stateless and safe
// for concurrent use.
type TokenCodec struct {
	config TokenConfig
}

// NewTokenCodec constructs a TokenCodec.
func NewTokenCodec(config TokenConfig) *TokenCodec {
	return &TokenCodec{config: config}
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration {
	return c.config.AccessTokenExpiry
}

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration {
	return c.config.RefreshExpiry
}

// GenerateAccessToken mints a signed HS256 token for the user. The jti claim
// is a fresh unique id; refreshID, when non-empty, links the token to the
// refresh record issued alongside it.
func (c *TokenCodec) GenerateAccessToken(user *models.User, now time.Time, refreshID string) (string, time.Time, error) {
	now = now.UTC()
	expiresAt := now.Add(c.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID:    user.ID,
		Role:      user.Role,
		Email:     user.Email,
		RefreshID: refreshID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.config.Issuer,
			Subject:   user.ID,
			Audience:  c.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// GenerateRefreshToken produces the opaque refresh token material. The
// plaintext is returned once and never persisted; tokenID is a separate
// identifier that is safe to log and index.
func (c *TokenCodec) GenerateRefreshToken(now time.Time) (plaintext, tokenID string, expiresAt time.Time, err error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", time.Time{}, fmt.Errorf("generate refresh token: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(buf)
	tokenID = uuid.NewString()
	expiresAt = now.UTC().Add(c.config.RefreshExpiry)
	return plaintext, tokenID, expiresAt, nil
}

// GenerateResetToken produces opaque single-use reset material and its hash.
func (c *TokenCodec) GenerateResetToken() (plaintext, hash string, err error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate reset token: %w", err)
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, c.HashToken(plaintext), nil
}

// HashToken computes the SHA-256 hash of opaque token material. Stores and
// lookups only ever see this value, never the plaintext.
func (c *TokenCodec) HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// ValidateToken verifies signature and structure and, when validateLifetime
// is set, the expiry window. The signing algorithm is pinned to HS256; the
// alg header of the presented token is never trusted. Any failure yields nil
// so callers branch on presence rather than error kind.
func (c *TokenCodec) ValidateToken(raw string, validateLifetime bool) *models.JWTClaims {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if !validateLifetime {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(raw, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(c.config.Secret), nil
	}, opts...)
	if err != nil {
		return nil
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil
	}
	return claims
}
