package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Leadrat/Quotation-Management-System-sub012/internal/models"
	appErrors "github.com/Leadrat/Quotation-Management-System-sub012/pkg/errors"
	"github.com/Leadrat/Quotation-Management-System-sub012/pkg/password"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// refreshTokenStore is the lifecycle store for refresh token records. All
// mutating calls are per-record conditional writes; see RefreshTokenRepository.
type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, oldID, newID string, now time.Time) (bool, error)
	MarkState(ctx context.Context, id string, to models.RefreshTokenState, now time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID string, to models.RefreshTokenState, now time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
}

type attemptLimiter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
	Reset(ctx context.Context, key string) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	ThrottleAttempts int
	ThrottleWindow   time.Duration
}

// AuthService orchestrates login, token rotation and logout.
type AuthService struct {
	users     authUserRepository
	tokens    refreshTokenStore
	limiter   attemptLimiter
	hasher    *password.Hasher
	codec     *TokenCodec
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, tokens refreshTokenStore, limiter attemptLimiter, hasher *password.Hasher, codec *TokenCodec, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		limiter:   limiter,
		hasher:    hasher,
		codec:     codec,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
	}
}

// Login authenticates a user and returns an access/refresh token pair. The
// failure message is identical for an unknown email and a wrong password.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	email := strings.ToLower(req.Email)
	throttleKey := fmt.Sprintf("login:%s:%s", email, req.IP)
	if err := s.checkThrottle(ctx, throttleKey); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.ObserveLogin(false)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	ok, err := s.hasher.Verify(user.PasswordHash, req.Password)
	if err != nil {
		// Corrupt stored hash: log for operators, fail closed for the caller.
		s.logger.Error("stored password hash is malformed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if !ok {
		s.metrics.ObserveLogin(false)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, throttleKey); err != nil {
			s.logger.Warn("failed to reset login throttle", zap.Error(err))
		}
	}

	now := time.Now().UTC()
	pair, err := s.issueTokenPair(ctx, user, "", now, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.audit(ctx, &user.ID, models.AuditActionLogin, user.ID, map[string]interface{}{"status": "success"}, req.IP, req.UserAgent)
	s.metrics.ObserveLogin(true)

	return &models.LoginResponse{
		Success:      true,
		AccessToken:  pair.accessToken,
		RefreshToken: pair.refreshPlaintext,
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
		IssuedAt:     now,
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
	}, nil
}

// RefreshToken runs the rotation protocol: the presented token must resolve
// to an ACTIVE, unexpired record, and the ACTIVE→ROTATED transition must win
// the conditional write. Any other outcome is treated as replay and revokes
// the whole token family before the call returns.
func (s *AuthService) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	record, err := s.tokens.FindByHash(ctx, s.codec.HashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrTokenMalformed, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	now := time.Now().UTC()

	if record.State != models.RefreshStateActive {
		return nil, s.escalateReuse(ctx, record, now, req.IP, req.UserAgent)
	}

	if record.Expired(now) {
		if _, err := s.tokens.MarkState(ctx, record.ID, models.RefreshStateExpired, now); err != nil {
			s.logger.Warn("failed to mark refresh token expired", zap.String("token_id", record.ID), zap.Error(err))
		}
		return nil, appErrors.Clone(appErrors.ErrTokenExpired, "")
	}

	user, err := s.users.FindByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		if _, err := s.tokens.RevokeAllForUser(ctx, user.ID, now); err != nil {
			s.logger.Warn("failed to revoke tokens of inactive user", zap.Error(err))
		}
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	pair, err := s.issueTokenPair(ctx, user, record.FamilyID, now, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	rotated, err := s.tokens.Rotate(ctx, record.ID, pair.refreshID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}
	if !rotated {
		// Lost the conditional write: someone else consumed this token
		// between lookup and rotation. Indistinguishable from replay.
		return nil, s.escalateReuse(ctx, record, now, req.IP, req.UserAgent)
	}

	s.audit(ctx, &user.ID, models.AuditActionRefresh, record.ID, map[string]interface{}{"rotated_to": pair.refreshID}, req.IP, req.UserAgent)

	return &models.RefreshTokenResponse{
		AccessToken:  pair.accessToken,
		RefreshToken: pair.refreshPlaintext,
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
		IssuedAt:     now,
	}, nil
}

// Logout revokes a specific session, including its rotated descendants, or
// every session of the user when no token is supplied. Revoking an already
// terminal record is a no-op, never an error.
func (s *AuthService) Logout(ctx context.Context, userID string, req models.LogoutRequest) (*models.LogoutResponse, error) {
	now := time.Now().UTC()

	if req.RefreshToken == "" {
		count, err := s.tokens.RevokeAllForUser(ctx, userID, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
		}
		s.audit(ctx, &userID, models.AuditActionLogout, userID, map[string]interface{}{"scope": "all", "revoked": count}, req.IP, req.UserAgent)
		return &models.LogoutResponse{Success: true, Message: "all sessions revoked", Timestamp: now}, nil
	}

	record, err := s.tokens.FindByHash(ctx, s.codec.HashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.LogoutResponse{Success: true, Message: "session revoked", Timestamp: now}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh token")
	}

	if record.UserID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")
	}

	switch record.State {
	case models.RefreshStateActive:
		if _, err := s.tokens.MarkState(ctx, record.ID, models.RefreshStateRevoked, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
		}
	case models.RefreshStateRotated:
		// The session continued under a descendant token; revoke the rest
		// of the family so logout covers the whole chain.
		if _, err := s.tokens.RevokeFamily(ctx, record.FamilyID, models.RefreshStateRevoked, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke session family")
		}
	}

	s.audit(ctx, &userID, models.AuditActionLogout, record.ID, map[string]interface{}{"scope": "single"}, req.IP, req.UserAgent)
	return &models.LogoutResponse{Success: true, Message: "session revoked", Timestamp: now}, nil
}

// ChangePassword changes the password for the given user ID and revokes all
// of their sessions.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	if err := ValidatePassword(req.NewPassword); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	ok, err := s.hasher.Verify(user.PasswordHash, req.OldPassword)
	if err != nil {
		s.logger.Error("stored password hash is malformed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	now := time.Now().UTC()
	if err := s.users.UpdatePassword(ctx, userID, newHash, now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if _, err := s.tokens.RevokeAllForUser(ctx, userID, now); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password change", zap.Error(err))
	}

	s.audit(ctx, &userID, models.AuditActionPasswordChange, userID, map[string]interface{}{"status": "changed"}, "", "")
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims := s.codec.ValidateToken(tokenString, true)
	if claims == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

type tokenPair struct {
	accessToken      string
	refreshPlaintext string
	refreshID        string
}

// issueTokenPair creates a new ACTIVE refresh record (starting a new family
// when familyID is empty) and mints an access token linked to it.
func (s *AuthService) issueTokenPair(ctx context.Context, user *models.User, familyID string, now time.Time, ip, userAgent string) (*tokenPair, error) {
	plaintext, tokenID, expiresAt, err := s.codec.GenerateRefreshToken(now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	if familyID == "" {
		familyID = tokenID
	}

	record := &models.RefreshToken{
		ID:        tokenID,
		UserID:    user.ID,
		FamilyID:  familyID,
		TokenHash: s.codec.HashToken(plaintext),
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		State:     models.RefreshStateActive,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	accessToken, _, err := s.codec.GenerateAccessToken(user, now, tokenID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	return &tokenPair{accessToken: accessToken, refreshPlaintext: plaintext, refreshID: tokenID}, nil
}

// escalateReuse handles presentation of a consumed token: the whole family
// is marked COMPROMISED before the caller gets an answer, so a replayed
// token can never race its way back to a usable session.
func (s *AuthService) escalateReuse(ctx context.Context, record *models.RefreshToken, now time.Time, ip, userAgent string) error {
	revoked, err := s.tokens.RevokeFamily(ctx, record.FamilyID, models.RefreshStateCompromised, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke compromised token family")
	}

	s.logger.Warn("refresh token reuse detected",
		zap.String("token_id", record.ID),
		zap.String("family_id", record.FamilyID),
		zap.String("user_id", record.UserID),
		zap.Int64("revoked", revoked),
	)
	s.metrics.ObserveTokenReuse()
	s.audit(ctx, &record.UserID, models.AuditActionTokenReuse, record.ID, map[string]interface{}{"family_id": record.FamilyID, "revoked": revoked}, ip, userAgent)

	return appErrors.Clone(appErrors.ErrTokenReused, "")
}

func (s *AuthService) audit(ctx context.Context, userID *string, action, resourceID string, values map[string]interface{}, ip, userAgent string) {
	payload, _ := json.Marshal(values)
	resID := resourceID
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &resID,
		NewValues:  payload,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuthService) checkThrottle(ctx context.Context, key string) error {
	if s.limiter == nil || s.config.ThrottleAttempts <= 0 {
		return nil
	}
	count, err := s.limiter.Hit(ctx, key, s.config.ThrottleWindow)
	if err != nil {
		// Fail open: an unreachable limiter must not lock everyone out.
		s.logger.Warn("login throttle unavailable", zap.Error(err))
		return nil
	}
	if count > int64(s.config.ThrottleAttempts) {
		return appErrors.Clone(appErrors.ErrTooManyAttempts, "")
	}
	return nil
}
