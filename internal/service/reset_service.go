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

type resetTokenStore interface {
	Create(ctx context.Context, token *models.PasswordResetToken) error
	FindByHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	VoidActiveForUser(ctx context.Context, userID string, now time.Time) error
	Redeem(ctx context.Context, tokenID, userID, passwordHash string, now time.Time) (bool, error)
}

type resetSessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
}

type resetMailer interface {
	SendResetEmail(ctx context.Context, payload ResetEmailPayload) error
}

// PasswordResetConfig defines configuration for the reset flow.
type PasswordResetConfig struct {
	TokenTTL         time.Duration
	ThrottleAttempts int
	ThrottleWindow   time.Duration
}

// PasswordResetService issues and redeems single-use password reset tokens.
type PasswordResetService struct {
	users     authUserRepository
	resets    resetTokenStore
	sessions  resetSessionRevoker
	limiter   attemptLimiter
	mailer    resetMailer
	hasher    *password.Hasher
	codec     *TokenCodec
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    PasswordResetConfig
}

// NewPasswordResetService constructs a PasswordResetService.
func NewPasswordResetService(users authUserRepository, resets resetTokenStore, sessions resetSessionRevoker, limiter attemptLimiter, mailer resetMailer, hasher *password.Hasher, codec *TokenCodec, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config PasswordResetConfig) *PasswordResetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &PasswordResetService{
		users:     users,
		resets:    resets,
		sessions:  sessions,
		limiter:   limiter,
		mailer:    mailer,
		hasher:    hasher,
		codec:     codec,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
	}
}

// RequestReset starts the reset flow. The response is identical whether or
// not the email belongs to an account, so the endpoint cannot be used to
// enumerate users. Issuing a new token voids any earlier unused one.
func (s *PasswordResetService) RequestReset(ctx context.Context, req models.ForgotPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset payload")
	}

	email := strings.ToLower(req.Email)
	if err := s.checkThrottle(ctx, fmt.Sprintf("reset:%s:%s", email, req.IP)); err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if !user.Active {
		return nil
	}

	plaintext, hash, err := s.codec.GenerateResetToken()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reset token")
	}

	now := time.Now().UTC()
	if err := s.resets.VoidActiveForUser(ctx, user.ID, now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to void earlier reset tokens")
	}

	record := &models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.config.TokenTTL),
		CreatedAt: now,
	}
	if err := s.resets.Create(ctx, record); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist reset token")
	}

	if err := s.mailer.SendResetEmail(ctx, ResetEmailPayload{
		Email:     user.Email,
		FullName:  user.FullName,
		Token:     plaintext,
		ExpiresAt: record.ExpiresAt,
	}); err != nil {
		// Delivery failures must not reveal account existence to the caller.
		s.logger.Warn("failed to enqueue reset email", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.metrics.ObserveResetIssued()
	s.audit(ctx, &user.ID, models.AuditActionPasswordReset, record.ID, map[string]interface{}{"phase": "requested"}, req.IP, req.UserAgent)
	return nil
}

// ConfirmReset redeems a reset token and installs the new password. The token
// is single-use: redemption and the password write commit together, and every
// failure mode after lookup yields the same opaque error.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, req models.ConfirmResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset payload")
	}
	if req.NewPassword != req.ConfirmPassword {
		return appErrors.Clone(appErrors.ErrValidation, "password confirmation does not match")
	}
	if err := ValidatePassword(req.NewPassword); err != nil {
		return err
	}

	record, err := s.resets.FindByHash(ctx, s.codec.HashToken(req.Token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired reset token")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch reset token")
	}

	now := time.Now().UTC()
	if record.UsedAt != nil || now.After(record.ExpiresAt) {
		return appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired reset token")
	}

	newHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	redeemed, err := s.resets.Redeem(ctx, record.ID, record.UserID, newHash, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to redeem reset token")
	}
	if !redeemed {
		return appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired reset token")
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, record.UserID, now); err != nil {
		s.logger.Warn("failed to revoke sessions after password reset", zap.String("user_id", record.UserID), zap.Error(err))
	}

	s.audit(ctx, &record.UserID, models.AuditActionPasswordReset, record.ID, map[string]interface{}{"phase": "redeemed"}, "", "")
	return nil
}

func (s *PasswordResetService) audit(ctx context.Context, userID *string, action, resourceID string, values map[string]interface{}, ip, userAgent string) {
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

func (s *PasswordResetService) checkThrottle(ctx context.Context, key string) error {
	if s.limiter == nil || s.config.ThrottleAttempts <= 0 {
		return nil
	}
	count, err := s.limiter.Hit(ctx, key, s.config.ThrottleWindow)
	if err != nil {
		s.logger.Warn("reset throttle unavailable", zap.Error(err))
		return nil
	}
	if count > int64(s.config.ThrottleAttempts) {
		return appErrors.Clone(appErrors.ErrTooManyAttempts, "")
	}
	return nil
}
