package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Leadrat/Quotation-Management-System-sub012/internal/models"
	appErrors "github.com/Leadrat/Quotation-Management-System-sub012/pkg/errors"
	"github.com/Leadrat/Quotation-Management-System-sub012/pkg/password"
)

type fakeUserRepo struct {
	mu               sync.Mutex
	usersByEmail     map[string]*models.User
	usersByID        map[string]*models.User
	findByEmailErr   error
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
	passwordUpdates  map[string]string
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	r := &fakeUserRepo{
		usersByEmail:    make(map[string]*models.User),
		usersByID:       make(map[string]*models.User),
		passwordUpdates: make(map[string]string),
	}
	for _, u := range users {
		r.usersByEmail[u.Email] = u
		r.usersByID[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if r.findByEmailErr != nil {
		return nil, r.findByEmailErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.usersByEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (r *fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.usersByID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (r *fakeUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLoginUpdated = true
	return nil
}

func (r *fakeUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passwordUpdates[id] = passwordHash
	if u, ok := r.usersByID[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (r *fakeUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditLogs = append(r.auditLogs, log)
	return nil
}

func (r *fakeUserRepo) auditActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]string, 0, len(r.auditLogs))
	for _, l := range r.auditLogs {
		actions = append(actions, l.Action)
	}
	return actions
}

// fakeTokenStore mirrors the conditional-write semantics of the SQL store:
// state transitions happen under one lock and only apply when the record is
// still ACTIVE.
type fakeTokenStore struct {
	mu      sync.Mutex
	records map[string]*models.RefreshToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{records: make(map[string]*models.RefreshToken)}
}

func (s *fakeTokenStore) Create(ctx context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.records[token.ID] = &cp
	return nil
}

func (s *fakeTokenStore) FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.TokenHash == tokenHash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *fakeTokenStore) Rotate(ctx context.Context, oldID, newID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[oldID]
	if !ok || rec.State != models.RefreshStateActive {
		return false, nil
	}
	rec.State = models.RefreshStateRotated
	rec.ReplacedBy = &newID
	rec.RedeemedAt = &now
	return true, nil
}

func (s *fakeTokenStore) MarkState(ctx context.Context, id string, to models.RefreshTokenState, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.State != models.RefreshStateActive {
		return false, nil
	}
	rec.State = to
	rec.RevokedAt = &now
	return true, nil
}

func (s *fakeTokenStore) RevokeFamily(ctx context.Context, familyID string, to models.RefreshTokenState, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, rec := range s.records {
		if rec.FamilyID == familyID && rec.State == models.RefreshStateActive {
			rec.State = to
			rec.RevokedAt = &now
			count++
		}
	}
	return count, nil
}

func (s *fakeTokenStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, rec := range s.records {
		if rec.UserID == userID && rec.State == models.RefreshStateActive {
			rec.State = models.RefreshStateRevoked
			rec.RevokedAt = &now
			count++
		}
	}
	return count, nil
}

func (s *fakeTokenStore) get(id string) *models.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

func (s *fakeTokenStore) countByState(state models.RefreshTokenState) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.records {
		if rec.State == state {
			count++
		}
	}
	return count
}

type fakeLimiter struct {
	mu     sync.Mutex
	count  int64
	hitErr error
	resets []string
}

func (l *fakeLimiter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	if l.hitErr != nil {
		return 0, l.hitErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	return l.count, nil
}

func (l *fakeLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets = append(l.resets, key)
	l.count = 0
	return nil
}

func testUser(t *testing.T, plaintext string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "u1",
		Email:        "user@example.com",
		FullName:     "Test User",
		Role:         models.RoleSales,
		Active:       true,
		PasswordHash: string(hash),
	}
}

func newTestAuthService(users *fakeUserRepo, tokens *fakeTokenStore, limiter attemptLimiter) *AuthService {
	return NewAuthService(users, tokens, limiter, password.New(bcrypt.MinCost), newTestCodec(), nil, validator.New(), zap.NewNop(), AuthConfig{
		ThrottleAttempts: 3,
		ThrottleWindow:   time.Minute,
	})
}

func TestLoginSuccess(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	users := newFakeUserRepo(user)
	tokens := newFakeTokenStore()
	limiter := &fakeLimiter{}
	svc := newTestAuthService(users, tokens, limiter)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "User@Example.com", Password: "Str0ng!pass", IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "u1", res.User.ID)

	claims := svc.codec.ValidateToken(res.AccessToken, true)
	require.NotNil(t, claims)
	assert.Equal(t, "u1", claims.UserID)
	assert.NotEmpty(t, claims.RefreshID)

	rec := tokens.get(claims.RefreshID)
	require.NotNil(t, rec)
	assert.Equal(t, models.RefreshStateActive, rec.State)
	assert.Equal(t, rec.ID, rec.FamilyID)
	assert.Equal(t, svc.codec.HashToken(res.RefreshToken), rec.TokenHash)
	assert.Equal(t, "10.0.0.1", rec.IPAddress)

	assert.True(t, users.lastLoginUpdated)
	assert.NotEmpty(t, limiter.resets)
	assert.Contains(t, users.auditActions(), models.AuditActionLogin)
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := newTestAuthService(newFakeUserRepo(), newFakeTokenStore(), &fakeLimiter{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "whatever"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestLoginWrongPassword(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	svc := newTestAuthService(newFakeUserRepo(user), newFakeTokenStore(), &fakeLimiter{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "wrong"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
	// The message must not say which of email/password was wrong.
	assert.Equal(t, appErrors.ErrInvalidCredentials.Message, appErrors.FromError(err).Message)
}

func TestLoginInactiveAccount(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	user.Active = false
	svc := newTestAuthService(newFakeUserRepo(user), newFakeTokenStore(), &fakeLimiter{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInactiveAccount))
}

func TestLoginThrottled(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	limiter := &fakeLimiter{count: 10}
	svc := newTestAuthService(newFakeUserRepo(user), newFakeTokenStore(), limiter)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	assert.True(t, appErrors.Is(err, appErrors.ErrTooManyAttempts))
}

func TestLoginThrottleFailsOpen(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	limiter := &fakeLimiter{hitErr: errors.New("redis down")}
	svc := newTestAuthService(newFakeUserRepo(user), newFakeTokenStore(), limiter)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestRefreshRotatesToken(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	tokens := newFakeTokenStore()
	svc := newTestAuthService(newFakeUserRepo(user), tokens, &fakeLimiter{})

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, login.RefreshToken, res.RefreshToken)

	oldRec, err := tokens.FindByHash(context.Background(), svc.codec.HashToken(login.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, models.RefreshStateRotated, oldRec.State)
	require.NotNil(t, oldRec.ReplacedBy)
	require.NotNil(t, oldRec.RedeemedAt)

	newRec, err := tokens.FindByHash(context.Background(), svc.codec.HashToken(res.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, models.RefreshStateActive, newRec.State)
	assert.Equal(t, *oldRec.ReplacedBy, newRec.ID)
	assert.Equal(t, oldRec.FamilyID, newRec.FamilyID)
}

func TestRefreshUnknownToken(t *testing.T) {
	svc := newTestAuthService(newFakeUserRepo(), newFakeTokenStore(), &fakeLimiter{})

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "bogus"})
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenMalformed))
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	users := newFakeUserRepo(user)
	tokens := newFakeTokenStore()
	svc := newTestAuthService(users, tokens, &fakeLimiter{})

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)

	// Replaying the consumed token burns the whole family.
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenReused))

	assert.Equal(t, 0, tokens.countByState(models.RefreshStateActive))
	assert.Equal(t, 1, tokens.countByState(models.RefreshStateCompromised))
	assert.Contains(t, users.auditActions(), models.AuditActionTokenReuse)
}

func TestRefreshExpiredToken(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	tokens := newFakeTokenStore()
	svc := newTestAuthService(newFakeUserRepo(user), tokens, &fakeLimiter{})

	require.NoError(t, tokens.Create(context.Background(), &models.RefreshToken{
		ID:        "rt-old",
		UserID:    user.ID,
		FamilyID:  "rt-old",
		TokenHash: svc.codec.HashToken("stale"),
		IssuedAt:  time.Now().Add(-48 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
		State:     models.RefreshStateActive,
	}))

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenExpired))
	assert.Equal(t, models.RefreshStateExpired, tokens.get("rt-old").State)
}

func TestRefreshInactiveUserRevokesSessions(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	tokens := newFakeTokenStore()
	svc := newTestAuthService(newFakeUserRepo(user), tokens, &fakeLimiter{})

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)

	user.Active = false
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.True(t, appErrors.Is(err, appErrors.ErrInactiveAccount))
	assert.Equal(t, 0, tokens.countByState(models.RefreshStateActive))
}

func TestConcurrentRefreshExactlyOnce(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	tokens := newFakeTokenStore()
	svc := newTestAuthService(newFakeUserRepo(user), tokens, &fakeLimiter{})

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		assert.True(t, appErrors.Is(err, appErrors.ErrTokenReused))
	}
	assert.Equal(t, 1, successes, "exactly one concurrent redemption may win")
}

func TestLogoutRevokesActiveToken(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	tokens := newFakeTokenStore()
	svc := newTestAuthService(newFakeUserRepo(user), tokens, &fakeLimiter{})

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)

	res, err := svc.Logout(context.Background(), user.ID, models.LogoutRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, tokens.countByState(models.RefreshStateRevoked))
}

func TestLogoutAllWhenNoToken(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	tokens := newFakeTokenStore()
	svc := newTestAuthService(newFakeUserRepo(user), tokens, &fakeLimiter{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)

	res, err := svc.Logout(context.Background(), user.ID, models.LogoutRequest{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, tokens.countByState(models.RefreshStateActive))
	assert.Equal(t, 2, tokens.countByState(models.RefreshStateRevoked))
}

func TestLogoutUnknownTokenIsIdempotent(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	svc := newTestAuthService(newFakeUserRepo(user), newFakeTokenStore(), &fakeLimiter{})

	res, err := svc.Logout(context.Background(), user.ID, models.LogoutRequest{RefreshToken: "never-issued"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestLogoutRejectsForeignToken(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	tokens := newFakeTokenStore()
	svc := newTestAuthService(newFakeUserRepo(user), tokens, &fakeLimiter{})

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)

	_, err = svc.Logout(context.Background(), "someone-else", models.LogoutRequest{RefreshToken: login.RefreshToken})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Equal(t, 1, tokens.countByState(models.RefreshStateActive))
}

func TestLogoutRotatedTokenRevokesFamily(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	tokens := newFakeTokenStore()
	svc := newTestAuthService(newFakeUserRepo(user), tokens, &fakeLimiter{})

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)

	// Logging out with the pre-rotation token still ends the session chain.
	res, err := svc.Logout(context.Background(), user.ID, models.LogoutRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, tokens.countByState(models.RefreshStateActive))
}

func TestChangePassword(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	users := newFakeUserRepo(user)
	tokens := newFakeTokenStore()
	svc := newTestAuthService(users, tokens, &fakeLimiter{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{OldPassword: "Str0ng!pass", NewPassword: "N3w!passw0rd"})
	require.NoError(t, err)

	assert.NotEmpty(t, users.passwordUpdates[user.ID])
	assert.Equal(t, 0, tokens.countByState(models.RefreshStateActive))

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "N3w!passw0rd"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestChangePasswordWrongOldPassword(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	svc := newTestAuthService(newFakeUserRepo(user), newFakeTokenStore(), &fakeLimiter{})

	err := svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "N3w!passw0rd"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestChangePasswordWeakNewPassword(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	svc := newTestAuthService(newFakeUserRepo(user), newFakeTokenStore(), &fakeLimiter{})

	err := svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{OldPassword: "Str0ng!pass", NewPassword: "weak"})
	assert.True(t, appErrors.Is(err, appErrors.ErrWeakPassword))
}

func TestValidateTokenWrapper(t *testing.T) {
	user := testUser(t, "Str0ng!pass")
	svc := newTestAuthService(newFakeUserRepo(user), newFakeTokenStore(), &fakeLimiter{})

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "Str0ng!pass"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, err = svc.ValidateToken("garbage")
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}
