package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Leadrat/Quotation-Management-System-sub012/internal/models"
	"github.com/Leadrat/Quotation-Management-System-sub012/internal/service"
	"github.com/Leadrat/Quotation-Management-System-sub012/pkg/password"
)

func newJWTFixture(t *testing.T) (*service.AuthService, *service.TokenCodec) {
	t.Helper()
	codec := service.NewTokenCodec(service.TokenConfig{
		Secret:            "test-secret",
		Issuer:            "quotation-auth",
		AccessTokenExpiry: time.Hour,
		RefreshExpiry:     24 * time.Hour,
	})
	svc := service.NewAuthService(nil, nil, nil, password.New(4), codec, nil, nil, zap.NewNop(), service.AuthConfig{})
	return svc, codec
}

func newJWTRouter(svc *service.AuthService) (*gin.Engine, *bool) {
	gin.SetMode(gin.TestMode)
	reached := false
	r := gin.New()
	r.GET("/protected", JWT(svc), func(c *gin.Context) {
		reached = true
		claims := c.MustGet(ContextUserKey).(*models.JWTClaims)
		c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID})
	})
	return r, &reached
}

func TestJWTAllowsValidToken(t *testing.T) {
	svc, codec := newJWTFixture(t)
	r, reached := newJWTRouter(svc)

	token, _, err := codec.GenerateAccessToken(&models.User{ID: "u1", Role: models.RoleSales}, time.Now(), "")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *reached)
}

func TestJWTRejectsMissingHeader(t *testing.T) {
	svc, _ := newJWTFixture(t)
	r, reached := newJWTRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *reached)
}

func TestJWTRejectsMalformedHeader(t *testing.T) {
	svc, _ := newJWTFixture(t)
	r, reached := newJWTRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *reached)
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	svc, codec := newJWTFixture(t)
	r, reached := newJWTRouter(svc)

	token, _, err := codec.GenerateAccessToken(&models.User{ID: "u1"}, time.Now().Add(-2*time.Hour), "")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *reached)
}

func TestJWTRejectsForgedToken(t *testing.T) {
	svc, _ := newJWTFixture(t)
	r, reached := newJWTRouter(svc)

	forger := service.NewTokenCodec(service.TokenConfig{Secret: "other-secret", AccessTokenExpiry: time.Hour})
	token, _, err := forger.GenerateAccessToken(&models.User{ID: "u1"}, time.Now(), "")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *reached)
}
