package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/Leadrat/Quotation-Management-System-sub012/internal/models"
)

func setClaims(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
		c.Next()
	}
}

func capRouter(claims *models.JWTClaims, mw gin.HandlerFunc) (*gin.Engine, *bool) {
	gin.SetMode(gin.TestMode)
	reached := false
	r := gin.New()
	r.GET("/users/:id", setClaims(claims), mw, func(c *gin.Context) {
		reached = true
		c.Status(http.StatusOK)
	})
	return r, &reached
}

func TestRequireCapabilityGranted(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin}
	r, reached := capRouter(claims, RequireCapability(models.CapabilityUsersManage))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u2", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *reached)
}

func TestRequireCapabilityDenied(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u1", Role: models.RoleSales}
	r, reached := capRouter(claims, RequireCapability(models.CapabilityUsersManage))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u2", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, *reached)
}

func TestRequireCapabilityNoClaims(t *testing.T) {
	r, reached := capRouter(nil, RequireCapability(models.CapabilityUsersRead))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u2", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *reached)
}

func TestRequireCapabilityUnknownCapabilityDeniesEveryone(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin}
	r, reached := capRouter(claims, RequireCapability(models.Capability("documents:sign")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u2", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, *reached)
}

func TestRequireCapabilityOrSelfAllowsOwnRecord(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u1", Role: models.RoleSales}
	r, reached := capRouter(claims, RequireCapabilityOrSelf(models.CapabilityUsersRead))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *reached)
}

func TestRequireCapabilityOrSelfDeniesOtherRecord(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u1", Role: models.RoleSales}
	r, reached := capRouter(claims, RequireCapabilityOrSelf(models.CapabilityUsersRead))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u2", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, *reached)
}

func TestRequireCapabilityOrSelfManagerReadsAnyRecord(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u1", Role: models.RoleManager}
	r, reached := capRouter(claims, RequireCapabilityOrSelf(models.CapabilityUsersRead))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u2", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *reached)
}
