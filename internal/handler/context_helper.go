package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Leadrat/Quotation-Management-System-sub012/internal/middleware"
	"github.com/Leadrat/Quotation-Management-System-sub012/internal/models"
	"github.com/Leadrat/Quotation-Management-System-sub012/internal/service"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func actionMeta(c *gin.Context) service.ActionMeta {
	return service.ActionMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
