package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/tutorhive/tutorhive-api/internal/middleware"
	"github.com/tutorhive/tutorhive-api/internal/models"
)

// claimsFromContext returns the verified token claims stored by the JWT
// middleware, or nil when the request was not authenticated.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	v, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*models.JWTClaims)
	return claims
}
