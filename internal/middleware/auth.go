package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"onboarding-service/internal/models"
)

// APIKeyAuth validates the shared API key for inter-service calls. The key
// arrives in X-API-Key or as an Authorization bearer token.
func APIKeyAuth(validAPIKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				apiKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if apiKey == "" {
			unauthorized(c, "API key is required")
			return
		}
		if apiKey != validAPIKey {
			unauthorized(c, "Invalid API key")
			return
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.APIResponse{
		Success: false,
		Message: message,
		Error: &models.APIError{
			Code:    "UNAUTHORIZED",
			Message: message,
		},
	})
}
