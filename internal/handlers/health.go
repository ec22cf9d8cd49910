package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"onboarding-service/internal/redis"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db    *gorm.DB
	cache *redis.Client
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *gorm.DB, cache *redis.Client) *HealthHandler {
	return &HealthHandler{
		db:    db,
		cache: cache,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
}

// ServiceInfo represents information about a service component
type ServiceInfo struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health performs a basic health check
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services: map[string]ServiceInfo{
			"service": {Status: "healthy"},
		},
	})
}

// Ready performs a readiness check against the database and Redis
func (h *HealthHandler) Ready(c *gin.Context) {
	response := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
	}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		response.Status = "not_ready"
		response.Services["database"] = ServiceInfo{Status: "unhealthy", Message: err.Error()}
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	response.Services["database"] = ServiceInfo{Status: "healthy"}

	if h.cache != nil {
		if err := h.cache.Ping(c.Request.Context()); err != nil {
			// Drafts and availability caching degrade gracefully without Redis.
			response.Services["redis"] = ServiceInfo{Status: "unhealthy", Message: err.Error()}
		} else {
			response.Services["redis"] = ServiceInfo{Status: "healthy"}
		}
	}

	c.JSON(http.StatusOK, response)
}
