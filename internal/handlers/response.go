package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"onboarding-service/internal/models"
	"onboarding-service/internal/services"
)

// SuccessResponse sends a success response
func SuccessResponse(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, models.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse sends an error response
func ErrorResponse(c *gin.Context, status int, message string, err error) {
	apiError := &models.APIError{
		Code:    "ERROR",
		Message: message,
	}
	if err != nil {
		apiError.Details = err.Error()
	}

	c.JSON(status, models.APIResponse{
		Success: false,
		Message: message,
		Error:   apiError,
	})
}

// ServiceErrorResponse maps a typed service error onto an HTTP status and
// error code. Unclassified errors fall through as 500.
func ServiceErrorResponse(c *gin.Context, err error) {
	if vErr, ok := services.IsValidationError(err); ok {
		respond(c, http.StatusUnprocessableEntity, &models.APIError{
			Code:    "VALIDATION_FAILED",
			Message: vErr.Message,
			Field:   vErr.Field,
		})
		return
	}
	if ageErr, ok := services.IsAgeRestrictionError(err); ok {
		respond(c, http.StatusUnprocessableEntity, &models.APIError{
			Code:    "AGE_RESTRICTED",
			Message: ageErr.Error(),
			Field:   "birthDate",
		})
		return
	}
	if regionErr, ok := services.IsUnsupportedRegionError(err); ok {
		respond(c, http.StatusUnprocessableEntity, &models.APIError{
			Code:    "UNSUPPORTED_REGION",
			Message: regionErr.Error(),
			Field:   "country",
		})
		return
	}
	if coolErr, ok := services.IsCooldownActiveError(err); ok {
		respond(c, http.StatusTooManyRequests, &models.APIError{
			Code:    "COOLDOWN_ACTIVE",
			Message: coolErr.Error(),
		})
		return
	}
	if codeErr, ok := services.IsInvalidCodeError(err); ok {
		respond(c, http.StatusUnprocessableEntity, &models.APIError{
			Code:    "INVALID_CODE",
			Message: codeErr.Error(),
		})
		return
	}
	if conflictErr, ok := services.IsConflictError(err); ok {
		response := models.APIResponse{
			Success: false,
			Message: conflictErr.Message,
			Error: &models.APIError{
				Code:    "CONFLICT",
				Message: conflictErr.Message,
				Field:   conflictErr.Field,
			},
		}
		if len(conflictErr.Suggestions) > 0 {
			response.Data = gin.H{"suggestions": conflictErr.Suggestions}
		}
		c.JSON(http.StatusConflict, response)
		return
	}
	if termErr, ok := services.IsTerminalServiceError(err); ok {
		respond(c, http.StatusBadGateway, &models.APIError{
			Code:    "CREATION_REJECTED",
			Message: termErr.Error(),
			Field:   termErr.Field,
		})
		return
	}
	if _, ok := services.IsTransientServiceError(err); ok {
		respond(c, http.StatusServiceUnavailable, &models.APIError{
			Code:    "SERVICE_UNAVAILABLE",
			Message: "A dependent service is temporarily unavailable, please retry",
		})
		return
	}

	ErrorResponse(c, http.StatusInternalServerError, "Internal error", err)
}

func respond(c *gin.Context, status int, apiError *models.APIError) {
	c.JSON(status, models.APIResponse{
		Success: false,
		Message: apiError.Message,
		Error:   apiError,
	})
}
