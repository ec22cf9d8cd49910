package models

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse represents the standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError represents an API error
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// SessionResponse is the external view of an onboarding session
type SessionResponse struct {
	ID             uuid.UUID         `json:"id"`
	Variant        string            `json:"variant"`
	Status         string            `json:"status"`
	CurrentStep    string            `json:"current_step"`
	Steps          []string          `json:"steps"`
	CompletedSteps []string          `json:"completed_steps"`
	RequiredFields []string          `json:"required_fields"`
	FieldValues    map[string]string `json:"field_values"`
	Result         *CreationResult   `json:"result,omitempty"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

// GateStateResponse is the external view of a validation gate
type GateStateResponse struct {
	Field            string     `json:"field"`
	Status           string     `json:"status"`
	CandidateValue   string     `json:"candidate_value"`
	LastCheckedValue string     `json:"last_checked_value,omitempty"`
	CheckedAt        *time.Time `json:"checked_at,omitempty"`
}

// ChallengeResponse is the external view of an OTP challenge.
// Destination is masked before it leaves the service.
type ChallengeResponse struct {
	Channel           string    `json:"channel"`
	Destination       string    `json:"destination"`
	CooldownSeconds   int       `json:"cooldown_seconds"`
	AttemptsRemaining int       `json:"attempts_remaining"`
	Verified          bool      `json:"verified"`
	IssuedAt          time.Time `json:"issued_at"`
}
