package services

import (
	"errors"
	"fmt"
)

// ValidationError represents an unmet step precondition: a required field is
// missing or its validation gate has not resolved to available/verified
type ValidationError struct {
	Field       string   `json:"field"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Suggestions) > 0 {
		return fmt.Sprintf("%s: %s. Suggestions: %v", e.Field, e.Message, e.Suggestions)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, suggestions []string) *ValidationError {
	return &ValidationError{
		Field:       field,
		Message:     message,
		Suggestions: suggestions,
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) (*ValidationError, bool) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr, true
	}
	return nil, false
}

// AgeRestrictionError is returned when the computed age from the supplied
// birth date is below the minimum signup age
type AgeRestrictionError struct {
	MinAge int `json:"min_age"`
	Age    int `json:"age"`
}

func (e *AgeRestrictionError) Error() string {
	return fmt.Sprintf("birthDate: minimum age is %d, computed age is %d", e.MinAge, e.Age)
}

// IsAgeRestrictionError checks if an error is an AgeRestrictionError
func IsAgeRestrictionError(err error) (*AgeRestrictionError, bool) {
	var ageErr *AgeRestrictionError
	if errors.As(err, &ageErr) {
		return ageErr, true
	}
	return nil, false
}

// UnsupportedRegionError is returned when the supplied country is not in the
// supported-region list
type UnsupportedRegionError struct {
	Country string `json:"country"`
}

func (e *UnsupportedRegionError) Error() string {
	return fmt.Sprintf("country: %s is not a supported region", e.Country)
}

// IsUnsupportedRegionError checks if an error is an UnsupportedRegionError
func IsUnsupportedRegionError(err error) (*UnsupportedRegionError, bool) {
	var regionErr *UnsupportedRegionError
	if errors.As(err, &regionErr) {
		return regionErr, true
	}
	return nil, false
}

// CooldownActiveError is returned when a resend is requested before the
// challenge's cooldown window has elapsed
type CooldownActiveError struct {
	Channel          string `json:"channel"`
	SecondsRemaining int    `json:"seconds_remaining"`
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("%s: resend available in %ds", e.Channel, e.SecondsRemaining)
}

// IsCooldownActiveError checks if an error is a CooldownActiveError
func IsCooldownActiveError(err error) (*CooldownActiveError, bool) {
	var cooldownErr *CooldownActiveError
	if errors.As(err, &cooldownErr) {
		return cooldownErr, true
	}
	return nil, false
}

// InvalidCodeError is returned when a submitted OTP code does not match the
// active challenge or the challenge is out of attempts
type InvalidCodeError struct {
	Channel           string `json:"channel"`
	AttemptsRemaining int    `json:"attempts_remaining"`
	Message           string `json:"message"`
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("%s: %s (%d attempts remaining)", e.Channel, e.Message, e.AttemptsRemaining)
}

// IsInvalidCodeError checks if an error is an InvalidCodeError
func IsInvalidCodeError(err error) (*InvalidCodeError, bool) {
	var codeErr *InvalidCodeError
	if errors.As(err, &codeErr) {
		return codeErr, true
	}
	return nil, false
}

// ConflictError represents a resource conflict at creation time, e.g. the
// chosen handle was taken between validation and the creation call
type ConflictError struct {
	Field       string   `json:"field"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Field, e.Message)
}

// NewConflictError creates a new conflict error
func NewConflictError(field, message string) *ConflictError {
	return &ConflictError{
		Field:   field,
		Message: message,
	}
}

// IsConflictError checks if an error is a ConflictError
func IsConflictError(err error) (*ConflictError, bool) {
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return conflictErr, true
	}
	return nil, false
}

// TransientServiceError is a retryable collaborator failure; the session
// stays where it is and the same call may be repeated
type TransientServiceError struct {
	Service string `json:"service"`
	Cause   error  `json:"-"`
}

func (e *TransientServiceError) Error() string {
	return fmt.Sprintf("%s temporarily unavailable: %v", e.Service, e.Cause)
}

func (e *TransientServiceError) Unwrap() error { return e.Cause }

// IsTransientServiceError checks if an error is a TransientServiceError
func IsTransientServiceError(err error) (*TransientServiceError, bool) {
	var transientErr *TransientServiceError
	if errors.As(err, &transientErr) {
		return transientErr, true
	}
	return nil, false
}

// TerminalServiceError is a non-retryable collaborator verdict, e.g. a tax
// ID the verifier permanently rejects
type TerminalServiceError struct {
	Service string `json:"service"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *TerminalServiceError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s rejected %s: %s", e.Service, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// IsTerminalServiceError checks if an error is a TerminalServiceError
func IsTerminalServiceError(err error) (*TerminalServiceError, bool) {
	var terminalErr *TerminalServiceError
	if errors.As(err, &terminalErr) {
		return terminalErr, true
	}
	return nil, false
}
