package models

// StartOnboardingRequest starts a new onboarding session
type StartOnboardingRequest struct {
	Variant string `json:"variant" binding:"required,oneof=personal business-retail business-digital"`
}

// SubmitStepRequest submits the current step's field values.
// Values are carried as strings the way the wizard collects them; boolean
// toggles arrive as "true"/"false".
type SubmitStepRequest struct {
	Fields map[string]string `json:"fields" binding:"required"`
}

// GateCheckRequest asks for an availability/validity check on one field
type GateCheckRequest struct {
	Field string `json:"field" binding:"required,oneof=username email taxId"`
	Value string `json:"value" binding:"required"`
}

// OtpVerifyRequest submits a one-time code for a channel
type OtpVerifyRequest struct {
	Channel string `json:"channel" binding:"required,oneof=email phone"`
	Code    string `json:"code" binding:"required"`
}

// OtpResendRequest asks for a fresh code on a channel
type OtpResendRequest struct {
	Channel string `json:"channel" binding:"required,oneof=email phone"`
}
