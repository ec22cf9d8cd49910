package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"onboarding-service/internal/models"
	"onboarding-service/internal/services"
)

// OnboardingHandler handles onboarding HTTP requests
type OnboardingHandler struct {
	onboardingService *services.OnboardingService
	sequencer         *services.StepSequencer
}

// NewOnboardingHandler creates a new onboarding handler
func NewOnboardingHandler(onboardingService *services.OnboardingService, sequencer *services.StepSequencer) *OnboardingHandler {
	return &OnboardingHandler{
		onboardingService: onboardingService,
		sequencer:         sequencer,
	}
}

// StartSession starts a new onboarding session
func (h *OnboardingHandler) StartSession(c *gin.Context) {
	var req models.StartOnboardingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	session, err := h.onboardingService.Start(c.Request.Context(), req.Variant)
	if err != nil {
		ServiceErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "Onboarding session started", h.sessionView(session))
}

// GetSession retrieves an onboarding session
func (h *OnboardingHandler) GetSession(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	session, err := h.onboardingService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		ServiceErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Session retrieved", h.sessionView(session))
}

// SubmitStep submits field values for the current step and advances when
// its preconditions hold
func (h *OnboardingHandler) SubmitStep(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req models.SubmitStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	session, err := h.onboardingService.SubmitStep(c.Request.Context(), sessionID, req.Fields)
	if err != nil {
		ServiceErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Step advanced", h.sessionView(session))
}

// Retreat moves the session back one step
func (h *OnboardingHandler) Retreat(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	session, err := h.onboardingService.Retreat(c.Request.Context(), sessionID)
	if err != nil {
		ServiceErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Step retreated", h.sessionView(session))
}

// CheckGate records a candidate identifier for availability checking
func (h *OnboardingHandler) CheckGate(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req models.GateCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	state, err := h.onboardingService.CheckGate(c.Request.Context(), sessionID, req.Field, req.Value)
	if err != nil {
		ServiceErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Check scheduled", gateView(state))
}

// GetGateState reads the current state of one validation gate
func (h *OnboardingHandler) GetGateState(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	field := c.Param("field")
	state := h.onboardingService.GateState(sessionID, field)
	SuccessResponse(c, http.StatusOK, "Gate state retrieved", gateView(state))
}

// VerifyOtp confirms a one-time code for a channel
func (h *OnboardingHandler) VerifyOtp(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req models.OtpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	if err := h.onboardingService.VerifyOtp(c.Request.Context(), sessionID, req.Channel, req.Code); err != nil {
		ServiceErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Channel verified", gin.H{"channel": req.Channel, "verified": true})
}

// ResendOtp issues a fresh code for a channel once its cooldown has elapsed
func (h *OnboardingHandler) ResendOtp(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req models.OtpResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	challenge, err := h.onboardingService.ResendOtp(c.Request.Context(), sessionID, req.Channel)
	if err != nil {
		ServiceErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Code resent", challengeView(challenge))
}

// GetChallenge reads the live challenge state for a channel
func (h *OnboardingHandler) GetChallenge(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	channel := c.Param("channel")
	challenge, found := h.onboardingService.Challenge(sessionID, channel)
	if !found {
		ErrorResponse(c, http.StatusNotFound, "No challenge for this channel", nil)
		return
	}

	SuccessResponse(c, http.StatusOK, "Challenge retrieved", challengeView(&challenge))
}

// Finalize performs the terminal account creation for a completed session
func (h *OnboardingHandler) Finalize(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	result, err := h.onboardingService.Finalize(c.Request.Context(), sessionID)
	if err != nil {
		ServiceErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Account created", result)
}

// Abandon closes a session explicitly
func (h *OnboardingHandler) Abandon(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.onboardingService.Abandon(c.Request.Context(), sessionID); err != nil {
		ServiceErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Session abandoned", nil)
}

func (h *OnboardingHandler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid session ID", err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *OnboardingHandler) sessionView(session *models.OnboardingSession) models.SessionResponse {
	return models.SessionResponse{
		ID:             session.ID,
		Variant:        session.Variant,
		Status:         session.Status,
		CurrentStep:    session.CurrentStep,
		Steps:          h.sequencer.StepsFor(session.Variant),
		CompletedSteps: session.Completed(),
		RequiredFields: h.sequencer.RequiredFields(session, session.CurrentStep),
		FieldValues:    session.Fields(),
		Result:         session.Result(),
		ExpiresAt:      session.ExpiresAt,
	}
}

func gateView(state models.ValidationGateState) models.GateStateResponse {
	return models.GateStateResponse{
		Field:            state.Field,
		Status:           state.Status,
		CandidateValue:   state.CandidateValue,
		LastCheckedValue: state.LastCheckedValue,
		CheckedAt:        state.CheckedAt,
	}
}

func challengeView(challenge *models.OtpChallenge) models.ChallengeResponse {
	return models.ChallengeResponse{
		Channel:           challenge.Channel,
		Destination:       maskDestination(challenge.Channel, challenge.Destination),
		CooldownSeconds:   challenge.CooldownSeconds,
		AttemptsRemaining: challenge.AttemptsRemaining,
		Verified:          challenge.Verified,
		IssuedAt:          challenge.IssuedAt,
	}
}

// maskDestination hides most of an email or phone number before it leaves
// the service
func maskDestination(channel, destination string) string {
	if channel == models.ChannelEmail {
		at := strings.LastIndex(destination, "@")
		if at <= 1 {
			return destination
		}
		return destination[:1] + strings.Repeat("*", at-1) + destination[at:]
	}
	if len(destination) <= 4 {
		return destination
	}
	return strings.Repeat("*", len(destination)-4) + destination[len(destination)-4:]
}
