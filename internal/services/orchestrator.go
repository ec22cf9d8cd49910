package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"onboarding-service/internal/clients"
	"onboarding-service/internal/config"
	"onboarding-service/internal/events"
	"onboarding-service/internal/models"
	"onboarding-service/internal/redis"
	"onboarding-service/pkg/handle"
)

// SessionStore is the persistence surface the orchestrator needs
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.OnboardingSession) (*models.OnboardingSession, error)
	GetSessionByID(ctx context.Context, id uuid.UUID, includeRelations []string) (*models.OnboardingSession, error)
	UpdateSession(ctx context.Context, session *models.OnboardingSession) (*models.OnboardingSession, error)
}

// AccountCreator is the terminal creation interface of the account backend
type AccountCreator interface {
	CreateAccount(ctx context.Context, payload *models.AccountCreationRequest) (*clients.CreateAccountResponse, error)
	CreateVendor(ctx context.Context, payload *models.VendorCreationRequest) (*clients.CreateVendorResponse, error)
}

// TaxVerifier validates business tax identifiers before vendor creation
type TaxVerifier interface {
	VerifyTaxID(ctx context.Context, taxID, businessName string, address models.Address) (*clients.VerifyTaxIDResponse, error)
}

// retryConfig controls exponential backoff for terminal creation calls
type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// OnboardingService drives a session through its step sequence and performs
// the exactly-once terminal creation call when the sequence completes.
type OnboardingService struct {
	cfg       config.OnboardingConfig
	repo      SessionStore
	sequencer *StepSequencer
	gates     *GateService
	otps      *OtpService
	accounts  AccountCreator
	tax       TaxVerifier
	handles   *handle.Generator
	cache     *redis.Client
	publisher *events.Publisher
	logger    *logrus.Entry
	retryCfg  retryConfig

	// one finalize at a time per session
	finalizeMu sync.Map
}

// NewOnboardingService wires the orchestrator. cache, publisher and tax may
// be nil (tax only for personal-only deployments).
func NewOnboardingService(
	cfg config.OnboardingConfig,
	repo SessionStore,
	sequencer *StepSequencer,
	gates *GateService,
	otps *OtpService,
	accounts AccountCreator,
	tax TaxVerifier,
	cache *redis.Client,
	publisher *events.Publisher,
	logger *logrus.Logger,
) *OnboardingService {
	return &OnboardingService{
		cfg:       cfg,
		repo:      repo,
		sequencer: sequencer,
		gates:     gates,
		otps:      otps,
		accounts:  accounts,
		tax:       tax,
		handles:   handle.NewGenerator(cfg.MinHandleLength, cfg.MaxHandleLength),
		cache:     cache,
		publisher: publisher,
		logger:    logger.WithField("component", "onboarding_service"),
		retryCfg:  defaultRetryConfig(),
	}
}

// Start opens a new session for a variant, positioned on its first step
func (s *OnboardingService) Start(ctx context.Context, variant string) (*models.OnboardingSession, error) {
	steps := s.sequencer.StepsFor(variant)
	if len(steps) == 0 {
		return nil, &ValidationError{Field: "variant", Message: fmt.Sprintf("unknown onboarding variant: %s", variant)}
	}

	session := &models.OnboardingSession{
		ID:          uuid.New(),
		Variant:     variant,
		Status:      models.SessionStatusInProgress,
		CurrentStep: steps[0],
	}
	session.SetFields(map[string]string{})
	session.SetCompleted(nil)

	session, err := s.repo.CreateSession(ctx, session)
	if err != nil {
		return nil, err
	}

	sessionsStarted.WithLabelValues(variant).Inc()
	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"variant":    variant,
	}).Info("Onboarding session started")

	s.saveDraft(ctx, session)
	return session, nil
}

// GetSession loads a session and enforces its expiry
func (s *OnboardingService) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.OnboardingSession, error) {
	session, err := s.repo.GetSessionByID(ctx, sessionID, []string{"gate_states", "challenges"})
	if err != nil {
		return nil, err
	}

	if session.IsExpired() && session.Status != models.SessionStatusCreated {
		if session.Status != models.SessionStatusAbandoned {
			session.Status = models.SessionStatusAbandoned
			if _, err := s.repo.UpdateSession(ctx, session); err != nil {
				s.logger.WithError(err).Warn("Failed to mark expired session abandoned")
			}
		}
		return nil, &ValidationError{Field: "session", Message: "onboarding session has expired"}
	}

	return session, nil
}

// SubmitStep merges field values into the session, recomputes derived fields
// and advances to the next step when every precondition of the current step
// holds. Fields may be submitted without advancing only if preconditions
// fail, in which case the typed error says which.
func (s *OnboardingService) SubmitStep(ctx context.Context, sessionID uuid.UUID, submitted map[string]string) (*models.OnboardingSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusInProgress {
		return nil, &ValidationError{Field: "session", Message: fmt.Sprintf("session is %s, no further steps accepted", session.Status)}
	}

	fields := session.Fields()
	for name, value := range submitted {
		fields[name] = value
	}
	session.SetFields(fields)
	s.sequencer.ApplyDerivedFields(session)

	if err := s.sequencer.Advance(session); err != nil {
		// Submitted values are kept even when the step cannot advance.
		if _, saveErr := s.repo.UpdateSession(ctx, session); saveErr != nil {
			s.logger.WithError(saveErr).Warn("Failed to save partial step submission")
		}
		s.saveDraft(ctx, session)
		return session, err
	}

	session, err = s.repo.UpdateSession(ctx, session)
	if err != nil {
		return nil, err
	}
	s.saveDraft(ctx, session)

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"step":       session.CurrentStep,
		"status":     session.Status,
	}).Info("Session advanced")

	// Landing on a verification step issues its challenges eagerly so the
	// code is already in flight when the user arrives.
	s.issueChallengesForStep(ctx, session)

	return session, nil
}

// Retreat moves the session back one step without losing entered values
func (s *OnboardingService) Retreat(ctx context.Context, sessionID uuid.UUID) (*models.OnboardingSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionStatusCreated || session.Status == models.SessionStatusAbandoned {
		return nil, &ValidationError{Field: "session", Message: fmt.Sprintf("cannot retreat a %s session", session.Status)}
	}

	if err := s.sequencer.Retreat(session); err != nil {
		return nil, err
	}

	session, err = s.repo.UpdateSession(ctx, session)
	if err != nil {
		return nil, err
	}
	s.saveDraft(ctx, session)
	return session, nil
}

// CheckGate records a candidate identifier for a gated field and returns the
// immediate gate state; asynchronous resolution is read back via GateState.
func (s *OnboardingService) CheckGate(ctx context.Context, sessionID uuid.UUID, field, value string) (models.ValidationGateState, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return models.ValidationGateState{}, err
	}

	switch field {
	case models.GateFieldUsername, models.GateFieldEmail, models.GateFieldTaxID:
	default:
		return models.ValidationGateState{}, &ValidationError{Field: "field", Message: fmt.Sprintf("field %s is not gated", field)}
	}

	return s.gates.Check(sessionID, field, value, models.IsBusinessVariant(session.Variant)), nil
}

// GateState returns the current gate state for a field
func (s *OnboardingService) GateState(sessionID uuid.UUID, field string) models.ValidationGateState {
	return s.gates.State(sessionID, field)
}

// VerifyOtp confirms a submitted code for a channel
func (s *OnboardingService) VerifyOtp(ctx context.Context, sessionID uuid.UUID, channel, code string) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}
	return s.otps.Verify(ctx, sessionID, channel, code)
}

// ResendOtp supersedes the live challenge for a channel with a fresh one
func (s *OnboardingService) ResendOtp(ctx context.Context, sessionID uuid.UUID, channel string) (*models.OtpChallenge, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.otps.Resend(ctx, sessionID, channel)
}

// Challenge returns a snapshot of the live challenge for a channel
func (s *OnboardingService) Challenge(sessionID uuid.UUID, channel string) (models.OtpChallenge, bool) {
	return s.otps.Challenge(sessionID, channel)
}

// Abandon closes a session explicitly and releases its transient state
func (s *OnboardingService) Abandon(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.repo.GetSessionByID(ctx, sessionID, nil)
	if err != nil {
		return err
	}
	if session.Status == models.SessionStatusCreated {
		return &ValidationError{Field: "session", Message: "cannot abandon a completed session"}
	}
	if session.Status == models.SessionStatusAbandoned {
		return nil
	}

	session.Status = models.SessionStatusAbandoned
	if _, err := s.repo.UpdateSession(ctx, session); err != nil {
		return err
	}

	s.gates.ClearSession(sessionID)
	s.otps.ClearSession(sessionID)
	s.deleteDraft(ctx, sessionID)
	s.finalizeMu.Delete(sessionID)

	if s.publisher != nil {
		event := &events.SessionAbandonedEvent{
			SessionID: sessionID.String(),
			Variant:   session.Variant,
			LastStep:  session.CurrentStep,
		}
		if err := s.publisher.PublishSessionAbandoned(ctx, event); err != nil {
			s.logger.WithError(err).Warn("Failed to publish session abandoned event")
		}
	}

	return nil
}

// Finalize performs the terminal creation call for a session that has
// completed its sequence. Repeated calls replay the stored result; the
// backing creation happens at most once per session.
func (s *OnboardingService) Finalize(ctx context.Context, sessionID uuid.UUID) (*models.CreationResult, error) {
	lock, _ := s.finalizeMu.LoadOrStore(sessionID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if result := session.Result(); result != nil {
		return result, nil
	}
	if session.Status != models.SessionStatusAwaitingCreation {
		return nil, &ValidationError{Field: "session", Message: fmt.Sprintf("session is %s, not awaiting creation", session.Status)}
	}

	var result *models.CreationResult
	if models.IsBusinessVariant(session.Variant) {
		result, err = s.createVendor(ctx, session)
	} else {
		result, err = s.createAccount(ctx, session)
	}
	if err != nil {
		return nil, err
	}

	session.Status = models.SessionStatusCreated
	session.TerminalResult = models.MustNewJSONB(result)
	if _, err := s.repo.UpdateSession(ctx, session); err != nil {
		// The account exists; failing the call now would trigger a retry
		// against an already-created account. Log and return the result.
		s.logger.WithError(err).WithField("session_id", sessionID).
			Error("Failed to record creation result, replay protection degraded")
	}

	sessionsCompleted.WithLabelValues(session.Variant).Inc()
	s.gates.ClearSession(sessionID)
	s.otps.ClearSession(sessionID)
	s.deleteDraft(ctx, sessionID)
	s.publishCreated(session, result)

	// Later callers replay the stored result, so the per-session lock is no
	// longer needed.
	s.finalizeMu.Delete(sessionID)

	return result, nil
}

func (s *OnboardingService) createAccount(ctx context.Context, session *models.OnboardingSession) (*models.CreationResult, error) {
	fields := session.Fields()

	// A chosen username is normalized to the handle charset; when nothing
	// valid survives normalization the handle is derived instead.
	handleValue := s.handles.Normalize(fields["username"])
	if !s.handles.IsValid(handleValue) {
		handleValue = s.handles.Derive(fields["firstName"]+fields["lastName"], fields["email"])
	}

	passwordHash, err := s.hashPassword(fields["password"])
	if err != nil {
		return nil, err
	}

	payload := &models.AccountCreationRequest{
		SessionID: session.ID,
		FirstName: fields["firstName"],
		LastName:  fields["lastName"],
		BirthDate: fields["birthDate"],
		Gender:    fields["gender"],
		Handle:    handleValue,
		Email:     fields["email"],
		Address: models.Address{
			Street:     fields["street"],
			City:       fields["city"],
			State:      fields["state"],
			PostalCode: fields["postalCode"],
			Country:    fields["country"],
		},
		PasswordHash: passwordHash,
		ReferralCode: fields["referralCode"],
		TermsVersion: fields["termsVersion"],
	}

	created, err := retryTransient(ctx, s.retryCfg, "account creation", s.logger, func() (*clients.CreateAccountResponse, error) {
		resp, err := s.accounts.CreateAccount(ctx, payload)
		if err != nil {
			return nil, s.classifyCreationError("accounts", "username", handleValue, err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	return &models.CreationResult{
		AccountID: created.ID,
		Handle:    created.Handle,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (s *OnboardingService) createVendor(ctx context.Context, session *models.OnboardingSession) (*models.CreationResult, error) {
	fields := session.Fields()

	businessAddress := models.Address{
		Street:     fields["street"],
		City:       fields["city"],
		State:      fields["state"],
		PostalCode: fields["postalCode"],
		Country:    fields["country"],
	}

	// Tax verification gates vendor creation. A rejection is terminal; only
	// transport failures are retried.
	verdict, err := retryTransient(ctx, s.retryCfg, "tax verification", s.logger, func() (*clients.VerifyTaxIDResponse, error) {
		resp, err := s.tax.VerifyTaxID(ctx, fields["taxId"], fields["businessName"], businessAddress)
		if err != nil {
			return nil, s.classifyCreationError("tax", "taxId", "", err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	if !verdict.Verified {
		return nil, &TerminalServiceError{Service: "tax", Field: "taxId", Message: verdict.Message}
	}

	handleValue := s.handles.Derive(fields["businessName"], fields["email"])

	payload := &models.VendorCreationRequest{
		SessionID:       session.ID,
		BusinessName:    fields["businessName"],
		TaxID:           fields["taxId"],
		ContactEmail:    fields["email"],
		ContactPhone:    fields["phone"],
		Handle:          handleValue,
		StoreType:       fields["storeType"],
		BusinessAddress: businessAddress,
		BundledHardware: isToggleOn(fields["bundledHardware"]),
		TermsVersion:    fields["termsVersion"],
	}

	if payload.BundledHardware {
		payload.BillingAddress = &models.Address{
			Street:     fields["billingStreet"],
			City:       fields["billingCity"],
			State:      fields["billingState"],
			PostalCode: fields["billingPostalCode"],
			Country:    fields["country"],
		}
		payload.DeliveryAddress = &models.Address{
			Street:     fields["deliveryStreet"],
			City:       fields["deliveryCity"],
			State:      fields["deliveryState"],
			PostalCode: fields["deliveryPostalCode"],
			Country:    fields["country"],
		}
	}

	created, err := retryTransient(ctx, s.retryCfg, "vendor creation", s.logger, func() (*clients.CreateVendorResponse, error) {
		resp, err := s.accounts.CreateVendor(ctx, payload)
		if err != nil {
			return nil, s.classifyCreationError("accounts", "businessName", handleValue, err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	return &models.CreationResult{
		VendorID:  created.VendorID,
		Handle:    created.Handle,
		StoreURL:  created.StoreURL,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// issueChallengesForStep eagerly issues the OTP challenges a verification
// step needs. Personal flow verifies email; business flows verify email and
// phone independently.
func (s *OnboardingService) issueChallengesForStep(ctx context.Context, session *models.OnboardingSession) {
	fields := session.Fields()

	switch session.CurrentStep {
	case StepOtp:
		if _, err := s.otps.Issue(ctx, session.ID, models.ChannelEmail, fields["email"]); err != nil {
			s.logger.WithError(err).WithField("session_id", session.ID).Warn("Failed to issue email challenge")
		}
	case StepOtpVerification:
		if _, err := s.otps.Issue(ctx, session.ID, models.ChannelEmail, fields["email"]); err != nil {
			s.logger.WithError(err).WithField("session_id", session.ID).Warn("Failed to issue email challenge")
		}
		if _, err := s.otps.Issue(ctx, session.ID, models.ChannelPhone, fields["phone"]); err != nil {
			s.logger.WithError(err).WithField("session_id", session.ID).Warn("Failed to issue phone challenge")
		}
	}
}

// classifyCreationError maps a collaborator failure onto the service error
// taxonomy. Identifier collisions surface as conflicts with suggestions;
// other rejections are terminal; transport failures are retryable.
func (s *OnboardingService) classifyCreationError(service, field, handleValue string, err error) error {
	if reqErr, ok := clients.IsRequestError(err); ok {
		if reqErr.StatusCode == 409 {
			conflictField := field
			if reqErr.Field != "" {
				conflictField = reqErr.Field
			}
			conflict := &ConflictError{Field: conflictField, Message: reqErr.Message}
			if handleValue != "" {
				conflict.Suggestions = s.handles.Suggest(handleValue, 3)
			}
			return conflict
		}
		if reqErr.StatusCode >= 400 && reqErr.StatusCode < 500 {
			return &TerminalServiceError{Service: service, Field: reqErr.Field, Message: reqErr.Message}
		}
	}
	return &TransientServiceError{Service: service, Cause: err}
}

func (s *OnboardingService) hashPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *OnboardingService) publishCreated(session *models.OnboardingSession, result *models.CreationResult) {
	if s.publisher == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var err error
		if models.IsBusinessVariant(session.Variant) {
			err = s.publisher.PublishVendorCreated(ctx, &events.VendorCreatedEvent{
				SessionID: session.ID.String(),
				VendorID:  result.VendorID,
				Handle:    result.Handle,
				StoreURL:  result.StoreURL,
				StoreType: session.Fields()["storeType"],
			})
		} else {
			err = s.publisher.PublishAccountCreated(ctx, &events.AccountCreatedEvent{
				SessionID: session.ID.String(),
				AccountID: result.AccountID,
				Handle:    result.Handle,
			})
		}
		if err != nil {
			s.logger.WithError(err).WithField("session_id", session.ID).Warn("Failed to publish creation event")
		}

		if err := s.publisher.PublishSessionCompleted(ctx, &events.SessionCompletedEvent{
			SessionID: session.ID.String(),
			Variant:   session.Variant,
		}); err != nil {
			s.logger.WithError(err).WithField("session_id", session.ID).Warn("Failed to publish session completed event")
		}
	}()
}

func (s *OnboardingService) saveDraft(ctx context.Context, session *models.OnboardingSession) {
	if s.cache == nil {
		return
	}

	draft := &redis.DraftData{
		SessionID:   session.ID.String(),
		Variant:     session.Variant,
		CurrentStep: session.CurrentStep,
		FieldValues: session.Fields(),
		LastSavedAt: time.Now().UTC(),
	}
	if err := s.cache.SaveDraft(ctx, session.ID.String(), draft, s.cfg.DraftTTL); err != nil {
		s.logger.WithError(err).Debug("Failed to save draft snapshot")
	}
}

func (s *OnboardingService) deleteDraft(ctx context.Context, sessionID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteDraft(ctx, sessionID.String()); err != nil {
		s.logger.WithError(err).Debug("Failed to delete draft snapshot")
	}
}

// retryTransient executes an operation with exponential backoff, retrying
// only transient failures. Conflicts and terminal rejections return
// immediately.
func retryTransient[T any](ctx context.Context, cfg retryConfig, operation string, logger *logrus.Entry, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}
		if _, ok := IsTransientServiceError(lastErr); !ok {
			return result, lastErr
		}

		logger.WithError(lastErr).WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempt,
			"max":       cfg.maxAttempts,
		}).Warn("Operation failed, will retry")

		if attempt < cfg.maxAttempts {
			delay := time.Duration(float64(cfg.baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > cfg.maxDelay {
				delay = cfg.maxDelay
			}

			select {
			case <-ctx.Done():
				return result, fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return result, lastErr
}
