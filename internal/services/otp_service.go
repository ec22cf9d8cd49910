package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"onboarding-service/internal/clients"
	"onboarding-service/internal/config"
	"onboarding-service/internal/models"
	"onboarding-service/internal/repository"
	"onboarding-service/pkg/otp"
)

const otpCodeLength = 6

// OtpIssuer is the remote verifier interface for issuing and confirming codes
type OtpIssuer interface {
	IssueOtp(ctx context.Context, channel, destination string) (*clients.IssueOtpResponse, error)
	ConfirmOtp(ctx context.Context, challengeID, code string) (bool, error)
}

type otpKey struct {
	sessionID uuid.UUID
	channel   string
}

type activeChallenge struct {
	challenge models.OtpChallenge
	stop      chan struct{}
}

// OtpService owns the one-time-code challenges of a session. Each channel
// (email, phone) carries at most one live challenge; resending supersedes the
// prior challenge and restarts the cooldown.
type OtpService struct {
	cfg    config.OnboardingConfig
	client OtpIssuer
	repo   *repository.SessionRepository
	logger *logrus.Entry

	mu     sync.Mutex
	active map[otpKey]*activeChallenge
}

// NewOtpService creates an OTP challenge manager. repo may be nil.
func NewOtpService(cfg config.OnboardingConfig, client OtpIssuer, repo *repository.SessionRepository, logger *logrus.Logger) *OtpService {
	return &OtpService{
		cfg:    cfg,
		client: client,
		repo:   repo,
		logger: logger.WithField("component", "otp_service"),
		active: map[otpKey]*activeChallenge{},
	}
}

// Issue creates a challenge for a channel if none is live yet. Re-entering
// the verification step with the same destination reuses the existing
// challenge instead of spending another remote issuance; a changed
// destination supersedes the old challenge, since its code no longer proves
// possession of the address the session will be created with.
func (s *OtpService) Issue(ctx context.Context, sessionID uuid.UUID, channel, destination string) (*models.OtpChallenge, error) {
	s.mu.Lock()
	key := otpKey{sessionID: sessionID, channel: channel}
	if existing, ok := s.active[key]; ok && !existing.challenge.Superseded {
		if existing.challenge.Destination == destination {
			snapshot := existing.challenge
			s.mu.Unlock()
			return &snapshot, nil
		}
		s.supersedeLocked(key, existing)
	}
	s.mu.Unlock()

	return s.issue(ctx, sessionID, channel, destination)
}

// Resend supersedes the live challenge for a channel with a fresh one.
// Rejected with CooldownActiveError while the current cooldown is running.
func (s *OtpService) Resend(ctx context.Context, sessionID uuid.UUID, channel string) (*models.OtpChallenge, error) {
	s.mu.Lock()
	key := otpKey{sessionID: sessionID, channel: channel}
	existing, ok := s.active[key]
	if !ok {
		s.mu.Unlock()
		return nil, &ValidationError{Field: "channel", Message: "no challenge to resend for this channel"}
	}
	if existing.challenge.CooldownSeconds > 0 {
		err := &CooldownActiveError{Channel: channel, SecondsRemaining: existing.challenge.CooldownSeconds}
		s.mu.Unlock()
		return nil, err
	}

	destination := existing.challenge.Destination
	s.supersedeLocked(key, existing)
	s.mu.Unlock()

	return s.issue(ctx, sessionID, channel, destination)
}

// Verify confirms a submitted code against the live challenge for a channel.
// Verifying an already-verified channel is a no-op success.
func (s *OtpService) Verify(ctx context.Context, sessionID uuid.UUID, channel, code string) error {
	s.mu.Lock()
	entry, ok := s.active[otpKey{sessionID: sessionID, channel: channel}]
	if !ok {
		s.mu.Unlock()
		return &InvalidCodeError{Channel: channel, Message: "no active challenge for this channel"}
	}
	if entry.challenge.Verified {
		s.mu.Unlock()
		return nil
	}
	if entry.challenge.AttemptsRemaining <= 0 {
		s.mu.Unlock()
		return &InvalidCodeError{Channel: channel, AttemptsRemaining: 0, Message: "no attempts remaining, request a new code"}
	}
	remoteID := entry.challenge.RemoteChallengeID
	s.mu.Unlock()

	code = otp.NormalizeCode(code)
	confirmed := false
	if otp.ValidFormat(code, otpCodeLength) {
		var err error
		confirmed, err = s.client.ConfirmOtp(ctx, remoteID, code)
		if err != nil {
			return &TransientServiceError{Service: "verification", Cause: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The challenge may have been superseded while the confirmation was in
	// flight; a stale code never verifies the new challenge.
	entry, ok = s.active[otpKey{sessionID: sessionID, channel: channel}]
	if !ok || entry.challenge.RemoteChallengeID != remoteID {
		return &InvalidCodeError{Channel: channel, Message: "challenge expired, request a new code"}
	}

	if !confirmed {
		entry.challenge.AttemptsRemaining--
		s.persist(entry.challenge)
		return &InvalidCodeError{
			Channel:           channel,
			AttemptsRemaining: entry.challenge.AttemptsRemaining,
			Message:           "incorrect code",
		}
	}

	now := time.Now()
	entry.challenge.Verified = true
	entry.challenge.VerifiedAt = &now
	s.stopTicker(entry)
	s.persist(entry.challenge)
	return nil
}

// ChannelVerified implements ChallengeView
func (s *OtpService) ChannelVerified(sessionID uuid.UUID, channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.active[otpKey{sessionID: sessionID, channel: channel}]
	return ok && entry.challenge.Verified
}

// Challenge returns a snapshot of the live challenge for a channel
func (s *OtpService) Challenge(sessionID uuid.UUID, channel string) (models.OtpChallenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.active[otpKey{sessionID: sessionID, channel: channel}]
	if !ok {
		return models.OtpChallenge{}, false
	}
	return entry.challenge, true
}

// ClearSession drops all challenges for a session and stops their cooldowns
func (s *OtpService) ClearSession(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.active {
		if key.sessionID == sessionID {
			s.stopTicker(entry)
			delete(s.active, key)
		}
	}
}

func (s *OtpService) issue(ctx context.Context, sessionID uuid.UUID, channel, destination string) (*models.OtpChallenge, error) {
	issued, err := s.client.IssueOtp(ctx, channel, destination)
	if err != nil {
		if reqErr, ok := clients.IsRequestError(err); ok && reqErr.StatusCode < 500 {
			return nil, &TerminalServiceError{Service: "verification", Message: reqErr.Message}
		}
		return nil, &TransientServiceError{Service: "verification", Cause: err}
	}

	challenge := models.OtpChallenge{
		ID:                uuid.New(),
		SessionID:         sessionID,
		Channel:           channel,
		Destination:       destination,
		RemoteChallengeID: issued.ChallengeID,
		CooldownSeconds:   s.cfg.OTPCooldownSeconds,
		AttemptsRemaining: s.cfg.OTPMaxAttempts,
		IssuedAt:          time.Now(),
	}

	s.mu.Lock()
	key := otpKey{sessionID: sessionID, channel: channel}
	if prior, ok := s.active[key]; ok {
		s.supersedeLocked(key, prior)
	}
	entry := &activeChallenge{challenge: challenge, stop: make(chan struct{})}
	s.active[key] = entry
	s.persist(entry.challenge)
	go s.runCooldown(key, entry.stop)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"channel":    channel,
	}).Info("OTP challenge issued")

	return &challenge, nil
}

// runCooldown counts the challenge cooldown down to zero, one tick at a time
func (s *OtpService) runCooldown(key otpKey, stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.OTPTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			entry, ok := s.active[key]
			if !ok || entry.stop != stop {
				s.mu.Unlock()
				return
			}
			if entry.challenge.CooldownSeconds > 0 {
				entry.challenge.CooldownSeconds--
			}
			done := entry.challenge.CooldownSeconds == 0
			s.mu.Unlock()
			if done {
				return
			}
		}
	}
}

func (s *OtpService) supersedeLocked(key otpKey, entry *activeChallenge) {
	s.stopTicker(entry)
	entry.challenge.Superseded = true
	s.persist(entry.challenge)
	delete(s.active, key)
}

func (s *OtpService) stopTicker(entry *activeChallenge) {
	select {
	case <-entry.stop:
	default:
		close(entry.stop)
	}
}

func (s *OtpService) persist(challenge models.OtpChallenge) {
	if s.repo == nil {
		return
	}
	go func(snapshot models.OtpChallenge) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.SaveChallenge(ctx, &snapshot); err != nil {
			s.logger.WithError(err).Debug("Failed to persist OTP challenge")
		}
	}(challenge)
}
