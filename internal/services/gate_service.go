package services

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"onboarding-service/internal/config"
	"onboarding-service/internal/models"
	"onboarding-service/internal/redis"
	"onboarding-service/internal/repository"
)

// emailShape is the minimal local@domain.tld shape a candidate must have
// before an availability check is worth issuing
var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// AvailabilityChecker is the remote verifier interface the gate service
// queries for identifier availability
type AvailabilityChecker interface {
	CheckAvailable(ctx context.Context, field, value string) (bool, error)
}

type gateKey struct {
	sessionID uuid.UUID
	field     string
}

type gateEntry struct {
	state      models.ValidationGateState
	generation uint64
	timer      *time.Timer
}

// GateService decides whether a candidate identifier is usable without
// re-querying on every keystroke. Checks are debounced by value; a resolved
// check is discarded if a newer check for the same field has since been
// issued (last-value-wins, not last-to-resolve-wins).
type GateService struct {
	cfg     config.OnboardingConfig
	checker AvailabilityChecker
	cache   *redis.Client
	repo    *repository.SessionRepository
	logger  *logrus.Entry

	mu      sync.Mutex
	entries map[gateKey]*gateEntry
}

// NewGateService creates a gate service. cache and repo may be nil; both are
// best-effort sidecars to the in-memory state.
func NewGateService(cfg config.OnboardingConfig, checker AvailabilityChecker, cache *redis.Client, repo *repository.SessionRepository, logger *logrus.Logger) *GateService {
	return &GateService{
		cfg:     cfg,
		checker: checker,
		cache:   cache,
		repo:    repo,
		logger:  logger.WithField("component", "gate_service"),
		entries: map[gateKey]*gateEntry{},
	}
}

// Check records a new candidate value for a gated field and schedules a
// debounced availability query. The returned state reflects the immediate
// (synchronous) outcome; asynchronous resolution is read back via State.
func (s *GateService) Check(sessionID uuid.UUID, field, value string, businessVariant bool) models.ValidationGateState {
	value = strings.TrimSpace(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := gateKey{sessionID: sessionID, field: field}

	// Clearing the field clears the gate entirely.
	if value == "" {
		if entry, ok := s.entries[key]; ok {
			if entry.timer != nil {
				entry.timer.Stop()
			}
			delete(s.entries, key)
		}
		return models.ValidationGateState{SessionID: sessionID, Field: field, Status: models.GateStatusPending}
	}

	entry, ok := s.entries[key]
	if !ok {
		entry = &gateEntry{
			state: models.ValidationGateState{
				ID:        uuid.New(),
				SessionID: sessionID,
				Field:     field,
			},
		}
		s.entries[key] = entry
	}

	// Any edit invalidates the prior status until a fresh check completes.
	entry.generation++
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	entry.state.CandidateValue = value
	entry.state.Status = models.GateStatusPending

	// The consumer-webmail rule for business signup is synchronous and has
	// no debounce: no verifier can make a blocked domain acceptable.
	if field == models.GateFieldEmail && businessVariant && s.domainBlocked(value) {
		entry.state.Status = models.GateStatusUnavailable
		entry.state.LastCheckedValue = value
		now := time.Now()
		entry.state.CheckedAt = &now
		s.persist(entry.state)
		return entry.state
	}

	if s.skipCheck(field, value) {
		return entry.state
	}

	generation := entry.generation
	entry.timer = time.AfterFunc(s.cfg.DebounceWindow, func() {
		s.resolve(sessionID, field, value, generation)
	})

	return entry.state
}

// State returns the current gate state for a field, pending when no check
// has been recorded
func (s *GateService) State(sessionID uuid.UUID, field string) models.ValidationGateState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[gateKey{sessionID: sessionID, field: field}]; ok {
		return entry.state
	}
	return models.ValidationGateState{SessionID: sessionID, Field: field, Status: models.GateStatusPending}
}

// GateStatus implements GateView. A status is only authoritative for the
// exact value it was checked against; anything else reads as pending.
func (s *GateService) GateStatus(sessionID uuid.UUID, field, value string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[gateKey{sessionID: sessionID, field: field}]
	if !ok || entry.state.LastCheckedValue != strings.TrimSpace(value) {
		return models.GateStatusPending
	}
	return entry.state.Status
}

// ClearSession drops all gate state for a session and cancels pending timers
func (s *GateService) ClearSession(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if key.sessionID == sessionID {
			if entry.timer != nil {
				entry.timer.Stop()
			}
			delete(s.entries, key)
		}
	}
}

// resolve runs the remote check for one debounced candidate and applies the
// result only if no newer check superseded it while in flight
func (s *GateService) resolve(sessionID uuid.UUID, field, value string, generation uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	available, err := s.lookup(ctx, field, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[gateKey{sessionID: sessionID, field: field}]
	if !ok || entry.generation != generation {
		// A newer candidate superseded this check while it was in flight.
		return
	}

	now := time.Now()
	entry.state.LastCheckedValue = value
	entry.state.CheckedAt = &now
	switch {
	case err != nil:
		// Indeterminate: does not block a later attempt.
		entry.state.Status = models.GateStatusError
		s.logger.WithError(err).WithField("field", field).Warn("Availability check failed")
	case available:
		entry.state.Status = models.GateStatusAvailable
	default:
		entry.state.Status = models.GateStatusUnavailable
	}

	s.persist(entry.state)
}

// lookup consults the short-lived cache before the remote verifier
func (s *GateService) lookup(ctx context.Context, field, value string) (bool, error) {
	if s.cache != nil {
		if available, found, err := s.cache.GetAvailability(ctx, field, value); err == nil && found {
			return available, nil
		}
	}

	available, err := s.checker.CheckAvailable(ctx, field, value)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		if err := s.cache.SaveAvailability(ctx, field, value, available, s.cfg.GateCacheTTL); err != nil {
			s.logger.WithError(err).Debug("Failed to cache availability result")
		}
	}
	return available, nil
}

// skipCheck reports whether a candidate is below the threshold where a
// remote check is worth issuing; the gate stays pending, never unavailable
func (s *GateService) skipCheck(field, value string) bool {
	switch field {
	case models.GateFieldUsername:
		return len(value) < s.cfg.MinUsernameLength
	case models.GateFieldEmail:
		return !emailShape.MatchString(value)
	}
	return false
}

func (s *GateService) domainBlocked(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, blocked := range s.cfg.BlockedEmailDomains {
		if domain == blocked {
			return true
		}
	}
	return false
}

func (s *GateService) persist(state models.ValidationGateState) {
	if s.repo == nil {
		return
	}
	go func(snapshot models.ValidationGateState) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.UpsertGateState(ctx, &snapshot); err != nil {
			s.logger.WithError(err).Debug("Failed to persist gate state")
		}
	}(state)
}
