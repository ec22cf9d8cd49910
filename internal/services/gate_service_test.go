package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"onboarding-service/internal/models"
)

// fakeChecker records availability calls and answers from a function
type fakeChecker struct {
	mu      sync.Mutex
	calls   []string
	answer  func(field, value string) (bool, error)
	release chan struct{} // when set, calls block until closed
}

func (f *fakeChecker) CheckAvailable(_ context.Context, field, value string) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, field+":"+value)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	if f.answer != nil {
		return f.answer(field, value)
	}
	return true, nil
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestGateService(checker *fakeChecker) *GateService {
	cfg := testOnboardingConfig()
	cfg.DebounceWindow = 20 * time.Millisecond
	cfg.BlockedEmailDomains = []string{"gmail.com", "yahoo.com"}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewGateService(cfg, checker, nil, nil, logger)
}

func waitForStatus(t *testing.T, s *GateService, sessionID uuid.UUID, field string, want string) models.ValidationGateState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state := s.State(sessionID, field); state.Status == want {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	state := s.State(sessionID, field)
	t.Fatalf("gate %s never reached %s, last state %+v", field, want, state)
	return state
}

func TestGateCheckResolvesAfterDebounce(t *testing.T) {
	checker := &fakeChecker{}
	s := newTestGateService(checker)
	sessionID := uuid.New()

	state := s.Check(sessionID, models.GateFieldUsername, "alice", false)
	assert.Equal(t, models.GateStatusPending, state.Status, "check is pending until the debounce fires")

	resolved := waitForStatus(t, s, sessionID, models.GateFieldUsername, models.GateStatusAvailable)
	assert.Equal(t, "alice", resolved.LastCheckedValue)
	assert.Equal(t, 1, checker.callCount())
}

func TestShortUsernameStaysPending(t *testing.T) {
	checker := &fakeChecker{}
	s := newTestGateService(checker)
	sessionID := uuid.New()

	s.Check(sessionID, models.GateFieldUsername, "ab", false)
	time.Sleep(100 * time.Millisecond)

	state := s.State(sessionID, models.GateFieldUsername)
	assert.Equal(t, models.GateStatusPending, state.Status, "below-threshold input is pending, never unavailable")
	assert.Equal(t, 0, checker.callCount(), "no remote check for below-threshold input")
}

func TestMalformedEmailStaysPending(t *testing.T) {
	checker := &fakeChecker{}
	s := newTestGateService(checker)
	sessionID := uuid.New()

	s.Check(sessionID, models.GateFieldEmail, "not-an-email", false)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, models.GateStatusPending, s.State(sessionID, models.GateFieldEmail).Status)
	assert.Equal(t, 0, checker.callCount())
}

func TestRapidEditsOnlyCheckFinalValue(t *testing.T) {
	checker := &fakeChecker{}
	s := newTestGateService(checker)
	sessionID := uuid.New()

	// Each keystroke lands inside the previous debounce window.
	s.Check(sessionID, models.GateFieldUsername, "ali", false)
	time.Sleep(5 * time.Millisecond)
	s.Check(sessionID, models.GateFieldUsername, "alic", false)
	time.Sleep(5 * time.Millisecond)
	s.Check(sessionID, models.GateFieldUsername, "alice", false)

	resolved := waitForStatus(t, s, sessionID, models.GateFieldUsername, models.GateStatusAvailable)
	assert.Equal(t, "alice", resolved.LastCheckedValue)
	assert.Equal(t, 1, checker.callCount(), "superseded keystrokes never reach the verifier")
}

func TestInFlightResultDiscardedAfterNewEdit(t *testing.T) {
	release := make(chan struct{})
	checker := &fakeChecker{release: release}
	s := newTestGateService(checker)
	sessionID := uuid.New()

	s.Check(sessionID, models.GateFieldUsername, "alice", false)

	// Wait for the first check to be in flight, then edit the value.
	require.Eventually(t, func() bool { return checker.callCount() == 1 }, time.Second, 5*time.Millisecond)
	s.Check(sessionID, models.GateFieldUsername, "alicesmith", false)

	// Release the stale in-flight check; its result must not apply.
	checker.mu.Lock()
	checker.release = nil
	checker.mu.Unlock()
	close(release)

	resolved := waitForStatus(t, s, sessionID, models.GateFieldUsername, models.GateStatusAvailable)
	assert.Equal(t, "alicesmith", resolved.LastCheckedValue, "the newer value wins regardless of resolution order")
}

func TestBusinessWebmailRejectedSynchronously(t *testing.T) {
	checker := &fakeChecker{}
	s := newTestGateService(checker)
	sessionID := uuid.New()

	state := s.Check(sessionID, models.GateFieldEmail, "owner@gmail.com", true)
	assert.Equal(t, models.GateStatusUnavailable, state.Status)
	assert.Equal(t, "owner@gmail.com", state.LastCheckedValue)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, checker.callCount(), "deny-listed domains never reach the verifier")
}

func TestPersonalWebmailAllowed(t *testing.T) {
	checker := &fakeChecker{}
	s := newTestGateService(checker)
	sessionID := uuid.New()

	s.Check(sessionID, models.GateFieldEmail, "me@gmail.com", false)
	resolved := waitForStatus(t, s, sessionID, models.GateFieldEmail, models.GateStatusAvailable)
	assert.Equal(t, "me@gmail.com", resolved.LastCheckedValue)
}

func TestCheckerFailureYieldsErrorStatus(t *testing.T) {
	checker := &fakeChecker{answer: func(string, string) (bool, error) {
		return false, errors.New("upstream timeout")
	}}
	s := newTestGateService(checker)
	sessionID := uuid.New()

	s.Check(sessionID, models.GateFieldUsername, "alice", false)
	waitForStatus(t, s, sessionID, models.GateFieldUsername, models.GateStatusError)
}

func TestGateStatusOnlyAuthoritativeForCheckedValue(t *testing.T) {
	checker := &fakeChecker{}
	s := newTestGateService(checker)
	sessionID := uuid.New()

	s.Check(sessionID, models.GateFieldUsername, "alice", false)
	waitForStatus(t, s, sessionID, models.GateFieldUsername, models.GateStatusAvailable)

	assert.Equal(t, models.GateStatusAvailable, s.GateStatus(sessionID, models.GateFieldUsername, "alice"))
	assert.Equal(t, models.GateStatusPending, s.GateStatus(sessionID, models.GateFieldUsername, "alice2"),
		"a status never applies to a value it was not checked against")
}

func TestEmptyValueClearsGate(t *testing.T) {
	checker := &fakeChecker{}
	s := newTestGateService(checker)
	sessionID := uuid.New()

	s.Check(sessionID, models.GateFieldUsername, "alice", false)
	waitForStatus(t, s, sessionID, models.GateFieldUsername, models.GateStatusAvailable)

	state := s.Check(sessionID, models.GateFieldUsername, "", false)
	assert.Equal(t, models.GateStatusPending, state.Status)
	assert.Equal(t, models.GateStatusPending, s.State(sessionID, models.GateFieldUsername).Status)
}

func TestClearSessionDropsState(t *testing.T) {
	checker := &fakeChecker{}
	s := newTestGateService(checker)
	sessionID := uuid.New()

	s.Check(sessionID, models.GateFieldUsername, "alice", false)
	waitForStatus(t, s, sessionID, models.GateFieldUsername, models.GateStatusAvailable)

	s.ClearSession(sessionID)
	assert.Equal(t, models.GateStatusPending, s.State(sessionID, models.GateFieldUsername).Status)
}
