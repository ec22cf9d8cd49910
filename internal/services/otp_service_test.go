package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"onboarding-service/internal/clients"
	"onboarding-service/internal/models"
)

// fakeOtpIssuer issues sequential challenge IDs and accepts one good code
type fakeOtpIssuer struct {
	mu       sync.Mutex
	issued   int
	goodCode string
}

func (f *fakeOtpIssuer) IssueOtp(_ context.Context, channel, destination string) (*clients.IssueOtpResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	return &clients.IssueOtpResponse{
		ChallengeID: fmt.Sprintf("ch-%d", f.issued),
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}, nil
}

func (f *fakeOtpIssuer) ConfirmOtp(_ context.Context, challengeID, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return code == f.goodCode, nil
}

func (f *fakeOtpIssuer) issueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued
}

func newTestOtpService(issuer OtpIssuer, cooldownSeconds int, tick time.Duration) *OtpService {
	cfg := testOnboardingConfig()
	cfg.OTPCooldownSeconds = cooldownSeconds
	cfg.OTPTickInterval = tick

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewOtpService(cfg, issuer, nil, logger)
}

func TestIssueReusesLiveChallenge(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	s := newTestOtpService(issuer, 60, time.Second)
	sessionID := uuid.New()

	first, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "a@example.com")
	require.NoError(t, err)

	second, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "a@example.com")
	require.NoError(t, err)

	assert.Equal(t, first.RemoteChallengeID, second.RemoteChallengeID)
	assert.Equal(t, 1, issuer.issueCount(), "re-entering the step must not re-issue")
}

func TestIssueNewDestinationSupersedes(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	s := newTestOtpService(issuer, 60, time.Second)
	sessionID := uuid.New()

	first, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "old@example.com")
	require.NoError(t, err)

	// Editing the address invalidates the old possession proof.
	second, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", second.Destination)
	assert.NotEqual(t, first.RemoteChallengeID, second.RemoteChallengeID)
	assert.Equal(t, 2, issuer.issueCount())

	// The stale code never verifies the new challenge.
	live, ok := s.Challenge(sessionID, models.ChannelEmail)
	require.True(t, ok)
	assert.Equal(t, "new@example.com", live.Destination)
	assert.False(t, live.Superseded)
}

func TestResendDuringCooldownFails(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	s := newTestOtpService(issuer, 60, time.Second)
	sessionID := uuid.New()

	_, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "a@example.com")
	require.NoError(t, err)

	_, err = s.Resend(context.Background(), sessionID, models.ChannelEmail)
	coolErr, ok := IsCooldownActiveError(err)
	require.True(t, ok, "expected cooldown error, got %v", err)
	assert.Equal(t, models.ChannelEmail, coolErr.Channel)
	assert.Greater(t, coolErr.SecondsRemaining, 0)
	assert.Equal(t, 1, issuer.issueCount())
}

func TestResendAfterCooldownSupersedes(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	// 2-second cooldown ticked every 5ms elapses almost immediately.
	s := newTestOtpService(issuer, 2, 5*time.Millisecond)
	sessionID := uuid.New()

	first, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "a@example.com")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		challenge, ok := s.Challenge(sessionID, models.ChannelEmail)
		return ok && challenge.CanResend()
	}, 2*time.Second, 5*time.Millisecond)

	second, err := s.Resend(context.Background(), sessionID, models.ChannelEmail)
	require.NoError(t, err)
	assert.NotEqual(t, first.RemoteChallengeID, second.RemoteChallengeID)
	assert.Equal(t, 2, issuer.issueCount())
}

func TestCooldownTicksDown(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	s := newTestOtpService(issuer, 3, 5*time.Millisecond)
	sessionID := uuid.New()

	issued, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, issued.CooldownSeconds)

	require.Eventually(t, func() bool {
		challenge, ok := s.Challenge(sessionID, models.ChannelEmail)
		return ok && challenge.CooldownSeconds == 0
	}, 2*time.Second, 5*time.Millisecond, "cooldown must reach zero and stop")
}

func TestVerifyWrongCodeDecrementsAttempts(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	s := newTestOtpService(issuer, 60, time.Second)
	sessionID := uuid.New()

	_, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "a@example.com")
	require.NoError(t, err)

	err = s.Verify(context.Background(), sessionID, models.ChannelEmail, "000000")
	codeErr, ok := IsInvalidCodeError(err)
	require.True(t, ok)
	assert.Equal(t, 4, codeErr.AttemptsRemaining)
	assert.False(t, s.ChannelVerified(sessionID, models.ChannelEmail))
}

func TestVerifyExhaustedAttemptsRejected(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	s := newTestOtpService(issuer, 60, time.Second)
	sessionID := uuid.New()

	_, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "a@example.com")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		err = s.Verify(context.Background(), sessionID, models.ChannelEmail, "000000")
		require.Error(t, err)
	}

	// Even the right code is rejected once attempts are spent.
	err = s.Verify(context.Background(), sessionID, models.ChannelEmail, "123456")
	codeErr, ok := IsInvalidCodeError(err)
	require.True(t, ok)
	assert.Equal(t, 0, codeErr.AttemptsRemaining)
}

func TestVerifySuccessIsIdempotent(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	s := newTestOtpService(issuer, 60, time.Second)
	sessionID := uuid.New()

	_, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "a@example.com")
	require.NoError(t, err)

	require.NoError(t, s.Verify(context.Background(), sessionID, models.ChannelEmail, "123456"))
	assert.True(t, s.ChannelVerified(sessionID, models.ChannelEmail))

	// Re-verifying an already verified channel is a no-op success.
	require.NoError(t, s.Verify(context.Background(), sessionID, models.ChannelEmail, "999999"))
}

func TestVerifyNormalizesPastedCode(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	s := newTestOtpService(issuer, 60, time.Second)
	sessionID := uuid.New()

	_, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "a@example.com")
	require.NoError(t, err)

	require.NoError(t, s.Verify(context.Background(), sessionID, models.ChannelEmail, " 123-456 "))
}

func TestChannelsVerifyIndependently(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	s := newTestOtpService(issuer, 60, time.Second)
	sessionID := uuid.New()

	_, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "a@example.com")
	require.NoError(t, err)
	_, err = s.Issue(context.Background(), sessionID, models.ChannelPhone, "+15550100")
	require.NoError(t, err)

	require.NoError(t, s.Verify(context.Background(), sessionID, models.ChannelEmail, "123456"))
	assert.True(t, s.ChannelVerified(sessionID, models.ChannelEmail))
	assert.False(t, s.ChannelVerified(sessionID, models.ChannelPhone), "phone is untouched by email verification")

	require.NoError(t, s.Verify(context.Background(), sessionID, models.ChannelPhone, "123456"))
	assert.True(t, s.ChannelVerified(sessionID, models.ChannelPhone))
}

func TestVerifyWithoutChallengeFails(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	s := newTestOtpService(issuer, 60, time.Second)

	err := s.Verify(context.Background(), uuid.New(), models.ChannelEmail, "123456")
	_, ok := IsInvalidCodeError(err)
	assert.True(t, ok)
}

func TestClearSessionDropsChallenges(t *testing.T) {
	issuer := &fakeOtpIssuer{goodCode: "123456"}
	s := newTestOtpService(issuer, 60, time.Second)
	sessionID := uuid.New()

	_, err := s.Issue(context.Background(), sessionID, models.ChannelEmail, "a@example.com")
	require.NoError(t, err)

	s.ClearSession(sessionID)
	_, found := s.Challenge(sessionID, models.ChannelEmail)
	assert.False(t, found)
}
