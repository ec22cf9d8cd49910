package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"onboarding-service/internal/config"
	"onboarding-service/internal/models"
)

// stubGates answers GateStatus from a fixed map keyed by field:value
type stubGates struct {
	statuses map[string]string
}

func (s *stubGates) GateStatus(_ uuid.UUID, field, value string) string {
	if status, ok := s.statuses[field+":"+value]; ok {
		return status
	}
	return models.GateStatusPending
}

// stubChallenges answers ChannelVerified from a fixed set
type stubChallenges struct {
	verified map[string]bool
}

func (s *stubChallenges) ChannelVerified(_ uuid.UUID, channel string) bool {
	return s.verified[channel]
}

func testOnboardingConfig() config.OnboardingConfig {
	return config.OnboardingConfig{
		OTPCooldownSeconds: 60,
		OTPMaxAttempts:     5,
		OTPTickInterval:    time.Second,
		DebounceWindow:     400 * time.Millisecond,
		MinUsernameLength:  3,
		MinHandleLength:    3,
		MaxHandleLength:    60,
		MinAge:             18,
	}
}

func newTestSequencer(gates GateView, otps ChallengeView) *StepSequencer {
	if gates == nil {
		gates = &stubGates{}
	}
	if otps == nil {
		otps = &stubChallenges{}
	}
	return NewStepSequencer(testOnboardingConfig(), gates, otps)
}

func newSession(variant, step string, fields map[string]string) *models.OnboardingSession {
	session := &models.OnboardingSession{
		ID:          uuid.New(),
		Variant:     variant,
		Status:      models.SessionStatusInProgress,
		CurrentStep: step,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	if fields == nil {
		fields = map[string]string{}
	}
	session.SetFields(fields)
	session.SetCompleted(nil)
	return session
}

func TestStepsForVariants(t *testing.T) {
	s := newTestSequencer(nil, nil)

	personal := s.StepsFor(models.VariantPersonal)
	require.Len(t, personal, 11)
	assert.Equal(t, StepName, personal[0])
	assert.Equal(t, StepTerms, personal[len(personal)-1])

	for _, variant := range []string{models.VariantBusinessRetail, models.VariantBusinessDigital} {
		business := s.StepsFor(variant)
		require.Len(t, business, 5)
		assert.Equal(t, StepBusinessInfo, business[0])
		assert.Equal(t, StepTermsAndFees, business[len(business)-1])
	}

	assert.Empty(t, s.StepsFor("unknown"))
}

func TestAdvanceRequiresFields(t *testing.T) {
	s := newTestSequencer(nil, nil)
	session := newSession(models.VariantPersonal, StepName, map[string]string{"firstName": "Ada"})

	err := s.Advance(session)
	vErr, ok := IsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "lastName", vErr.Field)
	assert.Equal(t, StepName, session.CurrentStep, "failed advance must not move the session")
}

func TestAdvanceMovesToNextStep(t *testing.T) {
	s := newTestSequencer(nil, nil)
	session := newSession(models.VariantPersonal, StepName, map[string]string{
		"firstName": "Ada",
		"lastName":  "Lovelace",
	})

	require.NoError(t, s.Advance(session))
	assert.Equal(t, StepBirthdate, session.CurrentStep)
	assert.Equal(t, []string{StepName}, session.Completed())
}

func TestBirthdateAgeRestriction(t *testing.T) {
	s := newTestSequencer(nil, nil)
	// Fixed reference date so leap-day arithmetic is deterministic.
	s.now = func() time.Time {
		return time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name      string
		birthDate string
		wantAge   int
		allowed   bool
	}{
		{"leap day birth just under 18", "29/02/2008", 16, false},
		{"eighteenth birthday today", "01/03/2006", 18, true},
		{"day before eighteenth birthday", "02/03/2006", 17, false},
		{"well over 18", "15/06/1990", 33, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newSession(models.VariantPersonal, StepBirthdate, map[string]string{
				"birthDate": tt.birthDate,
			})

			err := s.CanAdvance(session)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			ageErr, ok := IsAgeRestrictionError(err)
			require.True(t, ok, "expected age restriction, got %v", err)
			assert.Equal(t, tt.wantAge, ageErr.Age)
			assert.Equal(t, 18, ageErr.MinAge)
		})
	}
}

func TestBirthdateRejectsWrongFormat(t *testing.T) {
	s := newTestSequencer(nil, nil)

	for _, raw := range []string{"2008-02-29", "02/29/2008", "29 Feb 2008", "31/02/2010"} {
		session := newSession(models.VariantPersonal, StepBirthdate, map[string]string{"birthDate": raw})
		_, ok := IsValidationError(s.CanAdvance(session))
		assert.True(t, ok, "expected validation error for %q", raw)
	}
}

func TestLocationRegionCheck(t *testing.T) {
	cfg := testOnboardingConfig()
	cfg.SupportedCountries = []string{"us", "gb", "de"}
	s := NewStepSequencer(cfg, &stubGates{}, &stubChallenges{})

	session := newSession(models.VariantPersonal, StepLocation, map[string]string{"country": "FR"})
	regionErr, ok := IsUnsupportedRegionError(s.CanAdvance(session))
	require.True(t, ok)
	assert.Equal(t, "FR", regionErr.Country)

	session.SetFields(map[string]string{"country": "DE"})
	assert.NoError(t, s.CanAdvance(session))
}

func TestUsernameRequiresAvailableGate(t *testing.T) {
	gates := &stubGates{statuses: map[string]string{"username:alice": models.GateStatusAvailable}}
	s := newTestSequencer(gates, nil)

	session := newSession(models.VariantPersonal, StepUsername, map[string]string{"username": "ab"})
	_, ok := IsValidationError(s.CanAdvance(session))
	assert.True(t, ok, "too-short username must not advance")

	session.SetFields(map[string]string{"username": "bob"})
	_, ok = IsValidationError(s.CanAdvance(session))
	assert.True(t, ok, "unchecked username must not advance")

	session.SetFields(map[string]string{"username": "alice"})
	assert.NoError(t, s.CanAdvance(session))
}

func TestOtpStepRequiresVerifiedEmail(t *testing.T) {
	otps := &stubChallenges{verified: map[string]bool{}}
	s := newTestSequencer(nil, otps)

	session := newSession(models.VariantPersonal, StepOtp, nil)
	_, ok := IsValidationError(s.CanAdvance(session))
	assert.True(t, ok)

	otps.verified[models.ChannelEmail] = true
	assert.NoError(t, s.CanAdvance(session))
}

func TestBusinessOtpRequiresBothChannels(t *testing.T) {
	otps := &stubChallenges{verified: map[string]bool{models.ChannelEmail: true}}
	s := newTestSequencer(nil, otps)

	session := newSession(models.VariantBusinessRetail, StepOtpVerification, nil)
	_, ok := IsValidationError(s.CanAdvance(session))
	assert.True(t, ok, "phone channel still unverified")

	otps.verified[models.ChannelPhone] = true
	assert.NoError(t, s.CanAdvance(session))
}

func TestStoreDetailsBranching(t *testing.T) {
	s := newTestSequencer(nil, nil)

	base := map[string]string{"storeType": StoreTypeRetail}
	session := newSession(models.VariantBusinessRetail, StepStoreDetails, base)
	assert.Equal(t, []string{"storeName"}, s.RequiredFields(session, StepStoreDetails))

	session.SetFields(map[string]string{
		"storeType":       StoreTypeRetail,
		"bundledHardware": "true",
	})
	required := s.RequiredFields(session, StepStoreDetails)
	assert.Contains(t, required, "billingStreet")
	assert.Contains(t, required, "deliveryStreet")

	session.SetFields(map[string]string{
		"storeType":              StoreTypeRetail,
		"bundledHardware":        "true",
		"deliverySameAsBusiness": "true",
	})
	required = s.RequiredFields(session, StepStoreDetails)
	assert.Contains(t, required, "billingStreet")
	assert.NotContains(t, required, "deliveryStreet", "mirrored delivery fields leave the required set")

	// Digital stores never collect hardware addresses.
	session.SetFields(map[string]string{
		"storeType":       StoreTypeDigital,
		"bundledHardware": "true",
	})
	assert.Equal(t, []string{"storeName"}, s.RequiredFields(session, StepStoreDetails))
}

func TestApplyDerivedFieldsMirrorsBusinessAddress(t *testing.T) {
	s := newTestSequencer(nil, nil)

	session := newSession(models.VariantBusinessRetail, StepStoreDetails, map[string]string{
		"street":                 "1 Market St",
		"city":                   "Springfield",
		"state":                  "IL",
		"postalCode":             "62701",
		"deliverySameAsBusiness": "true",
		"deliveryStreet":         "stale value",
	})

	s.ApplyDerivedFields(session)

	fields := session.Fields()
	assert.Equal(t, "1 Market St", fields["deliveryStreet"])
	assert.Equal(t, "Springfield", fields["deliveryCity"])
	assert.Equal(t, "IL", fields["deliveryState"])
	assert.Equal(t, "62701", fields["deliveryPostalCode"])
}

func TestApplyDerivedFieldsNoopWhenToggleOff(t *testing.T) {
	s := newTestSequencer(nil, nil)

	session := newSession(models.VariantBusinessRetail, StepStoreDetails, map[string]string{
		"street":         "1 Market St",
		"deliveryStreet": "9 Other Rd",
	})

	s.ApplyDerivedFields(session)
	assert.Equal(t, "9 Other Rd", session.Fields()["deliveryStreet"])
}

func TestAdvanceTerminalStepParksSession(t *testing.T) {
	s := newTestSequencer(nil, nil)
	session := newSession(models.VariantPersonal, StepTerms, map[string]string{"termsAccepted": "true"})

	require.NoError(t, s.Advance(session))
	assert.Equal(t, models.SessionStatusAwaitingCreation, session.Status)
	assert.Equal(t, StepTerms, session.CurrentStep, "terminal advance keeps the step")
	assert.Contains(t, session.Completed(), StepTerms)
}

func TestRetreatPreservesFieldsAndPopsCompleted(t *testing.T) {
	s := newTestSequencer(nil, nil)
	session := newSession(models.VariantPersonal, StepBirthdate, map[string]string{
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"birthDate": "10/12/1815",
	})
	session.SetCompleted([]string{StepName})

	require.NoError(t, s.Retreat(session))
	assert.Equal(t, StepName, session.CurrentStep)
	assert.Empty(t, session.Completed())
	assert.Equal(t, "10/12/1815", session.Fields()["birthDate"], "entered values survive retreat")
}

func TestRetreatFromFirstStepFails(t *testing.T) {
	s := newTestSequencer(nil, nil)
	session := newSession(models.VariantPersonal, StepName, nil)

	_, ok := IsValidationError(s.Retreat(session))
	assert.True(t, ok)
}

func TestRetreatReopensAwaitingCreation(t *testing.T) {
	s := newTestSequencer(nil, nil)
	session := newSession(models.VariantPersonal, StepTerms, map[string]string{"termsAccepted": "true"})
	require.NoError(t, s.Advance(session))
	require.Equal(t, models.SessionStatusAwaitingCreation, session.Status)

	require.NoError(t, s.Retreat(session))
	assert.Equal(t, models.SessionStatusInProgress, session.Status)
	assert.Equal(t, StepReferral, session.CurrentStep)
}
