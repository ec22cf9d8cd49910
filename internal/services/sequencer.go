package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"onboarding-service/internal/config"
	"onboarding-service/internal/models"
)

// Step identifiers for the personal signup flow
const (
	StepName      = "name"
	StepBirthdate = "birthdate"
	StepLocation  = "location"
	StepAddress   = "address"
	StepUsername  = "username"
	StepEmail     = "email"
	StepOtp       = "otp"
	StepGender    = "gender"
	StepPassword  = "password"
	StepReferral  = "referral"
	StepTerms     = "terms"
)

// Step identifiers for the business vendor flow
const (
	StepBusinessInfo    = "businessInfo"
	StepOtpVerification = "otpVerification"
	StepStoreType       = "storeType"
	StepStoreDetails    = "storeDetails"
	StepTermsAndFees    = "termsAndFees"
)

// Store type values collected at the storeType step
const (
	StoreTypeRetail  = "retail"
	StoreTypeDigital = "digital"
)

// birthDateLayout is the fixed DD/MM/YYYY input format
const birthDateLayout = "02/01/2006"

var personalSteps = []string{
	StepName, StepBirthdate, StepLocation, StepAddress, StepUsername,
	StepEmail, StepOtp, StepGender, StepPassword, StepReferral, StepTerms,
}

var businessSteps = []string{
	StepBusinessInfo, StepOtpVerification, StepStoreType, StepStoreDetails, StepTermsAndFees,
}

// GateView exposes the authoritative gate status for a field's current value
type GateView interface {
	GateStatus(sessionID uuid.UUID, field, value string) string
}

// ChallengeView exposes per-channel OTP verification state
type ChallengeView interface {
	ChannelVerified(sessionID uuid.UUID, channel string) bool
}

// StepSequencer defines and traverses the step order for each onboarding
// variant and enforces entry preconditions
type StepSequencer struct {
	cfg   config.OnboardingConfig
	gates GateView
	otps  ChallengeView
	now   func() time.Time
}

// NewStepSequencer creates a step sequencer
func NewStepSequencer(cfg config.OnboardingConfig, gates GateView, otps ChallengeView) *StepSequencer {
	return &StepSequencer{
		cfg:   cfg,
		gates: gates,
		otps:  otps,
		now:   time.Now,
	}
}

// StepsFor returns the ordered step list for a variant
func (s *StepSequencer) StepsFor(variant string) []string {
	if models.IsBusinessVariant(variant) {
		steps := make([]string, len(businessSteps))
		copy(steps, businessSteps)
		return steps
	}
	steps := make([]string, len(personalSteps))
	copy(steps, personalSteps)
	return steps
}

// TerminalStep returns the final step for a variant
func (s *StepSequencer) TerminalStep(variant string) string {
	steps := s.StepsFor(variant)
	return steps[len(steps)-1]
}

// IsValidStep reports whether step belongs to the variant's step list
func (s *StepSequencer) IsValidStep(variant, step string) bool {
	for _, candidate := range s.StepsFor(variant) {
		if candidate == step {
			return true
		}
	}
	return false
}

// RequiredFields returns the derived required-field set for a step given the
// session's current field values. Branch toggles (bundled hardware, delivery
// same as business address) reshape the set rather than being checked ad hoc.
func (s *StepSequencer) RequiredFields(session *models.OnboardingSession, step string) []string {
	fields := session.Fields()

	switch step {
	case StepName:
		return []string{"firstName", "lastName"}
	case StepBirthdate:
		return []string{"birthDate"}
	case StepLocation:
		return []string{"country"}
	case StepAddress:
		return []string{"street", "city", "state", "postalCode"}
	case StepUsername:
		return []string{"username"}
	case StepEmail:
		return []string{"email"}
	case StepOtp:
		return nil // gated by challenge verification, not by fields
	case StepGender:
		return []string{"gender"}
	case StepPassword:
		return []string{"password"}
	case StepReferral:
		return nil // referral code is optional
	case StepTerms:
		return []string{"termsAccepted"}

	case StepBusinessInfo:
		return []string{
			"businessName", "taxId", "email", "phone",
			"street", "city", "state", "postalCode", "country",
		}
	case StepOtpVerification:
		return nil
	case StepStoreType:
		return []string{"storeType"}
	case StepStoreDetails:
		required := []string{"storeName"}
		if fields["storeType"] == StoreTypeRetail && isToggleOn(fields["bundledHardware"]) {
			required = append(required,
				"billingStreet", "billingCity", "billingState", "billingPostalCode")
			// The delivery sub-section disappears from user control while the
			// mirror toggle is on; its values track the business address.
			if !isToggleOn(fields["deliverySameAsBusiness"]) {
				required = append(required,
					"deliveryStreet", "deliveryCity", "deliveryState", "deliveryPostalCode")
			}
		}
		return required
	case StepTermsAndFees:
		return []string{"termsAccepted", "feesAccepted"}
	}

	return nil
}

// ApplyDerivedFields recomputes mirrored fields from their governing toggles.
// Called after every merge so the delivery address tracks the business
// address while the toggle is on.
func (s *StepSequencer) ApplyDerivedFields(session *models.OnboardingSession) {
	if !models.IsBusinessVariant(session.Variant) {
		return
	}

	fields := session.Fields()
	if !isToggleOn(fields["deliverySameAsBusiness"]) {
		return
	}

	fields["deliveryStreet"] = fields["street"]
	fields["deliveryCity"] = fields["city"]
	fields["deliveryState"] = fields["state"]
	fields["deliveryPostalCode"] = fields["postalCode"]
	session.SetFields(fields)
}

// CanAdvance reports whether every precondition of the session's current
// step holds. The error, when non-nil, names the offending field or
// condition; no generic unexplained blocking.
func (s *StepSequencer) CanAdvance(session *models.OnboardingSession) error {
	step := session.CurrentStep
	fields := session.Fields()

	for _, name := range s.RequiredFields(session, step) {
		if strings.TrimSpace(fields[name]) == "" {
			return NewValidationError(name, "required field is missing", nil)
		}
	}

	switch step {
	case StepBirthdate:
		age, err := s.ageFromBirthDate(fields["birthDate"])
		if err != nil {
			return NewValidationError("birthDate", fmt.Sprintf("expected %s format: %v", "DD/MM/YYYY", err), nil)
		}
		if age < s.cfg.MinAge {
			return &AgeRestrictionError{MinAge: s.cfg.MinAge, Age: age}
		}

	case StepLocation:
		if err := s.checkRegion(fields["country"]); err != nil {
			return err
		}

	case StepUsername:
		username := fields["username"]
		if len(username) < s.cfg.MinUsernameLength {
			return NewValidationError("username",
				fmt.Sprintf("must be at least %d characters", s.cfg.MinUsernameLength), nil)
		}
		if status := s.gates.GateStatus(session.ID, models.GateFieldUsername, username); status != models.GateStatusAvailable {
			return NewValidationError("username", "availability not confirmed", nil)
		}

	case StepEmail:
		if status := s.gates.GateStatus(session.ID, models.GateFieldEmail, fields["email"]); status != models.GateStatusAvailable {
			return NewValidationError("email", "availability not confirmed", nil)
		}

	case StepOtp:
		if !s.otps.ChannelVerified(session.ID, models.ChannelEmail) {
			return NewValidationError("otp", "email code not verified", nil)
		}

	case StepPassword:
		if len(fields["password"]) < 8 {
			return NewValidationError("password", "must be at least 8 characters", nil)
		}

	case StepTerms:
		if !isToggleOn(fields["termsAccepted"]) {
			return NewValidationError("termsAccepted", "terms must be accepted", nil)
		}

	case StepBusinessInfo:
		if err := s.checkRegion(fields["country"]); err != nil {
			return err
		}
		if status := s.gates.GateStatus(session.ID, models.GateFieldEmail, fields["email"]); status != models.GateStatusAvailable {
			return NewValidationError("email", "availability not confirmed", nil)
		}

	case StepOtpVerification:
		// Both channels must verify; neither gates the other's progress.
		if !s.otps.ChannelVerified(session.ID, models.ChannelEmail) {
			return NewValidationError("otp", "email code not verified", nil)
		}
		if !s.otps.ChannelVerified(session.ID, models.ChannelPhone) {
			return NewValidationError("otp", "phone code not verified", nil)
		}

	case StepStoreType:
		if t := fields["storeType"]; t != StoreTypeRetail && t != StoreTypeDigital {
			return NewValidationError("storeType", "must be retail or digital", nil)
		}

	case StepTermsAndFees:
		if !isToggleOn(fields["termsAccepted"]) {
			return NewValidationError("termsAccepted", "terms must be accepted", nil)
		}
		if !isToggleOn(fields["feesAccepted"]) {
			return NewValidationError("feesAccepted", "fee schedule must be accepted", nil)
		}
	}

	return nil
}

// Advance moves the session forward one step after validating the current
// step's preconditions. On the terminal step it parks the session in
// awaiting_creation instead, ready for Finalize.
func (s *StepSequencer) Advance(session *models.OnboardingSession) error {
	if err := s.CanAdvance(session); err != nil {
		return err
	}

	steps := s.StepsFor(session.Variant)
	index := stepIndex(steps, session.CurrentStep)
	if index < 0 {
		return fmt.Errorf("step %q does not belong to variant %q", session.CurrentStep, session.Variant)
	}

	completed := session.Completed()
	if len(completed) == 0 || completed[len(completed)-1] != session.CurrentStep {
		completed = append(completed, session.CurrentStep)
	}
	session.SetCompleted(completed)

	if index == len(steps)-1 {
		session.Status = models.SessionStatusAwaitingCreation
		return nil
	}

	session.CurrentStep = steps[index+1]
	return nil
}

// Retreat moves the session back one step. Always permitted except from the
// initial step; previously entered field values are preserved.
func (s *StepSequencer) Retreat(session *models.OnboardingSession) error {
	steps := s.StepsFor(session.Variant)
	index := stepIndex(steps, session.CurrentStep)
	if index < 0 {
		return fmt.Errorf("step %q does not belong to variant %q", session.CurrentStep, session.Variant)
	}
	if index == 0 {
		return NewValidationError("step", "already at the first step", nil)
	}

	session.CurrentStep = steps[index-1]
	completed := session.Completed()
	if len(completed) > 0 && completed[len(completed)-1] == session.CurrentStep {
		session.SetCompleted(completed[:len(completed)-1])
	}
	if session.Status == models.SessionStatusAwaitingCreation {
		session.Status = models.SessionStatusInProgress
	}
	return nil
}

// ageFromBirthDate parses a DD/MM/YYYY birth date and computes the age on
// the reference date
func (s *StepSequencer) ageFromBirthDate(raw string) (int, error) {
	birth, err := time.Parse(birthDateLayout, strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("unparsable date")
	}

	ref := s.now()
	age := ref.Year() - birth.Year()
	if ref.Month() < birth.Month() || (ref.Month() == birth.Month() && ref.Day() < birth.Day()) {
		age--
	}
	if age < 0 {
		return 0, fmt.Errorf("birth date is in the future")
	}
	return age, nil
}

func (s *StepSequencer) checkRegion(country string) error {
	if len(s.cfg.SupportedCountries) == 0 {
		return nil
	}
	needle := strings.ToLower(strings.TrimSpace(country))
	for _, supported := range s.cfg.SupportedCountries {
		if supported == needle {
			return nil
		}
	}
	return &UnsupportedRegionError{Country: country}
}

func stepIndex(steps []string, step string) int {
	for i, candidate := range steps {
		if candidate == step {
			return i
		}
	}
	return -1
}

func isToggleOn(value string) bool {
	return value == "true"
}
