package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Onboarding variant constants
const (
	VariantPersonal        = "personal"
	VariantBusinessRetail  = "business-retail"
	VariantBusinessDigital = "business-digital"
)

// Session status constants
const (
	SessionStatusInProgress       = "in_progress"
	SessionStatusAwaitingCreation = "awaiting_creation"
	SessionStatusCreated          = "created"
	SessionStatusAbandoned        = "abandoned"
)

// Validation gate status constants
const (
	GateStatusPending     = "pending"
	GateStatusAvailable   = "available"
	GateStatusUnavailable = "unavailable"
	GateStatusError       = "error"
)

// Gated field constants
const (
	GateFieldUsername = "username"
	GateFieldEmail    = "email"
	GateFieldTaxID    = "taxId"
)

// OTP channel constants
const (
	ChannelEmail = "email"
	ChannelPhone = "phone"
)

// DefaultSessionTTL is how long an onboarding session stays usable
const DefaultSessionTTL = 7 * 24 * time.Hour

// OnboardingSession represents one user's attempt to create an account or vendor store
type OnboardingSession struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	Variant        string    `json:"variant" gorm:"not null;index" validate:"required,oneof=personal business-retail business-digital"`
	Status         string    `json:"status" gorm:"default:'in_progress';index" validate:"oneof=in_progress awaiting_creation created abandoned"`
	CurrentStep    string    `json:"current_step" gorm:"not null;index"`
	CompletedSteps JSONB     `json:"completed_steps" gorm:"type:jsonb;default:'[]'"`
	FieldValues    JSONB     `json:"field_values" gorm:"type:jsonb;default:'{}'"`
	TerminalResult JSONB     `json:"terminal_result,omitempty" gorm:"type:jsonb"`
	StartedAt      time.Time `json:"started_at"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"index"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Relationships
	GateStates []ValidationGateState `json:"gate_states,omitempty" gorm:"foreignKey:SessionID"`
	Challenges []OtpChallenge        `json:"challenges,omitempty" gorm:"foreignKey:SessionID"`
}

func (s *OnboardingSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = time.Now().Add(DefaultSessionTTL)
	}
	s.StartedAt = time.Now()
	return nil
}

// IsExpired reports whether the session has passed its expiry
func (s *OnboardingSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// HasTerminalResult reports whether creation already succeeded for this session
func (s *OnboardingSession) HasTerminalResult() bool {
	return len(s.TerminalResult) > 0
}

// Fields decodes the session's field values. A nil/empty column yields an
// empty map, never nil.
func (s *OnboardingSession) Fields() map[string]string {
	fields := map[string]string{}
	if len(s.FieldValues) > 0 {
		_ = json.Unmarshal(s.FieldValues, &fields)
	}
	return fields
}

// SetFields replaces the session's field values
func (s *OnboardingSession) SetFields(fields map[string]string) {
	s.FieldValues = MustNewJSONB(fields)
}

// Completed decodes the ordered completed-step list
func (s *OnboardingSession) Completed() []string {
	var steps []string
	if len(s.CompletedSteps) > 0 {
		_ = json.Unmarshal(s.CompletedSteps, &steps)
	}
	return steps
}

// SetCompleted replaces the completed-step list
func (s *OnboardingSession) SetCompleted(steps []string) {
	if steps == nil {
		steps = []string{}
	}
	s.CompletedSteps = MustNewJSONB(steps)
}

// Result decodes the stored terminal creation result, or nil if absent
func (s *OnboardingSession) Result() *CreationResult {
	if !s.HasTerminalResult() {
		return nil
	}
	var result CreationResult
	if err := json.Unmarshal(s.TerminalResult, &result); err != nil {
		return nil
	}
	return &result
}

// ValidationGateState is the per-field availability/validity check result.
// A check is only authoritative for the exact candidate value it ran against.
type ValidationGateState struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	SessionID        uuid.UUID  `json:"session_id" gorm:"type:uuid;not null;index:idx_gate_session_field,unique"`
	Field            string     `json:"field" gorm:"not null;index:idx_gate_session_field,unique" validate:"required,oneof=username email taxId"`
	CandidateValue   string     `json:"candidate_value" gorm:"not null"`
	Status           string     `json:"status" gorm:"default:'pending'" validate:"oneof=pending available unavailable error"`
	LastCheckedValue string     `json:"last_checked_value"`
	CheckedAt        *time.Time `json:"checked_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (g *ValidationGateState) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// IsAuthoritative reports whether the stored status applies to the given value
func (g *ValidationGateState) IsAuthoritative(value string) bool {
	return g.Status != GateStatusPending && g.LastCheckedValue == value
}

// OtpChallenge is a single issued one-time-code challenge for one channel
type OtpChallenge struct {
	ID                uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	SessionID         uuid.UUID  `json:"session_id" gorm:"type:uuid;not null;index"`
	Channel           string     `json:"channel" gorm:"not null" validate:"required,oneof=email phone"`
	Destination       string     `json:"destination" gorm:"not null"`
	RemoteChallengeID string     `json:"remote_challenge_id" gorm:"index"`
	CooldownSeconds   int        `json:"cooldown_seconds"`
	AttemptsRemaining int        `json:"attempts_remaining" gorm:"default:5"`
	Verified          bool       `json:"verified" gorm:"default:false"`
	Superseded        bool       `json:"superseded" gorm:"default:false"`
	IssuedAt          time.Time  `json:"issued_at"`
	VerifiedAt        *time.Time `json:"verified_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (c *OtpChallenge) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = time.Now()
	}
	return nil
}

// CanResend reports whether the cooldown window has fully elapsed
func (c *OtpChallenge) CanResend() bool {
	return c.CooldownSeconds <= 0
}

// Address groups the postal fields used by both creation payloads
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// AccountCreationRequest is the terminal payload for the personal flow
type AccountCreationRequest struct {
	SessionID    uuid.UUID `json:"session_id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	BirthDate    string    `json:"birth_date"` // DD/MM/YYYY as entered
	Gender       string    `json:"gender"`
	Handle       string    `json:"handle"`
	Email        string    `json:"email"`
	Address      Address   `json:"address"`
	PasswordHash string    `json:"password_hash"`
	ReferralCode string    `json:"referral_code,omitempty"`
	TermsVersion string    `json:"terms_version,omitempty"`
}

// VendorCreationRequest is the terminal payload for the business flows
type VendorCreationRequest struct {
	SessionID       uuid.UUID `json:"session_id"`
	BusinessName    string    `json:"business_name"`
	TaxID           string    `json:"tax_id"`
	ContactEmail    string    `json:"contact_email"`
	ContactPhone    string    `json:"contact_phone"`
	Handle          string    `json:"handle"`
	StoreType       string    `json:"store_type"` // retail, digital
	BusinessAddress Address   `json:"business_address"`
	BillingAddress  *Address  `json:"billing_address,omitempty"`
	DeliveryAddress *Address  `json:"delivery_address,omitempty"`
	BundledHardware bool      `json:"bundled_hardware"`
	PasswordHash    string    `json:"password_hash,omitempty"`
	TermsVersion    string    `json:"terms_version,omitempty"`
}

// CreationResult is the stored outcome of the terminal creation call
type CreationResult struct {
	AccountID string    `json:"account_id,omitempty"`
	VendorID  string    `json:"vendor_id,omitempty"`
	Handle    string    `json:"handle"`
	StoreURL  string    `json:"store_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsBusinessVariant reports whether the variant is one of the vendor flows
func IsBusinessVariant(variant string) bool {
	return variant == VariantBusinessRetail || variant == VariantBusinessDigital
}
