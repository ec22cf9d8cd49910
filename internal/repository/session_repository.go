package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"onboarding-service/internal/models"
)

// SessionRepository handles onboarding session persistence
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{
		db: db,
	}
}

// CreateSession creates a new onboarding session
func (r *SessionRepository) CreateSession(ctx context.Context, session *models.OnboardingSession) (*models.OnboardingSession, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create onboarding session: %w", err)
	}

	return session, nil
}

// GetSessionByID retrieves an onboarding session by ID with related data
func (r *SessionRepository) GetSessionByID(ctx context.Context, id uuid.UUID, includeRelations []string) (*models.OnboardingSession, error) {
	var session models.OnboardingSession

	query := r.db.WithContext(ctx)

	for _, relation := range includeRelations {
		switch relation {
		case "gate_states":
			query = query.Preload("GateStates")
		case "challenges":
			query = query.Preload("Challenges")
		}
	}

	if err := query.First(&session, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("onboarding session not found")
		}
		return nil, fmt.Errorf("failed to get onboarding session: %w", err)
	}

	return &session, nil
}

// UpdateSession updates an onboarding session
func (r *SessionRepository) UpdateSession(ctx context.Context, session *models.OnboardingSession) (*models.OnboardingSession, error) {
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		return nil, fmt.Errorf("failed to update onboarding session: %w", err)
	}

	return session, nil
}

// UpdateSessionStatus transitions a session to a new status
func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, status string) error {
	if err := r.db.WithContext(ctx).Model(&models.OnboardingSession{}).
		Where("id = ?", sessionID).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	return nil
}

// ListSessions lists onboarding sessions with pagination
func (r *SessionRepository) ListSessions(ctx context.Context, page, pageSize int, filters map[string]interface{}) ([]models.OnboardingSession, int64, error) {
	var sessions []models.OnboardingSession
	var total int64

	query := r.db.WithContext(ctx).Model(&models.OnboardingSession{})

	for field, value := range filters {
		switch field {
		case "variant":
			query = query.Where("variant = ?", value)
		case "status":
			query = query.Where("status = ?", value)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count onboarding sessions: %w", err)
	}

	offset := (page - 1) * pageSize
	if err := query.Offset(offset).Limit(pageSize).Order("started_at DESC").Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list onboarding sessions: %w", err)
	}

	return sessions, total, nil
}

// GetExpiredSessions retrieves sessions past their expiry that are still open
func (r *SessionRepository) GetExpiredSessions(ctx context.Context) ([]models.OnboardingSession, error) {
	var sessions []models.OnboardingSession

	if err := r.db.WithContext(ctx).
		Where("expires_at < ? AND status IN ?", time.Now(),
			[]string{models.SessionStatusInProgress, models.SessionStatusAwaitingCreation}).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to get expired sessions: %w", err)
	}

	return sessions, nil
}

// DeleteSession deletes an onboarding session and its dependent records
func (r *SessionRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&models.ValidationGateState{}).Error; err != nil {
			return fmt.Errorf("failed to delete gate states: %w", err)
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.OtpChallenge{}).Error; err != nil {
			return fmt.Errorf("failed to delete challenges: %w", err)
		}
		if err := tx.Delete(&models.OnboardingSession{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete onboarding session: %w", err)
		}
		return nil
	})
}

// UpsertGateState creates or updates the gate state for a session field
func (r *SessionRepository) UpsertGateState(ctx context.Context, state *models.ValidationGateState) error {
	var existing models.ValidationGateState
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND field = ?", state.SessionID, state.Field).
		First(&existing).Error

	if err == gorm.ErrRecordNotFound {
		if state.ID == uuid.Nil {
			state.ID = uuid.New()
		}
		if err := r.db.WithContext(ctx).Create(state).Error; err != nil {
			return fmt.Errorf("failed to create gate state: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check existing gate state: %w", err)
	}

	state.ID = existing.ID
	state.CreatedAt = existing.CreatedAt
	if err := r.db.WithContext(ctx).Save(state).Error; err != nil {
		return fmt.Errorf("failed to update gate state: %w", err)
	}

	return nil
}

// GetGateStates retrieves all gate states for a session
func (r *SessionRepository) GetGateStates(ctx context.Context, sessionID uuid.UUID) ([]models.ValidationGateState, error) {
	var states []models.ValidationGateState

	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to get gate states: %w", err)
	}

	return states, nil
}

// SaveChallenge creates or updates an OTP challenge record
func (r *SessionRepository) SaveChallenge(ctx context.Context, challenge *models.OtpChallenge) error {
	var existing models.OtpChallenge
	err := r.db.WithContext(ctx).Where("id = ?", challenge.ID).First(&existing).Error

	if err == gorm.ErrRecordNotFound {
		if err := r.db.WithContext(ctx).Create(challenge).Error; err != nil {
			return fmt.Errorf("failed to create challenge: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check existing challenge: %w", err)
	}

	challenge.CreatedAt = existing.CreatedAt
	if err := r.db.WithContext(ctx).Save(challenge).Error; err != nil {
		return fmt.Errorf("failed to update challenge: %w", err)
	}

	return nil
}

// GetChallenges retrieves all OTP challenges for a session
func (r *SessionRepository) GetChallenges(ctx context.Context, sessionID uuid.UUID) ([]models.OtpChallenge, error) {
	var challenges []models.OtpChallenge

	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("issued_at DESC").
		Find(&challenges).Error; err != nil {
		return nil, fmt.Errorf("failed to get challenges: %w", err)
	}

	return challenges, nil
}
