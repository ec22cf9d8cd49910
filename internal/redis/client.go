package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"onboarding-service/internal/config"
)

// Client wraps the Redis client with application-specific methods
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection to Redis
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key prefixes
const (
	DraftKeyPrefix        = "onboarding:draft:"
	AvailabilityKeyPrefix = "onboarding:availability:"
)

// DraftData is the cached snapshot of a session's entered field values, so
// an abandoned browser can resume where it left off
type DraftData struct {
	SessionID   string            `json:"session_id"`
	Variant     string            `json:"variant"`
	CurrentStep string            `json:"current_step"`
	FieldValues map[string]string `json:"field_values"`
	LastSavedAt time.Time         `json:"last_saved_at"`
}

// SaveDraft saves a session's draft snapshot with a TTL
func (c *Client) SaveDraft(ctx context.Context, sessionID string, data *DraftData, ttl time.Duration) error {
	key := DraftKeyPrefix + sessionID
	data.LastSavedAt = time.Now()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal draft data: %w", err)
	}

	return c.rdb.Set(ctx, key, jsonData, ttl).Err()
}

// GetDraft retrieves a session's draft snapshot, or nil when absent
func (c *Client) GetDraft(ctx context.Context, sessionID string) (*DraftData, error) {
	key := DraftKeyPrefix + sessionID

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft data: %w", err)
	}

	var draft DraftData
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft data: %w", err)
	}

	return &draft, nil
}

// DeleteDraft removes a session's draft snapshot
func (c *Client) DeleteDraft(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, DraftKeyPrefix+sessionID).Err()
}

// SaveAvailability caches a verifier answer for a field/value pair so
// repeated identical checks do not re-query the verifier
func (c *Client) SaveAvailability(ctx context.Context, field, value string, available bool, ttl time.Duration) error {
	key := fmt.Sprintf("%s%s:%s", AvailabilityKeyPrefix, field, value)
	return c.rdb.Set(ctx, key, available, ttl).Err()
}

// GetAvailability returns the cached verifier answer for a field/value pair;
// found is false on a cache miss
func (c *Client) GetAvailability(ctx context.Context, field, value string) (available, found bool, err error) {
	key := fmt.Sprintf("%s%s:%s", AvailabilityKeyPrefix, field, value)
	result, err := c.rdb.Get(ctx, key).Bool()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to get availability cache: %w", err)
	}
	return result, true, nil
}
