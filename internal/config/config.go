package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the onboarding service
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Security      SecurityConfig
	Collaborators CollaboratorConfig
	Onboarding    OnboardingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Mode string // debug, release
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	APIKey string
}

// CollaboratorConfig holds base URLs and keys for the remote services the
// onboarding core orchestrates
type CollaboratorConfig struct {
	AvailabilityURL string
	AvailabilityKey string
	OtpServiceURL   string
	OtpServiceKey   string
	TaxVerifierURL  string
	TaxVerifierKey  string
	AccountURL      string
	AccountKey      string
}

// OnboardingConfig holds the tunables of the onboarding state machine
type OnboardingConfig struct {
	OTPCooldownSeconds  int
	OTPMaxAttempts      int
	OTPTickInterval     time.Duration
	DebounceWindow      time.Duration
	MinUsernameLength   int
	MinHandleLength     int
	MaxHandleLength     int
	MinAge              int
	SupportedCountries  []string // empty list means all countries accepted
	BlockedEmailDomains []string // consumer webmail deny-list for business signup
	GateCacheTTL        time.Duration
	DraftTTL            time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8091"),
			Mode: getEnv("GIN_MODE", "debug"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "onboarding"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Security: SecurityConfig{
			APIKey: getEnv("API_KEY", ""),
		},
		Collaborators: CollaboratorConfig{
			AvailabilityURL: getEnv("AVAILABILITY_SERVICE_URL", "http://availability-service:8080"),
			AvailabilityKey: getEnv("AVAILABILITY_SERVICE_API_KEY", ""),
			OtpServiceURL:   getEnv("OTP_SERVICE_URL", "http://otp-service:8088"),
			OtpServiceKey:   getEnv("OTP_SERVICE_API_KEY", ""),
			TaxVerifierURL:  getEnv("TAX_VERIFIER_URL", "http://tax-verifier:8084"),
			TaxVerifierKey:  getEnv("TAX_VERIFIER_API_KEY", ""),
			AccountURL:      getEnv("ACCOUNT_SERVICE_URL", "http://account-service:8082"),
			AccountKey:      getEnv("ACCOUNT_SERVICE_API_KEY", ""),
		},
		Onboarding: OnboardingConfig{
			OTPCooldownSeconds:  getEnvAsInt("OTP_COOLDOWN_SECONDS", 60),
			OTPMaxAttempts:      getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			OTPTickInterval:     getEnvAsDuration("OTP_TICK_INTERVAL", time.Second),
			DebounceWindow:      getEnvAsDuration("GATE_DEBOUNCE_WINDOW", 400*time.Millisecond),
			MinUsernameLength:   getEnvAsInt("MIN_USERNAME_LENGTH", 3),
			MinHandleLength:     getEnvAsInt("MIN_HANDLE_LENGTH", 3),
			MaxHandleLength:     getEnvAsInt("MAX_HANDLE_LENGTH", 60),
			MinAge:              getEnvAsInt("MIN_SIGNUP_AGE", 18),
			SupportedCountries:  getEnvAsList("SUPPORTED_COUNTRIES", ""),
			BlockedEmailDomains: getEnvAsList("BLOCKED_EMAIL_DOMAINS", "gmail.com,yahoo.com,hotmail.com,outlook.com,aol.com,icloud.com,proton.me"),
			GateCacheTTL:        getEnvAsDuration("GATE_CACHE_TTL", 30*time.Second),
			DraftTTL:            getEnvAsDuration("DRAFT_TTL", 72*time.Hour),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Security.APIKey == "" {
		return fmt.Errorf("API_KEY is required for inter-service authentication")
	}

	if c.Onboarding.OTPCooldownSeconds <= 0 {
		return fmt.Errorf("OTP_COOLDOWN_SECONDS must be positive")
	}

	if c.Onboarding.OTPTickInterval <= 0 {
		return fmt.Errorf("OTP_TICK_INTERVAL must be positive")
	}

	if c.Onboarding.MaxHandleLength < c.Onboarding.MinHandleLength {
		return fmt.Errorf("MAX_HANDLE_LENGTH must be >= MIN_HANDLE_LENGTH")
	}

	return nil
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			list = append(list, strings.ToLower(trimmed))
		}
	}
	return list
}
