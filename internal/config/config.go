package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Billing  BillingConfig
	Email    EmailConfig
	Slack    SlackConfig
	Logging  LoggingConfig
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	FrontendURL     string
	BaseURL         string
	Environment     string
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// For SQLite
	Path string
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	JWTSecret       string
	IdentityBaseURL string
	IdentityAPIKey  string
}

// BillingConfig contains billing provider configuration
type BillingConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	Prices              PriceConfig
}

// PriceConfig maps subscription tiers and billing cycles to billing-provider
// price references.
type PriceConfig struct {
	EssentialMonthly string
	EssentialAnnual  string
	AdvancedMonthly  string
	AdvancedAnnual   string
	PremiumMonthly   string
	PremiumAnnual    string
	SafetyNetMonthly string
	SafetyNetAnnual  string
}

// EmailConfig contains outbound transactional email configuration
type EmailConfig struct {
	LoopsAPIKey     string
	ResetTemplateID string
	ResetURLPath    string
	RequestTimeout  time.Duration
}

// SlackConfig contains Slack notification configuration
type SlackConfig struct {
	WebhookURL string
	Channel    string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string
	Format string // json or console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors as it's optional)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			FrontendURL:     getEnv("FRONTEND_URL", "http://localhost:5173"),
			BaseURL:         getEnv("BASE_URL", "http://localhost:5173"),
			Environment:     getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "sitekeeper"),
			User:            getEnv("DB_USER", ""),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			Path:            getEnv("DB_PATH", "./data.db"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("JWT_SECRET", "supersecretkey"),
			IdentityBaseURL: getEnv("IDENTITY_BASE_URL", ""),
			IdentityAPIKey:  getEnv("IDENTITY_API_KEY", ""),
		},
		Billing: BillingConfig{
			StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Prices: PriceConfig{
				EssentialMonthly: getEnv("STRIPE_PRICE_ESSENTIAL_MONTHLY", ""),
				EssentialAnnual:  getEnv("STRIPE_PRICE_ESSENTIAL_ANNUAL", ""),
				AdvancedMonthly:  getEnv("STRIPE_PRICE_ADVANCED_MONTHLY", ""),
				AdvancedAnnual:   getEnv("STRIPE_PRICE_ADVANCED_ANNUAL", ""),
				PremiumMonthly:   getEnv("STRIPE_PRICE_PREMIUM_MONTHLY", ""),
				PremiumAnnual:    getEnv("STRIPE_PRICE_PREMIUM_ANNUAL", ""),
				SafetyNetMonthly: getEnv("STRIPE_PRICE_SAFETY_NET_MONTHLY", ""),
				SafetyNetAnnual:  getEnv("STRIPE_PRICE_SAFETY_NET_ANNUAL", ""),
			},
		},
		Email: EmailConfig{
			LoopsAPIKey:     getEnv("LOOPS_API_KEY", ""),
			ResetTemplateID: getEnv("LOOPS_RESET_TEMPLATE_ID", ""),
			ResetURLPath:    getEnv("RESET_URL_PATH", "/reset-password"),
			RequestTimeout:  getEnvAsDuration("EMAIL_REQUEST_TIMEOUT", 10*time.Second),
		},
		Slack: SlackConfig{
			WebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			Channel:    getEnv("SLACK_CHANNEL", "#billing"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "supersecretkey" {
		return fmt.Errorf("JWT_SECRET must be set and should not use default value in production")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Billing.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY must be set")
	}

	if c.Billing.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET must be set")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
