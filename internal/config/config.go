package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName  string
	Database     DatabaseConfig
	RabbitMQ     RabbitMQConfig
	OAuth        OAuthConfig
	Extraction   ExtractionConfig
	Dispatch     DispatchConfig
	Anomaly      AnomalyConfig
	Notification NotificationConfig
	Watermark    WatermarkConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL               string
	TriggerExchange   string
	TriggerQueue      string
	TriggerRoutingKey string
	DLQQueue          string
	EventsExchange    string
	RunRoutingKey     string
	AnomalyRoutingKey string
	PrefetchCount     int
}

// OAuthConfig holds the client used to refresh user access tokens
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// ExtractionConfig holds settings for the invoice extraction service
type ExtractionConfig struct {
	BaseURL       string
	Timeout       time.Duration
	MaxMonthlyKWh float64
}

// DispatchConfig holds settings for alert email delivery
type DispatchConfig struct {
	GmailAPIBaseURL string
	Subject         string
}

// AnomalyConfig holds anomaly detection settings
type AnomalyConfig struct {
	MinIncreasePercentage      float64
	ContaminationMin           float64
	ContaminationMax           float64
	SmallBaselineContamination float64
	SmallBaselineSize          int
	PctGuard                   float64
	IQRMultiplier              float64
	StdMultiplier              float64
	Trees                      int
}

// NotificationConfig holds orchestrator settings
type NotificationConfig struct {
	UserTimeout          time.Duration
	MaxConcurrentUsers   int
	RunInterval          time.Duration
	RunOnStart           bool
	MaxAnomaliesPerEmail int
}

// WatermarkConfig holds the fallback windows used when resuming a sync
type WatermarkConfig struct {
	UnparseableLookback time.Duration
	EmptyLookback       time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "energy-consumption-notifier"),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			TriggerExchange:   getEnv("RABBITMQ_TRIGGER_EXCHANGE", "energy-consumption.commands.exchange"),
			TriggerQueue:      getEnv("RABBITMQ_TRIGGER_QUEUE", "energy-consumption.notification-runs.queue"),
			TriggerRoutingKey: getEnv("RABBITMQ_TRIGGER_ROUTING_KEY", "notification.run.requested"),
			DLQQueue:          getEnv("RABBITMQ_DLQ_QUEUE", "energy-consumption.notification-runs.dlq"),
			EventsExchange:    getEnv("RABBITMQ_EVENTS_EXCHANGE", "energy-consumption.events.exchange"),
			RunRoutingKey:     getEnv("RABBITMQ_RUN_ROUTING_KEY", "notification.run.completed"),
			AnomalyRoutingKey: getEnv("RABBITMQ_ANOMALY_ROUTING_KEY", "consumption.anomaly.alerted"),
			PrefetchCount:     getEnvAsInt("RABBITMQ_PREFETCH", 1),
		},
		OAuth: OAuthConfig{
			ClientID:     getEnv("OAUTH_CLIENT_ID", ""),
			ClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
			TokenURL:     getEnv("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/gmail.send",
			},
		},
		Extraction: ExtractionConfig{
			BaseURL:       getEnv("EXTRACTION_BASE_URL", ""),
			Timeout:       getEnvAsDuration("EXTRACTION_TIMEOUT", 90*time.Second),
			MaxMonthlyKWh: getEnvAsFloat("EXTRACTION_MAX_MONTHLY_KWH", 20000),
		},
		Dispatch: DispatchConfig{
			GmailAPIBaseURL: getEnv("GMAIL_API_BASE_URL", "https://gmail.googleapis.com"),
			Subject:         getEnv("ALERT_EMAIL_SUBJECT", "High electricity consumption detected"),
		},
		Anomaly: AnomalyConfig{
			MinIncreasePercentage:      getEnvAsFloat("ANOMALY_MIN_INCREASE_PERCENTAGE", 20),
			ContaminationMin:           getEnvAsFloat("ANOMALY_CONTAMINATION_MIN", 0.05),
			ContaminationMax:           getEnvAsFloat("ANOMALY_CONTAMINATION_MAX", 0.3),
			SmallBaselineContamination: getEnvAsFloat("ANOMALY_SMALL_BASELINE_CONTAMINATION", 0.5),
			SmallBaselineSize:          getEnvAsInt("ANOMALY_SMALL_BASELINE_SIZE", 3),
			PctGuard:                   getEnvAsFloat("ANOMALY_PCT_GUARD", 200),
			IQRMultiplier:              getEnvAsFloat("ANOMALY_IQR_MULTIPLIER", 3),
			StdMultiplier:              getEnvAsFloat("ANOMALY_STD_MULTIPLIER", 4),
			Trees:                      getEnvAsInt("ANOMALY_TREES", 100),
		},
		Notification: NotificationConfig{
			UserTimeout:          getEnvAsDuration("NOTIFY_USER_TIMEOUT", 5*time.Minute),
			MaxConcurrentUsers:   getEnvAsInt("NOTIFY_MAX_CONCURRENT_USERS", 10),
			RunInterval:          getEnvAsDuration("NOTIFY_RUN_INTERVAL", 2*time.Hour),
			RunOnStart:           getEnvAsBool("NOTIFY_RUN_ON_START", false),
			MaxAnomaliesPerEmail: getEnvAsInt("NOTIFY_MAX_ANOMALIES_PER_EMAIL", 10),
		},
		Watermark: WatermarkConfig{
			UnparseableLookback: getEnvAsDuration("WATERMARK_UNPARSEABLE_LOOKBACK", 7*24*time.Hour),
			EmptyLookback:       getEnvAsDuration("WATERMARK_EMPTY_LOOKBACK", 30*24*time.Hour),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.Extraction.BaseURL == "" {
		return nil, fmt.Errorf("EXTRACTION_BASE_URL is required but not set in environment variables")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the tuning knobs are mutually consistent
func (c *Config) Validate() error {
	a := c.Anomaly
	if a.ContaminationMin <= 0 || a.ContaminationMax > 0.5 || a.ContaminationMin > a.ContaminationMax {
		return fmt.Errorf("contamination bounds must satisfy 0 < min <= max <= 0.5, got [%v, %v]",
			a.ContaminationMin, a.ContaminationMax)
	}
	if a.SmallBaselineContamination <= 0 || a.SmallBaselineContamination > 0.5 {
		return fmt.Errorf("ANOMALY_SMALL_BASELINE_CONTAMINATION must be in (0, 0.5], got %v", a.SmallBaselineContamination)
	}
	if a.IQRMultiplier <= 0 || a.StdMultiplier <= 0 || a.PctGuard <= 0 {
		return fmt.Errorf("anomaly guard multipliers must be positive")
	}
	if a.Trees < 1 {
		return fmt.Errorf("ANOMALY_TREES must be at least 1, got %d", a.Trees)
	}
	if a.MinIncreasePercentage < 0 {
		return fmt.Errorf("ANOMALY_MIN_INCREASE_PERCENTAGE must not be negative, got %v", a.MinIncreasePercentage)
	}

	n := c.Notification
	if n.UserTimeout <= 0 {
		return fmt.Errorf("NOTIFY_USER_TIMEOUT must be positive, got %s", n.UserTimeout)
	}
	if n.MaxConcurrentUsers < 1 {
		return fmt.Errorf("NOTIFY_MAX_CONCURRENT_USERS must be at least 1, got %d", n.MaxConcurrentUsers)
	}
	if n.RunInterval <= 0 {
		return fmt.Errorf("NOTIFY_RUN_INTERVAL must be positive, got %s", n.RunInterval)
	}
	if n.MaxAnomaliesPerEmail < 1 {
		return fmt.Errorf("NOTIFY_MAX_ANOMALIES_PER_EMAIL must be at least 1, got %d", n.MaxAnomaliesPerEmail)
	}

	return nil
}

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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
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
