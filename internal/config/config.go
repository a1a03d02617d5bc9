package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to run the crosswatch daemon.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Processing ProcessingConfig `yaml:"processing"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the ops gRPC listener and the admin HTTP listener.
type ServerConfig struct {
	GRPCAddress     string        `yaml:"grpcAddress"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// DatabaseConfig configures the shared monitoring Postgres instance.
type DatabaseConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Name         string        `yaml:"name"`
	SSLMode      string        `yaml:"sslmode"`
	MaxOpenConns int           `yaml:"maxOpenConns"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// ProcessingConfig controls the correlation and scoring pipeline.
type ProcessingConfig struct {
	CorrelationWindowSeconds int64         `yaml:"correlationWindowSeconds"`
	FetchInterval            time.Duration `yaml:"fetchInterval"`
	AnomalyField             string        `yaml:"anomalyField"`
	AnomalyThreshold         float64       `yaml:"anomalyThreshold"`
}

// AlertingConfig controls throttling, rate limiting, and channels.
type AlertingConfig struct {
	MinConfidence   float64       `yaml:"minConfidence"`
	HistorySize     int           `yaml:"historySize"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow"`
	DeliveryTimeout time.Duration `yaml:"deliveryTimeout"`
	Email           EmailConfig   `yaml:"email"`
	Slack           SlackConfig   `yaml:"slack"`
	Webhook         WebhookConfig `yaml:"webhook"`
	SMS             SMSConfig     `yaml:"sms"`
}

// EmailConfig configures the SMTP mail channel.
type EmailConfig struct {
	Enabled    bool     `yaml:"enabled"`
	SMTPHost   string   `yaml:"smtpHost"`
	SMTPPort   int      `yaml:"smtpPort"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

// SlackConfig configures the chat webhook channel.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhookURL"`
}

// WebhookConfig configures the generic webhook channel.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// SMSConfig configures the SNS-backed SMS channel.
type SMSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TopicARN string `yaml:"topicARN"`
	Region   string `yaml:"region"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CROSSWATCH_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Validate returns a list of configuration issues worth surfacing at startup.
func (c *Config) Validate() []string {
	issues := make([]string, 0)
	if c.Database.Host == "" {
		issues = append(issues, "database host is empty")
	}
	if c.Processing.CorrelationWindowSeconds <= 0 {
		issues = append(issues, "correlation window must be positive")
	}
	if c.Processing.AnomalyThreshold <= 0 || c.Processing.AnomalyThreshold >= 1 {
		issues = append(issues, "anomaly threshold should be in (0, 1)")
	}
	if c.Alerting.Email.Enabled && len(c.Alerting.Email.Recipients) == 0 {
		issues = append(issues, "email channel enabled but no recipients configured")
	}
	if c.Alerting.Slack.Enabled && c.Alerting.Slack.WebhookURL == "" {
		issues = append(issues, "slack channel enabled but webhook URL is empty")
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		issues = append(issues, "webhook channel enabled but URL is empty")
	}
	if c.Alerting.SMS.Enabled && c.Alerting.SMS.TopicARN == "" {
		issues = append(issues, "sms channel enabled but topic ARN is empty")
	}
	return issues
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			GRPCAddress:     ":50052",
			HTTPAddress:     ":8080",
			GracefulTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			User:         "crosswatch",
			Name:         "monitoring",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			QueryTimeout: 30 * time.Second,
		},
		Processing: ProcessingConfig{
			CorrelationWindowSeconds: 10,
			FetchInterval:            5 * time.Minute,
			AnomalyField:             "error_rate",
			AnomalyThreshold:         0.5,
		},
		Alerting: AlertingConfig{
			MinConfidence:   0.3,
			HistorySize:     100,
			RateLimitWindow: 300 * time.Second,
			DeliveryTimeout: 30 * time.Second,
			Email: EmailConfig{
				SMTPPort: 587,
			},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CROSSWATCH_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("CROSSWATCH_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("CROSSWATCH_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("CROSSWATCH_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("CROSSWATCH_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("CROSSWATCH_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("CROSSWATCH_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("CROSSWATCH_CORRELATION_WINDOW"); v != "" {
		if window, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Processing.CorrelationWindowSeconds = window
		}
	}
	if v := os.Getenv("CROSSWATCH_FETCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Processing.FetchInterval = d
		}
	}
	if v := os.Getenv("CROSSWATCH_ANOMALY_THRESHOLD"); v != "" {
		if threshold, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Processing.AnomalyThreshold = threshold
		}
	}
	if v := os.Getenv("CROSSWATCH_RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerting.RateLimitWindow = d
		}
	}
	if v := os.Getenv("CROSSWATCH_SMTP_HOST"); v != "" {
		cfg.Alerting.Email.SMTPHost = v
		cfg.Alerting.Email.Enabled = true
	}
	if v := os.Getenv("CROSSWATCH_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Alerting.Email.SMTPPort = port
		}
	}
	if v := os.Getenv("CROSSWATCH_SMTP_USER"); v != "" {
		cfg.Alerting.Email.Username = v
	}
	if v := os.Getenv("CROSSWATCH_SMTP_PASSWORD"); v != "" {
		cfg.Alerting.Email.Password = v
	}
	if v := os.Getenv("CROSSWATCH_EMAIL_FROM"); v != "" {
		cfg.Alerting.Email.From = v
	}
	if v := os.Getenv("CROSSWATCH_EMAIL_TO"); v != "" {
		cfg.Alerting.Email.Recipients = splitAndTrim(v)
	}
	if v := os.Getenv("CROSSWATCH_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerting.Slack.WebhookURL = v
		cfg.Alerting.Slack.Enabled = true
	}
	if v := os.Getenv("CROSSWATCH_WEBHOOK_URL"); v != "" {
		cfg.Alerting.Webhook.URL = v
		cfg.Alerting.Webhook.Enabled = true
	}
	if v := os.Getenv("CROSSWATCH_SMS_TOPIC_ARN"); v != "" {
		cfg.Alerting.SMS.TopicARN = v
		cfg.Alerting.SMS.Enabled = true
	}
	if v := os.Getenv("CROSSWATCH_SMS_REGION"); v != "" {
		cfg.Alerting.SMS.Region = v
	}
	if v := os.Getenv("CROSSWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CROSSWATCH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
