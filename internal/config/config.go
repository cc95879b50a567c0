package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string

	VerificationsTable string

	SNSRegion string

	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	WhatsAppAPIURL string
	WhatsAppToken  string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	OTP OTPConfig

	AllowedOrigins []string // CORS allowed origins
}

// OTPConfig holds the tunables of the OTP engine.
type OTPConfig struct {
	MaxAttempts    int
	DefaultTTL     time.Duration
	SignupTTL      time.Duration
	RecoveryTTL    time.Duration
	LoginTTL       time.Duration
	AgentOrderTTL  time.Duration
	ResendInterval time.Duration // minimum gap between resends for one record
	Retention      time.Duration // how long used/expired records are kept
	SweepInterval  time.Duration
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),

		VerificationsTable: getEnv("DYNAMO_TABLE_VERIFICATIONS", "verification_records"),

		SNSRegion: getEnv("SNS_REGION", "us-east-1"),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		WhatsAppAPIURL: getEnv("WHATSAPP_API_URL", ""),
		WhatsAppToken:  getEnv("WHATSAPP_API_TOKEN", ""),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 24*time.Hour),

		OTP: OTPConfig{
			MaxAttempts:    getEnvInt("OTP_MAX_ATTEMPTS", 3),
			DefaultTTL:     getEnvDuration("OTP_DEFAULT_TTL", 10*time.Minute),
			SignupTTL:      getEnvDuration("OTP_SIGNUP_TTL", 10*time.Minute),
			RecoveryTTL:    getEnvDuration("OTP_RECOVERY_TTL", 15*time.Minute),
			LoginTTL:       getEnvDuration("OTP_LOGIN_TTL", 5*time.Minute),
			AgentOrderTTL:  getEnvDuration("OTP_AGENT_ORDER_TTL", 10*time.Minute),
			ResendInterval: getEnvDuration("OTP_RESEND_INTERVAL", 60*time.Second),
			Retention:      getEnvDuration("OTP_RETENTION", 24*time.Hour),
			SweepInterval:  getEnvDuration("OTP_SWEEP_INTERVAL", 10*time.Minute),
		},

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

// TTLFor returns the validity window for a purpose.
func (c OTPConfig) TTLFor(purpose string) time.Duration {
	switch purpose {
	case "signup":
		return c.SignupTTL
	case "password_recovery":
		return c.RecoveryTTL
	case "login_second_factor":
		return c.LoginTTL
	case "agent_order_verification":
		return c.AgentOrderTTL
	}
	return c.DefaultTTL
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
