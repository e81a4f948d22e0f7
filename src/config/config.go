package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port         string
	DatabasePath string
	LogLevel     string
	JWTSecret    string

	// Ledger behavior
	BaseCurrency       string
	RateRefreshTargets []string
	RateFeedURL        string
	MaxFutureValueDays int

	// Directory of external statement files, one per account and date
	StatementDir string

	// Reconciliation / daily close
	ReconTolerance      string // decimal string, e.g. "0.0001"
	EscalationThreshold string // decimal string; discrepancies above this trigger alerts

	// Alerting
	AlertProvider        string // "log" or "mailgun"
	MailgunDomain        string
	MailgunPrivateAPIKey string
	AlertSender          string
	AlertRecipient       string

	MaxUploadSizeBytes int64
	ServiceTokenExpiry time.Duration
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getEnv("JWT_SECRET", "a-very-secure-32-byte-long-key-must-be-32-bytes!")
	if jwtSecret == "a-very-secure-32-byte-long-key-must-be-32-bytes!" {
		log.Println("WARNING: Using default insecure JWT_SECRET. Set JWT_SECRET environment variable for production.")
	}

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "10485760")
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 10MB. Error: %v", maxUploadSizeBytesStr, err)
		maxUploadSizeBytes = 10 * 1024 * 1024
	}

	rateTargetsStr := getEnv("RATE_REFRESH_TARGETS", "USD,GBP,CHF,JPY")
	var rateTargets []string
	for _, t := range strings.Split(rateTargetsStr, ",") {
		if t = strings.TrimSpace(t); t != "" {
			rateTargets = append(rateTargets, strings.ToUpper(t))
		}
	}

	Cfg = &AppConfig{
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./ledgercore.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		JWTSecret:    jwtSecret,

		BaseCurrency:       strings.ToUpper(getEnv("BASE_CURRENCY", "EUR")),
		RateRefreshTargets: rateTargets,
		RateFeedURL:        getEnv("RATE_FEED_URL", "https://api.frankfurter.app/latest"),
		MaxFutureValueDays: getEnvAsInt("INGEST_MAX_FUTURE_DAYS", 1),

		StatementDir: getEnv("STATEMENT_DIR", "./statements"),

		ReconTolerance:      getEnv("RECON_TOLERANCE", "0.0001"),
		EscalationThreshold: getEnv("RECON_ESCALATION_THRESHOLD", "100.00"),

		AlertProvider:        getEnv("ALERT_PROVIDER", "log"),
		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),
		AlertSender:          getEnv("ALERT_SENDER", "ledger-alerts@example.com"),
		AlertRecipient:       getEnv("ALERT_RECIPIENT", ""),

		MaxUploadSizeBytes: maxUploadSizeBytes,
		ServiceTokenExpiry: getEnvAsDuration("SERVICE_TOKEN_EXPIRY", 60*time.Minute),
	}

	if Cfg.AlertProvider == "mailgun" {
		if Cfg.MailgunDomain == "" {
			log.Fatalf("FATAL: MAILGUN_DOMAIN is required when ALERT_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
		if Cfg.MailgunPrivateAPIKey == "" {
			log.Fatalf("FATAL: MAILGUN_PRIVATE_API_KEY is required when ALERT_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
		if Cfg.AlertRecipient == "" {
			log.Fatalf("FATAL: ALERT_RECIPIENT must be configured when ALERT_PROVIDER is 'mailgun'.")
		}
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, BaseCurrency=%s, AlertProvider=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.BaseCurrency, Cfg.AlertProvider)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
