package config

import (
	"os"
	"strings"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	AllowedProducts     []string

	// Telegram
	TelegramBotToken string
	AdminChatID      string

	// JWT issued by the auth provider, verified on dashboard endpoints
	JWTSecret string

	// Links embedded in customer notifications
	DashboardURL string
	SupportEmail string

	// Scheduled expiry scan
	ExpiryCronSpec string
	JobToken       string

	// Server
	Port        string
	CORSOrigins string
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "dashboard_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		AllowedProducts:     parseCSV(getEnv("STRIPE_ALLOWED_PRODUCTS", "")),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminChatID:      getEnv("ADMIN_CHAT_ID", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		DashboardURL: getEnv("DASHBOARD_URL", "https://dashboard.cryptoanalyzerpro.com"),
		SupportEmail: getEnv("SUPPORT_EMAIL", "support@cryptoanalyzerpro.com"),

		ExpiryCronSpec: getEnv("EXPIRY_CRON", "0 8 * * *"),
		JobToken:       getEnv("JOB_TOKEN", ""),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
	}
}

// HasStripeConfig reports whether the webhook handler can verify and resolve
// events. Without it the endpoint answers 503 and touches nothing.
func (c *Config) HasStripeConfig() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != ""
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
