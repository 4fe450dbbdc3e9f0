package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/database"
)

const (
	StoreKindPostgres = "postgres"
	StoreKindMemory   = "memory"
)

// Config agrupa toda la configuración del proceso, leída de variables de entorno.
type Config struct {
	Port            string
	StoreKind       string
	Database        database.Option
	JWTSecret       string
	AdminSecretKey  string
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	Market MarketConfig

	ClerkSecretKey     string
	ClerkWebhookSecret string
}

// MarketConfig configura el cache de mercado respaldado por CoinGecko.
type MarketConfig struct {
	APIURL          string
	APIKey          string
	Currency        string
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
}

// Load lee la configuración de las variables de entorno. Para usar un .env
// hay que llamar antes a godotenv.Load.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		StoreKind: strings.ToLower(getEnv("STORE_KIND", StoreKindPostgres)),
		Database: database.Option{
			ConnString: os.Getenv("DATABASE_URL"),
			Host:       os.Getenv("DB_HOST"),
			User:       os.Getenv("DB_USER"),
			Password:   os.Getenv("DB_PASSWORD"),
			Database:   getEnv("DB_NAME", "portfolio"),
			SSLMode:    os.Getenv("DB_SSLMODE"),
		},
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AdminSecretKey:     os.Getenv("ADMIN_SECRET_KEY"),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		ClerkSecretKey:     os.Getenv("CLERK_SECRET_KEY"),
		ClerkWebhookSecret: os.Getenv("CLERK_WEBHOOK_SECRET"),
		Market: MarketConfig{
			APIURL:   strings.TrimRight(getEnv("COINGECKO_API_URL", "https://api.coingecko.com/api/v3"), "/"),
			APIKey:   os.Getenv("COINGECKO_API_KEY"),
			Currency: strings.ToLower(getEnv("MARKET_CURRENCY", "usd")),
		},
	}

	var err error
	if port := os.Getenv("DB_PORT"); port != "" {
		if cfg.Database.Port, err = strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("invalid DB_PORT %q: %w", port, err)
		}
	}
	if cfg.Market.RefreshInterval, err = getDuration("MARKET_REFRESH_INTERVAL", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.Market.FetchTimeout, err = getDuration("MARKET_FETCH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate revisa los valores que Load no puede rechazar por sí solo.
func (c *Config) Validate() error {
	switch c.StoreKind {
	case StoreKindPostgres, StoreKindMemory:
	default:
		return fmt.Errorf("invalid STORE_KIND %q (use %s|%s)", c.StoreKind, StoreKindPostgres, StoreKindMemory)
	}
	if c.Market.RefreshInterval <= 0 {
		return fmt.Errorf("MARKET_REFRESH_INTERVAL must be positive, got %v", c.Market.RefreshInterval)
	}
	if c.Market.FetchTimeout <= 0 {
		return fmt.Errorf("MARKET_FETCH_TIMEOUT must be positive, got %v", c.Market.FetchTimeout)
	}
	if c.Market.Currency == "" {
		return fmt.Errorf("MARKET_CURRENCY must not be empty")
	}
	if c.JWTSecret == "" && !c.ClerkEnabled() {
		return fmt.Errorf("JWT_SECRET is required when CLERK_SECRET_KEY is not set")
	}
	return nil
}

// ClerkEnabled indica si las sesiones se verifican con Clerk en lugar de JWT locales.
func (c *Config) ClerkEnabled() bool {
	return c.ClerkSecretKey != ""
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
