package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config agrupa as variáveis de ambiente do serviço
type Config struct {
	Port        string
	StoreDriver string
	ServiceName string

	DatabaseUser     string
	DatabasePassword string
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DBMaxConns       int

	LockTimeout     time.Duration
	SaleMaxAttempts int
	AutoMigrate     bool
	SeedDemo        bool

	OTELEnabled  bool
	OTLPEndpoint string

	DTMEnabled bool
}

// LoadConfig lê o .env (se existir) e monta a configuração a partir do ambiente
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️ could not load .env file: %v", err)
	}

	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		ServiceName:      getEnv("SERVICE_NAME", "pos-service"),
		DatabaseUser:     getEnv("DATABASE_USER", "root"),
		DatabasePassword: getEnv("DATABASE_PASSWORD", "pass"),
		DatabaseHost:     getEnv("DATABASE_HOST", "localhost"),
		DatabasePort:     getEnv("DATABASE_PORT", "5432"),
		DatabaseName:     getEnv("DATABASE_NAME", "pos_db"),
		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	}

	var err error
	if cfg.DBMaxConns, err = getEnvInt("DB_MAX_CONNS", 10); err != nil {
		return cfg, err
	}
	if cfg.LockTimeout, err = getEnvDuration("LOCK_TIMEOUT", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SaleMaxAttempts, err = getEnvInt("SALE_MAX_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.AutoMigrate, err = getEnvBool("AUTO_MIGRATE", true); err != nil {
		return cfg, err
	}
	if cfg.SeedDemo, err = getEnvBool("SEED_DEMO", false); err != nil {
		return cfg, err
	}
	if cfg.OTELEnabled, err = getEnvBool("OTEL_ENABLED", true); err != nil {
		return cfg, err
	}
	if cfg.DTMEnabled, err = getEnvBool("DTM_ENABLED", false); err != nil {
		return cfg, err
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: must be %s or %s", c.StoreDriver, StoreDriverPostgres, StoreDriverMemory)
	}
	if c.DTMEnabled && c.StoreDriver != StoreDriverPostgres {
		return fmt.Errorf("DTM_ENABLED requires STORE_DRIVER=%s", StoreDriverPostgres)
	}
	if c.SaleMaxAttempts < 1 {
		return fmt.Errorf("SALE_MAX_ATTEMPTS must be at least 1")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	return nil
}

// PostgresDSN é o DSN em formato URL usado pelo pgxpool
func (c Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DatabaseUser, c.DatabasePassword, c.DatabaseHost, c.DatabasePort, c.DatabaseName,
	)
}

// LibPQDSN é o DSN em formato key=value usado pelo database/sql (lib/pq)
func (c Config) LibPQDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUser, c.DatabasePassword, c.DatabaseName,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
