package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string

	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	StoreMode   string
	DatabaseURL string
	DBMaxConns  int32

	LeadsPageSize         int
	DistributionBatchSize int

	RedisAddr     string
	RedisPassword string
	RunLockTTL    time.Duration

	AMQPURL                  string
	SummaryBroadcastInterval time.Duration

	ArchiveMode     string
	ArchiveEndpoint string
	ArchiveRegion   string
	ArchiveTable    string

	Auth AuthConfig
}

// AuthConfig controls JWT verification
type AuthConfig struct {
	Env             string
	SkipAuth        bool
	VerifySignature bool
	OIDCIssuer      string
}

var defaults = map[string]string{
	"PORT":                       "8080",
	"ALLOWED_ORIGINS":            "http://localhost:5173",
	"LOG_LEVEL":                  "info",
	"LOG_FORMAT":                 "console",
	"WS_READ_TIMEOUT":            "60",
	"WS_WRITE_TIMEOUT":           "10",
	"STORE_MODE":                 "memory",
	"DB_MAX_CONNS":               "10",
	"LEADS_PAGE_SIZE":            "1000",
	"DISTRIBUTION_BATCH_SIZE":    "500",
	"RUN_LOCK_TTL":               "2m",
	"SUMMARY_BROADCAST_INTERVAL": "0",
	"ARCHIVE_MODE":               "none",
	"ARCHIVE_ENDPOINT":           "http://localhost:8000",
	"ARCHIVE_REGION":             "eu-central-1",
	"ARCHIVE_TABLE":              "leaddesk-distribution-logs",
}

// Load reads .env (if present), an optional config file named by CONFIG_FILE
// and the environment, in increasing order of precedence
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	config := &Config{
		Port:            v.GetString("PORT"),
		AllowedOrigins:  splitList(v.GetString("ALLOWED_ORIGINS")),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       strings.ToLower(v.GetString("LOG_FORMAT")),
		StoreMode:       strings.ToLower(v.GetString("STORE_MODE")),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		AMQPURL:         v.GetString("AMQP_URL"),
		ArchiveMode:     strings.ToLower(v.GetString("ARCHIVE_MODE")),
		ArchiveEndpoint: v.GetString("ARCHIVE_ENDPOINT"),
		ArchiveRegion:   v.GetString("ARCHIVE_REGION"),
		ArchiveTable:    v.GetString("ARCHIVE_TABLE"),
		Auth: AuthConfig{
			Env:             v.GetString("ENV"),
			SkipAuth:        v.GetString("SKIP_AUTH") == "true",
			VerifySignature: v.GetString("VERIFY_JWT_SIGNATURE") == "true",
			OIDCIssuer:      v.GetString("OIDC_ISSUER"),
		},
	}

	// WebSocket timeouts are whole seconds
	wsReadTimeout, err := intValue(v, "WS_READ_TIMEOUT")
	if err != nil {
		return nil, err
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := intValue(v, "WS_WRITE_TIMEOUT")
	if err != nil {
		return nil, err
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	maxConns, err := intValue(v, "DB_MAX_CONNS")
	if err != nil {
		return nil, err
	}
	config.DBMaxConns = int32(maxConns)

	if config.LeadsPageSize, err = intValue(v, "LEADS_PAGE_SIZE"); err != nil {
		return nil, err
	}
	if config.DistributionBatchSize, err = intValue(v, "DISTRIBUTION_BATCH_SIZE"); err != nil {
		return nil, err
	}
	if config.RunLockTTL, err = durationValue(v, "RUN_LOCK_TTL"); err != nil {
		return nil, err
	}
	if config.SummaryBroadcastInterval, err = durationValue(v, "SUMMARY_BROADCAST_INTERVAL"); err != nil {
		return nil, err
	}

	switch config.StoreMode {
	case "memory", "postgres":
	default:
		return nil, fmt.Errorf("invalid STORE_MODE %q: want memory or postgres", config.StoreMode)
	}
	if config.StoreMode == "postgres" && config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_MODE=postgres")
	}

	return config, nil
}

func intValue(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return n, nil
}

// durationValue accepts Go duration strings; a bare "0" disables the setting
func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
