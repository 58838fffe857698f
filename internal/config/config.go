// Package config reads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvFileVar names an optional dotenv file loaded before the environment is
// read. Variables already set take precedence over the file.
const EnvFileVar = "MAIL_ENV_FILE"

type Config struct {
	MailTableName    string
	AccountTableName string
	AttachmentBucket string
	CleanupQueueURL  string

	CanonicalAliasDomain string
	LegacyAliasDomain    string

	DefaultListLimit       int
	MaxListLimit           int
	FallbackScanMultiplier int
	SafetyNetScanCap       int

	IdentityCacheTTL   time.Duration
	SignedURLTTL       time.Duration
	MappingMaxAttempts int
}

// Load reads the configuration. A dotenv file that cannot be read is
// returned as an error; everything else falls back to defaults.
func Load() (Config, error) {
	if path := getEnvString(EnvFileVar, ""); path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, err
		}
	}

	return Config{
		MailTableName:    getEnvString("MAIL_TABLE_NAME", ""),
		AccountTableName: getEnvString("ACCOUNT_TABLE_NAME", ""),
		AttachmentBucket: getEnvString("ATTACHMENT_BUCKET", ""),
		CleanupQueueURL:  getEnvString("CLEANUP_QUEUE_URL", ""),

		CanonicalAliasDomain: getEnvString("CANONICAL_ALIAS_DOMAIN", "mywed360.com"),
		LegacyAliasDomain:    getEnvString("LEGACY_ALIAS_DOMAIN", "mywed360"),

		DefaultListLimit:       getEnvInt("DEFAULT_LIST_LIMIT", 200),
		MaxListLimit:           getEnvInt("MAX_LIST_LIMIT", 500),
		FallbackScanMultiplier: getEnvInt("FALLBACK_SCAN_MULTIPLIER", 4),
		SafetyNetScanCap:       getEnvInt("SAFETY_NET_SCAN_CAP", 300),

		IdentityCacheTTL:   getEnvDuration("IDENTITY_CACHE_TTL", 0),
		SignedURLTTL:       getEnvDuration("SIGNED_URL_TTL", 15*time.Minute),
		MappingMaxAttempts: getEnvInt("MAPPING_MAX_ATTEMPTS", 5),
	}, nil
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		value = strings.TrimSpace(value)
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
