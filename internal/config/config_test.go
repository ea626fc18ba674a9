package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("SessionTTL converts hours to duration", func(t *testing.T) {
		cfg := &Config{SessionTTLHours: 24}
		assert.Equal(t, 24*time.Hour, cfg.SessionTTL())
	})

	t.Run("Origins splits and trims", func(t *testing.T) {
		cfg := &Config{AllowedOrigins: "https://app.example.com, https://staging.example.com ,"}
		assert.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, cfg.Origins())
	})

	t.Run("Origins empty means nil", func(t *testing.T) {
		cfg := &Config{}
		assert.Nil(t, cfg.Origins())
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts defaults outside production", func(t *testing.T) {
		cfg := &Config{SessionTTLHours: 24}
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects non-positive session ttl", func(t *testing.T) {
		cfg := &Config{SessionTTLHours: 0}
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("production requires a strong internal secret", func(t *testing.T) {
		cfg := &Config{SessionTTLHours: 24, InternalAPISecret: "short"}
		assert.Error(t, cfg.Validate(true))

		cfg.InternalAPISecret = strings.Repeat("x", 32)
		assert.NoError(t, cfg.Validate(true))
	})

	t.Run("production rejects known weak secrets", func(t *testing.T) {
		cfg := &Config{SessionTTLHours: 24, InternalAPISecret: "change-me"}
		assert.Error(t, cfg.Validate(true))
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                os.Getenv("PORT"),
		"DATABASE_URL":        os.Getenv("DATABASE_URL"),
		"REDIS_URL":           os.Getenv("REDIS_URL"),
		"INTERNAL_API_SECRET": os.Getenv("INTERNAL_API_SECRET"),
		"SESSION_TTL_HOURS":   os.Getenv("SESSION_TTL_HOURS"),
		"ALLOWED_ORIGINS":     os.Getenv("ALLOWED_ORIGINS"),
		"LOG_LEVEL":           os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Unsetenv("PORT")
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("REDIS_URL")
		os.Unsetenv("SESSION_TTL_HOURS")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Empty(t, cfg.DatabaseURL)
		assert.Empty(t, cfg.RedisURL)
		assert.Equal(t, 24, cfg.SessionTTLHours)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("PORT", "3000")
		os.Setenv("DATABASE_URL", "postgres://localhost/collab")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("SESSION_TTL_HOURS", "8")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, "postgres://localhost/collab", cfg.DatabaseURL)
		assert.Equal(t, 8*time.Hour, cfg.SessionTTL())
		assert.Equal(t, "debug", cfg.LogLevel)
	})
}
