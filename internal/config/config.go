package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                     int    `env:"PORT" envDefault:"8080"`
	DatabaseURL              string `env:"DATABASE_URL,required"`
	RedisURL                 string `env:"REDIS_URL,required"`
	AuthJWTSecret            string `env:"AUTH_JWT_SECRET,required"`
	RTCAppID                 string `env:"RTC_APP_ID,required"`
	RTCTokenSecret           string `env:"RTC_TOKEN_SECRET,required"`
	RTCTokenTTLSeconds       int    `env:"RTC_TOKEN_TTL_SECONDS" envDefault:"7200"`
	RingWindowSeconds        int    `env:"RING_WINDOW_SECONDS" envDefault:"30"`
	PresenceHeartbeatSeconds int    `env:"PRESENCE_HEARTBEAT_SECONDS" envDefault:"30"`
	LogLevel                 string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) RTCTokenTTL() time.Duration {
	return time.Duration(c.RTCTokenTTLSeconds) * time.Second
}

func (c *Config) RingWindow() time.Duration {
	return time.Duration(c.RingWindowSeconds) * time.Second
}

func (c *Config) PresenceHeartbeat() time.Duration {
	return time.Duration(c.PresenceHeartbeatSeconds) * time.Second
}

// PresenceStaleness is the window after which a heartbeat is considered
// stale. It is 2.5x the heartbeat interval so a single missed beat never
// flips a user to offline.
func (c *Config) PresenceStaleness() time.Duration {
	return c.PresenceHeartbeat() * 5 / 2
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.RingWindowSeconds <= 0 {
		return fmt.Errorf("RING_WINDOW_SECONDS must be positive")
	}
	if c.PresenceHeartbeatSeconds <= 0 {
		return fmt.Errorf("PRESENCE_HEARTBEAT_SECONDS must be positive")
	}
	if c.RTCTokenTTLSeconds <= 0 {
		return fmt.Errorf("RTC_TOKEN_TTL_SECONDS must be positive")
	}

	if isProduction {
		if err := validateSecret("AUTH_JWT_SECRET", c.AuthJWTSecret); err != nil {
			return err
		}
		if err := validateSecret("RTC_TOKEN_SECRET", c.RTCTokenSecret); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.RTCTokenTTLSeconds > 4*3600 {
			log.Warn().Int("ttlSeconds", c.RTCTokenTTLSeconds).
				Msg("RTC token TTL exceeds 4h: credentials should not outlive a call by much")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
