package config

import (
	"github.com/rs/zerolog/log"
)

// RateLimitConfig bounds outbound requests for one endpoint group.
type RateLimitConfig struct {
	Enabled   bool
	PerSecond float64
	Burst     int
}

func GetRateLimitConfig(key string) RateLimitConfig {
	enabled := GetEnvOrDefault("PHANTOM_RATELIMIT_ENABLED", "true") == "true"

	configs := map[string]RateLimitConfig{
		"chat": {
			Enabled:   enabled,
			PerSecond: parseEnvFloat("PHANTOM_RATELIMIT_CHAT", 2), // turns are user paced
			Burst:     2,
		},
		"history": {
			Enabled:   enabled,
			PerSecond: parseEnvFloat("PHANTOM_RATELIMIT_HISTORY", 5),
			Burst:     5,
		},
		"phantoms": {
			Enabled:   enabled,
			PerSecond: parseEnvFloat("PHANTOM_RATELIMIT_PHANTOMS", 10),
			Burst:     10,
		},
	}

	if config, exists := configs[key]; exists {
		return config
	}

	log.Warn().Str("key", key).Msg("No rate limit config found")
	return RateLimitConfig{Enabled: false}
}
