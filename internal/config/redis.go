package config

import (
	"github.com/rs/zerolog/log"
)

func GetRedisURL() string {
	log.Debug().Msg("Attempting to retrieve Redis URL from environment")
	value := GetEnvOrDefault("REDIS_URL", "")
	if value == "" {
		log.Debug().Msg("Redis URL not set - status mapping stays in memory")
	} else {
		log.Info().Msg("Redis URL successfully loaded")
	}
	return value
}

func GetRedisPassword() string {
	return GetEnvOrDefault("REDIS_PASSWORD", "")
}
