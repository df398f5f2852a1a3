package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// GetString reads an environment variable, falling back when unset.
func GetString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return value
}

// GetInt reads an environment variable as a base-10 integer. Values
// that do not parse fall back and are reported at startup.
func GetInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config: %s=%q is not an integer, using %d", key, value, fallback)
		return fallback
	}
	return parsed
}

// GetSeconds reads an environment variable holding a whole number of
// seconds.
func GetSeconds(key string, fallback time.Duration) time.Duration {
	secs := GetInt(key, int(fallback/time.Second))
	return time.Duration(secs) * time.Second
}
