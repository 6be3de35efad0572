package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvFlag reads a boolean toggle.
// Accepts 1/0, true/false, yes/no, y/n; anything else falls back to def.
func EnvFlag(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return def
	}
}

// EnvInt reads a positive integer; zero, negative or garbage yields def.
func EnvInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// EnvString returns def when key is unset or blank.
func EnvString(key string, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// IsProduction is true when GO_ENV=production.
func IsProduction() bool {
	return strings.EqualFold(os.Getenv("GO_ENV"), "production")
}
