package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port          string
	PublicURL     string
	MaxPlayers    int
	DeletionGrace time.Duration
	ExportEnabled bool
	ExportFile    string
}

func FromEnv() Config {
	c := Config{}
	c.Port = getenv("PORT", "8080")
	c.PublicURL = os.Getenv("PUBLIC_URL")
	c.MaxPlayers = getint("MAX_PLAYERS", 20)
	c.DeletionGrace = getduration("ROOM_GRACE", 5*time.Minute)
	c.ExportEnabled = getenv("EXPORT_ENABLED", "true") == "true"
	c.ExportFile = getenv("EXPORT_FILE", "./songdash-results.txt")
	return c
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
