// Package config provides configuration helpers for go-lens commands.
package config

import (
	"fmt"
	"os"
)

// Defaults for the lens runtime.
const (
	DefaultDashboardPort = "8090"
	DefaultGlassesPort   = "8443"
)

// Env returns the value of an environment variable or a fallback.
func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// APIKey returns the realtime backend API key from LENS_API_KEY.
// Exits with a usage hint if not set.
func APIKey() string {
	key := os.Getenv("LENS_API_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "Error: LENS_API_KEY environment variable is required")
		fmt.Fprintln(os.Stderr, "Usage: LENS_API_KEY=sk-... go run ./cmd/lens")
		os.Exit(1)
	}
	return key
}

// GlassesIP returns the wearable IP from GLASSES_IP env var.
// Falls back to the provided default if not set.
func GlassesIP(defaultIP string) string {
	if ip := os.Getenv("GLASSES_IP"); ip != "" {
		return ip
	}
	return defaultIP
}

// SignallingURL returns the wearable's WebRTC signalling endpoint.
func SignallingURL(glassesIP string) string {
	return fmt.Sprintf("ws://%s:%s", glassesIP, DefaultGlassesPort)
}

// DatabaseURL returns the optional Postgres URL for conversation history.
// Empty means history is kept in memory only.
func DatabaseURL() string {
	return os.Getenv("LENS_DATABASE_URL")
}
