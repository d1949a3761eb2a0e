// Package config provides configuration management.
//
// Information Hiding:
// - Environment variable names and parsing centralized here
// - Defaults hidden from callers
package config

import (
	"os"
	"strconv"
	"time"
)

// Settings holds the runtime configuration of the delegation core.
type Settings struct {
	// DBPath is the sqlite database file location.
	DBPath string
	// Provider selects the LLM provider ("anthropic", "openai", "deepseek", "gemini").
	Provider string
	// Model overrides the provider's default model when non-empty.
	Model string
	// MaxTokens caps each model response.
	MaxTokens uint32
	// Temperature is the sampling temperature.
	Temperature float32
	// StaleTimeout is how long an in_progress delegation may go untouched
	// before the reaper force-fails it.
	StaleTimeout time.Duration
	// ReapInterval is how often the reaper scans for stale delegations.
	ReapInterval time.Duration
	// WorkflowsPath points to an optional yaml workflow registry file.
	WorkflowsPath string
	// SearchEndpoint overrides the web search endpoint when non-empty.
	SearchEndpoint string
}

// Load reads settings from the environment, applying defaults.
func Load() Settings {
	return Settings{
		DBPath:         getEnv("WEAVE_DB_PATH", "weave.db"),
		Provider:       getEnv("WEAVE_PROVIDER", "anthropic"),
		Model:          getEnv("WEAVE_MODEL", ""),
		MaxTokens:      getEnvUint32("WEAVE_MAX_TOKENS", 4096),
		Temperature:    getEnvFloat32("WEAVE_TEMPERATURE", 0.7),
		StaleTimeout:   getEnvDuration("WEAVE_STALE_TIMEOUT", 10*time.Minute),
		ReapInterval:   getEnvDuration("WEAVE_REAP_INTERVAL", time.Minute),
		WorkflowsPath:  getEnv("WEAVE_WORKFLOWS", ""),
		SearchEndpoint: getEnv("WEAVE_SEARCH_ENDPOINT", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvUint32(key string, fallback uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return fallback
}

func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(parsed)
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
