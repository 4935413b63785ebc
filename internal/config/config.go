// Package config loads daemon configuration from the environment, with a
// .env file picked up in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the tunable surface of the session layer.
type Config struct {
	ListenAddr string

	PartySessionType  string
	GameSessionType   string
	CustomSessionType string

	MaxPartySize      int
	QueuePollInterval time.Duration
	DefaultRegion     string
	DefaultQueueID    string
	DefaultMap        string
	DefaultMode       string
	ClientVersion     string
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		ListenAddr:        ":8080",
		PartySessionType:  "party",
		GameSessionType:   "game",
		CustomSessionType: "browser_game",
		MaxPartySize:      4,
		QueuePollInterval: 30 * time.Second,
		DefaultRegion:     "us-east-1",
		DefaultQueueID:    "casual",
		DefaultMap:        "Map1",
		DefaultMode:       "Standard",
		ClientVersion:     "dev",
	}
}

// Load reads a .env file if present, then overlays LOBBY_* environment
// variables onto the defaults.
func Load() (Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := Defaults()
	stringVar(&cfg.ListenAddr, "LOBBY_LISTEN_ADDR")
	stringVar(&cfg.PartySessionType, "LOBBY_PARTY_SESSION_TYPE")
	stringVar(&cfg.GameSessionType, "LOBBY_GAME_SESSION_TYPE")
	stringVar(&cfg.CustomSessionType, "LOBBY_CUSTOM_SESSION_TYPE")
	stringVar(&cfg.DefaultRegion, "LOBBY_DEFAULT_REGION")
	stringVar(&cfg.DefaultQueueID, "LOBBY_DEFAULT_QUEUE_ID")
	stringVar(&cfg.DefaultMap, "LOBBY_DEFAULT_MAP")
	stringVar(&cfg.DefaultMode, "LOBBY_DEFAULT_MODE")
	stringVar(&cfg.ClientVersion, "LOBBY_CLIENT_VERSION")

	if err := intVar(&cfg.MaxPartySize, "LOBBY_MAX_PARTY_SIZE"); err != nil {
		return cfg, err
	}
	if err := durationVar(&cfg.QueuePollInterval, "LOBBY_QUEUE_POLL_INTERVAL"); err != nil {
		return cfg, err
	}

	if cfg.MaxPartySize < 1 {
		return cfg, fmt.Errorf("config: max party size must be positive, got %d", cfg.MaxPartySize)
	}
	if cfg.QueuePollInterval <= 0 {
		return cfg, fmt.Errorf("config: queue poll interval must be positive, got %s", cfg.QueuePollInterval)
	}
	return cfg, nil
}

func stringVar(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intVar(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func durationVar(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
