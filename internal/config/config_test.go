package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOBBY_LISTEN_ADDR", ":9999")
	t.Setenv("LOBBY_MAX_PARTY_SIZE", "8")
	t.Setenv("LOBBY_QUEUE_POLL_INTERVAL", "5s")
	t.Setenv("LOBBY_DEFAULT_REGION", "eu-central-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.MaxPartySize)
	assert.Equal(t, 5*time.Second, cfg.QueuePollInterval)
	assert.Equal(t, "eu-central-1", cfg.DefaultRegion)
	assert.Equal(t, "party", cfg.PartySessionType, "untouched keys keep defaults")
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("LOBBY_MAX_PARTY_SIZE", "not-a-number")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveSizes(t *testing.T) {
	t.Setenv("LOBBY_MAX_PARTY_SIZE", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("LOBBY_MAX_PARTY_SIZE", "4")
	t.Setenv("LOBBY_QUEUE_POLL_INTERVAL", "-1s")
	_, err = Load()
	assert.Error(t, err)
}
