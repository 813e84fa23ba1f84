package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 10*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, uint16(40000), cfg.Engine.UDPPortMin)
	require.Len(t, cfg.Engine.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Engine.ICEServers[0].URLs)
	assert.Equal(t, 200, cfg.Chat.HistoryLimit)
	assert.Equal(t, 64, cfg.Signal.SendBuffer)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := `
mode: debug
port: 9000
engine:
  announced_ip: 198.51.100.4
  ice_servers:
    - urls: ["turn:turn.example.org:3478"]
      username: u
      credential: p
chat:
  history_limit: 10
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("HUDDLE_PORT", "9100")
	t.Setenv("HUDDLE_CHAT_RATE_LIMIT", "3")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port, "env wins over file")
	assert.Equal(t, "198.51.100.4", cfg.Engine.AnnouncedIP)
	require.Len(t, cfg.Engine.ICEServers, 1)
	assert.Equal(t, "u", cfg.Engine.ICEServers[0].Username)
	assert.Equal(t, 10, cfg.Chat.HistoryLimit)
	assert.Equal(t, 3, cfg.Chat.RateLimit)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Port:       8080,
			PingPeriod: time.Second,
			Engine:     EngineConfig{CallTimeout: time.Second, UDPPortMin: 1, UDPPortMax: 2},
			Chat:       ChatConfig{HistoryLimit: 1, RateLimit: 1, RateInterval: time.Second},
		}
	}
	ok := base()
	require.NoError(t, ok.Validate())

	cases := map[string]func(*Config){
		"port":          func(c *Config) { c.Port = 0 },
		"udp range":     func(c *Config) { c.Engine.UDPPortMin = 3 },
		"call timeout":  func(c *Config) { c.Engine.CallTimeout = 0 },
		"history":       func(c *Config) { c.Chat.HistoryLimit = -1 },
		"rate interval": func(c *Config) { c.Chat.RateInterval = 0 },
		"ping period":   func(c *Config) { c.PingPeriod = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}
