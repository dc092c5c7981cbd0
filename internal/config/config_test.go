package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	content := `
server:
  http_port: 8080
  udp_port: 8443
  join_timeout_s: 15
log:
  level: debug
rooms:
  endpoint: https://rooms.example.com
  api_key: $ROOMS_API_KEY
avatar:
  base_url: https://avatar.example.com
  agent_id: agent-1
  face_id: f1
  resolution: 720p
relay:
  audio_queue_size: 20
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 8443, cfg.Server.UDPPort)
	assert.Equal(t, 15, cfg.Server.JoinTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "https://rooms.example.com", cfg.Rooms.Endpoint)
	assert.Equal(t, "agent-1", cfg.Avatar.AgentID)

	// 显式值保留，未写的字段取默认
	assert.Equal(t, 20, cfg.Relay.AudioQueueSize)
	assert.Equal(t, 2, cfg.Relay.VideoQueueSize)
	assert.Equal(t, 200, cfg.Relay.SubmitTimeoutMs)
	assert.Equal(t, 2000, cfg.Relay.GracePeriodMs)
	assert.Equal(t, 3, cfg.Relay.SendRetries)
	assert.Equal(t, 6000, cfg.Relay.ChunkBytes)
	assert.Equal(t, 24000, cfg.TTS.OpenAI.SampleRate)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("AVATAR_TEST_KEY", "secret-value")

	assert.Equal(t, "secret-value", ResolveEnv("$AVATAR_TEST_KEY"))
	assert.Equal(t, "literal-value", ResolveEnv("literal-value"))
	assert.Equal(t, "", ResolveEnv("$AVATAR_TEST_KEY_UNSET"))
}
