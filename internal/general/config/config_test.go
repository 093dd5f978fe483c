package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
driver:
  token: "eyJ.test.token"

rest:
  base_url: "http://localhost:3000/api/v1"

socket:
  url: "ws://localhost:3001/ws/driver"

jwt:
  secret_key: "secret"
`

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, "eyJ.test.token", cfg.Driver.Token)
	require.Equal(t, 8*time.Second, cfg.RESTTimeout())
	require.Equal(t, 5*time.Second, cfg.AckTimeout())
	require.Equal(t, 30*time.Second, cfg.PingInterval())
	require.Equal(t, 5*time.Second, cfg.MinSampleInterval())
	require.Equal(t, 10.0, cfg.Location.MinDistanceMeters)
	require.Equal(t, 4090, cfg.Control.Port)
	require.False(t, cfg.Policy.ForceOfflineOnInactive)
	require.False(t, cfg.JournalEnabled())
	require.False(t, cfg.TelemetryEnabled())
}

func TestLoadFullConfig(t *testing.T) {
	content := `
driver:
  token: "tok"

rest:
  base_url: "https://api.example.com"  # trailing comment
  timeout_seconds: 4

socket:
  url: "wss://rt.example.com/ws"
  ack_timeout_ms: 1500
  ping_interval_seconds: 15

location:
  min_interval_seconds: 7
  min_distance_meters: 25.5
  start_lat: 51.1605
  start_lng: 71.4704

policy:
  force_offline_on_inactive: true

control:
  port: 5000

database:
  host: "localhost"
  user: "agent"
  password: "pw"
  database: "driver_agent"

rabbitmq:
  host: "localhost"
  user: "guest"
  password: "guest"

jwt:
  secret_key: "secret"
`
	cfg, err := LoadFromFile(writeConfig(t, content))
	require.NoError(t, err)

	require.Equal(t, 4*time.Second, cfg.RESTTimeout())
	require.Equal(t, 1500*time.Millisecond, cfg.AckTimeout())
	require.Equal(t, 15*time.Second, cfg.PingInterval())
	require.Equal(t, 7*time.Second, cfg.MinSampleInterval())
	require.Equal(t, 25.5, cfg.Location.MinDistanceMeters)
	require.Equal(t, 51.1605, cfg.Location.StartLat)
	require.True(t, cfg.Policy.ForceOfflineOnInactive)
	require.Equal(t, 5000, cfg.Control.Port)

	require.True(t, cfg.JournalEnabled())
	require.Equal(t, 5432, cfg.Database.Port) // defaulted because host is set
	require.Equal(t, "driver_agent", cfg.Database.Name)

	require.True(t, cfg.TelemetryEnabled())
	require.Equal(t, 5672, cfg.RabbitMQ.Port)
}

func TestValidationCollectsProblems(t *testing.T) {
	content := `
driver:
  token: "tok"

rest:
  base_url: ""

socket:
  url: ""
  ack_timeout_ms: 50

jwt:
  secret_key: ""
`
	_, err := LoadFromFile(writeConfig(t, content))
	require.Error(t, err)
	require.Contains(t, err.Error(), "rest.base_url is required")
	require.Contains(t, err.Error(), "socket.url is required")
	require.Contains(t, err.Error(), "socket.ack_timeout_ms must be at least 100")
	require.Contains(t, err.Error(), "jwt.secret_key is required")
}

func TestUnknownKeysRejected(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, minimalConfig+"\nbogus:\n  key: 1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown top-level key")

	_, err = LoadFromFile(writeConfig(t, "rest:\n  nope: 1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown key in rest`)
}

func TestMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
