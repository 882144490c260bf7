package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "glove_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
# minimal station
MQTT_BROKER=tcp://localhost:1883
REDIS_ADDR=localhost:6379
SERIAL_PORT=/dev/ttyUSB0
SUBJECT_ID=p-17
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, 120000, cfg.SessionDuration)
	assert.Equal(t, 5000, cfg.Countdown)
	assert.Equal(t, 5, cfg.MovingAverageWindow)
	assert.Equal(t, 1000, cfg.SeriesMaxPoints)
	assert.Equal(t, 500, cfg.SampleBufferSize)
	assert.Equal(t, 60, cfg.PollAttempts)
	assert.Equal(t, "serial", cfg.Transport)
	assert.Equal(t, "patient", cfg.SubjectRole)
	assert.Equal(t, uint16(0x3C), cfg.DisplayI2CAddr)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
MQTT_BROKER = tcp://broker:1883
REDIS_ADDR=redis:6379
TRANSPORT=mock
MOCK_RATE=100
SESSION_DURATION_MS=60000
COUNTDOWN_MS=0
DISPLAY_I2C_ADDR=0x3D
SUBJECT_ROLE=doctor
TOPIC_SESSION_STATUS=clinic/a/status
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker:1883", cfg.MQTTBroker)
	assert.Equal(t, "mock", cfg.Transport)
	assert.Equal(t, 100, cfg.MockRate)
	assert.Equal(t, time.Minute, Millis(cfg.SessionDuration))
	assert.Zero(t, cfg.Countdown)
	assert.Equal(t, uint16(0x3D), cfg.DisplayI2CAddr)
	assert.Equal(t, "doctor", cfg.SubjectRole)
	assert.Equal(t, "clinic/a/status", cfg.TopicSessionStatus)
}

func TestLoadRejectsBadInput(t *testing.T) {
	base := "MQTT_BROKER=tcp://b:1883\nREDIS_ADDR=r:6379\nTRANSPORT=mock\nSUBJECT_ID=p\n"
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", base + "NOPE=1\n", `unknown config key: "NOPE"`},
		{"no equals", base + "SERIAL_PORT\n", "invalid config line 5"},
		{"bad number", base + "POLL_ATTEMPTS=lots\n", "invalid POLL_ATTEMPTS"},
		{"zero duration", base + "SESSION_DURATION_MS=0\n", "SESSION_DURATION_MS must be > 0"},
		{"negative delay", base + "LINK_RETRY_DELAY_MS=-1\n", "LINK_RETRY_DELAY_MS must be >= 0"},
		{"bad transport", base + "TRANSPORT=ble\n", "TRANSPORT must be serial or mock"},
		{"bad role", base + "SUBJECT_ROLE=nurse\n", "SUBJECT_ROLE must be patient or doctor"},
		{"missing broker", "REDIS_ADDR=r:6379\nTRANSPORT=mock\nSUBJECT_ID=p\n", "MQTT_BROKER is required"},
		{"missing port", "MQTT_BROKER=tcp://b:1883\nREDIS_ADDR=r:6379\nSUBJECT_ID=p\n", "SERIAL_PORT is required"},
		{"missing subject", "MQTT_BROKER=tcp://b:1883\nREDIS_ADDR=r:6379\nTRANSPORT=mock\n", "SUBJECT_ID is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
