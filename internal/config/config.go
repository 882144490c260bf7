package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDCapture  string
	MQTTClientIDAnalyzer string
	MQTTClientIDConsole  string
	MQTTClientIDDisplay  string

	// Topics
	TopicSessionStatus   string
	TopicSessionResult   string
	TopicSessionUploaded string

	// Link
	Transport      string // "serial" or "mock"
	DeviceID       string
	SerialPort     string
	SerialBaudRate int
	MockRate       int // samples per second of the mock transport

	// Link stage delays (milliseconds)
	LinkRefreshDelay    int
	LinkDiscoveryDelay  int
	LinkDescriptorDelay int
	LinkRetryDelay      int

	// Storage
	RedisAddr         string
	RedisBlobTTLHours int
	ExportDir         string // local CSV archive, empty disables it

	// Session timing (milliseconds)
	SessionDuration    int
	Countdown          int
	ActuationHalfCycle int
	StartAckTimeout    int

	// Pipeline
	MovingAverageWindow int
	SeriesMaxPoints     int
	SampleBufferSize    int
	DrainInterval       int // milliseconds
	DrainIdleInterval   int // milliseconds
	PollInterval        int // milliseconds
	PollAttempts        int

	// Subject the captured sessions are filed under
	SubjectID      string
	SubjectContact string
	SubjectName    string
	SubjectRole    string // "patient" or "doctor"

	// Web Server
	WebServerPort int
	WebStaticDir  string

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds

	// Cue output, empty disables it
	CueGPIOPin string
}

// Package-level singleton. globalConfig is only set through InitGlobal and
// only read through Get; configMu guards both.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
	initErr      error
)

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		MQTTClientIDCapture:  "glove-capture",
		MQTTClientIDAnalyzer: "glove-analyzer",
		MQTTClientIDConsole:  "glove-console",
		MQTTClientIDDisplay:  "glove-display",

		TopicSessionStatus:   "glove/session/status",
		TopicSessionResult:   "glove/session/result",
		TopicSessionUploaded: "glove/session/uploaded",

		Transport:      "serial",
		SerialBaudRate: 115200,
		MockRate:       50,

		LinkRefreshDelay:    200,
		LinkDiscoveryDelay:  500,
		LinkDescriptorDelay: 200,
		LinkRetryDelay:      500,

		RedisBlobTTLHours: 24 * 30,

		SessionDuration:    120000,
		Countdown:          5000,
		ActuationHalfCycle: 5000,
		StartAckTimeout:    5000,

		MovingAverageWindow: 5,
		SeriesMaxPoints:     1000,
		SampleBufferSize:    500,
		DrainInterval:       100,
		DrainIdleInterval:   500,
		PollInterval:        5000,
		PollAttempts:        60,

		SubjectRole: "patient",

		WebServerPort: 8080,

		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 500,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CAPTURE":
		c.MQTTClientIDCapture = value
	case "MQTT_CLIENT_ID_ANALYZER":
		c.MQTTClientIDAnalyzer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_SESSION_STATUS":
		c.TopicSessionStatus = value
	case "TOPIC_SESSION_RESULT":
		c.TopicSessionResult = value
	case "TOPIC_SESSION_UPLOADED":
		c.TopicSessionUploaded = value

	// Link
	case "TRANSPORT":
		if value != "serial" && value != "mock" {
			return fmt.Errorf("TRANSPORT must be serial or mock, got %q", value)
		}
		c.Transport = value
	case "DEVICE_ID":
		c.DeviceID = value
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.SerialBaudRate = rate
	case "MOCK_RATE":
		rate, err := positive(key, value)
		if err != nil {
			return err
		}
		c.MockRate = rate

	case "LINK_REFRESH_DELAY_MS":
		return setMillis(&c.LinkRefreshDelay, key, value)
	case "LINK_DISCOVERY_DELAY_MS":
		return setMillis(&c.LinkDiscoveryDelay, key, value)
	case "LINK_DESCRIPTOR_DELAY_MS":
		return setMillis(&c.LinkDescriptorDelay, key, value)
	case "LINK_RETRY_DELAY_MS":
		return setMillis(&c.LinkRetryDelay, key, value)

	// Storage
	case "REDIS_ADDR":
		c.RedisAddr = value
	case "REDIS_BLOB_TTL_HOURS":
		hours, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid REDIS_BLOB_TTL_HOURS %q: %w", value, err)
		}
		if hours < 0 {
			return fmt.Errorf("REDIS_BLOB_TTL_HOURS must be >= 0, got %d", hours)
		}
		c.RedisBlobTTLHours = hours
	case "EXPORT_DIR":
		c.ExportDir = value

	// Session timing
	case "SESSION_DURATION_MS":
		ms, err := positive(key, value)
		if err != nil {
			return err
		}
		c.SessionDuration = ms
	case "COUNTDOWN_MS":
		return setMillis(&c.Countdown, key, value)
	case "ACTUATION_HALF_CYCLE_MS":
		ms, err := positive(key, value)
		if err != nil {
			return err
		}
		c.ActuationHalfCycle = ms
	case "START_ACK_TIMEOUT_MS":
		ms, err := positive(key, value)
		if err != nil {
			return err
		}
		c.StartAckTimeout = ms

	// Pipeline
	case "MOVING_AVERAGE_WINDOW":
		n, err := positive(key, value)
		if err != nil {
			return err
		}
		c.MovingAverageWindow = n
	case "SERIES_MAX_POINTS":
		n, err := positive(key, value)
		if err != nil {
			return err
		}
		c.SeriesMaxPoints = n
	case "SAMPLE_BUFFER_SIZE":
		n, err := positive(key, value)
		if err != nil {
			return err
		}
		c.SampleBufferSize = n
	case "DRAIN_INTERVAL_MS":
		ms, err := positive(key, value)
		if err != nil {
			return err
		}
		c.DrainInterval = ms
	case "DRAIN_IDLE_INTERVAL_MS":
		ms, err := positive(key, value)
		if err != nil {
			return err
		}
		c.DrainIdleInterval = ms
	case "POLL_INTERVAL_MS":
		ms, err := positive(key, value)
		if err != nil {
			return err
		}
		c.PollInterval = ms
	case "POLL_ATTEMPTS":
		n, err := positive(key, value)
		if err != nil {
			return err
		}
		c.PollAttempts = n

	// Subject
	case "SUBJECT_ID":
		c.SubjectID = value
	case "SUBJECT_CONTACT":
		c.SubjectContact = value
	case "SUBJECT_NAME":
		c.SubjectName = value
	case "SUBJECT_ROLE":
		if value != "patient" && value != "doctor" {
			return fmt.Errorf("SUBJECT_ROLE must be patient or doctor, got %q", value)
		}
		c.SubjectRole = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	// Cue
	case "CUE_GPIO_PIN":
		c.CueGPIOPin = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func positive(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0, got %d", key, n)
	}
	return n, nil
}

func setMillis(dst *int, key, value string) error {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if ms < 0 {
		return fmt.Errorf("%s must be >= 0, got %d", key, ms)
	}
	*dst = ms
	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.Transport == "serial" && c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required for the serial transport")
	}
	if c.Transport == "serial" && c.SerialBaudRate <= 0 {
		return fmt.Errorf("SERIAL_BAUD_RATE is required for the serial transport")
	}
	if c.SubjectRole == "patient" && c.SubjectID == "" {
		return fmt.Errorf("SUBJECT_ID is required for patient sessions")
	}
	return nil
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// InitGlobal initializes the global configuration from file. Only the first
// call loads; later calls return the first call's error.
func InitGlobal(configPath string) error {
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, initErr = Load(configPath)
	})
	return initErr
}

// Get returns the global configuration instance, nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
