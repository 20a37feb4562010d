package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/hplc-pump/internal/logger"
	"github.com/shaunagostinho/hplc-pump/internal/protocol"
	"github.com/shaunagostinho/hplc-pump/internal/publish"
	"github.com/shaunagostinho/hplc-pump/internal/transport"
)

// Config holds all daemon configuration.
type Config struct {
	mu sync.RWMutex

	// Pump session and protocol
	Pump PumpConfig `yaml:"pump" json:"pump"`

	// Serial line
	Serial transport.Config `yaml:"serial" json:"serial"`

	// Simulated pump used by demo mode
	Simulator transport.SimulatorConfig `yaml:"simulator" json:"simulator"`

	// Daemon log output
	Log LogConfig `yaml:"log" json:"log"`

	// CSV status recording
	Recording logger.Config `yaml:"recording" json:"recording"`

	// Redis publishing
	Redis publish.Config `yaml:"redis" json:"redis"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string
}

type PumpConfig struct {
	Type         string   `yaml:"type" json:"type"` // "serial" or "demo"
	Name         string   `yaml:"name" json:"name"` // label for logs and redis keys, defaults to the port path
	PollHz       float64  `yaml:"poll_hz" json:"pollHz"`
	Attempts     int      `yaml:"attempts" json:"attempts"`
	WriteDelayMs int      `yaml:"write_delay_ms" json:"writeDelayMs"`
	ReadDelayMs  int      `yaml:"read_delay_ms" json:"readDelayMs"`
	ErrorCodes   []string `yaml:"error_codes" json:"errorCodes"`
	SchemaFile   string   `yaml:"schema_file" json:"schemaFile"` // YAML schema overrides
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // logrus level name
	Format string `yaml:"format" json:"format"` // "text" or "json"
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Pump: PumpConfig{
			Type:         "serial",
			PollHz:       2,
			Attempts:     3,
			WriteDelayMs: 15,
			ReadDelayMs:  15,
			ErrorCodes:   []string{"Er"},
		},
		Serial: transport.Config{
			PortPath:    "/dev/ttyUSB0",
			BaudRate:    9600,
			DataBits:    8,
			Parity:      "none",
			StopBits:    1,
			ReadTimeout: 100 * time.Millisecond,
			Driver:      "bugst",
		},
		Simulator: transport.SimulatorConfig{
			Units:       "psi",
			MaxFlowrate: 10,
			MaxPressure: 6000,
			Precision:   2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Recording: logger.Config{
			Enabled:    false,
			Path:       "/var/log/hplc-pump",
			IntervalMs: 1000,
		},
		Redis: publish.Config{
			Enabled: false,
			Addr:    "localhost:6379",
			Channel: "hplc:pump",
			History: 1000,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Infof("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		logrus.Warnf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		logrus.Infof("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	logrus.Infof("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: PUMP_TYPE, PUMP_NAME, PUMP_PORT, PUMP_BAUD, PUMP_DRIVER,
// PUMP_ATTEMPTS, PUMP_DELAY_MS, PUMP_POLL_HZ, PUMP_SCHEMA_FILE, LISTEN_ADDR,
// LOG_LEVEL, LOG_FORMAT, RECORD_ENABLED, RECORD_PATH, RECORD_INTERVAL_MS,
// REDIS_ADDR, REDIS_PASSWORD, REDIS_CHANNEL
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PUMP_TYPE"); v != "" {
		c.Pump.Type = v
	}
	if v := os.Getenv("PUMP_NAME"); v != "" {
		c.Pump.Name = v
	}
	if v := os.Getenv("PUMP_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	if v := os.Getenv("PUMP_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("PUMP_DRIVER"); v != "" {
		c.Serial.Driver = v
	}
	if v := os.Getenv("PUMP_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pump.Attempts = n
		}
	}
	if v := os.Getenv("PUMP_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pump.WriteDelayMs = n
			c.Pump.ReadDelayMs = n
		}
	}
	if v := os.Getenv("PUMP_POLL_HZ"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Pump.PollHz = n
		}
	}
	if v := os.Getenv("PUMP_SCHEMA_FILE"); v != "" {
		c.Pump.SchemaFile = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	// Recording
	if v := os.Getenv("RECORD_ENABLED"); v != "" {
		c.Recording.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("RECORD_PATH"); v != "" {
		c.Recording.Path = v
	}
	if v := os.Getenv("RECORD_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Recording.IntervalMs = n
		}
	}
	// Redis; setting an address enables publishing
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_CHANNEL"); v != "" {
		c.Redis.Channel = v
	}
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// PumpName returns the configured pump label, falling back to the port path.
func (c *Config) PumpName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Pump.Name != "" {
		return c.Pump.Name
	}
	if c.Pump.Type == "demo" {
		return "demo"
	}
	return c.Serial.PortPath
}

// PollInterval returns the status poll period.
func (c *Config) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hz := c.Pump.PollHz
	if hz <= 0 {
		hz = 2
	}
	return time.Duration(float64(time.Second) / hz)
}

// EngineOptions translates the pump settings into protocol options.
func (c *Config) EngineOptions() []protocol.Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	opts := []protocol.Option{
		protocol.WithAttempts(c.Pump.Attempts),
		protocol.WithDelays(
			time.Duration(c.Pump.WriteDelayMs)*time.Millisecond,
			time.Duration(c.Pump.ReadDelayMs)*time.Millisecond,
		),
	}
	if len(c.Pump.ErrorCodes) > 0 {
		opts = append(opts, protocol.WithErrorCodes(c.Pump.ErrorCodes...))
	}
	return opts
}

// LoadSchemas reads the schema override file, if one is configured.
// A relative path is resolved against the config file's directory.
func (c *Config) LoadSchemas() (map[string]protocol.Schema, error) {
	c.mu.RLock()
	file := c.Pump.SchemaFile
	c.mu.RUnlock()
	if file == "" {
		return nil, nil
	}
	if !filepath.IsAbs(file) && c.path != "" {
		file = filepath.Join(filepath.Dir(c.path), file)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return protocol.ParseSchemas(data)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}
