package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/logging"
)

// Defaults
const (
	DefaultProcessingPriority = 1
	DefaultResponseMS         = 50000
	DefaultProbeIntervalMS    = 1
	DefaultInitMultiplier     = 10
	DefaultDeinitMultiplier   = 10
	DefaultSessionTable       = "/dev/shm/vkil_sessions"
	DefaultMaxCards           = 4
	DefaultSessionsPerCard    = 32
	DefaultLogLevel           = "warn"
)

// Config is the value threaded into device creation. It is read once at
// startup and never mutated by the library.
type Config struct {
	Device             DeviceConfig  `yaml:"device"`
	ProcessingPriority uint32        `yaml:"processing_priority"`
	Timeouts           TimeoutConfig `yaml:"timeouts"`
	Log                LogConfig     `yaml:"log"`
	Session            SessionConfig `yaml:"session"`
}

// DeviceConfig selects the card
type DeviceConfig struct {
	Affinity   string `yaml:"affinity"` // card index or device path, empty means card 0
	Name       string `yaml:"name"`
	LegacyName string `yaml:"legacy_name"`
	DevRoot    string `yaml:"dev_root"`
}

// TimeoutConfig controls the response wait. A zero response window
// waits forever.
type TimeoutConfig struct {
	ResponseMS       int `yaml:"response_ms"`
	ProbeIntervalMS  int `yaml:"probe_interval_ms"`
	InitMultiplier   int `yaml:"init_multiplier"`
	DeinitMultiplier int `yaml:"deinit_multiplier"`
}

// LogConfig sets the default level and per module overrides
type LogConfig struct {
	Level   string            `yaml:"level"`
	Modules map[string]string `yaml:"modules"`
}

// SessionConfig locates the process session table
type SessionConfig struct {
	TablePath          string `yaml:"table_path"`
	MaxCards           int    `yaml:"max_cards"`
	MaxSessionsPerCard int    `yaml:"max_sessions_per_card"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{
		Timeouts: TimeoutConfig{ResponseMS: DefaultResponseMS},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes. Keys absent from data keep
// their default values.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.Name == "" {
		c.Device.Name = driver.DeviceName
	}
	if c.Device.LegacyName == "" {
		c.Device.LegacyName = driver.LegacyDeviceName
	}
	if c.Device.DevRoot == "" {
		c.Device.DevRoot = driver.DefaultDevRoot
	}
	if c.ProcessingPriority == 0 {
		c.ProcessingPriority = DefaultProcessingPriority
	}
	if c.Timeouts.ProbeIntervalMS <= 0 {
		c.Timeouts.ProbeIntervalMS = DefaultProbeIntervalMS
	}
	if c.Timeouts.InitMultiplier <= 0 {
		c.Timeouts.InitMultiplier = DefaultInitMultiplier
	}
	if c.Timeouts.DeinitMultiplier <= 0 {
		c.Timeouts.DeinitMultiplier = DefaultDeinitMultiplier
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Session.TablePath == "" {
		c.Session.TablePath = DefaultSessionTable
	}
	if c.Session.MaxCards <= 0 {
		c.Session.MaxCards = DefaultMaxCards
	}
	if c.Session.MaxSessionsPerCard <= 0 {
		c.Session.MaxSessionsPerCard = DefaultSessionsPerCard
	}
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if c.Timeouts.ResponseMS < 0 {
		return fmt.Errorf("timeouts.response_ms must be >= 0")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	for module, level := range c.Log.Modules {
		if _, err := logging.ParseModule(module); err != nil {
			return fmt.Errorf("log.modules: %w", err)
		}
		if _, err := logging.ParseLevel(level); err != nil {
			return fmt.Errorf("log.modules.%s: %w", module, err)
		}
	}
	if _, _, err := c.ParseAffinity(); err != nil {
		return err
	}
	return nil
}

// ParseAffinity returns either a card index or an explicit device path
func (c *Config) ParseAffinity() (int, string, error) {
	aff := strings.TrimSpace(c.Device.Affinity)
	if aff == "" {
		return 0, "", nil
	}
	if strings.HasPrefix(aff, "/") {
		return -1, aff, nil
	}
	idx, err := strconv.Atoi(aff)
	if err != nil || idx < 0 || idx >= driver.MaxCards {
		return 0, "", fmt.Errorf("device.affinity %q is neither a card index nor a path", aff)
	}
	return idx, "", nil
}

// SetAffinity pins the card used by new device contexts
func (c *Config) SetAffinity(device string) error {
	prev := c.Device.Affinity
	c.Device.Affinity = device
	if _, _, err := c.ParseAffinity(); err != nil {
		c.Device.Affinity = prev
		return err
	}
	return nil
}

// SetProcessingPriority parses and sets the processing priority
func (c *Config) SetProcessingPriority(pri string) error {
	n, err := strconv.ParseUint(strings.TrimSpace(pri), 10, 32)
	if err != nil {
		return fmt.Errorf("processing priority %q: %w", pri, err)
	}
	c.ProcessingPriority = uint32(n)
	return nil
}

// SetLogLevel sets the default level, or one module's level when given
// as "module:level"
func (c *Config) SetLogLevel(level string) error {
	module, lvl, found := strings.Cut(level, ":")
	if !found {
		if _, err := logging.ParseLevel(level); err != nil {
			return err
		}
		c.Log.Level = level
		return nil
	}
	if _, err := logging.ParseModule(module); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(lvl); err != nil {
		return err
	}
	if c.Log.Modules == nil {
		c.Log.Modules = make(map[string]string)
	}
	c.Log.Modules[module] = lvl
	return nil
}

// ResponseTimeout is the base wait window for one response
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.Timeouts.ResponseMS) * time.Millisecond
}

// ProbeInterval is the sleep between empty reads
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Timeouts.ProbeIntervalMS) * time.Millisecond
}

// NewLogger builds the module logger described by the configuration
func (c *Config) NewLogger() (*logging.Logger, error) {
	lvl, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	l := logging.New(os.Stderr, lvl)
	for module, level := range c.Log.Modules {
		m, err := logging.ParseModule(module)
		if err != nil {
			return nil, err
		}
		ml, err := logging.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		l.SetLevel(m, ml)
	}
	return l, nil
}
