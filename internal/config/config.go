package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved engine configuration after device profile
// selection and validation.
type Config struct {
	Device  DeviceConfig  `mapstructure:"device" yaml:"device"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Process ProcessConfig `mapstructure:"process" yaml:"process"`
}

// DeviceConfig describes the ALSA device the capture and playback
// processes are bound to.
type DeviceConfig struct {
	Name         string `mapstructure:"name" yaml:"name"`
	ALSADevice   string `mapstructure:"alsa_device" yaml:"alsa_device"`
	Channels     int    `mapstructure:"channels" yaml:"channels"`
	SampleRate   int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	SampleFormat string `mapstructure:"sample_format" yaml:"sample_format"`
}

// SessionConfig describes where takes live and the storage guard rails.
type SessionConfig struct {
	Directory    string `mapstructure:"directory" yaml:"directory"`
	Tag          string `mapstructure:"tag" yaml:"tag"`
	MinFreeBytes uint64 `mapstructure:"min_free_bytes" yaml:"min_free_bytes"`
}

// ProcessConfig controls subprocess supervision behaviour. CaptureBin
// and PlaybackBin default to arecord/aplay and exist so tests can
// substitute harmless commands.
type ProcessConfig struct {
	CaptureBin      string        `mapstructure:"capture_bin" yaml:"capture_bin"`
	PlaybackBin     string        `mapstructure:"playback_bin" yaml:"playback_bin"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout" yaml:"graceful_timeout"`
	SpawnProbe      time.Duration `mapstructure:"spawn_probe" yaml:"spawn_probe"`
}

// DeviceProfile is a named hardware preset selectable with --device.
type DeviceProfile struct {
	ALSADevice string
	Channels   int
}

// Built-in presets for the two supported mixers. The XR18 exposes 18
// USB return channels, the X32 exposes 32.
var deviceProfiles = map[string]DeviceProfile{
	"xr18": {ALSADevice: "hw:3,0", Channels: 18},
	"x32":  {ALSADevice: "hw:XUSB,0", Channels: 32},
}

var defaultConfig = Config{
	Device: DeviceConfig{
		Name:         "xr18",
		SampleRate:   48000,
		SampleFormat: "S32_LE",
	},
	Session: SessionConfig{
		Directory:    filepath.Join(os.Getenv("HOME"), "recordings"),
		MinFreeBytes: 512 * 1024 * 1024,
	},
	Process: ProcessConfig{
		CaptureBin:      "arecord",
		PlaybackBin:     "aplay",
		GracefulTimeout: 5 * time.Second,
		SpawnProbe:      250 * time.Millisecond,
	},
}

// Load reads the config file (optional), applies defaults and the
// selected device profile, and validates the result. An empty device
// argument keeps the file's (or default) device selection.
func Load(configFile, device string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STAGEDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if device != "" {
		cfg.Device.Name = device
	}

	applyDeviceProfile(&cfg)

	cfg.Session.Directory = expandPath(cfg.Session.Directory)
	if cfg.Session.Tag == "" {
		cfg.Session.Tag = "take"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.name", defaultConfig.Device.Name)
	v.SetDefault("device.sample_rate", defaultConfig.Device.SampleRate)
	v.SetDefault("device.sample_format", defaultConfig.Device.SampleFormat)
	v.SetDefault("session.directory", defaultConfig.Session.Directory)
	v.SetDefault("session.min_free_bytes", defaultConfig.Session.MinFreeBytes)
	v.SetDefault("process.capture_bin", defaultConfig.Process.CaptureBin)
	v.SetDefault("process.playback_bin", defaultConfig.Process.PlaybackBin)
	v.SetDefault("process.graceful_timeout", defaultConfig.Process.GracefulTimeout)
	v.SetDefault("process.spawn_probe", defaultConfig.Process.SpawnProbe)
}

// applyDeviceProfile fills ALSA device and channel count from the named
// profile unless the config file pinned them explicitly.
func applyDeviceProfile(cfg *Config) {
	profile, ok := deviceProfiles[strings.ToLower(cfg.Device.Name)]
	if !ok {
		return
	}
	if cfg.Device.ALSADevice == "" {
		cfg.Device.ALSADevice = profile.ALSADevice
	}
	if cfg.Device.Channels == 0 {
		cfg.Device.Channels = profile.Channels
	}
}

// Validate checks the resolved configuration for values the engine
// cannot operate with.
func (c *Config) Validate() error {
	if _, ok := deviceProfiles[strings.ToLower(c.Device.Name)]; !ok {
		return fmt.Errorf("unknown device %q (supported: %s)", c.Device.Name, strings.Join(DeviceNames(), ", "))
	}
	if c.Device.Channels != 18 && c.Device.Channels != 32 {
		return fmt.Errorf("device %q: channel count must be 18 or 32, got %d", c.Device.Name, c.Device.Channels)
	}
	if c.Device.ALSADevice == "" {
		return fmt.Errorf("device %q: alsa_device is required", c.Device.Name)
	}
	if c.Device.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be > 0, got %d", c.Device.SampleRate)
	}
	if c.Device.SampleFormat == "" {
		return fmt.Errorf("sample_format is required")
	}
	if c.Session.Directory == "" {
		return fmt.Errorf("session directory is required")
	}
	if c.Process.CaptureBin == "" || c.Process.PlaybackBin == "" {
		return fmt.Errorf("capture_bin and playback_bin are required")
	}
	if c.Process.GracefulTimeout <= 0 {
		return fmt.Errorf("graceful_timeout must be > 0, got %s", c.Process.GracefulTimeout)
	}
	if c.Process.SpawnProbe <= 0 {
		return fmt.Errorf("spawn_probe must be > 0, got %s", c.Process.SpawnProbe)
	}
	return nil
}

// DeviceNames returns the supported device profile names, sorted.
func DeviceNames() []string {
	names := make([]string, 0, len(deviceProfiles))
	for name := range deviceProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
