package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"simctl/audio/wavtrigger"
	"simctl/effector"
	"simctl/gpio"
	"simctl/syncchan"
)

// DefaultConfigPath is read when present. ConfigPathEnvVar overrides it.
const (
	DefaultConfigPath = "/etc/simctl/simctl.yaml"
	ConfigPathEnvVar  = "SIMCTL_CONFIG"
	EnvPrefix         = "SIMCTL_"
)

func defaultConfig() *Config {
	return &Config{
		SHM: SHMConfig{
			Path:            "/dev/shm/shmData",
			BusLockAttempts: 200,
			BusLockInterval: 10 * time.Millisecond,
		},
		Sync: SyncConfig{
			ConfigFile:     syncchan.DefaultConfigFile,
			Ports:          []int{syncchan.LinuxSyncPort, syncchan.WVSSyncPort},
			ConnectTimeout: syncchan.DefaultConnectTimeout,
			PassDelay:      syncchan.DefaultPassDelay,
			ReadTimeout:    syncchan.DefaultReadTimeout,
			Interface:      "eth0",
			PeerDB:         "/var/lib/simctl/peers.db",
		},
		Audio: AudioConfig{
			Driver:        "wavtrigger",
			Ports:         []string{},
			Baud:          wavtrigger.DefaultBaud,
			OpenAttempts:  effector.DefaultOpenAttempts,
			RetryInterval: time.Second,
			SoundList:     effector.DefaultSoundList,
		},
		GPIO: GPIOConfig{
			Root:      gpio.DefaultRoot,
			RiseLeft:  gpio.PinRiseL,
			RiseRight: gpio.PinRiseR,
			Fall:      gpio.PinFall,
			Pulse:     gpio.PinPulse,
		},
		Effector: EffectorConfig{
			Quantum:        effector.DefaultQuantum,
			SelfTestCycles: 25,
		},
		Status: StatusConfig{
			Listen:       ":8811",
			GRPCListen:   ":8812",
			PushInterval: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Syslog: true,
		},
	}
}

// Default returns the built-in settings.
func Default() *Config { return defaultConfig() }

// Load layers defaults, the config file and the environment, then
// validates the result.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file. An empty path skips the
// file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	// SIMCTL_SYNC_CONFIG_FILE -> sync.config_file
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return DefaultConfigPath
	}
	return ""
}

// envTransformFunc maps SIMCTL_SECTION_SOME_KEY to section.some_key.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		// SIMCTL_CONFIG names the file, it is not a setting
		return ""
	}
	return strings.Replace(key, "_", ".", 1)
}

var sliceConfigPaths = []string{
	"sync.ports",
	"audio.ports",
}

// processSliceFields splits comma-separated environment values for the
// list settings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0, 2)
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("config: set %s: %w", path, err)
		}
	}
	return nil
}
