// Package config loads the effector settings: built-in defaults, then an
// optional YAML file, then SIMCTL_* environment variables.
package config

import (
	"time"

	"simctl/gpio"
)

type Config struct {
	SHM      SHMConfig      `koanf:"shm"`
	Sync     SyncConfig     `koanf:"sync"`
	Audio    AudioConfig    `koanf:"audio"`
	GPIO     GPIOConfig     `koanf:"gpio"`
	Effector EffectorConfig `koanf:"effector"`
	Status   StatusConfig   `koanf:"status"`
	Log      LogConfig      `koanf:"log"`
}

type SHMConfig struct {
	Path            string        `koanf:"path"`
	BusLockAttempts int           `koanf:"bus_lock_attempts"`
	BusLockInterval time.Duration `koanf:"bus_lock_interval"`
}

type SyncConfig struct {
	// ConfigFile names the manager: host, host:port or :port.
	ConfigFile     string        `koanf:"config_file"`
	Ports          []int         `koanf:"ports"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	PassDelay      time.Duration `koanf:"pass_delay"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	// Interface is scanned when no manager is configured.
	Interface string `koanf:"interface"`
	// PeerDB remembers the last manager. Empty disables it.
	PeerDB string `koanf:"peer_db"`
}

type AudioConfig struct {
	Driver string `koanf:"driver"`
	// Ports overrides the probed serial devices.
	Ports         []string      `koanf:"ports"`
	Baud          int           `koanf:"baud"`
	OpenAttempts  int           `koanf:"open_attempts"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	SoundList     string        `koanf:"sound_list"`
}

type GPIOConfig struct {
	Root      string `koanf:"root"`
	RiseLeft  int    `koanf:"rise_left"`
	RiseRight int    `koanf:"rise_right"`
	Fall      int    `koanf:"fall"`
	Pulse     int    `koanf:"pulse"`
}

func (c GPIOConfig) Pins() gpio.Pins {
	return gpio.Pins{RiseL: c.RiseLeft, RiseR: c.RiseRight, Fall: c.Fall, Pulse: c.Pulse}
}

type EffectorConfig struct {
	Quantum        time.Duration `koanf:"quantum"`
	SelfTestCycles int           `koanf:"selftest_cycles"`
}

type StatusConfig struct {
	// Listen is the HTTP address. Empty disables the status server.
	Listen string `koanf:"listen"`
	// GRPCListen is the gRPC health address. Empty disables it.
	GRPCListen   string        `koanf:"grpc_listen"`
	PushInterval time.Duration `koanf:"push_interval"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Syslog bool   `koanf:"syslog"`
}
