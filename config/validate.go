package config

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalid = errors.New("config: invalid")

func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.SHM.Path == "" {
		bad("shm.path is empty")
	}
	if c.SHM.BusLockAttempts <= 0 {
		bad("shm.bus_lock_attempts must be positive")
	}
	for _, p := range c.Sync.Ports {
		if p <= 0 || p > 65535 {
			bad("sync.ports: %d out of range", p)
		}
	}
	if len(c.Sync.Ports) == 0 {
		bad("sync.ports is empty")
	}
	if c.Sync.ConnectTimeout <= 0 {
		bad("sync.connect_timeout must be positive")
	}
	if len(c.Audio.Ports) > 2 {
		bad("audio.ports takes at most two devices")
	}
	if c.Audio.OpenAttempts <= 0 {
		bad("audio.open_attempts must be positive")
	}
	if c.Audio.SoundList == "" {
		bad("audio.sound_list is empty")
	}
	if c.Effector.Quantum <= 0 {
		bad("effector.quantum must be positive")
	}
	pins := map[int]string{}
	for name, pin := range map[string]int{
		"rise_left": c.GPIO.RiseLeft, "rise_right": c.GPIO.RiseRight,
		"fall": c.GPIO.Fall, "pulse": c.GPIO.Pulse,
	} {
		if pin < 0 {
			bad("gpio.%s: negative pin", name)
		}
		if other, dup := pins[pin]; dup {
			bad("gpio.%s and gpio.%s share pin %d", name, other, pin)
		}
		pins[pin] = name
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		bad("log.level %q", c.Log.Level)
	}

	return errors.Join(errs...)
}
