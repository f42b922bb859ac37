// Package gpio drives the pneumatic valve and pulse pins through the sysfs
// GPIO interface.
package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

const DefaultRoot = "/sys/class/gpio"

// Default pin numbers on the effector board.
const (
	PinRiseL = 23
	PinRiseR = 67
	PinFall  = 68
	PinPulse = 66
)

// Backend sets output pins.
type Backend interface {
	Setup(pin int) error
	Write(pin int, on bool) error
}

// Sysfs exports pins under Root and writes their value files.
type Sysfs struct {
	Root string

	mu    sync.Mutex
	files map[int]*os.File
}

func NewSysfs(root string) *Sysfs {
	if root == "" {
		root = DefaultRoot
	}
	return &Sysfs{Root: root, files: make(map[int]*os.File)}
}

func (s *Sysfs) pinDir(pin int) string {
	return filepath.Join(s.Root, "gpio"+strconv.Itoa(pin))
}

// Setup exports pin, makes it an output and drives it low.
func (s *Sysfs) Setup(pin int) error {
	dir := s.pinDir(pin)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err = writeFile(filepath.Join(s.Root, "export"), strconv.Itoa(pin)); err != nil {
			return fmt.Errorf("gpio: export %d: %w", pin, err)
		}
	}
	if err := writeFile(filepath.Join(dir, "direction"), "out"); err != nil {
		return fmt.Errorf("gpio: direction %d: %w", pin, err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "value"), os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("gpio: open value %d: %w", pin, err)
	}

	s.mu.Lock()
	if old := s.files[pin]; old != nil {
		old.Close()
	}
	s.files[pin] = f
	s.mu.Unlock()

	return s.Write(pin, false)
}

func (s *Sysfs) Write(pin int, on bool) error {
	s.mu.Lock()
	f := s.files[pin]
	s.mu.Unlock()
	if f == nil {
		return fmt.Errorf("gpio: pin %d not set up", pin)
	}

	v := "0"
	if on {
		v = "1"
	}
	if _, err := f.WriteAt([]byte(v), 0); err != nil {
		return fmt.Errorf("gpio: write %d: %w", pin, err)
	}
	return nil
}

func (s *Sysfs) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for pin, f := range s.files {
		errs = append(errs, f.Close())
		delete(s.files, pin)
	}
	return errors.Join(errs...)
}

func writeFile(path, v string) error {
	return os.WriteFile(path, []byte(v), 0644)
}

// Mock records pin levels in memory.
type Mock struct {
	mu     sync.Mutex
	levels map[int]bool
	setup  map[int]bool
	writes int
}

func NewMock() *Mock {
	return &Mock{levels: make(map[int]bool), setup: make(map[int]bool)}
}

func (m *Mock) Setup(pin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setup[pin] = true
	m.levels[pin] = false
	return nil
}

func (m *Mock) Write(pin int, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.setup[pin] {
		return fmt.Errorf("gpio: pin %d not set up", pin)
	}
	m.levels[pin] = on
	m.writes++
	return nil
}

func (m *Mock) Level(pin int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin]
}

func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
