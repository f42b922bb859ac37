// Package audio drives the WAV Trigger and Tsunami serial sound boards.
//
// A Driver opens a Conn to a board; Board layers the command set on top of
// a Conn and remembers which board model answered the version query.
package audio

import (
	"fmt"
	"sort"
	"sync"
)

type Driver interface {
	Open(portName string) (Conn, error)
}

// Conn carries frames to one board. Write does not wait for the board;
// Query writes a request frame and returns the board's reply.
type Conn interface {
	Write(frame []byte) error
	Query(frame []byte) (Reply, error)
	Close() error
}

type Kind int

const (
	BoardUnknown Kind = iota - 1
	BoardWAVTrigger
	BoardTsunami
)

func (k Kind) String() string {
	switch k {
	case BoardWAVTrigger:
		return "WAV Trigger"
	case BoardTsunami:
		return "Tsunami"
	}
	return "unknown"
}

// Info is what the board reported about itself.
type Info struct {
	Kind     Kind
	Mono     bool
	Firmware string
	Voices   int
	Tracks   int
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes an audio driver available by the provided name.
// If Register is called twice with the same name or if driver is nil,
// it panics.
func Register(name string, driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if driver == nil {
		panic("audio: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("audio: Register called twice for driver " + name)
	}
	drivers[name] = driver
}

// Drivers returns a sorted list of the names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	list := make([]string, 0, len(drivers))
	for name := range drivers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

func Open(driverName, portName string) (Conn, error) {
	driversMu.RLock()
	driveri, ok := drivers[driverName]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("audio: unknown driver %q (forgotten import?)", driverName)
	}

	return driveri.Open(portName)
}
