// Package mock provides an in-memory sound board for tests and for running
// without hardware.
package mock

import (
	"sync"

	"simctl/audio"
)

const driverName = "mock"

// Version strings in the shapes the two board models return.
const (
	WAVTriggerVersion  = "WAV Trigger v1.34\x00\x00\x00"
	TsunamiVersion     = "Tsunami v1.08 (c)2017\x00"
	TsunamiMonoVersion = "Tsunami v1.08m(c)2017\x00"
)

type Driver struct{}

func (d *Driver) Open(portName string) (audio.Conn, error) {
	return New(TsunamiMonoVersion), nil
}

func init() {
	audio.Register(driverName, &Driver{})
}

// Conn records every frame written to it and answers queries from its
// scripted state.
type Conn struct {
	mu      sync.Mutex
	frames  [][]byte
	version string
	voices  int
	tracks  int
	playing [][]int
	closed  bool
}

func New(version string) *Conn {
	return &Conn{version: version, voices: 18, tracks: 4096}
}

func (c *Conn) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return audio.ErrDeviceDisconnected
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

// QueuePlaying scripts the answers to successive status queries. Once the
// script runs out the board reports nothing playing.
func (c *Conn) QueuePlaying(lists ...[]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = append(c.playing, lists...)
}

func (c *Conn) Query(frame []byte) (audio.Reply, error) {
	if err := c.Write(frame); err != nil {
		return audio.Reply{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch audio.Op(frame[3]) {
	case audio.OpGetVersion:
		return audio.Reply{Op: audio.OpVersionString, Data: []byte(c.version)}, nil
	case audio.OpGetSysInfo:
		return audio.Reply{Op: audio.OpSysInfo, Data: []byte{byte(c.voices), byte(c.tracks), byte(c.tracks >> 8)}}, nil
	case audio.OpGetStatus:
		var list []int
		if len(c.playing) > 0 {
			list, c.playing = c.playing[0], c.playing[1:]
		}
		data := make([]byte, 0, 2*len(list))
		for _, t := range list {
			data = append(data, byte(t), byte(t>>8))
		}
		return audio.Reply{Op: audio.OpStatus, Data: data}, nil
	}
	return audio.Reply{}, audio.ErrNoReply
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
