package wavtrigger

import (
	"fmt"
	"io"
	"sync"

	"simctl/audio"
)

// Port is the subset of serial.Port the Conn uses.
type Port interface {
	io.ReadWriter
	Close() error
	ResetInputBuffer() error
}

type Conn struct {
	name string
	mu   sync.Mutex
	f    Port
}

func NewConn(name string, f Port) *Conn {
	return &Conn{name: name, f: f}
}

func sendSerial(f io.Writer, buf []byte) error {
	sent := 0
	for sent < len(buf) {
		n, e := f.Write(buf[sent:])
		if e != nil {
			return e
		}
		sent += n
	}
	return nil
}

func (c *Conn) wrap(op string, err error) error {
	err = fmt.Errorf("wavtrigger: %s %s: %w", op, c.name, err)
	if IsTerminalError(err) {
		return audio.NewTerminalError(err)
	}
	return err
}

func (c *Conn) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := sendSerial(c.f, frame); err != nil {
		return c.wrap("write", err)
	}
	return nil
}

func (c *Conn) Query(frame []byte) (audio.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// discard anything left over from an earlier query:
	_ = c.f.ResetInputBuffer()

	if err := sendSerial(c.f, frame); err != nil {
		return audio.Reply{}, c.wrap("write", err)
	}
	r, err := audio.ReadReply(c.f)
	if err != nil {
		return audio.Reply{}, c.wrap("read", err)
	}
	return r, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.f.Close(); err != nil {
		return fmt.Errorf("wavtrigger: could not close serial port: %w", err)
	}
	return nil
}
