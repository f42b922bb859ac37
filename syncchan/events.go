package syncchan

import (
	"bytes"
	"strconv"
)

// Event is a bit mask of the keywords found in one read.
type Event uint32

const (
	EventPulse Event = 1 << iota
	EventPulseVPC
	EventBreath
	EventStatusPort
	EventVersion
)

func (e Event) Has(f Event) bool { return e&f != 0 }

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	var b []byte
	for _, n := range []struct {
		f    Event
		name string
	}{
		{EventPulse, "pulse"},
		{EventPulseVPC, "pulseVPC"},
		{EventBreath, "breath"},
		{EventStatusPort, "statusPort"},
		{EventVersion, "version"},
	} {
		if e.Has(n.f) {
			if len(b) > 0 {
				b = append(b, '|')
			}
			b = append(b, n.name...)
		}
	}
	return string(b)
}

// Message is the result of scanning one read from the manager.
type Message struct {
	Events     Event
	StatusPort int
}

var (
	tokPulse      = []byte("pulse")
	tokPulseVPC   = []byte("pulseVPC")
	tokBreath     = []byte("breath")
	tokStatusPort = []byte("statusPort:")
	tokVersion    = []byte("version")
)

// ParseTokens finds keywords anywhere in b. "pulseVPC" contains "pulse",
// so it sets both bits.
func ParseTokens(b []byte) (m Message) {
	if bytes.Contains(b, tokPulse) {
		m.Events |= EventPulse
	}
	if bytes.Contains(b, tokPulseVPC) {
		m.Events |= EventPulseVPC
	}
	if bytes.Contains(b, tokBreath) {
		m.Events |= EventBreath
	}
	if i := bytes.Index(b, tokStatusPort); i >= 0 {
		rest := b[i+len(tokStatusPort):]
		j := 0
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		if port, err := strconv.Atoi(string(rest[:j])); err == nil {
			m.Events |= EventStatusPort
			m.StatusPort = port
		}
	}
	if bytes.Contains(b, tokVersion) {
		m.Events |= EventVersion
	}
	return
}
