package gpio

import "errors"

// Pins names the four effector outputs.
type Pins struct {
	RiseL int
	RiseR int
	Fall  int
	Pulse int
}

func DefaultPins() Pins {
	return Pins{RiseL: PinRiseL, RiseR: PinRiseR, Fall: PinFall, Pulse: PinPulse}
}

// Valves drives the chest rise and fall valves and the pulse output.
type Valves struct {
	b    Backend
	pins Pins
}

// NewValves sets up every pin as a low output.
func NewValves(b Backend, pins Pins) (*Valves, error) {
	for _, pin := range []int{pins.RiseL, pins.RiseR, pins.Fall, pins.Pulse} {
		if err := b.Setup(pin); err != nil {
			return nil, err
		}
	}
	return &Valves{b: b, pins: pins}, nil
}

func (v *Valves) Pins() Pins { return v.pins }

// Rise drives both rise valves.
func (v *Valves) Rise(on bool) error {
	return errors.Join(v.b.Write(v.pins.RiseL, on), v.b.Write(v.pins.RiseR, on))
}

func (v *Valves) Fall(on bool) error { return v.b.Write(v.pins.Fall, on) }

func (v *Valves) Pulse(on bool) error { return v.b.Write(v.pins.Pulse, on) }

// AllOff drives every output low.
func (v *Valves) AllOff() error {
	return errors.Join(v.Rise(false), v.Fall(false), v.Pulse(false))
}
