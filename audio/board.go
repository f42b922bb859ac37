package audio

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Gain limits in dB accepted by both boards.
const (
	MinGain = -70
	MaxGain = 10
)

// Board sends the command set to one sound board. A Board with a nil Conn
// is silent: every command succeeds and is counted as dropped.
type Board struct {
	conn Conn
	info Info

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewBoard(conn Conn) *Board {
	return &Board{conn: conn, info: Info{Kind: BoardUnknown}}
}

// Silent returns a board that discards all commands.
func Silent() *Board { return NewBoard(nil) }

func (b *Board) IsSilent() bool { return b.conn == nil }

func (b *Board) Info() Info { return b.info }

func (b *Board) Kind() Kind { return b.info.Kind }

// Sent reports the number of frames handed to the Conn.
func (b *Board) Sent() uint64 { return b.sent.Load() }

// Dropped reports the number of frames discarded by a silent board.
func (b *Board) Dropped() uint64 { return b.dropped.Load() }

func (b *Board) send(frame []byte) error {
	if b.conn == nil {
		b.dropped.Add(1)
		return nil
	}
	b.sent.Add(1)
	return b.conn.Write(frame)
}

func (b *Board) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

// MasterGain sets the output gain. On a Tsunami the master volume is
// channel 0's volume, so that is set as well.
func (b *Board) MasterGain(gain int) error {
	if b.info.Kind == BoardTsunami {
		if err := b.ChannelGain(0, gain); err != nil {
			return err
		}
	}
	return b.send(EncodeMasterGain(gain))
}

func (b *Board) ChannelGain(ch, gain int) error {
	return b.send(EncodeChannelGain(ch, gain))
}

func (b *Board) StopAllTracks() error { return b.send(EncodeStopAll()) }

func (b *Board) trackControl(ch, trk int, code TrackCode) error {
	return b.send(EncodeTrackControl(b.info.Kind, ch, trk, code))
}

// TrackPlaySolo stops every other track and plays trk once.
func (b *Board) TrackPlaySolo(ch, trk int) error {
	return b.restart(ch, trk, TrackPlaySolo)
}

// TrackPlayPoly plays trk once alongside whatever else is playing.
func (b *Board) TrackPlayPoly(ch, trk int) error {
	return b.restart(ch, trk, TrackPlayPoly)
}

// restart turns looping off and stops trk before playing it, so a track
// still sounding from the last beat starts over.
func (b *Board) restart(ch, trk int, code TrackCode) error {
	for _, c := range []TrackCode{TrackLoopOff, TrackStop, code} {
		if err := b.trackControl(ch, trk, c); err != nil {
			return err
		}
	}
	return nil
}

func (b *Board) TrackStop(ch, trk int) error { return b.trackControl(ch, trk, TrackStop) }

func (b *Board) TrackGain(trk, gain int) error {
	return b.send(EncodeTrackGain(trk, gain))
}

// TrackFade ramps trk to gain over d, stopping it at the end if stop is set.
func (b *Board) TrackFade(trk, gain int, d time.Duration, stop bool) error {
	return b.send(EncodeTrackFade(trk, gain, int(d/time.Millisecond), stop))
}

func (b *Board) AmpPower(on bool) error { return b.send(EncodeAmpPower(on)) }

func (b *Board) query(op, want Op) (Reply, error) {
	if b.conn == nil {
		b.dropped.Add(1)
		return Reply{}, ErrNoReply
	}
	b.sent.Add(1)
	r, err := b.conn.Query(EncodeQuery(op))
	if err != nil {
		return Reply{}, err
	}
	if r.Op != want {
		return r, fmt.Errorf("%w: %02x, want %02x", ErrUnexpectedReply, byte(r.Op), byte(want))
	}
	return r, nil
}

// Identify asks the board for its version string and records which model
// it is. The two models answer with different string lengths.
func (b *Board) Identify() (Info, error) {
	r, err := b.query(OpGetVersion, OpVersionString)
	if err != nil {
		return b.info, err
	}

	b.info.Firmware = strings.TrimRight(string(r.Data), "\x00 ")
	b.info.Kind, b.info.Mono = classifyVersion(r.Data)
	return b.info, nil
}

func classifyVersion(data []byte) (kind Kind, mono bool) {
	// counts include the reply opcode byte:
	switch len(data) + 1 {
	case 21, 0x19:
		return BoardWAVTrigger, false
	case 23, 0x1b:
		s := string(data)
		const prefix = "Tsunami v"
		if i := strings.Index(s, prefix); i >= 0 {
			rest := s[i+len(prefix):]
			j := 0
			for j < len(rest) && (rest[j] == '.' || (rest[j] >= '0' && rest[j] <= '9')) {
				j++
			}
			mono = j < len(rest) && rest[j] == 'm'
		}
		return BoardTsunami, mono
	}
	return BoardUnknown, false
}

// SysInfo reads the voice and track counts.
func (b *Board) SysInfo() (voices, tracks int, err error) {
	r, err := b.query(OpGetSysInfo, OpSysInfo)
	if err != nil {
		return 0, 0, err
	}
	if len(r.Data) < 2 {
		return 0, 0, fmt.Errorf("%w: sysinfo with %d bytes", ErrUnexpectedReply, len(r.Data))
	}
	b.info.Voices, b.info.Tracks = int(r.Data[0]), int(r.Data[1])
	if len(r.Data) > 2 {
		b.info.Tracks |= int(r.Data[2]) << 8
	}
	return b.info.Voices, b.info.Tracks, nil
}

// TracksPlaying returns the numbers of the tracks currently playing.
func (b *Board) TracksPlaying() ([]int, error) {
	r, err := b.query(OpGetStatus, OpStatus)
	if err != nil {
		return nil, err
	}
	return r.Tracks(), nil
}
