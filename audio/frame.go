package audio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame markers. Every frame is SOM1 SOM2 len op payload... EOM where len
// counts the whole frame.
const (
	SOM1 byte = 0xf0
	SOM2 byte = 0xaa
	EOM  byte = 0x55
)

type Op byte

// Write-only commands.
const (
	OpTrackControl     Op = 3
	OpStopAll          Op = 4
	OpVolume           Op = 5 // master volume, or channel volume on Tsunami
	OpTrackVolume      Op = 8
	OpAmpPower         Op = 9
	OpTrackFade        Op = 10
	OpResumeAllSync    Op = 11
	OpSamplerateOffset Op = 12
)

// Commands with data returned.
const (
	OpGetVersion Op = 1
	OpGetSysInfo Op = 2
	OpGetStatus  Op = 7
)

// Reply opcodes.
const (
	OpVersionString Op = 0x81
	OpSysInfo       Op = 0x82
	OpStatus        Op = 0x83
)

type TrackCode byte

const (
	TrackPlaySolo TrackCode = iota
	TrackPlayPoly
	TrackPause
	TrackResume
	TrackStop
	TrackLoopOn
	TrackLoopOff
	TrackLoad
)

func (c TrackCode) String() string {
	switch c {
	case TrackPlaySolo:
		return "play-solo"
	case TrackPlayPoly:
		return "play-poly"
	case TrackPause:
		return "pause"
	case TrackResume:
		return "resume"
	case TrackStop:
		return "stop"
	case TrackLoopOn:
		return "loop-on"
	case TrackLoopOff:
		return "loop-off"
	case TrackLoad:
		return "load"
	}
	return fmt.Sprintf("track-code(%d)", byte(c))
}

func frame(op Op, payload ...byte) []byte {
	b := make([]byte, 0, 5+len(payload))
	b = append(b, SOM1, SOM2, byte(5+len(payload)), byte(op))
	b = append(b, payload...)
	return append(b, EOM)
}

func le16(v int) (lo, hi byte) {
	u := uint16(int16(v))
	return byte(u), byte(u >> 8)
}

func EncodeMasterGain(gain int) []byte {
	lo, hi := le16(gain)
	return frame(OpVolume, lo, hi)
}

func EncodeChannelGain(ch, gain int) []byte {
	lo, hi := le16(gain)
	return frame(OpVolume, byte(ch), lo, hi)
}

// EncodeTrackControl uses the short WAV Trigger layout for that board and the
// channel-addressed layout otherwise.
func EncodeTrackControl(kind Kind, ch, trk int, code TrackCode) []byte {
	lo, hi := le16(trk)
	if kind == BoardWAVTrigger {
		return frame(OpTrackControl, byte(code), lo, hi)
	}
	return frame(OpTrackControl, byte(code), lo, hi, byte(ch), 0)
}

func EncodeStopAll() []byte { return frame(OpStopAll) }

func EncodeResumeAllSync() []byte { return frame(OpResumeAllSync) }

func EncodeTrackGain(trk, gain int) []byte {
	tlo, thi := le16(trk)
	glo, ghi := le16(gain)
	return frame(OpTrackVolume, tlo, thi, glo, ghi)
}

func EncodeTrackFade(trk, gain, ms int, stop bool) []byte {
	tlo, thi := le16(trk)
	glo, ghi := le16(gain)
	mlo, mhi := le16(ms)
	var s byte
	if stop {
		s = 1
	}
	return frame(OpTrackFade, tlo, thi, glo, ghi, mlo, mhi, s)
}

func EncodeSamplerateOffset(offset int) []byte {
	lo, hi := le16(offset)
	return frame(OpSamplerateOffset, lo, hi)
}

func EncodeAmpPower(on bool) []byte {
	var b byte
	if on {
		b = 1
	}
	return frame(OpAmpPower, b)
}

func EncodeQuery(op Op) []byte { return frame(op) }

// Reply is a frame received from the board.
type Reply struct {
	Op   Op
	Data []byte
}

// Tracks decodes a status reply: a list of little-endian track numbers.
func (r Reply) Tracks() []int {
	tracks := make([]int, 0, len(r.Data)/2)
	for i := 0; i+1 < len(r.Data); i += 2 {
		tracks = append(tracks, int(binary.LittleEndian.Uint16(r.Data[i:])))
	}
	return tracks
}

// idleReads is how many empty reads ReadReply tolerates before giving up.
const idleReads = 20

// ReadReply scans r for a start marker and returns the next complete frame.
// Readers with a timeout return (0, nil) when idle.
func ReadReply(r io.Reader) (Reply, error) {
	var (
		one   [1]byte
		state int
		size  int
		body  []byte
		idle  int
	)

	for {
		n, err := r.Read(one[:])
		if err != nil {
			return Reply{}, err
		}
		if n == 0 {
			idle++
			if idle > idleReads {
				return Reply{}, ErrNoReply
			}
			continue
		}

		c := one[0]
		switch state {
		case 0:
			if c == SOM1 {
				state = 1
			}
		case 1:
			if c == SOM2 {
				state = 2
			} else if c != SOM1 {
				state = 0
			}
		case 2:
			// data bytes exclude start, length and stop bytes but include op:
			size = int(c) - 4
			if size < 1 {
				state = 0
				continue
			}
			body = make([]byte, 0, size)
			state = 3
		case 3:
			body = append(body, c)
			if len(body) == size {
				state = 4
			}
		case 4:
			if c != EOM {
				return Reply{}, fmt.Errorf("audio: frame %02x missing end marker (got %02x)", body[0], c)
			}
			return Reply{Op: Op(body[0]), Data: body[1:]}, nil
		}
	}
}

// DecodedFrame is a written frame split into fields, used by recorders and
// the bench tool.
type DecodedFrame struct {
	Op      Op
	Code    TrackCode
	Channel int
	Track   int
	Gain    int
}

// DecodeFrame interprets the frames produced by the Encode functions.
func DecodeFrame(b []byte) (DecodedFrame, error) {
	if len(b) < 5 || b[0] != SOM1 || b[1] != SOM2 || int(b[2]) != len(b) || b[len(b)-1] != EOM {
		return DecodedFrame{}, fmt.Errorf("audio: malformed frame % x", b)
	}

	s16 := func(i int) int { return int(int16(binary.LittleEndian.Uint16(b[i:]))) }
	u16 := func(i int) int { return int(binary.LittleEndian.Uint16(b[i:])) }

	d := DecodedFrame{Op: Op(b[3])}
	switch d.Op {
	case OpTrackControl:
		d.Code = TrackCode(b[4])
		d.Track = u16(5)
		if len(b) == 10 {
			d.Channel = int(b[7])
		}
	case OpVolume:
		if len(b) == 8 {
			d.Channel = int(b[4])
			d.Gain = s16(5)
		} else {
			d.Channel = -1
			d.Gain = s16(4)
		}
	case OpTrackVolume, OpTrackFade:
		d.Track = u16(4)
		d.Gain = s16(6)
	case OpAmpPower:
		d.Gain = int(b[4])
	}
	return d, nil
}
