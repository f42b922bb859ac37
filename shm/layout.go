package shm

import (
	"bytes"
	"sync/atomic"
	"unsafe"
)

// The record is shared by every simulator process. Field order and sizes
// are fixed: every scalar is a 4-byte word and every string a NUL-padded
// byte array, so the struct has no implicit padding and the same offsets
// in every process.
//
// Each field has exactly one writer. The owner is named in brackets:
//
//	[init]     bootstrap process and manager poller (simctl-init)
//	[rfid]     chest-position RFID scanner
//	[pulse]    touch-sensor pulse detector
//	[breath]   manual-breath / bagging detector
//	[cpr]      accelerometer and time-of-flight CPR scanner
//	[effector] soundsense (this repository's effector process)
//
// Readers may observe a value one cycle stale but never a torn word.
// Strings are copied byte-wise and may be observed mid-update; their
// writers update them rarely and readers re-read every cycle.

const (
	Magic         uint32 = 0x434d4953 // "SIMC"
	LayoutVersion uint32 = 2

	StrSize    = 64
	IPAddrSize = 32

	// Pulse points index ain/touch/base/volume. Index 0 is unused.
	PulseNotActive    = 0
	PulseRightDorsal  = 1
	PulseRightFemoral = 2
	PulseLeftDorsal   = 3
	PulseLeftFemoral  = 4
	PulsePointsMax    = 5
)

// Touch categories reported by the pulse detector.
const (
	TouchNone int32 = iota
	TouchLight
	TouchNormal
	TouchHeavy
	TouchExcessive
)

// Auscultation sides.
const (
	SideNone  int32 = 0
	SideLeft  int32 = 1
	SideRight int32 = 2
)

type Str [StrSize]byte

func (s *Str) Load() string { return cstring(s[:]) }

func (s *Str) Store(v string) { storeCString(s[:], v) }

type IPAddr [IPAddrSize]byte

func (s *IPAddr) Load() string { return cstring(s[:]) }

func (s *IPAddr) Store(v string) { storeCString(s[:], v) }

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func storeCString(dst []byte, v string) {
	// always leave room for the terminating NUL:
	n := copy(dst[:len(dst)-1], v)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

type Header struct {
	Magic   atomic.Uint32
	Version atomic.Uint32
	// BusLock guards raw I2C transactions only. 0 = free, 1 = held.
	BusLock atomic.Int32
	// SimMgrStatusPort is announced by the manager over the sync link. [effector]
	SimMgrStatusPort atomic.Int32
	// SimMgrIPAddr is the address of the connected manager. [effector]
	SimMgrIPAddr IPAddr
}

// Cardiac settings come from the manager. [init]
type Cardiac struct {
	Rhythm        Str
	VPC           Str
	VPCFreq       atomic.Int32
	VFibAmplitude Str
	PEA           atomic.Int32
	Rate          atomic.Int32
	PWave         Str
	PRInterval    atomic.Int32
	QRSInterval   atomic.Int32
	BPSys         atomic.Int32
	BPDia         atomic.Int32
	NIBPRate      atomic.Int32
	NIBPRead      atomic.Int32
	NIBPFreq      atomic.Int32

	// 0 none, 1 weak, 2 normal, 3 strong
	RightDorsalPulseStrength  atomic.Int32
	RightFemoralPulseStrength atomic.Int32
	LeftDorsalPulseStrength   atomic.Int32
	LeftFemoralPulseStrength  atomic.Int32

	HeartSound       Str
	HeartSoundVolume atomic.Int32
	HeartSoundMute   atomic.Int32
}

type Respiration struct {
	LeftLungSound        Str          // [init]
	LeftLungSoundVolume  atomic.Int32 // [init]
	LeftLungSoundMute    atomic.Int32 // [init]
	RightLungSound       Str          // [init]
	RightLungSoundVolume atomic.Int32 // [init]
	RightLungSoundMute   atomic.Int32 // [init]

	InhalationDuration atomic.Int32 // msec [init]
	ExhalationDuration atomic.Int32 // msec [init]

	AwRR atomic.Int32 // computed rate [init]
	Rate atomic.Int32 // defined rate [init]

	ChestMovement atomic.Int32 // pneumatics enabled [init]
	ManualBreath  atomic.Int32 // one-shot event flag [breath]
	Active        atomic.Int32 // manual ventilation in progress [breath]

	RiseState atomic.Int32 // valve mirror [effector]
	FallState atomic.Int32 // valve mirror [effector]
}

// Auscultation is the stethoscope placement. [rfid]
type Auscultation struct {
	Side              atomic.Int32
	Row               atomic.Int32
	Col               atomic.Int32
	HeartStrength     atomic.Int32
	LeftLungStrength  atomic.Int32
	RightLungStrength atomic.Int32
	HeartTrim         atomic.Int32 // [init]
	LungTrim          atomic.Int32 // [init]
	Tag               Str
}

type Pulse struct {
	// touch categories per limb [pulse]
	RightDorsal  atomic.Int32
	LeftDorsal   atomic.Int32
	RightFemoral atomic.Int32
	LeftFemoral  atomic.Int32

	AIN    [PulsePointsMax]atomic.Int32 // raw analog [pulse]
	Touch  [PulsePointsMax]atomic.Int32 // [pulse]
	Base   [PulsePointsMax]atomic.Int32 // calibrated baseline [pulse]
	Volume [PulsePointsMax]atomic.Int32 // computed playback volume [effector]
}

// CPR readings. [cpr]
type CPR struct {
	Last        atomic.Int32 // msec time of last compression
	Compression atomic.Int32 // 0-100%
	Release     atomic.Int32 // 0-100%
	Duration    atomic.Int32
	X           atomic.Int32
	Y           atomic.Int32
	Z           atomic.Int32
	Distance    atomic.Int32
	MaxDistance atomic.Int32
}

type Defibrillation struct {
	Last   atomic.Int32 // msec time of last shock
	Energy atomic.Int32 // joules
}

type Data struct {
	Header         Header
	Cardiac        Cardiac
	Respiration    Respiration
	Auscultation   Auscultation
	Pulse          Pulse
	CPR            CPR
	Defibrillation Defibrillation

	ManualBreathAIN      atomic.Int32 // [breath]
	ManualBreathBaseline atomic.Int32 // [breath]
}

// Size is the byte size of the record.
const Size = int(unsafe.Sizeof(Data{}))
