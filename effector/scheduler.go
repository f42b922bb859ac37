// Package effector turns heart and breath ticks plus the shared physiology
// record into timed sound board commands and valve outputs.
//
// All output happens on the goroutine calling Step (or Run). Timer
// expiry only flips a state; the following Step acts on it.
package effector

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"simctl/audio"
	"simctl/gpio"
	"simctl/metrics"
	"simctl/shm"
)

const DefaultQuantum = 20 * time.Millisecond

// ErrTerminated is returned by Run after a SIGTERM has been handled.
var ErrTerminated = errors.New("effector: terminated")

// TickSource counts heart and breath events from the manager.
// *syncchan.Channel satisfies it.
type TickSource interface {
	HeartCount() uint64
	BreathCount() uint64
}

type Options struct {
	Segment *shm.Segment

	Board *audio.Board
	// PulseBoard drives the femoral pulse tracks. Defaults to Board.
	PulseBoard *audio.Board

	Valves *gpio.Valves
	Sounds *SoundList
	Ticks  TickSource

	Quantum time.Duration
	Signals <-chan os.Signal

	Log *zap.Logger
}

type heartState int

const (
	heartAwait heartState = iota
	heartFire
)

func (s heartState) String() string {
	if s == heartFire {
		return "FIRE"
	}
	return "AWAIT_TICK"
}

type lungState int

const (
	lungIdle lungState = iota
	lungSoundPending
)

func (s lungState) String() string {
	if s == lungSoundPending {
		return "SOUND_PENDING"
	}
	return "IDLE"
}

// Status is the scheduler's view of its outputs, for the status server.
type Status struct {
	HeartState  string `json:"heartState"`
	LungState   string `json:"lungState"`
	HeartCount  uint64 `json:"heartCount"`
	BreathCount uint64 `json:"breathCount"`
	HeartTrack  int    `json:"heartTrack"`
	InhaleLeft  int    `json:"inhaleLeft"`
	InhaleRight int    `json:"inhaleRight"`
	MasterGain  int    `json:"masterGain"`
	HeartGain   int    `json:"heartGain"`
	LeftGain    int    `json:"leftLungGain"`
	RightGain   int    `json:"rightLungGain"`
	Board       string `json:"board"`
	Silent      bool   `json:"silent"`
}

type Scheduler struct {
	opts   Options
	log    *zap.Logger
	d      *shm.Data
	board  *audio.Board
	pulse  *audio.Board
	valves *gpio.Valves
	sounds *SoundList
	ticks  TickSource

	timers Timers

	heart            heartState
	lung             lungState
	riseExpired      bool
	fallPulseExpired bool

	lastHeart  uint64
	lastBreath uint64

	fallStopAt  time.Time
	exhLimit    int
	wasManual   bool
	masterGain  int
	masterKnown bool

	side      int32
	gains     map[int]int
	forceGain bool
	heartGain int
	leftGain  int
	rightGain int

	heartSel heartSelection
	lungSel  lungSelection

	mu     sync.Mutex
	status Status
}

func New(opts Options) *Scheduler {
	if opts.Quantum <= 0 {
		opts.Quantum = DefaultQuantum
	}
	if opts.Board == nil {
		opts.Board = audio.Silent()
	}
	if opts.PulseBoard == nil {
		opts.PulseBoard = opts.Board
	}
	if opts.Sounds == nil {
		opts.Sounds = NewSoundList()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	s := &Scheduler{
		opts:      opts,
		log:       opts.Log.Named("effector"),
		d:         opts.Segment.Data(),
		board:     opts.Board,
		pulse:     opts.PulseBoard,
		valves:    opts.Valves,
		sounds:    opts.Sounds,
		ticks:     opts.Ticks,
		exhLimit:  exhaleLimit,
		gains:     make(map[int]int),
		heartGain: initialGain,
		leftGain:  initialGain,
		rightGain: initialGain,
		heartSel:  heartSelection{rate: -1},
		lungSel:   lungSelection{rate: -1},
	}
	if s.ticks != nil {
		s.lastHeart = s.ticks.HeartCount()
		s.lastBreath = s.ticks.BreathCount()
	}
	return s
}

func (s *Scheduler) String() string { return "effector" }

// Step runs one loop iteration at now.
func (s *Scheduler) Step(now time.Time) {
	for _, id := range s.timers.Expired(now) {
		switch id {
		case timerHeart:
			if s.heart == heartAwait {
				s.heart = heartFire
			}
		case timerBreath:
			if s.lung == lungIdle {
				s.lung = lungSoundPending
			}
		case timerRise:
			s.riseExpired = true
		case timerFallPulse:
			s.fallPulseExpired = true
		}
	}

	s.runMaster()
	s.selectHeart()
	s.selectLung()
	s.runLung(now)
	s.runHeart(now)
	s.publish()
}

// Run calls Step every quantum until ctx is done or a SIGTERM arrives on
// Options.Signals. SIGHUP turns the air off and carries on.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Quantum)
	defer ticker.Stop()
	defer func() {
		if r := recover(); r != nil {
			s.shutdown()
			s.log.Error("loop panic: all air off", zap.Any("panic", r))
			panic(r)
		}
	}()

	s.log.Info("running", zap.Duration("quantum", s.opts.Quantum))
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case sig := <-s.opts.Signals:
			switch sig {
			case syscall.SIGTERM, os.Interrupt:
				s.shutdown()
				s.log.Info("terminated", zap.Stringer("signal", sig))
				return ErrTerminated
			case syscall.SIGHUP:
				s.AllAirOff()
				s.log.Info("hangup: all air off")
			}
		case <-ticker.C:
			start := time.Now()
			s.Step(start)
			if time.Since(start) > s.opts.Quantum {
				metrics.LoopOverruns.Inc()
			}
		}
	}
}

// Serve runs the loop as a supervised service.
func (s *Scheduler) Serve(ctx context.Context) error { return s.Run(ctx) }

func (s *Scheduler) shutdown() {
	s.AllAirOff()
	s.pulsePin(false)
}

// AllAirOff closes every valve, clears the valve mirrors and abandons the
// breath in progress. It must not be called concurrently with Step.
func (s *Scheduler) AllAirOff() {
	s.airOffQuiet()
	s.d.Respiration.RiseState.Store(0)
	s.d.Respiration.FallState.Store(0)
	s.fallStopAt = time.Time{}
	s.lung = lungIdle
	s.riseExpired, s.fallPulseExpired = false, false
	s.timers.Cancel(timerBreath)
	s.timers.Cancel(timerRise)
	s.timers.Cancel(timerFallPulse)
}

// airOffQuiet drives the valve pins low and leaves the state alone.
func (s *Scheduler) airOffQuiet() {
	s.valveErr("rise", s.valves.Rise(false))
	s.valveErr("fall", s.valves.Fall(false))
	metrics.ValveState.WithLabelValues("rise").Set(0)
	metrics.ValveState.WithLabelValues("fall").Set(0)
}

func (s *Scheduler) lungRise(on bool) {
	if on {
		s.d.Respiration.RiseState.Store(1)
	} else {
		s.d.Respiration.RiseState.Store(0)
	}
	// the mirror follows the request; the pin only opens with chest movement
	pin := on && s.d.Respiration.ChestMovement.Load() != 0
	s.valveErr("rise", s.valves.Rise(pin))
	metrics.ValveState.WithLabelValues("rise").Set(b2f(pin))
}

func (s *Scheduler) lungFall(on bool) {
	s.valveErr("fall", s.valves.Fall(on))
	if on {
		s.d.Respiration.FallState.Store(1)
	} else {
		s.d.Respiration.FallState.Store(0)
	}
	metrics.ValveState.WithLabelValues("fall").Set(b2f(on))
}

func (s *Scheduler) pulsePin(on bool) {
	s.valveErr("pulse", s.valves.Pulse(on))
	metrics.ValveState.WithLabelValues("pulse").Set(b2f(on))
}

func (s *Scheduler) valveErr(valve string, err error) {
	if err != nil {
		s.log.Debug("valve write", zap.String("valve", valve), zap.Error(err))
	}
}

// audioErr logs and counts the outcome of a board command.
func (s *Scheduler) audioErr(b *audio.Board, what string, err error) {
	switch {
	case err != nil:
		metrics.AudioCommands.WithLabelValues("failed").Inc()
		s.log.Debug("audio command", zap.String("cmd", what), zap.Error(err))
	case b.IsSilent():
		metrics.AudioCommands.WithLabelValues("dropped").Inc()
	default:
		metrics.AudioCommands.WithLabelValues("sent").Inc()
	}
}

// runMaster mutes the main board while no side is being auscultated.
func (s *Scheduler) runMaster() {
	side := s.d.Auscultation.Side.Load()
	if side != s.side {
		s.side = side
		s.forceGain = true
	}

	gain := MinVolume
	if side != shm.SideNone {
		gain = MaxVolume
	}
	if s.masterKnown && gain == s.masterGain {
		return
	}
	s.masterGain, s.masterKnown = gain, true

	var err error
	if s.board.Kind() == audio.BoardTsunami {
		err = s.board.ChannelGain(0, gain)
	} else {
		err = s.board.MasterGain(gain)
	}
	s.audioErr(s.board, "master gain", err)
	s.log.Info("master gain",
		zap.Int("gain", gain),
		zap.Int32("side", side),
		zap.Uint64("heartCount", s.lastHeart),
		zap.Uint64("breathCount", s.lastBreath),
	)
}

// trackGain sends gain for trk unless it is the last value sent for that
// track and force is false.
func (s *Scheduler) trackGain(trk, gain int, force bool) {
	if trk <= 0 {
		return
	}
	if last, ok := s.gains[trk]; ok && last == gain && !force {
		return
	}
	s.gains[trk] = gain
	s.audioErr(s.board, "track gain", s.board.TrackGain(trk, gain))
}

func (s *Scheduler) play(b *audio.Board, ch, trk int) {
	if trk <= 0 {
		return
	}
	s.audioErr(b, "play", b.TrackPlayPoly(ch, trk))
}

func (s *Scheduler) report() {
	s.log.Info("report",
		zap.Uint64("heartCount", s.lastHeart),
		zap.Uint64("breathCount", s.lastBreath),
		zap.Stringer("heartState", s.heart),
		zap.Int("heartGain", s.heartGain),
		zap.Stringer("lungState", s.lung),
		zap.Int("rightLungGain", s.rightGain),
		zap.Int("leftLungGain", s.leftGain),
		zap.Int("masterGain", s.masterGain),
		zap.Int("heart", s.heartSel.track),
		zap.Int("inhaleRight", s.lungSel.right),
		zap.Int("inhaleLeft", s.lungSel.left),
	)
}

func (s *Scheduler) publish() {
	st := Status{
		HeartState:  s.heart.String(),
		LungState:   s.lung.String(),
		HeartCount:  s.lastHeart,
		BreathCount: s.lastBreath,
		HeartTrack:  s.heartSel.track,
		InhaleLeft:  s.lungSel.left,
		InhaleRight: s.lungSel.right,
		MasterGain:  s.masterGain,
		HeartGain:   s.heartGain,
		LeftGain:    s.leftGain,
		RightGain:   s.rightGain,
		Board:       s.board.Kind().String(),
		Silent:      s.board.IsSilent(),
	}
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Status returns a copy of the state published by the last Step. It is
// safe to call from any goroutine.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
