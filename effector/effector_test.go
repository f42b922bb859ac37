package effector

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"simctl/audio"
	"simctl/audio/mock"
	"simctl/gpio"
	"simctl/shm"
)

const (
	heartTrack = 20
	lungLeft   = 31
	lungRight  = 32
)

type fakeTicks struct {
	heart, breath atomic.Uint64
}

func (f *fakeTicks) HeartCount() uint64  { return f.heart.Load() }
func (f *fakeTicks) BreathCount() uint64 { return f.breath.Load() }

type harness struct {
	s      *Scheduler
	conn   *mock.Conn
	pins   *gpio.Mock
	seg    *shm.Segment
	d      *shm.Data
	ticks  *fakeTicks
	t0     time.Time
	signal chan os.Signal
}

func testSounds() *SoundList {
	return NewSoundList(
		Sound{Type: SoundHeart, Index: heartTrack, Name: "normal", Low: 0, High: 200},
		Sound{Type: SoundLung, Index: lungLeft, Name: "normal", Low: 0, High: 60},
		Sound{Type: SoundLung, Index: lungRight, Name: "wheeze", Low: 0, High: 60},
	)
}

func newHarness(t *testing.T, version string) *harness {
	t.Helper()
	conn := mock.New(version)
	board := audio.NewBoard(conn)
	_, err := board.Identify()
	require.NoError(t, err)
	conn.Reset()

	pins := gpio.NewMock()
	valves, err := gpio.NewValves(pins, gpio.DefaultPins())
	require.NoError(t, err)

	seg := shm.NewMemory()
	d := seg.Data()
	d.Cardiac.Rate.Store(80)
	d.Cardiac.HeartSound.Store("normal")
	d.Respiration.Rate.Store(20)
	d.Respiration.LeftLungSound.Store("normal")
	d.Respiration.RightLungSound.Store("wheeze")
	d.Respiration.ChestMovement.Store(1)
	d.Auscultation.Side.Store(shm.SideLeft)
	d.Auscultation.HeartStrength.Store(10)

	h := &harness{
		conn:   conn,
		pins:   pins,
		seg:    seg,
		d:      d,
		ticks:  &fakeTicks{},
		t0:     time.Unix(1_700_000_000, 0),
		signal: make(chan os.Signal, 1),
	}
	h.s = New(Options{
		Segment: seg,
		Board:   board,
		Valves:  valves,
		Sounds:  testSounds(),
		Ticks:   h.ticks,
		Signals: h.signal,
		Log:     zaptest.NewLogger(t),
	})
	return h
}

func (h *harness) at(ms int) time.Time { return h.t0.Add(time.Duration(ms) * time.Millisecond) }

func (h *harness) rise() bool  { return h.pins.Level(gpio.PinRiseL) && h.pins.Level(gpio.PinRiseR) }
func (h *harness) fall() bool  { return h.pins.Level(gpio.PinFall) }
func (h *harness) pulse() bool { return h.pins.Level(gpio.PinPulse) }

func TestRiseDuration(t *testing.T) {
	tests := []struct {
		rate    int32
		want    time.Duration
		anomaly bool
	}{
		{0, 600 * time.Millisecond, false},
		{1, 1500 * time.Millisecond, false},
		{12, 1500 * time.Millisecond, false},
		{15, 1200 * time.Millisecond, false},
		{20, 900 * time.Millisecond, false},
		{60, 300 * time.Millisecond, false},
		{80, 225 * time.Millisecond, false},
		{-5, 0, true},
	}
	for _, tt := range tests {
		got, anomaly := RiseDuration(tt.rate)
		assert.Equal(t, tt.want, got, "rate %d", tt.rate)
		assert.Equal(t, tt.anomaly, anomaly, "rate %d", tt.rate)
	}

	for r := int32(1); r <= 60; r++ {
		got, _ := RiseDuration(r)
		want := time.Duration(float64(time.Minute) / float64(r) * 0.30)
		if want > 1500*time.Millisecond {
			want = 1500 * time.Millisecond
		}
		assert.InDelta(t, float64(want), float64(got), float64(time.Microsecond), "rate %d", r)
	}
}

func TestVolumeToGain(t *testing.T) {
	assert.Equal(t, -40, VolumeToGain(0, 0))
	assert.Equal(t, -15, VolumeToGain(0, 10))
	assert.Equal(t, 10, VolumeToGain(10, 10))
	assert.Equal(t, -52, VolumeToGain(-5, 0))

	// trims are added to the volume and can leave the -10..10 range
	assert.Equal(t, audio.MaxGain, VolumeToGain(15, 10))
	assert.Equal(t, audio.MinGain, VolumeToGain(-40, 0))
}

func TestHeartGainHeldInBoardRange(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.d.Cardiac.HeartSoundVolume.Store(10)
	h.d.Auscultation.HeartTrim.Store(5)

	h.s.Step(h.at(0))
	assert.Equal(t, []int{audio.MaxGain}, h.conn.TrackGains(heartTrack))
}

func TestPulseVolume(t *testing.T) {
	assert.Equal(t, PulseVolumeOn, PulseVolume(shm.TouchNormal, 2))
	assert.Equal(t, PulseVolumeSoft-10, PulseVolume(shm.TouchLight, 1))
	assert.Equal(t, PulseVolumeVerySoft+10, PulseVolume(shm.TouchExcessive, 3))
	assert.Equal(t, PulseVolumeOff, PulseVolume(shm.TouchNormal, 0))
	assert.Equal(t, PulseVolumeOff+10, PulseVolume(shm.TouchNone, 3))
}

func TestTimers(t *testing.T) {
	var tm Timers
	t0 := time.Unix(0, 0)

	tm.Arm(timerRise, t0.Add(30*time.Millisecond))
	tm.Arm(timerHeart, t0.Add(10*time.Millisecond))
	tm.Arm(timerBreath, t0.Add(20*time.Millisecond))
	tm.Cancel(timerBreath)
	assert.False(t, tm.Armed(timerBreath))

	assert.Empty(t, tm.Expired(t0.Add(5*time.Millisecond)))
	assert.Equal(t, []timerID{timerHeart, timerRise}, tm.Expired(t0.Add(30*time.Millisecond)))
	assert.False(t, tm.Armed(timerRise))

	// re-arming replaces the old deadline
	tm.Arm(timerHeart, t0.Add(50*time.Millisecond))
	tm.Arm(timerHeart, t0.Add(90*time.Millisecond))
	assert.Empty(t, tm.Expired(t0.Add(60*time.Millisecond)))
	assert.Equal(t, []timerID{timerHeart}, tm.Expired(t0.Add(90*time.Millisecond)))
}

func TestHeartbeatAt80BPM(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)

	firstPlay := map[int]int{}
	pinOn := map[int]bool{}
	for ms := 0; ms <= 1600; ms += 20 {
		if ms == 20 || ms == 780 {
			h.ticks.heart.Add(1)
		}
		h.s.Step(h.at(ms))
		n := h.conn.Plays(heartTrack)
		if _, seen := firstPlay[n]; !seen {
			firstPlay[n] = ms
		}
		pinOn[ms] = h.pulse()
	}

	assert.Equal(t, 2, h.conn.Plays(heartTrack))
	assert.Equal(t, 140, firstPlay[1], "lub 120ms after the first tick")
	assert.Equal(t, 900, firstPlay[2], "lub 120ms after the second tick")

	for _, ms := range []int{20, 60, 120, 780, 880} {
		assert.True(t, pinOn[ms], "pulse pin at %dms", ms)
	}
	for _, ms := range []int{0, 140, 500, 900, 1600} {
		assert.False(t, pinOn[ms], "pulse pin at %dms", ms)
	}
}

func TestHeartSilentDuringPEA(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.d.Cardiac.PEA.Store(1)

	h.ticks.heart.Add(1)
	h.s.Step(h.at(0))
	assert.True(t, h.pulse())
	h.s.Step(h.at(120))

	assert.False(t, h.pulse())
	assert.Zero(t, h.conn.Plays(heartTrack))
	assert.Equal(t, []int{MinVolume}, h.conn.TrackGains(heartTrack))
	assert.Equal(t, "AWAIT_TICK", h.s.Status().HeartState)
}

func TestGainSentOnce(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.d.Cardiac.HeartSoundVolume.Store(2)

	h.s.Step(h.at(0))
	h.s.Step(h.at(20))
	assert.Equal(t, []int{VolumeToGain(2, 10)}, h.conn.TrackGains(heartTrack))

	h.d.Cardiac.HeartSoundVolume.Store(4)
	h.s.Step(h.at(40))
	h.s.Step(h.at(60))
	assert.Equal(t, []int{VolumeToGain(2, 10), VolumeToGain(4, 10)}, h.conn.TrackGains(heartTrack))

	h.d.Cardiac.HeartSoundMute.Store(1)
	h.s.Step(h.at(80))
	h.s.Step(h.at(100))
	assert.Equal(t, MinVolume, h.conn.TrackGains(heartTrack)[2])
	assert.Len(t, h.conn.TrackGains(heartTrack), 3)
}

func TestLungGainsFollowSide(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.d.Auscultation.LeftLungStrength.Store(6)
	h.d.Auscultation.RightLungStrength.Store(4)

	h.s.Step(h.at(0))
	assert.Equal(t, []int{VolumeToGain(0, 6)}, h.conn.TrackGains(lungLeft))
	assert.Empty(t, h.conn.TrackGains(lungRight))

	h.d.Auscultation.Side.Store(shm.SideRight)
	h.s.Step(h.at(20))
	assert.Equal(t, []int{VolumeToGain(0, 4)}, h.conn.TrackGains(lungRight))
	assert.Len(t, h.conn.TrackGains(lungLeft), 1)

	h.d.Respiration.RightLungSoundMute.Store(1)
	h.s.Step(h.at(40))
	assert.Equal(t, []int{VolumeToGain(0, 4), MinVolume}, h.conn.TrackGains(lungRight))
}

func TestMasterGainFollowsAuscultation(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.d.Auscultation.Side.Store(shm.SideNone)

	h.s.Step(h.at(0))
	h.s.Step(h.at(20))
	assert.Equal(t, []int{MinVolume}, h.conn.ChannelGains(-1))

	h.d.Auscultation.Side.Store(shm.SideRight)
	h.s.Step(h.at(40))
	h.s.Step(h.at(60))
	assert.Equal(t, []int{MinVolume, MaxVolume}, h.conn.ChannelGains(-1))

	th := newHarness(t, mock.TsunamiMonoVersion)
	th.s.Step(th.at(0))
	assert.Equal(t, []int{MaxVolume}, th.conn.ChannelGains(0))
	assert.Empty(t, th.conn.ChannelGains(-1))
}

func TestBreathCycle(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)

	h.ticks.breath.Add(1)
	h.s.Step(h.at(0))
	assert.True(t, h.rise())
	assert.False(t, h.fall())
	assert.Equal(t, int32(1), h.d.Respiration.RiseState.Load())
	assert.Zero(t, h.conn.Plays(lungLeft))

	h.s.Step(h.at(20))
	assert.Zero(t, h.conn.Plays(lungLeft))
	h.s.Step(h.at(40))
	assert.Equal(t, 1, h.conn.Plays(lungLeft))
	assert.Zero(t, h.conn.Plays(lungRight))

	// rate 20: the chest rises for 900ms
	h.s.Step(h.at(880))
	assert.True(t, h.rise())
	h.s.Step(h.at(900))
	assert.False(t, h.rise())
	assert.True(t, h.fall())
	assert.Equal(t, int32(0), h.d.Respiration.RiseState.Load())
	assert.Equal(t, int32(1), h.d.Respiration.FallState.Load())

	// no further breath: the fall valve closes 10s after the inhale
	h.s.Step(h.at(10020))
	assert.True(t, h.fall())
	h.s.Step(h.at(10040))
	assert.False(t, h.fall())
	assert.Equal(t, int32(0), h.d.Respiration.FallState.Load())
}

func TestBreathWithoutChestMovementPulsesFall(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.d.Respiration.ChestMovement.Store(0)

	h.ticks.breath.Add(1)
	h.s.Step(h.at(0))
	assert.False(t, h.rise())
	assert.Zero(t, h.d.Respiration.RiseState.Load())

	h.s.Step(h.at(40))
	assert.Equal(t, 1, h.conn.Plays(lungLeft), "inhale plays without chest movement")

	h.s.Step(h.at(900))
	assert.True(t, h.fall())
	h.s.Step(h.at(920))
	assert.False(t, h.fall())
	assert.Equal(t, int32(0), h.d.Respiration.FallState.Load())
}

func TestApneaForcesValvesOff(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.d.Respiration.Rate.Store(0)

	h.ticks.breath.Add(1)
	ms := 0
	for ; ms <= 600; ms += 20 {
		h.s.Step(h.at(ms))
	}
	require.True(t, h.fall())
	require.Equal(t, int32(1), h.d.Respiration.FallState.Load())

	for i := 0; i < exhaleLimit+5; i, ms = i+1, ms+20 {
		h.s.Step(h.at(ms))
	}
	assert.Less(t, ms, 10040, "apnea must win over the fall-stop watchdog")
	assert.False(t, h.fall())
	assert.False(t, h.rise())
	assert.Zero(t, h.d.Respiration.RiseState.Load())
	assert.Zero(t, h.d.Respiration.FallState.Load())
}

func TestManualVentilation(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.d.Respiration.Active.Store(1)

	h.s.Step(h.at(0))
	assert.True(t, h.rise())
	assert.False(t, h.fall())

	h.ticks.breath.Add(1)
	h.s.Step(h.at(20))
	assert.True(t, h.rise())
	h.s.Step(h.at(60))
	assert.Zero(t, h.conn.Plays(lungLeft))

	h.d.Respiration.Active.Store(0)
	h.s.Step(h.at(80))
	assert.False(t, h.rise())
	assert.Zero(t, h.d.Respiration.RiseState.Load())
}

func TestFemoralPulses(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.d.Pulse.RightFemoral.Store(shm.TouchNormal)
	h.d.Cardiac.RightFemoralPulseStrength.Store(2)
	h.d.Pulse.LeftFemoral.Store(shm.TouchNormal)

	h.ticks.heart.Add(1)
	h.s.Step(h.at(0))
	h.s.Step(h.at(120))

	assert.Equal(t, []int{PulseVolumeOn - 25}, h.conn.TrackGains(PulseTrackRight))
	assert.Equal(t, 1, h.conn.Plays(PulseTrackRight))
	assert.Equal(t, []int{PulseVolumeOff}, h.conn.TrackGains(PulseTrackLeft))
	assert.Zero(t, h.conn.Plays(PulseTrackLeft))
	assert.Equal(t, int32(PulseVolumeOn-25), h.d.Pulse.Volume[shm.PulseRightFemoral].Load())
	assert.Contains(t, h.conn.ChannelGains(-1), PulseVolumeOn)

	th := newHarness(t, mock.TsunamiMonoVersion)
	th.d.Pulse.LeftFemoral.Store(shm.TouchHeavy)
	th.d.Cardiac.LeftFemoralPulseStrength.Store(3)
	th.ticks.heart.Add(1)
	th.s.Step(th.at(0))
	th.s.Step(th.at(120))

	assert.Equal(t, []int{PulseVolumeSoft + 10 - 25}, th.conn.ChannelGains(2))
	assert.Equal(t, []int{PulseVolumeOff}, th.conn.ChannelGains(3))
	assert.Equal(t, 1, th.conn.Plays(PulseTrack))
	assert.Equal(t, int32(PulseVolumeOff), th.d.Pulse.Volume[shm.PulseRightFemoral].Load())
}

func TestSelectionKeepsTrackWithoutMatch(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.s.Step(h.at(0))
	assert.Equal(t, heartTrack, h.s.Status().HeartTrack)

	h.d.Cardiac.Rate.Store(250)
	h.s.Step(h.at(20))
	assert.Equal(t, heartTrack, h.s.Status().HeartTrack)

	h.d.Respiration.LeftLungSound.Store("wheeze")
	h.s.Step(h.at(40))
	assert.Equal(t, lungRight, h.s.Status().InhaleLeft)
}

func TestSigtermClosesValves(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.ticks.breath.Add(1)
	h.ticks.heart.Add(1)
	h.s.Step(time.Now())
	require.True(t, h.rise())
	require.True(t, h.pulse())

	done := make(chan error, 1)
	go func() { done <- h.s.Run(context.Background()) }()
	h.signal <- syscall.SIGTERM

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after SIGTERM")
	}
	assert.False(t, h.rise())
	assert.False(t, h.fall())
	assert.False(t, h.pulse())
	assert.Zero(t, h.d.Respiration.RiseState.Load())
	assert.Zero(t, h.d.Respiration.FallState.Load())
}

type panickyTicks struct {
	*fakeTicks
	armed atomic.Bool
}

func (p *panickyTicks) HeartCount() uint64 {
	if p.armed.Load() {
		panic("tick source failed")
	}
	return p.fakeTicks.HeartCount()
}

func TestPanicInLoopClosesValves(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	ticks := &panickyTicks{fakeTicks: h.ticks}
	h.s.ticks = ticks
	h.ticks.breath.Add(1)
	h.ticks.heart.Add(1)
	h.s.Step(time.Now())
	require.True(t, h.rise())
	require.True(t, h.pulse())

	ticks.armed.Store(true)
	recovered := make(chan any, 1)
	go func() {
		defer func() { recovered <- recover() }()
		_ = h.s.Run(context.Background())
	}()

	select {
	case r := <-recovered:
		assert.Equal(t, "tick source failed", r)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not panic")
	}
	assert.False(t, h.rise())
	assert.False(t, h.fall())
	assert.False(t, h.pulse())
	assert.Zero(t, h.d.Respiration.RiseState.Load())
}

func TestSighupClosesValvesAndContinues(t *testing.T) {
	h := newHarness(t, mock.WAVTriggerVersion)
	h.ticks.breath.Add(1)
	h.s.Step(time.Now())
	require.True(t, h.rise())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()
	h.signal <- syscall.SIGHUP

	require.Eventually(t, func() bool { return !h.rise() }, time.Second, 5*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Run returned after SIGHUP: %v", err)
	default:
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestParseSoundList(t *testing.T) {
	in := strings.Join([]string{
		"heart,20,normal,0,200",
		"lung;31;normal breath;0;60",
		"pulse\t103\tfemoral\t0\t300",
		"unused,1,x,0,0",
		"heart,notanumber,normal,0,1",
		"bogus,4,x,0,1",
		"",
		" heart , 21 , fast , 201 , 300 ",
	}, "\n")

	l, err := ParseSoundList(strings.NewReader(in), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 4, l.Len())

	trk, ok := l.Lookup(SoundLung, "normal_breath", 12)
	assert.True(t, ok)
	assert.Equal(t, 31, trk)

	trk, ok = l.Lookup(SoundHeart, "fast", 250)
	assert.True(t, ok)
	assert.Equal(t, 21, trk)

	_, ok = l.Lookup(SoundHeart, "normal", 201)
	assert.False(t, ok)
	_, ok = l.Lookup(SoundLung, "normal", 12)
	assert.False(t, ok)
}

func TestLookupFirstMatchWins(t *testing.T) {
	l := NewSoundList(
		Sound{Type: SoundHeart, Index: 1, Name: "n", Low: 0, High: 100},
		Sound{Type: SoundHeart, Index: 2, Name: "n", Low: 50, High: 150},
	)
	trk, _ := l.Lookup(SoundHeart, "n", 75)
	assert.Equal(t, 1, trk)
	trk, _ = l.Lookup(SoundHeart, "n", 120)
	assert.Equal(t, 2, trk)
}

func TestLoadSoundListMissing(t *testing.T) {
	_, err := LoadSoundList(t.TempDir()+"/none.csv", zap.NewNop())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStartupSequence(t *testing.T) {
	conn := mock.New(mock.TsunamiMonoVersion)
	b := audio.NewBoard(conn)
	_, err := b.Identify()
	require.NoError(t, err)
	conn.Reset()
	conn.QueuePlaying([]int{BarkTrack}, []int{BarkTrack})

	require.NoError(t, Startup(context.Background(), b, b, zaptest.NewLogger(t)))

	d := conn.Decoded()
	require.NotEmpty(t, d)
	assert.Equal(t, audio.OpAmpPower, d[0].Op)
	for ch := 0; ch < 8; ch++ {
		assert.Contains(t, conn.ChannelGains(ch), 0, "channel %d", ch)
	}
	assert.Equal(t, []int{MaxMaxVolume}, conn.TrackGains(PulseTrack))
	assert.Equal(t, 1, conn.Plays(BarkTrack))
	assert.Equal(t, 3, conn.Count(audio.OpGetStatus))
}

func TestOpenBoardsFallsBackToSilent(t *testing.T) {
	log := zaptest.NewLogger(t)

	main, pulse := OpenBoards(context.Background(), BoardConfig{
		Driver:        "no-such-driver",
		Ports:         []string{"/dev/null"},
		OpenAttempts:  2,
		RetryInterval: time.Millisecond,
	}, log)
	assert.True(t, main.IsSilent())
	assert.Same(t, main, pulse)

	main, pulse = OpenBoards(context.Background(), BoardConfig{Driver: "mock", Ports: []string{"a", "b"}}, log)
	defer main.Close()
	assert.False(t, main.IsSilent())
	assert.Equal(t, audio.BoardTsunami, main.Kind())
	assert.Same(t, main, pulse)
}

func TestSilentSchedulerStillActuates(t *testing.T) {
	pins := gpio.NewMock()
	valves, err := gpio.NewValves(pins, gpio.DefaultPins())
	require.NoError(t, err)
	seg := shm.NewMemory()
	seg.Data().Respiration.ChestMovement.Store(1)
	ticks := &fakeTicks{}
	s := New(Options{Segment: seg, Valves: valves, Ticks: ticks, Log: zap.NewNop()})

	ticks.breath.Add(1)
	s.Step(time.Unix(0, 0))
	assert.True(t, pins.Level(gpio.PinRiseL))
	assert.True(t, s.Status().Silent)
}

func TestSelfTest(t *testing.T) {
	conn := mock.New(mock.TsunamiMonoVersion)
	b := audio.NewBoard(conn)
	pins := gpio.NewMock()
	valves, err := gpio.NewValves(pins, gpio.DefaultPins())
	require.NoError(t, err)

	require.NoError(t, SelfTest(context.Background(), SelfTestOptions{
		Board:  b,
		Valves: valves,
		Cycles: 3,
		Gap:    time.Millisecond,
		Log:    zap.NewNop(),
	}))
	assert.Equal(t, 12, conn.Plays(PulseTrack))
	assert.Equal(t, 1, conn.Plays(BarkTrack))
	assert.Equal(t, []int{audio.MinGain}, conn.Fades(sinusTrack))
	for _, pin := range []int{gpio.PinRiseL, gpio.PinRiseR, gpio.PinFall, gpio.PinPulse} {
		assert.False(t, pins.Level(pin))
	}
}
