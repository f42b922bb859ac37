package effector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"simctl/audio"
	"simctl/gpio"
	"simctl/shm"
)

const sinusFade = 500 * time.Millisecond

// SelfTestOptions drives the bench self-test.
type SelfTestOptions struct {
	Board      *audio.Board
	PulseBoard *audio.Board
	Valves     *gpio.Valves
	Cycles     int
	// Gap separates cycles. Defaults to 100ms.
	Gap time.Duration
	Log *zap.Logger
}

// SelfTest plays the pulse tracks and steps through the valves Cycles
// times, then barks and shuts every valve.
func SelfTest(ctx context.Context, o SelfTestOptions) error {
	if o.Gap <= 0 {
		o.Gap = 100 * time.Millisecond
	}
	if o.PulseBoard == nil {
		o.PulseBoard = o.Board
	}
	log := o.Log.Named("selftest")

	v := PulseVolume(shm.TouchNormal, 2)
	log.Info("setting pulse volumes", zap.Int("gain", v))
	for ch := 2; ch < 6; ch++ {
		_ = o.PulseBoard.ChannelGain(ch, v)
	}

	for i := 0; i < o.Cycles; i++ {
		_ = o.PulseBoard.TrackPlayPoly(0, sinusTrack)
		for ch := 2; ch < 6; ch++ {
			_ = o.PulseBoard.TrackPlayPoly(ch, PulseTrack)
		}

		select {
		case <-ctx.Done():
			_ = o.PulseBoard.TrackStop(0, sinusTrack)
			return o.Valves.AllOff()
		case <-time.After(o.Gap):
		}
		if err := WaitIdle(ctx, o.PulseBoard, DefaultBarkTimeout); err != nil {
			log.Debug("wait idle", zap.Error(err))
		}

		var err error
		switch i % 5 {
		case 0:
			err = o.Valves.Fall(true)
		case 1, 2:
			err = o.Valves.Rise(true)
		case 4:
			err = o.Valves.AllOff()
		}
		if err != nil {
			log.Warn("valve", zap.Int("cycle", i), zap.Error(err))
		}
		log.Debug("cycle", zap.Int("n", i))
	}

	if err := o.PulseBoard.TrackFade(sinusTrack, audio.MinGain, sinusFade, true); err != nil {
		log.Warn("fade", zap.Error(err))
	}
	log.Info("bark")
	_ = o.Board.TrackPlaySolo(0, BarkTrack)
	return o.Valves.AllOff()
}
