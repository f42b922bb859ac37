package effector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"simctl/audio"
)

const (
	BarkTrack  = 5
	sinusTrack = 113

	DefaultOpenAttempts = 20
	DefaultBarkTimeout  = 5 * time.Second

	statusPollInterval = 10 * time.Millisecond
)

// BoardConfig says how to reach the sound boards.
type BoardConfig struct {
	Driver string
	// Ports holds the main board port and, for a WAV Trigger, the optional
	// pulse board port.
	Ports         []string
	OpenAttempts  int
	RetryInterval time.Duration
}

// OpenBoards opens the main board, retrying once per RetryInterval, and
// picks the pulse board. If the main board never opens both results are
// the same silent board.
func OpenBoards(ctx context.Context, cfg BoardConfig, log *zap.Logger) (main, pulse *audio.Board) {
	if cfg.OpenAttempts <= 0 {
		cfg.OpenAttempts = DefaultOpenAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	log = log.Named("audio")

	if len(cfg.Ports) == 0 {
		log.Warn("no audio port configured, running silent")
		main = audio.Silent()
		return main, main
	}

	main = openBoard(ctx, cfg, cfg.Ports[0], cfg.OpenAttempts, log)
	if main == nil {
		log.Warn("audio board unavailable, running silent",
			zap.String("port", cfg.Ports[0]), zap.Int("attempts", cfg.OpenAttempts))
		main = audio.Silent()
		return main, main
	}

	pulse = main
	info := main.Info()
	switch info.Kind {
	case audio.BoardWAVTrigger:
		if len(cfg.Ports) > 1 && cfg.Ports[1] != "" {
			if b := openBoard(ctx, cfg, cfg.Ports[1], 1, log); b != nil {
				pulse = b
			} else {
				log.Warn("no second WAV Trigger", zap.String("port", cfg.Ports[1]))
			}
		}
	case audio.BoardTsunami:
		if !info.Mono {
			log.Warn("Tsunami is running stereo mode, must be mono")
		}
	}
	return main, pulse
}

func openBoard(ctx context.Context, cfg BoardConfig, port string, attempts int, log *zap.Logger) *audio.Board {
	var conn audio.Conn
	var err error
	for i := 0; i < attempts; i++ {
		if conn, err = audio.Open(cfg.Driver, port); err == nil {
			break
		}
		log.Debug("open", zap.String("port", port), zap.Int("attempt", i+1), zap.Error(err))
		if i+1 < attempts {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.RetryInterval):
			}
		}
	}
	if err != nil {
		log.Warn("open failed", zap.String("port", port), zap.Error(err))
		return nil
	}

	b := audio.NewBoard(audio.NewQueue(port, conn, log))
	info, err := b.Identify()
	if err != nil {
		log.Warn("version query", zap.String("port", port), zap.Error(err))
	}
	voices, tracks, err := b.SysInfo()
	if err != nil {
		log.Warn("sysinfo query", zap.String("port", port), zap.Error(err))
	}
	log.Info("board",
		zap.String("port", port),
		zap.Stringer("kind", info.Kind),
		zap.String("firmware", info.Firmware),
		zap.Bool("mono", info.Mono),
		zap.Int("voices", voices),
		zap.Int("tracks", tracks),
	)
	return b
}

// Startup puts both boards into a known state and plays the bark so the
// operator hears the effector come up.
func Startup(ctx context.Context, main, pulse *audio.Board, log *zap.Logger) error {
	var errs []error
	do := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	do(main.AmpPower(false))
	do(main.StopAllTracks())
	do(main.MasterGain(0))
	if pulse != main {
		do(pulse.AmpPower(true))
		do(pulse.StopAllTracks())
		do(pulse.MasterGain(0))
	}
	if main.Kind() == audio.BoardTsunami {
		for ch := 0; ch < 8; ch++ {
			do(main.ChannelGain(ch, 0))
		}
	}
	do(pulse.TrackGain(PulseTrack, MaxMaxVolume))
	do(main.TrackGain(sinusTrack, 0))
	do(main.TrackGain(BarkTrack, 0))
	do(main.StopAllTracks())
	if pulse != main {
		do(pulse.StopAllTracks())
	}

	log.Info("initial bark")
	do(main.TrackPlaySolo(0, BarkTrack))
	do(WaitIdle(ctx, main, DefaultBarkTimeout))

	return errors.Join(errs...)
}

// WaitIdle polls the board until nothing is playing or timeout passes. A
// board that cannot answer counts as idle.
func WaitIdle(ctx context.Context, b *audio.Board, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		playing, err := b.TracksPlaying()
		if err != nil || len(playing) == 0 {
			if errors.Is(err, audio.ErrNoReply) {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		case <-time.After(statusPollInterval):
		}
	}
}
