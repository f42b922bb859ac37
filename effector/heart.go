package effector

import (
	"time"

	"go.uber.org/zap"

	"simctl/audio"
	"simctl/metrics"
	"simctl/shm"
)

// lubDelay is the time from the electrical beat to the audible lub-dub.
const lubDelay = 120 * time.Millisecond

// initialGain is assumed for every sound before its first gain is sent.
const initialGain = -65

// Pulse tracks.
const (
	PulseTrack      = 103 // Tsunami, played on channels 2 and 3
	PulseTrackLeft  = 104 // WAV Trigger pulse board
	PulseTrackRight = 105
)

func (s *Scheduler) heartVolume() int {
	c := &s.d.Cardiac
	if c.PEA.Load() != 0 || c.HeartSoundMute.Load() != 0 {
		return MinVolume
	}
	a := &s.d.Auscultation
	return VolumeToGain(int(c.HeartSoundVolume.Load()+a.HeartTrim.Load()), int(a.HeartStrength.Load()))
}

func (s *Scheduler) runHeart(now time.Time) {
	s.heartGain = s.heartVolume()
	s.trackGain(s.heartSel.track, s.heartGain, s.forceGain)
	s.forceGain = false

	switch s.heart {
	case heartAwait:
		if s.ticks == nil {
			return
		}
		if n := s.ticks.HeartCount(); n != s.lastHeart {
			s.lastHeart = n
			metrics.EffectorTicks.WithLabelValues("heart").Inc()
			s.pulsePin(true)
			s.timers.Arm(timerHeart, now.Add(lubDelay))
		}

	case heartFire:
		s.pulsePin(false)
		if s.d.Cardiac.PEA.Load() == 0 {
			s.play(s.board, 0, s.heartSel.track)
			s.doPulse()
		}
		s.heart = heartAwait
	}
}

// doPulse plays the femoral pulses that are being palpated and records
// the volume used for each.
func (s *Scheduler) doPulse() {
	if s.d.Cardiac.PEA.Load() != 0 {
		return
	}
	p, c := &s.d.Pulse, &s.d.Cardiac

	sides := []struct {
		point    int
		touch    int32
		strength int32
		channel  int
		track    int
	}{
		{shm.PulseRightFemoral, p.RightFemoral.Load(), c.RightFemoralPulseStrength.Load(), 3, PulseTrackRight},
		{shm.PulseLeftFemoral, p.LeftFemoral.Load(), c.LeftFemoralPulseStrength.Load(), 2, PulseTrackLeft},
	}

	tsunami := s.pulse.Kind() == audio.BoardTsunami
	for _, side := range sides {
		on := side.touch != shm.TouchNone && side.strength > 0
		v := PulseVolumeOff
		if on {
			v = PulseVolume(side.touch, side.strength) - pulseAttenuation
			p.Volume[side.point].Store(int32(v))
		}

		switch {
		case tsunami:
			if !on {
				p.Volume[side.point].Store(int32(PulseVolumeOff))
			}
			s.audioErr(s.pulse, "pulse gain", s.pulse.ChannelGain(side.channel, v))
			if on {
				s.play(s.pulse, side.channel, PulseTrack)
			}
		default:
			s.audioErr(s.pulse, "pulse gain", s.pulse.TrackGain(side.track, v))
			if on {
				s.play(s.pulse, 0, side.track)
			}
		}
	}
	if !tsunami {
		s.audioErr(s.pulse, "pulse master", s.pulse.MasterGain(PulseVolumeOn))
	}
}

type heartSelection struct {
	rate  int32
	name  string
	track int
}

// selectHeart resolves the heart sound track when the rate or the sound
// name changes. Without a match the previous track stays.
func (s *Scheduler) selectHeart() {
	rate := s.d.Cardiac.Rate.Load()
	name := s.d.Cardiac.HeartSound.Load()
	if rate == s.heartSel.rate && name == s.heartSel.name {
		return
	}
	s.log.Info("cardiac",
		zap.Int32("oldRate", s.heartSel.rate), zap.Int32("rate", rate),
		zap.String("oldSound", s.heartSel.name), zap.String("sound", name),
	)
	s.heartSel.rate, s.heartSel.name = rate, name

	if trk, ok := s.sounds.Lookup(SoundHeart, name, int(rate)); ok {
		s.heartSel.track = trk
		s.forceGain = true
	} else {
		s.log.Warn("no heart sound", zap.String("sound", name), zap.Int32("rate", rate))
	}
	s.report()
}
