package effector

import (
	"time"

	"go.uber.org/zap"

	"simctl/metrics"
	"simctl/shm"
)

const (
	// inhaleSoundDelay lets the valves start moving before the inhale plays.
	inhaleSoundDelay = 40 * time.Millisecond
	// fallStopDelay closes a fall valve left open when no breath follows.
	fallStopDelay   = 10 * time.Second
	fallPulseLength = 10 * time.Millisecond

	inhalePercent = 30
	inhaleLimit   = 1500 * time.Millisecond
	// apneaPeriod stands in for the breath period when the rate is 0.
	apneaPeriod = 2 * time.Second
	// exhaleLimit is the number of idle cycles at rate 0 before the
	// valves are forced shut.
	exhaleLimit = 400
)

// RiseDuration is how long the chest rises for one breath at rate breaths
// per minute: 30% of the period, at most 1.5s. A negative result is
// clamped to zero and reported as an anomaly.
func RiseDuration(rate int32) (d time.Duration, anomaly bool) {
	period := apneaPeriod
	if rate != 0 {
		period = time.Minute / time.Duration(rate)
	}
	d = period * inhalePercent / 100
	if d > inhaleLimit {
		d = inhaleLimit
	}
	if d < 0 {
		return 0, true
	}
	return d, false
}

func (s *Scheduler) lungVolumes() (left, right int) {
	r, a := &s.d.Respiration, &s.d.Auscultation
	trim := a.LungTrim.Load()

	left, right = MinVolume, MinVolume
	if r.LeftLungSoundMute.Load() == 0 {
		left = VolumeToGain(int(r.LeftLungSoundVolume.Load()+trim), int(a.LeftLungStrength.Load()))
	}
	if r.RightLungSoundMute.Load() == 0 {
		right = VolumeToGain(int(r.RightLungSoundVolume.Load()+trim), int(a.RightLungStrength.Load()))
	}
	return
}

func (s *Scheduler) runLung(now time.Time) {
	r := &s.d.Respiration
	chest := r.ChestMovement.Load() != 0

	if !chest {
		s.airOffQuiet()
	}

	s.leftGain, s.rightGain = s.lungVolumes()
	side := s.d.Auscultation.Side.Load()
	if side != shm.SideRight {
		s.trackGain(s.lungSel.left, s.leftGain, s.forceGain)
	}
	if side != shm.SideLeft {
		s.trackGain(s.lungSel.right, s.rightGain, s.forceGain)
	}

	newBreath := false
	if s.ticks != nil {
		if n := s.ticks.BreathCount(); n != s.lastBreath {
			s.lastBreath = n
			newBreath = true
			metrics.EffectorTicks.WithLabelValues("breath").Inc()
			s.AllAirOff()
		}
	}

	if s.riseExpired {
		s.riseExpired = false
		s.endRise(now, chest)
	}
	if s.fallPulseExpired {
		s.fallPulseExpired = false
		s.lungFall(false)
	}

	manual := r.Active.Load() != 0
	if manual {
		s.wasManual = true
		s.lungFall(false)
		if chest {
			s.lungRise(true)
		}
		return
	}
	if s.wasManual {
		s.wasManual = false
		s.lungRise(false)
	}

	switch s.lung {
	case lungIdle:
		if !s.fallStopAt.IsZero() && !now.Before(s.fallStopAt) {
			s.lungFall(false)
			s.fallStopAt = time.Time{}
		}

		if newBreath {
			s.startBreath(now, chest)
		} else if r.Rate.Load() == 0 {
			if s.exhLimit == 0 {
				s.lungFall(false)
				s.lungRise(false)
				s.log.Info("apnea: valves off", zap.Int("cycles", exhaleLimit))
			}
			if s.exhLimit >= 0 {
				s.exhLimit--
			}
		}

	case lungSoundPending:
		switch side {
		case shm.SideLeft:
			s.play(s.board, 0, s.lungSel.left)
		case shm.SideRight:
			s.play(s.board, 0, s.lungSel.right)
		}
		s.fallStopAt = now.Add(fallStopDelay)
		s.lung = lungIdle
	}
}

func (s *Scheduler) startBreath(now time.Time, chest bool) {
	s.timers.Arm(timerBreath, now.Add(inhaleSoundDelay))
	s.lungFall(false)
	if chest {
		s.lungRise(true)
	}

	rate := s.d.Respiration.Rate.Load()
	d, anomaly := RiseDuration(rate)
	if anomaly {
		metrics.TimingAnomalies.Inc()
		s.log.Warn("negative rise duration clamped", zap.Int32("rate", rate))
	}
	s.timers.Arm(timerRise, now.Add(d))
}

// endRise closes the rise valves and opens the fall valve. Without chest
// movement the fall valve is only pulsed.
func (s *Scheduler) endRise(now time.Time, chest bool) {
	s.lungRise(false)
	s.lungFall(true)
	if !chest {
		s.timers.Arm(timerFallPulse, now.Add(fallPulseLength))
	}
	s.exhLimit = exhaleLimit
}

type lungSelection struct {
	rate        int32
	left, right int
	leftName    string
	rightName   string
}

// selectLung resolves the inhale tracks for both sides when the rate or a
// sound name changes.
func (s *Scheduler) selectLung() {
	r := &s.d.Respiration
	rate := r.Rate.Load()
	left, right := r.LeftLungSound.Load(), r.RightLungSound.Load()
	sel := &s.lungSel
	if rate == sel.rate && left == sel.leftName && right == sel.rightName {
		return
	}
	s.log.Info("respiration",
		zap.Int32("oldRate", sel.rate), zap.Int32("rate", rate),
		zap.String("oldLeft", sel.leftName), zap.String("left", left),
		zap.String("oldRight", sel.rightName), zap.String("right", right),
	)
	sel.rate, sel.leftName, sel.rightName = rate, left, right

	if trk, ok := s.sounds.Lookup(SoundLung, left, int(rate)); ok {
		sel.left = trk
	} else {
		s.log.Warn("no left inhale sound", zap.String("sound", left), zap.Int32("rate", rate))
	}
	if trk, ok := s.sounds.Lookup(SoundLung, right, int(rate)); ok {
		sel.right = trk
	} else {
		s.log.Warn("no right inhale sound", zap.String("sound", right), zap.Int32("rate", rate))
	}
	s.forceGain = true
	s.report()
}
