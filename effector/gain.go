package effector

import (
	"simctl/audio"
	"simctl/shm"
)

// Device gain limits in dB.
const (
	MinVolume    = -70
	MaxVolume    = 5
	MaxMaxVolume = 8
)

// The board goes up to +10 but anything under -30 is barely audible, so
// the usable range starts at -40.
const (
	maxCalcGain   = 10
	minCalcGain   = -40
	gainCalcRange = maxCalcGain - minCalcGain
)

// VolumeToGain maps a volume (-10..10) plus a strength (0..10) onto the
// audible gain range. Trims can push the sum out of range, so the result
// is held to what the boards accept.
func VolumeToGain(volume, strength int) int {
	return clampGain(((strength+volume)*100*gainCalcRange)/2000 + minCalcGain)
}

func clampGain(g int) int {
	return min(max(g, audio.MinGain), audio.MaxGain)
}

// Pulse playback gains.
const (
	PulseVolumeOff      = MinVolume
	PulseVolumeVerySoft = MaxVolume
	PulseVolumeSoft     = MaxVolume
	PulseVolumeOn       = 5

	// pulseAttenuation is taken off every pulse actually played.
	pulseAttenuation = 25
)

// PulseVolume is the gain for a palpated pulse given how hard it is pressed
// and the configured strength (0 none, 1 weak, 2 normal, 3 strong).
func PulseVolume(touch, strength int32) int {
	var v int
	switch touch {
	case shm.TouchExcessive:
		v = PulseVolumeVerySoft
	case shm.TouchHeavy, shm.TouchLight:
		v = PulseVolumeSoft
	case shm.TouchNormal:
		v = PulseVolumeOn
	default:
		v = PulseVolumeOff
	}

	switch {
	case strength == 0:
		v = PulseVolumeOff
	case strength == 1:
		v -= 10
	case strength == 2:
	default:
		v += 10
	}
	return v
}
