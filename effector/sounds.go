package effector

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const DefaultSoundList = "/simulator/soundList.csv"

type SoundType int

const (
	SoundUnused SoundType = iota
	SoundHeart
	SoundLung
	SoundPulse
	SoundGeneral
)

var soundTypeNames = []string{"unused", "heart", "lung", "pulse", "general"}

func (t SoundType) String() string {
	if t >= 0 && int(t) < len(soundTypeNames) {
		return soundTypeNames[t]
	}
	return "SoundType(" + strconv.Itoa(int(t)) + ")"
}

func parseSoundType(s string) (SoundType, bool) {
	for i, n := range soundTypeNames {
		if n == s {
			return SoundType(i), true
		}
	}
	return SoundUnused, false
}

// Sound is one row of the sound list: track Index plays for Name when the
// rate is within [Low, High].
type Sound struct {
	Type  SoundType
	Index int
	Name  string
	Low   int
	High  int
}

type SoundList struct {
	sounds []Sound
}

func NewSoundList(sounds ...Sound) *SoundList {
	return &SoundList{sounds: sounds}
}

func (l *SoundList) Len() int { return len(l.sounds) }

func (l *SoundList) Sounds() []Sound { return append([]Sound(nil), l.sounds...) }

// Lookup returns the first track of type t named name whose range holds
// rate.
func (l *SoundList) Lookup(t SoundType, name string, rate int) (int, bool) {
	for _, s := range l.sounds {
		if s.Type == t && s.Name == name && s.Low <= rate && rate <= s.High {
			return s.Index, true
		}
	}
	return 0, false
}

func isSep(r rune) bool {
	switch r {
	case '\t', ';', ',', '\r', '\n':
		return true
	}
	return false
}

// parseSoundLine splits on tab, semicolon or comma; spaces inside a field
// become underscores.
func parseSoundLine(line string) (Sound, error) {
	raw := strings.FieldsFunc(line, isSep)
	fields := raw[:0]
	for _, f := range raw {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, strings.ReplaceAll(f, " ", "_"))
		}
	}
	if len(fields) != 5 {
		return Sound{}, fmt.Errorf("want 5 fields, got %d", len(fields))
	}

	t, ok := parseSoundType(fields[0])
	if !ok {
		return Sound{}, fmt.Errorf("unknown sound type %q", fields[0])
	}
	var nums [3]int
	for i, f := range []string{fields[1], fields[3], fields[4]} {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Sound{}, fmt.Errorf("bad number %q", f)
		}
		nums[i] = n
	}
	return Sound{Type: t, Index: nums[0], Name: fields[2], Low: nums[1], High: nums[2]}, nil
}

// ParseSoundList reads type,index,name,low,high rows. Rows that do not
// parse are logged and skipped.
func ParseSoundList(r io.Reader, log *zap.Logger) (*SoundList, error) {
	l := &SoundList{}
	s := bufio.NewScanner(r)
	for n := 1; s.Scan(); n++ {
		line := s.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		snd, err := parseSoundLine(line)
		if err != nil {
			log.Warn("skipping sound list line", zap.Int("line", n), zap.String("text", line), zap.Error(err))
			continue
		}
		if snd.Type == SoundUnused {
			continue
		}
		l.sounds = append(l.sounds, snd)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("effector: read sound list: %w", err)
	}
	return l, nil
}

// LoadSoundList opens and parses path. The effector cannot run without it.
func LoadSoundList(path string, log *zap.Logger) (*SoundList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("effector: open sound list: %w", err)
	}
	defer f.Close()

	l, err := ParseSoundList(f, log)
	if err != nil {
		return nil, err
	}
	log.Info("loaded sound list", zap.String("path", path), zap.Int("sounds", l.Len()))
	return l, nil
}
