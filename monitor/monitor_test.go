package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simctl/shm"
)

func seeded() *shm.Segment {
	seg := shm.NewMemory()
	d := seg.Data()
	d.Pulse.Base[shm.PulseLeftFemoral].Store(512)
	d.Pulse.AIN[shm.PulseLeftFemoral].Store(600)
	d.Pulse.Touch[shm.PulseLeftFemoral].Store(2)
	d.Pulse.Volume[shm.PulseLeftFemoral].Store(-20)
	d.Auscultation.Tag.Store("L23")
	d.ManualBreathAIN.Store(40)
	d.ManualBreathBaseline.Store(12)
	d.Header.SimMgrIPAddr.Store("10.0.0.7")
	return seg
}

func TestLines(t *testing.T) {
	s := seeded().Data().Snapshot()

	text := strings.Join(Lines(s, false), "\n")
	assert.Contains(t, text, "left femoral      512    600      2    -20")
	assert.Contains(t, text, "L23")
	assert.Contains(t, text, "ain 40 baseline 12")
	assert.NotContains(t, text, "- Breath")
	assert.Contains(t, text, "10.0.0.7")

	assert.Contains(t, strings.Join(Lines(s, true), "\n"), "baseline 12 - Breath")
	assert.Contains(t, strings.Join(Lines(shm.Snapshot{}, false), "\n"), "(none)")
}

func screenText(s tcell.SimulationScreen) string {
	cells, w, h := s.GetContents()
	var b strings.Builder
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := cells[y*w+x]
			if len(c.Runes) > 0 {
				b.WriteRune(c.Runes[0])
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func TestRunDrawsAndQuits(t *testing.T) {
	screen := tcell.NewSimulationScreen("")
	seg := seeded()
	before := seg.Data().Snapshot()
	m := New(screen, seg, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return strings.Contains(screenText(screen), "10.0.0.7")
	}, time.Second, 10*time.Millisecond)

	screen.InjectKey(tcell.KeyRune, 'q', tcell.ModNone)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not quit on q")
	}
	assert.Equal(t, before, seg.Data().Snapshot(), "the monitor only reads the segment")
}

func TestRunStopsOnCancel(t *testing.T) {
	screen := tcell.NewSimulationScreen("")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- New(screen, seeded(), 0).Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestQuitKeys(t *testing.T) {
	assert.True(t, quitKey(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)))
	assert.True(t, quitKey(tcell.NewEventKey(tcell.KeyCtrlC, 0, tcell.ModCtrl)))
	assert.True(t, quitKey(tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)))
	assert.False(t, quitKey(tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)))
}
