// Package monitor draws the shared state on a terminal. It never writes to
// the segment.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"

	"simctl/shm"
)

const DefaultInterval = 500 * time.Millisecond

var pointNames = [shm.PulsePointsMax]string{
	shm.PulseRightDorsal:  "right dorsal",
	shm.PulseRightFemoral: "right femoral",
	shm.PulseLeftDorsal:   "left dorsal",
	shm.PulseLeftFemoral:  "left femoral",
}

type Monitor struct {
	screen   tcell.Screen
	seg      *shm.Segment
	interval time.Duration

	keyChan chan *tcell.EventKey
}

// New takes ownership of screen; Run initializes and finalizes it.
func New(screen tcell.Screen, seg *shm.Segment, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		screen:   screen,
		seg:      seg,
		interval: interval,
		keyChan:  make(chan *tcell.EventKey, 8),
	}
}

// Run redraws every interval until q, Esc or Ctrl-C is pressed or ctx is
// done. Quitting from the keyboard returns nil.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.screen.Init(); err != nil {
		return fmt.Errorf("monitor: init screen: %w", err)
	}
	defer m.screen.Fini()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.pollEvents(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.render()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.keyChan:
			if quitKey(ev) {
				return nil
			}
		case <-ticker.C:
			m.render()
		}
	}
}

func quitKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
		return ev.Rune() == 'q' || ev.Rune() == 'Q'
	}
	return false
}

func (m *Monitor) pollEvents(ctx context.Context) {
	for {
		ev := m.screen.PollEvent()
		if ev == nil {
			return
		}
		switch e := ev.(type) {
		case *tcell.EventKey:
			select {
			case m.keyChan <- e:
			case <-ctx.Done():
				return
			}
		case *tcell.EventResize:
			m.screen.Sync()
		}
	}
}

// Lines formats the snapshot the way the screen shows it.
func Lines(s shm.Snapshot, manualBreath bool) []string {
	lines := []string{
		"soundsense monitor            q to quit",
		"",
		fmt.Sprintf("%-14s %6s %6s %6s %6s", "pulse", "base", "ain", "touch", "volume"),
	}
	for i := 1; i < shm.PulsePointsMax; i++ {
		lines = append(lines, fmt.Sprintf("%-14s %6d %6d %6d %6d",
			pointNames[i], s.Pulse.Base[i], s.Pulse.AIN[i], s.Pulse.Touch[i], s.Pulse.Volume[i]))
	}

	breath := fmt.Sprintf("manual breath  ain %d baseline %d", s.Respiration.ManualAIN, s.Respiration.ManualBaseline)
	if manualBreath {
		breath += " - Breath"
	}

	addr := s.Manager.Addr
	if addr == "" {
		addr = "(none)"
	}
	return append(lines,
		"",
		"tag            "+s.Auscultation.Tag,
		breath,
		"manager        "+addr,
	)
}

func (m *Monitor) render() {
	s := m.seg.Data().Snapshot()

	m.screen.Clear()
	for row, line := range Lines(s, s.Respiration.ManualBreath != 0) {
		col := 0
		for _, r := range line {
			m.screen.SetContent(col, row, r, nil, tcell.StyleDefault)
			col++
		}
	}
	m.screen.Show()
}
