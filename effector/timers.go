package effector

import (
	"container/heap"
	"time"
)

type timerID int

const (
	timerHeart     timerID = iota // lub delay after a heart tick
	timerBreath                   // inhale sound delay after a breath tick
	timerRise                     // end of chest rise
	timerFallPulse                // end of the short fall pulse
	numTimers
)

func (id timerID) String() string {
	switch id {
	case timerHeart:
		return "heart"
	case timerBreath:
		return "breath"
	case timerRise:
		return "rise"
	case timerFallPulse:
		return "fall-pulse"
	}
	return "unknown"
}

type deadline struct {
	id  timerID
	at  time.Time
	gen uint64
}

type deadlineHeap []deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)        { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Timers is a set of one-shot deadlines polled by the effector loop. Each
// timer has at most one pending deadline; arming it again replaces the
// old one. Stale heap entries are recognized by generation and skipped.
type Timers struct {
	h     deadlineHeap
	gen   [numTimers]uint64
	armed [numTimers]bool
}

func (t *Timers) Arm(id timerID, at time.Time) {
	t.gen[id]++
	t.armed[id] = true
	heap.Push(&t.h, deadline{id: id, at: at, gen: t.gen[id]})
}

func (t *Timers) Cancel(id timerID) {
	t.gen[id]++
	t.armed[id] = false
}

func (t *Timers) Armed(id timerID) bool { return t.armed[id] }

// Expired pops every live deadline at or before now, earliest first.
func (t *Timers) Expired(now time.Time) (ids []timerID) {
	for len(t.h) > 0 && !t.h[0].at.After(now) {
		d := heap.Pop(&t.h).(deadline)
		if d.gen != t.gen[d.id] || !t.armed[d.id] {
			continue
		}
		t.armed[d.id] = false
		ids = append(ids, d.id)
	}
	return
}
