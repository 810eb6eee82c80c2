// Package schedule holds commands that are not yet due, ordered by their
// simulation time.
package schedule

import (
	"container/heap"
	"iter"
	"sort"

	"tcon/pkg/protocol"
)

// entry is one pending command. seq breaks ties between equal times so
// commands with the same time come out in push order.
type entry struct {
	at  protocol.SimTime
	seq uint64
	cmd protocol.Command
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}

// Schedule is a min-heap of commands keyed by (time, insertion order).
//
// Not safe for concurrent use: it is owned by the host step thread.
type Schedule struct {
	h   entryHeap
	seq uint64
}

// New returns an empty schedule.
func New() *Schedule {
	return &Schedule{}
}

// Push inserts cmd at cmd.Time. Immediate commands sort before every real
// time.
func (s *Schedule) Push(cmd protocol.Command) {
	heap.Push(&s.h, entry{at: cmd.Time, seq: s.seq, cmd: cmd})
	s.seq++
}

// Ready yields every command due at or before upTo, earliest first, removing
// each as it is yielded.
//
// Commands pushed while the iteration runs are not yielded by it, even when
// due: they are set aside and become visible to the next Ready call. This
// holds on early break too. Work per step is therefore bounded by what was
// pending when the step began.
func (s *Schedule) Ready(upTo protocol.SimTime) iter.Seq[protocol.Command] {
	return func(yield func(protocol.Command) bool) {
		watermark := s.seq
		var held []entry
		defer func() {
			for _, e := range held {
				heap.Push(&s.h, e)
			}
		}()

		for len(s.h) > 0 && s.h[0].at.DueAt(upTo) {
			e := heap.Pop(&s.h).(entry)
			if e.seq >= watermark {
				held = append(held, e)
				continue
			}
			if !yield(e.cmd) {
				return
			}
		}
	}
}

// PeekTime returns the earliest pending time, or protocol.Never when empty.
func (s *Schedule) PeekTime() protocol.SimTime {
	if len(s.h) == 0 {
		return protocol.Never
	}
	return s.h[0].at
}

// Len returns the number of pending commands.
func (s *Schedule) Len() int { return len(s.h) }

// Empty reports whether nothing is pending.
func (s *Schedule) Empty() bool { return len(s.h) == 0 }

// Pending returns a snapshot of the pending commands in the order Ready
// would yield them. The schedule is not modified.
func (s *Schedule) Pending() []protocol.Command {
	snapshot := make(entryHeap, len(s.h))
	copy(snapshot, s.h)
	sort.Sort(snapshot)
	out := make([]protocol.Command, len(snapshot))
	for i, e := range snapshot {
		out[i] = e.cmd
	}
	return out
}
