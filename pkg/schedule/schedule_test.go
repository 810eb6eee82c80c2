package schedule

import (
	"slices"
	"testing"

	"tcon/pkg/protocol"
)

func cmdAt(at protocol.SimTime, policy int) protocol.Command {
	return protocol.Command{
		Kind:    protocol.KindPolicyActivate,
		Time:    at,
		Payload: protocol.PolicyActivate{PolicyID: policy},
	}
}

func policyIDs(cmds []protocol.Command) []int {
	ids := make([]int, 0, len(cmds))
	for _, c := range cmds {
		ids = append(ids, c.Payload.(protocol.PolicyActivate).PolicyID)
	}
	return ids
}

func drain(s *Schedule, upTo protocol.SimTime) []protocol.Command {
	return slices.Collect(s.Ready(upTo))
}

func TestReady_OrdersByTime(t *testing.T) {
	s := New()
	s.Push(cmdAt(300, 300))
	s.Push(cmdAt(50, 50))
	s.Push(cmdAt(150, 150))

	got := policyIDs(drain(s, 1000))
	want := []int{50, 150, 300}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if !s.Empty() {
		t.Errorf("expected empty schedule, got %d pending", s.Len())
	}
}

func TestReady_EqualTimesKeepPushOrder(t *testing.T) {
	s := New()
	for i := 1; i <= 5; i++ {
		s.Push(cmdAt(100, i))
	}
	got := policyIDs(drain(s, 100))
	want := []int{1, 2, 3, 4, 5}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestReady_OnlyDueEntries(t *testing.T) {
	s := New()
	s.Push(cmdAt(10, 10))
	s.Push(cmdAt(20, 20))

	if got := policyIDs(drain(s, 15)); !slices.Equal(got, []int{10}) {
		t.Fatalf("expected [10], got %v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 pending, got %d", s.Len())
	}
	if got := drain(s, 15); len(got) != 0 {
		t.Fatalf("expected nothing due twice, got %v", policyIDs(got))
	}
}

func TestReady_ImmediateDueAtZero(t *testing.T) {
	s := New()
	s.Push(cmdAt(5, 5))
	s.Push(cmdAt(protocol.Immediate, 1))

	if got := policyIDs(drain(s, 0)); !slices.Equal(got, []int{1}) {
		t.Fatalf("expected immediate entry only, got %v", got)
	}
}

func TestPeekTime(t *testing.T) {
	s := New()
	if got := s.PeekTime(); got != protocol.Never {
		t.Fatalf("expected +Inf on empty, got %v", got)
	}
	s.Push(cmdAt(42, 42))
	if got := s.PeekTime(); got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
	drain(s, 42)
	if got := s.PeekTime(); got != protocol.Never {
		t.Fatalf("expected +Inf after pop, got %v", got)
	}
}

func TestReady_PushDuringIterationWaitsForNextCall(t *testing.T) {
	s := New()
	s.Push(cmdAt(10, 10))
	s.Push(cmdAt(20, 20))

	var got []int
	for cmd := range s.Ready(100) {
		id := cmd.Payload.(protocol.PolicyActivate).PolicyID
		got = append(got, id)
		if id == 10 {
			// Due follow-up pushed from inside a handler.
			s.Push(cmdAt(15, 15))
		}
	}
	if !slices.Equal(got, []int{10, 20}) {
		t.Fatalf("expected follow-up deferred, got %v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("expected follow-up pending, got %d", s.Len())
	}
	if next := policyIDs(drain(s, 100)); !slices.Equal(next, []int{15}) {
		t.Fatalf("expected follow-up on next call, got %v", next)
	}
}

func TestReady_EarlyBreakKeepsRemainder(t *testing.T) {
	s := New()
	s.Push(cmdAt(1, 1))
	s.Push(cmdAt(2, 2))
	s.Push(cmdAt(3, 3))

	for cmd := range s.Ready(10) {
		s.Push(cmdAt(0, 99))
		_ = cmd
		break
	}
	// 2 and 3 stay pending, plus the entry pushed mid-iteration.
	if s.Len() != 3 {
		t.Fatalf("expected 3 pending after break, got %d", s.Len())
	}
	if got := policyIDs(drain(s, 10)); !slices.Equal(got, []int{99, 2, 3}) {
		t.Fatalf("expected [99 2 3], got %v", got)
	}
}

func TestPending_DoesNotConsume(t *testing.T) {
	s := New()
	s.Push(cmdAt(30, 30))
	s.Push(cmdAt(protocol.Immediate, 1))
	s.Push(cmdAt(10, 10))

	if got := policyIDs(s.Pending()); !slices.Equal(got, []int{1, 10, 30}) {
		t.Fatalf("expected [1 10 30], got %v", got)
	}
	if s.Len() != 3 {
		t.Fatalf("expected Pending to leave 3 entries, got %d", s.Len())
	}
}
