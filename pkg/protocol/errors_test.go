package protocol_test

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"

	"tcon/pkg/protocol"
)

func TestValidationError_ErrorsAs(t *testing.T) {
	_, err := protocol.DecodePayload(protocol.KindIncidentCreate, []byte(`{"section_id":1}`))

	var target *protocol.ValidationError
	if !errors.As(err, &target) {
		t.Fatalf("expected *ValidationError, got %T (%v)", err, err)
	}
	if target.Kind != protocol.KindIncidentCreate {
		t.Errorf("expected kind %q, got %q", protocol.KindIncidentCreate, target.Kind)
	}
	if target.Field != "lane" {
		t.Errorf("expected first missing field 'lane', got %q", target.Field)
	}
}

func TestSchedulingError_Message(t *testing.T) {
	err := &protocol.SchedulingError{
		Kind:         protocol.KindIncidentCreate,
		ScheduleTime: 120,
		StartTime:    100,
	}
	msg := err.Error()
	for _, want := range []string{"ini_time (100)", "schedule time (120)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestDomainError_Message(t *testing.T) {
	err := &protocol.DomainError{
		Kind:    protocol.KindIncidentRemove,
		Status:  protocol.StatusIncidentNotPresent,
		Code:    -8005,
		Message: "incident removal failed",
	}
	if !strings.Contains(err.Error(), "INCIDENT_NOT_PRESENT (code=-8005)") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	err := fmt.Errorf("start host: %w", &protocol.TransportError{
		Op:      "listen",
		Address: "/tmp/tcon.sock",
		Err:     syscall.EADDRINUSE,
	})

	var target *protocol.TransportError
	if !errors.As(err, &target) {
		t.Fatal("errors.As failed to extract TransportError through wrapping")
	}
	if target.Op != "listen" {
		t.Errorf("expected Op 'listen', got %q", target.Op)
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		t.Error("expected errors.Is to reach the underlying errno")
	}
}

func TestProcessError_MessageIncludesPID(t *testing.T) {
	withPID := &protocol.ProcessError{Op: "stop", Path: "/usr/bin/tcon", PID: 42, Err: errors.New("boom")}
	if !strings.Contains(withPID.Error(), "pid 42") {
		t.Errorf("expected pid in %q", withPID.Error())
	}
	withoutPID := &protocol.ProcessError{Op: "resolve", Path: "tcon", Err: errors.New("not found")}
	if strings.Contains(withoutPID.Error(), "pid") {
		t.Errorf("unexpected pid in %q", withoutPID.Error())
	}
}
