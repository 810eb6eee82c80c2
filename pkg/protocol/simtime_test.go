package protocol_test

import (
	"encoding/json"
	"math"
	"testing"

	"tcon/pkg/protocol"
)

func TestSimTime_ImmediateIsAlwaysDue(t *testing.T) {
	if !protocol.Immediate.DueAt(0) {
		t.Error("expected Immediate to be due at 0")
	}
	if protocol.SimTime(10).DueAt(9.5) {
		t.Error("expected 10 not to be due at 9.5")
	}
	if !protocol.SimTime(10).DueAt(10) {
		t.Error("expected 10 to be due at 10")
	}
}

func TestSimTime_Valid(t *testing.T) {
	tests := []struct {
		in   protocol.SimTime
		want bool
	}{
		{0, true},
		{86400, true},
		{protocol.Immediate, true},
		{-0.5, false},
		{-2, false},
		{protocol.SimTime(math.NaN()), false},
		{protocol.Never, false},
	}
	for _, tt := range tests {
		if got := tt.in.Valid(); got != tt.want {
			t.Errorf("Valid(%v) = %v, want %v", float64(tt.in), got, tt.want)
		}
	}
}

func TestSimTime_JSON(t *testing.T) {
	data, err := json.Marshal(protocol.Immediate)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"immediate"` {
		t.Errorf("expected \"immediate\", got %s", data)
	}

	var got protocol.SimTime
	if err := json.Unmarshal([]byte(`3600.5`), &got); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if got != 3600.5 {
		t.Errorf("expected 3600.5, got %v", got)
	}

	if err := json.Unmarshal([]byte(`"soon"`), &got); err == nil {
		t.Error("expected unknown string to be rejected")
	}
}
