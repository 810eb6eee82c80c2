package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// SimTime is a simulated instant in seconds from midnight.
type SimTime float64

// Immediate marks a command that runs at the next opportunity. It orders
// before every real time, so it is due on any step.
const Immediate SimTime = -1

// immediateName is the wire spelling of Immediate.
const immediateName = "immediate"

// Never is the peek value of an empty schedule.
var Never = SimTime(math.Inf(1)) //nolint:gochecknoglobals // math.Inf is not constant

// IsImmediate reports whether t is the Immediate sentinel.
func (t SimTime) IsImmediate() bool { return t == Immediate }

// DueAt reports whether a command stamped t should run on a step at now.
func (t SimTime) DueAt(now SimTime) bool {
	return t.IsImmediate() || t <= now
}

// Valid reports whether t is Immediate or a finite non-negative time.
func (t SimTime) Valid() bool {
	if t.IsImmediate() {
		return true
	}
	f := float64(t)
	return f >= 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

func (t SimTime) String() string {
	if t.IsImmediate() {
		return immediateName
	}
	return strconv.FormatFloat(float64(t), 'f', -1, 64)
}

// MarshalJSON writes Immediate as "immediate" and everything else as a number.
func (t SimTime) MarshalJSON() ([]byte, error) {
	if t.IsImmediate() {
		return []byte(`"` + immediateName + `"`), nil
	}
	return []byte(strconv.FormatFloat(float64(t), 'f', -1, 64)), nil
}

// UnmarshalJSON accepts a number, "immediate", or null.
func (t *SimTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = Immediate
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode time: %w", err)
		}
		if s != immediateName {
			return fmt.Errorf("decode time: unknown time %q", s)
		}
		*t = Immediate
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode time: %w", err)
	}
	*t = SimTime(f)
	return nil
}
