package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Command is a time-tagged instruction for the simulation. Commands are
// values: once accepted they are never mutated.
type Command struct {
	// ID identifies the command across processes. It is assigned at
	// acceptance and used to drop duplicate deliveries.
	ID      string
	Kind    Kind
	Time    SimTime
	Payload Payload
}

// NewCommand builds a command with a fresh ID.
func NewCommand(kind Kind, at SimTime, payload Payload) Command {
	return Command{ID: uuid.NewString(), Kind: kind, Time: at, Payload: payload}
}

// wireCommand is the JSON shape of a Command. "type" is accepted as an
// alias of "command".
type wireCommand struct {
	ID      string          `json:"id,omitempty"`
	Command Kind            `json:"command"`
	Type    Kind            `json:"type,omitempty"`
	Time    *SimTime        `json:"time,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the command as {"id","command","time","payload"}.
func (c Command) MarshalJSON() ([]byte, error) {
	w := wireCommand{ID: c.ID, Command: c.Kind, Time: &c.Time}
	if c.Payload != nil && c.Kind.TakesPayload() {
		raw, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", c.Kind, err)
		}
		w.Payload = raw
	}
	return json.Marshal(w) //nolint:wrapcheck // plain struct encode
}

// UnmarshalJSON decodes and validates the payload for the command's kind.
// An omitted or null time decodes as Immediate.
func (c *Command) UnmarshalJSON(data []byte) error {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return invalid("", "command", err.Error())
	}
	kind := w.Command
	if kind == "" {
		kind = w.Type
	}
	if kind == "" {
		return invalid("", "command", "is required")
	}
	if !kind.Valid() {
		return invalid(kind, "command", "unknown command kind")
	}
	payload, err := DecodePayload(kind, w.Payload)
	if err != nil {
		return err
	}
	at := Immediate
	if w.Time != nil {
		at = *w.Time
	}
	*c = Command{ID: w.ID, Kind: kind, Time: at, Payload: payload}
	return nil
}

// Validate checks the command at the acceptance boundary. It returns a
// *ValidationError for malformed input and a *SchedulingError when the
// payload starts before the command is scheduled.
func (c Command) Validate() error {
	if !c.Kind.Valid() {
		return invalid(c.Kind, "command", "unknown command kind")
	}
	if !c.Time.Valid() {
		return invalid(c.Kind, "time", "must be a non-negative time or \"immediate\"")
	}
	if c.Payload == nil {
		if c.Kind.TakesPayload() {
			return invalid(c.Kind, "payload", "is required")
		}
		return nil
	}
	if c.Payload.Kind() != c.Kind {
		return invalid(c.Kind, "payload", fmt.Sprintf("carries a %s payload", c.Payload.Kind()))
	}
	if err := c.Payload.Validate(); err != nil {
		return err
	}
	if start, ok := c.StartTime(); ok && !c.Time.IsImmediate() && start <= c.Time {
		return &SchedulingError{Kind: c.Kind, ScheduleTime: c.Time, StartTime: start}
	}
	return nil
}

// StartTime returns the payload's own start instant, if it has one.
func (c Command) StartTime() (SimTime, bool) {
	if s, ok := c.Payload.(Starter); ok {
		return s.StartTime()
	}
	return 0, false
}

// EffectiveStart is when the command's effect begins: its payload start
// instant when present, otherwise now.
func (c Command) EffectiveStart(now SimTime) SimTime {
	if start, ok := c.StartTime(); ok {
		return start
	}
	return now
}

// WithID returns a copy of c carrying a fresh ID if it has none.
func (c Command) WithID() Command {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return c
}

func (c Command) String() string {
	return fmt.Sprintf("%s@%s", c.Kind, c.Time)
}
