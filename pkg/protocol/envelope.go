package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the wire protocol version carried by every envelope. The worker
// reports it from `tcon version` so the host can refuse a mismatched binary.
const Version = 1

// MaxEnvelopeSize bounds a single encoded envelope line.
const MaxEnvelopeSize = 1 << 20

// Envelope is one line on the host/worker channel.
type Envelope struct {
	V       int       `json:"v"`
	SentAt  time.Time `json:"sent_at"`
	Command Command   `json:"command"`
}

// NewEnvelope wraps cmd for sending, assigning an ID if it has none.
func NewEnvelope(cmd Command) Envelope {
	return Envelope{V: Version, SentAt: time.Now().UTC(), Command: cmd.WithID()}
}

// Encode returns env as a single newline-terminated JSON line.
func (env Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if len(data) >= MaxEnvelopeSize {
		return nil, fmt.Errorf("encode envelope: %d bytes exceeds limit %d", len(data), MaxEnvelopeSize)
	}
	return append(data, '\n'), nil
}

// DecodeEnvelope parses one line. The embedded command is validated by its
// decoder; a version mismatch is rejected.
func DecodeEnvelope(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.V != Version {
		return Envelope{}, fmt.Errorf("decode envelope: unsupported version %d", env.V)
	}
	return env, nil
}
