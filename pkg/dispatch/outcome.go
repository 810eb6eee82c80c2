package dispatch

import (
	"fmt"
	"time"

	"tcon/pkg/protocol"
)

// Outcome is the classified result of executing one command.
type Outcome struct {
	Command protocol.Command
	// Now is the step clock the command ran on.
	Now protocol.SimTime
	// Start is the effective start instant handed to the handler.
	Start   protocol.SimTime
	Status  protocol.Status
	Code    int
	Value   int
	Message string
	// Skipped is set when no handler was registered for the kind.
	Skipped bool
	// Err holds the failure as a *protocol.DomainError, nil on success.
	Err     error
	Elapsed time.Duration
}

// OK reports whether the command ran and the simulation accepted it.
func (o Outcome) OK() bool { return !o.Skipped && o.Err == nil }

// classify turns a raw handler return into an Outcome.
func classify(cmd protocol.Command, code int, err error) Outcome {
	o := Outcome{Command: cmd, Code: code}
	switch {
	case err != nil:
		o.Status = protocol.StatusAPIFailure
		o.Code = int(protocol.StatusAPIFailure)
		o.Message = err.Error()
	case code < 0:
		o.Status = protocol.StatusFromCode(code)
		o.Message = fmt.Sprintf("%s returned %d", cmd.Kind, code)
	default:
		o.Status = protocol.StatusOK
		o.Value = code
		o.Message = fmt.Sprintf("%s applied", cmd.Kind)
		return o
	}
	o.Err = &protocol.DomainError{Kind: cmd.Kind, Status: o.Status, Code: o.Code, Message: o.Message}
	return o
}
