package protocol

import "fmt"

// ValidationError reports a command rejected at acceptance because a field
// is missing, out of range, or inconsistent with another field.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("invalid command: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s %s", e.Kind, e.Field, e.Reason)
}

func invalid(kind Kind, field, reason string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Reason: reason}
}

func invalidMeasure(t MeasureType, field, reason string) *ValidationError {
	return &ValidationError{Kind: KindMeasureCreate, Field: string(t) + "." + field, Reason: reason}
}

// SchedulingError reports a command whose intrinsic start instant does not
// follow its schedule time.
type SchedulingError struct {
	Kind         Kind
	ScheduleTime SimTime
	StartTime    SimTime
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("%s: payload.ini_time (%s) must be greater than schedule time (%s)",
		e.Kind, e.StartTime, e.ScheduleTime)
}

// DomainError reports a simulation call that failed while executing a command.
type DomainError struct {
	Kind    Kind
	Status  Status
	Code    int
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s failed: %s (code=%d): %s", e.Kind, e.Status, e.Code, e.Message)
}

// TransportError reports a failure of the host-side message channel.
type TransportError struct {
	Op      string // "listen", "accept", "dial", "cleanup"
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProcessError reports a failure to resolve, start, or stop the worker process.
type ProcessError struct {
	Op   string // "resolve", "start", "stop"
	Path string
	PID  int
	Err  error
}

func (e *ProcessError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("worker %s %s (pid %d): %v", e.Op, e.Path, e.PID, e.Err)
	}
	return fmt.Sprintf("worker %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }
