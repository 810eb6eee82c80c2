package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tcon/pkg/protocol"
)

// Call is one simulation call observed by a Recorder.
type Call struct {
	Method string
	Args   []any
}

// Recorder is an in-memory API. It logs and records every call, assigns
// incident and action ids, and returns scripted codes when configured.
// Safe for concurrent use.
type Recorder struct {
	log *slog.Logger

	mu        sync.Mutex
	calls     []Call
	codes     map[string][]int
	panics    map[string]any
	nextID    int
	incidents map[incidentKey]int
	actions   map[int]string
	policies  map[int]bool
}

type incidentKey struct {
	section  int
	lane     int
	position float64
}

// NewRecorder returns a Recorder that logs to log (slog.Default when nil).
func NewRecorder(log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		log:       log,
		codes:     make(map[string][]int),
		panics:    make(map[string]any),
		nextID:    1,
		incidents: make(map[incidentKey]int),
		actions:   make(map[int]string),
		policies:  make(map[int]bool),
	}
}

// Script queues raw codes for method. Each call consumes one code; once the
// queue is empty the method behaves normally again.
func (r *Recorder) Script(method string, codes ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[method] = append(r.codes[method], codes...)
}

// PanicOn makes the next call to method panic with v.
func (r *Recorder) PanicOn(method string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panics[method] = v
}

// Calls returns a copy of every call made so far.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Methods returns the method names called so far, in order.
func (r *Recorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Method
	}
	return out
}

// ActiveActions returns the number of actions currently applied.
func (r *Recorder) ActiveActions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

// ActiveIncidents returns the number of incidents currently present.
func (r *Recorder) ActiveIncidents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.incidents)
}

// begin records the call and returns a scripted code if one is queued.
// Must be called with r.mu held.
func (r *Recorder) begin(method string, args ...any) (int, bool) {
	r.calls = append(r.calls, Call{Method: method, Args: args})
	r.log.Debug("simulation call", "method", method, "args", args)
	if v, ok := r.panics[method]; ok {
		delete(r.panics, method)
		panic(v)
	}
	queue := r.codes[method]
	if len(queue) == 0 {
		return 0, false
	}
	r.codes[method] = queue[1:]
	return queue[0], true
}

func (r *Recorder) allocate(requested int) int {
	if requested > 0 {
		if requested >= r.nextID {
			r.nextID = requested + 1
		}
		return requested
	}
	id := r.nextID
	r.nextID++
	return id
}

func (r *Recorder) GenerateIncident(_ context.Context, p protocol.IncidentCreate) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.begin("GenerateIncident", p.SectionID, p.Lane, p.Position, p.IniTime, p.Duration); ok {
		return code, nil
	}
	id := r.allocate(0)
	r.incidents[incidentKey{p.SectionID, p.Lane, p.Position}] = id
	return id, nil
}

func (r *Recorder) RemoveIncident(_ context.Context, sectionID, lane int, position float64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.begin("RemoveIncident", sectionID, lane, position); ok {
		return code, nil
	}
	key := incidentKey{sectionID, lane, position}
	if _, ok := r.incidents[key]; !ok {
		return int(protocol.StatusIncidentNotPresent), nil
	}
	delete(r.incidents, key)
	return 0, nil
}

func (r *Recorder) RemoveAllIncidentsInSection(_ context.Context, sectionID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.begin("RemoveAllIncidentsInSection", sectionID); ok {
		return code, nil
	}
	for key := range r.incidents {
		if key.section == sectionID {
			delete(r.incidents, key)
		}
	}
	return 0, nil
}

func (r *Recorder) ResetAllIncidents(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.begin("ResetAllIncidents"); ok {
		return code, nil
	}
	clear(r.incidents)
	return 0, nil
}

// addAction is shared by every Measures method.
func (r *Recorder) addAction(method string, idAction int, m protocol.Measure) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.begin(method, idAction, m); ok {
		return code, nil
	}
	id := r.allocate(idAction)
	if _, exists := r.actions[id]; exists {
		return 0, fmt.Errorf("action %d already active", id)
	}
	r.actions[id] = string(m.MeasureType())
	return id, nil
}

func (r *Recorder) AddSpeedSection(_ context.Context, idAction int, m protocol.SpeedSection) (int, error) {
	return r.addAction("AddSpeedSection", idAction, m)
}

func (r *Recorder) AddDetailedSpeed(_ context.Context, idAction int, m protocol.SpeedDetailed) (int, error) {
	return r.addAction("AddDetailedSpeed", idAction, m)
}

func (r *Recorder) AddLaneClosure(_ context.Context, idAction int, m protocol.LaneClosure) (int, error) {
	return r.addAction("AddLaneClosure", idAction, m)
}

func (r *Recorder) AddDetailedLaneClosure(_ context.Context, idAction int, m protocol.LaneClosureDetailed) (int, error) {
	return r.addAction("AddDetailedLaneClosure", idAction, m)
}

func (r *Recorder) DeactivateReservedLane(_ context.Context, idAction int, m protocol.LaneDeactivateReserved) (int, error) {
	return r.addAction("DeactivateReservedLane", idAction, m)
}

func (r *Recorder) CloseTurn(_ context.Context, idAction int, m protocol.TurnClose) (int, error) {
	return r.addAction("CloseTurn", idAction, m)
}

func (r *Recorder) ForceTurnOD(_ context.Context, idAction int, m protocol.TurnForceOD) (int, error) {
	return r.addAction("ForceTurnOD", idAction, m)
}

func (r *Recorder) ForceTurnResult(_ context.Context, idAction int, m protocol.TurnForceResult) (int, error) {
	return r.addAction("ForceTurnResult", idAction, m)
}

func (r *Recorder) ChangeDestination(_ context.Context, idAction int, m protocol.DestinationChange) (int, error) {
	return r.addAction("ChangeDestination", idAction, m)
}

func (r *Recorder) RemoveAction(_ context.Context, idAction int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.begin("RemoveAction", idAction); ok {
		return code, nil
	}
	if _, ok := r.actions[idAction]; !ok {
		return int(protocol.StatusInfUnknownID), nil
	}
	delete(r.actions, idAction)
	return 0, nil
}

func (r *Recorder) RemoveAllActions(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.begin("RemoveAllActions"); ok {
		return code, nil
	}
	clear(r.actions)
	return 0, nil
}

func (r *Recorder) ActivatePolicy(_ context.Context, policyID int, at protocol.SimTime) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.begin("ActivatePolicy", policyID, at); ok {
		return code, nil
	}
	r.policies[policyID] = true
	return 0, nil
}

func (r *Recorder) DeactivatePolicy(_ context.Context, policyID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.begin("DeactivatePolicy", policyID); ok {
		return code, nil
	}
	if !r.policies[policyID] {
		return int(protocol.StatusInfUnknownID), nil
	}
	delete(r.policies, policyID)
	return 0, nil
}

var _ API = (*Recorder)(nil)
