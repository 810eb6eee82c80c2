package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Payload is the kind-specific body of a Command.
type Payload interface {
	Kind() Kind
	Validate() error
}

// Starter is implemented by payloads that carry their own start instant.
type Starter interface {
	StartTime() (SimTime, bool)
}

// Lifetime is implemented by creation payloads that end on their own after
// a duration. The returned duration is only meaningful when ok is true.
type Lifetime interface {
	Lifetime() (duration float64, ok bool)
}

// IncidentCreate generates an incident blocking part of a lane.
type IncidentCreate struct {
	SectionID            int     `json:"section_id"`
	Lane                 int     `json:"lane"`
	Position             float64 `json:"position"`
	Length               float64 `json:"length"`
	IniTime              SimTime `json:"ini_time"`
	Duration             float64 `json:"duration"`
	VisibilityDistance   float64 `json:"visibility_distance"`
	UpdateIDGroup        bool    `json:"update_id_group"`
	ApplySpeedReduction  bool    `json:"apply_speed_reduction"`
	UpstreamDistanceSR   float64 `json:"upstream_distance_SR"`
	DownstreamDistanceSR float64 `json:"downstream_distance_SR"`
	MaxSpeedSR           float64 `json:"max_speed_SR"`
}

// NewIncidentCreate returns an IncidentCreate carrying the default optional values.
func NewIncidentCreate() IncidentCreate {
	return IncidentCreate{
		VisibilityDistance:   200,
		ApplySpeedReduction:  true,
		UpstreamDistanceSR:   200,
		DownstreamDistanceSR: 200,
		MaxSpeedSR:           50,
	}
}

func (IncidentCreate) Kind() Kind { return KindIncidentCreate }

func (p IncidentCreate) StartTime() (SimTime, bool) { return p.IniTime, true }

func (p IncidentCreate) Lifetime() (float64, bool) { return p.Duration, p.Duration > 0 }

func (p IncidentCreate) Validate() error {
	switch {
	case p.Lane <= 0:
		return invalid(KindIncidentCreate, "lane", "must be greater than 0")
	case p.Length <= 0:
		return invalid(KindIncidentCreate, "length", "must be greater than 0")
	case !p.IniTime.Valid() || p.IniTime.IsImmediate():
		return invalid(KindIncidentCreate, "ini_time", "must be a non-negative time")
	case p.Duration <= 0:
		return invalid(KindIncidentCreate, "duration", "must be greater than 0")
	case p.UpstreamDistanceSR < 0:
		return invalid(KindIncidentCreate, "upstream_distance_SR", "must not be negative")
	case p.DownstreamDistanceSR < 0:
		return invalid(KindIncidentCreate, "downstream_distance_SR", "must not be negative")
	case p.MaxSpeedSR <= 0:
		return invalid(KindIncidentCreate, "max_speed_SR", "must be greater than 0")
	}
	return nil
}

// IncidentRemove removes the incident at a lane position.
type IncidentRemove struct {
	SectionID int     `json:"section_id"`
	Lane      int     `json:"lane"`
	Position  float64 `json:"position"`
}

func (IncidentRemove) Kind() Kind { return KindIncidentRemove }

func (p IncidentRemove) Validate() error {
	if p.Lane <= 0 {
		return invalid(KindIncidentRemove, "lane", "must be greater than 0")
	}
	return nil
}

// IncidentsClearSection removes every incident in one section.
type IncidentsClearSection struct {
	SectionID int `json:"section_id"`
}

func (IncidentsClearSection) Kind() Kind { return KindIncidentsClearSection }

func (IncidentsClearSection) Validate() error { return nil }

// IncidentsReset removes every incident in the network.
type IncidentsReset struct{}

func (IncidentsReset) Kind() Kind { return KindIncidentsReset }

func (IncidentsReset) Validate() error { return nil }

// MeasureRemove removes an action by its id.
type MeasureRemove struct {
	IDAction int `json:"id_action"`
}

func (MeasureRemove) Kind() Kind { return KindMeasureRemove }

func (p MeasureRemove) Validate() error {
	if p.IDAction <= 0 {
		return invalid(KindMeasureRemove, "id_action", "must be greater than 0")
	}
	return nil
}

// MeasuresClear removes every active action.
type MeasuresClear struct{}

func (MeasuresClear) Kind() Kind { return KindMeasuresClear }

func (MeasuresClear) Validate() error { return nil }

// PolicyActivate activates a policy defined in the scenario. A positive
// Duration schedules the matching deactivation.
type PolicyActivate struct {
	PolicyID int      `json:"policy_id"`
	Duration *float64 `json:"duration,omitempty"`
}

func (PolicyActivate) Kind() Kind { return KindPolicyActivate }

func (p PolicyActivate) Lifetime() (float64, bool) {
	if p.Duration == nil {
		return 0, false
	}
	return *p.Duration, true
}

func (p PolicyActivate) Validate() error {
	if p.PolicyID <= 0 {
		return invalid(KindPolicyActivate, "policy_id", "must be greater than 0")
	}
	if p.Duration != nil && *p.Duration <= 0 {
		return invalid(KindPolicyActivate, "duration", "must be greater than 0")
	}
	return nil
}

// PolicyDeactivate deactivates a policy defined in the scenario.
type PolicyDeactivate struct {
	PolicyID int `json:"policy_id"`
}

func (PolicyDeactivate) Kind() Kind { return KindPolicyDeactivate }

func (p PolicyDeactivate) Validate() error {
	if p.PolicyID <= 0 {
		return invalid(KindPolicyDeactivate, "policy_id", "must be greater than 0")
	}
	return nil
}

// requiredFields maps each kind to the payload keys that have no default.
var requiredFields = map[Kind][]string{ //nolint:gochecknoglobals // read-only lookup table
	KindIncidentCreate:        {"section_id", "lane", "position", "length", "ini_time", "duration"},
	KindIncidentRemove:        {"section_id", "lane", "position"},
	KindIncidentsClearSection: {"section_id"},
	KindMeasureCreate:         {"type"},
	KindMeasureRemove:         {"id_action"},
	KindPolicyActivate:        {"policy_id"},
	KindPolicyDeactivate:      {"policy_id"},
}

// DecodePayload decodes raw into the payload type for kind and validates it.
// Kinds without a payload ignore raw.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	if !kind.Valid() {
		return nil, invalid(kind, "command", "unknown command kind")
	}
	if !kind.TakesPayload() {
		if kind == KindIncidentsReset {
			return IncidentsReset{}, nil
		}
		return MeasuresClear{}, nil
	}

	fields, err := objectFields(kind, raw)
	if err != nil {
		return nil, err
	}
	if err := requireFields(kind, fields, requiredFields[kind]...); err != nil {
		return nil, err
	}

	var p Payload
	switch kind {
	case KindIncidentCreate:
		v := NewIncidentCreate()
		err = json.Unmarshal(raw, &v)
		p = v
	case KindIncidentRemove:
		var v IncidentRemove
		err = json.Unmarshal(raw, &v)
		p = v
	case KindIncidentsClearSection:
		var v IncidentsClearSection
		err = json.Unmarshal(raw, &v)
		p = v
	case KindMeasureCreate:
		var v MeasureCreate
		err = json.Unmarshal(raw, &v)
		p = v
	case KindMeasureRemove:
		var v MeasureRemove
		err = json.Unmarshal(raw, &v)
		p = v
	case KindPolicyActivate:
		var v PolicyActivate
		err = json.Unmarshal(raw, &v)
		p = v
	case KindPolicyDeactivate:
		var v PolicyDeactivate
		err = json.Unmarshal(raw, &v)
		p = v
	}
	if err != nil {
		return nil, decodeError(kind, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// objectFields decodes the top-level keys of a JSON object.
func objectFields(kind Kind, raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, invalid(kind, "payload", "is required")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, invalid(kind, "payload", "must be an object")
	}
	return fields, nil
}

func requireFields(kind Kind, fields map[string]json.RawMessage, names ...string) error {
	for _, name := range names {
		if v, ok := fields[name]; !ok || string(v) == "null" {
			return invalid(kind, name, "is required")
		}
	}
	return nil
}

// decodeError turns a json type error into a ValidationError naming the field.
func decodeError(kind Kind, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		return invalid(kind, te.Field, fmt.Sprintf("must be %s", te.Type))
	}
	return invalid(kind, "payload", err.Error())
}
