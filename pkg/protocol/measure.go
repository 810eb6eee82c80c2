package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// MeasureType selects the traffic-management action a measure_create applies.
type MeasureType string

const (
	MeasureSpeedSection           MeasureType = "speed_section"
	MeasureSpeedDetailed          MeasureType = "speed_detailed"
	MeasureLaneClosure            MeasureType = "lane_closure"
	MeasureLaneClosureDetailed    MeasureType = "lane_closure_detailed"
	MeasureLaneDeactivateReserved MeasureType = "lane_deactivate_reserved"
	MeasureTurnClose              MeasureType = "turn_close"
	MeasureTurnForceOD            MeasureType = "turn_force_od"
	MeasureTurnForceResult        MeasureType = "turn_force_result"
	MeasureDestinationChange      MeasureType = "destination_change"
)

// MeasureTypes lists every known measure type.
func MeasureTypes() []MeasureType {
	return []MeasureType{
		MeasureSpeedSection,
		MeasureSpeedDetailed,
		MeasureLaneClosure,
		MeasureLaneClosureDetailed,
		MeasureLaneDeactivateReserved,
		MeasureTurnClose,
		MeasureTurnForceOD,
		MeasureTurnForceResult,
		MeasureDestinationChange,
	}
}

// Valid reports whether t is a known measure type.
func (t MeasureType) Valid() bool {
	for _, known := range MeasureTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Measure is one variant of the measure_create payload.
type Measure interface {
	MeasureType() MeasureType
	Base() MeasureBase
	Validate() error
}

// MeasureBase holds the fields every measure shares.
type MeasureBase struct {
	// IDAction preallocates the action id. Omit it to let the simulation
	// assign one.
	IDAction *int `json:"id_action,omitempty"`
	// Duration, when set, schedules the removal of the action.
	Duration *float64 `json:"duration,omitempty"`
}

func (b MeasureBase) Base() MeasureBase { return b }

// PreallocatedID returns the caller-chosen action id, if any.
func (b MeasureBase) PreallocatedID() (int, bool) {
	if b.IDAction == nil {
		return 0, false
	}
	return *b.IDAction, true
}

func (b MeasureBase) validate(t MeasureType) error {
	if b.IDAction != nil && *b.IDAction <= 0 {
		return invalidMeasure(t, "id_action", "must be greater than 0")
	}
	if b.Duration != nil && *b.Duration <= 0 {
		return invalidMeasure(t, "duration", "must be greater than 0")
	}
	return nil
}

// SpeedSection changes the speed limit in one or more sections.
type SpeedSection struct {
	MeasureBase
	SectionIDs              []int   `json:"section_ids"`
	Speed                   float64 `json:"speed"`
	VehType                 int     `json:"veh_type"`
	Compliance              float64 `json:"compliance"`
	ConsiderSpeedAcceptance bool    `json:"consider_speed_acceptance"`
}

func (SpeedSection) MeasureType() MeasureType { return MeasureSpeedSection }

func (m SpeedSection) Validate() error {
	t := MeasureSpeedSection
	if err := m.MeasureBase.validate(t); err != nil {
		return err
	}
	if len(m.SectionIDs) == 0 {
		return invalidMeasure(t, "section_ids", "must list at least one section")
	}
	if m.Speed <= 0 {
		return invalidMeasure(t, "speed", "must be greater than 0")
	}
	return checkAudience(t, m.VehType, m.Compliance)
}

// SpeedDetailed changes the speed limit on a lane and segment range.
type SpeedDetailed struct {
	MeasureBase
	SectionIDs              []int   `json:"section_ids"`
	LaneID                  int     `json:"lane_id"`
	FromSegmentID           int     `json:"from_segment_id"`
	ToSegmentID             int     `json:"to_segment_id"`
	Speed                   float64 `json:"speed"`
	VehType                 int     `json:"veh_type"`
	Compliance              float64 `json:"compliance"`
	ConsiderSpeedAcceptance bool    `json:"consider_speed_acceptance"`
}

func (SpeedDetailed) MeasureType() MeasureType { return MeasureSpeedDetailed }

func (m SpeedDetailed) Validate() error {
	t := MeasureSpeedDetailed
	if err := m.MeasureBase.validate(t); err != nil {
		return err
	}
	if len(m.SectionIDs) == 0 {
		return invalidMeasure(t, "section_ids", "must list at least one section")
	}
	if m.Speed <= 0 {
		return invalidMeasure(t, "speed", "must be greater than 0")
	}
	return checkAudience(t, m.VehType, m.Compliance)
}

// LaneClosure closes a lane for a vehicle type.
type LaneClosure struct {
	MeasureBase
	SectionID int `json:"section_id"`
	LaneID    int `json:"lane_id"`
	VehType   int `json:"veh_type"`
}

func (LaneClosure) MeasureType() MeasureType { return MeasureLaneClosure }

func (m LaneClosure) Validate() error {
	if err := m.MeasureBase.validate(MeasureLaneClosure); err != nil {
		return err
	}
	return checkAudience(MeasureLaneClosure, m.VehType, 1)
}

// LaneClosureDetailed closes a lane with car-following and visibility options.
type LaneClosureDetailed struct {
	MeasureBase
	SectionID          int     `json:"section_id"`
	LaneID             int     `json:"lane_id"`
	VehType            int     `json:"veh_type"`
	Apply2LCF          bool    `json:"apply_2LCF"`
	VisibilityDistance float64 `json:"visibility_distance"`
}

func (LaneClosureDetailed) MeasureType() MeasureType { return MeasureLaneClosureDetailed }

func (m LaneClosureDetailed) Validate() error {
	if err := m.MeasureBase.validate(MeasureLaneClosureDetailed); err != nil {
		return err
	}
	return checkAudience(MeasureLaneClosureDetailed, m.VehType, 1)
}

// LaneDeactivateReserved lifts the reservation of a reserved lane.
type LaneDeactivateReserved struct {
	MeasureBase
	SectionID int `json:"section_id"`
	LaneID    int `json:"lane_id"`
	SegmentID int `json:"segment_id"`
}

func (LaneDeactivateReserved) MeasureType() MeasureType { return MeasureLaneDeactivateReserved }

func (m LaneDeactivateReserved) Validate() error {
	return m.MeasureBase.validate(MeasureLaneDeactivateReserved)
}

// TurnClose closes a turn between two sections.
type TurnClose struct {
	MeasureBase
	FromSectionID              int     `json:"from_section_id"`
	ToSectionID                int     `json:"to_section_id"`
	OriginCentroid             int     `json:"origin_centroid"`
	DestinationCentroid        int     `json:"destination_centroid"`
	VehType                    int     `json:"veh_type"`
	Compliance                 float64 `json:"compliance"`
	VisibilityDistance         float64 `json:"visibility_distance"`
	LocalEffect                bool    `json:"local_effect"`
	SectionAffectingPathCostID int     `json:"section_affecting_path_cost_id"`
}

func (TurnClose) MeasureType() MeasureType { return MeasureTurnClose }

func (m TurnClose) Validate() error {
	if err := m.MeasureBase.validate(MeasureTurnClose); err != nil {
		return err
	}
	return checkAudience(MeasureTurnClose, m.VehType, m.Compliance)
}

// TurnForceOD forces vehicles of an OD pair onto the given next sections.
type TurnForceOD struct {
	MeasureBase
	FromSectionID       int     `json:"from_section_id"`
	NextSectionIDs      []int   `json:"next_section_ids"`
	VehType             int     `json:"veh_type"`
	Compliance          float64 `json:"compliance"`
	OriginCentroid      int     `json:"origin_centroid"`
	DestinationCentroid int     `json:"destination_centroid"`
	SectionInPath       int     `json:"section_in_path"`
	VisibilityDistance  float64 `json:"visibility_distance"`
}

func (TurnForceOD) MeasureType() MeasureType { return MeasureTurnForceOD }

func (m TurnForceOD) Validate() error {
	t := MeasureTurnForceOD
	if err := m.MeasureBase.validate(t); err != nil {
		return err
	}
	if len(m.NextSectionIDs) == 0 {
		return invalidMeasure(t, "next_section_ids", "must list at least one section")
	}
	return checkAudience(t, m.VehType, m.Compliance)
}

// TurnForceResult reroutes vehicles that would take OldNextSectionID.
type TurnForceResult struct {
	MeasureBase
	FromSectionID    int     `json:"from_section_id"`
	NextSectionIDs   []int   `json:"next_section_ids"`
	VehType          int     `json:"veh_type"`
	Compliance       float64 `json:"compliance"`
	OldNextSectionID int     `json:"old_next_section_id"`
}

func (TurnForceResult) MeasureType() MeasureType { return MeasureTurnForceResult }

func (m TurnForceResult) Validate() error {
	t := MeasureTurnForceResult
	if err := m.MeasureBase.validate(t); err != nil {
		return err
	}
	if len(m.NextSectionIDs) == 0 {
		return invalidMeasure(t, "next_section_ids", "must list at least one section")
	}
	return checkAudience(t, m.VehType, m.Compliance)
}

// Destination is one share of a destination change.
type Destination struct {
	DestID     int     `json:"dest_id"`
	Percentage float64 `json:"percentage"`
}

// DestinationChange redistributes vehicles passing a section over new
// destination centroids.
type DestinationChange struct {
	MeasureBase
	SectionID       int           `json:"section_id"`
	NewDestinations []Destination `json:"new_destinations"`
	// NewDestination is the single-centroid form. Decoding folds it into
	// NewDestinations at 100%.
	NewDestination      *int    `json:"new_destination,omitempty"`
	OriginCentroid      int     `json:"origin_centroid"`
	DestinationCentroid int     `json:"destination_centroid"`
	VehType             int     `json:"veh_type"`
	Compliance          float64 `json:"compliance"`
}

func (DestinationChange) MeasureType() MeasureType { return MeasureDestinationChange }

// destinationTolerance bounds the rounding error allowed in percentage sums.
const destinationTolerance = 1e-6

func (m DestinationChange) Validate() error {
	t := MeasureDestinationChange
	if err := m.MeasureBase.validate(t); err != nil {
		return err
	}
	if len(m.NewDestinations) == 0 {
		return invalidMeasure(t, "new_destinations", "either new_destinations or new_destination is required")
	}
	var total float64
	for _, d := range m.NewDestinations {
		if d.Percentage < 0 {
			return invalidMeasure(t, "new_destinations", "percentages must not be negative")
		}
		total += d.Percentage
	}
	if math.Abs(total-100) > destinationTolerance {
		return invalidMeasure(t, "new_destinations", fmt.Sprintf("percentages must sum to 100 (got %g)", total))
	}
	return checkAudience(t, m.VehType, m.Compliance)
}

func (m *DestinationChange) normalize() {
	if len(m.NewDestinations) == 0 && m.NewDestination != nil {
		m.NewDestinations = []Destination{{DestID: *m.NewDestination, Percentage: 100}}
	}
	m.NewDestination = nil
}

func checkAudience(t MeasureType, vehType int, compliance float64) error {
	if vehType < 0 {
		return invalidMeasure(t, "veh_type", "must not be negative")
	}
	if compliance < 0 || compliance > 1 {
		return invalidMeasure(t, "compliance", "must be between 0 and 1")
	}
	return nil
}

// requiredMeasureFields maps each measure type to the keys that have no default.
var requiredMeasureFields = map[MeasureType][]string{ //nolint:gochecknoglobals // read-only lookup table
	MeasureSpeedSection:           {"section_ids", "speed"},
	MeasureSpeedDetailed:          {"section_ids", "speed"},
	MeasureLaneClosure:            {"section_id", "lane_id"},
	MeasureLaneClosureDetailed:    {"section_id", "lane_id"},
	MeasureLaneDeactivateReserved: {"section_id", "lane_id"},
	MeasureTurnClose:              {"from_section_id", "to_section_id"},
	MeasureTurnForceOD:            {"from_section_id", "next_section_ids"},
	MeasureTurnForceResult:        {"from_section_id", "next_section_ids", "old_next_section_id"},
	MeasureDestinationChange:      {"section_id"},
}

// newMeasure returns the zero value of a measure type with its defaults applied.
func newMeasure(t MeasureType) Measure {
	switch t {
	case MeasureSpeedSection:
		return &SpeedSection{Compliance: 1, ConsiderSpeedAcceptance: true}
	case MeasureSpeedDetailed:
		return &SpeedDetailed{LaneID: -1, FromSegmentID: -1, ToSegmentID: -1, Compliance: 1, ConsiderSpeedAcceptance: true}
	case MeasureLaneClosure:
		return &LaneClosure{}
	case MeasureLaneClosureDetailed:
		return &LaneClosureDetailed{VisibilityDistance: 200}
	case MeasureLaneDeactivateReserved:
		return &LaneDeactivateReserved{SegmentID: -1}
	case MeasureTurnClose:
		return &TurnClose{
			OriginCentroid:             -1,
			DestinationCentroid:        -1,
			Compliance:                 1,
			VisibilityDistance:         200,
			LocalEffect:                true,
			SectionAffectingPathCostID: -1,
		}
	case MeasureTurnForceOD:
		return &TurnForceOD{Compliance: 1, OriginCentroid: -1, DestinationCentroid: -1, SectionInPath: -1, VisibilityDistance: 200}
	case MeasureTurnForceResult:
		return &TurnForceResult{Compliance: 1}
	case MeasureDestinationChange:
		return &DestinationChange{OriginCentroid: -1, DestinationCentroid: -1, Compliance: 1}
	default:
		return nil
	}
}

// deref turns the pointer returned by newMeasure back into a value so that
// decoded measures compare and copy like the other payloads.
func deref(m Measure) Measure {
	switch v := m.(type) {
	case *SpeedSection:
		return *v
	case *SpeedDetailed:
		return *v
	case *LaneClosure:
		return *v
	case *LaneClosureDetailed:
		return *v
	case *LaneDeactivateReserved:
		return *v
	case *TurnClose:
		return *v
	case *TurnForceOD:
		return *v
	case *TurnForceResult:
		return *v
	case *DestinationChange:
		v.normalize()
		return *v
	default:
		return m
	}
}

// MeasureCreate applies one traffic-management action.
type MeasureCreate struct {
	Measure Measure
}

func (MeasureCreate) Kind() Kind { return KindMeasureCreate }

func (p MeasureCreate) Lifetime() (float64, bool) {
	if p.Measure == nil {
		return 0, false
	}
	d := p.Measure.Base().Duration
	if d == nil {
		return 0, false
	}
	return *d, true
}

func (p MeasureCreate) Validate() error {
	if p.Measure == nil {
		return invalid(KindMeasureCreate, "type", "is required")
	}
	return p.Measure.Validate()
}

// MarshalJSON flattens the measure and adds its "type" discriminator.
func (p MeasureCreate) MarshalJSON() ([]byte, error) {
	if p.Measure == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(p.Measure)
	if err != nil {
		return nil, fmt.Errorf("encode measure: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode measure: %w", err)
	}
	typ, _ := json.Marshal(p.Measure.MeasureType())
	fields["type"] = typ
	return json.Marshal(fields) //nolint:wrapcheck // map of raw messages cannot fail
}

// UnmarshalJSON selects the measure variant by its "type" field.
func (p *MeasureCreate) UnmarshalJSON(data []byte) error {
	fields, err := objectFields(KindMeasureCreate, data)
	if err != nil {
		return err
	}
	var t MeasureType
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &t); err != nil {
			return invalid(KindMeasureCreate, "type", "must be a string")
		}
	}
	if !t.Valid() {
		return invalid(KindMeasureCreate, "type", fmt.Sprintf("unknown measure type %q", t))
	}
	for _, name := range requiredMeasureFields[t] {
		if v, ok := fields[name]; !ok || string(v) == "null" {
			return invalidMeasure(t, name, "is required")
		}
	}

	m := newMeasure(t)
	if err := json.Unmarshal(data, m); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return invalidMeasure(t, te.Field, fmt.Sprintf("must be %s", te.Type))
		}
		return invalidMeasure(t, "payload", err.Error())
	}
	p.Measure = deref(m)
	return nil
}
