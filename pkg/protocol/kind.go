package protocol

// Kind identifies what a Command does to the simulation.
type Kind string

const (
	KindIncidentCreate        Kind = "incident_create"         // Generate an incident on a lane.
	KindIncidentRemove        Kind = "incident_remove"         // Remove one incident by location.
	KindIncidentsClearSection Kind = "incidents_clear_section" // Remove every incident in a section.
	KindIncidentsReset        Kind = "incidents_reset"         // Remove every incident in the network.
	KindMeasureCreate         Kind = "measure_create"          // Apply a traffic-management action.
	KindMeasureRemove         Kind = "measure_remove"          // Remove one action by id.
	KindMeasuresClear         Kind = "measures_clear"          // Remove every active action.
	KindPolicyActivate        Kind = "policy_activate"         // Activate a predefined policy.
	KindPolicyDeactivate      Kind = "policy_deactivate"       // Deactivate a predefined policy.
)

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindIncidentCreate,
		KindIncidentRemove,
		KindIncidentsClearSection,
		KindIncidentsReset,
		KindMeasureCreate,
		KindMeasureRemove,
		KindMeasuresClear,
		KindPolicyActivate,
		KindPolicyDeactivate,
	}
}

// Valid reports whether k is one of the known kind values.
func (k Kind) Valid() bool {
	switch k {
	case KindIncidentCreate, KindIncidentRemove, KindIncidentsClearSection, KindIncidentsReset,
		KindMeasureCreate, KindMeasureRemove, KindMeasuresClear,
		KindPolicyActivate, KindPolicyDeactivate:
		return true
	default:
		return false
	}
}

// TakesPayload reports whether commands of this kind carry a payload.
func (k Kind) TakesPayload() bool {
	switch k {
	case KindIncidentsReset, KindMeasuresClear:
		return false
	default:
		return true
	}
}
