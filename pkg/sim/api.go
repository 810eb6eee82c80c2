// Package sim defines the simulation calls commands are executed against.
//
// Every call returns the simulator's raw integer: a non-negative value (often
// an id) on success, a negative status code on failure.
package sim

import (
	"context"

	"tcon/pkg/protocol"
)

// API is the set of simulation calls the dispatcher makes. The host binding
// implements it against the running simulator; Recorder implements it for
// dry runs and tests.
type API interface {
	GenerateIncident(ctx context.Context, p protocol.IncidentCreate) (int, error)
	RemoveIncident(ctx context.Context, sectionID, lane int, position float64) (int, error)
	RemoveAllIncidentsInSection(ctx context.Context, sectionID int) (int, error)
	ResetAllIncidents(ctx context.Context) (int, error)

	Measures

	RemoveAction(ctx context.Context, idAction int) (int, error)
	RemoveAllActions(ctx context.Context) (int, error)

	ActivatePolicy(ctx context.Context, policyID int, at protocol.SimTime) (int, error)
	DeactivatePolicy(ctx context.Context, policyID int) (int, error)
}

// Measures creates traffic-management actions. idAction is the caller's
// preallocated id or 0 to let the simulator choose; the returned value is
// the id in effect.
type Measures interface {
	AddSpeedSection(ctx context.Context, idAction int, m protocol.SpeedSection) (int, error)
	AddDetailedSpeed(ctx context.Context, idAction int, m protocol.SpeedDetailed) (int, error)
	AddLaneClosure(ctx context.Context, idAction int, m protocol.LaneClosure) (int, error)
	AddDetailedLaneClosure(ctx context.Context, idAction int, m protocol.LaneClosureDetailed) (int, error)
	DeactivateReservedLane(ctx context.Context, idAction int, m protocol.LaneDeactivateReserved) (int, error)
	CloseTurn(ctx context.Context, idAction int, m protocol.TurnClose) (int, error)
	ForceTurnOD(ctx context.Context, idAction int, m protocol.TurnForceOD) (int, error)
	ForceTurnResult(ctx context.Context, idAction int, m protocol.TurnForceResult) (int, error)
	ChangeDestination(ctx context.Context, idAction int, m protocol.DestinationChange) (int, error)
}
