package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"tcon/pkg/protocol"
	"tcon/pkg/sim"
)

// Builtin returns a registry with a handler for every command kind, each
// calling api.
func Builtin(api sim.API, log *slog.Logger) (*Registry, error) {
	r := NewRegistry(log)
	table := []struct {
		kind protocol.Kind
		h    Handler
	}{
		{protocol.KindIncidentCreate, PayloadHandler(func(ctx context.Context, p protocol.Payload) (int, error) {
			v, err := payloadAs[protocol.IncidentCreate](p)
			if err != nil {
				return 0, err
			}
			return api.GenerateIncident(ctx, v)
		})},
		{protocol.KindIncidentRemove, PayloadHandler(func(ctx context.Context, p protocol.Payload) (int, error) {
			v, err := payloadAs[protocol.IncidentRemove](p)
			if err != nil {
				return 0, err
			}
			return api.RemoveIncident(ctx, v.SectionID, v.Lane, v.Position)
		})},
		{protocol.KindIncidentsClearSection, PayloadHandler(func(ctx context.Context, p protocol.Payload) (int, error) {
			v, err := payloadAs[protocol.IncidentsClearSection](p)
			if err != nil {
				return 0, err
			}
			return api.RemoveAllIncidentsInSection(ctx, v.SectionID)
		})},
		{protocol.KindIncidentsReset, NoArgHandler(api.ResetAllIncidents)},
		{protocol.KindMeasureCreate, PayloadHandler(func(ctx context.Context, p protocol.Payload) (int, error) {
			v, err := payloadAs[protocol.MeasureCreate](p)
			if err != nil {
				return 0, err
			}
			return applyMeasure(ctx, api, v.Measure)
		})},
		{protocol.KindMeasureRemove, PayloadHandler(func(ctx context.Context, p protocol.Payload) (int, error) {
			v, err := payloadAs[protocol.MeasureRemove](p)
			if err != nil {
				return 0, err
			}
			return api.RemoveAction(ctx, v.IDAction)
		})},
		{protocol.KindMeasuresClear, NoArgHandler(api.RemoveAllActions)},
		{protocol.KindPolicyActivate, TimedHandler(func(ctx context.Context, p protocol.Payload, start protocol.SimTime) (int, error) {
			v, err := payloadAs[protocol.PolicyActivate](p)
			if err != nil {
				return 0, err
			}
			return api.ActivatePolicy(ctx, v.PolicyID, start)
		})},
		{protocol.KindPolicyDeactivate, PayloadHandler(func(ctx context.Context, p protocol.Payload) (int, error) {
			v, err := payloadAs[protocol.PolicyDeactivate](p)
			if err != nil {
				return 0, err
			}
			return api.DeactivatePolicy(ctx, v.PolicyID)
		})},
	}
	for _, entry := range table {
		if err := r.Register(entry.kind, entry.h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// applyMeasure selects the simulation call for the measure variant.
func applyMeasure(ctx context.Context, api sim.Measures, m protocol.Measure) (int, error) {
	if m == nil {
		return 0, fmt.Errorf("measure_create: missing measure")
	}
	id, _ := m.Base().PreallocatedID()
	switch v := m.(type) {
	case protocol.SpeedSection:
		return api.AddSpeedSection(ctx, id, v)
	case protocol.SpeedDetailed:
		return api.AddDetailedSpeed(ctx, id, v)
	case protocol.LaneClosure:
		return api.AddLaneClosure(ctx, id, v)
	case protocol.LaneClosureDetailed:
		return api.AddDetailedLaneClosure(ctx, id, v)
	case protocol.LaneDeactivateReserved:
		return api.DeactivateReservedLane(ctx, id, v)
	case protocol.TurnClose:
		return api.CloseTurn(ctx, id, v)
	case protocol.TurnForceOD:
		return api.ForceTurnOD(ctx, id, v)
	case protocol.TurnForceResult:
		return api.ForceTurnResult(ctx, id, v)
	case protocol.DestinationChange:
		return api.ChangeDestination(ctx, id, v)
	default:
		return 0, fmt.Errorf("measure_create: unsupported measure type %s", m.MeasureType())
	}
}

func payloadAs[T protocol.Payload](p protocol.Payload) (T, error) {
	v, ok := p.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("expected %T payload, got %T", zero, p)
	}
	return v, nil
}
