package protocol_test

import (
	"testing"

	"tcon/pkg/protocol"
)

func TestKind_Valid(t *testing.T) {
	for _, k := range protocol.Kinds() {
		if !k.Valid() {
			t.Errorf("expected %q to be valid", k)
		}
	}
	for _, k := range []protocol.Kind{"", "INCIDENT_CREATE", "incident-create", "reload"} {
		if k.Valid() {
			t.Errorf("expected %q to be invalid", k)
		}
	}
}

func TestKind_TakesPayload(t *testing.T) {
	if protocol.KindIncidentsReset.TakesPayload() || protocol.KindMeasuresClear.TakesPayload() {
		t.Error("reset and clear kinds must not take payloads")
	}
	if !protocol.KindMeasureCreate.TakesPayload() {
		t.Error("measure_create must take a payload")
	}
}
