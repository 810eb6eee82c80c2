package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tcon/pkg/api"
	"tcon/pkg/protocol"
	"tcon/pkg/telemetry"
	"tcon/pkg/transport"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	sent []protocol.Envelope
	err  error
}

func (f *fakeSubmitter) Send(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSubmitter) last(t *testing.T) protocol.Command {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("expected a forwarded command")
	}
	return f.sent[len(f.sent)-1].Command
}

func newServer(t *testing.T, sub api.Submitter) (*api.Server, *telemetry.APICollector) {
	t.Helper()
	metrics, err := telemetry.NewAPICollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}
	return api.New(sub, metrics, slog.New(slog.NewTextHandler(io.Discard, nil))), metrics
}

func do(t *testing.T, s *api.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestIncidentCreate_FlattenedBodyAccepted(t *testing.T) {
	sub := &fakeSubmitter{}
	s, metrics := newServer(t, sub)

	rr := do(t, s, http.MethodPost, "/incident",
		`{"section_id": 12, "lane": 1, "position": 30, "length": 15, "ini_time": 121, "duration": 300, "time": 120}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode(t, rr)
	if resp["accepted"] != true || resp["id"] == "" {
		t.Fatalf("unexpected response %v", resp)
	}

	cmd := sub.last(t)
	if cmd.Kind != protocol.KindIncidentCreate || cmd.Time != 120 || cmd.ID != resp["id"] {
		t.Fatalf("unexpected command %v id=%s", cmd, cmd.ID)
	}
	inc := cmd.Payload.(protocol.IncidentCreate)
	if inc.SectionID != 12 || inc.MaxSpeedSR != 50 {
		t.Fatalf("expected defaults applied, got %+v", inc)
	}
	if got := testutil.ToFloat64(metrics.Accepted.WithLabelValues("incident_create")); got != 1 {
		t.Fatalf("api_accepted_total = %v, want 1", got)
	}
}

func TestIncidentCreate_IniTimeNotAfterScheduleIs422(t *testing.T) {
	sub := &fakeSubmitter{}
	s, _ := newServer(t, sub)

	rr := do(t, s, http.MethodPost, "/incident",
		`{"section_id": 12, "lane": 1, "position": 30, "length": 15, "ini_time": 100, "duration": 300, "time": 120}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if resp := decode(t, rr); resp["accepted"] != false || resp["field"] != "ini_time" {
		t.Fatalf("unexpected response %v", resp)
	}
	if len(sub.sent) != 0 {
		t.Fatal("rejected command must not be forwarded")
	}
}

func TestValidationErrorsAre422(t *testing.T) {
	s, _ := newServer(t, &fakeSubmitter{})

	cases := []struct {
		name, method, path, body, field string
	}{
		{"missing field", http.MethodPost, "/incident", `{"section_id": 1}`, "lane"},
		{"unknown measure", http.MethodPost, "/measure/teleport", `{}`, "type"},
		{"bad path id", http.MethodDelete, "/measure/abc", ``, ""},
		{"zero action id", http.MethodDelete, "/measure/0", ``, "id_action"},
		{"bad time", http.MethodDelete, "/incidents", `{"time": -5}`, "time"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, s, tc.method, tc.path, tc.body)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
			}
			if tc.field != "" {
				if got := decode(t, rr)["field"]; got != tc.field {
					t.Fatalf("expected field %q, got %v", tc.field, got)
				}
			}
		})
	}
}

func TestMalformedBodyIs400(t *testing.T) {
	s, _ := newServer(t, &fakeSubmitter{})
	for _, tc := range []struct{ path, body string }{
		{"/incident", `[1,2]`},
		{"/commands", `not json`},
		{"/commands", `[{"command": "measures_clear"}]`},
		{"/commands", ``},
	} {
		if rr := do(t, s, http.MethodPost, tc.path, tc.body); rr.Code != http.StatusBadRequest {
			t.Fatalf("POST %s %q: expected 400, got %d", tc.path, tc.body, rr.Code)
		}
	}
	// Well-formed but invalid stays 422.
	if rr := do(t, s, http.MethodPost, "/commands", `{"command": "warp_drive"}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for an unknown command, got %d", rr.Code)
	}
}

func TestPathParametersBuildPayloads(t *testing.T) {
	sub := &fakeSubmitter{}
	s, _ := newServer(t, sub)

	if rr := do(t, s, http.MethodDelete, "/incidents/section/44", ``); rr.Code != http.StatusAccepted {
		t.Fatalf("clear section: %d %s", rr.Code, rr.Body.String())
	}
	if p := sub.last(t).Payload.(protocol.IncidentsClearSection); p.SectionID != 44 {
		t.Fatalf("expected section 44, got %d", p.SectionID)
	}

	if rr := do(t, s, http.MethodDelete, "/measure/17", ``); rr.Code != http.StatusAccepted {
		t.Fatalf("measure remove: %d", rr.Code)
	}
	if p := sub.last(t).Payload.(protocol.MeasureRemove); p.IDAction != 17 {
		t.Fatalf("expected action 17, got %d", p.IDAction)
	}

	if rr := do(t, s, http.MethodPost, "/policy/5/activate", `{"duration": 600, "time": 30}`); rr.Code != http.StatusAccepted {
		t.Fatalf("policy activate: %d %s", rr.Code, rr.Body.String())
	}
	cmd := sub.last(t)
	p := cmd.Payload.(protocol.PolicyActivate)
	if p.PolicyID != 5 || p.Duration == nil || *p.Duration != 600 || cmd.Time != 30 {
		t.Fatalf("unexpected policy command %v %+v", cmd, p)
	}

	if rr := do(t, s, http.MethodPost, "/policy/5/deactivate", ``); rr.Code != http.StatusAccepted {
		t.Fatalf("policy deactivate: %d", rr.Code)
	}
	if !sub.last(t).Time.IsImmediate() {
		t.Fatal("expected omitted time to be immediate")
	}
}

func TestMeasureCreate_TypeFromPath(t *testing.T) {
	sub := &fakeSubmitter{}
	s, _ := newServer(t, sub)

	rr := do(t, s, http.MethodPost, "/measure/speed_section", `{"section_ids": [3], "speed": 50, "duration": 120}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	mc := sub.last(t).Payload.(protocol.MeasureCreate)
	if mc.Measure.MeasureType() != protocol.MeasureSpeedSection {
		t.Fatalf("expected speed_section, got %s", mc.Measure.MeasureType())
	}
}

func TestGenericCommandsEndpointIgnoresClientID(t *testing.T) {
	sub := &fakeSubmitter{}
	s, _ := newServer(t, sub)

	rr := do(t, s, http.MethodPost, "/commands", `{"id": "forged", "command": "measures_clear", "time": 10}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if cmd := sub.last(t); cmd.ID == "forged" || cmd.ID == "" || cmd.Time != 10 {
		t.Fatalf("unexpected command %v id=%s", cmd, cmd.ID)
	}
}

func TestBufferFullIs503(t *testing.T) {
	s, metrics := newServer(t, &fakeSubmitter{err: transport.ErrBufferFull})

	rr := do(t, s, http.MethodDelete, "/incidents", ``)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := testutil.ToFloat64(metrics.Rejected.WithLabelValues("buffer_full")); got != 1 {
		t.Fatalf("api_rejected_total = %v, want 1", got)
	}
}

type linkedSubmitter struct{ fakeSubmitter }

func (*linkedSubmitter) Connected() bool { return true }
func (*linkedSubmitter) Pending() int    { return 3 }

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newServer(t, &linkedSubmitter{})

	rr := do(t, s, http.MethodGet, "/health", ``)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decode(t, rr)
	if resp["status"] != "ok" || resp["connected"] != true || resp["pending"] != float64(3) {
		t.Fatalf("unexpected health %v", resp)
	}

	do(t, s, http.MethodDelete, "/incidents", ``)
	metrics := do(t, s, http.MethodGet, "/metrics", ``)
	if !strings.Contains(metrics.Body.String(), `tcon_api_requests_total{code="202",route="DELETE /incidents"} 1`) {
		t.Fatalf("expected instrumented route in metrics, got:\n%s", metrics.Body.String())
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s, _ := newServer(t, &fakeSubmitter{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health") //nolint:noctx // test request
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
