// Package api is the worker's HTTP submission surface. It validates each
// request into a protocol.Command, hands it to the transport, and answers
// 202 immediately; execution results are never reported back.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"tcon/internal/logging"
	"tcon/internal/version"
	"tcon/pkg/protocol"
	"tcon/pkg/telemetry"
	"tcon/pkg/transport"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// Submitter forwards accepted commands to the host. *transport.Client
// satisfies it.
type Submitter interface {
	Send(env protocol.Envelope) error
}

// linkState is optionally implemented by the Submitter to enrich /health.
type linkState interface {
	Connected() bool
	Pending() int
}

// Server routes submission requests.
type Server struct {
	sub     Submitter
	metrics *telemetry.APICollector
	log     *slog.Logger
	started time.Time
	mux     *http.ServeMux
}

// New creates a Server. metrics may be nil.
func New(sub Submitter, metrics *telemetry.APICollector, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{sub: sub, metrics: metrics, log: log, started: time.Now(), mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	s.handle("POST /incident", s.handleIncidentCreate)
	s.handle("DELETE /incident", s.handleIncidentRemove)
	s.handle("DELETE /incidents/section/{section_id}", s.handleIncidentsClearSection)
	s.handle("DELETE /incidents", s.handleIncidentsReset)
	s.handle("POST /measure/{type}", s.handleMeasureCreate)
	s.handle("DELETE /measure/{id_action}", s.handleMeasureRemove)
	s.handle("DELETE /measures", s.handleMeasuresClear)
	s.handle("POST /policy/{policy_id}/activate", s.handlePolicy(protocol.KindPolicyActivate))
	s.handle("POST /policy/{policy_id}/deactivate", s.handlePolicy(protocol.KindPolicyDeactivate))
	s.handle("POST /commands", s.handleCommand)
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.metrics.Instrument(pattern, s.withRequestLogger(h)))
}

// withRequestLogger attaches a request-scoped logger carrying request_id.
func (s *Server) withRequestLogger(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := s.log.With("request_id", uuid.NewString(), "method", r.Method, "path", r.URL.Path)
		h(w, r.WithContext(logging.ContextWithLogger(r.Context(), l)))
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen api %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("api listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status    string  `json:"status"`
	Version   string  `json:"version"`
	Protocol  int     `json:"protocol"`
	Uptime    float64 `json:"uptime_seconds"`
	Connected *bool   `json:"connected,omitempty"`
	Pending   *int    `json:"pending,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Version:  version.String(),
		Protocol: protocol.Version,
		Uptime:   time.Since(s.started).Seconds(),
	}
	if ls, ok := s.sub.(linkState); ok {
		connected, pending := ls.Connected(), ls.Pending()
		resp.Connected, resp.Pending = &connected, &pending
	}
	writeJSON(w, http.StatusOK, resp)
}

type acceptedResponse struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id"`
}

type errorResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error"`
	Field    string `json:"field,omitempty"`
}

// accept validates cmd and forwards it.
func (s *Server) accept(w http.ResponseWriter, r *http.Request, cmd protocol.Command) {
	log := logging.FromContext(r.Context(), s.log)

	if err := cmd.Validate(); err != nil {
		s.reject(w, r, http.StatusUnprocessableEntity, "validation", err)
		return
	}

	env := protocol.NewEnvelope(cmd)
	if err := s.sub.Send(env); err != nil {
		reason := "unavailable"
		if errors.Is(err, transport.ErrBufferFull) {
			reason = "buffer_full"
		}
		s.reject(w, r, http.StatusServiceUnavailable, reason, err)
		return
	}

	s.metrics.ObserveAccepted(string(cmd.Kind))
	log.Info("command accepted", "kind", cmd.Kind, "id", env.Command.ID, "time", cmd.Time)
	writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true, ID: env.Command.ID})
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, code int, reason string, err error) {
	log := logging.FromContext(r.Context(), s.log)
	s.metrics.ObserveRejected(reason)
	log.Warn("command rejected", "reason", reason, "error", err)

	resp := errorResponse{Error: err.Error()}
	var ve *protocol.ValidationError
	var se *protocol.SchedulingError
	switch {
	case errors.As(err, &ve):
		resp.Field = ve.Field
	case errors.As(err, &se):
		resp.Field = "ini_time"
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
