package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"tcon/pkg/protocol"
)

// errBadPath reports a path parameter that is not an integer.
var errBadPath = errors.New("path parameter must be an integer")

func (s *Server) handleIncidentCreate(w http.ResponseWriter, r *http.Request) {
	s.submitFlat(w, r, protocol.KindIncidentCreate, nil)
}

func (s *Server) handleIncidentRemove(w http.ResponseWriter, r *http.Request) {
	s.submitFlat(w, r, protocol.KindIncidentRemove, nil)
}

func (s *Server) handleIncidentsClearSection(w http.ResponseWriter, r *http.Request) {
	id, ok := s.intPath(w, r, "section_id")
	if !ok {
		return
	}
	s.submitFlat(w, r, protocol.KindIncidentsClearSection, map[string]any{"section_id": id})
}

func (s *Server) handleIncidentsReset(w http.ResponseWriter, r *http.Request) {
	s.submitFlat(w, r, protocol.KindIncidentsReset, nil)
}

func (s *Server) handleMeasureCreate(w http.ResponseWriter, r *http.Request) {
	s.submitFlat(w, r, protocol.KindMeasureCreate, map[string]any{"type": r.PathValue("type")})
}

func (s *Server) handleMeasureRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.intPath(w, r, "id_action")
	if !ok {
		return
	}
	s.submitFlat(w, r, protocol.KindMeasureRemove, map[string]any{"id_action": id})
}

func (s *Server) handleMeasuresClear(w http.ResponseWriter, r *http.Request) {
	s.submitFlat(w, r, protocol.KindMeasuresClear, nil)
}

func (s *Server) handlePolicy(kind protocol.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.intPath(w, r, "policy_id")
		if !ok {
			return
		}
		s.submitFlat(w, r, kind, map[string]any{"policy_id": id})
	}
}

// handleCommand accepts the generic {"command","time","payload"} form used
// by schedule files.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		s.reject(w, r, http.StatusBadRequest, "malformed", fmt.Errorf("body must be a JSON object: %w", err))
		return
	}
	var cmd protocol.Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		s.reject(w, r, http.StatusUnprocessableEntity, "validation", err)
		return
	}
	// IDs are assigned here; a client-supplied one is not trusted.
	cmd.ID = ""
	s.accept(w, r, cmd)
}

// submitFlat builds a command from a flattened body: the payload fields at
// the top level plus an optional "time". overrides are path parameters and
// win over body fields of the same name.
func (s *Server) submitFlat(w http.ResponseWriter, r *http.Request, kind protocol.Kind, overrides map[string]any) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	fields := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			s.reject(w, r, http.StatusBadRequest, "malformed", fmt.Errorf("body must be a JSON object: %w", err))
			return
		}
	}

	at, hasTime := fields["time"]
	delete(fields, "time")
	for k, v := range overrides {
		raw, err := json.Marshal(v)
		if err != nil {
			s.reject(w, r, http.StatusBadRequest, "malformed", err)
			return
		}
		fields[k] = raw
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, "malformed", err)
		return
	}
	wire := map[string]json.RawMessage{
		"command": json.RawMessage(strconv.Quote(string(kind))),
		"payload": payload,
	}
	if hasTime {
		wire["time"] = at
	}
	data, err := json.Marshal(wire)
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, "malformed", err)
		return
	}

	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.reject(w, r, http.StatusUnprocessableEntity, "validation", err)
		return
	}
	s.accept(w, r, cmd)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, r, http.StatusRequestEntityTooLarge, "too_large", err)
			return nil, false
		}
		s.reject(w, r, http.StatusBadRequest, "malformed", fmt.Errorf("read body: %w", err))
		return nil, false
	}
	return body, true
}

func (s *Server) intPath(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		s.reject(w, r, http.StatusUnprocessableEntity, "validation", fmt.Errorf("%s: %w", name, errBadPath))
		return 0, false
	}
	return v, true
}
