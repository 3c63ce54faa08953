package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"coop-door-controller/internal/door"
	"coop-door-controller/internal/journal"
	"coop-door-controller/internal/sensor"
	"coop-door-controller/internal/settings"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	maxBodyBytes        = 64 << 10
)

// DoorResult is the response to a door command.
type DoorResult struct {
	Outcome door.Outcome `json:"outcome"`
	State   door.State   `json:"state"`
	Warning string       `json:"warning,omitempty"`
}

// StatusCode maps a command error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, door.ErrHardwareUnavailable),
		errors.Is(err, door.ErrLockPoisoned),
		errors.Is(err, sensor.ErrBusUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, settings.ErrDecode),
		errors.Is(err, settings.ErrInvalidTime):
		return http.StatusBadRequest
	case errors.Is(err, journal.ErrDisabled):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleDoor(request func(context.Context) (door.Outcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.AllowCommand() {
			writeError(w, http.StatusTooManyRequests, errors.New("too many door commands"))
			return
		}

		outcome, err := request(r.Context())
		result := DoorResult{Outcome: outcome, State: s.commands.Status().Door}
		switch {
		case errors.Is(err, door.ErrLimitTimeout):
			result.Warning = err.Error()
		case err != nil:
			writeError(w, StatusCode(err), err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.commands.Status())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.commands.GetSettings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	next, err := settings.DecodeJSON(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.commands.WriteSettings(next); err != nil {
		writeError(w, StatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.commands.GetSettings())
}

func (s *Server) handleUseCurrentLight(w http.ResponseWriter, r *http.Request) {
	which := r.PathValue("which")
	if which != "open" && which != "close" {
		writeError(w, http.StatusBadRequest, errors.New("threshold must be 'open' or 'close'"))
		return
	}
	next, err := s.commands.UseCurrentLightAs(r.Context(), which)
	if err != nil {
		writeError(w, StatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleLight(w http.ResponseWriter, r *http.Request) {
	level, err := s.commands.ReadLightLevel()
	if err != nil {
		writeError(w, StatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"level": level})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	reports, err := s.commands.History(r.Context(), limit)
	if err != nil {
		writeError(w, StatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type route struct {
	method  string
	path    string
	handler http.Handler
}

// registerRoutes adds each route and a JSON 405 for any other method on
// the same path.
func registerRoutes(mux *http.ServeMux, routes []route) {
	allowed := make(map[string][]string)
	var paths []string
	for _, rt := range routes {
		mux.Handle(rt.method+" "+rt.path, rt.handler)
		if _, ok := allowed[rt.path]; !ok {
			paths = append(paths, rt.path)
		}
		allowed[rt.path] = append(allowed[rt.path], rt.method)
	}
	for _, path := range paths {
		mux.Handle(path, methodNotAllowed(allowed[path]))
	}
}

func methodNotAllowed(methods []string) http.HandlerFunc {
	allow := strings.Join(methods, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// handleRoot serves static files. Unknown API paths get a JSON 404.
func (s *Server) handleRoot(files http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusNotFound, fmt.Errorf("no such endpoint: %s", r.URL.Path))
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed([]string{http.MethodGet, http.MethodHead})(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}
}
