package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/arbor/internal/apperr"
	"github.com/mattjoyce/arbor/internal/auth"
	"github.com/mattjoyce/arbor/internal/lifecycle"
	"github.com/mattjoyce/arbor/internal/log"
	"github.com/mattjoyce/arbor/internal/part"
	"github.com/mattjoyce/arbor/internal/plugin"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		TreeReady:     s.tree != nil && s.tree.Initialized(),
		Events:        s.hub.Stats(),
	}
	if s.plugins != nil {
		for _, st := range s.plugins.Snapshot() {
			if st.State == plugin.StateStarted {
				resp.PluginsStarted++
			}
		}
	}
	status := http.StatusOK
	if !resp.TreeReady {
		resp.Status = "starting"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

// handleListPlugins handles GET /_/plugins.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	resp := PluginsResponse{Plugins: []plugin.Status{}}
	if s.plugins != nil {
		resp.Plugins = s.plugins.Snapshot()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleTree handles GET /_/tree.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	if s.tree == nil {
		s.writeError(w, apperr.Internal("no tree"))
		return
	}
	respondJSON(w, http.StatusOK, s.tree.Describe())
}

// handleDispatch routes any other path through the tree.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if !s.hasScope(r, auth.ScopeForMethod(r.Method)) {
		s.writeError(w, apperr.Forbidden("insufficient scope for %s", r.Method))
		return
	}

	body, err := s.decodeBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx := log.IntoContext(r.Context(), s.logger)
	req := part.NewRequest(ctx, r.Method, chi.URLParam(r, "*"), r.URL.Query())
	req.Body = body

	if err := s.tree.Serve(req); err != nil {
		kind := string(apperr.KindOf(err))
		s.metrics.DispatchFailures.WithLabelValues(kind).Inc()
		if req.Aborted != "" && req.Target != nil {
			s.metrics.LifecycleCancels.WithLabelValues(req.Target.Resource, kind).Inc()
		}
		req.Logger.Debug("dispatch failed", "path", r.URL.Path, "trail", req.Trail, "error", err)
		s.writeError(w, err)
		return
	}

	if req.Target == nil {
		respondJSON(w, http.StatusOK, ActionResponse{RequestID: req.ID, Result: req.Result})
		return
	}
	status := http.StatusOK
	if req.Target.Operation == lifecycle.OpCreate {
		status = http.StatusCreated
	}
	resp := ResourceResponse{
		RequestID: req.ID,
		Operation: string(req.Target.Operation),
		Resource:  req.Target.Resource,
		ID:        req.Target.ID,
		Result:    req.Target.Result,
	}
	respondJSON(w, status, resp)
}

// decodeBody reads a JSON object body for writes. An absent body is nil.
func (s *Server) decodeBody(r *http.Request) (map[string]any, error) {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, apperr.UnprocessableEntity("request body exceeds %d bytes", tooBig.Limit)
		}
		return nil, apperr.BadRequest("read body: %v", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, apperr.UnprocessableEntity("body must be a JSON object: %v", err)
	}
	return body, nil
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := apperr.ToResponse(err)
	if resp.Code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	respondJSON(w, resp.Code, resp)
}
