package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/switchyard/internal/gateway"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Outstanding:   s.gateway.Outstanding(),
		QueueDepths:   s.gateway.Depths(),
		Routes:        len(s.gateway.Routes()),
	})
}

// handleRoutes handles GET /routes.
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RoutesResponse{Routes: s.gateway.Routes()})
}

// handleService hands a request under the base URI to the gateway and waits
// for its single write-back.
func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	hw := newHTTPWriter()
	s.gateway.Handle(&gateway.Request{
		ID:         middleware.GetReqID(r.Context()),
		Verb:       r.Method,
		URI:        r.URL.Path,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		Writer:     hw,
	})

	timer := time.NewTimer(s.config.RequestTimeout)
	defer timer.Stop()

	select {
	case <-hw.done:
		hw.flushTo(w)
	case <-r.Context().Done():
		s.logger.Debug("client went away before the response", "path", r.URL.Path)
	case <-timer.C:
		s.writeError(w, http.StatusGatewayTimeout, "no response from gateway")
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
