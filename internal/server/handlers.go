package server

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Strategies int               `json:"strategies"`
	Databases  map[string]string `json:"databases,omitempty"`
}

// handleHealth reports healthy when every database answers its integrity
// check, degraded with 503 otherwise
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Service: "bridgebot"}
	if s.cfg.Strategies != nil {
		resp.Strategies = len(s.cfg.Strategies.List)
	}

	status := http.StatusOK
	if len(s.cfg.Databases) > 0 {
		resp.Databases = make(map[string]string, len(s.cfg.Databases))
	}
	for _, db := range s.cfg.Databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			resp.Databases[db.Name()] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Databases[db.Name()] = "ok"
	}

	s.writeJSON(w, status, resp)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
