package httpapi

import "net/http"

// handlePerfLatency reports recent per-stage latency quantiles for the turn
// pipeline.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.Stages.Snapshot())
}
