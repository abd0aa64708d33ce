package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if s.deps.DB == nil || s.deps.DB.Ping(r.Context()) != nil {
		dbStatus = "disconnected"
	}

	cacheStatus := "not configured"
	if s.deps.Cache != nil {
		cacheStatus = "connected"
		if err := s.deps.Cache.Ping(r.Context()); err != nil {
			s.logger.Warn("company cache unreachable", zap.Error(err))
			cacheStatus = "disconnected"
		}
	}

	// the company cache degrades to refetching, so only the database
	// decides the overall status
	status := "ok"
	if dbStatus != "connected" {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus, Cache: cacheStatus},
	})
}
