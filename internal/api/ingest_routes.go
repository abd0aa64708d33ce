package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kjannette/mse-backend/internal/ingest"
	"github.com/kjannette/mse-backend/internal/models"
)

type ingestTradingRequest struct {
	Codes []string `json:"codes" validate:"omitempty,max=500,dive,required,alpha"`
}

type ingestResponse struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) handleIngestTrading(w http.ResponseWriter, r *http.Request) {
	var req ingestTradingRequest
	// an empty body means every listed company
	if err := s.decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Status: "error", Kind: models.RunKindTrading, Message: err.Error()})
		return
	}
	codes := make([]string, 0, len(req.Codes))
	for _, c := range req.Codes {
		codes = append(codes, strings.ToUpper(c))
	}

	run, err := s.deps.Ingest.StartTrading(codes)
	s.startIngest(w, models.RunKindTrading, run, err)
}

func (s *Server) handleIngestNews(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Ingest.StartNews()
	s.startIngest(w, models.RunKindNews, run, err)
}

// startIngest launches an already claimed run in the background. Runs take
// minutes, longer than the server's write timeout, so the response only
// acknowledges them; outcomes are read back from /v1/ingest/runs.
func (s *Server) startIngest(w http.ResponseWriter, kind string, run ingest.RunFunc, err error) {
	if errors.Is(err, ingest.ErrRunInProgress) {
		writeJSON(w, http.StatusConflict, ingestResponse{Status: "error", Kind: kind, Message: "a " + kind + " run is already in progress"})
		return
	}
	if err != nil {
		s.logger.Error("ingest start failed", zap.String("kind", kind), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ingestResponse{Status: "error", Kind: kind, Message: "failed to start " + kind + " ingest"})
		return
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		rec, err := run(s.bgCtx)
		if err != nil {
			s.logger.Error("ingest run failed", zap.String("kind", kind), zap.Error(err))
			return
		}
		s.logger.Info("ingest run finished", zap.String("kind", kind), zap.Stringer("id", rec.ID))
	}()

	writeJSON(w, http.StatusAccepted, ingestResponse{Status: "success", Kind: kind, Message: kind + " ingest started"})
}

func (s *Server) handleIngestRuns(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != models.RunKindTrading && kind != models.RunKindNews {
		writeError(w, http.StatusBadRequest, "kind must be trading or news")
		return
	}

	runs, err := s.deps.Runs.GetRecent(r.Context(), kind, parseLimit(r, 20))
	if err != nil {
		s.internalError(w, "failed to fetch ingest runs", err)
		return
	}
	if runs == nil {
		runs = []models.IngestRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
