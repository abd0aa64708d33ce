package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/kjannette/mse-backend/internal/analysis"
	"github.com/kjannette/mse-backend/internal/models"
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	code := stockCode(r)
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid stock code")
		return
	}

	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(-1, 0, 0)
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if !validateDate(v) {
			writeError(w, http.StatusBadRequest, "invalid from date, expected YYYY-MM-DD")
			return
		}
		from, _ = time.Parse(time.DateOnly, v)
	}
	if v := q.Get("to"); v != "" {
		if !validateDate(v) {
			writeError(w, http.StatusBadRequest, "invalid to date, expected YYYY-MM-DD")
			return
		}
		to, _ = time.Parse(time.DateOnly, v)
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	recs, err := s.deps.Trading.GetRange(r.Context(), code, from, to)
	if err != nil {
		s.internalError(w, "failed to fetch history", err)
		return
	}
	if recs == nil {
		recs = []models.TradingRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stockCode": code,
		"from":      from.Format(time.DateOnly),
		"to":        to.Format(time.DateOnly),
		"count":     len(recs),
		"records":   recs,
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	code := stockCode(r)
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid stock code")
		return
	}

	rec, err := s.deps.Trading.GetLatest(r.Context(), code)
	if err != nil {
		s.internalError(w, "failed to fetch latest record", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no data for "+code)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	code := stockCode(r)
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid stock code")
		return
	}

	res, err := s.deps.Technical.Analyze(r.Context(), code)
	if errors.Is(err, analysis.ErrNoData) {
		writeError(w, http.StatusNotFound, "no data for "+code)
		return
	}
	if err != nil {
		s.internalError(w, "failed to analyze", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	code := stockCode(r)
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid stock code")
		return
	}

	res, err := s.deps.Sentiment.Signal(code)
	if errors.Is(err, analysis.ErrNoData) {
		writeError(w, http.StatusNotFound, "no sentiment data for "+code)
		return
	}
	if err != nil {
		s.internalError(w, "failed to read sentiment", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
