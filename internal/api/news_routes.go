package api

import (
	"net/http"

	"github.com/kjannette/mse-backend/internal/models"
)

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	code := stockCode(r)
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid stock code")
		return
	}

	docs, err := s.deps.News.GetByCompany(r.Context(), code, parseLimit(r, 50))
	if err != nil {
		s.internalError(w, "failed to fetch news", err)
		return
	}
	if docs == nil {
		docs = []models.NewsDocument{}
	}
	writeJSON(w, http.StatusOK, docs)
}
