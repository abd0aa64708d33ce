package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	codes, err := s.deps.Companies.Companies(r.Context())
	if err != nil {
		s.logger.Error("company list unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "company list unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(codes),
		"companies": codes,
	})
}

func (s *Server) handleMostLiquid(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.deps.Liquid.MostLiquid(r.Context())
	if err != nil {
		s.logger.Error("most liquid stocks unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "most liquid stocks unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stocks)
}

// handleWatermarks resolves the next fetch date for ?codes=A,B or, without
// codes, for every valid company.
func (s *Server) handleWatermarks(w http.ResponseWriter, r *http.Request) {
	var codes []string
	for _, c := range strings.Split(r.URL.Query().Get("codes"), ",") {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			codes = append(codes, c)
		}
	}
	if len(codes) == 0 {
		all, err := s.deps.Companies.Companies(r.Context())
		if err != nil {
			s.logger.Error("company list unavailable", zap.Error(err))
			writeError(w, http.StatusBadGateway, "company list unavailable")
			return
		}
		codes = all
	}

	wms, err := s.deps.Watermarks.Resolve(r.Context(), codes)
	if err != nil {
		s.internalError(w, "failed to resolve watermarks", err)
		return
	}
	writeJSON(w, http.StatusOK, wms)
}
