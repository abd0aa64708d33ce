package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kjannette/mse-backend/internal/analysis"
	"github.com/kjannette/mse-backend/internal/ingest"
	"github.com/kjannette/mse-backend/internal/models"
)

const maxQueryLimit = 1000

var dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type Pinger interface {
	Ping(ctx context.Context) error
}

type TradingStore interface {
	GetRange(ctx context.Context, code string, from, to time.Time) ([]models.TradingRecord, error)
	GetLatest(ctx context.Context, code string) (*models.TradingRecord, error)
}

type NewsStore interface {
	GetByCompany(ctx context.Context, code string, limit int) ([]models.NewsDocument, error)
}

type RunStore interface {
	GetRecent(ctx context.Context, kind string, limit int) ([]models.IngestRun, error)
}

type CompanyLister interface {
	Companies(ctx context.Context) ([]string, error)
}

type LiquidSource interface {
	MostLiquid(ctx context.Context) ([]models.LiquidStock, error)
}

type WatermarkResolver interface {
	Resolve(ctx context.Context, codes []string) ([]models.Watermark, error)
}

type TechnicalAnalyzer interface {
	Analyze(ctx context.Context, code string) (*analysis.TechnicalResult, error)
}

type SentimentSource interface {
	Signal(code string) (*analysis.SentimentResult, error)
}

// Ingester claims a run slot synchronously; the returned run is executed
// in the background.
type Ingester interface {
	StartTrading(codes []string) (ingest.RunFunc, error)
	StartNews() (ingest.RunFunc, error)
}

type Authenticator interface {
	Register(ctx context.Context, email, name, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, *models.User, error)
	Validate(token string) (string, error)
}

// Deps are the collaborators behind the routes. Nil entries are allowed in
// tests that do not reach the corresponding handlers.
type Deps struct {
	DB         Pinger
	Cache      Pinger
	Trading    TradingStore
	News       NewsStore
	Runs       RunStore
	Companies  CompanyLister
	Liquid     LiquidSource
	Watermarks WatermarkResolver
	Technical  TechnicalAnalyzer
	Sentiment  SentimentSource
	Ingest     Ingester
	Auth       Authenticator
}

type Options struct {
	Port       int
	APIKey     string
	CORSOrigin string
}

type Server struct {
	deps       Deps
	apiKey     string
	validate   *validator.Validate
	logger     *zap.Logger
	httpServer *http.Server

	// background ingest runs outlive their request but not the server
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Server{
		deps:     deps,
		apiKey:   opts.APIKey,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("api"),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	mux := http.NewServeMux()

	// Auth routes (no API key required)
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	// Company routes
	mux.HandleFunc("GET /v1/companies", s.handleCompanies)
	mux.HandleFunc("GET /v1/companies/most-liquid", s.handleMostLiquid)

	// Stock routes
	mux.HandleFunc("GET /v1/stocks/{code}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/stocks/{code}/latest", s.handleLatest)
	mux.HandleFunc("GET /v1/stocks/{code}/analysis", s.handleAnalysis)
	mux.HandleFunc("GET /v1/stocks/{code}/sentiment", s.handleSentiment)
	mux.HandleFunc("GET /v1/watermarks", s.handleWatermarks)

	// News routes
	mux.HandleFunc("GET /v1/news/{code}", s.handleNews)

	// Ingest routes
	mux.HandleFunc("POST /v1/ingest/trading", s.handleIngestTrading)
	mux.HandleFunc("POST /v1/ingest/news", s.handleIngestNews)
	mux.HandleFunc("GET /v1/ingest/runs", s.handleIngestRuns)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	handler := s.authMiddleware(corsMiddleware(mux, opts.CORSOrigin))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the routed, wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info("REST API server started",
		zap.String("addr", "http://localhost"+s.httpServer.Addr),
		zap.String("health", "http://localhost"+s.httpServer.Addr+"/health"),
	)
	if s.apiKey != "" {
		s.logger.Info("authentication enabled (Bearer API key or session token)")
	} else {
		s.logger.Info("authentication disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, cancels background ingest runs and
// waits for them to record their outcome.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.bgCancel()

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("background ingest runs still active at shutdown")
	}
	return err
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, "/auth/") ||
			r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		if token == s.apiKey {
			next.ServeHTTP(w, r)
			return
		}
		if s.deps.Auth != nil {
			if _, err := s.deps.Auth.Validate(token); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "invalid API key")
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

func validateDate(date string) bool {
	if !dateRegexp.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// stockCode returns the upper-cased {code} path value, or "" if it is not
// purely alphabetic.
func stockCode(r *http.Request) string {
	code := strings.ToUpper(r.PathValue("code"))
	if code == "" {
		return ""
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return ""
		}
	}
	return code
}

// decodeBody reads a JSON body into dst and runs struct validation on it.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return s.validate.Struct(dst)
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}
