package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"lucro/internal/core"
	"lucro/internal/log"
	"lucro/internal/middleware/ratelimit"
	"lucro/internal/middleware/security"
	"lucro/internal/middleware/trace"
)

// Ingester persists one ingestion batch and schedules its categorization.
type Ingester interface {
	Ingest(ctx context.Context, accounts []core.Account, txns []core.Transaction) (core.BatchResult, error)
}

// Reporter answers the read side of the API.
type Reporter interface {
	Summarize(ctx context.Context, accountID, startDate, endDate string) (core.AccountSummary, error)
	BatchProgress(ctx context.Context, batchID string) (core.BatchProgress, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// ServerConfig holds the tunables of the API server.
type ServerConfig struct {
	Addr               string
	RateLimitPerMinute int
	MaxBodyBytes       int64
	ReadinessChecks    map[string]ReadinessCheck
	Logger             *log.Logger
}

const (
	defaultMaxBodyBytes = 10 << 20
	readinessTimeout    = 2 * time.Second
)

type Server struct {
	http.Server
	ingester     Ingester
	reporter     Reporter
	checks       map[string]ReadinessCheck
	maxBodyBytes int64
	logger       *log.Logger

	ipResolver  *security.IPResolver
	rateLimiter *ratelimit.Limiter
	tracer      *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(cfg ServerConfig, ingester Ingester, reporter Reporter) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		ingester:     ingester,
		reporter:     reporter,
		checks:       cfg.ReadinessChecks,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       logger.WithComponent(log.ComponentHTTP),
		ipResolver:   security.NewIPResolver(),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
		}),
	}
	s.tracer = trace.NewMiddleware(s.ipResolver.ClientIP, logger)

	limited := s.rateLimiter.Middleware(s.ipResolver.ClientIP, s.onRateLimited)

	mux := http.NewServeMux()
	ingest := limited(http.HandlerFunc(s.handleIngest))
	mux.Handle("POST /integrations/transactions/{$}", ingest)
	mux.Handle("POST /integrations/transactions", ingest)
	mux.HandleFunc("GET /integrations/batches/{batch_id}/{$}", s.handleBatch)
	mux.HandleFunc("GET /integrations/batches/{batch_id}", s.handleBatch)
	mux.HandleFunc("GET /reports/account/{account_id}/summary/{$}", s.handleSummary)
	mux.HandleFunc("GET /reports/account/{account_id}/summary", s.handleSummary)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	var handler http.Handler = mux
	handler = log.Middleware(s.logger, trace.GetRequestID)(handler)
	handler = s.tracer.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	return s
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.ipResolver.ClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.").Write(w)
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	// Ensure shutdown logic runs only once
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
