package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"ghreward/core"
	"ghreward/indexer"
	"ghreward/observability"
)

// ClaimIndex serves reward_listClaims.
type ClaimIndex interface {
	ListClaims(ctx context.Context, repository string, issueID *uint64) ([]indexer.Claim, error)
}

// ServerConfig tunes the JSON-RPC server.
type ServerConfig struct {
	// AuthToken guards ghr_sendTransaction. Submission is refused when empty.
	AuthToken         string
	TrustProxyHeaders bool
	// TxPerMinute and TxBurst bound transaction submissions per client.
	TxPerMinute float64
	TxBurst     int
	// WSOriginPatterns is passed to the websocket handshake.
	WSOriginPatterns []string
}

type metricsRecorder interface {
	Observe(module, method string, status int, duration time.Duration)
	RecordThrottle(module, reason string)
}

type Server struct {
	node    *core.Node
	claims  ClaimIndex
	cfg     ServerConfig
	logger  *slog.Logger
	metrics metricsRecorder
	hub     *EventHub

	mu       sync.Mutex
	txSeen   map[string]time.Time
	limiters map[string]*rate.Limiter

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(node *core.Node, claims ClaimIndex, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TxPerMinute <= 0 {
		cfg.TxPerMinute = 60
	}
	if cfg.TxBurst <= 0 {
		cfg.TxBurst = 10
	}
	s := &Server{
		node:     node,
		claims:   claims,
		cfg:      cfg,
		logger:   logger.With("component", "rpc"),
		metrics:  observability.ModuleMetrics(),
		hub:      NewEventHub(),
		txSeen:   make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
	}
	if node != nil {
		node.Subscribe(s.hub)
	}
	return s
}

// Events exposes the hub feeding /ws/events.
func (s *Server) Events() *EventHub { return s.hub }

// Handler returns the HTTP surface of the node.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.node == nil {
			http.Error(w, "node unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "ghreward-rpc")
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	if l == nil {
		return fmt.Errorf("rpc: nil listener")
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("JSON-RPC server listening", "addr", l.Addr().String())
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	s.hub.Close()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.TxPerMinute/60.0), s.cfg.TxBurst)
		s.limiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}
