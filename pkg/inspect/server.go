// Package inspect serves an HTTP view of a query.Client: health, Prometheus metrics,
// the registered keys, and a hook to broadcast invalidations.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"

	"github.com/illmade-knight/go-query/pkg/query"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds configuration for the inspector.
type Config struct {
	HTTPPort string `yaml:"http_port"`
}

// Server exposes a query.Client over HTTP.
type Server struct {
	logger     zerolog.Logger
	client     *query.Client
	httpPort   string
	httpServer *http.Server
	mux        *http.ServeMux
	actualAddr string
	mu         sync.RWMutex
}

// NewServer creates a Server for client. A blank port listens on any free port.
func NewServer(cfg *Config, client *query.Client, logger zerolog.Logger) (*Server, error) {
	if client == nil {
		return nil, fmt.Errorf("query client cannot be nil")
	}
	port := cfg.HTTPPort
	if port == "" {
		port = ":0"
	}

	s := &Server{
		logger:   logger.With().Str("component", "InspectServer").Logger(),
		client:   client,
		httpPort: port,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/healthz", HealthzHandler)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/queries", s.handleQueries)
	s.mux.HandleFunc("/invalidate", s.handleInvalidate)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.mux,
	}
	return s, nil
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.httpPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info().Str("address", s.actualAddr).Msg("Inspect server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Inspect server failed")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server, respecting the context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down inspect server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error during inspect server shutdown.")
		return err
	}
	s.logger.Info().Msg("Inspect server stopped.")
	return nil
}

// GetHTTPPort returns the port the server is listening on, e.g. ":41234".
func (s *Server) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.httpPort
	}
	return ":" + port
}

// Mux returns the underlying ServeMux so callers can add routes.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// QueryInfo describes one registered key.
type QueryInfo struct {
	Key  []any  `json:"key"`
	Hash string `json:"hash"`
}

// InvalidateRequest is the body of POST /invalidate. A missing or null key
// invalidates every registered query; an empty array is the empty key.
type InvalidateRequest struct {
	Key []any `json:"key"`
}

// InvalidateResponse reports how many query deliveries the broadcast reached. With
// every registered key invalidated, a query matched by several keys counts once per key.
type InvalidateResponse struct {
	Invalidated int `json:"invalidated"`
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	keys := s.client.Keys()
	out := make([]QueryInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, QueryInfo{Key: k.Segments(), Hash: k.Hash()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn().Err(err).Msg("Rejected malformed invalidate request.")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Key == nil {
		n := s.client.InvalidateQueries()
		writeJSON(w, http.StatusOK, InvalidateResponse{Invalidated: n})
		return
	}

	key := keyFromJSON(req.Key)
	n := s.client.InvalidateQuery(key)
	s.logger.Info().Str("query_key", key.String()).Int("matched", n).Msg("Invalidation requested over HTTP.")
	writeJSON(w, http.StatusOK, InvalidateResponse{Invalidated: n})
}

// maxExactInt is the largest integer a JSON number decoded as float64 holds exactly.
const maxExactInt = 1 << 53

// keyFromJSON turns decoded JSON segments into a Key. Integral numbers become int64 so
// they match keys built with NewKey("users", 42) whatever the integer type.
func keyFromJSON(segments []any) query.Key {
	out := make([]any, len(segments))
	for i, seg := range segments {
		if f, ok := seg.(float64); ok && f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
			out[i] = int64(f)
			continue
		}
		out[i] = seg
	}
	return query.NewKey(out...)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
