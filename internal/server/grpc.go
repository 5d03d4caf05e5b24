package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"CageKeeper/internal/core"
	"CageKeeper/internal/event"
	"CageKeeper/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the gRPC health service name of the keeper.
const HealthService = "cagekeeper.Keeper"

// StatusSource is implemented by core.Runner.
type StatusSource interface {
	Status() core.Status
}

// EventSource lists the audit envelopes recorded in this process.
type EventSource interface {
	Envelopes() []event.Envelope
}

// Deps holds what the status surface reads from.
type Deps struct {
	Status  StatusSource
	Events  EventSource // Optional
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Server is the keeper's status surface: a gRPC server carrying the health
// and reflection services, and an HTTP mux with the status endpoints.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	deps       Deps
}

func New(grpcAddr, httpAddr string, deps Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		deps:       deps,
	}
}

// Observe updates the gRPC health status from a runner status. Subscribe it
// to the runner.
func (s *Server) Observe(st core.Status) {
	if !st.Complete {
		return
	}
	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.deps.Logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.deps.Logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP status endpoints until ctx is cancelled.
func (s *Server) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.deps.Logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.deps.Logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler builds the HTTP mux: /v1/status, /v1/events, /healthz and /readyz.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	if err := mux.HandlePath(http.MethodGet, "/v1/status", s.getStatus); err != nil {
		return nil, fmt.Errorf("register status route: %w", err)
	}
	if err := mux.HandlePath(http.MethodGet, "/v1/events", s.listEvents); err != nil {
		return nil, fmt.Errorf("register events route: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.deps.Health != nil {
		httpMux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.Status == nil {
		s.respond(w, "status", http.StatusServiceUnavailable, map[string]string{"error": "keeper not started"})
		return
	}
	s.respond(w, "status", http.StatusOK, s.deps.Status.Status())
}

type eventsResponse struct {
	Events []event.Envelope `json:"events"`
}

// listEvents returns recorded envelopes, optionally narrowed by ?kind= and
// ?after=<sequence>.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp := eventsResponse{Events: []event.Envelope{}}
	if s.deps.Events == nil {
		s.respond(w, "events", http.StatusOK, resp)
		return
	}

	q := r.URL.Query()
	var after int64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respond(w, "events", http.StatusBadRequest, map[string]string{"error": "after must be a sequence number"})
			return
		}
		after = n
	}
	kind := q.Get("kind")

	for _, e := range s.deps.Events.Envelopes() {
		if e.Sequence <= after || (kind != "" && e.Kind != kind) {
			continue
		}
		resp.Events = append(resp.Events, e)
	}
	s.respond(w, "events", http.StatusOK, resp)
}

func (s *Server) respond(w http.ResponseWriter, endpoint string, status int, body interface{}) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
