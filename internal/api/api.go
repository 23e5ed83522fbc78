// Package api serves the control plane: health, metrics and read-only views of the flow table.
package api

import (
	"DeepTrace/internal/model"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FlowSource is the read-only view of the flow table the API exposes.
type FlowSource interface {
	Len() int
	Capacity() int
	Shards() int
	Snapshot(limit int) []model.FeatureRecord
}

// StatsResponse is returned by GET /api/v1/flows/stats.
type StatsResponse struct {
	ActiveFlows int `json:"active_flows"`
	Capacity    int `json:"capacity"`
	Shards      int `json:"shards"`
}

// FlowsResponse is returned by GET /api/v1/flows.
type FlowsResponse struct {
	Count int                   `json:"count"`
	Flows []model.FeatureRecord `json:"flows"`
}

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	flows FlowSource
}

// NewRouter wires every HTTP route.
func NewRouter(flows FlowSource) *mux.Router {
	h := &APIHandler{flows: flows}

	r := mux.NewRouter()
	r.HandleFunc("/__health", h.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/v1/flows/stats", h.statsHandler).Methods("GET")
	r.HandleFunc("/api/v1/flows", h.flowsHandler).Methods("GET")
	return r
}

func (h *APIHandler) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

func (h *APIHandler) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatsResponse{
		ActiveFlows: h.flows.Len(),
		Capacity:    h.flows.Capacity(),
		Shards:      h.flows.Shards(),
	})
}

// flowsHandler returns copies of live records without evicting them.
func (h *APIHandler) flowsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("invalid limit: %q", raw), http.StatusBadRequest)
			return
		}
		limit = n
	}

	flows := h.flows.Snapshot(limit)
	if flows == nil {
		flows = []model.FeatureRecord{}
	}
	writeJSON(w, FlowsResponse{Count: len(flows), Flows: flows})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonBytes)
}

// Server runs the HTTP API and the gRPC health service. Either listener is skipped
// when its address is empty.
type Server struct {
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	grpcAddr   string
	log        logrus.FieldLogger
}

// NewServer creates the control plane servers.
func NewServer(httpAddr, grpcAddr string, flows FlowSource, log logrus.FieldLogger) *Server {
	s := &Server{grpcAddr: grpcAddr, log: log}
	if httpAddr != "" {
		s.httpServer = &http.Server{
			Addr:              httpAddr,
			Handler:           NewRouter(flows),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	if grpcAddr != "" {
		s.health = health.NewServer()
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		s.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
	}
	return s
}

// Start opens the listeners and serves in the background.
func (s *Server) Start() error {
	if s.grpcServer != nil {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", s.grpcAddr, err)
		}
		s.grpcAddr = lis.Addr().String()
		go func() {
			s.log.Infof("gRPC health service starting on %s", s.grpcAddr)
			if err := s.grpcServer.Serve(lis); err != nil {
				s.log.WithError(err).Error("gRPC server stopped")
			}
		}()
	}

	if s.httpServer != nil {
		lis, err := net.Listen("tcp", s.httpServer.Addr)
		if err != nil {
			if s.grpcServer != nil {
				s.grpcServer.Stop()
			}
			return fmt.Errorf("could not listen on %s: %w", s.httpServer.Addr, err)
		}
		s.httpServer.Addr = lis.Addr().String()
		go func() {
			s.log.Infof("API server starting on %s", s.httpServer.Addr)
			if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.WithError(err).Error("API server stopped")
			}
		}()
	}
	return nil
}

// SetServing flips the gRPC health status.
func (s *Server) SetServing(serving bool) {
	if s.health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// HTTPAddr returns the bound HTTP address, empty when disabled.
func (s *Server) HTTPAddr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// GRPCAddr returns the bound gRPC address, empty when disabled.
func (s *Server) GRPCAddr() string {
	if s.grpcServer == nil {
		return ""
	}
	return s.grpcAddr
}

// Shutdown stops both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	return err
}
