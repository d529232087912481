package monitor

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/holotrack/internal/monitoring"
)

// TrackingService is the gRPC health service name that reports SERVING
// while a peer session is live.
const TrackingService = "holotrack.Tracking"

// HealthService serves the standard gRPC health protocol.
type HealthService struct {
	server *grpc.Server
	health *health.Server

	mu  sync.Mutex
	lis net.Listener
	wg  sync.WaitGroup
}

func NewHealthService() *HealthService {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(TrackingService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthService{server: srv, health: hs}
}

// Start listens on addr and serves in the background.
func (h *HealthService) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	h.mu.Lock()
	h.lis = lis
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		monitoring.Tagf("monitor", "gRPC health listening on %s", lis.Addr())
		if err := h.server.Serve(lis); err != nil {
			monitoring.Tagf("monitor", "gRPC server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (h *HealthService) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lis == nil {
		return ""
	}
	return h.lis.Addr().String()
}

// SetSessionLive updates the tracking service status.
func (h *HealthService) SetSessionLive(live bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if live {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(TrackingService, status)
}

// Stop marks every service NOT_SERVING and stops the server.
func (h *HealthService) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
	h.wg.Wait()
}
