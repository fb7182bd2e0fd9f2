package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/edubauerdev/wasync/internal/bus"
	"github.com/edubauerdev/wasync/internal/session"
	"github.com/edubauerdev/wasync/internal/workspace"
)

// HealthService is the gRPC health service name the daemon reports under.
const HealthService = "wasync.session"

// Server exposes the daemon over a per-session Unix domain socket. The
// standard gRPC health service doubles as the status surface: SERVING once
// the WhatsApp session is connected, NOT_SERVING otherwise.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the session's Unix domain socket.
func NewServer(p Params, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = workspace.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC server stopping")
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

// TrackStatus mirrors session state changes into the health service.
// Returns a stop function.
func (s *Server) TrackStatus(b *bus.Bus) func() {
	ch, unsubscribe := b.Subscribe(bus.KindSessionStatus, 16)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-quit:
				return
			case evt := <-ch:
				change, ok := evt.Payload.(session.StatusChange)
				if !ok {
					continue
				}
				if change.To == session.Connected {
					s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
				} else {
					s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
				}
			}
		}
	}()
	return func() {
		unsubscribe()
		close(quit)
	}
}
