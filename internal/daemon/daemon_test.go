package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/edubauerdev/wasync/internal/bus"
	"github.com/edubauerdev/wasync/internal/session"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	tmpDir, err := os.MkdirTemp("/tmp", "wasync-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	socketPath := filepath.Join(tmpDir, "d.sock")
	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Stop(context.Background()) })

	time.Sleep(50 * time.Millisecond)
	return srv, socketPath
}

func healthClient(t *testing.T, socketPath string) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestServerHealthOverSocket(t *testing.T) {
	_, socketPath := startServer(t)

	// Socket permissions must be owner-only.
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 0600", perm)
	}

	client := healthClient(t, socketPath)
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatalf("health check error = %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("initial status = %v, want NOT_SERVING before the session connects", resp.Status)
	}
}

func TestServerTracksSessionStatus(t *testing.T) {
	srv, socketPath := startServer(t)

	b := bus.New()
	stop := srv.TrackStatus(b)
	defer stop()

	client := healthClient(t, socketPath)

	b.Publish(bus.Event{
		Kind:      bus.KindSessionStatus,
		Timestamp: time.Now(),
		Payload:   session.StatusChange{From: session.Connecting, To: session.Connected},
	})

	waitForStatus(t, client, healthpb.HealthCheckResponse_SERVING)

	b.Publish(bus.Event{
		Kind:      bus.KindSessionStatus,
		Timestamp: time.Now(),
		Payload:   session.StatusChange{From: session.Connected, To: session.Disconnected},
	})

	waitForStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)
}

func waitForStatus(t *testing.T, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
		if err == nil && resp.Status == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("health status never reached %v", want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestServerRemovesStaleSocket(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "wasync-stale-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	if err := os.WriteFile(socketPath, []byte("stale"), 0600); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer with stale socket failed: %v", err)
	}
	srv.Stop(context.Background())

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file not removed on stop")
	}
}
