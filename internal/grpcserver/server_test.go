package grpcserver

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GriffinCanCode/boostmeter/internal/trace"
)

type mockChecker struct {
	healthy atomic.Bool
	window  atomic.Int64
}

func (m *mockChecker) Healthy(window time.Duration) bool {
	m.window.Store(int64(window))
	return m.healthy.Load()
}

func startServer(t *testing.T, checker Checker) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := New(checker, 3*time.Second)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthFollowsChecker(t *testing.T) {
	checker := &mockChecker{}
	s, client := startServer(t, checker)

	for _, svc := range []string{"", ServiceName} {
		if got := check(t, client, svc); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Errorf("initial %q = %v, want NOT_SERVING", svc, got)
		}
	}

	checker.healthy.Store(true)
	if got := s.Update(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Update = %v, want SERVING", got)
	}
	if got := check(t, client, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after update = %v, want SERVING", got)
	}
	if time.Duration(checker.window.Load()) != 3*time.Second {
		t.Errorf("checker window = %v, want 3s", time.Duration(checker.window.Load()))
	}

	checker.healthy.Store(false)
	s.Update()
	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after losing the meter = %v, want NOT_SERVING", got)
	}
}

func TestHealthUnknownService(t *testing.T) {
	_, client := startServer(t, &mockChecker{})

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("unknown service code = %v, want NotFound", status.Code(err))
	}
}

func TestRunStopsWithContext(t *testing.T) {
	checker := &mockChecker{}
	checker.healthy.Store(true)
	s, client := startServer(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for check(t, client, "") != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("Run should apply the checker status")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
