package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker pings every registered dependency with a bounded timeout. Safe for concurrent use.
type Checker struct {
	pingers map[string]Pinger
	timeout time.Duration
}

// NewChecker returns a Checker over pingers (name -> pinger). Nil pingers are ignored.
func NewChecker(timeout time.Duration, pingers map[string]Pinger) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	m := make(map[string]Pinger, len(pingers))
	for name, p := range pingers {
		if p != nil {
			m[name] = p
		}
	}
	return &Checker{pingers: m, timeout: timeout}
}

// Check pings all dependencies in name order and returns the joined failures, or nil when all are up.
func (c *Checker) Check(ctx context.Context) error {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.pingers))
	for name := range c.pingers {
		names = append(names, name)
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.pingers[name].Ping(pingCtx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Server implements grpc.health.v1.Health. Readiness of "" and of each name in services is
// decided by the Checker.
type Server struct {
	healthpb.UnimplementedHealthServer
	checker  *Checker
	services map[string]bool
}

// NewServer returns a health server. services lists the service names clients may query besides "".
func NewServer(checker *Checker, services ...string) *Server {
	known := map[string]bool{"": true}
	for _, s := range services {
		known[s] = true
	}
	return &Server{checker: checker, services: known}
}

// Check returns SERVING when every dependency answers its ping, NOT_SERVING otherwise.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if !s.services[req.GetService()] {
		return nil, status.Error(codes.NotFound, "unknown service")
	}
	if err := s.checker.Check(ctx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
