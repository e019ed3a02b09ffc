package server

import (
	"testing"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "serreconnect/backend/internal/health/handler"
	identityhandler "serreconnect/backend/internal/identity/handler"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl any) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_AllServicesRegistered(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, Deps{Health: healthhandler.NewServer(healthhandler.NewChecker(time.Second, nil))})

	want := []string{identityhandler.AuthServiceName, healthpb.Health_ServiceDesc.ServiceName}
	if len(mockReg.services) != len(want) {
		t.Fatalf("registered %v, want %v", mockReg.services, want)
	}
	for i := range want {
		if mockReg.services[i] != want[i] {
			t.Errorf("service[%d] = %q, want %q", i, mockReg.services[i], want[i])
		}
	}
}

func TestRegisterServices_WithoutHealth(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, Deps{})
	if len(mockReg.services) != 1 {
		t.Errorf("registered %v, want only AuthService", mockReg.services)
	}
}

func TestPublicMethods(t *testing.T) {
	public := PublicMethods()
	if !public[identityhandler.MethodLogin] {
		t.Error("Login must be public")
	}
	if public[identityhandler.MethodLogout] || public[identityhandler.MethodWhoAmI] {
		t.Error("Logout and WhoAmI must require a token")
	}
}

func TestNewGRPCServer(t *testing.T) {
	s := NewGRPCServer(Deps{})
	defer s.Stop()
	info := s.GetServiceInfo()
	if _, ok := info[identityhandler.AuthServiceName]; !ok {
		t.Errorf("service info = %v, want AuthService", info)
	}
}
