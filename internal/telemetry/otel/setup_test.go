package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, Config{Endpoint: endpoint, ServiceName: "test-service"})
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Errorf("NewProviders(%q) returned nil provider: %+v", endpoint, providers)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown for empty endpoint: %v", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"://invalid", "http://[invalid", "http://"} {
		if _, err := NewProviders(context.Background(), Config{Endpoint: endpoint}); err == nil {
			t.Errorf("NewProviders(%q) should return error", endpoint)
		}
	}
}

func TestGrpcTarget(t *testing.T) {
	tests := []struct {
		endpoint     string
		override     bool
		wantTarget   string
		wantInsecure bool
	}{
		{"localhost:4317", false, "localhost:4317", true},
		{"http://collector:4317", false, "collector:4317", true},
		{"https://collector:4317", false, "collector:4317", false},
		{"https://collector:4317", true, "collector:4317", true},
		{"http://collector:4317/v1/traces", false, "collector:4317", true},
	}
	for _, tt := range tests {
		target, insecure, err := grpcTarget(tt.endpoint, tt.override)
		if err != nil {
			t.Fatalf("grpcTarget(%q): %v", tt.endpoint, err)
		}
		if target != tt.wantTarget {
			t.Errorf("grpcTarget(%q) target = %q, want %q", tt.endpoint, target, tt.wantTarget)
		}
		if insecure != tt.wantInsecure {
			t.Errorf("grpcTarget(%q, %v) insecure = %v, want %v", tt.endpoint, tt.override, insecure, tt.wantInsecure)
		}
	}
}

func TestSetGlobal_WithProviders(t *testing.T) {
	providers, err := NewProviders(context.Background(), Config{ServiceName: "test-service"})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	oldTP := otel.GetTracerProvider()
	oldMP := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	}()

	providers.SetGlobal()
	if otel.GetTracerProvider() != providers.TracerProvider {
		t.Error("TracerProvider should be set globally")
	}
	if otel.GetMeterProvider() != providers.MeterProvider {
		t.Error("MeterProvider should be set globally")
	}
}

func TestSetGlobal_NilProviders(t *testing.T) {
	p := &Providers{Shutdown: func(context.Context) error { return nil }}
	// Should not panic
	p.SetGlobal()
}
