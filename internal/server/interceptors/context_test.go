package interceptors

import (
	"context"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestGetRequestID(t *testing.T) {
	if _, ok := GetRequestID(context.Background()); ok {
		t.Error("GetRequestID on empty context should return false")
	}
	ctx := WithRequestID(context.Background(), "req-9")
	if got, ok := GetRequestID(ctx); !ok || got != "req-9" {
		t.Errorf("GetRequestID = %q, %v, want req-9, true", got, ok)
	}
}

func captureRequestID(t *testing.T, ctx context.Context) string {
	t.Helper()
	var seen string
	_, err := RequestIDUnary()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/a.B/C"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			seen, _ = GetRequestID(ctx)
			return nil, nil
		})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	return seen
}

func TestRequestIDUnary_ReusesIncoming(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDHeader, "abc-123"))
	if got := captureRequestID(t, ctx); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
}

func TestRequestIDUnary_GeneratesWhenMissingOrOversized(t *testing.T) {
	if got := captureRequestID(t, context.Background()); len(got) != 36 {
		t.Errorf("generated request id = %q, want a UUID", got)
	}
	long := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDHeader, strings.Repeat("x", 200)))
	if got := captureRequestID(t, long); len(got) != 36 {
		t.Errorf("oversized request id should be replaced, got %q", got)
	}
}
