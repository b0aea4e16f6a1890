package interceptors

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"lab-access/backend/internal/telemetry"
	"lab-access/backend/internal/telemetry/domain"
)

// grpcRequestMetadata is the JSON shape stored in Event.Metadata for grpc_request events.
type grpcRequestMetadata struct {
	FullMethod string `json:"full_method"`
	StatusCode string `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
	RequestID  string `json:"request_id,omitempty"`
}

// TelemetryUnary returns a unary server interceptor that emits a telemetry event after each RPC.
// Best-effort: emits asynchronously and never fails the RPC. If emitter is nil, the interceptor no-ops.
// skipMethods is the set of full method names to not emit (e.g. health checks).
func TelemetryUnary(emitter telemetry.EventEmitter, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if emitter == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		requestID, _ := GetRequestID(ctx)
		metaJSON, _ := json.Marshal(grpcRequestMetadata{
			FullMethod: info.FullMethod,
			StatusCode: code.String(),
			DurationMs: time.Since(start).Milliseconds(),
			ClientIP:   ClientIP(ctx),
			RequestID:  requestID,
		})
		telemetry.EmitAsync(emitter, ctx, &domain.Event{
			EventType: "grpc_request",
			Source:    "grpc_interceptor",
			Outcome:   code.String(),
			Metadata:  metaJSON,
			CreatedAt: time.Now().UTC(),
		})
		return resp, err
	}
}
