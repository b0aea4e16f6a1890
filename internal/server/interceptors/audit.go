package interceptors

import (
	"context"
	"encoding/json"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"lab-access/backend/internal/audit"
)

type rpcAuditMetadata struct {
	RequestID  string `json:"request_id,omitempty"`
	StatusCode string `json:"status_code"`
}

// AuditUnary returns a unary server interceptor that records an audit log entry after each RPC.
// skipMethods is the set of full method names to not audit (e.g. health checks).
// Entries carry the system subject since the API is unauthenticated; the provisioning
// workflow records its own per-identifier entries. Best-effort: never fails the RPC.
func AuditUnary(logger audit.AuditLogger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if logger == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		ar := audit.ParseFullMethod(info.FullMethod)
		requestID, _ := GetRequestID(ctx)
		meta, _ := json.Marshal(rpcAuditMetadata{RequestID: requestID, StatusCode: status.Code(err).String()})
		logger.LogEvent(ctx, audit.SentinelSubject, "", "rpc_"+ar.Action, ar.Resource, string(meta))
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
