package interceptors

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor that logs one entry per RPC.
// Server-side failures log at warn; everything else at debug, skipMethods excluded.
func LoggingUnary(log logrus.FieldLogger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		requestID, _ := GetRequestID(ctx)
		entry := log.WithFields(logrus.Fields{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  requestID,
			"client_ip":   ClientIP(ctx),
		})
		switch code {
		case codes.Internal, codes.Unavailable, codes.Unknown, codes.DataLoss:
			entry.WithError(err).Warn("grpc: request failed")
		default:
			entry.Debug("grpc: request handled")
		}
		return resp, err
	}
}
