package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RecoveryInterceptor turns handler panics into INTERNAL errors.
func RecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var resp any
		var err error
		recovered := panics.Try(func() {
			resp, err = handler(ctx, req)
		})
		if recovered != nil {
			logger.ErrorContext(ctx, "panic in grpc handler",
				slog.String("method", info.FullMethod),
				slog.Any("panic", recovered.Value),
				slog.String("stack", string(recovered.Stack)))
			return nil, status.Error(codes.Internal, "internal error")
		}
		return resp, err
	}
}

// LoggingInterceptor logs one record per call: info on success, warn on
// client errors, error on server errors.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		level := slog.LevelInfo
		switch code {
		case codes.OK:
		case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
			level = slog.LevelError
		default:
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", status.Convert(err).Message()))
		}
		logger.LogAttrs(ctx, level, "grpc call", attrs...)
		return resp, err
	}
}
