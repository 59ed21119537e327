package grpcx

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cwrk-planet/command-relay/pkg/logger"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	mdRequestID = "x-request-id"

	// дефолтный guard, если у вызова нет deadline
	defaultDeadline = 10 * time.Second
)

// Unary logging + recovery + timeout guard
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultDeadline)
			defer cancel()
		}
		ctx, l := withRequestLogger(ctx, info.FullMethod)

		defer func() {
			if r := recover(); r != nil {
				l.Error("grpc unary panic",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				err = status.Error(codes.Internal, "internal server error")
			}
			logCall(ctx, l, "grpc unary", start, err)
		}()

		return handler(ctx, req)
	}
}

func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		start := time.Now()
		ctx, l := withRequestLogger(ss.Context(), info.FullMethod)

		defer func() {
			if r := recover(); r != nil {
				l.Error("grpc stream panic",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				err = status.Error(codes.Internal, "internal server error")
			}
			logCall(ctx, l, "grpc stream", start, err)
		}()

		return handler(srv, &ctxStream{ServerStream: ss, ctx: ctx})
	}
}

func withRequestLogger(ctx context.Context, method string) (context.Context, *slog.Logger) {
	var reqID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(mdRequestID); len(vals) > 0 {
			reqID = vals[0]
		}
	}
	if reqID == "" {
		reqID = uuid.NewString()
	}
	l := logger.L().With(slog.String("req_id", reqID), slog.String("method", method))
	return logger.IntoContext(ctx, l), l
}

func logCall(ctx context.Context, l *slog.Logger, msg string, start time.Time, err error) {
	code := status.Code(err)
	level := slog.LevelInfo
	switch code {
	case codes.OK, codes.NotFound, codes.InvalidArgument, codes.ResourceExhausted, codes.Canceled:
	default:
		level = slog.LevelError
	}
	l.LogAttrs(ctx, level, msg,
		slog.String("code", code.String()),
		slog.Duration("duration", time.Since(start)),
	)
}

type ctxStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *ctxStream) Context() context.Context { return s.ctx }
