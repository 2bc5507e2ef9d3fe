package grpcx

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type ctxKey string

const (
	mdRequestID            = "x-request-id"
	ctxKeyRequestID ctxKey = "req_id"
)

const (
	defaultCallGuard  = 10 * time.Second
	maxLoggedBodySize = 2048
)

// Unary recovery + timeout guard (если у вызова нет deadline)
func recoveryUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultCallGuard)
			defer cancel()
		}

		defer func() {
			if r := recover(); r != nil {
				slog.Error("grpc unary panic",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

func requestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		var reqID string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(mdRequestID); len(vals) > 0 {
				reqID = vals[0]
			}
		}
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx = context.WithValue(ctx, ctxKeyRequestID, reqID)
		_ = grpc.SetHeader(ctx, metadata.Pairs(mdRequestID, reqID))

		return handler(ctx, req)
	}
}

func loggingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		reqID, _ := RequestIDFromContext(ctx)

		resp, err = handler(ctx, req)

		fields := []any{
			"req_id", reqID,
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
			"req", clip(marshalRedacted(req), maxLoggedBodySize),
		}
		if err != nil {
			fields = append(fields, slog.Any("err", err))
			slog.Error("grpc unary", fields...)
		} else {
			slog.Debug("grpc unary", fields...)
		}
		return resp, err
	}
}

func streamRecoveryInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		start := time.Now()

		defer func() {
			if r := recover(); r != nil {
				slog.Error("grpc stream panic",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
			slog.Debug("grpc stream",
				"method", info.FullMethod,
				"dur_ms", time.Since(start).Milliseconds(),
				"err", errString(err))
		}()

		return handler(srv, ss)
	}
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyRequestID).(string)
	return v, ok
}

var redactedKeys = map[string]struct{}{
	"token":         {},
	"access_token":  {},
	"authorization": {},
	"jwt":           {},
	"message":       {}, // текст чата в логи не пишем
}

// marshalRedacted JSON с редактированием чувствительных полей
func marshalRedacted(v any) string {
	if v == nil {
		return ""
	}

	if m, ok := v.(proto.Message); ok {
		b, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(m)
		if err == nil {
			return redactJSONBytes(b)
		}
	}

	if b, err := json.Marshal(v); err == nil {
		return redactJSONBytes(b)
	}

	return "<unmarshallable>"
}

func redactJSONBytes(b []byte) string {
	var data any
	if err := json.Unmarshal(b, &data); err != nil {
		return string(b)
	}
	redactWalk(&data)
	out, err := json.Marshal(data)
	if err != nil {
		return string(b)
	}

	return string(out)
}

func redactWalk(v *any) {
	switch t := (*v).(type) {
	case map[string]any:
		for k, val := range t {
			if _, hit := redactedKeys[strings.ToLower(k)]; hit {
				t[k] = "***REDACTED***"
				continue
			}
			redactWalk(&val)
			t[k] = val
		}
	case []any:
		for i := range t {
			redactWalk(&t[i])
		}
	}
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}

	return s[:n] + "...(truncated)"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
