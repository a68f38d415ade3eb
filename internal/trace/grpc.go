// Package trace - gRPC interceptors for trace propagation.
package trace

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryClientInterceptor injects trace context into outgoing gRPC calls.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = injectMetadata(ctx)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerInterceptor extracts trace context from incoming calls and logs them.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extractMetadata(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor extracts trace context for streaming calls.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := extractMetadata(ss.Context())
		start := time.Now()
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		logCall(ctx, info.FullMethod, start, err)
		return err
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

func logCall(ctx context.Context, method string, start time.Time, err error) {
	log := Logger(ctx).With("method", method, "duration", time.Since(start))
	if err != nil {
		log.Warn("grpc call failed", "code", status.Code(err).String(), "error", err)
		return
	}
	log.Debug("grpc call")
}

// injectMetadata adds trace context to outgoing gRPC metadata.
func injectMetadata(ctx context.Context) context.Context {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
		ctx = WithContext(ctx, tc)
	}

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.New(nil)
	} else {
		md = md.Copy()
	}

	for k, v := range tc.ToMap() {
		md.Set(k, v)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// extractMetadata starts a server span under the caller's trace, or a new trace.
func extractMetadata(ctx context.Context) context.Context {
	md, _ := metadata.FromIncomingContext(ctx)
	m := make(map[string]string, 2)
	for _, key := range []string{TraceIDKey, SpanIDKey} {
		if v := md.Get(key); len(v) > 0 {
			m[key] = v[0]
		}
	}
	return WithContext(ctx, FromMap(m))
}
