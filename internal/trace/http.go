package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"
)

// Middleware continues the caller's trace from request headers, echoes the
// trace id in the response, and logs each request once it completes.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := FromMap(map[string]string{
			TraceIDKey: r.Header.Get(TraceIDKey),
			SpanIDKey:  r.Header.Get(SpanIDKey),
		})
		ctx := WithContext(r.Context(), tc)
		w.Header().Set(TraceIDKey, tc.TraceID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		Logger(ctx).Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("trace: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// ExtractFromJSON continues a trace named by a message's trace_id field.
func ExtractFromJSON(data []byte) (Context, bool) {
	var msg struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.TraceID == "" {
		return New(), false
	}
	return FromMap(map[string]string{TraceIDKey: msg.TraceID}), true
}
