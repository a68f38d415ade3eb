package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
	"github.com/GriffinCanCode/boostmeter/internal/gauge"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator"
	"github.com/GriffinCanCode/boostmeter/internal/screen"
	"github.com/GriffinCanCode/boostmeter/internal/trace"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type ToggleMessage struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
	TraceID string `json:"trace_id,omitempty"`
}

type PongMessage struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type StatusMessage struct {
	Type      string `json:"type"`
	Capturing bool   `json:"capturing"`
	Alerts    bool   `json:"alerts"`
}

type BoundsResponse struct {
	Box   gauge.Box `json:"box"`
	Found bool      `json:"found"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	mgr        *orchestrator.Manager
	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
	done       chan struct{}
	closeOnce  sync.Once
}

// New creates a new server and starts broadcasting manager events.
func New(mgr *orchestrator.Manager) *Server {
	s := &Server{
		mgr:        mgr,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
		done:       make(chan struct{}),
	}
	go s.broadcastEvents()
	return s
}

// Close stops the broadcaster.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/reading", s.handleReading)
	mux.HandleFunc("GET /api/bounds", s.handleBounds)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/frame", s.handleFrame)
	mux.HandleFunc("GET /api/peak", s.handlePeak)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/capture/start", s.handleCaptureStart)
	mux.HandleFunc("POST /api/capture/stop", s.handleCaptureStop)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)

	// CORS outermost so preflights skip tracing
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "ping":
			_ = wsjson.Write(baseCtx, conn, PongMessage{Type: "pong", At: time.Now()})
		case "capture", "alerts":
			var toggle ToggleMessage
			if err := json.Unmarshal(msg, &toggle); err != nil {
				continue
			}
			ctx := baseCtx
			if tc, ok := trace.ExtractFromJSON(msg); ok {
				ctx = trace.WithContext(ctx, tc)
			}
			s.handleToggle(ctx, conn, toggle)
		}
	}
}

func (s *Server) handleToggle(ctx context.Context, conn *websocket.Conn, msg ToggleMessage) {
	ctx, span := trace.StartSpan(ctx, "handle_toggle")
	defer span.End()
	span.SetAttr("type", msg.Type)
	span.SetAttr("enabled", msg.Enabled)

	if msg.Type == "alerts" {
		s.mgr.SetAlerts(msg.Enabled)
	} else if err := s.mgr.SetCapturing(msg.Enabled); err != nil {
		span.SetError(err)
		trace.Logger(ctx).Warn("toggle capture failed", "error", err)
		_ = wsjson.Write(ctx, conn, ErrorMessage{
			Type:    "error",
			Code:    apperrors.CodeOf(err).String(),
			Message: err.Error(),
		})
	}
	_ = wsjson.Write(ctx, conn, StatusMessage{
		Type:      "status",
		Capturing: s.mgr.Capturing(),
		Alerts:    s.mgr.AlertsEnabled(),
	})
}

func (s *Server) broadcastEvents() {
	for {
		select {
		case <-s.done:
			return
		case evt := <-s.mgr.Events():
			s.mu.RLock()
			for conn := range s.conns {
				go func(c *websocket.Conn) {
					ctx, cancel := context.WithTimeout(context.Background(), BroadcastWriteTimeout)
					defer cancel()
					_ = wsjson.Write(ctx, c, evt)
				}(conn)
			}
			s.mu.RUnlock()
		}
	}
}

func (s *Server) handleReading(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Latest())
}

func (s *Server) handleBounds(w http.ResponseWriter, r *http.Request) {
	box, found := s.mgr.Bounds()
	writeJSON(w, http.StatusOK, BoundsResponse{Box: box, Found: found})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Stats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", DefaultHistoryLimit)
	if err != nil || limit <= 0 {
		writeError(w, r, apperrors.New(apperrors.InvalidArgument, "limit must be a positive integer"))
		return
	}
	limit = min(limit, MaxHistoryLimit)

	records, err := s.mgr.History(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "snapshot")
	defer span.End()

	width, err := queryInt(r, "width", 0)
	if err != nil || width < 0 {
		writeError(w, r, apperrors.New(apperrors.InvalidArgument, "width must be a non-negative integer"))
		return
	}
	mirror := r.URL.Query().Get("mirror")
	flip, err := strconv.ParseBool(mirror)
	if mirror != "" && err != nil {
		writeError(w, r, apperrors.New(apperrors.InvalidArgument, "mirror must be a boolean"))
		return
	}
	f, err := s.mgr.Snapshot()
	if err != nil {
		writeError(w, r, err)
		return
	}

	var img image.Image = f.Image()
	if flip {
		img = mirrorImage(img)
	}
	img = scaleToWidth(img, width)
	span.SetAttr("width", img.Bounds().Dx())
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		trace.Logger(ctx).Warn("snapshot encode failed", "error", err)
	}
}

// scaleToWidth shrinks img to width, keeping its aspect ratio. A zero width or
// one not smaller than the image returns img unchanged.
func scaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || width >= b.Dx() {
		return img
	}
	height := max(1, b.Dy()*width/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// mirrorImage flips img left to right, as a game in mirror mode draws its HUD.
func mirrorImage(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	m := f64.Aff3{-1, 0, float64(b.Max.X), 0, 1, float64(-b.Min.Y)}
	draw.NearestNeighbor.Transform(dst, m, img, b, draw.Src, nil)
	return dst
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	buf, width, height, err := s.mgr.RawFrame()
	if err != nil {
		writeError(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(len(buf)))
	h.Set("X-Frame-Width", strconv.Itoa(width))
	h.Set("X-Frame-Height", strconv.Itoa(height))
	h.Set("X-Frame-Format", "rgba")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf)
}

func (s *Server) handlePeak(w http.ResponseWriter, r *http.Request) {
	window := DefaultPeakWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, r, apperrors.Newf(apperrors.InvalidArgument, "window must be a positive duration, got %q", v))
			return
		}
		window = d
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window": window.String(),
		"levels": s.mgr.Peak(window),
	})
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.StartCapture(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "capture_started"})
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.StopCapture(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "capture_stopped"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	f, err := screen.DecodeFrameLimited(body, MaxUploadPixels)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apperrors.Newf(apperrors.InvalidArgument, "image larger than %d bytes", MaxUploadBytes)
		}
		writeError(w, r, err)
		return
	}
	reading, err := s.mgr.Analyze(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorMessage{Type: "error", Code: code.String(), Message: err.Error()})
}

func httpStatus(code apperrors.Code) int {
	switch code {
	case apperrors.InvalidArgument, apperrors.FrameInvalid, apperrors.ScaleInvalid:
		return http.StatusBadRequest
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.FailedPrecondition:
		return http.StatusConflict
	case apperrors.Timeout:
		return http.StatusGatewayTimeout
	case apperrors.Unavailable, apperrors.CaptureUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
