package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/boostmeter/internal/config"
	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
	"github.com/GriffinCanCode/boostmeter/internal/gauge"
	historydb "github.com/GriffinCanCode/boostmeter/internal/history"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator/meter"
)

type mockCapturer struct {
	frame gauge.Frame
}

func (m *mockCapturer) Capture(context.Context) (gauge.Frame, bool, error) {
	return m.frame, true, nil
}

// meterFrame draws a meter at (250,160)-(350,271) filled to 60/111.
func meterFrame() gauge.Frame {
	const w, h = 400, 300
	f := gauge.Frame{Pix: make([]byte, w*h*4), Width: w, Height: h}
	for i := 3; i < len(f.Pix); i += 4 {
		f.Pix[i] = 0xFF
	}
	for y := 160; y <= 271; y++ {
		c := gauge.FilledColor
		if y <= 210 {
			c = gauge.EmptyColor
		}
		for x := 250; x <= 350; x++ {
			i := (y*w + x) * 4
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.R, c.G, c.B
		}
	}
	return f
}

func newTestServer(t *testing.T, start bool) (*Server, *orchestrator.Manager) {
	t.Helper()
	cfg := &config.Config{
		CaptureRate:     200,
		UIScale:         1,
		MaxHashDistance: -1,
		StopTimeout:     time.Second,
		TimelineSize:    50,
		AlertThreshold:  1,
	}
	mgr := orchestrator.New(cfg, orchestrator.Deps{Capturer: &mockCapturer{frame: meterFrame()}})
	if start {
		ctx, cancel := context.WithCancel(context.Background())
		if err := mgr.Start(ctx); err != nil {
			t.Fatal(err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for mgr.Latest().Seq == 0 {
			if time.Now().After(deadline) {
				t.Fatal("no reading captured")
			}
			time.Sleep(time.Millisecond)
		}
		t.Cleanup(func() {
			mgr.Stop()
			cancel()
		})
	}
	s := New(mgr)
	t.Cleanup(s.Close)
	return s, mgr
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, OPTIONS")
	}

	req = httptest.NewRequest("GET", "/test", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("GET should reach the handler, status = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	var rl rateLimiter
	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("message %d should be allowed", i)
		}
	}
	if rl.allow() {
		t.Error("message over the limit should be rejected")
	}

	rl.timestamps[0] = time.Now().Add(-2 * RateLimitWindow)
	if !rl.allow() {
		t.Error("expired timestamps should free a slot")
	}
}

func TestReadingAndBounds(t *testing.T) {
	s, _ := newTestServer(t, true)
	h := s.Handler()

	rec := do(t, h, "GET", "/api/reading", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var r meter.Reading
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if !r.Found || r.Seq == 0 {
		t.Errorf("reading = %+v", r)
	}

	rec = do(t, h, "GET", "/api/bounds", nil)
	var b BoundsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	if !b.Found || b.Box != (gauge.Box{Left: 250, Top: 160, Right: 350, Bottom: 271}) {
		t.Errorf("bounds = %+v", b)
	}

	if rec := do(t, h, "GET", "/api/stats", nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"running":true`) {
		t.Errorf("stats = %d %s", rec.Code, rec.Body.String())
	}
}

func TestHistory(t *testing.T) {
	s, _ := newTestServer(t, true)
	h := s.Handler()

	rec := do(t, h, "GET", "/api/history?limit=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var records []historydb.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("len = %d, want 1", len(records))
	}

	for _, q := range []string{"limit=0", "limit=abc", "limit=-3"} {
		if rec := do(t, h, "GET", "/api/history?"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestSnapshot(t *testing.T) {
	tests := []struct {
		query string
		w, h  int
	}{
		{"", 400, 300},
		{"?width=100", 100, 75},
		{"?width=800", 400, 300},
	}

	s, _ := newTestServer(t, true)
	h := s.Handler()
	for _, tt := range tests {
		rec := do(t, h, "GET", "/api/snapshot"+tt.query, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: status = %d", tt.query, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("%q: content type = %q", tt.query, ct)
		}
		img, err := png.Decode(rec.Body)
		if err != nil {
			t.Fatalf("%q: %v", tt.query, err)
		}
		if b := img.Bounds(); b.Dx() != tt.w || b.Dy() != tt.h {
			t.Errorf("%q: size = %dx%d, want %dx%d", tt.query, b.Dx(), b.Dy(), tt.w, tt.h)
		}
	}

	if rec := do(t, h, "GET", "/api/snapshot?width=-1", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative width status = %d, want 400", rec.Code)
	}
}

func TestSnapshotMirror(t *testing.T) {
	s, _ := newTestServer(t, true)
	h := s.Handler()

	decode := func(query string) image.Image {
		t.Helper()
		rec := do(t, h, "GET", "/api/snapshot"+query, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: status = %d", query, rec.Code)
		}
		img, err := png.Decode(rec.Body)
		if err != nil {
			t.Fatal(err)
		}
		return img
	}
	isRed := func(img image.Image, x, y int) bool {
		r, g, b, _ := img.At(x, y).RGBA()
		return r>>8 == uint32(gauge.FilledColor.R) && g>>8 == uint32(gauge.FilledColor.G) && b>>8 == uint32(gauge.FilledColor.B)
	}

	plain, mirrored := decode(""), decode("?mirror=true")
	if isRed(plain, 100, 250) || !isRed(plain, 300, 250) {
		t.Error("plain snapshot should show the meter on the right")
	}
	if !isRed(mirrored, 100, 250) || isRed(mirrored, 300, 250) {
		t.Error("mirrored snapshot should show the meter on the left")
	}
	if !isRed(mirrored, 400-1-250, 250) {
		t.Error("column 250 should map to column 149")
	}
	if b := decode("?mirror=1&width=200").Bounds(); b.Dx() != 200 {
		t.Errorf("mirrored and scaled width = %d, want 200", b.Dx())
	}
	if rec := do(t, h, "GET", "/api/snapshot?mirror=sideways", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad mirror status = %d, want 400", rec.Code)
	}
}

func TestFrame(t *testing.T) {
	s, _ := newTestServer(t, false)
	if rec := do(t, s.Handler(), "GET", "/api/frame", nil); rec.Code != http.StatusNotFound {
		t.Errorf("before capture status = %d, want 404", rec.Code)
	}

	s, _ = newTestServer(t, true)
	rec := do(t, s.Handler(), "GET", "/api/frame", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type = %q", ct)
	}
	if w, h := rec.Header().Get("X-Frame-Width"), rec.Header().Get("X-Frame-Height"); w != "400" || h != "300" {
		t.Errorf("frame headers = %sx%s, want 400x300", w, h)
	}
	if !bytes.Equal(rec.Body.Bytes(), meterFrame().Pix) {
		t.Error("frame body differs from the captured pixels")
	}
}

func TestPeak(t *testing.T) {
	s, mgr := newTestServer(t, true)
	h := s.Handler()
	deadline := time.Now().Add(2 * time.Second)
	for mgr.Peak(time.Minute)[2] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timeline never recorded a reading")
		}
		time.Sleep(time.Millisecond)
	}

	rec := do(t, h, "GET", "/api/peak?window=1m", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Window string       `json:"window"`
		Levels gauge.Levels `json:"levels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Window != "1m0s" {
		t.Errorf("window = %q, want 1m0s", body.Window)
	}
	for i, v := range body.Levels {
		if v < 0.5 || v > 0.6 {
			t.Errorf("peak bar %d = %f, want about 60/111", i, v)
		}
	}

	if rec := do(t, h, "GET", "/api/peak", nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"30s"`) {
		t.Errorf("default window = %d %s", rec.Code, rec.Body.String())
	}
	for _, q := range []string{"?window=soon", "?window=-5s"} {
		if rec := do(t, h, "GET", "/api/peak"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, rec.Code)
		}
	}
}

func TestSnapshotBeforeCapture(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := do(t, s.Handler(), "GET", "/api/snapshot", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"NOT_FOUND"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCaptureStartStop(t *testing.T) {
	s, mgr := newTestServer(t, true)
	h := s.Handler()

	if rec := do(t, h, "POST", "/api/capture/stop", nil); rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d: %s", rec.Code, rec.Body.String())
	}
	if mgr.Capturing() {
		t.Error("capture should be stopped")
	}
	if rec := do(t, h, "POST", "/api/capture/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("start status = %d", rec.Code)
	}
	if !mgr.Capturing() {
		t.Error("capture should be running")
	}
	if rec := do(t, h, "GET", "/api/capture/start", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on a POST route = %d, want 405", rec.Code)
	}
}

func TestAnalyze(t *testing.T) {
	s, _ := newTestServer(t, false)
	h := s.Handler()

	var buf bytes.Buffer
	if err := png.Encode(&buf, meterFrame().Image()); err != nil {
		t.Fatal(err)
	}
	rec := do(t, h, "POST", "/api/analyze", buf.Bytes())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var r meter.Reading
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if !r.Found || r.Width != 400 || r.Levels[2] <= 0.5 {
		t.Errorf("reading = %+v", r)
	}
	if !strings.Contains(rec.Body.String(), `"color":"FFD800"`) {
		t.Errorf("reading should carry the charged tier colour: %s", rec.Body.String())
	}

	rec = do(t, h, "POST", "/api/analyze", []byte("not an image"))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "FRAME_INVALID") {
		t.Errorf("bad body = %d %s", rec.Code, rec.Body.String())
	}
}

func TestAnalyzeRejectsHugeDimensions(t *testing.T) {
	s, _ := newTestServer(t, false)

	// A few hundred bytes on the wire whose header claims 12000x12000.
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	binary.BigEndian.PutUint32(b[16:20], 12000)
	binary.BigEndian.PutUint32(b[20:24], 12000)
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))

	rec := do(t, s.Handler(), "POST", "/api/analyze", b)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "INVALID_ARGUMENT") {
		t.Errorf("huge header = %d %s", rec.Code, rec.Body.String())
	}
}

func TestWebSocket(t *testing.T) {
	s, mgr := newTestServer(t, true)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, Message{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	if err := wsjson.Write(ctx, conn, ToggleMessage{Type: "alerts", Enabled: false}); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	for !(seen["pong"] && seen["status"] && seen[orchestrator.EventReading]) {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		seen[msg.Type] = true
	}
	if mgr.AlertsEnabled() {
		t.Error("alerts toggle should disable alerts")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  string
		want int
	}{
		{"INVALID_ARGUMENT", http.StatusBadRequest},
		{"FRAME_INVALID", http.StatusBadRequest},
		{"NOT_FOUND", http.StatusNotFound},
		{"TIMEOUT", http.StatusGatewayTimeout},
		{"CAPTURE_UNAVAILABLE", http.StatusServiceUnavailable},
		{"HISTORY_FAILED", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := httpStatus(apperrors.ParseCode(tt.err)); got != tt.want {
			t.Errorf("httpStatus(%s) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
