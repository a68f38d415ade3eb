package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/boostmeter/internal/config"
	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
	"github.com/GriffinCanCode/boostmeter/internal/gauge"
	historydb "github.com/GriffinCanCode/boostmeter/internal/history"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator/alert"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator/audio"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator/history"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator/meter"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator/timeline"
	"github.com/GriffinCanCode/boostmeter/internal/trace"
)

// Event types published by the manager
const (
	EventReading = "reading"
	EventBounds  = "bounds"
	EventTier    = "tier"
	EventAlert   = "alert"
)

// Event is a manager event. Exactly one payload is set, matching Type.
type Event struct {
	Type    string          `json:"type"`
	Reading *meter.Reading  `json:"reading,omitempty"`
	Bounds  *gauge.Box      `json:"bounds,omitempty"`
	Tier    *timeline.Event `json:"tier,omitempty"`
	Alert   *alert.Alert    `json:"alert,omitempty"`
}

// Deps are the collaborators handed to New. History and Player may be nil.
type Deps struct {
	Capturer  meter.Capturer
	Estimator *gauge.Estimator
	History   *historydb.DB
	Player    audio.Player
}

// Manager coordinates the capture loop and everything that consumes readings
type Manager struct {
	cfg *config.Config

	proc     *meter.Processor
	timeline *timeline.MemoryStore
	db       *historydb.DB
	batcher  *history.Batcher
	alerts   *alert.Detector
	cues     *audio.Queue
	events   chan Event

	mu        sync.Mutex
	ctx       context.Context
	capturing bool
	cancelRun context.CancelFunc
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a new manager
func New(cfg *config.Config, deps Deps) *Manager {
	proc := meter.NewProcessor(deps.Capturer, deps.Estimator, meter.Options{
		Scale:           cfg.UIScale,
		MaxHashDistance: cfg.MaxHashDistance,
	})
	m := &Manager{
		cfg:      cfg,
		proc:     proc,
		timeline: timeline.NewStore(cfg.TimelineSize, TimelineEventBuffer, proc.Tiers()),
		db:       deps.History,
		alerts:   alert.NewDetector(cfg.AlertThreshold, cfg.AlertCooldown, cfg.AlertEnabled),
		events:   make(chan Event, EventBuffer),
		ctx:      context.Background(),
		stopCh:   make(chan struct{}),
	}
	if deps.History != nil {
		delay := time.Duration(cfg.HistoryFlushDelay * float64(time.Second))
		m.batcher = history.NewBatcher(deps.History, cfg.HistoryBatchSize, delay)
	}
	if deps.Player != nil {
		m.cues = audio.NewQueue(deps.Player)
	}
	return m
}

// Start begins dispatching events and starts the capture loop
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	m.wg.Add(1)
	go m.dispatch(ctx)
	if m.cues != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.cues.Run(ctx, m.stopCh)
		}()
	}
	return m.StartCapture()
}

// StartCapture starts the capture loop if it is not already running.
func (m *Manager) StartCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capturing && m.proc.Running() {
		return nil
	}
	if err := m.proc.WaitStopped(m.stopTimeout()); err != nil {
		return apperrors.Wrap(err, apperrors.Timeout, "previous capture loop still running")
	}
	if m.cancelRun != nil {
		m.cancelRun()
	}

	runCtx, cancel := context.WithCancel(m.ctx)
	m.cancelRun, m.capturing = cancel, true
	m.proc.Start(runCtx, m.cfg.CaptureRate, m.stopCh)
	trace.Logger(m.ctx).Info("capture started", "rate", m.cfg.CaptureRate)
	return nil
}

// StopCapture stops the loop after its current frame. If no frame completes
// within the stop timeout the loop is cancelled and a Timeout error returned.
func (m *Manager) StopCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.capturing {
		return nil
	}
	m.capturing = false

	var err error
	if m.proc.Running() {
		m.proc.RequestStop()
		if werr := m.proc.WaitStopped(m.stopTimeout()); errors.Is(werr, meter.ErrStopTimeout) {
			err = apperrors.Wrapf(werr, apperrors.Timeout, "no frame completed within %s", m.stopTimeout())
		}
	}
	m.cancelRun()

	log := trace.Logger(m.ctx)
	if err != nil {
		log.Warn("capture stop timed out, loop cancelled", "error", err)
		return err
	}
	log.Info("capture stopped")
	return nil
}

// SetCapturing starts or stops the capture loop.
func (m *Manager) SetCapturing(enabled bool) error {
	if enabled {
		return m.StartCapture()
	}
	return m.StopCapture()
}

// Capturing reports whether capture was started, not stopped since, and its
// loop is still alive. A loop ends on its own when the Start context is done.
func (m *Manager) Capturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing && m.proc.Running()
}

func (m *Manager) stopTimeout() time.Duration {
	if m.cfg.StopTimeout > 0 {
		return m.cfg.StopTimeout
	}
	return meter.DefaultStopTimeout
}

// Stop stops capture and background work, then flushes pending history.
func (m *Manager) Stop() {
	if err := m.StopCapture(); err != nil {
		trace.Logger(m.ctx).Warn("stop capture", "error", err)
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	if m.cues != nil {
		if n := m.cues.Dropped(); n > 0 {
			trace.Logger(m.ctx).Info("alert cues dropped while busy", "count", n)
		}
	}
	if m.batcher != nil {
		m.batcher.Stop()
	}
}

func (m *Manager) dispatch(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case e := <-m.proc.Events():
			m.handleMeterEvent(ctx, e)
		case e := <-m.timeline.Events():
			m.Emit(Event{Type: EventTier, Tier: &e})
		}
	}
}

func (m *Manager) handleMeterEvent(ctx context.Context, e meter.Event) {
	switch e.Kind {
	case meter.BoundsEvent:
		box := e.Box
		m.Emit(Event{Type: EventBounds, Bounds: &box})
	case meter.ReadingEvent:
		r := e.Reading
		m.timeline.Add(r)
		if m.batcher != nil {
			m.batcher.Add(r)
		}
		m.Emit(Event{Type: EventReading, Reading: &r})

		if a, ok := m.alerts.Check(r.Levels); ok {
			m.Emit(Event{Type: EventAlert, Alert: &a})
			if m.cues != nil && !m.cues.Enqueue(a.Bar) {
				trace.Logger(ctx).Debug("cue dropped", "bar", a.Bar)
			}
		}
	}
}

// Events returns the channel of manager events
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Emit publishes an event (non-blocking).
func (m *Manager) Emit(e Event) {
	select {
	case m.events <- e:
	default:
	}
}

// Latest returns the most recent reading
func (m *Manager) Latest() meter.Reading {
	return m.proc.Latest()
}

// Bounds returns the last located meter box and whether the meter is visible.
func (m *Manager) Bounds() (gauge.Box, bool) {
	return m.proc.Bounds()
}

// Stats returns the capture loop counters
func (m *Manager) Stats() meter.Stats {
	return m.proc.Stats()
}

// Snapshot returns the latest captured frame. Its pixels must not be modified.
func (m *Manager) Snapshot() (gauge.Frame, error) {
	f := m.proc.LatestFrame()
	if f.Empty() {
		return gauge.Frame{}, apperrors.New(apperrors.NotFound, "no frame captured yet")
	}
	return f, nil
}

// RawFrame returns a private copy of the latest frame's RGBA bytes with its
// dimensions. A frame of a new size arriving mid-copy is retried once.
func (m *Manager) RawFrame() ([]byte, int, int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f := m.proc.LatestFrame()
		if f.Empty() {
			return nil, 0, 0, apperrors.New(apperrors.NotFound, "no frame captured yet")
		}
		buf := make([]byte, f.Size())
		n, err := m.proc.CopyLatestFrame(buf)
		if errors.Is(err, gauge.ErrShortBuffer) {
			continue
		}
		if err != nil {
			return nil, 0, 0, err
		}
		if n == len(buf) {
			return buf, f.Width, f.Height, nil
		}
	}
	return nil, 0, 0, apperrors.New(apperrors.Unavailable, "frame size changed during copy")
}

// Analyze estimates the meter in a frame supplied by the caller.
func (m *Manager) Analyze(ctx context.Context, f gauge.Frame) (meter.Reading, error) {
	_, span := trace.StartSpan(ctx, "orchestrator_analyze")
	defer span.End()
	span.SetAttr("width", f.Width)
	span.SetAttr("height", f.Height)

	r, err := m.proc.Analyze(f)
	if err != nil {
		span.SetError(err)
	}
	return r, err
}

// History returns up to limit stored readings, newest first. Without a
// database it falls back to the in-memory timeline.
func (m *Manager) History(ctx context.Context, limit int) ([]historydb.Record, error) {
	if m.db != nil {
		if m.batcher != nil {
			m.batcher.Flush()
		}
		return m.db.Recent(ctx, limit)
	}

	entries := m.timeline.Entries()
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	records := make([]historydb.Record, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(records) < limit; i-- {
		e := entries[i]
		records = append(records, historydb.Record{At: e.At, Seq: e.Seq, Found: e.Found, Levels: e.Levels})
	}
	return records, nil
}

// Peak returns the highest level each bar reached within window.
func (m *Manager) Peak(window time.Duration) gauge.Levels {
	return m.timeline.Peak(window)
}

// Healthy reports whether capture is running and the meter was seen within window.
func (m *Manager) Healthy(window time.Duration) bool {
	if !m.Capturing() {
		return false
	}
	r := m.proc.Latest()
	return r.Found && time.Since(r.At) <= window
}

// SetAlerts enables/disables bar-full alerts
func (m *Manager) SetAlerts(enabled bool) {
	m.alerts.SetEnabled(enabled)
}

// AlertsEnabled reports whether bar-full alerts are on.
func (m *Manager) AlertsEnabled() bool {
	return m.alerts.IsEnabled()
}
