package meter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corona10/goimagehash"
	"gonum.org/v1/gonum/stat"

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
	"github.com/GriffinCanCode/boostmeter/internal/gauge"
	"github.com/GriffinCanCode/boostmeter/internal/resilience"
	"github.com/GriffinCanCode/boostmeter/internal/trace"
)

// ErrStopTimeout is returned by WaitStopped when no frame finished in time.
var ErrStopTimeout = errors.New("meter: timed out waiting for capture loop to stop")

// Capturer is the frame source polled by the processor.
type Capturer interface {
	Capture(ctx context.Context) (gauge.Frame, bool, error)
}

// Reading is the outcome of analysing one frame.
type Reading struct {
	Seq    uint64       `json:"seq"`
	Levels gauge.Levels `json:"levels"`
	Box    gauge.Box    `json:"box"`
	Found  bool         `json:"found"`
	Width  int          `json:"width"`
	Height int          `json:"height"`
	Scale  float64      `json:"scale"`
	Bar    int          `json:"bar"`
	Tier   gauge.Tier   `json:"tier"`
	Color  gauge.RGB    `json:"color"`
	At     time.Time    `json:"at"`
}

// EventKind names what an Event reports.
type EventKind string

const (
	BoundsEvent  EventKind = "bounds"
	ReadingEvent EventKind = "reading"
)

// Event is published after the meter is located and after its bars are sampled.
type Event struct {
	Kind    EventKind
	Box     gauge.Box
	Reading Reading
}

// Stats are running counters for the capture loop.
type Stats struct {
	Frames   uint64  `json:"frames"`
	Analysed uint64  `json:"analysed"`
	Skipped  uint64  `json:"skipped"`
	Errors   uint64  `json:"errors"`
	Found    uint64  `json:"found"`
	FPS      float64 `json:"fps"`
	Breaker  string  `json:"breaker"`
	Trips    uint64  `json:"breaker_trips"`
	Running  bool    `json:"running"`
}

// Options tune a Processor. Zero values select the defaults.
type Options struct {
	Scale           float64 // 0 derives the scale from each frame
	MaxHashDistance int     // negative disables similar-frame skipping
	Retry           resilience.RetryConfig
	Breaker         resilience.Config
}

// Processor captures frames and estimates meter fill levels.
type Processor struct {
	capturer Capturer
	est      *gauge.Estimator
	opts     Options
	breaker  *resilience.Breaker
	events   chan Event

	stopReq atomic.Bool

	mu       sync.RWMutex
	latest   Reading
	frame    gauge.Frame
	box      gauge.Box
	lastHash *goimagehash.ImageHash
	seq      uint64
	stats    Stats
	times    [FPSWindow]time.Time
	timesLen int
	timesPos int
	running  bool
	done     chan struct{}
}

// NewProcessor creates a meter processor. A nil estimator uses the default profile.
func NewProcessor(capturer Capturer, est *gauge.Estimator, opts Options) *Processor {
	if est == nil {
		est = gauge.Default()
	}
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = resilience.CaptureRetryConfig()
	}
	if opts.Breaker.Threshold == 0 {
		opts.Breaker = resilience.CaptureConfig()
	}
	done := make(chan struct{})
	close(done)
	return &Processor{
		capturer: capturer,
		est:      est,
		opts:     opts,
		breaker:  resilience.New("capture", opts.Breaker),
		events:   make(chan Event, EventBuffer),
		done:     done,
	}
}

// Run runs the capture loop until ctx is done, stopCh closes, or a frame
// completes after RequestStop.
func (p *Processor) Run(ctx context.Context, captureRate float64, stopCh <-chan struct{}) {
	p.loop(ctx, captureRate, stopCh, p.begin())
}

// Start is Run in a new goroutine. The loop counts as running once Start
// returns, so Running and WaitStopped never see the previous loop.
func (p *Processor) Start(ctx context.Context, captureRate float64, stopCh <-chan struct{}) {
	done := p.begin()
	go p.loop(ctx, captureRate, stopCh, done)
}

func (p *Processor) begin() chan struct{} {
	p.breaker.Reset()
	p.stopReq.Store(false)
	done := make(chan struct{})
	p.mu.Lock()
	p.running = true
	p.done = done
	p.mu.Unlock()
	return done
}

func (p *Processor) loop(ctx context.Context, captureRate float64, stopCh <-chan struct{}, done chan struct{}) {
	interval := time.Duration(float64(time.Second) / captureRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	defer func() {
		p.stopReq.Store(false)
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(done)
	}()

	log := trace.Logger(ctx)
	log.Info("capture loop started", "rate", captureRate)
	defer log.Info("capture loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.tick(ctx)
			if p.stopReq.Load() {
				return
			}
		}
	}
}

// RequestStop asks a running loop to exit once the current or next frame completes.
func (p *Processor) RequestStop() {
	p.stopReq.Store(true)
}

// WaitStopped blocks until the loop has exited or the timeout passes.
func (p *Processor) WaitStopped(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	p.mu.RLock()
	done := p.done
	p.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Running reports whether the capture loop is active.
func (p *Processor) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Processor) tick(ctx context.Context) {
	log := trace.Logger(ctx)
	frame, changed, err := p.capture(ctx)
	if err != nil {
		p.mu.Lock()
		p.stats.Errors++
		p.mu.Unlock()
		log.Debug("capture error", "error", err, "breaker", p.breaker.State())
		return
	}

	p.mu.Lock()
	p.stats.Frames++
	p.recordFrameTime(time.Now())
	p.frame = frame
	if !changed {
		p.stats.Skipped++
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if p.similarToLast(frame) {
		p.mu.Lock()
		p.stats.Skipped++
		p.mu.Unlock()
		return
	}

	r, err := p.estimate(frame, p)
	if err != nil {
		p.mu.Lock()
		p.stats.Errors++
		p.mu.Unlock()
		log.Debug("estimate error", "error", err, "width", frame.Width, "height", frame.Height)
		return
	}

	p.mu.Lock()
	p.seq++
	r.Seq = p.seq
	p.latest = r
	p.stats.Analysed++
	if r.Found {
		p.stats.Found++
	}
	p.mu.Unlock()

	p.Emit(Event{Kind: ReadingEvent, Box: r.Box, Reading: r})
}

type grab struct {
	frame   gauge.Frame
	changed bool
}

func (p *Processor) capture(ctx context.Context) (gauge.Frame, bool, error) {
	g, err := resilience.Call(ctx, p.breaker, func(ctx context.Context) (grab, error) {
		return resilience.RetryValue(ctx, p.opts.Retry, func(ctx context.Context) (grab, error) {
			f, changed, err := p.capturer.Capture(ctx)
			return grab{f, changed}, err
		})
	})
	return g.frame, g.changed, err
}

// OnBoundsFound records where the meter was located and publishes it.
func (p *Processor) OnBoundsFound(box gauge.Box) {
	p.mu.Lock()
	p.box = box
	p.mu.Unlock()
	p.Emit(Event{Kind: BoundsEvent, Box: box})
}

// Analyze estimates the meter in f without touching the loop's state.
func (p *Processor) Analyze(f gauge.Frame) (Reading, error) {
	return p.estimate(f, nil)
}

func (p *Processor) estimate(f gauge.Frame, obs gauge.BoundsObserver) (Reading, error) {
	scale := p.scaleFor(f.Width, f.Height)
	levels, s, err := p.est.Estimate(f, scale, obs)
	if err != nil {
		code := apperrors.FrameInvalid
		if errors.Is(err, gauge.ErrInvalidScale) {
			code = apperrors.ScaleInvalid
		}
		return Reading{}, apperrors.Wrap(err, code, "estimate meter")
	}
	tiers := p.est.Profile().Tiers
	bar, value, _ := levels.Active()
	tier := tiers.For(value)
	return Reading{
		Levels: levels,
		Box:    s.Box,
		Found:  s.Found,
		Width:  f.Width,
		Height: f.Height,
		Scale:  scale,
		Bar:    bar,
		Tier:   tier,
		Color:  tiers.Color(tier),
		At:     time.Now(),
	}, nil
}

// Tiers returns the tier thresholds and colours of the estimator's profile.
func (p *Processor) Tiers() gauge.Tiers {
	return p.est.Profile().Tiers
}

func (p *Processor) scaleFor(w, h int) float64 {
	if p.opts.Scale > 0 {
		return p.opts.Scale
	}
	return gauge.ScaleForFrame(w, h)
}

// similarToLast compares the perceptual hash of the last meter region with the
// same region in f and skips frames within MaxHashDistance.
func (p *Processor) similarToLast(f gauge.Frame) bool {
	if p.opts.MaxHashDistance < 0 {
		return false
	}
	p.mu.RLock()
	box, found := p.box, p.latest.Found
	p.mu.RUnlock()
	if !found {
		return false
	}

	region := f.Image().SubImage(box.Rect())
	if region.Bounds().Empty() {
		return false
	}
	hash, err := goimagehash.PerceptionHash(region)
	if err != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastHash == nil {
		p.lastHash = hash
		return false
	}
	dist, err := p.lastHash.Distance(hash)
	if err != nil || dist > p.opts.MaxHashDistance {
		p.lastHash = hash
		return false
	}
	return true
}

// recordFrameTime must be called with p.mu held.
func (p *Processor) recordFrameTime(t time.Time) {
	p.times[p.timesPos] = t
	p.timesPos = (p.timesPos + 1) % FPSWindow
	if p.timesLen < FPSWindow {
		p.timesLen++
	}
}

// FPS is the average capture rate over the last FPSWindow frames.
func (p *Processor) FPS() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fpsLocked()
}

func (p *Processor) fpsLocked() float64 {
	if p.timesLen < 2 {
		return 0
	}
	start := (p.timesPos - p.timesLen + FPSWindow) % FPSWindow
	gaps := make([]float64, 0, p.timesLen-1)
	prev := p.times[start]
	for i := 1; i < p.timesLen; i++ {
		t := p.times[(start+i)%FPSWindow]
		gaps = append(gaps, t.Sub(prev).Seconds())
		prev = t
	}
	mean := stat.Mean(gaps, nil)
	if mean <= 0 {
		return 0
	}
	return 1 / mean
}

// Latest returns the most recent reading.
func (p *Processor) Latest() Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Bounds returns the last located meter box.
func (p *Processor) Bounds() (gauge.Box, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.box, p.latest.Found
}

// LatestFrame returns the most recent frame. Callers must not modify its pixels.
func (p *Processor) LatestFrame() gauge.Frame {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frame
}

// CopyLatestFrame copies the most recent frame into dst.
func (p *Processor) CopyLatestFrame(dst []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.frame.Empty() {
		return 0, apperrors.New(apperrors.NotFound, "no frame captured yet")
	}
	return p.frame.CopyTo(dst)
}

// Stats returns a snapshot of the loop counters.
func (p *Processor) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.stats
	s.FPS = p.fpsLocked()
	s.Breaker = p.breaker.State().String()
	s.Trips = p.breaker.Trips()
	s.Running = p.running
	return s
}

// Events returns the channel of bounds and reading events.
func (p *Processor) Events() <-chan Event {
	return p.events
}

// Emit publishes an event without blocking.
func (p *Processor) Emit(e Event) {
	select {
	case p.events <- e:
	default:
	}
}
