// Package audio plays short cue tones on the default output device
package audio

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
)

// Cue tone settings
const (
	CueBaseFreq  = 660.0
	CueFreqStep  = 0.25 // each higher bar raises the pitch by a quarter
	CueDuration  = 120 * time.Millisecond
	CueVolume    = 0.3
	FramesPerBuf = 512
	fadeDuration = 5 * time.Millisecond
)

// Player writes mono float32 samples to the default output device.
type Player struct {
	sampleRate int
	mu         sync.Mutex
	closed     bool
}

// NewPlayer initialises PortAudio.
func NewPlayer(sampleRate int) (*Player, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.AudioFailed, "initialize portaudio")
	}
	return &Player{sampleRate: sampleRate}, nil
}

// Cue plays the tone for a bar index.
func (p *Player) Cue(ctx context.Context, bar int) error {
	return p.Play(ctx, Tone(CueFreq(bar), CueDuration, p.sampleRate))
}

// Play blocks until samples have been written or ctx is done. Only one sound plays at a time.
func (p *Player) Play(ctx context.Context, samples []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return apperrors.New(apperrors.AudioFailed, "player closed")
	}

	buf := make([]float32, FramesPerBuf)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(p.sampleRate), len(buf), buf)
	if err != nil {
		return apperrors.Wrap(err, apperrors.AudioFailed, "open output stream")
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.AudioFailed, "start output stream")
	}
	defer func() { _ = stream.Stop() }()

	for off := 0; off < len(samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(err, apperrors.Cancelled, "play")
		}
		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			slog.Debug("audio write error", "error", err)
			return apperrors.Wrap(err, apperrors.AudioFailed, "write output stream")
		}
	}
	return nil
}

// Close releases PortAudio.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = portaudio.Terminate()
}

// CueFreq is the tone frequency for a bar index.
func CueFreq(bar int) float64 {
	return CueBaseFreq * (1 + CueFreqStep*float64(bar))
}

// Tone synthesises a sine wave with short linear fades at both ends.
func Tone(freq float64, dur time.Duration, sampleRate int) []float32 {
	n := int(dur.Seconds() * float64(sampleRate))
	if n <= 0 {
		return nil
	}
	fade := min(int(fadeDuration.Seconds()*float64(sampleRate)), n/2)
	out := make([]float32, n)
	for i := range out {
		gain := CueVolume
		switch {
		case fade > 0 && i < fade:
			gain *= float64(i) / float64(fade)
		case fade > 0 && i >= n-fade:
			gain *= float64(n-1-i) / float64(fade)
		}
		out[i] = float32(gain * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}
