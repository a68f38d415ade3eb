package audio

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestToneLength(t *testing.T) {
	tests := []struct {
		dur  time.Duration
		rate int
		want int
	}{
		{100 * time.Millisecond, 44100, 4410},
		{time.Second, 8000, 8000},
		{0, 44100, 0},
	}
	for _, tt := range tests {
		if got := len(Tone(440, tt.dur, tt.rate)); got != tt.want {
			t.Errorf("len(Tone(440, %v, %d)) = %d, want %d", tt.dur, tt.rate, got, tt.want)
		}
	}
}

func TestToneFadesAndAmplitude(t *testing.T) {
	s := Tone(1000, 100*time.Millisecond, 48000)

	if s[0] != 0 || s[len(s)-1] != 0 {
		t.Errorf("ends = %f, %f, want silent", s[0], s[len(s)-1])
	}
	var peak float64
	for _, v := range s {
		peak = max(peak, math.Abs(float64(v)))
	}
	if peak > CueVolume+1e-6 || peak < CueVolume*0.9 {
		t.Errorf("peak = %f, want about %f", peak, CueVolume)
	}
}

func TestToneFrequency(t *testing.T) {
	const rate = 8000
	s := Tone(100, time.Second, rate)

	// Count rising zero crossings away from the fades
	crossings := 0
	for i := 100; i < len(s)-100; i++ {
		if s[i-1] < 0 && s[i] >= 0 {
			crossings++
		}
	}
	if crossings < 96 || crossings > 100 {
		t.Errorf("rising zero crossings = %d, want about 97", crossings)
	}
}

func TestCueFreqRisesWithBar(t *testing.T) {
	if CueFreq(0) != CueBaseFreq {
		t.Errorf("CueFreq(0) = %f, want %f", CueFreq(0), CueBaseFreq)
	}
	if !(CueFreq(2) > CueFreq(1) && CueFreq(1) > CueFreq(0)) {
		t.Error("cue frequency should rise with bar index")
	}
}

func TestPlayAfterClose(t *testing.T) {
	p := &Player{sampleRate: 44100, closed: true}
	if err := p.Play(context.Background(), []float32{0}); err == nil {
		t.Error("Play on a closed player should fail")
	}
}
