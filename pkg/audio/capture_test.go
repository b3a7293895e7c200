package audio

import (
	"math"
	"testing"
)

func f32ToBytesLE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, f := range samples {
		bits := math.Float32bits(f)
		out[4*i] = byte(bits)
		out[4*i+1] = byte(bits >> 8)
		out[4*i+2] = byte(bits >> 16)
		out[4*i+3] = byte(bits >> 24)
	}
	return out
}

func TestSourceOnSamplesDeliversI16Chunks(t *testing.T) {
	s := NewSource(func() int64 { return 42 })
	if err := s.Initialize(44100); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var delivered []Chunk
	s.onChunk = func(c Chunk) { delivered = append(delivered, c) }

	// A few whole RESAMPLER_BLOCK-ish callbacks of stereo f32 at 0.5.
	stereo := make([]float32, RESAMPLER_BLOCK*2*5)
	for i := range stereo {
		stereo[i] = 0.5
	}
	s.onSamples(nil, f32ToBytesLE(stereo), uint32(len(stereo)/2))

	if len(delivered) == 0 {
		t.Fatalf("expected at least one delivered chunk")
	}
	for _, c := range delivered {
		if c.SampleRate != 16000 || c.Channels != 1 {
			t.Fatalf("unexpected chunk format: %+v", c)
		}
		if c.TimestampMs != 42 {
			t.Fatalf("expected stamped timestamp 42, got %d", c.TimestampMs)
		}
		if len(c.Samples) == 0 {
			t.Fatalf("expected non-empty chunk")
		}
	}
}

func TestSourceOnSamplesIgnoresEmptyInput(t *testing.T) {
	s := NewSource(nil)
	if err := s.Initialize(44100); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	called := false
	s.onChunk = func(Chunk) { called = true }
	s.onSamples(nil, nil, 0)
	if called {
		t.Fatalf("expected no delivery on empty input")
	}
}

func TestStartCaptureRejectsReentry(t *testing.T) {
	s := NewSource(nil)
	s.capturing = true
	if err := s.StartCapture(func(Chunk) {}); err == nil {
		t.Fatalf("expected error on re-entrant StartCapture")
	}
}
