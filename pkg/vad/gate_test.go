package vad

import "testing"

func zeros(n int) []int16 { return make([]int16, n) }

func activity(n int, amplitude int16) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		frame[i] = amplitude
	}
	return frame
}

func TestTrivialSilenceWindowThenTimeout(t *testing.T) {
	g := New(5000, ModeQuality)

	for i := 0; i < 2; i++ {
		results := g.Process(zeros(FrameSamples))
		if len(results) != 1 || results[0] != ResultSilence {
			t.Fatalf("frame %d: expected Silence, got %v", i, results)
		}
	}
	if g.SilenceDurationMs() != 60 {
		t.Fatalf("expected silence_duration=60ms, got %d", g.SilenceDurationMs())
	}

	// 498 more frames of zeros => cumulative 15000ms, not yet exceeded.
	for i := 0; i < 498; i++ {
		results := g.Process(zeros(FrameSamples))
		if len(results) != 1 {
			t.Fatalf("frame %d: expected one result", i)
		}
		if i == 497 && results[0] != ResultSilence {
			t.Fatalf("expected last frame still Silence, got %v", results[0])
		}
	}

	results := g.Process(zeros(FrameSamples))
	if len(results) != 1 || results[0] != ResultSilenceTimeout {
		t.Fatalf("expected SilenceTimeout, got %v", results)
	}
}

func TestActivityThenSilenceWithShortTimeout(t *testing.T) {
	g := New(90, ModeQuality)

	results := g.Process(activity(FrameSamples, 300))
	if len(results) != 1 || results[0] != ResultSpeech {
		t.Fatalf("expected Speech, got %v", results)
	}

	var got []Result
	for i := 0; i < 3; i++ {
		got = append(got, g.Process(zeros(FrameSamples))...)
	}

	want := []Result{ResultSilence, ResultSilence, ResultSilenceTimeout}
	for i, r := range want {
		if got[i] != r {
			t.Fatalf("frame %d: expected %v, got %v", i, r, got[i])
		}
	}
}

func TestFramingResidualBuffered(t *testing.T) {
	g := New(5000, ModeQuality)

	results := g.Process(zeros(FrameSamples + 100))
	if len(results) != 1 {
		t.Fatalf("expected exactly one classified frame, got %d", len(results))
	}

	results = g.Process(zeros(380))
	if len(results) != 1 {
		t.Fatalf("expected the residual 100+380=480 to complete one more frame, got %d", len(results))
	}
}

func TestResetClearsState(t *testing.T) {
	g := New(5000, ModeQuality)
	g.Process(activity(FrameSamples, 300))
	g.Process(zeros(FrameSamples))

	g.Reset()
	if g.SilenceDurationMs() != 0 {
		t.Fatalf("expected silence duration reset to 0")
	}

	// No activity ever seen again after reset: floor applies.
	results := g.Process(zeros(FrameSamples))
	if len(results) != 1 || results[0] != ResultSilence {
		t.Fatalf("expected Silence immediately after reset, got %v", results)
	}
}
