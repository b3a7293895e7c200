package transcription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/voice-core/pkg/audio"
)

// fakeProvider is a minimal in-memory Provider stand-in for exercising
// Service's lifecycle without a network connection.
type fakeProvider struct {
	mu        sync.Mutex
	alive     bool
	started   bool
	paused    bool
	onPartial PartialCallback
	onFinal   FinalCallback

	startErr error
	sent     [][]int16
}

func (f *fakeProvider) Name() string             { return "fake" }
func (f *fakeProvider) SupportsStreaming() bool   { return true }
func (f *fakeProvider) SupportsKeepAlive() bool   { return true }
func (f *fakeProvider) IsOnline() bool            { return true }
func (f *fakeProvider) IsConnectionAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive && f.paused
}

func (f *fakeProvider) Initialize(ctx context.Context, cfg SttConfig) error { return nil }

func (f *fakeProvider) StartStream(ctx context.Context, onPartial PartialCallback, onFinal FinalCallback, onError ErrorCallback, onQuality QualityCallback) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.alive = true
	f.paused = false
	f.onPartial, f.onFinal = onPartial, onFinal
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) SendAudio(chunk []int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chunk)
	return nil
}

func (f *fakeProvider) StopStream(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
	return nil
}

func (f *fakeProvider) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}

func (f *fakeProvider) PauseStream() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *fakeProvider) ResumeStream(onPartial PartialCallback, onFinal FinalCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	f.onPartial, f.onFinal = onPartial, onFinal
	return nil
}

func newFakeFactory(p *fakeProvider) ProviderFactory {
	return func(cfg SttConfig) (Provider, error) { return p, nil }
}

func loudChunk(n int) audio.Chunk {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 20000
	}
	return audio.Chunk{Samples: samples, SampleRate: 16000, Channels: 1}
}

func drainStatus(t *testing.T, events <-chan Event, want RecordingStatus, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-events:
			if evt.Type != EventRecordingStatus {
				continue
			}
			if evt.Data.(RecordingStatusEvent).Status == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", want)
		}
	}
}

func TestStartRecordingFailsUnlessIdle(t *testing.T) {
	p := &fakeProvider{}
	svc := NewService(newFakeFactory(p), AppConfig{MicSensitivity: 200}, nil)

	if err := svc.StartRecording(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	drainStatus(t, svc.Events(), StatusRecording, time.Second)

	if err := svc.StartRecording(context.Background()); err != ErrAlreadyRecording {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
}

func TestStopRecordingReturnsToIdle(t *testing.T) {
	p := &fakeProvider{}
	svc := NewService(newFakeFactory(p), AppConfig{MicSensitivity: 200}, nil)

	if err := svc.StartRecording(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	drainStatus(t, svc.Events(), StatusRecording, time.Second)

	if err := svc.StopRecording(false); err != nil {
		t.Fatalf("stop: %v", err)
	}
	drainStatus(t, svc.Events(), StatusIdle, time.Second)

	if svc.Status() != StatusIdle {
		t.Fatalf("expected StatusIdle, got %q", svc.Status())
	}
}

func TestStopRecordingFailsWhenNotRecording(t *testing.T) {
	p := &fakeProvider{}
	svc := NewService(newFakeFactory(p), AppConfig{MicSensitivity: 200}, nil)
	if err := svc.StopRecording(false); err != ErrNotRecording {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

func TestStartRecordingCriticalErrorEntersErrorState(t *testing.T) {
	p := &fakeProvider{startErr: NewAuthenticationError("bad token")}
	svc := NewService(newFakeFactory(p), AppConfig{MicSensitivity: 200}, nil)

	if err := svc.StartRecording(context.Background()); err == nil {
		t.Fatalf("expected start to fail")
	}
	if svc.Status() != StatusError {
		t.Fatalf("expected StatusError after a critical start failure, got %q", svc.Status())
	}
}

func TestStartRecordingRejectsAlreadyCancelledContext(t *testing.T) {
	p := &fakeProvider{}
	svc := NewService(newFakeFactory(p), AppConfig{MicSensitivity: 200}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.StartRecording(ctx); err != ErrContextCancelled {
		t.Fatalf("expected ErrContextCancelled, got %v", err)
	}
	if svc.Status() != StatusIdle {
		t.Fatalf("expected status to remain idle, got %q", svc.Status())
	}
}

func TestStartRecordingRejectsNilProviderFromFactory(t *testing.T) {
	factory := ProviderFactory(func(cfg SttConfig) (Provider, error) { return nil, nil })
	svc := NewService(factory, AppConfig{MicSensitivity: 200}, nil)

	if err := svc.StartRecording(context.Background()); err != ErrNilProvider {
		t.Fatalf("expected ErrNilProvider, got %v", err)
	}
	if svc.Status() != StatusIdle {
		t.Fatalf("expected status to fall back to idle, got %q", svc.Status())
	}
}

func TestSendAudioForwardsToProviderWhenLoudEnough(t *testing.T) {
	p := &fakeProvider{}
	svc := NewService(newFakeFactory(p), AppConfig{MicSensitivity: 200}, nil)

	if err := svc.StartRecording(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	drainStatus(t, svc.Events(), StatusRecording, time.Second)

	svc.SendAudio(loudChunk(480))

	deadline := time.After(time.Second)
	for {
		p.mu.Lock()
		n := len(p.sent)
		p.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for audio to reach the provider")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestKeepAliveStopThenStartResumesInsteadOfReconnecting(t *testing.T) {
	p := &fakeProvider{}
	svc := NewService(newFakeFactory(p), AppConfig{MicSensitivity: 200, Stt: SttConfig{KeepConnectionAlive: true}}, nil)

	if err := svc.StartRecording(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	drainStatus(t, svc.Events(), StatusRecording, time.Second)

	if err := svc.StopRecording(false); err != nil {
		t.Fatalf("stop: %v", err)
	}
	drainStatus(t, svc.Events(), StatusIdle, time.Second)

	p.mu.Lock()
	paused := p.paused
	alive := p.alive
	p.mu.Unlock()
	if !paused || !alive {
		t.Fatalf("expected the connection to be paused, not closed: paused=%v alive=%v", paused, alive)
	}

	if err := svc.StartRecording(context.Background()); err != nil {
		t.Fatalf("resume start: %v", err)
	}
	drainStatus(t, svc.Events(), StatusRecording, time.Second)

	p.mu.Lock()
	stillPaused := p.paused
	p.mu.Unlock()
	if stillPaused {
		t.Fatalf("expected ResumeStream to clear paused state")
	}
}
