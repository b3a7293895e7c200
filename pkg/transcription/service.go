package transcription

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/voice-core/pkg/audio"
	"github.com/lokutor-ai/voice-core/pkg/sensitivity"
	"github.com/lokutor-ai/voice-core/pkg/vad"
)

// KeepAliveIdleTimeout is how long a paused-but-not-resumed connection is
// held open before Service gives up and tears it down for good (spec §4.5).
const KeepAliveIdleTimeout = 30 * time.Minute

// Service is C5: the lifecycle state machine that drives audio capture
// through sensitivity filtering and voice-activity detection into an STT
// provider, and republishes the result as Events for C6 (spec §4.5).
type Service struct {
	mu sync.Mutex

	log     Logger
	factory ProviderFactory
	cfg     AppConfig

	status   RecordingStatus
	provider Provider

	gate   *vad.Gate
	filter *sensitivity.Filter

	events chan Event

	queue      *chunkQueue
	group      *errgroup.Group
	groupStop  context.CancelFunc
	keepAliveTimer *time.Timer

	streamCtx    context.Context
	streamCancel context.CancelFunc
}

// NewService builds an idle Service. factory constructs providers by kind;
// log may be nil (defaults to NoOpLogger).
func NewService(factory ProviderFactory, cfg AppConfig, log Logger) *Service {
	if log == nil {
		log = NoOpLogger{}
	}
	cfg.Clamp()
	return &Service{
		log:     log,
		factory: factory,
		cfg:     cfg,
		status:  StatusIdle,
		gate:    vad.New(cfg.VadSilenceTimeoutMs, vad.ModeQuality),
		filter:  sensitivity.New(cfg.MicSensitivity),
		events:  make(chan Event, 256),
	}
}

// Events returns the channel external listeners (C6) read from.
func (s *Service) Events() <-chan Event { return s.events }

// Status reports the current lifecycle state.
func (s *Service) Status() RecordingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetMicrophoneSensitivity updates the sensitivity filter in place (spec
// §4.3); takes effect on the next chunk.
func (s *Service) SetMicrophoneSensitivity(sensitivityValue int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.SetSensitivity(sensitivityValue)
}

func (s *Service) emit(evt Event) {
	select {
	case s.events <- evt:
	default:
		s.log.Warn("transcription: event channel full, dropping event", "type", evt.Type)
	}
}

func (s *Service) setStatus(status RecordingStatus, stoppedViaHotkey bool) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.emit(Event{Type: EventRecordingStatus, Data: RecordingStatusEvent{Status: status, StoppedViaHotkey: stoppedViaHotkey}})
}

// StartRecording transitions Idle -> Starting -> Recording, resuming a
// paused keep-alive connection when one is still alive, or opening a fresh
// stream otherwise (spec §4.5).
func (s *Service) StartRecording(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrContextCancelled
	}

	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	s.status = StatusStarting
	provider := s.provider
	s.mu.Unlock()
	s.emit(Event{Type: EventRecordingStatus, Data: RecordingStatusEvent{Status: StatusStarting}})

	if s.keepAliveTimer != nil {
		s.keepAliveTimer.Stop()
	}

	onPartial := func(t Transcription) { s.emit(Event{Type: EventTranscriptPartial, Data: t}) }
	onFinal := func(t Transcription) { s.emit(Event{Type: EventTranscriptFinal, Data: t}) }
	onError := func(msg string, category ErrorCategory) { s.handleProviderError(msg, category) }
	onQuality := func(q ConnectionQuality) { s.emit(Event{Type: EventConnectionQuality, Data: q}) }

	var err error
	if provider != nil && s.cfg.Stt.KeepConnectionAlive && provider.IsConnectionAlive() {
		s.log.Info("transcription: resuming paused connection")
		err = provider.ResumeStream(onPartial, onFinal)
	} else {
		provider, err = s.factory(s.cfg.Stt)
		if err == nil && provider == nil {
			err = ErrNilProvider
		}
		if err == nil {
			err = provider.Initialize(ctx, s.cfg.Stt)
		}
		if err == nil {
			err = provider.StartStream(ctx, onPartial, onFinal, onError, onQuality)
		}
	}

	if err != nil {
		category := CategoryInternal
		if se, ok := err.(*SttError); ok {
			category = se.Category
		}
		s.failStart(err, category)
		return err
	}

	s.mu.Lock()
	s.provider = provider
	s.status = StatusRecording
	s.gate.Reset()
	s.mu.Unlock()
	s.emit(Event{Type: EventRecordingStatus, Data: RecordingStatusEvent{Status: StatusRecording}})

	s.startForwarding(ctx)
	return nil
}

func (s *Service) failStart(err error, category ErrorCategory) {
	s.mu.Lock()
	if category.IsCritical() {
		s.status = StatusError
	} else {
		s.status = StatusIdle
	}
	status := s.status
	s.mu.Unlock()
	s.emit(Event{Type: EventTranscriptError, Data: TranscriptErrorEvent{Message: err.Error(), Kind: string(category)}})
	s.emit(Event{Type: EventRecordingStatus, Data: RecordingStatusEvent{Status: status}})
}

// handleProviderError classifies a mid-stream provider error and stops the
// service outright when the category is critical (spec §9).
func (s *Service) handleProviderError(msg string, category ErrorCategory) {
	s.emit(Event{Type: EventTranscriptError, Data: TranscriptErrorEvent{Message: msg, Kind: string(category)}})
	if category.IsCritical() {
		s.mu.Lock()
		s.status = StatusError
		s.mu.Unlock()
		s.stopForwarding()
		s.emit(Event{Type: EventRecordingStatus, Data: RecordingStatusEvent{Status: StatusError}})
	}
}

// startForwarding spins up the unbounded-queue consumer that applies the
// sensitivity filter and VAD gate to every chunk before forwarding audio to
// the provider (spec §4.5 step 3, §9 "device callback crossing into
// async"). An errgroup supervises it so a panic-free worker exit surfaces
// through Wait during shutdown.
func (s *Service) startForwarding(ctx context.Context) {
	streamCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(streamCtx)

	s.mu.Lock()
	s.queue = newChunkQueue()
	s.group = group
	s.groupStop = cancel
	s.streamCtx = streamCtx
	s.streamCancel = cancel
	s.mu.Unlock()

	group.Go(func() error {
		s.forwardLoop(gctx)
		return nil
	})
}

func (s *Service) forwardLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		q := s.queue
		s.mu.Unlock()
		if q == nil {
			return
		}
		chunk, ok := q.pop()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.processChunk(chunk)
	}
}

func (s *Service) processChunk(chunk audio.Chunk) {
	s.mu.Lock()
	provider := s.provider
	filter := s.filter
	gate := s.gate
	s.mu.Unlock()
	if provider == nil {
		return
	}

	decision := filter.Evaluate(chunk.Samples)
	if decision.ReportLevel {
		s.emit(Event{Type: EventAudioLevel, Data: decision.Level})
	}
	if decision.Drop {
		return
	}

	for _, result := range gate.Process(chunk.Samples) {
		if result == vad.ResultSilenceTimeout {
			go func() { _ = s.StopRecording(false) }()
			return
		}
	}

	if err := provider.SendAudio(chunk.Samples); err != nil {
		category := CategoryInternal
		if se, ok := err.(*SttError); ok {
			category = se.Category
		}
		s.handleProviderError(err.Error(), category)
	}
}

// SendAudio is the C1 onChunk callback target: it never blocks the caller
// beyond a mutex hold, so it is safe to invoke directly from the audio
// device thread (spec §4.1/§9).
func (s *Service) SendAudio(chunk audio.Chunk) {
	s.mu.Lock()
	q := s.queue
	status := s.status
	s.mu.Unlock()
	if q == nil || status != StatusRecording {
		return
	}
	q.push(chunk)
}

func (s *Service) stopForwarding() {
	s.mu.Lock()
	q := s.queue
	cancel := s.groupStop
	group := s.group
	s.queue = nil
	s.group = nil
	s.groupStop = nil
	s.mu.Unlock()

	if q != nil {
		q.close()
	}
	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}
}

// StopRecording transitions Recording -> Processing -> Idle. If keep-alive
// is configured and the provider supports it, the connection is paused
// rather than closed and torn down only after KeepAliveIdleTimeout of
// inactivity (spec §4.5, SPEC_FULL §12).
func (s *Service) StopRecording(stoppedViaHotkey bool) error {
	s.mu.Lock()
	if s.status != StatusRecording {
		s.mu.Unlock()
		return ErrNotRecording
	}
	s.status = StatusProcessing
	provider := s.provider
	s.mu.Unlock()
	s.emit(Event{Type: EventRecordingStatus, Data: RecordingStatusEvent{Status: StatusProcessing}})

	s.stopForwarding()

	ctx := context.Background()
	if provider != nil {
		if s.cfg.Stt.KeepConnectionAlive && provider.SupportsKeepAlive() {
			if err := provider.PauseStream(); err != nil {
				s.log.Warn("transcription: pause failed, closing stream", "err", err)
				_ = provider.StopStream(ctx)
			} else {
				s.armKeepAliveTeardown(provider)
			}
		} else {
			_ = provider.StopStream(ctx)
		}
	}

	s.mu.Lock()
	s.status = StatusIdle
	s.mu.Unlock()
	s.emit(Event{Type: EventRecordingStatus, Data: RecordingStatusEvent{Status: StatusIdle, StoppedViaHotkey: stoppedViaHotkey}})
	return nil
}

func (s *Service) armKeepAliveTeardown(provider Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keepAliveTimer != nil {
		s.keepAliveTimer.Stop()
	}
	s.keepAliveTimer = time.AfterFunc(KeepAliveIdleTimeout, func() {
		s.mu.Lock()
		same := s.provider == provider && s.status == StatusIdle
		s.mu.Unlock()
		if same {
			provider.Abort()
		}
	})
}

// Shutdown tears everything down unconditionally; used on process exit.
func (s *Service) Shutdown() {
	s.stopForwarding()
	s.mu.Lock()
	provider := s.provider
	if s.keepAliveTimer != nil {
		s.keepAliveTimer.Stop()
	}
	s.mu.Unlock()
	if provider != nil {
		provider.Abort()
	}
	close(s.events)
}
