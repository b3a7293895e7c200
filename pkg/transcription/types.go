// Package transcription ties audio capture, voice-activity detection, and a
// streaming STT provider together into the lifecycle the rest of the app
// drives: start recording, receive partial/final transcripts, stop.
package transcription

// Logger is the minimal structured-logging surface every component takes
// instead of reaching for a global logger.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Useful as a zero-value-friendly default.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, args ...interface{}) {}
func (NoOpLogger) Info(msg string, args ...interface{})  {}
func (NoOpLogger) Warn(msg string, args ...interface{})  {}
func (NoOpLogger) Error(msg string, args ...interface{}) {}

// ProviderKind enumerates the supported STT back ends.
type ProviderKind string

const (
	ProviderDeepgram ProviderKind = "deepgram"
	ProviderAssembly ProviderKind = "assemblyai"
	ProviderBackend  ProviderKind = "backend"
)

// ConnectionQuality is reported through the quality callback.
type ConnectionQuality string

const (
	QualityGood       ConnectionQuality = "good"
	QualityPoor       ConnectionQuality = "poor"
	QualityRecovering ConnectionQuality = "recovering"
)

// RecordingStatus is the five-state lifecycle owned by Service.
type RecordingStatus string

const (
	StatusIdle       RecordingStatus = "idle"
	StatusStarting   RecordingStatus = "starting"
	StatusRecording  RecordingStatus = "recording"
	StatusProcessing RecordingStatus = "processing"
	StatusError      RecordingStatus = "error"
)

// EventType enumerates the UI-bound events the service emits (spec §4.6).
type EventType string

const (
	EventTranscriptPartial EventType = "TRANSCRIPT_PARTIAL"
	EventTranscriptFinal   EventType = "TRANSCRIPT_FINAL"
	EventRecordingStatus   EventType = "RECORDING_STATUS"
	EventAudioLevel        EventType = "AUDIO_LEVEL"
	EventMicTestLevel      EventType = "MIC_TEST_LEVEL"
	EventTranscriptError   EventType = "TRANSCRIPT_ERROR"
	EventConnectionQuality EventType = "CONNECTION_QUALITY"
	EventUsageUpdate       EventType = "USAGE_UPDATE"
)

// Event is the envelope delivered to external listeners (C6).
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Transcription is produced by an STT provider (spec §3).
type Transcription struct {
	Text             string
	IsFinal          bool
	Confidence       *float64
	DetectedLanguage string
	TimestampMs      int64
}

// RecordingStatusEvent is the payload of EventRecordingStatus.
type RecordingStatusEvent struct {
	Status          RecordingStatus `json:"status"`
	StoppedViaHotkey bool           `json:"stopped_via_hotkey"`
}

// TranscriptErrorEvent is the payload of EventTranscriptError.
type TranscriptErrorEvent struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// UsageUpdateEvent mirrors the backend relay's optional usage_update message.
type UsageUpdateEvent struct {
	SecondsUsed         float64 `json:"seconds_used"`
	SecondsRemainingPlan float64 `json:"seconds_remaining_plan"`
}

// SttConfig is the configuration used to construct a provider (spec §3).
type SttConfig struct {
	Provider            ProviderKind
	Language            string
	Model               string
	APIKey              string
	KeepConnectionAlive bool

	// BackendBaseURL, UpstreamProvider, and Debug are specific to the
	// backend-relay provider (spec §4.4.3 / SPEC_FULL §12).
	// UpstreamProvider names the real STT engine the relay should route the
	// session to (ProviderDeepgram or ProviderAssembly); "backend" itself is
	// never a valid routing target.
	BackendBaseURL   string
	UpstreamProvider ProviderKind
	Debug            bool
}

// AppConfig is the configuration the service consults (spec §3).
type AppConfig struct {
	MicSensitivity   int // 0-200, clamped
	VadSilenceTimeoutMs int64
	Stt              SttConfig
}

// Clamp normalizes MicSensitivity into [0, 200].
func (c *AppConfig) Clamp() {
	if c.MicSensitivity < 0 {
		c.MicSensitivity = 0
	}
	if c.MicSensitivity > 200 {
		c.MicSensitivity = 200
	}
}
