package transcription

import "context"

// ErrorCategory is the structured taxonomy crossed to the UI (spec §4.4/§7).
// Authentication and Configuration are critical; the rest are recoverable.
type ErrorCategory string

const (
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryConnection     ErrorCategory = "connection"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryProcessing     ErrorCategory = "processing"
	CategoryUnsupported    ErrorCategory = "unsupported"
	CategoryInternal       ErrorCategory = "internal"
)

// IsCritical reports whether the service must transition to StatusError and
// stop the processor loop on this category.
func (c ErrorCategory) IsCritical() bool {
	return c == CategoryAuthentication || c == CategoryConfiguration
}

// ConnectionCategory further classifies a Connection error (spec §4.4).
type ConnectionCategory string

const (
	ConnOffline           ConnectionCategory = "offline"
	ConnDNS               ConnectionCategory = "dns"
	ConnTLS               ConnectionCategory = "tls"
	ConnRefused           ConnectionCategory = "refused"
	ConnReset             ConnectionCategory = "reset"
	ConnTimeout           ConnectionCategory = "timeout"
	ConnHTTP              ConnectionCategory = "http"
	ConnServerUnavailable ConnectionCategory = "server_unavailable"
	ConnClosed            ConnectionCategory = "closed"
	ConnUnknown           ConnectionCategory = "unknown"
)

// ConnectionDetails carries the optional diagnostic fields for a Connection
// error (spec §4.4).
type ConnectionDetails struct {
	Category      ConnectionCategory
	HTTPStatus    *int
	WSCloseCode   *int
	OSErrorKind   string
	ServerCode    string
}

// SttError is the structured error every provider returns instead of a bare
// string, so the service never has to substring-match a message (spec §9).
type SttError struct {
	Category   ErrorCategory
	Message    string
	Connection *ConnectionDetails
}

func (e *SttError) Error() string {
	return e.Message
}

func NewConfigurationError(msg string) *SttError {
	return &SttError{Category: CategoryConfiguration, Message: msg}
}

func NewAuthenticationError(msg string) *SttError {
	return &SttError{Category: CategoryAuthentication, Message: msg}
}

func NewProcessingError(msg string) *SttError {
	return &SttError{Category: CategoryProcessing, Message: msg}
}

func NewUnsupportedError(msg string) *SttError {
	return &SttError{Category: CategoryUnsupported, Message: msg}
}

func NewInternalError(msg string) *SttError {
	return &SttError{Category: CategoryInternal, Message: msg}
}

func NewConnectionError(msg string, details ConnectionDetails) *SttError {
	d := details
	return &SttError{Category: CategoryConnection, Message: msg, Connection: &d}
}

// PartialCallback delivers a transcription that may still change, or a
// segment finalisation (is_final=true, utterance still open).
type PartialCallback func(Transcription)

// FinalCallback delivers a committed, utterance-closing transcription.
type FinalCallback func(Transcription)

// ErrorCallback reports a provider error with its structured category.
type ErrorCallback func(message string, category ErrorCategory)

// QualityCallback reports a coarse connection-quality signal (spec §4.6).
type QualityCallback func(ConnectionQuality)

// UsageCallback reports backend-relay usage accounting (SPEC_FULL §12).
// Providers that don't emit usage data simply never invoke it.
type UsageCallback func(UsageUpdateEvent)

// Provider is the common STT interface implemented by every back end
// (spec §4.4). Implementations live in package stt.
type Provider interface {
	Initialize(ctx context.Context, cfg SttConfig) error

	StartStream(ctx context.Context, onPartial PartialCallback, onFinal FinalCallback, onError ErrorCallback, onQuality QualityCallback) error

	SendAudio(chunk []int16) error

	StopStream(ctx context.Context) error

	Abort()

	PauseStream() error

	ResumeStream(onPartial PartialCallback, onFinal FinalCallback) error

	Name() string
	SupportsStreaming() bool
	SupportsKeepAlive() bool
	IsConnectionAlive() bool
	IsOnline() bool
}

// ProviderFactory builds a fresh Provider for the given configuration. The
// service is constructed with one so it never imports package stt directly
// (keeps the dependency direction stt -> transcription, not both ways).
type ProviderFactory func(cfg SttConfig) (Provider, error)
