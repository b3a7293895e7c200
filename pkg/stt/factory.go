package stt

import (
	"fmt"

	"github.com/lokutor-ai/voice-core/pkg/transcription"
)

// New builds the Provider named by cfg.Provider. It satisfies
// transcription.ProviderFactory so Service never imports this package
// directly.
func New(cfg transcription.SttConfig) (transcription.Provider, error) {
	switch cfg.Provider {
	case transcription.ProviderDeepgram:
		return NewDeepgramProvider(), nil
	case transcription.ProviderAssembly:
		return NewAssemblyAIProvider(), nil
	case transcription.ProviderBackend:
		return NewBackendProvider(), nil
	default:
		return nil, transcription.NewConfigurationError(fmt.Sprintf("unknown STT provider %q", cfg.Provider))
	}
}
