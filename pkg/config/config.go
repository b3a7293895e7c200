// Package config loads runtime configuration from .env plus the process
// environment: a best-effort godotenv.Load() followed by plain os.Getenv
// reads.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/lokutor-ai/voice-core/pkg/transcription"
)

// Load reads .env (if present) and the environment into an AppConfig.
// Credential precedence: a user-supplied key (STT_API_KEY) always wins over
// a build-embedded default (EMBEDDED_STT_API_KEY), and that precedence is
// logged rather than silently applied (SPEC_FULL §13).
func Load(log transcription.Logger) (transcription.AppConfig, error) {
	if log == nil {
		log = transcription.NoOpLogger{}
	}

	if err := godotenv.Load(); err != nil {
		log.Info("config: no .env file found, using process environment")
	}

	providerName := os.Getenv("STT_PROVIDER")
	if providerName == "" {
		providerName = "deepgram"
	}
	provider := transcription.ProviderKind(providerName)
	switch provider {
	case transcription.ProviderDeepgram, transcription.ProviderAssembly, transcription.ProviderBackend:
	default:
		return transcription.AppConfig{}, fmt.Errorf("config: unknown STT_PROVIDER %q", providerName)
	}

	apiKey := os.Getenv("STT_API_KEY")
	embeddedKey := os.Getenv("EMBEDDED_STT_API_KEY")
	if apiKey != "" {
		if embeddedKey != "" {
			log.Info("config: using user-supplied STT_API_KEY over the embedded default")
		}
	} else if embeddedKey != "" {
		apiKey = embeddedKey
		log.Info("config: no STT_API_KEY set, falling back to the embedded default")
	}

	lang := os.Getenv("STT_LANGUAGE")
	if lang == "" {
		lang = "en"
	}

	upstreamName := os.Getenv("STT_UPSTREAM_PROVIDER")
	if upstreamName == "" {
		upstreamName = "deepgram"
	}
	upstream := transcription.ProviderKind(upstreamName)
	if provider == transcription.ProviderBackend {
		switch upstream {
		case transcription.ProviderDeepgram, transcription.ProviderAssembly:
		default:
			return transcription.AppConfig{}, fmt.Errorf("config: unknown STT_UPSTREAM_PROVIDER %q", upstreamName)
		}
	}

	cfg := transcription.AppConfig{
		MicSensitivity:      envInt("MIC_SENSITIVITY", 100, log),
		VadSilenceTimeoutMs: int64(envInt("VAD_SILENCE_TIMEOUT_MS", 0, log)),
		Stt: transcription.SttConfig{
			Provider:            provider,
			Language:            lang,
			Model:               os.Getenv("STT_MODEL"),
			APIKey:              apiKey,
			KeepConnectionAlive: envBool("STT_KEEP_ALIVE", true, log),
			BackendBaseURL:      backendBaseURL(),
			UpstreamProvider:    upstream,
			Debug:               envBool("DEBUG", false, log),
		},
	}
	cfg.Clamp()
	return cfg, nil
}

func backendBaseURL() string {
	if v := os.Getenv("BACKEND_BASE_URL"); v != "" {
		return v
	}
	return "https://api.lokutor.ai"
}

func envInt(key string, def int, log transcription.Logger) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("config: invalid integer, using default", "key", key, "value", v)
		return def
	}
	return n
}

func envBool(key string, def bool, log transcription.Logger) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn("config: invalid boolean, using default", "key", key, "value", v)
		return def
	}
	return b
}
