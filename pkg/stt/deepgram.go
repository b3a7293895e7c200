package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/voice-core/pkg/audio"
	"github.com/lokutor-ai/voice-core/pkg/transcription"
)

const (
	deepgramHost           = "api.deepgram.com"
	deepgramPath           = "/v1/listen"
	deepgramBatchSamples   = 800 // ~50ms at 16kHz
	deepgramKeepAlivePeriod = 5 * time.Second
	deepgramCloseGrace     = 1 * time.Second
)

// deepgramNova3Languages selects the nova-3 model; anything else gets
// nova-2 unless the config overrides the model explicitly (spec §4.4.1).
var deepgramNova3Languages = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "pt": true, "it": true, "nl": true,
}

// DeepgramProvider streams PCM to wss://api.deepgram.com/v1/listen.
type DeepgramProvider struct {
	mu     sync.RWMutex
	apiKey string
	cfg    transcription.SttConfig

	sink      *sink
	streaming bool
	paused    bool

	receiverDone    chan struct{}
	keepAliveCancel context.CancelFunc

	audioMu  sync.Mutex
	audioBuf []int16

	onPartial transcription.PartialCallback
	onFinal   transcription.FinalCallback
	onError   transcription.ErrorCallback
	onQuality transcription.QualityCallback
}

func NewDeepgramProvider() *DeepgramProvider {
	return &DeepgramProvider{}
}

func (p *DeepgramProvider) Name() string             { return "deepgram" }
func (p *DeepgramProvider) SupportsStreaming() bool   { return true }
func (p *DeepgramProvider) SupportsKeepAlive() bool   { return true }
func (p *DeepgramProvider) IsOnline() bool            { return true }

func (p *DeepgramProvider) IsConnectionAlive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.streaming && p.paused && p.sink != nil && !p.sink.IsClosed()
}

func (p *DeepgramProvider) Initialize(ctx context.Context, cfg transcription.SttConfig) error {
	if cfg.APIKey == "" {
		return transcription.NewConfigurationError("API key is required for Deepgram")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apiKey = cfg.APIKey
	p.cfg = cfg
	return nil
}

func (p *DeepgramProvider) StartStream(ctx context.Context, onPartial transcription.PartialCallback, onFinal transcription.FinalCallback, onError transcription.ErrorCallback, onQuality transcription.QualityCallback) error {
	p.mu.Lock()
	if p.streaming {
		p.mu.Unlock()
		return transcription.NewProcessingError("stream already active")
	}
	cfg := p.cfg
	apiKey := p.apiKey
	p.mu.Unlock()

	model := cfg.Model
	if model == "" {
		if deepgramNova3Languages[cfg.Language] {
			model = "nova-3"
		} else {
			model = "nova-2"
		}
	}

	u := deepgramURL(cfg.Language, model)

	header := http.Header{}
	header.Set("Authorization", "Token "+apiKey)

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return transcription.NewConnectionError(fmt.Sprintf("deepgram connection failed: %v", err), transcription.ConnectionDetails{Category: transcription.ConnRefused})
	}

	sk := newSink(conn)
	done := make(chan struct{})

	p.mu.Lock()
	p.sink = sk
	p.streaming = true
	p.paused = false
	p.onPartial, p.onFinal, p.onError, p.onQuality = onPartial, onFinal, onError, onQuality
	p.receiverDone = done
	p.mu.Unlock()

	p.audioMu.Lock()
	p.audioBuf = p.audioBuf[:0]
	p.audioMu.Unlock()

	go p.receiveLoop(conn, sk, done)

	kaCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.keepAliveCancel = cancel
	p.mu.Unlock()
	go p.keepAliveLoop(kaCtx, sk)

	return nil
}

func (p *DeepgramProvider) keepAliveLoop(ctx context.Context, sk *sink) {
	t := time.NewTicker(deepgramKeepAlivePeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = sk.WriteJSON(ctx, map[string]string{"type": "KeepAlive"})
		}
	}
}

func (p *DeepgramProvider) receiveLoop(conn *websocket.Conn, sk *sink, done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			sk.MarkClosed()
			p.mu.Lock()
			p.streaming = false
			onErr := p.onError
			p.mu.Unlock()
			if onErr != nil {
				category, msg := classifyCloseError(err)
				onErr(msg, category)
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		p.handleMessage(payload)
	}
}

func (p *DeepgramProvider) handleMessage(payload []byte) {
	var env struct {
		Type    string `json:"type"`
		Channel struct {
			Alternatives []struct {
				Transcript string   `json:"transcript"`
				Confidence float64  `json:"confidence"`
				Languages  []string `json:"languages"`
			} `json:"alternatives"`
		} `json:"channel"`
		IsFinal     bool    `json:"is_final"`
		SpeechFinal bool    `json:"speech_final"`
		Start       float64 `json:"start"`
		Duration    float64 `json:"duration"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}

	p.mu.RLock()
	onPartial, onFinal, onQuality := p.onPartial, p.onFinal, p.onQuality
	p.mu.RUnlock()

	switch env.Type {
	case "Metadata":
		if onQuality != nil {
			onQuality(transcription.QualityGood)
		}
	case "Results":
		if len(env.Channel.Alternatives) == 0 {
			return
		}
		alt := env.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}
		lang := ""
		if len(alt.Languages) > 0 {
			lang = alt.Languages[0]
		}
		conf := alt.Confidence
		t := transcription.Transcription{
			Text:             alt.Transcript,
			IsFinal:          env.IsFinal,
			Confidence:       &conf,
			DetectedLanguage: lang,
			TimestampMs:      int64(env.Start * 1000),
		}
		if env.IsFinal && env.SpeechFinal {
			if onFinal != nil {
				onFinal(t)
			}
		} else if onPartial != nil {
			onPartial(t)
		}
	case "Error":
		// not logged or surfaced here; if the server then closes the socket,
		// receiveLoop reports the close through onError.
	}
}

func (p *DeepgramProvider) SendAudio(chunk []int16) error {
	p.mu.RLock()
	sk := p.sink
	streaming := p.streaming
	p.mu.RUnlock()

	if !streaming || sk == nil {
		return transcription.NewProcessingError("not streaming")
	}
	if sk.IsClosed() {
		return transcription.NewConnectionError("connection closed", transcription.ConnectionDetails{Category: transcription.ConnClosed})
	}

	p.audioMu.Lock()
	p.audioBuf = append(p.audioBuf, chunk...)
	var toSend []int16
	if len(p.audioBuf) >= deepgramBatchSamples {
		toSend = p.audioBuf
		p.audioBuf = nil
	}
	p.audioMu.Unlock()

	if toSend == nil {
		return nil
	}

	if err := sk.WriteBinary(context.Background(), audio.EncodeLE16(toSend)); err != nil {
		return transcription.NewConnectionError("failed to send audio: "+err.Error(), transcription.ConnectionDetails{Category: transcription.ConnUnknown})
	}
	return nil
}

func (p *DeepgramProvider) StopStream(ctx context.Context) error {
	p.mu.Lock()
	sk := p.sink
	done := p.receiverDone
	cancelKA := p.keepAliveCancel
	p.streaming = false
	p.mu.Unlock()

	if sk == nil {
		return nil
	}

	_ = sk.WriteJSON(ctx, map[string]string{"type": "CloseStream"})

	if done != nil {
		select {
		case <-done:
		case <-time.After(deepgramCloseGrace):
		}
	}
	if cancelKA != nil {
		cancelKA()
	}
	sk.Close(websocket.StatusNormalClosure, "")
	return nil
}

func (p *DeepgramProvider) Abort() {
	p.mu.Lock()
	sk := p.sink
	cancelKA := p.keepAliveCancel
	p.streaming = false
	p.mu.Unlock()

	if cancelKA != nil {
		cancelKA()
	}
	if sk != nil {
		sk.Close(websocket.StatusAbnormalClosure, "abort")
	}
}

func (p *DeepgramProvider) PauseStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.streaming {
		return transcription.NewProcessingError("not streaming")
	}
	p.paused = true
	return nil
}

func (p *DeepgramProvider) ResumeStream(onPartial transcription.PartialCallback, onFinal transcription.FinalCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sink == nil || p.sink.IsClosed() {
		return transcription.NewConnectionError("connection is not alive", transcription.ConnectionDetails{Category: transcription.ConnClosed})
	}
	p.paused = false
	p.onPartial = onPartial
	p.onFinal = onFinal
	return nil
}

func deepgramURL(language, model string) string {
	q := url.Values{}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", "16000")
	q.Set("channels", "1")
	q.Set("model", model)
	q.Set("language", language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	u := url.URL{Scheme: "wss", Host: deepgramHost, Path: deepgramPath, RawQuery: q.Encode()}
	return u.String()
}

// classifyCloseError applies the reason-substring fallback classification
// spec §4.4.1/§9 call for when a structured close code isn't available.
func classifyCloseError(err error) (transcription.ErrorCategory, string) {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "net0001"):
		return transcription.CategoryConnection, msg
	case strings.Contains(lower, "auth") || strings.Contains(lower, "401"):
		return transcription.CategoryAuthentication, msg
	default:
		return transcription.CategoryConnection, msg
	}
}
