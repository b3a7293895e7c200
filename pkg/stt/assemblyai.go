package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/voice-core/pkg/audio"
	"github.com/lokutor-ai/voice-core/pkg/transcription"
)

const (
	assemblyAIHost         = "streaming.assemblyai.com"
	assemblyAIPath         = "/v3/ws"
	assemblyAIBatchSamples = 800 // ~50ms at 16kHz
	assemblyAIReadyTimeout = 5 * time.Second
)

// AssemblyAIProvider streams PCM to the AssemblyAI v3 Universal-Streaming
// endpoint. Does not support keep-alive: AssemblyAI's billing model forbids
// idle persistent connections (spec §4.4.2).
type AssemblyAIProvider struct {
	mu     sync.RWMutex
	apiKey string
	cfg    transcription.SttConfig

	sink      *sink
	streaming bool

	ready chan struct{}

	receiverDone chan struct{}

	audioMu  sync.Mutex
	audioBuf []int16

	onPartial transcription.PartialCallback
	onFinal   transcription.FinalCallback
	onError   transcription.ErrorCallback
	onQuality transcription.QualityCallback
}

func NewAssemblyAIProvider() *AssemblyAIProvider {
	return &AssemblyAIProvider{}
}

func (p *AssemblyAIProvider) Name() string           { return "assemblyai" }
func (p *AssemblyAIProvider) SupportsStreaming() bool { return true }
func (p *AssemblyAIProvider) SupportsKeepAlive() bool { return false }
func (p *AssemblyAIProvider) IsOnline() bool          { return true }

func (p *AssemblyAIProvider) IsConnectionAlive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.streaming && p.sink != nil && !p.sink.IsClosed()
}

func (p *AssemblyAIProvider) Initialize(ctx context.Context, cfg transcription.SttConfig) error {
	if cfg.APIKey == "" {
		return transcription.NewConfigurationError("API key is required for AssemblyAI")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apiKey = cfg.APIKey
	p.cfg = cfg
	return nil
}

func (p *AssemblyAIProvider) StartStream(ctx context.Context, onPartial transcription.PartialCallback, onFinal transcription.FinalCallback, onError transcription.ErrorCallback, onQuality transcription.QualityCallback) error {
	p.mu.Lock()
	if p.streaming {
		p.mu.Unlock()
		return transcription.NewProcessingError("stream already active")
	}
	cfg := p.cfg
	apiKey := p.apiKey
	p.mu.Unlock()

	u := assemblyAIURL(cfg.Language)
	header := http.Header{}
	header.Set("Authorization", apiKey)

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return transcription.NewConnectionError(fmt.Sprintf("assemblyai connection failed: %v", err), transcription.ConnectionDetails{Category: transcription.ConnRefused})
	}

	sk := newSink(conn)
	done := make(chan struct{})
	ready := make(chan struct{})

	p.mu.Lock()
	p.sink = sk
	p.streaming = true
	p.ready = ready
	p.receiverDone = done
	p.onPartial, p.onFinal, p.onError, p.onQuality = onPartial, onFinal, onError, onQuality
	p.mu.Unlock()

	p.audioMu.Lock()
	p.audioBuf = p.audioBuf[:0]
	p.audioMu.Unlock()

	go p.receiveLoop(conn, sk, done, ready)

	select {
	case <-ready:
		return nil
	case <-time.After(assemblyAIReadyTimeout):
		sk.Close(websocket.StatusAbnormalClosure, "timeout")
		p.mu.Lock()
		p.streaming = false
		p.mu.Unlock()
		return transcription.NewConnectionError("Timeout waiting for SessionBegins", transcription.ConnectionDetails{Category: transcription.ConnTimeout})
	}
}

func (p *AssemblyAIProvider) receiveLoop(conn *websocket.Conn, sk *sink, done, ready chan struct{}) {
	defer close(done)
	ctx := context.Background()
	var readyClosed bool
	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			sk.MarkClosed()
			p.mu.Lock()
			p.streaming = false
			onErr := p.onError
			p.mu.Unlock()
			if onErr != nil {
				onErr(err.Error(), transcription.CategoryConnection)
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var env struct {
			Type                 string  `json:"type"`
			Transcript           string  `json:"transcript"`
			EndOfTurn            bool    `json:"end_of_turn"`
			EndOfTurnConfidence  float64 `json:"end_of_turn_confidence"`
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}

		switch env.Type {
		case "Begin":
			if !readyClosed {
				readyClosed = true
				close(ready)
			}
		case "Turn":
			if env.Transcript == "" {
				continue
			}
			conf := env.EndOfTurnConfidence
			t := transcription.Transcription{Text: env.Transcript, IsFinal: env.EndOfTurn, Confidence: &conf}

			p.mu.RLock()
			onPartial, onFinal := p.onPartial, p.onFinal
			p.mu.RUnlock()

			if env.EndOfTurn {
				if onFinal != nil {
					onFinal(t)
				}
			} else if onPartial != nil {
				onPartial(t)
			}
		case "End", "SessionTerminated":
			return
		case "Error":
			// not surfaced here; only if the server then closes the socket
			// does the read-error path at the top of the loop call onError.
		}
	}
}

func (p *AssemblyAIProvider) SendAudio(chunk []int16) error {
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
	if len(p.audioBuf) >= assemblyAIBatchSamples {
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

func (p *AssemblyAIProvider) StopStream(ctx context.Context) error {
	p.mu.Lock()
	sk := p.sink
	done := p.receiverDone
	p.streaming = false
	p.mu.Unlock()

	if sk == nil {
		return nil
	}

	p.audioMu.Lock()
	residual := p.audioBuf
	p.audioBuf = nil
	p.audioMu.Unlock()
	if len(residual) > 0 {
		_ = sk.WriteBinary(ctx, audio.EncodeLE16(residual))
	}

	_ = sk.WriteJSON(ctx, map[string]bool{"terminate_session": true})
	sk.Close(websocket.StatusNormalClosure, "")

	if done != nil {
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil
}

func (p *AssemblyAIProvider) Abort() {
	p.mu.Lock()
	sk := p.sink
	p.streaming = false
	p.mu.Unlock()
	if sk != nil {
		sk.Close(websocket.StatusAbnormalClosure, "abort")
	}
}

func (p *AssemblyAIProvider) PauseStream() error {
	return transcription.NewUnsupportedError("assemblyai does not support keep-alive pause")
}

func (p *AssemblyAIProvider) ResumeStream(transcription.PartialCallback, transcription.FinalCallback) error {
	return transcription.NewUnsupportedError("assemblyai does not support keep-alive resume")
}

func assemblyAIURL(language string) string {
	q := url.Values{}
	q.Set("sample_rate", "16000")
	q.Set("encoding", "pcm_s16le")
	q.Set("language_code", language)
	u := url.URL{Scheme: "wss", Host: assemblyAIHost, Path: assemblyAIPath, RawQuery: q.Encode()}
	return u.String()
}
