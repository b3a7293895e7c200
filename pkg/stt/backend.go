package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
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
	backendStreamPath = "/api/v1/transcribe/stream"
	backendDevToken    = "dev-local-token"

	backendFrameSamples = 480 // 30ms at 16kHz
	backendMinFrames    = 1
	backendMaxFrames    = 10
	backendMaxBatchWait = 30 * time.Millisecond
	backendMinSendGap   = 25 * time.Millisecond

	backendKeepAlivePeriod = 20 * time.Second
)

// BackendProvider streams PCM to the in-house relay at
// <base>/api/v1/transcribe/stream: JSON control frames plus adaptively
// batched binary PCM (spec §4.4.3).
type BackendProvider struct {
	mu    sync.RWMutex
	token string
	cfg   transcription.SttConfig

	sink           *sink
	streaming      bool
	paused         bool
	receiverAlive  bool
	keepAliveAlive bool

	receiverDone    chan struct{}
	keepAliveCancel context.CancelFunc
	flushCancel     context.CancelFunc

	batchMu    sync.Mutex
	frameBuf   []int16  // residual samples not yet a whole 480-sample frame
	pending    [][]byte // queued 960-byte frames awaiting a batched send
	batchStart time.Time
	lastSentAt time.Time

	onPartial transcription.PartialCallback
	onFinal   transcription.FinalCallback
	onError   transcription.ErrorCallback
	onQuality transcription.QualityCallback
	onUsage   transcription.UsageCallback
}

func NewBackendProvider() *BackendProvider {
	return &BackendProvider{}
}

func (p *BackendProvider) Name() string           { return "backend" }
func (p *BackendProvider) SupportsStreaming() bool { return true }
func (p *BackendProvider) SupportsKeepAlive() bool { return true }
func (p *BackendProvider) IsOnline() bool          { return true }

// IsConnectionAlive requires streaming, paused, an open sink, and both
// background tasks still running (spec §4.4.3).
func (p *BackendProvider) IsConnectionAlive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.streaming && p.paused && p.sink != nil && !p.sink.IsClosed() && p.receiverAlive && p.keepAliveAlive
}

// OnUsage registers the optional usage_update callback (SPEC_FULL §12).
func (p *BackendProvider) OnUsage(cb transcription.UsageCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUsage = cb
}

func (p *BackendProvider) Initialize(ctx context.Context, cfg transcription.SttConfig) error {
	if cfg.APIKey == "" {
		return transcription.NewConfigurationError("API key is required for the backend relay")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = cfg.APIKey
	p.cfg = cfg
	return nil
}

func (p *BackendProvider) StartStream(ctx context.Context, onPartial transcription.PartialCallback, onFinal transcription.FinalCallback, onError transcription.ErrorCallback, onQuality transcription.QualityCallback) error {
	p.mu.Lock()
	if p.streaming {
		p.mu.Unlock()
		return transcription.NewProcessingError("stream already active")
	}
	cfg := p.cfg
	token := p.token
	p.mu.Unlock()

	host, scheme, err := splitBaseURL(cfg.BackendBaseURL)
	if err != nil {
		return transcription.NewConfigurationError("invalid backend base URL: " + err.Error())
	}
	if cfg.Debug && isLocalHost(host) {
		token = backendDevToken
	}

	u := url.URL{Scheme: wsScheme(scheme), Host: host, Path: backendStreamPath}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return transcription.NewAuthenticationError("token is invalid or expired")
		}
		return transcription.NewConnectionError(fmt.Sprintf("backend connection failed: %v", err), transcription.ConnectionDetails{Category: transcription.ConnRefused})
	}

	sk := newSink(conn)
	done := make(chan struct{})

	p.mu.Lock()
	p.sink = sk
	p.streaming = true
	p.paused = false
	p.receiverAlive = true
	p.keepAliveAlive = true
	p.receiverDone = done
	p.onPartial, p.onFinal, p.onError, p.onQuality = onPartial, onFinal, onError, onQuality
	p.mu.Unlock()

	p.batchMu.Lock()
	p.frameBuf = nil
	p.pending = nil
	p.lastSentAt = time.Time{}
	p.batchMu.Unlock()

	_ = sk.WriteJSON(ctx, map[string]interface{}{
		"type":        "config",
		"protocol_v":  1,
		"provider":    string(cfg.UpstreamProvider),
		"language":    cfg.Language,
		"sample_rate": 16000,
		"channels":    1,
		"encoding":    "pcm_s16le",
	})

	go p.receiveLoop(conn, sk, done)

	kaCtx, kaCancel := context.WithCancel(context.Background())
	flushCtx, flushCancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.keepAliveCancel = kaCancel
	p.flushCancel = flushCancel
	p.mu.Unlock()
	go p.keepAliveLoop(kaCtx, sk)
	go p.flushLoop(flushCtx, sk)

	return nil
}

func (p *BackendProvider) keepAliveLoop(ctx context.Context, sk *sink) {
	defer func() {
		p.mu.Lock()
		p.keepAliveAlive = false
		p.mu.Unlock()
	}()
	t := time.NewTicker(backendKeepAlivePeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := sk.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// flushLoop attempts an age-based flush periodically so a batch never
// stalls waiting on the next SendAudio call.
func (p *BackendProvider) flushLoop(ctx context.Context, sk *sink) {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.tryFlush(sk)
		}
	}
}

func (p *BackendProvider) receiveLoop(conn *websocket.Conn, sk *sink, done chan struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		p.receiverAlive = false
		p.mu.Unlock()
	}()
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
				onErr(err.Error(), transcription.CategoryConnection)
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		p.handleMessage(payload)
	}
}

func (p *BackendProvider) handleMessage(payload []byte) {
	var env struct {
		Type       string   `json:"type"`
		Text       string   `json:"text"`
		Confidence *float64 `json:"confidence"`
		DurationMs int64    `json:"duration_ms"`
		Message    string   `json:"message"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}

	p.mu.RLock()
	onPartial, onFinal, onError, onQuality, onUsage := p.onPartial, p.onFinal, p.onError, p.onQuality, p.onUsage
	p.mu.RUnlock()

	switch env.Type {
	case "ready", "resumed":
		if onQuality != nil {
			onQuality(transcription.QualityGood)
		}
	case "ack":
		// trace only.
	case "partial":
		if onPartial != nil {
			onPartial(transcription.Transcription{Text: env.Text, IsFinal: false, Confidence: env.Confidence})
		}
	case "final":
		if onFinal != nil {
			onFinal(transcription.Transcription{Text: env.Text, IsFinal: true, Confidence: env.Confidence, TimestampMs: env.DurationMs})
		}
	case "usage_update":
		if onUsage != nil {
			var u struct {
				SecondsUsed          float64 `json:"seconds_used"`
				SecondsRemainingPlan float64 `json:"seconds_remaining_plan"`
			}
			if json.Unmarshal(payload, &u) == nil {
				onUsage(transcription.UsageUpdateEvent{SecondsUsed: u.SecondsUsed, SecondsRemainingPlan: u.SecondsRemainingPlan})
			}
		}
	case "error":
		if onError != nil {
			onError(env.Message, transcription.CategoryProcessing)
		}
	}
}

// SendAudio slices the chunk into 480-sample frames and queues them for
// adaptive batching; while paused the audio is dropped on the floor.
func (p *BackendProvider) SendAudio(chunk []int16) error {
	p.mu.RLock()
	sk := p.sink
	streaming := p.streaming
	paused := p.paused
	p.mu.RUnlock()

	if !streaming || sk == nil {
		return transcription.NewProcessingError("not streaming")
	}
	if sk.IsClosed() {
		return transcription.NewConnectionError("connection closed", transcription.ConnectionDetails{Category: transcription.ConnClosed})
	}
	if paused {
		return nil
	}

	p.batchMu.Lock()
	p.frameBuf = append(p.frameBuf, chunk...)
	for len(p.frameBuf) >= backendFrameSamples {
		frame := p.frameBuf[:backendFrameSamples]
		p.frameBuf = p.frameBuf[backendFrameSamples:]
		if len(p.pending) == 0 {
			p.batchStart = time.Now()
		}
		p.pending = append(p.pending, audio.EncodeLE16(frame))
	}
	p.batchMu.Unlock()

	p.tryFlush(sk)
	return nil
}

// tryFlush sends the queued frames as one binary message once the batching
// and throttle conditions allow it (spec §4.4.3).
func (p *BackendProvider) tryFlush(sk *sink) {
	p.batchMu.Lock()
	if len(p.pending) == 0 {
		p.batchMu.Unlock()
		return
	}

	age := time.Since(p.batchStart)
	countReady := len(p.pending) >= backendMinFrames
	if !countReady && age < backendMaxBatchWait {
		p.batchMu.Unlock()
		return
	}
	if time.Since(p.lastSentAt) < backendMinSendGap {
		p.batchMu.Unlock()
		return
	}

	n := len(p.pending)
	if n > backendMaxFrames {
		n = backendMaxFrames
	}
	batch := p.pending[:n]
	p.pending = p.pending[n:]
	if len(p.pending) > 0 {
		p.batchStart = time.Now()
	}
	p.lastSentAt = time.Now()
	p.batchMu.Unlock()

	var payload []byte
	for _, f := range batch {
		payload = append(payload, f...)
	}
	_ = sk.WriteBinary(context.Background(), payload)
}

func (p *BackendProvider) StopStream(ctx context.Context) error {
	p.mu.Lock()
	sk := p.sink
	kaCancel := p.keepAliveCancel
	flushCancel := p.flushCancel
	p.streaming = false
	p.mu.Unlock()

	if sk == nil {
		return nil
	}

	p.batchMu.Lock()
	var payload []byte
	for _, f := range p.pending {
		payload = append(payload, f...)
	}
	p.pending = nil
	p.batchMu.Unlock()
	if len(payload) > 0 {
		_ = sk.WriteBinary(ctx, payload)
	}

	_ = sk.WriteJSON(ctx, map[string]string{"type": "close"})

	if flushCancel != nil {
		flushCancel()
	}
	if kaCancel != nil {
		kaCancel()
	}
	sk.Close(websocket.StatusNormalClosure, "")
	return nil
}

func (p *BackendProvider) Abort() {
	p.mu.Lock()
	sk := p.sink
	kaCancel := p.keepAliveCancel
	flushCancel := p.flushCancel
	p.streaming = false
	p.mu.Unlock()

	if flushCancel != nil {
		flushCancel()
	}
	if kaCancel != nil {
		kaCancel()
	}
	if sk != nil {
		sk.Close(websocket.StatusAbnormalClosure, "abort")
	}
}

// PauseStream flushes the partial batch immediately and suppresses further
// audio forwarding while keeping the transport and keep-alive pings alive.
func (p *BackendProvider) PauseStream() error {
	p.mu.Lock()
	if !p.streaming {
		p.mu.Unlock()
		return transcription.NewProcessingError("not streaming")
	}
	sk := p.sink
	p.paused = true
	p.mu.Unlock()

	if sk != nil {
		p.batchMu.Lock()
		var payload []byte
		for _, f := range p.pending {
			payload = append(payload, f...)
		}
		p.pending = nil
		p.batchMu.Unlock()
		if len(payload) > 0 {
			_ = sk.WriteBinary(context.Background(), payload)
		}
	}
	return nil
}

func (p *BackendProvider) ResumeStream(onPartial transcription.PartialCallback, onFinal transcription.FinalCallback) error {
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

func splitBaseURL(base string) (host string, scheme string, err error) {
	if base == "" {
		return "", "", fmt.Errorf("empty base URL")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", "", err
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("base URL missing host: %q", base)
	}
	return u.Host, u.Scheme, nil
}

func wsScheme(scheme string) string {
	if scheme == "http" {
		return "ws"
	}
	return "wss"
}

// isLocalHost strips an optional port before comparing against the known
// localhost forms. host may be a bare IPv6 literal ("::1"), a bracketed
// IPv6 literal with port ("[::1]:443"), or an ordinary host[:port]; a naive
// strings.LastIndex(host, ":") split mangles all three IPv6 cases, so this
// uses net.SplitHostPort and falls back to bracket-trimming when no port is
// present.
func isLocalHost(host string) bool {
	h := host
	if hostOnly, _, err := net.SplitHostPort(h); err == nil {
		h = hostOnly
	} else {
		h = strings.TrimPrefix(strings.TrimSuffix(h, "]"), "[")
	}
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}
