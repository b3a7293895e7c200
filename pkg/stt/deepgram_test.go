package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/voice-core/pkg/transcription"
)

func TestDeepgramHandleMessageFinalDispatch(t *testing.T) {
	p := NewDeepgramProvider()

	var finals, partials []transcription.Transcription
	p.onFinal = func(tr transcription.Transcription) { finals = append(finals, tr) }
	p.onPartial = func(tr transcription.Transcription) { partials = append(partials, tr) }

	payload := []byte(`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"hello world","confidence":0.98}]}}`)
	p.handleMessage(payload)

	if len(finals) != 1 {
		t.Fatalf("expected one final callback invocation, got %d", len(finals))
	}
	if finals[0].Text != "hello world" {
		t.Fatalf("expected text 'hello world', got %q", finals[0].Text)
	}
	if finals[0].Confidence == nil || *finals[0].Confidence != 0.98 {
		t.Fatalf("expected confidence 0.98, got %v", finals[0].Confidence)
	}
	if len(partials) != 0 {
		t.Fatalf("expected zero partial callback invocations, got %d", len(partials))
	}
}

func TestDeepgramHandleMessageSegmentFinalisationIsPartial(t *testing.T) {
	p := NewDeepgramProvider()

	var finals, partials []transcription.Transcription
	p.onFinal = func(tr transcription.Transcription) { finals = append(finals, tr) }
	p.onPartial = func(tr transcription.Transcription) { partials = append(partials, tr) }

	payload := []byte(`{"type":"Results","is_final":true,"speech_final":false,"channel":{"alternatives":[{"transcript":"stable prefix"}]}}`)
	p.handleMessage(payload)

	if len(finals) != 0 {
		t.Fatalf("expected zero final callback invocations, got %d", len(finals))
	}
	if len(partials) != 1 || !partials[0].IsFinal {
		t.Fatalf("expected one partial with IsFinal=true, got %+v", partials)
	}
}

func TestDeepgramHandleMessageEmptyTranscriptSkipped(t *testing.T) {
	p := NewDeepgramProvider()
	called := false
	p.onPartial = func(transcription.Transcription) { called = true }
	p.handleMessage([]byte(`{"type":"Results","channel":{"alternatives":[{"transcript":""}]}}`))
	if called {
		t.Fatalf("expected no callback on empty transcript")
	}
}

func TestDeepgramHandleMessageMetadataReportsQuality(t *testing.T) {
	p := NewDeepgramProvider()
	var got transcription.ConnectionQuality
	p.onQuality = func(q transcription.ConnectionQuality) { got = q }
	p.handleMessage([]byte(`{"type":"Metadata"}`))
	if got != transcription.QualityGood {
		t.Fatalf("expected QualityGood, got %q", got)
	}
}

func TestDeepgramConnectionAliveRequiresStreamingAndPaused(t *testing.T) {
	p := NewDeepgramProvider()
	if p.IsConnectionAlive() {
		t.Fatalf("expected not alive before streaming")
	}
	p.streaming = true
	if p.IsConnectionAlive() {
		t.Fatalf("expected not alive: streaming but not paused")
	}
	p.sink = newSink(nil)
	p.paused = true
	if !p.IsConnectionAlive() {
		t.Fatalf("expected alive: streaming, paused, sink present and open")
	}
	p.sink.MarkClosed()
	if p.IsConnectionAlive() {
		t.Fatalf("expected not alive once sink closed")
	}
}

func TestDeepgramEndToEndBatchingAndShutdown(t *testing.T) {
	received := make(chan []byte, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		wsjson.Write(r.Context(), conn, map[string]string{"type": "Metadata"})

		for {
			msgType, payload, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if msgType == websocket.MessageBinary {
				received <- payload
			}
			if msgType == websocket.MessageText && strings.Contains(string(payload), "CloseStream") {
				return
			}
		}
	}))
	defer server.Close()

	p := NewDeepgramProvider()
	if err := p.Initialize(context.Background(), transcription.SttConfig{APIKey: "test-key", Language: "en"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	p.apiKey = "test-key"

	// Point at the test server instead of the real Deepgram host by dialing
	// manually through StartStream's own code path would require DNS
	// override; instead exercise SendAudio's batching logic directly against
	// a sink built on a real client connection to the httptest server.
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sk := newSink(conn)
	done := make(chan struct{})

	p.mu.Lock()
	p.sink = sk
	p.streaming = true
	p.receiverDone = done
	p.mu.Unlock()
	go p.receiveLoop(conn, sk, done)

	time.Sleep(20 * time.Millisecond) // let Metadata arrive

	chunk := make([]int16, 480)
	for i := 0; i < 2; i++ {
		if err := p.SendAudio(chunk); err != nil {
			t.Fatalf("send audio: %v", err)
		}
	}

	select {
	case payload := <-received:
		if len(payload) != 1920 {
			t.Fatalf("expected one 960*2=1920 byte frame once >=800 samples buffered, got %d", len(payload))
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for batched audio frame")
	}

	if err := p.StopStream(context.Background()); err != nil {
		t.Fatalf("stop stream: %v", err)
	}
}
