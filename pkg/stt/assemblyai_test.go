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

func TestAssemblyAIReceiveLoopSignalsBeginThenDeliversTurns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "raw-key" {
			t.Errorf("expected raw Authorization header, got %q", got)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		wsjson.Write(r.Context(), conn, map[string]string{"type": "Begin"})
		wsjson.Write(r.Context(), conn, map[string]interface{}{"type": "Turn", "transcript": "partial text", "end_of_turn": false})
		wsjson.Write(r.Context(), conn, map[string]interface{}{"type": "Turn", "transcript": "final text", "end_of_turn": true, "end_of_turn_confidence": 0.91})

		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	p := NewAssemblyAIProvider()
	if err := p.Initialize(context.Background(), transcription.SttConfig{APIKey: "raw-key", Language: "en"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	var partials, finals []transcription.Transcription
	done := make(chan struct{})
	onPartial := func(tr transcription.Transcription) { partials = append(partials, tr) }
	onFinal := func(tr transcription.Transcription) {
		finals = append(finals, tr)
		close(done)
	}

	// Dial the test server directly (bypassing the hardcoded production
	// host) and drive the provider's receive loop exactly as StartStream
	// would, to exercise the Begin/Turn handling without a DNS override.
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sk := newSink(conn)
	rdone := make(chan struct{})
	ready := make(chan struct{})

	p.mu.Lock()
	p.sink = sk
	p.streaming = true
	p.onPartial, p.onFinal = onPartial, onFinal
	p.mu.Unlock()
	go p.receiveLoop(conn, sk, rdone, ready)

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for Begin")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for final turn")
	}

	if len(partials) != 1 || partials[0].Text != "partial text" {
		t.Fatalf("unexpected partials: %+v", partials)
	}
	if len(finals) != 1 || finals[0].Text != "final text" {
		t.Fatalf("unexpected finals: %+v", finals)
	}
	if finals[0].Confidence == nil || *finals[0].Confidence != 0.91 {
		t.Fatalf("expected confidence 0.91, got %v", finals[0].Confidence)
	}
}

func TestAssemblyAIDoesNotSupportKeepAlive(t *testing.T) {
	p := NewAssemblyAIProvider()
	if p.SupportsKeepAlive() {
		t.Fatalf("assemblyai must not advertise keep-alive support")
	}
	if err := p.PauseStream(); err == nil {
		t.Fatalf("expected PauseStream to fail")
	}
}

func TestAssemblyAISendAudioRejectsAfterClose(t *testing.T) {
	p := NewAssemblyAIProvider()
	p.streaming = true
	p.sink = newSink(nil)
	p.sink.MarkClosed()

	err := p.SendAudio(make([]int16, 480))
	if err == nil {
		t.Fatalf("expected error sending on closed sink")
	}
}
