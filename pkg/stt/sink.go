// Package stt implements C4: the common STT provider interface's three
// WebSocket back ends (Deepgram, AssemblyAI v3, and the in-house backend
// relay), all built on the same coder/websocket dial-and-frame idiom.
package stt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrSinkClosed is returned by every send once the sink has observed or been
// told the connection is closed (spec §8 "no send after close").
var ErrSinkClosed = errors.New("connection closed")

// sink wraps a websocket.Conn so the audio-forwarding path and a keep-alive
// pinger can share one connection safely: every write takes the mutex for
// the duration of a single frame, and a fast-path atomic flag lets senders
// skip the lock entirely once closed (spec §9 "Shared WebSocket sink",
// "Closed-connection detection").
type sink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed atomic.Bool
}

func newSink(conn *websocket.Conn) *sink {
	return &sink{conn: conn}
}

func (s *sink) WriteBinary(ctx context.Context, p []byte) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrSinkClosed
	}
	return s.conn.Write(ctx, websocket.MessageBinary, p)
}

func (s *sink) WriteJSON(ctx context.Context, v interface{}) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrSinkClosed
	}
	return wsjson.Write(ctx, s.conn, v)
}

func (s *sink) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrSinkClosed
	}
	return s.conn.Ping(ctx)
}

// MarkClosed flips the fast-path flag without touching the connection
// (called by the receiver loop when it observes the socket close on its
// own).
func (s *sink) MarkClosed() {
	s.closed.Store(true)
}

// Close marks the sink closed and tears down the underlying connection.
// Idempotent.
func (s *sink) Close(code websocket.StatusCode, reason string) {
	if s.closed.Swap(true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close(code, reason)
}

func (s *sink) IsClosed() bool { return s.closed.Load() }
