package transcription

import (
	"sync"

	"github.com/lokutor-ai/voice-core/pkg/audio"
)

// chunkQueue is a multi-producer, single-consumer unbounded FIFO. The audio
// device callback runs on a non-async OS thread and must never block (spec
// §4.1/§9 "device callback crossing into async"); a buffered channel can
// still fill up and stall that thread, so pushes here only ever take a
// mutex and append, never wait.
type chunkQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []audio.Chunk
	closed bool
}

func newChunkQueue() *chunkQueue {
	q := &chunkQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push never blocks the caller beyond a brief mutex hold.
func (q *chunkQueue) push(c audio.Chunk) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until an item is available or the queue is closed, in which
// case ok is false.
func (q *chunkQueue) pop() (c audio.Chunk, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return audio.Chunk{}, false
	}
	c = q.items[0]
	q.items[0] = audio.Chunk{}
	q.items = q.items[1:]
	return c, true
}

func (q *chunkQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
