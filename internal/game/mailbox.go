package game

import (
	"sync"

	"go.uber.org/zap"
)

// Message is one inbound client message awaiting simulation-thread
// processing: the client identity plus the serialized payload.
type Message struct {
	SessionID uint64
	Payload   []byte
}

// Mailbox decouples network receipt from simulation-thread consumption.
// Producers (session read goroutines) take only the mailbox's own lock, so
// posting never contends with the world lock. The game loop drains the whole
// queue once per tick; per-connection FIFO holds because each session has a
// single read goroutine and the queue is append-only.
type Mailbox struct {
	mu      sync.Mutex
	queue   []Message
	softCap int
	log     *zap.Logger
}

func NewMailbox(softCap int, log *zap.Logger) *Mailbox {
	return &Mailbox{
		queue:   make([]Message, 0, 64),
		softCap: softCap,
		log:     log,
	}
}

// Post enqueues a message. Safe to call from any goroutine.
func (m *Mailbox) Post(sessionID uint64, payload []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, Message{SessionID: sessionID, Payload: payload})
	depth := len(m.queue)
	m.mu.Unlock()

	if m.softCap > 0 && depth == m.softCap+1 {
		m.log.Warn("mailbox backlog exceeds soft cap", zap.Int("depth", depth))
	}
}

// Drain returns every message present at the moment of the call, in posting
// order, and leaves the mailbox empty. Called once per tick under the world
// lock; messages posted during the drain land in the next tick's batch.
func (m *Mailbox) Drain() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	batch := m.queue
	m.queue = make([]Message, 0, cap(batch))
	return batch
}

// Len returns the current queue depth.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
