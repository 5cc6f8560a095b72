package game

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMailboxDrainPreservesPostingOrder(t *testing.T) {
	m := NewMailbox(0, zap.NewNop())

	for i := 0; i < 10; i++ {
		m.Post(7, []byte{byte(i)})
	}

	batch := m.Drain()
	require.Len(t, batch, 10)
	for i, msg := range batch {
		assert.Equal(t, uint64(7), msg.SessionID)
		assert.Equal(t, byte(i), msg.Payload[0])
	}
	assert.Nil(t, m.Drain())
}

func TestMailboxConcurrentPostsKeepPerSessionOrder(t *testing.T) {
	m := NewMailbox(0, zap.NewNop())

	const sessions = 8
	const perSession = 100

	var wg sync.WaitGroup
	for s := 0; s < sessions; s++ {
		wg.Add(1)
		go func(sid uint64) {
			defer wg.Done()
			for i := 0; i < perSession; i++ {
				m.Post(sid, []byte(fmt.Sprintf("%d", i)))
			}
		}(uint64(s))
	}
	wg.Wait()

	batch := m.Drain()
	require.Len(t, batch, sessions*perSession)

	// Interleaving across sessions is arbitrary; within one session the
	// payload sequence must be monotone.
	next := make(map[uint64]int)
	for _, msg := range batch {
		assert.Equal(t, fmt.Sprintf("%d", next[msg.SessionID]), string(msg.Payload))
		next[msg.SessionID]++
	}
}

func TestMailboxSoftCapWarnsOnceAtCrossing(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := NewMailbox(4, zap.New(core))

	for i := 0; i < 10; i++ {
		m.Post(1, nil)
	}

	// No messages dropped, one warning at depth softCap+1.
	assert.Equal(t, 10, m.Len())
	assert.Len(t, logs.FilterMessageSnippet("soft cap").All(), 1)
}

func TestMailboxDrainEmptyReturnsNil(t *testing.T) {
	m := NewMailbox(0, zap.NewNop())
	assert.Nil(t, m.Drain())
	assert.Equal(t, 0, m.Len())
}
