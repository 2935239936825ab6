package broker

import (
	"context"
	"sync"

	"github.com/dreamware/buildbroker/internal/protocol"
)

// mailbox is the single-slot handoff between the transport's I/O
// goroutine (producer) and the caller blocked in FindWorkers (consumer).
//
// The slot is guarded by a mutex; readiness travels on a capacity-one
// signal channel so the consumer can select against its context. arm
// clears any stale delivery from an abandoned earlier request, making
// each exchange see at most one, fresh, delivery.
type mailbox struct {
	mu    sync.Mutex
	slot  []protocol.Addr
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

// arm prepares the mailbox for a new request, discarding any undelivered
// leftovers from a previous one.
func (m *mailbox) arm() {
	m.mu.Lock()
	m.slot = nil
	m.mu.Unlock()
	select {
	case <-m.ready:
	default:
	}
}

// deliver deposits a response and signals readiness. If a response is
// already pending the newer one wins; the signal channel never blocks
// the producer.
func (m *mailbox) deliver(addrs []protocol.Addr) {
	m.mu.Lock()
	m.slot = addrs
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// wait blocks until a response is delivered or ctx ends, and consumes
// the slot.
func (m *mailbox) wait(ctx context.Context) ([]protocol.Addr, error) {
	select {
	case <-m.ready:
		m.mu.Lock()
		addrs := m.slot
		m.slot = nil
		m.mu.Unlock()
		return addrs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
