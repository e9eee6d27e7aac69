package sse

import (
	"context"
	"sync"
)

// CheckoutEventEmitter wakes confirmation streams when the webhook lands for
// their order or checkout session. Notifications carry no payload; the
// listener re-reads the order. Channels are never closed, so a listener may
// keep selecting on one after its context ends.
type CheckoutEventEmitter struct {
	mu      sync.RWMutex
	clients map[string][]chan struct{}
}

// NewCheckoutEventEmitter creates a new SSE event emitter for checkout events
func NewCheckoutEventEmitter() *CheckoutEventEmitter {
	return &CheckoutEventEmitter{clients: make(map[string][]chan struct{})}
}

// Subscribe registers one channel under every non-empty key. It is removed
// when ctx is done.
func (e *CheckoutEventEmitter) Subscribe(ctx context.Context, keys ...string) <-chan struct{} {
	// one pending wake-up is enough; further ones coalesce
	clientChan := make(chan struct{}, 1)

	var registered []string
	e.mu.Lock()
	for _, key := range keys {
		if key == "" {
			continue
		}
		e.clients[key] = append(e.clients[key], clientChan)
		registered = append(registered, key)
	}
	e.mu.Unlock()

	if len(registered) > 0 {
		go func() {
			<-ctx.Done()
			e.remove(registered, clientChan)
		}()
	}
	return clientChan
}

// Publish notifies every subscriber of any of the keys without blocking.
func (e *CheckoutEventEmitter) Publish(keys ...string) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, key := range keys {
		for _, clientChan := range e.clients[key] {
			select {
			case clientChan <- struct{}{}:
			default:
				// a wake-up is already pending
			}
		}
	}
}

func (e *CheckoutEventEmitter) remove(keys []string, clientChan chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, key := range keys {
		clients := e.clients[key]
		for i, ch := range clients {
			if ch == clientChan {
				e.clients[key] = append(clients[:i], clients[i+1:]...)
				break
			}
		}
		if len(e.clients[key]) == 0 {
			delete(e.clients, key)
		}
	}
}

// ClientCount returns the number of listeners on a key.
func (e *CheckoutEventEmitter) ClientCount(key string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[key])
}
