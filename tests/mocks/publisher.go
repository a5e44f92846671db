package mocks

import (
	"context"
	"sync"
)

// DummyPublisher guarda lo publicado en memoria. Err, si no es nil, se devuelve en cada Publish.
type DummyPublisher struct {
	Err    error
	events []interface{}
	mu     sync.Mutex
}

func (p *DummyPublisher) Publish(ctx context.Context, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.Err
}

func (p *DummyPublisher) Events() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]interface{}{}, p.events...)
}

// CountingNotifier cuenta las llamadas a Notify.
type CountingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *CountingNotifier) Notify() {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
}

func (n *CountingNotifier) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}
