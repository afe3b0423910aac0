package backplane

import (
	"context"
	"sync"

	"PPresence/tools/safe"
)

// LocalBus is an in-process hub; each Local attached to it behaves like a separate node.
type LocalBus struct {
	mu    sync.RWMutex
	nodes []*Local
}

func NewLocalBus() *LocalBus { return &LocalBus{} }

// Local is the single-node backplane, or one node on a shared LocalBus.
type Local struct {
	bus    *LocalBus
	origin string

	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
}

// NewLocal attaches a node to bus; a nil bus yields an isolated node.
func NewLocal(bus *LocalBus, origin string) *Local {
	if bus == nil {
		bus = NewLocalBus()
	}
	l := &Local{bus: bus, origin: origin, handlers: make(map[string][]Handler)}
	bus.mu.Lock()
	bus.nodes = append(bus.nodes, l)
	bus.mu.Unlock()
	return l
}

func (l *Local) Publish(ctx context.Context, topic string, env Envelope) error {
	stamp(&env, l.origin)
	l.bus.mu.RLock()
	nodes := append([]*Local(nil), l.bus.nodes...)
	l.bus.mu.RUnlock()
	for _, n := range nodes {
		if n.origin == env.Origin {
			continue
		}
		n.deliver(ctx, topic, env)
	}
	return nil
}

func (l *Local) deliver(ctx context.Context, topic string, env Envelope) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return
	}
	hs := append([]Handler(nil), l.handlers[topic]...)
	l.mu.RUnlock()
	for _, h := range hs {
		safe.Run("backplane.local", func() { h(ctx, env) })
	}
}

func (l *Local) Subscribe(topic string, h Handler) error {
	l.mu.Lock()
	l.handlers[topic] = append(l.handlers[topic], h)
	l.mu.Unlock()
	return nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
