// Package gate turns the platform connectivity signal into admission decisions.
// It is the only reader of the connectivity source; the queue learns about
// transitions through OnTransition.
package gate

import (
	"loan-upload/internal/core/port"
	"log/slog"
	"sort"
	"sync"
)

// Gate is the network aware admission gate
type Gate struct {
	logger *slog.Logger

	mu        sync.Mutex
	online    bool
	listeners map[uint64]func(bool)
	nextID    uint64
	stop      func()
}

// NewGate creates a Gate following source
func NewGate(source port.ConnectivitySource, logger *slog.Logger) *Gate {
	g := &Gate{
		logger:    logger,
		online:    source.Online(),
		listeners: make(map[uint64]func(bool)),
	}
	g.stop = source.Subscribe(g.transition)
	return g
}

// IsOnline reports whether new work may be admitted
func (g *Gate) IsOnline() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.online
}

// OnTransition registers fn for online/offline changes and returns a function removing it
func (g *Gate) OnTransition(fn func(online bool)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	id := g.nextID
	g.listeners[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

// Close detaches the gate from its source
func (g *Gate) Close() {
	if g.stop != nil {
		g.stop()
	}
}

func (g *Gate) transition(online bool) {
	g.mu.Lock()
	if g.online == online {
		g.mu.Unlock()
		return
	}
	g.online = online

	ids := make([]uint64, 0, len(g.listeners))
	for id := range g.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, g.listeners[id])
	}
	g.mu.Unlock()

	if online {
		g.logger.Info("connectivity restored")
	} else {
		g.logger.Warn("connectivity lost, holding new uploads")
	}
	for _, fn := range listeners {
		fn(online)
	}
}
