package nats

import (
	"log/slog"
	"sync"
)

// Connectivity is a port.ConnectivitySource fed by the NATS connection handlers
type Connectivity struct {
	logger *slog.Logger

	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func(online bool)
}

func newConnectivity(logger *slog.Logger) *Connectivity {
	return &Connectivity{
		logger:    logger,
		listeners: make(map[int]func(online bool)),
	}
}

func (c *Connectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Connectivity) Subscribe(fn func(online bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// set is called from the nats handler goroutine
func (c *Connectivity) set(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	listeners := make([]func(bool), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	c.logger.Debug("NATS connectivity changed", "online", online)
	for _, fn := range listeners {
		fn(online)
	}
}
