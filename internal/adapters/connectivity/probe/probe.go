package probe

import (
	"context"
	"io"
	"loan-upload/internal/config"
	"loan-upload/internal/core/port"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Probe is a port.ConnectivitySource polling the loan API health endpoint
type Probe struct {
	url     string
	every   time.Duration
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger

	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func(online bool)
}

// NewProbe creates Probe. It reports online until the first failed check.
func NewProbe(cfg config.ConnectivityConfig, logger *slog.Logger) *Probe {
	return &Probe{
		url:       cfg.ProbeURL,
		every:     cfg.ProbeEvery,
		timeout:   cfg.ProbeTimeout,
		client:    &http.Client{},
		logger:    logger,
		online:    true,
		listeners: make(map[int]func(online bool)),
	}
}

var _ port.ConnectivitySource = (*Probe)(nil)

func (p *Probe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *Probe) Subscribe(fn func(online bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.listeners[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Run checks the endpoint every interval until ctx is done
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("connectivity probe stopped")
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check probes once and notifies listeners when the state flipped
func (p *Probe) Check(ctx context.Context) bool {
	online := p.probe(ctx)
	if ctx.Err() != nil {
		return p.Online()
	}

	p.mu.Lock()
	if p.online == online {
		p.mu.Unlock()
		return online
	}
	p.online = online
	listeners := make([]func(bool), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(online)
	}
	return online
}

func (p *Probe) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Error("failed to create probe request", "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("connectivity probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
