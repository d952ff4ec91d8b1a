package gate

import "sync"

// Switch is a connectivity source driven by hand. The agent uses it, always
// online, with CONNECTIVITY_SOURCE=none or an empty probe URL.
type Switch struct {
	mu        sync.Mutex
	online    bool
	listeners map[uint64]func(bool)
	nextID    uint64
}

// NewSwitch creates a Switch in the given state
func NewSwitch(online bool) *Switch {
	return &Switch{online: online, listeners: make(map[uint64]func(bool))}
}

func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Switch) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Set changes the state and notifies subscribers synchronously
func (s *Switch) Set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	listeners := make([]func(bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(online)
	}
}
