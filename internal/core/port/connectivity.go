package port

import (
	"context"
	"time"
)

// ConnectivitySource is the host platform online/offline signal
type ConnectivitySource interface {
	Online() bool
	// Subscribe registers fn for transitions and returns a function removing it
	Subscribe(fn func(online bool)) func()
}

// Clock abstracts time so retries and GC are testable
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

// Gate tells the queue whether new work may be admitted
type Gate interface {
	IsOnline() bool
	OnTransition(fn func(online bool)) func()
}
