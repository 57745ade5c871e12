// Package orphan bounds how long build events without a matching deployment
// are bounced back for redelivery.
package orphan

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

// Tracker counts deliveries of unmatched build events.
type Tracker interface {
	// Observe records one delivery for key and reports whether it should be redelivered.
	Observe(ctx context.Context, key string) Decision
	Close()
}

// Decision is the tracker's verdict for one delivery.
type Decision struct {
	Retry   bool
	Attempt int
}

type memoryTracker struct {
	retries int
	grace   time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	stopCh  chan struct{}
	once    sync.Once
}

type entry struct {
	count     int
	firstSeen time.Time
}

// NewMemory returns a process-local tracker. An event is redelivered at most
// retries times and only while it is younger than grace.
func NewMemory(retries int, grace time.Duration) Tracker {
	t := &memoryTracker{
		retries: retries,
		grace:   grace,
		now:     time.Now,
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

func (t *memoryTracker) Observe(_ context.Context, key string) Decision {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || now.Sub(e.firstSeen) > t.grace {
		e = entry{firstSeen: now}
	}
	e.count++
	t.entries[key] = e
	return Decision{
		Retry:   e.count <= t.retries && now.Sub(e.firstSeen) <= t.grace,
		Attempt: e.count,
	}
}

func (t *memoryTracker) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.cleanup(t.now())
		case <-t.stopCh:
			return
		}
	}
}

func (t *memoryTracker) cleanup(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.entries {
		if now.Sub(e.firstSeen) > 2*t.grace {
			delete(t.entries, key)
		}
	}
}

func (t *memoryTracker) Close() {
	t.once.Do(func() {
		close(t.stopCh)
	})
}
