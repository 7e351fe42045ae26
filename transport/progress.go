package transport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"modelmux/provider"
)

// progressTracker turns the raw fraction callbacks a backend emits during
// Prepare into the progress episode a request is allowed to show: one
// correlation id minted on the first callback, non-decreasing percent, and
// exactly one terminal complete event.
//
// Fractions arrive on whatever goroutine the backend runs its download loop
// on; forceClose is called by the pipeline goroutine when the first text
// delta lands. Both paths lock.
type progressTracker struct {
	mu   sync.Mutex
	emit func(provider.Event) bool

	kind          provider.BackendKind
	correlationID string
	lastFraction  float64
}

func newProgressTracker(kind provider.BackendKind, emit func(provider.Event) bool) *progressTracker {
	return &progressTracker{
		emit:         emit,
		kind:         kind,
		lastFraction: -1,
	}
}

// observe is the ProgressFunc handed to Backend.Prepare. Fractions at or
// below the last observed one are dropped, so percent only moves forward
// even when a backend replays or reorders its callbacks.
func (p *progressTracker) observe(fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fraction <= p.lastFraction {
		return
	}
	p.lastFraction = fraction

	if fraction >= 1.0 {
		p.closeLocked()
		return
	}

	if p.correlationID == "" {
		p.correlationID = uuid.NewString()
	}
	percent := fraction * 100
	if percent < 0 {
		percent = 0
	}
	p.emit(provider.Event{
		Kind: provider.EventProgress,
		Progress: provider.ProgressEvent{
			CorrelationID: p.correlationID,
			Status:        provider.ProgressDownloading,
			Percent:       percent,
			Message:       fmt.Sprintf("Downloading %s model...", p.kind),
		},
	})
}

// forceClose terminates an episode the backend never finished signalling.
// The pipeline calls it before forwarding the first text delta so progress
// never overlaps visible text. No-op when no episode is open.
func (p *progressTracker) forceClose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *progressTracker) closeLocked() {
	if p.correlationID == "" {
		return
	}
	p.emit(provider.Event{
		Kind: provider.EventProgress,
		Progress: provider.ProgressEvent{
			CorrelationID: p.correlationID,
			Status:        provider.ProgressComplete,
			Percent:       100,
		},
	})
	p.correlationID = ""
	p.lastFraction = 1.0
}

const fanoutBuffer = 64

// progressFanout mirrors ProgressEvents to side-channel observers: one
// buffered channel per subscriber consumed by a dedicated goroutine, so a
// slow observer drops events instead of stalling the stream. Per-subscriber
// delivery order matches emission order.
type progressFanout struct {
	mu   sync.RWMutex
	subs []chan provider.ProgressEvent
}

func (f *progressFanout) subscribe(cb func(provider.ProgressEvent)) {
	ch := make(chan provider.ProgressEvent, fanoutBuffer)
	go func() {
		for ev := range ch {
			cb(ev)
		}
	}()
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
}

func (f *progressFanout) publish(ev provider.ProgressEvent) {
	f.mu.RLock()
	subs := f.subs
	f.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// buffer full, drop the event
		}
	}
}
