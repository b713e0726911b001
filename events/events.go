// Package events carries entry updates from the engines to whoever renders
// them.
package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/xeptore/trackfetch/types"
)

type Event struct {
	Entry         types.QueueEntry
	StatusChanged bool
	At            time.Time
}

// Broker is a bounded event channel. Status transitions are delivered at
// least once; progress-only updates are dropped while the buffer is full.
type Broker struct {
	ch      chan Event
	dropped atomic.Uint64
}

func New(buffer int) *Broker {
	return &Broker{ch: make(chan Event, max(buffer, 1))} //nolint:exhaustruct
}

func (b *Broker) C() <-chan Event {
	return b.ch
}

// Publish blocks until e is buffered or ctx is done.
func (b *Broker) Publish(ctx context.Context, e types.QueueEntry) error {
	select {
	case b.ch <- Event{Entry: e, StatusChanged: true, At: time.Now()}:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// PublishProgress reports whether e was buffered.
func (b *Broker) PublishProgress(e types.QueueEntry) bool {
	select {
	case b.ch <- Event{Entry: e, StatusChanged: false, At: time.Now()}:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Observe returns a pipeline observer that routes updates through b.
func (b *Broker) Observe(ctx context.Context) func(e types.QueueEntry, statusChanged bool) {
	return func(e types.QueueEntry, statusChanged bool) {
		if statusChanged {
			_ = b.Publish(ctx, e)
			return
		}
		b.PublishProgress(e)
	}
}

func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// Drain discards buffered events until ctx is done. It is used when nobody
// renders updates.
func (b *Broker) Drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.ch:
		}
	}
}
