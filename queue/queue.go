// Package queue runs ad hoc acquisitions one at a time and keeps them
// across restarts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/xeptore/trackfetch/events"
	"github.com/xeptore/trackfetch/fs"
	"github.com/xeptore/trackfetch/pipeline"
	"github.com/xeptore/trackfetch/types"
)

var (
	ErrAlreadyRunning   = errors.New("queue is already running")
	ErrAlreadyQueued    = errors.New("track is already queued")
	ErrAlreadyInLibrary = errors.New("track is already in the library")
)

type Snapshotter interface {
	SaveSnapshot(entries []types.QueueEntry) error
	LoadSnapshot() ([]types.QueueEntry, error)
}

type Library interface {
	Has(externalID string) (bool, error)
}

type Runner interface {
	Run(ctx context.Context, logger zerolog.Logger, e types.QueueEntry, observe pipeline.Observer) (types.QueueEntry, *types.Artifact, error)
}

type Stats struct {
	Pending int
	Active  int
	Done    int
	Failed  int
}

func (s Stats) Total() int {
	return s.Pending + s.Active + s.Done + s.Failed
}

type Engine struct {
	logger  zerolog.Logger
	store   Snapshotter
	library Library
	runner  Runner
	broker  *events.Broker
	running *semaphore.Weighted
	wake    chan struct{}
	now     func() time.Time

	mu      sync.Mutex
	entries []types.QueueEntry
}

// Open restores the persisted queue and removes staged payloads that no
// entry refers to.
func Open(
	logger zerolog.Logger,
	store Snapshotter,
	library Library,
	runner Runner,
	broker *events.Broker,
	staging fs.Staging,
) (*Engine, error) {
	entries, err := store.LoadSnapshot()
	if nil != err {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	var keep []string
	for _, e := range entries {
		if nil != e.Staged {
			keep = append(keep, e.Staged.Path)
		}
	}

	swept, err := staging.Sweep(keep...)
	if nil != err {
		return nil, fmt.Errorf("failed to sweep staging directory: %v", err)
	}

	logger.Info().Int("entries", len(entries)).Int("swept", swept).Msg("Queue restored")

	return &Engine{
		logger:  logger,
		store:   store,
		library: library,
		runner:  runner,
		broker:  broker,
		running: semaphore.NewWeighted(1),
		wake:    make(chan struct{}, 1),
		now:     time.Now,
		mu:      sync.Mutex{},
		entries: entries,
	}, nil
}

func (q *Engine) Events() <-chan events.Event {
	return q.broker.C()
}

// Enqueue adds a pending entry for ref and wakes the run loop.
func (q *Engine) Enqueue(ctx context.Context, ref types.TrackReference) (types.QueueEntry, error) {
	if err := ref.Validate(); nil != err {
		return types.QueueEntry{}, fmt.Errorf("invalid track reference: %v", err) //nolint:exhaustruct
	}

	e, err := q.enqueue(ref)
	if nil != err {
		return types.QueueEntry{}, err //nolint:exhaustruct
	}

	q.notifyWake()
	if err := q.broker.Publish(ctx, e); nil != err {
		q.logger.Debug().Err(err).Str("entry_id", e.ID).Msg("Enqueue event was not delivered")
	}

	return e, nil
}

func (q *Engine) enqueue(ref types.TrackReference) (types.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.Ref.ExternalID == ref.ExternalID && e.Status != types.StatusFailed {
			return types.QueueEntry{}, fmt.Errorf("%w: %s", ErrAlreadyQueued, e.ID) //nolint:exhaustruct
		}
	}

	exists, err := q.library.Has(ref.ExternalID)
	if nil != err {
		return types.QueueEntry{}, fmt.Errorf("failed to check library: %w", err) //nolint:exhaustruct
	}
	if exists {
		return types.QueueEntry{}, ErrAlreadyInLibrary //nolint:exhaustruct
	}

	e := types.NewQueueEntry(uuid.NewString(), ref, q.now())
	q.entries = append(q.entries, e)
	if err := q.persist(); nil != err {
		q.entries = q.entries[:len(q.entries)-1]
		return types.QueueEntry{}, err //nolint:exhaustruct
	}

	return e.Clone(), nil
}

// RetryFailed replaces every failed entry with a fresh pending one and
// returns how many were replaced.
func (q *Engine) RetryFailed(ctx context.Context) (int, error) {
	q.mu.Lock()
	previous := slices.Clone(q.entries)
	var renewed []types.QueueEntry
	for i, e := range q.entries {
		if e.Status != types.StatusFailed {
			continue
		}
		fresh := types.NewQueueEntry(uuid.NewString(), e.Ref, q.now())
		q.entries[i] = fresh
		renewed = append(renewed, fresh)
	}

	if len(renewed) > 0 {
		if err := q.persist(); nil != err {
			q.entries = previous
			q.mu.Unlock()
			return 0, err
		}
	}
	q.mu.Unlock()

	if len(renewed) == 0 {
		return 0, nil
	}

	q.notifyWake()
	for _, e := range renewed {
		if err := q.broker.Publish(ctx, e); nil != err {
			q.logger.Debug().Err(err).Msg("Retry events were not delivered")
			break
		}
	}

	return len(renewed), nil
}

func (q *Engine) Entries() []types.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.QueueEntry, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.Clone()
	}

	return out
}

func (q *Engine) Entry(id string) (types.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return types.QueueEntry{}, false //nolint:exhaustruct
	}

	return q.entries[i].Clone(), true
}

func (q *Engine) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, e := range q.entries {
		switch e.Status {
		case types.StatusPending:
			s.Pending++
		case types.StatusDone:
			s.Done++
		case types.StatusFailed:
			s.Failed++
		default:
			s.Active++
		}
	}

	return s
}

// Run processes entries strictly one at a time, waiting for new ones until
// ctx is done. Only one Run may be active per engine.
func (q *Engine) Run(ctx context.Context) error {
	return q.run(ctx, false)
}

// Drain is Run that returns once nothing is left to process.
func (q *Engine) Drain(ctx context.Context) error {
	return q.run(ctx, true)
}

func (q *Engine) run(ctx context.Context, untilIdle bool) error {
	if !q.running.TryAcquire(1) {
		return ErrAlreadyRunning
	}
	defer q.running.Release(1)

	for {
		e, ok := q.next()
		if !ok {
			if untilIdle {
				return nil
			}

			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-q.wake:
				continue
			}
		}

		if err := q.process(ctx, e); nil != err {
			return err
		}

		if nil != ctx.Err() {
			return context.Cause(ctx)
		}
	}
}

func (q *Engine) next() (types.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if !e.Status.IsTerminal() {
			return e.Clone(), true
		}
	}

	return types.QueueEntry{}, false //nolint:exhaustruct
}

func (q *Engine) process(ctx context.Context, e types.QueueEntry) error {
	logger := q.logger.With().Str("entry_id", e.ID).Str("external_id", e.Ref.ExternalID).Logger()
	logger.Info().Str("status", string(e.Status)).Msg("Processing queue entry")

	observe := func(u types.QueueEntry, statusChanged bool) {
		if persist := q.update(u, statusChanged); persist {
			q.mu.Lock()
			if err := q.persist(); nil != err {
				logger.Error().Err(err).Msg("Failed to persist queue")
			}
			q.mu.Unlock()
		}

		if statusChanged {
			if err := q.broker.Publish(ctx, u); nil != err {
				logger.Debug().Err(err).Msg("Status event was not delivered")
			}
		} else {
			q.broker.PublishProgress(u)
		}
	}

	final, artifact, err := q.runner.Run(ctx, logger, e, observe)
	q.update(final, false)

	q.mu.Lock()
	persistErr := q.persist()
	q.mu.Unlock()
	if nil != persistErr {
		return persistErr
	}

	switch {
	case nil != artifact:
		logger.Info().Str("path", artifact.Path).Msg("Queue entry done")
	case nil != err && nil == ctx.Err():
		logger.Warn().Err(err).Str("failure_code", string(final.FailureCode)).Msg("Queue entry failed")
	}

	return nil
}

// update stores u and reports whether the change must be persisted. Progress
// alone is kept in memory only.
func (q *Engine) update(u types.QueueEntry, statusChanged bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(u.ID)
	if i < 0 {
		return false
	}

	prev := q.entries[i]
	q.entries[i] = u.Clone()

	return statusChanged || prev.RetryCount != u.RetryCount || prev.CurrentCandidate != u.CurrentCandidate
}

func (q *Engine) indexOf(id string) int {
	return slices.IndexFunc(q.entries, func(e types.QueueEntry) bool { return e.ID == id })
}

// persist must be called with q.mu held.
func (q *Engine) persist() error {
	if err := q.store.SaveSnapshot(q.entries); nil != err {
		return fmt.Errorf("failed to persist queue: %w", err)
	}

	return nil
}

func (q *Engine) notifyWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
