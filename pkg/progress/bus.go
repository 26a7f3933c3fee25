// Package progress turns orchestrator lifecycle transitions into an ordered
// event log and streams it live to subscribers. Delivery is at-most-once and
// best-effort: this is a monitoring channel, not a durable log.
package progress

import (
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/bramble/pkg/metrics"
)

var (
	// ErrUnknownRun is returned when subscribing to a run the bus has not opened
	ErrUnknownRun = errors.New("unknown run")
	// ErrRunClosed is returned when publishing to or subscribing on a finished run
	ErrRunClosed = errors.New("run already closed")
)

// Config holds bus tuning knobs.
type Config struct {
	// SubscriberBuffer is the channel depth per subscriber. A subscriber that
	// falls this far behind starts missing events; it never blocks the pipeline.
	SubscriberBuffer int
	// ReplayRing is how many trailing events are kept for reconnecting
	// subscribers. Zero disables replay.
	ReplayRing int
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		SubscriberBuffer: 256,
		ReplayRing:       64,
	}
}

// Bus fans progress events out to per-run subscribers.
type Bus struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]*runStream
	cfg    Config
	logger ectologger.Logger
}

type runStream struct {
	mu      sync.Mutex
	seq     uint64
	ring    []Event
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

// Subscription is a live tail on a single run's event stream. C is closed
// when the run emits its terminal event or Cancel is called.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Cancel detaches the subscriber. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}

// NewBus creates a new progress event bus.
func NewBus(cfg Config, logger ectologger.Logger) *Bus {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	if cfg.ReplayRing < 0 {
		cfg.ReplayRing = 0
	}
	return &Bus{
		runs:   make(map[uuid.UUID]*runStream),
		cfg:    cfg,
		logger: logger,
	}
}

// OpenRun registers a run with the bus. Must be called before the first
// publish or subscribe for that run.
func (b *Bus) OpenRun(runID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.runs[runID]; ok {
		return
	}
	b.runs[runID] = &runStream{
		subs: make(map[int]chan Event),
	}
}

// Publish assigns the next sequence number and delivers the event to every
// current subscriber without blocking. Slow subscribers miss events. A
// terminal event closes every subscriber channel and retires the run.
func (b *Bus) Publish(runID uuid.UUID, event Event) (Event, error) {
	b.mu.RLock()
	stream, ok := b.runs[runID]
	b.mu.RUnlock()
	if !ok {
		return event, ErrUnknownRun
	}

	stream.mu.Lock()
	if stream.closed {
		stream.mu.Unlock()
		return event, ErrRunClosed
	}

	stream.seq++
	event.RunID = runID
	event.SequenceNumber = stream.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if b.cfg.ReplayRing > 0 {
		stream.ring = append(stream.ring, event)
		if len(stream.ring) > b.cfg.ReplayRing {
			stream.ring = stream.ring[len(stream.ring)-b.cfg.ReplayRing:]
		}
	}

	for id, ch := range stream.subs {
		select {
		case ch <- event:
			metrics.ProgressEventsDelivered.Inc()
		default:
			// Subscriber buffer full; drop rather than stall the pipeline
			metrics.ProgressEventsDropped.Inc()
			b.logger.WithFields(map[string]any{
				"run_id":        runID.String(),
				"subscriber_id": id,
				"sequence":      event.SequenceNumber,
			}).Debug("Dropped progress event for slow subscriber")
		}
	}

	if event.Level.Terminal() {
		stream.closed = true
		for _, ch := range stream.subs {
			close(ch)
		}
		stream.subs = make(map[int]chan Event)
	}
	stream.mu.Unlock()

	if event.Level.Terminal() {
		b.mu.Lock()
		delete(b.runs, runID)
		b.mu.Unlock()
	}

	return event, nil
}

// Subscribe attaches a live tail to a run. When replay is true the trailing
// ring is delivered first so a reconnecting client can pick up where it left
// off; events published before the ring window are gone.
func (b *Bus) Subscribe(runID uuid.UUID, replay bool) (*Subscription, error) {
	b.mu.RLock()
	stream, ok := b.runs[runID]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownRun
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()

	if stream.closed {
		return nil, ErrRunClosed
	}

	ch := make(chan Event, b.cfg.SubscriberBuffer)
	id := stream.nextSub
	stream.nextSub++
	stream.subs[id] = ch

	if replay {
		for _, event := range stream.ring {
			select {
			case ch <- event:
			default:
			}
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stream.mu.Lock()
			if _, live := stream.subs[id]; live {
				delete(stream.subs, id)
				close(ch)
			}
			stream.mu.Unlock()
		})
	}

	return &Subscription{C: ch, cancel: cancel}, nil
}

// SubscriberCount reports how many subscribers a run currently has.
func (b *Bus) SubscriberCount(runID uuid.UUID) int {
	b.mu.RLock()
	stream, ok := b.runs[runID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	return len(stream.subs)
}
