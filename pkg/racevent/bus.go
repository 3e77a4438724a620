// Package racevent implements the single global event broadcaster described
// in spec §4.2: producers emit structured [Event] values with a monotonic
// timestamp from the platform clock, and subscribers receive them through a
// per-subscriber bounded queue served by one dispatch goroutine each, so
// delivery to a single subscriber is always serialized (spec §5 Ordering).
package racevent

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Category classifies an [Event] for subscriber filtering.
type Category int

const (
	CategoryLifecycle Category = 1 << iota
	CategoryInferenceStart
	CategoryInferenceToken
	CategoryInferenceEnd
	CategoryDownloadProgress
	CategoryError
	CategoryDroppedEvents

	// CategoryAll matches every category; pass it to [Bus.Subscribe] to receive
	// everything.
	CategoryAll = CategoryLifecycle | CategoryInferenceStart | CategoryInferenceToken |
		CategoryInferenceEnd | CategoryDownloadProgress | CategoryError | CategoryDroppedEvents
)

// Severity mirrors common log levels so subscribers can filter noisy
// categories (e.g. inference-token) without dropping errors.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// Event is the structured, append-only record published on the bus. Payload
// keys are category-specific; see spec §8 for the enumerated event kinds.
type Event struct {
	EventID     uint64
	TimestampMs int64
	Category    Category
	Severity    Severity
	Payload     map[string]any
}

// Clock abstracts the platform adapter's now_ms function (spec §4.3) so the
// bus never performs direct time I/O itself.
type Clock func() int64

// subscriber holds one registered callback and its bounded delivery queue.
type subscriber struct {
	id      uint64
	filter  Category
	queue   chan Event
	done    chan struct{}
	onEvent func(Event)
	dropped atomic.Uint64
}

// Bus is the process-wide event broadcaster. The zero value is not usable;
// construct with [NewBus].
type Bus struct {
	clock Clock

	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextSubID atomic.Uint64
	nextEvtID atomic.Uint64

	queueDepth int
}

// DefaultQueueDepth is the per-subscriber bounded queue capacity used when
// [NewBus] is called without an explicit depth.
const DefaultQueueDepth = 256

// NewBus constructs a [Bus] using clock for event timestamps. If clock is
// nil, a monotonic logical clock is used (timestamps are an increasing
// counter, not wall time) so the bus always functions even before a platform
// adapter is installed.
func NewBus(clock Clock) *Bus {
	b := &Bus{
		clock:      clock,
		subs:       make(map[uint64]*subscriber),
		queueDepth: DefaultQueueDepth,
	}
	if b.clock == nil {
		var counter atomic.Int64
		b.clock = func() int64 { return counter.Add(1) }
	}
	return b
}

// WithQueueDepth overrides the per-subscriber queue depth for subsequently
// created subscribers. Must be called before any [Bus.Subscribe] call to
// affect all subscribers uniformly; existing subscribers keep their queue.
func (b *Bus) WithQueueDepth(n int) *Bus {
	if n > 0 {
		b.queueDepth = n
	}
	return b
}

// Subscription is an opaque handle returned by [Bus.Subscribe]; pass it to
// [Bus.Unsubscribe] to stop delivery.
type Subscription struct {
	id uint64
}

// Subscribe registers onEvent to receive every published [Event] whose
// Category matches filter (bitwise AND). onEvent is invoked on a dedicated
// per-subscriber goroutine, so deliveries to this subscriber are strictly
// ordered and never run concurrently with each other, but different
// subscribers may run concurrently with one another (spec §4.2, §5).
func (b *Bus) Subscribe(filter Category, onEvent func(Event)) Subscription {
	id := b.nextSubID.Add(1)
	s := &subscriber{
		id:      id,
		filter:  filter,
		queue:   make(chan Event, b.queueDepth),
		done:    make(chan struct{}),
		onEvent: onEvent,
	}
	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	go b.dispatchLoop(s)
	return Subscription{id: id}
}

func (b *Bus) dispatchLoop(s *subscriber) {
	for {
		select {
		case evt, ok := <-s.queue:
			if !ok {
				return
			}
			s.onEvent(evt)
		case <-s.done:
			// Drain whatever is already queued before exiting so Unsubscribe
			// can still guarantee "no further callbacks fire" without losing
			// already-queued deliveries to a mid-flight race; since done is
			// only closed after the subscriber is removed from the map no new
			// events can be enqueued past this point.
			for {
				select {
				case evt, ok := <-s.queue:
					if !ok {
						return
					}
					s.onEvent(evt)
				default:
					return
				}
			}
		}
	}
}

// Unsubscribe removes sub and blocks until its dispatch goroutine has fully
// exited, guaranteeing no further callback fires for it after this call
// returns (spec §4.2).
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	s, ok := b.subs[sub.id]
	if ok {
		delete(b.subs, sub.id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	close(s.done)
	// Synchronously wait for the goroutine to observe done and exit by
	// sending a no-op probe through a closed channel path: since queue is
	// still open, close it here so the dispatch loop's queue receive also
	// unblocks and the goroutine terminates deterministically.
	close(s.queue)
	for range s.queue {
		// drain so dispatchLoop's remaining receives don't deliver stragglers
		// after this function returns; the loop above already flushed once
		// done fired, so this is normally empty.
	}
}

// Publish emits evt to every subscriber whose filter matches its category.
// Publish never blocks: a subscriber whose queue is full has the event
// dropped and a CategoryDroppedEvents event is queued for that subscriber,
// discarding the oldest queued event if needed to make room (a dropped
// CategoryDroppedEvents event is not itself reported) rather than blocking
// the producer (spec §4.2,
// §8 "event bus queue overflow").
func (b *Bus) Publish(category Category, severity Severity, payload map[string]any) Event {
	evt := Event{
		EventID:     b.nextEvtID.Add(1),
		TimestampMs: b.clock(),
		Category:    category,
		Severity:    severity,
		Payload:     payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.filter&category == 0 {
			continue
		}
		select {
		case s.queue <- evt:
		default:
			n := s.dropped.Add(1)
			slog.Warn("racevent: subscriber queue full, dropping event",
				"subscriber", s.id, "category", category, "total_dropped", n)
			if category != CategoryDroppedEvents {
				// Make room for the notification by discarding the oldest
				// queued event when the queue is still full; that event
				// counts as dropped too.
				if len(s.queue) == cap(s.queue) {
					select {
					case <-s.queue:
						n = s.dropped.Add(1)
					default:
					}
				}
				dropEvt := Event{
					EventID:     b.nextEvtID.Add(1),
					TimestampMs: b.clock(),
					Category:    CategoryDroppedEvents,
					Severity:    SeverityWarn,
					Payload:     map[string]any{"subscriber": s.id, "dropped_total": n},
				}
				select {
				case s.queue <- dropEvt:
				default:
				}
			}
		}
	}
	return evt
}

// SubscriberCount returns the number of currently active subscribers.
// Intended for tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
