package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeStreamingState carries session lifecycle changes: "state", "config_id", "error".
	EventTypeStreamingState EventType = "streaming_state"
	// EventTypeStreamingStats carries loop counters: "ticks", "sent", "skipped", "overruns".
	EventTypeStreamingStats EventType = "streaming_stats"
	// EventTypePreview carries the colors sent in one tick: "colors" ([]ChannelColor).
	EventTypePreview EventType = "preview"
	// EventTypeChannel carries a channel after a control-plane edit: "channel".
	EventTypeChannel EventType = "channel"
	// EventTypeBridgeEntertainment carries entertainment_configuration updates
	// from the bridge event stream: "resource_id", "status", "owner".
	EventTypeBridgeEntertainment EventType = "bridge_entertainment"
)

// ChannelColor is one channel's preview color as 8-bit hex.
type ChannelColor struct {
	Channel uint8  `json:"channel"`
	Color   string `json:"color"`
}

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100

	// dropLogInterval bounds the "queue full" warning; preview events arrive
	// several times per second and a slow subscriber would flood the log.
	dropLogInterval = 5 * time.Second
)

// Event represents an event in the system
type Event struct {
	Type EventType              `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	// Worker pool
	workQueue chan work
	wg        sync.WaitGroup

	// Shutdown signaling - closing this channel signals publishers to stop
	// Using a channel in select is race-free (unlike mutex + bool)
	closing   chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
	dropLog *rate.Limiter
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
		dropLog:   rate.NewLimiter(rate.Every(dropLogInterval), 1),
	}

	// Start worker pool
	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker processes events from the work queue
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the work queue is full or bus is closing, events are dropped
// and counted. The streaming loop publishes from its tick and must never wait here.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.handlers[event.Type] {
		select {
		case <-b.closing:
			log.Debug().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			n := b.dropped.Add(1)
			if b.dropLog.Allow() {
				log.Warn().
					Str("event_type", string(event.Type)).
					Uint64("dropped_total", n).
					Msg("Event bus queue full, dropping events")
			}
		}
	}
}

// Dropped returns how many deliveries were dropped because the queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts down the worker pool gracefully.
// First signals publishers to stop, then closes the work queue and waits for workers.
func (b *Bus) Close(ctx context.Context) {
	// Signal publishers to stop sending; the write lock waits out any
	// Publish still queueing, so the work queue is closed exactly once with no sender left.
	b.closeOnce.Do(func() {
		close(b.closing)
		b.mu.Lock()
		close(b.workQueue)
		b.mu.Unlock()
	})

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
