package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// DefaultHistorySize is the number of recent events retained for
	// replay to late subscribers.
	DefaultHistorySize = 256

	// DefaultChannelBuffer is the buffer size for subscriber channels.
	// A full buffer drops events for that subscriber only.
	DefaultChannelBuffer = 100
)

// SubscriptionID identifies one subscription.
type SubscriptionID string

// subscription carries one subscriber's handler and delivery channel.
type subscription struct {
	id        SubscriptionID
	eventType EventType
	handler   func(Event)
	ch        chan Event
	done      chan struct{}
}

// Bus is a thread-safe pub/sub hub with per-type and wildcard
// subscriptions plus a bounded event history.
type Bus struct {
	mu         sync.RWMutex
	subs       map[SubscriptionID]*subscription
	typedSubs  map[EventType]map[SubscriptionID]*subscription
	wildcards  map[SubscriptionID]*subscription
	subCounter uint64

	historyMu   sync.RWMutex
	history     []Event
	historySize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a bus with the default history size.
func New() *Bus {
	return NewWithHistory(DefaultHistorySize)
}

// NewWithHistory creates a bus retaining the given number of events.
func NewWithHistory(historySize int) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:        make(map[SubscriptionID]*subscription),
		typedSubs:   make(map[EventType]map[SubscriptionID]*subscription),
		wildcards:   make(map[SubscriptionID]*subscription),
		history:     make([]Event, 0, historySize),
		historySize: historySize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Subscribe registers a handler for one event type. The empty type
// subscribes to everything. The handler runs on a dedicated goroutine, so
// it may block without stalling publishers.
func (b *Bus) Subscribe(eventType EventType, handler func(Event)) SubscriptionID {
	if b.closed.Load() {
		return ""
	}

	b.mu.Lock()
	b.subCounter++
	id := SubscriptionID(fmt.Sprintf("sub_%d", b.subCounter))

	sub := &subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
		ch:        make(chan Event, DefaultChannelBuffer),
		done:      make(chan struct{}),
	}
	b.subs[id] = sub
	if eventType == "" {
		b.wildcards[id] = sub
	} else {
		if b.typedSubs[eventType] == nil {
			b.typedSubs[eventType] = make(map[SubscriptionID]*subscription)
		}
		b.typedSubs[eventType][id] = sub
	}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliver(sub)

	return id
}

// deliver pumps events to a single subscriber until it unsubscribes or
// the bus closes.
func (b *Bus) deliver(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case event := <-sub.ch:
			sub.handler(event)
		case <-sub.done:
			return
		case <-b.ctx.Done():
			return
		}
	}
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.mu.Lock()
	sub, exists := b.subs[id]
	if !exists {
		b.mu.Unlock()
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subs, id)
	if sub.eventType == "" {
		delete(b.wildcards, id)
	} else if typed, ok := b.typedSubs[sub.eventType]; ok {
		delete(typed, id)
		if len(typed) == 0 {
			delete(b.typedSubs, sub.eventType)
		}
	}
	b.mu.Unlock()

	close(sub.done)
	return nil
}

// Publish records the event in history and fans it out. Subscribers with
// full channels miss this event; publishing never blocks.
func (b *Bus) Publish(event Event) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.addToHistory(event)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.wildcards {
		select {
		case sub.ch <- event:
		default:
		}
	}
	if typed, ok := b.typedSubs[event.Type]; ok {
		for _, sub := range typed {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
	return nil
}

func (b *Bus) addToHistory(event Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns a copy of the retained events, oldest first.
func (b *Bus) History() []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	result := make([]Event, len(b.history))
	copy(result, b.history)
	return result
}

// HistoryTail returns the most recent n events, oldest first.
func (b *Bus) HistoryTail(n int) []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	if n > len(b.history) {
		n = len(b.history)
	}
	result := make([]Event, n)
	copy(result, b.history[len(b.history)-n:])
	return result
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts down delivery and clears all subscriptions. Further
// Publish and Subscribe calls are rejected.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("bus already closed")
	}

	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	b.subs = make(map[SubscriptionID]*subscription)
	b.typedSubs = make(map[EventType]map[SubscriptionID]*subscription)
	b.wildcards = make(map[SubscriptionID]*subscription)
	b.mu.Unlock()

	return nil
}
