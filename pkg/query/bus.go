package query

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Channel names one of the three broadcast streams carried by a Bus.
type Channel string

const (
	// ChannelInvalidate carries keys whose matching queries must drop in-flight work and refetch.
	ChannelInvalidate Channel = "invalidate"
	// ChannelSubscriberOn carries keys that gained an active subscriber.
	ChannelSubscriberOn Channel = "subscriber-on"
	// ChannelSubscriberOff carries keys that lost an active subscriber.
	ChannelSubscriberOff Channel = "subscriber-off"
)

// Handler receives a broadcast key.
type Handler func(key Key)

// KeyFilter decides whether a broadcast key should reach a handler.
type KeyFilter func(key Key) bool

type busSubscription struct {
	id      string
	channel Channel
	filter  KeyFilter
	handler Handler
}

// Bus is an in-process publish/subscribe component with key-filtered delivery.
// It is safe for concurrent use.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]*busSubscription
	logger        zerolog.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subscriptions: make(map[string]*busSubscription),
		logger:        logger.With().Str("component", "QueryBus").Logger(),
	}
}

// Subscribe registers handler for keys published on channel. A nil filter delivers every key.
// The returned ID is used to Unsubscribe.
func (b *Bus) Subscribe(channel Channel, filter KeyFilter, handler Handler) string {
	sub := &busSubscription{
		id:      uuid.NewString(),
		channel: channel,
		filter:  filter,
		handler: handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription. It reports whether the ID was known.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscriptions[id]; !ok {
		return false
	}
	delete(b.subscriptions, id)
	return true
}

// Publish delivers key synchronously to every matching handler on channel and returns
// how many handlers received it. Handlers run outside the bus lock, in no particular order.
func (b *Bus) Publish(channel Channel, key Key) int {
	b.mu.RLock()
	matched := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.channel != channel {
			continue
		}
		if sub.filter != nil && !sub.filter(key) {
			continue
		}
		matched = append(matched, sub)
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		b.deliver(sub, key)
	}
	return len(matched)
}

// deliver isolates a panicking handler from the rest of the fan-out.
func (b *Bus) deliver(sub *busSubscription, key Key) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn().
				Str("channel", string(sub.channel)).
				Str("query_key", key.String()).
				Interface("panic", r).
				Msg("Recovered panic in bus handler.")
		}
	}()
	sub.handler(key)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}
