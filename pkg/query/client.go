package query

import (
	"sync"

	"github.com/rs/zerolog"
)

// Client is the shared query registry. It tracks every registered Key and broadcasts
// invalidation and subscriber events over its Bus. One Client is normally created at the
// application's composition root and handed to every query.
type Client struct {
	mu     sync.RWMutex
	keys   map[string]Key
	bus    *Bus
	logger zerolog.Logger
}

// NewClient creates a Client with its own Bus.
func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		keys:   make(map[string]Key),
		bus:    NewBus(logger),
		logger: logger.With().Str("component", "QueryClient").Logger(),
	}
}

// Bus returns the broadcast channel used by this client.
func (c *Client) Bus() *Bus {
	return c.bus
}

// Register adds key to the registry. Registering an equal key again is a no-op.
func (c *Client) Register(key Key) {
	hash := key.Hash()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[hash]; ok {
		return
	}
	c.keys[hash] = key
	c.logger.Debug().Str("query_key", key.String()).Msg("Registered query key.")
}

// Unregister removes key from the registry and reports whether it was present.
// Queries never unregister their own keys; callers that churn through many distinct
// keys use this to bound registry growth.
func (c *Client) Unregister(key Key) bool {
	hash := key.Hash()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[hash]; !ok {
		return false
	}
	delete(c.keys, hash)
	return true
}

// IsRegistered reports whether an equal key has been registered.
func (c *Client) IsRegistered(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keys[key.Hash()]
	return ok
}

// Keys returns a snapshot of the registered keys in no particular order.
func (c *Client) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Key, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, k)
	}
	return out
}

// InvalidateQuery broadcasts an invalidation for key. Every query whose own key contains
// all of key's segments refetches. Unknown keys are broadcast all the same.
func (c *Client) InvalidateQuery(key Key) int {
	matched := c.bus.Publish(ChannelInvalidate, key)
	invalidationsTotal.Inc()
	c.logger.Debug().Str("query_key", key.String()).Int("matched", matched).Msg("Invalidated query.")
	return matched
}

// InvalidateQueries invalidates each of keys. With no arguments it invalidates every
// currently registered key.
func (c *Client) InvalidateQueries(keys ...Key) int {
	if len(keys) == 0 {
		keys = c.Keys()
	}
	matched := 0
	for _, k := range keys {
		matched += c.InvalidateQuery(k)
	}
	return matched
}

// SubscribeToQuery announces a new subscriber for key.
func (c *Client) SubscribeToQuery(key Key) {
	c.bus.Publish(ChannelSubscriberOn, key)
}

// SubscribeToQueries announces a new subscriber for each of keys.
func (c *Client) SubscribeToQueries(keys ...Key) {
	for _, k := range keys {
		c.SubscribeToQuery(k)
	}
}

// UnsubscribeFromQuery announces that a subscriber for key went away.
func (c *Client) UnsubscribeFromQuery(key Key) {
	c.bus.Publish(ChannelSubscriberOff, key)
}

// UnsubscribeFromQueries announces that a subscriber went away for each of keys.
func (c *Client) UnsubscribeFromQueries(keys ...Key) {
	for _, k := range keys {
		c.UnsubscribeFromQuery(k)
	}
}
