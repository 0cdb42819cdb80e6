// Package eventbus provides a synchronous publish/subscribe channel whose
// subscribers are identified by caller-supplied keys.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"pkt.systems/pslog"
)

// Key identifies a subscriber. A channel holds at most one entry per key.
type Key string

type entry[T any] struct {
	key Key
	gen uint64
	fn  func(T)
}

// Channel fans values out to keyed subscribers in registration order.
// The zero value is not usable; construct with New.
type Channel[T any] struct {
	mu   sync.Mutex
	subs []entry[T]
	gen  uint64
	log  pslog.Logger
	name string
}

// New constructs a Channel. The name only appears in log fields.
func New[T any](name string, logger pslog.Logger) *Channel[T] {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Channel[T]{log: logger, name: name}
}

// Subscribe registers fn under key. When the key is already registered
// nothing changes: added is false and the returned unsubscribe is a no-op
// that reports false. Otherwise the returned function removes exactly this
// registration and reports whether it was still present.
func (c *Channel[T]) Subscribe(key Key, fn func(T)) (added bool, unsubscribe func() bool) {
	noop := func() bool { return false }
	if c == nil || key == "" || fn == nil {
		return false, noop
	}
	c.mu.Lock()
	for _, e := range c.subs {
		if e.key == key {
			c.mu.Unlock()
			return false, noop
		}
	}
	c.gen++
	gen := c.gen
	c.subs = append(c.subs, entry[T]{key: key, gen: gen, fn: fn})
	count := len(c.subs)
	c.mu.Unlock()
	c.log.Debug("eventbus subscribe", "channel", c.name, "key", key, "subs", count)
	return true, func() bool {
		return c.remove(key, gen)
	}
}

func (c *Channel[T]) remove(key Key, gen uint64) bool {
	c.mu.Lock()
	removed := false
	for i, e := range c.subs {
		if e.key == key && e.gen == gen {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			removed = true
			break
		}
	}
	c.mu.Unlock()
	if removed {
		c.log.Debug("eventbus unsubscribe", "channel", c.name, "key", key)
	}
	return removed
}

// Publish calls every subscriber registered when Publish began, in
// registration order, on the calling goroutine. A panicking subscriber is
// logged and skipped; delivery to the rest continues. Subscribers may
// subscribe or unsubscribe from within their callback.
func (c *Channel[T]) Publish(value T) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if len(c.subs) == 0 {
		c.mu.Unlock()
		return
	}
	snapshot := make([]entry[T], len(c.subs))
	copy(snapshot, c.subs)
	c.mu.Unlock()
	for _, e := range snapshot {
		c.deliver(e, value)
	}
}

func (c *Channel[T]) deliver(e entry[T], value T) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("eventbus subscriber panic", "channel", c.name, "key", e.key, "err", fmt.Sprint(r))
		}
	}()
	e.fn(value)
}

// UnsubscribeAll removes every subscriber.
func (c *Channel[T]) UnsubscribeAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	count := len(c.subs)
	c.subs = nil
	c.mu.Unlock()
	if count > 0 {
		c.log.Debug("eventbus unsubscribe all", "channel", c.name, "subs", count)
	}
}

// Size reports the number of registered subscribers.
func (c *Channel[T]) Size() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
