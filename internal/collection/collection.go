// Package collection keeps local, incrementally patched copies of backend
// tables. Rows change only through Apply and Truncate, which is how the sync
// layer delivers updates.
package collection

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

var ErrUnknownOp = errors.New("unknown change operation")

// Change is one row level mutation. For updates Value may hold only the
// changed columns; they are merged onto the current row.
type Change struct {
	Op    Op
	Key   string
	Value json.RawMessage
}

type Collection[T any] struct {
	mu    sync.RWMutex
	rows  map[string]T
	order []string // insertion order, for stable Values
	ready bool

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

func New[T any]() *Collection[T] {
	return &Collection[T]{
		rows: make(map[string]T),
		subs: make(map[int]chan struct{}),
	}
}

// Apply commits batch as a unit: when any change fails to decode, no change
// of the batch is visible.
func (c *Collection[T]) Apply(batch []Change) error {
	if len(batch) == 0 {
		return nil
	}

	c.mu.Lock()
	staged := make(map[string]*T) // nil value marks a delete
	var touched []string
	lookup := func(key string) (T, bool) {
		if v, ok := staged[key]; ok {
			if v == nil {
				var zero T
				return zero, false
			}
			return *v, true
		}
		v, ok := c.rows[key]
		return v, ok
	}

	for _, ch := range batch {
		if _, seen := staged[ch.Key]; !seen {
			touched = append(touched, ch.Key)
		}
		switch ch.Op {
		case OpInsert:
			var row T
			if err := json.Unmarshal(ch.Value, &row); err != nil {
				c.mu.Unlock()
				return fmt.Errorf("insert %s: %w", ch.Key, err)
			}
			staged[ch.Key] = &row
		case OpUpdate:
			current, _ := lookup(ch.Key)
			row, err := merge(current, ch.Value)
			if err != nil {
				c.mu.Unlock()
				return fmt.Errorf("update %s: %w", ch.Key, err)
			}
			staged[ch.Key] = &row
		case OpDelete:
			staged[ch.Key] = nil
		default:
			c.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrUnknownOp, ch.Op)
		}
	}

	for _, key := range touched {
		v := staged[key]
		_, exists := c.rows[key]
		if v == nil {
			if exists {
				delete(c.rows, key)
				c.order = remove(c.order, key)
			}
			continue
		}
		if !exists {
			c.order = append(c.order, key)
		}
		c.rows[key] = *v
	}
	c.mu.Unlock()

	c.notify()
	return nil
}

// Truncate drops every row, as required before a full resync.
func (c *Collection[T]) Truncate() {
	c.mu.Lock()
	c.rows = make(map[string]T)
	c.order = nil
	c.ready = false
	c.mu.Unlock()

	c.notify()
}

// MarkReady records that the collection caught up with the backend.
func (c *Collection[T]) MarkReady() {
	c.mu.Lock()
	changed := !c.ready
	c.ready = true
	c.mu.Unlock()

	if changed {
		c.notify()
	}
}

func (c *Collection[T]) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *Collection[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.rows[key]
	return v, ok
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// Values returns a copy of all rows in insertion order.
func (c *Collection[T]) Values() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.rows[key])
	}
	return out
}

// Subscribe returns a channel that receives a value after every change.
// Notifications coalesce: a slow reader sees at most one pending signal.
func (c *Collection[T]) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Collection[T]) notify() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func merge[T any](current T, patch json.RawMessage) (T, error) {
	var out T

	base, err := json.Marshal(current)
	if err != nil {
		return out, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return out, err
	}
	changed := map[string]json.RawMessage{}
	if err := json.Unmarshal(patch, &changed); err != nil {
		return out, err
	}
	for k, v := range changed {
		fields[k] = v
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(merged, &out)
	return out, err
}

func remove(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}
