package rules

import (
	"sync"
	"time"
)

// Event name constants following a hierarchical naming pattern.
const (
	EventEvaluateBegin  = "rule/evaluate.begin"
	EventEvaluateResult = "rule/evaluate.result"
	EventEvaluateError  = "rule/evaluate.error"
	EventBuildRule      = "build/rule"
	EventBuildFailed    = "build/rule.failed"
)

// Event is one diagnostic emitted by the engine.
type Event struct {
	Name    string         // one of the Event* constants
	Start   time.Time      // when the measured step began
	Latency time.Duration  // zero for point events
	Data    map[string]any // event-specific fields
}

// Handler receives events as they occur. A nil Handler drops events;
// handlers never influence evaluation outcomes.
type Handler func(event Event)

func (h Handler) emit(e Event) {
	if h != nil {
		h(e)
	}
}

// Collector accumulates events, for tests and batch reports.
// Safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Handler returns a Handler that appends to the collector.
func (c *Collector) Handler() Handler {
	return func(e Event) {
		c.mu.Lock()
		c.events = append(c.events, e)
		c.mu.Unlock()
	}
}

// Events returns a copy of the collected events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns how many events with the given name were collected.
func (c *Collector) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Reset drops all collected events.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.events = c.events[:0]
	c.mu.Unlock()
}
