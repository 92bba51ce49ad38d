package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/solatis/annotator/internal/types"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// Outcome is the evaluation of one rule against one fact.
type Outcome struct {
	Rule    *Rule
	Result  Result // nil when the rule did not match
	Err     error
	Elapsed time.Duration
}

// Matched reports whether the rule produced a result without error.
func (o Outcome) Matched() bool {
	return o.Err == nil && o.Result != nil
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxWorkers bounds the number of rules evaluated concurrently.
// Values below 1 fall back to types.DefaultMaxWorkers.
func WithMaxWorkers(n int) EngineOption {
	return func(e *Engine) { e.maxWorkers = n }
}

// WithEngineSink sets the handler receiving evaluation events. It replaces
// the sink each rule was built with.
func WithEngineSink(h Handler) EngineOption {
	return func(e *Engine) { e.sink = h }
}

// WithIncludeInactive evaluates inactive rules as well.
func WithIncludeInactive(include bool) EngineOption {
	return func(e *Engine) { e.includeInactive = include }
}

// Engine evaluates a fixed set of rules against facts.
// Safe for concurrent use.
type Engine struct {
	rules           []*Rule
	maxWorkers      int
	sink            Handler
	includeInactive bool
}

// NewEngine creates an engine over rules. The slice is copied.
func NewEngine(rules []*Rule, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:      append([]*Rule(nil), rules...),
		maxWorkers: types.DefaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxWorkers < 1 {
		e.maxWorkers = types.DefaultMaxWorkers
	}
	return e
}

// Rules returns the rules the engine evaluates, in order.
func (e *Engine) Rules() []*Rule {
	return append([]*Rule(nil), e.rules...)
}

// Evaluate runs every active rule against fact and returns one outcome per
// rule, in rule order. A panicking or failing rule only affects its own
// outcome. Rules not yet started when ctx is done report ctx.Err().
func (e *Engine) Evaluate(ctx context.Context, fact types.Fact) []Outcome {
	active := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if e.includeInactive || !r.Inactive() {
			active = append(active, r)
		}
	}

	outcomes := make([]Outcome, len(active))
	p := pool.New().WithMaxGoroutines(e.maxWorkers)
	for i, r := range active {
		i, r := i, r
		p.Go(func() {
			outcomes[i] = e.evaluateRule(ctx, r, fact)
		})
	}
	p.Wait()
	return outcomes
}

func (e *Engine) evaluateRule(ctx context.Context, r *Rule, fact types.Fact) Outcome {
	out := Outcome{Rule: r}
	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	sink := r.sink
	if e.sink != nil {
		sink = e.sink
	}

	start := time.Now()
	recovered := panics.Try(func() {
		out.Result, out.Err = r.evaluateWith(fact, sink)
	})
	out.Elapsed = time.Since(start)

	if recovered != nil {
		out.Result = nil
		out.Err = fmt.Errorf("rule %d: %w: %s", r.LegacyID, types.ErrEvaluationPanic, recovered.Value)
		sink.emit(Event{
			Name:    EventEvaluateError,
			Start:   start,
			Latency: out.Elapsed,
			Data:    map[string]any{"rule": r.LegacyID, "error": out.Err.Error()},
		})
	}
	return out
}

// Matches returns the outcomes that matched, preserving order.
func Matches(outcomes []Outcome) []Outcome {
	var matched []Outcome
	for _, o := range outcomes {
		if o.Matched() {
			matched = append(matched, o)
		}
	}
	return matched
}
