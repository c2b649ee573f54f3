package firewall

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single fan-out when the caller does not configure one.
const DefaultTimeout = 150 * time.Millisecond

// Orchestrator fans a message out to every registered analyzer, isolates
// per-analyzer failures, and collects exactly one result per analyzer.
//
// The instance is long-lived: analyzers are registered once at construction
// and the orchestrator holds no per-call mutable state, so concurrent and
// repeated calls are independent.
type Orchestrator struct {
	analyzers []Analyzer
	timeout   time.Duration
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator with the given analyzers, in the
// order they will be consulted by the decision engine. Registration of a
// duplicate or empty analyzer name is a construction-time error — the
// firewall either starts fully capable or not at all.
func NewOrchestrator(analyzers []Analyzer, timeout time.Duration, logger *zap.Logger) (*Orchestrator, error) {
	seen := make(map[string]struct{}, len(analyzers))
	for _, a := range analyzers {
		name := a.Name()
		if name == "" {
			return nil, fmt.Errorf("NewOrchestrator: analyzer with empty name")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("NewOrchestrator: duplicate analyzer %q", name)
		}
		seen[name] = struct{}{}
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		analyzers: analyzers,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Analyzers returns the registered analyzer names in registration order.
func (o *Orchestrator) Analyzers() []string {
	names := make([]string, len(o.analyzers))
	for i, a := range o.analyzers {
		names[i] = a.Name()
	}
	return names
}

// analyzerOutput carries one analyzer's result back to the collecting goroutine.
type analyzerOutput struct {
	idx    int
	result *Result
	err    error
}

// Evaluate runs all analyzers in parallel against the message and returns
// one entry per analyzer, in registration order.
//
// Each goroutine writes its slot through a buffered channel sized for all
// analyzers, so late finishers after the deadline send into the buffer and
// are never read — the channel is GC'd once all references are gone. A
// faulting, panicking, or timed-out analyzer yields the error-placeholder
// result; it never aborts the call or leaves a hole in the output.
func (o *Orchestrator) Evaluate(ctx context.Context, message string, history []string) []Entry {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ch := make(chan analyzerOutput, len(o.analyzers))

	for i, a := range o.analyzers {
		go func(idx int, a Analyzer) {
			result, err := invoke(ctx, a, message, history)
			ch <- analyzerOutput{idx: idx, result: result, err: err}
		}(i, a)
	}

	slots := make([]*Result, len(o.analyzers))
	remaining := len(o.analyzers)
	for remaining > 0 {
		select {
		case out := <-ch:
			slots[out.idx] = o.settle(o.analyzers[out.idx], out.result, out.err)
			remaining--
		case <-ctx.Done():
			o.logger.Warn("analyzer timeout exceeded, recording unfinished analyzers as failed",
				zap.Duration("timeout", o.timeout),
			)
			// Outputs that finished in time may still be sitting in the
			// buffer; keep them before writing off the rest.
			o.drain(ch, slots)
			remaining = 0
		}
	}

	entries := make([]Entry, len(o.analyzers))
	for i, a := range o.analyzers {
		result := slots[i]
		if result == nil {
			// Slot never filled before the deadline.
			o.logger.Warn("analyzer timed out",
				zap.String("analyzer", a.Name()),
				zap.Duration("timeout", o.timeout),
			)
			result = errorResult(context.DeadlineExceeded)
		}
		entries[i] = Entry{Name: a.Name(), Kind: a.Kind(), Result: result}
	}
	return entries
}

// drain collects outputs already buffered when the deadline fired, without
// blocking. Each goroutine sends its slot index at most once, so a slot is
// never written twice.
func (o *Orchestrator) drain(ch <-chan analyzerOutput, slots []*Result) {
	for {
		select {
		case out := <-ch:
			slots[out.idx] = o.settle(o.analyzers[out.idx], out.result, out.err)
		default:
			return
		}
	}
}

// AnalyzeConversation evaluates the message against every registered
// analyzer and returns the raw results keyed by analyzer name. The map
// always contains exactly one entry per registered analyzer, even when
// every analyzer faults.
func (o *Orchestrator) AnalyzeConversation(ctx context.Context, message string, history []string) map[string]*Result {
	entries := o.Evaluate(ctx, message, history)
	results := make(map[string]*Result, len(entries))
	for _, e := range entries {
		results[e.Name] = e.Result
	}
	return results
}

// IsManipulative evaluates the message and reduces the results to a single
// boolean under the given verdict threshold. It never returns an error: a
// degraded analyzer set yields a best-effort verdict and total analyzer
// failure fails open.
func (o *Orchestrator) IsManipulative(ctx context.Context, message string, history []string, threshold float64) bool {
	return Decide(o.Evaluate(ctx, message, history), threshold, o.logger).IsManipulative
}

// settle applies the fixed post-processing to a finished analyzer call:
// failures become the error placeholder, and the statistical (placeholder)
// kind has its classification forcibly overwritten to the neutral sentinel
// regardless of what it returned.
func (o *Orchestrator) settle(a Analyzer, result *Result, err error) *Result {
	if err != nil {
		o.logger.Warn("analyzer failed during analysis",
			zap.String("analyzer", a.Name()),
			zap.Error(err),
		)
		return errorResult(err)
	}
	if result == nil {
		o.logger.Warn("analyzer returned nil result",
			zap.String("analyzer", a.Name()),
		)
		return errorResult(fmt.Errorf("analyzer %s returned nil result", a.Name()))
	}
	if a.Kind() == KindStatistical {
		result.Classification = NeutralPlaceholder
	}
	return result
}

// invoke calls the analyzer, converting a panic into a returned error so
// one misbehaving analyzer cannot take down the whole evaluation.
func invoke(ctx context.Context, a Analyzer, message string, history []string) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("analyzer panicked: %v", r)
		}
	}()
	return a.Analyze(ctx, message, history)
}

func errorResult(err error) *Result {
	return &Result{
		Classification: ClassificationError,
		Err:            err.Error(),
	}
}
