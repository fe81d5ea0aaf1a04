package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Options controls one engine run.
type Options struct {
	// Timeout bounds total wall time. Zero means unbounded.
	Timeout time.Duration

	// Parallel fans rules out concurrently instead of running them in
	// priority order.
	Parallel bool

	// FailFast stops at the first failing rule. Only meaningful in
	// sequential mode.
	FailFast bool

	// Context is the optional security context passed to each rule.
	Context *auth.SecurityContext
}

// timeoutMessage is the error appended when the deadline expires
// before a rule settles.
const timeoutMessage = "validation timed out"

// ValidateWithRules executes every enabled rule against the data in
// ascending priority order. A rule that panics becomes a failed result
// for that rule rather than aborting the pipeline. When the timeout
// expires the run fails promptly; in-flight rules are not force-
// cancelled, their late results are discarded.
func (v *Validator) ValidateWithRules(ctx context.Context, data map[string]any, opts Options) Result {
	v.mu.RLock()
	entries := v.enabledEntriesLocked(true)
	v.mu.RUnlock()

	result := v.run(ctx, entries, data, opts)
	v.recordOutcome(result.Valid)
	return result
}

// ValidateWithRuleGroup executes the named group's member rules and
// reduces them under the group's mode: "all" is a conjunction, "any" a
// disjunction.
func (v *Validator) ValidateWithRuleGroup(ctx context.Context, groupName string, data map[string]any, opts Options) Result {
	v.mu.RLock()
	ge, ok := v.groups[groupName]
	var entries []*ruleEntry
	var mode GroupMode
	if ok && ge.enabled {
		mode = ge.group.Mode
		for _, name := range ge.group.Rules {
			if e, found := v.rules[name]; found && e.enabled {
				entries = append(entries, e)
			}
		}
	}
	v.mu.RUnlock()

	if !ok {
		result := Invalid(fmt.Sprintf("rule group %q not found", groupName))
		v.recordOutcome(false)
		return result
	}
	if !ge.enabled {
		result := Invalid(fmt.Sprintf("rule group %q is disabled", groupName))
		v.recordOutcome(false)
		return result
	}

	// Disjunction needs every member outcome, so fail-fast is only
	// honored for conjunctions.
	runOpts := opts
	if mode == GroupModeAny {
		runOpts.FailFast = false
	}

	outcomes := v.runAll(ctx, entries, data, runOpts)
	result := reduce(mode, outcomes)
	v.recordOutcome(result.Valid)
	return result
}

// run executes entries and merges them as a conjunction.
func (v *Validator) run(ctx context.Context, entries []*ruleEntry, data map[string]any, opts Options) Result {
	outcomes := v.runAll(ctx, entries, data, opts)
	return reduce(GroupModeAll, outcomes)
}

// runAll executes entries per the options and returns each rule's
// outcome in execution order.
func (v *Validator) runAll(ctx context.Context, entries []*ruleEntry, data map[string]any, opts Options) []Result {
	if len(entries) == 0 {
		return nil
	}

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	if opts.Parallel {
		return v.runParallel(ctx, entries, data, opts, deadline)
	}
	return v.runSequential(ctx, entries, data, opts, deadline)
}

// runSequential executes rules strictly in order. Each rule still runs
// on its own goroutine so a hung rule cannot outlive the deadline.
func (v *Validator) runSequential(
	ctx context.Context,
	entries []*ruleEntry,
	data map[string]any,
	opts Options,
	deadline <-chan time.Time,
) []Result {
	outcomes := make([]Result, 0, len(entries))
	for _, e := range entries {
		ch := v.dispatch(ctx, e, data, opts.Context)

		select {
		case r := <-ch:
			outcomes = append(outcomes, r)
			if !r.Valid && opts.FailFast {
				return outcomes
			}
		case <-deadline:
			outcomes = append(outcomes, Invalid(timeoutMessage))
			return outcomes
		case <-ctx.Done():
			outcomes = append(outcomes, Invalid(ctx.Err().Error()))
			return outcomes
		}
	}
	return outcomes
}

// runParallel fans every rule out at once and merges whatever settles
// before the deadline.
func (v *Validator) runParallel(
	ctx context.Context,
	entries []*ruleEntry,
	data map[string]any,
	opts Options,
	deadline <-chan time.Time,
) []Result {
	type indexed struct {
		i int
		r Result
	}
	ch := make(chan indexed, len(entries))
	for i, e := range entries {
		go func(i int, e *ruleEntry) {
			rc := v.dispatch(ctx, e, data, opts.Context)
			ch <- indexed{i: i, r: <-rc}
		}(i, e)
	}

	outcomes := make([]Result, len(entries))
	settled := make([]bool, len(entries))
	for pending := len(entries); pending > 0; {
		select {
		case o := <-ch:
			outcomes[o.i] = o.r
			settled[o.i] = true
			pending--
		case <-deadline:
			for i := range outcomes {
				if !settled[i] {
					outcomes[i] = Invalid(timeoutMessage)
				}
			}
			return outcomes
		case <-ctx.Done():
			for i := range outcomes {
				if !settled[i] {
					outcomes[i] = Invalid(ctx.Err().Error())
				}
			}
			return outcomes
		}
	}
	return outcomes
}

// dispatch runs one rule on its own goroutine with panic recovery and
// returns the channel its result settles on.
func (v *Validator) dispatch(ctx context.Context, e *ruleEntry, data map[string]any, sc *auth.SecurityContext) <-chan Result {
	ch := make(chan Result, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				v.logger.Error("validation rule panicked",
					observability.String("rule", e.rule.Name),
					observability.Any("panic", r),
				)
				ch <- Invalid(fmt.Sprintf("rule %s failed: %v", e.rule.Name, r))
			}
		}()
		result := e.rule.Validate(ctx, data, sc)
		v.promMet.RecordRule(e.rule.Name, result.Valid, time.Since(start))
		ch <- result
	}()
	return ch
}

// reduce folds per-rule outcomes under a group mode.
func reduce(mode GroupMode, outcomes []Result) Result {
	if len(outcomes) == 0 {
		return Passed()
	}

	merged := Result{Valid: mode != GroupModeAny}
	anyPassed := false
	for _, o := range outcomes {
		if o.Valid {
			anyPassed = true
			continue
		}
		merged.Errors = append(merged.Errors, o.Errors...)
	}

	switch mode {
	case GroupModeAny:
		merged.Valid = anyPassed
		if anyPassed {
			merged.Errors = nil
		}
	default:
		merged.Valid = len(merged.Errors) == 0 && allValid(outcomes)
	}
	return merged
}

func allValid(outcomes []Result) bool {
	for _, o := range outcomes {
		if !o.Valid {
			return false
		}
	}
	return true
}
