// Package validator implements the composable validation-rule engine:
// a registry of named, priority-ordered rules and rule groups with
// sequential or concurrent execution, bounded by timeouts, plus the
// built-in credential and token checks.
package validator

import (
	"context"
	"sort"
	"sync"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/observability"
	"github.com/vyrodovalexey/avauth/internal/security"
)

// Result is the outcome of one rule or one engine run.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Invalid builds a failed result with the given messages.
func Invalid(errors ...string) Result {
	return Result{Valid: false, Errors: errors}
}

// Passed is a successful result.
func Passed() Result {
	return Result{Valid: true}
}

// RuleFunc evaluates input data against one rule. The security context
// is nil when the caller has none.
type RuleFunc func(ctx context.Context, data map[string]any, sc *auth.SecurityContext) Result

// Rule is one named, priority-ordered validation rule. Lower priority
// values execute earlier.
type Rule struct {
	Name     string
	Priority int
	Validate RuleFunc
}

// GroupMode is the reduction policy of a rule group.
type GroupMode string

// Group reduction modes.
const (
	// GroupModeAll succeeds only when every member rule succeeds.
	GroupModeAll GroupMode = "all"

	// GroupModeAny succeeds when at least one member rule succeeds.
	GroupModeAny GroupMode = "any"
)

// Group is a named collection of rules reduced under one mode.
type Group struct {
	Name  string
	Rules []string
	Mode  GroupMode
}

// Statistics are the validator's cumulative counters.
type Statistics struct {
	TotalValidations      int64 `json:"total_validations"`
	SuccessfulValidations int64 `json:"successful_validations"`
	FailedValidations     int64 `json:"failed_validations"`
}

// ruleEntry is one registered rule with its enablement and
// registration order.
type ruleEntry struct {
	rule    Rule
	enabled bool
	seq     uint64
}

type groupEntry struct {
	group   Group
	enabled bool
}

// Validator owns the rule and group registries and executes them.
// Every instance has private registries.
type Validator struct {
	logger   observability.Logger
	metrics  observability.Metrics
	promMet  *Metrics
	security security.Service

	minSecretLength int

	mu      sync.RWMutex
	rules   map[string]*ruleEntry
	groups  map[string]*groupEntry
	nextSeq uint64
	stats   Statistics
}

// Option is a functional option for the validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithMetricsRecorder sets the attempt/success/failure recorder.
func WithMetricsRecorder(m observability.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// WithPrometheusMetrics sets the validator's Prometheus metrics.
func WithPrometheusMetrics(m *Metrics) Option {
	return func(v *Validator) {
		v.promMet = m
	}
}

// WithSecurityService sets the security collaborator used by the
// built-in credential check.
func WithSecurityService(s security.Service) Option {
	return func(v *Validator) {
		v.security = s
	}
}

// WithMinSecretLength overrides the built-in secret strength floor.
func WithMinSecretLength(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.minSecretLength = n
		}
	}
}

// DefaultMinSecretLength is the built-in secret strength floor.
const DefaultMinSecretLength = 8

// New creates a validator.
func New(opts ...Option) *Validator {
	v := &Validator{
		logger:          observability.NopLogger(),
		metrics:         observability.NopMetrics(),
		minSecretLength: DefaultMinSecretLength,
		rules:           make(map[string]*ruleEntry),
		groups:          make(map[string]*groupEntry),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// AddRule registers a rule under its name, enabled. Re-adding an
// existing name overwrites it with a warning.
func (v *Validator) AddRule(rule Rule) {
	v.mu.Lock()
	if _, exists := v.rules[rule.Name]; exists {
		v.logger.Warn("overwriting existing validation rule",
			observability.String("rule", rule.Name),
		)
	}
	v.nextSeq++
	v.rules[rule.Name] = &ruleEntry{rule: rule, enabled: true, seq: v.nextSeq}
	v.mu.Unlock()
}

// RemoveRule deletes a rule. Unknown names report false.
func (v *Validator) RemoveRule(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.rules[name]; !ok {
		return false
	}
	delete(v.rules, name)
	return true
}

// EnableRule enables a rule. Unknown names report false.
func (v *Validator) EnableRule(name string) bool { return v.setRuleEnabled(name, true) }

// DisableRule disables a rule; disabled rules are skipped during
// execution. Unknown names report false.
func (v *Validator) DisableRule(name string) bool { return v.setRuleEnabled(name, false) }

func (v *Validator) setRuleEnabled(name string, enabled bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.rules[name]
	if !ok {
		return false
	}
	e.enabled = enabled
	return true
}

// GetRule returns a registered rule by name.
func (v *Validator) GetRule(name string) (Rule, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.rules[name]
	if !ok {
		return Rule{}, false
	}
	return e.rule, true
}

// Rules returns all registered rules in execution order (ascending
// priority, registration order within a priority).
func (v *Validator) Rules() []Rule {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entries := v.enabledEntriesLocked(false)
	out := make([]Rule, len(entries))
	for i, e := range entries {
		out[i] = e.rule
	}
	return out
}

// enabledEntriesLocked returns entries in execution order; with
// enabledOnly, disabled rules are skipped.
func (v *Validator) enabledEntriesLocked(enabledOnly bool) []*ruleEntry {
	entries := make([]*ruleEntry, 0, len(v.rules))
	for _, e := range v.rules {
		if enabledOnly && !e.enabled {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rule.Priority != entries[j].rule.Priority {
			return entries[i].rule.Priority < entries[j].rule.Priority
		}
		return entries[i].seq < entries[j].seq
	})
	return entries
}

// AddRuleGroup registers a group, enabled. Member rules are resolved
// by name at execution time.
func (v *Validator) AddRuleGroup(group Group) {
	if group.Mode == "" {
		group.Mode = GroupModeAll
	}
	v.mu.Lock()
	if _, exists := v.groups[group.Name]; exists {
		v.logger.Warn("overwriting existing rule group",
			observability.String("group", group.Name),
		)
	}
	v.groups[group.Name] = &groupEntry{group: group, enabled: true}
	v.mu.Unlock()
}

// GetRuleGroup returns a registered group by name.
func (v *Validator) GetRuleGroup(name string) (Group, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.groups[name]
	if !ok {
		return Group{}, false
	}
	return e.group, true
}

// RemoveRuleGroup deletes a group. Unknown names report false.
func (v *Validator) RemoveRuleGroup(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.groups[name]; !ok {
		return false
	}
	delete(v.groups, name)
	return true
}

// SetRuleGroupEnabled enables or disables a group. Unknown names
// report false.
func (v *Validator) SetRuleGroupEnabled(name string, enabled bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.groups[name]
	if !ok {
		return false
	}
	e.enabled = enabled
	return true
}

// Statistics returns the cumulative counters.
func (v *Validator) Statistics() Statistics {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stats
}

// ResetStatistics clears the cumulative counters.
func (v *Validator) ResetStatistics() {
	v.mu.Lock()
	v.stats = Statistics{}
	v.mu.Unlock()
}

// recordOutcome folds one engine run into the counters.
func (v *Validator) recordOutcome(valid bool) {
	v.mu.Lock()
	v.stats.TotalValidations++
	if valid {
		v.stats.SuccessfulValidations++
	} else {
		v.stats.FailedValidations++
	}
	v.mu.Unlock()
	v.promMet.RecordValidation(valid)
}
