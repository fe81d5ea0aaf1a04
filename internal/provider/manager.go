package provider

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avauth/internal/observability"
)

// Default manager configuration constants.
const (
	// DefaultHealthCheckInterval is the default interval between
	// periodic health check passes.
	DefaultHealthCheckInterval = 30 * time.Second

	// DefaultHealthCheckTimeout bounds a single provider's check.
	DefaultHealthCheckTimeout = 5 * time.Second

	// DefaultUnhealthyThreshold is the number of consecutive failures
	// after which a provider is excluded from selection.
	DefaultUnhealthyThreshold = 3

	// DefaultMaxRetries is the default retry budget for provider calls.
	DefaultMaxRetries = 2

	// DefaultShutdownTimeout bounds ShutdownAll when the caller does
	// not supply a budget.
	DefaultShutdownTimeout = 30 * time.Second
)

// RegisterOptions controls how a provider is registered.
type RegisterOptions struct {
	Priority            Priority
	AutoEnable          bool
	HealthCheckInterval time.Duration
	FailoverEnabled     bool
	MaxRetries          int
	Metadata            map[string]string
}

// DefaultRegisterOptions returns the defaults applied when Register is
// called with nil options.
func DefaultRegisterOptions() RegisterOptions {
	return RegisterOptions{
		Priority:        PriorityNormal,
		AutoEnable:      true,
		FailoverEnabled: true,
		MaxRetries:      DefaultMaxRetries,
	}
}

// health is the mutable health state of one registration.
type health struct {
	consecutiveFailures int
	lastCheckedAt       time.Time
	lastHealthy         time.Time
}

// entry is one provider registration.
type entry struct {
	authenticator       Authenticator
	enabled             bool
	priority            Priority
	health              health
	metadata            map[string]string
	maxRetries          int
	failoverEnabled     bool
	healthCheckInterval time.Duration
	breaker             *gobreaker.CircuitBreaker
	seq                 uint64
}

// HealthSnapshot is a read-only view of one provider's health.
type HealthSnapshot struct {
	Name                string    `json:"name"`
	Enabled             bool      `json:"enabled"`
	Priority            Priority  `json:"priority"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Healthy             bool      `json:"healthy"`
	LastCheckedAt       time.Time `json:"last_checked_at,omitempty"`
}

// Statistics summarizes the manager's registries.
type Statistics struct {
	TotalProviders      int              `json:"total_providers"`
	EnabledProviders    int              `json:"enabled_providers"`
	HealthyProviders    int              `json:"healthy_providers"`
	HealthScore         float64          `json:"health_score"`
	ProviderTypes       map[string]int   `json:"provider_types"`
	ProvidersByPriority map[Priority]int `json:"providers_by_priority"`
	TotalUserManagers   int              `json:"total_user_managers"`
	TotalTokenManagers  int              `json:"total_token_managers"`
}

// Manager owns the provider registry, priority and health state, and
// the health-monitoring lifecycle. Every Manager instance has private
// registries, so multiple managers coexist in one process.
type Manager struct {
	logger             observability.Logger
	metrics            *ManagerMetrics
	unhealthyThreshold int
	checkTimeout       time.Duration

	mu            sync.RWMutex
	providers     map[string]*entry
	userManagers  map[string]UserManager
	tokenManagers map[string]TokenManager
	nextSeq       uint64

	monitorMu sync.Mutex
	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
}

// ManagerOption is a functional option for configuring the manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithManagerMetrics sets the Prometheus metrics.
func WithManagerMetrics(metrics *ManagerMetrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithUnhealthyThreshold sets the consecutive-failure count beyond
// which a provider is excluded from selection.
func WithUnhealthyThreshold(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.unhealthyThreshold = n
		}
	}
}

// WithHealthCheckTimeout bounds a single provider health check.
func WithHealthCheckTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.checkTimeout = d
		}
	}
}

// NewManager creates a provider manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:             observability.NopLogger(),
		unhealthyThreshold: DefaultUnhealthyThreshold,
		checkTimeout:       DefaultHealthCheckTimeout,
		providers:          make(map[string]*entry),
		userManagers:       make(map[string]UserManager),
		tokenManagers:      make(map[string]TokenManager),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a provider under its name. Registering an existing name
// overwrites the previous entry and logs a warning; it is not an error.
func (m *Manager) Register(p Authenticator, opts *RegisterOptions) {
	options := DefaultRegisterOptions()
	if opts != nil {
		options = *opts
		if !options.Priority.Valid() {
			options.Priority = PriorityNormal
		}
		if options.MaxRetries <= 0 {
			options.MaxRetries = DefaultMaxRetries
		}
	}

	e := &entry{
		authenticator:       p,
		enabled:             options.AutoEnable,
		priority:            options.Priority,
		metadata:            options.Metadata,
		maxRetries:          options.MaxRetries,
		failoverEnabled:     options.FailoverEnabled,
		healthCheckInterval: options.HealthCheckInterval,
	}
	if options.FailoverEnabled {
		e.breaker = m.newBreaker(p.Name())
	}

	m.mu.Lock()
	if _, exists := m.providers[p.Name()]; exists {
		m.logger.Warn("overwriting existing provider registration",
			observability.String("provider", p.Name()),
		)
	}
	m.nextSeq++
	e.seq = m.nextSeq
	m.providers[p.Name()] = e
	total := len(m.providers)
	m.mu.Unlock()

	m.metrics.RecordRegistration(p.Type(), total)
	m.logger.Info("provider registered",
		observability.String("provider", p.Name()),
		observability.String("type", p.Type()),
		observability.String("priority", e.priority.String()),
		observability.Bool("enabled", e.enabled),
	)
}

// newBreaker builds the circuit breaker guarding one provider's calls.
// An open breaker makes the provider ineligible for Best until the
// breaker half-opens.
func (m *Manager) newBreaker(name string) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(m.unhealthyThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Info("provider circuit breaker state change",
				observability.String("provider", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// Has reports whether a provider is registered under the name.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.providers[name]
	return ok
}

// Get returns the registered provider, or nil when absent.
func (m *Manager) Get(name string) Authenticator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.providers[name]
	if !ok {
		return nil
	}
	return e.authenticator
}

// IsEnabled reports whether the named provider is enabled. Unknown
// names report false.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.providers[name]
	return ok && e.enabled
}

// PriorityOf returns the provider's priority. Unknown names report
// false.
func (m *Manager) PriorityOf(name string) (Priority, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.providers[name]
	if !ok {
		return PriorityNormal, false
	}
	return e.priority, true
}

// SetPriority updates the provider's priority. Unknown names report
// false rather than failing.
func (m *Manager) SetPriority(name string, p Priority) bool {
	if !p.Valid() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.providers[name]
	if !ok {
		return false
	}
	e.priority = p
	return true
}

// SetEnabled enables or disables the provider. A disabled provider
// stays disabled until explicitly re-enabled. Unknown names report
// false.
func (m *Manager) SetEnabled(name string, enabled bool) bool {
	m.mu.Lock()
	e, ok := m.providers[name]
	if ok {
		e.enabled = enabled
	}
	m.mu.Unlock()
	if ok {
		m.logger.Info("provider enablement changed",
			observability.String("provider", name),
			observability.Bool("enabled", enabled),
		)
	}
	return ok
}

// HealthOf returns a health snapshot for one provider.
func (m *Manager) HealthOf(name string) (HealthSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.providers[name]
	if !ok {
		return HealthSnapshot{}, false
	}
	return m.snapshotLocked(name, e), true
}

// AllHealth returns health snapshots for all (or only enabled)
// providers.
func (m *Manager) AllHealth(enabledOnly bool) []HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]HealthSnapshot, 0, len(m.providers))
	for name, e := range m.providers {
		if enabledOnly && !e.enabled {
			continue
		}
		out = append(out, m.snapshotLocked(name, e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) snapshotLocked(name string, e *entry) HealthSnapshot {
	return HealthSnapshot{
		Name:                name,
		Enabled:             e.enabled,
		Priority:            e.priority,
		ConsecutiveFailures: e.health.consecutiveFailures,
		Healthy:             m.eligibleLocked(e),
		LastCheckedAt:       e.health.lastCheckedAt,
	}
}

// eligibleLocked reports whether the entry may be selected: within the
// failure threshold and, when failover is enabled, breaker not open.
func (m *Manager) eligibleLocked(e *entry) bool {
	if e.health.consecutiveFailures > m.unhealthyThreshold {
		return false
	}
	if e.breaker != nil && e.breaker.State() == gobreaker.StateOpen {
		return false
	}
	return true
}

// HealthStateOf maps a provider's failure count onto the coarse health
// state machine. Unknown names report false.
func (m *Manager) HealthStateOf(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.providers[name]
	if !ok {
		return "", false
	}
	switch {
	case !m.eligibleLocked(e):
		return "unhealthy", true
	case e.health.consecutiveFailures > 0:
		return "degraded", true
	default:
		return "healthy", true
	}
}

// ByPriority returns the names of providers registered at the given
// priority, in registration order.
func (m *Manager) ByPriority(p Priority) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type cand struct {
		name string
		seq  uint64
	}
	var cands []cand
	for name, e := range m.providers {
		if e.priority == p {
			cands = append(cands, cand{name, e.seq})
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].seq < cands[j].seq })

	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.name
	}
	return out
}

// Count returns the number of registered (or enabled) providers.
func (m *Manager) Count(enabledOnly bool) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !enabledOnly {
		return len(m.providers)
	}
	n := 0
	for _, e := range m.providers {
		if e.enabled {
			n++
		}
	}
	return n
}

// List returns provider names, optionally restricted to enabled
// providers and optionally sorted by priority (registration order
// otherwise).
func (m *Manager) List(enabledOnly, sortedByPriority bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type cand struct {
		name     string
		priority Priority
		seq      uint64
	}
	var cands []cand
	for name, e := range m.providers {
		if enabledOnly && !e.enabled {
			continue
		}
		cands = append(cands, cand{name, e.priority, e.seq})
	}
	sort.Slice(cands, func(i, j int) bool {
		if sortedByPriority && cands[i].priority != cands[j].priority {
			return cands[i].priority < cands[j].priority
		}
		return cands[i].seq < cands[j].seq
	})

	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.name
	}
	return out
}

// Best returns the highest-priority enabled, healthy provider. Equal
// priorities prefer fewer consecutive failures, then registration
// order. Returns nil when no provider qualifies.
func (m *Manager) Best() Authenticator {
	m.mu.RLock()
	var best *entry
	var bestName string
	for name, e := range m.providers {
		if !e.enabled || !m.eligibleLocked(e) {
			continue
		}
		if best == nil || betterLocked(e, best) {
			best = e
			bestName = name
		}
	}
	m.mu.RUnlock()

	m.metrics.RecordSelection(bestName)
	if best == nil {
		return nil
	}
	return best.authenticator
}

// betterLocked reports whether a should be selected over b.
func betterLocked(a, b *entry) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if a.health.consecutiveFailures != b.health.consecutiveFailures {
		return a.health.consecutiveFailures < b.health.consecutiveFailures
	}
	return a.seq < b.seq
}

// RegisterUserManager adds an auxiliary user manager.
func (m *Manager) RegisterUserManager(um UserManager) {
	m.mu.Lock()
	m.userManagers[um.Name()] = um
	m.mu.Unlock()
}

// RegisterTokenManager adds an auxiliary token manager.
func (m *Manager) RegisterTokenManager(tm TokenManager) {
	m.mu.Lock()
	m.tokenManagers[tm.Name()] = tm
	m.mu.Unlock()
}

// UserManagerFor returns a registered user manager by name.
func (m *Manager) UserManagerFor(name string) UserManager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userManagers[name]
}

// Statistics summarizes the registries.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{
		TotalProviders:      len(m.providers),
		ProviderTypes:       make(map[string]int),
		ProvidersByPriority: make(map[Priority]int),
		TotalUserManagers:   len(m.userManagers),
		TotalTokenManagers:  len(m.tokenManagers),
	}
	for _, e := range m.providers {
		stats.ProviderTypes[e.authenticator.Type()]++
		stats.ProvidersByPriority[e.priority]++
		if e.enabled {
			stats.EnabledProviders++
		}
		if m.eligibleLocked(e) {
			stats.HealthyProviders++
		}
	}
	if stats.TotalProviders > 0 {
		stats.HealthScore = float64(stats.HealthyProviders) / float64(stats.TotalProviders) * 100
	}
	return stats
}
