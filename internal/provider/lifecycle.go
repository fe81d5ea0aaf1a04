package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// CheckResult is the outcome of one provider's health check.
type CheckResult struct {
	Healthy  bool          `json:"healthy"`
	Err      error         `json:"-"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// PerformHealthChecks checks every enabled provider concurrently. One
// provider's failure, panic, or slowness never prevents the others
// from completing or updating their own state. Each failed check
// increments the provider's consecutive-failure count by exactly one;
// each healthy check resets it to zero.
func (m *Manager) PerformHealthChecks(ctx context.Context) map[string]CheckResult {
	m.mu.RLock()
	targets := make(map[string]Authenticator, len(m.providers))
	for name, e := range m.providers {
		if e.enabled {
			targets[name] = e.authenticator
		}
	}
	m.mu.RUnlock()

	type outcome struct {
		name   string
		result CheckResult
	}
	resultCh := make(chan outcome, len(targets))

	for name, a := range targets {
		go func(name string, a Authenticator) {
			start := time.Now()
			err := m.runCheck(ctx, a)
			result := CheckResult{
				Healthy:  err == nil,
				Err:      err,
				Duration: time.Since(start),
			}
			if err != nil {
				result.Message = err.Error()
			}
			resultCh <- outcome{name: name, result: result}
		}(name, a)
	}

	results := make(map[string]CheckResult, len(targets))
	for range targets {
		o := <-resultCh
		results[o.name] = o.result
		m.recordCheck(o.name, o.result)
	}
	return results
}

// runCheck invokes one health check with a timeout and panic isolation.
func (m *Manager) runCheck(ctx context.Context, a Authenticator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("health check panicked: %v", r)
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()
	return a.HealthCheck(checkCtx)
}

// recordCheck folds one check outcome into the provider's health state.
func (m *Manager) recordCheck(name string, result CheckResult) {
	m.mu.Lock()
	e, ok := m.providers[name]
	if ok {
		e.health.lastCheckedAt = time.Now()
		if result.Healthy {
			e.health.consecutiveFailures = 0
			e.health.lastHealthy = e.health.lastCheckedAt
		} else {
			e.health.consecutiveFailures++
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	outcome := "success"
	if !result.Healthy {
		outcome = "failure"
		m.logger.Warn("provider health check failed",
			observability.String("provider", name),
			observability.String("reason", result.Message),
		)
	}
	m.metrics.RecordHealthCheck(name, outcome, result.Duration)
}

// StartHealthMonitoring starts the periodic health check loop. Starting
// while a loop is already running replaces it; there is never more than
// one loop per manager.
func (m *Manager) StartHealthMonitoring(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}

	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if m.running {
		m.stopLocked()
	}

	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})
	m.running = true

	go m.monitorLoop(interval, m.stopCh, m.stoppedCh)

	m.logger.Info("health monitoring started",
		observability.Duration("interval", interval),
	)
}

// StopHealthMonitoring stops the loop. No check fires after it returns.
// Stopping an idle manager is a no-op.
func (m *Manager) StopHealthMonitoring() {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if !m.running {
		return
	}
	m.stopLocked()
	m.logger.Info("health monitoring stopped")
}

func (m *Manager) stopLocked() {
	close(m.stopCh)
	<-m.stoppedCh
	m.running = false
}

func (m *Manager) monitorLoop(interval time.Duration, stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial pass before the first tick.
	m.PerformHealthChecks(context.Background())

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.PerformHealthChecks(context.Background())
		}
	}
}

// InitializeAll calls Initialize on every provider with settle-all
// semantics: each outcome is captured individually and one failure
// never aborts the batch. A positive timeout bounds the join; a
// straggler past the deadline is reported as an error but keeps
// running in the background.
func (m *Manager) InitializeAll(ctx context.Context, timeout time.Duration) map[string]error {
	return m.settleAll(ctx, timeout, "initialize", func(ctx context.Context, a Authenticator) error {
		return a.Initialize(ctx)
	})
}

// ShutdownAll stops health monitoring, then shuts every provider down
// with the same isolation guarantee. The join never exceeds the
// timeout budget (default 30s), even when a provider's shutdown never
// returns.
func (m *Manager) ShutdownAll(ctx context.Context, timeout time.Duration) map[string]error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	m.StopHealthMonitoring()
	return m.settleAll(ctx, timeout, "shutdown", func(ctx context.Context, a Authenticator) error {
		return a.Shutdown(ctx)
	})
}

// settleAll runs fn against every registered provider concurrently and
// gathers every outcome. With a positive timeout, outcomes that miss
// the deadline are recorded as deadline errors and the goroutines are
// left to finish on their own.
func (m *Manager) settleAll(
	ctx context.Context,
	timeout time.Duration,
	op string,
	fn func(context.Context, Authenticator) error,
) map[string]error {
	m.mu.RLock()
	targets := make(map[string]Authenticator, len(m.providers))
	for name, e := range m.providers {
		targets[name] = e.authenticator
	}
	m.mu.RUnlock()

	type outcome struct {
		name string
		err  error
	}
	resultCh := make(chan outcome, len(targets))

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for name, a := range targets {
		go func(name string, a Authenticator) {
			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("%s panicked: %v", op, r)
					}
				}()
				err = fn(callCtx, a)
			}()
			resultCh <- outcome{name: name, err: err}
		}(name, a)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	results := make(map[string]error, len(targets))
	pending := len(targets)
	for pending > 0 {
		select {
		case o := <-resultCh:
			pending--
			results[o.name] = o.err
			if o.err != nil {
				m.logger.Warn("provider batch operation failed",
					observability.String("operation", op),
					observability.String("provider", o.name),
					observability.Error(o.err),
				)
			}
		case <-deadline:
			// Stragglers are excluded from the join but keep running.
			for name := range targets {
				if _, done := results[name]; !done {
					results[name] = fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
					m.logger.Warn("provider batch operation timed out",
						observability.String("operation", op),
						observability.String("provider", name),
					)
				}
			}
			return results
		}
	}
	return results
}

// Authenticate delegates to the named provider through its circuit
// breaker with the registration's retry budget. Authentication
// failures count against the provider's health state.
func (m *Manager) Authenticate(ctx context.Context, name string, creds auth.Credentials) (*auth.Session, error) {
	m.mu.RLock()
	e, ok := m.providers[name]
	m.mu.RUnlock()
	if !ok {
		return nil, auth.ErrProviderNotFound
	}
	if !e.enabled {
		return nil, auth.ErrProviderDisabled
	}
	return m.authenticateEntry(ctx, name, e, creds)
}

// AuthenticateBest tries the best available provider and, when the
// entry has failover enabled, falls through to the next-best provider
// on infrastructure failure. Credential rejections do not fail over.
func (m *Manager) AuthenticateBest(ctx context.Context, creds auth.Credentials) (*auth.Session, string, error) {
	tried := make(map[string]bool)
	var lastErr error

	for {
		candidate := m.bestExcluding(tried)
		if candidate == "" {
			if lastErr != nil {
				return nil, "", lastErr
			}
			return nil, "", auth.ErrProviderUnavailable
		}
		tried[candidate] = true

		m.mu.RLock()
		e := m.providers[candidate]
		m.mu.RUnlock()

		session, err := m.authenticateEntry(ctx, candidate, e, creds)
		if err == nil {
			return session, candidate, nil
		}
		lastErr = err

		// Invalid credentials are final; trying another provider with
		// the same material would only multiply lockouts.
		if auth.Classify(err) == auth.ErrorTypeInvalidCredentials || !e.failoverEnabled {
			return nil, candidate, err
		}
	}
}

// bestExcluding picks the best eligible provider not yet tried.
func (m *Manager) bestExcluding(exclude map[string]bool) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *entry
	var bestName string
	for name, e := range m.providers {
		if exclude[name] || !e.enabled || !m.eligibleLocked(e) {
			continue
		}
		if best == nil || betterLocked(e, best) {
			best = e
			bestName = name
		}
	}
	return bestName
}

func (m *Manager) authenticateEntry(ctx context.Context, name string, e *entry, creds auth.Credentials) (*auth.Session, error) {
	call := func() (*auth.Session, error) {
		var session *auth.Session
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("provider %s panicked: %v", name, r)
				}
			}()
			session, err = e.authenticator.Authenticate(ctx, creds)
		}()
		return session, err
	}

	var session *auth.Session
	var err error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if e.breaker != nil {
			var v any
			v, err = e.breaker.Execute(func() (any, error) {
				s, callErr := call()
				// A credential rejection is a provider success for
				// breaker purposes; only infrastructure errors trip it.
				if callErr != nil && auth.Classify(callErr) == auth.ErrorTypeInvalidCredentials {
					return failedAuth{err: callErr}, nil
				}
				return s, callErr
			})
			if err == nil {
				if fa, isRejection := v.(failedAuth); isRejection {
					err = fa.err
				} else if v != nil {
					session = v.(*auth.Session)
				}
			}
		} else {
			session, err = call()
		}

		if err == nil {
			m.recordAuthOutcome(name, true)
			return session, nil
		}
		if auth.Classify(err) == auth.ErrorTypeInvalidCredentials || errors.Is(err, gobreaker.ErrOpenState) {
			break
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
	}

	// A credential rejection reflects on the caller, not the
	// provider; it leaves health state alone, same as the breaker.
	if auth.Classify(err) != auth.ErrorTypeInvalidCredentials {
		m.recordAuthOutcome(name, false)
	}
	return nil, err
}

// failedAuth smuggles a credential rejection through the breaker
// without counting it as a provider failure.
type failedAuth struct{ err error }

// recordAuthOutcome applies an authentication outcome to health state.
// Successes reset the failure count; failures increment it, same as a
// failed health check.
func (m *Manager) recordAuthOutcome(name string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.providers[name]
	if !ok {
		return
	}
	if success {
		e.health.consecutiveFailures = 0
		e.health.lastHealthy = time.Now()
	} else {
		e.health.consecutiveFailures++
	}
}
