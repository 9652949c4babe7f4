// Package connectivity probes remote reachability. The checker never
// mutates shared connection state; callers interpret its results.
package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// HealthProber is the slice of the remote client the checker needs.
type HealthProber interface {
	Health(ctx context.Context) (time.Duration, error)
}

// Result is the outcome of a single probe.
type Result struct {
	IsOnline  bool      `json:"isOnline"`
	LatencyMS int64     `json:"latencyMs,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Checker issues bounded-time health probes, with optional retry and a
// periodic mode.
type Checker struct {
	prober     HealthProber
	attempts   uint
	retryDelay time.Duration
	interval   time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

// NewChecker creates a checker. attempts is the CheckWithRetry budget,
// retryDelay the fixed delay between attempts, interval the periodic
// cadence.
func NewChecker(prober HealthProber, attempts uint, retryDelay, interval time.Duration, log *zap.Logger) *Checker {
	if attempts == 0 {
		attempts = 1
	}
	return &Checker{
		prober:     prober,
		attempts:   attempts,
		retryDelay: retryDelay,
		interval:   interval,
		log:        log,
	}
}

// Check issues one probe against the health endpoint.
func (c *Checker) Check(ctx context.Context) Result {
	latency, err := c.prober.Health(ctx)
	result := Result{
		IsOnline:  err == nil,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.LatencyMS = latency.Milliseconds()
	}
	return result
}

// CheckWithRetry repeats Check up to the configured attempts with a
// fixed delay, returning the first success or the last failure.
func (c *Checker) CheckWithRetry(ctx context.Context) Result {
	result, err := backoff.Retry(ctx, func() (Result, error) {
		r := c.Check(ctx)
		if !r.IsOnline {
			return r, &probeError{r}
		}
		return r, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(c.attempts),
	)
	if err != nil {
		var perr *probeError
		if errors.As(err, &perr) {
			return perr.result
		}
		// Context cancelled before any probe finished.
		return Result{IsOnline: false, Error: err.Error(), Timestamp: time.Now().UTC()}
	}
	return result
}

// StartPeriodicCheck probes immediately, then on the configured
// interval, invoking callback with each result. Starting an already
// running checker is a no-op with a warning.
func (c *Checker) StartPeriodicCheck(callback func(Result)) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.log.Warn("periodic connectivity check already running")
		return
	}
	c.running = true
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	go func() {
		callback(c.Check(context.Background()))

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				callback(c.Check(context.Background()))
			case <-stop:
				return
			}
		}
	}()
}

// Stop cancels the periodic check. An in-flight probe runs to
// completion; only future firings are prevented. Stopping a stopped
// checker is a no-op.
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	close(c.stop)
	c.running = false
}

// probeError carries a failed Result through the retry loop.
type probeError struct {
	result Result
}

func (e *probeError) Error() string {
	return e.result.Error
}
