package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts bounds a run when no attempt budget is configured.
	DefaultMaxAttempts = 3
	// DefaultDelay is the fixed pause between attempts. The interval is
	// constant, not exponential: retries target application-level
	// rejections that clear on the server's side, not growing congestion.
	DefaultDelay = 1500 * time.Millisecond
)

// ErrNoOperation indicates Run was called without an operation.
var ErrNoOperation = errors.New("retry: operation is required")

// State tracks the coordinator through one run.
type State string

const (
	// StateIdle means no run has started.
	StateIdle State = "idle"
	// StatePending means a run is in progress.
	StatePending State = "pending"
	// StateSucceeded means the last run ended with a successful outcome.
	StateSucceeded State = "succeeded"
	// StateFailed means the last run exhausted its attempts or faulted.
	StateFailed State = "failed"
)

// Outcome is the application-level result of one operation attempt. Remote
// calls in this system report rejection through Success=false rather than a
// returned error; only those rejections are retried.
type Outcome struct {
	Success bool
	Error   string
}

// Operation is the remote call driven by the coordinator. A returned Go
// error is a transport fault and terminates the run immediately.
type Operation func(ctx context.Context) (Outcome, error)

// Config bundles coordinator construction parameters.
type Config struct {
	MaxAttempts int
	Delay       time.Duration
	Logger      *zap.Logger
}

// Coordinator wraps a remote call with bounded fixed-delay retry.
type Coordinator struct {
	maxAttempts int
	delay       time.Duration
	logger      *zap.Logger

	mu    sync.Mutex
	state State
}

// NewCoordinator constructs a Coordinator, applying defaults for
// unset attempt and delay values.
func NewCoordinator(cfg Config) *Coordinator {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		maxAttempts: attempts,
		delay:       delay,
		logger:      logger,
		state:       StateIdle,
	}
}

// State reports the coordinator's current run state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) transition(next State) {
	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
}

// Run drives the operation until it reports success, the attempt budget is
// exhausted, the operation faults, or the context is cancelled. On
// exhaustion the last rejection is returned with a nil error.
func (c *Coordinator) Run(ctx context.Context, operation Operation) (Outcome, error) {
	if operation == nil {
		return Outcome{}, ErrNoOperation
	}

	c.transition(StatePending)

	var last Outcome
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		outcome, err := operation(ctx)
		if err != nil {
			// Transport faults are not retried: the next attempt
			// would fail identically.
			c.transition(StateFailed)
			return outcome, err
		}
		if outcome.Success {
			c.transition(StateSucceeded)
			return outcome, nil
		}

		last = outcome
		if attempt == c.maxAttempts {
			break
		}

		c.logger.Debug("operation rejected, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Duration("delay", c.delay),
			zap.String("rejection", outcome.Error))

		if err := c.wait(ctx); err != nil {
			c.transition(StateFailed)
			return last, err
		}
	}

	c.transition(StateFailed)
	return last, nil
}

func (c *Coordinator) wait(ctx context.Context) error {
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
