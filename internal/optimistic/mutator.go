package optimistic

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	errMissingID     = errors.New("optimistic: flag id is required")
	errMissingRemote = errors.New("optimistic: remote call is required")
)

// State is the three-valued view of a server-owned boolean. Unknown is a
// distinct state driving a probe lookup, not an assumed false.
type State int8

const (
	// StateUnknown means the server truth has not been determined yet.
	StateUnknown State = iota
	// StateFalse mirrors a confirmed or optimistically-applied false.
	StateFalse
	// StateTrue mirrors a confirmed or optimistically-applied true.
	StateTrue
)

// Bool reports the state as a boolean. Unknown reads as false.
func (s State) Bool() bool {
	return s == StateTrue
}

func stateFromBool(value bool) State {
	if value {
		return StateTrue
	}
	return StateFalse
}

func (s State) inverted() State {
	if s == StateTrue {
		return StateFalse
	}
	return StateTrue
}

// ToggleOutcome is the application-level response of a remote toggle call.
// Value, when present, is the authoritative final state and overrides the
// optimistic flip even on success.
type ToggleOutcome struct {
	Success bool
	Value   *bool
	Error   string
}

// RemoteToggle performs the server-side flip for the given flag id.
type RemoteToggle func(ctx context.Context, id string) (ToggleOutcome, error)

// Probe resolves the current server truth for the given flag id.
type Probe func(ctx context.Context, id string) (bool, error)

// DeltaFunc receives the forward delta when a flip is applied and the
// inverse delta when it is rolled back, letting a parent counter move in
// lock-step with the flag.
type DeltaFunc func(delta int)

// Notifier surfaces user-visible, dismissible failure messages.
type Notifier interface {
	Notify(message string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

// NopNotifier returns a Notifier that discards every message.
func NopNotifier() Notifier {
	return nopNotifier{}
}

// Config bundles mutator construction parameters.
type Config struct {
	ID              string
	Initial         State
	Remote          RemoteToggle
	Notifier        Notifier
	Logger          *zap.Logger
	OnChange        func(State)
	FailureFallback string
}

const defaultFailureFallback = "Failed to update status"

// Mutator applies a boolean flip locally before the remote call resolves and
// rolls back on rejection. Its in-flight flag is the single-flight guard for
// the flag id it owns.
type Mutator struct {
	id              string
	remote          RemoteToggle
	notifier        Notifier
	logger          *zap.Logger
	onChange        func(State)
	failureFallback string

	mu       sync.Mutex
	state    State
	inFlight bool
}

// NewMutator constructs a Mutator.
func NewMutator(cfg Config) (*Mutator, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, errMissingID
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fallback := cfg.FailureFallback
	if fallback == "" {
		fallback = defaultFailureFallback
	}
	return &Mutator{
		id:              cfg.ID,
		remote:          cfg.Remote,
		notifier:        notifier,
		logger:          logger,
		onChange:        cfg.OnChange,
		failureFallback: fallback,
		state:           cfg.Initial,
	}, nil
}

// Value reports the current observable state.
func (m *Mutator) Value() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Resolve probes the server truth when the state is still unknown. Probe
// failures resolve to false rather than leaving the flag undetermined.
func (m *Mutator) Resolve(ctx context.Context, probe Probe) {
	m.mu.Lock()
	if m.state != StateUnknown || probe == nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	value, err := probe(ctx, m.id)
	if err != nil {
		m.logger.Warn("flag probe failed, resolving to false",
			zap.String("flag_id", m.id), zap.Error(err))
		value = false
	}

	m.setState(stateFromBool(value))
}

// Toggle flips the flag optimistically, reports the forward delta, then
// settles against the remote outcome: reconcile to the authoritative value
// on success, revert and notify on rejection or fault. A call arriving while
// another is in flight for this flag is ignored outright.
func (m *Mutator) Toggle(ctx context.Context, onDelta DeltaFunc) {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return
	}
	if m.state == StateUnknown {
		m.mu.Unlock()
		m.logger.Warn("toggle ignored before flag resolution", zap.String("flag_id", m.id))
		return
	}
	next := m.state.inverted()
	m.state = next
	m.inFlight = true
	m.mu.Unlock()

	m.notifyChange(next)

	forwardDelta := -1
	if next == StateTrue {
		forwardDelta = 1
	}
	if onDelta != nil {
		onDelta(forwardDelta)
	}

	outcome, err := m.remote(ctx, m.id)

	m.mu.Lock()
	m.inFlight = false
	if err != nil || !outcome.Success {
		// The revert is recomputed from the in-memory value at failure
		// time, not the snapshot captured before the call.
		reverted := m.state.inverted()
		m.state = reverted
		m.mu.Unlock()

		m.notifyChange(reverted)
		if onDelta != nil {
			onDelta(-forwardDelta)
		}

		message := m.failureFallback
		if err != nil {
			m.logger.Warn("remote toggle faulted",
				zap.String("flag_id", m.id), zap.Error(err))
		} else if outcome.Error != "" {
			message = outcome.Error
		}
		m.notifier.Notify(message)
		return
	}

	if outcome.Value != nil {
		authoritative := stateFromBool(*outcome.Value)
		if authoritative != m.state {
			m.state = authoritative
			m.mu.Unlock()
			m.notifyChange(authoritative)
			return
		}
	}
	m.mu.Unlock()
}

func (m *Mutator) setState(next State) {
	m.mu.Lock()
	changed := m.state != next
	m.state = next
	m.mu.Unlock()
	if changed {
		m.notifyChange(next)
	}
}

func (m *Mutator) notifyChange(next State) {
	if m.onChange != nil {
		m.onChange(next)
	}
}
