package feed

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/studyloop/drift/internal/store"
)

const defaultTimestampField = "timestamp"

// Item is one rendered entry of the reconciled collection.
type Item struct {
	ID     string
	Fields store.Fields
}

// Config bundles reconciler construction parameters.
type Config struct {
	TimestampField string
	Logger         *zap.Logger
}

type trackedItem struct {
	fields  store.Fields
	arrival int
}

// Reconciler turns a push-based stream of add/modify/remove events into a
// stable, deduplicated, time-ordered local sequence. A subscription fault is
// held as a sticky error; reconnecting is the owner's responsibility.
type Reconciler struct {
	timestampField string
	logger         *zap.Logger

	mu          sync.Mutex
	byID        map[string]trackedItem
	nextArrival int
	ordered     []Item
	err         error
}

// NewReconciler constructs a Reconciler sorting on the configured timestamp
// field, defaulting to "timestamp".
func NewReconciler(cfg Config) *Reconciler {
	field := cfg.TimestampField
	if field == "" {
		field = defaultTimestampField
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		timestampField: field,
		logger:         logger,
		byID:           make(map[string]trackedItem),
	}
}

// ApplyEvents folds one delivered batch into the local collection and
// re-derives the ordered view. Events are applied in array order; two events
// for the same id in one batch collapse to the last-applied state. Malformed
// events are dropped and logged, never propagated.
func (r *Reconciler) ApplyEvents(events []store.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, event := range events {
		if event.ID == "" {
			r.logger.Warn("dropping change event without id",
				zap.String("change", string(event.Change)))
			continue
		}
		switch event.Change {
		case store.ChangeTypeAdded, store.ChangeTypeModified:
			if event.Fields == nil {
				r.logger.Warn("dropping change event without fields",
					zap.String("id", event.ID), zap.String("change", string(event.Change)))
				continue
			}
			if _, ok := sortValue(event.Fields[r.timestampField]); !ok {
				r.logger.Warn("dropping change event without sortable timestamp",
					zap.String("id", event.ID), zap.String("field", r.timestampField))
				continue
			}
			existing, known := r.byID[event.ID]
			arrival := r.nextArrival
			if known {
				// Field payloads are replaced wholesale, but the
				// original arrival keeps the tie-break stable.
				arrival = existing.arrival
			} else {
				r.nextArrival++
			}
			r.byID[event.ID] = trackedItem{fields: event.Fields.Clone(), arrival: arrival}
		case store.ChangeTypeRemoved:
			delete(r.byID, event.ID)
		default:
			r.logger.Warn("dropping change event with unknown revision",
				zap.String("id", event.ID), zap.String("change", string(event.Change)))
		}
	}

	r.deriveOrderedLocked()
}

// Fail records a subscription-level fault. The first fault sticks.
func (r *Reconciler) Fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Err reports the sticky subscription fault, if any.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Items returns the current time-ordered view.
func (r *Reconciler) Items() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Item(nil), r.ordered...)
}

// Len reports the number of reconciled entries.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *Reconciler) deriveOrderedLocked() {
	type sortable struct {
		item    Item
		key     int64
		arrival int
	}
	entries := make([]sortable, 0, len(r.byID))
	for id, tracked := range r.byID {
		key, _ := sortValue(tracked.fields[r.timestampField])
		entries = append(entries, sortable{
			item:    Item{ID: id, Fields: tracked.fields},
			key:     key,
			arrival: tracked.arrival,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].key != entries[j].key {
			return entries[i].key < entries[j].key
		}
		return entries[i].arrival < entries[j].arrival
	})
	ordered := make([]Item, 0, len(entries))
	for _, entry := range entries {
		ordered = append(ordered, entry.item)
	}
	r.ordered = ordered
}

func sortValue(raw any) (int64, bool) {
	switch value := raw.(type) {
	case int64:
		return value, true
	case int:
		return int64(value), true
	case float64:
		return int64(value), true
	default:
		return 0, false
	}
}
