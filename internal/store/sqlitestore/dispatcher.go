package sqlitestore

import (
	"sync"

	"github.com/studyloop/drift/internal/store"
)

// changeDispatcher fans out committed document changes to per-collection
// subscribers. Slow subscribers drop batches rather than block the writer.
type changeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*changeSubscriber
	nextID      int64
	bufferSize  int
}

type changeSubscriber struct {
	id     int64
	stream chan []store.Event
}

func newChangeDispatcher() *changeDispatcher {
	return &changeDispatcher{
		subscribers: make(map[string]map[int64]*changeSubscriber),
		bufferSize:  16,
	}
}

func (d *changeDispatcher) register(collectionPath string) (*changeSubscriber, func()) {
	subscriber := &changeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan []store.Event, d.bufferSize),
	}

	d.mu.Lock()
	byID, ok := d.subscribers[collectionPath]
	if !ok {
		byID = make(map[int64]*changeSubscriber)
		d.subscribers[collectionPath] = byID
	}
	byID[subscriber.id] = subscriber
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		byID, ok := d.subscribers[collectionPath]
		if !ok {
			return
		}
		delete(byID, subscriber.id)
		if len(byID) == 0 {
			delete(d.subscribers, collectionPath)
		}
	}
	return subscriber, cleanup
}

func (d *changeDispatcher) publish(collectionPath string, events []store.Event) {
	if collectionPath == "" || len(events) == 0 {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[collectionPath]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*changeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()

	for _, subscriber := range copies {
		select {
		case subscriber.stream <- events:
		default:
		}
	}
}

func (d *changeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}
