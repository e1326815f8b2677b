package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/quotes"
)

const realtimeBufferSize = 16

// EventRecorder observes events fanned out to subscribers.
type EventRecorder interface {
	RecordEvent(eventType string)
}

// RealtimeDispatcher fans committed project events out to the subscribers of
// that project. Slow subscribers drop events instead of blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	recorder    EventRecorder
}

type realtimeSubscriber struct {
	id     int64
	stream chan quotes.Event
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

// WithRecorder attaches a recorder counting published events.
func (d *RealtimeDispatcher) WithRecorder(recorder EventRecorder) *RealtimeDispatcher {
	d.mu.Lock()
	d.recorder = recorder
	d.mu.Unlock()
	return d
}

// Subscribe registers a subscriber for projectID until ctx ends or the
// returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, projectID string) (<-chan quotes.Event, func()) {
	if projectID == "" {
		ch := make(chan quotes.Event)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan quotes.Event, d.bufferSize),
	}
	d.registerSubscriber(projectID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(projectID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish implements quotes.Notifier.
func (d *RealtimeDispatcher) Publish(event quotes.Event) {
	if event.ProjectID == "" || event.Type == "" {
		return
	}
	d.mu.RLock()
	recorder := d.recorder
	subscribers := d.subscribers[event.ProjectID]
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	if recorder != nil {
		recorder.RecordEvent(string(event.Type))
	}
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(projectID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[projectID]; !ok {
		d.subscribers[projectID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[projectID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(projectID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[projectID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, projectID)
		}
	}
	d.mu.Unlock()
}

func (d *RealtimeDispatcher) subscriberCount(projectID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[projectID])
}
