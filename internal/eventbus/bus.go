package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	TaskCreated    EventType = "task.created"
	TaskDispatched EventType = "task.dispatched"
	TaskCompleted  EventType = "task.completed"
	TaskFailed     EventType = "task.failed"
)

type Event struct {
	ID        string
	Type      EventType
	TaskID    int64
	UserID    int64
	Title     string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Bus fans task lifecycle events out to in-process subscribers. Delivery is
// best effort: a subscriber with a full buffer misses the event rather than
// blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *Event),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}

func (b *Bus) PublishNew(eventType EventType, taskID, userID int64, title string, metadata map[string]string) {
	b.Publish(&Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		TaskID:    taskID,
		UserID:    userID,
		Title:     title,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	})
}
