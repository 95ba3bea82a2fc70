package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := New()
	_, first := bus.Subscribe(4)
	_, second := bus.Subscribe(4)

	bus.PublishNew(TaskCreated, 1, 10, "title", map[string]string{"k": "v"})

	for _, ch := range []<-chan *Event{first, second} {
		select {
		case e := <-ch:
			assert.Equal(t, TaskCreated, e.Type)
			assert.Equal(t, int64(1), e.TaskID)
			assert.Equal(t, int64(10), e.UserID)
			assert.Equal(t, "v", e.Metadata["k"])
			assert.NotEmpty(t, e.ID)
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestBus_FullSubscriberDropsWithoutBlocking(t *testing.T) {
	bus := New()
	_, ch := bus.Subscribe(1)

	bus.PublishNew(TaskCreated, 1, 10, "first", nil)
	// Buffer is full now; this publish must return instead of blocking.
	bus.PublishNew(TaskCompleted, 2, 10, "second", nil)

	e := <-ch
	assert.Equal(t, int64(1), e.TaskID)
	select {
	case e := <-ch:
		t.Fatalf("expected dropped event, got %v", e.Type)
	default:
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)

	bus.Unsubscribe(id)
	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.PublishNew(TaskFailed, 1, 10, "x", nil)
}
