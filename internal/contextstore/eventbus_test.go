package contextstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/agentcore/pkg/models"
)

func TestEventBus_SubscribeAndPublish(t *testing.T) {
	bus := NewEventBus(nil)
	got := make(chan models.Event, 1)

	sub := bus.Subscribe(And(ForProject("p1"), ForType(models.EventFilesChanged)), func(e models.Event) {
		got <- e
	})
	defer sub.Unsubscribe()

	bus.Publish(models.Event{Type: models.EventFilesChanged, ProjectID: "p2"})
	bus.Publish(models.Event{Type: models.EventProjectUpdated, ProjectID: "p1"})
	bus.Publish(models.Event{Type: models.EventFilesChanged, ProjectID: "p1", Payload: 3})

	select {
	case e := <-got:
		assert.Equal(t, models.EventFilesChanged, e.Type)
		assert.Equal(t, "p1", e.ProjectID)
		assert.Equal(t, 3, e.Payload)
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected a FilesChanged event within 1s")
	}

	// Nothing else should arrive.
	select {
	case e := <-got:
		t.Fatalf("unexpected extra event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus(nil)
	var count atomic.Int32

	sub := bus.Subscribe(nil, func(models.Event) { count.Add(1) })
	bus.Publish(models.Event{Type: models.EventProjectUpdated, ProjectID: "p1"})
	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe() // safe to call twice
	bus.Publish(models.Event{Type: models.EventProjectUpdated, ProjectID: "p1"})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestEventBus_HandlerPanicIsolated(t *testing.T) {
	bus := NewEventBus(nil)
	got := make(chan models.Event, 1)

	bus.Subscribe(nil, func(models.Event) { panic("handler exploded") })
	bus.Subscribe(nil, func(e models.Event) { got <- e })

	bus.Publish(models.Event{Type: models.EventProjectUpdated, ProjectID: "p1"})

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("second handler should still receive the event")
	}
}

func TestEventBus_FIFOPerSubscriber(t *testing.T) {
	bus := NewEventBus(nil)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	const total = 200
	sub := bus.Subscribe(nil, func(e models.Event) {
		mu.Lock()
		got = append(got, e.Payload.(int))
		if len(got) == total {
			close(done)
		}
		mu.Unlock()
	})
	defer sub.Unsubscribe()

	for i := 0; i < total; i++ {
		bus.Publish(models.Event{Type: models.EventProjectUpdated, ProjectID: "p1", Payload: i})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("only %d/%d events delivered", len(got), total)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		require.Equal(t, i, v, "events must arrive in publish order")
	}
}

func TestEventBus_RingBounded(t *testing.T) {
	bus := NewEventBus(nil)
	for i := 0; i < eventRingCapacity+25; i++ {
		bus.Publish(models.Event{Type: models.EventProjectUpdated, ProjectID: "p1"})
	}
	assert.Len(t, bus.Recent(), eventRingCapacity)
}

func TestWaitForEvent(t *testing.T) {
	bus := NewEventBus(nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		bus.Publish(models.Event{Type: models.EventSandboxStateChanged, ProjectID: "p1"})
	}()

	e, ok := bus.WaitForEvent(ForType(models.EventSandboxStateChanged), time.Second)
	require.True(t, ok)
	assert.Equal(t, "p1", e.ProjectID)

	_, ok = bus.WaitForEvent(ForType(models.EventBuildStatusChanged), 50*time.Millisecond)
	assert.False(t, ok)
}

func TestDebounced_DeliversLastOfBurst(t *testing.T) {
	var mu sync.Mutex
	var delivered []models.Event

	h := Debounced(40*time.Millisecond, func(e models.Event) {
		mu.Lock()
		delivered = append(delivered, e)
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		h(models.Event{Type: models.EventFilesChanged, ProjectID: "p1", Payload: i})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 4, delivered[0].Payload)
	mu.Unlock()
}

func TestDebounced_KeysByProject(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	h := Debounced(30*time.Millisecond, func(e models.Event) {
		mu.Lock()
		seen[e.ProjectID]++
		mu.Unlock()
	})

	h(models.Event{ProjectID: "p1"})
	h(models.Event{ProjectID: "p2"})
	h(models.Event{ProjectID: "p1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["p1"] == 1 && seen["p2"] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestThrottled_LeadingEdge(t *testing.T) {
	var count atomic.Int32
	h := Throttled(time.Minute, func(models.Event) { count.Add(1) })

	for i := 0; i < 10; i++ {
		h(models.Event{ProjectID: "p1"})
	}
	assert.Equal(t, int32(1), count.Load())

	// A different project is its own window.
	h(models.Event{ProjectID: "p2"})
	assert.Equal(t, int32(2), count.Load())
}

// Batch file writes publish exactly one FilesChanged event carrying the
// batch size, delivered within the subscription's wait window.
func TestFilesChanged_SingleEventPerBatch(t *testing.T) {
	store := New(nil, DefaultConfig())
	ctx := context.Background()

	events := make(chan models.Event, 4)
	sub := store.Bus().Subscribe(And(ForProject("p1"), ForType(models.EventFilesChanged)), func(e models.Event) {
		events <- e
	})
	defer sub.Unsubscribe()

	_, err := store.Update(ctx, "p1", Patch{Files: map[string]models.FileEntry{
		"app/page.tsx":   {Content: "a", Status: models.FileCreated},
		"app/layout.tsx": {Content: "b", Status: models.FileCreated},
		"lib/utils.ts":   {Content: "c", Status: models.FileCreated},
	}})
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, 3, e.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected FilesChanged within 1s")
	}

	select {
	case <-events:
		t.Fatal("expected exactly one FilesChanged event for the batch")
	case <-time.After(50 * time.Millisecond):
	}
}
