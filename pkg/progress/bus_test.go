package progress

import (
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func collect(c <-chan Event, n int) []Event {
	events := make([]Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case event, ok := <-c:
			if !ok {
				return events
			}
			events = append(events, event)
		case <-timeout:
			return events
		}
	}
	return events
}

func TestBus_SequenceNumbersAreStrictlyIncreasing(t *testing.T) {
	bus := NewBus(DefaultConfig(), testLogger())
	runID := uuid.New()
	bus.OpenRun(runID)

	sub, err := bus.Subscribe(runID, false)
	require.NoError(t, err)
	defer sub.Cancel()

	for i := 0; i < 5; i++ {
		_, err := bus.Publish(runID, Event{Level: LevelInfo, Message: "tick"})
		require.NoError(t, err)
	}

	events := collect(sub.C, 5)
	require.Len(t, events, 5)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.SequenceNumber)
		assert.Equal(t, runID, event.RunID)
		assert.False(t, event.Timestamp.IsZero())
	}
}

func TestBus_TerminalEventClosesSubscribers(t *testing.T) {
	bus := NewBus(DefaultConfig(), testLogger())
	runID := uuid.New()
	bus.OpenRun(runID)

	sub, err := bus.Subscribe(runID, false)
	require.NoError(t, err)

	_, err = bus.Publish(runID, Event{Level: LevelComplete, Message: "done"})
	require.NoError(t, err)

	events := collect(sub.C, 2)
	require.Len(t, events, 1)
	assert.Equal(t, LevelComplete, events[0].Level)

	// Channel is closed after the terminal event
	_, open := <-sub.C
	assert.False(t, open)

	// The run is retired; publishing and subscribing now fail
	_, err = bus.Publish(runID, Event{Level: LevelInfo})
	assert.ErrorIs(t, err, ErrUnknownRun)
	_, err = bus.Subscribe(runID, false)
	assert.ErrorIs(t, err, ErrUnknownRun)
}

func TestBus_ScrapingErrorIsNotTerminal(t *testing.T) {
	bus := NewBus(DefaultConfig(), testLogger())
	runID := uuid.New()
	bus.OpenRun(runID)

	sub, err := bus.Subscribe(runID, false)
	require.NoError(t, err)
	defer sub.Cancel()

	_, err = bus.Publish(runID, Event{Level: LevelScrapingError, SourceID: "bizbuysell", Message: "boom"})
	require.NoError(t, err)
	_, err = bus.Publish(runID, Event{Level: LevelInfo, Message: "still going"})
	require.NoError(t, err)

	events := collect(sub.C, 2)
	require.Len(t, events, 2)
	assert.Equal(t, LevelScrapingError, events[0].Level)
	assert.Equal(t, LevelInfo, events[1].Level)
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(Config{SubscriberBuffer: 2, ReplayRing: 0}, testLogger())
	runID := uuid.New()
	bus.OpenRun(runID)

	sub, err := bus.Subscribe(runID, false)
	require.NoError(t, err)
	defer sub.Cancel()

	// Publish more than the buffer without draining; Publish must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(runID, Event{Level: LevelListingFound, Message: "found"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	events := collect(sub.C, 2)
	assert.Len(t, events, 2)
}

func TestBus_ReplayDeliversTrailingEvents(t *testing.T) {
	bus := NewBus(Config{SubscriberBuffer: 16, ReplayRing: 3}, testLogger())
	runID := uuid.New()
	bus.OpenRun(runID)

	for i := 0; i < 5; i++ {
		_, err := bus.Publish(runID, Event{Level: LevelListingFound, Message: "found"})
		require.NoError(t, err)
	}

	sub, err := bus.Subscribe(runID, true)
	require.NoError(t, err)
	defer sub.Cancel()

	events := collect(sub.C, 3)
	require.Len(t, events, 3)
	// Only the last ring-sized window survives
	assert.Equal(t, uint64(3), events[0].SequenceNumber)
	assert.Equal(t, uint64(5), events[2].SequenceNumber)
}

func TestBus_SubscribeUnknownRun(t *testing.T) {
	bus := NewBus(DefaultConfig(), testLogger())
	_, err := bus.Subscribe(uuid.New(), false)
	assert.ErrorIs(t, err, ErrUnknownRun)
}

func TestBus_CancelDetachesSubscriber(t *testing.T) {
	bus := NewBus(DefaultConfig(), testLogger())
	runID := uuid.New()
	bus.OpenRun(runID)

	sub, err := bus.Subscribe(runID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.SubscriberCount(runID))

	sub.Cancel()
	sub.Cancel() // safe to repeat
	assert.Equal(t, 0, bus.SubscriberCount(runID))
}
