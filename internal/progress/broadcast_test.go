package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroadcasterFansOutToSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	first, cancelFirst := b.Subscribe(4)
	defer cancelFirst()
	second, cancelSecond := b.Subscribe(4)
	defer cancelSecond()
	require.Equal(t, 2, b.Subscribers())

	evt := sampleEvent(KindReady)
	require.NoError(t, b.Consume(context.Background(), []Event{evt}))

	require.Equal(t, KindReady, (<-first).Kind)
	require.Equal(t, KindReady, (<-second).Kind)
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	batch := []Event{sampleEvent(KindReady), sampleEvent(KindUnready)}
	require.NoError(t, b.Consume(context.Background(), batch))

	require.Equal(t, KindReady, (<-ch).Kind)
	require.Equal(t, int64(1), b.Dropped())
}

func TestBroadcasterCancelClosesChannel(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	require.False(t, ok)
	require.Zero(t, b.Subscribers())
}

func TestBroadcasterAsHubSink(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	hub := NewHub(Config{BufferSize: 8, MaxBatchWait: time.Millisecond}, b)
	ch, cancel := b.Subscribe(8)
	defer cancel()

	hub.Emit(sampleEvent(KindStatus))
	select {
	case evt := <-ch:
		require.Equal(t, KindStatus, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected status event to be relayed")
	}

	require.NoError(t, hub.Close(context.Background()))
	_, ok := <-ch
	require.False(t, ok, "hub close should disconnect subscribers")
}
