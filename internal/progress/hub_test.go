package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

func TestHubFlushesWhenBatchFills(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(KindProgress))
	hub.Emit(sampleEvent(KindProgress))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesAfterMaxBatchWait(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(KindStatus))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubLifecycleEventFlushesPendingBatch(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(KindProgress))
	hub.Emit(sampleEvent(KindDone))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2 && batches[0][1].Kind == KindDone
	}, time.Second, 5*time.Millisecond)
}

func TestHubDropsProgressUnderBackpressure(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:     Config{LifecycleWait: time.Second},
		queue:   make(chan Event),
		logger:  zap.NewNop(),
		dropLog: &rate.Sometimes{Interval: time.Minute},
	}
	start := time.Now()
	hub.Emit(sampleEvent(KindProgress))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Dropped())
}

func TestHubLifecycleEventWaitsForRoom(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:     Config{LifecycleWait: time.Second},
		queue:   make(chan Event),
		logger:  zap.NewNop(),
		dropLog: &rate.Sometimes{Interval: time.Minute},
	}
	received := make(chan Event, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		received <- <-hub.queue
	}()

	hub.Emit(sampleEvent(KindDone))
	select {
	case evt := <-received:
		require.Equal(t, KindDone, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("done event was not delivered")
	}
	require.Zero(t, hub.Dropped())
}

func TestHubLifecycleEventDroppedAfterWait(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:     Config{LifecycleWait: 10 * time.Millisecond},
		queue:   make(chan Event),
		logger:  zap.NewNop(),
		dropLog: &rate.Sometimes{Interval: time.Minute},
	}
	hub.Emit(sampleEvent(KindReady))
	require.Equal(t, int64(1), hub.Dropped())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(KindProgress))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())
}

func TestHubIgnoresEventsAfterClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4}, sink)
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(sampleEvent(KindDone))
	require.Empty(t, sink.Batches())
	require.Zero(t, hub.Dropped())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(kind Kind) Event {
	evt := Event{Kind: kind, TS: time.Now()}
	switch kind {
	case KindStatus:
		evt.Snapshot = &verify.Snapshot{Total: 1}
	case KindProgress:
		evt.Item = &Item{Result: ItemMatch, Identifier: "5511999990000", Via: verify.TierSession}
	case KindArtifact:
		evt.Artifact = "data:image/png;base64,AAA"
	}
	return evt
}

func TestHubPreservesEmissionOrder(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     64,
		MaxBatchEvents: 3,
		MaxBatchWait:   5 * time.Millisecond,
	}, sink)

	kinds := []Kind{KindStatus, KindProgress, KindStatus, KindProgress, KindStatus, KindDone}
	for _, kind := range kinds {
		hub.Emit(sampleEvent(kind))
	}
	require.NoError(t, hub.Close(context.Background()))

	var got []Kind
	for _, batch := range sink.Batches() {
		for _, evt := range batch {
			got = append(got, evt.Kind)
		}
	}
	require.Equal(t, kinds, got)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4}, sink)

	hub.Emit(Event{Kind: KindStatus, TS: time.Now()})
	hub.Emit(Event{Kind: KindReady})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}
