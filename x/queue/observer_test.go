package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zkceremony/contributor/x/ceremony"
	"github.com/zkceremony/contributor/x/coordination"
	"github.com/zkceremony/contributor/x/status"
)

// subStore hands the registered callback back to the test so circuit
// snapshots can be pushed synchronously.
type subStore struct {
	mu       sync.Mutex
	callback func(coordination.Snapshot)
	unsubbed bool
}

func (s *subStore) GetDocument(context.Context, string) (coordination.Snapshot, error) {
	return coordination.Snapshot{}, nil
}

func (s *subStore) ListDocuments(context.Context, string) ([]coordination.Snapshot, error) {
	return nil, nil
}

func (s *subStore) Subscribe(_ context.Context, _ string, fn func(coordination.Snapshot)) (coordination.Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.unsubbed = true
	}, nil
}

func (s *subStore) push(t *testing.T, circ ceremony.Circuit) {
	t.Helper()
	data, err := json.Marshal(circ)
	require.NoError(t, err)
	s.mu.Lock()
	fn := s.callback
	s.mu.Unlock()
	require.NotNil(t, fn)
	fn(coordination.Snapshot{Ref: "ceremonies/c/circuits/x", Exists: true, Data: data})
}

func collectSink() (status.Sink, *[]status.Update) {
	var mu sync.Mutex
	updates := &[]status.Update{}
	return status.SinkFunc(func(u status.Update) {
		mu.Lock()
		defer mu.Unlock()
		*updates = append(*updates, u)
	}), updates
}

func circuitWith(contributors []string) ceremony.Circuit {
	return ceremony.Circuit{
		ID:     "x",
		Prefix: "semaphore_16",
		AvgTimings: ceremony.AvgTimings{
			FullContribution:    10000,
			VerifyCloudFunction: 2000,
		},
		WaitingQueue: ceremony.WaitingQueue{Contributors: contributors},
	}
}

func TestObserverReportsPositionAndETA(t *testing.T) {
	t.Parallel()

	store := &subStore{}
	sink, updates := collectSink()
	obs := New(Config{Store: store, Sink: sink, Logger: zerolog.Nop(), ParticipantID: "self"})
	require.NoError(t, obs.Watch(context.Background(), "ceremonies/c/circuits/x"))

	store.push(t, circuitWith([]string{"p1", "p2", "self"}))
	require.Len(t, *updates, 1)
	require.Contains(t, (*updates)[0].Message, "Position in queue: 3")
	require.Contains(t, (*updates)[0].Message, "00:00:00:24")

	store.push(t, circuitWith([]string{"p2", "self"}))
	require.Len(t, *updates, 2)
	require.Contains(t, (*updates)[1].Message, "Position in queue: 2")
	require.Contains(t, (*updates)[1].Message, "00:00:00:12")

	store.push(t, circuitWith([]string{"self"}))
	require.Len(t, *updates, 3)
	require.Contains(t, (*updates)[2].Message, "first in the waiting queue")
	require.True(t, store.unsubbed)
}

func TestObserverSilentWhenPositionUnchanged(t *testing.T) {
	t.Parallel()

	store := &subStore{}
	sink, updates := collectSink()
	obs := New(Config{Store: store, Sink: sink, Logger: zerolog.Nop(), ParticipantID: "self"})
	require.NoError(t, obs.Watch(context.Background(), "ceremonies/c/circuits/x"))

	store.push(t, circuitWith([]string{"p1", "self"}))
	store.push(t, circuitWith([]string{"p1", "self"}))
	store.push(t, circuitWith([]string{"p1", "self"}))
	require.Len(t, *updates, 1)
}

func TestObserverZeroETAWhenTimingsUnknown(t *testing.T) {
	t.Parallel()

	store := &subStore{}
	sink, updates := collectSink()
	obs := New(Config{Store: store, Sink: sink, Logger: zerolog.Nop(), ParticipantID: "self"})
	require.NoError(t, obs.Watch(context.Background(), "ceremonies/c/circuits/x"))

	circ := circuitWith([]string{"p1", "self"})
	circ.AvgTimings = ceremony.AvgTimings{}
	store.push(t, circ)

	require.Len(t, *updates, 1)
	require.Contains(t, (*updates)[0].Message, "00:00:00:00")
}

func TestObserverIgnoresForeignQueues(t *testing.T) {
	t.Parallel()

	store := &subStore{}
	sink, updates := collectSink()
	obs := New(Config{Store: store, Sink: sink, Logger: zerolog.Nop(), ParticipantID: "self"})
	require.NoError(t, obs.Watch(context.Background(), "ceremonies/c/circuits/x"))

	store.push(t, circuitWith([]string{"p1", "p2"}))
	require.Empty(t, *updates)
}
