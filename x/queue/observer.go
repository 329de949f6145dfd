// Package queue watches a circuit's waiting queue while the participant is
// queued, reporting position changes and estimated wait time.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zkceremony/contributor/x/ceremony"
	"github.com/zkceremony/contributor/x/coordination"
	"github.com/zkceremony/contributor/x/status"
)

// Config wires an Observer.
type Config struct {
	Store         coordination.Store
	Sink          status.Sink
	Logger        zerolog.Logger
	ParticipantID string
}

// Observer subscribes to one circuit document and emits a status update
// whenever the participant's queue position changes. Reaching the head of
// the queue ends the watch; the participant state machine picks up the
// CONTRIBUTING transition from the participant document.
type Observer struct {
	store         coordination.Store
	sink          status.Sink
	log           zerolog.Logger
	participantID string

	mu      sync.Mutex
	lastPos int
	unsub   coordination.Unsubscribe
	once    sync.Once
}

// New constructs an Observer. One observer instance watches one circuit.
func New(cfg Config) *Observer {
	sink := cfg.Sink
	if sink == nil {
		sink = status.Discard
	}
	return &Observer{
		store:         cfg.Store,
		sink:          sink,
		log:           cfg.Logger.With().Str("component", "queue-observer").Logger(),
		participantID: cfg.ParticipantID,
	}
}

// Watch subscribes to the circuit document at ref.
func (o *Observer) Watch(ctx context.Context, ref string) error {
	unsub, err := o.store.Subscribe(ctx, ref, o.handle)
	if err != nil {
		return fmt.Errorf("queue: subscribe %s: %w", ref, err)
	}
	o.mu.Lock()
	o.unsub = unsub
	o.mu.Unlock()
	return nil
}

// Stop releases the subscription. Safe to call more than once.
func (o *Observer) Stop() {
	o.once.Do(func() {
		o.mu.Lock()
		unsub := o.unsub
		o.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	})
}

func (o *Observer) handle(snap coordination.Snapshot) {
	var circ ceremony.Circuit
	if err := snap.Decode(&circ); err != nil {
		o.log.Error().Err(err).Str("ref", snap.Ref).Msg("circuit snapshot decode failed")
		o.sink.Emit(status.Update{Message: fmt.Sprintf("Error missing circuit data: %v", err)})
		return
	}

	pos := circ.WaitingQueue.Position(o.participantID)
	if pos == 0 {
		return
	}

	if pos == 1 {
		o.sink.Emit(status.Update{Message: "You are first in the waiting queue", Busy: true})
		o.Stop()
		return
	}

	o.mu.Lock()
	changed := pos != o.lastPos
	if changed {
		o.lastPos = pos
	}
	o.mu.Unlock()
	if !changed {
		return
	}

	eta := waitEstimate(circ.AvgTimings, pos)
	o.sink.Emit(status.Update{
		Message: fmt.Sprintf("Position in queue: %d (estimated wait %s)", pos, eta),
		Busy:    true,
	})
	o.log.Debug().Int("position", pos).Str("eta", eta.String()).Msg("queue position changed")
}

// waitEstimate multiplies the circuit's average contribution-plus-verify
// time by the number of participants ahead. Unknown timings yield zero.
func waitEstimate(timings ceremony.AvgTimings, pos int) ceremony.Countdown {
	if timings.FullContribution <= 0 || timings.VerifyCloudFunction <= 0 {
		return ceremony.CountdownFromMillis(0)
	}
	ms := (timings.FullContribution + timings.VerifyCloudFunction) * int64(pos-1)
	return ceremony.CountdownFromMillis(ms)
}
