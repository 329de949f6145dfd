package contributor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zkceremony/contributor/x/attestation"
	"github.com/zkceremony/contributor/x/ceremony"
	"github.com/zkceremony/contributor/x/coordination"
	"github.com/zkceremony/contributor/x/pipeline"
	"github.com/zkceremony/contributor/x/queue"
	"github.com/zkceremony/contributor/x/status"
)

// DefaultAdvanceDelay is the brief pause after asking the server to assign
// the first circuit, giving the assignment time to land before the next
// snapshot is interpreted.
const DefaultAdvanceDelay = 1 * time.Second

// PipelineRunner drives one circuit's contribution steps.
type PipelineRunner interface {
	RunOrResume(ctx context.Context, cer ceremony.Ceremony, circ ceremony.Circuit, participant ceremony.Participant, contributorID string) error
}

var _ PipelineRunner = (*pipeline.Pipeline)(nil)

// AttestationPublisher finalizes a completed session.
type AttestationPublisher interface {
	Publish(ctx context.Context, cer ceremony.Ceremony, circuits []ceremony.Circuit, participant ceremony.Participant, handle string) (string, error)
}

var _ AttestationPublisher = (*attestation.Finalizer)(nil)

// SessionConfig wires a Session.
type SessionConfig struct {
	Store     coordination.Store
	Callables coordination.Callables
	Pipeline  PipelineRunner
	Finalizer AttestationPublisher
	Sink      status.Sink
	Logger    zerolog.Logger
	Terms     coordination.Terms
	Metrics   *Metrics
	Timers    TimerFactory

	Ceremony      ceremony.Ceremony
	Circuits      []ceremony.Circuit
	ParticipantID string
	// Handle is the participant's display name, used in the attestation.
	Handle string

	AdvanceDelay time.Duration
	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Session is the participant state machine. It subscribes to the participant
// document and, per snapshot, derives the predicate set and dispatches the
// matching actions. It keeps no state beyond the previous snapshot, the
// queue observers and the timeout countdown; every transition is owned by
// the server and reached through idempotent callables.
type Session struct {
	store     coordination.Store
	callables coordination.Callables
	pipeline  PipelineRunner
	finalizer AttestationPublisher
	sink      status.Sink
	log       zerolog.Logger
	rootLog   zerolog.Logger
	terms     coordination.Terms
	metrics   *Metrics
	timers    TimerFactory

	cer           ceremony.Ceremony
	circuits      []ceremony.Circuit
	participantID string
	handle        string

	advanceDelay time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	prev      *ceremony.Participant
	observers map[string]*queue.Observer
	countdown *countdownTicker
	unsub     coordination.Unsubscribe

	done chan struct{}
	once sync.Once
}

// NewSession constructs a Session, filling defaults for optional fields.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Sink == nil {
		cfg.Sink = status.Discard
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}
	if cfg.Timers == nil {
		cfg.Timers = SystemTimerFactory{}
	}
	if cfg.AdvanceDelay <= 0 {
		cfg.AdvanceDelay = DefaultAdvanceDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	return &Session{
		store:         cfg.Store,
		callables:     cfg.Callables,
		pipeline:      cfg.Pipeline,
		finalizer:     cfg.Finalizer,
		sink:          cfg.Sink,
		log:           cfg.Logger.With().Str("component", "session").Logger(),
		rootLog:       cfg.Logger,
		terms:         cfg.Terms,
		metrics:       cfg.Metrics,
		timers:        cfg.Timers,
		cer:           cfg.Ceremony,
		circuits:      cfg.Circuits,
		participantID: cfg.ParticipantID,
		handle:        cfg.Handle,
		advanceDelay:  cfg.AdvanceDelay,
		now:           cfg.Now,
		sleep:         cfg.Sleep,
		observers:     make(map[string]*queue.Observer),
		done:          make(chan struct{}),
	}
}

// Start attaches the session to the participant document. Snapshots drive
// the dispatcher until a terminal state or an unrecoverable invariant
// violation releases the subscription.
func (s *Session) Start(ctx context.Context) error {
	ref := s.terms.ParticipantRef(s.cer.ID, s.participantID)
	unsub, err := s.store.Subscribe(ctx, ref, func(snap coordination.Snapshot) {
		s.dispatch(ctx, snap)
	})
	if err != nil {
		return fmt.Errorf("contributor: subscribe participant: %w", err)
	}

	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	s.metrics.SessionActive.Set(1)
	s.log.Info().Str("ref", ref).Msg("session attached")
	return nil
}

// Done is closed when the session terminates.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stop releases the session. Safe to call more than once.
func (s *Session) Stop() {
	s.terminate()
}

// dispatch evaluates the rule table for one snapshot. No error crosses this
// boundary: every failed action is reported through the sink and the next
// snapshot re-drives the dispatcher.
func (s *Session) dispatch(ctx context.Context, snap coordination.Snapshot) {
	select {
	case <-s.done:
		return
	default:
	}
	s.metrics.SnapshotsTotal.Inc()

	var cur ceremony.Participant
	if err := snap.Decode(&cur); err != nil {
		s.emitError(fmt.Errorf("missing participant data: %w", err))
		return
	}
	if cur.ID == "" {
		cur.ID = s.participantID
	}

	circ := s.bindCircuit(ctx, cur.ContributionProgress)

	s.mu.Lock()
	prev := s.prev
	s.mu.Unlock()

	p := Derive(prev, cur, circ, len(s.circuits))
	s.log.Debug().
		Str("status", string(cur.Status)).
		Str("step", string(cur.ContributionStep)).
		Int("progress", cur.ContributionProgress).
		Msg("snapshot dispatched")

	if cur.Status != ceremony.StatusTimedOut {
		s.stopCountdown()
	}

	if p.NeedsFirstCircuit {
		s.fire("first_circuit")
		if err := s.callables.ProgressToNextCircuitForContribution(ctx, s.cer.ID); err != nil {
			s.emitError(err)
		} else if err := s.sleep(ctx, s.advanceDelay); err != nil {
			return
		}
	}

	// Contributing and waiting are mutually exclusive dispositions.
	switch {
	case p.IsCurrentContributor && p.HasResumableStep && p.StartingOrResumingContribution && circ != nil:
		s.fire("pipeline")
		if err := s.pipeline.RunOrResume(ctx, s.cer, *circ, cur, s.participantID); err != nil {
			// The pipeline has already surfaced the failure to the sink.
			s.log.Error().Err(err).Str("circuit", circ.Prefix).Msg("pipeline stopped")
		}
	case p.IsWaiting && circ != nil:
		s.fire("queue")
		s.watchQueue(ctx, circ.ID)
	}

	if p.ResumingVerification && circ != nil {
		s.fire("resume_verification")
		s.sink.Emit(status.Update{
			Message: fmt.Sprintf("Resuming verification for circuit # %d (%s)", circ.SequencePosition, circ.Prefix),
			Busy:    true,
		})
	}

	reported := false
	if p.ReportVerificationResult {
		s.fire("verification_result")
		s.reportVerification(cur)
		reported = true
	}

	if p.TimeoutTriggeredWhileContributing {
		s.fire("timeout")
		s.handleTimeout(ctx)
	}

	if p.CompletedContribution || p.TimeoutExpired {
		if p.CompletedContribution {
			if !reported {
				s.reportVerification(cur)
			}
			s.metrics.ContributionsCompleted.Inc()
			s.fire("next_circuit")
			if next := s.nextCircuit(cur.ContributionProgress); next != nil {
				s.sink.Emit(status.Update{
					Message: fmt.Sprintf("Progressing to circuit # %d (%s)", next.SequencePosition, next.Prefix),
					Busy:    true,
				})
			}
			if err := s.callables.ProgressToNextCircuitForContribution(ctx, s.cer.ID); err != nil {
				s.emitError(err)
			}
		} else {
			s.fire("resume_after_timeout")
			if err := s.callables.ResumeContributionAfterTimeoutExpiration(ctx, s.cer.ID); err != nil {
				s.emitError(err)
			}
		}
	}

	if p.ContributedToEveryCircuit {
		s.fire("finalize")
		s.finalize(ctx, cur)
	}

	s.mu.Lock()
	snapCopy := cur
	s.prev = &snapCopy
	s.mu.Unlock()
}

// bindCircuit resolves the circuit the participant's progress points at,
// preferring a fresh document read over the cached list so queue state is
// current.
func (s *Session) bindCircuit(ctx context.Context, progress int) *ceremony.Circuit {
	if progress < 1 || progress > len(s.circuits) {
		return nil
	}
	cached := s.circuits[progress-1]

	snap, err := s.store.GetDocument(ctx, s.terms.CircuitRef(s.cer.ID, cached.ID))
	if err != nil {
		s.log.Warn().Err(err).Str("circuit", cached.ID).Msg("circuit refresh failed; using cached document")
		return &cached
	}
	var fresh ceremony.Circuit
	if err := snap.Decode(&fresh); err != nil {
		s.log.Warn().Err(err).Str("circuit", cached.ID).Msg("circuit decode failed; using cached document")
		return &cached
	}
	if fresh.ID == "" {
		fresh.ID = cached.ID
	}
	return &fresh
}

func (s *Session) watchQueue(ctx context.Context, circuitID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.observers[circuitID]; ok {
		return
	}

	obs := queue.New(queue.Config{
		Store:         s.store,
		Sink:          s.sink,
		Logger:        s.rootLog,
		ParticipantID: s.participantID,
	})
	if err := obs.Watch(ctx, s.terms.CircuitRef(s.cer.ID, circuitID)); err != nil {
		s.emitError(err)
		return
	}
	s.observers[circuitID] = obs
}

func (s *Session) reportVerification(cur ceremony.Participant) {
	last, ok := cur.LastContribution()
	if !ok {
		s.emitError(fmt.Errorf("missing contribution data for participant %s", cur.ID))
		return
	}
	verdict := "valid"
	if !last.Valid {
		verdict = "invalid"
	}
	s.sink.Emit(status.Update{
		Message: fmt.Sprintf("Your contribution # %s is %s", last.ZkeyIndex, verdict),
	})
}

// handleTimeout reads the participant's timeout records. Exactly one active
// timeout is expected; anything else is an invariant violation that ends
// the session.
func (s *Session) handleTimeout(ctx context.Context) {
	ref := s.terms.TimeoutsRef(s.cer.ID, s.participantID)
	snaps, err := s.store.ListDocuments(ctx, ref)
	if err != nil {
		s.emitError(fmt.Errorf("read timeouts: %w", err))
		return
	}

	nowMs := s.now().UnixMilli()
	var active []ceremony.Timeout
	for _, snap := range snaps {
		var t ceremony.Timeout
		if err := snap.Decode(&t); err != nil {
			continue
		}
		if t.EndDate > nowMs {
			active = append(active, t)
		}
	}

	if len(active) != 1 {
		s.emitError(fmt.Errorf("expected one active timeout, found %d", len(active)))
		s.terminate()
		return
	}
	s.startCountdown(active[0].EndDate)
}

// nextCircuit returns the circuit after the 1-based progress, or nil when
// the contributed circuit was the last one.
func (s *Session) nextCircuit(progress int) *ceremony.Circuit {
	if progress < 0 || progress >= len(s.circuits) {
		return nil
	}
	return &s.circuits[progress]
}

func (s *Session) finalize(ctx context.Context, cur ceremony.Participant) {
	cur.Contributions = s.contributionRecords(ctx, cur)
	share, err := s.finalizer.Publish(ctx, s.cer, s.circuits, cur, s.handle)
	if err != nil {
		s.emitError(err)
		return
	}
	s.sink.Emit(status.Update{
		Message:        "You have contributed to every circuit. Thank you for participating!",
		AttestationRef: share,
	})
	s.terminate()
}

// contributionRecords prefers the canonical per-circuit contribution
// documents over the copies embedded in the participant, falling back to
// the embedded copy wherever a circuit's collection cannot be read.
func (s *Session) contributionRecords(ctx context.Context, cur ceremony.Participant) []ceremony.Contribution {
	records := append([]ceremony.Contribution(nil), cur.Contributions...)
	for i, circ := range s.circuits {
		if i >= len(records) {
			break
		}
		snaps, err := s.store.ListDocuments(ctx, s.terms.ContributionsRef(s.cer.ID, circ.ID))
		if err != nil {
			s.log.Warn().Err(err).Str("circuit", circ.ID).Msg("contributions read failed; using participant copy")
			continue
		}
		for _, snap := range snaps {
			var rec ceremony.Contribution
			if err := snap.Decode(&rec); err != nil {
				continue
			}
			if rec.ParticipantID == cur.ID && rec.Hash != "" {
				records[i] = rec
				break
			}
		}
	}
	return records
}

// startCountdown emits the remaining cool-down and re-emits it every second
// until the timeout passes or a newer snapshot stops it.
func (s *Session) startCountdown(endDateMs int64) {
	s.stopCountdown()

	t := &countdownTicker{}
	s.mu.Lock()
	s.countdown = t
	s.mu.Unlock()

	var tick func()
	tick = func() {
		remaining := endDateMs - s.now().UnixMilli()
		if remaining < 0 {
			remaining = 0
		}
		s.sink.Emit(status.Update{
			Message: fmt.Sprintf("You have been timed out, you can retry in %s", ceremony.CountdownFromMillis(remaining)),
		})
		if remaining == 0 {
			return
		}
		t.mu.Lock()
		if !t.stopped {
			t.timer = s.timers.AfterFunc(time.Second, tick)
		}
		t.mu.Unlock()
	}
	tick()
}

func (s *Session) stopCountdown() {
	s.mu.Lock()
	t := s.countdown
	s.countdown = nil
	s.mu.Unlock()
	if t != nil {
		t.stop()
	}
}

func (s *Session) fire(rule string) {
	s.metrics.RulesFiredTotal.WithLabelValues(rule).Inc()
}

func (s *Session) emitError(err error) {
	s.log.Error().Err(err).Msg("dispatch action failed")
	s.sink.Emit(status.Update{Message: fmt.Sprintf("Error %v", err)})
}

func (s *Session) terminate() {
	s.once.Do(func() {
		s.mu.Lock()
		unsub := s.unsub
		observers := s.observers
		s.observers = make(map[string]*queue.Observer)
		s.mu.Unlock()

		s.stopCountdown()
		for _, obs := range observers {
			obs.Stop()
		}
		if unsub != nil {
			unsub()
		}
		s.metrics.SessionActive.Set(0)
		close(s.done)
		s.log.Info().Msg("session released")
	})
}

type countdownTicker struct {
	mu      sync.Mutex
	timer   Timer
	stopped bool
}

func (t *countdownTicker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
