// Package contributor runs one participant's contribution session: it gates
// entry on identity reputation and server approval, then attaches the
// participant state machine that reacts to every server-side transition
// until the ceremony is done.
package contributor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zkceremony/contributor/x/ceremony"
	"github.com/zkceremony/contributor/x/coordination"
	"github.com/zkceremony/contributor/x/identity"
	"github.com/zkceremony/contributor/x/status"
)

// Identity is the identity-provider surface the entry gate needs.
// *identity.Client satisfies it.
type Identity interface {
	User(ctx context.Context) (identity.User, error)
	CheckReputation(ctx context.Context, th identity.Thresholds) (bool, identity.Summary, error)
}

var _ Identity = (*identity.Client)(nil)

// Config wires a Contributor.
type Config struct {
	Store     coordination.Store
	Callables coordination.Callables
	Pipeline  PipelineRunner
	Finalizer AttestationPublisher
	Identity  Identity
	Sink      status.Sink
	Logger    zerolog.Logger
	Terms     coordination.Terms
	Metrics   *Metrics
	Timers    TimerFactory

	Thresholds identity.Thresholds

	AdvanceDelay time.Duration
	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Contributor gates and runs contribution sessions.
type Contributor struct {
	cfg  Config
	sink status.Sink
	log  zerolog.Logger
	now  func() time.Time
}

// New constructs a Contributor.
func New(cfg Config) *Contributor {
	if cfg.Sink == nil {
		cfg.Sink = status.Discard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Contributor{
		cfg:  cfg,
		sink: cfg.Sink,
		log:  cfg.Logger.With().Str("component", "contributor").Logger(),
		now:  cfg.Now,
	}
}

// Contribute runs one contribution session for the given ceremony. It
// returns once the session terminates, the entry gate rejects the
// participant, or ctx is cancelled.
func (c *Contributor) Contribute(ctx context.Context, ceremonyID string) error {
	ok, summary, err := c.cfg.Identity.CheckReputation(ctx, c.cfg.Thresholds)
	if err != nil {
		c.emitError(err)
		return fmt.Errorf("contributor: reputation check: %w", err)
	}
	if !ok {
		th := c.cfg.Thresholds
		c.sink.Emit(status.Update{
			Message: fmt.Sprintf(
				"To participate you need at least %d public repositories, %d followers and %d following (you have %d, %d and %d)",
				th.MinRepos, th.MinFollowers, th.MinFollowing,
				summary.Repos, summary.Followers, summary.Following,
			),
		})
		return nil
	}

	user, err := c.cfg.Identity.User(ctx)
	if err != nil {
		c.emitError(err)
		return fmt.Errorf("contributor: resolve user: %w", err)
	}

	approved, err := c.cfg.Callables.CheckParticipantForCeremony(ctx, ceremonyID)
	if err != nil {
		c.emitError(err)
		return fmt.Errorf("contributor: participation check: %w", err)
	}
	if !approved {
		c.reportRejection(ctx, ceremonyID, user.ID)
		return nil
	}

	cer, circuits, err := c.loadCeremony(ctx, ceremonyID)
	if err != nil {
		c.emitError(err)
		return err
	}

	session := NewSession(SessionConfig{
		Store:         c.cfg.Store,
		Callables:     c.cfg.Callables,
		Pipeline:      c.cfg.Pipeline,
		Finalizer:     c.cfg.Finalizer,
		Sink:          c.sink,
		Logger:        c.cfg.Logger,
		Terms:         c.cfg.Terms,
		Metrics:       c.cfg.Metrics,
		Timers:        c.cfg.Timers,
		Ceremony:      cer,
		Circuits:      circuits,
		ParticipantID: user.ID,
		Handle:        user.Login,
		AdvanceDelay:  c.cfg.AdvanceDelay,
		Now:           c.cfg.Now,
		Sleep:         c.cfg.Sleep,
	})
	if err := session.Start(ctx); err != nil {
		c.emitError(err)
		return err
	}

	select {
	case <-session.Done():
		return nil
	case <-ctx.Done():
		session.Stop()
		return ctx.Err()
	}
}

// reportRejection distinguishes a cool-down from a hard rejection. A
// rejected participant with an active timeout is told how long the wait is.
func (c *Contributor) reportRejection(ctx context.Context, ceremonyID, participantID string) {
	snaps, err := c.cfg.Store.ListDocuments(ctx, c.cfg.Terms.TimeoutsRef(ceremonyID, participantID))
	if err != nil {
		c.log.Warn().Err(err).Msg("timeout lookup failed during rejection")
	}

	nowMs := c.now().UnixMilli()
	for _, snap := range snaps {
		var t ceremony.Timeout
		if err := snap.Decode(&t); err != nil {
			continue
		}
		if t.EndDate > nowMs {
			c.sink.Emit(status.Update{
				Message: fmt.Sprintf("You have been timed out, you can retry in %s", ceremony.CountdownFromMillis(t.EndDate-nowMs)),
			})
			return
		}
	}
	c.sink.Emit(status.Update{Message: "You cannot participate in this ceremony"})
}

func (c *Contributor) loadCeremony(ctx context.Context, ceremonyID string) (ceremony.Ceremony, []ceremony.Circuit, error) {
	snap, err := c.cfg.Store.GetDocument(ctx, c.cfg.Terms.CeremonyRef(ceremonyID))
	if err != nil {
		return ceremony.Ceremony{}, nil, fmt.Errorf("contributor: load ceremony: %w", err)
	}
	var cer ceremony.Ceremony
	if err := snap.Decode(&cer); err != nil {
		return ceremony.Ceremony{}, nil, fmt.Errorf("contributor: decode ceremony: %w", err)
	}
	if cer.ID == "" {
		cer.ID = ceremonyID
	}

	circuitSnaps, err := c.cfg.Store.ListDocuments(ctx, c.cfg.Terms.CircuitsRef(ceremonyID))
	if err != nil {
		return ceremony.Ceremony{}, nil, fmt.Errorf("contributor: list circuits: %w", err)
	}
	circuits := make([]ceremony.Circuit, 0, len(circuitSnaps))
	for _, cs := range circuitSnaps {
		var circ ceremony.Circuit
		if err := cs.Decode(&circ); err != nil {
			return ceremony.Ceremony{}, nil, fmt.Errorf("contributor: decode circuit %s: %w", cs.ID, err)
		}
		if circ.ID == "" {
			circ.ID = cs.ID
		}
		circuits = append(circuits, circ)
	}
	if len(circuits) == 0 {
		return ceremony.Ceremony{}, nil, fmt.Errorf("contributor: ceremony %s has no circuits", ceremonyID)
	}
	ceremony.SortCircuits(circuits)

	return cer, circuits, nil
}

func (c *Contributor) emitError(err error) {
	c.log.Error().Err(err).Msg("contribution entry failed")
	c.sink.Emit(status.Update{Message: fmt.Sprintf("Error %v", err)})
}
