package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zkceremony/contributor/x/status"
)

// SessionState is the operational view of the running contribution session.
type SessionState struct {
	Attached    bool      `json:"attached"`
	Ceremony    string    `json:"ceremony,omitempty"`
	Busy        bool      `json:"busy"`
	LastMessage string    `json:"last_message,omitempty"`
	Attestation string    `json:"attestation,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// StateSource yields the current session state for /status.
type StateSource func() SessionState

// RegisterOps mounts the operational endpoints: liveness, session state and
// prometheus metrics.
func (s *Server) RegisterOps(source StateSource, gatherer prometheus.Gatherer) {
	s.Router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	s.Router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if source == nil {
			WriteError(w, r, http.StatusServiceUnavailable, "no_session", "no session state source registered", nil)
			return
		}
		WriteJSON(w, http.StatusOK, source())
	}).Methods(http.MethodGet)

	if gatherer != nil {
		s.Router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Tracker records the latest status emission so the ops endpoint can report
// it. It is a status sink; tee it with the presentation sink.
type Tracker struct {
	mu    sync.Mutex
	state SessionState
	now   func() time.Time
}

// NewTracker builds a Tracker for the given ceremony.
func NewTracker(ceremonyID string) *Tracker {
	return &Tracker{
		state: SessionState{Ceremony: ceremonyID},
		now:   time.Now,
	}
}

var _ status.Sink = (*Tracker)(nil)

// SetCeremony binds the tracker to a ceremony once it is known.
func (t *Tracker) SetCeremony(ceremonyID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Ceremony = ceremonyID
}

// Emit records the update.
func (t *Tracker) Emit(u status.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Attached = true
	t.state.Busy = u.Busy
	t.state.LastMessage = u.Message
	if u.AttestationRef != "" {
		t.state.Attestation = u.AttestationRef
	}
	t.state.UpdatedAt = t.now()
}

// State returns the latest recorded session state.
func (t *Tracker) State() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
