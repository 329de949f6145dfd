package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// snapshotBuffer bounds per-subscription queueing; deliveries beyond it
	// block the read loop rather than drop (at-least-once contract).
	snapshotBuffer = 64

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second

	// Redial backoff bounds for a dropped change feed.
	reconnectDelay    = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Watcher maintains one websocket connection to the coordination store's
// change feed and fans document snapshots out to per-ref subscribers.
// Per-ref delivery order follows commit order; ordering across refs is not
// guaranteed.
type Watcher struct {
	wsURL string
	log   zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]map[uint64]*subscription
	nextID uint64
	closed bool
}

type subscription struct {
	ref  string
	ch   chan Snapshot
	done chan struct{}
}

// NewWatcher creates a watcher for the given websocket URL. Connect must be
// called before Subscribe.
func NewWatcher(wsURL string, log zerolog.Logger) *Watcher {
	return &Watcher{
		wsURL: wsURL,
		log:   log.With().Str("component", "coordination-watcher").Logger(),
		subs:  make(map[string]map[uint64]*subscription),
	}
}

// Connect dials the change feed and starts the read loop.
func (w *Watcher) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("coordination: dial change feed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.closed = false
	w.mu.Unlock()

	go w.listen()

	w.log.Info().Str("url", w.wsURL).Msg("connected to change feed")
	return nil
}

// Subscribe registers fn for snapshots of ref. Each subscriber gets its own
// ordered delivery goroutine so slow handlers do not stall other refs.
func (w *Watcher) Subscribe(ctx context.Context, ref string, fn func(Snapshot)) (Unsubscribe, error) {
	w.mu.Lock()
	if w.conn == nil || w.closed {
		w.mu.Unlock()
		return nil, fmt.Errorf("coordination: watcher not connected")
	}
	w.nextID++
	id := w.nextID
	sub := &subscription{
		ref:  ref,
		ch:   make(chan Snapshot, snapshotBuffer),
		done: make(chan struct{}),
	}
	if w.subs[ref] == nil {
		w.subs[ref] = make(map[uint64]*subscription)
	}
	first := len(w.subs[ref]) == 0
	w.subs[ref][id] = sub
	conn := w.conn
	w.mu.Unlock()

	if first {
		if err := w.send(conn, feedRequest{Action: "subscribe", Ref: ref}); err != nil {
			w.remove(ref, id)
			return nil, fmt.Errorf("coordination: subscribe %s: %w", ref, err)
		}
	}

	go func() {
		for {
			select {
			case snap, ok := <-sub.ch:
				if !ok {
					return
				}
				fn(snap)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(sub.done)
			w.remove(ref, id)
		})
	}, nil
}

// Close tears down the connection and every subscription.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	for _, byID := range w.subs {
		for _, sub := range byID {
			close(sub.done)
		}
	}
	w.subs = make(map[string]map[uint64]*subscription)
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

func (w *Watcher) listen() {
	for {
		w.mu.Lock()
		conn := w.conn
		closed := w.closed
		w.mu.Unlock()
		if conn == nil || closed {
			return
		}

		var msg feedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			w.mu.Lock()
			closed = w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			w.log.Warn().Err(err).Msg("change feed read failed, reconnecting")
			_ = conn.Close()
			if !w.reconnect() {
				return
			}
			continue
		}

		snap := Snapshot{Ref: msg.Ref, ID: msg.ID, Exists: msg.Exists, Data: msg.Data}

		w.mu.Lock()
		targets := make([]*subscription, 0, len(w.subs[msg.Ref]))
		for _, sub := range w.subs[msg.Ref] {
			targets = append(targets, sub)
		}
		w.mu.Unlock()

		for _, sub := range targets {
			select {
			case sub.ch <- snap:
			case <-sub.done:
			}
		}
	}
}

// reconnect redials the feed with exponential backoff and re-sends the
// subscribe request for every live ref. It returns false once the watcher
// has been closed. Subscriptions survive the outage; snapshots committed
// while disconnected are redelivered by the per-ref catch-up on subscribe.
func (w *Watcher) reconnect() bool {
	delay := reconnectDelay
	for {
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return false
		}

		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.Dial(w.wsURL, nil)
		if err != nil {
			w.log.Warn().Err(err).Dur("retry_in", delay).Msg("change feed redial failed")
			time.Sleep(delay)
			if delay *= 2; delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			_ = conn.Close()
			return false
		}
		w.conn = conn
		refs := make([]string, 0, len(w.subs))
		for ref := range w.subs {
			refs = append(refs, ref)
		}
		w.mu.Unlock()

		resubscribed := true
		for _, ref := range refs {
			if err := w.send(conn, feedRequest{Action: "subscribe", Ref: ref}); err != nil {
				w.log.Warn().Err(err).Str("ref", ref).Msg("resubscribe failed")
				resubscribed = false
				break
			}
		}
		if resubscribed {
			w.log.Info().Int("refs", len(refs)).Msg("change feed reconnected")
			return true
		}
		_ = conn.Close()
	}
}

func (w *Watcher) remove(ref string, id uint64) {
	w.mu.Lock()
	byID := w.subs[ref]
	delete(byID, id)
	last := len(byID) == 0
	if last {
		delete(w.subs, ref)
	}
	conn := w.conn
	closed := w.closed
	w.mu.Unlock()

	if last && conn != nil && !closed {
		if err := w.send(conn, feedRequest{Action: "unsubscribe", Ref: ref}); err != nil {
			w.log.Warn().Err(err).Str("ref", ref).Msg("unsubscribe request failed")
		}
	}
}

func (w *Watcher) send(conn *websocket.Conn, req feedRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(req)
}

type feedRequest struct {
	Action string `json:"action"`
	Ref    string `json:"ref"`
}

type feedMessage struct {
	Ref    string          `json:"ref"`
	ID     string          `json:"id"`
	Exists bool            `json:"exists"`
	Data   json.RawMessage `json:"data"`
}
