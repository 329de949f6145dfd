package coordination

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// feedServer is a minimal change-feed endpoint: it records subscribe and
// unsubscribe requests across connections and lets the test push snapshots
// and drop connections.
type feedServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	requests []feedRequest
}

func newFeedServer(t *testing.T) (*feedServer, string) {
	t.Helper()
	fs := &feedServer{t: t}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fs.upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()

		for {
			var req feedRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			fs.mu.Lock()
			fs.requests = append(fs.requests, req)
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)

	return fs, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (fs *feedServer) push(msg feedMessage) {
	waitFor(fs.t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.conns) > 0
	})
	fs.mu.Lock()
	conn := fs.conns[len(fs.conns)-1]
	fs.mu.Unlock()
	require.NoError(fs.t, conn.WriteJSON(msg))
}

func (fs *feedServer) dropLatest() {
	fs.mu.Lock()
	conn := fs.conns[len(fs.conns)-1]
	fs.mu.Unlock()
	require.NoError(fs.t, conn.Close())
}

func (fs *feedServer) connCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.conns)
}

func (fs *feedServer) recorded() []feedRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]feedRequest(nil), fs.requests...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWatcherDeliversInOrder(t *testing.T) {
	t.Parallel()

	fs, wsURL := newFeedServer(t)
	w := NewWatcher(wsURL, zerolog.Nop())
	require.NoError(t, w.Connect(context.Background()))
	t.Cleanup(func() { _ = w.Close() })

	var mu sync.Mutex
	var got []string
	unsub, err := w.Subscribe(context.Background(), "ceremonies/cer1", func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, snap.ID)
	})
	require.NoError(t, err)
	t.Cleanup(unsub)

	waitFor(t, func() bool {
		reqs := fs.recorded()
		return len(reqs) == 1 && reqs[0] == feedRequest{Action: "subscribe", Ref: "ceremonies/cer1"}
	})

	for _, id := range []string{"v1", "v2", "v3"} {
		fs.push(feedMessage{Ref: "ceremonies/cer1", ID: id, Exists: true, Data: json.RawMessage(`{}`)})
	}
	// A snapshot for another ref must not reach this subscriber.
	fs.push(feedMessage{Ref: "ceremonies/other", ID: "x", Exists: true})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"v1", "v2", "v3"}, got)
}

func TestWatcherReconnectsAndResubscribes(t *testing.T) {
	t.Parallel()

	fs, wsURL := newFeedServer(t)
	w := NewWatcher(wsURL, zerolog.Nop())
	require.NoError(t, w.Connect(context.Background()))
	t.Cleanup(func() { _ = w.Close() })

	var mu sync.Mutex
	var got []string
	unsub, err := w.Subscribe(context.Background(), "ceremonies/cer1", func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, snap.ID)
	})
	require.NoError(t, err)
	t.Cleanup(unsub)

	waitFor(t, func() bool { return len(fs.recorded()) == 1 })
	fs.push(feedMessage{Ref: "ceremonies/cer1", ID: "v1", Exists: true})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	// Server drops the connection; the watcher must redial and re-send the
	// subscribe request for the live ref.
	fs.dropLatest()
	waitFor(t, func() bool {
		reqs := fs.recorded()
		return fs.connCount() == 2 && len(reqs) == 2 &&
			reqs[1] == feedRequest{Action: "subscribe", Ref: "ceremonies/cer1"}
	})

	fs.push(feedMessage{Ref: "ceremonies/cer1", ID: "v2", Exists: true})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"v1", "v2"}, got)
}

func TestWatcherUnsubscribe(t *testing.T) {
	t.Parallel()

	fs, wsURL := newFeedServer(t)
	w := NewWatcher(wsURL, zerolog.Nop())
	require.NoError(t, w.Connect(context.Background()))
	t.Cleanup(func() { _ = w.Close() })

	unsub, err := w.Subscribe(context.Background(), "ceremonies/cer1", func(Snapshot) {})
	require.NoError(t, err)

	waitFor(t, func() bool { return len(fs.recorded()) == 1 })

	unsub()
	unsub() // safe to repeat

	waitFor(t, func() bool {
		reqs := fs.recorded()
		return len(reqs) == 2 && reqs[1] == feedRequest{Action: "unsubscribe", Ref: "ceremonies/cer1"}
	})
}

func TestWatcherSubscribeRequiresConnection(t *testing.T) {
	t.Parallel()

	w := NewWatcher("ws://localhost:0", zerolog.Nop())
	_, err := w.Subscribe(context.Background(), "ceremonies/cer1", func(Snapshot) {})
	require.Error(t, err)
}
