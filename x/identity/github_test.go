package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient("gho_test", srv.URL, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestClientUser(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user", r.URL.Path)
		require.Equal(t, "Bearer gho_test", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": 12345, "login": "alice", "name": "Alice",
		})
	}))

	user, err := client.User(context.Background())
	require.NoError(t, err)
	require.Equal(t, User{ID: "12345", Login: "alice", Name: "Alice"}, user)
}

func TestClientCheckReputation(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"public_repos": 3, "followers": 10, "following": 2,
		})
	}))

	ok, summary, err := client.CheckReputation(context.Background(), Thresholds{MinRepos: 1, MinFollowers: 5})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Summary{Repos: 3, Followers: 10, Following: 2}, summary)

	ok, _, err = client.CheckReputation(context.Background(), Thresholds{MinFollowing: 5})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClientHasGistScope(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-OAuth-Scopes", "read:user, gist")
		w.WriteHeader(http.StatusOK)
	}))

	ok, err := client.HasGistScope(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	noScope := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-OAuth-Scopes", "read:user")
		w.WriteHeader(http.StatusOK)
	}))
	ok, err = noScope.HasGistScope(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClientPublishGist(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/gists", r.URL.Path)

		var payload struct {
			Description string                       `json:"description"`
			Public      bool                         `json:"public"`
			Files       map[string]map[string]string `json:"files"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.True(t, payload.Public)
		require.Contains(t, payload.Files, "attestation.log")

		_ = json.NewEncoder(w).Encode(map[string]string{
			"html_url": "https://gist.github.com/alice/abc123",
		})
	}))

	url, err := client.PublishGist(context.Background(), "attestation.log", "ceremony attestation", "content")
	require.NoError(t, err)
	require.Equal(t, "https://gist.github.com/alice/abc123", url)
}

func TestNewClientRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := NewClient("", "", zerolog.Nop())
	require.ErrorIs(t, err, ErrNoSession)
}
