package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "nested", "session.json"))

	_, err := store.Token()
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, store.Save("gho_token", "alice"))

	token, err := store.Token()
	require.NoError(t, err)
	require.Equal(t, "gho_token", token)

	username, err := store.Username()
	require.NoError(t, err)
	require.Equal(t, "alice", username)

	require.NoError(t, store.Clear())
	_, err = store.Token()
	require.ErrorIs(t, err, ErrNoSession)

	// Clearing twice is fine.
	require.NoError(t, store.Clear())
}

func TestSummaryMeets(t *testing.T) {
	t.Parallel()

	th := Thresholds{MinRepos: 1, MinFollowers: 5, MinFollowing: 5}

	require.True(t, Summary{Repos: 1, Followers: 5, Following: 10}.Meets(th))
	require.False(t, Summary{Repos: 0, Followers: 5, Following: 10}.Meets(th))
	require.False(t, Summary{Repos: 1, Followers: 4, Following: 10}.Meets(th))
	require.True(t, Summary{}.Meets(Thresholds{}))
}
