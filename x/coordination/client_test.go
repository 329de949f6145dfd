package coordination

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zkceremony/contributor/x/ceremony"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func envelope(data any) map[string]any {
	return map[string]any{"success": true, "data": data}
}

func TestClientGetDocument(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/documents/ceremonies/cer1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(envelope(map[string]any{
			"id":     "cer1",
			"exists": true,
			"data":   map[string]any{"id": "cer1", "title": "Test"},
		}))
	}))

	snap, err := client.GetDocument(context.Background(), "ceremonies/cer1")
	require.NoError(t, err)
	require.True(t, snap.Exists)

	var cer ceremony.Ceremony
	require.NoError(t, snap.Decode(&cer))
	require.Equal(t, "Test", cer.Title)
}

func TestClientGetDocumentMissing(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(envelope(map[string]any{"exists": false}))
	}))

	snap, err := client.GetDocument(context.Background(), "ceremonies/none")
	require.NoError(t, err)
	require.False(t, snap.Exists)
	require.ErrorIs(t, snap.Decode(&struct{}{}), ErrEmptySnapshot)
}

func TestClientListDocuments(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/collections/ceremonies/cer1/circuits", r.URL.Path)
		_ = json.NewEncoder(w).Encode(envelope(map[string]any{
			"documents": []map[string]any{
				{"id": "c1", "data": map[string]any{"sequencePosition": 1}},
				{"id": "c2", "data": map[string]any{"sequencePosition": 2}},
			},
		}))
	}))

	snaps, err := client.ListDocuments(context.Background(), "ceremonies/cer1/circuits")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "c1", snaps[0].ID)
	require.Equal(t, "ceremonies/cer1/circuits/c2", snaps[1].Ref)
}

func TestClientCallablePayload(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))

	err := client.TemporaryStoreCurrentContributionUploadedChunk(context.Background(), "cer1", ceremony.ETagPart{Number: 3, ETag: "abc"})
	require.NoError(t, err)
	require.Equal(t, "/v1/functions/temporaryStoreCurrentContributionUploadedChunkData", gotPath)
	require.Equal(t, "cer1", gotBody["ceremonyId"])

	chunk, ok := gotBody["chunk"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(3), chunk["partNumber"])
	require.Equal(t, "abc", chunk["etag"])
}

func TestClientCallableServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		msg := "participant is not the current contributor"
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
	}))

	err := client.ProgressToNextContributionStep(context.Background(), "cer1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "participant is not the current contributor")
}

func TestClientCheckParticipant(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/functions/checkParticipantForCeremony", r.URL.Path)
		_ = json.NewEncoder(w).Encode(envelope(map[string]any{"canParticipate": true}))
	}))

	ok, err := client.CheckParticipantForCeremony(context.Background(), "cer1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSubscribeWithoutWatcher(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	_, err := client.Subscribe(context.Background(), "ceremonies/cer1", func(Snapshot) {})
	require.Error(t, err)
}
