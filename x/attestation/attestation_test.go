package attestation

import (
	"context"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zkceremony/contributor/x/ceremony"
)

type fakePublisher struct {
	filename    string
	description string
	content     string
	url         string
}

func (p *fakePublisher) PublishGist(_ context.Context, filename, description, content string) (string, error) {
	p.filename, p.description, p.content = filename, description, content
	return p.url, nil
}

func fixture() (ceremony.Ceremony, []ceremony.Circuit, ceremony.Participant) {
	cer := ceremony.Ceremony{ID: "cer1", Title: "Semaphore V2", Prefix: "sem-v2"}
	circuits := []ceremony.Circuit{
		{ID: "a", SequencePosition: 1, Prefix: "semaphore_16"},
		{ID: "b", SequencePosition: 2, Prefix: "semaphore_20"},
	}
	participant := ceremony.Participant{
		ID: "self",
		Contributions: []ceremony.Contribution{
			{ZkeyIndex: "00004", Hash: "Contribution Hash: aaaa", Valid: true},
			{ZkeyIndex: "00007", Hash: "Contribution Hash: bbbb", Valid: true},
		},
	}
	return cer, circuits, participant
}

func TestBuildTextEnumeratesCircuits(t *testing.T) {
	t.Parallel()

	cer, circuits, participant := fixture()
	text := BuildText(cer, circuits, participant, "alice")

	require.Contains(t, text, "alice")
	require.Contains(t, text, "Semaphore V2")
	require.Contains(t, text, "Circuit # 1 (semaphore_16)")
	require.Contains(t, text, "Contributor # 00004")
	require.Contains(t, text, "Contribution Hash: aaaa")
	require.Contains(t, text, "Circuit # 2 (semaphore_20)")
	require.Contains(t, text, "Contributor # 00007")
}

func TestPublishReturnsShareURL(t *testing.T) {
	t.Parallel()

	cer, circuits, participant := fixture()
	publisher := &fakePublisher{url: "https://gist.github.com/alice/abc"}
	f := New(publisher, zerolog.Nop())

	share, err := f.Publish(context.Background(), cer, circuits, participant, "alice")
	require.NoError(t, err)

	require.Equal(t, "sem-v2_attestation.log", publisher.filename)
	require.Contains(t, publisher.content, "Contribution Hash: aaaa")

	parsed, err := url.Parse(share)
	require.NoError(t, err)
	require.Equal(t, "twitter.com", parsed.Host)
	require.Equal(t, "https://gist.github.com/alice/abc", parsed.Query().Get("url"))
	require.Contains(t, parsed.Query().Get("text"), "Semaphore V2")
}
