// Package attestation builds and publishes the human-readable record of a
// participant's contributions once every circuit is done.
package attestation

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zkceremony/contributor/x/ceremony"
)

// Publisher uploads the attestation text to the identity provider's paste
// endpoint. *identity.Client satisfies it.
type Publisher interface {
	PublishGist(ctx context.Context, filename, description, content string) (string, error)
}

// Finalizer publishes attestations and derives the shareable reference.
type Finalizer struct {
	publisher Publisher
	log       zerolog.Logger
}

// New constructs a Finalizer.
func New(publisher Publisher, log zerolog.Logger) *Finalizer {
	return &Finalizer{
		publisher: publisher,
		log:       log.With().Str("component", "finalizer").Logger(),
	}
}

// Publish builds the attestation, uploads it as a public gist and returns
// the social share URL referencing it.
func (f *Finalizer) Publish(
	ctx context.Context,
	cer ceremony.Ceremony,
	circuits []ceremony.Circuit,
	participant ceremony.Participant,
	handle string,
) (string, error) {
	text := BuildText(cer, circuits, participant, handle)

	filename := fmt.Sprintf("%s_attestation.log", cer.Prefix)
	description := fmt.Sprintf("Attestation for the %s trusted setup ceremony", cer.Title)

	gistURL, err := f.publisher.PublishGist(ctx, filename, description, text)
	if err != nil {
		return "", fmt.Errorf("attestation: publish: %w", err)
	}

	share := ShareURL(cer.Title, gistURL)
	f.log.Info().Str("gist_url", gistURL).Msg("attestation published")
	return share, nil
}

// BuildText enumerates, per circuit, the contribution hash and zkey index.
func BuildText(cer ceremony.Ceremony, circuits []ceremony.Circuit, participant ceremony.Participant, handle string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hey, I'm %s and I have contributed to the %s trusted setup ceremony.\n", handle, cer.Title)
	sb.WriteString("The following are my contribution signatures:\n")

	for i, circ := range circuits {
		if i >= len(participant.Contributions) {
			break
		}
		contrib := participant.Contributions[i]
		fmt.Fprintf(&sb, "\nCircuit # %d (%s)\n", circ.SequencePosition, circ.Prefix)
		fmt.Fprintf(&sb, "Contributor # %s\n", contrib.ZkeyIndex)
		sb.WriteString(contrib.Hash)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ShareURL derives the social-share link referencing the published
// attestation.
func ShareURL(ceremonyTitle, gistURL string) string {
	params := url.Values{}
	params.Set("text", fmt.Sprintf("I just contributed to the %s trusted setup ceremony! You can contribute here:", ceremonyTitle))
	params.Set("url", gistURL)
	return "https://twitter.com/intent/tweet?" + params.Encode()
}
