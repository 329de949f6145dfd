// Package coordination adapts the remote ceremony coordination store:
// document reads, per-ref change subscriptions, and the server-side
// callables that advance participant state.
package coordination

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zkceremony/contributor/x/ceremony"
)

// ErrEmptySnapshot indicates a read returned no document. Callers interpret
// emptiness; it is a soft error at this layer.
var ErrEmptySnapshot = errors.New("coordination: empty snapshot")

// Snapshot is one observed document state.
type Snapshot struct {
	Ref    string          `json:"ref"`
	ID     string          `json:"id"`
	Exists bool            `json:"exists"`
	Data   json.RawMessage `json:"data"`
}

// Decode unmarshals the snapshot payload into v. Decoding an empty snapshot
// returns ErrEmptySnapshot.
func (s Snapshot) Decode(v any) error {
	if !s.Exists || len(s.Data) == 0 {
		return ErrEmptySnapshot
	}
	return json.Unmarshal(s.Data, v)
}

// Unsubscribe releases a subscription. Safe to call more than once.
type Unsubscribe func()

// Store exposes the document side of the coordination store. Subscription
// delivery is at-least-once and per-ref ordered; callers must be idempotent
// under redelivery of equivalent state.
type Store interface {
	GetDocument(ctx context.Context, ref string) (Snapshot, error)
	ListDocuments(ctx context.Context, ref string) ([]Snapshot, error)
	Subscribe(ctx context.Context, ref string, fn func(Snapshot)) (Unsubscribe, error)
}

// Callables invokes the server-side functions that own every participant
// transition. All of them are idempotent on the server side.
type Callables interface {
	CheckParticipantForCeremony(ctx context.Context, ceremonyID string) (bool, error)
	ProgressToNextCircuitForContribution(ctx context.Context, ceremonyID string) error
	ProgressToNextContributionStep(ctx context.Context, ceremonyID string) error
	PermanentlyStoreCurrentContributionTimeAndHash(ctx context.Context, ceremonyID string, timeMs int64, hash string) error
	VerifyContribution(ctx context.Context, ceremonyID, circuitID, bucket, contributorID, verifyURL string) error
	ResumeContributionAfterTimeoutExpiration(ctx context.Context, ceremonyID string) error
	TemporaryStoreCurrentContributionMultipartUploadID(ctx context.Context, ceremonyID, uploadID string) error
	TemporaryStoreCurrentContributionUploadedChunk(ctx context.Context, ceremonyID string, chunk ceremony.ETagPart) error
}
