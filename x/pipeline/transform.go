package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Transform applies one participant's randomness to the current zkey and
// returns the next zkey. Implementations must be deterministic given the
// same inputs so interrupted sessions can reproduce their output.
type Transform interface {
	Contribute(ctx context.Context, zkey []byte, entropy string) ([]byte, error)
}

// XOFTransform is the built-in transform: it derives a blake3 keystream
// from (previous zkey, entropy) and folds it into the artifact. Deployments
// with a full SNARK toolchain substitute their own Transform; the pipeline
// treats the transform as an opaque deterministic-with-randomness step
// either way.
type XOFTransform struct{}

func (XOFTransform) Contribute(_ context.Context, zkey []byte, entropy string) ([]byte, error) {
	if len(zkey) == 0 {
		return nil, errors.New("pipeline: empty zkey")
	}
	if entropy == "" {
		return nil, errors.New("pipeline: empty entropy")
	}

	h := blake3.New()
	_, _ = h.Write(zkey)
	_, _ = h.Write([]byte(entropy))

	out := make([]byte, len(zkey))
	if _, err := io.ReadFull(h.Digest(), out); err != nil {
		return nil, fmt.Errorf("pipeline: derive keystream: %w", err)
	}
	for i := range out {
		out[i] ^= zkey[i]
	}
	return out, nil
}

var _ Transform = XOFTransform{}
