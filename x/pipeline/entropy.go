package pipeline

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// EntropyDraws is the number of independent 256-bit draws folded into one
// contribution's entropy string.
const EntropyDraws = 32

// entropyMax bounds each draw to [0, 2^256).
var entropyMax = new(big.Int).Lsh(big.NewInt(1), 256)

// NewEntropy draws EntropyDraws uniform integers in [0, 2^256) from the
// system CSPRNG and concatenates their decimal representations. The
// transform hashes the string, so the exact representation is not part of
// the contribution contract; the entropy quality is.
func NewEntropy() (string, error) {
	var sb strings.Builder
	for i := 0; i < EntropyDraws; i++ {
		n, err := rand.Int(rand.Reader, entropyMax)
		if err != nil {
			return "", fmt.Errorf("pipeline: entropy draw %d: %w", i, err)
		}
		sb.WriteString(n.String())
	}
	return sb.String(), nil
}
