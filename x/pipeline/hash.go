package pipeline

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	hashGroupChars    = 8
	hashGroupsPerLine = 4
)

// ContributionHashPrefix labels the contribution digest in status output
// and attestations.
const ContributionHashPrefix = "Contribution Hash: "

// FormatHash digests data with blake3-512 and renders it as grouped hex:
// the prefix line followed by four lines of four 8-character groups.
func FormatHash(data []byte, prefix string) string {
	sum := blake3.Sum512(data)
	full := hex.EncodeToString(sum[:])

	groups := make([]string, 0, len(full)/hashGroupChars)
	for i := 0; i < len(full); i += hashGroupChars {
		groups = append(groups, full[i:i+hashGroupChars])
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	for i := 0; i < len(groups); i += hashGroupsPerLine {
		sb.WriteString("\n\t\t")
		end := i + hashGroupsPerLine
		if end > len(groups) {
			end = len(groups)
		}
		sb.WriteString(strings.Join(groups[i:end], " "))
	}
	return sb.String()
}
