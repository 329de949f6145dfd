package ceremony

import "fmt"

// zkeyIndexWidth is the zero-padded width of zkey indices in object names.
const zkeyIndexWidth = 5

// FormatZkeyIndex renders a completed-contribution count as the fixed-width
// decimal index used in zkey object names: 0 -> "00000", 42 -> "00042".
func FormatZkeyIndex(n int) string {
	return fmt.Sprintf("%0*d", zkeyIndexWidth, n)
}

// ZkeyFilename builds the object name for the zkey at the given index.
func ZkeyFilename(circuitPrefix string, index int) string {
	return fmt.Sprintf("%s_%s.zkey", circuitPrefix, FormatZkeyIndex(index))
}

// ContributionKey builds the storage key of a zkey artifact inside the
// ceremony bucket.
func ContributionKey(circuitPrefix, filename string) string {
	return fmt.Sprintf("circuits/%s/contributions/%s", circuitPrefix, filename)
}

// BucketName derives the ceremony bucket from the ceremony prefix and the
// configured postfix.
func BucketName(ceremonyPrefix, bucketPostfix string) string {
	return ceremonyPrefix + bucketPostfix
}

// LastZkeyName is the name of the most recently accepted zkey for the
// circuit, the artifact the next contributor downloads.
func (c Circuit) LastZkeyName() string {
	return ZkeyFilename(c.Prefix, c.WaitingQueue.CompletedContributions)
}

// NextZkeyName is the name the current contributor's output will be
// uploaded under.
func (c Circuit) NextZkeyName() string {
	return ZkeyFilename(c.Prefix, c.WaitingQueue.CompletedContributions+1)
}

// LastZkeyKey returns the full storage key of the last accepted zkey.
func (c Circuit) LastZkeyKey() string {
	return ContributionKey(c.Prefix, c.LastZkeyName())
}

// NextZkeyKey returns the full storage key for the next contribution.
func (c Circuit) NextZkeyKey() string {
	return ContributionKey(c.Prefix, c.NextZkeyName())
}
