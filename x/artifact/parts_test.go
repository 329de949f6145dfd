package artifact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanPartsExactMultiple(t *testing.T) {
	t.Parallel()

	parts := planParts(100, 25)
	require.Len(t, parts, 4)
	require.Equal(t, partRange{Number: 1, From: 0, To: 25}, parts[0])
	require.Equal(t, partRange{Number: 4, From: 75, To: 100}, parts[3])
}

func TestPlanPartsRemainder(t *testing.T) {
	t.Parallel()

	parts := planParts(110, 50)
	require.Len(t, parts, 3)
	require.Equal(t, partRange{Number: 3, From: 100, To: 110}, parts[2])
}

func TestPlanPartsSmallObject(t *testing.T) {
	t.Parallel()

	parts := planParts(10, 50)
	require.Len(t, parts, 1)
	require.Equal(t, partRange{Number: 1, From: 0, To: 10}, parts[0])
}

func TestPlanPartsEmptyObject(t *testing.T) {
	t.Parallel()

	parts := planParts(0, 50)
	require.Len(t, parts, 1)
	require.Equal(t, partRange{Number: 1, From: 0, To: 0}, parts[0])
}
