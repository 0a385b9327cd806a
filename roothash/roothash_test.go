package roothash_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacks-network/marf-go/hash"
	"github.com/stacks-network/marf-go/roothash"
)

func TestComputeIsDeterministic(t *testing.T) {
	t1 := hash.Content{1}
	ancestors := []hash.Content{{2}, {3}}
	require.Equal(t, roothash.Compute(t1, ancestors), roothash.Compute(t1, ancestors))
}

func TestComputeSensitiveToTrieRoot(t *testing.T) {
	ancestors := []hash.Content{{2}}
	require.NotEqual(t, roothash.Compute(hash.Content{1}, ancestors), roothash.Compute(hash.Content{9}, ancestors))
}

func TestComputeSensitiveToAncestorOrder(t *testing.T) {
	t1 := hash.Content{1}
	require.NotEqual(t,
		roothash.Compute(t1, []hash.Content{{2}, {3}}),
		roothash.Compute(t1, []hash.Content{{3}, {2}}),
	)
}

func TestComputeNoAncestorsDiffersFromWithAncestors(t *testing.T) {
	t1 := hash.Content{1}
	require.NotEqual(t, roothash.Compute(t1, nil), roothash.Compute(t1, []hash.Content{{2}}))
}
