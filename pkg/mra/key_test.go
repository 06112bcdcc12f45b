package mra

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyParentChild(t *testing.T) {
	root := RootKey(3)
	require.Equal(t, 0, root.Level())
	require.Equal(t, 8, root.NumChildren())

	children := root.Children()
	require.Len(t, children, 8)
	for b, child := range children {
		require.Equal(t, 1, child.Level())
		require.Equal(t, root, child.Parent())
		require.Equal(t, b, child.ChildIndex())
	}

	deep := NewKey(3, []Translation{5, 2, 7})
	require.Equal(t, NewKey(2, []Translation{2, 1, 3}), deep.Parent())
	require.Equal(t, NewKey(1, []Translation{1, 0, 1}), deep.Ancestor(1))
	require.True(t, root.IsParentOf(deep))
	require.False(t, deep.IsParentOf(root))
}

func TestKeyOrdering(t *testing.T) {
	a := NewKey(1, []Translation{0})
	b := NewKey(2, []Translation{0})
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.False(t, a.Less(a))
}

func TestKeyHashStableAndSpread(t *testing.T) {
	a := NewKey(4, []Translation{3, 9})
	require.Equal(t, a.Hash(), NewKey(4, []Translation{3, 9}).Hash())

	seen := map[uint64]bool{}
	for l := Translation(0); l < 16; l++ {
		seen[NewKey(4, []Translation{l, 0}).Hash()] = true
	}
	require.Len(t, seen, 16)
}

func TestKeyDistSq(t *testing.T) {
	d := NewKey(0, []Translation{3, -4})
	require.Equal(t, int64(25), d.DistSq())
}

func TestInvalidKey(t *testing.T) {
	k := InvalidKey(2)
	require.False(t, k.IsValid())
	require.True(t, RootKey(2).IsValid())
}

func TestLevelMapLocality(t *testing.T) {
	pm := NewLevelMap(4)
	require.Equal(t, 0, pm.Owner(RootKey(3)))

	// Deep keys stay with their split-level ancestor.
	deep := NewKey(9, []Translation{100, 200, 300})
	require.Equal(t, pm.Owner(deep.Ancestor(4)), pm.Owner(deep))
	require.Equal(t, pm.Owner(deep), pm.Owner(deep.Parent()))
}
