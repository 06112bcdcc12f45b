package stores

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrakit/mrakit/pkg/mra"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "snap.db")})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testMeta() mra.TreeMeta {
	return mra.TreeMeta{
		NDim:           2,
		K:              6,
		Thresh:         1e-6,
		InitialLevel:   2,
		MaxRefineLevel: 30,
		Compressed:     true,
		BC:             [][2]int{{0, 0}, {1, 1}},
		CellLo:         []float64{0, 0},
		CellHi:         []float64{1, 1},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &TreeRecord{
		Name: "wavefn",
		Rank: 0,
		Meta: testMeta(),
		Nodes: []NodePair{
			{Key: []byte{1, 2, 3}, Node: []byte{9, 8, 7, 6}},
			{Key: []byte{4, 5}, Node: []byte{0}},
		},
	}
	require.NoError(t, store.SaveTree(ctx, rec))

	got, err := store.LoadTree(ctx, "wavefn", 0)
	require.NoError(t, err)
	require.Equal(t, rec.Meta, got.Meta)
	require.Len(t, got.Nodes, 2)
	require.Equal(t, rec.Nodes[0].Key, got.Nodes[0].Key)
	require.Equal(t, rec.Nodes[1].Node, got.Nodes[1].Node)
}

func TestSaveReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &TreeRecord{Name: "f", Rank: 0, Meta: testMeta(),
		Nodes: []NodePair{{Key: []byte{1}, Node: []byte{1}}}}
	require.NoError(t, store.SaveTree(ctx, rec))

	rec.Nodes = []NodePair{
		{Key: []byte{2}, Node: []byte{2}},
		{Key: []byte{3}, Node: []byte{3}},
	}
	require.NoError(t, store.SaveTree(ctx, rec))

	got, err := store.LoadTree(ctx, "f", 0)
	require.NoError(t, err)
	require.Len(t, got.Nodes, 2)
	require.Equal(t, []byte{2}, got.Nodes[0].Key)
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadTree(context.Background(), "nope", 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		for rank := 0; rank < 2; rank++ {
			require.NoError(t, store.SaveTree(ctx, &TreeRecord{
				Name: name, Rank: rank, Meta: testMeta(),
			}))
		}
	}

	names, err := store.ListTrees(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, store.DeleteTree(ctx, "a"))
	names, err = store.ListTrees(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, names)

	_, err = store.LoadTree(ctx, "a", 0)
	require.ErrorIs(t, err, ErrNotFound)
}
