package mra

import (
	"github.com/mrakit/mrakit/pkg/tensor"
	"github.com/mrakit/mrakit/pkg/world"
)

// TreeMeta is the persisted form of a tree's configuration. The
// functor is deliberately omitted: a loaded tree can be evaluated and
// operated on but not reprojected.
type TreeMeta struct {
	NDim              int
	K                 int
	Thresh            float64
	InitialLevel      Level
	MaxRefineLevel    Level
	TruncateMode      int
	Autorefine        bool
	TruncateOnProject bool
	Nonstandard       bool
	Compressed        bool
	BC                [][2]int
	CellLo            []float64
	CellHi            []float64
}

// Meta captures the tree's persisted configuration.
func (t *Tree[T]) Meta() TreeMeta {
	d := t.cdata.NDim
	m := TreeMeta{
		NDim:              d,
		K:                 t.k,
		Thresh:            t.thresh,
		InitialLevel:      t.initialLevel,
		MaxRefineLevel:    t.maxRefineLevel,
		TruncateMode:      t.truncateMode,
		Autorefine:        t.autorefine,
		TruncateOnProject: t.truncateOnProject,
		Nonstandard:       t.nonstandard,
		Compressed:        t.compressed,
		BC:                make([][2]int, d),
		CellLo:            make([]float64, d),
		CellHi:            make([]float64, d),
	}
	for i := 0; i < d; i++ {
		m.BC[i] = [2]int{int(t.bc.Get(i, 0)), int(t.bc.Get(i, 1))}
		m.CellLo[i] = t.cell.Lo(i)
		m.CellHi[i] = t.cell.Lo(i) + t.cell.Width(i)
	}
	return m
}

// NewTreeFromMeta rebuilds an empty tree shell from persisted
// configuration. Nodes are restored with ImportNode.
func NewTreeFromMeta[T tensor.Elem](w *world.World, m TreeMeta, pm ProcessMap) (*Tree[T], error) {
	df := Defaults{
		K:                 m.K,
		Thresh:            m.Thresh,
		InitialLevel:      m.InitialLevel,
		MaxRefineLevel:    m.MaxRefineLevel,
		TruncateMode:      m.TruncateMode,
		Autorefine:        m.Autorefine,
		TruncateOnProject: m.TruncateOnProject,
		BC:                ZeroBC(m.NDim),
		Cell:              NewCell(m.CellLo, m.CellHi),
	}
	for i := 0; i < m.NDim; i++ {
		df.BC.Set(i, 0, BoundaryKind(m.BC[i][0]))
		df.BC.Set(i, 1, BoundaryKind(m.BC[i][1]))
	}
	if err := df.Validate(); err != nil {
		return nil, err
	}
	if pm == nil {
		pm = NewLevelMap(w.Size())
	}
	t := newTree[T](w, df, pm, nil, m.NDim)
	t.compressed = m.Compressed
	t.nonstandard = m.Nonstandard
	t.coeffs.ProcessPending()
	return t, nil
}

// ExportNodes streams the local shard as (key, node) byte pairs in
// the container codec's format.
func (t *Tree[T]) ExportNodes(fn func(key, node []byte) error) error {
	var err error
	codec := treeCodec[T]{}
	t.coeffs.IterLocal(func(key Key, node Node[T]) bool {
		err = fn(codec.EncodeKey(key), codec.EncodeValue(node))
		return err == nil
	})
	return err
}

// ImportNode restores one exported pair onto its owner.
func (t *Tree[T]) ImportNode(keyB, nodeB []byte) {
	codec := treeCodec[T]{}
	t.coeffs.Replace(codec.DecodeKey(keyB), codec.DecodeValue(nodeB))
}
