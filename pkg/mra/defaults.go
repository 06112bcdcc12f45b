package mra

import "math"

// BoundaryKind selects the behavior at a face of the cell.
type BoundaryKind int

const (
	// BoundaryZero maps out-of-volume neighbors to the invalid key.
	BoundaryZero BoundaryKind = 0
	// BoundaryPeriodic wraps translations modulo 2^n.
	BoundaryPeriodic BoundaryKind = 1
)

// BoundaryConds is the d x 2 matrix of boundary conditions, one pair
// (low face, high face) per dimension.
type BoundaryConds struct {
	d int
	m [MaxDim][2]BoundaryKind
}

// ZeroBC returns all-zero boundary conditions in d dimensions.
func ZeroBC(d int) BoundaryConds { return BoundaryConds{d: d} }

// PeriodicBC returns all-periodic boundary conditions in d dimensions.
func PeriodicBC(d int) BoundaryConds {
	bc := BoundaryConds{d: d}
	for i := 0; i < d; i++ {
		bc.m[i][0] = BoundaryPeriodic
		bc.m[i][1] = BoundaryPeriodic
	}
	return bc
}

// Set assigns the condition for one face.
func (bc *BoundaryConds) Set(dim, face int, kind BoundaryKind) { bc.m[dim][face] = kind }

// Get returns the condition for one face.
func (bc BoundaryConds) Get(dim, face int) BoundaryKind { return bc.m[dim][face] }

// IsPeriodic reports whether dimension dim wraps.
func (bc BoundaryConds) IsPeriodic(dim int) bool {
	return bc.m[dim][0] == BoundaryPeriodic
}

// Cell describes the simulation cell: per-dimension bounds. The
// default is the unit hypercube.
type Cell struct {
	d      int
	lo, hi [MaxDim]float64
}

// UnitCell returns the unit hypercube in d dimensions.
func UnitCell(d int) Cell {
	c := Cell{d: d}
	for i := 0; i < d; i++ {
		c.hi[i] = 1
	}
	return c
}

// NewCell builds a cell from per-dimension bounds.
func NewCell(lo, hi []float64) Cell {
	c := Cell{d: len(lo)}
	for i := range lo {
		c.lo[i] = lo[i]
		c.hi[i] = hi[i]
	}
	return c
}

// Lo returns the lower bound of dimension i.
func (c Cell) Lo(i int) float64 { return c.lo[i] }

// Width returns the extent of dimension i.
func (c Cell) Width(i int) float64 { return c.hi[i] - c.lo[i] }

// Volume returns the cell volume.
func (c Cell) Volume() float64 {
	v := 1.0
	for i := 0; i < c.d; i++ {
		v *= c.Width(i)
	}
	return v
}

// MinWidth returns the smallest extent over dimensions.
func (c Cell) MinWidth() float64 {
	w := math.Inf(1)
	for i := 0; i < c.d; i++ {
		if c.Width(i) < w {
			w = c.Width(i)
		}
	}
	return w
}

// Defaults carries the per-dimension construction defaults a factory
// starts from, mirroring the recognized option set.
type Defaults struct {
	K                 int
	Thresh            float64
	InitialLevel      Level
	MaxRefineLevel    Level
	TruncateMode      int
	Refine            bool
	Autorefine        bool
	TruncateOnProject bool
	BC                BoundaryConds
	Cell              Cell
}

// DefaultsFor returns the stock defaults for dimension d.
func DefaultsFor(d int) Defaults {
	return Defaults{
		K:                 6,
		Thresh:            1e-4,
		InitialLevel:      2,
		MaxRefineLevel:    30,
		TruncateMode:      0,
		Refine:            true,
		Autorefine:        true,
		TruncateOnProject: false,
		BC:                ZeroBC(d),
		Cell:              UnitCell(d),
	}
}

// Validate checks the defaults for recognizable misconfiguration.
func (df Defaults) Validate() error {
	if df.K < 1 || df.K > MaxK {
		return Fault{Kind: FaultConfig, Detail: "wavelet order out of range", K: df.K}
	}
	if df.Thresh < 0 {
		return Fault{Kind: FaultConfig, Detail: "negative threshold"}
	}
	if df.InitialLevel < 0 || df.InitialLevel > df.MaxRefineLevel {
		return Fault{Kind: FaultConfig, Detail: "initial level out of range", K: df.InitialLevel}
	}
	if df.TruncateMode < 0 || df.TruncateMode > 2 {
		return Fault{Kind: FaultConfig, Detail: "truncate mode out of range", K: df.TruncateMode}
	}
	return nil
}
