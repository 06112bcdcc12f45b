package mra

import (
	"sync"

	"github.com/mrakit/mrakit/pkg/tensor"
)

// CommonData holds everything shared by all trees of a given wavelet
// order k and dimension d: shape vectors, slices, quadrature tables,
// two-scale blocks, and the periodic derivative blocks. Instances are
// allocated on first request and immutable afterwards.
type CommonData struct {
	K    int // wavelet order
	NDim int // spatial dimension
	NPt  int // quadrature points per dimension (= K)

	// VK, V2K, VQ are the (k,...), (2k,...), (npt,...) shape vectors.
	VK, V2K, VQ []int

	// SkLo indexes the four k-wide blocks along one axis; the
	// child patch of child c starts at SkLo[bit] per dimension.
	SkLo [4]int

	// S0LoVec selects the scaling sub-block of a (2k)^d tensor.
	S0LoVec []int

	// ShShape is the low-half shape used by the autorefine test.
	ShShape []int

	Key0 Key // root key

	QuadX, QuadW []float64
	QuadPhi      tensor.Matrix // phi(i,j) = value of phi_j at x_i
	QuadPhiT     tensor.Matrix
	QuadPhiW     tensor.Matrix // phiw(i,j) = w_i * phi_j(x_i)

	H0, H1, G0, G1 tensor.Matrix
	HG, HGT        tensor.Matrix
	HGSonly        tensor.Matrix

	RM, R0, RP                       tensor.Matrix
	RMLeft, RMRight, RPLeft, RPRight []float64
}

var (
	cdMu    sync.Mutex
	cdCache = map[[2]int]*CommonData{}
)

// GetCommonData returns the shared tables for order k in d dimensions,
// initializing them on first use. Illegal k or d is a contract
// violation.
func GetCommonData(k, d int) *CommonData {
	if k < 1 || k > MaxK {
		Abort(Fault{Kind: FaultConfig, Detail: "wavelet order out of range", K: k})
	}
	if d < 1 || d > MaxDim {
		Abort(Fault{Kind: FaultConfig, Detail: "dimension out of range", K: d})
	}
	cdMu.Lock()
	defer cdMu.Unlock()
	if cd, ok := cdCache[[2]int{k, d}]; ok {
		return cd
	}
	cd := &CommonData{K: k, NDim: d, NPt: k, Key0: RootKey(d)}
	cd.VK = repeat(k, d)
	cd.V2K = repeat(2*k, d)
	cd.VQ = repeat(cd.NPt, d)
	cd.S0LoVec = repeat(0, d)
	cd.ShShape = repeat((k-1)/2+1, d)
	for i := 0; i < 4; i++ {
		cd.SkLo[i] = i * k
	}
	cd.QuadX, cd.QuadW, cd.QuadPhi, cd.QuadPhiW, cd.QuadPhiT = initQuadrature(k, cd.NPt)
	cd.H0, cd.H1, cd.G0, cd.G1, cd.HG, cd.HGT, cd.HGSonly = initTwoscale(k)
	cd.RM, cd.R0, cd.RP, cd.RMLeft, cd.RMRight, cd.RPLeft, cd.RPRight = initDCPeriodic(k)
	cdCache[[2]int{k, d}] = cd
	return cd
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// ChildPatchLo returns the starting corner of the child's block inside
// the parent's (2k)^d tensor: the low bit of each translation selects
// the k-wide half along that axis.
func (cd *CommonData) ChildPatchLo(child Key) []int {
	lo := make([]int, cd.NDim)
	for i := 0; i < cd.NDim; i++ {
		lo[i] = cd.SkLo[child.Translation(i)&1]
	}
	return lo
}
