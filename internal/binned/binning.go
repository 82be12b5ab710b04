// Package binned provides the generic binned-data container used by the
// correlation fits: a set of binning axes, the bins that carry data, their
// covariance, and the chi-square of a prediction against them.
package binned

import (
	"fmt"
	"sort"
)

// Binning describes one axis.
type Binning interface {
	NBins() int
	BinLow(i int) float64
	BinHigh(i int) float64
	BinCenter(i int) float64
	BinWidth(i int) float64
	// FindBin returns the bin containing x, or an error if x is outside the axis.
	FindBin(x float64) (int, error)
}

// UniformBinning has n equal-width bins covering [min, max).
type UniformBinning struct {
	min, max float64
	n        int
}

// NewUniformBinning creates n equal-width bins covering [min, max).
func NewUniformBinning(min, max float64, n int) (*UniformBinning, error) {
	if n <= 0 {
		return nil, fmt.Errorf("binned: uniform binning needs n > 0, got %d", n)
	}
	if !(min < max) {
		return nil, fmt.Errorf("binned: uniform binning needs min < max, got [%g,%g)", min, max)
	}
	return &UniformBinning{min: min, max: max, n: n}, nil
}

func (b *UniformBinning) NBins() int            { return b.n }
func (b *UniformBinning) binWidth() float64     { return (b.max - b.min) / float64(b.n) }
func (b *UniformBinning) BinLow(i int) float64  { return b.min + float64(i)*b.binWidth() }
func (b *UniformBinning) BinHigh(i int) float64 { return b.min + float64(i+1)*b.binWidth() }
func (b *UniformBinning) BinWidth(int) float64  { return b.binWidth() }

func (b *UniformBinning) BinCenter(i int) float64 {
	return b.min + (float64(i)+0.5)*b.binWidth()
}

func (b *UniformBinning) FindBin(x float64) (int, error) {
	if x < b.min || x >= b.max {
		return -1, fmt.Errorf("binned: %g outside [%g,%g)", x, b.min, b.max)
	}
	i := int((x - b.min) / b.binWidth())
	if i >= b.n {
		i = b.n - 1
	}
	return i, nil
}

// VariableBinning has bins defined by increasing edges.
type VariableBinning struct {
	edges []float64
}

// NewVariableBinning creates len(edges)-1 bins from strictly increasing edges.
func NewVariableBinning(edges []float64) (*VariableBinning, error) {
	if len(edges) < 2 {
		return nil, fmt.Errorf("binned: variable binning needs at least 2 edges, got %d", len(edges))
	}
	for i := 1; i < len(edges); i++ {
		if !(edges[i] > edges[i-1]) {
			return nil, fmt.Errorf("binned: edges must be strictly increasing at %d", i)
		}
	}
	return &VariableBinning{edges: append([]float64(nil), edges...)}, nil
}

func (b *VariableBinning) NBins() int              { return len(b.edges) - 1 }
func (b *VariableBinning) BinLow(i int) float64    { return b.edges[i] }
func (b *VariableBinning) BinHigh(i int) float64   { return b.edges[i+1] }
func (b *VariableBinning) BinCenter(i int) float64 { return 0.5 * (b.edges[i] + b.edges[i+1]) }
func (b *VariableBinning) BinWidth(i int) float64  { return b.edges[i+1] - b.edges[i] }

func (b *VariableBinning) FindBin(x float64) (int, error) {
	n := b.NBins()
	if x < b.edges[0] || x >= b.edges[n] {
		return -1, fmt.Errorf("binned: %g outside [%g,%g)", x, b.edges[0], b.edges[n])
	}
	// i is the first edge >= x; it is < n here.
	i := sort.SearchFloat64s(b.edges, x)
	if b.edges[i] == x {
		return i, nil
	}
	return i - 1, nil
}

// Sampling is an axis of zero-width points, e.g. multipole codes or
// pre-computed separations.
type Sampling struct {
	centers []float64
}

// NewSampling creates a zero-width axis from strictly increasing centers.
func NewSampling(centers []float64) (*Sampling, error) {
	if len(centers) == 0 {
		return nil, fmt.Errorf("binned: sampling needs at least one point")
	}
	for i := 1; i < len(centers); i++ {
		if !(centers[i] > centers[i-1]) {
			return nil, fmt.Errorf("binned: sampling points must be strictly increasing at %d", i)
		}
	}
	return &Sampling{centers: append([]float64(nil), centers...)}, nil
}

func (b *Sampling) NBins() int              { return len(b.centers) }
func (b *Sampling) BinLow(i int) float64    { return b.centers[i] }
func (b *Sampling) BinHigh(i int) float64   { return b.centers[i] }
func (b *Sampling) BinCenter(i int) float64 { return b.centers[i] }
func (b *Sampling) BinWidth(int) float64    { return 0 }

func (b *Sampling) FindBin(x float64) (int, error) {
	i := sort.SearchFloat64s(b.centers, x)
	if i < len(b.centers) && b.centers[i] == x {
		return i, nil
	}
	return -1, fmt.Errorf("binned: %g is not a sampling point", x)
}
