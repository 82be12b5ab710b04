package binned

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrFinalized is returned when a finalized container is modified.
	ErrFinalized = errors.New("binned: data is finalized")

	// ErrNoData is returned when a global index has no data.
	ErrNoData = errors.New("binned: bin has no data")
)

type covKey struct{ lo, hi int }

func newCovKey(a, b int) covKey {
	if a > b {
		a, b = b, a
	}
	return covKey{a, b}
}

// Data holds values for a sparse subset of the bins of a multi-dimensional
// binning, together with their covariance. Bins with data are addressed by a
// global index and stored densely by offset, in the order they were added.
type Data struct {
	axes      []Binning
	nbins     int
	offsets   map[int]int
	indices   []int
	values    []float64
	cov       map[covKey]float64
	finalized bool

	chol *mat.Cholesky
}

// New creates an empty container over the given axes.
func New(axes ...Binning) (*Data, error) {
	if len(axes) == 0 {
		return nil, errors.New("binned: need at least one axis")
	}
	nbins := 1
	for i, a := range axes {
		if a == nil {
			return nil, fmt.Errorf("binned: axis %d is nil", i)
		}
		nbins *= a.NBins()
	}
	return &Data{
		axes:    append([]Binning(nil), axes...),
		nbins:   nbins,
		offsets: make(map[int]int),
		cov:     make(map[covKey]float64),
	}, nil
}

// Axes returns the binning axes.
func (d *Data) Axes() []Binning { return append([]Binning(nil), d.axes...) }

// NBins returns the total number of bins, with or without data.
func (d *Data) NBins() int { return d.nbins }

// NBinsWithData returns the number of bins carrying data.
func (d *Data) NBinsWithData() int { return len(d.indices) }

// Indices returns the global indices of bins with data, in offset order.
func (d *Data) Indices() []int { return append([]int(nil), d.indices...) }

// IsFinalized reports whether Finalize has been called.
func (d *Data) IsFinalized() bool { return d.finalized }

// GlobalIndex converts per-axis bin indices to a global index. The last axis
// varies fastest.
func (d *Data) GlobalIndex(binIndex ...int) (int, error) {
	if len(binIndex) != len(d.axes) {
		return -1, fmt.Errorf("binned: expected %d bin indices, got %d", len(d.axes), len(binIndex))
	}
	global := 0
	for i, a := range d.axes {
		if binIndex[i] < 0 || binIndex[i] >= a.NBins() {
			return -1, fmt.Errorf("binned: bin index %d out of range on axis %d", binIndex[i], i)
		}
		global = global*a.NBins() + binIndex[i]
	}
	return global, nil
}

// BinIndices converts a global index back to per-axis bin indices.
func (d *Data) BinIndices(index int) ([]int, error) {
	if index < 0 || index >= d.nbins {
		return nil, fmt.Errorf("binned: global index %d out of range", index)
	}
	out := make([]int, len(d.axes))
	for i := len(d.axes) - 1; i >= 0; i-- {
		n := d.axes[i].NBins()
		out[i] = index % n
		index /= n
	}
	return out, nil
}

// BinCenters returns the center of the bin on each axis.
func (d *Data) BinCenters(index int) ([]float64, error) {
	bins, err := d.BinIndices(index)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(bins))
	for i, b := range bins {
		out[i] = d.axes[i].BinCenter(b)
	}
	return out, nil
}

// BinWidths returns the width of the bin on each axis.
func (d *Data) BinWidths(index int) ([]float64, error) {
	bins, err := d.BinIndices(index)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(bins))
	for i, b := range bins {
		out[i] = d.axes[i].BinWidth(b)
	}
	return out, nil
}

// HasData reports whether the bin with the given global index carries data.
func (d *Data) HasData(index int) bool {
	_, ok := d.offsets[index]
	return ok
}

// OffsetForIndex returns the dense offset of a bin with data.
func (d *Data) OffsetForIndex(index int) (int, error) {
	off, ok := d.offsets[index]
	if !ok {
		return -1, fmt.Errorf("%w: index %d", ErrNoData, index)
	}
	return off, nil
}

// SetData sets the value of a bin, adding it to the data-bearing set if new.
func (d *Data) SetData(index int, value float64) error {
	if d.finalized {
		return ErrFinalized
	}
	if index < 0 || index >= d.nbins {
		return fmt.Errorf("binned: global index %d out of range", index)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("binned: non-finite value for index %d", index)
	}
	if off, ok := d.offsets[index]; ok {
		d.values[off] = value
		return nil
	}
	d.offsets[index] = len(d.indices)
	d.indices = append(d.indices, index)
	d.values = append(d.values, value)
	d.chol = nil
	return nil
}

// Data returns the value of a bin with data.
func (d *Data) Data(index int) (float64, error) {
	off, err := d.OffsetForIndex(index)
	if err != nil {
		return 0, err
	}
	return d.values[off], nil
}

// SetCovariance sets the (symmetric) covariance between two bins with data.
func (d *Data) SetCovariance(index1, index2 int, value float64) error {
	if d.finalized {
		return ErrFinalized
	}
	o1, err := d.OffsetForIndex(index1)
	if err != nil {
		return err
	}
	o2, err := d.OffsetForIndex(index2)
	if err != nil {
		return err
	}
	if o1 == o2 && !(value > 0) {
		return fmt.Errorf("binned: variance of index %d must be > 0, got %g", index1, value)
	}
	d.cov[newCovKey(o1, o2)] = value
	d.chol = nil
	return nil
}

// Covariance returns the covariance between two bins with data.
func (d *Data) Covariance(index1, index2 int) (float64, error) {
	o1, err := d.OffsetForIndex(index1)
	if err != nil {
		return 0, err
	}
	o2, err := d.OffsetForIndex(index2)
	if err != nil {
		return 0, err
	}
	return d.cov[newCovKey(o1, o2)], nil
}

// Error returns the square root of a bin's variance.
func (d *Data) Error(index int) (float64, error) {
	v, err := d.Covariance(index, index)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

// Prune drops every bin with data whose global index is not in keep. The
// relative order of the remaining bins is preserved.
func (d *Data) Prune(keep map[int]bool) error {
	if d.finalized {
		return ErrFinalized
	}
	remap := make(map[int]int, len(keep))
	var indices []int
	var values []float64
	for off, index := range d.indices {
		if !keep[index] {
			continue
		}
		remap[off] = len(indices)
		indices = append(indices, index)
		values = append(values, d.values[off])
	}
	cov := make(map[covKey]float64, len(d.cov))
	for k, v := range d.cov {
		lo, okLo := remap[k.lo]
		hi, okHi := remap[k.hi]
		if okLo && okHi {
			cov[newCovKey(lo, hi)] = v
		}
	}
	d.offsets = make(map[int]int, len(indices))
	for off, index := range indices {
		d.offsets[index] = off
	}
	d.indices, d.values, d.cov = indices, values, cov
	d.chol = nil
	return nil
}

// Finalize factorizes the covariance and freezes the container. A container
// with no bins finalizes to an empty data vector.
func (d *Data) Finalize() error {
	if d.finalized {
		return ErrFinalized
	}
	if err := d.factorize(); err != nil {
		return err
	}
	d.finalized = true
	return nil
}

func (d *Data) factorize() error {
	if d.chol != nil {
		return nil
	}
	n := len(d.indices)
	if n == 0 {
		return nil
	}
	sym := mat.NewSymDense(n, nil)
	for k, v := range d.cov {
		sym.SetSym(k.lo, k.hi, v)
	}
	for i := 0; i < n; i++ {
		if !(sym.At(i, i) > 0) {
			return fmt.Errorf("binned: bin %d has no variance", d.indices[i])
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return errors.New("binned: covariance is not positive definite")
	}
	d.chol = &chol
	return nil
}

// ChiSquare returns (data-pred)^T C^-1 (data-pred), where pred is aligned
// with Indices().
func (d *Data) ChiSquare(pred []float64) (float64, error) {
	if len(pred) != len(d.values) {
		return 0, fmt.Errorf("binned: prediction has %d values, want %d", len(pred), len(d.values))
	}
	if len(pred) == 0 {
		return 0, nil
	}
	if err := d.factorize(); err != nil {
		return 0, err
	}
	diff := make([]float64, len(pred))
	floats.SubTo(diff, d.values, pred)
	resid := mat.NewVecDense(len(diff), diff)
	var x mat.VecDense
	if err := d.chol.SolveVecTo(&x, resid); err != nil {
		return 0, fmt.Errorf("binned: chi-square solve: %w", err)
	}
	return mat.Dot(resid, &x), nil
}

// Clone returns a deep copy, or when binningOnly is set, an empty container
// sharing the same axes.
func (d *Data) Clone(binningOnly bool) *Data {
	c := &Data{
		axes:    d.axes,
		nbins:   d.nbins,
		offsets: make(map[int]int),
		cov:     make(map[covKey]float64),
	}
	if binningOnly {
		return c
	}
	for k, v := range d.offsets {
		c.offsets[k] = v
	}
	for k, v := range d.cov {
		c.cov[k] = v
	}
	c.indices = append([]int(nil), d.indices...)
	c.values = append([]float64(nil), d.values...)
	c.finalized = d.finalized
	return c
}
