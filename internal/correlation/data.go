package correlation

import (
	"errors"
	"fmt"

	"github.com/banshee-data/baofit/internal/binned"
)

// ErrWrongBinning is returned when a coordinate is requested that the data's
// binning mode does not provide.
var ErrWrongBinning = errors.New("correlation: coordinate not available for this binning type")

// BinningType selects how the second binning axis is interpreted.
type BinningType int

const (
	// CoordinateBinning bins carry a cosine of the angle to the line of sight.
	CoordinateBinning BinningType = iota
	// MultipoleBinning bins carry a multipole order.
	MultipoleBinning
)

func (t BinningType) String() string {
	if t == MultipoleBinning {
		return "multipole"
	}
	return "coordinate"
}

// Data is a binned correlation measurement whose bins map onto physical
// coordinates. Coordinate queries are not safe for concurrent use.
type Data interface {
	BinningType() BinningType
	// Indices returns the global indices of bins with data, in the order
	// ChiSquare expects predictions.
	Indices() []int
	NBinsWithData() int
	// Value and Error return the measurement of a bin with data and the
	// square root of its variance.
	Value(index int) (float64, error)
	Error(index int) (float64, error)
	Radius(index int) (float64, error)
	Redshift(index int) (float64, error)
	CosAngle(index int) (float64, error)
	Multipole(index int) (Multipole, error)
	ChiSquare(pred []float64) (float64, error)
	Finalize() error
	IsFinalized() bool
}

// coordCache remembers the physical coordinates of the last queried bin.
// It is valid only for the index it was stored with.
type coordCache struct {
	index int
	ll    float64
	r     float64
	mu    float64
	ell   Multipole
	z     float64
}

func newCoordCache() coordCache { return coordCache{index: -1} }

func (c *coordCache) matches(index int) bool { return c.index >= 0 && c.index == index }

func (c *coordCache) store(entry coordCache) { *c = entry }

func (c *coordCache) reset() { *c = newCoordCache() }

func checkAxes(kind string, axes []binned.Binning) error {
	if len(axes) != 3 {
		return fmt.Errorf("correlation: %s data expects 3 axes, got %d", kind, len(axes))
	}
	return nil
}
