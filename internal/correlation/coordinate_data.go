package correlation

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/baofit/internal/binned"
	"github.com/banshee-data/baofit/internal/cosmology"
	"github.com/banshee-data/baofit/internal/monitoring"
)

const arcminToRad = math.Pi / 10800

// CoordinateData is binned in (ll, sep, z): the log of the wavelength ratio
// of the pair, their angular separation in arcmin and the mean redshift.
type CoordinateData struct {
	*binned.Data

	rmin, rmax, llmin float64
	cosmology         cosmology.Distances

	cache coordCache

	// Filled at Finalize, indexed by offset.
	rLookup, muLookup, zLookup []float64
}

// NewCoordinateData creates an empty container. Finalize keeps bins with
// rmin <= r < rmax and ll >= llmin.
func NewCoordinateData(axes []binned.Binning, rmin, rmax, llmin float64, distances cosmology.Distances) (*CoordinateData, error) {
	if err := checkAxes("coordinate", axes); err != nil {
		return nil, err
	}
	if rmin >= rmax {
		return nil, fmt.Errorf("correlation: expected rmin < rmax, got %g >= %g", rmin, rmax)
	}
	if distances == nil {
		return nil, errors.New("correlation: coordinate data needs a cosmology")
	}
	data, err := binned.New(axes...)
	if err != nil {
		return nil, err
	}
	return &CoordinateData{
		Data:      data,
		rmin:      rmin,
		rmax:      rmax,
		llmin:     llmin,
		cosmology: distances,
		cache:     newCoordCache(),
	}, nil
}

func (d *CoordinateData) BinningType() BinningType { return CoordinateBinning }

func (d *CoordinateData) Value(index int) (float64, error) { return d.Data.Data(index) }

// Transform converts a bin center (ll, sep, z) with separation bin width dsep
// into a comoving separation r in Mpc/h and mu = |r_parallel|/r.
func (d *CoordinateData) Transform(ll, sep, dsep, z float64) (r, mu float64) {
	ratio, zp1 := math.Exp(0.5*ll), z+1
	z1, z2 := zp1/ratio-1, zp1*ratio-1
	drLos := d.cosmology.LineOfSightComovingDistance(z2) - d.cosmology.LineOfSightComovingDistance(z1)
	// Geometrically weighted mean separation of the bin:
	// Integral[s^2,{s,smin,smax}]/Integral[s,{s,smin,smax}] = s + dsep^2/(12*s)
	swgt := sep + (dsep*dsep/12)/sep
	drPerp := d.cosmology.TransverseComovingScale(z) * (swgt * arcminToRad)
	r = math.Sqrt(drLos*drLos + drPerp*drPerp)
	mu = math.Abs(drLos) / r
	return r, mu
}

func (d *CoordinateData) setIndex(index int) error {
	if d.cache.matches(index) {
		return nil
	}
	centers, err := d.BinCenters(index)
	if err != nil {
		return err
	}
	widths, err := d.BinWidths(index)
	if err != nil {
		return err
	}
	entry := coordCache{index: index, ll: centers[0], z: centers[2]}
	entry.r, entry.mu = d.Transform(centers[0], centers[1], widths[1], centers[2])
	d.cache.store(entry)
	return nil
}

func (d *CoordinateData) lookup(index int, values []float64) (float64, error) {
	off, err := d.OffsetForIndex(index)
	if err != nil {
		return 0, err
	}
	return values[off], nil
}

func (d *CoordinateData) Radius(index int) (float64, error) {
	if d.IsFinalized() {
		return d.lookup(index, d.rLookup)
	}
	if err := d.setIndex(index); err != nil {
		return 0, err
	}
	return d.cache.r, nil
}

func (d *CoordinateData) CosAngle(index int) (float64, error) {
	if d.IsFinalized() {
		return d.lookup(index, d.muLookup)
	}
	if err := d.setIndex(index); err != nil {
		return 0, err
	}
	return d.cache.mu, nil
}

func (d *CoordinateData) Redshift(index int) (float64, error) {
	if d.IsFinalized() {
		return d.lookup(index, d.zLookup)
	}
	if err := d.setIndex(index); err != nil {
		return 0, err
	}
	return d.cache.z, nil
}

func (d *CoordinateData) Multipole(int) (Multipole, error) {
	return Monopole, ErrWrongBinning
}

// Finalize applies the physical cuts, caches (r, mu, z) of the retained bins
// and finalizes the underlying data. On error the container is unchanged.
func (d *CoordinateData) Finalize() error {
	if d.IsFinalized() {
		return binned.ErrFinalized
	}
	keep := make(map[int]bool)
	var rs, mus, zs []float64
	for _, index := range d.Indices() {
		if err := d.setIndex(index); err != nil {
			return err
		}
		c := d.cache
		if c.r >= d.rmin && c.r < d.rmax && c.ll >= d.llmin {
			keep[index] = true
			rs = append(rs, c.r)
			mus = append(mus, c.mu)
			zs = append(zs, c.z)
		}
	}
	pruned := d.Data.Clone(false)
	if err := pruned.Prune(keep); err != nil {
		return err
	}
	if err := pruned.Finalize(); err != nil {
		return err
	}
	monitoring.Logf("correlation: finalized coordinate data, kept %d of %d bins (%g <= r < %g, ll >= %g)",
		len(rs), d.NBinsWithData(), d.rmin, d.rmax, d.llmin)
	d.Data = pruned
	d.rLookup, d.muLookup, d.zLookup = rs, mus, zs
	d.cache.reset()
	return nil
}

// Clone returns a deep copy, or an empty container with the same binning and
// cuts when binningOnly is set.
func (d *CoordinateData) Clone(binningOnly bool) *CoordinateData {
	c := &CoordinateData{
		Data:      d.Data.Clone(binningOnly),
		rmin:      d.rmin,
		rmax:      d.rmax,
		llmin:     d.llmin,
		cosmology: d.cosmology,
		cache:     newCoordCache(),
	}
	if !binningOnly {
		c.rLookup = append([]float64(nil), d.rLookup...)
		c.muLookup = append([]float64(nil), d.muLookup...)
		c.zLookup = append([]float64(nil), d.zLookup...)
	}
	return c
}
