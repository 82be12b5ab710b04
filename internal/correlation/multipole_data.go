package correlation

import (
	"github.com/banshee-data/baofit/internal/binned"
	"github.com/banshee-data/baofit/internal/monitoring"
)

// MultipoleData is binned in (r, ell, z) with r in Mpc/h. The second axis
// carries multipole codes that are rounded to the nearest supported order.
// No physical cuts are applied at Finalize.
type MultipoleData struct {
	*binned.Data

	cache coordCache

	// Filled at Finalize, indexed by offset.
	rLookup, zLookup []float64
	ellLookup        []Multipole
}

// NewMultipoleData creates an empty container over (r, ell, z) axes.
func NewMultipoleData(axes []binned.Binning) (*MultipoleData, error) {
	if err := checkAxes("multipole", axes); err != nil {
		return nil, err
	}
	data, err := binned.New(axes...)
	if err != nil {
		return nil, err
	}
	return &MultipoleData{Data: data, cache: newCoordCache()}, nil
}

func (d *MultipoleData) BinningType() BinningType { return MultipoleBinning }

func (d *MultipoleData) Value(index int) (float64, error) { return d.Data.Data(index) }

func (d *MultipoleData) setIndex(index int) error {
	if d.cache.matches(index) {
		return nil
	}
	centers, err := d.BinCenters(index)
	if err != nil {
		return err
	}
	ell, err := MultipoleFromCode(centers[1])
	if err != nil {
		return err
	}
	d.cache.store(coordCache{index: index, r: centers[0], ell: ell, z: centers[2]})
	return nil
}

func (d *MultipoleData) Radius(index int) (float64, error) {
	if d.IsFinalized() {
		off, err := d.OffsetForIndex(index)
		if err != nil {
			return 0, err
		}
		return d.rLookup[off], nil
	}
	if err := d.setIndex(index); err != nil {
		return 0, err
	}
	return d.cache.r, nil
}

func (d *MultipoleData) Redshift(index int) (float64, error) {
	if d.IsFinalized() {
		off, err := d.OffsetForIndex(index)
		if err != nil {
			return 0, err
		}
		return d.zLookup[off], nil
	}
	if err := d.setIndex(index); err != nil {
		return 0, err
	}
	return d.cache.z, nil
}

func (d *MultipoleData) Multipole(index int) (Multipole, error) {
	if d.IsFinalized() {
		off, err := d.OffsetForIndex(index)
		if err != nil {
			return Monopole, err
		}
		return d.ellLookup[off], nil
	}
	if err := d.setIndex(index); err != nil {
		return Monopole, err
	}
	return d.cache.ell, nil
}

func (d *MultipoleData) CosAngle(int) (float64, error) {
	return 0, ErrWrongBinning
}

// Finalize validates every multipole code, caches (r, ell, z) and finalizes
// the underlying data. On error the container is unchanged.
func (d *MultipoleData) Finalize() error {
	if d.IsFinalized() {
		return binned.ErrFinalized
	}
	indices := d.Indices()
	rs := make([]float64, 0, len(indices))
	zs := make([]float64, 0, len(indices))
	ells := make([]Multipole, 0, len(indices))
	for _, index := range indices {
		if err := d.setIndex(index); err != nil {
			return err
		}
		rs = append(rs, d.cache.r)
		zs = append(zs, d.cache.z)
		ells = append(ells, d.cache.ell)
	}
	if err := d.Data.Finalize(); err != nil {
		return err
	}
	monitoring.Logf("correlation: finalized multipole data with %d bins", len(indices))
	d.rLookup, d.zLookup, d.ellLookup = rs, zs, ells
	d.cache.reset()
	return nil
}

// Clone returns a deep copy, or an empty container with the same binning
// when binningOnly is set.
func (d *MultipoleData) Clone(binningOnly bool) *MultipoleData {
	c := &MultipoleData{Data: d.Data.Clone(binningOnly), cache: newCoordCache()}
	if !binningOnly {
		c.rLookup = append([]float64(nil), d.rLookup...)
		c.zLookup = append([]float64(nil), d.zLookup...)
		c.ellLookup = append([]Multipole(nil), d.ellLookup...)
	}
	return c
}
