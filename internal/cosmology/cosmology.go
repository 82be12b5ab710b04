// Package cosmology provides the comoving distance functions used to map
// observed pair separations onto comoving separations.
package cosmology

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

// HubbleDistance is c/H0 in Mpc/h.
const HubbleDistance = 2997.92458

// Distances maps redshift to comoving distances in Mpc/h.
type Distances interface {
	// LineOfSightComovingDistance is the comoving distance to redshift z.
	LineOfSightComovingDistance(z float64) float64
	// TransverseComovingScale converts an angle in radians at redshift z to a
	// transverse comoving separation.
	TransverseComovingScale(z float64) float64
}

// quadraturePoints is enough for sub-ppm accuracy on 0 < z < 10.
const quadraturePoints = 64

// FlatLambdaCDM is a spatially flat matter + cosmological constant model.
type FlatLambdaCDM struct {
	omegaMatter float64
}

// NewFlatLambdaCDM returns a flat model with OmegaLambda = 1 - omegaMatter.
func NewFlatLambdaCDM(omegaMatter float64) (*FlatLambdaCDM, error) {
	if !(omegaMatter > 0 && omegaMatter <= 1) {
		return nil, fmt.Errorf("cosmology: omega_matter must be in (0,1], got %g", omegaMatter)
	}
	return &FlatLambdaCDM{omegaMatter: omegaMatter}, nil
}

// OmegaMatter returns the present matter density parameter.
func (c *FlatLambdaCDM) OmegaMatter() float64 { return c.omegaMatter }

// HubbleRatio returns H(z)/H0.
func (c *FlatLambdaCDM) HubbleRatio(z float64) float64 {
	zp1 := 1 + z
	return math.Sqrt(c.omegaMatter*zp1*zp1*zp1 + (1 - c.omegaMatter))
}

func (c *FlatLambdaCDM) LineOfSightComovingDistance(z float64) float64 {
	if z == 0 {
		return 0
	}
	integrand := func(zz float64) float64 { return 1 / c.HubbleRatio(zz) }
	if z < 0 {
		return -HubbleDistance * quad.Fixed(integrand, z, 0, quadraturePoints, quad.Legendre{}, 0)
	}
	return HubbleDistance * quad.Fixed(integrand, 0, z, quadraturePoints, quad.Legendre{}, 0)
}

// TransverseComovingScale equals the line-of-sight comoving distance in a
// flat universe.
func (c *FlatLambdaCDM) TransverseComovingScale(z float64) float64 {
	return c.LineOfSightComovingDistance(z)
}
