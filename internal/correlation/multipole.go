package correlation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

// ErrInvalidMultipole is returned for a multipole code outside {0,2,4}.
var ErrInvalidMultipole = errors.New("correlation: invalid multipole value")

// Multipole is the order of a Legendre expansion term in mu.
type Multipole int

const (
	Monopole     Multipole = 0
	Quadrupole   Multipole = 2
	Hexadecapole Multipole = 4
)

func (ell Multipole) String() string {
	switch ell {
	case Monopole:
		return "monopole"
	case Quadrupole:
		return "quadrupole"
	case Hexadecapole:
		return "hexadecapole"
	default:
		return fmt.Sprintf("multipole(%d)", int(ell))
	}
}

// Valid reports whether ell is one of the supported orders.
func (ell Multipole) Valid() bool {
	return ell == Monopole || ell == Quadrupole || ell == Hexadecapole
}

// MultipoleFromCode rounds a binning-axis center to the nearest integer and
// maps it onto a supported multipole.
func MultipoleFromCode(code float64) (Multipole, error) {
	ell := Multipole(int(math.Floor(code + 0.5)))
	if !ell.Valid() {
		return Monopole, fmt.Errorf("%w: %g", ErrInvalidMultipole, code)
	}
	return ell, nil
}

// Legendre evaluates the Legendre polynomial of order ell at mu.
func Legendre(ell Multipole, mu float64) float64 {
	mu2 := mu * mu
	switch ell {
	case Monopole:
		return 1
	case Quadrupole:
		return (3*mu2 - 1) / 2
	case Hexadecapole:
		return (35*mu2*mu2 - 30*mu2 + 3) / 8
	default:
		return math.NaN()
	}
}

// projectionPoints is the Gauss-Legendre order of the mu integral. It
// integrates polynomials up to degree 2n-1 exactly.
const projectionPoints = 32

// projectMultipole returns (2ell+1)/2 * Integral[f(mu) P_ell(mu), {mu,-1,1}].
func projectMultipole(f func(mu float64) float64, ell Multipole) float64 {
	integrand := func(mu float64) float64 { return f(mu) * Legendre(ell, mu) }
	norm := float64(2*int(ell)+1) / 2
	return norm * quad.Fixed(integrand, -1, 1, projectionPoints, quad.Legendre{}, 0)
}
