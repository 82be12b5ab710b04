package correlation

import (
	"fmt"
	"math"
)

const (
	// DefaultPeakScale is the comoving BAO peak position in Mpc/h.
	DefaultPeakScale = 105.0
	// DefaultPeakWidth is the Gaussian width of the BAO peak in Mpc/h.
	DefaultPeakWidth = 10.0
)

type powerLawParams struct {
	peakScale float64
	peakWidth float64
}

// PowerLawOption configures a PowerLawModel.
type PowerLawOption func(*powerLawParams)

// WithPeak sets the BAO peak position and width in Mpc/h.
func WithPeak(scale, width float64) PowerLawOption {
	return func(p *powerLawParams) {
		p.peakScale = scale
		p.peakWidth = width
	}
}

// PowerLawModel is a linear-theory redshift-space model of a power-law
// real-space correlation function (r/r0)^-gamma with a Gaussian BAO peak
// added to the monopole at alpha*r. The multipoles follow Hamilton (1992):
//
//	xi0 = N0 (xi + peak)
//	xi2 = N2 (xi - xibar)          = -N2 gamma/(3-gamma) xi
//	xi4 = N4 (xi + 5/2 xibar - 7/2 xibarbar)
//
// where N_ell are the bias normalization factors of the base Model.
type PowerLawModel struct {
	*Model

	peakScale, peakWidth float64
	r0Index, gammaIndex  int
	ampIndex, alphaIndex int

	// Normalization factors cached for one redshift.
	normValid bool
	normZ     float64
	norm      [3]float64
}

// NewPowerLawModel builds the model with its linear bias block defined at
// zref, followed by r0, xi-gamma, BAO amplitude and BAO alpha.
func NewPowerLawModel(zref float64, cross bool, opts ...PowerLawOption) (*PowerLawModel, error) {
	p := powerLawParams{peakScale: DefaultPeakScale, peakWidth: DefaultPeakWidth}
	for _, opt := range opts {
		opt(&p)
	}
	if !(p.peakScale > 0) || !(p.peakWidth > 0) {
		return nil, fmt.Errorf("correlation: BAO peak scale and width must be > 0, got %g, %g", p.peakScale, p.peakWidth)
	}

	m := &PowerLawModel{
		Model:     NewModel("PowerLawModel"),
		peakScale: p.peakScale,
		peakWidth: p.peakWidth,
	}
	if _, err := m.DefineLinearBiasParameters(zref, cross); err != nil {
		return nil, err
	}
	defs := []struct {
		name        string
		value, step float64
		index       *int
	}{
		{"r0", 10, 1, &m.r0Index},
		{"xi-gamma", 1.8, 0.1, &m.gammaIndex},
		{"BAO amplitude", 0.005, 0.002, &m.ampIndex},
		{"BAO alpha", 1, 0.05, &m.alphaIndex},
	}
	for _, d := range defs {
		idx, err := m.DefineParameter(d.name, d.value, d.step)
		if err != nil {
			return nil, err
		}
		*d.index = idx
	}
	m.Freeze()
	m.Bind(m)
	return m, nil
}

// multipoles returns (xi0, xi2, xi4) at (r, z).
func (m *PowerLawModel) multipoles(r, z float64, anyChanged bool) [3]float64 {
	if anyChanged || !m.normValid || z != m.normZ {
		m.norm[0] = m.normFactor(Monopole, z)
		m.norm[1] = m.normFactor(Quadrupole, z)
		m.norm[2] = m.normFactor(Hexadecapole, z)
		m.normZ = z
		m.normValid = true
	}
	r0 := m.ParameterValue(m.r0Index)
	gamma := m.ParameterValue(m.gammaIndex)
	amp := m.ParameterValue(m.ampIndex)
	alpha := m.ParameterValue(m.alphaIndex)

	xi := math.Pow(r/r0, -gamma)
	d := (alpha*r - m.peakScale) / m.peakWidth
	peak := amp * math.Exp(-0.5*d*d)

	return [3]float64{
		m.norm[0] * (xi + peak),
		m.norm[1] * (-gamma / (3 - gamma)) * xi,
		m.norm[2] * (gamma * (2 + gamma) / ((3 - gamma) * (5 - gamma))) * xi,
	}
}

func (m *PowerLawModel) EvaluateRMuZ(r, mu, z float64, anyChanged bool) float64 {
	xi := m.multipoles(r, z, anyChanged)
	return xi[0] + xi[1]*Legendre(Quadrupole, mu) + xi[2]*Legendre(Hexadecapole, mu)
}

func (m *PowerLawModel) EvaluateRMultipoleZ(r float64, ell Multipole, z float64, anyChanged bool) float64 {
	return m.multipoles(r, z, anyChanged)[int(ell)/2]
}
