// Package correlation implements the correlation-function models, the data
// containers that map observed bins onto physical coordinates, and the
// linear-bias bookkeeping they share.
package correlation

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/baofit/internal/fitmodel"
)

var (
	// ErrBiasDefined is returned when the linear bias block is defined twice.
	ErrBiasDefined = errors.New("correlation: linear bias parameters already defined")

	// ErrBiasUndefined is returned when a normalization is requested before
	// the linear bias block exists.
	ErrBiasUndefined = errors.New("correlation: no linear bias parameters defined")
)

// Evaluator is implemented by each physical model. anyChanged reports
// whether any parameter value changed since the previous evaluation, so an
// implementation may reuse results cached for the same (r, z).
type Evaluator interface {
	EvaluateRMuZ(r, mu, z float64, anyChanged bool) float64
}

// MultipoleEvaluator is implemented by models that compute multipoles
// directly instead of by numerical projection over mu.
type MultipoleEvaluator interface {
	EvaluateRMultipoleZ(r float64, ell Multipole, z float64, anyChanged bool) float64
}

// TracerMode selects the shape of the linear bias parameter block.
type TracerMode int

const (
	SingleTracer TracerMode = iota
	CrossTracer
)

func (t TracerMode) String() string {
	if t == CrossTracer {
		return "cross"
	}
	return "single"
}

// Offsets into the linear bias block.
const (
	offBeta = iota
	offBB
	offGammaBias
	offGammaBeta
	offDeltaV
	offBias2
	offBB2
)

type biasParameter struct {
	name        string
	value, step float64
}

// biasLayout is the fixed parameter block of one tracer mode.
type biasLayout struct {
	mode   TracerMode
	params []biasParameter
}

var (
	singleTracerLayout = biasLayout{
		mode: SingleTracer,
		params: []biasParameter{
			{"beta", 1.4, 0.1},
			{"(1+beta)*bias", -0.336, 0.03},
			{"gamma-bias", 3.8, 0.3},
			{"gamma-beta", 0, 0.1},
		},
	}
	// The second tracer is parameterized by bias2 and beta2*bias2 so the
	// latter maps directly onto the growth rate f when the second tracer is
	// galaxies or quasars.
	crossTracerLayout = biasLayout{
		mode: CrossTracer,
		params: append(append([]biasParameter(nil), singleTracerLayout.params...),
			biasParameter{"delta-v", 0, 10},
			biasParameter{"bias2", 1.4, 0.1},
			biasParameter{"beta2*bias2", -0.336, 0.03},
		),
	}
)

func layoutFor(cross bool) *biasLayout {
	if cross {
		return &crossTracerLayout
	}
	return &singleTracerLayout
}

// Model is the shared base of correlation models: a parameter set, the
// linear bias block, redshift evolution and the optional line-of-sight
// velocity shift. A Model is not safe for concurrent use.
type Model struct {
	*fitmodel.Model

	impl      Evaluator
	zref      float64
	layout    *biasLayout
	indexBase int
	dvIndex   int
}

// NewModel creates a model base with no parameters.
func NewModel(name string) *Model {
	return &Model{
		Model:     fitmodel.New(name),
		indexBase: -1,
		dvIndex:   -1,
	}
}

// Bind attaches the physical model evaluated by Evaluate.
func (m *Model) Bind(impl Evaluator) { m.impl = impl }

// ZRef returns the reference redshift of the bias evolution.
func (m *Model) ZRef() float64 { return m.zref }

// TracerMode returns the bias block layout; SingleTracer until defined.
func (m *Model) TracerMode() TracerMode {
	if m.layout == nil {
		return SingleTracer
	}
	return m.layout.mode
}

// HasVelocityShift reports whether a delta-v parameter is defined.
func (m *Model) HasVelocityShift() bool { return m.dvIndex >= 0 }

// Evaluate returns the model at separation r, cosine mu of the angle to the
// line of sight and redshift z, for the parameter values params.
func (m *Model) Evaluate(r, mu, z float64, params []float64) (float64, error) {
	if m.impl == nil {
		return 0, fmt.Errorf("correlation: model %q has no evaluator", m.Name())
	}
	anyChanged, err := m.UpdateParameterValues(params)
	if err != nil {
		return 0, err
	}
	if m.dvIndex >= 0 {
		r, mu = VelocityShift(r, mu, z, m.ParameterValue(m.dvIndex))
	}
	result := m.impl.EvaluateRMuZ(r, mu, z, anyChanged)
	m.ResetParameterValuesChanged()
	return result, nil
}

// EvaluateMultipole returns the ell multipole of the model at (r, z). Models
// implementing MultipoleEvaluator are used directly unless a velocity shift
// is defined, which mixes multipoles and forces the numerical projection.
func (m *Model) EvaluateMultipole(r float64, ell Multipole, z float64, params []float64) (float64, error) {
	if m.impl == nil {
		return 0, fmt.Errorf("correlation: model %q has no evaluator", m.Name())
	}
	if !ell.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidMultipole, int(ell))
	}
	anyChanged, err := m.UpdateParameterValues(params)
	if err != nil {
		return 0, err
	}
	var result float64
	if me, ok := m.impl.(MultipoleEvaluator); ok && m.dvIndex < 0 {
		result = me.EvaluateRMultipoleZ(r, ell, z, anyChanged)
	} else {
		result = m.projectMultipole(r, ell, z, anyChanged)
	}
	m.ResetParameterValuesChanged()
	return result, nil
}

// projectMultipole integrates the (r,mu,z) evaluator against P_ell. The first
// call at mu=0 carries anyChanged so the evaluator can refresh its caches for
// (r, z); every integration sample is then evaluated with anyChanged=false.
func (m *Model) projectMultipole(r float64, ell Multipole, z float64, anyChanged bool) float64 {
	dv := 0.0
	shift := m.dvIndex >= 0
	if shift {
		dv = m.ParameterValue(m.dvIndex)
	}
	sample := func(mu float64, changed bool) float64 {
		rr, mm := r, mu
		if shift {
			rr, mm = VelocityShift(r, mu, z, dv)
		}
		return m.impl.EvaluateRMuZ(rr, mm, z, changed)
	}
	sample(0, anyChanged)
	return projectMultipole(func(mu float64) float64 { return sample(mu, false) }, ell)
}

// VelocityShift moves a pair separation (r, mu) at redshift z by a
// line-of-sight velocity offset dv in km/s, converted to Mpc/h using a flat
// cosmology with OmegaLambda = 0.73. A shift that brings the pair to zero
// separation keeps the original mu.
func VelocityShift(r, mu, z, dv float64) (float64, float64) {
	zp1 := 1 + z
	dpi := (dv / 100) * zp1 / math.Sqrt(0.73+0.27*zp1*zp1*zp1)
	if dpi == 0 {
		return r, mu
	}
	rnew := math.Sqrt(r*r + 2*r*mu*dpi + dpi*dpi)
	if rnew == 0 {
		return 0, mu
	}
	munew := (r*mu + dpi) / rnew
	return rnew, munew
}

// DefineLinearBiasParameters defines the linear bias block and returns the
// index of its last parameter. It may be called once per model.
func (m *Model) DefineLinearBiasParameters(zref float64, cross bool) (int, error) {
	if m.layout != nil {
		return -1, ErrBiasDefined
	}
	if zref < 0 {
		return -1, fmt.Errorf("correlation: expected zref >= 0, got %g", zref)
	}
	layout := layoutFor(cross)
	for _, p := range layout.params {
		if _, err := m.ParameterIndex(p.name); err == nil {
			return -1, fmt.Errorf("correlation: parameter %q already defined", p.name)
		}
	}
	base := m.NParameters()
	last := -1
	for _, p := range layout.params {
		idx, err := m.DefineParameter(p.name, p.value, p.step)
		if err != nil {
			return -1, err
		}
		last = idx
	}
	m.zref = zref
	m.layout = layout
	m.indexBase = base
	if layout.mode == CrossTracer {
		m.dvIndex = base + offDeltaV
	}
	return last, nil
}

// RedshiftEvolution scales p0 from zref to z as ((1+z)/(1+zref))^gamma.
func RedshiftEvolution(p0, gamma, z, zref float64) float64 {
	return p0 * math.Pow((1+z)/(1+zref), gamma)
}

// NormFactor returns the linear-theory normalization of the ell multipole
// at redshift z: the evolved bias squared times the Kaiser angular factor.
func (m *Model) NormFactor(ell Multipole, z float64) (float64, error) {
	if m.layout == nil {
		return 0, ErrBiasUndefined
	}
	if !ell.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidMultipole, int(ell))
	}
	return m.normFactor(ell, z), nil
}

// normFactor assumes the bias block is defined.
func (m *Model) normFactor(ell Multipole, z float64) float64 {
	beta := m.ParameterValue(m.indexBase + offBeta)
	bb := m.ParameterValue(m.indexBase + offBB)
	bias := bb / (1 + beta)

	// For cross correlations the linear and quadratic beta terms are
	// independent and the combined bias may be negative.
	var betaAvg, betaProd, biasSq float64
	if m.layout.mode == CrossTracer {
		bias2 := m.ParameterValue(m.indexBase + offBias2)
		bb2 := m.ParameterValue(m.indexBase + offBB2)
		beta2 := bb2 / bias2
		betaAvg = (beta + beta2) / 2
		betaProd = beta * beta2
		biasSq = bias * bias2
	} else {
		betaAvg = beta
		betaProd = beta * beta
		biasSq = bias * bias
	}

	gammaBias := m.ParameterValue(m.indexBase + offGammaBias)
	gammaBeta := m.ParameterValue(m.indexBase + offGammaBeta)
	biasSq = RedshiftEvolution(biasSq, gammaBias, z, m.zref)
	betaAvg = RedshiftEvolution(betaAvg, gammaBeta, z, m.zref)
	betaProd = RedshiftEvolution(betaProd, 2*gammaBeta, z, m.zref)

	switch ell {
	case Hexadecapole:
		return biasSq * betaProd * (8. / 35.)
	case Quadrupole:
		return biasSq * ((4./3.)*betaAvg + (4./7.)*betaProd)
	default:
		return biasSq * (1 + (2./3.)*betaAvg + (1./5.)*betaProd)
	}
}

// PrintTo writes the parameter table followed by the reference redshift.
func (m *Model) PrintTo(w io.Writer) error {
	if err := m.Model.PrintTo(w); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nReference redshift = %g\n", m.zref)
	return err
}
