package correlation

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/baofit/internal/fitmodel"
)

// legendreModel is c0 + c2 P2(mu) + c4 P4(mu), so its multipoles are the
// coefficients themselves.
type legendreModel struct {
	*Model
	calls, changedCalls int
}

func newLegendreModel(t *testing.T) *legendreModel {
	t.Helper()
	m := &legendreModel{Model: NewModel("legendre")}
	for _, name := range []string{"c0", "c2", "c4"} {
		_, err := m.DefineParameter(name, 0, 1)
		require.NoError(t, err)
	}
	m.Freeze()
	m.Bind(m)
	return m
}

func (m *legendreModel) EvaluateRMuZ(r, mu, z float64, anyChanged bool) float64 {
	m.calls++
	if anyChanged {
		m.changedCalls++
	}
	return m.ParameterValue(0) + m.ParameterValue(1)*Legendre(Quadrupole, mu) + m.ParameterValue(2)*Legendre(Hexadecapole, mu)
}

func TestEvaluateMultipoleProjection(t *testing.T) {
	m := newLegendreModel(t)
	params := []float64{0.7, -1.3, 0.25}
	for i, ell := range []Multipole{Monopole, Quadrupole, Hexadecapole} {
		got, err := m.EvaluateMultipole(50, ell, 2, params)
		require.NoError(t, err)
		assert.InDelta(t, params[i], got, 1e-12, "ell=%d", ell)
	}

	// Only the first sample of a projection sees the changed flag.
	m.calls, m.changedCalls = 0, 0
	_, err := m.EvaluateMultipole(50, Monopole, 2, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 1, m.changedCalls)
	assert.Equal(t, 1+projectionPoints, m.calls)

	_, err = m.EvaluateMultipole(50, Multipole(1), 2, params)
	assert.ErrorIs(t, err, ErrInvalidMultipole)
}

func TestEvaluateResetsChangedFlags(t *testing.T) {
	m := newLegendreModel(t)
	v, err := m.Evaluate(10, 1, 2, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 6, v, 1e-12)
	assert.Equal(t, 1, m.changedCalls)
	for i := 0; i < m.NParameters(); i++ {
		assert.False(t, m.IsParameterValueChanged(i))
	}

	_, err = m.Evaluate(10, 0.5, 2, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 1, m.changedCalls, "unchanged parameters must not be flagged")

	_, err = m.Evaluate(10, 0.5, 2, []float64{1, 2})
	assert.ErrorIs(t, err, fitmodel.ErrSizeMismatch)
}

func TestEvaluateWithoutEvaluator(t *testing.T) {
	m := NewModel("bare")
	_, err := m.Evaluate(1, 0, 0, nil)
	assert.Error(t, err)
	_, err = m.EvaluateMultipole(1, Monopole, 0, nil)
	assert.Error(t, err)
}

func TestDefineLinearBiasParameters(t *testing.T) {
	single := NewModel("single")
	last, err := single.DefineLinearBiasParameters(2.25, false)
	require.NoError(t, err)
	assert.Equal(t, 3, last)
	assert.Equal(t, SingleTracer, single.TracerMode())
	assert.False(t, single.HasVelocityShift())
	assert.Equal(t, 2.25, single.ZRef())

	_, err = single.DefineLinearBiasParameters(2.25, false)
	assert.ErrorIs(t, err, ErrBiasDefined)

	cross := NewModel("cross")
	_, err = cross.DefineParameter("r0", 10, 1)
	require.NoError(t, err)
	last, err = cross.DefineLinearBiasParameters(2, true)
	require.NoError(t, err)
	assert.Equal(t, 7, last)
	assert.Equal(t, 8, cross.NParameters())
	assert.Equal(t, CrossTracer, cross.TracerMode())
	assert.True(t, cross.HasVelocityShift())
	idx, err := cross.ParameterIndex("delta-v")
	require.NoError(t, err)
	assert.Equal(t, 5, idx)

	_, err = NewModel("neg").DefineLinearBiasParameters(-1, false)
	assert.Error(t, err)

	clash := NewModel("clash")
	_, err = clash.DefineParameter("beta", 1, 1)
	require.NoError(t, err)
	_, err = clash.DefineLinearBiasParameters(2, false)
	assert.Error(t, err)
	assert.Equal(t, 1, clash.NParameters(), "a failed definition must not add parameters")
}

func TestNormFactor(t *testing.T) {
	m := NewModel("norm")
	_, err := m.NormFactor(Monopole, 2)
	assert.ErrorIs(t, err, ErrBiasUndefined)

	_, err = m.DefineLinearBiasParameters(2, false)
	require.NoError(t, err)

	bias := -0.336 / 2.4
	beta := 1.4
	b2 := bias * bias
	want := map[Multipole]float64{
		Monopole:     b2 * (1 + (2./3.)*beta + (1./5.)*beta*beta),
		Quadrupole:   b2 * ((4./3.)*beta + (4./7.)*beta*beta),
		Hexadecapole: b2 * (8. / 35.) * beta * beta,
	}
	for ell, w := range want {
		got, err := m.NormFactor(ell, 2)
		require.NoError(t, err)
		assert.InDelta(t, w, got, 1e-12, "ell=%d", ell)
	}
	got, _ := m.NormFactor(Monopole, 2)
	assert.InDelta(t, 0.045577, got, 1e-6)

	// gamma-bias = 3.8 scales bias^2 away from zref; gamma-beta = 0 keeps beta.
	z := 3.0
	evolved, err := m.NormFactor(Monopole, z)
	require.NoError(t, err)
	assert.InEpsilon(t, want[Monopole]*math.Pow(4.0/3.0, 3.8), evolved, 1e-12)

	_, err = m.NormFactor(Multipole(3), 2)
	assert.ErrorIs(t, err, ErrInvalidMultipole)
}

func TestNormFactorCross(t *testing.T) {
	m := NewModel("cross")
	_, err := m.DefineLinearBiasParameters(2, true)
	require.NoError(t, err)
	for name, v := range map[string]float64{
		"beta":          1.2,
		"(1+beta)*bias": -0.33,
		"gamma-bias":    3.8,
		"gamma-beta":    0.5,
		"bias2":         2,
		"beta2*bias2":   0.8,
	} {
		require.NoError(t, m.SetParameterValue(name, v), name)
	}

	// beta2 = beta2*bias2/bias2 and bias = -0.33/2.2, evolved from zref = 2 to z = 2.5.
	beta, beta2 := 1.2, 0.4
	bias, bias2 := -0.33/2.2, 2.0
	scale := 3.5 / 3.0
	biasSq := bias * bias2 * math.Pow(scale, 3.8)
	betaAvg := (beta + beta2) / 2 * math.Pow(scale, 0.5)
	betaProd := beta * beta2 * math.Pow(scale, 1.0)
	want := map[Multipole]float64{
		Monopole:     biasSq * (1 + (2./3.)*betaAvg + (1./5.)*betaProd),
		Quadrupole:   biasSq * ((4./3.)*betaAvg + (4./7.)*betaProd),
		Hexadecapole: biasSq * (8. / 35.) * betaProd,
	}
	for ell, w := range want {
		got, err := m.NormFactor(ell, 2.5)
		require.NoError(t, err)
		assert.InDelta(t, w, got, 1e-12, "ell=%d", ell)
	}

	got, err := m.NormFactor(Monopole, 2.5)
	require.NoError(t, err)
	assert.InDelta(t, -0.90972, got, 1e-5)
	got, err = m.NormFactor(Quadrupole, 2.5)
	require.NoError(t, err)
	assert.InDelta(t, -0.79335, got, 1e-5)
	got, err = m.NormFactor(Hexadecapole, 2.5)
	require.NoError(t, err)
	assert.InDelta(t, -0.06898, got, 1e-5)
}

func TestRedshiftEvolution(t *testing.T) {
	assert.Equal(t, 2.0, RedshiftEvolution(2, 3.8, 2.25, 2.25))
	assert.InDelta(t, 4.0, RedshiftEvolution(1, 2, 3, 1), 1e-12)
}

func TestVelocityShift(t *testing.T) {
	r, mu := VelocityShift(80, 0.3, 2, 0)
	assert.Equal(t, 80.0, r)
	assert.Equal(t, 0.3, mu)

	z, dv := 0.0, 100.0
	// At z = 0 the conversion is dv/100 Mpc/h.
	r, mu = VelocityShift(100, 0, z, dv)
	assert.InDelta(t, math.Sqrt(100*100+1), r, 1e-9)
	assert.InDelta(t, 1/r, mu, 1e-12)

	// A purely line-of-sight separation is shifted along the line of sight.
	r, mu = VelocityShift(50, 1, z, dv)
	assert.InDelta(t, 51, r, 1e-12)
	assert.InDelta(t, 1, mu, 1e-12)

	// Shifting a pair onto itself leaves zero separation and a finite mu.
	r, mu = VelocityShift(1, -1, z, dv)
	assert.Equal(t, 0.0, r)
	assert.Equal(t, -1.0, mu)
}

func TestModelPrintTo(t *testing.T) {
	m := NewModel("printer")
	_, err := m.DefineLinearBiasParameters(2.25, false)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, m.PrintTo(&buf))
	assert.Contains(t, buf.String(), "(1+beta)*bias")
	assert.Contains(t, buf.String(), "Reference redshift = 2.25")
}

func TestPowerLawModel(t *testing.T) {
	m, err := NewPowerLawModel(2.25, false)
	require.NoError(t, err)
	assert.Equal(t, 8, m.NParameters())
	for _, name := range []string{"r0", "xi-gamma", "BAO amplitude", "BAO alpha"} {
		_, err := m.ParameterIndex(name)
		assert.NoError(t, err, name)
	}
	_, err = m.DefineParameter("late", 0, 1)
	assert.True(t, errors.Is(err, fitmodel.ErrFrozen))

	_, err = NewPowerLawModel(2.25, false, WithPeak(0, 10))
	assert.Error(t, err)

	// The analytic multipoles agree with the projection of EvaluateRMuZ.
	params := m.Values()
	for _, ell := range []Multipole{Monopole, Quadrupole, Hexadecapole} {
		for _, r := range []float64{30, 105, 150} {
			analytic, err := m.EvaluateMultipole(r, ell, 2.5, params)
			require.NoError(t, err)
			projected := projectMultipole(func(mu float64) float64 {
				return m.EvaluateRMuZ(r, mu, 2.5, false)
			}, ell)
			assert.InDelta(t, analytic, projected, 1e-12*math.Max(1, math.Abs(analytic)), "ell=%d r=%g", ell, r)
		}
	}

	// The monopole is the power law plus the BAO peak, times N0.
	n0, err := m.NormFactor(Monopole, 2.25)
	require.NoError(t, err)
	xi0, err := m.EvaluateMultipole(105, Monopole, 2.25, params)
	require.NoError(t, err)
	assert.InEpsilon(t, n0*(math.Pow(105.0/10, -1.8)+0.005), xi0, 1e-12)
}

func TestPowerLawCrossWithoutShift(t *testing.T) {
	m, err := NewPowerLawModel(2.25, true, WithPeak(100, 8))
	require.NoError(t, err)
	assert.Equal(t, 11, m.NParameters())
	require.True(t, m.HasVelocityShift())

	// delta-v = 0: the projection path reproduces the analytic multipoles.
	params := m.Values()
	for _, ell := range []Multipole{Monopole, Quadrupole, Hexadecapole} {
		got, err := m.EvaluateMultipole(90, ell, 2, params)
		require.NoError(t, err)
		want := m.EvaluateRMultipoleZ(90, ell, 2, true)
		assert.InDelta(t, want, got, 1e-12*math.Max(1, math.Abs(want)), "ell=%d", ell)
	}

	// A non-zero shift changes the prediction.
	dv, err := m.ParameterIndex("delta-v")
	require.NoError(t, err)
	shifted := append([]float64(nil), params...)
	shifted[dv] = 300
	base, err := m.Evaluate(90, 0.5, 2, params)
	require.NoError(t, err)
	moved, err := m.Evaluate(90, 0.5, 2, shifted)
	require.NoError(t, err)
	assert.NotEqual(t, base, moved)
}
