package fitmodel

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

func newTestModel(t *testing.T) *Model {
	t.Helper()
	m := New("test")
	for _, p := range []struct {
		name       string
		value, err float64
	}{
		{"x", 0, 1},
		{"y", 0, 0.5},
		{"z", 3, 0.1},
	} {
		if _, err := m.DefineParameter(p.name, p.value, p.err); err != nil {
			t.Fatalf("DefineParameter(%q): %v", p.name, err)
		}
	}
	return m
}

func TestDefineParameter(t *testing.T) {
	m := New("test")
	idx, err := m.DefineParameter("a", 1, 0.1)
	if err != nil || idx != 0 {
		t.Fatalf("first define = %d, %v", idx, err)
	}
	idx, err = m.DefineParameter("b", 2, 0.2)
	if err != nil || idx != 1 {
		t.Fatalf("second define = %d, %v", idx, err)
	}

	tests := []struct {
		name  string
		param string
		err   float64
	}{
		{"duplicate", "a", 0.1},
		{"empty name", "", 0.1},
		{"negative error", "c", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.DefineParameter(tt.param, 0, tt.err); err == nil {
				t.Error("expected error")
			}
		})
	}
	if m.NParameters() != 2 {
		t.Errorf("failed definitions changed the parameter count to %d", m.NParameters())
	}

	m.Freeze()
	if _, err := m.DefineParameter("late", 0, 1); !errors.Is(err, ErrFrozen) {
		t.Errorf("define after Freeze = %v, want ErrFrozen", err)
	}
}

func TestParameterLookup(t *testing.T) {
	m := newTestModel(t)
	idx, err := m.ParameterIndex("z")
	if err != nil || idx != 2 {
		t.Fatalf("ParameterIndex(z) = %d, %v", idx, err)
	}
	if m.ParameterName(idx) != "z" || m.ParameterValue(idx) != 3 {
		t.Errorf("parameter 2 = %s=%g", m.ParameterName(idx), m.ParameterValue(idx))
	}
	if _, err := m.ParameterIndex("nope"); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("ParameterIndex(nope) = %v, want ErrUnknownParameter", err)
	}
	if err := m.SetParameterValue("nope", 1); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("SetParameterValue(nope) = %v, want ErrUnknownParameter", err)
	}

	params := m.Parameters()
	params[0].Value = 99
	if m.ParameterValue(0) == 99 {
		t.Error("Parameters() must return a copy")
	}
}

func TestUpdateParameterValuesChangedFlags(t *testing.T) {
	m := newTestModel(t)

	// Newly defined parameters start out changed.
	changed, err := m.UpdateParameterValues([]float64{0, 0, 3})
	if err != nil || !changed {
		t.Fatalf("first update = %v, %v; want true, nil", changed, err)
	}
	m.ResetParameterValuesChanged()

	changed, err = m.UpdateParameterValues([]float64{0, 0, 3})
	if err != nil || changed {
		t.Fatalf("identical update = %v, %v; want false, nil", changed, err)
	}

	changed, err = m.UpdateParameterValues([]float64{0, 1, 3})
	if err != nil || !changed {
		t.Fatalf("changed update = %v, %v; want true, nil", changed, err)
	}
	if m.IsParameterValueChanged(0) || !m.IsParameterValueChanged(1) || m.IsParameterValueChanged(2) {
		t.Error("only parameter 1 should be flagged")
	}

	// Flags persist until reset, even when the next update is identical.
	changed, _ = m.UpdateParameterValues([]float64{0, 1, 3})
	if !changed {
		t.Error("flags must survive until ResetParameterValuesChanged")
	}

	if _, err := m.UpdateParameterValues([]float64{1, 2}); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("short vector = %v, want ErrSizeMismatch", err)
	}
}

func TestEvaluatePrior(t *testing.T) {
	m := newTestModel(t)
	if got := m.EvaluatePrior([]float64{5, 5, 5}); got != 0 {
		t.Errorf("no priors: got %g, want 0", got)
	}
	if err := m.SetPrior("x", 1, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := m.SetPrior("y", 0, 0); err == nil {
		t.Error("zero prior width should fail")
	}
	// pull = (2-1)/0.5 = 2
	if got := m.EvaluatePrior([]float64{2, 5, 5}); got != 2 {
		t.Errorf("EvaluatePrior = %g, want 2", got)
	}
}

func TestConfigureFitParameters(t *testing.T) {
	m := newTestModel(t)
	script := "value[x]=1.5; error[y]=0.25; fix[z]=4; prior[x]=1,0.5 ;fix[y]; release[y]"
	if err := m.ConfigureFitParameters(script); err != nil {
		t.Fatalf("ConfigureFitParameters: %v", err)
	}
	params := m.Parameters()
	if params[0].Value != 1.5 || params[0].Prior == nil || params[0].Prior.Center != 1 || params[0].Prior.Width != 0.5 {
		t.Errorf("x = %+v", params[0])
	}
	if params[1].Error != 0.25 || params[1].Fixed {
		t.Errorf("y = %+v", params[1])
	}
	if params[2].Value != 4 || !params[2].Fixed {
		t.Errorf("z = %+v", params[2])
	}

	bad := []string{
		"value[x]",
		"value[x]=abc",
		"scale[x]=2",
		"release[x]=1",
		"prior[x]=1",
		"fix x",
		"value[w]=1",
	}
	for _, s := range bad {
		t.Run(s, func(t *testing.T) {
			if err := m.ConfigureFitParameters(s); err == nil {
				t.Errorf("expected error for %q", s)
			}
		})
	}
	if err := m.ConfigureFitParameters("value[w]=1"); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("unknown name = %v, want ErrUnknownParameter", err)
	}
}

func TestPrintTo(t *testing.T) {
	m := newTestModel(t)
	_ = m.FixParameter("z")
	_ = m.SetPrior("x", 0, 1)
	var buf bytes.Buffer
	if err := m.PrintTo(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`Model "test"`, "NAME", "x", "y", "z", "fixed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFindMinimum(t *testing.T) {
	m := newTestModel(t)
	if err := m.FixParameter("z"); err != nil {
		t.Fatal(err)
	}
	// -log(L) of independent Gaussians: x = 1 +- 0.1, y = -2 +- 0.2.
	f := func(p []float64) (float64, error) {
		dx := (p[0] - 1) / 0.1
		dy := (p[1] + 2) / 0.2
		return 0.5 * (dx*dx + dy*dy), nil
	}
	fmin, err := m.FindMinimum(f, "nelder-mead", "")
	if err != nil {
		t.Fatalf("FindMinimum: %v", err)
	}
	if math.Abs(fmin.Values[0]-1) > 1e-3 || math.Abs(fmin.Values[1]+2) > 1e-3 {
		t.Errorf("minimum at %v, want [1 -2 3]", fmin.Values)
	}
	if fmin.Values[2] != 3 || fmin.Errors[2] != 0 || !fmin.Fixed[2] {
		t.Errorf("fixed parameter changed: value %g error %g", fmin.Values[2], fmin.Errors[2])
	}
	if math.Abs(fmin.Errors[0]-0.1) > 1e-3 || math.Abs(fmin.Errors[1]-0.2) > 1e-3 {
		t.Errorf("errors = %v, want [0.1 0.2 0]", fmin.Errors)
	}
}
