// Package fitmodel provides the parameterized model base shared by all fit
// models: a named, ordered set of parameters with values, error estimates,
// optional Gaussian priors and per-parameter "changed" tracking so that
// concrete models can cache partial results between evaluations.
package fitmodel

import (
	"errors"
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/banshee-data/baofit/internal/minimize"
)

var (
	// ErrSizeMismatch is returned when a parameter vector does not match the
	// number of defined parameters.
	ErrSizeMismatch = errors.New("fitmodel: parameter vector size mismatch")

	// ErrUnknownParameter is returned when a parameter name is not defined.
	ErrUnknownParameter = errors.New("fitmodel: unknown parameter")

	// ErrFrozen is returned when a parameter is defined after the definition
	// phase has ended.
	ErrFrozen = errors.New("fitmodel: parameter definitions are frozen")
)

// Prior is a Gaussian constraint on a single parameter value.
type Prior struct {
	Center float64
	Width  float64
}

// Parameter describes one fit parameter.
type Parameter struct {
	Name  string
	Value float64
	// Error is the initial error estimate, also used as the minimizer step size.
	Error float64
	Fixed bool
	Prior *Prior

	changed bool
}

// Model owns an ordered parameter set. It is not safe for concurrent use:
// values and changed flags are updated in place on every evaluation.
type Model struct {
	name   string
	params []Parameter
	index  map[string]int
	frozen bool
}

// New creates an empty model with the given name.
func New(name string) *Model {
	return &Model{name: name, index: make(map[string]int)}
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// DefineParameter appends a new floating parameter and returns its index.
// Indices are assigned in definition order and never reused.
func (m *Model) DefineParameter(name string, value, errorEstimate float64) (int, error) {
	if m.frozen {
		return -1, fmt.Errorf("%w: cannot define %q", ErrFrozen, name)
	}
	if name == "" {
		return -1, fmt.Errorf("fitmodel: parameter name must not be empty")
	}
	if _, ok := m.index[name]; ok {
		return -1, fmt.Errorf("fitmodel: parameter %q already defined", name)
	}
	if errorEstimate < 0 {
		return -1, fmt.Errorf("fitmodel: parameter %q error must be >= 0, got %g", name, errorEstimate)
	}
	idx := len(m.params)
	m.params = append(m.params, Parameter{Name: name, Value: value, Error: errorEstimate, changed: true})
	m.index[name] = idx
	return idx, nil
}

// Freeze ends the definition phase. Parameter count and order are fixed
// afterwards.
func (m *Model) Freeze() { m.frozen = true }

// NParameters returns the number of defined parameters.
func (m *Model) NParameters() int { return len(m.params) }

// ParameterIndex returns the index of the named parameter.
func (m *Model) ParameterIndex(name string) (int, error) {
	idx, ok := m.index[name]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return idx, nil
}

// ParameterValue returns the current value of parameter i. It panics if i is
// out of range, like a slice index.
func (m *Model) ParameterValue(i int) float64 { return m.params[i].Value }

// ParameterName returns the name of parameter i.
func (m *Model) ParameterName(i int) string { return m.params[i].Name }

// Parameters returns a copy of the parameter set.
func (m *Model) Parameters() []Parameter {
	out := make([]Parameter, len(m.params))
	copy(out, m.params)
	for i := range out {
		if out[i].Prior != nil {
			p := *out[i].Prior
			out[i].Prior = &p
		}
	}
	return out
}

// Values returns the current parameter values in index order.
func (m *Model) Values() []float64 {
	out := make([]float64, len(m.params))
	for i, p := range m.params {
		out[i] = p.Value
	}
	return out
}

// UpdateParameterValues copies values into the model, flagging every
// parameter whose value differs. It reports whether any parameter is flagged
// as changed since the last reset.
func (m *Model) UpdateParameterValues(values []float64) (bool, error) {
	if len(values) != len(m.params) {
		return false, fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, len(values), len(m.params))
	}
	anyChanged := false
	for i, v := range values {
		p := &m.params[i]
		if v != p.Value {
			p.Value = v
			p.changed = true
		}
		if p.changed {
			anyChanged = true
		}
	}
	return anyChanged, nil
}

// IsParameterValueChanged reports whether parameter i changed since the last
// reset.
func (m *Model) IsParameterValueChanged(i int) bool { return m.params[i].changed }

// ResetParameterValuesChanged clears all changed flags.
func (m *Model) ResetParameterValuesChanged() {
	for i := range m.params {
		m.params[i].changed = false
	}
}

func (m *Model) lookup(name string) (*Parameter, error) {
	idx, err := m.ParameterIndex(name)
	if err != nil {
		return nil, err
	}
	return &m.params[idx], nil
}

// SetParameterValue sets the named parameter's value.
func (m *Model) SetParameterValue(name string, value float64) error {
	p, err := m.lookup(name)
	if err != nil {
		return err
	}
	if value != p.Value {
		p.Value = value
		p.changed = true
	}
	return nil
}

// SetParameterError sets the named parameter's error estimate.
func (m *Model) SetParameterError(name string, errorEstimate float64) error {
	if errorEstimate < 0 {
		return fmt.Errorf("fitmodel: parameter %q error must be >= 0, got %g", name, errorEstimate)
	}
	p, err := m.lookup(name)
	if err != nil {
		return err
	}
	p.Error = errorEstimate
	return nil
}

// FixParameter holds the named parameter constant during minimization.
func (m *Model) FixParameter(name string) error {
	p, err := m.lookup(name)
	if err != nil {
		return err
	}
	p.Fixed = true
	return nil
}

// ReleaseParameter lets the named parameter float during minimization.
func (m *Model) ReleaseParameter(name string) error {
	p, err := m.lookup(name)
	if err != nil {
		return err
	}
	p.Fixed = false
	return nil
}

// SetPrior attaches a Gaussian prior to the named parameter.
func (m *Model) SetPrior(name string, center, width float64) error {
	if !(width > 0) {
		return fmt.Errorf("fitmodel: prior width for %q must be > 0, got %g", name, width)
	}
	p, err := m.lookup(name)
	if err != nil {
		return err
	}
	p.Prior = &Prior{Center: center, Width: width}
	return nil
}

// EvaluatePrior returns the -log(prior) contribution for values.
func (m *Model) EvaluatePrior(values []float64) float64 {
	var sum float64
	for i, p := range m.params {
		if p.Prior == nil || i >= len(values) {
			continue
		}
		pull := (values[i] - p.Prior.Center) / p.Prior.Width
		sum += 0.5 * pull * pull
	}
	return sum
}

// FindMinimum minimizes f starting from the current parameter values, varying
// only floating parameters. method and config are passed to the engine.
func (m *Model) FindMinimum(f minimize.Function, method, config string) (*minimize.FunctionMinimum, error) {
	start := minimize.Start{
		Names:  make([]string, len(m.params)),
		Values: make([]float64, len(m.params)),
		Errors: make([]float64, len(m.params)),
		Fixed:  make([]bool, len(m.params)),
	}
	for i, p := range m.params {
		start.Names[i] = p.Name
		start.Values[i] = p.Value
		start.Errors[i] = p.Error
		start.Fixed[i] = p.Fixed
	}
	return minimize.FindMinimum(f, start, method, config)
}

// PrintTo writes a table of the parameter set to w.
func (m *Model) PrintTo(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Model %q\n", m.name)
	fmt.Fprintln(tw, "IDX\tNAME\tVALUE\tERROR\tSTATE\tPRIOR")
	for i, p := range m.params {
		state := "floating"
		if p.Fixed {
			state = "fixed"
		}
		prior := "-"
		if p.Prior != nil {
			prior = fmt.Sprintf("%g +/- %g", p.Prior.Center, p.Prior.Width)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i, p.Name, formatFloat(p.Value), formatFloat(p.Error), state, prior)
	}
	return tw.Flush()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%.6g", v)
}
