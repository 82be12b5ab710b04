// Package minimize adapts gonum's optimize package to the fitting driver:
// it varies only the floating parameters of a model, works in coordinates
// scaled by each parameter's error estimate, and estimates parameter errors
// from a finite-difference Hessian at the minimum.
package minimize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Function is an objective over the full parameter vector. It returns a
// -log(likelihood) style value.
type Function func(params []float64) (float64, error)

// Start describes the initial state of every parameter, fixed or floating.
type Start struct {
	Names  []string
	Values []float64
	Errors []float64
	Fixed  []bool
}

// FunctionMinimum is the result of a minimization.
type FunctionMinimum struct {
	Method      string
	Config      string
	Names       []string
	Values      []float64
	Errors      []float64
	Fixed       []bool
	MinValue    float64
	Evaluations int
	Status      string
	// Covariance of the floating parameters, in the order they appear in
	// Names. Nil when errors were not requested or the Hessian was not
	// positive definite.
	Covariance *mat.SymDense
}

// Settings holds the parsed engine configuration string.
type Settings struct {
	MaxFuncEvaluations int
	MaxIterations      int
	GradientThreshold  float64
	FunctionTolerance  float64
	Errors             bool
}

// DefaultSettings returns the settings used for keys absent from a config string.
func DefaultSettings() Settings {
	return Settings{
		MaxFuncEvaluations: 20000,
		GradientThreshold:  1e-6,
		FunctionTolerance:  1e-8,
		Errors:             true,
	}
}

// ParseConfig parses a comma-separated key=value list. Recognized keys are
// maxfev, maxiter, gtol, ftol and errors.
func ParseConfig(config string) (Settings, error) {
	s := DefaultSettings()
	for _, raw := range strings.Split(config, ",") {
		kv := strings.TrimSpace(raw)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return s, fmt.Errorf("minimize: invalid config entry %q: expected key=value", kv)
		}
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		var err error
		switch key {
		case "maxfev":
			s.MaxFuncEvaluations, err = strconv.Atoi(val)
		case "maxiter":
			s.MaxIterations, err = strconv.Atoi(val)
		case "gtol":
			s.GradientThreshold, err = strconv.ParseFloat(val, 64)
		case "ftol":
			s.FunctionTolerance, err = strconv.ParseFloat(val, 64)
		case "errors":
			s.Errors, err = strconv.ParseBool(val)
		default:
			return s, fmt.Errorf("minimize: unknown config key %q", key)
		}
		if err != nil {
			return s, fmt.Errorf("minimize: invalid value for %s: %w", key, err)
		}
	}
	return s, nil
}

// newMethod maps a method name onto a gonum optimize method.
func newMethod(name string) (optimize.Method, bool, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "nelder-mead", "simplex":
		return &optimize.NelderMead{SimplexSize: 1}, false, nil
	case "bfgs":
		return &optimize.BFGS{}, true, nil
	case "lbfgs":
		return &optimize.LBFGS{}, true, nil
	case "gradient-descent":
		return &optimize.GradientDescent{}, true, nil
	default:
		return nil, false, fmt.Errorf("minimize: unknown method %q", name)
	}
}

// FindMinimum minimizes f over the floating parameters described by start.
// An error returned by f stops the search and is returned to the caller.
func FindMinimum(f Function, start Start, method, config string) (*FunctionMinimum, error) {
	n := len(start.Values)
	if len(start.Names) != n || len(start.Errors) != n || len(start.Fixed) != n {
		return nil, errors.New("minimize: inconsistent start description")
	}
	settings, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	m, needsGrad, err := newMethod(method)
	if err != nil {
		return nil, err
	}

	var floating []int
	for i := 0; i < n; i++ {
		if !start.Fixed[i] {
			floating = append(floating, i)
		}
	}

	sp := newScaledProblem(f, start, floating)
	result := &FunctionMinimum{
		Method: method,
		Config: config,
		Names:  append([]string(nil), start.Names...),
		Fixed:  append([]bool(nil), start.Fixed...),
		Errors: make([]float64, n),
	}

	if len(floating) == 0 {
		v := sp.eval(nil)
		if sp.err != nil {
			return nil, sp.err
		}
		result.Values = append([]float64(nil), start.Values...)
		result.MinValue = v
		result.Evaluations = sp.evals
		result.Status = "NoFloatingParameters"
		return result, nil
	}

	problem := optimize.Problem{
		Func: sp.eval,
		Status: func() (optimize.Status, error) {
			if sp.err != nil {
				return optimize.Failure, sp.err
			}
			return optimize.NotTerminated, nil
		},
	}
	if needsGrad {
		problem.Grad = func(grad, u []float64) {
			fd.Gradient(grad, sp.eval, u, &fd.Settings{Formula: fd.Central, Step: 1e-4})
		}
	}
	opts := &optimize.Settings{
		FuncEvaluations:   settings.MaxFuncEvaluations,
		MajorIterations:   settings.MaxIterations,
		GradientThreshold: settings.GradientThreshold,
		Converger: &optimize.FunctionConverge{
			Absolute:   settings.FunctionTolerance,
			Iterations: 100,
		},
	}

	res, err := optimize.Minimize(problem, make([]float64, len(floating)), opts, m)
	if sp.err != nil {
		return nil, fmt.Errorf("minimize: objective failed: %w", sp.err)
	}
	if err != nil && res == nil {
		return nil, fmt.Errorf("minimize: %w", err)
	}

	result.Values = sp.expand(res.X)
	result.MinValue = res.F
	result.Status = res.Status.String()
	if err != nil {
		result.Status = fmt.Sprintf("%s (%v)", result.Status, err)
	}

	if settings.Errors {
		cov, ok := sp.covariance(res.X)
		if sp.err != nil {
			return nil, fmt.Errorf("minimize: objective failed: %w", sp.err)
		}
		for i := range result.Errors {
			result.Errors[i] = 0
		}
		if ok {
			result.Covariance = cov
			for k, idx := range floating {
				result.Errors[idx] = math.Sqrt(cov.At(k, k))
			}
		} else {
			for _, idx := range floating {
				result.Errors[idx] = math.NaN()
			}
		}
	}
	result.Evaluations = sp.evals
	return result, nil
}

// scaledProblem maps scaled floating coordinates u onto full parameter
// vectors: x[idx] = x0[idx] + scale[idx]*u[k].
type scaledProblem struct {
	f        Function
	start    Start
	floating []int
	scale    []float64
	buf      []float64
	evals    int
	err      error
}

func newScaledProblem(f Function, start Start, floating []int) *scaledProblem {
	scale := make([]float64, len(floating))
	for k, idx := range floating {
		s := start.Errors[idx]
		if !(s > 0) {
			s = 1
		}
		scale[k] = s
	}
	return &scaledProblem{
		f:        f,
		start:    start,
		floating: floating,
		scale:    scale,
		buf:      make([]float64, len(start.Values)),
	}
}

func (sp *scaledProblem) expand(u []float64) []float64 {
	x := append([]float64(nil), sp.start.Values...)
	for k, idx := range sp.floating {
		x[idx] += sp.scale[k] * u[k]
	}
	return x
}

func (sp *scaledProblem) eval(u []float64) float64 {
	if sp.err != nil {
		return math.Inf(1)
	}
	copy(sp.buf, sp.start.Values)
	for k, idx := range sp.floating {
		sp.buf[idx] += sp.scale[k] * u[k]
	}
	sp.evals++
	v, err := sp.f(sp.buf)
	if err != nil {
		sp.err = err
		return math.Inf(1)
	}
	return v
}

// covariance inverts the Hessian of f at u and converts it back to
// unscaled parameter units.
func (sp *scaledProblem) covariance(u []float64) (*mat.SymDense, bool) {
	k := len(sp.floating)
	hess := mat.NewSymDense(k, nil)
	fd.Hessian(hess, sp.eval, u, &fd.Settings{Step: 1e-3})
	if sp.err != nil {
		return nil, false
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(hess); !ok {
		return nil, false
	}
	inv := mat.NewSymDense(k, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, false
	}
	cov := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			cov.SetSym(i, j, sp.scale[i]*sp.scale[j]*inv.At(i, j))
		}
	}
	return cov, true
}
