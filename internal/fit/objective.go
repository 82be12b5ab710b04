// Package fit combines a correlation model with binned correlation data into
// the chi-square objective driven by the minimizer.
package fit

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/baofit/internal/correlation"
	"github.com/banshee-data/baofit/internal/fitmodel"
	"github.com/banshee-data/baofit/internal/minimize"
	"github.com/banshee-data/baofit/internal/monitoring"
)

var (
	// ErrNoData is returned when the data has no bins to fit.
	ErrNoData = errors.New("fit: no data to fit")

	// ErrNoModel is returned when no model is supplied.
	ErrNoModel = errors.New("fit: no model to fit")

	// ErrErrorScale is returned for a non-positive error scale.
	ErrErrorScale = errors.New("fit: error scale must be > 0")
)

// Objective is the negative log-likelihood of a model given correlation data:
// (chi2/2 + prior) / errorScale. It is not safe for concurrent use.
type Objective struct {
	data       correlation.Data
	model      *correlation.Model
	errorScale float64
}

// NewObjective binds data and model with an error scale of 1.
func NewObjective(data correlation.Data, model *correlation.Model) (*Objective, error) {
	if data == nil || data.NBinsWithData() == 0 {
		return nil, ErrNoData
	}
	if model == nil {
		return nil, ErrNoModel
	}
	return &Objective{data: data, model: model, errorScale: 1}, nil
}

// SetErrorScale divides the objective by scale, so that the minimizer's
// unit-error contour corresponds to a change of scale in chi2/2.
func (o *Objective) SetErrorScale(scale float64) error {
	if !(scale > 0) {
		return fmt.Errorf("%w: got %g", ErrErrorScale, scale)
	}
	o.errorScale = scale
	return nil
}

func (o *Objective) ErrorScale() float64 { return o.errorScale }

// Predict returns the model prediction for every data-bearing bin, in the
// order of the data's Indices.
func (o *Objective) Predict(params []float64) ([]float64, error) {
	if n := o.model.NParameters(); len(params) != n {
		return nil, fmt.Errorf("%w: got %d parameters, model has %d", fitmodel.ErrSizeMismatch, len(params), n)
	}
	indices := o.data.Indices()
	pred := make([]float64, 0, len(indices))
	for _, index := range indices {
		v, err := o.predictBin(index, params)
		if err != nil {
			return nil, fmt.Errorf("fit: predict index %d: %w", index, err)
		}
		pred = append(pred, v)
	}
	return pred, nil
}

func (o *Objective) predictBin(index int, params []float64) (float64, error) {
	r, err := o.data.Radius(index)
	if err != nil {
		return 0, err
	}
	z, err := o.data.Redshift(index)
	if err != nil {
		return 0, err
	}
	switch o.data.BinningType() {
	case correlation.MultipoleBinning:
		ell, err := o.data.Multipole(index)
		if err != nil {
			return 0, err
		}
		return o.model.EvaluateMultipole(r, ell, z, params)
	default:
		mu, err := o.data.CosAngle(index)
		if err != nil {
			return 0, err
		}
		return o.model.Evaluate(r, mu, z, params)
	}
}

// Evaluate returns the objective for a full parameter vector. A prediction
// that is not finite yields +Inf rather than an error.
func (o *Objective) Evaluate(params []float64) (float64, error) {
	pred, err := o.Predict(params)
	if err != nil {
		return 0, err
	}
	for _, p := range pred {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return math.Inf(1), nil
		}
	}
	chi2, err := o.data.ChiSquare(pred)
	if err != nil {
		return 0, err
	}
	return (0.5*chi2 + o.model.EvaluatePrior(params)) / o.errorScale, nil
}

// Fit minimizes the objective starting from the model's current parameter
// state. method and config are passed through to the minimizer.
func (o *Objective) Fit(method, config string) (*minimize.FunctionMinimum, error) {
	monitoring.Logf("fit: minimizing %q over %d bins with method %q", o.model.Name(), o.data.NBinsWithData(), method)
	fmin, err := o.model.FindMinimum(o.Evaluate, method, config)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("fit: %s finished with status %s, minimum %g after %d evaluations",
		fmin.Method, fmin.Status, fmin.MinValue, fmin.Evaluations)
	return fmin, nil
}
