// Package dataset reads binned correlation measurements from JSON files.
//
// A dataset file looks like:
//
//	{
//	  "binning": "coordinate",
//	  "axes": [
//	    {"min": 0, "max": 0.02, "n": 4},
//	    {"edges": [0, 10, 20, 40]},
//	    {"centers": [2.25]}
//	  ],
//	  "bins": [{"bin": [0, 1, 0], "value": 0.011, "error": 0.002}],
//	  "covariance": [{"i": 0, "j": 0, "value": 4e-6}]
//	}
//
// Covariance entries address bins by their position in "bins" and override
// any variance implied by a bin's "error".
package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/baofit/internal/binned"
	"github.com/banshee-data/baofit/internal/correlation"
	"github.com/banshee-data/baofit/internal/cosmology"
	"github.com/banshee-data/baofit/internal/monitoring"
)

// MaxFileSize bounds the size of a dataset file.
const MaxFileSize = 64 * 1024 * 1024

// Options carry the cuts and cosmology of coordinate-binned data. They are
// ignored for multipole data.
type Options struct {
	RMin, RMax, LLMin float64
	Cosmology         cosmology.Distances
}

type axisSpec struct {
	Min     *float64  `json:"min,omitempty"`
	Max     *float64  `json:"max,omitempty"`
	N       *int      `json:"n,omitempty"`
	Edges   []float64 `json:"edges,omitempty"`
	Centers []float64 `json:"centers,omitempty"`
}

type binSpec struct {
	Bin   []int    `json:"bin"`
	Value float64  `json:"value"`
	Error *float64 `json:"error,omitempty"`
}

type covSpec struct {
	I     int     `json:"i"`
	J     int     `json:"j"`
	Value float64 `json:"value"`
}

type file struct {
	Binning    string     `json:"binning"`
	Axes       []axisSpec `json:"axes"`
	Bins       []binSpec  `json:"bins"`
	Covariance []covSpec  `json:"covariance"`
}

// Load reads a .json dataset file. The returned data is not finalized.
func Load(path string, opts Options) (correlation.Data, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("dataset file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat dataset file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("dataset file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer f.Close()

	data, err := Decode(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	monitoring.Logf("dataset: loaded %d %s bins from %s", data.NBinsWithData(), data.BinningType(), cleanPath)
	return data, nil
}

// Decode reads a dataset from r. The returned data is not finalized.
func Decode(r io.Reader, opts Options) (correlation.Data, error) {
	var in file
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to parse dataset JSON: %w", err)
	}

	axes := make([]binned.Binning, len(in.Axes))
	for i, spec := range in.Axes {
		b, err := spec.binning()
		if err != nil {
			return nil, fmt.Errorf("axis %d: %w", i, err)
		}
		axes[i] = b
	}

	switch in.Binning {
	case "", "coordinate":
		d, err := correlation.NewCoordinateData(axes, opts.RMin, opts.RMax, opts.LLMin, opts.Cosmology)
		if err != nil {
			return nil, err
		}
		if err := fill(d.Data, in); err != nil {
			return nil, err
		}
		return d, nil
	case "multipole":
		d, err := correlation.NewMultipoleData(axes)
		if err != nil {
			return nil, err
		}
		if err := fill(d.Data, in); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown binning %q (want coordinate or multipole)", in.Binning)
	}
}

func (s axisSpec) binning() (binned.Binning, error) {
	uniform := s.Min != nil || s.Max != nil || s.N != nil
	kinds := 0
	for _, set := range []bool{uniform, s.Edges != nil, s.Centers != nil} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return nil, fmt.Errorf("expected exactly one of min/max/n, edges or centers")
	}
	switch {
	case uniform:
		if s.Min == nil || s.Max == nil || s.N == nil {
			return nil, fmt.Errorf("uniform axis needs min, max and n")
		}
		return binned.NewUniformBinning(*s.Min, *s.Max, *s.N)
	case s.Edges != nil:
		return binned.NewVariableBinning(s.Edges)
	default:
		return binned.NewSampling(s.Centers)
	}
}

func fill(d *binned.Data, in file) error {
	indices := make([]int, len(in.Bins))
	for k, b := range in.Bins {
		index, err := d.GlobalIndex(b.Bin...)
		if err != nil {
			return fmt.Errorf("bin %d: %w", k, err)
		}
		if d.HasData(index) {
			return fmt.Errorf("bin %d: duplicate bin %v", k, b.Bin)
		}
		if err := d.SetData(index, b.Value); err != nil {
			return fmt.Errorf("bin %d: %w", k, err)
		}
		if b.Error != nil {
			e := *b.Error
			if err := d.SetCovariance(index, index, e*e); err != nil {
				return fmt.Errorf("bin %d: %w", k, err)
			}
		}
		indices[k] = index
	}
	for k, c := range in.Covariance {
		if c.I < 0 || c.I >= len(indices) || c.J < 0 || c.J >= len(indices) {
			return fmt.Errorf("covariance %d: bin position out of range (%d, %d)", k, c.I, c.J)
		}
		if err := d.SetCovariance(indices[c.I], indices[c.J], c.Value); err != nil {
			return fmt.Errorf("covariance %d: %w", k, err)
		}
	}
	return nil
}
