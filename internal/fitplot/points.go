// Package fitplot draws binned correlation data against a model prediction,
// as a PNG with gonum/plot or as an interactive HTML page with go-echarts.
// Values are shown weighted by r^2 so the BAO feature stands out.
package fitplot

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/baofit/internal/correlation"
)

// Point is one data-bearing bin with its prediction.
type Point struct {
	Index      int
	R, Z       float64
	Group      string
	Value      float64
	Error      float64
	Prediction float64
}

// muWedges split coordinate-binned data by |mu|.
var muWedges = []struct {
	max   float64
	label string
}{
	{0.5, "0.0 <= mu < 0.5"},
	{0.8, "0.5 <= mu < 0.8"},
	{math.Inf(1), "0.8 <= mu <= 1.0"},
}

func wedge(mu float64) string {
	mu = math.Abs(mu)
	for _, w := range muWedges {
		if mu < w.max {
			return w.label
		}
	}
	return muWedges[len(muWedges)-1].label
}

// Points pairs every data-bearing bin with pred, which must be aligned with
// data.Indices(). Multipole data is grouped by multipole and coordinate data
// by wedges of mu.
func Points(data correlation.Data, pred []float64) ([]Point, error) {
	indices := data.Indices()
	if len(pred) != len(indices) {
		return nil, fmt.Errorf("fitplot: got %d predictions for %d bins", len(pred), len(indices))
	}
	points := make([]Point, 0, len(indices))
	for k, index := range indices {
		p := Point{Index: index, Prediction: pred[k]}
		var err error
		if p.R, err = data.Radius(index); err != nil {
			return nil, err
		}
		if p.Z, err = data.Redshift(index); err != nil {
			return nil, err
		}
		if p.Value, err = data.Value(index); err != nil {
			return nil, err
		}
		if p.Error, err = data.Error(index); err != nil {
			return nil, err
		}
		switch data.BinningType() {
		case correlation.MultipoleBinning:
			ell, err := data.Multipole(index)
			if err != nil {
				return nil, err
			}
			p.Group = ell.String()
		default:
			mu, err := data.CosAngle(index)
			if err != nil {
				return nil, err
			}
			p.Group = wedge(mu)
		}
		points = append(points, p)
	}
	return points, nil
}

// group is the points of one series, sorted by r.
type group struct {
	name   string
	points []Point
}

func groupPoints(points []Point) []group {
	byName := make(map[string][]Point)
	var names []string
	for _, p := range points {
		if _, ok := byName[p.Group]; !ok {
			names = append(names, p.Group)
		}
		byName[p.Group] = append(byName[p.Group], p)
	}
	sort.Strings(names)
	groups := make([]group, 0, len(names))
	for _, name := range names {
		ps := byName[name]
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].R < ps[j].R })
		groups = append(groups, group{name: name, points: ps})
	}
	return groups
}

func weight(r float64) float64 { return r * r }
