package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/baofit/internal/correlation"
	"github.com/banshee-data/baofit/internal/cosmology"
)

const multipoleJSON = `{
  "binning": "multipole",
  "axes": [
    {"edges": [50, 90, 130]},
    {"centers": [0, 2]},
    {"centers": [2.25]}
  ],
  "bins": [
    {"bin": [0, 0, 0], "value": 0.02, "error": 0.002},
    {"bin": [1, 0, 0], "value": 0.01, "error": 0.001},
    {"bin": [1, 1, 0], "value": -0.004}
  ],
  "covariance": [
    {"i": 2, "j": 2, "value": 1e-6},
    {"i": 0, "j": 1, "value": 5e-7}
  ]
}`

func testOptions(t *testing.T) Options {
	t.Helper()
	c, err := cosmology.NewFlatLambdaCDM(0.27)
	require.NoError(t, err)
	return Options{RMin: 0, RMax: 200, Cosmology: c}
}

func TestDecodeMultipole(t *testing.T) {
	data, err := Decode(strings.NewReader(multipoleJSON), Options{})
	require.NoError(t, err)
	require.Equal(t, correlation.MultipoleBinning, data.BinningType())
	assert.Equal(t, []int{0, 2, 3}, data.Indices())

	v, err := data.Value(3)
	require.NoError(t, err)
	assert.Equal(t, -0.004, v)
	e, err := data.Error(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.002, e, 1e-15)
	e, err = data.Error(3)
	require.NoError(t, err)
	assert.InDelta(t, 1e-3, e, 1e-15)

	md := data.(*correlation.MultipoleData)
	c, err := md.Covariance(2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5e-7, c)

	require.NoError(t, data.Finalize())
	r, err := data.Radius(3)
	require.NoError(t, err)
	assert.Equal(t, 110.0, r)
	ell, err := data.Multipole(3)
	require.NoError(t, err)
	assert.Equal(t, correlation.Quadrupole, ell)
}

func TestDecodeCoordinate(t *testing.T) {
	in := `{
	  "axes": [
	    {"min": 0, "max": 0.02, "n": 2},
	    {"min": 0, "max": 60, "n": 3},
	    {"centers": [2.25]}
	  ],
	  "bins": [{"bin": [1, 2, 0], "value": 0.001, "error": 0.0005}]
	}`
	data, err := Decode(strings.NewReader(in), testOptions(t))
	require.NoError(t, err)
	assert.Equal(t, correlation.CoordinateBinning, data.BinningType())
	assert.Equal(t, []int{5}, data.Indices())
	require.NoError(t, data.Finalize())
	_, err = data.CosAngle(5)
	assert.NoError(t, err)
}

func TestDecodeErrors(t *testing.T) {
	axes := `"axes": [{"edges": [50, 90]}, {"centers": [0]}, {"centers": [2.25]}]`
	tests := []struct {
		name string
		in   string
		opts Options
		want string
	}{
		{"not json", `{`, Options{}, "parse"},
		{"unknown field", `{"binning": "multipole", "extra": 1, ` + axes + `}`, Options{}, "unknown field"},
		{"unknown binning", `{"binning": "wedges", ` + axes + `}`, Options{}, "unknown binning"},
		{"two axes", `{"binning": "multipole", "axes": [{"edges": [0, 1]}, {"centers": [0]}]}`, Options{}, "3 axes"},
		{"mixed axis", `{"binning": "multipole", "axes": [{"edges": [0, 1], "n": 2}, {"centers": [0]}, {"centers": [1]}]}`, Options{}, "exactly one"},
		{"partial uniform", `{"binning": "multipole", "axes": [{"min": 0, "n": 2}, {"centers": [0]}, {"centers": [1]}]}`, Options{}, "min, max and n"},
		{"bad edges", `{"binning": "multipole", "axes": [{"edges": [1, 0]}, {"centers": [0]}, {"centers": [1]}]}`, Options{}, "axis 0"},
		{"bin out of range", `{"binning": "multipole", ` + axes + `, "bins": [{"bin": [1, 0, 0], "value": 1}]}`, Options{}, "bin 0"},
		{"duplicate bin", `{"binning": "multipole", ` + axes + `, "bins": [{"bin": [0, 0, 0], "value": 1}, {"bin": [0, 0, 0], "value": 2}]}`, Options{}, "duplicate"},
		{"zero error", `{"binning": "multipole", ` + axes + `, "bins": [{"bin": [0, 0, 0], "value": 1, "error": 0}]}`, Options{}, "variance"},
		{"covariance position", `{"binning": "multipole", ` + axes + `, "bins": [{"bin": [0, 0, 0], "value": 1}], "covariance": [{"i": 0, "j": 1, "value": 1}]}`, Options{}, "out of range"},
		{"coordinate without cuts", `{` + axes + `}`, Options{}, "rmin < rmax"},
		{"coordinate without cosmology", `{` + axes + `}`, Options{RMax: 200}, "cosmology"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.in), tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xi.json")
	require.NoError(t, os.WriteFile(path, []byte(multipoleJSON), 0o644))

	data, err := Load(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, data.NBinsWithData())

	txt := filepath.Join(dir, "xi.txt")
	require.NoError(t, os.WriteFile(txt, []byte(multipoleJSON), 0o644))
	_, err = Load(txt, Options{})
	assert.ErrorContains(t, err, ".json extension")

	_, err = Load(filepath.Join(dir, "missing.json"), Options{})
	assert.ErrorContains(t, err, "stat")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"binning": 3}`), 0o644))
	_, err = Load(bad, Options{})
	assert.ErrorContains(t, err, bad)
}
