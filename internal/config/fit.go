// Package config loads the JSON fit configuration used by cmd/baofit.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/baofit/internal/minimize"
)

// DefaultConfigPath is the path to the canonical fit defaults file.
const DefaultConfigPath = "config/fit.defaults.json"

// FitConfig is the root fit configuration. Every field is optional; the Get*
// accessors fall back to built-in defaults for omitted fields.
type FitConfig struct {
	// Model
	ZRef             *float64 `json:"zref,omitempty"`
	CrossCorrelation *bool    `json:"cross_correlation,omitempty"`
	BAOPeakScale     *float64 `json:"bao_peak_scale,omitempty"`
	BAOPeakWidth     *float64 `json:"bao_peak_width,omitempty"`
	ModelConfig      *string  `json:"model_config,omitempty"` // parameter script, e.g. "fix[beta]=1.2; prior[BAO alpha]=1,0.1"

	// Data cuts and cosmology
	RMin        *float64 `json:"rmin,omitempty"`
	RMax        *float64 `json:"rmax,omitempty"`
	LLMin       *float64 `json:"llmin,omitempty"`
	OmegaMatter *float64 `json:"omega_matter,omitempty"`

	// Minimizer
	Method       *string  `json:"method,omitempty"`
	MethodConfig *string  `json:"method_config,omitempty"`
	ErrorScale   *float64 `json:"error_scale,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// EmptyFitConfig returns a FitConfig with all fields set to nil.
func EmptyFitConfig() *FitConfig {
	return &FitConfig{}
}

// DefaultFitConfig returns a FitConfig with every field set to its default.
func DefaultFitConfig() *FitConfig {
	c := EmptyFitConfig()
	c.ZRef = ptrFloat64(c.GetZRef())
	c.CrossCorrelation = ptrBool(c.GetCrossCorrelation())
	c.BAOPeakScale = ptrFloat64(c.GetBAOPeakScale())
	c.BAOPeakWidth = ptrFloat64(c.GetBAOPeakWidth())
	c.ModelConfig = ptrString(c.GetModelConfig())
	c.RMin = ptrFloat64(c.GetRMin())
	c.RMax = ptrFloat64(c.GetRMax())
	c.LLMin = ptrFloat64(c.GetLLMin())
	c.OmegaMatter = ptrFloat64(c.GetOmegaMatter())
	c.Method = ptrString(c.GetMethod())
	c.MethodConfig = ptrString(c.GetMethodConfig())
	c.ErrorScale = ptrFloat64(c.GetErrorScale())
	return c
}

// LoadFitConfig loads a FitConfig from a JSON file with a .json extension
// and at most 1MB in size. Omitted fields keep their defaults.
func LoadFitConfig(path string) (*FitConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFitConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up to the repository root. Panics if the file cannot be loaded,
// intended for test setup.
func MustLoadDefaultConfig() *FitConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadFitConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *FitConfig) Validate() error {
	if c.ZRef != nil && *c.ZRef < 0 {
		return fmt.Errorf("zref must be non-negative, got %g", *c.ZRef)
	}
	if c.GetRMin() >= c.GetRMax() {
		return fmt.Errorf("rmin must be less than rmax, got %g >= %g", c.GetRMin(), c.GetRMax())
	}
	if om := c.GetOmegaMatter(); !(om > 0 && om <= 1) {
		return fmt.Errorf("omega_matter must be in (0, 1], got %g", om)
	}
	if s := c.GetErrorScale(); !(s > 0) {
		return fmt.Errorf("error_scale must be positive, got %g", s)
	}
	if c.GetBAOPeakScale() <= 0 || c.GetBAOPeakWidth() <= 0 {
		return fmt.Errorf("bao_peak_scale and bao_peak_width must be positive, got %g, %g",
			c.GetBAOPeakScale(), c.GetBAOPeakWidth())
	}
	if _, err := minimize.ParseConfig(c.GetMethodConfig()); err != nil {
		return fmt.Errorf("invalid method_config: %w", err)
	}
	return nil
}

// GetZRef returns the reference redshift of the bias evolution.
func (c *FitConfig) GetZRef() float64 {
	if c.ZRef == nil {
		return 2.25
	}
	return *c.ZRef
}

// GetCrossCorrelation returns whether the cross-tracer bias block is used.
func (c *FitConfig) GetCrossCorrelation() bool {
	if c.CrossCorrelation == nil {
		return false
	}
	return *c.CrossCorrelation
}

func (c *FitConfig) GetBAOPeakScale() float64 {
	if c.BAOPeakScale == nil {
		return 105
	}
	return *c.BAOPeakScale
}

func (c *FitConfig) GetBAOPeakWidth() float64 {
	if c.BAOPeakWidth == nil {
		return 10
	}
	return *c.BAOPeakWidth
}

// GetModelConfig returns the parameter script applied before fitting.
func (c *FitConfig) GetModelConfig() string {
	if c.ModelConfig == nil {
		return ""
	}
	return *c.ModelConfig
}

// GetRMin returns the minimum comoving separation in Mpc/h.
func (c *FitConfig) GetRMin() float64 {
	if c.RMin == nil {
		return 0
	}
	return *c.RMin
}

// GetRMax returns the (exclusive) maximum comoving separation in Mpc/h.
func (c *FitConfig) GetRMax() float64 {
	if c.RMax == nil {
		return 200
	}
	return *c.RMax
}

// GetLLMin returns the minimum log wavelength ratio of a pair.
func (c *FitConfig) GetLLMin() float64 {
	if c.LLMin == nil {
		return 0
	}
	return *c.LLMin
}

func (c *FitConfig) GetOmegaMatter() float64 {
	if c.OmegaMatter == nil {
		return 0.27
	}
	return *c.OmegaMatter
}

// GetMethod returns the minimizer method name.
func (c *FitConfig) GetMethod() string {
	if c.Method == nil || *c.Method == "" {
		return "nelder-mead"
	}
	return *c.Method
}

func (c *FitConfig) GetMethodConfig() string {
	if c.MethodConfig == nil {
		return ""
	}
	return *c.MethodConfig
}

func (c *FitConfig) GetErrorScale() float64 {
	if c.ErrorScale == nil {
		return 1
	}
	return *c.ErrorScale
}
