// Command baofit fits a correlation-function model with a BAO peak to binned
// correlation measurements.
//
// Usage:
//
//	baofit -data xi.json [-config fit.json] [-method bfgs] [-db fits.db] [-plot fit.png] [-html fit.html]
//	baofit -db fits.db migrate up|down|status
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/baofit/internal/config"
	"github.com/banshee-data/baofit/internal/correlation"
	"github.com/banshee-data/baofit/internal/cosmology"
	"github.com/banshee-data/baofit/internal/dataset"
	"github.com/banshee-data/baofit/internal/db"
	"github.com/banshee-data/baofit/internal/fit"
	"github.com/banshee-data/baofit/internal/fitplot"
	"github.com/banshee-data/baofit/internal/minimize"
	"github.com/banshee-data/baofit/internal/version"
)

type options struct {
	configPath   string
	dataPath     string
	dbPath       string
	plotPath     string
	htmlPath     string
	method       string
	methodConfig string
	modelConfig  string
	errorScale   float64
	showVersion  bool
}

func newFlagSet(o *options, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("baofit", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.configPath, "config", "", "Path to a JSON fit configuration (defaults are used for omitted fields)")
	fs.StringVar(&o.dataPath, "data", "", "Path to the JSON correlation dataset to fit")
	fs.StringVar(&o.dbPath, "db", "", "Path to a sqlite database for recording fit results")
	fs.StringVar(&o.plotPath, "plot", "", "Write a PNG plot of data and best fit to this path")
	fs.StringVar(&o.htmlPath, "html", "", "Write an interactive HTML plot of data and best fit to this path")
	fs.StringVar(&o.method, "method", "", "Minimizer method: nelder-mead, bfgs, lbfgs or gradient-descent (overrides config)")
	fs.StringVar(&o.methodConfig, "method-config", "", "Minimizer settings, e.g. maxfev=5000,ftol=1e-8 (overrides config)")
	fs.StringVar(&o.modelConfig, "model-config", "", "Parameter script, e.g. 'fix[beta]=1.4; prior[BAO alpha]=1,0.1' (appended to config)")
	fs.Float64Var(&o.errorScale, "error-scale", 0, "Scale of the objective's unit-error contour (overrides config when > 0)")
	fs.BoolVar(&o.showVersion, "version", false, "Print version information and exit")
	return fs
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("baofit: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	var o options
	fs := newFlagSet(&o, stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if o.showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}

	if rest := fs.Args(); len(rest) > 0 {
		if rest[0] != "migrate" {
			return fmt.Errorf("unknown command %q", rest[0])
		}
		if o.dbPath == "" {
			return errors.New("migrate requires -db")
		}
		return db.RunMigrateCommand(rest[1:], o.dbPath, stdout)
	}

	if o.dataPath == "" {
		fs.Usage()
		return errors.New("-data is required")
	}

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	return fitDataset(o, cfg, stdout)
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(o options) (*config.FitConfig, error) {
	cfg := config.EmptyFitConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadFitConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.method != "" {
		cfg.Method = &o.method
	}
	if o.methodConfig != "" {
		cfg.MethodConfig = &o.methodConfig
	}
	if o.modelConfig != "" {
		script := o.modelConfig
		if base := cfg.GetModelConfig(); base != "" {
			script = base + ";" + script
		}
		cfg.ModelConfig = &script
	}
	if o.errorScale > 0 {
		cfg.ErrorScale = &o.errorScale
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func fitDataset(o options, cfg *config.FitConfig, stdout io.Writer) error {
	cosmo, err := cosmology.NewFlatLambdaCDM(cfg.GetOmegaMatter())
	if err != nil {
		return err
	}
	data, err := dataset.Load(o.dataPath, dataset.Options{
		RMin:      cfg.GetRMin(),
		RMax:      cfg.GetRMax(),
		LLMin:     cfg.GetLLMin(),
		Cosmology: cosmo,
	})
	if err != nil {
		return err
	}
	if err := data.Finalize(); err != nil {
		return fmt.Errorf("finalize %s: %w", o.dataPath, err)
	}

	model, err := correlation.NewPowerLawModel(cfg.GetZRef(), cfg.GetCrossCorrelation(),
		correlation.WithPeak(cfg.GetBAOPeakScale(), cfg.GetBAOPeakWidth()))
	if err != nil {
		return err
	}
	if err := model.ConfigureFitParameters(cfg.GetModelConfig()); err != nil {
		return err
	}

	objective, err := fit.NewObjective(data, model.Model)
	if err != nil {
		return err
	}
	if err := objective.SetErrorScale(cfg.GetErrorScale()); err != nil {
		return err
	}
	fmin, err := objective.Fit(cfg.GetMethod(), cfg.GetMethodConfig())
	if err != nil {
		return err
	}

	if err := applyMinimum(model.Model, fmin); err != nil {
		return err
	}
	if err := model.PrintTo(stdout); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "\nMinimum -log(L) = %g after %d evaluations (%s, status %s)\n",
		fmin.MinValue, fmin.Evaluations, fmin.Method, fmin.Status)

	pred, err := objective.Predict(fmin.Values)
	if err != nil {
		return err
	}
	if err := writePlots(o, data, pred); err != nil {
		return err
	}

	if o.dbPath != "" {
		runID, err := recordRun(o, cfg, model, data, fmin)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Recorded fit run %s in %s\n", runID, o.dbPath)
	}
	return nil
}

// applyMinimum copies the best-fit values and errors back into the model.
func applyMinimum(model *correlation.Model, fmin *minimize.FunctionMinimum) error {
	for i, name := range fmin.Names {
		if err := model.SetParameterValue(name, fmin.Values[i]); err != nil {
			return err
		}
		if e := fmin.Errors[i]; !fmin.Fixed[i] && !math.IsNaN(e) {
			if err := model.SetParameterError(name, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func writePlots(o options, data correlation.Data, pred []float64) error {
	if o.plotPath == "" && o.htmlPath == "" {
		return nil
	}
	points, err := fitplot.Points(data, pred)
	if err != nil {
		return err
	}
	title := filepath.Base(o.dataPath)
	if o.plotPath != "" {
		if err := fitplot.SavePNG(o.plotPath, title, points); err != nil {
			return err
		}
		log.Printf("Wrote %s", o.plotPath)
	}
	if o.htmlPath != "" {
		f, err := os.Create(o.htmlPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", o.htmlPath, err)
		}
		if err := fitplot.WriteHTML(f, title, points); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Printf("Wrote %s", o.htmlPath)
	}
	return nil
}

func recordRun(o options, cfg *config.FitConfig, model *correlation.PowerLawModel, data correlation.Data, fmin *minimize.FunctionMinimum) (string, error) {
	store, err := db.NewDB(o.dbPath)
	if err != nil {
		return "", err
	}
	defer store.Close()

	run := &db.FitRun{
		Model:        model.Name(),
		TracerMode:   model.TracerMode().String(),
		ZRef:         model.ZRef(),
		Method:       fmin.Method,
		MethodConfig: fmin.Config,
		DataPath:     o.dataPath,
		NBins:        data.NBinsWithData(),
		MinValue:     fmin.MinValue,
		Evaluations:  fmin.Evaluations,
		Status:       fmin.Status,
		ErrorScale:   cfg.GetErrorScale(),
	}
	for i, name := range fmin.Names {
		run.Parameters = append(run.Parameters, db.FitParameter{
			Index: i,
			Name:  name,
			Value: fmin.Values[i],
			Error: fmin.Errors[i],
			Fixed: fmin.Fixed[i],
		})
	}
	return store.RecordFitRun(run)
}
