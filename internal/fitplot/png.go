package fitplot

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var palette = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
}

type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

// SavePNG writes r^2-weighted data with error bars and the prediction of each
// group to path.
func SavePNG(path, title string, points []Point) error {
	if len(points) == 0 {
		return fmt.Errorf("fitplot: nothing to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "r (Mpc/h)"
	p.Y.Label.Text = "r^2 xi(r)"

	for i, g := range groupPoints(points) {
		c := palette[i%len(palette)]
		data := errorPoints{
			XYs:     make(plotter.XYs, len(g.points)),
			YErrors: make(plotter.YErrors, len(g.points)),
		}
		model := make(plotter.XYs, len(g.points))
		for k, pt := range g.points {
			w := weight(pt.R)
			data.XYs[k] = plotter.XY{X: pt.R, Y: w * pt.Value}
			data.YErrors[k].Low = w * pt.Error
			data.YErrors[k].High = w * pt.Error
			model[k] = plotter.XY{X: pt.R, Y: w * pt.Prediction}
		}

		scatter, err := plotter.NewScatter(data)
		if err != nil {
			return fmt.Errorf("fitplot: %s data: %w", g.name, err)
		}
		scatter.GlyphStyle.Color = c
		bars, err := plotter.NewYErrorBars(data)
		if err != nil {
			return fmt.Errorf("fitplot: %s errors: %w", g.name, err)
		}
		bars.LineStyle.Color = c
		line, err := plotter.NewLine(model)
		if err != nil {
			return fmt.Errorf("fitplot: %s model: %w", g.name, err)
		}
		line.Color = c
		line.Width = vg.Points(1)

		p.Add(scatter, bars, line)
		p.Legend.Add(g.name, scatter, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("fitplot: save %s: %w", path, err)
	}
	return nil
}
