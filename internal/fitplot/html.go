package fitplot

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteHTML renders one scatter chart per group, each with a data and a
// prediction series, as a standalone HTML page.
func WriteHTML(w io.Writer, title string, points []Point) error {
	if len(points) == 0 {
		return fmt.Errorf("fitplot: nothing to plot")
	}
	page := components.NewPage()
	page.PageTitle = title

	for _, g := range groupPoints(points) {
		data := make([]opts.ScatterData, 0, len(g.points))
		model := make([]opts.ScatterData, 0, len(g.points))
		for _, pt := range g.points {
			wt := weight(pt.R)
			data = append(data, opts.ScatterData{Value: []interface{}{pt.R, wt * pt.Value, wt * pt.Error}})
			model = append(model, opts.ScatterData{Value: []interface{}{pt.R, wt * pt.Prediction}})
		}

		scatter := charts.NewScatter()
		scatter.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "500px"}),
			charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%s bins=%d", g.name, len(g.points))}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "r (Mpc/h)", NameLocation: "middle", NameGap: 25, Type: "value"}),
			charts.WithYAxisOpts(opts.YAxis{Name: "r^2 xi", NameLocation: "middle", NameGap: 40}),
		)
		scatter.AddSeries("data", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
		scatter.AddSeries("model", model, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
		page.AddCharts(scatter)
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("fitplot: render html: %w", err)
	}
	return nil
}
