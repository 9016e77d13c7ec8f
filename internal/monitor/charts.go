package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/pulse.report/internal/pulse"
)

// ErrNoTrace is returned when no batch has been processed yet.
var ErrNoTrace = errors.New("no trace available")

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Default trace image size.
const (
	TraceWidth  = 10 * vg.Inch
	TraceHeight = 4 * vg.Inch
)

// RenderRateChart writes an HTML line chart of the reported and candidate
// rate per batch.
func RenderRateChart(w io.Writer, entries []Entry) error {
	x := make([]string, 0, len(entries))
	reported := make([]opts.LineData, 0, len(entries))
	candidate := make([]opts.LineData, 0, len(entries))
	for _, e := range entries {
		x = append(x, strconv.FormatUint(e.Seq, 10))
		reported = append(reported, opts.LineData{Value: e.BPM})
		// gaps where the batch produced no candidate
		if e.Candidate > 0 {
			candidate = append(candidate, opts.LineData{Value: e.Candidate})
		} else {
			candidate = append(candidate, opts.LineData{Value: "-"})
		}
	}

	subtitle := "no batches yet"
	if n := len(entries); n > 0 {
		last := entries[n-1]
		subtitle = fmt.Sprintf("batches=%d current=%d bpm at %s", n, last.BPM, last.Time.Format("15:04:05"))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Heart rate", Width: "100%", Height: "560px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Heart rate", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "batch", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "BPM", Min: 0, Max: 200}),
	)
	line.SetXAxis(x).
		AddSeries("reported", reported, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false)})).
		AddSeries("candidate", candidate, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))

	return line.Render(w)
}

// RenderTrace writes a PNG of the filtered window behind tr with the
// detected beats marked and the height threshold drawn across it.
func RenderTrace(w io.Writer, tr pulse.Trace, width, height vg.Length) error {
	if len(tr.Filtered) == 0 {
		return ErrNoTrace
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Batch %d - %d BPM, %d beats", tr.Seq, tr.BPM, len(tr.Peaks))
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Filtered amplitude"
	p.Add(plotter.NewGrid())

	signal := make(plotter.XYs, len(tr.Filtered))
	for i, v := range tr.Filtered {
		signal[i] = plotter.XY{X: float64(i), Y: v}
	}
	line, err := plotter.NewLine(signal)
	if err != nil {
		return fmt.Errorf("signal line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)
	p.Legend.Add("filtered", line)

	if len(tr.Peaks) > 0 {
		beats := make(plotter.XYs, 0, len(tr.Peaks))
		for _, i := range tr.Peaks {
			if i >= 0 && i < len(tr.Filtered) {
				beats = append(beats, plotter.XY{X: float64(i), Y: tr.Filtered[i]})
			}
		}
		scatter, err := plotter.NewScatter(beats)
		if err != nil {
			return fmt.Errorf("beat markers: %w", err)
		}
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		scatter.GlyphStyle.Radius = vg.Points(4)
		scatter.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		p.Add(scatter)
		p.Legend.Add("beats", scatter)
	}

	if tr.Height != 0 {
		threshold := plotter.NewFunction(func(float64) float64 { return tr.Height })
		threshold.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		threshold.Color = color.Gray{Y: 128}
		p.Add(threshold)
		p.Legend.Add("height threshold", threshold)
	}

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render trace: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
