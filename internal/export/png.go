// Package export renders run data to PNG figures.
package export

import (
	"bufio"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	DefaultWidth  = 8.0 // inches
	DefaultHeight = 5.0
	DefaultDPI    = 150
)

var ErrNoData = errors.New("export: no data to plot")

type Series struct {
	Name string
	X, Y []float64
}

// Figure is a line plot with one or more series.
type Figure struct {
	Title  string
	XLabel string
	YLabel string
	Series []Series
	// Threshold draws a dashed horizontal line at ±Threshold when positive.
	Threshold float64
}

func (f Figure) build() (*plot.Plot, error) {
	if len(f.Series) == 0 {
		return nil, ErrNoData
	}
	p := plot.New()
	p.Title.Text = f.Title
	p.X.Label.Text = f.XLabel
	p.Y.Label.Text = f.YLabel
	stylePlot(p)

	for i, s := range f.Series {
		if len(s.X) != len(s.Y) || len(s.X) == 0 {
			return nil, fmt.Errorf("%w: series %q has %d x and %d y values", ErrNoData, s.Name, len(s.X), len(s.Y))
		}
		pts := make(plotter.XYs, len(s.X))
		for k := range s.X {
			pts[k].X = s.X[k]
			pts[k].Y = s.Y[k]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = plotutil.Color(i)
		p.Add(line)
		if s.Name != "" {
			p.Legend.Add(s.Name, line)
		}
	}

	if f.Threshold > 0 {
		xmin, xmax := p.X.Min, p.X.Max
		for _, y := range []float64{f.Threshold, -f.Threshold} {
			bound, err := plotter.NewLine(plotter.XYs{{X: xmin, Y: y}, {X: xmax, Y: y}})
			if err != nil {
				return nil, err
			}
			bound.LineStyle.Color = color.Gray{Y: 128}
			bound.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
			p.Add(bound)
		}
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// Histogram plots the distribution of values in bins.
func Histogram(title, xlabel string, values []float64, bins int) (*plot.Plot, error) {
	if len(values) == 0 {
		return nil, ErrNoData
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = "count"
	stylePlot(p)

	h, err := plotter.NewHist(plotter.Values(values), bins)
	if err != nil {
		return nil, err
	}
	h.FillColor = plotutil.Color(0)
	p.Add(h)
	return p, nil
}

func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.Title.Padding = vg.Points(8)
	p.X.Label.TextStyle.Font.Size = vg.Points(11)
	p.Y.Label.TextStyle.Font.Size = vg.Points(11)
	p.X.Tick.Marker = limitedTicker(8, "%.3g")
	p.Y.Tick.Marker = limitedTicker(8, "%.3g")
	p.Legend.Top = true
}

func limitedTicker(maxLabels int, labelFmt string) plot.Ticker {
	return plot.TickerFunc(func(lo, hi float64) []plot.Tick {
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return nil
		}
		if lo == hi {
			return []plot.Tick{{Value: lo, Label: fmt.Sprintf(labelFmt, lo)}}
		}
		step := (hi - lo) / float64(maxLabels-1)
		ticks := make([]plot.Tick, 0, maxLabels)
		for i := 0; i < maxLabels; i++ {
			v := lo + float64(i)*step
			ticks = append(ticks, plot.Tick{Value: v, Label: fmt.Sprintf(labelFmt, v)})
		}
		return ticks
	})
}

// WritePNG draws p on a canvas of the given size in inches.
func WritePNG(w io.Writer, p *plot.Plot, widthIn, heightIn float64) error {
	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(DefaultDPI),
	)
	p.Draw(draw.New(c))
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

func SavePNG(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := WritePNG(bw, p, DefaultWidth, DefaultHeight); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// Run holds what the figures of one balancer run are drawn from.
type Run struct {
	ID             string
	Dt             float64
	BasePitches    []float64
	PlanningTimes  []float64 // seconds
	FallPitch      float64
	CommandedSpeed []float64
}

// SaveRunFigures writes the figures of a run to outDir and returns the
// paths written.
func SaveRunFigures(outDir string, run Run) ([]string, error) {
	var paths []string
	save := func(name string, p *plot.Plot, err error) error {
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		path := filepath.Join(outDir, name)
		if err := SavePNG(p, path); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		paths = append(paths, path)
		return nil
	}

	if len(run.BasePitches) > 0 {
		pitch := Figure{
			Title:     "Base pitch " + run.ID,
			XLabel:    "time (s)",
			YLabel:    "pitch (rad)",
			Series:    []Series{{Name: "base pitch", X: timeAxis(len(run.BasePitches), run.Dt), Y: run.BasePitches}},
			Threshold: run.FallPitch,
		}
		p, err := pitch.build()
		if err := save("base_pitch.png", p, err); err != nil {
			return paths, err
		}
	}

	if len(run.CommandedSpeed) > 0 {
		cmd := Figure{
			Title:  "Commanded ground velocity " + run.ID,
			XLabel: "time (s)",
			YLabel: "velocity (m/s)",
			Series: []Series{{Name: "command", X: timeAxis(len(run.CommandedSpeed), run.Dt), Y: run.CommandedSpeed}},
		}
		p, err := cmd.build()
		if err := save("commanded_velocity.png", p, err); err != nil {
			return paths, err
		}
	}

	if len(run.PlanningTimes) > 0 {
		ms := make([]float64, len(run.PlanningTimes))
		for i, t := range run.PlanningTimes {
			ms[i] = t * 1e3
		}
		timing := Figure{
			Title:  "Planning time " + run.ID,
			XLabel: "step",
			YLabel: "planning time (ms)",
			Series: []Series{{Name: "planning time", X: timeAxis(len(ms), 1), Y: ms}},
		}
		p, err := timing.build()
		if err := save("planning_time.png", p, err); err != nil {
			return paths, err
		}
		p, err = Histogram("Planning time distribution "+run.ID, "planning time (ms)", ms, 40)
		if err := save("planning_time_hist.png", p, err); err != nil {
			return paths, err
		}
	}

	if len(paths) == 0 {
		return nil, ErrNoData
	}
	return paths, nil
}

func timeAxis(n int, dt float64) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i) * dt
	}
	return xs
}
