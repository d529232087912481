// Package plotting renders recorded delta-pose trajectories as images.
package plotting

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/holotrack/internal/posedb"
)

// ErrNoPoses is returned when there is nothing to plot.
var ErrNoPoses = errors.New("no poses to plot")

const (
	defaultWidth  = 14 * vg.Inch
	defaultHeight = 6 * vg.Inch
)

var axisColours = [3]color.RGBA{
	{R: 220, G: 50, B: 47, A: 255},
	{R: 38, G: 139, B: 34, A: 255},
	{R: 38, G: 85, B: 210, A: 255},
}

// TranslationPlot builds a plot of tx, ty and tz against sequence number.
func TranslationPlot(poses []posedb.DeltaPose, title string) (*plot.Plot, error) {
	if len(poses) == 0 {
		return nil, ErrNoPoses
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Cycle"
	p.Y.Label.Text = "Translation (mm)"
	p.Add(plotter.NewGrid())

	var series [3]plotter.XYs
	for i := range series {
		series[i] = make(plotter.XYs, 0, len(poses))
	}
	for _, d := range poses {
		x, y, z := d.Pose.TranslationVector()
		seq := float64(d.Seq)
		series[0] = append(series[0], plotter.XY{X: seq, Y: float64(x)})
		series[1] = append(series[1], plotter.XY{X: seq, Y: float64(y)})
		series[2] = append(series[2], plotter.XY{X: seq, Y: float64(z)})
	}

	for i, name := range []string{"tx", "ty", "tz"} {
		line, err := plotter.NewLine(series[i])
		if err != nil {
			return nil, fmt.Errorf("%s line: %w", name, err)
		}
		line.Color = axisColours[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SaveTranslationPNG writes the translation plot to path. The format
// follows the file extension (png, svg, pdf).
func SaveTranslationPNG(path string, poses []posedb.DeltaPose, title string) error {
	p, err := TranslationPlot(poses, title)
	if err != nil {
		return err
	}
	if err := p.Save(defaultWidth, defaultHeight, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}

// WriteTranslationPNG encodes the translation plot as PNG to w.
func WriteTranslationPNG(w io.Writer, poses []posedb.DeltaPose, title string) error {
	p, err := TranslationPlot(poses, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(defaultWidth, defaultHeight, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
