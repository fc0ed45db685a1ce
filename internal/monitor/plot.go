package monitor

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/fieldpose/internal/fieldlayout"
	"github.com/banshee-data/fieldpose/internal/geom"
)

// PlotSize is the size of rendered trajectory plots.
var PlotSize = struct{ W, H vg.Length }{12 * vg.Inch, 6 * vg.Inch}

var (
	trajectoryColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	tagColor        = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// TrajectoryPlot draws robot positions over the field with tag positions
// marked. The field outline is drawn when the layout has a size.
func TrajectoryPlot(title string, poses []geom.Pose, layout *fieldlayout.Layout) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	if layout != nil {
		if f := layout.Field(); f.Length > 0 && f.Width > 0 {
			outline, err := plotter.NewLine(plotter.XYs{
				{X: 0, Y: 0}, {X: f.Length, Y: 0}, {X: f.Length, Y: f.Width}, {X: 0, Y: f.Width}, {X: 0, Y: 0},
			})
			if err != nil {
				return nil, fmt.Errorf("field outline: %w", err)
			}
			outline.Color = color.Gray{Y: 128}
			p.Add(outline)
		}

		tags := layout.Tags()
		if len(tags) > 0 {
			pts := make(plotter.XYs, len(tags))
			labels := make([]string, len(tags))
			for i, tag := range tags {
				pts[i] = plotter.XY{X: tag.Pose.Translation.X, Y: tag.Pose.Translation.Y}
				labels[i] = fmt.Sprintf("%d", tag.ID)
			}
			scatter, err := plotter.NewScatter(pts)
			if err != nil {
				return nil, fmt.Errorf("tag markers: %w", err)
			}
			scatter.GlyphStyle.Color = tagColor
			scatter.GlyphStyle.Shape = draw.BoxGlyph{}
			scatter.GlyphStyle.Radius = vg.Points(4)
			p.Add(scatter)
			p.Legend.Add("tags", scatter)

			tagLabels, err := plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: labels})
			if err != nil {
				return nil, fmt.Errorf("tag labels: %w", err)
			}
			p.Add(tagLabels)
		}
	}

	if len(poses) > 0 {
		pts := make(plotter.XYs, len(poses))
		for i, pose := range poses {
			pts[i] = plotter.XY{X: pose.Translation.X, Y: pose.Translation.Y}
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, fmt.Errorf("trajectory: %w", err)
		}
		line.Color = trajectoryColor
		line.Width = vg.Points(1)
		points.Color = trajectoryColor
		points.Radius = vg.Points(1.5)
		p.Add(line, points)
		p.Legend.Add("robot", line, points)
	}
	p.Legend.Top = true
	return p, nil
}

// WriteTrajectoryPNG renders TrajectoryPlot as PNG.
func WriteTrajectoryPNG(w io.Writer, title string, poses []geom.Pose, layout *fieldlayout.Layout) error {
	p, err := TrajectoryPlot(title, poses, layout)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(PlotSize.W, PlotSize.H, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
