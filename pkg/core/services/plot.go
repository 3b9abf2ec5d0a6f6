package services

import (
	"bytes"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// lossPlot 绘制每轮误差曲线，返回SVG
func lossPlot(title string, history []float64, w, h int) ([]byte, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "error"
	p.X.Padding, p.Y.Padding = 0, 0
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	if len(history) > 0 {
		pts := make(plotter.XYs, len(history))
		for i, e := range history {
			pts[i].X, pts[i].Y = float64(i+1), e
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, errors.Wrap(err, "loss line")
		}
		line.Width = 2
		line.Color = plotutil.Color(0)
		p.Add(line)
		p.Legend.Add("training error", line)
	}

	writer, err := p.WriterTo(vg.Points(float64(w)), vg.Points(float64(h)), "svg")
	if err != nil {
		return nil, errors.Wrap(err, "render plot")
	}
	var buf bytes.Buffer
	if _, err := writer.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "write svg")
	}
	return buf.Bytes(), nil
}
