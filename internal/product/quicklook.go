package product

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/align"
)

// RenderQuicklook writes a PNG with one line per channel of the window
// values over time. Fill values leave gaps. The image is written to a temp
// file and renamed onto path.
func RenderQuicklook(path, title string, windows []align.Window, channelIDs []int) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Minutes since start"
	p.Y.Label.Text = "Signal"

	if len(windows) == 0 {
		return fmt.Errorf("no windows to plot")
	}
	origin := windows[0].Start
	for c := range windows[0].Values {
		pts := make(plotter.XYs, 0, len(windows))
		for _, w := range windows {
			if c >= len(w.Values) || math.IsNaN(w.Values[c]) || math.IsInf(w.Values[c], 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: w.Start.Sub(origin).Minutes(), Y: w.Values[c]})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(c)
		line.Width = vg.Points(1)
		p.Add(line)

		label := "channel " + strconv.Itoa(c)
		if c < len(channelIDs) {
			label = "id " + strconv.Itoa(channelIDs[c])
		}
		p.Legend.Add(label, line)
	}

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := wt.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
