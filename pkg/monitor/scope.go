package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Scope keeps the most recent samples of one channel and renders them as
// a time-domain plot.
type Scope struct {
	mu   sync.Mutex
	name string
	size int
	buf  []float64
}

func NewScope(name string, size int) *Scope {
	return &Scope{name: name, size: size}
}

func (s *Scope) Name() string { return s.name }

// Append adds samples, keeping only the newest size values.
func (s *Scope) Append(vals []float64) {
	s.mu.Lock()
	s.buf = append(s.buf, vals...)
	if len(s.buf) > s.size {
		s.buf = s.buf[len(s.buf)-s.size:]
	}
	s.mu.Unlock()
}

func plotWithDefaults() *plot.Plot {
	p := plot.New()
	p.BackgroundColor = color.Black
	p.Title.TextStyle.Color = color.White
	p.Y.Label.TextStyle.Color = color.White
	p.Y.Color = color.White
	p.X.Label.TextStyle.Color = color.White
	p.X.Color = color.White
	p.Legend.TextStyle.Color = color.White
	p.X.Tick.Color = color.White
	p.Y.Tick.Color = color.White
	p.X.Tick.Label.Color = color.White
	p.Y.Tick.Label.Color = color.White
	return p
}

// Image renders the buffered samples to a PNG. Fails when nothing has
// been observed yet.
func (s *Scope) Image() ([]byte, error) {
	s.mu.Lock()
	samples := append([]float64(nil), s.buf...)
	s.mu.Unlock()

	if len(samples) == 0 {
		return nil, fmt.Errorf("monitor: no samples for %s", s.name)
	}

	p := plotWithDefaults()
	p.Title.Text = s.name
	p.Y.Label.Text = "Amplitude"
	p.X.Label.Text = "t"
	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(samples))
	for i, v := range samples {
		xys[i] = plotter.XY{X: float64(i), Y: v}
	}
	if err := plotutil.AddLines(p, s.name, xys); err != nil {
		return nil, err
	}

	var imageData bytes.Buffer
	w, err := p.WriterTo(8*vg.Inch, 3*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	if _, err := w.WriteTo(&imageData); err != nil {
		return nil, err
	}
	return imageData.Bytes(), nil
}
