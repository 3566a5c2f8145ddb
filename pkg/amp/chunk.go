package amp

import "gonum.org/v1/gonum/mat"

// Marker is a discrete labeled event aligned to one sample of the chunk it
// accompanies. Offset is a row index into that chunk, 0 <= Offset < Rows.
type Marker struct {
	Offset int
	Label  string
}

// Chunk is one poll's worth of samples: Rows time samples over Channels
// columns, row-major, oldest row first. The column order matches the
// channel names reported by Channels. A chunk with zero rows means no new
// data. Markers, possibly empty, are the events that occurred inside this
// chunk's time range; drivers without marker detection always deliver an
// empty slice, never nil semantics that differ from it.
type Chunk struct {
	Data     []float64
	Rows     int
	Channels int
	Markers  []Marker
}

// Empty reports whether the chunk carries no samples.
func (c *Chunk) Empty() bool { return c == nil || c.Rows == 0 }

// At returns the sample at row r, channel ch.
func (c *Chunk) At(r, ch int) float64 {
	return c.Data[r*c.Channels+ch]
}

// Row returns the r-th time sample across all channels. The returned slice
// aliases the chunk's backing array.
func (c *Chunk) Row(r int) []float64 {
	return c.Data[r*c.Channels : (r+1)*c.Channels]
}

// Column copies channel ch out of the chunk.
func (c *Chunk) Column(ch int) []float64 {
	out := make([]float64, c.Rows)
	for r := 0; r < c.Rows; r++ {
		out[r] = c.Data[r*c.Channels+ch]
	}
	return out
}

// Dense wraps the chunk as a gonum matrix (rows = time, cols = channels)
// for downstream numeric consumers. Returns nil for an empty chunk, since
// gonum rejects zero-dimension matrices. The matrix shares the chunk's
// backing array.
func (c *Chunk) Dense() *mat.Dense {
	if c.Empty() {
		return nil
	}
	return mat.NewDense(c.Rows, c.Channels, c.Data)
}
