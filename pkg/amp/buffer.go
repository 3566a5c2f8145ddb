package amp

import (
	"fmt"
	"sync"
)

type pendingMarker struct {
	row   uint64 // absolute row index
	label string
}

// SampleBuffer is a fixed-capacity ring of sample rows shared between a
// driver's acquisition goroutine and its GetData path. The producer
// appends rows and places markers; Drain hands everything buffered to the
// caller with marker offsets rebased onto the drained chunk.
//
// When the producer outruns the consumer the oldest rows are dropped and
// counted; the next Drain reports the gap as ErrOverflow exactly once and
// afterwards resumes with the surviving rows, so the caller chooses
// between aborting and accepting the discontinuity.
type SampleBuffer struct {
	mu       sync.Mutex
	channels int
	capRows  int
	data     []float64 // ring, capRows*channels
	startRow int       // ring row index of the oldest buffered row
	count    int       // buffered rows
	readAbs  uint64    // absolute index of the oldest buffered row
	total    uint64    // absolute rows ever appended
	dropped  uint64    // rows lost since the last overflow report
	markers  []pendingMarker
}

// NewSampleBuffer returns a buffer holding up to capacityRows rows of
// channels columns each.
func NewSampleBuffer(channels, capacityRows int) *SampleBuffer {
	if channels <= 0 || capacityRows <= 0 {
		panic("amp: SampleBuffer needs positive channel count and capacity")
	}
	return &SampleBuffer{
		channels: channels,
		capRows:  capacityRows,
		data:     make([]float64, channels*capacityRows),
	}
}

// Channels returns the column count rows are appended with.
func (b *SampleBuffer) Channels() int { return b.channels }

// TotalRows returns the absolute number of rows ever appended.
func (b *SampleBuffer) TotalRows() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Append adds sample rows to the buffer. len(rows) must be a multiple of
// the channel count. Oldest rows are evicted on overflow.
func (b *SampleBuffer) Append(rows []float64) {
	b.AppendWithMarkers(rows, nil)
}

// AppendWithMarkers adds sample rows and queues markers on them in one
// step, so a concurrent Drain cannot slip between the rows and their
// markers and drop the latter. Marker offsets are relative to the first
// appended row.
func (b *SampleBuffer) AppendWithMarkers(rows []float64, markers []Marker) {
	if len(rows)%b.channels != 0 {
		panic(fmt.Sprintf("amp: Append of %d values with %d channels", len(rows), b.channels))
	}
	n := len(rows) / b.channels

	b.mu.Lock()
	defer b.mu.Unlock()

	base := b.total
	for i := 0; i < n; i++ {
		if b.count == b.capRows {
			// Evict the oldest row.
			b.startRow = (b.startRow + 1) % b.capRows
			b.count--
			b.readAbs++
			b.dropped++
		}
		dst := ((b.startRow + b.count) % b.capRows) * b.channels
		copy(b.data[dst:dst+b.channels], rows[i*b.channels:(i+1)*b.channels])
		b.count++
		b.total++
	}
	for _, m := range markers {
		b.markers = append(b.markers, pendingMarker{row: base + uint64(m.Offset), label: m.Label})
	}
}

// MarkAt queues a marker on the given absolute row. Markers on rows not
// yet appended stay queued until a Drain covers them.
func (b *SampleBuffer) MarkAt(row uint64, label string) {
	b.mu.Lock()
	b.markers = append(b.markers, pendingMarker{row: row, label: label})
	b.mu.Unlock()
}

// MarkLatest queues a marker on the most recently appended row, or on the
// first row if nothing has been appended yet.
func (b *SampleBuffer) MarkLatest(label string) {
	b.mu.Lock()
	row := b.total
	if row > 0 {
		row--
	}
	b.markers = append(b.markers, pendingMarker{row: row, label: label})
	b.mu.Unlock()
}

// Drain removes and returns everything buffered. The chunk may have zero
// rows. Markers covered by the chunk are attached with offsets relative to
// its first row; markers beyond it stay queued. After an overflow, Drain
// reports the gap once and keeps the buffered rows for the next call;
// markers that pointed into the lost range are discarded with it.
func (b *SampleBuffer) Drain() (*Chunk, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dropped > 0 {
		lost := b.dropped
		b.dropped = 0
		b.pruneMarkersBefore(b.readAbs)
		return nil, fmt.Errorf("%w: %d rows lost", ErrOverflow, lost)
	}

	rows := b.count
	chunk := &Chunk{
		Data:     make([]float64, rows*b.channels),
		Rows:     rows,
		Channels: b.channels,
		Markers:  []Marker{},
	}
	for i := 0; i < rows; i++ {
		src := ((b.startRow + i) % b.capRows) * b.channels
		copy(chunk.Data[i*b.channels:(i+1)*b.channels], b.data[src:src+b.channels])
	}

	chunkStart := b.readAbs
	b.startRow = (b.startRow + rows) % b.capRows
	b.count = 0
	b.readAbs += uint64(rows)

	if rows > 0 {
		remaining := b.markers[:0]
		for _, m := range b.markers {
			switch {
			case m.row < chunkStart:
				// Pointed into an already-reported gap.
			case m.row < chunkStart+uint64(rows):
				chunk.Markers = append(chunk.Markers, Marker{
					Offset: int(m.row - chunkStart),
					Label:  m.label,
				})
			default:
				remaining = append(remaining, m)
			}
		}
		b.markers = remaining
	}

	return chunk, nil
}

// Reset empties the buffer and forgets markers, counters, and any pending
// overflow report. Used when a driver re-enters configuration.
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	b.startRow = 0
	b.count = 0
	b.readAbs = 0
	b.total = 0
	b.dropped = 0
	b.markers = nil
	b.mu.Unlock()
}

func (b *SampleBuffer) pruneMarkersBefore(row uint64) {
	remaining := b.markers[:0]
	for _, m := range b.markers {
		if m.row >= row {
			remaining = append(remaining, m)
		}
	}
	b.markers = remaining
}
