package amp

import (
	"errors"
	"reflect"
	"testing"
)

func rowsOf(channels int, vals ...float64) []float64 {
	if len(vals)%channels != 0 {
		panic("bad test rows")
	}
	return vals
}

func TestSampleBufferOrdering(t *testing.T) {
	// Concatenating consecutive drains must reproduce the appended
	// sequence with no gap and no duplicate.
	b := NewSampleBuffer(2, 64)

	var want, got []float64
	for i := 0; i < 10; i++ {
		row := []float64{float64(i), float64(-i)}
		want = append(want, row...)
		b.Append(row)

		if i%3 == 1 {
			chunk, err := b.Drain()
			if err != nil {
				t.Fatalf("Drain() error = %v", err)
			}
			if chunk.Channels != 2 {
				t.Fatalf("chunk channels = %d, want 2", chunk.Channels)
			}
			got = append(got, chunk.Data...)
		}
	}
	chunk, err := b.Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	got = append(got, chunk.Data...)

	if !reflect.DeepEqual(got, want) {
		t.Errorf("concatenated drains = %v, want %v", got, want)
	}
}

func TestSampleBufferEmptyDrain(t *testing.T) {
	b := NewSampleBuffer(4, 8)
	chunk, err := b.Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !chunk.Empty() {
		t.Errorf("expected empty chunk, got %d rows", chunk.Rows)
	}
	if chunk.Markers == nil {
		t.Error("empty chunk must still carry a marker slice")
	}
}

func TestSampleBufferOverflow(t *testing.T) {
	b := NewSampleBuffer(1, 4)
	for i := 0; i < 10; i++ {
		b.Append([]float64{float64(i)})
	}

	// First drain reports the gap.
	if _, err := b.Drain(); !errors.Is(err, ErrOverflow) {
		t.Fatalf("Drain() error = %v, want ErrOverflow", err)
	}

	// Second drain resumes with the surviving rows.
	chunk, err := b.Drain()
	if err != nil {
		t.Fatalf("Drain() after overflow error = %v", err)
	}
	if got, want := chunk.Data, []float64{6, 7, 8, 9}; !reflect.DeepEqual(got, want) {
		t.Errorf("post-overflow rows = %v, want %v", got, want)
	}

	// The report fires once per gap, not per drain.
	b.Append([]float64{10})
	chunk, err = b.Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if got, want := chunk.Data, []float64{10}; !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %v, want %v", got, want)
	}
}

func TestSampleBufferMarkers(t *testing.T) {
	tests := []struct {
		name    string
		rows    int
		markAt  []uint64
		want    []Marker
		pending int
	}{{
		"marker inside chunk",
		5,
		[]uint64{2},
		[]Marker{{Offset: 2, Label: "m0"}},
		0,
	}, {
		"marker on last row",
		10,
		[]uint64{9},
		[]Marker{{Offset: 9, Label: "m0"}},
		0,
	}, {
		"marker beyond chunk stays queued",
		3,
		[]uint64{7},
		[]Marker{},
		1,
	}, {
		"multiple markers in order",
		4,
		[]uint64{0, 3},
		[]Marker{{Offset: 0, Label: "m0"}, {Offset: 3, Label: "m1"}},
		0,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewSampleBuffer(1, 32)
			for i, row := range tt.markAt {
				b.MarkAt(row, "m"+string(rune('0'+i)))
			}
			for i := 0; i < tt.rows; i++ {
				b.Append([]float64{float64(i)})
			}
			chunk, err := b.Drain()
			if err != nil {
				t.Fatalf("Drain() error = %v", err)
			}
			if !reflect.DeepEqual(chunk.Markers, tt.want) {
				t.Errorf("markers = %v, want %v", chunk.Markers, tt.want)
			}
			for _, m := range chunk.Markers {
				if m.Offset < 0 || m.Offset >= chunk.Rows {
					t.Errorf("marker offset %d out of bounds for %d rows", m.Offset, chunk.Rows)
				}
			}
			b.mu.Lock()
			got := len(b.markers)
			b.mu.Unlock()
			if got != tt.pending {
				t.Errorf("pending markers = %d, want %d", got, tt.pending)
			}
		})
	}
}

func TestSampleBufferAppendWithMarkers(t *testing.T) {
	// Rows and their markers go in atomically, so a drain can never land
	// between a block and its markers and discard them as stale.
	b := NewSampleBuffer(1, 32)
	b.AppendWithMarkers(rowsOf(1, 0, 1, 2, 3, 4, 5, 6, 7),
		[]Marker{{Offset: 5, Label: "stim"}})

	chunk, err := b.Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	want := []Marker{{Offset: 5, Label: "stim"}}
	if !reflect.DeepEqual(chunk.Markers, want) {
		t.Errorf("markers = %v, want %v", chunk.Markers, want)
	}

	// Offsets are block-relative and rebase onto the covering chunk.
	b.AppendWithMarkers(rowsOf(1, 8, 9, 10, 11),
		[]Marker{{Offset: 0, Label: "a"}, {Offset: 3, Label: "b"}})
	chunk, err = b.Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	want = []Marker{{Offset: 0, Label: "a"}, {Offset: 3, Label: "b"}}
	if !reflect.DeepEqual(chunk.Markers, want) {
		t.Errorf("second block markers = %v, want %v", chunk.Markers, want)
	}
}

func TestSampleBufferLateMarkerAfterDrainIsLost(t *testing.T) {
	// The failure mode AppendWithMarkers exists to close: a marker queued
	// only after its rows were drained points behind the read cursor and
	// is dropped.
	b := NewSampleBuffer(1, 32)
	b.Append(rowsOf(1, 0, 1, 2, 3, 4, 5, 6, 7))
	if _, err := b.Drain(); err != nil {
		t.Fatal(err)
	}

	b.MarkAt(5, "stim")
	b.Append(rowsOf(1, 8, 9, 10, 11))
	chunk, err := b.Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(chunk.Markers) != 0 {
		t.Errorf("stale marker delivered: %v", chunk.Markers)
	}
}

func TestSampleBufferMarkLatest(t *testing.T) {
	b := NewSampleBuffer(1, 32)
	for i := 0; i < 10; i++ {
		b.Append([]float64{float64(i)})
	}
	b.MarkLatest("last")

	chunk, err := b.Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	want := []Marker{{Offset: 9, Label: "last"}}
	if !reflect.DeepEqual(chunk.Markers, want) {
		t.Errorf("markers = %v, want %v", chunk.Markers, want)
	}
}

func TestSampleBufferMarkerRebaseAcrossDrains(t *testing.T) {
	b := NewSampleBuffer(1, 32)
	b.Append(rowsOf(1, 0, 1, 2))
	if _, err := b.Drain(); err != nil {
		t.Fatal(err)
	}

	// Absolute row 4 lands at offset 1 of the second chunk.
	b.MarkAt(4, "late")
	b.Append(rowsOf(1, 3, 4, 5))
	chunk, err := b.Drain()
	if err != nil {
		t.Fatal(err)
	}
	want := []Marker{{Offset: 1, Label: "late"}}
	if !reflect.DeepEqual(chunk.Markers, want) {
		t.Errorf("markers = %v, want %v", chunk.Markers, want)
	}
}

func TestSampleBufferReset(t *testing.T) {
	b := NewSampleBuffer(2, 4)
	b.Append([]float64{1, 2, 3, 4})
	b.MarkLatest("x")
	b.Reset()

	if got := b.TotalRows(); got != 0 {
		t.Errorf("TotalRows after Reset = %d, want 0", got)
	}
	chunk, err := b.Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !chunk.Empty() || len(chunk.Markers) != 0 {
		t.Errorf("Reset left data behind: %+v", chunk)
	}
}
