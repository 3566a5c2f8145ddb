// Package session reads and writes recorded acquisition sessions.
//
// A session is a directory with three files: session.yaml describing the
// channel set and sampling frequency, signal.dat holding the raw samples
// as little-endian float64 in row-major order, and markers.tsv with one
// "absoluteRow<TAB>label" line per marker.
package session

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/neuroline/ampstream/pkg/amp"
)

const (
	MetaFile   = "session.yaml"
	SignalFile = "signal.dat"
	MarkerFile = "markers.tsv"
)

// Meta describes one recorded session.
type Meta struct {
	Driver            string    `yaml:"driver"`
	Channels          []string  `yaml:"channels"`
	SamplingFrequency float64   `yaml:"sampling_frequency"`
	Created           time.Time `yaml:"created"`
}

func (m Meta) validate() error {
	if len(m.Channels) == 0 {
		return fmt.Errorf("session: meta has no channels")
	}
	if m.SamplingFrequency <= 0 {
		return fmt.Errorf("session: meta sampling frequency %g", m.SamplingFrequency)
	}
	return nil
}

// RecordedMarker is a marker positioned on an absolute sample row of the
// session.
type RecordedMarker struct {
	Row   uint64
	Label string
}

// Writer appends chunks and markers to a session directory.
type Writer struct {
	dir     string
	signal  *os.File
	markers *os.File
	sigBuf  *bufio.Writer
	markBuf *bufio.Writer
	rows    uint64
	cols    int
}

// NewWriter creates dir (and parents) and the session files inside it.
func NewWriter(dir string, meta Meta) (*Writer, error) {
	if err := meta.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	mb, err := yaml.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), mb, 0o644); err != nil {
		return nil, err
	}
	signal, err := os.Create(filepath.Join(dir, SignalFile))
	if err != nil {
		return nil, err
	}
	markers, err := os.Create(filepath.Join(dir, MarkerFile))
	if err != nil {
		signal.Close()
		return nil, err
	}
	return &Writer{
		dir:     dir,
		signal:  signal,
		markers: markers,
		sigBuf:  bufio.NewWriter(signal),
		markBuf: bufio.NewWriter(markers),
		cols:    len(meta.Channels),
	}, nil
}

// WriteChunk appends a chunk's samples and markers. Marker offsets are
// rebased to absolute session rows.
func (w *Writer) WriteChunk(c *amp.Chunk) error {
	if c.Empty() {
		return nil
	}
	if c.Channels != w.cols {
		return fmt.Errorf("session: chunk has %d channels, session has %d", c.Channels, w.cols)
	}
	if err := binary.Write(w.sigBuf, binary.LittleEndian, c.Data); err != nil {
		return err
	}
	for _, m := range c.Markers {
		if _, err := fmt.Fprintf(w.markBuf, "%d\t%s\n", w.rows+uint64(m.Offset), m.Label); err != nil {
			return err
		}
	}
	w.rows += uint64(c.Rows)
	return nil
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() uint64 { return w.rows }

// Dir returns the session directory.
func (w *Writer) Dir() string { return w.dir }

// Close flushes and closes the session files.
func (w *Writer) Close() error {
	var first error
	if err := w.sigBuf.Flush(); err != nil {
		first = err
	}
	if err := w.markBuf.Flush(); err != nil && first == nil {
		first = err
	}
	if err := w.signal.Close(); err != nil && first == nil {
		first = err
	}
	if err := w.markers.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// ReadMeta loads and validates the meta file of a session directory.
func ReadMeta(dir string) (Meta, error) {
	var meta Meta
	b, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return meta, err
	}
	if err := yaml.Unmarshal(b, &meta); err != nil {
		return meta, fmt.Errorf("session: bad meta file: %w", err)
	}
	if err := meta.validate(); err != nil {
		return meta, err
	}
	return meta, nil
}

// Reader streams rows back out of a session directory. Markers are loaded
// eagerly; samples are read on demand.
type Reader struct {
	meta    Meta
	signal  *os.File
	markers []RecordedMarker
	row     uint64
	total   uint64
}

// NewReader opens a session directory for playback.
func NewReader(dir string) (*Reader, error) {
	meta, err := ReadMeta(dir)
	if err != nil {
		return nil, err
	}
	signal, err := os.Open(filepath.Join(dir, SignalFile))
	if err != nil {
		return nil, err
	}
	st, err := signal.Stat()
	if err != nil {
		signal.Close()
		return nil, err
	}
	rowBytes := int64(len(meta.Channels)) * 8
	markers, err := readMarkers(filepath.Join(dir, MarkerFile))
	if err != nil {
		signal.Close()
		return nil, err
	}
	return &Reader{
		meta:    meta,
		signal:  signal,
		markers: markers,
		total:   uint64(st.Size() / rowBytes),
	}, nil
}

func readMarkers(path string) ([]RecordedMarker, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []RecordedMarker
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("session: bad marker line %q", line)
		}
		row, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("session: bad marker row in %q: %w", line, err)
		}
		out = append(out, RecordedMarker{Row: row, Label: parts[1]})
	}
	return out, sc.Err()
}

// Meta returns the session description.
func (r *Reader) Meta() Meta { return r.meta }

// TotalRows returns the number of rows in the signal file.
func (r *Reader) TotalRows() uint64 { return r.total }

// ReadRows reads up to n rows from the current position. At the end of the
// session it returns (nil, 0, io.EOF).
func (r *Reader) ReadRows(n int) ([]float64, int, error) {
	if r.row >= r.total {
		return nil, 0, io.EOF
	}
	if remaining := r.total - r.row; uint64(n) > remaining {
		n = int(remaining)
	}
	cols := len(r.meta.Channels)
	data := make([]float64, n*cols)
	if err := binary.Read(r.signal, binary.LittleEndian, data); err != nil {
		return nil, 0, err
	}
	r.row += uint64(n)
	return data, n, nil
}

// MarkersIn returns the markers on rows in [start, end).
func (r *Reader) MarkersIn(start, end uint64) []RecordedMarker {
	var out []RecordedMarker
	for _, m := range r.markers {
		if m.Row >= start && m.Row < end {
			out = append(out, m)
		}
	}
	return out
}

// Rewind restarts playback from the first row.
func (r *Reader) Rewind() error {
	if _, err := r.signal.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r.row = 0
	return nil
}

// Close closes the signal file.
func (r *Reader) Close() error { return r.signal.Close() }
