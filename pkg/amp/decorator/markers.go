package decorator

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

type stampedMarker struct {
	row   uint64 // absolute session row the label was stamped against
	label string
}

// markerSource accepts TCP connections delivering newline-delimited
// marker labels. Each label is stamped with the caller-supplied absolute
// row estimate at arrival and held until the wrapper injects it into a
// chunk.
type markerSource struct {
	ln     net.Listener
	stamp  func() uint64
	logger zerolog.Logger

	mu      sync.Mutex
	pending []stampedMarker
}

func newMarkerSource(port int, stamp func() uint64, logger zerolog.Logger) (*markerSource, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return &markerSource{ln: ln, stamp: stamp, logger: logger}, nil
}

// port returns the bound TCP port.
func (m *markerSource) port() int {
	return m.ln.Addr().(*net.TCPAddr).Port
}

// run accepts connections until ctx is canceled or the listener closes.
func (m *markerSource) run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		m.ln.Close()
	}()

	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		go m.readConn(conn)
	}
}

func (m *markerSource) readConn(conn net.Conn) {
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		label := sc.Text()
		if label == "" {
			continue
		}
		row := m.stamp()
		m.mu.Lock()
		m.pending = append(m.pending, stampedMarker{row: row, label: label})
		m.mu.Unlock()
		m.logger.Debug().Str("label", label).Uint64("row", row).Msg("marker received")
	}
}

// take pops every pending marker.
func (m *markerSource) take() []stampedMarker {
	m.mu.Lock()
	out := m.pending
	m.pending = nil
	m.mu.Unlock()
	return out
}

func (m *markerSource) close() {
	m.ln.Close()
}
