package decorator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neuroline/ampstream/pkg/amp"
	"github.com/neuroline/ampstream/pkg/amp/driver/replay"
	"github.com/neuroline/ampstream/pkg/amp/driver/sim"
	"github.com/neuroline/ampstream/pkg/amp/session"
)

func simConfig() sim.Config {
	return sim.Config{
		SamplingFrequency: 512,
		Channels:          []string{"C3", "C4"},
		BlockInterval:     time.Millisecond,
	}
}

func TestForwardsStateMachine(t *testing.T) {
	a, err := New(sim.New(), WithDriverName(sim.DriverName))
	require.NoError(t, err)

	// Ordering errors come straight from the inner driver.
	_, err = a.Channels()
	require.ErrorIs(t, err, amp.ErrNotConfigured)
	require.ErrorIs(t, a.Start(context.Background()), amp.ErrNotConfigured)

	require.NoError(t, a.Configure(simConfig()))

	chans, err := a.Channels()
	require.NoError(t, err)
	require.Equal(t, []string{"C3", "C4"}, chans)

	fs, err := a.SamplingFrequency()
	require.NoError(t, err)
	require.Equal(t, 512.0, fs)

	require.NoError(t, a.Start(context.Background()))
	require.ErrorIs(t, a.Configure(simConfig()), amp.ErrInvalidState)
	require.NoError(t, a.Stop())

	// Fresh cycle after stop.
	require.NoError(t, a.Configure(simConfig()))
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop())
}

func TestStartFailureForwardsUnchanged(t *testing.T) {
	inner := sim.New()
	a, err := New(inner, WithDriverName(sim.DriverName))
	require.NoError(t, err)

	cfg := simConfig()
	cfg.StartFailures = 1
	require.NoError(t, a.Configure(cfg))

	require.ErrorIs(t, a.Start(context.Background()), amp.ErrUnavailable)
	require.Equal(t, "", a.SessionDir())

	// Retry succeeds without reconfiguring.
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop())
}

func collectRows(t *testing.T, a amp.Amplifier, want int) []*amp.Chunk {
	t.Helper()
	var chunks []*amp.Chunk
	total := 0
	deadline := time.Now().Add(5 * time.Second)
	for total < want {
		require.False(t, time.Now().After(deadline), "collected %d/%d rows before deadline", total, want)
		chunk, err := a.GetData()
		require.NoError(t, err)
		total += chunk.Rows
		chunks = append(chunks, chunk)
		time.Sleep(time.Millisecond)
	}
	return chunks
}

func TestMarkerInjection(t *testing.T) {
	a, err := New(sim.New(),
		WithDriverName(sim.DriverName),
		WithMarkerPort(0))
	require.NoError(t, err)

	require.NoError(t, a.Configure(simConfig()))
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	port := a.MarkerPort()
	require.NotZero(t, port)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	_, err = fmt.Fprintln(conn, "stimulus")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	found := false
	deadline := time.Now().Add(5 * time.Second)
	for !found && time.Now().Before(deadline) {
		chunk, err := a.GetData()
		require.NoError(t, err)
		for _, m := range chunk.Markers {
			require.GreaterOrEqual(t, m.Offset, 0)
			require.Less(t, m.Offset, chunk.Rows)
			if m.Label == "stimulus" {
				found = true
			}
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, found, "injected marker never delivered")
}

func TestRecordThenReplayRoundTrip(t *testing.T) {
	recordRoot := t.TempDir()
	a, err := New(sim.New(),
		WithDriverName(sim.DriverName),
		WithRecorder(recordRoot))
	require.NoError(t, err)

	require.NoError(t, a.Configure(simConfig()))
	require.NoError(t, a.Start(context.Background()))

	dir := a.SessionDir()
	require.NotEmpty(t, dir)

	chunks := collectRows(t, a, 100)
	recorded := 0
	for _, c := range chunks {
		recorded += c.Rows
	}
	require.NoError(t, a.Stop())
	require.Equal(t, "", a.SessionDir())

	meta, err := session.ReadMeta(dir)
	require.NoError(t, err)
	require.Equal(t, sim.DriverName, meta.Driver)
	require.Equal(t, []string{"C3", "C4"}, meta.Channels)
	require.Equal(t, 512.0, meta.SamplingFrequency)

	// The recording plays back through the replay driver with the same
	// row count and shape.
	r := replay.New()
	require.NoError(t, r.Configure(replay.Config{Dir: dir, BlockRows: 64}))
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	replayed := 0
	for {
		chunk, err := r.GetData()
		require.NoError(t, err)
		if chunk.Rows == 0 {
			break
		}
		require.Equal(t, 2, chunk.Channels)
		replayed += chunk.Rows
	}
	require.Equal(t, recorded, replayed)
}

func TestInteractiveForwarding(t *testing.T) {
	a, err := New(sim.New())
	require.NoError(t, err)
	err = amp.ConfigureInteractive(context.Background(), a)
	require.ErrorIs(t, err, amp.ErrNotSupported)
}

type overflowAmp struct {
	amp.Lifecycle
	polls int
}

func (o *overflowAmp) Configure(cfg interface{}) error {
	o.Set(amp.StateConfigured)
	return nil
}

func (o *overflowAmp) Start(ctx context.Context) error {
	o.Set(amp.StateStreaming)
	return nil
}

func (o *overflowAmp) Stop() error {
	o.Set(amp.StateIdle)
	return nil
}

func (o *overflowAmp) GetData() (*amp.Chunk, error) {
	o.polls++
	if o.polls == 1 {
		return nil, fmt.Errorf("%w: 10 rows lost", amp.ErrOverflow)
	}
	return &amp.Chunk{Data: []float64{1}, Rows: 1, Channels: 1, Markers: []amp.Marker{}}, nil
}

func (o *overflowAmp) Channels() ([]string, error) { return []string{"x"}, nil }

func (o *overflowAmp) SamplingFrequency() (float64, error) { return 128, nil }

func TestOverflowForwarded(t *testing.T) {
	a, err := New(&overflowAmp{})
	require.NoError(t, err)
	require.NoError(t, a.Configure(nil))
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	_, err = a.GetData()
	require.True(t, errors.Is(err, amp.ErrOverflow))

	// The session survives the overflow report.
	chunk, err := a.GetData()
	require.NoError(t, err)
	require.Equal(t, 1, chunk.Rows)
}
