// Package monitor serves a live view of a running acquisition over HTTP:
// a JSON status document and per-channel scope plots of the most recent
// samples.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/neuroline/ampstream/pkg/amp"
)

const defaultScopeRows = 2048

// Status is the JSON document served at /status.
type Status struct {
	State             string    `json:"state"`
	Driver            string    `json:"driver"`
	Channels          []string  `json:"channels"`
	SamplingFrequency float64   `json:"sampling_frequency"`
	TotalRows         uint64    `json:"total_rows"`
	LastChunkRows     int       `json:"last_chunk_rows"`
	Overflows         uint64    `json:"overflows"`
	Markers           uint64    `json:"markers"`
	Since             time.Time `json:"since"`
}

type Server struct {
	mu        sync.RWMutex
	srv       *http.Server
	status    Status
	scopes    map[string]*Scope
	scopeRows int
}

func NewServer(port int) *Server {
	s := &Server{
		srv:       &http.Server{Addr: fmt.Sprintf(":%d", port)},
		scopes:    make(map[string]*Scope),
		scopeRows: defaultScopeRows,
		status:    Status{State: amp.StateIdle.String(), Since: time.Now()},
	}
	s.srv.Handler = s.routes()
	return s
}

// SetScopeRows changes how many samples each channel scope retains. Takes
// effect at the next SetDescriptor.
func (s *Server) SetScopeRows(rows int) {
	s.mu.Lock()
	s.scopeRows = rows
	s.mu.Unlock()
}

// SetDescriptor installs the channel set and sampling frequency of the
// session about to stream, resetting the scopes and counters.
func (s *Server) SetDescriptor(driver string, channels []string, fs float64) {
	s.mu.Lock()
	s.status.Driver = driver
	s.status.Channels = append([]string(nil), channels...)
	s.status.SamplingFrequency = fs
	s.status.TotalRows = 0
	s.status.LastChunkRows = 0
	s.status.Overflows = 0
	s.status.Markers = 0
	s.status.Since = time.Now()
	s.scopes = make(map[string]*Scope, len(channels))
	for _, name := range channels {
		s.scopes[name] = NewScope(name, s.scopeRows)
	}
	s.mu.Unlock()
}

// SetState records a lifecycle transition.
func (s *Server) SetState(state amp.State) {
	s.mu.Lock()
	s.status.State = state.String()
	s.mu.Unlock()
}

// Observe feeds one delivered chunk into the status counters and scopes.
func (s *Server) Observe(chunk *amp.Chunk) {
	if chunk == nil {
		return
	}
	s.mu.Lock()
	s.status.TotalRows += uint64(chunk.Rows)
	s.status.LastChunkRows = chunk.Rows
	s.status.Markers += uint64(len(chunk.Markers))
	channels := s.status.Channels
	scopes := s.scopes
	s.mu.Unlock()

	if chunk.Empty() {
		return
	}
	for ch, name := range channels {
		if ch >= chunk.Channels {
			break
		}
		if scope, ok := scopes[name]; ok {
			scope.Append(chunk.Column(ch))
		}
	}
}

// ObserveOverflow counts a reported data gap.
func (s *Server) ObserveOverflow() {
	s.mu.Lock()
	s.status.Overflows++
	s.mu.Unlock()
}

func (s *Server) snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Channels = append([]string(nil), s.status.Channels...)
	return st
}

func (s *Server) routes() http.Handler {
	router := httprouter.New()

	router.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Location", "/status")
		w.WriteHeader(http.StatusFound)
	})

	router.GET("/status", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.snapshot())
	})

	router.GET("/scope/:channel", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		s.mu.RLock()
		scope, ok := s.scopes[params.ByName("channel")]
		s.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		img, err := scope.Image()
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	})

	return router
}

// Handler exposes the routes without binding a listener.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is canceled or Stop is called.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.srv.Shutdown(context.Background())
	}()

	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
