// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package apiserver implements the optional compiler-as-a-service mode
// (spec.md §6.3/SPEC_FULL.md §11): an HTTP API wrapping internal/driver so
// a `flywall-compile -serve` process can be scraped for Prometheus metrics
// and driven over the network instead of invoked once per process.
package apiserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/driver"
	compilemetrics "grimm.is/flywall/internal/metrics/compile"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

// Server wraps a read-only object-model Store and a single Driver shared
// across requests. Concurrent /compile calls that both set a debug filter
// serialize against compileMu so that the per-process DebugOut/DebugFilter
// pair (internal/driver.Driver's only mutable fields) stays consistent for
// the duration of one compile; debug-free compiles are the common case for
// a long-running -serve instance and don't contend on it in spirit, though
// this implementation serializes all compiles for simplicity.
type Server struct {
	store   *objectmodel.Store
	driver  *driver.Driver
	metrics *compilemetrics.Metrics

	compileMu sync.Mutex

	upgrader     websocket.Upgrader
	debugMu      sync.Mutex
	debugClients map[*websocket.Conn]struct{}
}

// NewServer builds a Server over an already-loaded Store (see
// internal/loader.Load) and a metrics set the caller has already
// registered with RegisterMetrics.
func NewServer(store *objectmodel.Store, m *compilemetrics.Metrics) *Server {
	s := &Server{
		store:        store,
		driver:       driver.New(store),
		metrics:      m,
		debugClients: make(map[*websocket.Conn]struct{}),
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	return s
}

// Routes builds the mux.Router backing the -serve HTTP API: POST /compile,
// GET /metrics (Prometheus exposition), and GET /debug (a websocket
// forwarding live §6.3 debug-interceptor output to every connected client).
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/compile", s.handleCompile).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/debug", s.handleDebugWS).Methods(http.MethodGet)
	return r
}

type compileRequest struct {
	Firewall      string `json:"firewall"`
	Family        string `json:"family"` // "v4" or "v6"
	Backend       string `json:"backend"`
	DebugKind     string `json:"debug_rule_kind,omitempty"`
	DebugPosition int    `json:"debug_position,omitempty"`
}

type compileResponse struct {
	Firewall string `json:"firewall"`
	Status   string `json:"status"`
	Output   string `json:"output"`
	Warnings int    `json:"warnings"`
	Errors   int    `json:"errors"`
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Firewall == "" {
		http.Error(w, "firewall is required", http.StatusBadRequest)
		return
	}

	fwHandle, ok := findFirewall(s.store, req.Firewall)
	if !ok {
		http.Error(w, "no firewall named "+req.Firewall, http.StatusNotFound)
		return
	}
	fw, _ := s.store.Get(fwHandle)

	fam := objectmodel.FamilyIPv4
	if req.Family == "v6" {
		fam = objectmodel.FamilyIPv6
	}
	backend := driver.Backend(req.Backend)
	if backend == "" {
		backend = driver.BackendIPTables
	}

	s.compileMu.Lock()
	if req.DebugKind != "" {
		s.driver.DebugOut = broadcastWriter{s}
		s.driver.DebugFilter = pipeline.DebugFilter{
			Kind:     pipeline.RuleSetKind(req.DebugKind),
			Position: req.DebugPosition,
			Enabled:  true,
		}
	} else {
		s.driver.DebugOut = nil
		s.driver.DebugFilter = pipeline.DebugFilter{}
	}

	start := time.Now()
	result, err := s.driver.CompileFirewall(fw, fam, backend, compilectx.Options{})
	elapsed := time.Since(start)
	s.compileMu.Unlock()

	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveCompile("error", elapsed, 0, 1)
		}
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveCompile(result.Status, elapsed, result.Warnings, result.Errors)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(compileResponse{
		Firewall: result.Firewall,
		Status:   result.Status,
		Output:   result.Output,
		Warnings: result.Warnings,
		Errors:   result.Errors,
	})
}

func (s *Server) handleDebugWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.debugMu.Lock()
	s.debugClients[conn] = struct{}{}
	s.debugMu.Unlock()

	defer func() {
		s.debugMu.Lock()
		delete(s.debugClients, conn)
		s.debugMu.Unlock()
		conn.Close()
	}()

	// Drain and discard inbound frames until the client disconnects; this
	// connection is subscribe-only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcastWriter fans debug-interceptor output (internal/pipeline.
// Interceptor's io.Writer) out to every connected /debug websocket client.
type broadcastWriter struct{ s *Server }

func (b broadcastWriter) Write(p []byte) (int, error) {
	b.s.debugMu.Lock()
	defer b.s.debugMu.Unlock()
	for conn := range b.s.debugClients {
		if err := conn.WriteMessage(websocket.TextMessage, p); err != nil {
			conn.Close()
			delete(b.s.debugClients, conn)
		}
	}
	return len(p), nil
}

func findFirewall(store *objectmodel.Store, name string) (objectmodel.Handle, bool) {
	for _, o := range store.All() {
		if o.Kind == objectmodel.KindFirewall && o.Name == name {
			return o.ID, true
		}
	}
	return objectmodel.InvalidHandle, false
}
