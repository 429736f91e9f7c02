// Package monitor serves a read-only admin API over a running simulation:
// the node registry, per-node state, in-flight correlations and the
// process's own resource use.
package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/axel-blaze-11/pheonix/internal/correlation"
	"github.com/axel-blaze-11/pheonix/internal/downstream"
)

// NodeLister reports the node registry.
type NodeLister interface {
	Nodes() []downstream.NodeInfo
}

// Correlations is the read side of the Switch's correlation store.
type Correlations interface {
	Len() int
	Snapshot() []correlation.Entry
}

// StateFunc returns a pointer to a point-in-time view of a node.
type StateFunc func() interface{}

// Monitor exposes the simulation over HTTP.
type Monitor struct {
	nodes        NodeLister
	correlations Correlations
	portNumber   int
	now          func() time.Time

	mu     sync.Mutex
	states map[string]StateFunc
	server *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor(nodes NodeLister, correlations Correlations) *Monitor {
	return &Monitor{
		nodes:        nodes,
		correlations: correlations,
		now:          time.Now,
		states:       make(map[string]StateFunc),
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced by a random one.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterNode makes a node's state available at /api/node/{name}.
func (m *Monitor) RegisterNode(name string, state StateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[name] = state
}

// Handler returns the monitor's routes.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/nodes", m.listNodes).Methods(http.MethodGet)
	r.HandleFunc("/api/node/{name}", m.nodeDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/correlations", m.listCorrelations).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)
	return r
}

// StartServer starts serving in the background and returns the base URL.
func (m *Monitor) StartServer() (string, error) {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", fmt.Errorf("failed to listen for monitor: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)
	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}

	m.mu.Lock()
	m.server = srv
	m.mu.Unlock()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("warning: monitor stopped: %v", err)
		}
	}()

	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)
	return url, nil
}

// Close stops the server started by StartServer.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		return nil
	}
	return m.server.Close()
}

func (m *Monitor) listNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := m.nodes.Nodes()

	m.mu.Lock()
	registered := make([]string, 0, len(m.states))
	for name := range m.states {
		registered = append(registered, name)
	}
	m.mu.Unlock()
	sort.Strings(registered)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes":      nodes,
		"registered": registered,
	})
}

func (m *Monitor) nodeDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	m.mu.Lock()
	state, ok := m.states[name]
	m.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "node not found: " + name})
		return
	}

	snapshot := state()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(snapshot)
	serializer.SetMaxDepth(1)

	var buf bytes.Buffer
	if err := serializer.Serialize(&buf); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

type correlationRsp struct {
	Key        string  `json:"key"`
	TxnID      string  `json:"txn_id"`
	Payer      string  `json:"payer"`
	Payee      string  `json:"payee"`
	Amount     string  `json:"amount"`
	AgeSeconds float64 `json:"age_seconds"`
}

func (m *Monitor) listCorrelations(w http.ResponseWriter, _ *http.Request) {
	now := m.now()
	entries := m.correlations.Snapshot()

	rsp := make([]correlationRsp, 0, len(entries))
	for _, e := range entries {
		rsp = append(rsp, correlationRsp{
			Key:        e.Key,
			TxnID:      e.Details.TxnID,
			Payer:      e.Details.Payer.Addr,
			Payee:      e.Details.Payee.Addr,
			Amount:     e.Details.Amount.StringFixed(2),
			AgeSeconds: now.Sub(e.CreatedAt).Seconds(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   m.correlations.Len(),
		"entries": rsp,
	})
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	memory, err := proc.MemoryInfo()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	time.Sleep(time.Second)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, prof)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
