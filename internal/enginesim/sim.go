// Package enginesim is a stand-in for the real scan engine daemon, used in
// development and tests. It speaks the same command API and event feed the
// agent expects, performs real quarantine-directory file operations, and
// replays configured detections instead of detecting anything itself.
package enginesim

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/model"
)

// Server is the simulated engine daemon.
type Server struct {
	cfg      Config
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu       sync.Mutex
	conns    map[*websocket.Conn]*sync.Mutex
	realtime bool
	scanning bool

	// recentHits suppresses duplicate realtime reports per path, the way
	// a filesystem watcher would debounce its event storms.
	recentHits map[string]time.Time
}

const realtimeSuppressWindow = 2 * time.Second

// NewServer creates a simulator. The quarantine directory is created lazily
// on the first isolate.
func NewServer(cfg Config, logger logging.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger.With(logging.Field{Key: "component", Value: "enginesim"}),
		conns:      make(map[*websocket.Conn]*sync.Mutex),
		realtime:   true,
		recentHits: make(map[string]time.Time),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	r := chi.NewRouter()
	r.Post("/scan/full", s.handleStartScan(false))
	r.Post("/scan/quick", s.handleStartScan(true))
	r.Post("/realtime", s.handleSetRealtime)
	r.Post("/quarantine/isolate", s.handleIsolate)
	r.Post("/quarantine/restore", s.handleRestore)
	r.Post("/quarantine/delete", s.handleDelete)
	r.Get("/probe", s.handleProbe)
	r.Get("/events", s.handleEvents)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler so tests can mount the simulator on an
// httptest server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start blocks serving the command API and event feed.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("engine simulator listening", logging.Field{Key: "addr", Value: addr})
	return http.ListenAndServe(addr, s)
}

// ---- command handlers ----

func (s *Server) handleStartScan(quick bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if s.scanning {
			s.mu.Unlock()
			writeError(w, http.StatusConflict, "scan already running")
			return
		}
		s.scanning = true
		s.mu.Unlock()

		go s.runScriptedScan(quick)
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleSetRealtime(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	s.mu.Lock()
	s.realtime = body.Enabled
	s.mu.Unlock()
	s.logger.Info("realtime toggled", logging.Field{Key: "enabled", Value: body.Enabled})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIsolate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Paths []string `json:"paths"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.isolateFiles(body.Paths); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items []model.RestoreItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.restoreFiles(body.Items); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FileNames []string `json:"fileNames"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.deleteQuarantineFiles(body.FileNames); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	results := make([]model.ProbeResult, 0, len(s.cfg.ScanRoots)+1)
	for i, root := range s.cfg.ScanRoots {
		res := model.ProbeResult{Label: fmt.Sprintf("scan_root_%d", i), Path: root, OK: true}
		if _, err := os.ReadDir(root); err != nil {
			res.OK = false
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	qres := model.ProbeResult{Label: "quarantine", Path: s.cfg.QuarantineDir, OK: true}
	if err := os.MkdirAll(s.cfg.QuarantineDir, 0o700); err != nil {
		qres.OK = false
		qres.Error = err.Error()
	}
	results = append(results, qres)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ---- event feed ----

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading event feed", logging.Field{Key: "error", Value: err.Error()})
		return
	}

	s.mu.Lock()
	s.conns[conn] = &sync.Mutex{}
	s.mu.Unlock()

	// Drain (and discard) client frames so we notice the disconnect.
	go func() {
		defer s.dropConn(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Broadcast pushes an event to every connected agent.
func (s *Server) Broadcast(ev model.Event) {
	s.mu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for c, mu := range s.conns {
		targets[c] = mu
	}
	s.mu.Unlock()

	for conn, mu := range targets {
		mu.Lock()
		err := conn.WriteJSON(ev)
		mu.Unlock()
		if err != nil {
			s.dropConn(conn)
		}
	}
}

// ReportDetection emits a realtime detection, debounced per path. No event
// is sent while realtime protection is disabled.
func (s *Server) ReportDetection(d model.Detection) {
	s.mu.Lock()
	if !s.realtime {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	if last, ok := s.recentHits[d.Path]; ok && now.Sub(last) < realtimeSuppressWindow {
		s.mu.Unlock()
		return
	}
	s.recentHits[d.Path] = now
	if len(s.recentHits) > 256 {
		cutoff := now.Add(-realtimeSuppressWindow)
		for p, t := range s.recentHits {
			if t.Before(cutoff) {
				delete(s.recentHits, p)
			}
		}
	}
	s.mu.Unlock()

	s.Broadcast(model.Event{
		Channel: model.ChannelRealtimeThreat,
		Threats: []model.Detection{d},
	})
}

// ---- scripted scan ----

func (s *Server) runScriptedScan(quick bool) {
	defer func() {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
	}()

	files := s.collectFiles(quick)
	total := uint(len(files))

	for i, f := range files {
		s.Broadcast(model.Event{
			Channel: model.ChannelScanProgress,
			Progress: &model.ScanProgress{
				Current: uint(i + 1),
				Total:   total,
				File:    f,
			},
		})
		time.Sleep(s.cfg.ProgressInterval)
	}

	detections := s.cfg.Detections
	if detections == nil {
		detections = []model.Detection{}
	}
	s.Broadcast(model.Event{
		Channel: model.ChannelScanFinished,
		Threats: detections,
	})
	s.logger.Info("scripted scan finished",
		logging.Field{Key: "files", Value: len(files)},
		logging.Field{Key: "detections", Value: len(detections)})
}

func (s *Server) collectFiles(quick bool) []string {
	max := s.cfg.MaxFiles
	if max <= 0 {
		max = 200
	}
	if quick {
		max /= 2
	}

	var files []string
	for _, root := range s.cfg.ScanRoots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if len(files) >= max {
				return filepath.SkipAll
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
		if len(files) >= max {
			break
		}
	}
	return files
}
