package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/hplc-pump/internal/logger"
	"github.com/shaunagostinho/hplc-pump/internal/pump"
)

// StatusPublisher receives every polled status.
type StatusPublisher interface {
	Publish(ctx context.Context, pumpName string, st *pump.Status) error
}

// Server polls one pump and serves its status over HTTP and WebSocket.
type Server struct {
	cfg      *Config
	log      *logrus.Logger
	recorder *logger.Recorder
	metrics  *Metrics
	pub      StatusPublisher
	name     string

	// pumpMu serializes all pump I/O; a Pump is not safe for concurrent use.
	pumpMu sync.Mutex
	pump   *pump.Pump

	lastMu sync.RWMutex
	last   *pump.Status

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Pump   *PumpInfo    `json:"pump,omitempty"`
	Status *pump.Status `json:"status,omitempty"`
	Error  string       `json:"error,omitempty"` // last poll failure
	Stamp  int64        `json:"stamp"`           // Unix ms
}

// PumpInfo is the identification captured when the pump was opened.
type PumpInfo struct {
	Name              string       `json:"name"`
	Version           string       `json:"version"`
	Head              string       `json:"head"`
	PressureUnits     string       `json:"pressureUnits"`
	MaxFlowrate       float64      `json:"maxFlowrate"`
	MaxPressure       float64      `json:"maxPressure"`
	FlowratePrecision int          `json:"flowratePrecision"`
	Status            *pump.Status `json:"status,omitempty"`
}

// New creates a Server for an open pump. pub may be nil.
func New(cfg *Config, p *pump.Pump, pub StatusPublisher, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		recorder: logger.NewRecorder(cfg.Recording),
		metrics:  NewMetrics(),
		pub:      pub,
		name:     cfg.PumpName(),
		pump:     p,
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/api/pump", s.handlePump)
	mux.HandleFunc("/api/run", s.control("run", (*pump.Pump).Run))
	mux.HandleFunc("/api/stop", s.control("stop", (*pump.Pump).Stop))
	mux.HandleFunc("/api/clear-faults", s.control("clear_faults", (*pump.Pump).ClearFaults))
	mux.HandleFunc("/api/flowrate", s.handleFlowrate)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/recording", s.handleRecording)

	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// Run starts the HTTP server and the poll loop, and closes the pump when
// ctx is done.
func (s *Server) Run(ctx context.Context) error {
	interval := s.cfg.PollInterval()
	block := s.pump.MaxBlock(s.cfg.Serial.ReadTimeout)
	if block > interval {
		s.log.Warnf("[server] a failing command can block %s, longer than the %s poll interval", block, interval)
	}

	go s.pollLoop(ctx, interval)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Infof("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// pollLoop reads the pump status every interval, then broadcasts, records
// and publishes it.
func (s *Server) pollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.recorder.Close()
			s.pumpMu.Lock()
			if err := s.pump.Close(); err != nil {
				s.log.Warnf("[pump] close: %v", err)
			}
			s.pumpMu.Unlock()
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll performs one status read.
func (s *Server) poll(ctx context.Context) {
	start := time.Now()
	s.pumpMu.Lock()
	st, err := s.pump.Status()
	s.pumpMu.Unlock()
	s.metrics.PollDuration.Observe(time.Since(start).Seconds())
	s.metrics.Observe("status", err)

	if err != nil {
		s.log.Warnf("[pump] status: %v", err)
		s.broadcast(Frame{Error: err.Error(), Stamp: time.Now().UnixMilli()})
		return
	}

	s.lastMu.Lock()
	s.last = st
	s.lastMu.Unlock()

	s.metrics.SetStatus(st)
	s.broadcast(Frame{Status: st, Stamp: st.Stamp.UnixMilli()})
	s.recorder.Record(st)

	if s.pub != nil {
		if err := s.pub.Publish(ctx, s.name, st); err != nil {
			s.log.Warnf("[publish] %v", err)
		}
	}
}

// Last returns the most recent status, nil before the first poll.
func (s *Server) Last() *pump.Status {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

func (s *Server) info() *PumpInfo {
	return &PumpInfo{
		Name:              s.name,
		Version:           s.pump.Version(),
		Head:              s.pump.Head(),
		PressureUnits:     s.pump.PressureUnits(),
		MaxFlowrate:       s.pump.MaxFlowrate(),
		MaxPressure:       s.pump.MaxPressure(),
		FlowratePrecision: s.pump.FlowratePrecision(),
		Status:            s.Last(),
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.metrics.Clients.Set(float64(n))

	s.log.Infof("[ws] client connected (%d total)", n)

	// Initial frame: identification and last known status
	info := s.info()
	if data, err := json.Marshal(Frame{Pump: info, Status: info.Status, Stamp: time.Now().UnixMilli()}); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects disconnects)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			close(client.send)
			n := len(s.clients)
			s.clientsMu.Unlock()
			s.metrics.Clients.Set(float64(n))
			s.log.Infof("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handlePump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.info())
}

// control wraps a parameterless pump command as a POST endpoint.
func (s *Server) control(op string, fn func(*pump.Pump) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.pumpMu.Lock()
		err := fn(s.pump)
		s.pumpMu.Unlock()
		s.respond(w, op, err)
	}
}

type flowrateRequest struct {
	Flowrate *float64 `json:"flowrate"`
}

func (s *Server) handleFlowrate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.pumpMu.Lock()
		f, err := s.pump.Flowrate()
		s.pumpMu.Unlock()
		s.metrics.Observe("flowrate", err)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]float64{"flowrate": f})

	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var req flowrateRequest
		if err := json.Unmarshal(body, &req); err != nil || req.Flowrate == nil {
			http.Error(w, `expected {"flowrate": <mL/min>}`, http.StatusBadRequest)
			return
		}
		s.pumpMu.Lock()
		err = s.pump.SetFlowrate(*req.Flowrate)
		s.pumpMu.Unlock()
		s.respond(w, "set_flowrate", err)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

type recordingState struct {
	Enabled *bool `json:"enabled"`
}

// handleRecording reports or toggles CSV recording.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var req recordingState
		if err := json.Unmarshal(body, &req); err != nil || req.Enabled == nil {
			http.Error(w, `expected {"enabled": true|false}`, http.StatusBadRequest)
			return
		}
		s.recorder.SetEnabled(*req.Enabled)
		s.log.Infof("[logger] recording enabled=%v", *req.Enabled)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	on := s.recorder.IsEnabled()
	writeJSON(w, http.StatusOK, recordingState{Enabled: &on})
}

func (s *Server) respond(w http.ResponseWriter, op string, err error) {
	s.metrics.Observe(op, err)
	if err != nil {
		s.log.Warnf("[pump] %s: %v", op, err)
		writeError(w, err)
		return
	}
	s.log.Infof("[pump] %s", op)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps pump errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch outcome(err) {
	case "validation_error":
		code = http.StatusBadRequest
	case "device_error":
		code = http.StatusConflict
	case "communication_error":
		code = http.StatusGatewayTimeout
	case "closed":
		code = http.StatusServiceUnavailable
	case "parse_error":
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
