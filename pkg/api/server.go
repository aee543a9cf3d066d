// Package api exposes machine status and commands over HTTP: REST-style
// endpoints for simple queries, JSON-RPC over POST and WebSocket for
// front ends that want command dispatch and periodic status notifications.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"coolctl/pkg/engine"
	"coolctl/pkg/fans"
)

// Controller is the engine surface the server drives.
type Controller interface {
	Status() engine.StatusReport
	SetFanSpeed(name string, speed float64) error
	M106(index *int, s *float64) error
	M107(index *int) error
	SetTemperatureFanTarget(name string, p fans.AdjustParams) error
	InvokeShutdown(reason string)
	OnRestart()
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	ctrl Controller
	log  *zap.Logger
	addr string

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[int64]*wsClient
	nextID  int64

	running   atomic.Bool
	broadcast time.Duration
	metrics   http.Handler
}

// New creates a server listening on addr once Start is called.
func New(addr string, ctrl Controller, log *zap.Logger) *Server {
	return &Server{
		ctrl:      ctrl,
		log:       log,
		addr:      addr,
		clients:   make(map[int64]*wsClient),
		broadcast: time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// MountMetrics serves h at /metrics. Must be called before Start.
func (s *Server) MountMetrics(h http.Handler) {
	s.metrics = h
}

// Handler returns the route mux, also used directly by tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/emergency_stop", s.handleEmergencyStop)
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start serves until Stop or a listen error.
func (s *Server) Start() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}
	s.running.Store(true)
	go s.broadcastLoop()
	s.log.Info("api server listening", zap.String("addr", s.addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes the listener and every client connection.
func (s *Server) Stop() error {
	s.running.Store(false)
	s.mu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.mu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) dispatch(method string, params json.RawMessage) (any, error) {
	switch method {
	case "machine.status":
		return s.ctrl.Status(), nil
	case "fan.set_speed":
		var p struct {
			Fan   string   `json:"fan"`
			Speed *float64 `json:"speed"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if p.Fan == "" {
			return nil, fmt.Errorf("missing 'fan' parameter")
		}
		speed := 0.0
		if p.Speed != nil {
			speed = *p.Speed
		}
		return okResult(s.ctrl.SetFanSpeed(p.Fan, speed))
	case "fan.m106":
		var p struct {
			T *int     `json:"t"`
			S *float64 `json:"s"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return okResult(s.ctrl.M106(p.T, p.S))
	case "fan.m107":
		var p struct {
			T *int `json:"t"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return okResult(s.ctrl.M107(p.T))
	case "temperature_fan.set_target":
		var p struct {
			TemperatureFan string   `json:"temperature_fan"`
			Target         *float64 `json:"target"`
			MinSpeed       *float64 `json:"min_speed"`
			MaxSpeed       *float64 `json:"max_speed"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if p.TemperatureFan == "" {
			return nil, fmt.Errorf("missing 'temperature_fan' parameter")
		}
		return okResult(s.ctrl.SetTemperatureFanTarget(p.TemperatureFan, fans.AdjustParams{
			Target:   p.Target,
			MinSpeed: p.MinSpeed,
			MaxSpeed: p.MaxSpeed,
		}))
	case "machine.emergency_stop":
		s.ctrl.InvokeShutdown("emergency stop requested via api")
		return map[string]any{}, nil
	case "machine.restart":
		s.ctrl.OnRestart()
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}

func unmarshalParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func okResult(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"result": s.ctrl.Status()})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ctrl.InvokeShutdown("emergency stop requested via api")
	s.writeJSON(w, map[string]any{"result": map[string]any{}})
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, rpcResponse{JSONRPC: "2.0",
			Error: &rpcError{Code: -32700, Message: "Parse error"}})
		return
	}
	result, err := s.dispatch(req.Method, req.Params)
	if err != nil {
		s.writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: -32000, Message: err.Error()}})
		return
	}
	s.writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("response write failed", zap.Error(err))
	}
}

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	send   chan any
	done   chan struct{}
	once   sync.Once
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		server: s,
		send:   make(chan any, 64),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.log.Debug("websocket client connected", zap.Int64("client", c.id))

	go c.writePump()
	c.readPump()
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.log.Debug("websocket client disconnected", zap.Int64("client", c.id))
}

func (c *wsClient) enqueue(msg any) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Slow client, drop the message rather than stall the broadcaster.
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()
	c.conn.SetReadLimit(64 * 1024)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.enqueue(rpcResponse{JSONRPC: "2.0",
				Error: &rpcError{Code: -32700, Message: "Parse error"}})
			continue
		}
		result, err := c.server.dispatch(req.Method, req.Params)
		if err != nil {
			c.enqueue(rpcResponse{JSONRPC: "2.0", ID: req.ID,
				Error: &rpcError{Code: -32000, Message: err.Error()}})
			continue
		}
		c.enqueue(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
	}
}

func (c *wsClient) writePump() {
	ping := time.NewTicker(30 * time.Second)
	defer func() {
		ping.Stop()
		c.close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// broadcastLoop pushes a status notification to every connected websocket
// client once per broadcast interval.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.broadcast)
	defer ticker.Stop()
	for s.running.Load() {
		<-ticker.C
		status := s.ctrl.Status()
		note := map[string]any{
			"jsonrpc": "2.0",
			"method":  "notify_status_update",
			"params":  []any{status},
		}
		s.mu.Lock()
		for _, c := range s.clients {
			c.enqueue(note)
		}
		s.mu.Unlock()
	}
}
