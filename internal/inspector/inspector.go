// Package inspector serves a small debugger endpoint over WebSocket. It
// speaks a subset of the Chrome DevTools protocol: clients can evaluate
// expressions and resume a session waiting for a debugger, and they receive
// console output and uncaught exceptions as events.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// Evaluator evaluates an expression and returns a printed result. ctx is
// cancelled when the requesting client disconnects.
type Evaluator func(ctx context.Context, expr string) (string, error)

// Server is an inspector endpoint.
type Server struct {
	addr   string
	eval   Evaluator
	logger *zap.Logger
	id     string

	upgrader websocket.Upgrader
	ln       net.Listener
	srv      *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}

	resumed    chan struct{}
	resumeOnce sync.Once
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// New returns a server for addr. Call Start to listen.
func New(addr string, eval Evaluator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:    addr,
		eval:    eval,
		logger:  logger,
		id:      uuid.NewString(),
		clients: make(map[*client]struct{}),
		resumed: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("inspector listen: %w", err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/json", s.handleList)
	mux.HandleFunc("/json/list", s.handleList)
	mux.HandleFunc("/json/version", s.handleVersion)
	mux.HandleFunc("/ws/"+s.id, s.handleWS)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("inspector server quit unexpectedly", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// URL returns the WebSocket URL of the session.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + "/ws/" + s.id
}

// Close stops the server and disconnects every client. A session waiting
// for a debugger is released.
func (s *Server) Close() error {
	s.resume()
	s.mu.Lock()
	for c := range s.clients {
		_ = c.conn.Close()
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// WaitForDebugger blocks until a client sends Runtime.runIfWaitingForDebugger.
func (s *Server) WaitForDebugger(ctx context.Context) error {
	select {
	case <-s.resumed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) resume() {
	s.resumeOnce.Do(func() { close(s.resumed) })
}

type target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, []target{{
		ID:                   s.id,
		Type:                 "node",
		Title:                "guestjs",
		WebSocketDebuggerURL: s.URL(),
	}})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"Browser": "guestjs", "Protocol-Version": "1.3"})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}
	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	var pending sync.WaitGroup
	defer func() {
		cancel()
		pending.Wait()
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.send(response{Error: &rpcError{Code: -32700, Message: "parse error"}})
			continue
		}
		if req.Method == "Runtime.evaluate" {
			// evaluations wait for the host; keep reading meanwhile so a
			// resume request is never stuck behind one
			pending.Add(1)
			go func() {
				defer pending.Done()
				if err := c.send(s.handle(ctx, req)); err != nil {
					s.logger.Debug("inspector client gone", zap.Error(err))
				}
			}()
			continue
		}
		if err := c.send(s.handle(ctx, req)); err != nil {
			s.logger.Debug("inspector client gone", zap.Error(err))
			return
		}
	}
}

// Broadcast sends an event to every connected client.
func (s *Server) Broadcast(method string, params any) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		if err := c.send(event{Method: method, Params: params}); err != nil {
			s.logger.Debug("dropping inspector event", zap.String("method", method), zap.Error(err))
		}
	}
}

// ConsoleAPICalled reports guest console output.
func (s *Server) ConsoleAPICalled(level, text string) {
	s.Broadcast("Runtime.consoleAPICalled", consoleParams{
		Type:      level,
		Args:      []remoteObject{{Type: "string", Value: text}},
		Timestamp: float64(time.Now().UnixMilli()),
	})
}

// ExceptionThrown reports an uncaught guest failure.
func (s *Server) ExceptionThrown(text string) {
	s.Broadcast("Runtime.exceptionThrown", exceptionParams{
		Timestamp:        float64(time.Now().UnixMilli()),
		ExceptionDetails: exceptionDetails{Text: text},
	})
}
