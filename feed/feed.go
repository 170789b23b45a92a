// Package feed exposes a replay run over WebSocket. Subscribers attach at
// /feed and receive every replayed event as a JSON frame; slow subscribers
// are dropped rather than allowed to stall the replay loop.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/tickwork/tickwork/events"
	"github.com/tickwork/tickwork/logger"
	"github.com/tickwork/tickwork/market"
)

const (
	// DefaultPort is the TCP port for ListenAndServe.
	DefaultPort = 8400

	// DefaultPingInterval is how often idle sessions are pinged.
	DefaultPingInterval = 30 * time.Second

	// DefaultWriteWait is the write deadline for each frame.
	DefaultWriteWait = 10 * time.Second

	// DefaultSendBuffer is the per-session outbound frame buffer. A full
	// buffer marks the session too slow and drops it.
	DefaultSendBuffer = 64

	// DefaultMaxClients caps concurrent sessions.
	DefaultMaxClients = 256

	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second

	// readLimit bounds inbound messages; subscribers only send control frames.
	readLimit = 512
)

// EventSource yields the events of a replay pass, typically a paced
// engine iterator.
type EventSource interface {
	Next(ctx context.Context) (ev market.Event, ok bool, err error)
}

// Frame is the JSON message broadcast to every subscriber.
type Frame struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol"`
	Period int         `json:"period,omitempty"`
	TS     float64     `json:"ts"`
	Data   market.Item `json:"data"`
}

func newFrame(ev market.Event) Frame {
	return Frame{
		Type:   ev.Info.Type.String(),
		Symbol: ev.Info.Symbol,
		Period: ev.Info.Period,
		TS:     ev.Data.Time(),
		Data:   ev.Data,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithPort sets the TCP port for ListenAndServe.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithMaxClients caps concurrent sessions; further upgrades get 503.
func WithMaxClients(n int) Option {
	return func(s *Server) { s.maxClients = n }
}

// WithPingInterval sets the session keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// WithSendBuffer sets the per-session outbound frame buffer.
func WithSendBuffer(n int) Option {
	return func(s *Server) { s.sendBuffer = n }
}

// WithWriteWait sets the per-frame write deadline.
func WithWriteWait(d time.Duration) Option {
	return func(s *Server) { s.writeWait = d }
}

// WithEmitter sets the event emitter for subscriber lifecycle events.
func WithEmitter(emitter *events.Emitter) Option {
	return func(s *Server) { s.emitter = emitter }
}

// Server broadcasts replay events to WebSocket subscribers.
type Server struct {
	port         int
	maxClients   int
	pingInterval time.Duration
	writeWait    time.Duration
	sendBuffer   int
	emitter      *events.Emitter

	upgrader websocket.Upgrader
	slots    *semaphore.Weighted
	httpSrv  *http.Server

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

// NewServer creates a replay feed server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		port:         DefaultPort,
		maxClients:   DefaultMaxClients,
		pingInterval: DefaultPingInterval,
		writeWait:    DefaultWriteWait,
		sendBuffer:   DefaultSendBuffer,
		sessions:     make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.slots = semaphore.NewWeighted(int64(s.maxClients))
	s.upgrader = websocket.Upgrader{
		// Subscribers are local tools, not browsers; accept any origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// session is one subscriber connection. The write pump owns all writes to
// conn, including the closing handshake.
type session struct {
	id     string
	remote string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (sess *session) close() {
	sess.once.Do(func() { close(sess.done) })
}

func (sess *session) write(messageType int, data []byte, wait time.Duration) error {
	if err := sess.conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	return sess.conn.WriteMessage(messageType, data)
}

// Handler returns the HTTP surface: GET /feed upgrades to a session,
// GET /healthz reports liveness and the session count.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /feed", s.handleFeed)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// ListenAndServe starts the HTTP server on the configured port.
func (s *Server) ListenAndServe() error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	logger.Info("Feed listening", "port", s.port)
	return s.httpSrv.ListenAndServe()
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	return s.httpSrv.Serve(ln)
}

// Shutdown drains HTTP requests and closes every session.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.httpSrv != nil {
		firstErr = s.httpSrv.Shutdown(ctx)
	}

	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		s.drop(sess)
	}
	return firstErr
}

// Run drains the source, broadcasting every event until the pass ends or
// the context is cancelled.
func (s *Server) Run(ctx context.Context, source EventSource) error {
	count := 0
	for {
		ev, ok, err := source.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			logger.Info("Feed replay complete", "events", count)
			return nil
		}

		count++
		s.Broadcast(ev)
	}
}

// Broadcast sends the event to every session as a JSON frame. Sessions
// whose buffers are full are dropped so the replay loop never blocks.
func (s *Server) Broadcast(ev market.Event) {
	data, err := json.Marshal(newFrame(ev))
	if err != nil {
		logger.Warn("Dropping unencodable feed event", "info", ev.Info.String(), "error", err)
		return
	}

	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		select {
		case sess.send <- data:
		default:
			logger.Warn("Feed client too slow, dropping", "client", sess.id)
			s.drop(sess)
		}
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if !s.slots.TryAcquire(1) {
		http.Error(w, "feed at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.slots.Release(1)
		return
	}

	sess := &session{
		id:     uuid.NewString(),
		remote: r.RemoteAddr,
		conn:   conn,
		send:   make(chan []byte, s.sendBuffer),
		done:   make(chan struct{}),
	}
	if !s.register(sess) {
		_ = conn.Close()
		s.slots.Release(1)
		return
	}

	go s.writePump(sess)
	s.readPump(sess)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	clients := len(s.sessions)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Clients: clients})
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// register adds the session to the registry. It reports false once the
// server is shutting down.
func (s *Server) register(sess *session) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.sessions[sess.id] = sess
	clients := len(s.sessions)
	s.mu.Unlock()

	s.emitter.FeedClientConnected(sess.remote, clients)
	logger.Info("Feed client connected", "client", sess.id, "clients", clients)
	return true
}

// drop removes the session and signals its write pump to run the closing
// handshake. Only the first call for a session does the work.
func (s *Server) drop(sess *session) {
	s.mu.Lock()
	if _, ok := s.sessions[sess.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.id)
	clients := len(s.sessions)
	s.mu.Unlock()

	sess.close()
	s.slots.Release(1)

	s.emitter.FeedClientDisconnected(sess.remote, clients)
	logger.Info("Feed client disconnected", "client", sess.id, "clients", clients)
}

// readPump consumes the session's inbound side. Subscribers send nothing
// but control frames, so the loop only serves to detect disconnects.
func (s *Server) readPump(sess *session) {
	sess.conn.SetReadLimit(readLimit)
	for {
		if _, _, err := sess.conn.ReadMessage(); err != nil {
			break
		}
	}
	s.drop(sess)
}

// writePump serializes all writes to the session: frames, keepalive pings,
// and the closing handshake once the session is dropped.
func (s *Server) writePump(sess *session) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	defer sess.conn.Close()

	for {
		select {
		case data := <-sess.send:
			if err := sess.write(websocket.TextMessage, data, s.writeWait); err != nil {
				s.drop(sess)
				return
			}
		case <-ticker.C:
			if err := sess.write(websocket.PingMessage, nil, s.writeWait); err != nil {
				s.drop(sess)
				return
			}
		case <-sess.done:
			_ = sess.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), s.writeWait)
			return
		}
	}
}
