package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Handler processes requests the server does not answer itself.
type Handler interface {
	HandleMessage(ctx context.Context, client *ClientConn, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, client *ClientConn, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *ClientConn, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// ClientConn is one connected client as the server sees it.
type ClientConn struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	Name         string
	Version      string
	ConnectedAt  time.Time
	LastActivity time.Time

	writeMu sync.Mutex
}

// subscription tracks which event types a client wants.
type subscription struct {
	clientID string
	events   map[EventType]bool
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	Version        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
	Logger         *slog.Logger
}

// DefaultServerConfig returns the stock server settings for a socket path.
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:     socketPath,
		Version:        "0.0.0",
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxConnections: 10,
	}
}

// Server accepts control connections on a unix socket. Connections from
// other users are refused before any message is read.
type Server struct {
	mu          sync.RWMutex
	listener    net.Listener
	cfg         ServerConfig
	handler     Handler
	logger      *slog.Logger
	clients     map[string]*ClientConn
	subscribers map[string]*subscription
	startedAt   time.Time

	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	broadcasterDone chan struct{}
	running         atomic.Bool

	nextMsgID atomic.Uint32
	clientSeq atomic.Uint64

	eventChan chan *Event
}

// NewServer creates a server. Start opens the socket.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:             cfg,
		handler:         handler,
		logger:          logger,
		clients:         make(map[string]*ClientConn),
		subscribers:     make(map[string]*subscription),
		ctx:             ctx,
		cancel:          cancel,
		broadcasterDone: make(chan struct{}),
		eventChan:       make(chan *Event, 100),
	}
}

// Start listens on the unix socket. A stale socket file from a dead daemon
// is removed; a live one fails the start.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if IsSocketListening(s.cfg.SocketPath) {
		return fmt.Errorf("socket %s already in use", s.cfg.SocketPath)
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := SetSocketPermissions(s.cfg.SocketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(1)
	go s.eventBroadcaster()
	go s.acceptLoop()

	s.logger.Info("control socket listening", "path", s.cfg.SocketPath)
	return nil
}

// Stop notifies subscribers, closes every connection and removes the
// socket file. Idempotent.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	// Queue the shutdown notice and let the broadcaster drain before any
	// connection goes away, so subscribers actually receive it. Broadcast
	// itself refuses events once running is false, hence the direct send.
	s.mu.Lock()
	select {
	case s.eventChan <- &Event{Type: EventDaemonShutdown, Timestamp: time.Now()}:
	default:
	}
	close(s.eventChan)
	s.mu.Unlock()

	select {
	case <-s.broadcasterDone:
	case <-time.After(2 * time.Second):
		s.logger.Warn("event broadcaster did not drain in time")
	}

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("control socket shutdown timed out")
	}

	os.Remove(s.cfg.SocketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast queues an event for all subscribed clients. It never blocks;
// under backlog the event is dropped. The lock keeps the send ordered
// against Stop closing the channel.
func (s *Server) Broadcast(event *Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running.Load() {
		return
	}
	select {
	case s.eventChan <- event:
	default:
		s.logger.Debug("event queue full, dropping", "type", event.Type)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Warn("accept failed", "error", err)
				}
				continue
			}
		}

		ok, err := VerifyPeerIsCurrentUser(conn)
		if err != nil || !ok {
			s.logger.Warn("rejecting connection from another user", "error", err)
			conn.Close()
			continue
		}

		s.mu.RLock()
		count := len(s.clients)
		s.mu.RUnlock()
		if count >= s.cfg.MaxConnections {
			s.logger.Warn("connection limit reached", "max", s.cfg.MaxConnections)
			conn.Close()
			continue
		}

		client := &ClientConn{
			ID:           fmt.Sprintf("client-%d", s.clientSeq.Add(1)),
			conn:         conn,
			ConnectedAt:  time.Now(),
			LastActivity: time.Now(),
		}
		s.mu.Lock()
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

func (s *Server) handleConnection(client *ClientConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		delete(s.subscribers, client.ID)
		s.mu.Unlock()
		client.conn.Close()
		s.logger.Debug("client disconnected", "client", client.ID)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		msg, err := ReadMessage(client.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Idle connection, nudge it.
				s.sendMessage(client, NewMessage(MsgPing, s.nextMsgID.Add(1), nil))
				continue
			}
			s.logger.Debug("read failed", "client", client.ID, "error", err)
			return
		}

		client.mu.Lock()
		client.LastActivity = time.Now()
		client.mu.Unlock()

		response, err := s.processMessage(client, msg)
		if err != nil {
			s.logger.Warn("request failed",
				"client", client.ID, "type", msg.Header.Type, "error", err)
			response = NewErrorMessage(msg.Header.RequestID, ErrInternal, err.Error())
		}
		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}
	}
}

func (s *Server) processMessage(client *ClientConn, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil
	case MsgPong:
		// Reply to our keepalive.
		return nil, nil
	case MsgHello:
		return s.handleHello(client, msg)
	case MsgSubscribe:
		return s.handleSubscribe(client, msg)
	case MsgUnsubscribe:
		return s.handleUnsubscribe(client, msg)
	default:
		if s.handler == nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
		}
		return s.handler.HandleMessage(s.ctx, client, msg)
	}
}

func (s *Server) handleHello(client *ClientConn, msg *Message) (*Message, error) {
	var req HelloRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid hello"), nil
	}

	client.mu.Lock()
	client.Name = req.ClientName
	client.Version = req.ClientVersion
	client.mu.Unlock()
	s.logger.Debug("client connected",
		"client", client.ID, "name", req.ClientName, "version", req.ClientVersion)

	return NewResponse(MsgHelloAck, msg.Header.RequestID, &HelloResponse{
		ServerVersion:   s.cfg.Version,
		ProtocolVersion: ProtocolVersion,
		ClientID:        client.ID,
	})
}

func (s *Server) handleSubscribe(client *ClientConn, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid subscribe request"), nil
		}
	}

	sub := &subscription{
		clientID: client.ID,
		events:   make(map[EventType]bool),
	}
	events := req.Events
	if len(events) == 0 {
		events = allEventTypes
	}
	for _, et := range events {
		sub.events[et] = true
	}

	s.mu.Lock()
	s.subscribers[client.ID] = sub
	s.mu.Unlock()

	return NewResponse(MsgSubscribeResp, msg.Header.RequestID, &SubscribeResponse{
		Success:        true,
		SubscriptionID: client.ID,
	})
}

func (s *Server) handleUnsubscribe(client *ClientConn, msg *Message) (*Message, error) {
	s.mu.Lock()
	delete(s.subscribers, client.ID)
	s.mu.Unlock()
	return NewMessage(MsgUnsubscribeResp, msg.Header.RequestID, nil), nil
}

func (s *Server) eventBroadcaster() {
	defer close(s.broadcasterDone)

	for event := range s.eventChan {
		payload, err := Encode(event)
		if err != nil {
			continue
		}

		s.mu.RLock()
		targets := make([]*ClientConn, 0, len(s.subscribers))
		for clientID, sub := range s.subscribers {
			if !sub.events[event.Type] {
				continue
			}
			if client, ok := s.clients[clientID]; ok {
				targets = append(targets, client)
			}
		}
		s.mu.RUnlock()

		for _, client := range targets {
			msg := NewMessage(MsgEvent, s.nextMsgID.Add(1), payload)
			if err := s.sendMessage(client, msg); err != nil {
				s.logger.Debug("event push failed", "client", client.ID, "error", err)
			}
		}
	}
}

func (s *Server) sendMessage(client *ClientConn, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return msg.Write(client.conn)
}
