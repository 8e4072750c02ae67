package ipc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// Client is the dialing side of the control socket, used by expandctl and
// other frontends.
type Client struct {
	mu            sync.RWMutex
	conn          net.Conn
	socketPath    string
	clientID      string
	serverVersion string

	connected     atomic.Bool
	reconnecting  atomic.Bool
	readerStarted atomic.Bool

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	eventChan    chan *Event
	eventHandler EventHandler
	eventMu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cfg ClientConfig
}

// ClientConfig configures the control socket client.
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	AutoReconnect  bool
	ReconnectWait  time.Duration
	MaxReconnect   int
}

// DefaultClientConfig returns client defaults for the given socket path.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "expandctl",
		ClientVersion:  "0.0.0",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		AutoReconnect:  true,
		ReconnectWait:  time.Second,
		MaxReconnect:   3,
	}
}

// EventHandler is called for each streamed event.
type EventHandler func(event *Event)

// NewClient creates a client for the daemon's control socket. Call Connect
// before issuing requests.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		socketPath: cfg.SocketPath,
		pending:    make(map[uint32]chan *Message),
		eventChan:  make(chan *Event, 100),
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
	}
}

// Connect dials the daemon and performs the hello exchange.
func (c *Client) Connect() error {
	if c.connected.Load() {
		return nil
	}

	if err := c.dial(); err != nil {
		return err
	}

	// One reader for the life of the client; reconnects reuse it.
	if c.readerStarted.CompareAndSwap(false, true) {
		c.wg.Add(1)
		go c.readLoop()
	}

	if err := c.hello(); err != nil {
		c.close()
		return fmt.Errorf("hello: %w", err)
	}

	return nil
}

func (c *Client) dial() error {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.Dial("unix", c.socketPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	if c.connected.Load() {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connected.Store(true)
	c.mu.Unlock()
	return nil
}

// Close shuts the client down and releases the connection.
func (c *Client) Close() error {
	c.cancel()
	c.close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(c.eventChan)
	case <-time.After(2 * time.Second):
		// Reader stuck; leave the event channel open rather than race it.
	}

	return nil
}

// close tears down the connection without signaling shutdown.
func (c *Client) close() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
	c.mu.Unlock()

	// Unblock waiters.
	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected reports whether the client currently has a live connection.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// ClientID returns the identifier assigned by the daemon during hello.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// ServerVersion returns the daemon version reported during hello.
func (c *Client) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion
}

// SetEventHandler sets the callback invoked for streamed events. The
// handler runs on its own goroutine per event.
func (c *Client) SetEventHandler(handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventHandler = handler
}

// Events returns the channel carrying streamed events.
func (c *Client) Events() <-chan *Event {
	return c.eventChan
}

func (c *Client) hello() error {
	resp, err := c.request(MsgHello, &HelloRequest{
		ClientVersion:   c.cfg.ClientVersion,
		ClientName:      c.cfg.ClientName,
		ProtocolVersion: ProtocolVersion,
	})
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgHelloAck {
		return fmt.Errorf("unexpected response type: %d", resp.Header.Type)
	}

	var ack HelloResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		return err
	}

	c.mu.Lock()
	c.clientID = ack.ClientID
	c.serverVersion = ack.ServerVersion
	c.mu.Unlock()
	return nil
}

// request sends a request and waits for the matching response.
func (c *Client) request(msgType MessageType, payload any) (*Message, error) {
	return c.requestWithTimeout(msgType, payload, c.cfg.RequestTimeout)
}

func (c *Client) requestWithTimeout(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	var data []byte
	if payload != nil {
		var err error
		data, err = Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := msg.Write(conn); err != nil {
		c.close()
		return nil, fmt.Errorf("write message: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.readerStarted.Store(false)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			if c.cfg.AutoReconnect && c.tryReconnect() {
				continue
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msg, err := ReadMessage(conn)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Idle; nudge the server so it knows we are alive.
				c.sendPing()
				continue
			}

			c.close()
			if c.cfg.AutoReconnect && c.tryReconnect() {
				continue
			}
			return
		}

		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPong:
		// Reply to our keepalive.

	case MsgPing:
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			pong := NewMessage(MsgPong, msg.Header.RequestID, nil)
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			pong.Write(conn)
		}

	case MsgEvent:
		var event Event
		if err := Decode(msg.Payload, &event); err != nil {
			return
		}
		select {
		case c.eventChan <- &event:
		default:
			// Consumer is behind, drop.
		}

		c.eventMu.RLock()
		handler := c.eventHandler
		c.eventMu.RUnlock()
		if handler != nil {
			go handler(&event)
		}

	default:
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

func (c *Client) sendPing() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil {
		msg := NewMessage(MsgPing, c.nextReqID.Add(1), nil)
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		msg.Write(conn)
	}
}

// tryReconnect dials until a connection is restored or attempts run out.
// It reports whether the client is connected again.
func (c *Client) tryReconnect() bool {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return false
	}
	defer c.reconnecting.Store(false)

	for i := 0; i < c.cfg.MaxReconnect; i++ {
		select {
		case <-c.ctx.Done():
			return false
		case <-time.After(c.cfg.ReconnectWait):
		}

		if err := c.dial(); err != nil {
			continue
		}
		if err := c.hello(); err != nil {
			c.close()
			continue
		}
		return true
	}
	return false
}

// do sends a request and decodes the reply into out, turning MsgError
// replies into errors. A nil out discards the payload.
func (c *Client) do(msgType MessageType, payload, out any) error {
	resp, err := c.request(msgType, payload)
	if err != nil {
		return err
	}
	if resp.Header.Type == MsgError {
		var er ErrorResponse
		if err := Decode(resp.Payload, &er); err != nil {
			return fmt.Errorf("undecodable daemon error: %w", err)
		}
		return fmt.Errorf("%s", er.Message)
	}
	if out == nil {
		return nil
	}
	return Decode(resp.Payload, out)
}

// Ping checks the daemon is responsive.
func (c *Client) Ping() error {
	resp, err := c.requestWithTimeout(MsgPing, nil, 5*time.Second)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response: %d", resp.Header.Type)
	}
	return nil
}

// Status fetches the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var status StatusResponse
	if err := c.do(MsgStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Pause suspends expansion.
func (c *Client) Pause() (*StateResponse, error) {
	var state StateResponse
	if err := c.do(MsgPause, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Resume restores expansion after a pause.
func (c *Client) Resume() (*StateResponse, error) {
	var state StateResponse
	if err := c.do(MsgResume, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Trigger asks the daemon to fire on the current typing buffer, as if the
// trigger shortcut had been pressed.
func (c *Client) Trigger() (*TriggerResponse, error) {
	var result TriggerResponse
	if err := c.do(MsgTrigger, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Combos lists the daemon's combos, optionally restricted to enabled ones
// and optionally with keyword conflicts.
func (c *Client) Combos(enabledOnly, conflicts bool) (*CombosResponse, error) {
	req := &CombosRequest{EnabledOnly: enabledOnly, Conflicts: conflicts}
	var result CombosResponse
	if err := c.do(MsgCombos, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Reload makes the daemon re-read the combo file from disk.
func (c *Client) Reload() (*ReloadResponse, error) {
	var result ReloadResponse
	if err := c.do(MsgReload, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats fetches usage statistics from the audit log.
func (c *Client) Stats(top, recent int) (*StatsResponse, error) {
	req := &StatsRequest{Top: top, Recent: recent}
	var result StatsResponse
	if err := c.do(MsgStats, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetConfig fetches the daemon's effective configuration.
func (c *Client) GetConfig() (*ConfigGetResponse, error) {
	var result ConfigGetResponse
	if err := c.do(MsgConfigGet, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Subscribe starts event streaming. An empty events slice subscribes to
// everything.
func (c *Client) Subscribe(events []EventType) error {
	var result SubscribeResponse
	if err := c.do(MsgSubscribe, &SubscribeRequest{Events: events}, &result); err != nil {
		return err
	}
	if !result.Success {
		return errors.New("subscription failed")
	}
	return nil
}

// Unsubscribe stops event streaming.
func (c *Client) Unsubscribe() error {
	resp, err := c.request(MsgUnsubscribe, &UnsubscribeRequest{})
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgUnsubscribeResp {
		return fmt.Errorf("unexpected response: %d", resp.Header.Type)
	}
	return nil
}
