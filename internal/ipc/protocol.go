// Package ipc is the control channel between the expandd daemon and its
// clients (expandctl, tray frontends, scripts).
//
// Messages are a fixed 16-byte header followed by a JSON payload, exchanged
// over a unix socket. Requests carry a correlation ID so a client can keep
// several in flight; the server additionally pushes event messages to
// subscribed clients.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x45495043 // "EIPC"
)

// MaxPayload bounds a single message payload. Combo lists are the largest
// legitimate payload and stay far below this.
const MaxPayload = 16 * 1024 * 1024

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing     MessageType = 0x0001
	MsgPong     MessageType = 0x0002
	MsgHello    MessageType = 0x0003
	MsgHelloAck MessageType = 0x0004
	MsgError    MessageType = 0x0005

	// Engine control (0x01xx)
	MsgStatus      MessageType = 0x0100
	MsgStatusResp  MessageType = 0x0101
	MsgPause       MessageType = 0x0102
	MsgPauseResp   MessageType = 0x0103
	MsgResume      MessageType = 0x0104
	MsgResumeResp  MessageType = 0x0105
	MsgTrigger     MessageType = 0x0106
	MsgTriggerResp MessageType = 0x0107

	// Combo store (0x02xx)
	MsgCombos     MessageType = 0x0200
	MsgCombosResp MessageType = 0x0201
	MsgReload     MessageType = 0x0202
	MsgReloadResp MessageType = 0x0203

	// Usage statistics (0x03xx)
	MsgStats     MessageType = 0x0300
	MsgStatsResp MessageType = 0x0301

	// Configuration (0x04xx)
	MsgConfigGet     MessageType = 0x0400
	MsgConfigGetResp MessageType = 0x0401

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

// EventType identifies the type of streamed event.
type EventType uint16

const (
	EventFire           EventType = 0x0001
	EventRenderFailed   EventType = 0x0002
	EventDeliveryFailed EventType = 0x0003
	EventStateChanged   EventType = 0x0004
	EventStoreReloaded  EventType = 0x0005
	EventConfigApplied  EventType = 0x0006
	EventDaemonShutdown EventType = 0x0007
)

// allEventTypes is the empty-subscription default.
var allEventTypes = []EventType{
	EventFire,
	EventRenderFailed,
	EventDeliveryFailed,
	EventStateChanged,
	EventStoreReloaded,
	EventConfigApplied,
	EventDaemonShutdown,
}

// Header is the fixed-size message header (16 bytes).
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32 // payload length, not including the header
}

// HeaderSize is the size of the header in bytes.
const HeaderSize = 16

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to w.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates a header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the message to w.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Request/response payloads.

// HelloRequest opens a connection.
type HelloRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HelloResponse acknowledges a connection.
type HelloResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ClientID        string `json:"client_id"`
}

// ErrorResponse is sent when an operation fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrUnknown        = 1
	ErrInvalidRequest = 2
	ErrNotFound       = 3
	ErrInternal       = 4
	ErrNotRunning     = 5
	ErrUnavailable    = 6
)

// StatusResponse mirrors the daemon's view of itself: process, engine and
// combo store in one snapshot.
type StatusResponse struct {
	Version   string        `json:"version"`
	PID       int           `json:"pid"`
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime"`

	State            string `json:"state"`
	Groups           int    `json:"groups"`
	Combos           int    `json:"combos"`
	ActiveCombos     int    `json:"active_combos"`
	IndexedCombos    int    `json:"indexed_combos"`
	Fires            uint64 `json:"fires"`
	ManualTriggers   uint64 `json:"manual_triggers"`
	RenderFailures   uint64 `json:"render_failures"`
	DeliveryFailures uint64 `json:"delivery_failures"`
	ActiveRenders    int64  `json:"active_renders"`

	ComboPath  string `json:"combo_path"`
	SocketPath string `json:"socket_path"`
	KeySource  string `json:"key_source"`
}

// StateResponse acknowledges a pause or resume.
type StateResponse struct {
	State string `json:"state"`
}

// TriggerResponse acknowledges a manual trigger request. The fire itself is
// asynchronous; subscribe to events to observe the outcome.
type TriggerResponse struct {
	Accepted bool `json:"accepted"`
}

// CombosRequest asks for the combo list.
type CombosRequest struct {
	// EnabledOnly restricts the list to combos that can fire.
	EnabledOnly bool `json:"enabled_only,omitempty"`

	// Conflicts additionally reports duplicate and shadowed keywords.
	Conflicts bool `json:"conflicts,omitempty"`
}

// ComboInfo is one combo in a CombosResponse.
type ComboInfo struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Keyword         string    `json:"keyword"`
	Group           string    `json:"group,omitempty"`
	MatchingMode    string    `json:"matching_mode"`
	CaseSensitivity string    `json:"case_sensitivity"`
	Enabled         bool      `json:"enabled"`
	LastUsedAt      time.Time `json:"last_used_at,omitzero"`
	UseCount        int64     `json:"use_count,omitempty"`
}

// ConflictInfo is one keyword conflict in a CombosResponse.
type ConflictInfo struct {
	Kind       string   `json:"kind"`
	Keyword    string   `json:"keyword"`
	ComboIDs   []string `json:"combo_ids"`
	ShadowedBy string   `json:"shadowed_by,omitempty"`
}

// CombosResponse lists combos and optionally their conflicts.
type CombosResponse struct {
	Combos    []ComboInfo    `json:"combos"`
	Conflicts []ConflictInfo `json:"conflicts,omitempty"`
}

// ReloadResponse reports the store contents after a reload.
type ReloadResponse struct {
	Groups       int `json:"groups"`
	Combos       int `json:"combos"`
	ActiveCombos int `json:"active_combos"`
}

// StatsRequest asks for usage statistics from the audit log.
type StatsRequest struct {
	// Top bounds the most-used list. Zero means 10.
	Top int `json:"top,omitempty"`

	// Recent bounds the recent-fire list. Zero means 20.
	Recent int `json:"recent,omitempty"`
}

// UsageInfo is one combo's lifetime usage.
type UsageInfo struct {
	ComboID  string    `json:"combo_id"`
	Name     string    `json:"name,omitempty"`
	Keyword  string    `json:"keyword,omitempty"`
	UseCount int64     `json:"use_count"`
	LastUsed time.Time `json:"last_used"`
}

// FireInfo is one recorded fire.
type FireInfo struct {
	ComboID  string        `json:"combo_id"`
	Keyword  string        `json:"keyword"`
	FiredAt  time.Time     `json:"fired_at"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"`
	Error    string        `json:"error,omitempty"`
}

// StatsResponse carries usage statistics.
type StatsResponse struct {
	AuditEnabled bool        `json:"audit_enabled"`
	Top          []UsageInfo `json:"top,omitempty"`
	Recent       []FireInfo  `json:"recent,omitempty"`
}

// ConfigGetResponse carries the daemon's effective configuration.
type ConfigGetResponse struct {
	Path   string         `json:"path,omitempty"`
	Config map[string]any `json:"config"`
}

// SubscribeRequest opts in to event streaming. An empty Events list means
// all event types.
type SubscribeRequest struct {
	Events []EventType `json:"events,omitempty"`
}

// SubscribeResponse acknowledges a subscription.
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// UnsubscribeRequest stops event streaming for the calling connection.
type UnsubscribeRequest struct{}

// Event is a streamed event.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Encode encodes a payload to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes into v.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message with an encoded payload.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
