package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"expandd/internal/audit"
	"expandd/internal/config"
	"expandd/internal/engine"
	"expandd/internal/store"
)

// EngineHandler answers control requests against the running engine, the
// combo store and the audit log.
type EngineHandler struct {
	mu          sync.RWMutex
	version     string
	startedAt   time.Time
	engine      *engine.Engine
	store       *store.Store
	auditStore  *audit.Store
	cfg         *config.Config
	cfgPath     string
	keySource   string
	socketPath  string
	broadcaster func(*Event)
}

// EngineHandlerConfig wires the handler's collaborators. Audit may be nil.
type EngineHandlerConfig struct {
	Version    string
	Engine     *engine.Engine
	Store      *store.Store
	Audit      *audit.Store
	Config     *config.Config
	ConfigPath string
	KeySource  string
	SocketPath string
}

// NewEngineHandler creates a handler for the daemon's control socket.
func NewEngineHandler(cfg EngineHandlerConfig) *EngineHandler {
	return &EngineHandler{
		version:    cfg.Version,
		startedAt:  time.Now(),
		engine:     cfg.Engine,
		store:      cfg.Store,
		auditStore: cfg.Audit,
		cfg:        cfg.Config,
		cfgPath:    cfg.ConfigPath,
		keySource:  cfg.KeySource,
		socketPath: cfg.SocketPath,
	}
}

// SetBroadcaster sets the function used to push events to clients.
func (h *EngineHandler) SetBroadcaster(broadcaster func(*Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcaster = broadcaster
}

// EngineEvent translates an engine event onto the wire and broadcasts it.
// Wire it up with engine.OnEvent(handler.EngineEvent).
func (h *EngineHandler) EngineEvent(ev engine.Event) {
	wire := &Event{
		Timestamp: ev.Timestamp,
		Data:      map[string]any{},
	}
	switch ev.Type {
	case engine.EventFire:
		wire.Type = EventFire
	case engine.EventRenderFailed:
		wire.Type = EventRenderFailed
	case engine.EventDeliveryFailed:
		wire.Type = EventDeliveryFailed
	case engine.EventStateChanged:
		wire.Type = EventStateChanged
		wire.Data["state"] = string(ev.State)
	case engine.EventStoreReloaded:
		wire.Type = EventStoreReloaded
		wire.Data["combos"] = ev.Combos
	case engine.EventConfigApplied:
		wire.Type = EventConfigApplied
	default:
		return
	}
	if ev.ComboID != "" {
		wire.Data["combo_id"] = ev.ComboID
		wire.Data["combo_name"] = ev.ComboName
		wire.Data["keyword"] = ev.Keyword
	}
	if ev.Error != "" {
		wire.Data["error"] = ev.Error
	}
	h.broadcast(wire)
}

// HandleMessage dispatches one control request.
func (h *EngineHandler) HandleMessage(ctx context.Context, client *ClientConn, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgStatus:
		return h.handleStatus(msg)
	case MsgPause:
		return h.handlePause(msg)
	case MsgResume:
		return h.handleResume(msg)
	case MsgTrigger:
		return h.handleTrigger(msg)
	case MsgCombos:
		return h.handleCombos(msg)
	case MsgReload:
		return h.handleReload(msg)
	case MsgStats:
		return h.handleStats(msg)
	case MsgConfigGet:
		return h.handleConfigGet(msg)
	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %d", msg.Header.Type)), nil
	}
}

func (h *EngineHandler) handleStatus(msg *Message) (*Message, error) {
	st := h.engine.Status()

	resp := &StatusResponse{
		Version:          h.version,
		PID:              os.Getpid(),
		StartedAt:        h.startedAt,
		Uptime:           time.Since(h.startedAt),
		State:            string(st.State),
		Groups:           st.Groups,
		Combos:           st.Combos,
		ActiveCombos:     st.ActiveCombos,
		IndexedCombos:    st.IndexedCombos,
		Fires:            st.Fires,
		ManualTriggers:   st.ManualTriggers,
		RenderFailures:   st.RenderFailures,
		DeliveryFailures: st.DeliveryFailures,
		ActiveRenders:    st.ActiveRenders,
		ComboPath:        h.store.Path(),
		SocketPath:       h.socketPath,
		KeySource:        h.keySource,
	}
	return NewResponse(MsgStatusResp, msg.Header.RequestID, resp)
}

func (h *EngineHandler) handlePause(msg *Message) (*Message, error) {
	h.engine.Pause()
	return NewResponse(MsgPauseResp, msg.Header.RequestID,
		&StateResponse{State: string(engine.StatePaused)})
}

func (h *EngineHandler) handleResume(msg *Message) (*Message, error) {
	h.engine.Resume()
	return NewResponse(MsgResumeResp, msg.Header.RequestID,
		&StateResponse{State: string(engine.StateRunning)})
}

func (h *EngineHandler) handleTrigger(msg *Message) (*Message, error) {
	h.engine.Trigger()
	return NewResponse(MsgTriggerResp, msg.Header.RequestID,
		&TriggerResponse{Accepted: true})
}

func (h *EngineHandler) handleCombos(msg *Message) (*Message, error) {
	var req CombosRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
		}
	}

	list := h.store.List()
	groupNames := make(map[string]string)
	for _, g := range list.Groups {
		groupNames[g.ID] = g.Name
	}

	usage := h.usageByCombo()

	resp := &CombosResponse{}
	for _, c := range list.Combos {
		if req.EnabledOnly && !c.Enabled {
			continue
		}
		info := ComboInfo{
			ID:              c.ID,
			Name:            c.Name,
			Keyword:         c.Keyword,
			Group:           groupNames[c.GroupID],
			MatchingMode:    string(c.MatchingMode),
			CaseSensitivity: string(c.CaseSensitivity),
			Enabled:         c.Enabled,
			LastUsedAt:      c.LastUsedAt,
		}
		if u, ok := usage[c.ID]; ok {
			info.UseCount = u.UseCount
		}
		resp.Combos = append(resp.Combos, info)
	}

	if req.Conflicts {
		for _, c := range list.Conflicts() {
			resp.Conflicts = append(resp.Conflicts, ConflictInfo{
				Kind:       string(c.Kind),
				Keyword:    c.Keyword,
				ComboIDs:   c.ComboIDs,
				ShadowedBy: c.ShadowedBy,
			})
		}
	}

	return NewResponse(MsgCombosResp, msg.Header.RequestID, resp)
}

func (h *EngineHandler) handleReload(msg *Message) (*Message, error) {
	if err := h.engine.ReloadStore(); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternal, err.Error()), nil
	}
	groups, combos, active := h.store.Stats()
	return NewResponse(MsgReloadResp, msg.Header.RequestID, &ReloadResponse{
		Groups:       groups,
		Combos:       combos,
		ActiveCombos: active,
	})
}

func (h *EngineHandler) handleStats(msg *Message) (*Message, error) {
	var req StatsRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
		}
	}
	if req.Top <= 0 {
		req.Top = 10
	}
	if req.Recent <= 0 {
		req.Recent = 20
	}

	resp := &StatsResponse{}
	if h.auditStore == nil {
		return NewResponse(MsgStatsResp, msg.Header.RequestID, resp)
	}
	resp.AuditEnabled = true

	top, err := h.auditStore.TopCombos(req.Top)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternal, err.Error()), nil
	}
	for _, u := range top {
		info := UsageInfo{
			ComboID:  u.ComboID,
			UseCount: u.UseCount,
			LastUsed: u.LastUsed,
		}
		if c := h.store.Find(u.ComboID); c != nil {
			info.Name = c.Name
			info.Keyword = c.Keyword
		}
		resp.Top = append(resp.Top, info)
	}

	recent, err := h.auditStore.RecentFires(req.Recent)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternal, err.Error()), nil
	}
	for _, f := range recent {
		resp.Recent = append(resp.Recent, FireInfo{
			ComboID:  f.ComboID,
			Keyword:  f.Keyword,
			FiredAt:  f.FiredAt,
			Duration: f.Duration,
			Outcome:  string(f.Outcome),
			Error:    f.Error,
		})
	}

	return NewResponse(MsgStatsResp, msg.Header.RequestID, resp)
}

func (h *EngineHandler) handleConfigGet(msg *Message) (*Message, error) {
	h.mu.RLock()
	cfg := h.cfg
	path := h.cfgPath
	h.mu.RUnlock()
	if cfg == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "no config loaded"), nil
	}

	// Round-trip through JSON so clients get plain maps, not Go types.
	raw, err := json.Marshal(cfg)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternal, err.Error()), nil
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternal, err.Error()), nil
	}

	return NewResponse(MsgConfigGetResp, msg.Header.RequestID, &ConfigGetResponse{
		Path:   path,
		Config: asMap,
	})
}

// SetConfig swaps the config snapshot served to clients, for live reloads.
func (h *EngineHandler) SetConfig(cfg *config.Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

// usageByCombo loads per-combo usage from the audit log, empty when audit
// is off.
func (h *EngineHandler) usageByCombo() map[string]audit.Usage {
	out := make(map[string]audit.Usage)
	if h.auditStore == nil {
		return out
	}
	// LIMIT -1 is "no limit" in SQLite.
	top, err := h.auditStore.TopCombos(-1)
	if err != nil {
		return out
	}
	for _, u := range top {
		out[u.ComboID] = u
	}
	return out
}

func (h *EngineHandler) broadcast(event *Event) {
	h.mu.RLock()
	broadcaster := h.broadcaster
	h.mu.RUnlock()
	if broadcaster != nil {
		broadcaster(event)
	}
}
