// Package ws maintains live websocket sessions and fans service events out
// to them: per-user alerts, global broadcasts, and channel rooms.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/telemetry"
)

const (
	maxQueuedFrames = 100
	maxSendFailures = 3
)

// Frame is the wire envelope for everything the hub sends.
type Frame struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transport is the write side of one connection. Production wraps a
// websocket conn; tests inject fakes.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

// clientFrame is what connected clients send us.
type clientFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

type session struct {
	id        string
	userID    string
	transport Transport

	// mu serializes writes so frames to one session never interleave.
	mu       sync.Mutex
	queue    []Frame
	failures int
	sent     int64

	rooms       map[string]bool
	connectedAt time.Time
	lastSeen    time.Time
}

// Hub tracks sessions and routes frames to them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	byUser   map[string]map[string]*session
	rooms    map[string]map[string]*session

	heartbeatInterval time.Duration
	log               zerolog.Logger
	metrics           *telemetry.Metrics
	now               func() time.Time
}

// NewHub creates an empty hub.
func NewHub(heartbeatInterval time.Duration, log zerolog.Logger, metrics *telemetry.Metrics) *Hub {
	return &Hub{
		sessions:          make(map[string]*session),
		byUser:            make(map[string]map[string]*session),
		rooms:             make(map[string]map[string]*session),
		heartbeatInterval: heartbeatInterval,
		log:               log.With().Str("component", "ws_hub").Logger(),
		metrics:           metrics,
		now:               time.Now,
	}
}

// Connect registers a transport under a user and returns the session id. The
// welcome frame advertises the heartbeat interval so clients can detect a
// dead server.
func (h *Hub) Connect(userID string, t Transport) string {
	now := h.now()
	s := &session{
		id:          uuid.NewString(),
		userID:      userID,
		transport:   t,
		rooms:       make(map[string]bool),
		connectedAt: now,
		lastSeen:    now,
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]*session)
	}
	h.byUser[userID][s.id] = s
	h.mu.Unlock()

	h.metrics.SessionsActive.Inc()
	h.log.Info().Str("session_id", s.id).Str("user_id", userID).Msg("session connected")

	h.deliver(s, Frame{
		Type:      "welcome",
		Data:      map[string]any{"session_id": s.id, "heartbeat_interval_seconds": h.heartbeatInterval.Seconds()},
		Timestamp: now,
	})
	return s.id
}

// Disconnect removes a session and closes its transport.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		h.removeLocked(s)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = s.transport.Close()
	h.metrics.SessionsActive.Dec()
	h.log.Info().Str("session_id", sessionID).Str("user_id", s.userID).Msg("session disconnected")
}

// removeLocked unlinks a session from every index. Caller holds h.mu.
func (h *Hub) removeLocked(s *session) {
	delete(h.sessions, s.id)
	if userSessions := h.byUser[s.userID]; userSessions != nil {
		delete(userSessions, s.id)
		if len(userSessions) == 0 {
			delete(h.byUser, s.userID)
		}
	}
	for room := range s.rooms {
		if members := h.rooms[room]; members != nil {
			delete(members, s.id)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

// SendToUser delivers a frame to every session of one user and returns the
// number of sessions it reached.
func (h *Hub) SendToUser(userID string, frame Frame) int {
	h.mu.RLock()
	targets := make([]*session, 0, len(h.byUser[userID]))
	for _, s := range h.byUser[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if h.deliver(s, frame) {
			delivered++
		}
	}
	return delivered
}

// Broadcast sends a frame to every session except the excluded ones.
func (h *Hub) Broadcast(frame Frame, exclude ...string) int {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if !skip[s.id] {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if h.deliver(s, frame) {
			delivered++
		}
	}
	return delivered
}

// JoinRoom subscribes a session to a named channel.
func (h *Hub) JoinRoom(sessionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	s.rooms[room] = true
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*session)
	}
	h.rooms[room][sessionID] = s
}

// LeaveRoom unsubscribes a session from a channel.
func (h *Hub) LeaveRoom(sessionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.rooms, room)
	if members := h.rooms[room]; members != nil {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// BroadcastToRoom sends a frame to every member of a channel.
func (h *Hub) BroadcastToRoom(room string, frame Frame) int {
	frame.Channel = room
	h.mu.RLock()
	targets := make([]*session, 0, len(h.rooms[room]))
	for _, s := range h.rooms[room] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if h.deliver(s, frame) {
			delivered++
		}
	}
	return delivered
}

// deliver writes one frame to one session, flushing any queued backlog
// first. A failed write queues the frame (bounded) and counts against the
// session; three consecutive failures force a disconnect.
func (h *Hub) deliver(s *session, frame Frame) bool {
	s.mu.Lock()

	for len(s.queue) > 0 {
		if err := s.transport.WriteJSON(s.queue[0]); err != nil {
			s.failures++
			h.metrics.SessionMessages.WithLabelValues("failed").Inc()
			h.queueFrame(s, frame)
			failures := s.failures
			s.mu.Unlock()
			if failures >= maxSendFailures {
				h.drop(s, failures)
			}
			return false
		}
		s.queue = s.queue[1:]
		s.sent++
		h.metrics.SessionMessages.WithLabelValues("flushed").Inc()
	}

	if err := s.transport.WriteJSON(frame); err != nil {
		s.failures++
		h.metrics.SessionMessages.WithLabelValues("failed").Inc()
		h.queueFrame(s, frame)
		failures := s.failures
		s.mu.Unlock()
		if failures >= maxSendFailures {
			h.drop(s, failures)
		}
		return false
	}
	s.failures = 0
	s.sent++
	s.mu.Unlock()
	h.metrics.SessionMessages.WithLabelValues("sent").Inc()
	return true
}

// queueFrame appends to the session backlog, dropping the oldest when full.
// Caller holds s.mu.
func (h *Hub) queueFrame(s *session, frame Frame) {
	if len(s.queue) >= maxQueuedFrames {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, frame)
	h.metrics.SessionMessages.WithLabelValues("queued").Inc()
}

func (h *Hub) drop(s *session, failures int) {
	h.mu.Lock()
	_, still := h.sessions[s.id]
	if still {
		h.removeLocked(s)
	}
	h.mu.Unlock()
	if !still {
		return
	}
	_ = s.transport.Close()
	h.metrics.SessionsActive.Dec()
	h.metrics.SessionDropped.Inc()
	h.log.Warn().Str("session_id", s.id).Str("user_id", s.userID).
		Int("failures", failures).Msg("session dropped after repeated send failures")
}

// HandleClientFrame processes one inbound message from a session. Any frame
// counts as liveness.
func (h *Hub) HandleClientFrame(sessionID string, raw []byte) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		s.lastSeen = h.now()
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.log.Debug().Str("session_id", sessionID).Msg("unparseable client frame")
		return
	}

	switch frame.Type {
	case "ping":
		h.deliver(s, Frame{Type: "pong", Timestamp: h.now()})
	case "subscribe":
		if frame.Channel != "" {
			h.JoinRoom(sessionID, frame.Channel)
			h.deliver(s, Frame{Type: "subscribed", Channel: frame.Channel, Timestamp: h.now()})
		}
	case "unsubscribe":
		if frame.Channel != "" {
			h.LeaveRoom(sessionID, frame.Channel)
			h.deliver(s, Frame{Type: "unsubscribed", Channel: frame.Channel, Timestamp: h.now()})
		}
	case "get_stats":
		h.deliver(s, Frame{Type: "stats", Data: h.Stats(), Timestamp: h.now()})
	}
}

// Stats is the global hub snapshot.
type Stats struct {
	Sessions int            `json:"sessions"`
	Users    int            `json:"users"`
	Rooms    map[string]int `json:"rooms"`
}

// UserStats describes one user's live sessions.
type UserStats struct {
	Sessions  int      `json:"sessions"`
	FramesOut int64    `json:"frames_out"`
	Rooms     []string `json:"rooms"`
}

// Stats returns a snapshot of hub occupancy.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make(map[string]int, len(h.rooms))
	for name, members := range h.rooms {
		rooms[name] = len(members)
	}
	return Stats{Sessions: len(h.sessions), Users: len(h.byUser), Rooms: rooms}
}

// StatsForUser returns the per-user view.
func (h *Hub) StatsForUser(userID string) UserStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out UserStats
	roomSet := make(map[string]bool)
	for _, s := range h.byUser[userID] {
		out.Sessions++
		s.mu.Lock()
		out.FramesOut += s.sent
		s.mu.Unlock()
		for room := range s.rooms {
			roomSet[room] = true
		}
	}
	for room := range roomSet {
		out.Rooms = append(out.Rooms, room)
	}
	return out
}

// SessionCount reports live sessions; the hot-deal scan skips work when zero.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Run drives the heartbeat loop until the context ends: sessions silent for
// two intervals are purged, the rest get a heartbeat frame.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.heartbeat()
		}
	}
}

func (h *Hub) heartbeat() {
	now := h.now()
	cutoff := now.Add(-2 * h.heartbeatInterval)

	h.mu.RLock()
	live := make([]*session, 0, len(h.sessions))
	var stale []*session
	for _, s := range h.sessions {
		if s.lastSeen.Before(cutoff) {
			stale = append(stale, s)
		} else {
			live = append(live, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stale {
		h.log.Info().Str("session_id", s.id).Str("user_id", s.userID).Msg("purging stale session")
		h.Disconnect(s.id)
	}
	for _, s := range live {
		h.deliver(s, Frame{Type: "heartbeat", Timestamp: now})
	}
}
