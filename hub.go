// this file implements the per-playlist room registry and the websocket fan-out
package main

import (
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo"
)

// Publisher receives committed mutation events for fan-out. The store and the
// ledger call it while still holding the keyed lock of the mutation, so the
// broadcast order per room matches the commit order.
type Publisher interface {
	Publish(playlistID string, event Event)
}

// Hub owns room membership for every playlist served by this process. One
// instance is created in main and injected into the router; nothing reaches
// it through package globals.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Session]struct{}

	logger *log.Logger
	bridge *RedisBridge

	upgrader websocket.Upgrader
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Session]struct{}),
		logger: logger.With("component", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// SetBridge attaches a cross-instance relay. Must be called before the hub
// starts serving sessions.
func (h *Hub) SetBridge(b *RedisBridge) {
	h.bridge = b
}

// Join adds the session to a room. Joining twice has no additional effect.
func (h *Hub) Join(playlistID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[playlistID]
	if !ok {
		room = make(map[*Session]struct{})
		h.rooms[playlistID] = room
	}
	room[s] = struct{}{}
	s.joined[playlistID] = struct{}{}
}

// Leave removes the session from a room, idempotently.
func (h *Hub) Leave(playlistID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(playlistID, s)
}

func (h *Hub) leaveLocked(playlistID string, s *Session) {
	if room, ok := h.rooms[playlistID]; ok {
		delete(room, s)
		if len(room) == 0 {
			delete(h.rooms, playlistID)
		}
	}
	delete(s.joined, playlistID)
}

// Publish fans an event out to every session currently joined to the room,
// best effort. Sessions with a full send buffer are dropped; they resync on
// reconnect.
func (h *Hub) Publish(playlistID string, event Event) {
	if h.bridge != nil {
		h.bridge.Relay(playlistID, event)
	}
	h.deliverLocal(playlistID, event)
}

func (h *Hub) deliverLocal(playlistID string, event Event) {
	payload, err := event.Marshal()
	if err != nil {
		h.logger.Error("marshal event", "kind", event.Kind, "err", err)
		return
	}

	// sends happen under the lock (they never block) so a racing Drop cannot
	// close a channel mid-delivery, and membership is a single atomic snapshot
	h.mu.Lock()
	var slow []*Session
	for s := range h.rooms[playlistID] {
		if s.dropped {
			continue
		}
		select {
		case s.send <- payload:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.Unlock()

	for _, s := range slow {
		h.logger.Warn("slow session dropped", "session", s.id, "playlist", playlistID)
		h.Drop(s)
	}
}

// RoomSize reports current membership, mostly for tests and the health probe.
func (h *Hub) RoomSize(playlistID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[playlistID])
}

// Drop removes the session from every room and closes its send channel.
func (h *Hub) Drop(s *Session) {
	h.mu.Lock()
	if s.dropped {
		h.mu.Unlock()
		return
	}
	s.dropped = true
	for playlistID := range s.joined {
		h.leaveLocked(playlistID, s)
	}
	h.mu.Unlock()
	close(s.send)
}

// Close drops every live session, used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make(map[*Session]struct{})
	for _, room := range h.rooms {
		for s := range room {
			all[s] = struct{}{}
		}
	}
	h.mu.Unlock()
	for s := range all {
		h.Drop(s)
	}
	if h.bridge != nil {
		h.bridge.Close()
	}
}

// Session is one connected websocket. The reader goroutine handles
// join/leave control messages, the writer drains the ordered send buffer, so
// per-room delivery order follows publish order.
type Session struct {
	id      string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	joined  map[string]struct{}
	dropped bool
}

// ServeWS upgrades the request and runs the session until the peer goes away.
func (h *Hub) ServeWS(c echo.Context, sessionID, userID string) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	s := &Session{
		id:     sessionID,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 64),
		joined: make(map[string]struct{}),
	}
	h.logger.Info("session connected", "session", s.id)

	go h.writePump(s)
	h.readPump(s)
	return nil
}

func (h *Hub) readPump(s *Session) {
	defer func() {
		h.Drop(s)
		h.logger.Info("session disconnected", "session", s.id)
	}()
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		event, err := UnmarshalEvent(payload)
		if err != nil {
			h.logger.Warn("bad socket message", "session", s.id, "err", err)
			continue
		}
		switch event.Kind {
		case EventJoinPlaylist:
			h.Join(event.PlaylistID, s)
		case EventLeavePlaylist:
			h.Leave(event.PlaylistID, s)
		default:
			// mutations go through the HTTP API; the socket is downstream only
		}
	}
}

func (h *Hub) writePump(s *Session) {
	defer s.conn.Close()
	for payload := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	// send channel closed: say goodbye properly
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
