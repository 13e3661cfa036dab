package ws

import (
	"fmt"
	"log"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	modsync "craft-and-carry/modsync"
)

const writeWait = 10 * time.Second

// Hub is the host-side transport: it owns every live client connection and
// hands inbound payloads to the verification service. Read loops run on their
// own goroutines, so the service sees the same threading it would get from a
// game host's I/O callbacks.
type Hub struct {
	svc      *modsync.Service
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	nextID   atomic.Uint64
}

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// NewHub creates a hub bound to the given verification service.
func NewHub(svc *modsync.Service, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		sessions: make(map[string]*session),
	}
}

// Handle upgrades an HTTP request into a client session and pumps its
// messages into the service until the connection drops.
func (h *Hub) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed: %v", err)
		return
	}

	connID := fmt.Sprintf("conn-%d", h.nextID.Add(1))
	sess := &session{conn: conn}
	h.mu.Lock()
	h.sessions[connID] = sess
	h.mu.Unlock()

	h.svc.PeerConnected(connID)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.drop(connID, sess)
			return
		}
		h.svc.HandleMessage(connID, payload)
	}
}

func (h *Hub) drop(connID string, sess *session) {
	h.mu.Lock()
	delete(h.sessions, connID)
	h.mu.Unlock()
	sess.conn.Close()
	h.svc.ConnectionClosed(connID)
}

// SendTo satisfies modsync.HostTransport.
func (h *Hub) SendTo(connID string, data []byte) error {
	h.mu.Lock()
	sess, ok := h.sessions[connID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown connection %s", connID)
	}
	return sess.write(data)
}

// Broadcast satisfies modsync.HostTransport.
func (h *Hub) Broadcast(data []byte) error {
	h.mu.Lock()
	sessions := make(map[string]*session, len(h.sessions))
	for id, sess := range h.sessions {
		sessions[id] = sess
	}
	h.mu.Unlock()

	var firstErr error
	for id, sess := range sessions {
		if err := sess.write(data); err != nil {
			h.logger.Printf("failed to send to %s: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close drops every live session.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*session)
	h.mu.Unlock()
	for _, sess := range sessions {
		sess.conn.Close()
	}
}
