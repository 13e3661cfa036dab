package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	modsync "craft-and-carry/modsync"
	"craft-and-carry/modsync/internal/proto"
)

func newTestHub(t *testing.T) (*modsync.Service, *Hub, *httptest.Server) {
	t.Helper()
	cfg := modsync.DefaultConfig()
	cfg.Locks.SuppressionWindowSeconds = 0
	svc := modsync.NewService(cfg, modsync.Identity{
		PeerID:      "host",
		DisplayName: "Host",
		ModName:     "craft-and-carry",
		ModVersion:  "1.0.0",
	}, modsync.ServiceOptions{})

	hub := NewHub(svc, nil)
	svc.StartHosting(hub)

	server := httptest.NewServer(http.HandlerFunc(hub.Handle))
	t.Cleanup(func() {
		server.Close()
		svc.StopHosting()
		hub.Close()
	})
	return svc, hub, server
}

func dialTestHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestHubVerifiesHandshakeOverWebsocket(t *testing.T) {
	svc, _, server := newTestHub(t)
	conn := dialTestHub(t, server)

	payload, err := proto.EncodeHandshake(proto.Handshake{
		SenderID:   "peer-1",
		SenderName: "Alice",
		ModName:    "craft-and-carry",
		ModVersion: "1.0.0",
		SentAt:     time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("encode handshake: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Every handshake receipt is answered with the settings snapshot and the
	// host's own handshake.
	types := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		_, answer, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read answer %d: %v", i, err)
		}
		types = append(types, proto.MessageType(answer))
	}
	if types[0] != proto.TypeConfigSnapshot || types[1] != proto.TypeHandshake {
		t.Fatalf("answer types = %v, want snapshot then handshake", types)
	}

	if !svc.IsModAllowed() {
		t.Fatalf("expected the connected peer to be verified")
	}
}

func TestHubLocksGateOnConnect(t *testing.T) {
	svc, _, server := newTestHub(t)
	conn := dialTestHub(t, server)

	waitFor(t, func() bool { return !svc.IsModAllowed() })

	conn.Close()

	waitFor(t, func() bool { return svc.IsModAllowed() })
}

func TestHubSendToUnknownConnection(t *testing.T) {
	_, hub, _ := newTestHub(t)

	if err := hub.SendTo("conn-999", []byte(`{}`)); err == nil {
		t.Fatalf("expected an error for an unknown connection")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}
