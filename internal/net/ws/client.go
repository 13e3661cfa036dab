package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	modsync "craft-and-carry/modsync"
)

// Client is the joining side's transport: one websocket to the host.
type Client struct {
	conn   *websocket.Conn
	logger *log.Logger
	mu     sync.Mutex
}

// Dial connects to a hosting peer and pumps inbound payloads into the
// service. The read loop runs on its own goroutine.
func Dial(url string, svc *modsync.Service, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, logger: logger}

	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("session read ended: %v", err)
				return
			}
			svc.HandleMessage("host", payload)
		}
	}()

	return c, nil
}

// Send satisfies modsync.ClientTransport.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}
