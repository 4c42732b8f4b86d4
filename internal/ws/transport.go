package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ConnTransport adapts a websocket connection to the hub's Transport. The
// mutex serializes writes; gorilla connections allow only one concurrent
// writer.
type ConnTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewConnTransport wraps an upgraded connection.
func NewConnTransport(conn *websocket.Conn) *ConnTransport {
	return &ConnTransport{conn: conn}
}

func (t *ConnTransport) WriteJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteJSON(v)
}

func (t *ConnTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}
