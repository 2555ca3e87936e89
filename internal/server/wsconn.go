package server

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a WebSocket connection to net.Conn so gateway clients run the
// same session machine as TCP clients. Each Read drains one text message at a
// time; writes are serialized because broadcast deliveries and the session's
// own sends arrive from different goroutines and gorilla permits only one
// concurrent writer.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	rem     []byte
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	if len(c.rem) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, translateWSError(err)
		}
		c.rem = data
	}
	n := copy(p, c.rem)
	c.rem = c.rem[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, translateWSError(err)
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

// translateWSError maps close frames onto the disconnect classification used
// by the session error taxonomy.
func translateWSError(err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		return io.EOF
	}
	return err
}
