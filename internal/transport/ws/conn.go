package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsConn struct {
	conn         *websocket.Conn
	code         string
	writeTimeout time.Duration

	sendMu    sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func newWsConn(c *websocket.Conn, code string, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		conn:         c,
		code:         code,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

func (c *wsConn) Send(v any) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// closeWith отправляет close frame и закрывает сокет.
func (c *wsConn) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	_ = c.Close()
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) RoomCode() string { return c.code }
