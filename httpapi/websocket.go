package httpapi

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calvinmclean/pbdgate/broadcast"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn is a broadcast subscriber writing each line as one text message. Only the
// broadcaster's writer goroutine calls Send
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

var _ broadcast.Subscriber = &wsConn{}

func (c *wsConn) Send(line []byte) error {
	err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(line, "\n"))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// stream subscribes the client to the state stream until it disconnects. Messages from the
// client are discarded
func (a *api) stream(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn("error upgrading websocket", "error", err)
		return
	}

	sub := &wsConn{conn: ws, writeTimeout: a.WriteTimeout}
	if !a.Subscribers.Subscribe(sub) {
		a.Logger.Warn("websocket subscription refused", "remote", r.RemoteAddr)
		ws.Close()
		return
	}
	a.Logger.Info("websocket client subscribed", "remote", r.RemoteAddr)

	for {
		_, _, err := ws.ReadMessage()
		if err != nil {
			a.Subscribers.Unsubscribe(sub)
			a.Logger.Info("websocket client disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}
