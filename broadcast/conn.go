package broadcast

import (
	"net"
	"time"
)

const DefaultWriteTimeout = 2 * time.Second

// Conn is a Subscriber writing to a network connection with a per-write deadline
type Conn struct {
	conn         net.Conn
	writeTimeout time.Duration
}

var _ Subscriber = Conn{}

// NewConn wraps conn. Two Conns built from the same connection are equal, which is what makes
// repeated subscription of one connection a no-op
func NewConn(conn net.Conn, writeTimeout time.Duration) Conn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return Conn{conn: conn, writeTimeout: writeTimeout}
}

func (c Conn) Send(line []byte) error {
	err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err != nil {
		return err
	}
	_, err = c.conn.Write(line)
	return err
}

func (c Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr is used for logging
func (c Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
