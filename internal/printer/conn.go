package printer

import (
	"fmt"
	"net"
	"time"

	"github.com/vclabel/spool/internal/config"
)

const defaultPort = 9100

// Address identifies the device for one session.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	port := a.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(a.Host, fmt.Sprintf("%d", port))
}

// Timeouts bound every transport operation. The device protocol has no
// end-of-response marker for some replies, so the read deadline is the
// only way to detect completion.
type Timeouts struct {
	Connect  time.Duration
	Read     time.Duration
	LongRead time.Duration
	Write    time.Duration
	Flush    time.Duration
}

func TimeoutsFromConfig(cfg config.PrinterConfig) Timeouts {
	return Timeouts{
		Connect:  cfg.ConnectTimeout,
		Read:     cfg.ReadTimeout,
		LongRead: cfg.LongReadTimeout,
		Write:    cfg.WriteTimeout,
		Flush:    time.Second,
	}
}

// transport is the byte-level session used by the codec-driven calls
// in Session. Tests substitute an in-memory implementation.
type transport interface {
	Write(p []byte) error
	Read(maxBytes int, long bool) ([]byte, error)
	Close() error
}

type tcpConn struct {
	conn     net.Conn
	timeouts Timeouts
	closed   bool
}

// Dial opens a TCP session to the device and drains any stale bytes a
// previous client may have left unread.
func Dial(addr Address, timeouts Timeouts) (*tcpConn, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), timeouts.Connect)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, addr, err)
	}

	c := &tcpConn{conn: conn, timeouts: timeouts}
	c.flush()

	return c, nil
}

func (c *tcpConn) flush() {
	buf := make([]byte, 4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeouts.Flush))
	_, _ = c.conn.Read(buf)
}

func (c *tcpConn) Write(p []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeouts.Write)); err != nil {
		return fmt.Errorf("%w: set write deadline: %v", ErrIO, err)
	}

	for len(p) > 0 {
		n, err := c.conn.Write(p)
		if err != nil {
			return fmt.Errorf("%w: write: %v", ErrIO, err)
		}
		p = p[n:]
	}

	return nil
}

func (c *tcpConn) Read(maxBytes int, long bool) ([]byte, error) {
	timeout := c.timeouts.Read
	if long {
		timeout = c.timeouts.LongRead
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("%w: set read deadline: %v", ErrIO, err)
	}

	buf := make([]byte, maxBytes)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrIO, err)
	}

	return buf[:n], nil
}

// Close is idempotent and always safe to call, including after a
// transport error.
func (c *tcpConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
