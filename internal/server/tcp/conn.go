package tcp

import (
	"net"
	"sync"

	"oltchat/internal/observability"
)

// clientConn is the router's view of a connection. The real TCP
// implementation is Conn; tests substitute an in-memory fake.
type clientConn interface {
	ID() uint64
	QueueWrite(frame []byte)
	Close()
}

// Conn owns one accepted socket. Reads happen on a dedicated reader
// goroutine, writes on a dedicated writer goroutine draining a
// mutex-guarded frame queue, so the router never blocks on a slow peer.
type Conn struct {
	id      uint64
	netConn net.Conn

	mu       sync.Mutex
	outbound [][]byte
	closed   bool
	wakeup   chan struct{}
}

func newConn(id uint64, nc net.Conn) *Conn {
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
	}

	c := &Conn{
		id:      id,
		netConn: nc,
		wakeup:  make(chan struct{}, 1),
	}

	go c.writeLoop()
	return c
}

func (c *Conn) ID() uint64 {
	return c.id
}

// QueueWrite appends one encoded frame to the outbound queue. Frames
// queued after Close are dropped.
func (c *Conn) QueueWrite(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.outbound = append(c.outbound, frame)
	c.mu.Unlock()

	select {
	case c.wakeup <- struct{}{}:
	default:
	}
}

// Close shuts the socket down. Pending queued frames are discarded,
// matching the disconnect semantics of the protocol.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.outbound = nil
	c.mu.Unlock()

	_ = c.netConn.Close()

	select {
	case c.wakeup <- struct{}{}:
	default:
	}
}

func (c *Conn) writeLoop() {
	for range c.wakeup {
		for {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			if len(c.outbound) == 0 {
				c.mu.Unlock()
				break
			}
			frame := c.outbound[0]
			c.outbound = c.outbound[1:]
			c.mu.Unlock()

			if _, err := c.netConn.Write(frame); err != nil {
				// reader observes the broken socket and reports the
				// disconnect; nothing more to do here
				return
			}
			observability.BytesWritten(len(frame))
		}
	}
}
