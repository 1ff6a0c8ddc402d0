// Package net implements the client's connection endpoint: a single
// background loop that drains an outbound byte queue and decodes
// inbound frames into a packet deque the UI polls.
package net

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"oltchat/internal/protocol"
)

// pollInterval doubles as the read deadline, so Stop is observed
// promptly even when the server is silent.
const pollInterval = 100 * time.Millisecond

// Client is the wire endpoint. The UI goroutine queues requests with
// SendPacket and polls replies with PollPacket; one background loop
// owns the socket.
type Client struct {
	mu       sync.Mutex
	conn     net.Conn
	outbound []byte
	outHead  int
	inbound  []*protocol.Packet
	lastErr  string

	running atomic.Bool
	reqID   atomic.Uint64
	wg      sync.WaitGroup
}

func NewClient() *Client {
	return &Client{}
}

// ConnectTo dials the server. It does not start the loop; call Start
// once connected.
func (c *Client) ConnectTo(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
	}

	c.mu.Lock()
	c.conn = conn
	c.outbound = nil
	c.outHead = 0
	c.inbound = nil
	c.lastErr = ""
	c.mu.Unlock()

	return nil
}

// Start spawns the background loop.
func (c *Client) Start() {
	c.running.Store(true)
	c.wg.Add(1)
	go c.loop()
}

// Stop shuts the endpoint down: the running flag is cleared, the read
// side is half-closed to unblock pending I/O, and the loop is joined.
func (c *Client) Stop() {
	c.running.Store(false)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseRead()
	}

	c.wg.Wait()

	if conn != nil {
		_ = conn.Close()
	}
}

// Running reports whether the background loop is alive. The UI uses a
// false value as the reconnect trigger.
func (c *Client) Running() bool {
	return c.running.Load()
}

// LastError returns the error that stopped the loop, if any.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// NextRequestID allocates a fresh correlation id, starting from 1.
func (c *Client) NextRequestID() uint64 {
	return c.reqID.Add(1)
}

// SendPacket encodes and queues one packet for the loop to flush.
func (c *Client) SendPacket(p *protocol.Packet) {
	frame := protocol.Encode(p)

	c.mu.Lock()
	c.outbound = append(c.outbound, frame...)
	c.mu.Unlock()
}

// PollPacket pops the oldest inbound packet, or nil when the deque is
// empty. It never blocks.
func (c *Client) PollPacket() *protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.inbound) == 0 {
		return nil
	}
	p := c.inbound[0]
	c.inbound = c.inbound[1:]
	return p
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
	c.running.Store(false)
}

func (c *Client) loop() {
	defer c.wg.Done()
	defer c.running.Store(false)

	var buf protocol.Buffer
	chunk := make([]byte, 4096)

	for c.running.Load() {
		if err := c.flushOutbound(); err != nil {
			c.fail(err)
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(pollInterval))

		n, err := c.conn.Read(chunk)
		if n > 0 {
			buf.Append(chunk[:n])

			for {
				pkt, derr := protocol.Decode(&buf)
				if derr != nil {
					c.fail(derr)
					return
				}
				if pkt == nil {
					break
				}
				c.mu.Lock()
				c.inbound = append(c.inbound, pkt)
				c.mu.Unlock()
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if c.running.Load() {
				c.fail(err)
			}
			return
		}
	}
}

// flushOutbound writes pending bytes. The head offset avoids
// reslicing the queue on every partial write.
func (c *Client) flushOutbound() error {
	c.mu.Lock()
	pending := c.outbound[c.outHead:]
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(pollInterval))
	n, err := c.conn.Write(pending)

	c.mu.Lock()
	c.outHead += n
	if c.outHead == len(c.outbound) {
		c.outbound = c.outbound[:0]
		c.outHead = 0
	}
	c.mu.Unlock()

	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	}
	return nil
}
