// Package tcp implements the chat server's framed TCP front end: the
// accept loop, per-connection readers and writers, and the single
// router goroutine that owns the session registry and dispatches
// decoded packets to handlers.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"oltchat/internal/logging"
	"oltchat/internal/observability"
	"oltchat/internal/protocol"
	"oltchat/internal/server/config"
	"oltchat/internal/server/files"
	"oltchat/internal/server/groups"
	"oltchat/internal/server/messages"
	"oltchat/internal/server/session"
	"oltchat/internal/server/users"
)

type eventKind int

const (
	evAccepted eventKind = iota
	evPacket
	evClosed
)

type event struct {
	kind eventKind
	conn clientConn
	pkt  *protocol.Packet
}

// Server multiplexes every client connection onto one router goroutine.
// Handlers therefore run strictly one at a time: within a connection
// responses keep request order, and fan-out to recipients happens
// sequentially inside the triggering handler.
type Server struct {
	cfg    *config.Config
	logger logging.Logger

	users    *users.Service
	groups   *groups.Service
	messages *messages.Service
	files    *files.Service

	registry *session.Registry
	conns    map[uint64]clientConn

	events chan event
}

func NewServer(cfg *config.Config, logger logging.Logger,
	us *users.Service, gs *groups.Service, ms *messages.Service, fs *files.Service) *Server {

	return &Server{
		cfg:      cfg,
		logger:   logger,
		users:    us,
		groups:   gs,
		messages: ms,
		files:    fs,
		registry: session.NewRegistry(),
		conns:    make(map[uint64]clientConn),
		events:   make(chan event, 256),
	}
}

// Run listens and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindHost, s.cfg.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		s.routerLoop(ctx)
	}()

	s.logger.Info(ctx, "server listening", "addr", addr)

	var nextID uint64
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				<-routerDone
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				<-routerDone
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		nextID++
		conn := newConn(nextID, nc)

		s.events <- event{kind: evAccepted, conn: conn}
		go s.readLoop(ctx, conn)
	}
}

// readLoop drains the socket into the consume-buffer and decodes as
// many full packets as possible, handing each to the router. Any
// protocol-fatal condition tears the connection down with no response.
func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	defer func() {
		s.events <- event{kind: evClosed, conn: conn}
	}()

	var buf protocol.Buffer
	chunk := make([]byte, 4096)

	for {
		n, err := conn.netConn.Read(chunk)
		if n > 0 {
			observability.BytesRead(n)
			buf.Append(chunk[:n])

			for {
				pkt, derr := protocol.Decode(&buf)
				if derr != nil {
					s.logger.Warn(ctx, "protocol error, dropping connection",
						"conn", conn.ID(), "error", derr)
					return
				}
				if pkt == nil {
					break
				}
				observability.PacketReceived(uint16(pkt.Type))
				s.events <- event{kind: evPacket, conn: conn, pkt: pkt}
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) routerLoop(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			switch ev.kind {
			case evAccepted:
				s.onAccepted(ctx, ev.conn)
			case evPacket:
				s.onPacket(ctx, ev.conn, ev.pkt)
			case evClosed:
				s.onClosed(ctx, ev.conn)
			}
		case <-ctx.Done():
			for _, c := range s.conns {
				c.Close()
			}
			return
		}
	}
}

func (s *Server) onAccepted(ctx context.Context, conn clientConn) {
	if len(s.conns) >= s.cfg.MaxClients {
		s.logger.Warn(ctx, "client limit reached, refusing connection", "conn", conn.ID())
		conn.Close()
		return
	}

	s.conns[conn.ID()] = conn
	s.registry.AddConnection(conn.ID())
	observability.ConnOpened()

	s.logger.Info(ctx, "connection accepted", "conn", conn.ID())
}

func (s *Server) onClosed(ctx context.Context, conn clientConn) {
	if _, ok := s.conns[conn.ID()]; !ok {
		return
	}

	conn.Close()
	delete(s.conns, conn.ID())

	sess, _ := s.registry.Get(conn.ID())
	s.registry.RemoveConnection(conn.ID())
	observability.ConnClosed()

	s.logger.Info(ctx, "connection closed", "conn", conn.ID())

	if sess != nil && sess.LoggedIn {
		s.broadcastUserList(ctx)
	}
}

// send encodes and queues one packet on the connection.
func (s *Server) send(conn clientConn, pkt *protocol.Packet) {
	observability.PacketSent(uint16(pkt.Type))
	conn.QueueWrite(protocol.Encode(pkt))
}

func (s *Server) sendMeta(conn clientConn, t protocol.Type, requestID uint64, meta any) {
	s.sendMetaBin(conn, t, requestID, meta, nil)
}

func (s *Server) sendMetaBin(conn clientConn, t protocol.Type, requestID uint64, meta any, bin []byte) {
	raw, err := marshalMeta(meta)
	if err != nil {
		s.logger.Error(context.Background(), "marshal response", "type", t, "error", err)
		return
	}
	s.send(conn, &protocol.Packet{Type: t, RequestID: requestID, Meta: raw, Bin: bin})
}

// sendError replies on the same packet type with the error envelope.
func (s *Server) sendError(conn clientConn, t protocol.Type, requestID uint64, code, message string) {
	s.sendMeta(conn, t, requestID, protocol.Status{
		Status:  protocol.StatusError,
		Code:    code,
		Message: message,
	})
}

// broadcastUserList pushes the current online snapshot to every
// logged-in connection.
func (s *Server) broadcastUserList(ctx context.Context) {
	online := s.registry.OnlineUsers()

	infos := make([]protocol.UserInfo, 0, len(online))
	for _, u := range online {
		infos = append(infos, protocol.UserInfo{UserID: u.UserID, Nickname: u.Nickname})
	}

	meta := protocol.UserListUpdateMeta{Users: infos}

	for _, sess := range online {
		if conn, ok := s.conns[sess.ConnID]; ok {
			observability.FanoutPush("userlist")
			s.sendMeta(conn, protocol.TypeUserListUpdate, 0, meta)
		}
	}
}
