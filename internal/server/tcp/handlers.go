package tcp

import (
	"context"
	"encoding/json"
	"errors"

	"oltchat/internal/observability"
	"oltchat/internal/protocol"
	"oltchat/internal/server/files"
	"oltchat/internal/server/messages"
	"oltchat/internal/server/session"
	"oltchat/internal/shared"
)

func marshalMeta(meta any) ([]byte, error) {
	return json.Marshal(meta)
}

// replyType maps a request type to the packet type its response is
// carried on. Most requests answer on their own type.
func replyType(t protocol.Type) protocol.Type {
	switch t {
	case protocol.TypeHistoryFetch:
		return protocol.TypeHistoryResponse
	case protocol.TypeFileOffer:
		return protocol.TypeFileAccept
	case protocol.TypeFileUploadDone:
		return protocol.TypeFileDone
	case protocol.TypeFileDownloadRequest:
		return protocol.TypeFileDownloadChunk
	default:
		return t
	}
}

func validField(s string) bool {
	return s != "" && len(s) <= maxFieldLength
}

func validSha256(s string) bool {
	if len(s) != sha256HexLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func validConversationType(t string) bool {
	return t == messages.ConversationPrivate || t == messages.ConversationGroup
}

func (s *Server) onPacket(ctx context.Context, conn clientConn, pkt *protocol.Packet) {
	switch pkt.Type {
	case protocol.TypeAuthRegister:
		s.handleRegister(ctx, conn, pkt)
		return
	case protocol.TypeAuthLogin:
		s.handleLogin(ctx, conn, pkt)
		return
	}

	sess, ok := s.registry.Get(conn.ID())
	if !ok || !sess.LoggedIn {
		s.sendError(conn, replyType(pkt.Type), pkt.RequestID, codeNotLoggedIn, "login required")
		return
	}

	switch pkt.Type {
	case protocol.TypeGroupCreate:
		s.handleGroupCreate(ctx, conn, sess, pkt)
	case protocol.TypeGroupJoin:
		s.handleGroupJoin(ctx, conn, sess, pkt)
	case protocol.TypeGroupLeave:
		s.handleGroupLeave(ctx, conn, sess, pkt)
	case protocol.TypeGroupAdmin:
		s.handleGroupAdmin(ctx, conn, sess, pkt)
	case protocol.TypeMessageSend:
		s.handleMessageSend(ctx, conn, sess, pkt)
	case protocol.TypeHistoryFetch:
		s.handleHistoryFetch(ctx, conn, sess, pkt)
	case protocol.TypeFileOffer:
		s.handleFileOffer(ctx, conn, sess, pkt)
	case protocol.TypeFileUploadChunk:
		s.handleFileUploadChunk(ctx, conn, sess, pkt)
	case protocol.TypeFileUploadDone:
		s.handleFileUploadDone(ctx, conn, sess, pkt)
	case protocol.TypeFileDownloadRequest:
		s.handleFileDownloadRequest(ctx, conn, sess, pkt)
	default:
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidRequest, "unsupported packet type")
	}
}

func (s *Server) sendAuthError(conn clientConn, requestID uint64, code, message string) {
	s.sendMeta(conn, protocol.TypeAuthError, requestID, protocol.AuthErrorMeta{
		Code:    code,
		Message: message,
	})
}

func (s *Server) handleRegister(ctx context.Context, conn clientConn, pkt *protocol.Packet) {
	var meta protocol.AuthRegisterMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendAuthError(conn, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}

	if !validField(meta.UserID) {
		s.sendAuthError(conn, pkt.RequestID, codeInvalidUserID, "user id must be 1..64 bytes")
		return
	}
	if !validField(meta.Nickname) {
		s.sendAuthError(conn, pkt.RequestID, codeInvalidNickname, "nickname must be 1..64 bytes")
		return
	}
	if !validField(meta.Password) {
		s.sendAuthError(conn, pkt.RequestID, codeInvalidPassword, "password must be 1..64 bytes")
		return
	}

	user, err := s.users.Register(ctx, meta.UserID, meta.Nickname, meta.Password)
	if err != nil {
		if errors.Is(err, shared.ErrorAlreadyExists) {
			s.sendAuthError(conn, pkt.RequestID, codeAlreadyExists, "user id already registered")
			return
		}
		s.logger.Error(ctx, "register failed", "user", meta.UserID, "error", err)
		s.sendAuthError(conn, pkt.RequestID, codeRegisterFailed, "registration failed")
		return
	}

	s.logger.Info(ctx, "user registered", "user", user.UserID)

	s.sendMeta(conn, protocol.TypeAuthOk, pkt.RequestID, protocol.AuthOkMeta{
		UserID:     user.UserID,
		Nickname:   user.Nickname,
		Registered: true,
		LoggedIn:   false,
	})
}

func (s *Server) handleLogin(ctx context.Context, conn clientConn, pkt *protocol.Packet) {
	var meta protocol.AuthLoginMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendAuthError(conn, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}

	if !validField(meta.UserID) {
		s.sendAuthError(conn, pkt.RequestID, codeInvalidUserID, "user id must be 1..64 bytes")
		return
	}
	if !validField(meta.Password) {
		s.sendAuthError(conn, pkt.RequestID, codeInvalidPassword, "password must be 1..64 bytes")
		return
	}

	user, err := s.users.Login(ctx, meta.UserID, meta.Password)
	if err != nil {
		if errors.Is(err, shared.ErrorNotFound) || errors.Is(err, shared.ErrorPasswordMismatch) {
			s.sendAuthError(conn, pkt.RequestID, codeLoginFailed, "invalid credentials")
			return
		}
		s.logger.Error(ctx, "login failed", "user", meta.UserID, "error", err)
		s.sendAuthError(conn, pkt.RequestID, codeLoginFailed, "login failed")
		return
	}

	if err := s.registry.Login(conn.ID(), user.UserID, user.Nickname); err != nil {
		if errors.Is(err, shared.ErrorUserAlreadyOnline) {
			s.sendAuthError(conn, pkt.RequestID, codeLoginFailed, "user already online")
			return
		}
		s.sendAuthError(conn, pkt.RequestID, codeLoginFailed, "login failed")
		return
	}

	s.logger.Info(ctx, "user logged in", "user", user.UserID, "conn", conn.ID())

	online := s.registry.OnlineUsers()
	infos := make([]protocol.UserInfo, 0, len(online))
	for _, u := range online {
		infos = append(infos, protocol.UserInfo{UserID: u.UserID, Nickname: u.Nickname})
	}

	s.sendMeta(conn, protocol.TypeAuthOk, pkt.RequestID, protocol.AuthOkMeta{
		UserID:      user.UserID,
		Nickname:    user.Nickname,
		LoggedIn:    true,
		OnlineUsers: infos,
	})

	s.broadcastUserList(ctx)
	s.deliverOfflineMessages(ctx, conn, user.UserID)
	s.deliverOfflineFiles(ctx, conn, user.UserID)
}

// deliverOfflineMessages replays pending messages in pages, marking each
// page delivered once its pushes are queued.
func (s *Server) deliverOfflineMessages(ctx context.Context, conn clientConn, userID string) {
	for {
		page, err := s.messages.FetchUndelivered(ctx, userID, s.cfg.HistoryPageSize)
		if err != nil {
			s.logger.Error(ctx, "fetch undelivered messages", "user", userID, "error", err)
			return
		}
		if len(page) == 0 {
			return
		}

		ids := make([]int64, 0, len(page))
		for i := range page {
			observability.FanoutPush("message")
			s.sendMeta(conn, protocol.TypeMessageDeliver, 0, deliverMeta(&page[i]))
			ids = append(ids, page[i].MessageID)
		}

		if err := s.messages.MarkDelivered(ctx, userID, ids); err != nil {
			s.logger.Error(ctx, "mark messages delivered", "user", userID, "error", err)
			return
		}

		if len(page) < s.cfg.HistoryPageSize {
			return
		}
	}
}

// deliverOfflineFiles replays published-file notices the same way.
func (s *Server) deliverOfflineFiles(ctx context.Context, conn clientConn, userID string) {
	for {
		page, err := s.files.FetchUndelivered(ctx, userID, s.cfg.HistoryPageSize)
		if err != nil {
			s.logger.Error(ctx, "fetch undelivered files", "user", userID, "error", err)
			return
		}
		if len(page) == 0 {
			return
		}

		for i := range page {
			observability.FanoutPush("file")
			s.sendMeta(conn, protocol.TypeFileDone, 0, fileNotice(&page[i]))
			if err := s.files.MarkDelivered(ctx, page[i].FileID, userID); err != nil {
				s.logger.Error(ctx, "mark file delivered", "user", userID,
					"file", page[i].FileID, "error", err)
				return
			}
		}

		if len(page) < s.cfg.HistoryPageSize {
			return
		}
	}
}

func (s *Server) handleGroupCreate(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet) {
	var meta protocol.GroupCreateMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}
	if !validField(meta.Name) {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidName, "group name must be 1..64 bytes")
		return
	}

	group, err := s.groups.Create(ctx, meta.Name, sess.UserID)
	if err != nil {
		s.logger.Error(ctx, "group create failed", "user", sess.UserID, "error", err)
		s.sendError(conn, pkt.Type, pkt.RequestID, codeCreateFailed, "could not create group")
		return
	}

	s.logger.Info(ctx, "group created", "group", group.GroupID, "owner", sess.UserID)

	s.sendMeta(conn, pkt.Type, pkt.RequestID, protocol.GroupCreateResp{
		Status:  protocol.Status{Status: protocol.StatusOK},
		GroupID: group.GroupID,
		Name:    group.Name,
	})
}

func (s *Server) handleGroupJoin(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet) {
	var meta protocol.GroupMemberMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}
	if !validField(meta.GroupID) {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidGroupID, "group id must be 1..64 bytes")
		return
	}

	if err := s.groups.Join(ctx, meta.GroupID, sess.UserID); err != nil {
		switch {
		case errors.Is(err, shared.ErrorNotFound):
			s.sendError(conn, pkt.Type, pkt.RequestID, codeJoinFailed, "group not found")
		case errors.Is(err, shared.ErrorAlreadyExists):
			s.sendError(conn, pkt.Type, pkt.RequestID, codeAlreadyExists, "already a member")
		default:
			s.logger.Error(ctx, "group join failed", "group", meta.GroupID, "user", sess.UserID, "error", err)
			s.sendError(conn, pkt.Type, pkt.RequestID, codeJoinFailed, "could not join group")
		}
		return
	}

	s.sendMeta(conn, pkt.Type, pkt.RequestID, protocol.Status{Status: protocol.StatusOK})
}

func (s *Server) handleGroupLeave(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet) {
	var meta protocol.GroupMemberMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}
	if !validField(meta.GroupID) {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidGroupID, "group id must be 1..64 bytes")
		return
	}

	if err := s.groups.Leave(ctx, meta.GroupID, sess.UserID); err != nil {
		switch {
		case errors.Is(err, shared.ErrorNotInGroup):
			s.sendError(conn, pkt.Type, pkt.RequestID, codeNotInGroup, "user not in group")
		case errors.Is(err, shared.ErrorOwnerCannotLeave):
			s.sendError(conn, pkt.Type, pkt.RequestID, codeLeaveFailed, "owner cannot leave group")
		default:
			s.logger.Error(ctx, "group leave failed", "group", meta.GroupID, "user", sess.UserID, "error", err)
			s.sendError(conn, pkt.Type, pkt.RequestID, codeLeaveFailed, "could not leave group")
		}
		return
	}

	s.sendMeta(conn, pkt.Type, pkt.RequestID, protocol.Status{Status: protocol.StatusOK})
}

func (s *Server) handleGroupAdmin(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet) {
	var meta protocol.GroupAdminMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}
	if !validField(meta.GroupID) {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidGroupID, "group id must be 1..64 bytes")
		return
	}

	var err error
	var failCode string

	switch meta.Action {
	case "rename":
		if !validField(meta.Name) {
			s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidName, "group name must be 1..64 bytes")
			return
		}
		failCode = codeRenameFailed
		err = s.groups.Rename(ctx, meta.GroupID, sess.UserID, meta.Name)

	case "kick":
		if !validField(meta.TargetUserID) {
			s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidTarget, "target user id must be 1..64 bytes")
			return
		}
		failCode = codeKickFailed
		err = s.groups.Kick(ctx, meta.GroupID, sess.UserID, meta.TargetUserID)

	case "dissolve":
		failCode = codeDissolveFailed
		err = s.groups.Dissolve(ctx, meta.GroupID, sess.UserID)

	case "promote", "demote":
		if !validField(meta.TargetUserID) {
			s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidTarget, "target user id must be 1..64 bytes")
			return
		}
		failCode = codeAdminFailed
		err = s.groups.SetAdmin(ctx, meta.GroupID, sess.UserID, meta.TargetUserID, meta.Action == "promote")

	default:
		s.sendError(conn, pkt.Type, pkt.RequestID, codeUnknownAction, "unknown admin action")
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, shared.ErrorNotInGroup):
			s.sendError(conn, pkt.Type, pkt.RequestID, codeNotInGroup, "user not in group")
		case errors.Is(err, shared.ErrorPermissionDenied):
			s.sendError(conn, pkt.Type, pkt.RequestID, codeAdminFailed, "permission denied")
		case errors.Is(err, shared.ErrorNotFound):
			s.sendError(conn, pkt.Type, pkt.RequestID, failCode, "group not found")
		default:
			s.logger.Error(ctx, "group admin failed", "group", meta.GroupID,
				"action", meta.Action, "user", sess.UserID, "error", err)
			s.sendError(conn, pkt.Type, pkt.RequestID, failCode, "operation failed")
		}
		return
	}

	s.sendMeta(conn, pkt.Type, pkt.RequestID, protocol.Status{Status: protocol.StatusOK})
}

// messageRecipients computes the delivery target set for a send.
// Private targets are the counterparty; group targets are every member
// except the sender.
func (s *Server) messageRecipients(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet, convType, convID string) ([]string, bool) {
	if convType == messages.ConversationPrivate {
		exists, err := s.users.Exists(ctx, convID)
		if err != nil {
			s.logger.Error(ctx, "recipient lookup failed", "user", convID, "error", err)
			s.sendError(conn, replyType(pkt.Type), pkt.RequestID, codeUserLookupFailed, "recipient lookup failed")
			return nil, false
		}
		if !exists {
			s.sendError(conn, replyType(pkt.Type), pkt.RequestID, codeTargetNotFound, "recipient not found")
			return nil, false
		}
		return []string{convID}, true
	}

	if _, err := s.groups.Role(ctx, convID, sess.UserID); err != nil {
		if errors.Is(err, shared.ErrorNotInGroup) || errors.Is(err, shared.ErrorNotFound) {
			s.sendError(conn, replyType(pkt.Type), pkt.RequestID, codeNotInGroup, "user not in group")
		} else {
			s.logger.Error(ctx, "role lookup failed", "group", convID, "user", sess.UserID, "error", err)
			s.sendError(conn, replyType(pkt.Type), pkt.RequestID, codeUserLookupFailed, "membership lookup failed")
		}
		return nil, false
	}

	members, err := s.groups.Members(ctx, convID)
	if err != nil {
		s.logger.Error(ctx, "member lookup failed", "group", convID, "error", err)
		s.sendError(conn, replyType(pkt.Type), pkt.RequestID, codeUserLookupFailed, "membership lookup failed")
		return nil, false
	}

	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID != sess.UserID {
			recipients = append(recipients, m.UserID)
		}
	}
	if len(recipients) == 0 {
		s.sendError(conn, replyType(pkt.Type), pkt.RequestID, codeNoRecipients, "no recipients")
		return nil, false
	}
	return recipients, true
}

func (s *Server) handleMessageSend(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet) {
	var meta protocol.MessageSendMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}
	if !validConversationType(meta.ConversationType) {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidConversationType, "conversation_type must be private or group")
		return
	}
	if !validField(meta.ConversationID) {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidRequest, "conversation id must be 1..64 bytes")
		return
	}
	if meta.Content == "" || len(meta.Content) > maxContentLength {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidRequest, "content must be 1..4096 bytes")
		return
	}

	recipients, ok := s.messageRecipients(ctx, conn, sess, pkt, meta.ConversationType, meta.ConversationID)
	if !ok {
		return
	}

	msg, err := s.messages.Store(ctx, &messages.Message{
		ConversationType: meta.ConversationType,
		ConversationID:   meta.ConversationID,
		SenderID:         sess.UserID,
		SenderNickname:   sess.Nickname,
		Content:          meta.Content,
	}, recipients)
	if err != nil {
		if errors.Is(err, messages.ErrNoRecipients) {
			s.sendError(conn, pkt.Type, pkt.RequestID, codeNoRecipients, "no recipients")
			return
		}
		s.logger.Error(ctx, "message store failed", "user", sess.UserID, "error", err)
		s.sendError(conn, pkt.Type, pkt.RequestID, codeStoreFailed, "could not store message")
		return
	}

	s.sendMeta(conn, pkt.Type, pkt.RequestID, protocol.MessageSendResp{
		Status:    protocol.Status{Status: protocol.StatusOK},
		MessageID: msg.MessageID,
		CreatedAt: msg.CreatedAt,
	})

	// best-effort push to online recipients; offline ones replay at login
	push := deliverMeta(msg)
	for _, userID := range recipients {
		connID, online := s.registry.LookupConn(userID)
		if !online {
			continue
		}
		target, ok := s.conns[connID]
		if !ok {
			continue
		}
		observability.FanoutPush("message")
		s.sendMeta(target, protocol.TypeMessageDeliver, 0, push)
		if err := s.messages.MarkDelivered(ctx, userID, []int64{msg.MessageID}); err != nil {
			s.logger.Error(ctx, "mark message delivered", "user", userID,
				"message", msg.MessageID, "error", err)
		}
	}
}

func (s *Server) handleHistoryFetch(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet) {
	var meta protocol.HistoryFetchMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendError(conn, protocol.TypeHistoryResponse, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}
	if !validConversationType(meta.ConversationType) {
		s.sendError(conn, protocol.TypeHistoryResponse, pkt.RequestID, codeInvalidConversationType, "conversation_type must be private or group")
		return
	}
	if !validField(meta.ConversationID) {
		s.sendError(conn, protocol.TypeHistoryResponse, pkt.RequestID, codeInvalidRequest, "conversation id must be 1..64 bytes")
		return
	}

	if meta.ConversationType == messages.ConversationGroup {
		if _, err := s.groups.Role(ctx, meta.ConversationID, sess.UserID); err != nil {
			if errors.Is(err, shared.ErrorNotInGroup) || errors.Is(err, shared.ErrorNotFound) {
				s.sendError(conn, protocol.TypeHistoryResponse, pkt.RequestID, codeNotInGroup, "user not in group")
			} else {
				s.logger.Error(ctx, "role lookup failed", "group", meta.ConversationID, "user", sess.UserID, "error", err)
				s.sendError(conn, protocol.TypeHistoryResponse, pkt.RequestID, codeHistoryFailed, "membership lookup failed")
			}
			return
		}
	}

	limit := meta.Limit
	if limit <= 0 || limit > s.cfg.HistoryPageSize {
		limit = s.cfg.HistoryPageSize
	}

	page, nextBefore, err := s.messages.FetchHistory(ctx,
		meta.ConversationType, meta.ConversationID, sess.UserID, meta.BeforeMessageID, limit)
	if err != nil {
		s.logger.Error(ctx, "history fetch failed", "conversation", meta.ConversationID, "error", err)
		s.sendError(conn, protocol.TypeHistoryResponse, pkt.RequestID, codeHistoryFailed, "could not fetch history")
		return
	}

	out := make([]protocol.MessageDeliverMeta, 0, len(page))
	for i := range page {
		out = append(out, deliverMeta(&page[i]))
	}

	s.sendMeta(conn, protocol.TypeHistoryResponse, pkt.RequestID, protocol.HistoryResponseMeta{
		Status:              protocol.Status{Status: protocol.StatusOK},
		ConversationType:    meta.ConversationType,
		ConversationID:      meta.ConversationID,
		Messages:            out,
		NextBeforeMessageID: nextBefore,
		Count:               len(out),
	})
}

func deliverMeta(m *messages.Message) protocol.MessageDeliverMeta {
	return protocol.MessageDeliverMeta{
		MessageID:        m.MessageID,
		ConversationType: m.ConversationType,
		ConversationID:   m.ConversationID,
		SenderID:         m.SenderID,
		SenderNickname:   m.SenderNickname,
		Content:          m.Content,
		CreatedAt:        m.CreatedAt,
	}
}

func fileNotice(f *files.File) protocol.FileNoticeMeta {
	return protocol.FileNoticeMeta{
		Status:           protocol.Status{Status: protocol.StatusOK},
		FileID:           f.FileID,
		ConversationType: f.ConversationType,
		ConversationID:   f.ConversationID,
		FileName:         f.FileName,
		FileSize:         f.FileSize,
		Sha256:           f.Sha256,
		UploaderID:       f.UploaderID,
		UploaderNickname: f.UploaderNickname,
		CreatedAt:        f.CreatedAt,
	}
}
