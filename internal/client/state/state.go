// Package state holds the client's view of the chat: identity, online
// users, per-conversation message lists with backward-paging cursors,
// and published-file notices. It is owned by the UI goroutine; the
// poll pump feeds it packets via Apply.
package state

import (
	"encoding/json"
	"fmt"

	"oltchat/internal/protocol"
)

type cursor struct {
	nextBefore int64
	hasMore    bool
}

type State struct {
	UserID    string
	Nickname  string
	LoggedIn  bool
	LastError string

	online        []protocol.UserInfo
	conversations map[string][]protocol.MessageDeliverMeta
	files         map[string][]protocol.FileNoticeMeta
	cursors       map[string]*cursor
}

func New() *State {
	return &State{
		conversations: make(map[string][]protocol.MessageDeliverMeta),
		files:         make(map[string][]protocol.FileNoticeMeta),
		cursors:       make(map[string]*cursor),
	}
}

// Key returns the conversation key `type:id`.
func Key(convType, convID string) string {
	return convType + ":" + convID
}

// conversationKey resolves the key an inbound item belongs to: group
// items keep the group id, private items are filed under the
// counterparty.
func (s *State) conversationKey(convType, convID, senderID string) string {
	if convType == "private" && senderID != s.UserID {
		return Key(convType, senderID)
	}
	return Key(convType, convID)
}

// Apply folds one inbound packet into the state. Packets the state
// does not track are ignored.
func (s *State) Apply(pkt *protocol.Packet) error {
	switch pkt.Type {
	case protocol.TypeAuthOk:
		var meta protocol.AuthOkMeta
		if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
			return fmt.Errorf("decode AuthOk: %w", err)
		}
		if meta.LoggedIn {
			s.UserID = meta.UserID
			s.Nickname = meta.Nickname
			s.LoggedIn = true
			s.online = meta.OnlineUsers
			s.LastError = ""
		}

	case protocol.TypeAuthError:
		var meta protocol.AuthErrorMeta
		if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
			return fmt.Errorf("decode AuthError: %w", err)
		}
		s.LastError = meta.Code + ": " + meta.Message

	case protocol.TypeUserListUpdate:
		var meta protocol.UserListUpdateMeta
		if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
			return fmt.Errorf("decode UserListUpdate: %w", err)
		}
		s.online = meta.Users

	case protocol.TypeMessageDeliver:
		var meta protocol.MessageDeliverMeta
		if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
			return fmt.Errorf("decode MessageDeliver: %w", err)
		}
		key := s.conversationKey(meta.ConversationType, meta.ConversationID, meta.SenderID)
		s.conversations[key] = append(s.conversations[key], meta)

	case protocol.TypeHistoryResponse:
		var meta protocol.HistoryResponseMeta
		if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
			return fmt.Errorf("decode HistoryResponse: %w", err)
		}
		if !meta.OK() {
			s.LastError = meta.Code + ": " + meta.Message
			return nil
		}
		s.mergeHistory(&meta)

	case protocol.TypeFileDone:
		var meta protocol.FileNoticeMeta
		if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
			return fmt.Errorf("decode FileDone: %w", err)
		}
		if !meta.OK() {
			s.LastError = meta.Code + ": " + meta.Message
			return nil
		}
		key := s.conversationKey(meta.ConversationType, meta.ConversationID, meta.UploaderID)
		s.files[key] = append(s.files[key], meta)
	}

	return nil
}

// mergeHistory folds a fetched page into the conversation. Pages are
// oldest-first; an older page is prepended in front of what is already
// loaded, anything else is appended.
func (s *State) mergeHistory(meta *protocol.HistoryResponseMeta) {
	key := Key(meta.ConversationType, meta.ConversationID)

	cur, ok := s.cursors[key]
	if !ok {
		cur = &cursor{}
		s.cursors[key] = cur
	}
	cur.nextBefore = meta.NextBeforeMessageID
	cur.hasMore = meta.Count > 0 && meta.NextBeforeMessageID > 0

	if meta.Count == 0 {
		return
	}

	existing := s.conversations[key]
	switch {
	case len(existing) == 0:
		s.conversations[key] = append([]protocol.MessageDeliverMeta(nil), meta.Messages...)
	case meta.Messages[len(meta.Messages)-1].MessageID < existing[0].MessageID:
		merged := make([]protocol.MessageDeliverMeta, 0, len(meta.Messages)+len(existing))
		merged = append(merged, meta.Messages...)
		merged = append(merged, existing...)
		s.conversations[key] = merged
	default:
		s.conversations[key] = append(existing, meta.Messages...)
	}
}

// Messages returns the loaded slice of a conversation, oldest first.
func (s *State) Messages(convType, convID string) []protocol.MessageDeliverMeta {
	return s.conversations[Key(convType, convID)]
}

// Files returns the known published-file notices of a conversation.
func (s *State) Files(convType, convID string) []protocol.FileNoticeMeta {
	return s.files[Key(convType, convID)]
}

// OnlineUsers returns the latest pushed user list.
func (s *State) OnlineUsers() []protocol.UserInfo {
	return s.online
}

// NextBeforeID returns the cursor for the next older history page, or
// 0 when no page has been fetched yet.
func (s *State) NextBeforeID(convType, convID string) int64 {
	if cur, ok := s.cursors[Key(convType, convID)]; ok {
		return cur.nextBefore
	}
	return 0
}

// HasMore reports whether an older page may still exist.
func (s *State) HasMore(convType, convID string) bool {
	cur, ok := s.cursors[Key(convType, convID)]
	return !ok || cur.hasMore
}

// ResetCursor forgets the paging position of a conversation.
func (s *State) ResetCursor(convType, convID string) {
	delete(s.cursors, Key(convType, convID))
}
