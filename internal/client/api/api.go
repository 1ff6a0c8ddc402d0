// Package api provides thin typed wrappers over the wire protocol.
// Each call allocates a request id, shapes the metadata object and
// queues the packet; responses come back through the endpoint's poll
// loop.
package api

import (
	"encoding/json"
	"fmt"

	"oltchat/internal/protocol"
)

// Endpoint is the slice of the network client the API needs.
type Endpoint interface {
	NextRequestID() uint64
	SendPacket(p *protocol.Packet)
}

type API struct {
	ep Endpoint
}

func New(ep Endpoint) *API {
	return &API{ep: ep}
}

func (a *API) send(t protocol.Type, meta any) (uint64, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	id := a.ep.NextRequestID()
	a.ep.SendPacket(&protocol.Packet{Type: t, RequestID: id, Meta: raw})
	return id, nil
}

func (a *API) Register(userID, nickname, password string) (uint64, error) {
	return a.send(protocol.TypeAuthRegister, protocol.AuthRegisterMeta{
		UserID:   userID,
		Nickname: nickname,
		Password: password,
	})
}

func (a *API) Login(userID, password string) (uint64, error) {
	return a.send(protocol.TypeAuthLogin, protocol.AuthLoginMeta{
		UserID:   userID,
		Password: password,
	})
}

func (a *API) SendMessage(convType, convID, content string) (uint64, error) {
	return a.send(protocol.TypeMessageSend, protocol.MessageSendMeta{
		ConversationType: convType,
		ConversationID:   convID,
		Content:          content,
	})
}

func (a *API) FetchHistory(convType, convID string, beforeID int64, limit int) (uint64, error) {
	return a.send(protocol.TypeHistoryFetch, protocol.HistoryFetchMeta{
		ConversationType: convType,
		ConversationID:   convID,
		BeforeMessageID:  beforeID,
		Limit:            limit,
	})
}

func (a *API) CreateGroup(name string) (uint64, error) {
	return a.send(protocol.TypeGroupCreate, protocol.GroupCreateMeta{Name: name})
}

func (a *API) JoinGroup(groupID string) (uint64, error) {
	return a.send(protocol.TypeGroupJoin, protocol.GroupMemberMeta{GroupID: groupID})
}

func (a *API) LeaveGroup(groupID string) (uint64, error) {
	return a.send(protocol.TypeGroupLeave, protocol.GroupMemberMeta{GroupID: groupID})
}

func (a *API) RenameGroup(groupID, name string) (uint64, error) {
	return a.send(protocol.TypeGroupAdmin, protocol.GroupAdminMeta{
		Action:  "rename",
		GroupID: groupID,
		Name:    name,
	})
}

func (a *API) Kick(groupID, targetUserID string) (uint64, error) {
	return a.send(protocol.TypeGroupAdmin, protocol.GroupAdminMeta{
		Action:       "kick",
		GroupID:      groupID,
		TargetUserID: targetUserID,
	})
}

func (a *API) Dissolve(groupID string) (uint64, error) {
	return a.send(protocol.TypeGroupAdmin, protocol.GroupAdminMeta{
		Action:  "dissolve",
		GroupID: groupID,
	})
}

func (a *API) SetAdmin(groupID, targetUserID string, promote bool) (uint64, error) {
	action := "demote"
	if promote {
		action = "promote"
	}
	return a.send(protocol.TypeGroupAdmin, protocol.GroupAdminMeta{
		Action:       action,
		GroupID:      groupID,
		TargetUserID: targetUserID,
	})
}
