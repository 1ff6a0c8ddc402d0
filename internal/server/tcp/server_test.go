package tcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oltchat/internal/logging"
	"oltchat/internal/protocol"
	"oltchat/internal/server/config"
	"oltchat/internal/server/files"
	"oltchat/internal/server/groups"
	"oltchat/internal/server/messages"
	"oltchat/internal/server/storage"
	"oltchat/internal/server/users"
)

const testChunkSize = 64

type fakeConn struct {
	id     uint64
	frames [][]byte
	closed bool
}

func (f *fakeConn) ID() uint64 { return f.id }

func (f *fakeConn) QueueWrite(frame []byte) { f.frames = append(f.frames, frame) }

func (f *fakeConn) Close() { f.closed = true }

// packets decodes and drains everything queued so far.
func (f *fakeConn) packets(t *testing.T) []*protocol.Packet {
	t.Helper()

	var buf protocol.Buffer
	for _, fr := range f.frames {
		buf.Append(fr)
	}
	f.frames = nil

	var out []*protocol.Packet
	for {
		p, err := protocol.Decode(&buf)
		require.NoError(t, err)
		if p == nil {
			break
		}
		out = append(out, p)
	}
	return out
}

func firstOfType(pkts []*protocol.Packet, t protocol.Type) *protocol.Packet {
	for _, p := range pkts {
		if p.Type == t {
			return p
		}
	}
	return nil
}

func unmarshalInto(t *testing.T, raw []byte, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

type testEnv struct {
	srv    *Server
	nextID uint64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.InitSchema(ctx, db))

	fileSvc, err := files.NewService(files.NewSQLiteRepository(db), t.TempDir(), testChunkSize)
	require.NoError(t, err)

	cfg := &config.Config{
		MaxClients:      8,
		HistoryPageSize: 100,
		FileChunkSize:   testChunkSize,
	}

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	srv := NewServer(cfg, logger,
		users.NewService(users.NewSQLiteRepository(db)),
		groups.NewService(groups.NewSQLiteRepository(db)),
		messages.NewService(messages.NewSQLiteRepository(db)),
		fileSvc)

	return &testEnv{srv: srv}
}

func (e *testEnv) connect(t *testing.T) *fakeConn {
	t.Helper()
	e.nextID++
	conn := &fakeConn{id: e.nextID}
	e.srv.onAccepted(context.Background(), conn)
	return conn
}

func (e *testEnv) request(t *testing.T, conn *fakeConn, typ protocol.Type, reqID uint64, meta any, bin []byte) {
	t.Helper()
	raw, err := json.Marshal(meta)
	require.NoError(t, err)
	e.srv.onPacket(context.Background(), conn, &protocol.Packet{
		Type:      typ,
		RequestID: reqID,
		Meta:      raw,
		Bin:       bin,
	})
}

func (e *testEnv) register(t *testing.T, conn *fakeConn, userID, nickname, password string) {
	t.Helper()
	e.request(t, conn, protocol.TypeAuthRegister, 1, protocol.AuthRegisterMeta{
		UserID: userID, Nickname: nickname, Password: password,
	}, nil)

	pkts := conn.packets(t)
	ok := firstOfType(pkts, protocol.TypeAuthOk)
	require.NotNil(t, ok, "expected AuthOk, got %+v", pkts)
}

func (e *testEnv) login(t *testing.T, conn *fakeConn, userID, password string) []*protocol.Packet {
	t.Helper()
	e.request(t, conn, protocol.TypeAuthLogin, 2, protocol.AuthLoginMeta{
		UserID: userID, Password: password,
	}, nil)
	return conn.packets(t)
}

func (e *testEnv) registerAndLogin(t *testing.T, userID, nickname string) *fakeConn {
	t.Helper()
	conn := e.connect(t)
	e.register(t, conn, userID, nickname, "pw")
	pkts := e.login(t, conn, userID, "pw")
	require.NotNil(t, firstOfType(pkts, protocol.TypeAuthOk))
	return conn
}

func TestRegisterThenLogin(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t)

	env.request(t, conn, protocol.TypeAuthRegister, 7, protocol.AuthRegisterMeta{
		UserID: "alice", Nickname: "Alice", Password: "pw",
	}, nil)

	pkts := conn.packets(t)
	reply := firstOfType(pkts, protocol.TypeAuthOk)
	require.NotNil(t, reply)
	assert.Equal(t, uint64(7), reply.RequestID)

	var reg protocol.AuthOkMeta
	unmarshalInto(t, reply.Meta, &reg)
	assert.True(t, reg.Registered)
	assert.False(t, reg.LoggedIn)

	pkts = env.login(t, conn, "alice", "pw")

	reply = firstOfType(pkts, protocol.TypeAuthOk)
	require.NotNil(t, reply)

	var ok protocol.AuthOkMeta
	unmarshalInto(t, reply.Meta, &ok)
	assert.True(t, ok.LoggedIn)
	assert.Equal(t, "alice", ok.UserID)
	assert.Equal(t, "Alice", ok.Nickname)
	require.Len(t, ok.OnlineUsers, 1)
	assert.Equal(t, "alice", ok.OnlineUsers[0].UserID)

	// login is followed by a user list push
	push := firstOfType(pkts, protocol.TypeUserListUpdate)
	require.NotNil(t, push)
	assert.Zero(t, push.RequestID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t)
	env.register(t, conn, "alice", "Alice", "pw")

	pkts := env.login(t, conn, "alice", "wrong")

	reply := firstOfType(pkts, protocol.TypeAuthError)
	require.NotNil(t, reply)

	var authErr protocol.AuthErrorMeta
	unmarshalInto(t, reply.Meta, &authErr)
	assert.Equal(t, "LOGIN_FAILED", authErr.Code)
}

func TestRegisterDuplicateUserID(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t)
	env.register(t, conn, "alice", "Alice", "pw")

	env.request(t, conn, protocol.TypeAuthRegister, 3, protocol.AuthRegisterMeta{
		UserID: "alice", Nickname: "Other", Password: "pw2",
	}, nil)

	reply := firstOfType(conn.packets(t), protocol.TypeAuthError)
	require.NotNil(t, reply)

	var authErr protocol.AuthErrorMeta
	unmarshalInto(t, reply.Meta, &authErr)
	assert.Equal(t, "ALREADY_EXISTS", authErr.Code)
}

func TestSecondLoginRejected(t *testing.T) {
	env := newTestEnv(t)
	c1 := env.registerAndLogin(t, "alice", "Alice")

	c2 := env.connect(t)
	pkts := env.login(t, c2, "alice", "pw")

	reply := firstOfType(pkts, protocol.TypeAuthError)
	require.NotNil(t, reply)

	var authErr protocol.AuthErrorMeta
	unmarshalInto(t, reply.Meta, &authErr)
	assert.Equal(t, "LOGIN_FAILED", authErr.Code)
	assert.Contains(t, authErr.Message, "already online")

	// the first session is untouched
	assert.True(t, env.srv.registry.IsLoggedIn(c1.ID()))
}

func TestRequestsRequireLogin(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t)

	env.request(t, conn, protocol.TypeMessageSend, 5, protocol.MessageSendMeta{
		ConversationType: "private", ConversationID: "bob", Content: "hi",
	}, nil)

	reply := firstOfType(conn.packets(t), protocol.TypeMessageSend)
	require.NotNil(t, reply)

	var status protocol.Status
	unmarshalInto(t, reply.Meta, &status)
	assert.False(t, status.OK())
	assert.Equal(t, "NOT_LOGGED_IN", status.Code)
}

func TestPrivateMessagePushedToOnlineRecipient(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	bob := env.registerAndLogin(t, "bob", "Bob")
	alice.packets(t) // drop bob's login user list push

	env.request(t, alice, protocol.TypeMessageSend, 10, protocol.MessageSendMeta{
		ConversationType: "private", ConversationID: "bob", Content: "hi bob",
	}, nil)

	reply := firstOfType(alice.packets(t), protocol.TypeMessageSend)
	require.NotNil(t, reply)

	var resp protocol.MessageSendResp
	unmarshalInto(t, reply.Meta, &resp)
	require.True(t, resp.OK())
	assert.NotZero(t, resp.MessageID)
	assert.NotZero(t, resp.CreatedAt)

	push := firstOfType(bob.packets(t), protocol.TypeMessageDeliver)
	require.NotNil(t, push)
	assert.Zero(t, push.RequestID)

	var deliver protocol.MessageDeliverMeta
	unmarshalInto(t, push.Meta, &deliver)
	assert.Equal(t, resp.MessageID, deliver.MessageID)
	assert.Equal(t, "alice", deliver.SenderID)
	assert.Equal(t, "hi bob", deliver.Content)
}

func TestOfflineMessageReplayedOnceAtLogin(t *testing.T) {
	env := newTestEnv(t)

	bootstrap := env.connect(t)
	env.register(t, bootstrap, "bob", "Bob", "pw")
	env.srv.onClosed(context.Background(), bootstrap)

	alice := env.registerAndLogin(t, "alice", "Alice")

	env.request(t, alice, protocol.TypeMessageSend, 10, protocol.MessageSendMeta{
		ConversationType: "private", ConversationID: "bob", Content: "hi",
	}, nil)
	var resp protocol.MessageSendResp
	unmarshalInto(t, firstOfType(alice.packets(t), protocol.TypeMessageSend).Meta, &resp)
	require.True(t, resp.OK())

	// first login replays the pending message
	bob := env.connect(t)
	pkts := env.login(t, bob, "bob", "pw")

	push := firstOfType(pkts, protocol.TypeMessageDeliver)
	require.NotNil(t, push)

	var deliver protocol.MessageDeliverMeta
	unmarshalInto(t, push.Meta, &deliver)
	assert.Equal(t, resp.MessageID, deliver.MessageID)
	assert.Equal(t, "hi", deliver.Content)

	// a second login must not replay it
	env.srv.onClosed(context.Background(), bob)
	bob2 := env.connect(t)
	pkts = env.login(t, bob2, "bob", "pw")
	assert.Nil(t, firstOfType(pkts, protocol.TypeMessageDeliver))
}

func TestMessageToUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")

	env.request(t, alice, protocol.TypeMessageSend, 4, protocol.MessageSendMeta{
		ConversationType: "private", ConversationID: "nobody", Content: "hi",
	}, nil)

	var status protocol.Status
	unmarshalInto(t, firstOfType(alice.packets(t), protocol.TypeMessageSend).Meta, &status)
	assert.Equal(t, "TARGET_NOT_FOUND", status.Code)
}

func (e *testEnv) createGroup(t *testing.T, conn *fakeConn, name string) string {
	t.Helper()
	e.request(t, conn, protocol.TypeGroupCreate, 20, protocol.GroupCreateMeta{Name: name}, nil)

	var resp protocol.GroupCreateResp
	unmarshalInto(t, firstOfType(conn.packets(t), protocol.TypeGroupCreate).Meta, &resp)
	require.True(t, resp.OK())
	require.NotEmpty(t, resp.GroupID)
	return resp.GroupID
}

func (e *testEnv) joinGroup(t *testing.T, conn *fakeConn, groupID string) {
	t.Helper()
	e.request(t, conn, protocol.TypeGroupJoin, 21, protocol.GroupMemberMeta{GroupID: groupID}, nil)

	var status protocol.Status
	unmarshalInto(t, firstOfType(conn.packets(t), protocol.TypeGroupJoin).Meta, &status)
	require.True(t, status.OK())
}

func TestGroupMessageFanoutExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	bob := env.registerAndLogin(t, "bob", "Bob")
	carol := env.registerAndLogin(t, "carol", "Carol")

	groupID := env.createGroup(t, alice, "team")
	env.joinGroup(t, bob, groupID)
	env.joinGroup(t, carol, groupID)

	alice.packets(t)
	bob.packets(t)
	carol.packets(t)

	env.request(t, alice, protocol.TypeMessageSend, 30, protocol.MessageSendMeta{
		ConversationType: "group", ConversationID: groupID, Content: "hello team",
	}, nil)

	var resp protocol.MessageSendResp
	unmarshalInto(t, firstOfType(alice.packets(t), protocol.TypeMessageSend).Meta, &resp)
	require.True(t, resp.OK())

	assert.Nil(t, firstOfType(alice.packets(t), protocol.TypeMessageDeliver), "sender gets no push")
	assert.NotNil(t, firstOfType(bob.packets(t), protocol.TypeMessageDeliver))
	assert.NotNil(t, firstOfType(carol.packets(t), protocol.TypeMessageDeliver))
}

func TestGroupDissolveRemovesConversation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	bob := env.registerAndLogin(t, "bob", "Bob")

	groupID := env.createGroup(t, alice, "team")
	env.joinGroup(t, bob, groupID)
	alice.packets(t)
	bob.packets(t)

	for _, content := range []string{"one", "two", "three"} {
		env.request(t, alice, protocol.TypeMessageSend, 30, protocol.MessageSendMeta{
			ConversationType: "group", ConversationID: groupID, Content: content,
		}, nil)
	}
	alice.packets(t)
	bob.packets(t)

	env.request(t, alice, protocol.TypeGroupAdmin, 31, protocol.GroupAdminMeta{
		Action: "dissolve", GroupID: groupID,
	}, nil)

	var status protocol.Status
	unmarshalInto(t, firstOfType(alice.packets(t), protocol.TypeGroupAdmin).Meta, &status)
	require.True(t, status.OK())

	// former members can no longer send
	env.request(t, bob, protocol.TypeMessageSend, 32, protocol.MessageSendMeta{
		ConversationType: "group", ConversationID: groupID, Content: "late",
	}, nil)
	unmarshalInto(t, firstOfType(bob.packets(t), protocol.TypeMessageSend).Meta, &status)
	assert.Equal(t, "NOT_IN_GROUP", status.Code)
}

func TestGroupDissolveRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	bob := env.registerAndLogin(t, "bob", "Bob")

	groupID := env.createGroup(t, alice, "team")
	env.joinGroup(t, bob, groupID)

	env.request(t, bob, protocol.TypeGroupAdmin, 31, protocol.GroupAdminMeta{
		Action: "dissolve", GroupID: groupID,
	}, nil)

	var status protocol.Status
	unmarshalInto(t, firstOfType(bob.packets(t), protocol.TypeGroupAdmin).Meta, &status)
	assert.Equal(t, "ADMIN_FAILED", status.Code)
}

func TestHistoryFetchPagesBackwards(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	env.registerAndLogin(t, "bob", "Bob")
	alice.packets(t)

	for _, content := range []string{"m1", "m2", "m3"} {
		env.request(t, alice, protocol.TypeMessageSend, 40, protocol.MessageSendMeta{
			ConversationType: "private", ConversationID: "bob", Content: content,
		}, nil)
	}
	alice.packets(t)

	env.request(t, alice, protocol.TypeHistoryFetch, 41, protocol.HistoryFetchMeta{
		ConversationType: "private", ConversationID: "bob", BeforeMessageID: 0, Limit: 2,
	}, nil)

	var page protocol.HistoryResponseMeta
	unmarshalInto(t, firstOfType(alice.packets(t), protocol.TypeHistoryResponse).Meta, &page)
	require.True(t, page.OK())
	require.Equal(t, 2, page.Count)
	assert.Equal(t, "m2", page.Messages[0].Content, "page is oldest-first")
	assert.Equal(t, "m3", page.Messages[1].Content)
	require.NotZero(t, page.NextBeforeMessageID)

	env.request(t, alice, protocol.TypeHistoryFetch, 42, protocol.HistoryFetchMeta{
		ConversationType: "private", ConversationID: "bob",
		BeforeMessageID: page.NextBeforeMessageID, Limit: 2,
	}, nil)

	unmarshalInto(t, firstOfType(alice.packets(t), protocol.TypeHistoryResponse).Meta, &page)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, "m1", page.Messages[0].Content)
}

func TestHistoryFetchGroupRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	bob := env.registerAndLogin(t, "bob", "Bob")

	groupID := env.createGroup(t, alice, "team")

	env.request(t, bob, protocol.TypeHistoryFetch, 41, protocol.HistoryFetchMeta{
		ConversationType: "group", ConversationID: groupID,
	}, nil)

	var status protocol.Status
	unmarshalInto(t, firstOfType(bob.packets(t), protocol.TypeHistoryResponse).Meta, &status)
	assert.Equal(t, "NOT_IN_GROUP", status.Code)
}

func sumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (e *testEnv) offer(t *testing.T, conn *fakeConn, content []byte, convType, convID, fileID string) protocol.FileAcceptMeta {
	t.Helper()
	e.request(t, conn, protocol.TypeFileOffer, 50, protocol.FileOfferMeta{
		ConversationType: convType,
		ConversationID:   convID,
		FileName:         "notes.txt",
		FileSize:         int64(len(content)),
		Sha256:           sumHex(content),
		FileID:           fileID,
	}, nil)

	var accept protocol.FileAcceptMeta
	unmarshalInto(t, firstOfType(conn.packets(t), protocol.TypeFileAccept).Meta, &accept)
	return accept
}

func (e *testEnv) uploadChunk(t *testing.T, conn *fakeConn, fileID string, offset int64, data []byte) protocol.FileUploadChunkResp {
	t.Helper()
	e.request(t, conn, protocol.TypeFileUploadChunk, 51, protocol.FileUploadChunkMeta{
		FileID: fileID, Offset: offset,
	}, data)

	var resp protocol.FileUploadChunkResp
	unmarshalInto(t, firstOfType(conn.packets(t), protocol.TypeFileUploadChunk).Meta, &resp)
	return resp
}

func TestResumableUploadAndDownload(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	bob := env.registerAndLogin(t, "bob", "Bob")
	alice.packets(t)
	bob.packets(t)

	content := make([]byte, 200)
	for i := range content {
		content[i] = byte(i)
	}

	accept := env.offer(t, alice, content, "private", "bob", "")
	require.True(t, accept.OK())
	require.NotEmpty(t, accept.FileID)
	assert.Zero(t, accept.NextOffset)
	assert.Equal(t, int64(testChunkSize), accept.ChunkSize)

	// three full chunks, then the connection is cut
	for off := int64(0); off < 192; off += testChunkSize {
		resp := env.uploadChunk(t, alice, accept.FileID, off, content[off:off+testChunkSize])
		require.True(t, resp.OK())
		assert.Equal(t, off+testChunkSize, resp.NextOffset)
	}

	env.srv.onClosed(context.Background(), alice)

	// reconnect and resume with the existing file id
	alice2 := env.connect(t)
	env.login(t, alice2, "alice", "pw")
	bob.packets(t)

	resumed := env.offer(t, alice2, content, "private", "bob", accept.FileID)
	require.True(t, resumed.OK())
	assert.Equal(t, int64(192), resumed.NextOffset)

	resp := env.uploadChunk(t, alice2, accept.FileID, 192, content[192:])
	require.True(t, resp.OK())
	assert.Equal(t, int64(200), resp.NextOffset)

	env.request(t, alice2, protocol.TypeFileUploadDone, 52, protocol.FileUploadDoneMeta{
		FileID: accept.FileID,
	}, nil)

	var notice protocol.FileNoticeMeta
	unmarshalInto(t, firstOfType(alice2.packets(t), protocol.TypeFileDone).Meta, &notice)
	require.True(t, notice.OK())
	assert.Equal(t, accept.FileID, notice.FileID)
	assert.Equal(t, "alice", notice.UploaderID)

	// bob is online and gets the push
	push := firstOfType(bob.packets(t), protocol.TypeFileDone)
	require.NotNil(t, push)
	assert.Zero(t, push.RequestID)

	// bob downloads until done and the content round-trips
	var got []byte
	var offset int64
	for {
		env.request(t, bob, protocol.TypeFileDownloadRequest, 53, protocol.FileDownloadRequestMeta{
			FileID: accept.FileID, Offset: offset,
		}, nil)

		reply := firstOfType(bob.packets(t), protocol.TypeFileDownloadChunk)
		require.NotNil(t, reply)

		var chunk protocol.FileDownloadChunkMeta
		unmarshalInto(t, reply.Meta, &chunk)
		require.True(t, chunk.OK())
		require.Equal(t, offset, chunk.Offset)
		require.NotEmpty(t, reply.Bin)

		got = append(got, reply.Bin...)
		offset += int64(len(reply.Bin))
		if chunk.Done {
			break
		}
	}

	assert.Equal(t, content, got)
	assert.Equal(t, sumHex(content), sumHex(got))
}

func TestResumeOfferValidatesFields(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	env.registerAndLogin(t, "bob", "Bob")
	alice.packets(t)

	content := []byte("resumable payload")
	accept := env.offer(t, alice, content, "private", "bob", "")
	require.True(t, accept.OK())

	// a resume offer is held to the same field rules as a fresh one
	env.request(t, alice, protocol.TypeFileOffer, 50, protocol.FileOfferMeta{
		ConversationType: "broadcast",
		ConversationID:   "bob",
		FileName:         "notes.txt",
		FileSize:         int64(len(content)),
		Sha256:           sumHex(content),
		FileID:           accept.FileID,
	}, nil)

	var status protocol.Status
	unmarshalInto(t, firstOfType(alice.packets(t), protocol.TypeFileAccept).Meta, &status)
	assert.Equal(t, "INVALID_CONVERSATION_TYPE", status.Code)

	env.request(t, alice, protocol.TypeFileOffer, 50, protocol.FileOfferMeta{
		ConversationType: "private",
		ConversationID:   "bob",
		FileName:         "notes.txt",
		FileSize:         int64(len(content)),
		Sha256:           "not-a-hash",
		FileID:           accept.FileID,
	}, nil)

	unmarshalInto(t, firstOfType(alice.packets(t), protocol.TypeFileAccept).Meta, &status)
	assert.Equal(t, "INVALID_SHA256", status.Code)

	// a well-formed resume still works
	resumed := env.offer(t, alice, content, "private", "bob", accept.FileID)
	require.True(t, resumed.OK())
	assert.Zero(t, resumed.NextOffset)
}

func TestUploadOffsetMismatchCarriesExpected(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	env.registerAndLogin(t, "bob", "Bob")
	alice.packets(t)

	content := make([]byte, 100)
	accept := env.offer(t, alice, content, "private", "bob", "")
	require.True(t, accept.OK())

	resp := env.uploadChunk(t, alice, accept.FileID, 64, content[:36])
	require.False(t, resp.OK())
	assert.Equal(t, "UPLOAD_FAILED", resp.Code)
	require.NotNil(t, resp.ExpectedOffset)
	assert.Zero(t, *resp.ExpectedOffset)
}

func TestFinalizeShaMismatchKeepsFileUnpublished(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	bob := env.registerAndLogin(t, "bob", "Bob")
	alice.packets(t)
	bob.packets(t)

	content := []byte("payload bytes")

	env.request(t, alice, protocol.TypeFileOffer, 50, protocol.FileOfferMeta{
		ConversationType: "private",
		ConversationID:   "bob",
		FileName:         "notes.txt",
		FileSize:         int64(len(content)),
		Sha256:           "0000000000000000000000000000000000000000000000000000000000000000",
	}, nil)

	var accept protocol.FileAcceptMeta
	unmarshalInto(t, firstOfType(alice.packets(t), protocol.TypeFileAccept).Meta, &accept)
	require.True(t, accept.OK())

	resp := env.uploadChunk(t, alice, accept.FileID, 0, content)
	require.True(t, resp.OK())

	env.request(t, alice, protocol.TypeFileUploadDone, 52, protocol.FileUploadDoneMeta{
		FileID: accept.FileID,
	}, nil)

	var status protocol.Status
	unmarshalInto(t, firstOfType(alice.packets(t), protocol.TypeFileDone).Meta, &status)
	assert.Equal(t, "FINALIZE_FAILED", status.Code)
	assert.Contains(t, status.Message, "sha256 mismatch")

	// no broadcast happened and the file stays gated
	assert.Nil(t, firstOfType(bob.packets(t), protocol.TypeFileDone))

	env.request(t, bob, protocol.TypeFileDownloadRequest, 53, protocol.FileDownloadRequestMeta{
		FileID: accept.FileID, Offset: 0,
	}, nil)
	unmarshalInto(t, firstOfType(bob.packets(t), protocol.TypeFileDownloadChunk).Meta, &status)
	assert.Equal(t, "FILE_STILL_UPLOADING", status.Code)
}

func TestDownloadRequiresTarget(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	env.registerAndLogin(t, "bob", "Bob")
	carol := env.registerAndLogin(t, "carol", "Carol")
	alice.packets(t)

	content := []byte("private file")
	accept := env.offer(t, alice, content, "private", "bob", "")
	require.True(t, accept.OK())
	resp := env.uploadChunk(t, alice, accept.FileID, 0, content)
	require.True(t, resp.OK())
	env.request(t, alice, protocol.TypeFileUploadDone, 52, protocol.FileUploadDoneMeta{FileID: accept.FileID}, nil)

	env.request(t, carol, protocol.TypeFileDownloadRequest, 53, protocol.FileDownloadRequestMeta{
		FileID: accept.FileID, Offset: 0,
	}, nil)

	var status protocol.Status
	unmarshalInto(t, firstOfType(carol.packets(t), protocol.TypeFileDownloadChunk).Meta, &status)
	assert.Equal(t, "NO_PERMISSION", status.Code)
}

func TestOfflineFileNoticeReplayedAtLogin(t *testing.T) {
	env := newTestEnv(t)

	bootstrap := env.connect(t)
	env.register(t, bootstrap, "bob", "Bob", "pw")
	env.srv.onClosed(context.Background(), bootstrap)

	alice := env.registerAndLogin(t, "alice", "Alice")

	content := []byte("for bob, later")
	accept := env.offer(t, alice, content, "private", "bob", "")
	require.True(t, accept.OK())
	resp := env.uploadChunk(t, alice, accept.FileID, 0, content)
	require.True(t, resp.OK())
	env.request(t, alice, protocol.TypeFileUploadDone, 52, protocol.FileUploadDoneMeta{FileID: accept.FileID}, nil)
	alice.packets(t)

	bob := env.connect(t)
	pkts := env.login(t, bob, "bob", "pw")

	push := firstOfType(pkts, protocol.TypeFileDone)
	require.NotNil(t, push)

	var notice protocol.FileNoticeMeta
	unmarshalInto(t, push.Meta, &notice)
	assert.Equal(t, accept.FileID, notice.FileID)

	// no replay on a second login
	env.srv.onClosed(context.Background(), bob)
	bob2 := env.connect(t)
	pkts = env.login(t, bob2, "bob", "pw")
	assert.Nil(t, firstOfType(pkts, protocol.TypeFileDone))
}

func TestGroupUploadTargetsIncludeUploader(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	bob := env.registerAndLogin(t, "bob", "Bob")

	groupID := env.createGroup(t, alice, "team")
	env.joinGroup(t, bob, groupID)
	alice.packets(t)
	bob.packets(t)

	content := []byte("group file")
	accept := env.offer(t, alice, content, "group", groupID, "")
	require.True(t, accept.OK())
	resp := env.uploadChunk(t, alice, accept.FileID, 0, content)
	require.True(t, resp.OK())
	env.request(t, alice, protocol.TypeFileUploadDone, 52, protocol.FileUploadDoneMeta{FileID: accept.FileID}, nil)
	alice.packets(t)

	// the uploader holds a target row, so they may download their own file
	env.request(t, alice, protocol.TypeFileDownloadRequest, 53, protocol.FileDownloadRequestMeta{
		FileID: accept.FileID, Offset: 0,
	}, nil)

	reply := firstOfType(alice.packets(t), protocol.TypeFileDownloadChunk)
	require.NotNil(t, reply)

	var chunk protocol.FileDownloadChunkMeta
	unmarshalInto(t, reply.Meta, &chunk)
	assert.True(t, chunk.OK())
	assert.Equal(t, content, reply.Bin)
}

func TestClientLimitRefusesConnection(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.MaxClients = 1

	first := env.connect(t)
	second := env.connect(t)

	assert.False(t, first.closed)
	assert.True(t, second.closed)
}

func TestUnknownPacketType(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")

	env.srv.onPacket(context.Background(), alice, &protocol.Packet{
		Type: protocol.TypePresenceUpdate, RequestID: 9, Meta: []byte(`{}`),
	})

	reply := firstOfType(alice.packets(t), protocol.TypePresenceUpdate)
	require.NotNil(t, reply)

	var status protocol.Status
	unmarshalInto(t, reply.Meta, &status)
	assert.Equal(t, "INVALID_REQUEST", status.Code)
}

func TestDisconnectBroadcastsUserList(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "Alice")
	bob := env.registerAndLogin(t, "bob", "Bob")
	alice.packets(t)
	bob.packets(t)

	env.srv.onClosed(context.Background(), bob)

	push := firstOfType(alice.packets(t), protocol.TypeUserListUpdate)
	require.NotNil(t, push)

	var list protocol.UserListUpdateMeta
	unmarshalInto(t, push.Meta, &list)
	require.Len(t, list.Users, 1)
	assert.Equal(t, "alice", list.Users[0].UserID)
}
