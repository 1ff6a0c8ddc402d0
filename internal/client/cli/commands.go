package cli

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"oltchat/internal/protocol"
)

// transferStall bounds how long an upload or download wait tolerates
// zero progress before handing the transfer to the background.
const transferStall = 30 * time.Second

// dispatch runs one command line. Returns true when the user asked to
// exit.
func (a *App) dispatch(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "exit", "quit":
		return true

	case "help":
		a.help()

	case "register":
		if a.ensureConnected() {
			if err := a.Register(); err != nil {
				log.Printf("register: %s", err.Error())
			}
		}

	case "login":
		if a.ensureConnected() {
			if err := a.Login(); err != nil {
				log.Printf("login: %s", err.Error())
			}
		}

	default:
		if !a.state.LoggedIn {
			fmt.Println("Not logged in. Available commands: register, login, exit")
			return false
		}
		if !a.ensureConnected() {
			return false
		}
		a.command(cmd, args)
	}

	return false
}

func (a *App) command(cmd string, args []string) {
	switch cmd {
	case "users":
		a.listUsers()
	case "open":
		a.open(args)
	case "say":
		a.say(args)
	case "show":
		a.show()
	case "history":
		a.history()
	case "files":
		a.listFiles()
	case "group":
		a.group(args)
	case "upload":
		a.upload(args)
	case "download":
		a.download(args)
	case "transfers":
		a.listTransfers()
	default:
		fmt.Println("Unknown command:", cmd)
	}
}

func (a *App) help() {
	if !a.state.LoggedIn {
		fmt.Println("Available commands: register, login, exit")
		return
	}
	fmt.Println("Available commands:")
	fmt.Println("  users                               list online users")
	fmt.Println("  open <private|group> <id>           switch the current conversation")
	fmt.Println("  say <text>                          send a message to the current conversation")
	fmt.Println("  show                                print loaded messages of the current conversation")
	fmt.Println("  history                             load an older page of the current conversation")
	fmt.Println("  files                               list shared files of the current conversation")
	fmt.Println("  upload <path>                       share a file with the current conversation")
	fmt.Println("  download <file_id>                  fetch a shared file")
	fmt.Println("  transfers                           show upload/download progress")
	fmt.Println("  group create <name>")
	fmt.Println("  group join|leave|dissolve <id>")
	fmt.Println("  group rename <id> <name>")
	fmt.Println("  group kick|promote|demote <id> <user>")
	fmt.Println("  exit")
}

func (a *App) listUsers() {
	users := a.state.OnlineUsers()
	if len(users) == 0 {
		fmt.Println("Nobody online")
		return
	}
	for _, u := range users {
		fmt.Printf("  %s (%s)\n", u.Nickname, u.UserID)
	}
}

func (a *App) open(args []string) {
	if len(args) != 2 || (args[0] != "private" && args[0] != "group") {
		fmt.Println("Usage: open <private|group> <id>")
		return
	}
	a.convType, a.convID = args[0], args[1]
}

// currentConversation guards commands that need an open conversation.
func (a *App) currentConversation() bool {
	if a.convID == "" {
		fmt.Println("No conversation open, use: open <private|group> <id>")
		return false
	}
	return true
}

func (a *App) say(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: say <text>")
		return
	}
	if !a.currentConversation() {
		return
	}
	content := strings.Join(args, " ")

	reqID, err := a.api.SendMessage(a.convType, a.convID, content)
	if err != nil {
		log.Printf("say: %s", err.Error())
		return
	}

	pkt := a.waitReply(reqID)
	if pkt == nil {
		fmt.Println("no response from server")
		return
	}

	var resp protocol.MessageSendResp
	if err := json.Unmarshal(pkt.Meta, &resp); err != nil {
		log.Printf("say: %s", err.Error())
		return
	}
	if !resp.OK() {
		fmt.Printf("%s: %s\n", resp.Code, resp.Message)
		return
	}

	// the server does not echo the sender's own message back, so file
	// it into the conversation from the acknowledgement
	raw, _ := json.Marshal(protocol.MessageDeliverMeta{
		MessageID:        resp.MessageID,
		ConversationType: a.convType,
		ConversationID:   a.convID,
		SenderID:         a.state.UserID,
		SenderNickname:   a.state.Nickname,
		Content:          content,
		CreatedAt:        resp.CreatedAt,
	})
	_ = a.state.Apply(&protocol.Packet{Type: protocol.TypeMessageDeliver, RequestID: reqID, Meta: raw})
}

func (a *App) show() {
	if !a.currentConversation() {
		return
	}
	msgs := a.state.Messages(a.convType, a.convID)
	if len(msgs) == 0 {
		fmt.Println("No messages loaded, try: history")
		return
	}
	for i := range msgs {
		printMessage(&msgs[i])
	}
}

func (a *App) history() {
	if !a.currentConversation() {
		return
	}
	if !a.state.HasMore(a.convType, a.convID) {
		fmt.Println("No older messages")
		return
	}

	before := a.state.NextBeforeID(a.convType, a.convID)
	reqID, err := a.api.FetchHistory(a.convType, a.convID, before, a.config.HistoryPageSize)
	if err != nil {
		log.Printf("history: %s", err.Error())
		return
	}

	pkt := a.waitReply(reqID)
	if pkt == nil {
		fmt.Println("no response from server")
		return
	}

	var resp protocol.HistoryResponseMeta
	if err := json.Unmarshal(pkt.Meta, &resp); err != nil {
		log.Printf("history: %s", err.Error())
		return
	}
	if !resp.OK() {
		fmt.Printf("%s: %s\n", resp.Code, resp.Message)
		return
	}
	fmt.Printf("Loaded %d older message(s)\n", resp.Count)
}

func (a *App) listFiles() {
	if !a.currentConversation() {
		return
	}
	notices := a.state.Files(a.convType, a.convID)
	if len(notices) == 0 {
		fmt.Println("No shared files known")
		return
	}
	for i := range notices {
		printNotice(&notices[i])
	}
}

func (a *App) group(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: group <create|join|leave|rename|kick|promote|demote|dissolve> ...")
		return
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "create":
		a.groupCreate(strings.Join(rest, " "))
	case "join":
		reqID, err := a.api.JoinGroup(rest[0])
		a.confirm(reqID, err, "Joined")
	case "leave":
		reqID, err := a.api.LeaveGroup(rest[0])
		a.confirm(reqID, err, "Left")
	case "dissolve":
		reqID, err := a.api.Dissolve(rest[0])
		a.confirm(reqID, err, "Dissolved")
	case "rename":
		if len(rest) < 2 {
			fmt.Println("Usage: group rename <id> <name>")
			return
		}
		reqID, err := a.api.RenameGroup(rest[0], strings.Join(rest[1:], " "))
		a.confirm(reqID, err, "Renamed")
	case "kick":
		if len(rest) != 2 {
			fmt.Println("Usage: group kick <id> <user>")
			return
		}
		reqID, err := a.api.Kick(rest[0], rest[1])
		a.confirm(reqID, err, "Kicked")
	case "promote", "demote":
		if len(rest) != 2 {
			fmt.Printf("Usage: group %s <id> <user>\n", sub)
			return
		}
		reqID, err := a.api.SetAdmin(rest[0], rest[1], sub == "promote")
		a.confirm(reqID, err, "Done")
	default:
		fmt.Println("Unknown group command:", sub)
	}
}

func (a *App) groupCreate(name string) {
	reqID, err := a.api.CreateGroup(name)
	if err != nil {
		log.Printf("group create: %s", err.Error())
		return
	}

	pkt := a.waitReply(reqID)
	if pkt == nil {
		fmt.Println("no response from server")
		return
	}

	var resp protocol.GroupCreateResp
	if err := json.Unmarshal(pkt.Meta, &resp); err != nil {
		log.Printf("group create: %s", err.Error())
		return
	}
	if !resp.OK() {
		fmt.Printf("%s: %s\n", resp.Code, resp.Message)
		return
	}
	fmt.Printf("Group %q created, id %s\n", resp.Name, resp.GroupID)
}

// confirm waits for a status-only reply and prints the outcome.
func (a *App) confirm(reqID uint64, err error, okMsg string) {
	if err != nil {
		log.Printf("request: %s", err.Error())
		return
	}

	pkt := a.waitReply(reqID)
	if pkt == nil {
		fmt.Println("no response from server")
		return
	}

	var st protocol.Status
	if err := json.Unmarshal(pkt.Meta, &st); err != nil {
		log.Printf("response: %s", err.Error())
		return
	}
	if !st.OK() {
		fmt.Printf("%s: %s\n", st.Code, st.Message)
		return
	}
	fmt.Println(okMsg)
}

func (a *App) upload(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: upload <path>")
		return
	}
	if !a.currentConversation() {
		return
	}

	task, err := a.transfers.BeginUpload(args[0], a.convType, a.convID)
	if err != nil {
		log.Printf("upload: %s", err.Error())
		return
	}

	a.waitTransfer("upload "+task.FileName, func() (int64, bool, bool, string) {
		return task.NextOffset, task.Done, task.Failed, task.Error
	})
}

func (a *App) download(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: download <file_id>")
		return
	}
	if !a.currentConversation() {
		return
	}

	notices := a.state.Files(a.convType, a.convID)
	var notice *protocol.FileNoticeMeta
	for i := range notices {
		if notices[i].FileID == args[0] {
			notice = &notices[i]
			break
		}
	}
	if notice == nil {
		fmt.Println("Unknown file id, see: files")
		return
	}

	task, err := a.transfers.BeginDownload(notice)
	if err != nil {
		log.Printf("download: %s", err.Error())
		return
	}

	a.waitTransfer("download "+task.FileName, func() (int64, bool, bool, string) {
		return task.NextOffset, task.Done, task.Failed, task.Error
	})
	if task.Done {
		fmt.Printf("Saved to %s\n", task.FinalPath)
	}
}

// waitTransfer pumps packets until the transfer finishes, fails or
// stalls. A dead connection triggers the reconnect-and-resume flow.
func (a *App) waitTransfer(name string, poll func() (int64, bool, bool, string)) {
	last := int64(-1)
	lastChange := time.Now()

	for {
		a.pump()

		transferred, done, failed, errMsg := poll()
		if done {
			fmt.Printf("%s: done\n", name)
			return
		}
		if failed {
			fmt.Printf("%s: failed: %s\n", name, errMsg)
			return
		}

		if transferred != last {
			last = transferred
			lastChange = time.Now()
		}
		if time.Since(lastChange) > transferStall {
			fmt.Printf("%s: no progress, continuing in background (see 'transfers')\n", name)
			return
		}

		if !a.endpoint.Running() && !a.ensureConnected() {
			return
		}
		time.Sleep(pumpInterval)
	}
}

func (a *App) listTransfers() {
	snap := a.transfers.Snapshot()
	if len(snap) == 0 {
		fmt.Println("No transfers")
		return
	}
	for _, p := range snap {
		status := "running"
		switch {
		case p.Done:
			status = "done"
		case p.Failed:
			status = "failed: " + p.Error
		}
		fmt.Printf("  %s %s %d/%d %s\n", p.Direction, p.FileName, p.Transferred, p.Total, status)
	}
}
