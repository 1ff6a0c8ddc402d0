package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"oltchat/internal/client/api"
	"oltchat/internal/client/config"
	"oltchat/internal/client/net"
	"oltchat/internal/client/state"
	"oltchat/internal/client/transfer"
	"oltchat/internal/common"
	"oltchat/internal/protocol"
)

const (
	// pumpInterval is how often a wait loop re-polls the endpoint.
	pumpInterval = 20 * time.Millisecond
	// replyTimeout bounds how long a command waits for its response.
	replyTimeout = 10 * time.Second
)

type App struct {
	config    *config.Config
	endpoint  *net.Client
	api       *api.API
	state     *state.State
	transfers *transfer.Manager
	reader    *bufio.Reader

	// current conversation, target of say/history/upload
	convType string
	convID   string

	// credentials kept for the re-login after a reconnect
	userID   string
	password []byte
}

func NewApp(c *config.Config) *App {
	ep := net.NewClient()
	return &App{
		config:    c,
		endpoint:  ep,
		api:       api.New(ep),
		state:     state.New(),
		transfers: transfer.NewManager(ep, c.DataDir),
		reader:    bufio.NewReader(os.Stdin),
	}
}

// Run connects, then loops: read a command, dispatch it, drain whatever
// the server pushed in the meantime. Exits on EOF or the exit command.
func (a *App) Run(ctx context.Context) error {
	if err := a.endpoint.ConnectTo(a.config.ServerHost, a.config.ServerPort); err != nil {
		return err
	}
	a.endpoint.Start()
	defer a.endpoint.Stop()
	defer common.WipeByteArray(a.password)

	fmt.Println("oltchat client (type 'help' for commands)")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		a.pump()
		fmt.Printf("olt %s> ", a.status())

		if !scanner.Scan() {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if a.dispatch(scanner.Text()) {
			fmt.Println("Bye!")
			return nil
		}
	}
}

func (a *App) status() string {
	s := ""
	if a.state.LoggedIn {
		s = a.state.UserID
		if a.convID != "" {
			s = s + " @ " + a.convType + ":" + a.convID
		}
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// pump drains the inbound deque. Every packet goes through the transfer
// coordinator and the conversation state; pushes are rendered as they
// arrive. Returns how many packets were handled.
func (a *App) pump() int {
	n := 0
	for {
		pkt := a.endpoint.PollPacket()
		if pkt == nil {
			return n
		}
		n++
		a.route(pkt)
	}
}

func (a *App) route(pkt *protocol.Packet) {
	if err := a.transfers.HandlePacket(pkt); err != nil {
		log.Printf("transfer: %s", err.Error())
	}
	if err := a.state.Apply(pkt); err != nil {
		log.Printf("state: %s", err.Error())
		return
	}

	// server pushes carry request id 0
	if pkt.RequestID != 0 {
		return
	}
	switch pkt.Type {
	case protocol.TypeMessageDeliver:
		var meta protocol.MessageDeliverMeta
		if json.Unmarshal(pkt.Meta, &meta) == nil {
			printMessage(&meta)
		}
	case protocol.TypeFileDone:
		var meta protocol.FileNoticeMeta
		if json.Unmarshal(pkt.Meta, &meta) == nil && meta.OK() {
			printNotice(&meta)
		}
	}
}

// waitReply pumps until the packet answering reqID shows up, or the
// timeout passes. Every other packet is routed normally on the way.
func (a *App) waitReply(reqID uint64) *protocol.Packet {
	deadline := time.Now().Add(replyTimeout)

	for time.Now().Before(deadline) {
		for {
			pkt := a.endpoint.PollPacket()
			if pkt == nil {
				break
			}
			if pkt.RequestID == reqID {
				a.route(pkt)
				return pkt
			}
			a.route(pkt)
		}
		if !a.endpoint.Running() {
			return nil
		}
		time.Sleep(pumpInterval)
	}
	return nil
}

// ensureConnected restarts the endpoint after its loop died, logs back
// in with the kept credentials and resumes unfinished transfers.
func (a *App) ensureConnected() bool {
	if a.endpoint.Running() {
		return true
	}

	if msg := a.endpoint.LastError(); msg != "" {
		log.Printf("connection lost: %s", msg)
	}
	a.endpoint.Stop()

	if err := a.endpoint.ConnectTo(a.config.ServerHost, a.config.ServerPort); err != nil {
		log.Printf("reconnect failed: %s", err.Error())
		return false
	}
	a.endpoint.Start()
	log.Printf("reconnected to %s:%d", a.config.ServerHost, a.config.ServerPort)

	if a.userID == "" {
		return true
	}
	if !a.reLogin() {
		log.Printf("re-login failed: %s", a.state.LastError)
		return false
	}
	a.transfers.ResumeTransfers()
	return true
}

func (a *App) reLogin() bool {
	reqID, err := a.api.Login(a.userID, string(a.password))
	if err != nil {
		return false
	}
	pkt := a.waitReply(reqID)
	return pkt != nil && pkt.Type == protocol.TypeAuthOk
}

func printMessage(m *protocol.MessageDeliverMeta) {
	who := m.SenderNickname
	if who == "" {
		who = m.SenderID
	}
	fmt.Printf("[%s %s:%s] %s: %s\n",
		time.Unix(m.CreatedAt, 0).Format("15:04:05"),
		m.ConversationType, m.ConversationID, who, m.Content)
}

func printNotice(f *protocol.FileNoticeMeta) {
	who := f.UploaderNickname
	if who == "" {
		who = f.UploaderID
	}
	fmt.Printf("[%s %s:%s] %s shared %s (%d bytes, id %s)\n",
		time.Unix(f.CreatedAt, 0).Format("15:04:05"),
		f.ConversationType, f.ConversationID, who, f.FileName, f.FileSize, f.FileID)
}
