package cli

import (
	"fmt"
	"log"
	"os"

	"oltchat/internal/common"
	"oltchat/internal/protocol"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for a user id, nickname and password and creates the
// account. The password is wiped before returning.
func (a *App) Register() error {
	userID, err := getSimpleText(a.reader, "Enter user id", os.Stdout)
	if err != nil {
		return err
	}

	nickname, err := getSimpleText(a.reader, "Enter nickname", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	reqID, err := a.api.Register(userID, nickname, string(password))
	if err != nil {
		return err
	}

	pkt := a.waitReply(reqID)
	if pkt == nil {
		return fmt.Errorf("no response from server")
	}
	if pkt.Type != protocol.TypeAuthOk {
		log.Printf("registration failed: %s", a.state.LastError)
		return nil
	}

	fmt.Println("Registered! Now log in.")
	return nil
}

// Login prompts for credentials and authenticates. On success the
// credentials are kept so the client can log back in after a reconnect;
// queued offline messages and file notices follow right behind the
// response and are rendered before returning.
func (a *App) Login() error {
	userID, err := getSimpleText(a.reader, "Enter user id", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}

	reqID, err := a.api.Login(userID, string(password))
	if err != nil {
		common.WipeByteArray(password)
		return err
	}

	pkt := a.waitReply(reqID)
	if pkt == nil {
		common.WipeByteArray(password)
		return fmt.Errorf("no response from server")
	}
	if pkt.Type != protocol.TypeAuthOk {
		common.WipeByteArray(password)
		log.Printf("login failed: %s", a.state.LastError)
		return nil
	}

	common.WipeByteArray(a.password)
	a.userID = userID
	a.password = password

	fmt.Printf("Logged in as %s (%s)\n", a.state.Nickname, a.state.UserID)
	a.pump()
	return nil
}
