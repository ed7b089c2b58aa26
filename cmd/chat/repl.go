package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vanshansh-prajav/Hack36/internal/models"
	"github.com/vanshansh-prajav/Hack36/internal/services"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

const helpText = `commands:
  login <username>          bind this wallet to a username and sign in
  logout                    sign out and forget the saved session
  whoami                    show the signed-in identity
  users                     list everyone in the directory
  search <query>            find users by username
  friends                   list your friends
  add <address|username>    add a friend
  open <address|username>   open a chat and show its history
  send <text>               send a message to the open chat
  image <path>              send an image to the open chat
  close                     close the open chat
  quit                      exit`

// repl runs line commands against one client. Output from live feeds and
// from commands is serialized through out.
type repl struct {
	client   *services.Client
	maxImage int64

	mu   sync.Mutex
	out  io.Writer
	peer models.Identity
}

func newREPL(client *services.Client, out io.Writer, maxImage int64) *repl {
	return &repl{client: client, out: out, maxImage: maxImage}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}

// exec runs one command line and reports whether the session should end.
func (r *repl) exec(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch strings.ToLower(cmd) {
	case "":
	case "help", "?":
		r.printf("%s", helpText)
	case "quit", "exit":
		return true
	case "login":
		err = r.login(ctx, arg)
	case "logout":
		r.closeChat()
		err = r.client.Logout(ctx)
		if err == nil {
			r.printf("signed out")
		}
	case "whoami":
		err = r.whoami()
	case "users":
		err = r.listUsers("")
	case "search":
		err = r.listUsers(arg)
	case "friends":
		err = r.friends()
	case "add":
		err = r.addFriend(ctx, arg)
	case "open":
		err = r.open(ctx, arg)
	case "send":
		err = r.send(ctx, arg)
	case "image":
		err = r.image(ctx, arg)
	case "close":
		r.closeChat()
	default:
		r.printf("unknown command %q, try help", cmd)
	}
	if err != nil {
		r.printf("error: %v", err)
	}
	return false
}

func (r *repl) login(ctx context.Context, username string) error {
	if username == "" {
		return apperr.InvalidArg("usage: login <username>")
	}
	outcome, err := r.client.Login(ctx, username)
	if err != nil {
		return err
	}
	ident, _ := r.client.Identity()
	switch outcome {
	case services.OutcomeCreated:
		r.printf("welcome %s, account created for %s", ident.Username, ident.Address)
	default:
		r.printf("welcome back %s (%s)", ident.Username, ident.Address)
	}
	return nil
}

func (r *repl) whoami() error {
	ident, ok := r.client.Identity()
	if !ok {
		return apperr.ErrNotLoggedIn
	}
	status := "pending"
	if gate := r.client.Gate(); gate != nil {
		switch {
		case gate.Ready():
			status = "ready"
		case gate.Err() != nil:
			status = "unavailable, sending disabled"
		}
	}
	r.printf("%s (%s), encryption %s", ident.Username, ident.Address, status)
	return nil
}

func (r *repl) listUsers(query string) error {
	ident, ok := r.client.Identity()
	if !ok {
		return apperr.ErrNotLoggedIn
	}
	users := r.client.Directory().Search(query, ident.Address)
	if len(users) == 0 {
		r.printf("no users found")
		return nil
	}
	friends := r.client.Friends()
	for _, u := range users {
		mark := ""
		if friends.Has(services.FriendRef{Address: u.Address}) {
			mark = " (friend)"
		}
		r.printf("  %-20s %s%s", u.Username, u.Address, mark)
	}
	return nil
}

func (r *repl) friends() error {
	friends := r.client.Friends()
	if friends == nil {
		return apperr.ErrNotLoggedIn
	}
	links := friends.Friends()
	if len(links) == 0 {
		r.printf("no friends yet, use add <address|username>")
		return nil
	}
	for _, l := range links {
		r.printf("  %-20s %s", friends.DisplayName(l), l.Address)
	}
	return nil
}

func (r *repl) addFriend(ctx context.Context, ref string) error {
	if ref == "" {
		return apperr.InvalidArg("usage: add <address|username>")
	}
	peer, err := r.client.ResolvePeer(ref)
	if err != nil {
		return err
	}
	res, err := r.client.AddFriend(ctx, services.FriendRef{Address: peer.Address, Username: peer.Username})
	if err != nil {
		return err
	}
	r.printf("added %s", r.client.Friends().DisplayName(res.Link))
	return nil
}

func (r *repl) open(ctx context.Context, ref string) error {
	if ref == "" {
		return apperr.InvalidArg("usage: open <address|username>")
	}
	peer, err := r.client.ResolvePeer(ref)
	if err != nil {
		return err
	}
	r.closeChat()

	r.mu.Lock()
	r.peer = peer
	r.mu.Unlock()
	name := peer.Username
	if name == "" {
		name = peer.Address
	}
	r.printf("-- chat with %s --", name)

	_, err = r.client.OpenChat(ctx, peer.Address, r.printMessage)
	return err
}

func (r *repl) closeChat() {
	r.mu.Lock()
	peer := r.peer
	r.peer = models.Identity{}
	r.mu.Unlock()
	if peer.Address != "" {
		r.client.CloseChat(peer.Address)
	}
}

func (r *repl) openPeer() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peer.Address == "" {
		return "", apperr.InvalidArg("no chat open, use open <address|username>")
	}
	return r.peer.Address, nil
}

func (r *repl) send(ctx context.Context, text string) error {
	peer, err := r.openPeer()
	if err != nil {
		return err
	}
	_, err = r.client.Send(ctx, peer, text)
	return err
}

func (r *repl) image(ctx context.Context, path string) error {
	if path == "" {
		return apperr.InvalidArg("usage: image <path>")
	}
	peer, err := r.openPeer()
	if err != nil {
		return err
	}
	name, contentType, data, err := services.ReadImageFile(path, r.maxImage)
	if err != nil {
		return err
	}
	_, err = r.client.SendImage(ctx, peer, name, contentType, data)
	return err
}

func (r *repl) printMessage(m models.Message) {
	sender := "you"
	if !m.IsMine {
		sender = m.Sender
		if d := r.client.Directory(); d != nil {
			sender = d.DisplayName(m.Sender, shortAddress(m.Sender))
		}
	}
	stamp := time.UnixMilli(m.Timestamp).Format("15:04:05")
	if img := m.Image; img != nil {
		where := img.URL
		if where == "" {
			where = fmt.Sprintf("inline, %d bytes", img.Size)
		}
		r.printf("[%s] %s: [image %s] (%s)", stamp, sender, img.Name, where)
		return
	}
	r.printf("[%s] %s: %s", stamp, sender, m.Text)
}

func shortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
