// Package console is a line oriented front end for the session coordinator.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/session"
)

// Driver is the part of the coordinator the console uses.
type Driver interface {
	Phase() session.Phase
	Active() *domain.Session
	LastEnded() *domain.Session
	Pending() *domain.Session
	Requests() []domain.IncomingRequest
	Messages() []domain.Message
	Elapsed() (seconds int64, amount float64, running bool)
	Balance() float64

	Accept(ctx context.Context, requestID string) (*domain.Session, error)
	Reject(ctx context.Context, requestID, reason string) error
	PurgeRequests() []domain.IncomingRequest
	SetAvailability(ctx context.Context, available bool) error
	Profile(ctx context.Context, participantID string) (*domain.ProfileSnapshot, error)

	RequestSession(ctx context.Context, providerID string, kind domain.SessionKind, mediaKind domain.MediaKind) (*domain.Session, error)
	CancelRequest(ctx context.Context) error

	End(ctx context.Context) (*domain.Session, error)
	RetryMedia(ctx context.Context) error
	SendMessage(ctx context.Context, content string) (*domain.Message, error)
	MarkSeen(ctx context.Context) error
	SetTyping(ctx context.Context, typing bool)

	Observe(fn session.Observer) func()
}

var errQuit = errors.New("quit")

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, args []string) error
}

// Console reads commands from in and prints the projection to out.
type Console struct {
	d        Driver
	in       io.Reader
	out      io.Writer
	self     string
	mu       sync.Mutex
	commands map[string]command
	order    []string
}

// New creates a console for the participant self.
func New(d Driver, self string, in io.Reader, out io.Writer) *Console {
	c := &Console{d: d, in: in, out: out, self: self}
	c.register()
	return c
}

func (c *Console) register() {
	c.commands = make(map[string]command)
	add := func(name, usage, help string, run func(ctx context.Context, args []string) error) {
		c.commands[name] = command{usage: usage, help: help, run: run}
		c.order = append(c.order, name)
	}

	add("help", "help", "list commands", func(context.Context, []string) error {
		for _, name := range c.order {
			cmd := c.commands[name]
			c.printf("  %-28s %s\n", cmd.usage, cmd.help)
		}
		return nil
	})
	add("status", "status", "show the session state", func(context.Context, []string) error {
		c.status()
		return nil
	})
	add("queue", "queue", "list incoming requests", func(context.Context, []string) error {
		c.printQueue(c.d.Requests())
		return nil
	})
	add("accept", "accept <request-id>", "accept an incoming request", func(ctx context.Context, args []string) error {
		if len(args) != 1 {
			return errUsage
		}
		s, err := c.d.Accept(ctx, args[0])
		if s != nil {
			c.printf("accepted, session %s\n", s.ID)
		}
		return err
	})
	add("reject", "reject <request-id> [reason]", "decline an incoming request", func(ctx context.Context, args []string) error {
		if len(args) < 1 {
			return errUsage
		}
		return c.d.Reject(ctx, args[0], strings.Join(args[1:], " "))
	})
	add("purge", "purge", "drop every queued request locally", func(context.Context, []string) error {
		c.printf("dropped %d request(s)\n", len(c.d.PurgeRequests()))
		return nil
	})
	add("available", "available <on|off>", "toggle availability", func(ctx context.Context, args []string) error {
		on, err := parseSwitch(args)
		if err != nil {
			return err
		}
		return c.d.SetAvailability(ctx, on)
	})
	add("profile", "profile <participant-id>", "show a requester profile", func(ctx context.Context, args []string) error {
		if len(args) != 1 {
			return errUsage
		}
		p, err := c.d.Profile(ctx, args[0])
		if err != nil {
			return err
		}
		c.printProfile(p)
		return nil
	})
	add("request", "request <provider-id> <chat|call> [audio|video]", "ask a provider for a session", func(ctx context.Context, args []string) error {
		if len(args) < 2 {
			return errUsage
		}
		kind, mk, err := parseKind(args[1:])
		if err != nil {
			return err
		}
		s, err := c.d.RequestSession(ctx, args[0], kind, mk)
		if err != nil {
			return err
		}
		c.printf("request %s waiting for %s\n", s.ID, args[0])
		return nil
	})
	add("cancel", "cancel", "withdraw the waiting request", func(ctx context.Context, _ []string) error {
		return c.d.CancelRequest(ctx)
	})
	add("end", "end", "end the active session", func(ctx context.Context, _ []string) error {
		_, err := c.d.End(ctx)
		return err
	})
	add("retry", "retry", "rejoin media after a failure", func(ctx context.Context, _ []string) error {
		return c.d.RetryMedia(ctx)
	})
	add("say", "say <text>", "send a chat message", func(ctx context.Context, args []string) error {
		_, err := c.d.SendMessage(ctx, strings.Join(args, " "))
		return err
	})
	add("seen", "seen", "mark received messages as seen", func(ctx context.Context, _ []string) error {
		return c.d.MarkSeen(ctx)
	})
	add("typing", "typing <on|off>", "send a typing hint", func(ctx context.Context, args []string) error {
		on, err := parseSwitch(args)
		if err != nil {
			return err
		}
		c.d.SetTyping(ctx, on)
		return nil
	})
	add("messages", "messages", "print the transcript", func(context.Context, []string) error {
		c.printMessages(c.d.Messages())
		return nil
	})
	add("quit", "quit", "leave the console", func(context.Context, []string) error {
		return errQuit
	})
}

var errUsage = errors.New("wrong arguments")

// Run prints updates as they arrive and executes commands until in is
// exhausted, quit is typed or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	stop := c.d.Observe(c.render)
	defer stop()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	c.printf("consult-agent ready as %s, type help\n", c.self)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := c.Exec(ctx, line); errors.Is(err, errQuit) {
				return nil
			}
		}
	}
}

// Exec runs one command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := c.commands[strings.ToLower(fields[0])]
	if !ok {
		c.printf("unknown command %q, type help\n", fields[0])
		return nil
	}
	err := cmd.run(ctx, fields[1:])
	switch {
	case err == nil, errors.Is(err, errQuit):
	case errors.Is(err, errUsage):
		c.printf("usage: %s\n", cmd.usage)
	default:
		c.printf("error: %s\n", describe(err))
	}
	return err
}

func describe(err error) string {
	switch {
	case domain.IsAuthority(err):
		return "the session no longer exists"
	case domain.IsTransport(err):
		return "backend unreachable, try again (" + err.Error() + ")"
	}
	return err.Error()
}

func parseSwitch(args []string) (bool, error) {
	if len(args) != 1 {
		return false, errUsage
	}
	switch strings.ToLower(args[0]) {
	case "on", "yes", "true":
		return true, nil
	case "off", "no", "false":
		return false, nil
	}
	return false, errUsage
}

func parseKind(args []string) (domain.SessionKind, domain.MediaKind, error) {
	switch strings.ToLower(args[0]) {
	case "chat":
		return domain.KindChat, "", nil
	case "call":
		mk := domain.MediaAudio
		if len(args) > 1 && strings.EqualFold(args[1], "video") {
			mk = domain.MediaVideo
		}
		return domain.KindCall, mk, nil
	}
	return "", "", errUsage
}

func (c *Console) printf(format string, a ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, a...)
}

func (c *Console) status() {
	c.printf("phase: %s\n", c.d.Phase())
	if p := c.d.Pending(); p != nil {
		c.printf("waiting: request %s to %s (%s)\n", p.ID, p.ProviderID, p.Kind)
	}
	if s := c.d.Active(); s != nil {
		secs, amount, running := c.d.Elapsed()
		state := "paused"
		if running {
			state = "running"
		}
		c.printf("active: %s %s with %s, %s, %.2f (%s)\n", s.ID, s.Kind, s.Counterpart(c.self), formatDuration(secs), amount, state)
	} else if s := c.d.LastEnded(); s != nil {
		c.printf("last: %s ended (%s), %s, %.2f\n", s.ID, s.EndReason, formatDuration(s.TotalDuration), s.TotalAmount)
	}
	if n := len(c.d.Requests()); n > 0 {
		c.printf("queue: %d request(s)\n", n)
	}
	if b := c.d.Balance(); b > 0 {
		c.printf("balance: %.2f\n", b)
	}
}

func (c *Console) printQueue(reqs []domain.IncomingRequest) {
	if len(reqs) == 0 {
		c.printf("no incoming requests\n")
		return
	}
	for _, r := range reqs {
		kind := string(r.Kind)
		if r.MediaKind != "" {
			kind += "/" + string(r.MediaKind)
		}
		c.printf("  %s  %-12s %-10s %.2f/min  %s\n", r.ID, r.RequesterName, kind, r.RatePerMinute, r.ReceivedAt.Format(time.Kitchen))
	}
}

func (c *Console) printMessages(msgs []domain.Message) {
	for _, m := range msgs {
		who := m.SenderID
		if who == c.self {
			who = "you"
		}
		mark := ""
		if m.Seen {
			mark = " ✓"
		}
		c.printf("  [%s] %s: %s%s\n", m.CreatedAt.Format(time.Kitchen), who, m.Content, mark)
	}
}

func (c *Console) printProfile(p *domain.ProfileSnapshot) {
	c.printf("profile %s: %s\n", p.ParticipantID, p.DisplayName)
	for k, v := range p.BirthDetails {
		c.printf("  %s: %s\n", k, v)
	}
	if p.Notes != "" {
		c.printf("  notes: %s\n", p.Notes)
	}
}

func (c *Console) render(u session.Update) {
	switch u.Kind {
	case session.UpdateQueue:
		c.printf("* queue %s, %d waiting\n", u.Reason, len(u.Requests))
	case session.UpdateRequestPending:
		c.printf("* request %s sent\n", u.Session.ID)
	case session.UpdateRequestClosed:
		c.printf("* request %s closed: %s\n", u.Session.ID, u.Reason)
	case session.UpdateSessionActive:
		c.printf("* session %s active (%s with %s)\n", u.Session.ID, u.Session.Kind, u.Session.Counterpart(c.self))
	case session.UpdateMediaConnected:
		c.printf("* media connected, billing started\n")
	case session.UpdateSessionFailed:
		c.printf("* media failed: %s (retry or end)\n", describe(u.Err))
	case session.UpdateSessionEnded:
		c.printf("* session %s ended (%s): %s, %.2f\n", u.Session.ID, u.Reason, formatDuration(u.Session.TotalDuration), u.Session.TotalAmount)
	case session.UpdateMessages:
		if n := len(u.Messages); n > 0 {
			c.printMessages(u.Messages[n-1:])
		}
	case session.UpdateTyping:
		if u.Typing {
			c.printf("* typing...\n")
		}
	case session.UpdateWallet:
		c.printf("* balance %.2f\n", u.Balance)
	case session.UpdateAvailability:
		c.printf("* %s is %s\n", u.ProviderID, onOff(u.Available))
	case session.UpdateProfile:
		c.printf("* profile ready: %s\n", u.Profile.DisplayName)
	}
}

func onOff(b bool) string {
	if b {
		return "online"
	}
	return "offline"
}

func formatDuration(secs int64) string {
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
