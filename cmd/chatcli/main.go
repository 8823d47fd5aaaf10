// Command chatcli is a terminal client for one private conversation.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/npezzotti/campus-chat/internal/logging"
	"github.com/npezzotti/campus-chat/internal/session"
	"github.com/npezzotti/campus-chat/internal/types"
	"go.uber.org/zap"
)

var errDisconnected = errors.New("realtime connection lost")

func main() {
	serverURL := flag.String("server", "http://localhost:8000", "base URL of the chat server")
	token := flag.String("token", os.Getenv("CAMPUSCHAT_TOKEN"), "session token")
	with := flag.Int("with", 0, "user id of the other participant")
	listing := flag.Int("listing", 0, "listing id to attach to sent messages")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if *token == "" || *with <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.New(*logLevel, "console")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newChat(ctx, logger, *serverURL, *token, *with, *listing, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chatcli:", err)
		os.Exit(1)
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	if err := c.loop(ctx, lines); err != nil {
		fmt.Fprintln(os.Stderr, "chatcli:", err)
		os.Exit(1)
	}
}

type chat struct {
	log      *zap.Logger
	api      *session.HTTPClient
	wsURL    string
	token    string
	me       types.User
	with     int
	listing  *int
	incoming chan types.MessageReceive

	retryMin time.Duration
	retryMax time.Duration

	outMu    sync.Mutex
	out      io.Writer
	lastSeen time.Time
}

func newChat(ctx context.Context, logger *zap.Logger, serverURL, token string, with, listing int, out io.Writer) (*chat, error) {
	api := session.NewHTTPClient(serverURL, token)

	me, err := api.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}

	wsURL, err := session.WebsocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	c := &chat{
		log:      logger,
		api:      api,
		wsURL:    wsURL,
		token:    token,
		me:       me,
		with:     with,
		incoming: make(chan types.MessageReceive, 64),
		retryMin: time.Second,
		retryMax: 30 * time.Second,
		out:      out,
	}
	if listing > 0 {
		c.listing = &listing
	}
	return c, nil
}

// handlers run on the connection's reader goroutine and must never block it:
// the reader also delivers the responses a pending send is waiting for.
func (c *chat) handlers() session.Handlers {
	return session.Handlers{
		OnMessage: func(ev types.MessageReceive) {
			select {
			case c.incoming <- ev:
			default:
				c.log.Warn("display is behind, dropping live message; it is kept in history",
					zap.String("conversation_id", ev.ConversationId))
			}
		},
		OnTyping: func(ev types.TypingEvent) {
			if ev.IsTyping {
				c.printf("  (user %d is typing)\n", ev.UserId)
			}
		},
		OnNotification: func(n types.Notification) {
			c.printf("  [%s] %s\n", n.Kind, n.Content)
		},
		OnError: func(err error) {
			c.log.Warn("gateway error", zap.Error(err))
		},
	}
}

// loop keeps a session open until ctx ends or input is exhausted. When the
// realtime connection drops it redials and reopens the session, which
// reloads history over REST and joins the room again. Lines typed while
// offline are sent over REST.
func (c *chat) loop(ctx context.Context, lines <-chan string) error {
	backoff := c.retryMin
	connected := false

	for {
		ws, err := session.DialWS(ctx, c.wsURL, c.token, c.handlers(), c.log)
		if err == nil {
			backoff = c.retryMin
			connected = true
			err = c.run(ctx, ws, lines)
			if err != nil && ws.Err() != nil {
				// The session could not open or finish because the connection dropped.
				err = errDisconnected
			}
			ws.Close()
			if !errors.Is(err, errDisconnected) {
				return err
			}
			c.printf("  ! connection lost, reconnecting\n")
		} else if !connected {
			return err
		} else {
			c.log.Debug("redial failed", zap.Error(err))
		}

		if done, err := c.waitOffline(ctx, lines, backoff); done {
			return err
		}
		backoff = min(backoff*2, c.retryMax)
	}
}

func (c *chat) run(ctx context.Context, ws *session.WSClient, lines <-chan string) error {
	cfg := session.Config{
		Self:          c.me,
		CounterpartId: c.with,
		ListingId:     c.listing,
		API:           c.api,
		Realtime:      ws,
		Logger:        c.log,
	}

	return session.With(ctx, cfg, func(s *session.Session) error {
		for _, e := range s.Entries() {
			c.printEntry(e)
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ws.Done():
				return errDisconnected
			case ev := <-c.incoming:
				if s.HandleIncoming(ev) {
					entries := s.Entries()
					c.printEntry(entries[len(entries)-1])
				}
			case line, ok := <-lines:
				if !ok || line == "/quit" {
					return nil
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				entry, err := s.Send(ctx, line)
				if err != nil {
					c.printf("  ! not delivered: %v\n", err)
					continue
				}
				c.markSeen(entry.Timestamp)
			}
		}
	})
}

// waitOffline waits d before the next dial. It reports done when the caller
// should stop.
func (c *chat) waitOffline(ctx context.Context, lines <-chan string, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case <-timer.C:
			return false, nil
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return true, nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			msg, err := c.api.SendMessage(ctx, types.SendMessageRequest{
				RecipientId:      c.with,
				Content:          line,
				RelatedListingId: c.listing,
			})
			if err != nil {
				c.printf("  ! not delivered: %v\n", err)
				continue
			}
			c.printEntry(session.Entry{ServerId: msg.Id, State: session.Confirmed, Sender: c.me, Content: msg.Content, Timestamp: msg.CreatedAt})
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func (c *chat) markSeen(ts time.Time) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if ts.After(c.lastSeen) {
		c.lastSeen = ts
	}
}

// printEntry prints e unless an entry at least as recent was already shown,
// so reopening a session only prints what was missed.
func (c *chat) printEntry(e session.Entry) {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	if e.State == session.Confirmed && !e.Timestamp.After(c.lastSeen) {
		return
	}
	if e.Timestamp.After(c.lastSeen) {
		c.lastSeen = e.Timestamp
	}

	who := e.Sender.Username
	if e.Sender.Id == c.me.Id {
		who = "you"
	}
	fmt.Fprintf(c.out, "%s %s: %s\n", e.Timestamp.Local().Format("15:04"), who, e.Content)
}

func (c *chat) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
