// Package session is the client side of a private conversation. A Session
// keeps the realtime room joined for as long as it is open and tracks an
// ordered local view of the conversation, reconciling optimistic sends with
// the durable copies returned by the server.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/campus-chat/internal/messaging"
	"github.com/npezzotti/campus-chat/internal/types"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
)

var (
	ErrClosed       = errors.New("session closed")
	ErrEmptyContent = errors.New("content is required")
)

// API is the durable messaging surface.
type API interface {
	History(ctx context.Context, counterpartId int) ([]types.Message, error)
	SendMessage(ctx context.Context, req types.SendMessageRequest) (types.Message, error)
}

// Realtime is the live relay surface.
type Realtime interface {
	Join(ctx context.Context, conversationId string) error
	Leave(ctx context.Context, conversationId string) error
	Send(ctx context.Context, conversationId, content, localId string) error
	Typing(ctx context.Context, conversationId string, isTyping bool) error
}

type EntryState int

const (
	// Pending entries were sent optimistically and await the durable copy.
	Pending EntryState = iota
	Confirmed
	// Relayed entries arrived live from the other participant.
	Relayed
	Failed
)

func (s EntryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Relayed:
		return "relayed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("EntryState(%d)", int(s))
	}
}

type Entry struct {
	LocalId   string
	ServerId  string
	State     EntryState
	Sender    types.User
	Content   string
	Timestamp time.Time
	Err       error
}

type Config struct {
	Self          types.User
	CounterpartId int
	// ListingId is attached to every message sent in this session.
	ListingId *int
	API       API
	Realtime  Realtime
	Logger    *zap.Logger
}

func (c Config) validate() error {
	switch {
	case c.Self.Id <= 0:
		return errors.New("session: self id is required")
	case c.CounterpartId <= 0:
		return errors.New("session: counterpart id is required")
	case c.API == nil || c.Realtime == nil:
		return errors.New("session: api and realtime transports are required")
	}
	return nil
}

type Session struct {
	cfg            Config
	log            *zap.Logger
	conversationId string
	newLocalId     func() (string, error)
	now            func() time.Time

	mu      sync.Mutex
	entries []Entry
	closed  bool
}

// Open joins the conversation room and loads its history. If the history
// cannot be loaded the room is left again before the error is returned.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Session{
		cfg:            cfg,
		conversationId: messaging.ConversationID(cfg.Self.Id, cfg.CounterpartId),
		newLocalId:     shortid.Generate,
		now:            time.Now,
	}
	s.log = cfg.Logger.With(zap.String("conversation_id", s.conversationId))

	if err := cfg.Realtime.Join(ctx, s.conversationId); err != nil {
		return nil, fmt.Errorf("join %s: %w", s.conversationId, err)
	}

	history, err := cfg.API.History(ctx, cfg.CounterpartId)
	if err != nil {
		if lerr := cfg.Realtime.Leave(context.WithoutCancel(ctx), s.conversationId); lerr != nil {
			s.log.Warn("failed to leave after history error", zap.Error(lerr))
		}
		return nil, fmt.Errorf("load history: %w", err)
	}

	s.entries = make([]Entry, 0, len(history))
	for _, m := range history {
		s.entries = append(s.entries, Entry{
			ServerId:  m.Id,
			State:     Confirmed,
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		})
	}

	return s, nil
}

// With opens a session, runs fn and closes the session on every exit path,
// including a panic in fn.
func With(ctx context.Context, cfg Config, fn func(*Session) error) (err error) {
	s, err := Open(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := s.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(s)
}

// Close leaves the room. Only the first call does anything.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.cfg.Realtime.Leave(ctx, s.conversationId); err != nil {
		return fmt.Errorf("leave %s: %w", s.conversationId, err)
	}
	return nil
}

func (s *Session) ConversationId() string {
	return s.conversationId
}

// Entries returns a copy of the local view, oldest first.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Send appends a pending entry, relays it live and persists it. The entry is
// reconciled in place with the durable copy, or marked failed.
func (s *Session) Send(ctx context.Context, content string) (Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, ErrEmptyContent
	}

	localId, err := s.newLocalId()
	if err != nil {
		return Entry{}, fmt.Errorf("generate local id: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry{}, ErrClosed
	}
	s.entries = append(s.entries, Entry{
		LocalId:   localId,
		State:     Pending,
		Sender:    s.cfg.Self,
		Content:   content,
		Timestamp: s.now(),
	})
	s.mu.Unlock()

	if err := s.cfg.Realtime.Send(ctx, s.conversationId, content, localId); err != nil {
		s.log.Debug("live relay failed", zap.String("local_id", localId), zap.Error(err))
	}

	msg, err := s.cfg.API.SendMessage(ctx, types.SendMessageRequest{
		RecipientId:      s.cfg.CounterpartId,
		Content:          content,
		RelatedListingId: s.cfg.ListingId,
	})

	entry := s.reconcile(localId, func(e *Entry) {
		if err != nil {
			e.State = Failed
			e.Err = err
			return
		}
		e.State = Confirmed
		e.ServerId = msg.Id
		e.Content = msg.Content
		e.Timestamp = msg.CreatedAt
	})

	if err != nil {
		return entry, fmt.Errorf("send message: %w", err)
	}
	return entry, nil
}

func (s *Session) reconcile(localId string, update func(*Entry)) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].LocalId == localId && s.entries[i].State == Pending {
			update(&s.entries[i])
			return s.entries[i]
		}
	}
	return Entry{}
}

// HandleIncoming merges a live message from the other participant. It reports
// whether the event was applied; events for other conversations, echoes of our
// own sends and duplicates are ignored.
func (s *Session) HandleIncoming(ev types.MessageReceive) bool {
	if ev.ConversationId != s.conversationId || ev.Message.Sender.Id == s.cfg.Self.Id {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Message.LocalId != "" {
		for _, e := range s.entries {
			if e.LocalId == ev.Message.LocalId && e.Sender.Id == ev.Message.Sender.Id {
				return false
			}
		}
	}

	s.entries = append(s.entries, Entry{
		LocalId:   ev.Message.LocalId,
		State:     Relayed,
		Sender:    ev.Message.Sender,
		Content:   ev.Message.Content,
		Timestamp: ev.Message.Timestamp,
	})
	return true
}

// SetTyping tells the other participant whether we are typing.
func (s *Session) SetTyping(ctx context.Context, isTyping bool) error {
	return s.cfg.Realtime.Typing(ctx, s.conversationId, isTyping)
}
