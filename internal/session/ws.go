package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/campus-chat/internal/server"
	"github.com/npezzotti/campus-chat/internal/types"
	"go.uber.org/zap"
)

const wsWriteWait = 10 * time.Second

var ErrConnectionClosed = errors.New("realtime connection closed")

// RealtimeError is an error response from the gateway.
type RealtimeError struct {
	Code    int
	Message string
}

func (e *RealtimeError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.Code, e.Message)
}

// Handlers receive pushed events. Each is optional and is called from the
// connection's reader goroutine.
type Handlers struct {
	OnMessage      func(types.MessageReceive)
	OnTyping       func(types.TypingEvent)
	OnNotification func(types.Notification)
	// OnError receives error responses that do not answer a request.
	OnError func(error)
}

// WSClient is a realtime connection to the gateway. Requests are correlated
// with their responses by id.
type WSClient struct {
	conn     *websocket.Conn
	log      *zap.Logger
	handlers Handlers

	writeMu sync.Mutex

	mu      sync.Mutex
	nextId  int
	pending map[int]chan *server.Response

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// DialWS connects to wsURL authenticating with token.
func DialWS(ctx context.Context, wsURL, token string, h Handlers, logger *zap.Logger) (*WSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &WSClient{
		conn:     conn,
		log:      logger,
		handlers: h,
		pending:  make(map[int]chan *server.Response),
		done:     make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

func (c *WSClient) Join(ctx context.Context, conversationId string) error {
	return c.request(ctx, &server.ClientMessage{Join: &server.Join{ConversationId: conversationId}})
}

func (c *WSClient) Leave(ctx context.Context, conversationId string) error {
	return c.request(ctx, &server.ClientMessage{Leave: &server.Leave{ConversationId: conversationId}})
}

func (c *WSClient) Send(ctx context.Context, conversationId, content, localId string) error {
	return c.request(ctx, &server.ClientMessage{Send: &server.Send{
		ConversationId: conversationId,
		Content:        content,
		LocalId:        localId,
	}})
}

func (c *WSClient) Typing(ctx context.Context, conversationId string, isTyping bool) error {
	return c.request(ctx, &server.ClientMessage{Typing: &server.Typing{
		ConversationId: conversationId,
		IsTyping:       isTyping,
	}})
}

// Done is closed once the connection is gone.
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, if it has.
func (c *WSClient) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close sends a close frame and waits for the reader to exit.
func (c *WSClient) Close() error {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(time.Second):
		c.conn.Close()
		<-c.done
	}

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

func (c *WSClient) request(ctx context.Context, msg *server.ClientMessage) error {
	ch := make(chan *server.Response, 1)

	c.mu.Lock()
	c.nextId++
	id := c.nextId
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg.Id = id
	if err := c.write(msg); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if resp.ResponseCode >= http.StatusBadRequest {
			return &RealtimeError{Code: resp.ResponseCode, Message: resp.Error}
		}
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WSClient) write(msg *server.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *WSClient) readLoop() {
	defer c.conn.Close()

	for {
		var msg server.ServerMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.finish(err)
			return
		}
		c.dispatch(&msg)
	}
}

func (c *WSClient) finish(err error) {
	c.closeOnce.Do(func() {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.log.Debug("realtime connection closed", zap.Error(err))
		} else {
			c.log.Warn("realtime connection lost", zap.Error(err))
		}
		c.err = err
		close(c.done)
	})
}

func (c *WSClient) dispatch(msg *server.ServerMessage) {
	switch {
	case msg.Response != nil:
		c.mu.Lock()
		ch, ok := c.pending[msg.Id]
		c.mu.Unlock()

		if ok {
			select {
			case ch <- msg.Response:
			default:
			}
			return
		}
		if msg.Response.ResponseCode >= http.StatusBadRequest && c.handlers.OnError != nil {
			c.handlers.OnError(&RealtimeError{Code: msg.Response.ResponseCode, Message: msg.Response.Error})
		}
	case msg.Receive != nil:
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(*msg.Receive)
		}
	case msg.Typing != nil:
		if c.handlers.OnTyping != nil {
			c.handlers.OnTyping(*msg.Typing)
		}
	case msg.Notification != nil:
		if c.handlers.OnNotification != nil {
			c.handlers.OnNotification(*msg.Notification)
		}
	default:
		c.log.Debug("ignoring unknown server message")
	}
}
