package server

import (
	"context"
	"errors"

	"github.com/npezzotti/campus-chat/internal/messaging"
	"github.com/npezzotti/campus-chat/internal/stats"
	"github.com/npezzotti/campus-chat/internal/types"
	"go.uber.org/zap"
)

const (
	metricActiveClients   = "NumActiveClients"
	metricActiveRooms     = "NumActiveRooms"
	metricMessagesRelayed = "MessagesRelayed"
	metricTypingRelayed   = "TypingRelayed"
)

type stopReq struct {
	done chan struct{}
}

// ChatServer is the realtime gateway. A single goroutine (Run) owns the set
// of connected clients and the room registry; every other goroutine talks to
// it over channels.
type ChatServer struct {
	log            *zap.Logger
	stats          stats.StatsProvider
	registry       *registry
	clients        map[*Client]struct{}
	userMap        map[int]map[*Client]struct{}
	registerChan   chan *Client
	deRegisterChan chan *Client
	joinChan       chan *ClientMessage
	leaveChan      chan *ClientMessage
	relayChan      chan *ClientMessage
	broadcastChan  chan *ServerMessage
	stop           chan stopReq
	done           chan struct{}
}

func NewChatServer(logger *zap.Logger, su stats.StatsProvider) *ChatServer {
	su.RegisterMetric(metricActiveClients)
	su.RegisterMetric(metricActiveRooms)
	su.RegisterMetric(metricMessagesRelayed)
	su.RegisterMetric(metricTypingRelayed)

	return &ChatServer{
		log:            logger.Named("gateway"),
		stats:          su,
		registry:       newRegistry(),
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		joinChan:       make(chan *ClientMessage, 256),
		leaveChan:      make(chan *ClientMessage, 256),
		relayChan:      make(chan *ClientMessage, 256),
		broadcastChan:  make(chan *ServerMessage, 256),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case client := <-cs.registerChan:
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.removeClient(client)
		case msg := <-cs.joinChan:
			cs.route(msg, cs.handleJoin)
		case msg := <-cs.leaveChan:
			cs.route(msg, cs.handleLeave)
		case msg := <-cs.relayChan:
			cs.route(msg, cs.handleRelay)
		case msg := <-cs.broadcastChan:
			cs.broadcastToUser(msg)
		case req := <-cs.stop:
			cs.log.Info("stopping clients", zap.Int("clients", len(cs.clients)))
			for c := range cs.clients {
				c.stopClient()
				cs.removeClient(c)
			}
			close(req.done)
			return
		}
	}
}

// RegisterClient hands a newly connected client to the run loop.
func (cs *ChatServer) RegisterClient(c *Client) error {
	select {
	case cs.registerChan <- c:
		return nil
	case <-cs.done:
		return errors.New("chat server stopped")
	}
}

// DeRegisterClient removes c and all its room memberships.
func (cs *ChatServer) DeRegisterClient(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

// NotifyUser pushes a notification to every connection of userId. It does
// not block; the notification is dropped if the gateway is saturated.
func (cs *ChatServer) NotifyUser(userId int, n types.Notification) {
	msg := &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: &n,
		UserId:       userId,
	}

	select {
	case cs.broadcastChan <- msg:
	default:
		cs.log.Warn("broadcast channel full, dropping notification", zap.Int("user_id", userId))
	}
}

func (cs *ChatServer) addClient(c *Client) {
	if _, ok := cs.clients[c]; ok {
		return
	}
	cs.clients[c] = struct{}{}

	userClients, ok := cs.userMap[c.user.Id]
	if !ok {
		userClients = make(map[*Client]struct{})
		cs.userMap[c.user.Id] = userClients
	}
	userClients[c] = struct{}{}

	cs.stats.Incr(metricActiveClients)
	cs.log.Debug("client connected", zap.Int("user_id", c.user.Id), zap.Int("clients", len(cs.clients)))
}

func (cs *ChatServer) removeClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}
	delete(cs.clients, c)

	if userClients, ok := cs.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cs.userMap, c.user.Id)
		}
	}

	for range cs.registry.leaveAll(c) {
		cs.stats.Decr(metricActiveRooms)
	}

	cs.stats.Decr(metricActiveClients)
	cs.log.Debug("client disconnected", zap.Int("user_id", c.user.Id), zap.Int("clients", len(cs.clients)))
}

// route hands msg to handle if its connection is still registered. A request
// can be queued before its connection is deregistered and dequeued after.
func (cs *ChatServer) route(msg *ClientMessage, handle func(*ClientMessage)) {
	if _, ok := cs.clients[msg.client]; !ok {
		cs.log.Debug("dropping request from disconnected client", zap.Int("user_id", msg.UserId))
		return
	}
	handle(msg)
}

func (cs *ChatServer) handleJoin(msg *ClientMessage) {
	roomId := msg.Join.ConversationId
	if _, err := messaging.Counterpart(roomId, msg.UserId); err != nil {
		if errors.Is(err, messaging.ErrForbidden) {
			msg.client.queueMessage(ErrForbidden(msg.Id))
		} else {
			msg.client.queueMessage(ErrBadRequest(msg.Id, "invalid conversation id"))
		}
		return
	}

	if cs.registry.join(msg.client, roomId) {
		cs.stats.Incr(metricActiveRooms)
	}

	cs.reply(msg, NoErrOK(msg.Id, map[string]any{
		"conversation_id": roomId,
		"members":         cs.registry.size(roomId),
	}))
}

func (cs *ChatServer) handleLeave(msg *ClientMessage) {
	roomId := msg.Leave.ConversationId
	if cs.registry.leave(msg.client, roomId) {
		cs.stats.Decr(metricActiveRooms)
	}

	cs.reply(msg, NoErrOK(msg.Id, map[string]any{"conversation_id": roomId}))
}

// handleRelay forwards a live message or typing indicator to every other
// connection joined to the room. A sender that is not joined reaches nobody.
func (cs *ChatServer) handleRelay(msg *ClientMessage) {
	var (
		roomId string
		out    *ServerMessage
		metric string
	)

	switch {
	case msg.Send != nil:
		content, err := messaging.ValidateContent(msg.Send.Content)
		if err != nil {
			msg.client.queueMessage(ErrBadRequest(msg.Id, err.Error()))
			return
		}

		roomId = msg.Send.ConversationId
		metric = metricMessagesRelayed
		out = &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: msg.Timestamp},
			Receive: &types.MessageReceive{
				ConversationId: roomId,
				Message: types.LiveMessage{
					LocalId:   msg.Send.LocalId,
					Sender:    msg.client.user,
					Content:   content,
					Timestamp: msg.Timestamp,
				},
			},
		}
	case msg.Typing != nil:
		roomId = msg.Typing.ConversationId
		metric = metricTypingRelayed
		out = &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: msg.Timestamp},
			Typing: &types.TypingEvent{
				ConversationId: roomId,
				UserId:         msg.UserId,
				IsTyping:       msg.Typing.IsTyping,
			},
		}
	default:
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	delivered := 0
	if cs.registry.isMember(msg.client, roomId) {
		for _, c := range cs.registry.members(roomId) {
			if c == msg.client {
				continue
			}
			if c.queueMessage(out) {
				delivered++
			}
		}
	}

	if delivered > 0 {
		cs.stats.Incr(metric)
	}

	cs.reply(msg, NoErrAccepted(msg.Id, map[string]any{
		"conversation_id": roomId,
		"delivered":       delivered,
	}))
}

func (cs *ChatServer) broadcastToUser(msg *ServerMessage) {
	for c := range cs.userMap[msg.UserId] {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

// reply acknowledges a successful request. Requests without an id are not
// acknowledged; errors are always reported.
func (cs *ChatServer) reply(msg *ClientMessage, resp *ServerMessage) {
	if msg.Id <= 0 {
		return
	}
	msg.client.queueMessage(resp)
}

// Shutdown stops every client and the run loop.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
