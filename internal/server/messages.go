package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/campus-chat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a request from a connected client. Exactly one of the
// action fields is expected to be set.
type ClientMessage struct {
	BaseMessage
	Join   *Join   `json:"join,omitempty"`
	Leave  *Leave  `json:"leave,omitempty"`
	Send   *Send   `json:"send,omitempty"`
	Typing *Typing `json:"typing,omitempty"`
	UserId int     `json:"-"`
	client *Client `json:"-"`
}

type Join struct {
	ConversationId string `json:"conversation_id"`
}

type Leave struct {
	ConversationId string `json:"conversation_id"`
}

type Send struct {
	ConversationId string `json:"conversation_id"`
	Content        string `json:"content"`
	LocalId        string `json:"local_id,omitempty"`
}

type Typing struct {
	ConversationId string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response             `json:"response,omitempty"`
	Receive      *types.MessageReceive `json:"message:receive,omitempty"`
	Typing       *types.TypingEvent    `json:"typing,omitempty"`
	Notification *types.Notification   `json:"notification,omitempty"`
	SkipClient   *Client               `json:"-"`
	UserId       int                   `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

func newResponse(id, code int, errMsg string, data map[string]any) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return newResponse(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int, data map[string]any) *ServerMessage {
	return newResponse(id, http.StatusAccepted, "", data)
}

func ErrBadRequest(id int, reason string) *ServerMessage {
	return newResponse(id, http.StatusBadRequest, reason, nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	return newResponse(id, http.StatusBadRequest, "invalid message format", nil)
}

func ErrForbidden(id int) *ServerMessage {
	return newResponse(id, http.StatusForbidden, "not a participant of this conversation", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newResponse(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
