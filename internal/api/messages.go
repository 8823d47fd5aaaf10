package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/npezzotti/campus-chat/internal/messaging"
	"github.com/npezzotti/campus-chat/internal/types"
	"go.uber.org/zap"
)

func (s *ChatApp) getConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	convs, err := s.svc.Conversations(r.Context(), userId)
	if err != nil {
		s.writeError(w, serviceError(err))
		return
	}
	if convs == nil {
		convs = []types.Conversation{}
	}

	s.writeJson(w, http.StatusOK, convs)
}

// getHistory returns the conversation with another user and then marks the
// messages addressed to the caller as read.
func (s *ChatApp) getHistory(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	counterpartId, err := strconv.Atoi(r.PathValue("userId"))
	if err != nil || counterpartId <= 0 {
		s.writeError(w, NewValidationError("invalid user id"))
		return
	}

	msgs, err := s.svc.History(r.Context(), userId, counterpartId)
	if err != nil {
		s.writeError(w, serviceError(err))
		return
	}

	s.writeJson(w, http.StatusOK, msgs)

	n, err := s.svc.MarkRead(context.WithoutCancel(r.Context()), userId, counterpartId)
	if err != nil {
		s.log.Warn("failed to mark conversation read",
			zap.Int("reader_id", userId),
			zap.Int("counterpart_id", counterpartId),
			zap.Error(err),
		)
		return
	}
	if n > 0 {
		s.log.Debug("marked messages read", zap.Int("reader_id", userId), zap.Int64("count", n))
	}
}

func (s *ChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req types.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msg, err := s.svc.Send(r.Context(), messaging.SendParams{
		SenderId:    userId,
		RecipientId: req.RecipientId,
		Content:     req.Content,
		ListingId:   req.RelatedListingId,
	})
	if err != nil {
		s.writeError(w, serviceError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *ChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if err := s.svc.Delete(r.Context(), userId, r.PathValue("id")); err != nil {
		// Only the sender or recipient may delete; anyone else is unauthorized
		// rather than hidden behind a not-found.
		if errors.Is(err, messaging.ErrForbidden) {
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.writeError(w, serviceError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
