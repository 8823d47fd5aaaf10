package api

import (
	"net/http"
	"strconv"

	"github.com/npezzotti/campus-chat/internal/notify"
	"github.com/npezzotti/campus-chat/internal/types"
)

const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100
)

func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (s *ChatApp) listNotifications(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	page, ok := queryInt(r, "page", 1)
	if !ok {
		s.writeError(w, NewValidationError("page must be a positive integer"))
		return
	}
	limit, ok := queryInt(r, "limit", defaultNotificationLimit)
	if !ok {
		s.writeError(w, NewValidationError("limit must be a positive integer"))
		return
	}
	limit = min(limit, maxNotificationLimit)
	offset := (page - 1) * limit

	dbNotifications, total, err := s.repo.ListNotifications(r.Context(), userId, limit, offset)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	resp := types.NotificationPage{
		Notifications: make([]types.Notification, 0, len(dbNotifications)),
		Pagination: types.Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
		},
	}
	for _, n := range dbNotifications {
		resp.Notifications = append(resp.Notifications, notify.ToNotification(n))
	}
	if offset+len(dbNotifications) < total {
		resp.Pagination.Next = page + 1
	}
	if page > 1 {
		resp.Pagination.Prev = page - 1
	}

	s.writeJson(w, http.StatusOK, resp)
}

// ownedNotification loads the notification named in the path and checks it
// belongs to the caller. It writes the error response itself.
func (s *ChatApp) ownedNotification(w http.ResponseWriter, r *http.Request) (int, bool) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return 0, false
	}

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		s.writeError(w, NewValidationError("invalid notification id"))
		return 0, false
	}

	n, err := s.repo.GetNotification(r.Context(), id)
	if err != nil {
		s.writeError(w, lookupError(err))
		return 0, false
	}
	if n.RecipientId != userId {
		s.writeError(w, NewForbiddenError())
		return 0, false
	}

	return id, true
}

func (s *ChatApp) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ownedNotification(w, r)
	if !ok {
		return
	}

	if err := s.repo.MarkNotificationRead(r.Context(), id); err != nil {
		s.writeError(w, lookupError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	n, err := s.repo.MarkAllNotificationsRead(r.Context(), userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]int64{"updated": n})
}

func (s *ChatApp) deleteNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ownedNotification(w, r)
	if !ok {
		return
	}

	if err := s.repo.DeleteNotification(r.Context(), id); err != nil {
		s.writeError(w, lookupError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) deleteAllNotifications(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	n, err := s.repo.DeleteAllNotifications(r.Context(), userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]int64{"deleted": n})
}
