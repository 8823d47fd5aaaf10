package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/campus-chat/internal/database"
	"github.com/npezzotti/campus-chat/internal/messaging"
	"github.com/npezzotti/campus-chat/internal/server"
	"github.com/npezzotti/campus-chat/internal/types"
	"go.uber.org/zap"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required,min=8"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("json encode failed", zap.Error(err))
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(errResp))
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// lookupError maps a repository lookup failure to a response.
func lookupError(err error) *ApiError {
	if errors.Is(err, sql.ErrNoRows) {
		return NewNotFoundError()
	}
	return NewInternalServerError(err)
}

// serviceError maps a messaging failure to a response.
func serviceError(err error) *ApiError {
	switch {
	case errors.Is(err, messaging.ErrValidation):
		return NewValidationError(err.Error())
	case errors.Is(err, messaging.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, messaging.ErrForbidden):
		return NewForbiddenError()
	default:
		return NewInternalServerError(err)
	}
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if _, err := s.repo.GetAccountByEmail(r.Context(), req.Email); err == nil {
		s.writeError(w, NewValidationError("email address already registered"))
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := s.repo.CreateAccount(r.Context(), database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, accountResponse(newUser))
}

func (s *ChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	if err := s.validate.Struct(lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbUser, err := s.repo.GetAccountByEmail(r.Context(), lr.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewUnauthorizedError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	token, err := createJwtForSession(dbUser.Id, s.tokenTTL, s.signingKey)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, time.Now().Add(s.tokenTTL)))

	s.writeJson(w, http.StatusOK, LoginResponse{User: accountResponse(dbUser), Token: token})
}

func (s *ChatApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.repo.GetAccountById(r.Context(), userId)
	if err != nil {
		s.writeError(w, lookupError(err))
		return
	}

	s.writeJson(w, http.StatusOK, accountResponse(user))
}

func (s *ChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one so the browser drops it
	http.SetCookie(w, createJwtCookie("", time.Unix(0, 0)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.repo.GetAccountById(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewUnauthorizedError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading connection", zap.Error(err))
		return
	}

	client := server.NewClient(messaging.ToUser(user), conn, s.cs, s.log)
	if err := s.cs.RegisterClient(client); err != nil {
		s.log.Warn("failed to register client", zap.Error(err))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}

func accountResponse(u database.User) types.User {
	return types.User{
		Id:             u.Id,
		Username:       u.Username,
		EmailAddress:   u.EmailAddress,
		ProfilePicture: u.ProfilePicture,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}
