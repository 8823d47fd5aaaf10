package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/campus-chat/internal/config"
	"github.com/npezzotti/campus-chat/internal/database"
	"github.com/npezzotti/campus-chat/internal/messaging"
	"github.com/npezzotti/campus-chat/internal/server"
	"go.uber.org/zap"
)

type ChatApp struct {
	log            *zap.Logger
	repo           database.Repository
	svc            *messaging.Service
	cs             *server.ChatServer
	srv            *http.Server
	signingKey     []byte
	tokenTTL       time.Duration
	allowedOrigins []string
	upgrader       websocket.Upgrader
	validate       *validator.Validate
}

func NewChatApp(mux *http.ServeMux, logger *zap.Logger, cs *server.ChatServer, repo database.Repository, svc *messaging.Service, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		repo:           repo,
		svc:            svc,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		tokenTTL:       cfg.TokenTTL,
		allowedOrigins: cfg.AllowedOrigins,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = 24 * time.Hour
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))

	mux.HandleFunc("GET /api/conversations", s.authMiddleware(s.getConversations))
	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.getConversations))
	mux.HandleFunc("GET /api/messages/{userId}", s.authMiddleware(s.getHistory))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))

	mux.HandleFunc("GET /api/notifications", s.authMiddleware(s.listNotifications))
	mux.HandleFunc("PUT /api/notifications/read-all", s.authMiddleware(s.markAllNotificationsRead))
	mux.HandleFunc("PUT /api/notifications/{id}/read", s.authMiddleware(s.markNotificationRead))
	mux.HandleFunc("DELETE /api/notifications/{id}", s.authMiddleware(s.deleteNotification))
	mux.HandleFunc("DELETE /api/notifications", s.authMiddleware(s.deleteAllNotifications))

	mux.HandleFunc("GET /ws", s.wsAuthMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped root handler.
func (s *ChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *ChatApp) Start() error {
	s.log.Info("starting server", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *ChatApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients do not send an origin
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}
