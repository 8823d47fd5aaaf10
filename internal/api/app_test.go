package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/campus-chat/internal/config"
	"github.com/npezzotti/campus-chat/internal/database"
	"github.com/npezzotti/campus-chat/internal/messaging"
	"github.com/npezzotti/campus-chat/internal/server"
	"github.com/npezzotti/campus-chat/internal/stats"
	"github.com/npezzotti/campus-chat/internal/testutil"
	"github.com/npezzotti/campus-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

type noopNotifier struct{}

func (noopNotifier) Notify(int, types.NotificationKind, types.NotificationPayload) {}

type testEnv struct {
	app  *ChatApp
	repo *database.MemoryRepository
	cs   *server.ChatServer
	su   *stats.StatsUpdater
}

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     testSigningKey,
		TokenTTL:       time.Hour,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

// newTestEnv wires the app to an in-memory repository and a running gateway.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	su := stats.NewStatsUpdater(mux)
	su.Run()

	repo := database.NewMemoryRepository()
	cs := server.NewChatServer(logger, su)
	go cs.Run()

	svc := messaging.NewService(logger, repo, noopNotifier{}, nil, su)
	app := NewChatApp(mux, logger, cs, repo, svc, testConfig())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, cs.Shutdown(ctx))
		su.Stop()
	})

	return &testEnv{app: app, repo: repo, cs: cs, su: su}
}

func (e *testEnv) createUser(t *testing.T, username, password string) database.User {
	t.Helper()
	hash, err := hashPassword(password)
	require.NoError(t, err)
	u, err := e.repo.CreateAccount(context.Background(), database.CreateAccountParams{
		Username:     username,
		EmailAddress: username + "@campus.edu",
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return u
}

func tokenFor(t *testing.T, userId int) string {
	t.Helper()
	token, err := createJwtForSession(userId, time.Hour, testSigningKey)
	require.NoError(t, err)
	return token
}

// do runs a request through the full handler chain and returns the recorder
// once the handler has returned.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.app.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func TestNewChatApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	cs := &server.ChatServer{}
	db := &database.MockRepository{}
	cfg := testConfig()

	app := NewChatApp(mux, logger, cs, db, nil, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, logger, app.log, "expected logger to be set")
	assert.Equal(t, db, app.repo, "expected repository to be set")
	assert.Equal(t, cs, app.cs, "expected chat server to be set")
	assert.Equal(t, cfg.SigningKey, app.signingKey, "expected signing key to be set")
	assert.Equal(t, cfg.TokenTTL, app.tokenTTL)
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr, "expected server address to match config")
}

func TestNewChatApp_DefaultTokenTTL(t *testing.T) {
	cfg := testConfig()
	cfg.TokenTTL = 0

	app := NewChatApp(http.NewServeMux(), testutil.TestLogger(t), nil, &database.MockRepository{}, nil, cfg)
	assert.Equal(t, 24*time.Hour, app.tokenTTL)
}

func TestChatApp_CORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/conversations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	env.app.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestChatApp_DebugVars(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/debug/vars", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	vars := decode[map[string]any](t, rr)
	assert.Contains(t, vars, "MessagesSent")
	assert.Contains(t, vars, "NumActiveClients")
}

func TestChatApp_checkOrigin(t *testing.T) {
	app := &ChatApp{allowedOrigins: []string{"http://localhost:3000"}}

	tcases := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "no origin", origin: "", want: true},
		{name: "allowed", origin: "http://localhost:3000", want: true},
		{name: "not allowed", origin: "http://evil.example", want: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.want, app.checkOrigin(req))
		})
	}
}
