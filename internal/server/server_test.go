// ABOUTME: Tests for the server orchestrator: wiring, auth, ledger, and the exit cleanup hook
// ABOUTME: Uses real listeners on loopback and a gRPC health client

package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/ephemera/internal/auth"
	"github.com/2389/ephemera/internal/config"
	"github.com/2389/ephemera/internal/reaper"
	"github.com/2389/ephemera/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testConfig creates a config rooted in a temp directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Dir = filepath.Join(t.TempDir(), "agents")
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Agents.SweepInterval = 20 * time.Millisecond
	cfg.Executor.Command = []string{"/bin/sh"}
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func request(t *testing.T, h http.Handler, method, path, body, token string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestNew(t *testing.T) {
	srv, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	assert.NotNil(t, srv.Supervisor())
	assert.NotNil(t, srv.Handler())
	assert.NotNil(t, srv.grpcServer)
	assert.Nil(t, srv.ledger, "empty database path disables the ledger")
	assert.Equal(t, reaper.Idle, srv.Supervisor().TimerState())
}

func TestNew_WithoutGRPC(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GRPCAddr = ""

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	assert.Nil(t, srv.grpcServer)
}

func TestNew_WeakSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrWeakSecret)
}

func TestServe_LifecycleAndExitCleanup(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg, testLogger())
	require.NoError(t, err)

	httpLn, grpcLn := listen(t), listen(t)
	baseURL := "http://" + httpLn.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, httpLn, grpcLn) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/health/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(grpcLn.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	check, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check.Status)

	resp, err := http.Post(baseURL+"/api/create-agent", "application/json",
		strings.NewReader(`{"name":"survivor","task":{"kind":"code","code":"package agent"}}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.FileExists(t, filepath.Join(cfg.Storage.Dir, "survivor.go"))

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.Equal(t, reaper.Idle, srv.Supervisor().TimerState())
	assert.Empty(t, srv.Supervisor().List())
	assert.NoFileExists(t, filepath.Join(cfg.Storage.Dir, "survivor.go"))

	// A second shutdown is a no-op
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestServe_ListenerFailure(t *testing.T) {
	srv, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	httpLn := listen(t)
	httpLn.Close()

	err = srv.Serve(context.Background(), httpLn, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP server")
	assert.Equal(t, reaper.Idle, srv.Supervisor().TimerState())
}

func TestRun_AddressInUse(t *testing.T) {
	busy := listen(t)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Server.HTTPAddr = busy.Addr().String()

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)

	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = testSecret

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	code, _ := request(t, srv.Handler(), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code, "health stays public")

	code, resp := request(t, srv.Handler(), http.MethodGet, "/api/agents", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "error", resp["status"])

	code, _ = request(t, srv.Handler(), http.MethodGet, "/api/agents", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, code)

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	token, err := verifier.Generate("operator", time.Minute)
	require.NoError(t, err)

	code, resp = request(t, srv.Handler(), http.MethodGet, "/api/agents", "", token)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", resp["status"])
}

func TestLedgerWiring(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = filepath.Join(t.TempDir(), "ledger.db")

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NotNil(t, srv.ledger)

	code, _ := request(t, srv.Handler(), http.MethodPost, "/api/create-agent",
		`{"name":"tracked","task":{"kind":"code","code":"package agent"}}`, "")
	require.Equal(t, http.StatusOK, code)
	code, _ = request(t, srv.Handler(), http.MethodPost, "/api/cleanup-agent/tracked", "", "")
	require.Equal(t, http.StatusOK, code)

	code, resp := request(t, srv.Handler(), http.MethodGet, "/api/agents/tracked/history", "", "")
	require.Equal(t, http.StatusOK, code)
	events := resp["events"].([]any)
	require.Len(t, events, 2)

	require.NoError(t, srv.Shutdown(context.Background()))

	// Events persist across restarts
	ledger, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	defer ledger.Close()
	saved, err := ledger.ListEvents(context.Background(), store.ListParams{AgentID: "tracked"})
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

func TestLedgerPathFromEnv(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "env.db")
	t.Setenv("EPHEMERA_DB_PATH", dbPath)

	srv, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	require.NotNil(t, srv.ledger)
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestPrune(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Retention = time.Hour

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	mock := store.NewMockStore()
	srv.ledger = mock
	require.NoError(t, mock.SaveEvent(context.Background(), &store.AgentEvent{
		AgentID:   "old",
		Kind:      store.EventCreated,
		Timestamp: time.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, mock.SaveEvent(context.Background(), &store.AgentEvent{
		AgentID: "new",
		Kind:    store.EventCreated,
	}))

	srv.prune(context.Background())
	assert.Equal(t, 1, mock.Len())
}

func TestServingStatus(t *testing.T) {
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(reaper.Idle))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(reaper.Armed))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(reaper.Firing))
}

func TestChildEnv(t *testing.T) {
	env := childEnv(config.ExecutorConfig{EntryPoint: "Run", Env: []string{"A=1"}})
	assert.Equal(t, []string{"A=1", "EPHEMERA_ENTRY_POINT=Run"}, env)

	assert.Empty(t, childEnv(config.ExecutorConfig{}))
}
