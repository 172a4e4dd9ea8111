package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"agrosmart/auth"
	"agrosmart/internal/command"
	"agrosmart/internal/history"
	"agrosmart/internal/models"
	agmqtt "agrosmart/internal/mqtt"
	"agrosmart/internal/store"
	"agrosmart/internal/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type users map[string]*models.User

func (u users) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	if user, ok := u[username]; ok {
		return user, nil
	}
	return nil, store.ErrNotFound
}

type fakePublisher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakePublisher) Publish(context.Context, string, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type testServer struct {
	mem   *store.Memory
	pub   *fakePublisher
	auth  *auth.AuthModule
	token string
	h     http.Handler
}

func newTestServer(t *testing.T, opts middleware.Options) *testServer {
	t.Helper()
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)

	ts := &testServer{mem: store.NewMemory(), pub: &fakePublisher{}}
	ts.auth = auth.NewAuthModule(users{
		"maria": {ID: "u-1", Username: "maria", PasswordHash: hash},
	}, "test-secret", time.Hour)
	ts.mem.PutDevice(models.Device{ID: "d1", OwnerUID: "u-1"})
	ts.mem.PutDevice(models.Device{ID: "d2", OwnerUID: "u-2"})

	topics := agmqtt.NewTopics("agrosmart/v5")
	hw := history.NewWriter(ts.mem, time.Second, nil)
	issuer := command.NewIssuer(ts.mem, hw, ts.pub, topics, command.IssuerConfig{QoS: 1}, nil)

	ts.h = NewWebServer(Dependencies{
		Auth:       ts.auth,
		Issuer:     issuer,
		Commands:   ts.mem,
		History:    ts.mem,
		Telemetry:  ts.mem,
		Devices:    ts.mem,
		Topics:     topics,
		Middleware: opts,
	}).Handler()

	ts.token, err = ts.auth.Login(context.Background(), "maria", "s3cret")
	require.NoError(t, err)
	return ts
}

func secured() middleware.Options {
	return middleware.Options{RequireAuth: true, EnforceDeviceOwnership: true}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" &&
		bytes.HasPrefix(bytes.TrimSpace(rec.Body.Bytes()), []byte("{")) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func (ts *testServer) bearer(extra map[string]string) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + ts.token}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, secured())

	code, body := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, _ = ts.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, secured())

	code, body := ts.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "maria", "password": "s3cret"}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["token"])

	code, _ = ts.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "maria", "password": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "maria"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSendCommand_Rejections(t *testing.T) {
	ts := newTestServer(t, secured())

	tests := []struct {
		name    string
		body    any
		headers map[string]string
		want    int
	}{
		{"no token", map[string]any{"device_id": "d1", "action": "on", "duration": 60}, nil, http.StatusUnauthorized},
		{"bad token", map[string]any{"device_id": "d1", "action": "on", "duration": 60}, map[string]string{"Authorization": "Bearer x"}, http.StatusUnauthorized},
		{"other owner", map[string]any{"device_id": "d2", "action": "on", "duration": 60}, ts.bearer(nil), http.StatusForbidden},
		{"unknown device", map[string]any{"device_id": "d9", "action": "on", "duration": 60}, ts.bearer(nil), http.StatusForbidden},
		{"bad action", map[string]any{"device_id": "d1", "action": "toggle", "duration": 60}, ts.bearer(nil), http.StatusBadRequest},
		{"on without duration", map[string]any{"device_id": "d1", "action": "on"}, ts.bearer(nil), http.StatusBadRequest},
		{"duration too long", map[string]any{"device_id": "d1", "action": "on", "duration": 901}, ts.bearer(nil), http.StatusBadRequest},
		{"bad device id", map[string]any{"device_id": "d 1", "action": "on", "duration": 60}, ts.bearer(nil), http.StatusBadRequest},
		{"bad command id", map[string]any{"device_id": "d1", "action": "on", "duration": 60, "command_id": "a/b"}, ts.bearer(nil), http.StatusBadRequest},
		{"missing action", map[string]any{"device_id": "d1"}, ts.bearer(nil), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.do(t, http.MethodPost, "/commands", tt.body, tt.headers)
			assert.Equal(t, tt.want, code, body)
		})
	}
	assert.Zero(t, ts.pub.calls)
	assert.Zero(t, ts.mem.CommandCount())

	_, body := ts.do(t, http.MethodPost, "/commands", map[string]any{"device_id": "d2", "action": "on", "duration": 60}, ts.bearer(nil))
	assert.Equal(t, map[string]any{"error": "Forbidden"}, body)
}

func TestSendCommand_IdempotencyKey(t *testing.T) {
	ts := newTestServer(t, secured())
	headers := ts.bearer(map[string]string{"Idempotency-Key": "abc"})
	req := map[string]any{"device_id": "d1", "action": "on", "duration": 120}

	code, body := ts.do(t, http.MethodPost, "/commands", req, headers)
	require.Equal(t, http.StatusOK, code, body)
	wantID := command.ManualCommandID("d1", "abc")
	assert.Equal(t, wantID, body["command_id"])
	assert.Equal(t, "d1", body["target"])
	assert.EqualValues(t, 120, body["duration"])
	assert.Equal(t, "abc", body["idempotency_key"])
	assert.Equal(t, map[string]any{
		"command": "agrosmart/v5/d1/command",
		"ack":     "agrosmart/v5/d1/ack",
	}, body["topics"])

	code, body = ts.do(t, http.MethodPost, "/commands", req, ts.bearer(map[string]string{"X-Idempotency-Key": "abc"}))
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["message"], "already exists (idempotent), not republished")
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, 1, ts.pub.calls)
	assert.Equal(t, 1, ts.mem.CommandCount())

	cmd, err := ts.mem.GetCommand(context.Background(), "d1", wantID)
	require.NoError(t, err)
	assert.Equal(t, "u-1", cmd.RequestedBy)
	assert.Equal(t, "abc", cmd.RequestID)
	assert.Equal(t, models.OriginManual, cmd.Origin)
}

func TestSendCommand_PublishFailureThenRepublish(t *testing.T) {
	ts := newTestServer(t, secured())
	req := map[string]any{"device_id": "d1", "action": "off", "command_id": "c-42"}

	ts.pub.err = errors.New("broker unreachable")
	code, body := ts.do(t, http.MethodPost, "/commands", req, ts.bearer(nil))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, map[string]any{"error": "Internal error", "command_id": "c-42"}, body)

	cmd, err := ts.mem.GetCommand(context.Background(), "d1", "c-42")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublishFailed, cmd.Status)

	ts.pub.err = nil
	code, body = ts.do(t, http.MethodPost, "/commands", req, ts.bearer(nil))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["republished"])
	assert.EqualValues(t, 0, body["duration"])
	assert.Equal(t, 2, ts.pub.calls)
}

func TestGetCommand(t *testing.T) {
	ts := newTestServer(t, secured())
	code, _ := ts.do(t, http.MethodPost, "/commands",
		map[string]any{"device_id": "d1", "action": "on", "duration": 60, "command_id": "c-1"}, ts.bearer(nil))
	require.Equal(t, http.StatusOK, code)

	code, body := ts.do(t, http.MethodGet, "/devices/d1/commands/c-1", nil, ts.bearer(nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "c-1", body["command_id"])
	assert.Equal(t, "on", body["requested_action"])

	code, _ = ts.do(t, http.MethodGet, "/devices/d1/commands/nope", nil, ts.bearer(nil))
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodGet, "/devices/d2/commands/c-1", nil, ts.bearer(nil))
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = ts.do(t, http.MethodGet, "/devices/d1/commands/c-1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t, secured())
	for _, id := range []string{"c-1", "c-2"} {
		code, _ := ts.do(t, http.MethodPost, "/commands",
			map[string]any{"device_id": "d1", "action": "off", "command_id": id}, ts.bearer(nil))
		require.Equal(t, http.StatusOK, code)
	}

	code, body := ts.do(t, http.MethodGet, "/devices/d1/history", nil, ts.bearer(nil))
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["count"])

	code, body = ts.do(t, http.MethodGet, "/devices/d1/history?limit=1", nil, ts.bearer(nil))
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])

	code, _ = ts.do(t, http.MethodGet, "/devices/d2/history", nil, ts.bearer(nil))
	assert.Equal(t, http.StatusForbidden, code)
}

func TestTelemetry(t *testing.T) {
	ts := newTestServer(t, secured())
	base := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts.mem.AddReading(models.TelemetryReading{
			DeviceID:  "d1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Sensors:   map[string]any{"soil_moisture": float64(30 + i)},
		})
	}

	tests := []struct {
		query     string
		wantCode  int
		wantCount int
	}{
		{"", http.StatusOK, 3},
		{"?limit=2", http.StatusOK, 2},
		{"?limit=0", http.StatusOK, 1},
		{"?limit=999", http.StatusOK, 3},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run("limit"+tt.query, func(t *testing.T) {
			code, body := ts.do(t, http.MethodGet, "/devices/d1/telemetry"+tt.query, nil, ts.bearer(nil))
			require.Equal(t, tt.wantCode, code)
			if tt.wantCode != http.StatusOK {
				return
			}
			assert.EqualValues(t, tt.wantCount, body["count"])
			items := body["items"].([]any)
			first := items[0].(map[string]any)
			assert.Equal(t, map[string]any{"soil_moisture": float64(32)}, first["sensors"], "newest first")
		})
	}
}

func TestOpenAccess(t *testing.T) {
	ts := newTestServer(t, middleware.Options{})
	code, body := ts.do(t, http.MethodPost, "/commands", map[string]any{"device_id": "d2", "action": "on", "duration": 30}, nil)
	require.Equal(t, http.StatusOK, code, body)

	code, _ = ts.do(t, http.MethodGet, "/devices/d2/telemetry", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestOwnershipWithoutRequiredAuth(t *testing.T) {
	ts := newTestServer(t, middleware.Options{EnforceDeviceOwnership: true})
	code, _ := ts.do(t, http.MethodPost, "/commands", map[string]any{"device_id": "d1", "action": "on", "duration": 30}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, http.MethodPost, "/commands", map[string]any{"device_id": "d1", "action": "on", "duration": 30}, ts.bearer(nil))
	assert.Equal(t, http.StatusOK, code)
}
