/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/songroom/room"
)

func testSnapshot() room.Snapshot {
	at := time.Date(2026, 10, 15, 20, 4, 5, 0, time.UTC)

	return room.Snapshot{
		Room:  room.Info{ID: "r1", Name: "Friday Hits", Capacity: 4, Mode: room.ModeSing},
		Local: "p1",
		Stage: room.Stage{
			Phase: room.PhaseKeyword,
			Round: room.Round{Index: 2, MaxRounds: 5, Keyword: "rain", Turn: "p2"},
		},
		Participants: []room.Participant{
			{ID: "p1", Nickname: "Ana", Host: true},
			{ID: "p2", Nickname: "Bo", Ready: true, MicReady: true},
		},
		AllReady: true,
		Scores:   []room.ScoreEntry{{ParticipantID: "p2", Score: 15}, {ParticipantID: "p1", Score: 10}},
		Chat: []room.ChatEntry{
			{Kind: room.EntryTalk, SenderID: "p2", Sender: "Bo", Text: "<script>alert(1)</script>", At: at},
			{Kind: room.EntryEnter, Text: "Bo joined", At: at},
		},
		Alive: true,
	}
}

func newTestRouter(t *testing.T, cfg *Config, session controller) (http.Handler, chan error) {
	t.Helper()

	if cfg.server == "" {
		cfg.server = "http://localhost:3000"
	}

	errs := make(chan error, 16)
	return newRouter(cfg, "r1", session, errs), errs
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeState(t *testing.T) {
	mc := new(MockController)
	mc.On("Snapshot").Return(testSnapshot())

	h, errs := newTestRouter(t, &Config{}, mc)
	rec := serve(h, http.MethodGet, "/state", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var got room.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, room.PhaseKeyword, got.Stage.Phase)
	assert.Equal(t, "rain", got.Stage.Round.Keyword)
	assert.Len(t, got.Participants, 2)
	assert.Empty(t, errs)
	mc.AssertExpectations(t)
}

func TestServeHomePage(t *testing.T) {
	mc := new(MockController)
	mc.On("Snapshot").Return(testSnapshot())

	h, _ := newTestRouter(t, &Config{}, mc)
	rec := serve(h, http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>Friday Hits | songroom</title>")
	assert.Contains(t, body, "Round 2 of 5")
	assert.Contains(t, body, "Keyword: rain")
	assert.Contains(t, body, "Ana (you)")
	assert.Contains(t, body, "p2: 15")
	assert.Contains(t, body, "20:04:05")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.NotContains(t, body, "<script>")
}

func TestHealthOf(t *testing.T) {
	tests := []struct {
		name   string
		snap   room.Snapshot
		status int
		body   string
	}{
		{"alive", room.Snapshot{Alive: true}, http.StatusOK, "Ok\n"},
		{"stalled", room.Snapshot{Alive: true, Stalled: true}, http.StatusOK, "Stalled\n"},
		{"link down", room.Snapshot{}, http.StatusServiceUnavailable, "Reconnect needed\n"},
		{"reconnect flagged", room.Snapshot{Alive: true, ReconnectNeeded: true}, http.StatusServiceUnavailable, "Reconnect needed\n"},
		{"closed", room.Snapshot{Closed: true}, http.StatusServiceUnavailable, "Closed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := healthOf(tt.snap)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestServeHealthCheck(t *testing.T) {
	mc := new(MockController)
	mc.On("Snapshot").Return(room.Snapshot{ReconnectNeeded: true})

	h, _ := newTestRouter(t, &Config{}, mc)
	rec := serve(h, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Reconnect needed\n", rec.Body.String())
}

func TestActions(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		setup  func(*MockController)
		status int
		errMsg string
	}{
		{
			name:   "toggle ready",
			path:   "/ready",
			setup:  func(m *MockController) { m.On("ToggleReady").Return(nil) },
			status: http.StatusOK,
		},
		{
			name:   "mic denied",
			path:   "/mic",
			setup:  func(m *MockController) { m.On("MicReady").Return(room.ErrMicDenied) },
			status: http.StatusForbidden,
			errMsg: room.ErrMicDenied.Error(),
		},
		{
			name:   "start as guest",
			path:   "/start",
			setup:  func(m *MockController) { m.On("StartGame").Return(room.ErrNotHost) },
			status: http.StatusForbidden,
		},
		{
			name:   "start before everyone is ready",
			path:   "/start",
			setup:  func(m *MockController) { m.On("StartGame").Return(room.ErrNotAllReady) },
			status: http.StatusConflict,
		},
		{
			name:   "chat forwards text",
			path:   "/chat",
			body:   `{"text":"hello all"}`,
			setup:  func(m *MockController) { m.On("SendTalk", "hello all").Return(nil) },
			status: http.StatusOK,
		},
		{
			name:   "chat without a body",
			path:   "/chat",
			setup:  func(m *MockController) { m.On("SendTalk", "").Return(room.ErrEmptyMessage) },
			status: http.StatusBadRequest,
		},
		{
			name: "answer",
			path: "/answer",
			body: `{"text":"Africa"}`,
			setup: func(m *MockController) {
				m.On("SubmitAnswer", mock.Anything, "Africa").Return(nil)
			},
			status: http.StatusOK,
		},
		{
			name: "answer times out",
			path: "/answer",
			body: `{"text":"Africa"}`,
			setup: func(m *MockController) {
				m.On("SubmitAnswer", mock.Anything, "Africa").Return(context.DeadlineExceeded)
			},
			status: http.StatusGatewayTimeout,
		},
		{
			name:   "keyword",
			path:   "/keyword",
			body:   `{"keyword":"rain"}`,
			setup:  func(m *MockController) { m.On("ConfirmKeyword", "rain").Return(nil) },
			status: http.StatusOK,
		},
		{
			name: "reconnect after leaving",
			path: "/reconnect",
			setup: func(m *MockController) {
				m.On("Reconnect", mock.Anything).Return(room.ErrSessionClosed)
			},
			status: http.StatusGone,
		},
		{
			name: "link down",
			path: "/ready",
			setup: func(m *MockController) {
				m.On("ToggleReady").Return(fmt.Errorf("ready: %w", room.ErrNotConnected))
			},
			status: http.StatusServiceUnavailable,
		},
		{
			name: "directory failure",
			path: "/answer",
			body: `{"text":"x"}`,
			setup: func(m *MockController) {
				m.On("SubmitAnswer", mock.Anything, "x").Return(&room.APIError{Status: 500, Message: "boom"})
			},
			status: http.StatusBadGateway,
		},
		{
			name:   "leave",
			path:   "/leave",
			setup:  func(m *MockController) { m.On("Leave").Return(nil) },
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := new(MockController)
			tt.setup(mc)

			h, errs := newTestRouter(t, &Config{}, mc)
			rec := serve(h, http.MethodPost, tt.path, tt.body)

			require.Equal(t, tt.status, rec.Code)

			var resp actionResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status == http.StatusOK, resp.OK)
			if tt.errMsg != "" {
				assert.Equal(t, tt.errMsg, resp.Error)
			}
			assert.Empty(t, errs)
			mc.AssertExpectations(t)
		})
	}
}

func TestActions_InvalidBody(t *testing.T) {
	mc := new(MockController)

	h, _ := newTestRouter(t, &Config{}, mc)
	rec := serve(h, http.MethodPost, "/chat", `{"text":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
	mc.AssertNotCalled(t, "SendTalk", mock.Anything)
}

func TestActions_GetNotAllowed(t *testing.T) {
	mc := new(MockController)

	h, _ := newTestRouter(t, &Config{}, mc)
	rec := serve(h, http.MethodGet, "/leave", "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	mc.AssertNotCalled(t, "Leave")
}

func TestServeEvents_ReturnsOnUpdate(t *testing.T) {
	updates := make(chan struct{}, 1)
	updates <- struct{}{}

	cancelled := false
	mc := new(MockController)
	mc.On("Subscribe").Return((<-chan struct{})(updates), func() { cancelled = true })
	mc.On("Snapshot").Return(testSnapshot())

	h, _ := newTestRouter(t, &Config{}, mc)

	start := time.Now()
	rec := serve(h, http.MethodGet, "/events", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, time.Since(start), longPoll)
	assert.Contains(t, rec.Body.String(), `"phase":"keyword"`)
	assert.True(t, cancelled)
}

func TestServeEvents_ClientGone(t *testing.T) {
	mc := new(MockController)
	mc.On("Subscribe").Return((<-chan struct{})(make(chan struct{})), func() {})

	h, _ := newTestRouter(t, &Config{}, mc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Body.String())
	mc.AssertNotCalled(t, "Snapshot")
}

func TestInviteURL(t *testing.T) {
	tests := []struct {
		server string
		room   string
		want   string
	}{
		{"http://localhost:3000", "r1", "http://localhost:3000/rooms/r1"},
		{"https://songs.example.com/game/", "r1", "https://songs.example.com/game/rooms/r1"},
		{"http://localhost:3000", "a b", "http://localhost:3000/rooms/a%20b"},
	}

	for _, tt := range tests {
		got, err := inviteURL(tt.server, tt.room)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestQRSizeOf(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", qrSize},
		{"?size=abc", qrSize},
		{"?size=200", 200},
		{"?size=5", qrMinSize},
		{"?size=99999", qrMaxSize},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/qr"+tt.query, nil)
		assert.Equal(t, tt.want, qrSizeOf(r), tt.query)
	}
}

func TestServeInviteQR(t *testing.T) {
	h, _ := newTestRouter(t, &Config{}, new(MockController))
	rec := serve(h, http.MethodGet, "/qr?size=200", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "http://localhost:3000/rooms/r1", rec.Header().Get("X-Invite-URL"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))
}

func TestRouter_Prefix(t *testing.T) {
	mc := new(MockController)
	mc.On("Snapshot").Return(testSnapshot())

	h, _ := newTestRouter(t, &Config{prefix: "/game/"}, mc)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/game/state", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/state", "").Code)
	assert.Equal(t, "songroom v"+releaseVersion+"\n", serve(h, http.MethodGet, "/game/version", "").Body.String())
}

func TestRouter_Robots(t *testing.T) {
	h, _ := newTestRouter(t, &Config{}, new(MockController))
	rec := serve(h, http.MethodGet, "/robots.txt", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User-agent: *\nDisallow: /\n", rec.Body.String())
}

func TestRouter_CORS(t *testing.T) {
	mc := new(MockController)
	mc.On("Snapshot").Return(testSnapshot())

	h, _ := newTestRouter(t, &Config{corsOrigins: []string{"http://ui.test"}}, mc)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	req.Header.Set("Origin", "http://ui.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://ui.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/state", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_ProfileRoutes(t *testing.T) {
	h, _ := newTestRouter(t, &Config{}, new(MockController))
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/debug/pprof/", "").Code)

	h, _ = newTestRouter(t, &Config{profile: true}, new(MockController))
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/debug/pprof/", "").Code)
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"remote addr", "10.0.0.1:5000", nil, "10.0.0.1:5000"},
		{"cloudflare", "10.0.0.1:5000", map[string]string{"CF-Connecting-IP": "203.0.113.9"}, "203.0.113.9:5000"},
		{"real ip", "10.0.0.1:5000", map[string]string{"X-Real-IP": "203.0.113.10"}, "203.0.113.10:5000"},
		{"bogus header", "10.0.0.1:5000", map[string]string{"X-Real-IP": "nope"}, "10.0.0.1:5000"},
		{"ipv6", "[::1]:5000", nil, "[::1]:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, realIP(r))
		})
	}
}
