package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/leighmacdonald/pfp/internal/avatar"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/settings"
	"github.com/leighmacdonald/pfp/internal/store"
	"github.com/leighmacdonald/pfp/internal/tr"
	"github.com/leighmacdonald/pfp/internal/web"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAvatars struct {
	mu      sync.Mutex
	keys    []model.CacheKey
	cleared int
	events  []model.HostEvent
	err     error
}

func (f *fakeAvatars) Keys() []model.CacheKey {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.keys
}

func (f *fakeAvatars) ClearAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cleared++
	f.keys = nil
}

func (f *fakeAvatars) HandleEvent(_ context.Context, event model.HostEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.events = append(f.events, event)

	return nil
}

type fakeHistory struct {
	records []store.AvatarRecord
	err     error
}

func (f fakeHistory) Avatars(_ context.Context) ([]store.AvatarRecord, error) {
	return f.records, f.err
}

type testServer struct {
	web      *web.Web
	board    *web.Board
	avatars  *fakeAvatars
	settings *settings.Settings
}

func newTestServer(t *testing.T, opts ...web.Option) *testServer {
	t.Helper()

	userSettings := settings.NewSettings()
	require.NoError(t, userSettings.Update(func(cfg *settings.Config) {
		cfg.RunMode = settings.ModeTest
	}))

	translator, errTr := tr.NewTranslator("en")
	require.NoError(t, errTr)

	board := web.NewBoard(zap.NewNop(), userSettings, translator)
	avatars := &fakeAvatars{keys: []model.CacheKey{"psn_1", "steam_2"}}

	return &testServer{
		web:      web.New(zap.NewNop(), userSettings.Get(), board, avatars, opts...),
		board:    board,
		avatars:  avatars,
		settings: userSettings,
	}
}

func (s *testServer) request(t *testing.T, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var bodyReader io.Reader

	if body != nil {
		bodyJSON, errEncode := json.Marshal(body)
		require.NoError(t, errEncode)

		bodyReader = bytes.NewReader(bodyJSON)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	recorder := httptest.NewRecorder()
	s.web.Handler.ServeHTTP(recorder, req)

	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()

	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), out))
}

func testEntry(id model.Identity) *avatar.Entry {
	key, _ := id.Key()

	return &avatar.Entry{
		Key:      key,
		Identity: id,
		Image:    model.Image{PNG: []byte("\x89PNG fake"), Width: 64, Height: 64, Channels: 4},
		Source:   store.SourceRemote,
	}
}

func TestAvatars(t *testing.T) {
	server := newTestServer(t)
	psn := model.Identity{Platform: model.PSN, NumericID: 1}
	epic := model.Identity{Platform: model.Epic, StringID: "abc"}

	server.board.ApplyAvatar(psn, testEntry(psn))
	server.board.ApplyAvatar(epic, testEntry(epic))

	recorder := server.request(t, http.MethodGet, "/avatars", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var views []struct {
		Key    string `json:"key"`
		Width  int    `json:"width"`
		Source string `json:"source"`
	}

	decode(t, recorder, &views)
	require.Len(t, views, 2)
	require.Equal(t, "epic_abc", views[0].Key)
	require.Equal(t, 64, views[0].Width)
	require.Equal(t, "remote", views[1].Source)

	recorder = server.request(t, http.MethodGet, "/avatars/psn_1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "image/png", recorder.Header().Get("Content-Type"))
	require.Equal(t, []byte("\x89PNG fake"), recorder.Body.Bytes())

	server.board.DetachAvatar(psn)
	require.Equal(t, http.StatusNotFound, server.request(t, http.MethodGet, "/avatars/psn_1", nil).Code)
}

func TestCache(t *testing.T) {
	server := newTestServer(t)
	psn := model.Identity{Platform: model.PSN, NumericID: 1}
	server.board.ApplyAvatar(psn, testEntry(psn))

	var keys []string

	decode(t, server.request(t, http.MethodGet, "/cache", nil), &keys)
	require.Equal(t, []string{"psn_1", "steam_2"}, keys)

	require.Equal(t, http.StatusOK, server.request(t, http.MethodDelete, "/cache", nil).Code)
	require.Equal(t, 1, server.avatars.cleared)
	require.Empty(t, server.board.Entries())
}

func TestPostEvent(t *testing.T) {
	server := newTestServer(t)

	recorder := server.request(t, http.MethodPost, "/events", map[string]any{
		"type":     "player_avatar",
		"identity": map[string]any{"platform": "psn", "numeric_id": 5},
	})
	require.Equal(t, http.StatusAccepted, recorder.Code)
	require.Len(t, server.avatars.events, 1)
	require.Equal(t, model.PSN, server.avatars.events[0].Identity.Platform)
	require.False(t, server.avatars.events[0].Timestamp.IsZero())

	recorder = server.request(t, http.MethodPost, "/events", map[string]any{
		"type":     "player_avatar",
		"identity": map[string]any{"platform": "dreamcast"},
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	server.avatars.err = errors.Wrap(model.ErrEventType, "bogus")
	require.Equal(t, http.StatusBadRequest, server.request(t, http.MethodPost, "/events", map[string]any{"type": "bogus"}).Code)

	server.avatars.err = avatar.ErrNoLocalIdentity
	require.Equal(t, http.StatusConflict,
		server.request(t, http.MethodPost, "/events", map[string]any{"type": "set_local_avatar"}).Code)
}

func TestStatus(t *testing.T) {
	server := newTestServer(t)

	require.Equal(t, http.StatusNotFound, server.request(t, http.MethodGet, "/status", nil).Code)

	epic := model.Identity{Platform: model.Epic, StringID: "abc"}
	server.board.OnStatus(avatar.LocalResult{Identity: epic, Source: store.SourceLocal, Applied: true})
	server.board.OnStatus(avatar.LocalResult{Identity: epic, Err: avatar.ErrSuperseded})

	var status web.Status

	recorder := server.request(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	decode(t, recorder, &status)
	require.Equal(t, tr.MsgLocalAvatarUpdatedOffline, status.MessageID)
	require.Equal(t, "Avatar updated locally, upload failed", status.Message)
	require.Equal(t, "abc", status.Identity.StringID)
}

func TestHistory(t *testing.T) {
	records := []store.AvatarRecord{{CacheKey: "psn_1", Platform: model.PSN, Source: store.SourceRemote, Width: 64}}

	server := newTestServer(t, web.WithHistory(fakeHistory{records: records}))

	var loaded []store.AvatarRecord

	decode(t, server.request(t, http.MethodGet, "/history", nil), &loaded)
	require.Len(t, loaded, 1)
	require.Equal(t, model.CacheKey("psn_1"), loaded[0].CacheKey)
	require.Equal(t, model.PSN, loaded[0].Platform)

	failing := newTestServer(t, web.WithHistory(fakeHistory{err: errors.New("db gone")}))
	require.Equal(t, http.StatusInternalServerError, failing.request(t, http.MethodGet, "/history", nil).Code)

	empty := newTestServer(t)

	decode(t, empty.request(t, http.MethodGet, "/history", nil), &loaded)
	require.Empty(t, loaded)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "pfp_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	server := newTestServer(t, web.WithMetrics(reg))

	recorder := server.request(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "pfp_test_total 1")

	require.Equal(t, http.StatusNotFound, newTestServer(t).request(t, http.MethodGet, "/metrics", nil).Code)
}

func TestLocalIdentity(t *testing.T) {
	server := newTestServer(t)

	_, found := server.board.LocalIdentity()
	require.False(t, found)

	require.NoError(t, server.settings.Update(func(cfg *settings.Config) {
		cfg.LocalIdentity = model.Identity{Platform: model.Steam, NumericID: 76561197960287930}
	}))

	local, found := server.board.LocalIdentity()
	require.True(t, found)
	require.Equal(t, model.Steam, local.Platform)
}
