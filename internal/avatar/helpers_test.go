package avatar_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/leighmacdonald/pfp/internal/avatar"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/settings"
	"github.com/leighmacdonald/pfp/internal/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testBase = "https://avatars.test/api/v1"

var errNotFound = errors.New("status 404")

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}

	img.SetNRGBA(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 4})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

func writeTestPNG(t *testing.T, width, height int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "avatar.png")
	require.NoError(t, os.WriteFile(path, testPNG(t, width, height), 0o600))

	return path
}

type applyCall struct {
	id    model.Identity
	entry *avatar.Entry
}

type fakePresenter struct {
	mu       sync.Mutex
	applied  []applyCall
	detached []model.Identity
	visible  map[model.CacheKey]bool
	local    model.Identity
}

func (p *fakePresenter) ApplyAvatar(id model.Identity, entry *avatar.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.applied = append(p.applied, applyCall{id: id, entry: entry})

	if p.visible == nil {
		p.visible = map[model.CacheKey]bool{}
	}

	p.visible[entry.Key] = true
}

func (p *fakePresenter) DetachAvatar(id model.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.detached = append(p.detached, id)

	if key, ok := id.Key(); ok {
		delete(p.visible, key)
	}
}

// Visible lists the keys currently shown, sorted.
func (p *fakePresenter) Visible() []model.CacheKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]model.CacheKey, 0, len(p.visible))
	for key := range p.visible {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return keys
}

func (p *fakePresenter) LocalIdentity() (model.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.local, p.local.HasID()
}

func (p *fakePresenter) Applied() []applyCall {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]applyCall(nil), p.applied...)
}

func (p *fakePresenter) Detached() []model.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]model.Identity(nil), p.detached...)
}

type response struct {
	body []byte
	err  error
}

// fakeFetcher answers every request from responses, falling back to body. Callbacks run on
// their own goroutine, optionally held until gate is closed.
type fakeFetcher struct {
	mu        sync.Mutex
	scratch   billy.Filesystem
	body      []byte
	responses map[string]response
	gate      chan struct{}
	fetches   []string
	uploads   []string
	staged    []string
	uploadOK  bool
}

func (f *fakeFetcher) respond(key string, done func([]byte, error)) {
	f.mu.Lock()
	f.fetches = append(f.fetches, key)
	resp, found := f.responses[key]
	if !found {
		resp = response{body: f.body}
	}
	gate := f.gate
	f.mu.Unlock()

	go func() {
		if gate != nil {
			<-gate
		}

		done(resp.body, resp.err)
	}()
}

func (f *fakeFetcher) FetchByID(_ context.Context, url string, done func([]byte, error)) {
	f.respond(url, done)
}

func (f *fakeFetcher) FetchByName(_ context.Context, name string, _ bool, done func([]byte, error)) {
	f.respond("name:"+name, done)
}

func (f *fakeFetcher) Upload(_ context.Context, filePath string, accountID string, done func(bool)) {
	f.mu.Lock()
	_, errRead := util.ReadFile(f.scratch, filePath)
	f.uploads = append(f.uploads, accountID)
	f.staged = append(f.staged, filePath)
	ok := f.uploadOK && errRead == nil
	f.mu.Unlock()

	go func() {
		_ = f.scratch.Remove(filePath)

		done(ok)
	}()
}

func (f *fakeFetcher) Fetches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.fetches...)
}

func (f *fakeFetcher) Staged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.staged...)
}

func (f *fakeFetcher) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.uploads...)
}

// fakeHistory records ledger writes. SaveAvatar blocks until hold is closed when set.
type fakeHistory struct {
	mu      sync.Mutex
	hold    chan struct{}
	saved   map[model.CacheKey]store.Source
	deleted []model.CacheKey
	ops     []string
}

func (h *fakeHistory) SaveAvatar(_ context.Context, record *store.AvatarRecord) error {
	h.mu.Lock()
	hold := h.hold
	h.mu.Unlock()

	if hold != nil {
		<-hold
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.saved[record.CacheKey] = record.Source
	h.ops = append(h.ops, "save:"+record.CacheKey.String())

	return nil
}

func (h *fakeHistory) DeleteAvatar(_ context.Context, key model.CacheKey) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.saved, key)
	h.deleted = append(h.deleted, key)
	h.ops = append(h.ops, "delete:"+key.String())

	return nil
}

func (h *fakeHistory) Ops() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.ops...)
}

func (h *fakeHistory) Saved() map[model.CacheKey]store.Source {
	h.mu.Lock()
	defer h.mu.Unlock()

	saved := map[model.CacheKey]store.Source{}
	for key, source := range h.saved {
		saved[key] = source
	}

	return saved
}

type statusLog struct {
	mu      sync.Mutex
	results []avatar.LocalResult
}

func (s *statusLog) handle(result avatar.LocalResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, result)
}

func (s *statusLog) Results() []avatar.LocalResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]avatar.LocalResult(nil), s.results...)
}

type testEnv struct {
	manager   *avatar.Manager
	loop      *avatar.Loop
	settings  *settings.Settings
	presenter *fakePresenter
	fetcher   *fakeFetcher
	history   *fakeHistory
	status    *statusLog
	scratch   billy.Filesystem
	logs      *observer.ObservedLogs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	userSettings := settings.NewSettings()
	require.NoError(t, userSettings.Update(func(cfg *settings.Config) {
		cfg.APIBaseURL = testBase
	}))

	scratch := memfs.New()
	presenter := &fakePresenter{}
	fetcher := &fakeFetcher{scratch: scratch, body: testPNG(t, 4, 4), responses: map[string]response{}, uploadOK: true}
	history := &fakeHistory{saved: map[model.CacheKey]store.Source{}}
	status := &statusLog{}

	loop := avatar.NewLoop(logger)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		_ = loop.Run(ctx)
	}()

	t.Cleanup(cancel)

	manager := avatar.New(logger, userSettings, presenter, fetcher, loop, scratch,
		avatar.WithHistory(history), avatar.WithStatusHandler(status.handle))

	return &testEnv{
		manager:   manager,
		loop:      loop,
		settings:  userSettings,
		presenter: presenter,
		fetcher:   fetcher,
		history:   history,
		status:    status,
		scratch:   scratch,
		logs:      logs,
	}
}

// settle waits for every chain and then for anything already queued on the loop.
func (env *testEnv) settle() {
	env.manager.Wait()

	done := make(chan struct{})
	env.loop.Execute(func() { close(done) })
	<-done
}

func (env *testEnv) errorCount() int {
	return env.logs.FilterLevelExact(zap.ErrorLevel).Len()
}

func mustKey(t *testing.T, id model.Identity) model.CacheKey {
	t.Helper()

	key, ok := id.Key()
	require.True(t, ok)

	return key
}
