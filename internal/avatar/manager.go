// Package avatar owns the resident avatar cache and drives every acquisition chain from
// request to presentation.
package avatar

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/leighmacdonald/pfp/internal/imaging"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/resolver"
	"github.com/leighmacdonald/pfp/internal/settings"
	"github.com/leighmacdonald/pfp/internal/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const historyTimeout = time.Second * 5

var (
	ErrNoIdentity      = errors.New("identity has no id")
	ErrNoLocalIdentity = errors.New("local identity unknown")
	ErrSuperseded      = errors.New("superseded by a newer request")
)

type Option func(m *Manager)

func WithRecorder(recorder Recorder) Option {
	return func(m *Manager) {
		m.recorder = recorder
	}
}

func WithHistory(history History) Option {
	return func(m *Manager) {
		m.history = history
	}
}

func WithStatusHandler(handler StatusFunc) Option {
	return func(m *Manager) {
		m.onStatus = handler
	}
}

type Manager struct {
	log       *zap.Logger
	settings  SettingsProvider
	presenter Presenter
	fetcher   Fetcher
	exec      Executor
	scratch   billy.Filesystem
	recorder  Recorder
	history   History
	onStatus  StatusFunc
	cache     *Cache

	mu sync.Mutex
	// pending maps a key to the generation of the newest chain started for it. A chain may
	// only mutate the cache while its generation is still the one recorded here.
	pending    map[model.CacheKey]uint64
	generation atomic.Uint64
	wg         sync.WaitGroup

	// Ledger writes run one at a time in the order the cache changed.
	historyMu      sync.Mutex
	historyQueue   []func(ctx context.Context)
	historyRunning bool
}

func New(logger *zap.Logger, provider SettingsProvider, presenter Presenter, fetcher Fetcher,
	exec Executor, scratch billy.Filesystem, opts ...Option,
) *Manager {
	manager := &Manager{
		log:       logger.Named("avatar"),
		settings:  provider,
		presenter: presenter,
		fetcher:   fetcher,
		exec:      exec,
		scratch:   scratch,
		recorder:  nopRecorder{},
		onStatus:  func(LocalResult) {},
		cache:     NewCache(),
		pending:   map[model.CacheKey]uint64{},
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

func (m *Manager) IsCached(key model.CacheKey) bool {
	return m.cache.Has(key)
}

func (m *Manager) Get(key model.CacheKey) (*Entry, bool) {
	return m.cache.Get(key)
}

func (m *Manager) Keys() []model.CacheKey {
	return m.cache.Keys()
}

// InFlight reports whether a chain for key has started and not yet finished.
func (m *Manager) InFlight(key model.CacheKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, found := m.pending[key]

	return found
}

func (m *Manager) begin(key model.CacheKey) uint64 {
	gen := m.generation.Add(1)

	m.mu.Lock()
	m.pending[key] = gen
	m.mu.Unlock()

	m.wg.Add(1)

	return gen
}

// beginRemote starts a chain unless one is already pending for key.
func (m *Manager) beginRemote(key model.CacheKey) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.pending[key]; found {
		return 0, false
	}

	gen := m.generation.Add(1)
	m.pending[key] = gen
	m.wg.Add(1)

	return gen, true
}

// finish marks the chain terminal. Exactly one call per begin.
func (m *Manager) finish(key model.CacheKey, gen uint64) {
	m.mu.Lock()
	if m.pending[key] == gen {
		delete(m.pending, key)
	}
	m.mu.Unlock()

	m.wg.Done()
}

func (m *Manager) localIdentity() (model.Identity, bool) {
	local, ok := m.presenter.LocalIdentity()
	if !ok || !local.HasID() {
		return model.Identity{}, false
	}

	return local, true
}

func (m *Manager) isLocal(key model.CacheKey) bool {
	local, ok := m.localIdentity()
	if !ok {
		return false
	}

	localKey, _ := local.Key()

	return localKey == key
}

func (m *Manager) normalize(raw []byte, brightness bool) (model.Image, error) {
	started := time.Now()
	img, errNorm := imaging.Normalize(raw, brightness)
	m.recorder.RecordNormalize(errNorm == nil, time.Since(started).Seconds())

	return img, errNorm
}

// insertCurrent makes img resident unless the chain was superseded or removed. It must run
// on the control loop.
func (m *Manager) insertCurrent(key model.CacheKey, gen uint64, id model.Identity, img model.Image,
	source store.Source,
) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[key] != gen {
		return nil, false
	}

	entry := &Entry{
		Key:       key,
		Identity:  id,
		Image:     img,
		Source:    source,
		UpdatedOn: time.Now(),
	}

	m.cache.Set(entry)
	m.recorder.SetResident(m.cache.Len())
	m.saveHistory(entry)

	return entry, true
}

// saveHistory and deleteHistory are called with m.mu held so the ledger sees writes in
// cache order.
func (m *Manager) saveHistory(entry *Entry) {
	if m.history == nil {
		return
	}

	record := store.NewAvatarRecord(entry.Key, entry.Identity.Platform, entry.Source, entry.Image)

	m.enqueueHistory(func(ctx context.Context) {
		if errSave := m.history.SaveAvatar(ctx, record); errSave != nil {
			m.log.Warn("Failed to record avatar history", zap.String("key", entry.Key.String()), zap.Error(errSave))
		}
	})
}

func (m *Manager) deleteHistory(key model.CacheKey) {
	if m.history == nil {
		return
	}

	m.enqueueHistory(func(ctx context.Context) {
		if errDelete := m.history.DeleteAvatar(ctx, key); errDelete != nil {
			m.log.Warn("Failed to delete avatar history", zap.String("key", key.String()), zap.Error(errDelete))
		}
	})
}

func (m *Manager) enqueueHistory(job func(ctx context.Context)) {
	m.wg.Add(1)

	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	m.historyQueue = append(m.historyQueue, job)
	if !m.historyRunning {
		m.historyRunning = true

		go m.drainHistory()
	}
}

func (m *Manager) drainHistory() {
	for {
		m.historyMu.Lock()
		if len(m.historyQueue) == 0 {
			m.historyRunning = false
			m.historyMu.Unlock()

			return
		}

		job := m.historyQueue[0]
		m.historyQueue = m.historyQueue[1:]
		m.historyMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		job(ctx)
		cancel()
		m.wg.Done()
	}
}

// LoadRemote makes the avatar of a remote player resident and applies it. Requests for the
// local player, disallowed platforms and keys already being fetched are dropped.
func (m *Manager) LoadRemote(ctx context.Context, id model.Identity) {
	cfg := m.settings.Get()

	key, ok := id.Key()
	if !ok {
		m.log.Debug("Ignoring identity without id", zap.String("id", id.String()))

		return
	}

	if m.isLocal(key) {
		m.log.Debug("Skipping local player", zap.String("key", key.String()))

		return
	}

	if entry, found := m.cache.Get(key); found {
		m.recorder.RecordCacheLookup(id.Platform, true)
		m.exec.Execute(func() {
			// Skip entries removed while this apply was queued.
			if resident, still := m.cache.Get(key); still && resident == entry {
				m.presenter.ApplyAvatar(id, entry)
			}
		})

		return
	}

	m.recorder.RecordCacheLookup(id.Platform, false)

	policy := resolver.PolicyFromConfig(cfg)
	if local, hasLocal := m.localIdentity(); hasLocal {
		policy.Local = local
	}

	target := resolver.Resolve(id, policy)
	if target.Kind == resolver.KindUnsupported {
		m.log.Debug("Avatar not fetchable", zap.String("key", key.String()),
			zap.String("reason", target.Reason.String()))

		return
	}

	gen, started := m.beginRemote(key)
	if !started {
		m.recorder.RecordCoalesced(id.Platform)
		m.log.Debug("Fetch already in flight", zap.String("key", key.String()))

		return
	}

	done := func(body []byte, errFetch error) {
		m.completeRemote(id, key, gen, cfg.BrightnessAdjustmentEnabled, body, errFetch)
	}

	switch target.Kind {
	case resolver.KindNameLookup:
		m.fetcher.FetchByName(ctx, target.Name, target.DefaultEnabled, done)
	default:
		m.fetcher.FetchByID(ctx, target.URL, done)
	}
}

func (m *Manager) completeRemote(id model.Identity, key model.CacheKey, gen uint64, brightness bool,
	body []byte, errFetch error,
) {
	m.recorder.RecordFetch(id.Platform, errFetch == nil)

	if errFetch != nil {
		m.log.Error("Failed to fetch avatar", zap.String("key", key.String()), zap.Error(errFetch))
		m.finish(key, gen)

		return
	}

	img, errNorm := m.normalize(body, brightness)
	if errNorm != nil {
		m.log.Error("Failed to normalize avatar", zap.String("key", key.String()), zap.Error(errNorm))
		m.finish(key, gen)

		return
	}

	m.exec.Execute(func() {
		defer m.finish(key, gen)

		entry, ok := m.insertCurrent(key, gen, id, img, store.SourceRemote)
		if !ok {
			m.log.Debug("Dropping stale avatar", zap.String("key", key.String()))

			return
		}

		m.presenter.ApplyAvatar(id, entry)
	})
}

func stagedName(key model.CacheKey) string {
	return fmt.Sprintf("upload_%s.png", key)
}

// LoadLocal applies a user chosen image file to id, replacing whatever is resident. Epic
// accounts additionally get the image uploaded so other players can see it. The local
// result is applied even when the upload fails.
func (m *Manager) LoadLocal(ctx context.Context, path string, id model.Identity) {
	cfg := m.settings.Get()

	key, ok := id.Key()
	if !ok {
		m.log.Error("Cannot load local avatar", zap.Error(ErrNoIdentity))
		m.onStatus(LocalResult{Identity: id, Source: store.SourceLocal, Err: ErrNoIdentity})

		return
	}

	gen := m.begin(key)

	go m.loadLocal(ctx, settings.ExpandPath(path), id, key, gen, cfg.BrightnessAdjustmentEnabled)
}

func (m *Manager) loadLocal(ctx context.Context, path string, id model.Identity, key model.CacheKey, gen uint64,
	brightness bool,
) {
	fail := func(msg string, err error) {
		m.log.Error(msg, zap.String("key", key.String()), zap.String("path", path), zap.Error(err))
		m.onStatus(LocalResult{Identity: id, Source: store.SourceLocal, Err: err})
		m.finish(key, gen)
	}

	raw, errRead := os.ReadFile(path)
	if errRead != nil {
		fail("Failed to read local avatar", errors.Wrap(errRead, "Failed to read local avatar"))

		return
	}

	img, errNorm := m.normalize(raw, brightness)
	if errNorm != nil {
		fail("Failed to normalize local avatar", errNorm)

		return
	}

	if id.Platform != model.Epic || id.StringID == "" {
		m.applyLocal(id, key, gen, img, store.SourceLocal, false)

		return
	}

	staged := stagedName(key)
	if errStage := util.WriteFile(m.scratch, staged, img.PNG, 0o600); errStage != nil {
		_ = m.scratch.Remove(staged)

		fail("Failed to stage avatar upload", errors.Wrap(errStage, "Failed to stage avatar upload"))

		return
	}

	m.fetcher.Upload(ctx, staged, id.StringID, func(uploaded bool) {
		m.recorder.RecordUpload(uploaded)

		if !uploaded {
			m.log.Error("Failed to upload avatar, applying locally only", zap.String("key", key.String()))
		}

		m.applyLocal(id, key, gen, img, store.SourceLocal, uploaded)
	})
}

func (m *Manager) applyLocal(id model.Identity, key model.CacheKey, gen uint64, img model.Image, source store.Source,
	uploaded bool,
) {
	m.exec.Execute(func() {
		defer m.finish(key, gen)

		entry, ok := m.insertCurrent(key, gen, id, img, source)
		if !ok {
			m.log.Debug("Dropping superseded local avatar", zap.String("key", key.String()))
			m.onStatus(LocalResult{Identity: id, Source: source, Err: ErrSuperseded})

			return
		}

		m.presenter.ApplyAvatar(id, entry)
		m.onStatus(LocalResult{Identity: id, Source: source, Applied: true, Uploaded: uploaded})
	})
}

// LoadStartup restores the local player's avatar when the host starts. Epic players first
// try their previously uploaded avatar, falling back to the configured file.
func (m *Manager) LoadStartup(ctx context.Context) {
	cfg := m.settings.Get()

	local, ok := m.localIdentity()
	if !ok {
		m.log.Debug("Local identity unknown, skipping startup avatar")

		return
	}

	selfURL, isEpic := resolver.SelfURL(cfg.APIBaseURL, local)
	if !isEpic {
		if cfg.HasAvatarPath() {
			m.LoadLocal(ctx, cfg.AvatarPath, local)
		}

		return
	}

	key, _ := local.Key()
	gen := m.begin(key)

	m.fetcher.FetchByID(ctx, selfURL, func(body []byte, errFetch error) {
		if errFetch == nil {
			img, errNorm := m.normalize(body, cfg.BrightnessAdjustmentEnabled)
			if errNorm == nil {
				m.applyLocal(local, key, gen, img, store.SourceStartup, false)

				return
			}

			errFetch = errNorm
		}

		m.log.Info("No uploaded avatar found", zap.String("key", key.String()), zap.Error(errFetch))

		if cfg.HasAvatarPath() {
			m.LoadLocal(ctx, cfg.AvatarPath, local)
		}

		m.finish(key, gen)
	})
}

func (m *Manager) remove(id model.Identity, local bool) {
	key, ok := id.Key()
	if !ok {
		return
	}

	m.mu.Lock()
	delete(m.pending, key)
	m.cache.Delete(key)
	m.recorder.SetResident(m.cache.Len())
	m.deleteHistory(key)
	m.mu.Unlock()

	m.exec.Execute(func() {
		m.presenter.DetachAvatar(id)

		if local {
			m.onStatus(LocalResult{Identity: id, Source: store.SourceLocal, Removed: true})
		}
	})
}

// RemoveLocal drops the local player's avatar and detaches it.
func (m *Manager) RemoveLocal(_ context.Context, id model.Identity) {
	m.remove(id, true)
}

// RemoveRemote drops a remote player's avatar and detaches it.
func (m *Manager) RemoveRemote(_ context.Context, id model.Identity) {
	m.remove(id, false)
}

// ClearAll empties the cache. Chains still in flight are invalidated.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = map[model.CacheKey]uint64{}
	m.cache.Clear()
	m.recorder.SetResident(0)
}

// Wait blocks until every started chain has reached its terminal step.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close waits for outstanding chains, bounded by ctx, then clears the cache.
func (m *Manager) Close(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Timed out waiting for avatar requests")
	}

	m.ClearAll()

	return nil
}
