package web

import (
	"sort"
	"sync"
	"time"

	"github.com/leighmacdonald/pfp/internal/avatar"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/settings"
	"github.com/leighmacdonald/pfp/internal/tr"
	"go.uber.org/zap"
)

type SettingsProvider interface {
	Get() settings.Config
}

// Status is the last localized outcome of a local avatar change.
type Status struct {
	MessageID string         `json:"message_id"`
	Message   string         `json:"message"`
	Identity  model.Identity `json:"identity"`
	UpdatedOn time.Time      `json:"updated_on"`
}

// Board is the presentation side of the pipeline. It keeps the avatars applied to each
// player slot so they can be served over http.
type Board struct {
	log        *zap.Logger
	settings   SettingsProvider
	translator *tr.Translator

	mu      sync.RWMutex
	applied map[model.CacheKey]*avatar.Entry
	status  *Status
}

func NewBoard(logger *zap.Logger, provider SettingsProvider, translator *tr.Translator) *Board {
	return &Board{
		log:        logger.Named("board"),
		settings:   provider,
		translator: translator,
		applied:    map[model.CacheKey]*avatar.Entry{},
	}
}

func (b *Board) ApplyAvatar(id model.Identity, entry *avatar.Entry) {
	b.mu.Lock()
	b.applied[entry.Key] = entry
	b.mu.Unlock()

	b.log.Debug("Applied avatar", zap.String("id", id.String()), zap.String("source", string(entry.Source)))
}

func (b *Board) DetachAvatar(id model.Identity) {
	key, ok := id.Key()
	if !ok {
		return
	}

	b.mu.Lock()
	delete(b.applied, key)
	b.mu.Unlock()
}

// LocalIdentity is taken from the settings since this host has no in process player list.
func (b *Board) LocalIdentity() (model.Identity, bool) {
	local := b.settings.Get().LocalIdentity

	return local, local.HasID()
}

// OnStatus records a local avatar result. It is the avatar.StatusFunc of the service.
func (b *Board) OnStatus(result avatar.LocalResult) {
	messageID, message, ok := b.translator.Status(result)
	if !ok {
		return
	}

	b.log.Info(message, zap.String("message_id", messageID), zap.String("id", result.Identity.String()))

	b.mu.Lock()
	b.status = &Status{
		MessageID: messageID,
		Message:   message,
		Identity:  result.Identity,
		UpdatedOn: time.Now(),
	}
	b.mu.Unlock()
}

func (b *Board) Status() (Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.status == nil {
		return Status{}, false
	}

	return *b.status, true
}

func (b *Board) Entry(key model.CacheKey) (*avatar.Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, found := b.applied[key]

	return entry, found
}

// Entries returns the applied avatars ordered by key.
func (b *Board) Entries() []*avatar.Entry {
	b.mu.RLock()
	entries := make([]*avatar.Entry, 0, len(b.applied))

	for _, entry := range b.applied {
		entries = append(entries, entry)
	}
	b.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	return entries
}

func (b *Board) Clear() {
	b.mu.Lock()
	b.applied = map[model.CacheKey]*avatar.Entry{}
	b.mu.Unlock()
}
