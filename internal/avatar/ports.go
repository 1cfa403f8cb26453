package avatar

import (
	"context"

	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/settings"
	"github.com/leighmacdonald/pfp/internal/store"
)

// Presenter hands resident avatars to whatever renders them. All calls are made on the
// control loop.
type Presenter interface {
	ApplyAvatar(id model.Identity, entry *Entry)
	DetachAvatar(id model.Identity)
	LocalIdentity() (model.Identity, bool)
}

// Fetcher performs network operations. Callbacks may run on any goroutine.
type Fetcher interface {
	FetchByID(ctx context.Context, url string, done func([]byte, error))
	FetchByName(ctx context.Context, name string, defaultEnabled bool, done func([]byte, error))
	Upload(ctx context.Context, filePath string, accountID string, done func(bool))
}

// Executor runs work on the control loop.
type Executor interface {
	Execute(fn func())
}

type SettingsProvider interface {
	Get() settings.Config
}

// Recorder is the metrics port.
type Recorder interface {
	RecordCacheLookup(platform model.Platform, hit bool)
	RecordFetch(platform model.Platform, success bool)
	RecordCoalesced(platform model.Platform)
	RecordNormalize(success bool, seconds float64)
	RecordUpload(success bool)
	SetResident(count int)
}

// History persists a record of resident avatars. Failures never affect the pipeline.
type History interface {
	SaveAvatar(ctx context.Context, record *store.AvatarRecord) error
	DeleteAvatar(ctx context.Context, key model.CacheKey) error
}

// LocalResult reports the outcome of a local avatar change.
type LocalResult struct {
	Identity model.Identity
	Source   store.Source
	Applied  bool
	Uploaded bool
	Removed  bool
	Err      error
}

type StatusFunc func(result LocalResult)

type nopRecorder struct{}

func (nopRecorder) RecordCacheLookup(model.Platform, bool) {}
func (nopRecorder) RecordFetch(model.Platform, bool)       {}
func (nopRecorder) RecordCoalesced(model.Platform)         {}
func (nopRecorder) RecordNormalize(bool, float64)          {}
func (nopRecorder) RecordUpload(bool)                      {}
func (nopRecorder) SetResident(int)                        {}
