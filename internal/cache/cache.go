package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
)

var (
	ErrCacheExpired = errors.New("cached value expired")
	errUnknownType  = errors.New("unknown cache type")
)

type Cache interface {
	Set(ct Type, key string, value io.Reader) error
	Get(ct Type, key string, receiver io.Writer) error
	Delete(ct Type, key string) error
}

type Type int

const (
	// TypeAvatar holds raw response bodies from the avatar backend keyed by request URL.
	TypeAvatar Type = iota
)

// headerLen is the size of the write timestamp prefixed to each entry. Filesystem mtimes are
// not reliable across every billy backend.
const headerLen = 8

type FsCache struct {
	fs     billy.Filesystem
	maxAge time.Duration
	now    func() time.Time
}

func New(fs billy.Filesystem, maxAge time.Duration) *FsCache {
	return &FsCache{fs: fs, maxAge: maxAge, now: time.Now}
}

// WithClock replaces the time source, used by tests to age entries.
func (cache *FsCache) WithClock(now func() time.Time) *FsCache {
	cache.now = now

	return cache
}

func (cache *FsCache) getPath(ct Type, key string) (string, error) {
	switch ct {
	case TypeAvatar:
		sum := sha256.Sum256([]byte(key))
		hashed := hex.EncodeToString(sum[:])

		return path.Join("avatars", hashed[0:2], hashed+".bin"), nil
	default:
		return "", errors.Wrapf(errUnknownType, "%d", ct)
	}
}

func (cache *FsCache) Set(ct Type, key string, value io.Reader) error {
	fullPath, errPath := cache.getPath(ct, key)
	if errPath != nil {
		return errPath
	}

	body, errRead := io.ReadAll(value)
	if errRead != nil {
		return errors.Wrap(errRead, "Failed to read cache value")
	}

	if errMkdir := cache.fs.MkdirAll(path.Dir(fullPath), 0o770); errMkdir != nil {
		return errors.Wrap(errMkdir, "Failed to create cache dir")
	}

	entry := make([]byte, headerLen, headerLen+len(body))
	binary.BigEndian.PutUint64(entry, uint64(cache.now().UnixNano()))
	entry = append(entry, body...)

	if errWrite := util.WriteFile(cache.fs, fullPath, entry, 0o660); errWrite != nil {
		return errors.Wrap(errWrite, "Failed to write cache entry")
	}

	return nil
}

// Get copies a fresh entry into receiver. Missing, corrupt and stale entries all report
// ErrCacheExpired.
func (cache *FsCache) Get(ct Type, key string, receiver io.Writer) error {
	fullPath, errPath := cache.getPath(ct, key)
	if errPath != nil {
		return errPath
	}

	entry, errRead := util.ReadFile(cache.fs, fullPath)
	if errRead != nil || len(entry) < headerLen {
		return ErrCacheExpired
	}

	written := time.Unix(0, int64(binary.BigEndian.Uint64(entry[:headerLen])))
	if cache.now().Sub(written) > cache.maxAge {
		return ErrCacheExpired
	}

	_, errCopy := io.Copy(receiver, bytes.NewReader(entry[headerLen:]))

	return errors.Wrap(errCopy, "Failed to copy cache entry")
}

func (cache *FsCache) Delete(ct Type, key string) error {
	fullPath, errPath := cache.getPath(ct, key)
	if errPath != nil {
		return errPath
	}

	if errRemove := cache.fs.Remove(fullPath); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
		return errors.Wrap(errRemove, "Failed to remove cache entry")
	}

	return nil
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Set(_ Type, _ string, _ io.Reader) error { return nil }

func (NopCache) Get(_ Type, _ string, _ io.Writer) error { return ErrCacheExpired }

func (NopCache) Delete(_ Type, _ string) error { return nil }
