// Package fetcher talks to the avatar backend. Every operation has a blocking form and an
// asynchronous form whose callback runs on a fetcher owned goroutine.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/leighmacdonald/pfp/internal/cache"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/resolver"
	"github.com/leighmacdonald/pfp/internal/settings"
	pfputil "github.com/leighmacdonald/pfp/pkg/util"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const maxBodySize = 10 << 20

var (
	ErrFetch     = errors.New("fetch failed")
	ErrUpload    = errors.New("upload failed")
	errEmptyBody = errors.New("empty response body")
)

// FetchError describes a failed retrieval. It matches ErrFetch with errors.Is.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d: %v", ErrFetch, e.URL, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v", ErrFetch, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetch //nolint:errorlint
}

type SettingsProvider interface {
	Get() settings.Config
}

type Client struct {
	log      *zap.Logger
	http     *http.Client
	settings SettingsProvider
	scratch  billy.Filesystem
	cache    cache.Cache
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

// New creates a client. scratch holds files staged for upload, diskCache may be a
// cache.NopCache.
func New(logger *zap.Logger, provider SettingsProvider, scratch billy.Filesystem, diskCache cache.Cache) *Client {
	maxConcurrent := provider.Get().MaxConcurrentFetches
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &Client{
		log:      logger.Named("fetcher"),
		http:     &http.Client{},
		settings: provider,
		scratch:  scratch,
		cache:    diskCache,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.http = client

	return c
}

// Wait blocks until every asynchronous operation has invoked its callback.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) do(ctx context.Context, req *http.Request) (int, []byte, error) {
	if errAcquire := c.sem.Acquire(ctx, 1); errAcquire != nil {
		return 0, nil, errors.Wrap(errAcquire, "Failed to acquire request slot")
	}
	defer c.sem.Release(1)

	resp, errResp := c.http.Do(req)
	if errResp != nil {
		return 0, nil, errors.Wrap(errResp, "Failed to perform request")
	}

	defer pfputil.LogClose(c.log, resp.Body)

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if errRead != nil {
		return resp.StatusCode, nil, errors.Wrap(errRead, "Failed to read response body")
	}

	return resp.StatusCode, body, nil
}

// Get performs a single GET. Only a 200 response with a non-empty body is a success.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	cfg := c.settings.Get()

	if cfg.DiskCacheEnabled {
		var cached bytes.Buffer
		if errCache := c.cache.Get(cache.TypeAvatar, url, &cached); errCache == nil && cached.Len() > 0 {
			c.log.Debug("Disk cache hit", zap.String("url", url))

			return cached.Bytes(), nil
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	req, errReq := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if errReq != nil {
		return nil, &FetchError{URL: url, Err: errReq}
	}

	status, body, errDo := c.do(reqCtx, req)
	if errDo != nil {
		return nil, &FetchError{URL: url, StatusCode: status, Err: errDo}
	}

	if status != http.StatusOK {
		return nil, &FetchError{URL: url, StatusCode: status, Err: errors.New(http.StatusText(status))}
	}

	if len(body) == 0 {
		return nil, &FetchError{URL: url, StatusCode: status, Err: errEmptyBody}
	}

	if cfg.DiskCacheEnabled {
		if errSet := c.cache.Set(cache.TypeAvatar, url, bytes.NewReader(body)); errSet != nil {
			c.log.Debug("Failed to write disk cache", zap.String("url", url), zap.Error(errSet))
		}
	}

	c.log.Debug("Fetched avatar", zap.String("url", url), zap.Int("size", len(body)))

	return body, nil
}

// FetchByID retrieves url asynchronously. done runs exactly once on a fetcher goroutine.
func (c *Client) FetchByID(ctx context.Context, url string, done func([]byte, error)) {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		done(c.Get(ctx, url))
	}()
}

// FetchByName looks an avatar up by display name, used for platforms without a stable id
// the backend understands.
func (c *Client) FetchByName(ctx context.Context, name string, defaultEnabled bool, done func([]byte, error)) {
	c.FetchByID(ctx, resolver.RetrieveURL(c.settings.Get().APIBaseURL, model.Xbox, name, defaultEnabled), done)
}

// PostFile uploads the staged scratch file as the avatar of the Epic account.
func (c *Client) PostFile(ctx context.Context, filePath string, accountID string) error {
	cfg := c.settings.Get()

	content, errRead := util.ReadFile(c.scratch, filePath)
	if errRead != nil {
		return errors.Wrap(errRead, "Failed to read staged file")
	}

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	part, errPart := writer.CreateFormFile("file", path.Base(filePath))
	if errPart != nil {
		return errors.Wrap(errPart, "Failed to create form file")
	}

	if _, errWrite := part.Write(content); errWrite != nil {
		return errors.Wrap(errWrite, "Failed to write form file")
	}

	if errClose := writer.Close(); errClose != nil {
		return errors.Wrap(errClose, "Failed to finalize form")
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	uploadURL := resolver.UploadURL(cfg.APIBaseURL, accountID)

	req, errReq := http.NewRequestWithContext(reqCtx, http.MethodPost, uploadURL, &body)
	if errReq != nil {
		return errors.Wrap(errReq, "Failed to create upload request")
	}

	req.Header.Set("accept", "application/json")
	req.Header.Set("Content-Type", writer.FormDataContentType())

	status, respBody, errDo := c.do(reqCtx, req)
	if errDo != nil {
		return errors.Wrap(ErrUpload, errDo.Error())
	}

	if status != http.StatusOK || len(respBody) == 0 {
		return errors.Wrapf(ErrUpload, "status %d", status)
	}

	text := string(respBody)
	if !strings.Contains(text, "success") || !strings.Contains(text, "true") {
		return errors.Wrapf(ErrUpload, "rejected: %s", text)
	}

	c.log.Debug("Uploaded avatar", zap.String("account", accountID), zap.Int("size", len(content)))

	return nil
}

// Upload posts the staged file asynchronously. The staged file is removed before done is
// called exactly once with the outcome.
func (c *Client) Upload(ctx context.Context, filePath string, accountID string, done func(bool)) {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		errPost := c.PostFile(ctx, filePath, accountID)
		if errPost != nil {
			c.log.Debug("Upload failed", zap.String("account", accountID), zap.Error(errPost))
		}

		if errRemove := c.scratch.Remove(filePath); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
			c.log.Debug("Failed to remove staged file", zap.String("path", filePath), zap.Error(errRemove))
		}

		done(errPost == nil)
	}()
}
