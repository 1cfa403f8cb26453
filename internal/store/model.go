package store

import (
	"time"

	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/pkg/util"
)

type Source string

const (
	SourceRemote  Source = "remote"
	SourceLocal   Source = "local"
	SourceStartup Source = "startup"
)

// AvatarRecord is the persisted history entry of the last avatar made resident for a key.
type AvatarRecord struct {
	CacheKey  model.CacheKey `json:"cache_key"`
	Platform  model.Platform `json:"platform"`
	Source    Source         `json:"source"`
	SHA256    string         `json:"sha256"`
	Size      int            `json:"size"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	UpdatedOn time.Time      `json:"updated_on"`
}

func NewAvatarRecord(key model.CacheKey, platform model.Platform, source Source, img model.Image) *AvatarRecord {
	return &AvatarRecord{
		CacheKey:  key,
		Platform:  platform,
		Source:    source,
		SHA256:    util.Checksum(img.PNG),
		Size:      img.Size(),
		Width:     img.Width,
		Height:    img.Height,
		UpdatedOn: time.Now(),
	}
}
