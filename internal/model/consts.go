package model

import "time"

const (
	DurationWebRequestTimeout = time.Second * 10
	DurationCacheTimeout      = time.Hour * 12
	DurationShutdownTimeout   = time.Second * 10
)

// DefaultAPIBaseURL is the avatar backend used when no override is configured.
const DefaultAPIBaseURL = "https://api.borgox.tech/api/v1"

type Version struct {
	Version string
	Commit  string
	Date    string
	BuiltBy string
}
