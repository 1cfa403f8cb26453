package model

import (
	"strings"

	"github.com/pkg/errors"
)

var ErrUnknownPlatform = errors.New("unknown platform")

type Platform int

const (
	Unknown Platform = iota
	Steam
	Epic
	Xbox
	PSN
	Switch
)

var platformNames = map[Platform]string{
	Unknown: "unknown",
	Steam:   "steam",
	Epic:    "epic",
	Xbox:    "xbox",
	PSN:     "psn",
	Switch:  "switch",
}

// Platforms returns every known platform, excluding Unknown.
func Platforms() []Platform {
	return []Platform{Steam, Epic, Xbox, PSN, Switch}
}

func (p Platform) String() string {
	name, found := platformNames[p]
	if !found {
		return platformNames[Unknown]
	}

	return name
}

// Segment is the URL path component used by the avatar backend.
func (p Platform) Segment() string {
	return p.String()
}

func ParsePlatform(value string) (Platform, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for platform, name := range platformNames {
		if platform != Unknown && name == value {
			return platform, nil
		}
	}

	return Unknown, errors.Wrapf(ErrUnknownPlatform, "%q", value)
}

func (p Platform) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Platform) UnmarshalText(text []byte) error {
	if len(text) == 0 || string(text) == platformNames[Unknown] {
		*p = Unknown

		return nil
	}

	platform, errParse := ParsePlatform(string(text))
	if errParse != nil {
		return errParse
	}

	*p = platform

	return nil
}
