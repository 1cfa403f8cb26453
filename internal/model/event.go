package model

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrEventType     = errors.New("unknown event type")
	ErrEventIdentity = errors.New("event identity missing")
)

type EventType string

const (
	EvtPlayerName     EventType = "player_name"
	EvtPlayerAvatar   EventType = "player_avatar"
	EvtMainMenu       EventType = "main_menu"
	EvtMatchStart     EventType = "match_start"
	EvtSetLocalAvatar EventType = "set_local_avatar"
	EvtRemoveLocal    EventType = "remove_local"
	EvtRemoveRemote   EventType = "remove_remote"
)

// HostEvent is a single notification from the game side bridge.
type HostEvent struct {
	Type      EventType `json:"type"`
	Identity  Identity  `json:"identity"`
	Path      string    `json:"path,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func (e HostEvent) Validate() error {
	switch e.Type {
	case EvtMainMenu, EvtMatchStart, EvtSetLocalAvatar:
		return nil
	case EvtPlayerName:
		if !e.Identity.HasID() && e.Identity.Name == "" {
			return ErrEventIdentity
		}

		return nil
	case EvtPlayerAvatar, EvtRemoveLocal, EvtRemoveRemote:
		if !e.Identity.HasID() {
			return ErrEventIdentity
		}

		return nil
	default:
		return errors.Wrapf(ErrEventType, "%q", e.Type)
	}
}
