package avatar

import (
	"context"

	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrNoAvatarPath = errors.New("no avatar path given")

// OnPlayerNameKnown fires once a player's display name has replicated. It is the only path
// that can look up name keyed platforms.
func (m *Manager) OnPlayerNameKnown(ctx context.Context, id model.Identity) {
	if !m.settings.Get().Enabled {
		return
	}

	m.LoadRemote(ctx, id)
}

// OnPlayerAvatarUpdated fires when the host refreshes a player's avatar slot. Name keyed
// platforms are skipped since their name may not be known yet.
func (m *Manager) OnPlayerAvatarUpdated(ctx context.Context, id model.Identity) {
	if !m.settings.Get().Enabled || id.Platform == model.Xbox {
		return
	}

	m.LoadRemote(ctx, id)
}

// OnMainMenu reapplies the local avatar, preferring the configured file.
func (m *Manager) OnMainMenu(ctx context.Context) {
	cfg := m.settings.Get()
	if !cfg.Enabled {
		return
	}

	if !cfg.HasAvatarPath() {
		m.LoadStartup(ctx)

		return
	}

	local, ok := m.localIdentity()
	if !ok {
		m.log.Debug("Local identity unknown, skipping local avatar")

		return
	}

	m.LoadLocal(ctx, cfg.AvatarPath, local)
}

func (m *Manager) OnMatchStarted() {
	cfg := m.settings.Get()
	if !cfg.Enabled || !cfg.ClearAvatarsBetweenMatches {
		return
	}

	m.log.Debug("Clearing avatars for new match", zap.Int("count", m.cache.Len()))
	m.ClearAll()
}

// HandleEvent dispatches a host event to the matching handler.
func (m *Manager) HandleEvent(ctx context.Context, event model.HostEvent) error {
	if errValidate := event.Validate(); errValidate != nil {
		return errValidate
	}

	cfg := m.settings.Get()
	if !cfg.Enabled {
		return nil
	}

	switch event.Type {
	case model.EvtPlayerName:
		m.OnPlayerNameKnown(ctx, event.Identity)
	case model.EvtPlayerAvatar:
		m.OnPlayerAvatarUpdated(ctx, event.Identity)
	case model.EvtMainMenu:
		m.OnMainMenu(ctx)
	case model.EvtMatchStart:
		m.OnMatchStarted()
	case model.EvtSetLocalAvatar:
		local, ok := m.localIdentity()
		if !ok {
			return ErrNoLocalIdentity
		}

		path := event.Path
		if path == "" {
			path = cfg.AvatarPath
		}

		if path == "" {
			return ErrNoAvatarPath
		}

		m.LoadLocal(ctx, path, local)
	case model.EvtRemoveLocal:
		m.RemoveLocal(ctx, event.Identity)
	case model.EvtRemoveRemote:
		m.RemoveRemote(ctx, event.Identity)
	}

	return nil
}
