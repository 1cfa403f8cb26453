// Package resolver maps a player identity onto the avatar backend request that would fetch it,
// applying the per platform policy.
package resolver

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/settings"
	"github.com/leighmacdonald/steamid/v2/steamid"
)

type Kind int

const (
	KindUnsupported Kind = iota
	KindDirectURL
	KindNameLookup
)

func (k Kind) String() string {
	switch k {
	case KindDirectURL:
		return "direct_url"
	case KindNameLookup:
		return "name_lookup"
	default:
		return "unsupported"
	}
}

type Reason int

const (
	ReasonNone Reason = iota
	ReasonPolicyDenied
	ReasonUnsupported
)

func (r Reason) String() string {
	switch r {
	case ReasonPolicyDenied:
		return "policy_denied"
	case ReasonUnsupported:
		return "unsupported"
	default:
		return "none"
	}
}

// Policy is the snapshot of user preferences a single resolution is made against.
type Policy struct {
	BaseURL        string
	Platforms      settings.PlatformToggles
	DefaultEnabled bool
	Brightness     bool
	// NativePlatform is the platform whose avatars the host already renders for players that
	// are themselves on it.
	NativePlatform model.Platform
	Local          model.Identity
}

func PolicyFromConfig(cfg settings.Config) Policy {
	return Policy{
		BaseURL:        cfg.APIBaseURL,
		Platforms:      cfg.Platforms,
		DefaultEnabled: cfg.LoadDefaultAvatars,
		Brightness:     cfg.BrightnessAdjustmentEnabled,
		NativePlatform: model.Steam,
		Local:          cfg.LocalIdentity,
	}
}

// Allowed reports whether the policy permits fetching avatars for players on platform.
func (p Policy) Allowed(platform model.Platform) bool {
	if !p.Platforms.Enabled(platform) {
		return false
	}

	if platform == p.NativePlatform && p.Local.Platform == p.NativePlatform {
		return false
	}

	return true
}

type Target struct {
	Kind           Kind
	Reason         Reason
	URL            string
	Name           string
	DefaultEnabled bool
}

func unsupported() Target {
	return Target{Kind: KindUnsupported, Reason: ReasonUnsupported}
}

func denied() Target {
	return Target{Kind: KindUnsupported, Reason: ReasonPolicyDenied}
}

// Resolve computes how the avatar of id would be acquired under policy. It never fails;
// identities that cannot be fetched come back as KindUnsupported with a Reason.
func Resolve(id model.Identity, policy Policy) Target {
	if id.Platform == model.Unknown {
		return unsupported()
	}

	if !policy.Allowed(id.Platform) {
		return denied()
	}

	switch id.Platform {
	case model.Steam:
		if !validSteamID(id.NumericID) {
			return unsupported()
		}

		return direct(policy, id.Platform, strconv.FormatUint(id.NumericID, 10))
	case model.PSN, model.Switch:
		if id.NumericID == 0 {
			return unsupported()
		}

		return direct(policy, id.Platform, strconv.FormatUint(id.NumericID, 10))
	case model.Epic:
		if id.StringID == "" {
			return unsupported()
		}

		return direct(policy, id.Platform, id.StringID)
	case model.Xbox:
		name := strings.TrimSpace(id.Name)
		if name == "" {
			return unsupported()
		}

		return Target{
			Kind:           KindNameLookup,
			Name:           name,
			DefaultEnabled: policy.DefaultEnabled,
		}
	default:
		return unsupported()
	}
}

func direct(policy Policy, platform model.Platform, remoteID string) Target {
	return Target{
		Kind:           KindDirectURL,
		URL:            RetrieveURL(policy.BaseURL, platform, remoteID, policy.DefaultEnabled),
		DefaultEnabled: policy.DefaultEnabled,
	}
}

// individualBase is the lowest 64bit id of an individual account in the public universe.
const individualBase = 76561197960265728

func validSteamID(value uint64) bool {
	if value <= individualBase {
		return false
	}

	sid, errSid := steamid.StringToSID64(strconv.FormatUint(value, 10))
	if errSid != nil {
		return false
	}

	return sid.Valid()
}

// RetrieveURL builds {base}/{platform}/retrieve/{id}?default_enabled={bool}.
func RetrieveURL(base string, platform model.Platform, remoteID string, defaultEnabled bool) string {
	return fmt.Sprintf("%s/%s/retrieve/%s?default_enabled=%t",
		strings.TrimSuffix(base, "/"), platform.Segment(), url.PathEscape(remoteID), defaultEnabled)
}

// UploadURL builds the endpoint accepting a user chosen avatar for an Epic account.
func UploadURL(base string, accountID string) string {
	return fmt.Sprintf("%s/%s/upload/%s", strings.TrimSuffix(base, "/"), model.Epic.Segment(), url.PathEscape(accountID))
}

// SelfURL is used at startup to look up the local player's own uploaded avatar. Placeholders
// are never requested so that an account without an upload reads as a miss.
func SelfURL(base string, local model.Identity) (string, bool) {
	if local.Platform != model.Epic || local.StringID == "" {
		return "", false
	}

	return RetrieveURL(base, model.Epic, local.StringID, false), true
}
