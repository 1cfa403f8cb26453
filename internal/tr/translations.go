// Package tr provides the localized messages shown for local avatar changes.
package tr

import (
	"embed"

	"github.com/jeandeaual/go-locale"
	"github.com/leighmacdonald/pfp/internal/avatar"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/store"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pkg/errors"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed *.yaml
var localeFS embed.FS

const defaultLocale = "en-GB"

const (
	MsgLocalAvatarUpdated        = "local_avatar_updated"
	MsgLocalAvatarUpdatedOffline = "local_avatar_updated_offline"
	MsgLocalAvatarFailed         = "local_avatar_failed"
	MsgLocalAvatarRemoved        = "local_avatar_removed"
)

var defaultMessages = map[string]*i18n.Message{ //nolint:gochecknoglobals
	MsgLocalAvatarUpdated:        {ID: MsgLocalAvatarUpdated, Other: "Avatar updated"},
	MsgLocalAvatarUpdatedOffline: {ID: MsgLocalAvatarUpdatedOffline, Other: "Avatar updated locally, upload failed"},
	MsgLocalAvatarFailed:         {ID: MsgLocalAvatarFailed, Other: "Failed to load avatar: {{.Error}}"},
	MsgLocalAvatarRemoved:        {ID: MsgLocalAvatarRemoved, Other: "Avatar removed"},
}

type Translator struct {
	bundle *i18n.Bundle
	*i18n.Localizer
}

// NewTranslator loads the bundled message files. With no languages given the user's system
// locales are used.
func NewTranslator(languages ...string) (*Translator, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	for _, langFile := range []string{"active.en.yaml", "active.ru.yaml"} {
		_, errLoad := bundle.LoadMessageFileFS(localeFS, langFile)
		if errLoad != nil {
			return nil, errors.Wrap(errLoad, "Failed to load message bundle")
		}
	}

	if len(languages) == 0 {
		userLocales, errLocales := locale.GetLocales()
		if errLocales != nil || len(userLocales) == 0 {
			userLocales = []string{defaultLocale}
		}

		languages = userLocales
	}

	validLanguages := make([]string, len(languages))

	for index, userLocale := range languages {
		langTag, langTagErr := language.Parse(userLocale)
		if langTagErr != nil {
			// Fallback to our default
			if langTag, langTagErr = language.Parse(defaultLocale); langTagErr != nil {
				return nil, errors.Wrapf(langTagErr, "Failed to parse language tag: %s", userLocale)
			}
		}

		validLanguages[index] = langTag.String()
	}

	return &Translator{
		bundle:    bundle,
		Localizer: i18n.NewLocalizer(bundle, validLanguages...),
	}, nil
}

// Message localizes one of the Msg* ids. Unknown ids come back unchanged.
func (t *Translator) Message(messageID string, data map[string]any) string {
	defaultMessage, found := defaultMessages[messageID]
	if !found {
		return messageID
	}

	msg, errLocalize := t.Localize(&i18n.LocalizeConfig{
		DefaultMessage: defaultMessage,
		TemplateData:   data,
	})
	if errLocalize != nil {
		return defaultMessage.Other
	}

	return msg
}

// StatusID maps the outcome of a local avatar change onto its message id. ok is false for
// results that should not replace the current status, such as superseded requests.
func StatusID(result avatar.LocalResult) (string, bool) {
	switch {
	case result.Removed:
		return MsgLocalAvatarRemoved, true
	case errors.Is(result.Err, avatar.ErrSuperseded):
		return "", false
	case result.Err != nil:
		return MsgLocalAvatarFailed, true
	case result.Applied && result.Identity.Platform == model.Epic && !result.Uploaded &&
		result.Source == store.SourceLocal:
		return MsgLocalAvatarUpdatedOffline, true
	case result.Applied:
		return MsgLocalAvatarUpdated, true
	default:
		return "", false
	}
}

// Status localizes a local avatar result.
func (t *Translator) Status(result avatar.LocalResult) (string, string, bool) {
	messageID, ok := StatusID(result)
	if !ok {
		return "", "", false
	}

	data := map[string]any{}
	if result.Err != nil {
		data["Error"] = result.Err.Error()
	}

	return messageID, t.Message(messageID, data), true
}
