package tr_test

import (
	"testing"

	"github.com/leighmacdonald/pfp/internal/avatar"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/store"
	"github.com/leighmacdonald/pfp/internal/tr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestStatusID(t *testing.T) {
	epic := model.Identity{Platform: model.Epic, StringID: "abc"}
	psn := model.Identity{Platform: model.PSN, NumericID: 9}

	cases := []struct {
		result avatar.LocalResult
		id     string
		ok     bool
	}{
		{avatar.LocalResult{Identity: epic, Source: store.SourceLocal, Applied: true, Uploaded: true}, tr.MsgLocalAvatarUpdated, true},
		{avatar.LocalResult{Identity: epic, Source: store.SourceLocal, Applied: true}, tr.MsgLocalAvatarUpdatedOffline, true},
		{avatar.LocalResult{Identity: epic, Source: store.SourceStartup, Applied: true}, tr.MsgLocalAvatarUpdated, true},
		{avatar.LocalResult{Identity: psn, Source: store.SourceLocal, Applied: true}, tr.MsgLocalAvatarUpdated, true},
		{avatar.LocalResult{Identity: psn, Err: errors.New("read failed")}, tr.MsgLocalAvatarFailed, true},
		{avatar.LocalResult{Identity: psn, Removed: true}, tr.MsgLocalAvatarRemoved, true},
		{avatar.LocalResult{Identity: psn, Err: avatar.ErrSuperseded}, "", false},
	}

	for _, tc := range cases {
		messageID, ok := tr.StatusID(tc.result)
		require.Equal(t, tc.ok, ok)
		require.Equal(t, tc.id, messageID)
	}
}

func TestTranslator(t *testing.T) {
	english, errEnglish := tr.NewTranslator("en-GB")
	require.NoError(t, errEnglish)

	messageID, msg, ok := english.Status(avatar.LocalResult{Err: errors.New("boom")})
	require.True(t, ok)
	require.Equal(t, tr.MsgLocalAvatarFailed, messageID)
	require.Equal(t, "Failed to load avatar: boom", msg)

	require.Equal(t, "Avatar removed", english.Message(tr.MsgLocalAvatarRemoved, nil))
	require.Equal(t, "unknown_id", english.Message("unknown_id", nil))

	russian, errRussian := tr.NewTranslator("ru")
	require.NoError(t, errRussian)
	require.Equal(t, "Аватар удалён", russian.Message(tr.MsgLocalAvatarRemoved, nil))

	fallback, errFallback := tr.NewTranslator("not a locale!")
	require.NoError(t, errFallback)
	require.Equal(t, "Avatar updated", fallback.Message(tr.MsgLocalAvatarUpdated, nil))
}
