package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/store"
	"github.com/leighmacdonald/pfp/pkg/util"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAvatarHistory(t *testing.T) {
	logger := zap.NewNop()

	database := store.New(":memory:", logger)
	if errInit := database.Init(); errInit != nil {
		t.Fatalf("failed to setup database: %v", errInit)
	}

	t.Cleanup(func() {
		_ = database.Close()
	})

	ctx := context.TODO()
	key := model.CacheKey("epic_0_history~2Dtest")
	img := model.Image{PNG: []byte("png bytes"), Width: 32, Height: 32, Channels: 4}

	t.Run("Missing Avatar", func(t *testing.T) {
		var record store.AvatarRecord
		require.ErrorIs(t, database.GetAvatar(ctx, key, &record), store.ErrNoResult)
	})

	t.Run("Save Avatar", func(t *testing.T) {
		require.NoError(t, database.SaveAvatar(ctx, store.NewAvatarRecord(key, model.Epic, store.SourceRemote, img)))

		var record store.AvatarRecord
		require.NoError(t, database.GetAvatar(ctx, key, &record))
		require.Equal(t, key, record.CacheKey)
		require.Equal(t, model.Epic, record.Platform)
		require.Equal(t, store.SourceRemote, record.Source)
		require.Equal(t, util.Checksum(img.PNG), record.SHA256)
		require.Equal(t, len(img.PNG), record.Size)
		require.WithinDuration(t, time.Now(), record.UpdatedOn, time.Minute)
	})

	t.Run("Overwrite Avatar", func(t *testing.T) {
		replacement := model.Image{PNG: []byte("other"), Width: 64, Height: 48, Channels: 3}
		require.NoError(t, database.SaveAvatar(ctx, store.NewAvatarRecord(key, model.Epic, store.SourceLocal, replacement)))

		var record store.AvatarRecord
		require.NoError(t, database.GetAvatar(ctx, key, &record))
		require.Equal(t, store.SourceLocal, record.Source)
		require.Equal(t, 64, record.Width)
	})

	t.Run("List Avatars", func(t *testing.T) {
		other := store.NewAvatarRecord("steam_76561197960287930", model.Steam, store.SourceRemote, img)
		require.NoError(t, database.SaveAvatar(ctx, other))

		records, errList := database.Avatars(ctx)
		require.NoError(t, errList)
		require.Len(t, records, 2)
	})

	t.Run("Delete Avatar", func(t *testing.T) {
		require.NoError(t, database.DeleteAvatar(ctx, key))

		var record store.AvatarRecord
		require.ErrorIs(t, database.GetAvatar(ctx, key, &record), store.ErrNoResult)
		require.NoError(t, database.DeleteAvatar(ctx, key))
	})

	t.Run("Empty Key", func(t *testing.T) {
		require.ErrorIs(t, database.SaveAvatar(ctx, &store.AvatarRecord{}), store.ErrEmptyKey)
	})

	t.Run("Init Twice", func(t *testing.T) {
		require.NoError(t, database.Init())
	})
}
