package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leighmacdonald/pfp/internal/avatar"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/store"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type handlers struct {
	log      *zap.Logger
	board    *Board
	avatars  Avatars
	history  HistoryReader
	gatherer prometheus.Gatherer
}

func bind(ctx *gin.Context, log *zap.Logger, receiver any) bool {
	if errBind := ctx.ShouldBindJSON(receiver); errBind != nil {
		responseErr(ctx, http.StatusBadRequest, gin.H{
			"error": "Invalid request parameters",
		})

		log.Error("Received malformed request", zap.Error(errBind))

		return false
	}

	return true
}

func responseErr(ctx *gin.Context, status int, data any) {
	ctx.JSON(status, data)
}

func responseOK(ctx *gin.Context, status int, data any) {
	if data == nil {
		data = []string{}
	}

	ctx.JSON(status, data)
}

type avatarView struct {
	Key       model.CacheKey `json:"key"`
	Identity  model.Identity `json:"identity"`
	Source    store.Source   `json:"source"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Channels  int            `json:"channels"`
	Size      int            `json:"size"`
	UpdatedOn time.Time      `json:"updated_on"`
}

func newAvatarView(entry *avatar.Entry) avatarView {
	return avatarView{
		Key:       entry.Key,
		Identity:  entry.Identity,
		Source:    entry.Source,
		Width:     entry.Image.Width,
		Height:    entry.Image.Height,
		Channels:  entry.Image.Channels,
		Size:      entry.Image.Size(),
		UpdatedOn: entry.UpdatedOn,
	}
}

func (h *handlers) getAvatars() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		entries := h.board.Entries()
		views := make([]avatarView, len(entries))

		for i, entry := range entries {
			views[i] = newAvatarView(entry)
		}

		responseOK(ctx, http.StatusOK, views)
	}
}

func (h *handlers) getAvatar() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		entry, found := h.board.Entry(model.CacheKey(ctx.Param("key")))
		if !found || entry.Image.Empty() {
			responseErr(ctx, http.StatusNotFound, gin.H{"error": "Unknown avatar"})

			return
		}

		ctx.Header("Cache-Control", "no-cache")
		ctx.Data(http.StatusOK, "image/png", entry.Image.PNG)
	}
}

func (h *handlers) getCache() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		responseOK(ctx, http.StatusOK, h.avatars.Keys())
	}
}

func (h *handlers) deleteCache() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		h.avatars.ClearAll()
		h.board.Clear()

		responseOK(ctx, http.StatusOK, gin.H{})
	}
}

func (h *handlers) postEvent() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var event model.HostEvent
		if !bind(ctx, h.log, &event) {
			return
		}

		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}

		// Chains outlive the request.
		eventCtx := context.WithoutCancel(ctx.Request.Context())

		if errHandle := h.avatars.HandleEvent(eventCtx, event); errHandle != nil {
			status := http.StatusConflict
			if errors.Is(errHandle, model.ErrEventType) || errors.Is(errHandle, model.ErrEventIdentity) {
				status = http.StatusBadRequest
			}

			responseErr(ctx, status, gin.H{"error": errHandle.Error()})

			return
		}

		responseOK(ctx, http.StatusAccepted, gin.H{})
	}
}

func (h *handlers) getStatus() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status, found := h.board.Status()
		if !found {
			responseErr(ctx, http.StatusNotFound, gin.H{"error": "No status yet"})

			return
		}

		responseOK(ctx, http.StatusOK, status)
	}
}

func (h *handlers) getHistory() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if h.history == nil {
			responseOK(ctx, http.StatusOK, []store.AvatarRecord{})

			return
		}

		records, errRecords := h.history.Avatars(ctx)
		if errRecords != nil {
			responseErr(ctx, http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
			h.log.Error("Failed to load avatar history", zap.Error(errRecords))

			return
		}

		if records == nil {
			records = []store.AvatarRecord{}
		}

		responseOK(ctx, http.StatusOK, records)
	}
}
