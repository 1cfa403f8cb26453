// Package web serves the applied avatars and a small control api over http.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/settings"
	"github.com/leighmacdonald/pfp/internal/store"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	errHTTPListen   = errors.New("HTTP listener returned error")
	errHTTPShutdown = errors.New("HTTP server returned shutdown error")
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Avatars is the part of the avatar manager exposed over http.
type Avatars interface {
	Keys() []model.CacheKey
	ClearAll()
	HandleEvent(ctx context.Context, event model.HostEvent) error
}

type HistoryReader interface {
	Avatars(ctx context.Context) ([]store.AvatarRecord, error)
}

type Web struct {
	*http.Server
	log *zap.Logger
}

type Option func(h *handlers)

func WithHistory(history HistoryReader) Option {
	return func(h *handlers) {
		h.history = history
	}
}

// WithMetrics exposes gatherer at /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(h *handlers) {
		h.gatherer = gatherer
	}
}

func New(logger *zap.Logger, conf settings.Config, board *Board, avatars Avatars, opts ...Option) *Web {
	log := logger.Named("web")
	hdl := &handlers{
		log:     log,
		board:   board,
		avatars: avatars,
	}

	for _, opt := range opts {
		opt(hdl)
	}

	engine := createRouter(log, conf.RunMode == settings.ModeTest)
	setupRoutes(engine, hdl)

	return &Web{
		Server: &http.Server{
			Addr:         conf.HTTPListenAddr,
			Handler:      engine,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func createRouter(logger *zap.Logger, testMode bool) *gin.Engine {
	engine := gin.New()
	if !testMode {
		engine.Use(ginzap.GinzapWithConfig(logger, &ginzap.Config{
			TimeFormat: time.RFC3339,
			UTC:        true,
			SkipPaths:  []string{"/metrics"},
		}))
	}

	engine.Use(ginzap.RecoveryWithZap(logger, true))

	_ = engine.SetTrustedProxies(nil)

	return engine
}

func setupRoutes(engine *gin.Engine, hdl *handlers) {
	engine.GET("/avatars", hdl.getAvatars())
	engine.GET("/avatars/:key", hdl.getAvatar())
	engine.GET("/cache", hdl.getCache())
	engine.DELETE("/cache", hdl.deleteCache())
	engine.POST("/events", hdl.postEvent())
	engine.GET("/status", hdl.getStatus())
	engine.GET("/history", hdl.getHistory())

	if hdl.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(hdl.gatherer, promhttp.HandlerOpts{})))
	}
}

// Start serves until the server is shut down with Stop.
func (w *Web) Start(ctx context.Context) error {
	w.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}

	w.log.Info("Service status changed", zap.String("state", "ready"), zap.String("addr", w.Addr))
	defer w.log.Info("Service status changed", zap.String("state", "stopped"))

	if errServe := w.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return errors.Wrap(errHTTPListen, errServe.Error())
	}

	return nil
}

func (w *Web) Stop(ctx context.Context) error {
	if w.Server == nil {
		return nil
	}

	timeout, cancel := context.WithTimeout(ctx, model.DurationShutdownTimeout)
	defer cancel()

	if errShutdown := w.Shutdown(timeout); errShutdown != nil {
		return errors.Wrap(errHTTPShutdown, errShutdown.Error())
	}

	return nil
}
