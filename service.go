package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/leighmacdonald/pfp/internal/avatar"
	"github.com/leighmacdonald/pfp/internal/cache"
	"github.com/leighmacdonald/pfp/internal/fetcher"
	"github.com/leighmacdonald/pfp/internal/host"
	"github.com/leighmacdonald/pfp/internal/logging"
	"github.com/leighmacdonald/pfp/internal/metrics"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/settings"
	"github.com/leighmacdonald/pfp/internal/store"
	"github.com/leighmacdonald/pfp/internal/tr"
	"github.com/leighmacdonald/pfp/internal/web"
	"github.com/leighmacdonald/pfp/pkg/util"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions, versionInfo model.Version) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the avatar service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userSettings, errSettings := loadSettings(opts)
			if errSettings != nil {
				return errSettings
			}

			return serve(cmd.Context(), userSettings, versionInfo)
		},
	}
}

func serve(parent context.Context, userSettings *settings.Settings, versionInfo model.Version) error {
	rootCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf := userSettings.Get()

	logger := logging.MustCreateLogger(conf, userSettings.LogFilePath())
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting pfp",
		zap.String("version", versionInfo.Version),
		zap.String("date", versionInfo.Date),
		zap.String("commit", versionInfo.Commit),
		zap.String("via", versionInfo.BuiltBy))

	scratchDir := settings.ExpandPath(conf.ScratchDir)
	if errMkdir := os.MkdirAll(scratchDir, 0o755); errMkdir != nil {
		return errors.Wrap(errMkdir, "Failed to create scratch dir")
	}

	scratch := osfs.New(scratchDir)

	var diskCache cache.Cache = cache.NopCache{}

	if conf.DiskCacheEnabled {
		cacheFS, errChroot := scratch.Chroot("cache")
		if errChroot != nil {
			return errors.Wrap(errChroot, "Failed to create cache dir")
		}

		diskCache = cache.New(cacheFS, conf.DiskCacheMaxAge)
	}

	databasePath := settings.ExpandPath(conf.DatabasePath)
	if errMkdir := os.MkdirAll(filepath.Dir(databasePath), 0o755); errMkdir != nil {
		return errors.Wrap(errMkdir, "Failed to create database dir")
	}

	database := store.New(databasePath, logger)
	if errInit := database.Init(); errInit != nil {
		return errInit
	}

	defer util.LogClose(logger, database)

	var (
		recorder avatar.Recorder = metrics.NewNoopRecorder()
		registry *prometheus.Registry
	)

	if conf.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.NewPrometheusRecorderWithRegistry(registry)
	}

	translator, errTr := tr.NewTranslator()
	if errTr != nil {
		return errTr
	}

	board := web.NewBoard(logger, userSettings, translator)
	loop := avatar.NewLoop(logger)
	client := fetcher.New(logger, userSettings, scratch, diskCache)
	manager := avatar.New(logger, userSettings, board, client, loop, scratch,
		avatar.WithRecorder(recorder),
		avatar.WithHistory(database),
		avatar.WithStatusHandler(board.OnStatus))

	eventsPath := settings.ExpandPath(conf.EventsPath)
	if errMkdir := os.MkdirAll(filepath.Dir(eventsPath), 0o755); errMkdir != nil {
		return errors.Wrap(errMkdir, "Failed to create events dir")
	}

	feed, errFeed := host.NewFeed(logger, eventsPath, manager, feedOptions(conf)...)
	if errFeed != nil {
		return errFeed
	}

	serviceGroup, serviceCtx := errgroup.WithContext(rootCtx)

	// The loop outlives serviceCtx so chains still in flight at shutdown can complete.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	serviceGroup.Go(func() error {
		return loop.Run(loopCtx)
	})

	serviceGroup.Go(func() error {
		return feed.Start(serviceCtx)
	})

	if userSettings.ConfigPath() != "" {
		serviceGroup.Go(func() error {
			if errWatch := userSettings.Watch(serviceCtx, logger); errWatch != nil {
				logger.Warn("Settings hot reload disabled", zap.Error(errWatch))
			}

			return nil
		})
	}

	if conf.HTTPEnabled {
		webOpts := []web.Option{web.WithHistory(database)}
		if registry != nil {
			webOpts = append(webOpts, web.WithMetrics(registry))
		}

		webServer := web.New(logger, conf, board, manager, webOpts...)

		serviceGroup.Go(func() error {
			return webServer.Start(serviceCtx)
		})

		serviceGroup.Go(func() error {
			<-serviceCtx.Done()

			return webServer.Stop(context.Background()) //nolint:contextcheck
		})
	}

	serviceGroup.Go(func() error {
		<-serviceCtx.Done()

		defer stopLoop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), model.DurationShutdownTimeout)
		defer cancel()

		if errClose := manager.Close(shutdownCtx); errClose != nil { //nolint:contextcheck
			logger.Error("Failed to gracefully shutdown", zap.Error(errClose))
		}

		client.Wait()

		return nil
	})

	if conf.Enabled {
		manager.LoadStartup(serviceCtx)
	}

	if errWait := serviceGroup.Wait(); errWait != nil {
		return errors.Wrap(errWait, "Service stopped with error")
	}

	logger.Info("Goodbye")

	return nil
}

func feedOptions(conf settings.Config) []host.Option {
	if conf.RunMode == settings.ModeDebug {
		return []host.Option{host.Echo()}
	}

	return nil
}
