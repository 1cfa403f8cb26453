package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/leighmacdonald/pfp/internal/cache"
	"github.com/leighmacdonald/pfp/internal/fetcher"
	"github.com/leighmacdonald/pfp/internal/imaging"
	"github.com/leighmacdonald/pfp/internal/logging"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/internal/resolver"
	"github.com/leighmacdonald/pfp/internal/settings"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errNotFetchable = errors.New("avatar cannot be fetched")

type rootOptions struct {
	configPath string
}

func newRootCmd(versionInfo model.Version) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "pfp",
		Short: "Cross platform player avatar service",
		Long: `pfp resolves, fetches and normalizes player avatars for every platform in a
lobby and serves them to the game side bridge.

Run 'pfp serve' to start the service, or use the one shot subcommands to
normalize a local image or fetch a single avatar.`,
		Version:       fmt.Sprintf("%s (%s, %s, %s)", versionInfo.Version, versionInfo.Commit, versionInfo.Date, versionInfo.BuiltBy),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to the settings file (default is the user config dir)")

	rootCmd.AddCommand(newServeCmd(opts, versionInfo), newNormalizeCmd(), newFetchCmd(opts))

	return rootCmd
}

// loadSettings reads the settings file, writing the defaults when it does not exist yet.
func loadSettings(opts *rootOptions) (*settings.Settings, error) {
	userSettings := settings.NewSettings()

	if opts.configPath == "" {
		if errRead := userSettings.ReadDefaultOrCreate(); errRead != nil {
			return nil, errors.Wrap(errRead, "Failed to load settings")
		}

		return userSettings, nil
	}

	errRead := userSettings.ReadFilePath(opts.configPath)
	if errRead == nil {
		return userSettings, nil
	}

	if !errors.Is(errRead, settings.ErrConfigNotFound) {
		return nil, errors.Wrap(errRead, "Failed to load settings")
	}

	if errMkdir := os.MkdirAll(filepath.Dir(userSettings.ConfigPath()), 0o755); errMkdir != nil {
		return nil, errors.Wrap(errMkdir, "Failed to create settings dir")
	}

	if errSave := userSettings.Save(); errSave != nil {
		return nil, errors.Wrap(errSave, "Failed to write default settings")
	}

	return userSettings, nil
}

func newNormalizeCmd() *cobra.Command {
	var brightness bool

	cmd := &cobra.Command{
		Use:   "normalize IN OUT",
		Short: "Normalize a local image the same way fetched avatars are",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, errRead := os.ReadFile(settings.ExpandPath(args[0]))
			if errRead != nil {
				return errors.Wrap(errRead, "Failed to read input")
			}

			img, errNorm := imaging.Normalize(raw, brightness)
			if errNorm != nil {
				return errNorm
			}

			if errWrite := os.WriteFile(settings.ExpandPath(args[1]), img.PNG, 0o600); errWrite != nil {
				return errors.Wrap(errWrite, "Failed to write output")
			}

			cmd.Printf("%dx%d, %d channels, %d bytes\n", img.Width, img.Height, img.Channels, img.Size())

			return nil
		},
	}

	cmd.Flags().BoolVar(&brightness, "brightness", false, "Apply the gamma brightness adjustment")

	return cmd
}

type fetchOptions struct {
	platform string
	id       string
	name     string
	output   string
}

// identityFromFlags treats the id as numeric on every platform except Epic, which only has
// string account ids.
func identityFromFlags(opts fetchOptions) (model.Identity, error) {
	platform, errPlatform := model.ParsePlatform(opts.platform)
	if errPlatform != nil {
		return model.Identity{}, errPlatform
	}

	identity := model.Identity{Platform: platform, Name: opts.name}

	if opts.id == "" {
		return identity, nil
	}

	if platform == model.Epic {
		identity.StringID = opts.id

		return identity, nil
	}

	numericID, errParse := strconv.ParseUint(opts.id, 10, 64)
	if errParse != nil {
		return model.Identity{}, errors.Wrapf(errParse, "Invalid %s id", platform)
	}

	identity.NumericID = numericID

	return identity, nil
}

func newFetchCmd(root *rootOptions) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Resolve, fetch and normalize a single avatar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, errIdentity := identityFromFlags(opts)
			if errIdentity != nil {
				return errIdentity
			}

			userSettings, errSettings := loadSettings(root)
			if errSettings != nil {
				return errSettings
			}

			conf := userSettings.Get()
			logger := logging.MustCreateLogger(conf, "")

			defer func() { _ = logger.Sync() }()

			img, errFetch := fetchOne(cmd.Context(), logger, userSettings, identity)
			if errFetch != nil {
				return errFetch
			}

			if errWrite := os.WriteFile(settings.ExpandPath(opts.output), img.PNG, 0o600); errWrite != nil {
				return errors.Wrap(errWrite, "Failed to write output")
			}

			cmd.Printf("%s: %dx%d, %d channels\n", identity, img.Width, img.Height, img.Channels)

			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.platform, "platform", "p", "", "Player platform (steam, epic, xbox, psn, switch)")
	cmd.Flags().StringVar(&opts.id, "id", "", "Platform account id")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name, required for xbox")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "avatar.png", "Output png path")

	_ = cmd.MarkFlagRequired("platform")

	return cmd
}

// fetchOne resolves identity without regard to the configured local player, since a one shot
// lookup is never for the player running it.
func fetchOne(ctx context.Context, logger *zap.Logger, provider fetcher.SettingsProvider,
	identity model.Identity,
) (model.Image, error) {
	conf := provider.Get()

	policy := resolver.PolicyFromConfig(conf)
	policy.Local = model.Identity{}

	target := resolver.Resolve(identity, policy)

	var url string

	switch target.Kind {
	case resolver.KindDirectURL:
		url = target.URL
	case resolver.KindNameLookup:
		url = resolver.RetrieveURL(policy.BaseURL, identity.Platform, target.Name, target.DefaultEnabled)
	default:
		return model.Image{}, errors.Wrap(errNotFetchable, target.Reason.String())
	}

	client := fetcher.New(logger, provider, memfs.New(), cache.NopCache{})

	body, errGet := client.Get(ctx, url)
	if errGet != nil {
		return model.Image{}, errGet
	}

	return imaging.Normalize(body, conf.BrightnessAdjustmentEnabled)
}
