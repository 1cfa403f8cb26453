package settings

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	clone "github.com/huandu/go-clone/generic"
	"github.com/kirsle/configdir"
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/leighmacdonald/pfp/pkg/util"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	configRoot            = "pfp"
	defaultConfigFileName = "pfp.yaml"
)

var (
	ErrConfigNotFound = errors.New("config path does not exist")
	ErrInvalidConfig  = errors.New("invalid config")
)

type RunModes string

const (
	ModeProd  RunModes = "release"
	ModeDebug RunModes = "debug"
	ModeTest  RunModes = "test"
)

type PlatformToggles struct {
	Steam  bool `yaml:"steam" json:"steam"`
	Epic   bool `yaml:"epic" json:"epic"`
	Xbox   bool `yaml:"xbox" json:"xbox"`
	PSN    bool `yaml:"psn" json:"psn"`
	Switch bool `yaml:"switch" json:"switch"`
}

func (t PlatformToggles) Enabled(platform model.Platform) bool {
	switch platform {
	case model.Steam:
		return t.Steam
	case model.Epic:
		return t.Epic
	case model.Xbox:
		return t.Xbox
	case model.PSN:
		return t.PSN
	case model.Switch:
		return t.Switch
	default:
		return false
	}
}

type Config struct {
	Enabled                     bool            `yaml:"enabled" json:"enabled"`
	RunMode                     RunModes        `yaml:"run_mode" json:"run_mode"`
	LogLevel                    string          `yaml:"log_level" json:"log_level"`
	DebugLogEnabled             bool            `yaml:"debug_log_enabled" json:"debug_log_enabled"`
	APIBaseURL                  string          `yaml:"api_base_url" json:"api_base_url"`
	AvatarPath                  string          `yaml:"avatar_path" json:"avatar_path"`
	Platforms                   PlatformToggles `yaml:"platforms" json:"platforms"`
	BrightnessAdjustmentEnabled bool            `yaml:"brightness_adjustment_enabled" json:"brightness_adjustment_enabled"`
	LoadDefaultAvatars          bool            `yaml:"load_default_avatars" json:"load_default_avatars"`
	ClearAvatarsBetweenMatches  bool            `yaml:"clear_avatars_between_matches" json:"clear_avatars_between_matches"`
	LocalIdentity               model.Identity  `yaml:"local_identity" json:"local_identity"`
	ScratchDir                  string          `yaml:"scratch_dir" json:"scratch_dir"`
	EventsPath                  string          `yaml:"events_path" json:"events_path"`
	HTTPEnabled                 bool            `yaml:"http_enabled" json:"http_enabled"`
	HTTPListenAddr              string          `yaml:"http_listen_addr" json:"http_listen_addr"`
	RequestTimeout              time.Duration   `yaml:"request_timeout" json:"request_timeout"`
	MaxConcurrentFetches        int             `yaml:"max_concurrent_fetches" json:"max_concurrent_fetches"`
	DiskCacheEnabled            bool            `yaml:"disk_cache_enabled" json:"disk_cache_enabled"`
	DiskCacheMaxAge             time.Duration   `yaml:"disk_cache_max_age" json:"disk_cache_max_age"`
	MetricsEnabled              bool            `yaml:"metrics_enabled" json:"metrics_enabled"`
	DatabasePath                string          `yaml:"database_path" json:"database_path"`
}

// HasAvatarPath reports whether a local avatar file has been chosen.
func (c Config) HasAvatarPath() bool {
	return strings.TrimSpace(c.AvatarPath) != ""
}

func (c Config) Validate() error {
	switch c.RunMode {
	case ModeProd, ModeDebug, ModeTest:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown run_mode %q", c.RunMode)
	}

	if c.APIBaseURL == "" {
		return errors.Wrap(ErrInvalidConfig, "api_base_url cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return errors.Wrap(ErrInvalidConfig, "request_timeout must be positive")
	}

	if c.MaxConcurrentFetches <= 0 {
		return errors.Wrap(ErrInvalidConfig, "max_concurrent_fetches must be positive")
	}

	if c.DiskCacheEnabled && c.DiskCacheMaxAge <= 0 {
		return errors.Wrap(ErrInvalidConfig, "disk_cache_max_age must be positive")
	}

	return nil
}

func Default() Config {
	return Config{
		Enabled:         true,
		RunMode:         ModeProd,
		LogLevel:        "info",
		DebugLogEnabled: false,
		APIBaseURL:      model.DefaultAPIBaseURL,
		AvatarPath:      "",
		Platforms: PlatformToggles{
			Steam:  true,
			Epic:   true,
			Xbox:   true,
			PSN:    true,
			Switch: true,
		},
		BrightnessAdjustmentEnabled: true,
		LoadDefaultAvatars:          true,
		ClearAvatarsBetweenMatches:  false,
		ScratchDir:                  filepath.Join(os.TempDir(), configRoot),
		EventsPath:                  filepath.Join(configdir.LocalConfig(configRoot), "events.jsonl"),
		HTTPEnabled:                 true,
		HTTPListenAddr:              "localhost:8901",
		RequestTimeout:              model.DurationWebRequestTimeout,
		MaxConcurrentFetches:        8,
		DiskCacheEnabled:            true,
		DiskCacheMaxAge:             model.DurationCacheTimeout,
		MetricsEnabled:              true,
		DatabasePath:                filepath.Join(configdir.LocalConfig(configRoot), "pfp.sqlite"),
	}
}

// Settings guards the active Config. Consumers take a snapshot with Get once per
// operation rather than holding on to the struct.
type Settings struct {
	*sync.RWMutex
	configPath string
	config     Config
}

func NewSettings() *Settings {
	return &Settings{
		RWMutex: &sync.RWMutex{},
		config:  Default(),
	}
}

// Get returns a deep copy of the current configuration.
func (s *Settings) Get() Config {
	s.RLock()
	defer s.RUnlock()

	return clone.Clone[Config](s.config)
}

// Update applies fn to a copy of the configuration and swaps it in when it validates. The
// result is persisted when the settings were loaded from a file.
func (s *Settings) Update(fn func(cfg *Config)) error {
	s.Lock()
	updated := clone.Clone[Config](s.config)
	fn(&updated)

	if errValidate := updated.Validate(); errValidate != nil {
		s.Unlock()

		return errValidate
	}

	s.config = updated
	configPath := s.configPath
	s.Unlock()

	if configPath == "" {
		return nil
	}

	return s.Save()
}

func (s *Settings) ConfigPath() string {
	s.RLock()
	defer s.RUnlock()

	return s.configPath
}

func (s *Settings) ConfigRoot() string {
	configPath := configdir.LocalConfig(configRoot)
	if err := configdir.MakePath(configPath); err != nil {
		return ""
	}

	return configPath
}

func (s *Settings) LogFilePath() string {
	return filepath.Join(s.ConfigRoot(), "pfp.log")
}

// ExpandPath resolves a leading ~ to the user home directory.
func ExpandPath(path string) string {
	expanded, errExpand := homedir.Expand(path)
	if errExpand != nil {
		return path
	}

	return expanded
}

func (s *Settings) ReadDefaultOrCreate() error {
	configPath := configdir.LocalConfig(configRoot)
	if err := configdir.MakePath(configPath); err != nil {
		return errors.Wrap(err, "Failed to create config root")
	}

	errRead := s.ReadFilePath(filepath.Join(configPath, defaultConfigFileName))
	if errRead != nil && errors.Is(errRead, ErrConfigNotFound) {
		return s.Save()
	}

	return errRead
}

func (s *Settings) ReadFilePath(filePath string) error {
	filePath = ExpandPath(filePath)
	if !util.Exists(filePath) {
		// Use defaults
		s.Lock()
		s.configPath = filePath
		s.Unlock()

		return ErrConfigNotFound
	}

	settingsFile, errOpen := os.Open(filePath)
	if errOpen != nil {
		return errors.Wrap(errOpen, "Failed to open settings file")
	}

	defer util.IgnoreClose(settingsFile)

	if errRead := s.Read(settingsFile); errRead != nil {
		return errRead
	}

	s.Lock()
	s.configPath = filePath
	s.Unlock()

	return nil
}

// Read decodes yaml on top of the defaults so that missing keys keep their default values.
func (s *Settings) Read(inputFile io.Reader) error {
	loaded := Default()
	if errDecode := yaml.NewDecoder(inputFile).Decode(&loaded); errDecode != nil && !errors.Is(errDecode, io.EOF) {
		return errors.Wrap(errDecode, "Failed to decode settings")
	}

	if errValidate := loaded.Validate(); errValidate != nil {
		return errValidate
	}

	s.Lock()
	s.config = loaded
	s.Unlock()

	return nil
}

func (s *Settings) Save() error {
	return s.WriteFilePath(s.ConfigPath())
}

func (s *Settings) WriteFilePath(filePath string) error {
	if filePath == "" {
		return errors.Wrap(ErrConfigNotFound, "No settings path set")
	}

	settingsFile, errOpen := os.Create(filePath)
	if errOpen != nil {
		return errors.Wrap(errOpen, "Failed to open settings file for writing")
	}

	defer util.IgnoreClose(settingsFile)

	return s.Write(settingsFile)
}

func (s *Settings) Write(outputFile io.Writer) error {
	cfg := s.Get()

	encoder := yaml.NewEncoder(outputFile)
	encoder.SetIndent(2)

	if errEncode := encoder.Encode(&cfg); errEncode != nil {
		return errors.Wrap(errEncode, "Failed to encode settings")
	}

	return errors.Wrap(encoder.Close(), "Failed to flush settings")
}
