package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ah-its-andy/mediaconv/internal/format"
)

// EnvPrefix is prepended to every environment override, e.g.
// MEDIACONV_CHECK_PROBE=true.
const EnvPrefix = "MEDIACONV"

type Check struct {
	Footer           bool   `mapstructure:"footer"`
	FooterMarker     string `mapstructure:"footer_marker"`
	FooterWindow     int64  `mapstructure:"footer_window"`
	Probe            bool   `mapstructure:"probe"`
	MarkBadCompleted bool   `mapstructure:"mark_bad_completed"`
}

type Convert struct {
	IgnoreErrors bool     `mapstructure:"ignore_errors"`
	StreamCopy   bool     `mapstructure:"stream_copy"`
	Tag          string   `mapstructure:"tag"`
	ExtraArgs    []string `mapstructure:"extra_args"`
}

type Engine struct {
	FFmpeg  string `mapstructure:"ffmpeg"`
	FFprobe string `mapstructure:"ffprobe"`
	WorkDir string `mapstructure:"workdir"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Watch struct {
	StabilityDelay time.Duration `mapstructure:"stability_delay"`
}

type HTTP struct {
	Port int `mapstructure:"port"`
}

type Config struct {
	Root          string  `mapstructure:"root"`
	Format        string  `mapstructure:"format"`
	Limit         int     `mapstructure:"limit"`
	Prescan       bool    `mapstructure:"prescan"`
	ProgressEvery int     `mapstructure:"progress_every"`
	AppDir        string  `mapstructure:"app_dir"`
	Check         Check   `mapstructure:"check"`
	Convert       Convert `mapstructure:"convert"`
	Engine        Engine  `mapstructure:"engine"`
	Log           Log     `mapstructure:"log"`
	Watch         Watch   `mapstructure:"watch"`
	HTTP          HTTP    `mapstructure:"http"`
}

// New returns a viper instance with defaults and environment binding set up.
// Callers bind their flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("root", "")
	v.SetDefault("format", "mp4")
	v.SetDefault("limit", 0)
	v.SetDefault("prescan", false)
	v.SetDefault("progress_every", 100)
	v.SetDefault("app_dir", defaultAppDir())
	v.SetDefault("check.footer", false)
	v.SetDefault("check.footer_marker", "Lavf")
	v.SetDefault("check.footer_window", 64*1024)
	v.SetDefault("check.probe", false)
	v.SetDefault("check.mark_bad_completed", false)
	v.SetDefault("convert.ignore_errors", true)
	v.SetDefault("convert.stream_copy", false)
	v.SetDefault("convert.tag", "mediaconv")
	v.SetDefault("convert.extra_args", []string{})
	v.SetDefault("engine.ffmpeg", "ffmpeg")
	v.SetDefault("engine.ffprobe", "ffprobe")
	v.SetDefault("engine.workdir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("watch.stability_delay", time.Second)
	v.SetDefault("http.port", 8000)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and decodes everything into a Config.
// An explicit configFile must exist; otherwise mediaconv.yaml is looked up in
// the working directory and the app dir, and its absence is fine.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("mediaconv")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("app_dir"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, &Error{Code: CodeInvalidValue, Field: "config", Err: err}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &Error{Code: CodeInvalidValue, Field: "config", Err: err}
	}
	cfg.Format = format.NormalizeExt(cfg.Format)
	if cfg.Root != "" {
		if abs, err := filepath.Abs(cfg.Root); err == nil {
			cfg.Root = abs
		}
	}
	if cfg.AppDir != "" {
		if abs, err := filepath.Abs(cfg.AppDir); err == nil {
			cfg.AppDir = abs
		}
	}
	return cfg, nil
}

// Profile resolves the configured output format.
func (c *Config) Profile() (format.Profile, error) {
	p, err := format.Resolve(c.Format)
	if err != nil {
		return format.Profile{}, &Error{Code: CodeUnsupportedFormat, Field: "format", Err: err}
	}
	return p, nil
}

// Validate checks the output format first, before touching the filesystem,
// then the input root and the numeric settings.
func (c *Config) Validate() error {
	if _, err := c.Profile(); err != nil {
		return err
	}
	if err := c.ValidateRoot(); err != nil {
		return err
	}
	return c.validateValues()
}

// ValidateRoot checks that Root names an existing directory.
func (c *Config) ValidateRoot() error {
	if strings.TrimSpace(c.Root) == "" {
		return &Error{Code: CodeInvalidRoot, Field: "root", Err: errors.New("input directory is required")}
	}
	fi, err := os.Stat(c.Root)
	if err != nil {
		return &Error{Code: CodeInvalidRoot, Field: "root", Err: err}
	}
	if !fi.IsDir() {
		return &Error{Code: CodeInvalidRoot, Field: "root", Err: fmt.Errorf("%s is not a directory", c.Root)}
	}
	return nil
}

func (c *Config) validateValues() error {
	switch {
	case c.Limit < 0:
		return invalid("limit", "must be >= 0, got %d", c.Limit)
	case c.ProgressEvery <= 0:
		return invalid("progress_every", "must be > 0, got %d", c.ProgressEvery)
	case c.Check.FooterWindow < 0:
		return invalid("check.footer_window", "must be >= 0, got %d", c.Check.FooterWindow)
	case c.Check.Footer && c.Check.FooterMarker == "":
		return invalid("check.footer_marker", "required when check.footer is on")
	case strings.TrimSpace(c.AppDir) == "":
		return invalid("app_dir", "must not be empty")
	case c.HTTP.Port < 0 || c.HTTP.Port > 65535:
		return invalid("http.port", "out of range: %d", c.HTTP.Port)
	case c.Watch.StabilityDelay < 0:
		return invalid("watch.stability_delay", "must be >= 0")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return invalid("log.format", "must be console or json, got %q", c.Log.Format)
	}
	return nil
}

func invalid(field, msg string, args ...any) error {
	return &Error{Code: CodeInvalidValue, Field: field, Err: fmt.Errorf(msg, args...)}
}

// DataDir holds the fingerprint log. Reset deletes it.
func (c *Config) DataDir() string { return filepath.Join(c.AppDir, "data") }

// ScratchDir holds in-progress conversion outputs. Purged before each run.
func (c *Config) ScratchDir() string { return filepath.Join(c.AppDir, "tmp") }

// HistoryPath is the run history database, outside the reset area.
func (c *Config) HistoryPath() string { return filepath.Join(c.AppDir, "history.db") }

func (c *Config) HTTPAddr() string { return fmt.Sprintf(":%d", c.HTTP.Port) }

func defaultAppDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mediaconv")
	}
	return ".mediaconv"
}
