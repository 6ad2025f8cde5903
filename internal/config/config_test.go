package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ah-its-andy/mediaconv/internal/format"
)

type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) SetupTest() {
	var err error
	s.origDir, err = os.Getwd()
	require.NoError(s.T(), err)

	s.tempDir = s.T().TempDir()
	require.NoError(s.T(), os.Chdir(s.tempDir))
}

func (s *ConfigTestSuite) TearDownTest() {
	if s.origDir != "" {
		_ = os.Chdir(s.origDir)
	}
}

func (s *ConfigTestSuite) load() *Config {
	v := New()
	v.Set("app_dir", filepath.Join(s.tempDir, "app"))
	cfg, err := Load(v, "")
	require.NoError(s.T(), err)
	return cfg
}

func (s *ConfigTestSuite) TestDefaults() {
	cfg := s.load()

	assert.Equal(s.T(), "mp4", cfg.Format)
	assert.Equal(s.T(), 0, cfg.Limit)
	assert.Equal(s.T(), 100, cfg.ProgressEvery)
	assert.False(s.T(), cfg.Check.Footer)
	assert.False(s.T(), cfg.Check.Probe)
	assert.Equal(s.T(), "Lavf", cfg.Check.FooterMarker)
	assert.Equal(s.T(), int64(64*1024), cfg.Check.FooterWindow)
	assert.Equal(s.T(), "mediaconv", cfg.Convert.Tag)
	assert.Equal(s.T(), time.Second, cfg.Watch.StabilityDelay)
	assert.Equal(s.T(), ":8000", cfg.HTTPAddr())
}

func (s *ConfigTestSuite) TestConfigFileAndEnv() {
	yaml := []byte("format: .MKV\nlimit: 3\ncheck:\n  probe: true\n  mark_bad_completed: true\nconvert:\n  stream_copy: true\n")
	require.NoError(s.T(), os.WriteFile(filepath.Join(s.tempDir, "mediaconv.yaml"), yaml, 0o644))
	s.T().Setenv("MEDIACONV_LIMIT", "7")
	s.T().Setenv("MEDIACONV_LOG_FORMAT", "json")

	cfg := s.load()
	assert.Equal(s.T(), "mkv", cfg.Format)
	assert.Equal(s.T(), 7, cfg.Limit, "env overrides file")
	assert.True(s.T(), cfg.Check.Probe)
	assert.True(s.T(), cfg.Check.MarkBadCompleted)
	assert.True(s.T(), cfg.Convert.StreamCopy)
	assert.Equal(s.T(), "json", cfg.Log.Format)
}

func (s *ConfigTestSuite) TestExplicitConfigFileMustExist() {
	_, err := Load(New(), filepath.Join(s.tempDir, "missing.yaml"))
	require.Error(s.T(), err)
	assert.True(s.T(), IsConfigError(err))
}

func (s *ConfigTestSuite) TestDerivedPaths() {
	cfg := s.load()
	app := filepath.Join(s.tempDir, "app")
	assert.Equal(s.T(), filepath.Join(app, "data"), cfg.DataDir())
	assert.Equal(s.T(), filepath.Join(app, "tmp"), cfg.ScratchDir())
	assert.Equal(s.T(), filepath.Join(app, "history.db"), cfg.HistoryPath())
	assert.NotEqual(s.T(), cfg.DataDir(), filepath.Dir(cfg.HistoryPath()))
}

func (s *ConfigTestSuite) TestUnsupportedFormatReportedFirst() {
	cfg := s.load()
	cfg.Format = "xyz"
	cfg.Root = filepath.Join(s.tempDir, "does-not-exist")

	err := cfg.Validate()
	var ce *Error
	require.True(s.T(), errors.As(err, &ce))
	assert.Equal(s.T(), CodeUnsupportedFormat, ce.Code)
	assert.ErrorIs(s.T(), err, format.ErrUnsupported)
}

func (s *ConfigTestSuite) TestInvalidRoot() {
	cfg := s.load()

	for name, root := range map[string]string{
		"empty":   "",
		"missing": filepath.Join(s.tempDir, "nope"),
		"file":    filepath.Join(s.tempDir, "file.txt"),
	} {
		s.Run(name, func() {
			if name == "file" {
				require.NoError(s.T(), os.WriteFile(root, []byte("x"), 0o644))
			}
			cfg.Root = root
			var ce *Error
			require.True(s.T(), errors.As(cfg.Validate(), &ce))
			assert.Equal(s.T(), CodeInvalidRoot, ce.Code)
		})
	}
}

func (s *ConfigTestSuite) TestInvalidValues() {
	cases := map[string]func(*Config){
		"limit":          func(c *Config) { c.Limit = -1 },
		"progress_every": func(c *Config) { c.ProgressEvery = 0 },
		"footer marker":  func(c *Config) { c.Check.Footer = true; c.Check.FooterMarker = "" },
		"log format":     func(c *Config) { c.Log.Format = "xml" },
		"port":           func(c *Config) { c.HTTP.Port = 70000 },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			cfg := s.load()
			cfg.Root = s.tempDir
			mutate(cfg)
			var ce *Error
			require.True(s.T(), errors.As(cfg.Validate(), &ce))
			assert.Equal(s.T(), CodeInvalidValue, ce.Code)
		})
	}
}

func (s *ConfigTestSuite) TestValidConfig() {
	cfg := s.load()
	cfg.Root = s.tempDir
	assert.NoError(s.T(), cfg.Validate())

	p, err := cfg.Profile()
	require.NoError(s.T(), err)
	assert.Equal(s.T(), format.CategoryVideo, p.Category)
}
