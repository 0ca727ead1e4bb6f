package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/driftpatch/driftpatch/internal/verify"
)

// FileName is the configuration file looked up in the working directory
const FileName = "driftpatch"

// EnvPrefix prefixes environment overrides, e.g. DRIFTPATCH_ARCHIVE_PATH
const EnvPrefix = "DRIFTPATCH"

// Config represents the driftpatch configuration
type Config struct {
	Archive  ArchiveConfig  `mapstructure:"archive"`
	WorkDir  string         `mapstructure:"workdir"`
	Catalog  string         `mapstructure:"catalog"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	Patch    PatchConfig    `mapstructure:"patch"`
	Resolve  ResolveConfig  `mapstructure:"resolve"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Install  InstallConfig  `mapstructure:"install"`
	History  HistoryConfig  `mapstructure:"history"`
	Codec    CodecConfig    `mapstructure:"codec"`
	Log      LogConfig      `mapstructure:"log"`
}

// ArchiveConfig locates the installed build
type ArchiveConfig struct {
	Path      string `mapstructure:"path"`
	SideStore string `mapstructure:"side_store"`
	Backup    string `mapstructure:"backup"`
}

// ManifestConfig locates the role manifest
type ManifestConfig struct {
	Path string `mapstructure:"path"`
}

// PatchConfig configures the applier
type PatchConfig struct {
	Strict bool `mapstructure:"strict"`
}

// ResolveConfig configures the resolver
type ResolveConfig struct {
	Workers   int `mapstructure:"workers"`
	CacheSize int `mapstructure:"cache_size"`
}

// VerifyConfig configures verification
type VerifyConfig struct {
	// Threshold overrides the catalog's pass_threshold when set
	Threshold string `mapstructure:"threshold"`
}

// InstallConfig configures the installer hand-off
type InstallConfig struct {
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HistoryConfig locates the session journal
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// CodecConfig selects the container codec. An empty command uses the
// built-in codec.
type CodecConfig struct {
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Unpack adds glob patterns of files to side-store on repack, on top of
	// the files the build already side-stores
	Unpack []string `mapstructure:"unpack"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the configuration from path, or from driftpatch.yml in the
// working directory when path is empty. A missing default file is not an
// error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("workdir", ".driftpatch")
	v.SetDefault("catalog", "catalog.yml")
	v.SetDefault("patch.strict", true)
	v.SetDefault("resolve.workers", 4)
	v.SetDefault("resolve.cache_size", 256)
	v.SetDefault("install.timeout", 5*time.Minute)
	v.SetDefault("codec.timeout", 2*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only sees keys viper already knows about
	for _, key := range []string{"archive.path", "archive.side_store", "archive.backup", "manifest.path", "verify.threshold", "install.command", "history.path", "codec.command"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.applyDerivedDefaults()

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyDerivedDefaults fills paths that default relative to other settings
func (c *Config) applyDerivedDefaults() {
	if c.Manifest.Path == "" {
		c.Manifest.Path = filepath.Join(c.WorkDir, "manifest.json")
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.WorkDir, "history.db")
	}
}

// Threshold returns the configured override, or nil when the catalog's
// threshold applies
func (c *Config) Threshold() (*verify.Threshold, error) {
	if c.Verify.Threshold == "" {
		return nil, nil
	}
	t, err := verify.ParseThreshold(c.Verify.Threshold)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RequireArchive reports an error unless an archive path is configured and
// exists
func (c *Config) RequireArchive() error {
	if c.Archive.Path == "" {
		return fmt.Errorf("archive.path is not set (use --archive or %s_ARCHIVE_PATH)", EnvPrefix)
	}
	if _, err := os.Stat(c.Archive.Path); err != nil {
		return fmt.Errorf("archive %s: %w", c.Archive.Path, err)
	}
	return nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.WorkDir == "" {
		return fmt.Errorf("workdir must not be empty")
	}
	if cfg.Resolve.Workers < 1 {
		return fmt.Errorf("resolve.workers must be at least 1, got: %d", cfg.Resolve.Workers)
	}
	if cfg.Resolve.CacheSize < 1 {
		return fmt.Errorf("resolve.cache_size must be at least 1, got: %d", cfg.Resolve.CacheSize)
	}
	if _, err := cfg.Threshold(); err != nil {
		return fmt.Errorf("verify.threshold: %w", err)
	}
	if cfg.Install.Timeout < 0 || cfg.Codec.Timeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got: %s", cfg.Log.Format)
	}
	return nil
}
