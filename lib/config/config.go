// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/muster-project/muster/lib/ref"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the muster lobby service and
// its CLI tooling.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Homeserver configures the Matrix connection.
	Homeserver HomeserverConfig `yaml:"homeserver"`

	// Paths configures file and directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Registry configures game session tracking.
	Registry RegistryConfig `yaml:"registry"`

	// Rating configures the rating engine.
	Rating RatingConfig `yaml:"rating"`

	// Moderation configures the sanction engine.
	Moderation ModerationConfig `yaml:"moderation"`

	// Archive configures the evidence archive.
	Archive ArchiveConfig `yaml:"archive"`

	// Per-environment overrides, applied after the base config loads.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the sections that can be overridden per
// environment.
type ConfigOverrides struct {
	Homeserver *HomeserverConfig `yaml:"homeserver,omitempty"`
	Paths      *PathsConfig      `yaml:"paths,omitempty"`
	Registry   *RegistryConfig   `yaml:"registry,omitempty"`
	Moderation *ModerationConfig `yaml:"moderation,omitempty"`
	Archive    *ArchiveConfig    `yaml:"archive,omitempty"`
}

// HomeserverConfig configures the Matrix Client-Server connection.
type HomeserverConfig struct {
	// URL is the homeserver base URL, e.g.
	// https://matrix.arena.example.org.
	URL string `yaml:"url"`

	// UserID is the service account the lobby logs in as, e.g.
	// @lobby:arena.example.org.
	UserID string `yaml:"user_id"`

	// AccessTokenFile is the path to a file holding the service
	// account's access token, or "-" to read it from stdin at
	// startup.
	AccessTokenFile string `yaml:"access_token_file"`

	// LobbyAlias is the alias of the arena room the service joins and
	// monitors, e.g. #arena:arena.example.org.
	LobbyAlias string `yaml:"lobby_alias"`

	// SyncTimeout is the long-poll timeout for /sync requests.
	// Default: 30s.
	SyncTimeout string `yaml:"sync_timeout"`

	// AllowInsecure permits plain http:// homeserver URLs. Forced
	// off in production.
	AllowInsecure bool `yaml:"allow_insecure"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Root is the base directory for muster data.
	// Default: ~/.local/share/muster (development).
	Root string `yaml:"root"`

	// Database is the SQLite database file holding ratings,
	// sanctions, and archive manifests.
	// Default: ${MUSTER_ROOT}/lobby.db.
	Database string `yaml:"database"`

	// Archive is the directory for content-addressed evidence blobs.
	// Default: ${MUSTER_ROOT}/archive.
	Archive string `yaml:"archive"`

	// Socket is the Unix socket path for the admin interface.
	// Default: /run/muster/lobby.sock.
	Socket string `yaml:"socket"`

	// RatingPolicy is an optional JSONC file overriding the built-in
	// K-factor curve. Empty means built-in defaults.
	RatingPolicy string `yaml:"rating_policy"`
}

// RegistryConfig configures game session tracking.
type RegistryConfig struct {
	// MaxGames bounds the number of tracked sessions. When a new
	// announcement would exceed it, the oldest finished or stale
	// session is evicted. Default: 128.
	MaxGames int `yaml:"max_games"`

	// IdleTimeout is how long a session may go without a heartbeat
	// or state change before the idle sweep clears it. Default: 1h.
	IdleTimeout string `yaml:"idle_timeout"`

	// SweepInterval is how often the idle sweep runs. Default: 5m.
	SweepInterval string `yaml:"sweep_interval"`
}

// RatingConfig configures the rating engine.
type RatingConfig struct {
	// LeaderboardMinGames is the number of rated games a player
	// needs before appearing on the leaderboard. Default: 10.
	LeaderboardMinGames int `yaml:"leaderboard_min_games"`
}

// ModerationConfig configures the sanction engine.
type ModerationConfig struct {
	// Moderators lists the user IDs allowed to issue sanction
	// commands.
	Moderators []string `yaml:"moderators"`

	// MaxMuteDuration caps mute durations. Longer requests are
	// rejected, not clamped. Default: 43800h (five years).
	MaxMuteDuration string `yaml:"max_mute_duration"`

	// EscrowRecipients lists age public keys that evidence archive
	// content keys are sealed to. Without at least one recipient,
	// report evidence is archived unencrypted.
	EscrowRecipients []string `yaml:"escrow_recipients"`
}

// ArchiveConfig configures the evidence archive.
type ArchiveConfig struct {
	// Compression selects the blob compression: none, lz4, or zstd.
	// Default: zstd.
	Compression string `yaml:"compression"`
}

// Default returns the default configuration. Defaults exist so every
// field has a sensible value before the file loads — the config file
// itself is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "muster")

	return &Config{
		Environment: Development,
		Homeserver: HomeserverConfig{
			SyncTimeout: "30s",
		},
		Paths: PathsConfig{
			Root:     defaultRoot,
			Database: filepath.Join(defaultRoot, "lobby.db"),
			Archive:  filepath.Join(defaultRoot, "archive"),
			Socket:   "/run/muster/lobby.sock",
		},
		Registry: RegistryConfig{
			MaxGames:      128,
			IdleTimeout:   "1h",
			SweepInterval: "5m",
		},
		Rating: RatingConfig{
			LeaderboardMinGames: 10,
		},
		Moderation: ModerationConfig{
			MaxMuteDuration: "43800h",
		},
		Archive: ArchiveConfig{
			Compression: "zstd",
		},
	}
}

// Load loads configuration from the path in MUSTER_CONFIG. There is
// no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv("MUSTER_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("MUSTER_CONFIG environment variable not set; " +
			"set it to the path of your muster.yaml config file, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The file is
// the single source of truth; environment variables do not override
// values. The only expansion performed is ${VAR} in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides merges the section matching Environment
// into the base config.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	// Production never talks plain HTTP, explicit section or not.
	if c.Environment == Production {
		c.Homeserver.AllowInsecure = false
	}

	if overrides == nil {
		return
	}

	if o := overrides.Homeserver; o != nil {
		if o.URL != "" {
			c.Homeserver.URL = o.URL
		}
		if o.UserID != "" {
			c.Homeserver.UserID = o.UserID
		}
		if o.AccessTokenFile != "" {
			c.Homeserver.AccessTokenFile = o.AccessTokenFile
		}
		if o.LobbyAlias != "" {
			c.Homeserver.LobbyAlias = o.LobbyAlias
		}
		if o.SyncTimeout != "" {
			c.Homeserver.SyncTimeout = o.SyncTimeout
		}
		if c.Environment != Production {
			c.Homeserver.AllowInsecure = o.AllowInsecure
		}
	}

	if o := overrides.Paths; o != nil {
		if o.Root != "" {
			c.Paths.Root = o.Root
		}
		if o.Database != "" {
			c.Paths.Database = o.Database
		}
		if o.Archive != "" {
			c.Paths.Archive = o.Archive
		}
		if o.Socket != "" {
			c.Paths.Socket = o.Socket
		}
		if o.RatingPolicy != "" {
			c.Paths.RatingPolicy = o.RatingPolicy
		}
	}

	if o := overrides.Registry; o != nil {
		if o.MaxGames != 0 {
			c.Registry.MaxGames = o.MaxGames
		}
		if o.IdleTimeout != "" {
			c.Registry.IdleTimeout = o.IdleTimeout
		}
		if o.SweepInterval != "" {
			c.Registry.SweepInterval = o.SweepInterval
		}
	}

	if o := overrides.Moderation; o != nil {
		if len(o.Moderators) > 0 {
			c.Moderation.Moderators = o.Moderators
		}
		if o.MaxMuteDuration != "" {
			c.Moderation.MaxMuteDuration = o.MaxMuteDuration
		}
		if len(o.EscrowRecipients) > 0 {
			c.Moderation.EscrowRecipients = o.EscrowRecipients
		}
	}

	if o := overrides.Archive; o != nil {
		if o.Compression != "" {
			c.Archive.Compression = o.Compression
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
// MUSTER_ROOT resolves to Paths.Root so dependent paths can anchor on
// it.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"MUSTER_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["MUSTER_ROOT"] = c.Paths.Root

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Archive = expandVars(c.Paths.Archive, vars)
	c.Paths.Socket = expandVars(c.Paths.Socket, vars)
	c.Paths.RatingPolicy = expandVars(c.Paths.RatingPolicy, vars)
	c.Homeserver.AccessTokenFile = expandVars(c.Homeserver.AccessTokenFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking
// the provided vars first, then the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	switch {
	case c.Homeserver.URL == "":
		errs = append(errs, fmt.Errorf("homeserver.url is required"))
	case strings.HasPrefix(c.Homeserver.URL, "http://") && !c.Homeserver.AllowInsecure:
		errs = append(errs, fmt.Errorf("homeserver.url uses http without allow_insecure"))
	case !strings.HasPrefix(c.Homeserver.URL, "http://") && !strings.HasPrefix(c.Homeserver.URL, "https://"):
		errs = append(errs, fmt.Errorf("homeserver.url must start with http:// or https://"))
	}

	if c.Homeserver.UserID == "" {
		errs = append(errs, fmt.Errorf("homeserver.user_id is required"))
	} else if _, err := ref.ParseUserID(c.Homeserver.UserID); err != nil {
		errs = append(errs, fmt.Errorf("homeserver.user_id: %w", err))
	}

	if c.Homeserver.LobbyAlias == "" {
		errs = append(errs, fmt.Errorf("homeserver.lobby_alias is required"))
	} else if _, err := ref.ParseRoomAlias(c.Homeserver.LobbyAlias); err != nil {
		errs = append(errs, fmt.Errorf("homeserver.lobby_alias: %w", err))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}
	if c.Paths.Socket == "" {
		errs = append(errs, fmt.Errorf("paths.socket is required"))
	}

	if c.Registry.MaxGames <= 0 {
		errs = append(errs, fmt.Errorf("registry.max_games must be positive"))
	}

	for field, value := range map[string]string{
		"homeserver.sync_timeout":      c.Homeserver.SyncTimeout,
		"registry.idle_timeout":        c.Registry.IdleTimeout,
		"registry.sweep_interval":      c.Registry.SweepInterval,
		"moderation.max_mute_duration": c.Moderation.MaxMuteDuration,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", field))
			continue
		}
		if d, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", field))
		}
	}

	for _, moderator := range c.Moderation.Moderators {
		if _, err := ref.ParseUserID(moderator); err != nil {
			errs = append(errs, fmt.Errorf("moderation.moderators %q: %w", moderator, err))
		}
	}

	compressions := []string{"none", "lz4", "zstd"}
	if !slices.Contains(compressions, c.Archive.Compression) {
		errs = append(errs, fmt.Errorf("archive.compression must be one of: %v", compressions))
	}

	return errors.Join(errs...)
}

// SyncTimeout returns the parsed sync long-poll timeout. Call after
// Validate; a malformed value falls back to 30 seconds.
func (c *Config) SyncTimeout() time.Duration {
	return durationOr(c.Homeserver.SyncTimeout, 30*time.Second)
}

// IdleTimeout returns the parsed registry idle timeout. Call after
// Validate; a malformed value falls back to one hour.
func (c *Config) IdleTimeout() time.Duration {
	return durationOr(c.Registry.IdleTimeout, time.Hour)
}

// SweepInterval returns the parsed idle sweep interval. Call after
// Validate; a malformed value falls back to five minutes.
func (c *Config) SweepInterval() time.Duration {
	return durationOr(c.Registry.SweepInterval, 5*time.Minute)
}

// MaxMuteDuration returns the parsed mute duration cap. Call after
// Validate; a malformed value falls back to five years.
func (c *Config) MaxMuteDuration() time.Duration {
	return durationOr(c.Moderation.MaxMuteDuration, 43800*time.Hour)
}

func durationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// EnsurePaths creates the configured directories: the data root, the
// archive directory, and the parents of the database and socket.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Archive,
		filepath.Dir(c.Paths.Database),
		filepath.Dir(c.Paths.Socket),
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
