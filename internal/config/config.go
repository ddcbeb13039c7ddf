package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	TrackerGitLab = "gitlab"
	TrackerLocal  = "local"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	DBWait        time.Duration
	JWTSecret     string
	AccessTTL     time.Duration
	MigrationsDir string
	CORSOrigin    string
	// Redis caches identity bindings; empty disables the cache.
	RedisURL    string
	IdentityTTL time.Duration

	Tracker         string
	GitLabURL       string
	LocalReposDir   string
	IdentityBindURL string
	SeedDemo        bool
	// DevLogin mounts the name-only login route. It only takes effect with
	// the local tracker.
	DevLogin bool

	// Release notes archive; disabled when ArchiveEndpoint is empty.
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveUseSSL    bool

	LogLevel  string
	LogFormat string
}

func Load() Config {
	v := newViper()
	return Config{
		Addr:          v.GetString("api_addr"),
		DatabaseURL:   v.GetString("database_url"),
		DBWait:        time.Duration(v.GetInt("db_wait_seconds")) * time.Second,
		JWTSecret:     v.GetString("jwt_secret"),
		AccessTTL:     time.Duration(v.GetInt("access_ttl_seconds")) * time.Second,
		MigrationsDir: v.GetString("migrations_dir"),
		CORSOrigin:    v.GetString("cors_origin"),
		RedisURL:      v.GetString("redis_url"),
		IdentityTTL:   time.Duration(v.GetInt("identity_ttl_seconds")) * time.Second,

		Tracker:         strings.ToLower(v.GetString("tracker")),
		GitLabURL:       v.GetString("gitlab_url"),
		LocalReposDir:   v.GetString("local_repos_dir"),
		IdentityBindURL: v.GetString("identity_bind_url"),
		SeedDemo:        v.GetBool("seed_demo"),
		DevLogin:        v.GetBool("dev_login"),

		ArchiveEndpoint:  v.GetString("release_archive_endpoint"),
		ArchiveAccessKey: v.GetString("release_archive_access_key"),
		ArchiveSecretKey: v.GetString("release_archive_secret_key"),
		ArchiveBucket:    v.GetString("release_archive_bucket"),
		ArchiveUseSSL:    v.GetBool("release_archive_use_ssl"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}
}

// ClientConfig is what the planner CLI needs to reach the portal.
// DevLoginEnabled reports whether unauthenticated name login is allowed.
func (c Config) DevLoginEnabled() bool {
	return c.DevLogin && c.Tracker == TrackerLocal
}

type ClientConfig struct {
	PortalURL string
	Token     string
	Timeout   time.Duration
	BindURL   string
	LogLevel  string
}

func LoadClient() ClientConfig {
	v := newViper()
	return ClientConfig{
		PortalURL: v.GetString("portal_url"),
		Token:     v.GetString("portal_token"),
		Timeout:   time.Duration(v.GetInt("portal_timeout_seconds")) * time.Second,
		BindURL:   v.GetString("identity_bind_url"),
		LogLevel:  v.GetString("log_level"),
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("api_addr", ":8787")
	v.SetDefault("database_url", "")
	v.SetDefault("db_wait_seconds", 30)
	v.SetDefault("jwt_secret", "cadence-dev-secret")
	v.SetDefault("access_ttl_seconds", 3600)
	v.SetDefault("migrations_dir", "./db/migrations")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("redis_url", "")
	v.SetDefault("identity_ttl_seconds", 3600)
	v.SetDefault("tracker", TrackerLocal)
	v.SetDefault("gitlab_url", "https://gitlab.com")
	v.SetDefault("local_repos_dir", "./data/repos")
	v.SetDefault("identity_bind_url", "/auth/gitlab/bind")
	v.SetDefault("seed_demo", true)
	v.SetDefault("dev_login", false)
	v.SetDefault("release_archive_endpoint", "")
	v.SetDefault("release_archive_access_key", "")
	v.SetDefault("release_archive_secret_key", "")
	v.SetDefault("release_archive_bucket", "cadence-releases")
	v.SetDefault("release_archive_use_ssl", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("portal_url", "http://localhost:8787")
	v.SetDefault("portal_token", "")
	v.SetDefault("portal_timeout_seconds", 30)
	v.AutomaticEnv()
	return v
}
