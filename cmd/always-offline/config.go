package main

import (
	"flag"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Environment variables provide the
// defaults and command line flags override them; the resource lists live in
// a separate manifest file owned by the build pipeline.
type Config struct {
	Listen          string        `env:"ALWAYS_OFFLINE_LISTEN" envDefault:":8080"`
	Origin          string        `env:"ALWAYS_OFFLINE_ORIGIN"`
	OriginHost      string        `env:"ALWAYS_OFFLINE_ORIGIN_HOST"`
	Provider        string        `env:"ALWAYS_OFFLINE_PROVIDER" envDefault:"sqlite"`
	DBFilename      string        `env:"ALWAYS_OFFLINE_DB" envDefault:"offline.db"`
	RedisAddr       string        `env:"ALWAYS_OFFLINE_REDIS_ADDR" envDefault:"localhost:6379"`
	ManifestFile    string        `env:"ALWAYS_OFFLINE_MANIFEST" envDefault:"manifest.yml"`
	SyncEvery       time.Duration `env:"ALWAYS_OFFLINE_SYNC_EVERY"`
	DeferActivation bool          `env:"ALWAYS_OFFLINE_DEFER_ACTIVATION"`
	Trace           bool          `env:"ALWAYS_OFFLINE_TRACE"`
	LogFile         string        `env:"ALWAYS_OFFLINE_LOG_FILE"`
}

// loadConfig parses environment variables and flags into a Config.
// Flags are declared with the env-resolved values as defaults, so a flag on
// the command line overrides its environment variable.
func loadConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	fs.StringVar(&cfg.Origin, "origin", cfg.Origin, "Origin URL to front (required)")
	fs.StringVar(&cfg.OriginHost, "host", cfg.OriginHost, "Hostname of origin")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "Address to listen on")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "Store provider: sqlite, redis or memory")
	fs.StringVar(&cfg.DBFilename, "db", cfg.DBFilename, "Store DB file name (use 'memory' for an in-memory db)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the redis provider")
	fs.StringVar(&cfg.ManifestFile, "manifest", cfg.ManifestFile, "Manifest file with the version and resource lists")
	fs.DurationVar(&cfg.SyncEvery, "sync-every", cfg.SyncEvery, "Interval for firing registered sync routines (0 disables)")
	fs.BoolVar(&cfg.DeferActivation, "defer-activation", cfg.DeferActivation, "Install but wait for a skip waiting command before routing")
	fs.BoolVar(&cfg.Trace, "vv", cfg.Trace, "Verbosity: trace logging")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file to use (in addition to stdout)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ManifestFile is the on-disk shape of the resource manifest.
type ManifestFile struct {
	Version     string   `yaml:"version"`
	Namespace   string   `yaml:"namespace"`
	Critical    []string `yaml:"critical"`
	Optional    []string `yaml:"optional"`
	OfflinePage string   `yaml:"offlinePage"`
	Denylist    []string `yaml:"denylist"`
}

func readManifest(filename string) (ManifestFile, error) {
	var manifest ManifestFile
	manifestBytes, err := os.ReadFile(filename)
	if err != nil {
		return manifest, err
	}
	err = yaml.Unmarshal(manifestBytes, &manifest)
	return manifest, err
}
