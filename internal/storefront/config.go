package storefront

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCacheKey    = "GROCERY_PRODUCTS"
	DefaultCacheExpiry = 24 * time.Hour
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Source struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
		MaxBody string `yaml:"maxBody"`

		timeoutDur time.Duration
		maxBytes   int64
	} `yaml:"source"`

	Storage struct {
		Path string `yaml:"path"`
		Key  string `yaml:"key"`
	} `yaml:"storage"`

	Cache struct {
		Expiration string `yaml:"expiration"`
		// When false the expiration is only reported, cached data is served
		// regardless of age.
		EnforceExpiration bool `yaml:"enforceExpiration"`

		expDur time.Duration
	} `yaml:"cache"`

	Connectivity struct {
		Probe        string `yaml:"probe"`
		Every        string `yaml:"every"`
		Timeout      string `yaml:"timeout"`
		AssumeOnline bool   `yaml:"assumeOnline"`

		everyDur   time.Duration
		timeoutDur time.Duration
	} `yaml:"connectivity"`

	Logging struct {
		LogStatsEvery string `yaml:"logStatsEvery"`

		logStatsEveryDur time.Duration
	} `yaml:"logging"`
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("STOREFRONT_SOURCE_URL"); v != "" {
		cfg.Source.URL = v
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) compile() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	cfg.Source.URL = strings.TrimSpace(cfg.Source.URL)
	if cfg.Source.URL == "" {
		return errors.New("source.url is required")
	}
	if err := checkAbsURL(cfg.Source.URL); err != nil {
		return errors.Wrap(err, "source.url")
	}
	d, err := durationOr(cfg.Source.Timeout, 30*time.Second)
	if err != nil {
		return errors.Wrap(err, "source.timeout")
	}
	cfg.Source.timeoutDur = d
	if cfg.Source.MaxBody == "" {
		cfg.Source.MaxBody = "8mb"
	}
	n, err := parseBytes(cfg.Source.MaxBody)
	if err != nil {
		return errors.Wrap(err, "source.maxBody")
	}
	cfg.Source.maxBytes = n

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/leveldb"
	}
	if cfg.Storage.Key == "" {
		cfg.Storage.Key = DefaultCacheKey
	}

	d, err = durationOr(cfg.Cache.Expiration, DefaultCacheExpiry)
	if err != nil {
		return errors.Wrap(err, "cache.expiration")
	}
	cfg.Cache.expDur = d

	if cfg.Connectivity.Probe == "" {
		cfg.Connectivity.Probe = cfg.Source.URL
	}
	if err := checkAbsURL(cfg.Connectivity.Probe); err != nil {
		return errors.Wrap(err, "connectivity.probe")
	}
	d, err = durationOr(cfg.Connectivity.Every, 15*time.Second)
	if err != nil {
		return errors.Wrap(err, "connectivity.every")
	}
	cfg.Connectivity.everyDur = d
	d, err = durationOr(cfg.Connectivity.Timeout, 5*time.Second)
	if err != nil {
		return errors.Wrap(err, "connectivity.timeout")
	}
	cfg.Connectivity.timeoutDur = d

	d, err = durationOr(cfg.Logging.LogStatsEvery, 0)
	if err != nil {
		return errors.Wrap(err, "logging.logStatsEvery")
	}
	cfg.Logging.logStatsEveryDur = d
	return nil
}

func durationOr(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.Errorf("negative duration %q", s)
	}
	return d, nil
}

func checkAbsURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.Errorf("missing host in %q", raw)
	}
	return nil
}
