package storefront

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("STOREFRONT_SOURCE_URL", "")
	cfg, err := ParseConfig([]byte("source:\n  url: https://shop.example.com/api/products\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port: %d", cfg.Server.Port)
	}
	if cfg.Storage.Key != DefaultCacheKey || cfg.Storage.Path != "./data/leveldb" {
		t.Errorf("storage: %+v", cfg.Storage)
	}
	if cfg.Cache.expDur != 24*time.Hour || cfg.Cache.EnforceExpiration {
		t.Errorf("cache: %+v", cfg.Cache)
	}
	if cfg.Source.timeoutDur != 30*time.Second || cfg.Source.maxBytes != 8*mib {
		t.Errorf("source: %+v", cfg.Source)
	}
	if cfg.Connectivity.Probe != cfg.Source.URL || cfg.Connectivity.everyDur != 15*time.Second {
		t.Errorf("connectivity: %+v", cfg.Connectivity)
	}
	if cfg.Logging.logStatsEveryDur != 0 {
		t.Errorf("logging: %+v", cfg.Logging)
	}
}

func TestParseConfigErrors(t *testing.T) {
	t.Setenv("STOREFRONT_SOURCE_URL", "")
	cases := map[string]string{
		"":                         "source.url is required",
		"source: {url: /relative}": "source.url",
		"source: {url: 'http://x', timeout: soon}":                    "source.timeout",
		"source: {url: 'http://x', maxBody: lots}":                    "source.maxBody",
		"source: {url: 'http://x'}\ncache: {expiration: -1h}":         "cache.expiration",
		"source: {url: 'http://x'}\nconnectivity: {probe: 'ftp://x'}": "connectivity.probe",
	}
	for in, want := range cases {
		_, err := ParseConfig([]byte(in))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("%q: want error containing %q, got %v", in, want, err)
		}
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	body := "server: {port: 9000}\nsource: {url: 'http://a.example'}\ncache: {expiration: 1h, enforceExpiration: true}\nconnectivity: {assumeOnline: true}\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STOREFRONT_SOURCE_URL", "http://b.example/products")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 || cfg.Source.URL != "http://b.example/products" {
		t.Fatalf("cfg: %+v", cfg)
	}
	if cfg.Cache.expDur != time.Hour || !cfg.Cache.EnforceExpiration || !cfg.Connectivity.AssumeOnline {
		t.Fatalf("cache/connectivity: %+v %+v", cfg.Cache, cfg.Connectivity)
	}
}
