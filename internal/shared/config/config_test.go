package config

import (
	"os"
	"path/filepath"
	"testing"

	"lawcrawler/internal/shared/types"
)

func writeTempIni(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lawcrawler.ini")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadIniAppliesDefaults(t *testing.T) {
	path := writeTempIni(t, `
[log]
level = debug

[crawler]
strategy_order = statute-api,browser
`)

	cfg := new(types.Config)
	if err := LoadIni(cfg, path); err != nil {
		t.Fatalf("LoadIni: %v", err)
	}

	if cfg.LogConf.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogConf.Level)
	}
	if cfg.CrawlerConf.StrategyOrder != "statute-api,browser" {
		t.Errorf("strategy order = %q", cfg.CrawlerConf.StrategyOrder)
	}

	// 未设置的字段回落到默认值
	if cfg.CrawlerConf.ConcurrencyLimit != 3 {
		t.Errorf("concurrency default = %d, want 3", cfg.CrawlerConf.ConcurrencyLimit)
	}
	if cfg.PoolConf.FreeDeathThreshold != 5 || cfg.PoolConf.PaidDeathThreshold != 10 {
		t.Errorf("death thresholds = %d/%d, want 5/10",
			cfg.PoolConf.FreeDeathThreshold, cfg.PoolConf.PaidDeathThreshold)
	}
	if cfg.DetectConf.RotateThreshold != 3 || cfg.DetectConf.BanThreshold != 5 {
		t.Errorf("detect thresholds = %d/%d, want 3/5",
			cfg.DetectConf.RotateThreshold, cfg.DetectConf.BanThreshold)
	}
	if cfg.DetectConf.HighDelayFactor != 5 || cfg.DetectConf.ExtremeDelayFactor != 10 {
		t.Errorf("level delay factors = %v/%v, want 5/10",
			cfg.DetectConf.HighDelayFactor, cfg.DetectConf.ExtremeDelayFactor)
	}
	if cfg.DetectConf.SearchDelayFactor != 1.5 || cfg.DetectConf.RetryDelayFactor != 2.0 {
		t.Errorf("kind delay factors = %v/%v, want 1.5/2.0",
			cfg.DetectConf.SearchDelayFactor, cfg.DetectConf.RetryDelayFactor)
	}
	if cfg.MatchConf.AcceptThreshold != 0.6 {
		t.Errorf("accept threshold = %f, want 0.6", cfg.MatchConf.AcceptThreshold)
	}
}

func TestLoadIniMissingFile(t *testing.T) {
	cfg := new(types.Config)
	if err := LoadIni(cfg, filepath.Join(t.TempDir(), "nope.ini")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// 损坏的配置必须在启动时失败，而不是带病运行。
func TestValidateRejections(t *testing.T) {
	valid := func() *types.Config {
		cfg := new(types.Config)
		cfg.CrawlerConf.StrategyOrder = "statute-api"
		applyDefaults(cfg)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*types.Config)
	}{
		{"empty strategy order", func(c *types.Config) { c.CrawlerConf.StrategyOrder = " " }},
		{"zero concurrency", func(c *types.Config) { c.CrawlerConf.ConcurrencyLimit = -1 }},
		{"zero attempts", func(c *types.Config) { c.CrawlerConf.MaxAttempts = -1 }},
		{"negative timeout", func(c *types.Config) { c.CrawlerConf.RequestTimeoutSec = -5 }},
		{"target timeout below request timeout", func(c *types.Config) {
			c.CrawlerConf.TargetTimeoutSec = 10
			c.CrawlerConf.RequestTimeoutSec = 30
		}},
		{"rotate above ban", func(c *types.Config) {
			c.DetectConf.RotateThreshold = 7
			c.DetectConf.BanThreshold = 5
		}},
		{"paid threshold not above free", func(c *types.Config) {
			c.PoolConf.PaidDeathThreshold = 5
			c.PoolConf.FreeDeathThreshold = 5
		}},
		{"accept threshold out of range", func(c *types.Config) { c.MatchConf.AcceptThreshold = 1.5 }},
	}

	if err := Validate(valid()); err != nil {
		t.Fatalf("baseline config rejected: %v", err)
	}
	for _, c := range cases {
		cfg := valid()
		c.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestLoadIdentitiesMissingFile(t *testing.T) {
	profiles, err := LoadIdentities(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing identities file should not error: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("got %d profiles from missing file, want 0", len(profiles))
	}
}

func TestLoadIdentities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.json")
	content := `[{"address":"1.2.3.4","port":1080,"protocol":"socks5","tier":"paid","username":"u","password":"p"}]`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	profiles, err := LoadIdentities(path)
	if err != nil {
		t.Fatalf("LoadIdentities: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Address != "1.2.3.4" || profiles[0].Tier != "paid" {
		t.Errorf("profiles = %+v", profiles)
	}
}

func TestLoadKnownURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_urls.json")
	content := `[{"name":"测试条例","url":"https://example.gov.cn/doc/1"}]`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := LoadKnownURLs(path)
	if err != nil {
		t.Fatalf("LoadKnownURLs: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "测试条例" {
		t.Errorf("entries = %+v", entries)
	}
}
