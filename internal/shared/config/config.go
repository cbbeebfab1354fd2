package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/ini.v1"

	"lawcrawler/internal/shared/types"
)

// LoadIni 只加载 lawcrawler.ini 行为配置文件。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	applyDefaults(cfg)
	overrideFromEnv(&cfg.LogConf.Level, "LAWCRAWLER_LOG_LEVEL")
	return Validate(cfg)
}

// LoadIdentities 加载 identities.json 数据文件（付费代理配置）。
func LoadIdentities(fileName string) ([]*types.IdentityProfile, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		// 如果文件不存在，返回一个空列表而不是错误
		if os.IsNotExist(err) {
			return []*types.IdentityProfile{}, nil
		}
		return nil, fmt.Errorf("failed to read identities file: %w", err)
	}

	var profiles []*types.IdentityProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identities.json: %w", err)
	}
	return profiles, nil
}

// LoadKnownURLs 加载 known_urls.json 数据文件（直连地址登记表）。
func LoadKnownURLs(fileName string) ([]*types.KnownURLEntry, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.KnownURLEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read known URLs file: %w", err)
	}

	var entries []*types.KnownURLEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal known_urls.json: %w", err)
	}
	return entries, nil
}

// Validate enforces the fatal-at-startup rule: a broken configuration must
// never survive into a running batch.
func Validate(cfg *types.Config) error {
	c := cfg.CrawlerConf
	if strings.TrimSpace(c.StrategyOrder) == "" {
		return fmt.Errorf("crawler.strategy_order must name at least one strategy")
	}
	if c.ConcurrencyLimit <= 0 {
		return fmt.Errorf("crawler.concurrency_limit must be positive, got %d", c.ConcurrencyLimit)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.RequestTimeoutSec <= 0 || c.TargetTimeoutSec <= 0 {
		return fmt.Errorf("crawler timeouts must be positive")
	}
	if c.TargetTimeoutSec < c.RequestTimeoutSec {
		return fmt.Errorf("crawler.target_timeout_sec (%d) must cover at least one request timeout (%d)",
			c.TargetTimeoutSec, c.RequestTimeoutSec)
	}

	d := cfg.DetectConf
	if d.RotateThreshold >= d.BanThreshold {
		return fmt.Errorf("detect.rotate_threshold (%d) must be below detect.ban_threshold (%d)",
			d.RotateThreshold, d.BanThreshold)
	}

	p := cfg.PoolConf
	if p.PaidDeathThreshold <= p.FreeDeathThreshold {
		return fmt.Errorf("pool.paid_death_threshold (%d) must exceed pool.free_death_threshold (%d)",
			p.PaidDeathThreshold, p.FreeDeathThreshold)
	}

	if cfg.MatchConf.AcceptThreshold <= 0 || cfg.MatchConf.AcceptThreshold >= 1 {
		return fmt.Errorf("match.accept_threshold must be in (0,1), got %f", cfg.MatchConf.AcceptThreshold)
	}
	return nil
}

func applyDefaults(cfg *types.Config) {
	c := &cfg.CrawlerConf
	if c.ConcurrencyLimit == 0 {
		c.ConcurrencyLimit = 3
	}
	if c.RequestTimeoutSec == 0 {
		c.RequestTimeoutSec = 30
	}
	if c.TargetTimeoutSec == 0 {
		c.TargetTimeoutSec = 120
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.SessionMaxUses == 0 {
		c.SessionMaxUses = 20
	}
	if c.HostRatePerMinute == 0 {
		c.HostRatePerMinute = 12
	}

	p := &cfg.PoolConf
	if p.FreeDeathThreshold == 0 {
		p.FreeDeathThreshold = 5
	}
	if p.PaidDeathThreshold == 0 {
		p.PaidDeathThreshold = 10
	}
	if p.CooldownSec == 0 {
		p.CooldownSec = 300
	}
	if p.SweepIntervalMin == 0 {
		p.SweepIntervalMin = 30
	}
	if p.AliveFloor == 0 {
		p.AliveFloor = 3
	}
	if p.CheckConcurrency == 0 {
		p.CheckConcurrency = 5
	}
	if p.CheckTimeoutSec == 0 {
		p.CheckTimeoutSec = 10
	}
	if p.FeedIntervalHours == 0 {
		p.FeedIntervalHours = 6
	}

	d := &cfg.DetectConf
	if d.BaseDelayMs == 0 {
		d.BaseDelayMs = 1000
	}
	if d.MaxDelayMs == 0 {
		d.MaxDelayMs = 30000
	}
	if d.RotateThreshold == 0 {
		d.RotateThreshold = 3
	}
	if d.BanThreshold == 0 {
		d.BanThreshold = 5
	}
	if d.LowBlockRate == 0 {
		d.LowBlockRate = 0.1
	}
	if d.MediumBlockRate == 0 {
		d.MediumBlockRate = 0.3
	}
	if d.HighBlockRate == 0 {
		d.HighBlockRate = 0.5
	}
	if d.ExtremeRate == 0 {
		d.ExtremeRate = 0.8
	}
	if d.LowDelayFactor == 0 {
		d.LowDelayFactor = 2
	}
	if d.MediumDelayFactor == 0 {
		d.MediumDelayFactor = 3
	}
	if d.HighDelayFactor == 0 {
		d.HighDelayFactor = 5
	}
	if d.ExtremeDelayFactor == 0 {
		d.ExtremeDelayFactor = 10
	}
	if d.SearchDelayFactor == 0 {
		d.SearchDelayFactor = 1.5
	}
	if d.RetryDelayFactor == 0 {
		d.RetryDelayFactor = 2.0
	}
	if d.DetailDelayFactor == 0 {
		d.DetailDelayFactor = 1.2
	}

	if cfg.MatchConf.AcceptThreshold == 0 {
		cfg.MatchConf.AcceptThreshold = 0.6
	}
}

func overrideFromEnv(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
