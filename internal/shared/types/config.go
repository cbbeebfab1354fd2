package types

// IdentityProfile 定义了一个出口身份的完整配置。
// 这是 configs/identities.json 文件的核心数据结构。
type IdentityProfile struct {
	ID      string `json:"id"`      // 唯一标识符，由配置方生成
	Remarks string `json:"remarks"` // 用户备注

	// --- 连接参数 ---
	Address  string `json:"address"`            // 代理地址 (域名或IP)
	Port     int    `json:"port"`               // 代理端口
	Protocol string `json:"protocol"`           // "http", "https", "socks4", "socks5", "tls-tunnel"
	Tier     string `json:"tier"`               // "free" 或 "paid"
	Username string `json:"username,omitempty"` // 认证用户名
	Password string `json:"password,omitempty"` // 认证密码

	// --- TLS 隧道专属参数 ---
	SNI           string `json:"sni,omitempty"`
	AllowInsecure bool   `json:"allowInsecure,omitempty"`
}

// KnownURLEntry maps a document name to a directly fetchable URL.
// Loaded from configs/known_urls.json and consumed by the direct-URL strategy.
type KnownURLEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CommonConf 包含共有的行为配置。
type CommonConf struct {
	DataDir string `ini:"data_dir"`
}

// LogConf contains logging specific configuration.
type LogConf struct {
	Level string `ini:"level"`
}

// CrawlerConf contains orchestrator behavior configuration.
type CrawlerConf struct {
	StrategyOrder      string `ini:"strategy_order"`      // comma separated, highest priority first
	DisabledStrategies string `ini:"disabled_strategies"` // comma separated
	ConcurrencyLimit   int    `ini:"concurrency_limit"`
	RequestTimeoutSec  int    `ini:"request_timeout_sec"`
	TargetTimeoutSec   int    `ini:"target_timeout_sec"`
	MaxAttempts        int    `ini:"max_attempts"` // per strategy, per target
	SessionMaxUses     int    `ini:"session_max_uses"`
	HostRatePerMinute  int    `ini:"host_rate_per_minute"`
}

// PoolConf contains identity pool behavior configuration.
type PoolConf struct {
	RotationEnabled     bool `ini:"rotation_enabled"`
	PreferPaid          bool `ini:"prefer_paid"`
	FreeDeathThreshold  int  `ini:"free_death_threshold"`
	PaidDeathThreshold  int  `ini:"paid_death_threshold"`
	CooldownSec         int  `ini:"cooldown_sec"`
	SweepIntervalMin    int  `ini:"sweep_interval_min"`
	AliveFloor          int  `ini:"alive_floor"`
	CheckConcurrency    int  `ini:"check_concurrency"`
	CheckTimeoutSec     int  `ini:"check_timeout_sec"`
	FeedEnabled         bool `ini:"feed_enabled"`
	FeedIntervalHours   int  `ini:"feed_interval_hours"`
	StatePersistEnabled bool `ini:"state_persist_enabled"`
}

// DetectConf contains response analyzer thresholds. The level tiering itself
// (None→Low→Medium→High→Extreme) is fixed; only the trip points move.
type DetectConf struct {
	BaseDelayMs     int     `ini:"base_delay_ms"`
	MaxDelayMs      int     `ini:"max_delay_ms"`
	RotateThreshold int     `ini:"rotate_threshold"` // consecutive blocks before identity rotation
	BanThreshold    int     `ini:"ban_threshold"`    // consecutive blocks before the identity is abandoned
	LowBlockRate    float64 `ini:"low_block_rate"`
	MediumBlockRate float64 `ini:"medium_block_rate"`
	HighBlockRate   float64 `ini:"high_block_rate"`
	ExtremeRate     float64 `ini:"extreme_block_rate"`

	// 各威胁级别对基础延迟的放大倍数
	LowDelayFactor     float64 `ini:"low_delay_factor"`
	MediumDelayFactor  float64 `ini:"medium_delay_factor"`
	HighDelayFactor    float64 `ini:"high_delay_factor"`
	ExtremeDelayFactor float64 `ini:"extreme_delay_factor"`

	// 各操作类型对基础延迟的放大倍数
	SearchDelayFactor float64 `ini:"search_delay_factor"`
	RetryDelayFactor  float64 `ini:"retry_delay_factor"`
	DetailDelayFactor float64 `ini:"detail_delay_factor"`
}

// MatchConf contains resolver tuning.
type MatchConf struct {
	AcceptThreshold float64 `ini:"accept_threshold"`
}

// Config 是整个进程的统一行为配置结构体。
type Config struct {
	CommonConf  CommonConf  `ini:"common"`
	LogConf     LogConf     `ini:"log"`
	CrawlerConf CrawlerConf `ini:"crawler"`
	PoolConf    PoolConf    `ini:"pool"`
	DetectConf  DetectConf  `ini:"detect"`
	MatchConf   MatchConf   `ini:"match"`
}
