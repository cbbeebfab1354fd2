package detect

import (
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"lawcrawler/internal/shared/logger"
	"lawcrawler/internal/shared/types"
)

// Analyzer 对每个响应进行反爬分类，并维护滚动检测指标。
// 所有策略的网络请求共用同一个实例，内部全部读改写序列都在锁保护下进行。
type Analyzer struct {
	cfg   types.DetectConf
	rules Rules

	mu      sync.Mutex
	metrics Metrics
	level   Level
	rng     *rand.Rand
}

// NewAnalyzer 创建一个检测器。
func NewAnalyzer(cfg types.DetectConf) *Analyzer {
	return &Analyzer{
		cfg:   cfg,
		rules: DefaultRules(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Classify 分析一个响应并更新指标，返回检测结论与当前反爬级别。
// 分类顺序（命中即停，先查更具体/更严重的信号）：
// 状态码表 → 响应头签名 → 正文短语 → 时延异常 → 正常。
func (a *Analyzer) Classify(rawURL string, statusCode int, header http.Header, body []byte, responseTime time.Duration) (Verdict, Level) {
	verdict := a.classifyOnly(statusCode, header, body, responseTime)

	a.mu.Lock()
	defer a.mu.Unlock()

	site := extractSite(rawURL)
	a.metrics.TotalRequests++
	stats := a.metrics.site(site)
	stats.Total++

	if verdict == VerdictNormal {
		a.metrics.SuccessfulRequests++
		a.metrics.ConsecutiveBlocks = 0
		stats.Success++
	} else {
		a.metrics.ConsecutiveBlocks++
		a.metrics.LastBlockedAt = time.Now()
		switch verdict {
		case VerdictCaptcha:
			a.metrics.CaptchaRequests++
			stats.Captcha++
		case VerdictRateLimited:
			a.metrics.RateLimitedRequests++
			stats.RateLimited++
		default:
			a.metrics.BlockedRequests++
			stats.Blocked++
		}
		l := logger.WithComponent("Detect")
		l.Warn().
			Str("site", site).
			Str("verdict", verdict.String()).
			Int("consecutive_blocks", a.metrics.ConsecutiveBlocks).
			Msg("Hostile response classified.")
	}

	a.recomputeLevelLocked()
	return verdict, a.level
}

func (a *Analyzer) classifyOnly(statusCode int, header http.Header, body []byte, responseTime time.Duration) Verdict {
	// 1. 状态码表
	if v := a.checkStatusCode(statusCode); v != VerdictNormal {
		return v
	}
	// 2. 响应头签名
	if v := a.checkHeaders(header); v != VerdictNormal {
		return v
	}
	// 3. 正文短语
	if v := a.checkBody(body); v != VerdictNormal {
		return v
	}
	// 4. 时延异常
	if v := a.checkTiming(responseTime, len(body)); v != VerdictNormal {
		return v
	}
	return VerdictNormal
}

func (a *Analyzer) checkStatusCode(code int) Verdict {
	if containsInt(a.rules.RateLimitedCodes, code) {
		return VerdictRateLimited
	}
	if containsInt(a.rules.IPBannedCodes, code) {
		return VerdictIPBanned
	}
	if containsInt(a.rules.BlockedCodes, code) {
		return VerdictBlocked
	}
	return VerdictNormal
}

func (a *Analyzer) checkHeaders(header http.Header) Verdict {
	if header == nil {
		return VerdictNormal
	}
	for _, name := range a.rules.CloudflareHeaders {
		if header.Get(name) != "" {
			return VerdictCloudflareChallenge
		}
	}
	for _, name := range a.rules.WafHeaders {
		if header.Get(name) != "" {
			return VerdictWafDetected
		}
	}
	for _, name := range a.rules.RateLimitHeaders {
		if header.Get(name) != "" {
			return VerdictRateLimited
		}
	}
	return VerdictNormal
}

func (a *Analyzer) checkBody(body []byte) Verdict {
	if len(body) == 0 {
		return VerdictNormal
	}
	lower := strings.ToLower(string(body))

	if containsAny(lower, a.rules.CaptchaPhrases) {
		return VerdictCaptcha
	}
	if containsAny(lower, a.rules.CloudflarePhrases) {
		return VerdictCloudflareChallenge
	}
	if containsAny(lower, a.rules.WafPhrases) {
		return VerdictWafDetected
	}
	if containsAny(lower, a.rules.RateLimitedPhrases) {
		return VerdictRateLimited
	}
	if containsAny(lower, a.rules.BlockedPhrases) {
		return VerdictBlocked
	}

	// 过短的正文通常是固定的错误/拒绝页
	if len(strings.TrimSpace(lower)) < a.rules.MinimalBodyBytes {
		return VerdictBlocked
	}
	return VerdictNormal
}

func (a *Analyzer) checkTiming(responseTime time.Duration, bodyLen int) Verdict {
	if responseTime < a.rules.SuspiciousFast && bodyLen < a.rules.SmallBodyBytes {
		return VerdictBlocked
	}
	if responseTime > a.rules.SuspiciousSlow {
		return VerdictRateLimited
	}
	return VerdictNormal
}

// recomputeLevelLocked 从连续阻断数与滚动阻断率重新推导级别。
// 必须在锁保护下调用。
func (a *Analyzer) recomputeLevelLocked() {
	blocks := a.metrics.ConsecutiveBlocks
	rate := a.metrics.BlockRate()

	var level Level
	switch {
	case blocks >= a.cfg.BanThreshold*2 || rate > a.cfg.ExtremeRate:
		level = LevelExtreme
	case blocks >= a.cfg.BanThreshold || rate > a.cfg.HighBlockRate:
		level = LevelHigh
	case blocks >= a.cfg.RotateThreshold || rate > a.cfg.MediumBlockRate:
		level = LevelMedium
	case blocks >= 1 || rate > a.cfg.LowBlockRate:
		level = LevelLow
	default:
		level = LevelNone
	}

	if level != a.level {
		l := logger.WithComponent("Detect")
		l.Info().
			Str("from", a.level.String()).
			Str("to", level.String()).
			Msg("Anticrawler level changed.")
		a.level = level
	}
}

// AdaptiveDelay 返回当前应施加的请求间延迟：基础延迟按级别和操作类型
// 放大，叠加有界抖动，并受最大延迟封顶。
func (a *Analyzer) AdaptiveDelay(kind OperationKind) time.Duration {
	a.mu.Lock()
	level := a.level
	jitter := 0.8 + a.rng.Float64()*0.7 // U[0.8, 1.5)
	a.mu.Unlock()

	base := float64(a.cfg.BaseDelayMs)

	switch level {
	case LevelExtreme:
		base *= a.cfg.ExtremeDelayFactor
	case LevelHigh:
		base *= a.cfg.HighDelayFactor
	case LevelMedium:
		base *= a.cfg.MediumDelayFactor
	case LevelLow:
		base *= a.cfg.LowDelayFactor
	}

	switch kind {
	case OpSearch:
		base *= a.cfg.SearchDelayFactor
	case OpRetry:
		base *= a.cfg.RetryDelayFactor
	case OpDetail:
		base *= a.cfg.DetailDelayFactor
	}

	delayMs := base * jitter
	if max := float64(a.cfg.MaxDelayMs); delayMs > max {
		delayMs = max
	}
	return time.Duration(delayMs) * time.Millisecond
}

// ShouldRotateIdentity 在连续失败达到轮换阈值、或级别升至 High/Extreme
// 时为真。
func (a *Analyzer) ShouldRotateIdentity() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics.ConsecutiveBlocks >= a.cfg.RotateThreshold ||
		a.level >= LevelHigh
}

// ShouldTreatAsBanned 是更严格的信号：连续失败达到封禁阈值或级别为
// Extreme。编排器据此放弃当前身份而不是继续延迟重试。
func (a *Analyzer) ShouldTreatAsBanned() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics.ConsecutiveBlocks >= a.cfg.BanThreshold ||
		a.level == LevelExtreme
}

// Level 返回当前反爬级别。
func (a *Analyzer) Level() Level {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.level
}

// Snapshot 返回当前指标的只读快照。
func (a *Analyzer) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	sites := make(map[string]SiteStats, len(a.metrics.siteStats))
	for host, s := range a.metrics.siteStats {
		sites[host] = *s
	}
	return Summary{
		Level:             a.level.String(),
		TotalRequests:     a.metrics.TotalRequests,
		SuccessRate:       a.metrics.SuccessRate(),
		BlockRate:         a.metrics.BlockRate(),
		ConsecutiveBlocks: a.metrics.ConsecutiveBlocks,
		LastBlockedAt:     a.metrics.LastBlockedAt,
		SiteStats:         sites,
	}
}

func extractSite(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsAny(haystack string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(haystack, phrase) {
			return true
		}
	}
	return false
}
