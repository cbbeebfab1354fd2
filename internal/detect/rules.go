package detect

import "time"

// Rules 是检测规则表。状态码、响应头签名、正文短语和时延阈值都是配置，
// 分级体系本身（None→Low→Medium→High→Extreme）是固定契约。
type Rules struct {
	RateLimitedCodes []int
	IPBannedCodes    []int
	BlockedCodes     []int

	CloudflareHeaders []string
	WafHeaders        []string
	RateLimitHeaders  []string

	CaptchaPhrases     []string
	CloudflarePhrases  []string
	WafPhrases         []string
	RateLimitedPhrases []string
	BlockedPhrases     []string

	// 异常时延判定
	SuspiciousFast   time.Duration // 小正文 + 快于此阈值 → 疑似固定拒绝页
	SuspiciousSlow   time.Duration // 慢于此阈值 → 疑似限流
	SmallBodyBytes   int           // 与 SuspiciousFast 配合的正文大小下限
	MinimalBodyBytes int           // 低于此长度的正文直接视为拒绝页
}

// DefaultRules 返回与生产站点观察相符的默认规则表。
// 短语表中英双语，覆盖政务站点常见的拦截文案。
func DefaultRules() Rules {
	return Rules{
		RateLimitedCodes: []int{429, 503},
		IPBannedCodes:    []int{403, 451},
		BlockedCodes:     []int{520, 521, 522, 523, 524},

		CloudflareHeaders: []string{"cf-ray", "cf-cache-status", "cf-mitigated"},
		WafHeaders:        []string{"x-waf-event", "x-security-check"},
		RateLimitHeaders:  []string{"retry-after", "x-ratelimit-remaining"},

		CaptchaPhrases: []string{
			"captcha", "prove you are human", "robot check",
			"验证码", "人机验证", "请验证您是人类", "机器人检测",
		},
		CloudflarePhrases: []string{
			"cloudflare", "cf-ray", "checking your browser",
			"正在检查您的浏览器",
		},
		WafPhrases: []string{
			"web application firewall", "security service",
			"安全防护", "网站防火墙", "安全服务",
		},
		RateLimitedPhrases: []string{
			"rate limit", "too many requests", "slow down",
			"频率限制", "请求过于频繁", "访问过于频繁", "请稍后再试",
		},
		BlockedPhrases: []string{
			"access denied", "security check", "blocked",
			"访问被拒绝", "禁止访问", "封禁", "拦截", "安全检查",
		},

		SuspiciousFast:   100 * time.Millisecond,
		SuspiciousSlow:   30 * time.Second,
		SmallBodyBytes:   1000,
		MinimalBodyBytes: 100,
	}
}
