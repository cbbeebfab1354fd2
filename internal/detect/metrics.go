package detect

import "time"

// SiteStats 是单个站点的检测计数。
type SiteStats struct {
	Total       int `json:"total"`
	Success     int `json:"success"`
	Blocked     int `json:"blocked"`
	Captcha     int `json:"captcha"`
	RateLimited int `json:"rate_limited"`
}

// Metrics 是进程级的滚动检测计数。内部字段只在 Analyzer 的锁保护下变更。
type Metrics struct {
	TotalRequests       int
	BlockedRequests     int
	CaptchaRequests     int
	RateLimitedRequests int
	SuccessfulRequests  int

	ConsecutiveBlocks int
	LastBlockedAt     time.Time

	siteStats map[string]*SiteStats
}

// BlockRate 返回滚动阻断率。
func (m *Metrics) BlockRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	blocked := m.BlockedRequests + m.CaptchaRequests + m.RateLimitedRequests
	return float64(blocked) / float64(m.TotalRequests)
}

// SuccessRate 返回滚动成功率。
func (m *Metrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}

func (m *Metrics) site(host string) *SiteStats {
	if m.siteStats == nil {
		m.siteStats = make(map[string]*SiteStats)
	}
	s, ok := m.siteStats[host]
	if !ok {
		s = &SiteStats{}
		m.siteStats[host] = s
	}
	return s
}

// Summary 是对外暴露的指标快照。
type Summary struct {
	Level             string                `json:"level"`
	TotalRequests     int                   `json:"total_requests"`
	SuccessRate       float64               `json:"success_rate"`
	BlockRate         float64               `json:"block_rate"`
	ConsecutiveBlocks int                   `json:"consecutive_blocks"`
	LastBlockedAt     time.Time             `json:"last_blocked_at"`
	SiteStats         map[string]SiteStats `json:"site_stats"`
}
