package model

import (
	"fmt"
	"net/url"
	"time"
)

// Kind 表示身份的出口方式。
type Kind string

const (
	KindDirect  Kind = "direct"
	KindProxied Kind = "proxied"
)

// Tier 表示身份的来源层级。付费身份更稀缺，淘汰阈值更宽容。
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// NetworkIdentity 定义了一个网络出口身份的完整信息，是身份池的核心数据结构。
// 它在内存中使用，并通过 storage 持久化为纯文本，统计数据在重启后仍可用于诊断。
type NetworkIdentity struct {
	ID       string `json:"id"` // 唯一ID, 使用 "address:port-协议后缀"
	Kind     Kind   `json:"kind"`
	Tier     Tier   `json:"tier"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"` // "http", "https", "socks4", "socks5", "tls-tunnel"
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Source   string `json:"source"` // 来源: "config", 发现源站点名, "direct"

	// 健康状态与生命周期管理
	SuccessCount  int           `json:"success_count"`
	FailureCount  int           `json:"failure_count"` // 连续失败次数, 成功后清零
	LastUsedAt    time.Time     `json:"last_used_at"`
	LastCheckedAt time.Time     `json:"last_checked_at"`
	Latency       time.Duration `json:"latency"` // 0 表示未测试或测试失败
	Alive         bool          `json:"alive"`
	CooldownUntil time.Time     `json:"cooldown_until"`
}

// ProbeResult 是健康检查对单个身份的判定。检查器只产出判定，
// 状态回写由池在自己的锁下完成。
type ProbeResult struct {
	ID      string
	OK      bool
	Latency time.Duration
}

// Direct returns the identity representing an unproxied connection. It is
// always alive and never enters cooldown.
func Direct() *NetworkIdentity {
	return &NetworkIdentity{
		ID:     "direct",
		Kind:   KindDirect,
		Source: "direct",
		Alive:  true,
	}
}

// SuccessRate 返回累计成功率。无历史时为 0。
func (n *NetworkIdentity) SuccessRate() float64 {
	total := n.SuccessCount + n.FailureCount
	if total == 0 {
		return 0
	}
	return float64(n.SuccessCount) / float64(total)
}

// InCooldown reports whether the identity is temporarily excluded.
func (n *NetworkIdentity) InCooldown(now time.Time) bool {
	return now.Before(n.CooldownUntil)
}

// MarkSuccess 记录一次成功使用并复活身份。
func (n *NetworkIdentity) MarkSuccess(latency time.Duration) {
	n.SuccessCount++
	n.FailureCount = 0
	n.LastUsedAt = time.Now()
	if latency > 0 {
		n.Latency = latency
	}
	n.Alive = true
}

// MarkFailure 记录一次失败。连续失败次数越过层级阈值后，身份被标记为死亡
// 并进入冷却期；不做硬删除，统计保留用于诊断。
// 付费身份的阈值必须严格高于免费身份（配置层强制）。
func (n *NetworkIdentity) MarkFailure(deathThreshold int, cooldown time.Duration) {
	n.FailureCount++
	n.LastUsedAt = time.Now()

	if n.Kind == KindDirect {
		return // 直连身份不会死亡
	}
	if n.FailureCount > deathThreshold {
		n.Alive = false
		n.CooldownUntil = time.Now().Add(cooldown)
	}
}

// ProxyURL 返回标准库/拨号器可用的代理URL。直连身份返回空串。
func (n *NetworkIdentity) ProxyURL() string {
	if n.Kind == KindDirect {
		return ""
	}
	scheme := n.Protocol
	if scheme == "tls-tunnel" {
		scheme = "https"
	}
	if n.Username != "" {
		return fmt.Sprintf("%s://%s:%s@%s:%d",
			scheme, url.QueryEscape(n.Username), url.QueryEscape(n.Password), n.Address, n.Port)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, n.Address, n.Port)
}

func (n *NetworkIdentity) String() string {
	return fmt.Sprintf("%s [%s:%d] (success rate: %.1f%%, latency: %s)",
		n.ID, n.Address, n.Port, n.SuccessRate()*100, n.Latency)
}
