package detect

// Verdict 是单次响应的反爬检测结论。只在滚动指标窗口内存在，不做持久化。
type Verdict int

const (
	VerdictNormal Verdict = iota
	VerdictBlocked
	VerdictCaptcha
	VerdictRateLimited
	VerdictWafDetected
	VerdictIPBanned
	VerdictCloudflareChallenge
)

func (v Verdict) String() string {
	switch v {
	case VerdictNormal:
		return "normal"
	case VerdictBlocked:
		return "blocked"
	case VerdictCaptcha:
		return "captcha"
	case VerdictRateLimited:
		return "rate_limited"
	case VerdictWafDetected:
		return "waf_detected"
	case VerdictIPBanned:
		return "ip_banned"
	case VerdictCloudflareChallenge:
		return "cloudflare_challenge"
	default:
		return "unknown"
	}
}

// Level 是从当前指标推导出的反爬严重级别。
// 它永远由指标重新计算，不做手工增减，因此与指标始终一致。
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelExtreme
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelExtreme:
		return "extreme"
	default:
		return "unknown"
	}
}

// OperationKind 区分不同操作的延迟系数。
type OperationKind string

const (
	OpSearch  OperationKind = "search"
	OpRetry   OperationKind = "retry"
	OpDetail  OperationKind = "detail"
	OpDefault OperationKind = "default"
)
