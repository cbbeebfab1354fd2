package match

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"lawcrawler/internal/shared/logger"
)

// classMarkers 标记一条结果属于解释性/事务性文件而非主体法规。
// 目标名称未含这些标记而候选含有时，施加重罚，防止“看似相近但类别不对”
// 的结果胜出（如用“关于…的解释”顶替对主体法律的请求）。
var classMarkers = []string{
	"解释", "批复", "通知", "意见", "答复", "复函",
	"interpretation", "notice", "opinion", "reply", "circular",
}

// stopTokens 在关键词加分时忽略的通用词。
var stopTokens = map[string]struct{}{
	"law": {}, "regulation": {}, "regulations": {}, "of": {}, "the": {},
	"on": {}, "for": {}, "and": {}, "act": {}, "rules": {},
	"法": {}, "条例": {}, "办法": {}, "规定": {}, "细则": {},
}

// Resolver 从嘈杂的搜索结果中选出目标文档的最佳候选。
// 纯函数式：无共享状态，可被任意并发调用。
type Resolver struct {
	threshold float64
}

// NewResolver 创建解析器。threshold 是固定的接受阈值：低于它即判为
// 无匹配，哪怕它已经是一批差结果中最好的。
func NewResolver(threshold float64) *Resolver {
	return &Resolver{threshold: threshold}
}

// Resolve 返回目标名称的最佳候选，无人越过阈值时返回 nil。
//
// 越过阈值的候选之间采用两级排序：效力状态（现行有效优先于已废止/未确认）
// 先于评分。这是有意的策略：宁可取低分的现行文本，也不取高分的失效文本。
func (r *Resolver) Resolve(targetName string, candidates []Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	l := logger.WithComponent("Match")
	target := Normalize(targetName)

	type scored struct {
		cand  *Candidate
		score float64
	}
	var qualified []scored

	for i := range candidates {
		cand := &candidates[i]
		score := r.Score(targetName, cand.Title)
		if score >= r.threshold {
			qualified = append(qualified, scored{cand: cand, score: score})
		}
		l.Debug().
			Str("target", target).
			Str("candidate", cand.Title).
			Float64("score", score).
			Msg("Candidate scored.")
	}

	if len(qualified) == 0 {
		l.Warn().Str("target", targetName).Int("candidates", len(candidates)).Msg("No candidate cleared the acceptance threshold.")
		return nil
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		vi, vj := qualified[i].cand.confirmedValid(), qualified[j].cand.confirmedValid()
		if vi != vj {
			return vi
		}
		if qualified[i].score != qualified[j].score {
			return qualified[i].score > qualified[j].score
		}
		return qualified[i].cand.PublishSeq > qualified[j].cand.PublishSeq
	})

	winner := qualified[0]
	l.Info().
		Str("target", targetName).
		Str("matched", winner.cand.Title).
		Float64("score", winner.score).
		Msg("Match resolved.")
	return winner.cand
}

// Score 计算候选标题对目标名称的匹配分，范围 [0,1]。
func (r *Resolver) Score(targetName, candidateTitle string) float64 {
	target := strings.ToLower(Normalize(targetName))
	cand := strings.ToLower(Normalize(candidateTitle))
	if target == "" || cand == "" {
		return 0
	}

	var score float64
	switch {
	case target == cand:
		// 规整后完全一致
		score = 1.0
	case strings.Contains(cand, target):
		// 包含关系按长度比放大：近乎完整的包含远高于只言片语的巧合
		score = 0.8 + lengthRatio(target, cand)*0.2
	case strings.Contains(target, cand):
		score = 0.8 + lengthRatio(cand, target)*0.2
	default:
		score = editSimilarity(target, cand) + keywordBonus(target, cand)
	}

	// 类别惩罚：候选是解释/通知类文件而目标不是
	if classMismatch(target, cand) {
		score *= 0.3
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// lengthRatio 返回 len(inner)/len(outer)，以 rune 计。
func lengthRatio(inner, outer string) float64 {
	innerLen := len([]rune(inner))
	outerLen := len([]rune(outer))
	if outerLen == 0 {
		return 0
	}
	return float64(innerLen) / float64(outerLen)
}

// editSimilarity 是 [0,1] 的编辑距离相似度。
func editSimilarity(a, b string) float64 {
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	sim := 1 - float64(dist)/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}

// keywordBonus 按共享的有意义关键词数量加分，上限 0.15。
func keywordBonus(target, cand string) float64 {
	candTokens := meaningfulTokens(cand)
	shared := 0
	for token := range meaningfulTokens(target) {
		if _, ok := candTokens[token]; ok {
			shared++
		}
	}
	bonus := float64(shared) * 0.05
	if bonus > 0.15 {
		bonus = 0.15
	}
	return bonus
}

// meaningfulTokens 对有空格的文本按词切分，对无空格的 CJK 文本退化为
// 双字组合。停用词被忽略。
func meaningfulTokens(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	fields := strings.Fields(s)
	if len(fields) > 1 {
		for _, f := range fields {
			if _, stop := stopTokens[f]; stop {
				continue
			}
			tokens[f] = struct{}{}
		}
		return tokens
	}

	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		bigram := string(runes[i : i+2])
		if _, stop := stopTokens[bigram]; stop {
			continue
		}
		tokens[bigram] = struct{}{}
	}
	return tokens
}

func classMismatch(target, cand string) bool {
	for _, marker := range classMarkers {
		if strings.Contains(cand, marker) && !strings.Contains(target, marker) {
			return true
		}
	}
	return false
}
