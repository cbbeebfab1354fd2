package crawler

import (
	"strings"
	"unicode"

	"lawcrawler/internal/match"
)

// searchVariants 生成按效果递减排序的检索关键词序列：原始名称、规整
// 名称、再补回官方全称前缀。命中即停，后面的变体不再使用。
func searchVariants(name string) []string {
	variants := []string{strings.TrimSpace(name)}

	normalized := match.Normalize(name)
	appendUnique(&variants, normalized)

	// 仅对中文名称补回全称前缀；部分官方站点只收录全称
	if containsHan(normalized) {
		appendUnique(&variants, "中华人民共和国"+normalized)
	}

	return variants
}

func appendUnique(variants *[]string, v string) {
	if v == "" {
		return
	}
	for _, existing := range *variants {
		if existing == v {
			return
		}
	}
	*variants = append(*variants, v)
}

func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
