package match

import (
	"regexp"
	"strings"
)

// boilerplatePrefixes 是名称比对前剥离的行政性前缀。
var boilerplatePrefixes = []string{
	"中华人民共和国",
	"the people's republic of china ",
}

// trailingAnnotation 匹配标题末尾的修订/修正标注，如“(2013修正)”、
// "(2018 Amendment)"、“(2024年修订)”。
var trailingAnnotation = regexp.MustCompile(
	`\s*\((\d{4}[^()]*|[^()]*(?:修订|修正|amendment|revised|revision)[^()]*)\)\s*$`)

var whitespaceRun = regexp.MustCompile(`\s+`)

var bracketReplacer = strings.NewReplacer(
	"（", "(",
	"）", ")",
	"【", "[",
	"】", "]",
	"　", " ",
)

// Normalize 将文档名称规整为可比对的形式：统一括号、折叠空白、剥离
// 行政性前缀与末尾的修订标注。对已规整的名称再次调用是无操作。
func Normalize(name string) string {
	s := bracketReplacer.Replace(name)
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	lower := strings.ToLower(s)
	for _, prefix := range boilerplatePrefixes {
		if strings.HasPrefix(lower, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			lower = strings.ToLower(s)
		}
	}

	for {
		stripped := trailingAnnotation.ReplaceAllString(s, "")
		stripped = strings.TrimSpace(stripped)
		if stripped == s || stripped == "" {
			break
		}
		s = stripped
	}

	return s
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
