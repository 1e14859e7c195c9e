package lending

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizeText は入力文字列を NFKC 正規化して前後の空白を落とす（全角英数 → 半角など）
func normalizeText(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// foldKey returns the case-folded search key of s.
// A cases.Caser is stateful, so one is built per call.
func foldKey(s string) string {
	return cases.Fold().String(normalizeText(s))
}

// containsFold reports whether needle occurs in haystack ignoring case and width.
func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(foldKey(haystack), foldKey(needle))
}

// likeContains builds a LIKE pattern matching s anywhere, escaping wildcards.
func likeContains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(normalizeText(s)) + "%"
}
