package rewrite

import (
	"regexp"
	"strings"
)

var (
	// url(...) with double, single, entity-encoded or no quotes.
	cssURLPattern = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|&quot;(.*?)&quot;|([^)\s'"]*))\s*\)`)
	// @import "..." / @import '...'; the url(...) form is covered above.
	cssImportPattern = regexp.MustCompile(`(?i)@import\s+(?:"([^"]*)"|'([^']*)')`)
)

// quotes per capture group of cssURLPattern
var urlTokenQuotes = []string{`"`, `'`, "&quot;", ""}

// CSS rewrites url() tokens and @import targets of a stylesheet.
func CSS(css string, ctx Context) string {
	lower := strings.ToLower(css)
	if !strings.Contains(lower, "url(") && !strings.Contains(lower, "@import") {
		return css
	}
	return rewriteImports(rewriteURLTokens(css, ctx), ctx)
}

// InlineStyle rewrites only the url() tokens of a style attribute value.
func InlineStyle(style string, ctx Context) string {
	if !strings.Contains(strings.ToLower(style), "url(") {
		return style
	}
	return rewriteURLTokens(style, ctx)
}

func rewriteURLTokens(css string, ctx Context) string {
	return replaceAllSubmatchFunc(cssURLPattern, css, func(match string, groups []int) string {
		group, raw := firstGroup(match, groups)
		if group < 0 {
			return match
		}
		proxied, ok := ctx.proxyURL(decodeAmp(raw))
		if !ok {
			return match
		}
		quote := urlTokenQuotes[group]
		return match[:4] + quote + proxied + quote + ")"
	})
}

func rewriteImports(css string, ctx Context) string {
	return replaceAllSubmatchFunc(cssImportPattern, css, func(match string, groups []int) string {
		group, raw := firstGroup(match, groups)
		if group < 0 {
			return match
		}
		proxied, ok := ctx.proxyURL(raw)
		if !ok {
			return match
		}
		// Keep "@import" and its whitespace, swap the quoted target.
		start := groups[2*(group+1)] - 1
		quote := match[start : start+1]
		return match[:start] + quote + proxied + quote
	})
}

// replaceAllSubmatchFunc is ReplaceAllStringFunc with submatch offsets
// relative to the match.
func replaceAllSubmatchFunc(re *regexp.Regexp, src string, fn func(match string, groups []int) string) string {
	locs := re.FindAllStringSubmatchIndex(src, -1)
	if len(locs) == 0 {
		return src
	}

	var b strings.Builder
	b.Grow(len(src) + len(locs)*64)
	last := 0
	for _, loc := range locs {
		b.WriteString(src[last:loc[0]])
		rel := make([]int, len(loc))
		for i, v := range loc {
			if v >= 0 {
				rel[i] = v - loc[0]
			} else {
				rel[i] = -1
			}
		}
		b.WriteString(fn(src[loc[0]:loc[1]], rel))
		last = loc[1]
	}
	b.WriteString(src[last:])
	return b.String()
}

// firstGroup returns the index (0-based, excluding the whole match) and text
// of the first participating capture group.
func firstGroup(match string, groups []int) (int, string) {
	for g := 1; 2*g+1 < len(groups); g++ {
		if groups[2*g] >= 0 {
			return g - 1, match[groups[2*g]:groups[2*g+1]]
		}
	}
	return -1, ""
}
