package rewrite

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/GriffinCanCode/webrelay/backend/internal/domain/resolve"
)

var (
	// tagPattern matches one start or end tag anchored at the scan position.
	tagPattern = regexp.MustCompile(`^<(/?)([a-zA-Z][a-zA-Z0-9:._-]*)((?:\s*[^\s"'>/=]+(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'>]+))?)*)\s*(/?)>`)
	// attrPattern splits the attribute section of a tag.
	attrPattern = regexp.MustCompile(`(\s*)([^\s"'>/=]+)(?:(\s*=\s*)("[^"]*"|'[^']*'|[^\s"'>]+))?`)
	// basePattern finds the first <base href> of a document.
	basePattern = regexp.MustCompile(`(?is)<base\b[^>]*?\bhref\s*=\s*("[^"]*"|'[^']*'|[^\s"'>]+)`)
	// refreshPattern finds the url part of a meta refresh content value.
	refreshPattern = regexp.MustCompile(`(?i)^(\s*\d*\s*[;,]\s*url\s*=\s*)(.+)$`)
)

// rawTextElements hold text, not markup, up to their end tag.
var rawTextElements = map[string]bool{
	"script":   true,
	"style":    true,
	"textarea": true,
	"title":    true,
}

// urlAttributes are rewritten on any element.
var urlAttributes = map[string]bool{
	"href":          true,
	"src":           true,
	"action":        true,
	"poster":        true,
	"data":          true,
	"data-src":      true,
	"data-original": true,
	"data-lazy":     true,
	"background":    true,
	"xlink:href":    true,
	"formaction":    true,
}

// srcsetAttributes hold comma separated candidate lists.
var srcsetAttributes = map[string]bool{
	"srcset":      true,
	"data-srcset": true,
}

// strippedAttributes would make the browser reject proxied subresources.
var strippedAttributes = map[string]bool{
	"integrity":   true,
	"nonce":       true,
	"crossorigin": true,
}

// blockingMeta are http-equiv values removed from the document.
var blockingMeta = map[string]bool{
	"content-security-policy":             true,
	"content-security-policy-report-only": true,
	"x-frame-options":                     true,
}

// HTML rewrites a complete document for ctx.
func HTML(doc string, ctx Context) string {
	ctx = documentBase(doc, ctx)
	inject := !strings.Contains(doc, snippetMarker)

	var b strings.Builder
	b.Grow(len(doc) + len(doc)/4 + len(snippetTemplate))

	injected := !inject
	bodyAt := -1
	i := 0
	for i < len(doc) {
		lt := strings.IndexByte(doc[i:], '<')
		if lt < 0 {
			b.WriteString(doc[i:])
			break
		}
		b.WriteString(doc[i : i+lt])
		i += lt
		rest := doc[i:]

		if strings.HasPrefix(rest, "<!--") {
			end := strings.Index(rest[4:], "-->")
			if end < 0 {
				b.WriteString(rest)
				break
			}
			b.WriteString(rest[:end+7])
			i += end + 7
			continue
		}

		m := tagPattern.FindStringSubmatchIndex(rest)
		if m == nil {
			b.WriteByte('<')
			i++
			continue
		}
		tagText := rest[:m[1]]
		closing := m[3] > m[2]
		name := strings.ToLower(rest[m[4]:m[5]])
		i += m[1]

		if closing {
			if name == "head" && !injected {
				b.WriteString(Snippet(ctx))
				injected = true
			}
			b.WriteString(tagText)
			continue
		}

		selfClosing := m[9] > m[8]
		b.WriteString(rewriteTag(tagText, name, rest[m[6]:m[7]], rest[m[8]:m[9]], ctx))
		if name == "body" && bodyAt < 0 {
			bodyAt = b.Len()
		}

		if rawTextElements[name] && !selfClosing {
			end := indexFold(doc[i:], "</"+name)
			if end < 0 {
				end = len(doc) - i
			}
			content := doc[i : i+end]
			if name == "style" {
				content = CSS(content, ctx)
			}
			b.WriteString(content)
			i += end
		}
	}

	out := b.String()
	if injected {
		return out
	}
	if bodyAt >= 0 {
		return out[:bodyAt] + Snippet(ctx) + out[bodyAt:]
	}
	return Snippet(ctx) + out
}

// rewriteTag returns the rewritten text of one start tag. An empty string
// removes the tag.
func rewriteTag(tagText, name, attrs, selfClose string, ctx Context) string {
	if attrs == "" {
		return tagText
	}

	switch name {
	case "base":
		if hasAttribute(attrs, "href") {
			return ""
		}
	case "meta":
		if blockingMeta[strings.ToLower(strings.TrimSpace(attributeValue(attrs, "http-equiv")))] {
			return ""
		}
	}

	isRefresh := name == "meta" &&
		strings.EqualFold(strings.TrimSpace(attributeValue(attrs, "http-equiv")), "refresh")

	var b strings.Builder
	b.Grow(len(tagText) + 128)
	b.WriteString(tagText[:1+len(name)])

	last := 0
	for _, loc := range attrPattern.FindAllStringSubmatchIndex(attrs, -1) {
		b.WriteString(attrs[last:loc[0]])
		last = loc[1]

		attrName := strings.ToLower(attrs[loc[4]:loc[5]])
		if strippedAttributes[attrName] {
			continue
		}
		if loc[8] < 0 {
			b.WriteString(attrs[loc[0]:loc[1]])
			continue
		}

		quote, value := splitQuoted(attrs[loc[8]:loc[9]])
		var rewritten string
		switch {
		case urlAttributes[attrName]:
			rewritten = rewriteAttributeURL(value, ctx)
		case srcsetAttributes[attrName]:
			rewritten = Srcset(value, ctx)
		case attrName == "style":
			rewritten = InlineStyle(value, ctx)
		case attrName == "content" && isRefresh:
			rewritten = rewriteRefresh(value, ctx)
		default:
			b.WriteString(attrs[loc[0]:loc[1]])
			continue
		}

		b.WriteString(attrs[loc[0]:loc[8]])
		b.WriteString(quote + rewritten + quote)
	}
	b.WriteString(attrs[last:])

	if selfClose != "" {
		b.WriteString(" /")
	}
	b.WriteByte('>')
	return b.String()
}

func rewriteAttributeURL(value string, ctx Context) string {
	if proxied, ok := ctx.proxyURL(decodeAmp(strings.TrimSpace(value))); ok {
		return proxied
	}
	return value
}

func rewriteRefresh(value string, ctx Context) string {
	sub := refreshPattern.FindStringSubmatch(value)
	if sub == nil {
		return value
	}
	target := strings.Trim(strings.TrimSpace(sub[2]), `'"`)
	if proxied, ok := ctx.proxyURL(decodeAmp(target)); ok {
		return sub[1] + proxied
	}
	return value
}

// documentBase applies a <base href> declaration to ctx.
func documentBase(doc string, ctx Context) Context {
	sub := basePattern.FindStringSubmatch(doc)
	if sub == nil || ctx.DocumentURL == nil {
		return ctx
	}
	_, raw := splitQuoted(sub[1])
	absolute, err := resolve.Resolve(decodeAmp(raw), ctx.DocumentURL)
	if err != nil {
		return ctx
	}
	base, err := url.Parse(absolute)
	if err != nil {
		return ctx
	}
	return ctx.withBase(base)
}

func hasAttribute(attrs, name string) bool {
	for _, sub := range attrPattern.FindAllStringSubmatch(attrs, -1) {
		if strings.EqualFold(sub[2], name) {
			return true
		}
	}
	return false
}

func attributeValue(attrs, name string) string {
	for _, sub := range attrPattern.FindAllStringSubmatch(attrs, -1) {
		if strings.EqualFold(sub[2], name) {
			_, value := splitQuoted(sub[4])
			return value
		}
	}
	return ""
}

// splitQuoted separates the quote character from an attribute value.
func splitQuoted(raw string) (string, string) {
	if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0] {
		return raw[:1], raw[1 : len(raw)-1]
	}
	return "", raw
}

// decodeAmp undoes the &amp; double encoding upstream markup often carries.
func decodeAmp(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	s = strings.ReplaceAll(s, "&amp;", "&")
	return strings.ReplaceAll(s, "&#38;", "&")
}

// indexFold is a case-insensitive strings.Index for an ASCII needle.
func indexFold(s, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], needle) {
			return i
		}
	}
	return -1
}
