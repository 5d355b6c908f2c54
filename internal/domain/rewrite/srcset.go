package rewrite

import (
	"strings"
	"unicode"
)

// Srcset rewrites the URL of every candidate in a srcset value, keeping
// each width or density descriptor.
func Srcset(value string, ctx Context) string {
	if strings.TrimSpace(value) == "" {
		return value
	}

	candidates := strings.Split(value, ",")
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}

		rawURL, descriptor := candidate, ""
		if idx := strings.IndexFunc(candidate, unicode.IsSpace); idx >= 0 {
			rawURL = candidate[:idx]
			descriptor = strings.TrimSpace(candidate[idx:])
		}

		if proxied, ok := ctx.proxyURL(decodeAmp(rawURL)); ok {
			rawURL = proxied
		}
		if descriptor != "" {
			out = append(out, rawURL+" "+descriptor)
		} else {
			out = append(out, rawURL)
		}
	}
	return strings.Join(out, ", ")
}
