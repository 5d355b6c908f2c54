package relay

import (
	"mime"
	"net/http"
	"strings"
)

// Class selects the processing path for a response body.
type Class int

const (
	ClassHTML Class = iota
	ClassCSS
	ClassText
	ClassBinary
	ClassOpaque
)

// String returns the metrics label of the class.
func (c Class) String() string {
	switch c {
	case ClassHTML:
		return "html"
	case ClassCSS:
		return "css"
	case ClassText:
		return "text"
	case ClassBinary:
		return "binary"
	case ClassOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Classify dispatches on the declared content type only.
func Classify(contentType string) Class {
	media := mediaType(contentType)
	switch {
	case media == "":
		return ClassHTML
	case strings.HasPrefix(media, "image/"),
		strings.HasPrefix(media, "font/"),
		strings.HasPrefix(media, "audio/"),
		strings.HasPrefix(media, "video/"),
		media == "application/octet-stream":
		return ClassBinary
	case media == "text/css":
		return ClassCSS
	case strings.Contains(media, "javascript"), strings.Contains(media, "json"):
		return ClassText
	case media == "text/html", media == "application/xhtml+xml":
		return ClassHTML
	default:
		return ClassOpaque
	}
}

// Cacheable reports whether a response of class c to method may be stored.
// HTML embeds a session specific proxy base and is never stored.
func Cacheable(method string, c Class) bool {
	return method == http.MethodGet && c != ClassHTML
}

func mediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Lenient fallback for values like "text/html;;charset=utf-8".
		media, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(media))
}
