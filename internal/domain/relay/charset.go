package relay

import (
	"bytes"
	"io"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// minDetectConfidence is the chardet score below which its guess is ignored.
const minDetectConfidence = 50

// detectSample bounds the bytes handed to the statistical detector.
const detectSample = 64 << 10

// toUTF8 transcodes a text body to UTF-8. The declared charset wins, then a
// BOM or <meta> declaration, then statistical detection. Undecodable input is
// returned as is.
func toUTF8(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}

	_, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain {
		if utf8.Valid(body) {
			return string(body)
		}
		// windows-1252 is also the fallback when nothing was declared.
		if name == "windows-1252" {
			if detected := detectCharset(body); detected != "" {
				name = detected
			}
		}
	}
	if name == "utf-8" {
		return string(body)
	}

	r, err := charset.NewReaderLabel(name, bytes.NewReader(body))
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

func detectCharset(body []byte) string {
	sample := body
	if len(sample) > detectSample {
		sample = sample[:detectSample]
	}
	result, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || result == nil || result.Confidence < minDetectConfidence {
		return ""
	}
	if enc, _ := charset.Lookup(result.Charset); enc == nil {
		return ""
	}
	return result.Charset
}
