package relay

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodeContent undoes a Content-Encoding the upstream applied despite the
// identity request. ok is false for encodings that are not understood; the
// body is then returned untouched.
func decodeContent(body []byte, encoding string, limit int64) (decoded []byte, ok bool, err error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "" || encoding == "identity" {
		return body, true, nil
	}
	if len(body) == 0 {
		return body, true, nil
	}

	var rc io.ReadCloser
	switch encoding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, true, fmt.Errorf("gzip header: %w", err)
		}
		rc = zr
	case "deflate":
		// Most servers send zlib wrapped deflate, a few send it raw.
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			rc = flate.NewReader(bytes.NewReader(body))
		} else {
			rc = zr
		}
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(body), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, true, fmt.Errorf("zstd header: %w", err)
		}
		rc = zr.IOReadCloser()
	default:
		return body, false, nil
	}
	defer rc.Close()

	decoded, err = readLimited(rc, limit)
	if err != nil {
		return nil, true, fmt.Errorf("decode %s body: %w", encoding, err)
	}
	return decoded, true, nil
}

// readLimited reads r fully, failing with ErrBodyTooLarge past limit bytes.
// A limit <= 0 disables the check.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// ReadLimited is readLimited for Fetcher implementations.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	return readLimited(r, limit)
}
