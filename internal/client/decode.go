package client

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// SupportedEncodings are the content codings decodeBody understands, in the
// order they are advertised upstream.
var SupportedEncodings = []string{"gzip", "deflate", "br", "zstd"}

// decodeBody undoes the codings listed in Content-Encoding. Codings are
// applied in listed order, so they are removed last to first. The decoded size
// is bounded by limit to guard against compression bombs.
func decodeBody(body []byte, contentEncoding []string, limit int64) ([]byte, error) {
	var codings []string
	for _, v := range contentEncoding {
		for _, c := range strings.Split(v, ",") {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" && c != "identity" {
				codings = append(codings, c)
			}
		}
	}

	for i := len(codings) - 1; i >= 0; i-- {
		r, err := newDecoder(codings[i], body)
		if err != nil {
			return nil, err
		}
		out, err := readLimited(r, limit)
		_ = r.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", codings[i], err)
		}
		body = out
	}
	return body, nil
}

func newDecoder(coding string, body []byte) (io.ReadCloser, error) {
	src := bytes.NewReader(body)
	switch coding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case "deflate":
		// "deflate" is zlib-wrapped per RFC 9110, but some servers send raw deflate.
		if isZlib(body) {
			zr, err := zlib.NewReader(src)
			if err != nil {
				return nil, fmt.Errorf("deflate: %w", err)
			}
			return zr, nil
		}
		return flate.NewReader(src), nil
	case "br":
		return io.NopCloser(brotli.NewReader(src)), nil
	case "zstd":
		zr, err := zstd.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", coding)
	}
}

// isZlib reports whether b starts with a valid zlib header.
func isZlib(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	cmf, flg := b[0], b[1]
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
