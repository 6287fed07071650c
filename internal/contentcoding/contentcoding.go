// Package contentcoding applies the codec(s) named in a Content-Encoding
// header to an already chunk-decoded response body. Grounded on
// sardanioss-httpcloak's decompress function (same codec set, same
// one-shot io.ReadAll-a-Reader shape), generalized from a single token to
// the comma-separated left-to-right chain real deployments send (e.g.
// "gzip, br"), and from "unknown token returns the body as-is" at the call
// level to per-token passthrough within the chain.
package contentcoding

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/fetchsocks/fetchsocks/internal/fetcherr"
)

// Decode applies every token in contentEncoding (comma-separated, applied
// left to right) to body. It returns the fully decoded body and the
// remaining Content-Encoding value: empty once every token in the chain has
// been recognized and decoded, or the original value unchanged if any
// token was left unrecognized (so a caller can still see that an undecoded
// content-coding remains applied; tokens that were decoded are not removed
// from it). A recognized token that fails to decode is a fatal error.
func Decode(body []byte, contentEncoding string) ([]byte, string, error) {
	if contentEncoding == "" {
		return body, "", nil
	}

	tokens := strings.Split(contentEncoding, ",")
	allRecognized := true

	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		decoder, ok := decoders[tok]
		if !ok {
			// Unknown token: body left as-is for this step, header retained.
			allRecognized = false
			continue
		}

		decoded, err := decoder(body)
		if err != nil {
			return nil, "", fetcherr.NewDecodeError(tok, err)
		}
		body = decoded
	}

	if allRecognized {
		return body, "", nil
	}
	return body, contentEncoding, nil
}

var decoders = map[string]func([]byte) ([]byte, error){
	"gzip":    decodeGzip,
	"deflate": decodeDeflate,
	"br":      decodeBrotli,
	"zstd":    decodeZstd,
}

func decodeGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// decodeDeflate tries raw deflate first (the RFC 1951 framing most servers
// actually send despite the "deflate" name), falls back to zlib-wrapped
// deflate (RFC 1950, what some servers mean by "deflate"), and finally
// falls back to gzip (seen from misconfigured servers that mislabel gzip
// as deflate). The last failure is the one returned if all three fail.
func decodeDeflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	if out, err := io.ReadAll(r); err == nil {
		return out, nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err == nil {
		defer zr.Close()
		if out, err := io.ReadAll(zr); err == nil {
			return out, nil
		}
	}

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("deflate: tried raw, zlib, and gzip framing: %w", err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("deflate: tried raw, zlib, and gzip framing: %w", err)
	}
	return out, nil
}

func decodeBrotli(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}

func decodeZstd(data []byte) ([]byte, error) {
	d, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return io.ReadAll(d)
}
