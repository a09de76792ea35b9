package request

import (
	"bytes"
	"sort"
	"time"

	"github.com/NiceMatters/lwan/pkg/bytesutil"
)

const maxKeyValuePairs = 32

// identityDecode accepts a value as-is. Unlike url decoding, an empty
// value is fine here.
func identityDecode(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// parseKeyValues splits src into key=value pairs separated by sep,
// decoding each side with decode. Any malformed pair, a failed decode
// or a trailing separator discards the whole collection; the result is
// sorted by key for binary search.
func parseKeyValues(src []byte, decode func([]byte) []byte, sep byte) []KV {
	if len(src) == 0 {
		return nil
	}

	kvs := make([]KV, 0, maxKeyValuePairs)
	ptr := src
	hasMore := true

	for hasMore && len(kvs) < maxKeyValuePairs {
		for len(ptr) > 0 && (ptr[0] == ' ' || ptr[0] == sep) {
			ptr = ptr[1:]
		}
		if len(ptr) == 0 {
			return nil
		}

		key, rest, found := bytes.Cut(ptr, []byte{'='})
		if !found {
			return nil
		}
		var value []byte
		value, ptr, hasMore = bytes.Cut(rest, []byte{sep})

		key = decode(key)
		value = decode(value)
		if key == nil || value == nil {
			return nil
		}
		kvs = append(kvs, KV{Key: key, Value: value})
	}

	sort.SliceStable(kvs, func(i, j int) bool {
		return bytes.Compare(kvs[i].Key, kvs[j].Key) < 0
	})
	return kvs
}

func parseCookies(req *Request, h *helper) {
	req.Cookies = parseKeyValues(h.cookie, identityDecode, ';')
}

func parseQueryString(req *Request, h *helper) {
	req.QueryParams = parseKeyValues(h.queryString, bytesutil.URLDecodeInPlace, '&')
}

func parsePostData(req *Request, h *helper) {
	const formURLEncoded = "application/x-www-form-urlencoded"

	if len(h.contentType) != len(formURLEncoded) {
		return
	}
	if string(h.contentType) != formURLEncoded {
		return
	}
	req.PostData = parseKeyValues(h.postData, bytesutil.URLDecodeInPlace, '&')
}

// httpDateLayout is the RFC 1123 fixed-GMT form used in request headers.
const httpDateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

func parseIfModifiedSince(req *Request, h *helper) {
	if len(h.ifModifiedSince) == 0 {
		return
	}
	t, err := time.Parse(httpDateLayout, string(h.ifModifiedSince))
	if err != nil {
		return
	}
	req.Header.IfModifiedSince = t
}

// scanDecimal consumes leading decimal digits, returning the value and
// how many bytes were consumed. Overflow counts as no match.
func scanDecimal(b []byte) (int64, int) {
	var n int64
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		d := int64(b[i] - '0')
		if n > (1<<63-1-d)/10 {
			return 0, 0
		}
		n = n*10 + d
		i++
	}
	return n, i
}

// parseRange accepts "bytes=from-to", "bytes=-to" and "bytes=from-".
// Unset endpoints are -1 (except the suffix form, whose start is 0);
// an absent or unparsable header leaves both endpoints at -1. Trailing
// bytes after the numbers are ignored.
func parseRange(req *Request, h *helper) {
	req.Header.Range.From, req.Header.Range.To = -1, -1
	if len(h.rangeHdr) <= len("bytes=") {
		return
	}
	r := h.rangeHdr
	if !bytes.HasPrefix(r, []byte("bytes=")) {
		return
	}
	r = r[len("bytes="):]

	from, to := int64(-1), int64(-1)
	if v, n := scanDecimal(r); n > 0 {
		from, to = v, -1
		if n < len(r) && r[n] == '-' {
			if v2, n2 := scanDecimal(r[n+1:]); n2 > 0 {
				to = v2
			}
		}
	} else if r[0] == '-' {
		if v, n := scanDecimal(r[1:]); n > 0 {
			from, to = 0, v
		}
	}
	req.Header.Range.From = from
	req.Header.Range.To = to
}

const (
	encDefl1 = uint32('d') | uint32('e')<<8 | uint32('f')<<16 | uint32('l')<<24
	encDefl2 = uint32(' ') | uint32('d')<<8 | uint32('e')<<16 | uint32('f')<<24
	encGzip1 = uint32('g') | uint32('z')<<8 | uint32('i')<<16 | uint32('p')<<24
	encGzip2 = uint32(' ') | uint32('g')<<8 | uint32('z')<<16 | uint32('i')<<24
)

// parseAcceptEncoding scans the comma-separated token list, checking
// the four-byte window at the start of each token.
func parseAcceptEncoding(req *Request, h *helper) {
	v := h.acceptEncoding
	if len(v) == 0 {
		return
	}
	for i := 0; i < len(v); {
		if len(v)-i >= 4 {
			switch pack4(v[i:]) {
			case encDefl1, encDefl2:
				req.Flags |= AcceptDeflate
			case encGzip1, encGzip2:
				req.Flags |= AcceptGzip
			}
		}
		c := bytes.IndexByte(v[i:], ',')
		if c < 0 {
			break
		}
		i += c + 1
	}
}
