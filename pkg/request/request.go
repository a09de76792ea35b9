// Package request implements HTTP/1.x request ingestion: reading from
// the connection, parsing the request line and headers, decoding the
// common header fields and driving a matched route handler. All parsed
// values alias the per-connection read buffer.
package request

import (
	"bytes"
	"io"
	"net/netip"
	"time"

	"github.com/NiceMatters/lwan/pkg/bytesutil"
	"github.com/NiceMatters/lwan/pkg/proxyproto"
)

// Status is the subset of HTTP status codes the ingestion path produces.
type Status int

const (
	StatusOK                 Status = 200
	StatusPartialContent     Status = 206
	StatusMovedPermanently   Status = 301
	StatusNotModified        Status = 304
	StatusBadRequest         Status = 400
	StatusNotAuthorized      Status = 401
	StatusForbidden          Status = 403
	StatusNotFound           Status = 404
	StatusNotAllowed         Status = 405
	StatusTimeout            Status = 408
	StatusTooLarge           Status = 413
	StatusRangeUnsatisfiable Status = 416
	StatusInternalError      Status = 500
	StatusNotImplemented     Status = 501
	StatusUnavailable        Status = 503
)

// Flags records the request method and the per-request toggles set while
// parsing and handling it.
type Flags uint32

const (
	MethodGET Flags = 1 << iota
	MethodHEAD
	MethodPOST
	AcceptDeflate
	AcceptGzip
	IsHTTP10
	AllowProxyReqs
	Proxied
	URLRewritten
)

// MethodMask extracts the method bits from f.
const MethodMask = MethodGET | MethodHEAD | MethodPOST

// KV is a decoded key/value pair. Both slices alias the read buffer
// (or its in-place decoded prefix).
type KV struct {
	Key   []byte
	Value []byte
}

// Buffer is the per-connection read buffer. Data keeps its full
// capacity; Len is the number of valid bytes.
type Buffer struct {
	Data []byte
	Len  int
}

// Action is what a connection task does when the parser must wait or
// give up.
type Action int

const (
	// MayResume parks the task until the socket is readable again.
	MayResume Action = iota
	// Abort tears the task down. Yield(Abort) never returns.
	Abort
)

// Socket is a non-blocking read endpoint. Read returns the raw errno
// (unix.EAGAIN, unix.EINTR) instead of blocking, and (0, nil) on an
// orderly peer shutdown.
type Socket interface {
	Read(p []byte) (int, error)
}

// Conn ties a request to its connection task.
type Conn struct {
	Sock   Socket
	Writer io.Writer
	// Yield suspends the task. With Abort it never returns.
	Yield func(Action)

	// Peer is the socket-level remote endpoint.
	Peer netip.AddrPort

	KeepAlive bool
	MustRead  bool
}

// Response is filled in by route handlers before the default writer
// sends it.
type Response struct {
	MimeType string
	Buffer   bytes.Buffer
	Headers  []KV
}

// Request is a single parsed HTTP request on a connection.
type Request struct {
	Flags Flags

	// URL is the decoded path with the matched route prefix stripped.
	// OriginalURL keeps the full decoded path.
	URL         []byte
	OriginalURL []byte

	Header struct {
		IfModifiedSince time.Time
		Range           struct {
			From int64
			To   int64
		}
	}

	QueryParams []KV
	PostData    []KV
	Cookies     []KV

	Proxy *proxyproto.Info
	Conn  *Conn

	// AuthRealm is set when authorization fails so the 401 response can
	// carry the right challenge.
	AuthRealm string

	Response Response
}

// Method returns the request method name, or "" before parsing.
func (r *Request) Method() string {
	switch r.Flags & MethodMask {
	case MethodGET:
		return "GET"
	case MethodHEAD:
		return "HEAD"
	case MethodPOST:
		return "POST"
	}
	return ""
}

// QueryParam looks up a decoded query string parameter.
func (r *Request) QueryParam(key string) ([]byte, bool) {
	return lookupKV(r.QueryParams, key)
}

// PostParam looks up a decoded form body parameter.
func (r *Request) PostParam(key string) ([]byte, bool) {
	return lookupKV(r.PostData, key)
}

// Cookie looks up a cookie by name.
func (r *Request) Cookie(key string) ([]byte, bool) {
	return lookupKV(r.Cookies, key)
}

// RemoteAddress resolves the client address, preferring the proxied
// peer when a PROXY preamble was decoded. A LOCAL proxy command
// resolves to "*unspecified*".
func (r *Request) RemoteAddress() string {
	if r.Flags&Proxied != 0 {
		if r.Proxy == nil || !r.Proxy.Src.Addr().IsValid() {
			return "*unspecified*"
		}
		return r.Proxy.Src.Addr().String()
	}
	if r.Conn != nil && r.Conn.Peer.Addr().IsValid() {
		return r.Conn.Peer.Addr().String()
	}
	return ""
}

// lookupKV binary-searches a sorted pair slice. The comparison is
// bounded by the probe's length, so a stored key beginning with the
// probe also matches; callers pass full keys in practice.
func lookupKV(kvs []KV, key string) ([]byte, bool) {
	lo, hi := 0, len(kvs)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		cmp := bytesutil.Strncmp([]byte(key), kvs[mid].Key, len(key))
		if cmp == 0 {
			return kvs[mid].Value, true
		}
		if cmp > 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return nil, false
}
