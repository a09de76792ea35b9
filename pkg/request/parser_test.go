package request

import (
	"bytes"
	"testing"
)

func newHelper(s string) *helper {
	buf := &Buffer{Data: make([]byte, 4096)}
	copy(buf.Data, s)
	buf.Len = len(s)
	return &helper{buf: buf, nextRequest: -1}
}

func TestMethodFlag(t *testing.T) {
	cases := []struct {
		line string
		want Flags
	}{
		{"GET / HTTP/1.1", MethodGET},
		{"HEAD / HTTP/1.1", MethodHEAD},
		{"POST / HTTP/1.1", MethodPOST},
		{"PUT / HTTP/1.1", 0},
		{"GE", 0},
		{"", 0},
	}
	for _, c := range cases {
		if got := methodFlag([]byte(c.line)); got != c.want {
			t.Fatalf("methodFlag(%q) = %v, want %v", c.line, got, c.want)
		}
	}
}

func TestIdentifyPath(t *testing.T) {
	req := &Request{}
	h := newHelper("GET /hello?x=1#frag HTTP/1.1\r\n\r\n")
	p := identifyPath(req, h, len("GET "))
	if p < 0 {
		t.Fatalf("identifyPath failed")
	}
	if string(req.URL) != "/hello" {
		t.Fatalf("URL = %q", req.URL)
	}
	if string(h.queryString) != "x=1" {
		t.Fatalf("query = %q", h.queryString)
	}
	if string(h.fragment) != "frag" {
		t.Fatalf("fragment = %q", h.fragment)
	}
	if req.Flags&IsHTTP10 != 0 {
		t.Fatalf("1.1 request flagged as 1.0")
	}
	if h.buf.Data[p] != '\n' {
		t.Fatalf("returned offset not just past CR")
	}
}

func TestIdentifyPathHTTP10(t *testing.T) {
	req := &Request{}
	h := newHelper("GET / HTTP/1.0\r\n\r\n")
	if identifyPath(req, h, len("GET ")) < 0 {
		t.Fatalf("identifyPath failed")
	}
	if req.Flags&IsHTTP10 == 0 {
		t.Fatalf("1.0 request not flagged")
	}
}

func TestIdentifyPathMalformed(t *testing.T) {
	cases := []string{
		"GET / HTTP/1.1",         // no CR
		"GET /\r\n",              // line too short
		"GET hello HTTP/1.1\r\n", // path does not start with /
		"GET / XTTP/1.1\r\n",     // wrong version token
	}
	for _, c := range cases {
		req := &Request{}
		h := newHelper(c)
		if identifyPath(req, h, len("GET ")) >= 0 {
			t.Fatalf("identifyPath(%q) accepted", c)
		}
	}
}

func TestParseHeaders(t *testing.T) {
	block := "Accept-Encoding: gzip, deflate\r\n" +
		"Content-Length: 10\r\n" +
		"Content-Type: text/plain\r\n" +
		"Authorization: Basic abc\r\n" +
		"Connection: keep-alive\r\n" +
		"Cookie: a=b\r\n" +
		"If-Modified-Since: Wed, 21 Oct 2015 07:28:00 GMT\r\n" +
		"Range: bytes=0-5\r\n" +
		"X-Unknown: whatever\r\n" +
		"\r\nTAIL"
	h := newHelper(block)
	if !parseHeaders(h, 0) {
		t.Fatalf("parseHeaders failed")
	}
	if string(h.acceptEncoding) != "gzip, deflate" {
		t.Fatalf("acceptEncoding = %q", h.acceptEncoding)
	}
	if string(h.contentLength) != "10" {
		t.Fatalf("contentLength = %q", h.contentLength)
	}
	if string(h.contentType) != "text/plain" {
		t.Fatalf("contentType = %q", h.contentType)
	}
	if string(h.authorization) != "Basic abc" {
		t.Fatalf("authorization = %q", h.authorization)
	}
	if h.connection != 'k' {
		t.Fatalf("connection = %q", h.connection)
	}
	if string(h.cookie) != "a=b" {
		t.Fatalf("cookie = %q", h.cookie)
	}
	if string(h.rangeHdr) != "bytes=0-5" {
		t.Fatalf("range = %q", h.rangeHdr)
	}
	if h.nextRequest < 0 {
		t.Fatalf("nextRequest not recorded")
	}
	if got := h.buf.Data[h.nextRequest:h.buf.Len]; !bytes.Equal(got, []byte("TAIL")) {
		t.Fatalf("nextRequest points at %q", got)
	}
}

func TestParseHeadersTruncatedName(t *testing.T) {
	// Buffer ends in the middle of a recognized header name.
	h := newHelper("Range")
	if parseHeaders(h, 0) {
		t.Fatalf("truncated header name accepted")
	}
}

func TestParseHeadersNoTerminator(t *testing.T) {
	h := newHelper("Cookie: a=b\r\n")
	if !parseHeaders(h, 0) {
		t.Fatalf("parseHeaders failed")
	}
	if h.nextRequest >= 0 {
		t.Fatalf("nextRequest set without block terminator")
	}
	if string(h.cookie) != "a=b" {
		t.Fatalf("cookie = %q", h.cookie)
	}
}

func TestParseHeadersCaseSensitivePrefix(t *testing.T) {
	// The four-byte dispatch is exact, so a lowercased name is skipped.
	h := newHelper("cookie: a=b\r\n\r\n")
	if !parseHeaders(h, 0) {
		t.Fatalf("parseHeaders failed")
	}
	if h.cookie != nil {
		t.Fatalf("lowercased header matched")
	}
}

func TestComputeKeepAlive(t *testing.T) {
	cases := []struct {
		flags      Flags
		connection byte
		want       bool
	}{
		{IsHTTP10, 0, false},
		{IsHTTP10, 'k', true},
		{IsHTTP10, 'c', false},
		{0, 0, true},
		{0, 'k', true},
		{0, 'c', false},
	}
	for _, c := range cases {
		req := &Request{Flags: c.flags, Conn: &Conn{}}
		h := &helper{connection: c.connection}
		computeKeepAlive(req, h)
		if req.Conn.KeepAlive != c.want {
			t.Fatalf("flags %v connection %q: keepalive = %v, want %v",
				c.flags, c.connection, req.Conn.KeepAlive, c.want)
		}
	}
}
