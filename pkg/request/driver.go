package request

import (
	"github.com/NiceMatters/lwan/pkg/bytesutil"
	"github.com/NiceMatters/lwan/pkg/proxyproto"
	"github.com/NiceMatters/lwan/pkg/telemetry"
)

// HandlerFlags select which request fields a route wants parsed and how
// the driver treats the route.
type HandlerFlags uint32

const (
	ParseQueryString HandlerFlags = 1 << iota
	ParseIfModifiedSince
	ParseRange
	ParseAcceptEncoding
	ParseCookies
	ParsePostData
	MustAuthorize
	RemoveLeadingSlash
	CanRewriteURL
)

// Handler produces a response for a prepared request. Handlers fill
// req.Response and return the status to send.
type Handler func(req *Request) Status

// Route is a registered URL prefix and its handler.
type Route struct {
	Prefix  string
	Flags   HandlerFlags
	Handler Handler

	// Basic auth settings, used when MustAuthorize is set.
	Realm        string
	PasswordFile string
}

// Router resolves a decoded URL to the route with the longest
// registered prefix.
type Router interface {
	LookupPrefix(url []byte) *Route
}

// Responder writes responses on the request's connection. SendDefault
// emits the stock page for a status; Send emits the handler-built
// response.
type Responder interface {
	SendDefault(req *Request, status Status)
	Send(req *Request, status Status)
}

// Authorizer validates an Authorization header value for a realm.
type Authorizer interface {
	Authorize(authorization []byte, realm, passwordFile string) bool
}

// Engine drives requests from socket bytes to a written response.
type Engine struct {
	Routes Router
	Resp   Responder
	Auth   Authorizer
}

// maxRewrites bounds handler-driven URL rewrites per request; past it
// the request fails with a 500.
const maxRewrites = 4

func (e *Engine) parseHTTPRequest(req *Request, h *helper) Status {
	data := h.buf.Data[:h.buf.Len]
	b := data

	if req.Flags&AllowProxyReqs != 0 {
		rest, info, ok := proxyproto.Decode(b)
		if !ok {
			return StatusBadRequest
		}
		if info != nil {
			req.Proxy = info
			req.Flags |= Proxied
			telemetry.IncProxyPreamble()
		}
		b = rest
	}

	b = bytesutil.SkipLeadingWhitespace(b)

	method := methodFlag(b)
	if method == 0 {
		if len(b) == 0 {
			return StatusBadRequest
		}
		return StatusNotAllowed
	}
	req.Flags |= method

	// Offsets below are into the full buffer.
	p := len(data) - len(b) + methodSkip(method)
	p = identifyPath(req, h, p)
	if p < 0 {
		return StatusBadRequest
	}

	if !parseHeaders(h, p) {
		return StatusBadRequest
	}

	decoded := bytesutil.URLDecodeInPlace(req.URL)
	if decoded == nil {
		return StatusBadRequest
	}
	req.URL = decoded
	req.OriginalURL = decoded

	computeKeepAlive(req, h)

	if req.Flags&MethodPOST != 0 {
		if status := readPostData(h); status != StatusOK {
			return status
		}
	}

	return StatusOK
}

func (e *Engine) prepareForResponse(route *Route, req *Request, h *helper) Status {
	req.URL = req.URL[len(route.Prefix):]

	if route.Flags&ParseQueryString != 0 {
		parseQueryString(req, h)
	}
	if route.Flags&ParseIfModifiedSince != 0 {
		parseIfModifiedSince(req, h)
	}
	if route.Flags&ParseRange != 0 {
		parseRange(req, h)
	}
	if route.Flags&ParseAcceptEncoding != 0 {
		parseAcceptEncoding(req, h)
	}
	if route.Flags&ParseCookies != 0 {
		parseCookies(req, h)
	}

	if req.Flags&MethodPOST != 0 {
		if route.Flags&ParsePostData != 0 {
			parsePostData(req, h)
		} else {
			return StatusNotAllowed
		}
	}

	if route.Flags&MustAuthorize != 0 {
		if e.Auth == nil || !e.Auth.Authorize(h.authorization, route.Realm, route.PasswordFile) {
			req.AuthRealm = route.Realm
			return StatusNotAuthorized
		}
	}

	if route.Flags&RemoveLeadingSlash != 0 {
		for len(req.URL) > 0 && req.URL[0] == '/' {
			req.URL = req.URL[1:]
		}
	}

	return StatusOK
}

// handleRewrite re-splits the rewritten URL and bounds how many times a
// handler may send the request around the lookup loop again.
func (e *Engine) handleRewrite(req *Request, h *helper) bool {
	req.Flags &^= URLRewritten

	parseFragmentAndQuery(req, h)

	h.urlsRewritten++
	telemetry.IncRewrite()
	if h.urlsRewritten > maxRewrites {
		e.Resp.SendDefault(req, StatusInternalError)
		return false
	}

	return true
}

// ProcessRequest reads, parses, routes and answers one request on the
// connection. nextRequest is the offset of a pipelined tail left over
// from the previous request (-1 when there is none); the return value
// is the same for the request after this one.
func (e *Engine) ProcessRequest(req *Request, buf *Buffer, nextRequest int) int {
	h := &helper{buf: buf, nextRequest: nextRequest}

	status := e.readRequest(req, h)
	if status != StatusOK {
		// A bad request may still have a good one behind it in the
		// pipeline.
		if status == StatusBadRequest && h.nextRequest >= 0 {
			return h.nextRequest
		}
		e.Resp.SendDefault(req, status)
		req.Conn.Yield(Abort)
		return -1
	}

	status = e.parseHTTPRequest(req, h)
	if status != StatusOK {
		e.Resp.SendDefault(req, status)
		return h.nextRequest
	}

	for {
		route := e.Routes.LookupPrefix(req.URL)
		if route == nil {
			e.Resp.SendDefault(req, StatusNotFound)
			return h.nextRequest
		}

		status = e.prepareForResponse(route, req, h)
		if status != StatusOK {
			e.Resp.SendDefault(req, status)
			return h.nextRequest
		}

		status = route.Handler(req)
		if route.Flags&CanRewriteURL != 0 && req.Flags&URLRewritten != 0 {
			if e.handleRewrite(req, h) {
				continue
			}
			return h.nextRequest
		}

		e.Resp.Send(req, status)
		return h.nextRequest
	}
}
