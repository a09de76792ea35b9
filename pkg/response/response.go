// Package response writes HTTP/1.x responses for the request driver:
// handler-built bodies and the stock pages for error statuses.
package response

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NiceMatters/lwan/pkg/accesslog"
	"github.com/NiceMatters/lwan/pkg/request"
	"github.com/NiceMatters/lwan/pkg/telemetry"
)

var statusText = map[request.Status]string{
	request.StatusOK:                 "OK",
	request.StatusPartialContent:     "Partial Content",
	request.StatusMovedPermanently:   "Moved Permanently",
	request.StatusNotModified:        "Not Modified",
	request.StatusBadRequest:         "Bad Request",
	request.StatusNotAuthorized:      "Not Authorized",
	request.StatusForbidden:          "Forbidden",
	request.StatusNotFound:           "Not Found",
	request.StatusNotAllowed:         "Not Allowed",
	request.StatusTimeout:            "Request Timeout",
	request.StatusTooLarge:           "Request Too Large",
	request.StatusRangeUnsatisfiable: "Requested Range Unsatisfiable",
	request.StatusInternalError:      "Internal Server Error",
	request.StatusNotImplemented:     "Not Implemented",
	request.StatusUnavailable:        "Service Unavailable",
}

var statusDescription = map[request.Status]string{
	request.StatusBadRequest:     "The client has issued an incorrect request.",
	request.StatusNotAuthorized:  "Client is not authorized to access this resource.",
	request.StatusForbidden:      "Access to this resource has been denied.",
	request.StatusNotFound:       "The requested resource could not be found.",
	request.StatusNotAllowed:     "The requested method is not allowed.",
	request.StatusTimeout:        "Client did not produce a request within the expected time.",
	request.StatusTooLarge:       "The request entity is too large.",
	request.StatusInternalError:  "The server encountered an internal error.",
	request.StatusNotImplemented: "The server does not implement the requested functionality.",
	request.StatusUnavailable:    "The server is currently unavailable.",
}

// Text returns the reason phrase for a status.
func Text(status request.Status) string {
	if t, ok := statusText[status]; ok {
		return t
	}
	return "Invalid"
}

// Writer is the default response writer.
type Writer struct{}

func New() *Writer {
	return &Writer{}
}

// SendDefault writes the stock HTML page for a status.
func (w *Writer) SendDefault(req *request.Request, status request.Status) {
	body := fmt.Sprintf(
		"<html><head><title>%d %s</title></head><body><h1>%s</h1><p>%s</p></body></html>\n",
		int(status), Text(status), Text(status), statusDescription[status])
	w.write(req, status, "text/html", []byte(body), nil)
}

// Send writes the handler-built response.
func (w *Writer) Send(req *request.Request, status request.Status) {
	mime := req.Response.MimeType
	if mime == "" {
		mime = "text/plain"
	}
	w.write(req, status, mime, req.Response.Buffer.Bytes(), req.Response.Headers)
}

func (w *Writer) write(req *request.Request, status request.Status, mime string, body []byte, extra []request.KV) {
	var b strings.Builder
	b.Grow(256 + len(body))

	version := "HTTP/1.1"
	if req.Flags&request.IsHTTP10 != 0 {
		version = "HTTP/1.0"
	}
	b.WriteString(version)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(int(status)))
	b.WriteByte(' ')
	b.WriteString(Text(status))
	b.WriteString("\r\n")

	b.WriteString("Content-Type: ")
	b.WriteString(mime)
	b.WriteString("\r\n")
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(body)))
	b.WriteString("\r\n")

	if req.Conn != nil && !req.Conn.KeepAlive {
		b.WriteString("Connection: close\r\n")
	}
	if status == request.StatusNotAuthorized && req.AuthRealm != "" {
		b.WriteString("WWW-Authenticate: Basic realm=\"")
		b.WriteString(req.AuthRealm)
		b.WriteString("\"\r\n")
	}
	for _, kv := range extra {
		b.Write(kv.Key)
		b.WriteString(": ")
		b.Write(kv.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("Server: lwan\r\n\r\n")

	if req.Flags&request.MethodHEAD == 0 {
		b.Write(body)
	}

	if req.Conn != nil && req.Conn.Writer != nil {
		_, _ = req.Conn.Writer.Write([]byte(b.String()))
	}

	telemetry.ObserveResponse(int(status))
	accesslog.Record(req.RemoteAddress(), req.Method(), string(req.OriginalURL), int(status), len(body))
}
