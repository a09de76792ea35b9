package request

import (
	"bytes"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/NiceMatters/lwan/pkg/bytesutil"
	"github.com/NiceMatters/lwan/pkg/telemetry"
)

// A connection gets a fixed number of reads per request before the
// server gives up with a 408, so intentionally slow clients cannot hog
// a task forever.
const readPacketBudget = 16

type finalizerAction int

const (
	finalizerDone finalizerAction = iota
	finalizerTryAgain
	finalizerYieldTryAgain
	finalizerTooLarge
)

type finalizer func(totalRead int, bufferSize int, h *helper) finalizerAction

var crlfCRLF = []byte("\r\n\r\n")

// readRequestFinalizer decides whether the buffer holds a complete
// request. A pipelined tail left by the previous request counts as
// complete immediately; otherwise the block terminator must be present.
// A POST is also accepted when the last LF in the buffer closes the
// block terminator, so body bytes may follow it as long as they hold
// no LF themselves.
func readRequestFinalizer(totalRead, bufferSize int, h *helper) finalizerAction {
	if totalRead < 4 {
		return finalizerYieldTryAgain
	}

	if h.nextRequest >= 0 {
		h.nextRequest = -1
		return finalizerDone
	}

	b := h.buf.Data[:totalRead]
	if bytes.Equal(b[totalRead-4:], crlfCRLF) {
		return finalizerDone
	}

	if methodFlag(b) == MethodPOST {
		if i := bytes.LastIndexByte(b, '\n'); i >= 3 {
			if bytes.Equal(b[i-3:i], crlfCRLF[:3]) {
				return finalizerDone
			}
		}
	}

	// A full buffer that still lacks a terminator can never complete.
	if totalRead == bufferSize {
		return finalizerTooLarge
	}

	return finalizerTryAgain
}

// readFromSocket fills the connection buffer until fin says the data is
// complete. The task yields on EAGAIN/EINTR and when too little has
// arrived to decide; an orderly shutdown or a hard error mid-request
// aborts the task. Only reads whose data still leaves the request
// incomplete consume the packet budget.
func (e *Engine) readFromSocket(req *Request, h *helper, fin finalizer) Status {
	conn := req.Conn
	buf := h.buf
	bufferSize := len(buf.Data)
	totalRead := 0
	packetsRemaining := readPacketBudget
	finalizeNow := false
	reads := 0

	if h.nextRequest >= 0 {
		// Pipelined tail from the previous request: move it to the
		// front and see if it is already a full request.
		buf.Len -= h.nextRequest
		copy(buf.Data, buf.Data[h.nextRequest:h.nextRequest+buf.Len])
		totalRead = buf.Len
		finalizeNow = true
	}

	for {
		if !finalizeNow {
			n, err := conn.Sock.Read(buf.Data[totalRead:bufferSize])
			if err != nil {
				if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
					conn.MustRead = true
					conn.Yield(MayResume)
					continue
				}
				if totalRead == 0 {
					return StatusBadRequest
				}
				conn.Yield(Abort)
			}
			if n == 0 {
				// Orderly shutdown from the client.
				conn.Yield(Abort)
			}
			totalRead += n
			buf.Len = totalRead
			reads++
			telemetry.AddBytesRead(n)
		}
		finalizeNow = false

		switch fin(totalRead, bufferSize, h) {
		case finalizerDone:
			conn.MustRead = false
			telemetry.ObserveReadPackets(reads)
			return StatusOK
		case finalizerTryAgain:
			packetsRemaining--
			if packetsRemaining == 0 {
				return StatusTimeout
			}
		case finalizerYieldTryAgain:
			conn.MustRead = true
			conn.Yield(MayResume)
		case finalizerTooLarge:
			return StatusTooLarge
		}
	}
}

func (e *Engine) readRequest(req *Request, h *helper) Status {
	return e.readFromSocket(req, h, readRequestFinalizer)
}

// readPostData validates the Content-Length against the body bytes
// already buffered after the header block. Bodies that do not fit the
// buffer are refused outright; a partially buffered or over-long body
// is not handled.
func readPostData(h *helper) Status {
	if h.nextRequest < 0 {
		return StatusBadRequest
	}
	if h.contentLength == nil {
		return StatusBadRequest
	}

	parsed := bytesutil.ParseInt64(h.contentLength, -1)
	if parsed > int64(len(h.buf.Data)) {
		return StatusTooLarge
	}
	if parsed < 0 {
		return StatusBadRequest
	}

	size := int(parsed)
	have := h.buf.Len - h.nextRequest
	if have != size {
		return StatusNotImplemented
	}

	h.postData = h.buf.Data[h.nextRequest : h.nextRequest+size]
	h.nextRequest += size
	return StatusOK
}
