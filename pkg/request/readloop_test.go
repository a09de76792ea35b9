package request

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

// scriptedSocket replays a fixed sequence of read results.
type scriptedSocket struct {
	steps []readStep
}

type readStep struct {
	data []byte
	err  error
}

func (s *scriptedSocket) Read(p []byte) (int, error) {
	if len(s.steps) == 0 {
		return 0, unix.EAGAIN
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	if st.err != nil {
		return 0, st.err
	}
	return copy(p, st.data), nil
}

var errAborted = errors.New("task aborted")

func newTestConn(sock Socket) (*Conn, *[]Action) {
	var yields []Action
	c := &Conn{Sock: sock}
	c.Yield = func(a Action) {
		yields = append(yields, a)
		if a == Abort {
			panic(errAborted)
		}
	}
	return c, &yields
}

func TestReadRequestFinalizer(t *testing.T) {
	mk := func(s string) *helper {
		h := newHelper(s)
		return h
	}

	if got := readRequestFinalizer(3, 4096, mk("GET")); got != finalizerYieldTryAgain {
		t.Fatalf("short read: %v", got)
	}
	if got := readRequestFinalizer(4096, 4096, mk("")); got != finalizerTooLarge {
		t.Fatalf("full buffer: %v", got)
	}

	h := mk("GET / HTTP/1.1\r\n\r\n")
	if got := readRequestFinalizer(h.buf.Len, 4096, h); got != finalizerDone {
		t.Fatalf("terminated request: %v", got)
	}

	// A request that fills the buffer exactly is still fine as long as
	// the terminator lands on the final byte.
	h = mk("GET / HTTP/1.1\r\n\r\n")
	if got := readRequestFinalizer(h.buf.Len, h.buf.Len, h); got != finalizerDone {
		t.Fatalf("exactly-full terminated request: %v", got)
	}

	h = mk("GET / HTTP/1.1\r\nHost: x\r\n")
	if got := readRequestFinalizer(h.buf.Len, 4096, h); got != finalizerTryAgain {
		t.Fatalf("unterminated request: %v", got)
	}

	// A pipelined tail is complete as-is.
	h = mk("GET / HT")
	h.nextRequest = 0
	if got := readRequestFinalizer(h.buf.Len, 4096, h); got != finalizerDone {
		t.Fatalf("pipelined tail: %v", got)
	}
	if h.nextRequest != -1 {
		t.Fatalf("nextRequest not reset")
	}

	// POST bodies do not end with the block terminator.
	h = mk("POST / HTTP/1.1\r\nContent-Length: 3\r\n\r\na=b")
	if got := readRequestFinalizer(h.buf.Len, 4096, h); got != finalizerDone {
		t.Fatalf("post with body: %v", got)
	}
}

func TestReadFromSocketChunked(t *testing.T) {
	sock := &scriptedSocket{steps: []readStep{
		{data: []byte("GET / HT")},
		{err: unix.EAGAIN},
		{data: []byte("TP/1.1\r\n\r\n")},
	}}
	conn, yields := newTestConn(sock)
	req := &Request{Conn: conn}
	h := &helper{buf: &Buffer{Data: make([]byte, 4096)}, nextRequest: -1}

	e := &Engine{}
	if st := e.readRequest(req, h); st != StatusOK {
		t.Fatalf("readRequest = %v", st)
	}
	if string(h.buf.Data[:h.buf.Len]) != "GET / HTTP/1.1\r\n\r\n" {
		t.Fatalf("buffer = %q", h.buf.Data[:h.buf.Len])
	}
	if conn.MustRead {
		t.Fatalf("MustRead still set after a complete request")
	}
	for _, y := range *yields {
		if y != MayResume {
			t.Fatalf("unexpected yield %v", y)
		}
	}
	if len(*yields) == 0 {
		t.Fatalf("EAGAIN did not yield")
	}
}

func TestReadFromSocketPipelinedTail(t *testing.T) {
	first := "GET /a HTTP/1.1\r\n\r\n"
	second := "GET /b HTTP/1.1\r\n\r\n"
	sock := &scriptedSocket{}
	conn, _ := newTestConn(sock)
	req := &Request{Conn: conn}

	buf := &Buffer{Data: make([]byte, 4096)}
	copy(buf.Data, first+second)
	buf.Len = len(first) + len(second)
	h := &helper{buf: buf, nextRequest: len(first)}

	e := &Engine{}
	if st := e.readRequest(req, h); st != StatusOK {
		t.Fatalf("readRequest = %v", st)
	}
	if string(buf.Data[:buf.Len]) != second {
		t.Fatalf("tail not moved to front: %q", buf.Data[:buf.Len])
	}
	if len(sock.steps) != 0 {
		t.Fatalf("socket script not set up as expected")
	}
}

func TestReadFromSocketPacketBudget(t *testing.T) {
	// A client that trickles bytes but never finishes the request runs
	// out of packets and times out.
	var steps []readStep
	for i := 0; i < readPacketBudget+4; i++ {
		steps = append(steps, readStep{data: []byte("AAAA")})
	}
	sock := &scriptedSocket{steps: steps}
	conn, _ := newTestConn(sock)
	req := &Request{Conn: conn}
	h := &helper{buf: &Buffer{Data: make([]byte, 4096)}, nextRequest: -1}

	e := &Engine{}
	if st := e.readRequest(req, h); st != StatusTimeout {
		t.Fatalf("readRequest = %v, want %v", st, StatusTimeout)
	}
}

func TestReadFromSocketErrorBeforeData(t *testing.T) {
	sock := &scriptedSocket{steps: []readStep{{err: unix.ECONNRESET}}}
	conn, _ := newTestConn(sock)
	req := &Request{Conn: conn}
	h := &helper{buf: &Buffer{Data: make([]byte, 4096)}, nextRequest: -1}

	e := &Engine{}
	if st := e.readRequest(req, h); st != StatusBadRequest {
		t.Fatalf("readRequest = %v, want %v", st, StatusBadRequest)
	}
}

func TestReadFromSocketErrorMidRequest(t *testing.T) {
	sock := &scriptedSocket{steps: []readStep{
		{data: []byte("GET / HTTP/1.1\r\n")},
		{err: unix.ECONNRESET},
	}}
	conn, yields := newTestConn(sock)
	req := &Request{Conn: conn}
	h := &helper{buf: &Buffer{Data: make([]byte, 4096)}, nextRequest: -1}

	defer func() {
		if r := recover(); r != errAborted {
			t.Fatalf("recover = %v", r)
		}
		if (*yields)[len(*yields)-1] != Abort {
			t.Fatalf("last yield was not Abort")
		}
	}()
	e := &Engine{}
	e.readRequest(req, h)
	t.Fatalf("readRequest returned after mid-request error")
}

func TestReadFromSocketPeerShutdown(t *testing.T) {
	sock := &scriptedSocket{steps: []readStep{
		{data: []byte("GET / HTTP/1.1\r\n")},
		{data: nil},
	}}
	conn, _ := newTestConn(sock)
	req := &Request{Conn: conn}
	h := &helper{buf: &Buffer{Data: make([]byte, 4096)}, nextRequest: -1}

	defer func() {
		if r := recover(); r != errAborted {
			t.Fatalf("recover = %v", r)
		}
	}()
	e := &Engine{}
	e.readRequest(req, h)
	t.Fatalf("readRequest returned after peer shutdown")
}

func TestReadFromSocketTooLarge(t *testing.T) {
	big := make([]byte, 128)
	for i := range big {
		big[i] = 'A'
	}
	sock := &scriptedSocket{steps: []readStep{{data: big}}}
	conn, _ := newTestConn(sock)
	req := &Request{Conn: conn}
	h := &helper{buf: &Buffer{Data: make([]byte, 128)}, nextRequest: -1}

	e := &Engine{}
	if st := e.readRequest(req, h); st != StatusTooLarge {
		t.Fatalf("readRequest = %v, want %v", st, StatusTooLarge)
	}
}

func TestReadPostData(t *testing.T) {
	mk := func(body, contentLength string, bufSize int) *helper {
		buf := &Buffer{Data: make([]byte, bufSize)}
		copy(buf.Data, body)
		buf.Len = len(body)
		h := &helper{buf: buf, nextRequest: 0}
		if contentLength != "" {
			h.contentLength = []byte(contentLength)
		}
		return h
	}

	h := mk("a=b", "3", 4096)
	if st := readPostData(h); st != StatusOK {
		t.Fatalf("valid body: %v", st)
	}
	if string(h.postData) != "a=b" {
		t.Fatalf("postData = %q", h.postData)
	}
	if h.nextRequest != 3 {
		t.Fatalf("nextRequest = %d", h.nextRequest)
	}

	h = mk("a=b", "", 4096)
	if st := readPostData(h); st != StatusBadRequest {
		t.Fatalf("missing content-length: %v", st)
	}

	h = mk("a=b", "3", 4096)
	h.nextRequest = -1
	if st := readPostData(h); st != StatusBadRequest {
		t.Fatalf("no header block end: %v", st)
	}

	h = mk("a=b", "-5", 4096)
	if st := readPostData(h); st != StatusBadRequest {
		t.Fatalf("negative content-length: %v", st)
	}

	h = mk("a=b", "99999", 64)
	if st := readPostData(h); st != StatusTooLarge {
		t.Fatalf("oversized content-length: %v", st)
	}

	h = mk("a=b", "10", 4096)
	if st := readPostData(h); st != StatusNotImplemented {
		t.Fatalf("partial body: %v", st)
	}

	h = mk("a=b&c=d", "3", 4096)
	if st := readPostData(h); st != StatusNotImplemented {
		t.Fatalf("over-long body: %v", st)
	}
}
