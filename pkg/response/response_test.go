package response

import (
	"bytes"
	"testing"

	"github.com/rhysbryant/simpleHTTPServer/pkg/config"
	"github.com/rhysbryant/simpleHTTPServer/pkg/request"
	"github.com/rhysbryant/simpleHTTPServer/pkg/transport"
)

// recordingSender captures every WriteData call's bytes in order, so tests
// can assert on the exact on-wire byte sequence a Response produces.
type recordingSender struct {
	writes [][]byte
}

func (s *recordingSender) WriteData(data []byte, flags transport.WriteFlags) bool {
	cp := append([]byte(nil), data...)
	s.writes = append(s.writes, cp)
	return true
}

func (s *recordingSender) all() []byte {
	var out []byte
	for _, w := range s.writes {
		out = append(out, w...)
	}
	return out
}

func newTestResponse(sender *recordingSender, keepAlive bool) *Response {
	return New(sender, config.Default(), keepAlive, request.HTTP11)
}

// Scenario 5: default response, finalized with no body written.
func TestDefaultResponseOnWire(t *testing.T) {
	s := &recordingSender{}
	r := newTestResponse(s, true)

	if err := r.Finalize(); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	want := "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nKeep-Alive: timeout=15, max=1000\r\n\r\n"
	if got := string(s.all()); got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

// Scenario 6: a single chunked write followed by Flush, then Finalize.
func TestChunkedWriteThenFinalize(t *testing.T) {
	s := &recordingSender{}
	r := newTestResponse(s, true)

	if _, err := r.Write([]byte("Hello World")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := r.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	want := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nKeep-Alive: timeout=15, max=1000\r\n\r\nB\r\nHello World\r\n"
	if got := string(s.all()); got != want {
		t.Fatalf("want %q, got %q", want, got)
	}

	checkpoint := len(s.writes)
	if err := r.Finalize(); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	var tail []byte
	for _, w := range s.writes[checkpoint:] {
		tail = append(tail, w...)
	}
	if string(tail) != "0\r\n\r\n" {
		t.Fatalf("expected finalize to emit exactly the terminating chunk, got %q", tail)
	}
}

// Chunk size prefixes use uppercase hex digits.
func TestChunkSizeHexIsUppercase(t *testing.T) {
	s := &recordingSender{}
	r := newTestResponse(s, true)
	// 171 bytes = 0xAB, exercises a multi-digit hex chunk size with letters.
	body := bytes.Repeat([]byte("x"), 171)
	r.Write(body)
	r.Flush()

	wire := string(s.all())
	if !bytes.Contains([]byte(wire), []byte("AB\r\n")) {
		t.Fatalf("expected uppercase hex chunk size AB in %q", wire)
	}
	if bytes.Contains([]byte(wire), []byte("ab\r\n")) {
		t.Fatalf("chunk size must not be lowercase hex: %q", wire)
	}
}

func TestContentLengthDisablesChunkedEncoding(t *testing.T) {
	s := &recordingSender{}
	r := newTestResponse(s, true)
	r.AddContentLengthHeader(5)
	r.Write([]byte("Hello"))
	r.Finalize()

	wire := string(s.all())
	if bytes.Contains([]byte(wire), []byte("Transfer-Encoding")) {
		t.Fatalf("expected no chunked framing once Content-Length is set: %q", wire)
	}
	if !bytes.Contains([]byte(wire), []byte("Content-Length: 5\r\n")) {
		t.Fatalf("expected Content-Length: 5 header, got %q", wire)
	}
	if !bytes.HasSuffix([]byte(wire), []byte("Hello")) {
		t.Fatalf("expected body Hello at the end, got %q", wire)
	}
}

// Regression: an explicit AddContentLengthHeader call must not get a second,
// auto-computed Content-Length line appended when Finalize flushes the
// headers for the first time.
func TestExplicitContentLengthNotDuplicatedOnFinalize(t *testing.T) {
	s := &recordingSender{}
	r := newTestResponse(s, true)
	r.AddContentLengthHeader(4)
	r.Write([]byte("Test"))
	r.Finalize()

	wire := string(s.all())
	if n := bytes.Count([]byte(wire), []byte("Content-Length:")); n != 1 {
		t.Fatalf("expected exactly one Content-Length header, found %d in %q", n, wire)
	}
}

func TestConnectionCloseHeader(t *testing.T) {
	s := &recordingSender{}
	r := newTestResponse(s, false)
	r.Finalize()
	if !bytes.Contains(s.all(), []byte("Connection: close\r\n")) {
		t.Fatalf("expected Connection: close header, got %q", s.all())
	}
}

func TestWriteHeaderOnlyOnce(t *testing.T) {
	s := &recordingSender{}
	r := newTestResponse(s, true)
	if !r.WriteHeader(StatusOK) {
		t.Fatalf("first WriteHeader should succeed")
	}
	if r.WriteHeader(StatusNotFound) {
		t.Fatalf("second WriteHeader should be rejected")
	}
}

func TestWriteHeaderLineAfterHeadersSentIsNoop(t *testing.T) {
	s := &recordingSender{}
	r := newTestResponse(s, true)
	r.Write([]byte("x"))
	r.Flush()
	if r.WriteHeaderLine("X-Late: true") {
		t.Fatalf("expected WriteHeaderLine to fail once headers have been sent")
	}
}

// Response buffer safety invariant: the header region and the rewindable
// body-prefix region must never overlap, across a sequence of writes and
// flushes that exercise the prefix repeatedly.
func TestHeaderAndBodyRegionsNeverOverlap(t *testing.T) {
	s := &recordingSender{}
	r := newTestResponse(s, true)

	for i := 0; i < 5; i++ {
		if _, err := r.Write(bytes.Repeat([]byte("y"), 50)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
		if r.bodyStart < r.headerPos {
			t.Fatalf("round %d: bodyStart (%d) overlapped headerPos (%d)", i, r.bodyStart, r.headerPos)
		}
		if err := r.Flush(); err != nil {
			t.Fatalf("flush %d failed: %v", i, err)
		}
	}
	r.Finalize()
}

func TestHijackConnectionReturnsSender(t *testing.T) {
	s := &recordingSender{}
	r := newTestResponse(s, true)
	sender := r.HijackConnection()
	if sender == nil {
		t.Fatalf("expected non-nil sender")
	}
	if !r.Hijacked() {
		t.Fatalf("expected Hijacked() true after HijackConnection")
	}
}

func TestWriteDirectBypassesBuffer(t *testing.T) {
	s := &recordingSender{}
	r := newTestResponse(s, true)
	r.AddContentLengthHeader(4)
	if _, err := r.WriteDirect([]byte("body")); err != nil {
		t.Fatalf("writeDirect failed: %v", err)
	}
	wire := string(s.all())
	if !bytes.HasSuffix([]byte(wire), []byte("body")) {
		t.Fatalf("expected body appended directly, got %q", wire)
	}
}
