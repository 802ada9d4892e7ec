package ringbuf

import (
	"bytes"
	"testing"

	"github.com/rhysbryant/simpleHTTPServer/pkg/shttperrors"
)

func TestGrowableWriteAndTruncate(t *testing.T) {
	g := NewGrowable(4, 0)

	if _, err := g.Write([]byte("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !bytes.Equal(g.Bytes(), []byte("hello")) {
		t.Fatalf("got %q", g.Bytes())
	}

	g.Truncate(2)
	if !bytes.Equal(g.Bytes(), []byte("llo")) {
		t.Fatalf("after truncate(2), got %q", g.Bytes())
	}

	g.Truncate(100)
	if g.Len() != 0 {
		t.Fatalf("truncate past end should empty buffer, got len %d", g.Len())
	}
}

func TestGrowableCapEnforced(t *testing.T) {
	g := NewGrowable(4, 8)

	if _, err := g.Write([]byte("12345678")); err != nil {
		t.Fatalf("write up to cap failed: %v", err)
	}

	_, err := g.Write([]byte("9"))
	if err == nil {
		t.Fatalf("expected BufferFull error writing past cap")
	}
	if shttperrors.GetErrorType(err) != shttperrors.ErrorTypeBufferFull {
		t.Fatalf("expected buffer_full error type, got %v", shttperrors.GetErrorType(err))
	}
}

func TestGrowableReset(t *testing.T) {
	g := NewGrowable(4, 0)
	g.Write([]byte("data"))
	g.Reset()
	if g.Len() != 0 {
		t.Fatalf("expected empty buffer after reset, got len %d", g.Len())
	}
}

func TestRingPutGetRoundTrip(t *testing.T) {
	r := NewRing(8)

	if err := r.Put([]byte("abcd")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if r.BackLogSize() != 4 {
		t.Fatalf("expected backlog 4, got %d", r.BackLogSize())
	}

	out := make([]byte, 4)
	if err := r.Get(out); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !bytes.Equal(out, []byte("abcd")) {
		t.Fatalf("got %q", out)
	}
}

// TestRingWrapAround exercises the head/tail wraparound that distinguishes a
// true ring from a plain slice: repeated put/get cycles walk the write and
// read cursors all the way around the backing array.
func TestRingWrapAround(t *testing.T) {
	r := NewRing(4)

	for i := 0; i < 10; i++ {
		if err := r.Put([]byte{byte(i), byte(i + 1)}); err != nil {
			t.Fatalf("round %d: put failed: %v", i, err)
		}
		out := make([]byte, 2)
		if err := r.Get(out); err != nil {
			t.Fatalf("round %d: get failed: %v", i, err)
		}
		if out[0] != byte(i) || out[1] != byte(i+1) {
			t.Fatalf("round %d: got %v", i, out)
		}
	}
}

func TestRingPutRejectsOverflow(t *testing.T) {
	r := NewRing(4)
	if err := r.Put([]byte("12345")); err == nil {
		t.Fatalf("expected error putting more than capacity")
	}
	if r.BackLogSize() != 0 {
		t.Fatalf("ring must be left unmodified on a rejected put, got backlog %d", r.BackLogSize())
	}
}

// TestRingMarkResetAtomicity is the websocket framer's core contract: a
// failed decode must leave the read cursor exactly where it was.
func TestRingMarkResetAtomicity(t *testing.T) {
	r := NewRing(16)
	r.Put([]byte("0123456789"))

	r.MarkTail()
	out := make([]byte, 4)
	r.Get(out)
	if r.BackLogSize() != 6 {
		t.Fatalf("expected backlog 6 after partial get, got %d", r.BackLogSize())
	}

	r.ResetTail()
	if r.BackLogSize() != 10 {
		t.Fatalf("expected ResetTail to restore full backlog, got %d", r.BackLogSize())
	}

	full := make([]byte, 10)
	if err := r.Get(full); err != nil {
		t.Fatalf("get after reset failed: %v", err)
	}
	if !bytes.Equal(full, []byte("0123456789")) {
		t.Fatalf("got %q", full)
	}
}

func TestRingDiscard(t *testing.T) {
	r := NewRing(8)
	r.Put([]byte("abcdef"))
	if err := r.Discard(3); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	out := make([]byte, 3)
	r.Get(out)
	if !bytes.Equal(out, []byte("def")) {
		t.Fatalf("got %q", out)
	}
}
