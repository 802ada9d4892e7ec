// Package ringbuf provides the two buffer shapes the server core needs: a
// fixed-size circular byte ring with mark/reset for atomic frame decode, and
// a growable append buffer with a hard cap for incrementally assembled
// requests.
package ringbuf

import (
	"github.com/rhysbryant/simpleHTTPServer/pkg/shttperrors"
)

// Ring is a fixed-capacity circular byte buffer. It never allocates after
// construction: Get/Put move the head/tail pointers over a single
// pre-allocated slice. MarkTail/ResetTail let a caller attempt to decode a
// frame, discover it's incomplete, and rewind to the last known-good
// position without losing already-received bytes.
type Ring struct {
	buf        []byte
	head, tail int
	full       bool
	tailMarker int
}

// NewRing allocates a ring of the given capacity.
func NewRing(size int) *Ring {
	return &Ring{buf: make([]byte, size)}
}

// FreeSpace returns the number of bytes that can currently be Put.
func (r *Ring) FreeSpace() int {
	return len(r.buf) - r.BackLogSize()
}

// BackLogSize returns the number of bytes ready to Get.
func (r *Ring) BackLogSize() int {
	if r.full {
		return len(r.buf)
	}
	if r.head >= r.tail {
		return r.head - r.tail
	}
	return len(r.buf) - r.tail + r.head
}

// Put appends len(p) bytes. It reports an error if there isn't enough free
// space; the ring is left unmodified in that case.
func (r *Ring) Put(p []byte) error {
	if len(p) > r.FreeSpace() {
		return shttperrors.NewBufferFullError("ringbuf.Put")
	}
	n := len(r.buf)
	for _, b := range p {
		r.buf[r.head] = b
		r.head = (r.head + 1) % n
	}
	if len(p) > 0 {
		r.full = r.head == r.tail
	}
	return nil
}

// Get copies len(buf) bytes out and advances the read pointer. It reports an
// error if fewer bytes than requested are backlogged; the ring is left
// unmodified in that case.
func (r *Ring) Get(buf []byte) error {
	if len(buf) > r.BackLogSize() {
		return shttperrors.NewBufferFullError("ringbuf.Get")
	}
	n := len(r.buf)
	for i := range buf {
		buf[i] = r.buf[r.tail]
		r.tail = (r.tail + 1) % n
	}
	if len(buf) > 0 {
		r.full = false
	}
	return nil
}

// Peek returns the next unread byte without advancing the read pointer. It
// panics if the ring is empty; callers must check BackLogSize first.
func (r *Ring) Peek() byte {
	return r.buf[r.tail]
}

// Discard advances the read pointer by size bytes without copying. It
// reports an error if fewer bytes than requested are backlogged.
func (r *Ring) Discard(size int) error {
	if size > r.BackLogSize() {
		return shttperrors.NewBufferFullError("ringbuf.Discard")
	}
	r.tail = (r.tail + size) % len(r.buf)
	if size > 0 {
		r.full = false
	}
	return nil
}

// MarkTail records the current read position so a failed, partial decode can
// be undone with ResetTail.
func (r *Ring) MarkTail() {
	r.tailMarker = r.tail
}

// ResetTail rewinds the read pointer to the last MarkTail call.
func (r *Ring) ResetTail() {
	r.tail = r.tailMarker
	r.full = false
}

// Reset empties the ring, discarding any unread bytes.
func (r *Ring) Reset() {
	r.head = 0
	r.tail = 0
	r.tailMarker = 0
	r.full = false
}

// Growable is an append-only buffer that starts at an initial size and grows
// geometrically, refusing to grow past cap. It backs the incremental request
// parser: a peer trickling bytes in one at a time must not be able to exhaust
// memory, so growth is bounded rather than unlimited like bytes.Buffer's.
type Growable struct {
	buf []byte
	cap int
}

// NewGrowable allocates a Growable with the given initial size and hard cap.
// A cap of 0 means unbounded (only used by tests); production callers always
// pass config.Options.RequestBufferCap.
func NewGrowable(initialSize, cap int) *Growable {
	return &Growable{buf: make([]byte, 0, initialSize), cap: cap}
}

// Write appends p, growing the backing array as needed. It returns
// BufferFull rather than growing past the configured cap.
func (g *Growable) Write(p []byte) (int, error) {
	if g.cap > 0 && len(g.buf)+len(p) > g.cap {
		return 0, shttperrors.NewBufferFullError("Growable.Write")
	}
	g.buf = append(g.buf, p...)
	return len(p), nil
}

// Bytes returns the buffer's current contents. The returned slice is only
// valid until the next Write or Reset.
func (g *Growable) Bytes() []byte {
	return g.buf
}

// Len returns the number of bytes written.
func (g *Growable) Len() int {
	return len(g.buf)
}

// Truncate drops everything before n, sliding the remainder to the front.
// Used after a complete request line or header block has been consumed.
func (g *Growable) Truncate(n int) {
	if n <= 0 {
		return
	}
	if n >= len(g.buf) {
		g.buf = g.buf[:0]
		return
	}
	g.buf = append(g.buf[:0], g.buf[n:]...)
}

// Reset empties the buffer, keeping the underlying array for reuse.
func (g *Growable) Reset() {
	g.buf = g.buf[:0]
}
