// Package transport adapts a net.Conn (plain TCP or TLS) to the callback
// style write interface the rest of the server core is built around: queue
// bytes, get told when they've gone out. A net.Conn's Write already blocks
// until the kernel has accepted the data (or the deadline fires), so the
// "sent" callback here fires synchronously at the end of Write rather than
// later from an interrupt context the way it would on the embedded target
// this design comes from.
package transport

import (
	"net"

	"github.com/rhysbryant/simpleHTTPServer/pkg/config"
	"github.com/rhysbryant/simpleHTTPServer/pkg/shttperrors"
)

// WriteFlags mirrors the write hints the original abstract transport
// interface accepted.
type WriteFlags int

const (
	// WriteFlagNoLock is kept from the original flag set. Neither
	// NetTransport nor sendqueue.Queue reads it; the queue always takes its
	// own mutex and never holds it across a transport write.
	WriteFlagNoLock WriteFlags = 1 << iota
	// WriteFlagZeroCopy hints the transport may hold onto the given slice
	// rather than copying it, because the caller guarantees it won't be
	// reused until the data is sent.
	WriteFlagZeroCopy
	// WriteFlagNoFlush skips an explicit flush after the write; unused by
	// NetTransport since net.Conn has no separate flush step, kept so
	// callers written against the original flag set still compile.
	WriteFlagNoFlush
)

// SentCallback is invoked once length bytes have been accepted by the
// transport.
type SentCallback func(length int)

// Transport is the minimum a connection needs to move bytes: write with a
// flag set, learn the current send capacity, and shut down. Both plain TCP
// and TLS connections implement it via NetTransport: a *tls.Conn accepted
// off a tlsbridge.Listen listener satisfies net.Conn like any other, so it
// wraps in NetTransport unchanged with no separate TLS-specific Transport
// implementation needed.
type Transport interface {
	Write(data []byte, flags WriteFlags) (int, error)
	Shutdown() error
	AvailableSendBuffer() int
	SetSentCallback(cb SentCallback)
}

// NetTransport implements Transport directly over a net.Conn.
type NetTransport struct {
	conn    net.Conn
	sendCap int
	sentCB  SentCallback
}

// NewNetTransport wraps conn, using opts.SendChunkCap as the value reported
// by AvailableSendBuffer.
func NewNetTransport(conn net.Conn, opts config.Options) *NetTransport {
	return &NetTransport{conn: conn, sendCap: opts.SendChunkCap}
}

// SetSentCallback registers the function invoked after each successful
// Write.
func (t *NetTransport) SetSentCallback(cb SentCallback) {
	t.sentCB = cb
}

// Write sends data over the underlying connection. WriteFlagZeroCopy has no
// effect here; a net.Conn always reads from the slice synchronously so there
// is nothing extra to copy either way.
func (t *NetTransport) Write(data []byte, flags WriteFlags) (int, error) {
	n, err := t.conn.Write(data)
	if err != nil {
		return n, shttperrors.NewWriteError("transport.Write", err)
	}
	if t.sentCB != nil {
		t.sentCB(n)
	}
	return n, nil
}

// Shutdown closes the underlying connection.
func (t *NetTransport) Shutdown() error {
	return t.conn.Close()
}

// AvailableSendBuffer reports the configured per-write chunk cap. A real
// lwIP transport reports the TCP stack's actual send buffer; net.Conn
// exposes no equivalent so a fixed budget is used instead.
func (t *NetTransport) AvailableSendBuffer() int {
	return t.sendCap
}

// RemoteAddr returns the remote address of the underlying connection, or the
// zero net.Addr if the transport has been shut down.
func (t *NetTransport) RemoteAddr() net.Addr {
	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}
