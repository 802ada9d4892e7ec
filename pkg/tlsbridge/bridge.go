package tlsbridge

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/rhysbryant/simpleHTTPServer/pkg/timing"
)

// Listen wraps inner with TLS termination using cfg. Accepted connections
// are *tls.Conn; the handshake itself is deferred to the first read or
// write, same as plain net.Listener, so a slow or hostile handshake doesn't
// block Accept for other connections.
func Listen(inner net.Listener, cfg *tls.Config) net.Listener {
	return tls.NewListener(inner, cfg)
}

// Handshake drives the TLS handshake on conn to completion, recording its
// duration on t. conn must be a *tls.Conn; callers get one from Listen's
// Accept or from tls.Client/tls.Server directly.
//
// The handshake and every record read/write after it runs through
// crypto/tls.Conn's own buffering over the net.Conn beneath it, which is
// the bridge: it is what the original's mbedtlsTCPSendCallback /
// mbedtlsTCPRecvCallback pair and writeBufWaitingAck bookkeeping exist to
// provide on a target with no such library. There is nothing left for this
// package to reimplement.
func Handshake(ctx context.Context, conn *tls.Conn, t *timing.Timer) error {
	t.StartTLS()
	defer t.EndTLS()
	return conn.HandshakeContext(ctx)
}

// ConnectionState reports the negotiated version and cipher suite, for
// logging or access decisions keyed on TLS strength.
func ConnectionState(conn *tls.Conn) tls.ConnectionState {
	return conn.ConnectionState()
}
