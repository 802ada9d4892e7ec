// Package router implements the fixed-size connection pool and path
// dispatcher that sits on top of request parsing and response formatting: it
// accepts plain and TLS connections, feeds inbound bytes to each
// connection's request.Parser, and dispatches a completed request to a
// registered Handler.
package router

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/netutil"

	"github.com/rhysbryant/simpleHTTPServer/pkg/config"
	"github.com/rhysbryant/simpleHTTPServer/pkg/request"
	"github.com/rhysbryant/simpleHTTPServer/pkg/response"
	"github.com/rhysbryant/simpleHTTPServer/pkg/sendqueue"
	"github.com/rhysbryant/simpleHTTPServer/pkg/shttplog"
	"github.com/rhysbryant/simpleHTTPServer/pkg/timing"
	"github.com/rhysbryant/simpleHTTPServer/pkg/tlsbridge"
	"github.com/rhysbryant/simpleHTTPServer/pkg/transport"
)

// Handler processes a fully parsed request on connection c and writes a
// response. It receives c so it can hijack the connection (WebSocket
// upgrade) or stash a session argument across requests on the same
// keepalive connection.
type Handler func(c *Connection, req *request.Parser, resp *response.Response)

// Connection is one slot of the router's fixed-size pool. It owns the
// transport, the outbound send queue, and the request parser for a single
// accepted socket, and is recycled (not freed) once the peer disconnects.
type Connection struct {
	mu sync.Mutex

	conn      net.Conn
	transport *transport.NetTransport
	queue     *sendqueue.Queue
	parser    *request.Parser

	connected       bool
	hijacked        bool
	lastRequestTime time.Time
	timer           *timing.Timer

	// dataReceived, when non-nil, receives every inbound read instead of the
	// request parser. Set by a Handler after a successful protocol upgrade
	// (e.g. websocket.Manager.UpgradeHandler).
	dataReceived func(data []byte)

	// sessionArg is an arbitrary value a Handler can attach to the
	// connection and retrieve across requests on the same keepalive
	// connection (and clear with SetSessionArg(nil, nil) when done).
	sessionArg     any
	sessionArgFree func(any)
}

func newConnection(opts config.Options) *Connection {
	return &Connection{parser: request.New(opts)}
}

func (c *Connection) attach(conn net.Conn, opts config.Options, t *timing.Timer) {
	c.mu.Lock()
	c.conn = conn
	c.transport = transport.NewNetTransport(conn, opts)
	c.queue = sendqueue.New(c.transport)
	c.parser.Reset()
	c.connected = true
	c.hijacked = false
	c.dataReceived = nil
	c.lastRequestTime = time.Now()
	c.timer = t
	c.mu.Unlock()
}

// IsConnected reports whether the slot currently holds a live connection.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Sender returns the connection's outbound queue, for protocols (WebSocket)
// that write frames directly rather than through a response.Response.
func (c *Connection) Sender() *sendqueue.Queue { return c.queue }

// SetDataReceived redirects subsequent inbound reads away from the request
// parser to fn, used once a request has hijacked the connection.
func (c *Connection) SetDataReceived(fn func(data []byte)) {
	c.mu.Lock()
	c.dataReceived = fn
	c.hijacked = true
	c.mu.Unlock()
}

// SetSessionArg attaches an arbitrary value to the connection, with an
// optional cleanup function run when the connection is recycled.
func (c *Connection) SetSessionArg(v any, free func(any)) {
	c.mu.Lock()
	c.sessionArg = v
	c.sessionArgFree = free
	c.mu.Unlock()
}

// SessionArg returns the value most recently attached with SetSessionArg.
func (c *Connection) SessionArg() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionArg
}

// RemoteAddr returns the peer address of the underlying connection.
func (c *Connection) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

// Close shuts down the transport and returns the slot to the free pool.
// Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	conn := c.conn
	free := c.sessionArgFree
	arg := c.sessionArg
	c.sessionArg = nil
	c.sessionArgFree = nil
	c.dataReceived = nil
	c.hijacked = false
	c.mu.Unlock()

	if free != nil {
		free(arg)
	}
	if conn != nil {
		conn.Close()
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastRequestTime = time.Now()
	c.mu.Unlock()
}

func (c *Connection) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.hijacked || c.lastRequestTime.IsZero() {
		return 0
	}
	return time.Since(c.lastRequestTime)
}

// Router dispatches completed requests from a fixed pool of connections to
// path handlers, and drives the accept loops that populate the pool.
type Router struct {
	opts config.Options

	mu       sync.RWMutex
	handlers map[string]Handler
	notFound Handler

	pool []*Connection
}

// New builds a Router with a pool of opts.MaxClientConnections connection
// slots and the built-in 404 handler installed as the default.
func New(opts config.Options) *Router {
	r := &Router{
		opts:     opts,
		handlers: make(map[string]Handler),
	}
	r.notFound = defaultNotFoundHandler
	r.pool = make([]*Connection, opts.MaxClientConnections)
	for i := range r.pool {
		r.pool[i] = newConnection(opts)
	}
	return r
}

// AddHandler registers handler for an exact path match.
func (r *Router) AddHandler(path string, handler Handler) {
	r.mu.Lock()
	r.handlers[path] = handler
	r.mu.Unlock()
}

// SetDefaultHandler overrides the handler used when no path matches; passing
// nil restores the built-in "not found" response.
func (r *Router) SetDefaultHandler(handler Handler) {
	r.mu.Lock()
	if handler != nil {
		r.notFound = handler
	} else {
		r.notFound = defaultNotFoundHandler
	}
	r.mu.Unlock()
}

func defaultNotFoundHandler(c *Connection, req *request.Parser, resp *response.Response) {
	resp.WriteHeader(response.StatusNotFound)
	resp.WriteHeaderLine("Content-Type: text/html")
	resp.Write([]byte("<html><body>path was not found</body></html>"))
}

// GetFreeConnection linear-scans the pool for a disconnected slot, mirroring
// the original's fixed-pool allocation (no dynamic growth at steady state).
func (r *Router) GetFreeConnection() *Connection {
	for _, c := range r.pool {
		if !c.IsConnected() {
			return c
		}
	}
	return nil
}

// ConnectionsInUse reports how many pool slots currently hold a live
// connection, for diagnostics/logging.
func (r *Router) ConnectionsInUse() int {
	n := 0
	for _, c := range r.pool {
		if c.IsConnected() {
			n++
		}
	}
	return n
}

// ListenPlain accepts plain TCP connections on addr and dispatches them into
// the pool. The listener is wrapped in netutil.LimitListener capped at
// opts.MaxClientConnections, so the pool-exhaustion path in acceptLoop is
// a backstop rather than the only enforcement of the fixed-size pool.
func (r *Router) ListenPlain(ctx context.Context, addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	limited := netutil.LimitListener(ln, r.opts.MaxClientConnections)
	go r.acceptLoop(ctx, limited)
	return limited, nil
}

// ListenTLS accepts TLS connections on addr using cfg, otherwise identical
// to ListenPlain.
func (r *Router) ListenTLS(ctx context.Context, addr string, cfg *tls.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	limited := netutil.LimitListener(ln, r.opts.MaxClientConnections)
	secure := tlsbridge.Listen(limited, cfg)
	go r.acceptLoop(ctx, secure)
	return secure, nil
}

func (r *Router) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				shttplog.Default().Warn("accept failed", "error", err)
				return
			}
		}

		t := timing.NewTimer()
		if tlsConn, ok := conn.(*tls.Conn); ok {
			if err := tlsbridge.Handshake(ctx, tlsConn, t); err != nil {
				shttplog.Default().Warn("tls handshake failed", "error", err, "remote", conn.RemoteAddr())
				conn.Close()
				continue
			}
		}

		c := r.GetFreeConnection()
		if c == nil {
			conn.Close()
			continue
		}
		c.attach(conn, r.opts, t)
		go r.serve(c)
	}
}

// serve reads conn until it's closed or errors, feeding each fragment to
// the connection's request parser (or, once hijacked, to its dataReceived
// callback) and dispatching completed requests.
func (r *Router) serve(c *Connection) {
	buf := make([]byte, r.opts.RequestBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			hijackedReceiver := c.dataReceived
			c.mu.Unlock()

			if hijackedReceiver != nil {
				hijackedReceiver(buf[:n])
			} else if !r.handleInbound(c, buf[:n]) {
				c.Close()
				return
			}
		}
		if err != nil {
			c.mu.Lock()
			hijackedReceiver := c.dataReceived
			c.mu.Unlock()
			if hijackedReceiver != nil {
				hijackedReceiver(nil)
			}
			c.Close()
			return
		}
	}
}

func (r *Router) handleInbound(c *Connection, data []byte) bool {
	result, err := c.parser.Parse(data)
	if result == request.Error {
		shttplog.Default().Info("closing connection on parse error", "error", err)
		return false
	}
	if c.parser.ReadyForProcessing() {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.StartTTFB()
		}
		c.mu.Unlock()
		r.dispatch(c)
	}
	return true
}

func (r *Router) dispatch(c *Connection) {
	req := c.parser

	connectionKeepAlive := false
	if v, ok := req.Headers["CONNECTION"]; ok && httpguts.HeaderValuesContainsToken([]string{v}, "keep-alive") {
		connectionKeepAlive = true
	}
	if r.opts.EnableRTSP && req.Version == request.RTSP10 {
		connectionKeepAlive = true
	}

	resp := response.New(c.queue, r.opts, connectionKeepAlive, req.Version)

	r.mu.RLock()
	h, ok := r.handlers[req.Path]
	notFound := r.notFound
	r.mu.RUnlock()
	if !ok {
		h = notFound
	}

	h(c, req, resp)

	if !req.IsBodyReadInProgress() {
		resp.Finalize()
		req.Reset()
		c.touch()

		c.mu.Lock()
		t := c.timer
		c.mu.Unlock()
		if t != nil {
			t.EndTTFB()
			t.End()
			shttplog.Default().Debug("request complete", "remote", c.RemoteAddr(), "metrics", t.Metrics().String())
		}
		c.mu.Lock()
		c.timer = timing.NewTimer()
		c.mu.Unlock()

		if resp.ConnectionMode() == response.ConnectionClose {
			c.queue.CloseOnceSent(c.Close)
		}
	}
}

// SweepIdle closes any connection that hasn't completed a request within
// opts.KeepAliveTimeout, mirroring Router::process's idle-connection scan.
// Call it periodically (Run does this on a ticker).
func (r *Router) SweepIdle() {
	for _, c := range r.pool {
		if c.IsConnected() && c.idleFor() > r.opts.KeepAliveTimeout {
			shttplog.Default().Info("closing idle connection", "remote", c.RemoteAddr())
			c.Close()
		}
	}
}

// Run drives the periodic idle-connection sweep until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.KeepAliveTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepIdle()
		}
	}
}
