// Package config defines the compile-time-flavored limits and timeouts used
// throughout the server core. A real embedded build would fix these at
// compile time; this rendition fixes them once at construction (Options is
// never mutated at steady state) which preserves the same "no dynamic
// reconfiguration" guarantee.
package config

import "time"

// Options holds every tunable the server core reads. Zero-value fields are
// replaced by the matching default by WithDefaults.
type Options struct {
	// MaxClientConnections bounds the plain/secure connection pool.
	MaxClientConnections int
	// MaxWebSocketFramers bounds the WebSocket framer pool.
	MaxWebSocketFramers int

	// RequestBufferSize is the initial capacity of a request's growable
	// buffer; it may grow up to RequestBufferCap before returning BufferFull.
	RequestBufferSize int
	// RequestBufferCap is the hard cap enforced against a malicious peer.
	RequestBufferCap int

	// ResponseBufferSize is the fixed size of the response formatter's
	// single buffer.
	ResponseBufferSize int
	// HeaderReservedSize is the offset at which the body region starts
	// within the response buffer, reserved for headers plus the rewindable
	// chunk-size prefix.
	HeaderReservedSize int

	// SendChunkCap is the send capacity NetTransport reports. It bounds the
	// size of each chunk the send queue holds back for later; the first,
	// immediate write of a WriteData call is not split to this size.
	SendChunkCap int

	// KeepAliveTimeout closes an HTTP connection idle (no request in
	// progress) for longer than this.
	KeepAliveTimeout time.Duration

	// WSPingInterval is how often the WebSocket manager pings an assigned,
	// otherwise-quiet framer.
	WSPingInterval time.Duration
	// WSPongTimeout closes a framer that hasn't produced a pong within this
	// long of the last ping.
	WSPongTimeout time.Duration
	// WSCloseTimeout closes a framer that hasn't echoed a server-initiated
	// close within this long.
	WSCloseTimeout time.Duration

	// MaxHeaderNameLength and MaxHeaderValueLength bound a single header
	// line during parsing (ParseError beyond these).
	MaxHeaderNameLength  int
	MaxHeaderValueLength int

	// EnableRTSP accepts the optional RTSP verbs and RTSP/1.0 version,
	// mirroring the original's SIMPLE_HTTP_RTSP_SUPPORT compile guard.
	EnableRTSP bool
}

// Default returns the specification's documented defaults.
func Default() Options {
	return Options{
		MaxClientConnections: 10,
		MaxWebSocketFramers:  5,

		RequestBufferSize: 512,
		RequestBufferCap:  8192,

		ResponseBufferSize: 512,
		HeaderReservedSize: 256,

		SendChunkCap: 4096,

		KeepAliveTimeout: 60 * time.Second,

		WSPingInterval: 15 * time.Second,
		WSPongTimeout:  60 * time.Second,
		WSCloseTimeout: 30 * time.Second,

		MaxHeaderNameLength:  64,
		MaxHeaderValueLength: 255,

		EnableRTSP: false,
	}
}

// WithDefaults fills any zero-valued field of o with the §6 default,
// returning a fully-populated copy. Callers that only want to override one
// or two fields construct a partial Options literal and call this.
func (o Options) WithDefaults() Options {
	d := Default()
	if o.MaxClientConnections == 0 {
		o.MaxClientConnections = d.MaxClientConnections
	}
	if o.MaxWebSocketFramers == 0 {
		o.MaxWebSocketFramers = d.MaxWebSocketFramers
	}
	if o.RequestBufferSize == 0 {
		o.RequestBufferSize = d.RequestBufferSize
	}
	if o.RequestBufferCap == 0 {
		o.RequestBufferCap = d.RequestBufferCap
	}
	if o.ResponseBufferSize == 0 {
		o.ResponseBufferSize = d.ResponseBufferSize
	}
	if o.HeaderReservedSize == 0 {
		o.HeaderReservedSize = d.HeaderReservedSize
	}
	if o.SendChunkCap == 0 {
		o.SendChunkCap = d.SendChunkCap
	}
	if o.KeepAliveTimeout == 0 {
		o.KeepAliveTimeout = d.KeepAliveTimeout
	}
	if o.WSPingInterval == 0 {
		o.WSPingInterval = d.WSPingInterval
	}
	if o.WSPongTimeout == 0 {
		o.WSPongTimeout = d.WSPongTimeout
	}
	if o.WSCloseTimeout == 0 {
		o.WSCloseTimeout = d.WSCloseTimeout
	}
	if o.MaxHeaderNameLength == 0 {
		o.MaxHeaderNameLength = d.MaxHeaderNameLength
	}
	if o.MaxHeaderValueLength == 0 {
		o.MaxHeaderValueLength = d.MaxHeaderValueLength
	}
	return o
}
