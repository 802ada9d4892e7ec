// Package timing provides lightweight per-connection and per-request latency
// instrumentation for the server core.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures the timing breakdown for a single request/response cycle.
type Metrics struct {
	// TLSHandshake is the time spent completing the TLS handshake (zero for
	// a plain-text connection).
	TLSHandshake time.Duration `json:"tls_handshake"`

	// TTFB is the time between StartTTFB and EndTTFB. The router calls them
	// when a request becomes ready for processing and after its response
	// has been finalized, so this is server processing time for the whole
	// response, not network time.
	TTFB time.Duration `json:"ttfb"`

	// TotalTime is the time between NewTimer and End (or now, before End).
	TotalTime time.Duration `json:"total_time"`
}

// Timer measures the lifecycle of one request on one connection. It is not
// safe for concurrent use; each router.Connection owns exactly one at a time.
type Timer struct {
	start time.Time

	tlsStart time.Time
	tlsEnd   time.Time

	ttfbStart time.Time
	ttfbEnd   time.Time

	end time.Time
}

// NewTimer starts a new timing session, recording the current time as the
// start of the request.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartTLS marks the beginning of the TLS handshake.
func (t *Timer) StartTLS() {
	t.tlsStart = time.Now()
}

// EndTLS marks the end of the TLS handshake.
func (t *Timer) EndTLS() {
	t.tlsEnd = time.Now()
}

// StartTTFB marks the point the request became ready for processing (the
// parser returned ReadyForProcessing).
func (t *Timer) StartTTFB() {
	t.ttfbStart = time.Now()
}

// EndTTFB marks the end of the TTFB span; the router calls it once the
// response has been finalized and handed to the send queue.
func (t *Timer) EndTTFB() {
	t.ttfbEnd = time.Now()
}

// End marks the completion of the response and freezes TotalTime.
func (t *Timer) End() {
	t.end = time.Now()
}

// Metrics returns the calculated timing breakdown. Safe to call before End;
// TotalTime will reflect elapsed time so far.
func (t *Timer) Metrics() Metrics {
	end := t.end
	if end.IsZero() {
		end = time.Now()
	}

	m := Metrics{TotalTime: end.Sub(t.start)}

	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}

	return m
}

// String provides a human-readable representation of the metrics, suitable
// for a debug log line.
func (m Metrics) String() string {
	return fmt.Sprintf("tlsHandshake=%v ttfb=%v total=%v", m.TLSHandshake, m.TTFB, m.TotalTime)
}
