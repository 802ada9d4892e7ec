// Package websocket implements RFC 6455 framing over a hijacked HTTP
// connection: a pooled Framer decodes inbound frames from a ring buffer one
// frame at a time, and a Manager owns the pool, the upgrade handshake, and
// the periodic ping/pong/close liveness pump.
package websocket

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"sync"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/rhysbryant/simpleHTTPServer/pkg/config"
	"github.com/rhysbryant/simpleHTTPServer/pkg/request"
	"github.com/rhysbryant/simpleHTTPServer/pkg/response"
	"github.com/rhysbryant/simpleHTTPServer/pkg/ringbuf"
	"github.com/rhysbryant/simpleHTTPServer/pkg/shttperrors"
	"github.com/rhysbryant/simpleHTTPServer/pkg/transport"
)

// acceptKeyGUID is the fixed GUID RFC 6455 mixes into Sec-WebSocket-Key to
// derive Sec-WebSocket-Accept.
const acceptKeyGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	flagFIN        = 0x80
	flagMask       = 0x80
	recvBufferSize = 2048
)

// FrameType is a WebSocket opcode.
type FrameType uint8

const (
	FrameTypeContinuation FrameType = 0x0
	FrameTypeText         FrameType = 0x1
	FrameTypeBinary       FrameType = 0x2
	FrameTypeClose        FrameType = 0x8
	FrameTypePing         FrameType = 0x9
	FrameTypePong         FrameType = 0xA
)

// Frame is a single decoded WebSocket frame. Payload is a fresh slice per
// decoded frame, already unmasked.
type Frame struct {
	Type    FrameType
	Final   bool
	Payload []byte
}

// Sender is the minimum a Framer needs to emit frames: the same interface
// response.Response writes through, so a hijacked connection's sendqueue.Queue
// serves both.
type Sender interface {
	WriteData(data []byte, flags transport.WriteFlags) bool
}

// Framer is one slot of the Manager's fixed pool. It decodes frames out of a
// ring buffer fed by DataReceived and writes frames directly to its
// assigned Sender.
type Framer struct {
	mu sync.Mutex

	ring *ringbuf.Ring

	sender  Sender
	onClose func()

	inUse                  bool
	closeRequestedByServer bool
	lastPingSent           time.Time
	lastPongReceived       time.Time
}

func newFramer() *Framer {
	return &Framer{ring: ringbuf.NewRing(recvBufferSize)}
}

// Assign binds the framer to a newly upgraded connection's Sender. onClose
// is invoked by the manager's liveness pump if the peer stops responding.
func (f *Framer) Assign(sender Sender, onClose func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sender = sender
	f.onClose = onClose
	f.inUse = true
	f.closeRequestedByServer = false
	f.lastPingSent = time.Now()
	f.lastPongReceived = f.lastPingSent
	f.ring.Reset()
}

// Unassign returns the framer to the pool's free list.
func (f *Framer) Unassign() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sender = nil
	f.onClose = nil
	f.inUse = false
	f.ring.Reset()
}

// InUse reports whether the framer currently backs a live connection.
func (f *Framer) InUse() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inUse
}

// IsCloseRequestedByServer reports whether SendCloseFrame has been called
// and the manager is waiting for the peer's close frame in response.
func (f *Framer) IsCloseRequestedByServer() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeRequestedByServer
}

// DataReceived appends inbound bytes to the framer's ring buffer. If the
// chunk doesn't fit in the free space, the ring is emptied, discarding every
// byte not yet decoded, and the chunk retried; a chunk too large for an
// empty buffer is an error.
func (f *Framer) DataReceived(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ring.Put(data); err != nil {
		f.ring.Reset()
		if err := f.ring.Put(data); err != nil {
			return err
		}
	}
	return nil
}

// NextFrame attempts to decode one complete frame from the buffered bytes.
// It returns ok=false, with the buffer untouched, if a complete frame
// hasn't arrived yet. maxPayload, if positive, rejects an oversized frame
// rather than waiting for payload bytes that will never complete the read.
func (f *Framer) NextFrame(maxPayload int) (frame *Frame, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.ring
	r.MarkTail()

	fail := func(e error) (*Frame, bool, error) {
		r.ResetTail()
		return nil, false, e
	}

	if r.BackLogSize() < 2 {
		return fail(nil)
	}

	var head [2]byte
	if err := r.Get(head[:]); err != nil {
		return fail(nil)
	}

	frameType := FrameType(head[0] & 0x0F)
	final := head[0]&flagFIN != 0
	masked := head[1]&flagMask != 0
	payloadLen := int(head[1] &^ flagMask)

	switch payloadLen {
	case 126:
		if r.BackLogSize() < 2 {
			return fail(nil)
		}
		var ext [2]byte
		r.Get(ext[:])
		payloadLen = int(ext[0])<<8 | int(ext[1])
	case 127:
		return fail(shttperrors.NewValidationError("websocket.NextFrame", "64-bit frame length not supported"))
	}

	if maxPayload > 0 && payloadLen > maxPayload {
		return fail(shttperrors.NewValidationError("websocket.NextFrame", "frame payload exceeds limit"))
	}

	var mask [4]byte
	if masked {
		if r.BackLogSize() < 4 {
			return fail(nil)
		}
		r.Get(mask[:])
	}

	if r.BackLogSize() < payloadLen {
		return fail(nil)
	}

	payload := make([]byte, payloadLen)
	r.Get(payload)
	if masked {
		for i := range payload {
			payload[i] ^= mask[i%len(mask)]
		}
	}

	return &Frame{Type: frameType, Final: final, Payload: payload}, true, nil
}

// WriteFrame encodes and sends a single frame to sender. Unmasked, per the
// server-to-client direction RFC 6455 requires.
func WriteFrame(sender Sender, frameType FrameType, headerExtra, payload []byte) error {
	totalLen := len(headerExtra) + len(payload)

	var header []byte
	switch {
	case totalLen <= 125:
		header = []byte{flagFIN | byte(frameType), byte(totalLen)}
	case totalLen < 65536:
		header = []byte{flagFIN | byte(frameType), 126, byte(totalLen >> 8), byte(totalLen)}
	default:
		return shttperrors.NewValidationError("websocket.WriteFrame", "frame payload too large for a 16-bit length")
	}

	out := make([]byte, 0, len(header)+totalLen)
	out = append(out, header...)
	out = append(out, headerExtra...)
	out = append(out, payload...)

	if !sender.WriteData(out, 0) {
		return shttperrors.NewWriteError("websocket.WriteFrame", nil)
	}
	return nil
}

// WriteFrame sends a frame over the framer's currently assigned connection.
func (f *Framer) WriteFrame(frameType FrameType, headerExtra, payload []byte) error {
	f.mu.Lock()
	sender := f.sender
	f.mu.Unlock()
	if sender == nil {
		return shttperrors.NewWriteError("websocket.WriteFrame", nil)
	}
	return WriteFrame(sender, frameType, headerExtra, payload)
}

// SendCloseFrame sends a close frame carrying code and marks the framer as
// waiting for the peer's acknowledging close frame.
func (f *Framer) SendCloseFrame(code uint16) error {
	f.mu.Lock()
	f.closeRequestedByServer = true
	f.mu.Unlock()
	return f.WriteFrame(FrameTypeClose, []byte{byte(code >> 8), byte(code)}, nil)
}

// FrameHandler receives every application frame (text, binary, and raw
// close/ping/pong) the manager decodes; the manager itself answers
// ping/pong/close housekeeping regardless of what the handler does.
type FrameHandler func(f *Framer, frame *Frame)

// Manager owns the fixed pool of Framers, the upgrade handshake, and the
// background liveness pump.
type Manager struct {
	opts config.Options

	mu      sync.Mutex
	pool    []*Framer
	handler FrameHandler
}

// NewManager allocates a pool of opts.MaxWebSocketFramers Framers.
func NewManager(opts config.Options) *Manager {
	m := &Manager{opts: opts}
	m.pool = make([]*Framer, opts.MaxWebSocketFramers)
	for i := range m.pool {
		m.pool[i] = newFramer()
	}
	return m
}

// SetFrameHandler registers the callback invoked for every decoded frame.
func (m *Manager) SetFrameHandler(h FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *Manager) nextFree() *Framer {
	for _, f := range m.pool {
		if !f.InUse() {
			return f
		}
	}
	return nil
}

// acceptKey computes the Sec-WebSocket-Accept value for a client key.
func acceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey + acceptKeyGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// UpgradeHandler validates the handshake headers, claims a free pool slot,
// writes the 101 response, and hijacks the connection. onClose is wired by
// the caller (the router) to tear down the underlying connection if the
// manager's liveness pump gives up on the peer.
func (m *Manager) UpgradeHandler(req *request.Parser, resp *response.Response, onClose func()) (*Framer, error) {
	connHeader := req.Headers["CONNECTION"]
	if !httpguts.HeaderValuesContainsToken([]string{connHeader}, "upgrade") {
		resp.WriteHeader(response.StatusBadRequest)
		return nil, shttperrors.NewValidationError("websocket.UpgradeHandler", "missing Connection: Upgrade")
	}

	key := req.Headers["SEC-WEBSOCKET-KEY"]
	if key == "" {
		resp.WriteHeader(response.StatusBadRequest)
		return nil, shttperrors.NewValidationError("websocket.UpgradeHandler", "missing Sec-WebSocket-Key")
	}

	m.mu.Lock()
	framer := m.nextFree()
	m.mu.Unlock()
	if framer == nil {
		resp.WriteHeader(response.StatusInternalServerError)
		return nil, shttperrors.NewValidationError("websocket.UpgradeHandler", "no free websocket slot")
	}

	resp.WriteHeader(response.StatusSwitchingProtocols)
	resp.WriteHeaderField("Sec-WebSocket-Accept", acceptKey(key))
	resp.WriteHeaderLine("Upgrade: websocket")
	resp.SetConnectionMode(response.ConnectionUpgrade)

	sender := resp.HijackConnection()
	framer.Assign(sender, onClose)

	return framer, nil
}

// processOnce runs one liveness/frame-dispatch pass over every in-use
// framer. Its WriteFrame calls go through the connection's sendqueue.Queue,
// which writes straight to the net.Conn, so a pass can block while a peer's
// socket is not accepting data.
func (m *Manager) processOnce() {
	now := time.Now()

	m.mu.Lock()
	handler := m.handler
	pool := append([]*Framer(nil), m.pool...)
	m.mu.Unlock()

	for _, f := range pool {
		if !f.InUse() {
			continue
		}

		frame, ok, err := f.NextFrame(m.opts.SendChunkCap)
		if err != nil {
			continue
		}
		if ok {
			if handler != nil {
				handler(f, frame)
			}
			switch frame.Type {
			case FrameTypeClose:
				if !f.IsCloseRequestedByServer() {
					f.WriteFrame(FrameTypeClose, frame.Payload, nil)
				}
			case FrameTypePing:
				f.WriteFrame(FrameTypePong, frame.Payload, nil)
			case FrameTypePong:
				f.mu.Lock()
				f.lastPongReceived = now
				f.mu.Unlock()
			}
			continue
		}

		f.mu.Lock()
		lastPingSent := f.lastPingSent
		lastPongReceived := f.lastPongReceived
		closeRequested := f.closeRequestedByServer
		onClose := f.onClose
		f.mu.Unlock()

		switch {
		case now.Sub(lastPingSent) > m.opts.WSPingInterval:
			if !lastPongReceived.IsZero() && now.Sub(lastPongReceived) > m.opts.WSPongTimeout {
				if onClose != nil {
					onClose()
				}
				continue
			}
			if f.WriteFrame(FrameTypePing, nil, nil) == nil {
				f.mu.Lock()
				f.lastPingSent = now
				f.mu.Unlock()
			}
		case closeRequested && now.Sub(lastPingSent) > m.opts.WSCloseTimeout:
			if onClose != nil {
				onClose()
			}
		}
	}
}

// Run drives the liveness pump until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.opts.WSPingInterval / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.processOnce()
		}
	}
}
