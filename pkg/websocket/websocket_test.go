package websocket

import (
	"testing"

	"github.com/rhysbryant/simpleHTTPServer/pkg/config"
	"github.com/rhysbryant/simpleHTTPServer/pkg/request"
	"github.com/rhysbryant/simpleHTTPServer/pkg/response"
	"github.com/rhysbryant/simpleHTTPServer/pkg/transport"
)

// recordingSender captures every WriteData call's bytes, for asserting on
// the exact frame bytes WriteFrame produces.
type recordingSender struct {
	writes [][]byte
}

func (s *recordingSender) WriteData(data []byte, flags transport.WriteFlags) bool {
	cp := append([]byte(nil), data...)
	s.writes = append(s.writes, cp)
	return true
}

// Scenario 7: the RFC 6455 example key/accept pair.
func TestAcceptKeyMatchesRFCExample(t *testing.T) {
	got := acceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func maskFrame(payload []byte, mask [4]byte) []byte {
	out := make([]byte, len(payload))
	for i, b := range payload {
		out[i] = b ^ mask[i%4]
	}
	return out
}

// buildClientFrame constructs a masked client->server frame as it would
// appear on the wire, for feeding into a Framer via DataReceived.
func buildClientFrame(frameType FrameType, payload []byte) []byte {
	mask := [4]byte{0x12, 0x34, 0x56, 0x78}
	masked := maskFrame(payload, mask)

	frame := []byte{flagFIN | byte(frameType)}
	switch {
	case len(payload) <= 125:
		frame = append(frame, flagMask|byte(len(payload)))
	default:
		frame = append(frame, flagMask|126, byte(len(payload)>>8), byte(len(payload)))
	}
	frame = append(frame, mask[:]...)
	frame = append(frame, masked...)
	return frame
}

func TestFramerDecodesMaskedFrame(t *testing.T) {
	f := newFramer()
	sender := &recordingSender{}
	f.Assign(sender, nil)

	wire := buildClientFrame(FrameTypeText, []byte("Hello"))
	if err := f.DataReceived(wire); err != nil {
		t.Fatalf("DataReceived failed: %v", err)
	}

	frame, ok, err := f.NextFrame(0)
	if err != nil {
		t.Fatalf("NextFrame error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a complete frame")
	}
	if frame.Type != FrameTypeText || !frame.Final {
		t.Fatalf("unexpected frame type/final: %v/%v", frame.Type, frame.Final)
	}
	if string(frame.Payload) != "Hello" {
		t.Fatalf("expected unmasked payload Hello, got %q", frame.Payload)
	}
}

// A mask/unmask round trip must be the identity: XOR-ing the same mask
// twice recovers the original bytes.
func TestMaskUnmaskRoundTrip(t *testing.T) {
	mask := [4]byte{0xAA, 0x55, 0xF0, 0x0F}
	original := []byte("round trip payload")
	masked := maskFrame(original, mask)
	unmasked := maskFrame(masked, mask)
	if string(unmasked) != string(original) {
		t.Fatalf("want %q, got %q", original, unmasked)
	}
}

// NextFrame on a partial frame must leave the ring exactly as it was, so a
// later DataReceived call with the rest of the frame still decodes cleanly.
func TestFramerAtomicOnShortRead(t *testing.T) {
	f := newFramer()
	sender := &recordingSender{}
	f.Assign(sender, nil)

	wire := buildClientFrame(FrameTypeText, []byte("Hello, World"))

	if err := f.DataReceived(wire[:5]); err != nil {
		t.Fatalf("DataReceived (partial) failed: %v", err)
	}
	if _, ok, err := f.NextFrame(0); ok || err != nil {
		t.Fatalf("expected no complete frame yet, got ok=%v err=%v", ok, err)
	}

	if err := f.DataReceived(wire[5:]); err != nil {
		t.Fatalf("DataReceived (rest) failed: %v", err)
	}
	frame, ok, err := f.NextFrame(0)
	if err != nil || !ok {
		t.Fatalf("expected complete frame after rest arrived, ok=%v err=%v", ok, err)
	}
	if string(frame.Payload) != "Hello, World" {
		t.Fatalf("expected Hello, World, got %q", frame.Payload)
	}
}

func TestFramerRejectsOversizedPayload(t *testing.T) {
	f := newFramer()
	sender := &recordingSender{}
	f.Assign(sender, nil)

	wire := buildClientFrame(FrameTypeBinary, make([]byte, 200))
	f.DataReceived(wire)

	if _, ok, err := f.NextFrame(100); ok || err == nil {
		t.Fatalf("expected an error for a frame exceeding maxPayload, got ok=%v err=%v", ok, err)
	}
}

// Server-to-client frames are sent unmasked, per RFC 6455.
func TestWriteFrameIsUnmasked(t *testing.T) {
	s := &recordingSender{}
	if err := WriteFrame(s, FrameTypeText, nil, []byte("Hi")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if len(s.writes) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(s.writes))
	}
	wire := s.writes[0]
	if wire[1]&flagMask != 0 {
		t.Fatalf("server frame must not set the mask bit: %v", wire)
	}
	if wire[0] != flagFIN|byte(FrameTypeText) {
		t.Fatalf("unexpected first byte: %x", wire[0])
	}
	payloadLen := int(wire[1] &^ flagMask)
	if string(wire[2:2+payloadLen]) != "Hi" {
		t.Fatalf("expected payload Hi, got %q", wire[2:2+payloadLen])
	}
}

func TestWriteFrameUses16BitLengthAboveThreshold(t *testing.T) {
	s := &recordingSender{}
	payload := make([]byte, 200)
	if err := WriteFrame(s, FrameTypeBinary, nil, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	wire := s.writes[0]
	if wire[1]&^flagMask != 126 {
		t.Fatalf("expected extended 16-bit length marker 126, got %d", wire[1]&^flagMask)
	}
	gotLen := int(wire[2])<<8 | int(wire[3])
	if gotLen != 200 {
		t.Fatalf("expected extended length 200, got %d", gotLen)
	}
}

func TestUpgradeHandlerRejectsMissingUpgradeHeader(t *testing.T) {
	opts := config.Default()
	m := NewManager(opts)

	req := request.New(opts)
	req.Headers = map[string]string{"SEC-WEBSOCKET-KEY": "dGhlIHNhbXBsZSBub25jZQ=="}

	s := &recordingSender{}
	resp := response.New(s, opts, true, request.HTTP11)

	if _, err := m.UpgradeHandler(req, resp, nil); err == nil {
		t.Fatalf("expected error when Connection: Upgrade is missing")
	}
}

func TestUpgradeHandlerSucceedsAndHijacks(t *testing.T) {
	opts := config.Default()
	m := NewManager(opts)

	req := request.New(opts)
	req.Headers = map[string]string{
		"CONNECTION":        "Upgrade",
		"SEC-WEBSOCKET-KEY": "dGhlIHNhbXBsZSBub25jZQ==",
	}

	s := &recordingSender{}
	resp := response.New(s, opts, true, request.HTTP11)

	framer, err := m.UpgradeHandler(req, resp, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if framer == nil || !framer.InUse() {
		t.Fatalf("expected an in-use framer to be returned")
	}
	if !resp.Hijacked() {
		t.Fatalf("expected the response to have hijacked its connection")
	}
}

func TestManagerPoolExhaustionFailsUpgrade(t *testing.T) {
	opts := config.Default()
	opts.MaxWebSocketFramers = 1
	m := NewManager(opts)

	req := request.New(opts)
	req.Headers = map[string]string{
		"CONNECTION":        "Upgrade",
		"SEC-WEBSOCKET-KEY": "dGhlIHNhbXBsZSBub25jZQ==",
	}

	s1 := &recordingSender{}
	resp1 := response.New(s1, opts, true, request.HTTP11)
	if _, err := m.UpgradeHandler(req, resp1, nil); err != nil {
		t.Fatalf("first upgrade unexpectedly failed: %v", err)
	}

	req2 := request.New(opts)
	req2.Headers = req.Headers
	s2 := &recordingSender{}
	resp2 := response.New(s2, opts, true, request.HTTP11)
	if _, err := m.UpgradeHandler(req2, resp2, nil); err == nil {
		t.Fatalf("expected the second upgrade to fail once the pool is exhausted")
	}
}
