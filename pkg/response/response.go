// Package response implements the HTTP/1.1 response formatter: a single
// fixed-size buffer split into a header region, a small rewindable prefix
// region used to prepend a chunk size once the chunk's length is known, and
// the body region itself.
package response

import (
	"strconv"
	"strings"

	"github.com/rhysbryant/simpleHTTPServer/pkg/config"
	"github.com/rhysbryant/simpleHTTPServer/pkg/request"
	"github.com/rhysbryant/simpleHTTPServer/pkg/shttperrors"
	"github.com/rhysbryant/simpleHTTPServer/pkg/transport"
)

var eol = []byte{'\r', '\n'}

// chunkedTransferSizeHeaderSize is the room reserved for a hex chunk-size
// prefix plus its trailing CRLF: up to 20 hex digits (comfortably more than
// any buffer this server will ever hold needs) plus len(eol).
const chunkedTransferSizeHeaderSize = 20 + 2

// ConnectionMode selects which Connection/Keep-Alive header flush() emits.
type ConnectionMode int

const (
	ConnectionKeepAlive ConnectionMode = iota
	ConnectionUpgrade
	ConnectionClose
)

// Status is one of the small set of status lines the server core emits
// directly. WriteHeader is the only way a status line is written, so a
// response can only carry one of these statuses.
type Status int

const (
	StatusOK Status = iota
	StatusSwitchingProtocols
	StatusNotFound
	StatusBadRequest
	StatusInternalServerError
)

var statusLines = map[Status]string{
	StatusOK:                  "200 OK",
	StatusSwitchingProtocols:  "101 Switching Protocols",
	StatusNotFound:            "404 Not Found",
	StatusBadRequest:          "400 Bad Request",
	StatusInternalServerError: "500 Internal Server Error",
}

var versionStrings = map[request.HTTPVersion]string{
	request.HTTP10: "HTTP/1.0",
	request.HTTP11: "HTTP/1.1",
	request.RTSP10: "RTSP/1.0",
}

// Sender is the minimum a Response needs from its connection: queue bytes
// for send, reporting whether they were accepted. Implemented by
// sendqueue.Queue.
type Sender interface {
	WriteData(data []byte, flags transport.WriteFlags) bool
}

// Response accumulates a single HTTP response into a fixed-size buffer and
// flushes it to a Sender in as few writes as possible, choosing between
// Content-Length and chunked transfer encoding depending on whether the
// handler knows the full body length up front.
type Response struct {
	opts config.Options

	sender Sender

	buf       []byte
	headerPos int // write cursor within the header region, grows rightward
	bodyStart int // start of the body region, may move leftward for a prefix
	pos       int // write cursor within the body region, grows rightward

	sizeTotal int

	headersSent     bool
	statusWritten   bool
	chunkedEncoding bool
	version         request.HTTPVersion
	connectionMode  ConnectionMode

	hijacked bool
}

// New constructs a Response over sender. keepAlive and version determine the
// default Connection header and status-line version string; the Connection
// mode can be overridden with SetConnectionMode before the first Flush.
func New(sender Sender, opts config.Options, keepAlive bool, version request.HTTPVersion) *Response {
	r := &Response{
		opts:            opts,
		sender:          sender,
		buf:             make([]byte, opts.ResponseBufferSize),
		chunkedEncoding: true,
		version:         version,
	}
	r.bodyStart = opts.HeaderReservedSize
	r.pos = r.bodyStart
	if keepAlive {
		r.connectionMode = ConnectionKeepAlive
	} else {
		r.connectionMode = ConnectionClose
	}
	return r
}

// SetConnectionMode overrides the Connection header flush() will emit.
func (r *Response) SetConnectionMode(m ConnectionMode) { r.connectionMode = m }

// ConnectionMode returns the currently configured Connection header mode.
func (r *Response) ConnectionMode() ConnectionMode { return r.connectionMode }

// BytesSent returns the total number of bytes handed to the Sender so far.
func (r *Response) BytesSent() int { return r.sizeTotal }

func (r *Response) ensureStatusWritten() bool {
	if !r.statusWritten {
		return r.WriteHeader(StatusOK)
	}
	return true
}

// appendHeaders copies p into the header region, growing the region into
// unused body space if nothing has been written to the body yet. Once the
// headers have been flushed it refuses every write.
func (r *Response) appendHeaders(p []byte) bool {
	if r.headersSent {
		return false
	}
	if r.headerPos+len(p) >= r.bodyStart {
		if r.bodyStart == r.pos && r.headerPos+len(p) < len(r.buf) {
			r.bodyStart += len(p)
			r.pos += len(p)
		} else {
			return false
		}
	}
	copy(r.buf[r.headerPos:], p)
	r.headerPos += len(p)
	return true
}

func (r *Response) appendHeadersEOL() bool {
	return r.appendHeaders(eol)
}

// appendBodyPrefix writes p immediately before the body region, moving
// bodyStart left. Used to prepend a chunk's hex size once its length is
// known.
func (r *Response) appendBodyPrefix(p []byte) bool {
	if r.bodyStart-len(p) <= r.headerPos {
		return false
	}
	r.bodyStart -= len(p)
	copy(r.buf[r.bodyStart:], p)
	return true
}

func (r *Response) appendBody(p []byte) bool {
	if r.pos+len(p) > len(r.buf) {
		return false
	}
	copy(r.buf[r.pos:], p)
	r.pos += len(p)
	return true
}

// Write appends body bytes, flushing the buffer to the Sender as it fills.
// It returns the number of bytes actually written; a short write means the
// Sender rejected a flush and the caller should treat the response as
// broken.
func (r *Response) Write(data []byte) (int, error) {
	r.ensureStatusWritten()

	remaining := len(data)
	for remaining > 0 {
		avail := len(r.buf) - r.pos
		if r.chunkedEncoding {
			if avail > len(eol) {
				avail -= len(eol)
			} else {
				avail = 0
			}
		}

		toCopy := remaining
		if toCopy > avail {
			toCopy = avail
		}

		off := len(data) - remaining
		if !r.appendBody(data[off : off+toCopy]) {
			return off, nil
		}
		remaining -= toCopy

		if remaining > 0 {
			if err := r.Flush(); err != nil {
				return len(data) - remaining, err
			}
		}
	}
	return len(data), nil
}

// WriteDirect flushes any buffered data and then hands data straight to the
// Sender, bypassing the response buffer entirely. Used for large bodies
// (embedded files) where copying into the response buffer would be wasted
// work.
func (r *Response) WriteDirect(data []byte) (int, error) {
	if err := r.Flush(); err != nil {
		return 0, err
	}
	if r.sender.WriteData(data, transport.WriteFlagZeroCopy) {
		r.sizeTotal += len(data)
		return len(data), nil
	}
	return 0, shttperrors.NewWriteError("response.WriteDirect", nil)
}

// WriteHeader writes the status line. Calling it more than once, or after
// headers have already been flushed, is a no-op that reports false.
func (r *Response) WriteHeader(status Status) bool {
	if r.headersSent || r.statusWritten {
		return false
	}
	r.statusWritten = true

	return r.appendHeaders([]byte(versionStrings[r.version])) &&
		r.appendHeaders([]byte(" ")) &&
		r.WriteHeaderLine(statusLines[status])
}

// WriteHeaderLine appends a raw header line (or, given an empty string, just
// the CRLF that ends the header block).
func (r *Response) WriteHeaderLine(line string) bool {
	return r.ensureStatusWritten() &&
		r.appendHeaders([]byte(line)) &&
		r.appendHeadersEOL()
}

// WriteHeaderField appends a "name: value" header line.
func (r *Response) WriteHeaderField(name, value string) bool {
	return r.ensureStatusWritten() &&
		r.appendHeaders([]byte(name)) &&
		r.appendHeaders([]byte(": ")) &&
		r.appendHeaders([]byte(value)) &&
		r.appendHeadersEOL()
}

// AddContentLengthHeader switches the response to Content-Length framing and
// writes the header. Call at most once, before the first Flush.
func (r *Response) AddContentLengthHeader(length int) {
	r.ensureStatusWritten()
	r.appendHeaders([]byte("Content-Length: "))
	r.appendHeaders([]byte(strconv.Itoa(length)))
	r.appendHeaders(eol)
	r.chunkedEncoding = false
}

// Flush writes the buffered headers (on the first call) and body chunk to
// the Sender.
func (r *Response) Flush() error {
	return r.flush(false)
}

// Finalize flushes any remaining buffered body and, for a chunked response,
// appends the terminating zero-length chunk.
func (r *Response) Finalize() error {
	return r.flush(true)
}

func (r *Response) flush(finalize bool) error {
	chunkSize := r.pos - r.bodyStart

	if !r.headersSent {
		if finalize && r.chunkedEncoding {
			r.AddContentLengthHeader(chunkSize)
		} else if r.chunkedEncoding {
			r.WriteHeaderLine("Transfer-Encoding: chunked")
		}

		switch r.connectionMode {
		case ConnectionKeepAlive:
			r.WriteHeaderLine("Keep-Alive: timeout=15, max=1000")
		case ConnectionClose:
			r.WriteHeaderLine("Connection: close")
		case ConnectionUpgrade:
			r.WriteHeaderLine("Connection: Upgrade")
		}

		r.WriteHeaderLine("")

		if err := r.networkWrite(r.buf[:r.headerPos]); err != nil {
			return err
		}
		r.headersSent = true
	}

	beforeChunkAdd := r.bodyStart
	if r.chunkedEncoding {
		hexSize := strings.ToUpper(strconv.FormatInt(int64(chunkSize), 16))
		prefix := append([]byte(hexSize), eol...)

		if !(r.appendBodyPrefix(prefix) && r.appendBody(eol)) {
			r.bodyStart = beforeChunkAdd
			return shttperrors.NewBufferFullError("response.flush")
		}

		if chunkSize > 0 && finalize {
			r.Write([]byte("0\r\n\r\n"))
		}
	}

	err := r.networkWrite(r.buf[r.bodyStart:r.pos])
	if err == nil {
		r.bodyStart = chunkedTransferSizeHeaderSize
		r.pos = r.bodyStart
		r.headerPos = 0
	} else if r.chunkedEncoding {
		r.bodyStart = beforeChunkAdd
	}
	return err
}

func (r *Response) networkWrite(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if r.sender.WriteData(data, 0) {
		r.sizeTotal += len(data)
		return nil
	}
	return shttperrors.NewWriteError("response.networkWrite", nil)
}

// HijackConnection marks the response as hijacked and returns the Sender for
// the handler to drive directly (used by the WebSocket upgrade path). The
// flag is only reported by Hijacked; inbound bytes keep going to the request
// parser until the handler calls router.Connection.SetDataReceived.
func (r *Response) HijackConnection() Sender {
	r.hijacked = true
	return r.sender
}

// Hijacked reports whether HijackConnection has been called.
func (r *Response) Hijacked() bool { return r.hijacked }
