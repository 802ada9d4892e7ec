// Package request implements the incremental HTTP/1.1 (and optional RTSP/1.0)
// request parser. A Parser is fed arbitrarily small fragments of a
// connection's inbound byte stream and reports, after each fragment, whether
// it has a complete request line plus headers, whether more data is needed,
// or whether the stream is malformed.
package request

import (
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/rhysbryant/simpleHTTPServer/pkg/config"
	"github.com/rhysbryant/simpleHTTPServer/pkg/ringbuf"
	"github.com/rhysbryant/simpleHTTPServer/pkg/shttperrors"
)

// Result mirrors the tri-state control flow the parser and body reader use
// throughout: a call either finished (OK), needs more bytes before it can
// make progress (MoreData), or hit a condition the connection cannot recover
// from (Error).
type Result int

const (
	OK Result = iota
	Error
	MoreData
)

// Method identifies the request's HTTP verb.
type Method int

const (
	GET Method = iota
	PUT
	HEAD
	POST
	SEND
	DELETE
	OPTIONS
	// The remaining methods are only recognized when config.Options.EnableRTSP
	// is set.
	RTSPDescribe
	RTSPSetup
	RTSPPlay
	RTSPPause
	RTSPTeardown
	RTSPAnnounce
	RTSPRecord
	UnknownMethod
)

// rtspMethods marks which Method values require EnableRTSP, so a single
// lookup table drives both name resolution and the gate check.
var rtspMethods = map[Method]bool{
	RTSPDescribe: true,
	RTSPSetup:    true,
	RTSPPlay:     true,
	RTSPPause:    true,
	RTSPTeardown: true,
	RTSPAnnounce: true,
	RTSPRecord:   true,
}

var methodNames = map[string]Method{
	"GET":      GET,
	"PUT":      PUT,
	"HEAD":     HEAD,
	"POST":     POST,
	"SEND":     SEND,
	"DELETE":   DELETE,
	"OPTIONS":  OPTIONS,
	"DESCRIBE": RTSPDescribe,
	"SETUP":    RTSPSetup,
	"PLAY":     RTSPPlay,
	"PAUSE":    RTSPPause,
	"TEARDOWN": RTSPTeardown,
	"ANNOUNCE": RTSPAnnounce,
	"RECORD":   RTSPRecord,
}

// methodHasBody reports whether a request using this method is expected to
// carry a body the caller should drain with ReadBody.
var methodHasBody = map[Method]bool{
	GET:          false,
	PUT:          true,
	HEAD:         false,
	POST:         true,
	SEND:         true,
	DELETE:       false,
	OPTIONS:      false,
	RTSPDescribe: false,
	RTSPSetup:    false,
	RTSPPlay:     false,
	RTSPPause:    false,
	RTSPTeardown: false,
	RTSPAnnounce: true,
	RTSPRecord:   true,
}

// HTTPVersion identifies the declared protocol version of a request.
type HTTPVersion int

const (
	HTTP10 HTTPVersion = iota
	HTTP11
	RTSP10
	VersionUnknown
)

var versionNames = map[string]HTTPVersion{
	"HTTP/1.0": HTTP10,
	"HTTP/1.1": HTTP11,
	"RTSP/1.0": RTSP10,
}

type parsingStage int

const (
	waitingRequestLine parsingStage = iota
	waitingHeaders
	waitingBody
	waitingComplete
)

// Parser accumulates inbound bytes across multiple Parse calls and exposes
// the decoded request line, headers, and a streaming body reader once enough
// has arrived. It is reused across requests on a keepalive connection via
// Reset.
type Parser struct {
	opts config.Options

	stage parsingStage

	buf    *ringbuf.Growable
	rd     int // read offset into buf, advanced as tokens are consumed
	consumedAtLastParse int
	// committedRd is the rd position as of the end of the previous ReadBody
	// call. It is only dropped from buf at the start of the next ReadBody
	// call, once UnreadBody can no longer rewind past it, so a single
	// UnreadBody after a ReadBody always has the bytes it needs still
	// present in buf.
	committedRd int

	Method  Method
	Version HTTPVersion
	Path    string
	Headers map[string]string

	bodyChunked           bool
	bodyLength            int
	bodyReadInProgress    bool
	hasMoreBodySinceCheck bool
	lastBodyBytesWritten  int

	// preReadBodyLength/preReadStage/preReadBodyReadInProgress snapshot the
	// state ReadBody mutates, taken at the start of each call, so UnreadBody
	// can restore it exactly rather than just rewinding rd. canUnreadBody is
	// true only for the span between a ReadBody call and the next ReadBody
	// or UnreadBody call.
	preReadBodyLength         int
	preReadStage              parsingStage
	preReadBodyReadInProgress bool
	canUnreadBody             bool
}

// New constructs a Parser with the given options, ready to parse a request
// line from byte zero.
func New(opts config.Options) *Parser {
	p := &Parser{
		opts: opts,
		buf:  ringbuf.NewGrowable(opts.RequestBufferSize, opts.RequestBufferCap),
	}
	p.Reset()
	return p
}

// Reset clears all parsed state so the Parser can be reused for the next
// request on the same connection.
func (p *Parser) Reset() {
	p.stage = waitingRequestLine
	p.buf.Reset()
	p.rd = 0
	p.consumedAtLastParse = 0
	p.committedRd = 0
	p.canUnreadBody = false
	p.Method = UnknownMethod
	p.Version = VersionUnknown
	p.Path = ""
	p.Headers = make(map[string]string)
	p.bodyChunked = false
	p.bodyLength = 0
	p.bodyReadInProgress = false
	p.hasMoreBodySinceCheck = false
	p.lastBodyBytesWritten = 0
}

// Parse appends data to the internal buffer and advances the state machine
// as far as it can. Returns MoreData until the request line and headers have
// arrived; Error on a malformed stream, which the caller must treat as fatal
// to the connection; OK once the headers are complete and the request carries
// no body. A request with a Content-Length or chunked body keeps returning
// MoreData after its headers are complete: its body is not parsed here but
// drained with ReadBody.
func (p *Parser) Parse(data []byte) (Result, error) {
	if len(data) > 0 {
		if _, err := p.buf.Write(data); err != nil {
			return Error, err
		}
	}

	buf := p.buf.Bytes()

	if p.stage == waitingRequestLine {
		rest := buf[p.rd:]
		methodTok, ok := nextToken(rest, ' ')
		if !ok {
			return MoreData, nil
		}
		m, ok := methodNames[string(methodTok)]
		if !ok {
			return Error, shttperrors.NewParseError("request.Parse", "unrecognized method")
		}
		if rtspMethods[m] && !p.opts.EnableRTSP {
			return Error, shttperrors.NewParseError("request.Parse", "RTSP not enabled")
		}
		off := len(methodTok) + 1

		pathTok, ok := nextToken(rest[off:], ' ')
		if !ok {
			return MoreData, nil
		}
		off += len(pathTok) + 1

		versionTok, eolLen, ok := nextEOL(rest[off:])
		if !ok {
			return MoreData, nil
		}
		v, ok := versionNames[string(versionTok)]
		if !ok {
			return Error, shttperrors.NewParseError("request.Parse", "unknown HTTP version")
		}
		if v == RTSP10 && !p.opts.EnableRTSP {
			return Error, shttperrors.NewParseError("request.Parse", "RTSP not enabled")
		}
		off += len(versionTok) + eolLen

		p.Method = m
		p.Version = v
		p.Path = string(pathTok)
		p.rd += off
		p.stage = waitingHeaders
	}

	if p.stage == waitingHeaders {
		buf = p.buf.Bytes()
		for {
			rest := buf[p.rd:]
			if isEOL(rest) > 0 {
				break
			}
			name, value, consumed, err := parseHeaderLine(rest, p.opts)
			if err != nil {
				return Error, err
			}
			if consumed == 0 {
				return MoreData, nil
			}
			p.rd += consumed

			upper := strings.ToUpper(name)
			p.Headers[upper] = value

			if methodHasBody[p.Method] {
				switch upper {
				case "CONTENT-LENGTH":
					n, err := strconv.Atoi(value)
					if err != nil {
						return Error, shttperrors.NewParseError("request.Parse", "invalid Content-Length")
					}
					if n < 0 || n > p.opts.RequestBufferCap {
						return Error, shttperrors.NewValidationError("request.Parse", "Content-Length out of range")
					}
					p.bodyLength = n
				case "TRANSFER-ENCODING":
					if httpguts.HeaderValuesContainsToken([]string{value}, "chunked") {
						p.bodyChunked = true
					}
				}
			}
		}

		eol := isEOL(buf[p.rd:])
		if eol == 0 {
			return MoreData, nil
		}
		p.rd += eol
		p.stage = waitingBody
	}

	if p.stage == waitingBody {
		if !methodHasBody[p.Method] {
			p.stage = waitingComplete
			return OK, nil
		}
		if p.bodyChunked || p.bodyLength != 0 {
			p.bodyReadInProgress = true
			p.hasMoreBodySinceCheck = true
			return MoreData, nil
		}
		p.stage = waitingComplete
	}

	return OK, nil
}

// ReadyForProcessing reports whether the parser has a complete request ready
// to hand to a handler, or (for a streamed body) whether new body bytes have
// arrived since the last call. It clears the "new body data" flag on the
// streaming branch so repeated polling doesn't re-trigger on unchanged state.
func (p *Parser) ReadyForProcessing() bool {
	if p.stage == waitingBody && p.hasMoreBodySinceCheck {
		p.hasMoreBodySinceCheck = false
		return true
	}
	return p.stage == waitingComplete
}

// ReceivedAllHeaders reports whether the request line and header block have
// both been fully parsed.
func (p *Parser) ReceivedAllHeaders() bool {
	return p.stage == waitingBody || p.stage == waitingComplete
}

// BodyLength returns the number of bytes remaining in the current
// Content-Length body, or the current chunk for a chunked body.
func (p *Parser) BodyLength() int { return p.bodyLength }

// IsBodyReadInProgress reports whether the parser has started streaming a
// request body.
func (p *Parser) IsBodyReadInProgress() bool { return p.bodyReadInProgress }

// commitBodyRead records how many bytes this ReadBody call delivered and
// where rd ended up. The bytes up to rd stay in buf until the next ReadBody
// call starts, so a single UnreadBody can always rewind this call.
func (p *Parser) commitBodyRead(written int) {
	p.lastBodyBytesWritten = written
	p.consumedAtLastParse = p.rd
	p.committedRd = p.rd
	p.canUnreadBody = true
}

// ReadBody copies as much of the pending body as fits into dst, decoding
// chunked framing transparently. It returns the number of bytes written and
// OK once the full body (content-length or final chunk) has been drained,
// MoreData if dst was filled or the buffer ran out before the body ended.
func (p *Parser) ReadBody(dst []byte) (int, Result, error) {
	// The previous call's consumed bytes can no longer be unread once a new
	// read starts, so it's safe to drop them from buf now.
	if p.committedRd > 0 {
		p.buf.Truncate(p.committedRd)
		p.rd -= p.committedRd
		p.consumedAtLastParse -= p.committedRd
		p.committedRd = 0
	}
	p.canUnreadBody = false

	p.preReadBodyLength = p.bodyLength
	p.preReadStage = p.stage
	p.preReadBodyReadInProgress = p.bodyReadInProgress

	written := 0

	if !p.bodyChunked {
		buf := p.buf.Bytes()
		available := len(buf) - p.rd
		toCopy := p.bodyLength
		if toCopy > available {
			toCopy = available
		}
		if toCopy > len(dst) {
			toCopy = len(dst)
		}
		copy(dst, buf[p.rd:p.rd+toCopy])
		p.rd += toCopy
		p.bodyLength -= toCopy
		written += toCopy

		p.commitBodyRead(written)
		if p.bodyLength == 0 {
			p.stage = waitingComplete
			p.bodyReadInProgress = false
			return written, OK, nil
		}
		return written, MoreData, nil
	}

	// Chunked mode loops within this same call: once a chunk's data (and its
	// trailing CRLF) has been fully consumed, it immediately attempts to
	// parse the next chunk-size line rather than returning to the caller.
	for {
		if p.bodyLength == 0 {
			buf := p.buf.Bytes()
			sizeTok, eolLen, ok := nextEOL(buf[p.rd:])
			if !ok {
				p.commitBodyRead(written)
				return written, MoreData, nil
			}
			n, err := strconv.ParseInt(strings.TrimSpace(string(sizeTok)), 16, 64)
			if err != nil {
				return 0, Error, shttperrors.NewParseError("request.ReadBody", "invalid chunk size")
			}
			p.rd += len(sizeTok) + eolLen
			p.bodyLength = int(n)

			if p.bodyLength == 0 {
				// final chunk; trailing CRLF terminates the message
				p.commitBodyRead(written)
				p.stage = waitingComplete
				p.bodyReadInProgress = false
				return written, OK, nil
			}
		}

		buf := p.buf.Bytes()
		available := len(buf) - p.rd
		if available == 0 {
			p.commitBodyRead(written)
			return written, MoreData, nil
		}
		toCopy := p.bodyLength
		if toCopy > available {
			toCopy = available
		}
		if toCopy > len(dst)-written {
			toCopy = len(dst) - written
		}
		copy(dst[written:], buf[p.rd:p.rd+toCopy])
		p.rd += toCopy
		p.bodyLength -= toCopy
		written += toCopy

		if p.bodyLength > 0 {
			// dst is full or the buffered bytes ran out; the chunk isn't
			// exhausted yet
			p.commitBodyRead(written)
			return written, MoreData, nil
		}

		eol := isEOL(p.buf.Bytes()[p.rd:])
		if eol == 0 {
			// trailing CRLF hasn't arrived yet
			p.commitBodyRead(written)
			return written, MoreData, nil
		}
		p.rd += eol

		if written >= len(dst) {
			p.commitBodyRead(written)
			return written, MoreData, nil
		}
	}
}

// UnreadBody rewinds the parser to the state before the most recent ReadBody
// call, returning OK, or Error if nothing is available to rewind (ReadBody
// hasn't been called, or has already been unread once).
func (p *Parser) UnreadBody() Result {
	if !p.canUnreadBody {
		return Error
	}
	rd := p.consumedAtLastParse - p.lastBodyBytesWritten
	if rd < 0 {
		return Error
	}
	p.rd = rd
	// Bytes before rd were already consumed by an earlier call and are no
	// longer reachable by any further unread; only rd onward must survive
	// the next ReadBody call's truncation.
	p.committedRd = rd
	p.bodyLength = p.preReadBodyLength
	p.stage = p.preReadStage
	p.bodyReadInProgress = p.preReadBodyReadInProgress
	p.canUnreadBody = false
	return OK
}

func nextToken(data []byte, tok byte) ([]byte, bool) {
	for i, b := range data {
		if b == tok {
			return data[:i], true
		}
	}
	return nil, false
}

// nextEOL returns the line up to (excluding) a trailing \r\n or \n, and the
// number of bytes consumed by the terminator itself.
func nextEOL(data []byte) ([]byte, int, bool) {
	for i, b := range data {
		if b == '\n' {
			if i > 0 && data[i-1] == '\r' {
				return data[:i-1], 2, true
			}
			return data[:i], 1, true
		}
	}
	return nil, 0, false
}

func isEOL(data []byte) int {
	if len(data) >= 2 && data[0] == '\r' && data[1] == '\n' {
		return 2
	}
	if len(data) >= 1 && data[0] == '\n' {
		return 1
	}
	return 0
}

func parseHeaderLine(data []byte, opts config.Options) (name, value string, consumed int, err error) {
	nameTok, ok := nextToken(data, ':')
	if !ok {
		return "", "", 0, nil
	}
	if len(nameTok) > opts.MaxHeaderNameLength {
		return "", "", 0, shttperrors.NewParseError("request.parseHeaderLine", "header name too long")
	}
	rest := data[len(nameTok)+1:]
	rest = trimLeadingSpace(rest)
	valueTok, eolLen, ok := nextEOL(rest)
	if !ok {
		return "", "", 0, nil
	}
	if len(valueTok) > opts.MaxHeaderValueLength {
		return "", "", 0, shttperrors.NewParseError("request.parseHeaderLine", "header value too long")
	}
	consumed = len(nameTok) + 1 + (len(data[len(nameTok)+1:]) - len(rest)) + len(valueTok) + eolLen
	return string(nameTok), string(valueTok), consumed, nil
}

func trimLeadingSpace(data []byte) []byte {
	i := 0
	for i < len(data) && data[i] == ' ' {
		i++
	}
	return data[i:]
}
