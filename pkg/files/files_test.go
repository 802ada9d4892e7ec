package files

import (
	"bytes"
	"testing"
	"testing/fstest"

	"github.com/rhysbryant/simpleHTTPServer/pkg/config"
	"github.com/rhysbryant/simpleHTTPServer/pkg/request"
	"github.com/rhysbryant/simpleHTTPServer/pkg/response"
	"github.com/rhysbryant/simpleHTTPServer/pkg/transport"
)

type recordingSender struct {
	writes [][]byte
}

func (s *recordingSender) WriteData(data []byte, flags transport.WriteFlags) bool {
	s.writes = append(s.writes, append([]byte(nil), data...))
	return true
}

func (s *recordingSender) all() []byte {
	var out []byte
	for _, w := range s.writes {
		out = append(out, w...)
	}
	return out
}

func newReqResp(path string, headers map[string]string) (*request.Parser, *response.Response, *recordingSender) {
	opts := config.Default()
	req := request.New(opts)
	req.Path = path
	req.Headers = headers
	s := &recordingSender{}
	resp := response.New(s, opts, true, request.HTTP11)
	return req, resp, s
}

func TestHandlerServesRegisteredAsset(t *testing.T) {
	h := New()
	h.Add("/hello.txt", &Asset{ContentType: "text/plain", Data: []byte("hi there")})

	req, resp, s := newReqResp("/hello.txt", map[string]string{})
	h.Handle(nil, req, resp)
	resp.Finalize()

	wire := string(s.all())
	if !bytes.Contains([]byte(wire), []byte("Content-Type: text/plain")) {
		t.Fatalf("expected Content-Type header, got %q", wire)
	}
	if !bytes.HasSuffix([]byte(wire), []byte("hi there")) {
		t.Fatalf("expected body hi there, got %q", wire)
	}
}

func TestHandlerMissingAssetIs404(t *testing.T) {
	h := New()
	req, resp, s := newReqResp("/nope", map[string]string{})
	h.Handle(nil, req, resp)
	resp.Finalize()

	if !bytes.Contains(s.all(), []byte("404")) {
		t.Fatalf("expected a 404 status line, got %q", s.all())
	}
}

func TestHandlerGzippedAssetRequiresAcceptEncoding(t *testing.T) {
	h := New()
	h.Add("/app.js.gz", &Asset{ContentType: "application/javascript", Data: []byte("compressed"), Gzipped: true})

	req, resp, s := newReqResp("/app.js.gz", map[string]string{})
	h.Handle(nil, req, resp)
	resp.Finalize()
	if !bytes.Contains(s.all(), []byte("500")) {
		t.Fatalf("expected 500 without Accept-Encoding: gzip, got %q", s.all())
	}

	req2, resp2, s2 := newReqResp("/app.js.gz", map[string]string{"ACCEPT-ENCODING": "gzip, deflate"})
	h.Handle(nil, req2, resp2)
	resp2.Finalize()
	if !bytes.Contains(s2.all(), []byte("Content-Encoding: gzip")) {
		t.Fatalf("expected Content-Encoding: gzip header, got %q", s2.all())
	}
}

func TestAddFSRegistersFilesUnderRoot(t *testing.T) {
	fsys := fstest.MapFS{
		"static/app.js":      {Data: []byte("console.log(1)")},
		"static/sub/app.css": {Data: []byte("body{}")},
	}

	h := New()
	if err := h.AddFS(fsys, "static", func(name string) string { return "text/plain" }, false); err != nil {
		t.Fatalf("AddFS failed: %v", err)
	}

	if _, ok := h.assets["/app.js"]; !ok {
		t.Fatalf("expected /app.js registered, got %v", h.assets)
	}
	if _, ok := h.assets["/sub/app.css"]; !ok {
		t.Fatalf("expected /sub/app.css registered, got %v", h.assets)
	}
}
