// Package files implements an in-memory static asset handler: a path to
// content map served with the right Content-Type and, for pre-compressed
// assets, gzip negotiated against the request's Accept-Encoding header.
package files

import (
	"io/fs"

	"golang.org/x/net/http/httpguts"

	"github.com/rhysbryant/simpleHTTPServer/pkg/request"
	"github.com/rhysbryant/simpleHTTPServer/pkg/response"
	"github.com/rhysbryant/simpleHTTPServer/pkg/router"
)

// Asset is one served file: its bytes, its Content-Type, and whether Data
// is already gzip-compressed on disk (the original's flags byte packed the
// content-type table index into the low six bits and this into the top
// bit).
type Asset struct {
	ContentType string
	Data        []byte
	Gzipped     bool
}

// Handler serves a fixed path-to-Asset map. It has no dynamic load path;
// assets are registered once at startup via Add or AddFS.
type Handler struct {
	assets map[string]*Asset
}

// New returns an empty Handler.
func New() *Handler {
	return &Handler{assets: make(map[string]*Asset)}
}

// Add registers a single asset under path.
func (h *Handler) Add(path string, asset *Asset) {
	h.assets[path] = asset
}

// AddFS walks fsys (typically an embed.FS produced by a go:embed directive)
// and registers every regular file under root, keyed by its path relative
// to root with a leading slash, e.g. "static/app.js" becomes "/app.js".
// contentTypeFor maps a file name to the Content-Type header to serve it
// with; gzipped marks every file added this way as pre-compressed.
func (h *Handler) AddFS(fsys fs.FS, root string, contentTypeFor func(name string) string, gzipped bool) error {
	return fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		urlPath := "/" + path[len(root):]
		for len(urlPath) > 1 && urlPath[0] == '/' && urlPath[1] == '/' {
			urlPath = urlPath[1:]
		}
		h.Add(urlPath, &Asset{
			ContentType: contentTypeFor(path),
			Data:        data,
			Gzipped:     gzipped,
		})
		return nil
	})
}

// Handle serves req.Path from the asset map, matching
// EmbeddedFilesHandler::embeddedFilesHandler: a miss is a 404, a gzipped
// asset requires the client to advertise gzip support or gets a 500, and a
// hit is written with WriteDirect to avoid copying the asset bytes through
// the response buffer.
func (h *Handler) Handle(c *router.Connection, req *request.Parser, resp *response.Response) {
	asset, ok := h.assets[req.Path]
	if !ok {
		resp.WriteHeader(response.StatusNotFound)
		resp.Write([]byte("the path was not found"))
		return
	}

	if asset.Gzipped {
		accepts := req.Headers["ACCEPT-ENCODING"]
		if !httpguts.HeaderValuesContainsToken([]string{accepts}, "gzip") {
			resp.WriteHeader(response.StatusInternalServerError)
			resp.Write([]byte("compression support required for this file"))
			return
		}
		resp.WriteHeaderLine("Content-Encoding: gzip")
	}

	resp.WriteHeaderField("Content-Type", asset.ContentType)
	resp.AddContentLengthHeader(len(asset.Data))
	resp.WriteDirect(asset.Data)
}
