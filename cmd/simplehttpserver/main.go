// Command simplehttpserver wires the server core together: a plain-TCP
// listener, an optional TLS listener, a WebSocket echo endpoint, and an
// inline HTML index page, all sharing one connection pool and router.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhysbryant/simpleHTTPServer/pkg/config"
	"github.com/rhysbryant/simpleHTTPServer/pkg/request"
	"github.com/rhysbryant/simpleHTTPServer/pkg/response"
	"github.com/rhysbryant/simpleHTTPServer/pkg/router"
	"github.com/rhysbryant/simpleHTTPServer/pkg/shttplog"
	"github.com/rhysbryant/simpleHTTPServer/pkg/tlsbridge"
	"github.com/rhysbryant/simpleHTTPServer/pkg/websocket"
)

func main() {
	addr := flag.String("addr", ":8080", "plain HTTP listen address")
	tlsAddr := flag.String("tls-addr", "", "HTTPS listen address, empty to disable TLS")
	certFile := flag.String("cert", "", "PEM certificate file (required with -tls-addr)")
	keyFile := flag.String("key", "", "PEM private key file (required with -tls-addr)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := config.Default()
	r := router.New(opts)

	wsManager := websocket.NewManager(opts)
	wsManager.SetFrameHandler(echoFrameHandler)
	go wsManager.Run(ctx)

	r.AddHandler("/ws", wsUpgradeHandler(wsManager))
	r.AddHandler("/", indexHandler)

	go r.Run(ctx)

	if _, err := r.ListenPlain(ctx, *addr); err != nil {
		log.Fatalf("listen %s: %v", *addr, err)
	}
	shttplog.Default().Info("listening", "addr", *addr)

	if *tlsAddr != "" {
		cfg, err := tlsbridge.ServerConfig(*certFile, *keyFile, tlsbridge.ProfileSecure)
		if err != nil {
			log.Fatalf("tls config: %v", err)
		}
		if _, err := r.ListenTLS(ctx, *tlsAddr, cfg); err != nil {
			log.Fatalf("listen %s: %v", *tlsAddr, err)
		}
		shttplog.Default().Info("listening (tls)", "addr", *tlsAddr)
	}

	<-ctx.Done()
	shttplog.Default().Info("shutting down")
	time.Sleep(100 * time.Millisecond)
}

func indexHandler(c *router.Connection, req *request.Parser, resp *response.Response) {
	resp.WriteHeader(response.StatusOK)
	resp.WriteHeaderLine("Content-Type: text/html")
	resp.Write([]byte("<html><body><h1>simplehttpserver</h1></body></html>"))
}

func wsUpgradeHandler(m *websocket.Manager) router.Handler {
	return func(c *router.Connection, req *request.Parser, resp *response.Response) {
		framer, err := m.UpgradeHandler(req, resp, c.Close)
		if err != nil {
			shttplog.Default().Warn("websocket upgrade failed", "error", err)
			return
		}
		c.SetDataReceived(func(data []byte) {
			if len(data) == 0 {
				framer.Unassign()
				return
			}
			if err := framer.DataReceived(data); err != nil {
				c.Close()
			}
		})
	}
}

func echoFrameHandler(f *websocket.Framer, frame *websocket.Frame) {
	if frame.Type == websocket.FrameTypeText || frame.Type == websocket.FrameTypeBinary {
		f.WriteFrame(frame.Type, nil, frame.Payload)
	}
}
