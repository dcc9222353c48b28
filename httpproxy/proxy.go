// Package httpproxy exposes a tunneled Session as a local HTTP proxy,
// grounded on the teacher's Server.Run handler wiring: a plain HTTP
// request is relayed through the tunnel and the response streamed back;
// a CONNECT request is spliced onto a TCP stream via share.Pipe, the
// same helper the teacher uses for its SSH channel plumbing.
package httpproxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/jpillora/requestlog"

	"github.com/coalmux/wstun/share"
	"github.com/coalmux/wstun/tunnel"
	"github.com/coalmux/wstun/wire"
)

// Proxy is a local HTTP/CONNECT front end backed by a tunnel Session.
type Proxy struct {
	share.ShutdownHelper

	log    share.Logger
	sess   *tunnel.Session
	server *share.HTTPServer
}

// New constructs a Proxy that relays through sess.
func New(sess *tunnel.Session, log share.Logger) *Proxy {
	p := &Proxy{log: log, sess: sess}
	p.server = share.NewHTTPServer(log)
	p.InitShutdownHelper(log, p)
	return p
}

// ListenAndServe binds addr and serves HTTP/CONNECT traffic until ctx is
// done or Close is called.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	err := p.DoOnceActivate(func() error {
		p.ShutdownOnContext(ctx)
		h := http.Handler(http.HandlerFunc(p.handle))
		if p.log != nil && p.log.GetLogLevel() >= share.LogLevelDebug {
			h = requestlog.Wrap(h)
		}
		go p.server.ListenAndServe(ctx, addr, h)
		return nil
	}, true)
	if err != nil {
		return err
	}
	return p.server.WaitShutdown()
}

// HandleOnceShutdown satisfies share.OnceShutdownHandler.
func (p *Proxy) HandleOnceShutdown(completionErr error) error {
	return p.server.Close()
}

func (p *Proxy) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.handleForward(w, r)
}

func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	host, portStr, err := net.SplitHostPort(r.Host)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		http.Error(w, "bad port", http.StatusBadRequest)
		return
	}

	tconn, err := p.sess.ConnectTCP(r.Context(), host, port)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		tconn.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	client, _, err := hj.Hijack()
	if err != nil {
		tconn.Close()
		return
	}
	client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	p.log.DLogf("CONNECT %s:%d established", host, port)
	share.Pipe(client, tconn)
}

func (p *Proxy) handleForward(w http.ResponseWriter, r *http.Request) {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	meta := wire.HTTPRequestMeta{
		Method:  r.Method,
		URL:     r.URL.String(),
		Headers: headers,
	}
	if !strings.HasPrefix(meta.URL, "http://") && !strings.HasPrefix(meta.URL, "https://") {
		meta.URL = "http://" + r.Host + r.URL.RequestURI()
	}

	resp, err := p.sess.FetchHTTP(r.Context(), meta, r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	dst := w.Header()
	for k, v := range resp.Headers {
		dst.Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if resp.Body != nil {
		io.Copy(w, resp.Body)
	}
}
