// Package socks5proxy exposes a tunneled Session as a local SOCKS5
// listener, grounded on the teacher's SocksSkeletonEndpoint: a caller
// dials the local SOCKS5 port, armon/go-socks5 negotiates the protocol,
// and both DNS resolution and the outbound CONNECT are satisfied by the
// tunnel's Session instead of a local socket.
package socks5proxy

import (
	"context"
	"io/ioutil"
	stdlog "log"
	"net"
	"os"

	socks5 "github.com/armon/go-socks5"
	"github.com/prep/socketpair"

	"github.com/coalmux/wstun/share"
	"github.com/coalmux/wstun/tunnel"
)

// Proxy is a local SOCKS5 front end backed by a tunnel Session.
type Proxy struct {
	log    share.Logger
	sess   *tunnel.Session
	server *socks5.Server
	ln     net.Listener
}

// New constructs a Proxy that dials and resolves through sess.
func New(sess *tunnel.Session, log share.Logger) (*Proxy, error) {
	p := &Proxy{log: log, sess: sess}
	socksLog := stdlog.New(ioutil.Discard, "", 0)
	if log != nil && log.GetLogLevel() >= share.LogLevelDebug {
		socksLog = stdlog.New(os.Stdout, "[socks5] ", stdlog.Ldate|stdlog.Ltime)
	}
	cfg := &socks5.Config{
		Resolver: tunnelResolver{sess: sess},
		Dial:     p.dial,
		Logger:   socksLog,
	}
	server, err := socks5.New(cfg)
	if err != nil {
		return nil, err
	}
	p.server = server
	return p, nil
}

func (p *Proxy) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := parsePort(portStr)
	if err != nil {
		return nil, err
	}
	return p.sess.ConnectTCP(ctx, host, port)
}

// ListenAndServe binds addr and serves SOCKS5 connections until the
// listener is closed.
func (p *Proxy) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	p.ln = ln
	return p.server.Serve(ln)
}

// DialLocal hands back an in-process net.Conn that is already negotiating
// SOCKS5 against this Proxy's server, without opening a real listening
// socket. Grounded on the teacher's SocksSkeletonEndpoint.Dial: a unix
// socketpair gives the armon/go-socks5 server something to talk to on one
// end while the caller drives the SOCKS5 handshake on the other.
func (p *Proxy) DialLocal() (net.Conn, error) {
	callerConn, serverConn, err := socketpair.New("unix")
	if err != nil {
		return nil, err
	}
	go func() {
		if err := p.server.ServeConn(serverConn); err != nil {
			p.log.DLogf("local socks5 conn closed: %s", err)
		}
	}()
	return callerConn, nil
}

// Close stops accepting new SOCKS5 connections.
func (p *Proxy) Close() error {
	if p.ln != nil {
		return p.ln.Close()
	}
	return nil
}

type tunnelResolver struct {
	sess *tunnel.Session
}

func (r tunnelResolver) Resolve(ctx context.Context, name string) (context.Context, net.IP, error) {
	addrs, err := r.sess.QueryDNS(ctx, name, 0) // RecordA
	if err != nil {
		return ctx, nil, err
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			return ctx, ip, nil
		}
	}
	return ctx, nil, err
}

func parsePort(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, &net.AddrError{Err: "invalid port", Addr: s}
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
