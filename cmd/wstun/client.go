package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/coalmux/wstun/httpproxy"
	"github.com/coalmux/wstun/share"
	"github.com/coalmux/wstun/socks5proxy"
	"github.com/coalmux/wstun/tunnel"
)

// client owns the initiator-side session and its reconnect loop, grounded
// on the teacher's Client.connectionLoop: exponential backoff via
// jpillora/backoff, with the current session UUID attached to the dial URL
// after the first successful connect so a dropped socket can rebind.
type client struct {
	log     share.Logger
	cfg     tunnel.Config
	session *tunnel.Session
}

func newClient(log share.Logger, cfg tunnel.Config) *client {
	return &client{log: log, cfg: cfg}
}

func (c *client) run(ctx context.Context, serverURL string) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return err
	}

	b := &backoff.Backoff{Max: 10 * time.Second}
	for ctx.Err() == nil {
		dialURL := *u
		if c.session != nil {
			q := dialURL.Query()
			q.Set("id", c.session.ID())
			dialURL.RawQuery = q.Encode()
		}

		d := websocket.Dialer{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 45 * time.Second,
			Subprotocols:     []string{tunnel.ProtocolVersion},
		}
		wsConn, _, err := d.Dial(dialURL.String(), http.Header{})
		if err != nil {
			d := b.Duration()
			c.log.ILogf("connect failed: %s, retrying in %s", err, d)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
			continue
		}
		b.Reset()

		if c.session == nil {
			c.session = tunnel.NewSession("", false, c.cfg, c.log, nil)
			if err := c.startLocalProxies(ctx); err != nil {
				return err
			}
			c.session.Link().Attach(wsConn)
			c.session.Start()
		} else {
			c.log.ILogf("reconnecting session %s", c.session.ID())
			c.session.Reconnect(wsConn)
		}

		c.waitDisconnect(ctx)
	}
	return ctx.Err()
}

// waitDisconnect blocks until the link drops or the context is cancelled.
func (c *client) waitDisconnect(ctx context.Context) {
	for ctx.Err() == nil && c.session.Link().State() != tunnel.StateDisconnected {
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (c *client) startLocalProxies(ctx context.Context) error {
	if socksAddr != "" {
		sp, err := socks5proxy.New(c.session, c.log)
		if err != nil {
			return fmt.Errorf("socks5 proxy: %w", err)
		}
		go func() {
			if err := sp.ListenAndServe(socksAddr); err != nil {
				c.log.ILogf("socks5 proxy on %s stopped: %s", socksAddr, err)
			}
		}()
		c.log.ILogf("SOCKS5 proxy listening on %s", socksAddr)
	}
	if httpAddr != "" {
		hp := httpproxy.New(c.session, c.log)
		go func() {
			if err := hp.ListenAndServe(ctx, httpAddr); err != nil {
				c.log.ILogf("http proxy on %s stopped: %s", httpAddr, err)
			}
		}()
		c.log.ILogf("HTTP proxy listening on %s", httpAddr)
	}
	return nil
}
