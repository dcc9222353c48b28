// Command wstun runs either side of a tunnel: "server" accepts websocket
// connections from initiators and relays TCP/UDP/DNS/HTTP traffic out to
// the network; "client" dials a server and exposes local SOCKS5/HTTP proxy
// listeners backed by the resulting session.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/coalmux/wstun/share"
	"github.com/coalmux/wstun/tunnel"
)

var (
	socksAddr string
	httpAddr  string
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "server":
		runServer(os.Args[2:])
	case "client":
		runClient(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: wstun server -listen <addr> [-debug]")
	fmt.Fprintln(os.Stderr, "       wstun client -server <ws://host:port> [-socks5 <addr>] [-http <addr>] [-debug]")
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	listen := fs.String("listen", ":8080", "address to listen on")
	debug := fs.Bool("debug", false, "enable debug logging")
	allowUDP := fs.Bool("allow-udp", true, "allow UDP_BIND relaying")
	fs.Parse(args)

	log := newLogger("server", *debug)
	egress := &tunnel.EgressConfig{AllowUDP: *allowUDP}
	srv := newEgressServer(log, tunnel.Config{}, egress)

	ctx, cancel := signalContext()
	defer cancel()
	if err := srv.run(ctx, *listen); err != nil && ctx.Err() == nil {
		log.ELogf("server exited: %s", err)
		os.Exit(1)
	}
}

func runClient(args []string) {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	server := fs.String("server", "", "websocket URL of the tunnel server")
	socks := fs.String("socks5", "", "local SOCKS5 listen address")
	httpProxy := fs.String("http", "", "local HTTP proxy listen address")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	if *server == "" {
		usage()
		os.Exit(1)
	}
	socksAddr = *socks
	httpAddr = *httpProxy

	log := newLogger("client", *debug)
	c := newClient(log, tunnel.Config{})

	ctx, cancel := signalContext()
	defer cancel()
	if err := c.run(ctx, *server); err != nil && ctx.Err() == nil {
		log.ELogf("client exited: %s", err)
		os.Exit(1)
	}
}

func newLogger(prefix string, debug bool) share.Logger {
	level := share.LogLevelInfo
	if debug {
		level = share.LogLevelDebug
	}
	return share.NewLogger(prefix, level)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
