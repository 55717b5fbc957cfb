// Package connector resolves a POP3 server's TCP endpoint, applies the
// configured TLS policy (implicit TLS, in-band STLS, or plain), and hands
// the resulting byte stream to a pop3engine.Engine.
package connector

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"

	"go.uber.org/multierr"
	"golang.org/x/net/proxy"

	"github.com/inboxkit/pop3client/internal/pop3engine"
)

// Security selects how (and whether) TLS is applied to the connection.
type Security int

const (
	// SecurityNone is raw TCP, no STLS attempt.
	SecurityNone Security = iota
	// SecuritySslOnConnect wraps TCP with TLS immediately (port 995).
	SecuritySslOnConnect
	// SecurityStartTLS requires the server to advertise STLS; failure to do
	// so is a NotSupportedError.
	SecurityStartTLS
	// SecurityStartTLSWhenAvailable upgrades via STLS if advertised, and
	// silently stays plain otherwise.
	SecurityStartTLSWhenAvailable
	// SecurityAuto picks SecuritySslOnConnect for port 995, else
	// SecurityStartTLSWhenAvailable.
	SecurityAuto
)

// Options configures Connect.
type Options struct {
	Security  Security
	TLSConfig *tls.Config // nil uses a zero-value *tls.Config

	// ProxyURL, if set, routes the TCP dial through a SOCKS5 proxy (see
	// golang.org/x/net/proxy) instead of dialing the server directly.
	ProxyURL string
}

// resolvePort applies spec.md §4.5's port-default rule: 995 for implicit
// TLS, 110 otherwise.
func resolvePort(port int, sec Security) int {
	if port != 0 {
		return port
	}
	if sec == SecuritySslOnConnect {
		return 995
	}
	return 110
}

func resolveSecurity(sec Security, port int) Security {
	if sec != SecurityAuto {
		return sec
	}
	if port == 995 {
		return SecuritySslOnConnect
	}
	return SecurityStartTLSWhenAvailable
}

// Connect resolves host:port, applies opts.Security, and returns a
// connected Engine in StateConnected. If TLS was applied (implicit or via
// STLS), capabilities are re-queried afterward, per spec.md §4.5, because
// capabilities may change post-TLS.
func Connect(ctx context.Context, host string, port int, opts Options, observer pop3engine.Observer) (*pop3engine.Engine, error) {
	port = resolvePort(port, opts.Security)
	security := resolveSecurity(opts.Security, port)

	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	if tlsConfig.ServerName == "" {
		cfgCopy := *tlsConfig
		cfgCopy.ServerName = host
		tlsConfig = &cfgCopy
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := dial(ctx, addr, opts.ProxyURL)
	if err != nil {
		return nil, err
	}

	if security == SecuritySslOnConnect {
		tlsConn, err := handshake(ctx, conn, tlsConfig)
		if err != nil {
			return nil, multierr.Append(err, conn.Close())
		}
		conn = tlsConn
	}

	engine := pop3engine.NewEngine(observer)
	if err := engine.Connect(ctx, conn); err != nil {
		return nil, multierr.Append(err, conn.Close())
	}

	engine.QueryCapabilities()
	if err := engine.Run(ctx, false); err != nil {
		return nil, err
	}

	switch security {
	case SecurityStartTLS:
		if !engine.Capabilities().Has(pop3engine.CapStartTLS) {
			_ = engine.Disconnect(ctx, nil)
			return nil, &pop3engine.NotSupportedError{Capability: "STLS"}
		}
		if err := upgradeStartTLS(ctx, engine, tlsConfig); err != nil {
			_ = engine.Disconnect(ctx, err)
			return nil, err
		}
	case SecurityStartTLSWhenAvailable:
		if engine.Capabilities().Has(pop3engine.CapStartTLS) {
			if err := upgradeStartTLS(ctx, engine, tlsConfig); err != nil {
				_ = engine.Disconnect(ctx, err)
				return nil, err
			}
		}
	}

	return engine, nil
}

func dial(ctx context.Context, addr, proxyURL string) (net.Conn, error) {
	if proxyURL == "" {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	dialer, err := proxy.FromURL(mustParseProxyURL(proxyURL), proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("connector: configuring proxy: %w", err)
	}
	return dialer.Dial("tcp", addr)
}

func handshake(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, &pop3engine.SslHandshakeError{Cause: err}
	}
	return tlsConn, nil
}

// upgradeStartTLS issues STLS, wraps the connection, and replaces the
// engine's transport in place, then re-queries capabilities.
func upgradeStartTLS(ctx context.Context, engine *pop3engine.Engine, cfg *tls.Config) error {
	cmd := engine.QueueCommand(pop3engine.NewCommand("STLS"))
	if err := engine.Run(ctx, false); err != nil {
		return err
	}
	if cmd.Status != pop3engine.StatusOk {
		return &pop3engine.CommandError{Command: "STLS", StatusText: cmd.StatusText}
	}

	// The plain net.Conn is taken back from the FramedStream's current
	// transport so it can be handed to tls.Client, and the TLS connection
	// is then spliced back in.
	plain, ok := engine.FramedStream().Underlying().(net.Conn)
	if !ok {
		return fmt.Errorf("connector: STLS upgrade requires a net.Conn transport")
	}
	tlsConn, err := handshake(ctx, plain, cfg)
	if err != nil {
		return err
	}
	engine.ReplaceTransport(tlsConn)

	engine.QueryCapabilities()
	return engine.Run(ctx, false)
}

func mustParseProxyURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		// proxy.FromURL requires a *url.URL; a string url.Parse rejects is
		// kept whole as the host of a socks5 URL, so the mistake shows up
		// as a failed proxy dial rather than as a silent direct dial.
		return &url.URL{Scheme: "socks5", Host: raw}
	}
	return u
}
