// Package transport maintains a single physical connection to the server:
// dialing, the startup and authentication handshake, and framed message
// exchange. Payloads are opaque bytes at this layer; the pgtype codec is
// applied above it.
package transport

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Options configures a Channel.
type Options struct {
	// Host is a hostname, an IP address, or a path to a unix socket
	// directory.
	Host string

	// Port is the server port. Ignored for unix sockets except in the
	// socket file name.
	Port uint16

	User     string
	Password string
	Database string

	// DialTimeout bounds the TCP dial and the handshake.
	DialTimeout time.Duration

	// TLS configuration. Nil TLSConfig with UseTLS set builds a default
	// config from the remaining TLS fields.
	UseTLS     bool
	TLSConfig  *tls.Config
	SkipVerify bool
	CertPath   string
	KeyPath    string
}

func (o Options) address() (network, addr string) {
	if _, err := os.Stat(o.Host); err == nil {
		socket := o.Host
		if !strings.Contains(socket, "/.s.PGSQL.") {
			socket = filepath.Join(socket, ".s.PGSQL."+strconv.Itoa(int(o.Port)))
		}
		return "unix", socket
	}
	return "tcp", net.JoinHostPort(o.Host, strconv.Itoa(int(o.Port)))
}

func (o Options) buildTLSConfig() (*tls.Config, error) {
	if o.TLSConfig != nil {
		return o.TLSConfig, nil
	}
	cfg := &tls.Config{
		ServerName:         o.Host,
		InsecureSkipVerify: o.SkipVerify,
	}
	if o.CertPath != "" && o.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(o.CertPath, o.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// AuthError reports a handshake rejected by the server or an authentication
// method the channel does not speak.
type AuthError struct {
	Method  string
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("E_AUTH_FAILED: %s: %s", e.Method, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// dialContext dials with the options' timeout folded into ctx.
func dialContext(ctx context.Context, opts Options) (net.Conn, error) {
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}
	network, addr := opts.address()
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// negotiateTLS sends the SSL request probe and upgrades the connection if
// the server accepts.
func negotiateTLS(ctx context.Context, conn net.Conn, opts Options) (net.Conn, error) {
	if _, err := conn.Write(sslRequestBytes()); err != nil {
		return nil, err
	}
	response := make([]byte, 1)
	if _, err := io.ReadFull(conn, response); err != nil {
		return nil, err
	}
	if response[0] != 'S' {
		return nil, &AuthError{Method: "tls", Message: "server refused TLS"}
	}
	cfg, err := opts.buildTLSConfig()
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("TLS handshake: %w", err)
	}
	return tlsConn, nil
}
