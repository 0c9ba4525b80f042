package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kestreldb/kestrel-go/protocol"
)

func sslRequestBytes() []byte {
	return protocol.SSLRequest()
}

// Channel is one physical connection after a completed handshake. It is not
// safe for concurrent use; the owning connection serializes access.
type Channel struct {
	conn         net.Conn
	reader       *bufio.Reader
	opts         Options
	backendKey   protocol.BackendKeyData
	params       map[string]string
	lastActivity time.Time
	alive        bool
	causeOfDeath error
	mu           sync.RWMutex
}

// Connect dials the server and completes the startup and authentication
// handshake, returning at the server's first ReadyForQuery.
func Connect(ctx context.Context, opts Options) (*Channel, error) {
	conn, err := dialContext(ctx, opts)
	if err != nil {
		return nil, err
	}

	if opts.UseTLS {
		tlsConn, err := negotiateTLS(ctx, conn, opts)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	ch := &Channel{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		opts:         opts,
		params:       make(map[string]string),
		lastActivity: time.Now(),
		alive:        true,
	}

	if err := ch.handshake(ctx); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

func (c *Channel) handshake(ctx context.Context) error {
	startup := map[string]string{"user": c.opts.User}
	if c.opts.Database != "" {
		startup["database"] = c.opts.Database
	}
	if err := c.writeRaw(ctx, protocol.StartupMessage(startup)); err != nil {
		return err
	}

	for {
		t, payload, err := c.Receive(ctx)
		if err != nil {
			return err
		}

		switch t {
		case protocol.MsgAuthentication:
			if err := c.handleAuthentication(ctx, payload); err != nil {
				return err
			}
		case protocol.MsgBackendKeyData:
			key, err := protocol.DecodeBackendKeyData(payload)
			if err != nil {
				return err
			}
			c.backendKey = key
		case protocol.MsgParameterStatus:
			key, value, err := protocol.DecodeParameterStatus(payload)
			if err != nil {
				return err
			}
			c.params[key] = value
		case protocol.MsgNoticeResponse:
			// Startup notices carry no state.
		case protocol.MsgReadyForQuery:
			if _, err := protocol.DecodeReadyForQuery(payload); err != nil {
				return err
			}
			return nil
		case protocol.MsgErrorResponse:
			return protocol.DecodeErrorResponse(payload)
		default:
			return protocol.ErrUnexpectedMessage(t, "startup")
		}
	}
}

func (c *Channel) handleAuthentication(ctx context.Context, payload []byte) error {
	r := protocol.NewReader(protocol.MsgAuthentication, payload)
	method := r.ReadInt32()
	if err := r.Err(); err != nil {
		return err
	}

	switch method {
	case protocol.AuthOk:
		return nil
	case protocol.AuthCleartextPassword:
		w := protocol.NewWriteBuffer(protocol.MsgPassword)
		w.WriteCString(c.opts.Password)
		return c.writeRaw(ctx, w.Bytes())
	case protocol.AuthMD5Password:
		salt := r.ReadBytes(4)
		if err := r.Err(); err != nil {
			return err
		}
		digested := "md5" + md5Hex(md5Hex(c.opts.Password+c.opts.User)+string(salt))
		w := protocol.NewWriteBuffer(protocol.MsgPassword)
		w.WriteCString(digested)
		return c.writeRaw(ctx, w.Bytes())
	default:
		return &AuthError{
			Method:  fmt.Sprintf("code %d", method),
			Message: "server requested an unsupported authentication method",
		}
	}
}

// Send writes the buffered frontend messages in one socket write.
func (c *Channel) Send(ctx context.Context, w *protocol.WriteBuffer) error {
	return c.writeRaw(ctx, w.Bytes())
}

func (c *Channel) writeRaw(ctx context.Context, data []byte) error {
	if !c.IsAlive() {
		return c.deathError()
	}
	if err := c.applyDeadline(ctx); err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		c.markDead(err)
		return err
	}
	c.touch()
	return nil
}

// Receive reads one backend message frame.
func (c *Channel) Receive(ctx context.Context) (byte, []byte, error) {
	if !c.IsAlive() {
		return 0, nil, c.deathError()
	}
	if err := c.applyDeadline(ctx); err != nil {
		return 0, nil, err
	}
	stop := c.interruptOnCancel(ctx)
	t, payload, err := protocol.ReadMessage(c.reader)
	stop()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		c.markDead(err)
		return 0, nil, err
	}
	c.touch()
	return t, payload, nil
}

// interruptOnCancel forces a blocked read to fail when ctx is canceled by
// expiring the socket deadline. The interrupted read can leave a partial
// frame in the buffer, so the caller treats the failure as fatal; graceful
// cancellation of an in-flight statement goes through Cancel and a drain to
// ReadyForQuery instead.
func (c *Channel) interruptOnCancel(ctx context.Context) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.conn.SetDeadline(time.Now())
		case <-stopped:
		}
	}()
	return func() { close(stopped) }
}

func (c *Channel) applyDeadline(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.conn.SetDeadline(deadline)
	}
	return c.conn.SetDeadline(time.Time{})
}

// Cancel opens a throwaway connection and sends a cancel request carrying
// this channel's backend key. The server processes it out of band, so the
// in-flight statement on this channel fails with a query-canceled error
// instead of the socket being torn down mid-protocol.
func (c *Channel) Cancel(ctx context.Context) error {
	conn, err := dialContext(ctx, c.opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	_, err = conn.Write(protocol.CancelRequest(c.backendKey))
	return err
}

// Close sends Terminate if the channel is still alive and closes the socket.
func (c *Channel) Close() error {
	c.mu.Lock()
	wasAlive := c.alive
	c.alive = false
	if c.causeOfDeath == nil {
		c.causeOfDeath = fmt.Errorf("channel closed")
	}
	c.mu.Unlock()

	if wasAlive {
		w := protocol.NewWriteBuffer(protocol.MsgTerminate)
		c.conn.SetDeadline(time.Now().Add(time.Second))
		c.conn.Write(w.Bytes())
	}
	return c.conn.Close()
}

// IsAlive reports whether the channel can still carry messages.
func (c *Channel) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

// MarkDead records a fatal error and poisons the channel.
func (c *Channel) MarkDead(err error) {
	c.markDead(err)
}

func (c *Channel) markDead(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alive {
		c.alive = false
		c.causeOfDeath = err
	}
}

func (c *Channel) deathError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Errorf("channel is dead: %w", c.causeOfDeath)
}

func (c *Channel) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the last successful read or write.
func (c *Channel) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// BackendKey returns the process/secret pair used for cancel requests.
func (c *Channel) BackendKey() protocol.BackendKeyData {
	return c.backendKey
}

// Parameter returns a runtime parameter reported by the server during or
// after startup (server_version, client_encoding, ...).
func (c *Channel) Parameter(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params[name]
}

// RecordParameter stores a runtime parameter reported after startup.
func (c *Channel) RecordParameter(name, value string) {
	c.mu.Lock()
	c.params[name] = value
	c.mu.Unlock()
}

// RemoteAddr returns the server address for logging.
func (c *Channel) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
