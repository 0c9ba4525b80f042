package client

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kestreldb/kestrel-go/protocol"
	"github.com/kestreldb/kestrel-go/transport"
)

// Notification is a server push delivered outside any query cycle.
type Notification = protocol.Notification

const notificationBuffer = 128

// Listener receives asynchronous notifications on a dedicated connection
// that never runs ordinary queries. Notifications are delivered to
// subscribers in arrival order. If the connection drops, the listener
// redials with exponential backoff and re-subscribes every channel;
// notifications sent by the server while disconnected are lost, which is
// inherent to the mechanism.
type Listener struct {
	config Config
	logger Logger

	mu      sync.Mutex
	ch      *transport.Channel
	subs    map[string][]chan Notification
	pending *list.List // FIFO of command completions, chan error
	closed  bool

	done chan struct{}
}

// Listen dials the dedicated notification connection and starts the
// receive loop.
func Listen(ctx context.Context, cfg Config) (*Listener, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := cfg.transportOptions()
	ch, err := transport.Connect(ctx, opts)
	if err != nil {
		return nil, ErrConnectFailed(opts.Host, err)
	}

	l := &Listener{
		config:  cfg,
		logger:  cfg.Logger,
		ch:      ch,
		subs:    make(map[string][]chan Notification),
		pending: list.New(),
		done:    make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Subscribe issues LISTEN for the channel and returns a stream of its
// notifications. Multiple subscribers to one channel each get every
// notification. The stream is closed when the listener closes or the
// subscription is cancelled via Unsubscribe.
func (l *Listener) Subscribe(ctx context.Context, channel string) (<-chan Notification, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrListenerClosed()
	}
	first := len(l.subs[channel]) == 0
	sub := make(chan Notification, notificationBuffer)
	l.subs[channel] = append(l.subs[channel], sub)
	l.mu.Unlock()

	if first {
		if err := l.command(ctx, "LISTEN "+quoteIdentifier(channel)); err != nil {
			l.removeSub(channel, sub)
			return nil, err
		}
	}
	return sub, nil
}

// Unsubscribe cancels one subscription stream. The last subscriber of a
// channel triggers UNLISTEN.
func (l *Listener) Unsubscribe(ctx context.Context, channel string, sub <-chan Notification) error {
	last := l.removeSub(channel, sub)
	if !last {
		return nil
	}
	return l.command(ctx, "UNLISTEN "+quoteIdentifier(channel))
}

func (l *Listener) removeSub(channel string, sub <-chan Notification) (last bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	subs := l.subs[channel]
	for i, s := range subs {
		if s == sub {
			close(s)
			l.subs[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(l.subs[channel]) == 0 {
		delete(l.subs, channel)
		return true
	}
	return false
}

// command runs one simple-protocol statement on the dedicated connection.
// The receive loop routes its completion back in FIFO order, since the wire
// is strictly sequential.
func (l *Listener) command(ctx context.Context, sql string) error {
	reply := make(chan error, 1)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrListenerClosed()
	}
	ch := l.ch
	l.pending.PushBack(reply)
	l.mu.Unlock()

	w := protocol.NewWriteBuffer(protocol.MsgQuery)
	w.WriteCString(sql)
	if err := ch.Send(ctx, w); err != nil {
		return ErrConnectionBroken(ch.RemoteAddr(), err)
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrListenerClosed()
	}
}

// run is the receive loop. It owns all reads on the dedicated connection.
func (l *Listener) run() {
	defer close(l.done)
	defer l.closeSubs()

	for {
		l.mu.Lock()
		ch := l.ch
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return
		}

		t, payload, err := ch.Receive(context.Background())
		if err != nil {
			if l.isClosed() {
				return
			}
			l.failPending(ErrConnectionBroken(ch.RemoteAddr(), err))
			if err := l.reconnect(); err != nil {
				l.logger.Error("listener reconnect failed", Error("error", err))
				return
			}
			continue
		}
		l.dispatch(t, payload)
	}
}

func (l *Listener) dispatch(t byte, payload []byte) {
	switch t {
	case protocol.MsgNotificationResponse:
		n, err := protocol.DecodeNotification(payload)
		if err != nil {
			l.logger.Warn("malformed notification", Error("error", err))
			return
		}
		l.deliver(n)
	case protocol.MsgReadyForQuery:
		l.completePending(nil)
	case protocol.MsgErrorResponse:
		se := protocol.DecodeErrorResponse(payload)
		l.setPendingError(se)
	case protocol.MsgParameterStatus:
		key, value, err := protocol.DecodeParameterStatus(payload)
		if err == nil {
			l.ch.RecordParameter(key, value)
		}
	case protocol.MsgCommandComplete, protocol.MsgNoticeResponse, protocol.MsgEmptyQueryResponse, protocol.MsgRowDescription, protocol.MsgDataRow:
		// Command chatter; completion is signaled by ReadyForQuery.
	default:
		l.logger.Debug("listener ignoring message", String("type", string(t)))
	}
}

// deliver fans a notification out to the channel's subscribers. The sends
// stay under the mutex so Unsubscribe cannot close a channel mid-send; they
// never block because every subscriber channel is buffered and a full buffer
// drops the notification.
func (l *Listener) deliver(n Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, sub := range l.subs[n.Channel] {
		select {
		case sub <- n:
		default:
			l.logger.Warn("notification dropped, subscriber buffer full",
				String("channel", n.Channel))
		}
	}
}

// setPendingError resolves the oldest pending command with a server error
// and leaves a consumed marker so the matching ReadyForQuery is a no-op.
func (l *Listener) setPendingError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el := l.pending.Front(); el != nil {
		reply := el.Value.(chan error)
		l.pending.Remove(el)
		reply <- err
		// Mark the slot consumed; ReadyForQuery for this command is a no-op.
		l.pending.PushFront(chan error(nil))
	}
}

func (l *Listener) completePending(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el := l.pending.Front()
	if el == nil {
		return
	}
	reply := l.pending.Remove(el).(chan error)
	if reply != nil {
		reply <- err
	}
}

func (l *Listener) failPending(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for el := l.pending.Front(); el != nil; el = el.Next() {
		if reply, ok := el.Value.(chan error); ok && reply != nil {
			reply <- err
		}
	}
	l.pending.Init()
}

// reconnect redials the notification connection and re-issues LISTEN for
// every subscribed channel.
func (l *Listener) reconnect() error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxInterval = 10 * time.Second

	ctx := context.Background()
	ch, err := backoff.Retry(ctx, func() (*transport.Channel, error) {
		if l.isClosed() {
			return nil, backoff.Permanent(ErrListenerClosed())
		}
		dialCtx, cancel := context.WithTimeout(ctx, l.config.DialTimeout)
		defer cancel()
		return transport.Connect(dialCtx, l.config.transportOptions())
	}, backoff.WithBackOff(exp), backoff.WithMaxElapsedTime(2*time.Minute))
	if err != nil {
		return err
	}

	l.mu.Lock()
	old := l.ch
	l.ch = ch
	channels := make([]string, 0, len(l.subs))
	for name := range l.subs {
		channels = append(channels, name)
	}
	l.mu.Unlock()
	old.Close()

	for _, name := range channels {
		relistenCtx, cancel := context.WithTimeout(ctx, l.config.DialTimeout)
		err := l.relisten(relistenCtx, ch, name)
		cancel()
		if err != nil {
			return err
		}
	}
	l.logger.Info("listener reconnected", Int("channels", len(channels)))
	return nil
}

// relisten re-issues LISTEN during reconnect, consuming the response inline
// because the receive loop is parked inside reconnect.
func (l *Listener) relisten(ctx context.Context, ch *transport.Channel, channel string) error {
	w := protocol.NewWriteBuffer(protocol.MsgQuery)
	w.WriteCString("LISTEN " + quoteIdentifier(channel))
	if err := ch.Send(ctx, w); err != nil {
		return err
	}
	for {
		t, payload, err := ch.Receive(ctx)
		if err != nil {
			return err
		}
		switch t {
		case protocol.MsgReadyForQuery:
			return nil
		case protocol.MsgErrorResponse:
			return protocol.DecodeErrorResponse(payload)
		case protocol.MsgNotificationResponse:
			if n, err := protocol.DecodeNotification(payload); err == nil {
				l.deliver(n)
			}
		}
	}
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener) closeSubs() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, subs := range l.subs {
		for _, sub := range subs {
			close(sub)
		}
		delete(l.subs, name)
	}
}

// Close tears down the dedicated connection. Notifications already queued on
// subscriber channels remain readable until each channel is drained; the
// channels are closed once the receive loop exits.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	ch := l.ch
	l.mu.Unlock()

	err := ch.Close()
	<-l.done
	return err
}
