package client

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/kestreldb/kestrel-go/pgtype"
)

// waiter is one caller suspended in Acquire. The pool hands a connection or
// an error over the channel; a waiter that gives up removes itself from the
// queue.
type waiter struct {
	ready chan waiterResult
}

type waiterResult struct {
	conn *Conn
	err  error
}

// Pool manages a set of connections up to a configured maximum. Connections
// are created lazily. Suspended acquirers are served strictly in arrival
// order as connections are released or capacity frees up, so no caller can
// starve behind later arrivals.
type Pool struct {
	config Config
	logger Logger

	mu       sync.Mutex
	idle     []*Conn
	inUse    map[*Conn]struct{}
	waiters  *list.List
	numOpen  int
	closed   bool
	released chan struct{}

	stats PoolStats
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	TotalConns    int
	IdleConns     int
	InUseConns    int
	WaitingCount  int
	AcquireCount  int64
	WaitedCount   int64
	BrokenDropped int64
	OpenedCount   int64
}

// NewPool validates the configuration and creates an empty pool. No
// connection is dialed until the first Acquire.
func NewPool(cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		config:   cfg,
		logger:   cfg.Logger,
		inUse:    make(map[*Conn]struct{}),
		waiters:  list.New(),
		released: make(chan struct{}, 1),
	}, nil
}

// Acquire returns an idle connection, dialing a new one when the pool is
// below capacity. At capacity the caller suspends until a connection is
// released; suspended callers are resumed first-come first-served. A dial
// failure propagates to the acquiring caller rather than being retried.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed()
	}
	p.stats.AcquireCount++

	if conn := p.popIdleLocked(); conn != nil {
		p.inUse[conn] = struct{}{}
		p.mu.Unlock()
		conn.setState(ConnInUse)
		return conn, nil
	}

	if p.numOpen < p.config.MaxPoolSize {
		p.numOpen++
		p.stats.OpenedCount++
		p.mu.Unlock()
		return p.dial(ctx)
	}

	// At capacity with nothing idle: join the back of the queue.
	w := &waiter{ready: make(chan waiterResult, 1)}
	el := p.waiters.PushBack(w)
	p.stats.WaitedCount++
	p.mu.Unlock()

	select {
	case res := <-w.ready:
		if res.err != nil {
			return nil, res.err
		}
		res.conn.setState(ConnInUse)
		return res.conn, nil
	case <-ctx.Done():
		p.mu.Lock()
		p.waiters.Remove(el)
		p.mu.Unlock()
		// A release may have raced the cancellation; recycle it.
		select {
		case res := <-w.ready:
			if res.conn != nil {
				p.Release(res.conn)
			}
		default:
		}
		return nil, &PoolExhaustedError{MaxSize: p.config.MaxPoolSize, Cause: ctx.Err()}
	}
}

// dial opens a fresh connection for a reserved capacity slot.
func (p *Pool) dial(ctx context.Context) (*Conn, error) {
	conn, err := connect(ctx, p.config)
	if err != nil {
		p.mu.Lock()
		p.numOpen--
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close(context.Background())
		return nil, ErrPoolClosed()
	}
	p.inUse[conn] = struct{}{}
	p.mu.Unlock()

	conn.setState(ConnInUse)
	return conn, nil
}

// popIdleLocked returns the most recently released healthy connection,
// dropping any that broke while idle.
func (p *Pool) popIdleLocked() *Conn {
	for len(p.idle) > 0 {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if conn.IsAlive() {
			return conn
		}
		p.discardLocked(conn)
	}
	return nil
}

func (p *Pool) discardLocked(conn *Conn) {
	p.numOpen--
	p.stats.BrokenDropped++
	p.logger.Warn("dropping broken connection", String("conn_id", conn.ID().String()))
	go conn.Close(context.Background())
}

// Release returns a connection to the pool. A connection still inside an
// open transaction is rolled back first so the next holder never joins an
// abandoned transaction. A broken connection is dropped instead of recycled;
// the freed slot lets the next acquisition dial fresh.
func (p *Pool) Release(conn *Conn) {
	if conn.IsAlive() {
		ctx, cancel := context.WithTimeout(context.Background(), p.config.DialTimeout)
		if err := conn.resetSession(ctx); err != nil {
			conn.setState(ConnBroken)
		}
		cancel()
	}

	p.mu.Lock()
	delete(p.inUse, conn)

	if p.closed {
		p.mu.Unlock()
		conn.Close(context.Background())
		p.signalReleased()
		return
	}

	if !conn.IsAlive() {
		p.discardLocked(conn)
		// Capacity freed: dial a replacement for the frontmost waiter.
		if el := p.waiters.Front(); el != nil && p.numOpen < p.config.MaxPoolSize {
			w := p.waiters.Remove(el).(*waiter)
			p.numOpen++
			p.stats.OpenedCount++
			p.mu.Unlock()
			go p.dialForWaiter(w)
			return
		}
		p.mu.Unlock()
		return
	}

	conn.setState(ConnIdle)
	if el := p.waiters.Front(); el != nil {
		w := p.waiters.Remove(el).(*waiter)
		p.inUse[conn] = struct{}{}
		p.mu.Unlock()
		w.ready <- waiterResult{conn: conn}
		return
	}

	p.idle = append(p.idle, conn)
	p.mu.Unlock()
	p.signalReleased()
}

// dialForWaiter replaces a dropped connection on behalf of a queued waiter.
// Unlike a caller's own dial, a transient failure here is retried with
// exponential backoff; the final error, if any, propagates to that waiter.
func (p *Pool) dialForWaiter(w *waiter) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 100 * time.Millisecond
	exp.MaxInterval = time.Second

	// Release reserved the first capacity slot; a failed dial gives it back,
	// so every retry after the first must re-reserve before dialing.
	first := true
	conn, err := backoff.Retry(context.Background(), func() (*Conn, error) {
		if p.isClosed() {
			return nil, backoff.Permanent(ErrPoolClosed())
		}
		if !first && !p.reserveSlot() {
			return nil, backoff.Permanent(&PoolExhaustedError{MaxSize: p.config.MaxPoolSize})
		}
		first = false
		ctx, cancel := context.WithTimeout(context.Background(), p.config.DialTimeout)
		defer cancel()
		return p.dial(ctx)
	}, backoff.WithBackOff(exp), backoff.WithMaxElapsedTime(p.config.DialTimeout))
	if err != nil {
		p.logger.Error("replacement dial failed", Error("error", err))
		w.ready <- waiterResult{err: err}
		return
	}
	w.ready <- waiterResult{conn: conn}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// reserveSlot claims one capacity slot for an imminent dial.
func (p *Pool) reserveSlot() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.numOpen >= p.config.MaxPoolSize {
		return false
	}
	p.numOpen++
	p.stats.OpenedCount++
	return true
}

func (p *Pool) signalReleased() {
	select {
	case p.released <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.TotalConns = p.numOpen
	s.IdleConns = len(p.idle)
	s.InUseConns = len(p.inUse)
	s.WaitingCount = p.waiters.Len()
	return s
}

// Close drains the pool: new acquisitions fail immediately, queued waiters
// are resumed with an error, and in-flight connections get until the grace
// period to be released before their sockets are torn down underneath them.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for el := p.waiters.Front(); el != nil; el = el.Next() {
		el.Value.(*waiter).ready <- waiterResult{err: ErrPoolClosed()}
	}
	p.waiters.Init()

	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(context.Background())
	for _, conn := range idle {
		conn := conn
		g.Go(func() error { return conn.Close(gctx) })
	}

	deadline := time.NewTimer(p.config.CloseGracePeriod)
	defer deadline.Stop()
drain:
	for {
		p.mu.Lock()
		remaining := len(p.inUse)
		p.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-p.released:
		case <-deadline.C:
			p.forceClose(g, gctx)
			break drain
		case <-ctx.Done():
			p.forceClose(g, gctx)
			break drain
		}
	}

	err := g.Wait()
	p.logger.Info("pool closed", Int("dropped_broken", int(p.stats.BrokenDropped)))
	return err
}

// forceClose tears down connections still in use after the grace period.
func (p *Pool) forceClose(g *errgroup.Group, ctx context.Context) {
	p.mu.Lock()
	for conn := range p.inUse {
		conn := conn
		delete(p.inUse, conn)
		g.Go(func() error { return conn.Close(ctx) })
	}
	p.mu.Unlock()
}

// Execute acquires a connection, runs one statement, and releases it.
func (p *Pool) Execute(ctx context.Context, query string, params ...pgtype.Value) (*Result, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(conn)
	return conn.Execute(ctx, query, params...)
}

// FetchRow acquires a connection, runs a single-row query, and releases it.
func (p *Pool) FetchRow(ctx context.Context, query string, params ...pgtype.Value) (Row, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return Row{}, err
	}
	defer p.Release(conn)
	return conn.FetchRow(ctx, query, params...)
}

// FetchVal acquires a connection, runs a single-value query, and releases it.
func (p *Pool) FetchVal(ctx context.Context, query string, params ...pgtype.Value) (pgtype.Value, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return pgtype.Value{}, err
	}
	defer p.Release(conn)
	return conn.FetchVal(ctx, query, params...)
}

// WithConn acquires a connection for the duration of fn.
func (p *Pool) WithConn(ctx context.Context, fn func(*Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(conn)
}
