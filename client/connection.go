package client

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/kestreldb/kestrel-go/pgtype"
	"github.com/kestreldb/kestrel-go/protocol"
	"github.com/kestreldb/kestrel-go/transport"
)

// ConnState is the lifecycle state of a connection.
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnInUse
	ConnBroken
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnIdle:
		return "idle"
	case ConnInUse:
		return "in_use"
	case ConnBroken:
		return "broken"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is a single logical connection: one channel, one statement cache, one
// type catalog. All statement traffic is serialized by an internal mutex, so
// a Conn is safe to share, but callers get better throughput by acquiring
// connections from a Pool instead.
type Conn struct {
	id      uuid.UUID
	ch      *transport.Channel
	exec    *executor
	cache   *statementCache
	catalog *pgtype.Catalog
	config  Config
	logger  Logger

	mu    sync.Mutex
	state ConnState
	tx    *Tx
}

// Connect establishes a standalone connection outside any pool.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return connect(ctx, cfg)
}

func connect(ctx context.Context, cfg Config) (*Conn, error) {
	opts := cfg.transportOptions()
	ch, err := transport.Connect(ctx, opts)
	if err != nil {
		return nil, ErrConnectFailed(opts.Host, err)
	}

	catalog := pgtype.NewCatalog()
	c := &Conn{
		id:      uuid.New(),
		ch:      ch,
		exec:    newExecutor(ch, catalog, cfg.Logger),
		cache:   newStatementCache(cfg.StatementCacheSize),
		catalog: catalog,
		config:  cfg,
		logger:  cfg.Logger,
		state:   ConnIdle,
	}
	c.logger.Debug("connection established",
		String("conn_id", c.id.String()),
		String("address", ch.RemoteAddr()),
		String("server_version", ch.Parameter("server_version")))
	return c, nil
}

// ID returns the connection's identifier, used in logs and pool stats.
func (c *Conn) ID() uuid.UUID { return c.id }

// Catalog returns the connection's type catalog.
func (c *Conn) Catalog() *pgtype.Catalog { return c.catalog }

// ServerParameter returns a runtime parameter reported by the server.
func (c *Conn) ServerParameter(name string) string { return c.ch.Parameter(name) }

// State returns the connection's lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsAlive reports whether the underlying channel is usable.
func (c *Conn) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != ConnBroken && c.state != ConnClosed && c.ch.IsAlive()
}

// Execute runs one statement with the given parameters and materializes the
// result. Server errors come back as *ServerError; lost connections as
// *ConnectionError.
func (c *Conn) Execute(ctx context.Context, query string, params ...pgtype.Value) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execute(ctx, query, params)
}

// execute runs a statement with the connection lock already held.
func (c *Conn) execute(ctx context.Context, query string, params []pgtype.Value) (*Result, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	stmt, err := c.prepare(ctx, query)
	if err != nil {
		return nil, c.mapError(err, query)
	}
	res, err := c.exec.Execute(ctx, stmt, params)
	if err != nil {
		return nil, c.mapError(err, query)
	}
	return res, nil
}

// prepare returns a server-side statement for query, consulting the cache
// when it is enabled. Cache misses prepare under a fresh name and may evict
// the least recently used statement.
func (c *Conn) prepare(ctx context.Context, query string) (*preparedStatement, error) {
	if !c.config.StatementCacheEnabled {
		return c.exec.Prepare(ctx, "", query)
	}
	if stmt, ok := c.cache.Get(query); ok {
		return stmt, nil
	}

	stmt, err := c.exec.Prepare(ctx, c.cache.NextName(), query)
	if err != nil {
		return nil, err
	}
	if evicted := c.cache.Put(stmt); evicted != nil {
		if err := c.exec.CloseStatement(ctx, evicted.name); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// ExecuteMany runs the same statement once per parameter set inside a single
// transaction. If any execution fails the transaction is rolled back and no
// set takes effect. Returns the total number of affected rows. When called
// inside an explicit transaction, the sets run in that transaction and a
// failure leaves it in the failed state instead of rolling it back.
func (c *Conn) ExecuteMany(ctx context.Context, query string, paramSets [][]pgtype.Value) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return 0, err
	}

	implicit := c.exec.TxStatus() == protocol.TxStatusIdle
	if implicit {
		if _, err := c.execute(ctx, "BEGIN", nil); err != nil {
			return 0, err
		}
	}

	var affected int64
	for _, params := range paramSets {
		res, err := c.execute(ctx, query, params)
		if err != nil {
			if implicit {
				c.rollbackQuietly(ctx)
			}
			return 0, err
		}
		affected += res.Tag.RowsAffected()
	}

	if implicit {
		if _, err := c.execute(ctx, "COMMIT", nil); err != nil {
			return 0, err
		}
	}
	return affected, nil
}

func (c *Conn) rollbackQuietly(ctx context.Context) {
	if _, err := c.execute(ctx, "ROLLBACK", nil); err != nil {
		c.logger.Warn("rollback after failed batch",
			String("conn_id", c.id.String()),
			Error("error", err))
	}
}

// FetchRow runs a query expected to return exactly one row.
func (c *Conn) FetchRow(ctx context.Context, query string, params ...pgtype.Value) (Row, error) {
	res, err := c.Execute(ctx, query, params...)
	if err != nil {
		return Row{}, err
	}
	if len(res.Rows) != 1 {
		return Row{}, &CardinalityError{ExpectedRows: 1, ActualRows: len(res.Rows)}
	}
	return res.Rows[0], nil
}

// FetchVal runs a query expected to return exactly one row with exactly one
// column and returns that value.
func (c *Conn) FetchVal(ctx context.Context, query string, params ...pgtype.Value) (pgtype.Value, error) {
	row, err := c.FetchRow(ctx, query, params...)
	if err != nil {
		return pgtype.Value{}, err
	}
	if row.Len() != 1 {
		return pgtype.Value{}, &CardinalityError{ExpectedRows: 1, ActualRows: 1, ExpectedCols: 1, ActualCols: row.Len()}
	}
	return row.Value(0), nil
}

// Deallocate releases the cached prepared statement for query, server-side
// and client-side. Unknown queries are a no-op.
func (c *Conn) Deallocate(ctx context.Context, query string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return err
	}
	stmt, ok := c.cache.Get(query)
	if !ok {
		return nil
	}
	c.cache.Remove(query)
	if err := c.exec.CloseStatement(ctx, stmt.name); err != nil {
		return c.mapError(err, query)
	}
	return nil
}

// Ping verifies the connection with a trivial round trip.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.Execute(ctx, "SELECT 1")
	return err
}

// Begin opens an explicit transaction. Only one transaction may be open on a
// connection at a time.
func (c *Conn) Begin(ctx context.Context, opts TxOptions) (*Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx != nil && c.tx.state == TxActive {
		return nil, &TransactionStateError{Operation: "BEGIN", State: TxActive}
	}
	if _, err := c.execute(ctx, opts.beginStatement(), nil); err != nil {
		return nil, err
	}
	c.tx = &Tx{conn: c, opts: opts, state: TxActive}
	return c.tx, nil
}

// Cancel asks the server to abort the statement currently running on this
// connection. The request travels on a separate throwaway connection.
func (c *Conn) Cancel(ctx context.Context) error {
	return c.ch.Cancel(ctx)
}

// Close releases cached statements when the channel is still healthy, then
// tears down the socket.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == ConnClosed {
		return nil
	}
	c.state = ConnClosed

	if c.ch.IsAlive() {
		for _, stmt := range c.cache.Clear() {
			if err := c.exec.CloseStatement(ctx, stmt.name); err != nil {
				break
			}
		}
	}
	c.logger.Debug("connection closed", String("conn_id", c.id.String()))
	return c.ch.Close()
}

// resetSession returns the server session to the idle state so the next
// holder of the connection starts clean. An abandoned transaction is rolled
// back and its client-side handles invalidated.
func (c *Conn) resetSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exec.TxStatus() == protocol.TxStatusIdle {
		return nil
	}
	if c.tx != nil {
		c.tx.closeCursorHandles()
		c.tx.state = TxRolledBack
		c.tx = nil
	}
	c.logger.Warn("rolling back abandoned transaction", String("conn_id", c.id.String()))
	_, err := c.execute(ctx, "ROLLBACK", nil)
	return err
}

// usable reports whether the connection can take a new statement.
func (c *Conn) usable() error {
	switch c.state {
	case ConnBroken:
		return ErrConnectionBroken(c.ch.RemoteAddr(), errors.New("connection marked broken"))
	case ConnClosed:
		return ErrConnectionBroken(c.ch.RemoteAddr(), errors.New("connection closed"))
	}
	if !c.ch.IsAlive() {
		c.state = ConnBroken
		return ErrConnectionBroken(c.ch.RemoteAddr(), errors.New("channel is dead"))
	}
	return nil
}

// mapError classifies an executor failure. Server errors pass through
// untouched; anything that killed the channel marks the connection broken.
func (c *Conn) mapError(err error, query string) error {
	var se *ServerError
	if errors.As(err, &se) {
		if se.Fatal() {
			c.state = ConnBroken
		}
		return se
	}

	var pe *protocol.Error
	if errors.As(err, &pe) {
		c.state = ConnBroken
		c.ch.MarkDead(pe)
		return &QueryError{Code: "E_PROTOCOL", Message: "protocol violation", Query: query, Cause: pe}
	}

	if !c.ch.IsAlive() {
		c.state = ConnBroken
		return ErrConnectionBroken(c.ch.RemoteAddr(), err)
	}
	return &QueryError{Code: "E_QUERY_FAILED", Message: "statement failed", Query: query, Cause: err}
}

// setState transitions the pool-visible state. Broken and closed are sticky.
func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ConnBroken || c.state == ConnClosed {
		return
	}
	c.state = s
}

const compositeSchemaQuery = `
SELECT t.oid::int8, t.typarray::int8, a.attname::text, a.atttypid::int8
FROM pg_type t
JOIN pg_attribute a ON a.attrelid = t.typrelid
WHERE t.typname = $1 AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

// RegisterComposite loads a composite type's field layout from the server
// catalog and registers it, together with its array type, so result columns
// of that type decode into structured values. Returns the type's OID.
func (c *Conn) RegisterComposite(ctx context.Context, typeName string) (uint32, error) {
	res, err := c.Execute(ctx, compositeSchemaQuery, pgtype.Text(typeName))
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, &QueryError{
			Code:    "E_TYPE_UNKNOWN",
			Message: "composite type not found in server catalog",
			Query:   typeName,
		}
	}

	schema := pgtype.CompositeSchema{Name: typeName}
	var typeOID, arrayOID uint32
	for _, row := range res.Rows {
		oid, _ := row.Value(0).Int()
		arr, _ := row.Value(1).Int()
		name, _ := row.Value(2).Str()
		attType, _ := row.Value(3).Int()
		typeOID = uint32(oid)
		arrayOID = uint32(arr)
		schema.Fields = append(schema.Fields, pgtype.FieldSchema{Name: name, OID: uint32(attType)})
	}

	c.catalog.Register(typeOID, schema)
	if arrayOID != 0 {
		c.catalog.RegisterArray(arrayOID, typeOID)
	}
	return typeOID, nil
}

const vectorOIDQuery = `SELECT t.oid::int8, t.typarray::int8 FROM pg_type t WHERE t.typname = 'vector'`

// RegisterVectorType resolves the float-vector extension type's OID from the
// server catalog. Installations without the extension leave the default.
func (c *Conn) RegisterVectorType(ctx context.Context) error {
	res, err := c.Execute(ctx, vectorOIDQuery)
	if err != nil {
		return err
	}
	if len(res.Rows) == 0 {
		return nil
	}
	oid, _ := res.Rows[0].Value(0).Int()
	arr, _ := res.Rows[0].Value(1).Int()
	c.catalog.RegisterVector(uint32(oid))
	if arr != 0 {
		c.catalog.RegisterArray(uint32(arr), uint32(oid))
	}
	return nil
}
