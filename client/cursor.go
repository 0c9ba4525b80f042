package client

import (
	"context"

	"github.com/google/uuid"

	"github.com/kestreldb/kestrel-go/pgtype"
	"github.com/kestreldb/kestrel-go/protocol"
)

// Cursor streams rows from a named portal, a bounded number per round trip.
// It is forward-only and cannot be restarted. The portal lives inside the
// owning transaction; ending the transaction closes the cursor.
type Cursor struct {
	tx      *Tx
	portal  string
	columns []Column
	fields  []protocol.FieldDescription
	closed  bool
	drained bool
}

// Cursor binds a named portal for the query so rows can be fetched
// incrementally. Valid only while the transaction is Active.
func (tx *Tx) Cursor(ctx context.Context, query string, params ...pgtype.Value) (*Cursor, error) {
	if err := tx.guard("cursor"); err != nil {
		return nil, err
	}

	portal := "kcur_" + uuid.NewString()
	fields, err := tx.conn.openPortal(ctx, portal, query, params)
	if err != nil {
		if _, ok := err.(*ServerError); ok {
			tx.failed = true
		}
		return nil, err
	}

	cur := &Cursor{
		tx:      tx,
		portal:  portal,
		columns: columnsFromFields(fields),
		fields:  fields,
	}
	tx.cursors = append(tx.cursors, cur)
	return cur, nil
}

// Columns returns the cursor's result columns.
func (c *Cursor) Columns() []Column { return c.columns }

// Fetch returns up to n rows. An empty slice means the portal is exhausted;
// subsequent calls keep returning empty until Close.
func (c *Cursor) Fetch(ctx context.Context, n int32) ([]Row, error) {
	if c.closed {
		return nil, &CursorClosedError{Portal: c.portal}
	}
	if err := c.tx.guard("fetch"); err != nil {
		return nil, err
	}
	if c.drained {
		return []Row{}, nil
	}

	rows, more, err := c.tx.conn.fetchPortal(ctx, c.portal, c.fields, n)
	if err != nil {
		if _, ok := err.(*ServerError); ok {
			c.tx.failed = true
		}
		return nil, err
	}
	if !more {
		c.drained = true
	}
	return rows, nil
}

// Close releases the portal. Closing twice is a no-op.
func (c *Cursor) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.tx.state != TxActive {
		// The server already destroyed the portal at transaction end.
		return nil
	}
	return c.tx.conn.closePortal(ctx, c.portal)
}

// openPortal prepares the query and binds it to a named portal.
func (c *Conn) openPortal(ctx context.Context, portal, query string, params []pgtype.Value) ([]protocol.FieldDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return nil, err
	}
	stmt, err := c.prepare(ctx, query)
	if err != nil {
		return nil, c.mapError(err, query)
	}
	if err := c.exec.OpenPortal(ctx, portal, stmt, params); err != nil {
		return nil, c.mapError(err, query)
	}
	return stmt.fields, nil
}

// fetchPortal executes a bound portal with a row limit.
func (c *Conn) fetchPortal(ctx context.Context, portal string, fields []protocol.FieldDescription, n int32) ([]Row, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return nil, false, err
	}
	rows, more, err := c.exec.FetchPortal(ctx, portal, fields, n)
	if err != nil {
		return nil, false, c.mapError(err, portal)
	}
	return rows, more, nil
}

// closePortal releases a named portal server-side.
func (c *Conn) closePortal(ctx context.Context, portal string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return err
	}
	if err := c.exec.ClosePortal(ctx, portal); err != nil {
		return c.mapError(err, portal)
	}
	return nil
}
