package client

import (
	"context"
	"strings"

	"github.com/kestreldb/kestrel-go/pgtype"
	"github.com/kestreldb/kestrel-go/protocol"
)

// TxState is the lifecycle state of a transaction.
type TxState int

const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// IsolationLevel selects the server-side isolation for a transaction.
type IsolationLevel string

const (
	IsolationDefault        IsolationLevel = ""
	IsolationReadCommitted  IsolationLevel = "READ COMMITTED"
	IsolationRepeatableRead IsolationLevel = "REPEATABLE READ"
	IsolationSerializable   IsolationLevel = "SERIALIZABLE"
)

// TxOptions configures a transaction opened with Conn.Begin.
type TxOptions struct {
	Isolation  IsolationLevel
	ReadOnly   bool
	Deferrable bool
}

func (o TxOptions) beginStatement() string {
	var b strings.Builder
	b.WriteString("BEGIN")
	if o.Isolation != IsolationDefault {
		b.WriteString(" ISOLATION LEVEL ")
		b.WriteString(string(o.Isolation))
	}
	if o.ReadOnly {
		b.WriteString(" READ ONLY")
	}
	if o.Deferrable {
		b.WriteString(" DEFERRABLE")
	}
	return b.String()
}

// Tx is an explicit transaction on a single connection. It is not safe for
// concurrent use. After a server error inside the transaction the server
// rejects everything except ROLLBACK; the Tx mirrors that by entering a
// failed sub-state where only Rollback succeeds.
type Tx struct {
	conn       *Conn
	opts       TxOptions
	state      TxState
	failed     bool
	savepoints []string
	cursors    []*Cursor
}

// State returns the transaction's lifecycle state.
func (tx *Tx) State() TxState { return tx.state }

// Failed reports whether a server error has poisoned the transaction.
func (tx *Tx) Failed() bool { return tx.failed }

func (tx *Tx) guard(operation string) error {
	if tx.state != TxActive {
		return &TransactionStateError{Operation: operation, State: tx.state}
	}
	if tx.failed {
		return &TransactionStateError{Operation: operation, State: TxActive}
	}
	return nil
}

// run executes a statement inside the transaction and tracks the failed
// sub-state from server errors and the channel's reported status.
func (tx *Tx) run(ctx context.Context, query string, params []pgtype.Value) (*Result, error) {
	res, err := tx.conn.Execute(ctx, query, params...)
	if err != nil {
		if _, ok := err.(*ServerError); ok {
			tx.failed = true
		}
		return nil, err
	}
	if tx.conn.exec.TxStatus() == protocol.TxStatusFailed {
		tx.failed = true
	}
	return res, nil
}

// Execute runs a statement inside the transaction.
func (tx *Tx) Execute(ctx context.Context, query string, params ...pgtype.Value) (*Result, error) {
	if err := tx.guard("execute"); err != nil {
		return nil, err
	}
	return tx.run(ctx, query, params)
}

// FetchRow runs a query expected to return exactly one row.
func (tx *Tx) FetchRow(ctx context.Context, query string, params ...pgtype.Value) (Row, error) {
	res, err := tx.Execute(ctx, query, params...)
	if err != nil {
		return Row{}, err
	}
	if len(res.Rows) != 1 {
		return Row{}, &CardinalityError{ExpectedRows: 1, ActualRows: len(res.Rows)}
	}
	return res.Rows[0], nil
}

// FetchVal runs a query expected to return exactly one row with one column.
func (tx *Tx) FetchVal(ctx context.Context, query string, params ...pgtype.Value) (pgtype.Value, error) {
	row, err := tx.FetchRow(ctx, query, params...)
	if err != nil {
		return pgtype.Value{}, err
	}
	if row.Len() != 1 {
		return pgtype.Value{}, &CardinalityError{ExpectedRows: 1, ActualRows: 1, ExpectedCols: 1, ActualCols: row.Len()}
	}
	return row.Value(0), nil
}

// Commit makes the transaction's effects durable. Committing a failed
// transaction is rejected; it must be rolled back.
func (tx *Tx) Commit(ctx context.Context) error {
	if err := tx.guard("COMMIT"); err != nil {
		return err
	}
	tx.closeCursorHandles()
	if _, err := tx.run(ctx, "COMMIT", nil); err != nil {
		return err
	}
	tx.state = TxCommitted
	tx.conn.tx = nil
	return nil
}

// Rollback discards the transaction's effects. It is the only operation
// accepted once the transaction has failed.
func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.state != TxActive {
		return &TransactionStateError{Operation: "ROLLBACK", State: tx.state}
	}
	tx.closeCursorHandles()
	if _, err := tx.conn.Execute(ctx, "ROLLBACK"); err != nil {
		return err
	}
	tx.state = TxRolledBack
	tx.failed = false
	tx.conn.tx = nil
	return nil
}

// Savepoint pushes a named rollback point. Names are scoped to this
// transaction; reusing a live name is an error.
func (tx *Tx) Savepoint(ctx context.Context, name string) error {
	if err := tx.guard("SAVEPOINT"); err != nil {
		return err
	}
	if tx.hasSavepoint(name) {
		return &DuplicateSavepointError{Name: name}
	}
	if _, err := tx.run(ctx, "SAVEPOINT "+quoteIdentifier(name), nil); err != nil {
		return err
	}
	tx.savepoints = append(tx.savepoints, name)
	return nil
}

// RollbackTo rewinds to a savepoint. Savepoints established after it are
// discarded; the target itself stays on the stack and can be rewound to
// again. The transaction stays Active.
func (tx *Tx) RollbackTo(ctx context.Context, name string) error {
	if tx.state != TxActive {
		return &TransactionStateError{Operation: "ROLLBACK TO SAVEPOINT", State: tx.state}
	}
	if tx.failed {
		return &TransactionStateError{Operation: "ROLLBACK TO SAVEPOINT", State: TxActive}
	}
	idx := tx.savepointIndex(name)
	if idx < 0 {
		return &UnknownSavepointError{Name: name}
	}
	if _, err := tx.run(ctx, "ROLLBACK TO SAVEPOINT "+quoteIdentifier(name), nil); err != nil {
		return err
	}
	tx.savepoints = tx.savepoints[:idx+1]
	return nil
}

// ReleaseSavepoint removes a savepoint without rewinding. Savepoints
// established after it are destroyed with it, matching server semantics.
func (tx *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	if err := tx.guard("RELEASE SAVEPOINT"); err != nil {
		return err
	}
	idx := tx.savepointIndex(name)
	if idx < 0 {
		return &UnknownSavepointError{Name: name}
	}
	if _, err := tx.run(ctx, "RELEASE SAVEPOINT "+quoteIdentifier(name), nil); err != nil {
		return err
	}
	tx.savepoints = tx.savepoints[:idx]
	return nil
}

// Savepoints returns the current savepoint stack, oldest first.
func (tx *Tx) Savepoints() []string {
	out := make([]string, len(tx.savepoints))
	copy(out, tx.savepoints)
	return out
}

func (tx *Tx) hasSavepoint(name string) bool {
	return tx.savepointIndex(name) >= 0
}

func (tx *Tx) savepointIndex(name string) int {
	for i, sp := range tx.savepoints {
		if sp == name {
			return i
		}
	}
	return -1
}

// closeCursorHandles invalidates cursor handles when the transaction ends.
// The server destroys the portals itself at transaction end, so only the
// client-side state needs flipping.
func (tx *Tx) closeCursorHandles() {
	for _, cur := range tx.cursors {
		cur.closed = true
	}
	tx.cursors = nil
}

// quoteIdentifier double-quotes an identifier for safe interpolation into
// savepoint statements, which cannot take bind parameters.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
