package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestreldb/kestrel-go/pgtype"
	"github.com/kestreldb/kestrel-go/protocol"
	"github.com/kestreldb/kestrel-go/testutil"
)

func TestBeginCommit(t *testing.T) {
	srv := testutil.NewServer(t)
	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	assert.Equal(t, TxActive, tx.State())
	assert.Equal(t, protocol.TxStatusActive, conn.exec.TxStatus())

	_, err = tx.Execute(ctx, "SELECT 1")
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, TxCommitted, tx.State())
	assert.Equal(t, protocol.TxStatusIdle, conn.exec.TxStatus())
}

func TestCommitTwice(t *testing.T) {
	srv := testutil.NewServer(t)
	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	err = tx.Commit(ctx)
	var state *TransactionStateError
	require.ErrorAs(t, err, &state)
	assert.Equal(t, TxCommitted, state.State)
}

func TestRollbackTerminal(t *testing.T) {
	srv := testutil.NewServer(t)
	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, TxRolledBack, tx.State())

	_, err = tx.Execute(ctx, "SELECT 1")
	var state *TransactionStateError
	assert.ErrorAs(t, err, &state)

	err = tx.Rollback(ctx)
	assert.ErrorAs(t, err, &state)
}

func TestBeginWhileActive(t *testing.T) {
	srv := testutil.NewServer(t)
	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = conn.Begin(ctx, TxOptions{})
	var state *TransactionStateError
	require.ErrorAs(t, err, &state)
	assert.Equal(t, "BEGIN", state.Operation)
}

func TestSavepointStack(t *testing.T) {
	srv := testutil.NewServer(t)
	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	require.NoError(t, tx.Savepoint(ctx, "alpha"))
	require.NoError(t, tx.Savepoint(ctx, "beta"))
	require.NoError(t, tx.Savepoint(ctx, "gamma"))
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, tx.Savepoints())

	// Rewinding keeps the target so it can be rewound to again.
	require.NoError(t, tx.RollbackTo(ctx, "beta"))
	assert.Equal(t, []string{"alpha", "beta"}, tx.Savepoints())
	assert.Equal(t, TxActive, tx.State())
	require.NoError(t, tx.RollbackTo(ctx, "beta"))

	// Releasing removes the target and everything above it.
	require.NoError(t, tx.ReleaseSavepoint(ctx, "alpha"))
	assert.Empty(t, tx.Savepoints())
}

func TestSavepointDuplicate(t *testing.T) {
	srv := testutil.NewServer(t)
	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	require.NoError(t, tx.Savepoint(ctx, "sp"))
	err = tx.Savepoint(ctx, "sp")
	var dup *DuplicateSavepointError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "sp", dup.Name)
}

func TestSavepointUnknown(t *testing.T) {
	srv := testutil.NewServer(t)
	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	var unknown *UnknownSavepointError
	assert.ErrorAs(t, tx.RollbackTo(ctx, "missing"), &unknown)
	assert.ErrorAs(t, tx.ReleaseSavepoint(ctx, "missing"), &unknown)
}

func TestFailedTransactionAcceptsOnlyRollback(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.ScriptError("INSERT INTO t VALUES (1)", "23505", "duplicate key value")

	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)

	_, err = tx.Execute(ctx, "INSERT INTO t VALUES (1)")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.True(t, tx.Failed())

	var state *TransactionStateError
	_, err = tx.Execute(ctx, "SELECT 1")
	assert.ErrorAs(t, err, &state)
	assert.ErrorAs(t, tx.Commit(ctx), &state)
	assert.ErrorAs(t, tx.Savepoint(ctx, "sp"), &state)

	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, TxRolledBack, tx.State())
	assert.Equal(t, protocol.TxStatusIdle, conn.exec.TxStatus())

	// The connection itself is fine afterwards.
	_, err = conn.Execute(ctx, "SELECT 1")
	assert.NoError(t, err)
}

func TestTransactionRunsStatements(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Script("SELECT balance FROM accounts WHERE id = $1", testutil.ScriptResult{
		Columns: []testutil.ColumnSpec{{Name: "balance", OID: pgtype.OIDInt8}},
		Rows:    [][]pgtype.Value{{pgtype.Int8(1250)}},
	})

	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{Isolation: IsolationSerializable})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	row, err := tx.FetchRow(ctx, "SELECT balance FROM accounts WHERE id = $1", pgtype.Int8(1))
	require.NoError(t, err)
	assert.Equal(t, 1, row.Len())
}

func TestBeginStatementOptions(t *testing.T) {
	assert.Equal(t, "BEGIN", TxOptions{}.beginStatement())
	assert.Equal(t, "BEGIN ISOLATION LEVEL REPEATABLE READ",
		TxOptions{Isolation: IsolationRepeatableRead}.beginStatement())
	assert.Equal(t, "BEGIN ISOLATION LEVEL SERIALIZABLE READ ONLY DEFERRABLE",
		TxOptions{Isolation: IsolationSerializable, ReadOnly: true, Deferrable: true}.beginStatement())
}
