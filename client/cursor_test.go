package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestreldb/kestrel-go/pgtype"
	"github.com/kestreldb/kestrel-go/testutil"
)

func scriptSequence(srv *testutil.Server, query string, n int) {
	rows := make([][]pgtype.Value, n)
	for i := range rows {
		rows[i] = []pgtype.Value{pgtype.Int4(int32(i))}
	}
	srv.Script(query, testutil.ScriptResult{
		Columns: []testutil.ColumnSpec{{Name: "n", OID: pgtype.OIDInt4}},
		Rows:    rows,
	})
}

func TestCursorStreamsInBatches(t *testing.T) {
	srv := testutil.NewServer(t)
	scriptSequence(srv, "SELECT n FROM series", 5)

	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	cur, err := tx.Cursor(ctx, "SELECT n FROM series")
	require.NoError(t, err)
	require.Len(t, cur.Columns(), 1)

	var seen []int64
	for {
		rows, err := cur.Fetch(ctx, 2)
		require.NoError(t, err)
		if len(rows) == 0 {
			break
		}
		assert.LessOrEqual(t, len(rows), 2)
		for _, row := range rows {
			n, ok := row.Value(0).Int()
			require.True(t, ok)
			seen = append(seen, n)
		}
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, seen)

	require.NoError(t, cur.Close(ctx))
}

func TestCursorFetchAfterClose(t *testing.T) {
	srv := testutil.NewServer(t)
	scriptSequence(srv, "SELECT n FROM series", 3)

	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	cur, err := tx.Cursor(ctx, "SELECT n FROM series")
	require.NoError(t, err)
	require.NoError(t, cur.Close(ctx))
	require.NoError(t, cur.Close(ctx)) // closing twice is a no-op

	_, err = cur.Fetch(ctx, 1)
	var closed *CursorClosedError
	require.ErrorAs(t, err, &closed)
}

func TestCursorClosedByTransactionEnd(t *testing.T) {
	srv := testutil.NewServer(t)
	scriptSequence(srv, "SELECT n FROM series", 3)

	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)

	cur, err := tx.Cursor(ctx, "SELECT n FROM series")
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))

	_, err = cur.Fetch(ctx, 1)
	var closed *CursorClosedError
	require.ErrorAs(t, err, &closed)

	// Close after transaction end is a client-side no-op.
	assert.NoError(t, cur.Close(ctx))
}

func TestCursorRequiresActiveTransaction(t *testing.T) {
	srv := testutil.NewServer(t)
	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = tx.Cursor(ctx, "SELECT 1")
	var state *TransactionStateError
	require.ErrorAs(t, err, &state)
}

func TestCursorExhaustionSticks(t *testing.T) {
	srv := testutil.NewServer(t)
	scriptSequence(srv, "SELECT n FROM series", 2)

	conn := newTestConn(t, srv)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, TxOptions{})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	cur, err := tx.Cursor(ctx, "SELECT n FROM series")
	require.NoError(t, err)

	rows, err := cur.Fetch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = cur.Fetch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
