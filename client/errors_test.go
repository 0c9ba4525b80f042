package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionErrorFormat(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrConnectFailed("db.internal:5432", cause)

	assert.Contains(t, err.Error(), "E_CONNECT_FAILED")
	assert.Contains(t, err.Error(), "caused by: connection refused")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "db.internal:5432", err.Address)
}

func TestPoolExhaustedErrorFormat(t *testing.T) {
	err := &PoolExhaustedError{MaxSize: 8, Cause: errors.New("deadline")}
	assert.Contains(t, err.Error(), "8 connections")
	assert.NotNil(t, errors.Unwrap(err))
}

func TestTransactionStateErrorFormat(t *testing.T) {
	err := &TransactionStateError{Operation: "COMMIT", State: TxCommitted}
	assert.Contains(t, err.Error(), "COMMIT")
	assert.Contains(t, err.Error(), "committed")
}

func TestSavepointErrorFormats(t *testing.T) {
	assert.Contains(t, (&DuplicateSavepointError{Name: "sp1"}).Error(), `"sp1"`)
	assert.Contains(t, (&UnknownSavepointError{Name: "sp2"}).Error(), `"sp2"`)
}

func TestCardinalityErrorFormats(t *testing.T) {
	rows := &CardinalityError{ExpectedRows: 1, ActualRows: 3}
	assert.Contains(t, rows.Error(), "1 row(s)")
	assert.Contains(t, rows.Error(), "3")

	cols := &CardinalityError{ExpectedRows: 1, ActualRows: 1, ExpectedCols: 1, ActualCols: 4}
	assert.Contains(t, cols.Error(), "column")
}

func TestQueryErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &QueryError{Code: "E_QUERY_FAILED", Message: "statement failed", Cause: cause}
	assert.ErrorIs(t, err, cause)
}
