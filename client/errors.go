package client

import (
	"fmt"

	"github.com/kestreldb/kestrel-go/protocol"
)

// ConnectionError represents a failure to establish or maintain a channel.
type ConnectionError struct {
	Code    string
	Message string
	Address string
	Cause   error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// ErrConnectFailed creates a ConnectionError for a failed dial or handshake.
func ErrConnectFailed(address string, cause error) *ConnectionError {
	return &ConnectionError{
		Code:    "E_CONNECT_FAILED",
		Message: fmt.Sprintf("failed to connect to %s", address),
		Address: address,
		Cause:   cause,
	}
}

// ErrConnectionBroken creates a ConnectionError for a channel lost mid-use.
func ErrConnectionBroken(address string, cause error) *ConnectionError {
	return &ConnectionError{
		Code:    "E_CONNECTION_BROKEN",
		Message: "connection lost",
		Address: address,
		Cause:   cause,
	}
}

// PoolError represents pool lifecycle failures.
type PoolError struct {
	Code    string
	Message string
	Cause   error
}

func (e *PoolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PoolError) Unwrap() error {
	return e.Cause
}

// PoolExhaustedError reports an acquisition that timed out while the pool
// was at capacity.
type PoolExhaustedError struct {
	MaxSize int
	Cause   error
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("E_POOL_EXHAUSTED: all %d connections in use and acquisition deadline reached", e.MaxSize)
}

func (e *PoolExhaustedError) Unwrap() error {
	return e.Cause
}

// ErrPoolClosed creates a PoolError for operations on a closed pool.
func ErrPoolClosed() *PoolError {
	return &PoolError{Code: "E_POOL_CLOSED", Message: "pool is closed"}
}

// ListenerError represents notification listener lifecycle failures.
type ListenerError struct {
	Code    string
	Message string
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrListenerClosed creates a ListenerError for operations on a closed
// listener.
func ErrListenerClosed() *ListenerError {
	return &ListenerError{Code: "E_LISTENER_CLOSED", Message: "listener is closed"}
}

// TransactionStateError reports a transaction operation attempted from a
// state that does not allow it.
type TransactionStateError struct {
	Operation string
	State     TxState
}

func (e *TransactionStateError) Error() string {
	return fmt.Sprintf("E_TX_STATE: %s is not valid in state %s", e.Operation, e.State)
}

// DuplicateSavepointError reports a savepoint name already on the stack.
type DuplicateSavepointError struct {
	Name string
}

func (e *DuplicateSavepointError) Error() string {
	return fmt.Sprintf("E_SAVEPOINT_DUPLICATE: savepoint %q already exists in this transaction", e.Name)
}

// UnknownSavepointError reports a savepoint name not on the stack.
type UnknownSavepointError struct {
	Name string
}

func (e *UnknownSavepointError) Error() string {
	return fmt.Sprintf("E_SAVEPOINT_UNKNOWN: savepoint %q does not exist in this transaction", e.Name)
}

// CardinalityError reports a FetchRow/FetchVal result shape violation.
type CardinalityError struct {
	ExpectedRows int
	ActualRows   int
	ExpectedCols int
	ActualCols   int
}

func (e *CardinalityError) Error() string {
	if e.ExpectedCols > 0 && e.ActualCols != e.ExpectedCols {
		return fmt.Sprintf("E_CARDINALITY: expected %d column(s), result has %d", e.ExpectedCols, e.ActualCols)
	}
	return fmt.Sprintf("E_CARDINALITY: expected %d row(s), result has %d", e.ExpectedRows, e.ActualRows)
}

// CursorClosedError reports an operation on a closed cursor.
type CursorClosedError struct {
	Portal string
}

func (e *CursorClosedError) Error() string {
	return fmt.Sprintf("E_CURSOR_CLOSED: portal %q has been closed", e.Portal)
}

// QueryError wraps a failure to execute a statement with its query context.
type QueryError struct {
	Code    string
	Message string
	Query   string
	Cause   error
}

func (e *QueryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

// ServerError re-exports the wire-level server error so callers can match
// it without importing the protocol package.
type ServerError = protocol.ServerError
