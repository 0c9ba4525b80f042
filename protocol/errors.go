package protocol

import "fmt"

// Error represents a protocol-level failure: a malformed or out-of-sequence
// wire message. It indicates a client/server disagreement about framing, so
// the connection that produced it must not be reused.
type Error struct {
	Code    string
	Message string
	MsgType byte
	Cause   error
}

func (e *Error) Error() string {
	if e.MsgType != 0 {
		return fmt.Sprintf("%s: %s (message type %q)", e.Code, e.Message, e.MsgType)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrMalformedMessage reports a message whose payload does not match its
// declared structure.
func ErrMalformedMessage(msgType byte, detail string) *Error {
	return &Error{
		Code:    "E_PROTOCOL_MALFORMED",
		Message: detail,
		MsgType: msgType,
	}
}

// ErrUnexpectedMessage reports a message type that is illegal at the current
// point in the protocol conversation.
func ErrUnexpectedMessage(msgType byte, during string) *Error {
	return &Error{
		Code:    "E_PROTOCOL_SEQUENCE",
		Message: fmt.Sprintf("unexpected message during %s", during),
		MsgType: msgType,
	}
}

// ServerError is an ErrorResponse from the server, carried verbatim. The
// SQLSTATE code and message are exactly what the server sent.
type ServerError struct {
	Severity       string
	Code           string
	Message        string
	Detail         string
	Hint           string
	Position       string
	SchemaName     string
	TableName      string
	ColumnName     string
	ConstraintName string
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (SQLSTATE %s): %s", e.Severity, e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s (SQLSTATE %s)", e.Severity, e.Message, e.Code)
}

// Fatal reports whether the server considers the connection unusable.
func (e *ServerError) Fatal() bool {
	return e.Severity == "FATAL" || e.Severity == "PANIC"
}
