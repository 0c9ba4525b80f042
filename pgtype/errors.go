package pgtype

import "fmt"

// UnsupportedTypeError reports a type OID outside the current catalog.
type UnsupportedTypeError struct {
	OID uint32
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("E_TYPE_UNSUPPORTED: no codec for type oid %d", e.OID)
}

// DecodeMismatchError reports wire bytes inconsistent with the declared type.
type DecodeMismatchError struct {
	OID     uint32
	Message string
	Length  int
}

func (e *DecodeMismatchError) Error() string {
	return fmt.Sprintf("E_TYPE_DECODE_MISMATCH: oid %d: %s (got %d bytes)", e.OID, e.Message, e.Length)
}

// EncodingValidationError reports a value that violates the bounds or the
// explicitness rules of its declared type.
type EncodingValidationError struct {
	Kind    Kind
	Message string
}

func (e *EncodingValidationError) Error() string {
	return fmt.Sprintf("E_TYPE_ENCODE_INVALID: %s: %s", e.Kind, e.Message)
}

func errDecodeLength(oid uint32, want string, got int) error {
	return &DecodeMismatchError{
		OID:     oid,
		Message: "expected " + want,
		Length:  got,
	}
}
