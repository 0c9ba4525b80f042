package protocol

import (
	"bufio"
	"encoding/binary"
	"io"
)

// ReadMessage reads one backend message frame: the type byte, then the
// int32 length (which includes itself), then the payload.
func ReadMessage(r *bufio.Reader) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	t := header[0]
	size := int32(binary.BigEndian.Uint32(header[1:]))
	if size < 4 {
		return 0, nil, ErrMalformedMessage(t, "declared length below minimum")
	}

	payload := make([]byte, size-4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return t, payload, nil
}

// Reader decodes typed fields out of a single message payload.
type Reader struct {
	msgType byte
	buf     []byte
	pos     int
	err     error
}

// NewReader wraps a message payload for field-by-field decoding.
func NewReader(msgType byte, payload []byte) *Reader {
	return &Reader{msgType: msgType, buf: payload}
}

// Err returns the first decoding failure, if any. Field accessors return
// zero values once an error has occurred.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail() {
	if r.err == nil {
		r.err = ErrMalformedMessage(r.msgType, "message shorter than its fields")
	}
}

func (r *Reader) ReadByte() byte {
	if r.err != nil || r.pos >= len(r.buf) {
		r.fail()
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *Reader) ReadInt16() int16 {
	if r.err != nil || r.pos+2 > len(r.buf) {
		r.fail()
		return 0
	}
	n := int16(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return n
}

func (r *Reader) ReadInt32() int32 {
	if r.err != nil || r.pos+4 > len(r.buf) {
		r.fail()
		return 0
	}
	n := int32(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return n
}

func (r *Reader) ReadUint32() uint32 {
	return uint32(r.ReadInt32())
}

// ReadCString reads up to the next NUL terminator.
func (r *Reader) ReadCString() string {
	if r.err != nil {
		return ""
	}
	for i := r.pos; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			s := string(r.buf[r.pos:i])
			r.pos = i + 1
			return s
		}
	}
	r.fail()
	return ""
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) []byte {
	if r.err != nil || n < 0 || r.pos+n > len(r.buf) {
		r.fail()
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// DecodeRowDescription parses a RowDescription ('T') payload.
func DecodeRowDescription(payload []byte) ([]FieldDescription, error) {
	r := NewReader(MsgRowDescription, payload)
	count := r.ReadInt16()
	fields := make([]FieldDescription, count)
	for i := int16(0); i < count; i++ {
		f := &fields[i]
		f.Name = r.ReadCString()
		f.TableOID = r.ReadUint32()
		f.AttributeNum = r.ReadInt16()
		f.DataType = r.ReadUint32()
		f.DataTypeSize = r.ReadInt16()
		f.TypeModifier = r.ReadInt32()
		f.FormatCode = r.ReadInt16()
	}
	return fields, r.Err()
}

// DecodeParameterDescription parses a ParameterDescription ('t') payload.
func DecodeParameterDescription(payload []byte) ([]uint32, error) {
	r := NewReader(MsgParameterDescription, payload)
	count := r.ReadInt16()
	oids := make([]uint32, 0, count)
	for i := int16(0); i < count; i++ {
		oids = append(oids, r.ReadUint32())
	}
	return oids, r.Err()
}

// DecodeDataRow parses a DataRow ('D') payload. NULL fields are nil.
func DecodeDataRow(payload []byte) ([][]byte, error) {
	r := NewReader(MsgDataRow, payload)
	count := r.ReadInt16()
	values := make([][]byte, count)
	for i := int16(0); i < count; i++ {
		size := r.ReadInt32()
		if size == -1 {
			continue
		}
		values[i] = r.ReadBytes(int(size))
	}
	return values, r.Err()
}

// DecodeBackendKeyData parses a BackendKeyData ('K') payload.
func DecodeBackendKeyData(payload []byte) (BackendKeyData, error) {
	r := NewReader(MsgBackendKeyData, payload)
	key := BackendKeyData{PID: r.ReadInt32(), SecretKey: r.ReadInt32()}
	return key, r.Err()
}

// DecodeReadyForQuery parses a ReadyForQuery ('Z') payload into the
// transaction status byte.
func DecodeReadyForQuery(payload []byte) (byte, error) {
	r := NewReader(MsgReadyForQuery, payload)
	status := r.ReadByte()
	if err := r.Err(); err != nil {
		return 0, err
	}
	switch status {
	case TxStatusIdle, TxStatusActive, TxStatusFailed:
		return status, nil
	default:
		return 0, ErrMalformedMessage(MsgReadyForQuery, "unknown transaction status")
	}
}

// DecodeParameterStatus parses a ParameterStatus ('S') payload.
func DecodeParameterStatus(payload []byte) (key, value string, err error) {
	r := NewReader(MsgParameterStatus, payload)
	key = r.ReadCString()
	value = r.ReadCString()
	return key, value, r.Err()
}

// DecodeCommandComplete parses a CommandComplete ('C') payload into its tag.
func DecodeCommandComplete(payload []byte) (string, error) {
	r := NewReader(MsgCommandComplete, payload)
	tag := r.ReadCString()
	return tag, r.Err()
}

// DecodeNotification parses a NotificationResponse ('A') payload.
func DecodeNotification(payload []byte) (Notification, error) {
	r := NewReader(MsgNotificationResponse, payload)
	n := Notification{
		PID:     r.ReadInt32(),
		Channel: r.ReadCString(),
		Payload: r.ReadCString(),
	}
	return n, r.Err()
}

// DecodeErrorResponse parses an ErrorResponse ('E') payload into a
// ServerError carrying the server's fields verbatim.
func DecodeErrorResponse(payload []byte) *ServerError {
	r := NewReader(MsgErrorResponse, payload)
	se := &ServerError{}
	for {
		fieldType := r.ReadByte()
		if fieldType == 0 || r.Err() != nil {
			return se
		}
		value := r.ReadCString()
		switch fieldType {
		case FieldSeverity:
			se.Severity = value
		case FieldCode:
			se.Code = value
		case FieldMessage:
			se.Message = value
		case FieldDetail:
			se.Detail = value
		case FieldHint:
			se.Hint = value
		case FieldPosition:
			se.Position = value
		case FieldSchemaName:
			se.SchemaName = value
		case FieldTableName:
			se.TableName = value
		case FieldColumnName:
			se.ColumnName = value
		case FieldConstraintName:
			se.ConstraintName = value
		}
	}
}
