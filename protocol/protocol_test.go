package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBufferFramesMessages(t *testing.T) {
	w := NewWriteBuffer(MsgParse)
	w.WriteCString("stmt")
	w.WriteCString("SELECT 1")
	w.WriteInt16(0)

	w.StartMsg(MsgSync)
	frames := w.Bytes()

	// First frame: type byte + int32 length covering everything after the
	// type byte.
	assert.Equal(t, MsgParse, frames[0])
	length := binary.BigEndian.Uint32(frames[1:])
	assert.Equal(t, uint32(4+len("stmt")+1+len("SELECT 1")+1+2), length)

	// Second frame is the 5-byte Sync.
	sync := frames[1+length:]
	require.Len(t, sync, 5)
	assert.Equal(t, MsgSync, sync[0])
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(sync[1:]))
}

func TestReadMessageRoundTrip(t *testing.T) {
	w := NewWriteBuffer(MsgCommandComplete)
	w.WriteCString("SELECT 3")

	r := bufio.NewReader(bytes.NewReader(w.Bytes()))
	msgType, payload, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, MsgCommandComplete, msgType)

	tag, err := DecodeCommandComplete(payload)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 3", tag)
}

func TestReadMessageRejectsBadLength(t *testing.T) {
	frame := []byte{MsgDataRow, 0, 0, 0, 2}
	_, _, err := ReadMessage(bufio.NewReader(bytes.NewReader(frame)))
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "E_PROTOCOL_MALFORMED", perr.Code)
}

func TestReaderStickyError(t *testing.T) {
	r := NewReader(MsgDataRow, []byte{0x01})
	r.ReadInt32()
	require.Error(t, r.Err())

	// Accessors keep returning zero values after the first failure.
	assert.Equal(t, int16(0), r.ReadInt16())
	assert.Equal(t, "", r.ReadCString())
}

func TestStartupMessage(t *testing.T) {
	data := StartupMessage(map[string]string{"user": "alice"})

	length := binary.BigEndian.Uint32(data)
	assert.Equal(t, uint32(len(data)), length)
	assert.Equal(t, uint32(ProtocolVersion), binary.BigEndian.Uint32(data[4:]))
	assert.Contains(t, string(data), "user\x00alice\x00")
	assert.Equal(t, byte(0), data[len(data)-1])
}

func TestCancelRequest(t *testing.T) {
	data := CancelRequest(BackendKeyData{PID: 7, SecretKey: 11})
	require.Len(t, data, 16)
	assert.Equal(t, uint32(CancelRequestCode), binary.BigEndian.Uint32(data[4:]))
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(data[8:]))
	assert.Equal(t, uint32(11), binary.BigEndian.Uint32(data[12:]))
}

func TestDecodeDataRowNull(t *testing.T) {
	w := NewWriteBuffer(MsgDataRow)
	w.WriteInt16(2)
	w.WriteInt32(-1)
	w.WriteInt32(3)
	w.WriteBytes([]byte("abc"))

	r := bufio.NewReader(bytes.NewReader(w.Bytes()))
	_, payload, err := ReadMessage(r)
	require.NoError(t, err)

	values, err := DecodeDataRow(payload)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Nil(t, values[0])
	assert.Equal(t, []byte("abc"), values[1])
}

func TestDecodeRowDescription(t *testing.T) {
	w := NewWriteBuffer(MsgRowDescription)
	w.WriteInt16(1)
	w.WriteCString("id")
	w.WriteUint32(0)
	w.WriteInt16(0)
	w.WriteUint32(23)
	w.WriteInt16(4)
	w.WriteInt32(-1)
	w.WriteInt16(BinaryFormat)

	r := bufio.NewReader(bytes.NewReader(w.Bytes()))
	_, payload, err := ReadMessage(r)
	require.NoError(t, err)

	fields, err := DecodeRowDescription(payload)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "id", fields[0].Name)
	assert.Equal(t, uint32(23), fields[0].DataType)
	assert.Equal(t, BinaryFormat, fields[0].FormatCode)
}

func TestDecodeReadyForQuery(t *testing.T) {
	status, err := DecodeReadyForQuery([]byte{TxStatusActive})
	require.NoError(t, err)
	assert.Equal(t, TxStatusActive, status)

	_, err = DecodeReadyForQuery([]byte{'X'})
	var perr *Error
	assert.ErrorAs(t, err, &perr)
}

func TestDecodeErrorResponse(t *testing.T) {
	w := NewWriteBuffer(MsgErrorResponse)
	w.WriteByte(FieldSeverity)
	w.WriteCString("ERROR")
	w.WriteByte(FieldCode)
	w.WriteCString("23505")
	w.WriteByte(FieldMessage)
	w.WriteCString("duplicate key value")
	w.WriteByte(FieldConstraintName)
	w.WriteCString("users_pkey")
	w.WriteByte(0)

	r := bufio.NewReader(bytes.NewReader(w.Bytes()))
	_, payload, err := ReadMessage(r)
	require.NoError(t, err)

	se := DecodeErrorResponse(payload)
	assert.Equal(t, "23505", se.Code)
	assert.Equal(t, "duplicate key value", se.Message)
	assert.Equal(t, "users_pkey", se.ConstraintName)
	assert.False(t, se.Fatal())
	assert.Contains(t, se.Error(), "SQLSTATE 23505")
}

func TestServerErrorFatal(t *testing.T) {
	se := &ServerError{Severity: "FATAL", Code: "57P01", Message: "terminating connection"}
	assert.True(t, se.Fatal())
}

func TestDecodeNotification(t *testing.T) {
	w := NewWriteBuffer(MsgNotificationResponse)
	w.WriteInt32(4242)
	w.WriteCString("events")
	w.WriteCString(`{"id":9}`)

	r := bufio.NewReader(bytes.NewReader(w.Bytes()))
	_, payload, err := ReadMessage(r)
	require.NoError(t, err)

	n, err := DecodeNotification(payload)
	require.NoError(t, err)
	assert.Equal(t, int32(4242), n.PID)
	assert.Equal(t, "events", n.Channel)
	assert.Equal(t, `{"id":9}`, n.Payload)
}
