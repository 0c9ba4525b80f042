package protocol

import "encoding/binary"

// WriteBuffer accumulates one or more length-prefixed frontend messages.
// Each message starts with a type byte followed by an int32 length that
// covers the length field itself but not the type byte. Multiple messages
// are batched into a single Write to the socket, matching how the extended
// query sequence (Parse/Bind/Describe/Execute/Sync) is pipelined.
type WriteBuffer struct {
	buf      []byte
	sizeIdx  int
	hasFrame bool
}

// NewWriteBuffer creates a buffer and opens a first message of type t.
func NewWriteBuffer(t byte) *WriteBuffer {
	w := &WriteBuffer{buf: make([]byte, 0, 1024)}
	w.StartMsg(t)
	return w
}

// NewEmptyWriteBuffer creates a buffer with no open message, for frames
// that have no type byte (startup, SSL request, cancel request).
func NewEmptyWriteBuffer() *WriteBuffer {
	return &WriteBuffer{buf: make([]byte, 0, 64)}
}

// StartMsg closes the current message, if any, and opens a new one of type t.
func (w *WriteBuffer) StartMsg(t byte) {
	w.closeCurrent()
	w.buf = append(w.buf, t)
	w.sizeIdx = len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
	w.hasFrame = true
}

// startUntyped opens a message that has a length prefix but no type byte.
func (w *WriteBuffer) startUntyped() {
	w.closeCurrent()
	w.sizeIdx = len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
	w.hasFrame = true
}

func (w *WriteBuffer) closeCurrent() {
	if !w.hasFrame {
		return
	}
	size := len(w.buf) - w.sizeIdx
	binary.BigEndian.PutUint32(w.buf[w.sizeIdx:], uint32(size))
	w.hasFrame = false
}

// Bytes closes the current message and returns the encoded frames.
func (w *WriteBuffer) Bytes() []byte {
	w.closeCurrent()
	return w.buf
}

func (w *WriteBuffer) WriteByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *WriteBuffer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteCString writes s followed by a NUL terminator.
func (w *WriteBuffer) WriteCString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

func (w *WriteBuffer) WriteInt16(n int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(n))
}

func (w *WriteBuffer) WriteInt32(n int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(n))
}

func (w *WriteBuffer) WriteUint32(n uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, n)
}

// StartupMessage encodes the initial startup packet. Parameter order is
// not significant to the server.
func StartupMessage(params map[string]string) []byte {
	w := NewEmptyWriteBuffer()
	w.startUntyped()
	w.WriteInt32(ProtocolVersion)
	for k, v := range params {
		w.WriteCString(k)
		w.WriteCString(v)
	}
	w.WriteByte(0)
	return w.Bytes()
}

// SSLRequest encodes the TLS negotiation probe sent before startup.
func SSLRequest() []byte {
	w := NewEmptyWriteBuffer()
	w.startUntyped()
	w.WriteInt32(SSLRequestCode)
	return w.Bytes()
}

// CancelRequest encodes a cancel packet for the backend identified by key.
// It is sent on a throwaway connection, never on the connection it targets.
func CancelRequest(key BackendKeyData) []byte {
	w := NewEmptyWriteBuffer()
	w.startUntyped()
	w.WriteInt32(CancelRequestCode)
	w.WriteInt32(key.PID)
	w.WriteInt32(key.SecretKey)
	return w.Bytes()
}
