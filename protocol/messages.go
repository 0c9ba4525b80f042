// Package protocol implements framing for the PostgreSQL v3 wire protocol.
package protocol

// ProtocolVersion is the v3 protocol version number (3 << 16).
const ProtocolVersion int32 = 196608

// Special request codes carried in place of a protocol version in the
// startup packet.
const (
	SSLRequestCode    int32 = 80877103
	CancelRequestCode int32 = 80877102
)

// Frontend (client -> server) message types.
const (
	MsgBind      byte = 'B'
	MsgClose     byte = 'C'
	MsgDescribe  byte = 'D'
	MsgExecute   byte = 'E'
	MsgFlush     byte = 'H'
	MsgParse     byte = 'P'
	MsgPassword  byte = 'p'
	MsgQuery     byte = 'Q'
	MsgSync      byte = 'S'
	MsgTerminate byte = 'X'
)

// Backend (server -> client) message types.
const (
	MsgAuthentication        byte = 'R'
	MsgBackendKeyData        byte = 'K'
	MsgBindComplete          byte = '2'
	MsgCloseComplete         byte = '3'
	MsgCommandComplete       byte = 'C'
	MsgDataRow               byte = 'D'
	MsgEmptyQueryResponse    byte = 'I'
	MsgErrorResponse         byte = 'E'
	MsgNoData                byte = 'n'
	MsgNoticeResponse        byte = 'N'
	MsgNotificationResponse  byte = 'A'
	MsgParameterDescription  byte = 't'
	MsgParameterStatus       byte = 'S'
	MsgParseComplete         byte = '1'
	MsgPortalSuspended       byte = 's'
	MsgReadyForQuery         byte = 'Z'
	MsgRowDescription        byte = 'T'
)

// Authentication sub-types carried inside 'R' messages.
const (
	AuthOk                int32 = 0
	AuthCleartextPassword int32 = 3
	AuthMD5Password       int32 = 5
)

// Close/Describe target kinds.
const (
	TargetStatement byte = 'S'
	TargetPortal    byte = 'P'
)

// Transaction status bytes reported by ReadyForQuery.
const (
	TxStatusIdle   byte = 'I'
	TxStatusActive byte = 'T'
	TxStatusFailed byte = 'E'
)

// Parameter and result format codes.
const (
	TextFormat   int16 = 0
	BinaryFormat int16 = 1
)

// ErrorResponse / NoticeResponse field type bytes.
// http://www.postgresql.org/docs/current/static/protocol-error-fields.html
const (
	FieldSeverity       byte = 'S'
	FieldCode           byte = 'C'
	FieldMessage        byte = 'M'
	FieldDetail         byte = 'D'
	FieldHint           byte = 'H'
	FieldPosition       byte = 'P'
	FieldSchemaName     byte = 's'
	FieldTableName      byte = 't'
	FieldColumnName     byte = 'c'
	FieldConstraintName byte = 'n'
)

// FieldDescription describes one column in a RowDescription message.
type FieldDescription struct {
	Name         string
	TableOID     uint32
	AttributeNum int16
	DataType     uint32
	DataTypeSize int16
	TypeModifier int32
	FormatCode   int16
}

// Notification is a decoded NotificationResponse message.
type Notification struct {
	PID     int32
	Channel string
	Payload string
}

// BackendKeyData identifies a backend process for cancel requests.
type BackendKeyData struct {
	PID       int32
	SecretKey int32
}
