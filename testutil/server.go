// Package testutil provides an in-process scripted database backend speaking
// the v3 wire protocol, for driver tests that need a real socket without a
// real server.
package testutil

import (
	"bufio"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kestreldb/kestrel-go/pgtype"
	"github.com/kestreldb/kestrel-go/protocol"
)

// ColumnSpec declares one result column of a scripted query.
type ColumnSpec struct {
	Name string
	OID  uint32
}

// ScriptResult is the canned response for one query text. Setting SQLState
// turns the response into an ErrorResponse.
type ScriptResult struct {
	Columns []ColumnSpec
	Rows    [][]pgtype.Value
	Tag     string

	SQLState   string
	ErrMessage string
	Severity   string

	// WaitForCancel blocks execution until the server receives a
	// CancelRequest for the session, then answers with a query-canceled
	// error, emulating a long statement aborted out of band.
	WaitForCancel bool
}

// Server is a scripted backend. Queries are matched by exact text; anything
// unscripted gets an empty result. Transaction control statements and
// LISTEN/UNLISTEN are interpreted for real so the reported transaction
// status and notification routing behave like a live server.
type Server struct {
	ln net.Listener

	// AuthMethod is "trust", "cleartext", or "md5". Default trust.
	AuthMethod string
	// Password is checked when AuthMethod requires one.
	Password string
	// User is the name expected in the startup packet, checked for md5.
	User string

	mu       sync.Mutex
	results  map[string]*ScriptResult
	sessions map[*session]struct{}
	closed   bool

	cancelled chan protocol.BackendKeyData
	nextPID   int32
}

// NewServer starts a backend on a loopback port and registers cleanup.
func NewServer(t *testing.T) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{
		ln:         ln,
		AuthMethod: "trust",
		results:    make(map[string]*ScriptResult),
		sessions:   make(map[*session]struct{}),
		cancelled:  make(chan protocol.BackendKeyData, 16),
		nextPID:    1000,
	}
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Host returns the loopback address the server listens on.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port returns the listening port.
func (s *Server) Port() uint16 {
	_, portStr, _ := net.SplitHostPort(s.ln.Addr().String())
	port, _ := strconv.ParseUint(portStr, 10, 16)
	return uint16(port)
}

// Script registers the canned response for a query text.
func (s *Server) Script(query string, result ScriptResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := result
	s.results[query] = &r
}

// ScriptError registers a server error for a query text.
func (s *Server) ScriptError(query, sqlState, message string) {
	s.Script(query, ScriptResult{SQLState: sqlState, ErrMessage: message})
}

// Notify pushes a notification to every session listening on the channel.
func (s *Server) Notify(channel, payload string) {
	s.mu.Lock()
	targets := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		if sess.listening[channel] {
			targets = append(targets, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range targets {
		sess.sendNotification(channel, payload)
	}
}

// Cancelled returns the stream of backend keys received on cancel requests.
func (s *Server) Cancelled() <-chan protocol.BackendKeyData {
	return s.cancelled
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops accepting and tears down every session.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	s.ln.Close()
	for _, sess := range sessions {
		sess.conn.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

// notifyCancel wakes the session the cancel request targets.
func (s *Server) notifyCancel(key protocol.BackendKeyData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		if sess.key == key {
			select {
			case sess.cancelNotify <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Server) lookup(query string) *ScriptResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[query]
}

// session is one accepted connection.
type session struct {
	srv    *Server
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	txStatus     byte
	key          protocol.BackendKeyData
	stmts        map[string]string
	portals      map[string]*portalState
	listening    map[string]bool
	cancelNotify chan struct{}
}

type portalState struct {
	query string
	cols  []ColumnSpec
	rows  [][]pgtype.Value
	pos   int
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	s.mu.Lock()
	s.nextPID++
	pid := s.nextPID
	s.mu.Unlock()

	sess := &session{
		srv:          s,
		conn:         conn,
		reader:       bufio.NewReader(conn),
		txStatus:     protocol.TxStatusIdle,
		key:          protocol.BackendKeyData{PID: pid, SecretKey: pid * 7},
		stmts:        make(map[string]string),
		portals:      make(map[string]*portalState),
		listening:    make(map[string]bool),
		cancelNotify: make(chan struct{}, 1),
	}

	if !sess.startup() {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	sess.loop()
}

// startup consumes the startup packet, runs authentication, and sends the
// initial parameter and ready messages. Returns false if the session should
// end (SSL probe handling recurses into a fresh read).
func (sess *session) startup() bool {
	for {
		payload, err := readStartupPacket(sess.reader)
		if err != nil {
			return false
		}

		r := protocol.NewReader(0, payload)
		code := r.ReadInt32()

		switch code {
		case protocol.SSLRequestCode:
			// TLS is not supported by the scripted server.
			sess.conn.Write([]byte{'N'})
			continue
		case protocol.CancelRequestCode:
			key := protocol.BackendKeyData{PID: r.ReadInt32(), SecretKey: r.ReadInt32()}
			select {
			case sess.srv.cancelled <- key:
			default:
			}
			sess.srv.notifyCancel(key)
			return false
		case protocol.ProtocolVersion:
			params := map[string]string{}
			for {
				k := r.ReadCString()
				if k == "" || r.Err() != nil {
					break
				}
				params[k] = r.ReadCString()
			}
			return sess.authenticate(params["user"])
		default:
			return false
		}
	}
}

func readStartupPacket(r *bufio.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := int32(binary.BigEndian.Uint32(header))
	if length < 4 {
		return nil, fmt.Errorf("startup packet length %d below minimum", length)
	}
	payload := make([]byte, length-4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (sess *session) authenticate(user string) bool {
	switch sess.srv.AuthMethod {
	case "cleartext":
		w := protocol.NewWriteBuffer(protocol.MsgAuthentication)
		w.WriteInt32(protocol.AuthCleartextPassword)
		sess.write(w)
		password, ok := sess.readPassword()
		if !ok || password != sess.srv.Password {
			sess.authFailure()
			return false
		}
	case "md5":
		salt := []byte{0x01, 0x02, 0x03, 0x04}
		w := protocol.NewWriteBuffer(protocol.MsgAuthentication)
		w.WriteInt32(protocol.AuthMD5Password)
		w.WriteBytes(salt)
		sess.write(w)
		digest, ok := sess.readPassword()
		expected := "md5" + md5hex(md5hex(sess.srv.Password+user)+string(salt))
		if !ok || digest != expected {
			sess.authFailure()
			return false
		}
	}

	w := protocol.NewWriteBuffer(protocol.MsgAuthentication)
	w.WriteInt32(protocol.AuthOk)

	w.StartMsg(protocol.MsgParameterStatus)
	w.WriteCString("server_version")
	w.WriteCString("16.0 (scripted)")

	w.StartMsg(protocol.MsgBackendKeyData)
	w.WriteInt32(sess.key.PID)
	w.WriteInt32(sess.key.SecretKey)

	w.StartMsg(protocol.MsgReadyForQuery)
	w.WriteByte(sess.txStatus)
	sess.write(w)
	return true
}

func (sess *session) readPassword() (string, bool) {
	t, payload, err := protocol.ReadMessage(sess.reader)
	if err != nil || t != protocol.MsgPassword {
		return "", false
	}
	r := protocol.NewReader(t, payload)
	return r.ReadCString(), r.Err() == nil
}

func (sess *session) authFailure() {
	w := protocol.NewWriteBuffer(protocol.MsgErrorResponse)
	w.WriteByte(protocol.FieldSeverity)
	w.WriteCString("FATAL")
	w.WriteByte(protocol.FieldCode)
	w.WriteCString("28P01")
	w.WriteByte(protocol.FieldMessage)
	w.WriteCString("password authentication failed")
	w.WriteByte(0)
	sess.write(w)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (sess *session) loop() {
	// skipToSync mirrors server behavior of discarding pipeline messages
	// after an error until the next Sync.
	skipToSync := false

	for {
		t, payload, err := protocol.ReadMessage(sess.reader)
		if err != nil {
			return
		}

		if skipToSync && t != protocol.MsgSync && t != protocol.MsgTerminate {
			continue
		}

		switch t {
		case protocol.MsgParse:
			skipToSync = !sess.handleParse(payload)
		case protocol.MsgDescribe:
			skipToSync = !sess.handleDescribe(payload)
		case protocol.MsgBind:
			skipToSync = !sess.handleBind(payload)
		case protocol.MsgExecute:
			skipToSync = !sess.handleExecute(payload)
		case protocol.MsgClose:
			sess.handleClose(payload)
		case protocol.MsgSync:
			skipToSync = false
			w := protocol.NewWriteBuffer(protocol.MsgReadyForQuery)
			w.WriteByte(sess.txStatus)
			sess.write(w)
		case protocol.MsgQuery:
			sess.handleSimpleQuery(payload)
		case protocol.MsgTerminate:
			return
		default:
			return
		}
	}
}

func (sess *session) handleParse(payload []byte) bool {
	r := protocol.NewReader(protocol.MsgParse, payload)
	name := r.ReadCString()
	query := r.ReadCString()
	if r.Err() != nil {
		return false
	}
	sess.stmts[name] = query
	w := protocol.NewWriteBuffer(protocol.MsgParseComplete)
	sess.write(w)
	return true
}

func (sess *session) handleDescribe(payload []byte) bool {
	r := protocol.NewReader(protocol.MsgDescribe, payload)
	kind := r.ReadByte()
	name := r.ReadCString()
	if r.Err() != nil {
		return false
	}

	var query string
	switch kind {
	case protocol.TargetStatement:
		query = sess.stmts[name]
	case protocol.TargetPortal:
		if p, ok := sess.portals[name]; ok {
			query = p.query
		}
	}
	script := sess.srv.lookup(query)

	w := protocol.NewEmptyWriteBuffer()
	if kind == protocol.TargetStatement {
		w.StartMsg(protocol.MsgParameterDescription)
		w.WriteInt16(0)
	}
	if script != nil && len(script.Columns) > 0 {
		appendRowDescription(w, script.Columns)
	} else {
		w.StartMsg(protocol.MsgNoData)
	}
	sess.write(w)
	return true
}

func appendRowDescription(w *protocol.WriteBuffer, cols []ColumnSpec) {
	w.StartMsg(protocol.MsgRowDescription)
	w.WriteInt16(int16(len(cols)))
	for _, col := range cols {
		w.WriteCString(col.Name)
		w.WriteUint32(0)
		w.WriteInt16(0)
		w.WriteUint32(col.OID)
		w.WriteInt16(-1)
		w.WriteInt32(-1)
		w.WriteInt16(protocol.BinaryFormat)
	}
}

func (sess *session) handleBind(payload []byte) bool {
	r := protocol.NewReader(protocol.MsgBind, payload)
	portal := r.ReadCString()
	stmt := r.ReadCString()
	nFmts := r.ReadInt16()
	for i := int16(0); i < nFmts; i++ {
		r.ReadInt16()
	}
	nParams := r.ReadInt16()
	for i := int16(0); i < nParams; i++ {
		size := r.ReadInt32()
		if size >= 0 {
			r.ReadBytes(int(size))
		}
	}
	if r.Err() != nil {
		return false
	}

	query := sess.stmts[stmt]
	p := &portalState{query: query}
	if script := sess.srv.lookup(query); script != nil {
		p.cols = script.Columns
		p.rows = script.Rows
	}
	sess.portals[portal] = p

	w := protocol.NewWriteBuffer(protocol.MsgBindComplete)
	sess.write(w)
	return true
}

func (sess *session) handleExecute(payload []byte) bool {
	r := protocol.NewReader(protocol.MsgExecute, payload)
	portal := r.ReadCString()
	maxRows := r.ReadInt32()
	if r.Err() != nil {
		return false
	}

	p, ok := sess.portals[portal]
	if !ok {
		sess.sendError("ERROR", "34000", fmt.Sprintf("portal %q does not exist", portal))
		return false
	}

	if sess.txStatus == protocol.TxStatusFailed && !isRollback(p.query) {
		sess.sendError("ERROR", "25P02",
			"current transaction is aborted, commands ignored until end of transaction block")
		return false
	}

	if script := sess.srv.lookup(p.query); script != nil && script.WaitForCancel {
		select {
		case <-sess.cancelNotify:
		case <-time.After(10 * time.Second):
		}
		sess.sendError("ERROR", "57014", "canceling statement due to user request")
		return false
	}

	if tag, handled := sess.applyControl(p.query); handled {
		w := protocol.NewWriteBuffer(protocol.MsgCommandComplete)
		w.WriteCString(tag)
		sess.write(w)
		return true
	}

	script := sess.srv.lookup(p.query)
	if script != nil && script.SQLState != "" {
		severity := script.Severity
		if severity == "" {
			severity = "ERROR"
		}
		if sess.txStatus == protocol.TxStatusActive {
			sess.txStatus = protocol.TxStatusFailed
		}
		sess.sendError(severity, script.SQLState, script.ErrMessage)
		return false
	}

	return sess.emitRows(p, maxRows, script)
}

func (sess *session) emitRows(p *portalState, maxRows int32, script *ScriptResult) bool {
	w := protocol.NewEmptyWriteBuffer()
	sent := int32(0)
	for p.pos < len(p.rows) {
		if maxRows > 0 && sent >= maxRows {
			w.StartMsg(protocol.MsgPortalSuspended)
			sess.write(w)
			return true
		}
		if !appendDataRow(w, p.rows[p.pos]) {
			sess.sendError("ERROR", "XX000", "scripted row failed to encode")
			return false
		}
		p.pos++
		sent++
	}

	tag := "SELECT " + strconv.Itoa(len(p.rows))
	if script != nil && script.Tag != "" {
		tag = script.Tag
	}
	w.StartMsg(protocol.MsgCommandComplete)
	w.WriteCString(tag)
	sess.write(w)
	return true
}

func appendDataRow(w *protocol.WriteBuffer, row []pgtype.Value) bool {
	w.StartMsg(protocol.MsgDataRow)
	w.WriteInt16(int16(len(row)))
	for _, v := range row {
		_, data, err := pgtype.Encode(v)
		if err != nil {
			return false
		}
		if data == nil {
			w.WriteInt32(-1)
			continue
		}
		w.WriteInt32(int32(len(data)))
		w.WriteBytes(data)
	}
	return true
}

func (sess *session) handleClose(payload []byte) {
	r := protocol.NewReader(protocol.MsgClose, payload)
	kind := r.ReadByte()
	name := r.ReadCString()
	switch kind {
	case protocol.TargetStatement:
		delete(sess.stmts, name)
	case protocol.TargetPortal:
		delete(sess.portals, name)
	}
	w := protocol.NewWriteBuffer(protocol.MsgCloseComplete)
	sess.write(w)
}

func (sess *session) handleSimpleQuery(payload []byte) {
	r := protocol.NewReader(protocol.MsgQuery, payload)
	query := r.ReadCString()

	if sess.txStatus == protocol.TxStatusFailed && !isRollback(query) {
		sess.sendError("ERROR", "25P02",
			"current transaction is aborted, commands ignored until end of transaction block")
	} else if tag, handled := sess.applyControl(query); handled {
		w := protocol.NewWriteBuffer(protocol.MsgCommandComplete)
		w.WriteCString(tag)
		sess.write(w)
	} else if script := sess.srv.lookup(query); script != nil && script.SQLState != "" {
		if sess.txStatus == protocol.TxStatusActive {
			sess.txStatus = protocol.TxStatusFailed
		}
		sess.sendError("ERROR", script.SQLState, script.ErrMessage)
	} else {
		w := protocol.NewEmptyWriteBuffer()
		if script != nil && len(script.Columns) > 0 {
			appendRowDescription(w, script.Columns)
			for _, row := range script.Rows {
				appendDataRow(w, row)
			}
		}
		tag := "SELECT 0"
		if script != nil {
			if script.Tag != "" {
				tag = script.Tag
			} else {
				tag = "SELECT " + strconv.Itoa(len(script.Rows))
			}
		}
		w.StartMsg(protocol.MsgCommandComplete)
		w.WriteCString(tag)
		sess.write(w)
	}

	w := protocol.NewWriteBuffer(protocol.MsgReadyForQuery)
	w.WriteByte(sess.txStatus)
	sess.write(w)
}

// applyControl interprets transaction control and LISTEN statements, keeping
// the reported transaction status truthful.
func (sess *session) applyControl(query string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "BEGIN"):
		sess.txStatus = protocol.TxStatusActive
		return "BEGIN", true
	case upper == "COMMIT":
		if sess.txStatus == protocol.TxStatusFailed {
			sess.txStatus = protocol.TxStatusIdle
			return "ROLLBACK", true
		}
		sess.txStatus = protocol.TxStatusIdle
		return "COMMIT", true
	case upper == "ROLLBACK":
		sess.txStatus = protocol.TxStatusIdle
		return "ROLLBACK", true
	case strings.HasPrefix(upper, "ROLLBACK TO"):
		return "ROLLBACK", true
	case strings.HasPrefix(upper, "SAVEPOINT"):
		return "SAVEPOINT", true
	case strings.HasPrefix(upper, "RELEASE"):
		return "RELEASE", true
	case strings.HasPrefix(upper, "LISTEN "):
		sess.listening[unquoteIdentifier(strings.TrimSpace(query[len("LISTEN "):]))] = true
		return "LISTEN", true
	case strings.HasPrefix(upper, "UNLISTEN "):
		delete(sess.listening, unquoteIdentifier(strings.TrimSpace(query[len("UNLISTEN "):])))
		return "UNLISTEN", true
	}
	return "", false
}

func isRollback(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	return upper == "ROLLBACK" || upper == "COMMIT" || strings.HasPrefix(upper, "ROLLBACK TO")
}

func unquoteIdentifier(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

func (sess *session) sendError(severity, code, message string) {
	w := protocol.NewWriteBuffer(protocol.MsgErrorResponse)
	w.WriteByte(protocol.FieldSeverity)
	w.WriteCString(severity)
	w.WriteByte(protocol.FieldCode)
	w.WriteCString(code)
	w.WriteByte(protocol.FieldMessage)
	w.WriteCString(message)
	w.WriteByte(0)
	sess.write(w)
}

func (sess *session) sendNotification(channel, payload string) {
	w := protocol.NewWriteBuffer(protocol.MsgNotificationResponse)
	w.WriteInt32(sess.key.PID)
	w.WriteCString(channel)
	w.WriteCString(payload)
	sess.write(w)
}

func (sess *session) write(w *protocol.WriteBuffer) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	sess.conn.Write(w.Bytes())
}
