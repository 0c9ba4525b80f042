package client

import (
	"context"
	"time"

	"github.com/kestreldb/kestrel-go/pgtype"
	"github.com/kestreldb/kestrel-go/protocol"
	"github.com/kestreldb/kestrel-go/transport"
)

const (
	// cancelRequestTimeout bounds the out-of-band cancel connection.
	cancelRequestTimeout = 5 * time.Second
	// cancelDrainTimeout bounds how long a canceled statement may keep
	// draining its response before the channel is given up as dead.
	cancelDrainTimeout = 5 * time.Second
)

// executor drives the extended query protocol over a single channel. One
// request pipeline (Parse/Bind/Describe/Execute/Sync) is written in a single
// socket write, then the response stream is consumed through the matching
// ReadyForQuery. The executor is not safe for concurrent use; the owning
// connection serializes access.
type executor struct {
	ch      *transport.Channel
	catalog *pgtype.Catalog
	logger  Logger

	// txStatus is the transaction status byte from the last ReadyForQuery.
	txStatus byte

	// onNotification receives asynchronous NOTIFY messages that arrive
	// interleaved with query responses. Optional.
	onNotification func(protocol.Notification)
}

func newExecutor(ch *transport.Channel, catalog *pgtype.Catalog, logger Logger) *executor {
	return &executor{
		ch:       ch,
		catalog:  catalog,
		logger:   logger,
		txStatus: protocol.TxStatusIdle,
	}
}

// Prepare parses and describes a statement server-side.
func (e *executor) Prepare(ctx context.Context, name, query string) (*preparedStatement, error) {
	w := protocol.NewWriteBuffer(protocol.MsgParse)
	w.WriteCString(name)
	w.WriteCString(query)
	w.WriteInt16(0) // no parameter type hints; the server infers them

	w.StartMsg(protocol.MsgDescribe)
	w.WriteByte(protocol.TargetStatement)
	w.WriteCString(name)

	w.StartMsg(protocol.MsgSync)

	if err := e.ch.Send(ctx, w); err != nil {
		return nil, err
	}

	stmt := &preparedStatement{name: name, query: query}
	err := e.consume(ctx, func(t byte, payload []byte) error {
		switch t {
		case protocol.MsgParseComplete:
			return nil
		case protocol.MsgParameterDescription:
			oids, err := protocol.DecodeParameterDescription(payload)
			if err != nil {
				return err
			}
			stmt.paramOIDs = oids
			return nil
		case protocol.MsgRowDescription:
			fields, err := protocol.DecodeRowDescription(payload)
			if err != nil {
				return err
			}
			stmt.fields = fields
			return nil
		case protocol.MsgNoData:
			return nil
		default:
			return protocol.ErrUnexpectedMessage(t, "prepare")
		}
	})
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

// Execute binds the unnamed portal, runs it to completion, and materializes
// the result. Results are always requested in binary format.
func (e *executor) Execute(ctx context.Context, stmt *preparedStatement, params []pgtype.Value) (*Result, error) {
	w := protocol.NewEmptyWriteBuffer()
	if err := appendBind(w, "", stmt, params); err != nil {
		return nil, err
	}

	w.StartMsg(protocol.MsgExecute)
	w.WriteCString("")
	w.WriteInt32(0) // no row limit

	w.StartMsg(protocol.MsgSync)

	if err := e.ch.Send(ctx, w); err != nil {
		return nil, err
	}
	return e.collectRows(ctx, stmt.fields, "execute")
}

// OpenPortal binds a named portal for cursor-style row fetching. The portal
// survives until it is closed or the surrounding transaction ends.
func (e *executor) OpenPortal(ctx context.Context, portal string, stmt *preparedStatement, params []pgtype.Value) error {
	w := protocol.NewEmptyWriteBuffer()
	if err := appendBind(w, portal, stmt, params); err != nil {
		return err
	}
	w.StartMsg(protocol.MsgSync)

	if err := e.ch.Send(ctx, w); err != nil {
		return err
	}
	return e.consume(ctx, func(t byte, payload []byte) error {
		if t == protocol.MsgBindComplete {
			return nil
		}
		return protocol.ErrUnexpectedMessage(t, "bind portal")
	})
}

// FetchPortal executes a bound portal with a row limit. more is true when
// the portal was suspended and has rows remaining.
func (e *executor) FetchPortal(ctx context.Context, portal string, fields []protocol.FieldDescription, maxRows int32) (rows []Row, more bool, err error) {
	w := protocol.NewWriteBuffer(protocol.MsgExecute)
	w.WriteCString(portal)
	w.WriteInt32(maxRows)
	w.StartMsg(protocol.MsgSync)

	if err := e.ch.Send(ctx, w); err != nil {
		return nil, false, err
	}

	columns := columnsFromFields(fields)
	err = e.consume(ctx, func(t byte, payload []byte) error {
		switch t {
		case protocol.MsgDataRow:
			row, err := e.decodeRow(columns, payload)
			if err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		case protocol.MsgPortalSuspended:
			more = true
			return nil
		case protocol.MsgCommandComplete:
			more = false
			return nil
		default:
			return protocol.ErrUnexpectedMessage(t, "fetch portal")
		}
	})
	if err != nil {
		return nil, false, err
	}
	return rows, more, nil
}

// ClosePortal releases a named portal server-side.
func (e *executor) ClosePortal(ctx context.Context, portal string) error {
	w := protocol.NewWriteBuffer(protocol.MsgClose)
	w.WriteByte(protocol.TargetPortal)
	w.WriteCString(portal)
	w.StartMsg(protocol.MsgSync)

	if err := e.ch.Send(ctx, w); err != nil {
		return err
	}
	return e.consume(ctx, func(t byte, payload []byte) error {
		if t == protocol.MsgCloseComplete {
			return nil
		}
		return protocol.ErrUnexpectedMessage(t, "close portal")
	})
}

// CloseStatement releases a prepared statement server-side.
func (e *executor) CloseStatement(ctx context.Context, name string) error {
	w := protocol.NewWriteBuffer(protocol.MsgClose)
	w.WriteByte(protocol.TargetStatement)
	w.WriteCString(name)
	w.StartMsg(protocol.MsgSync)

	if err := e.ch.Send(ctx, w); err != nil {
		return err
	}
	return e.consume(ctx, func(t byte, payload []byte) error {
		if t == protocol.MsgCloseComplete {
			return nil
		}
		return protocol.ErrUnexpectedMessage(t, "close statement")
	})
}

// TxStatus returns the transaction status from the last ReadyForQuery.
func (e *executor) TxStatus() byte {
	return e.txStatus
}

// appendBind encodes a Bind message for the given portal. Every parameter
// and every result column uses the binary format.
func appendBind(w *protocol.WriteBuffer, portal string, stmt *preparedStatement, params []pgtype.Value) error {
	w.StartMsg(protocol.MsgBind)
	w.WriteCString(portal)
	w.WriteCString(stmt.name)

	w.WriteInt16(1)
	w.WriteInt16(protocol.BinaryFormat)

	w.WriteInt16(int16(len(params)))
	for _, p := range params {
		_, data, err := pgtype.Encode(p)
		if err != nil {
			return err
		}
		if data == nil {
			w.WriteInt32(-1)
			continue
		}
		w.WriteInt32(int32(len(data)))
		w.WriteBytes(data)
	}

	w.WriteInt16(1)
	w.WriteInt16(protocol.BinaryFormat)
	return nil
}

// collectRows consumes a full execute response into a materialized Result.
func (e *executor) collectRows(ctx context.Context, fields []protocol.FieldDescription, phase string) (*Result, error) {
	res := &Result{Columns: columnsFromFields(fields)}
	err := e.consume(ctx, func(t byte, payload []byte) error {
		switch t {
		case protocol.MsgBindComplete:
			return nil
		case protocol.MsgDataRow:
			row, err := e.decodeRow(res.Columns, payload)
			if err != nil {
				return err
			}
			res.Rows = append(res.Rows, row)
			return nil
		case protocol.MsgCommandComplete:
			tag, err := protocol.DecodeCommandComplete(payload)
			if err != nil {
				return err
			}
			res.Tag = CommandTag(tag)
			return nil
		case protocol.MsgEmptyQueryResponse:
			return nil
		default:
			return protocol.ErrUnexpectedMessage(t, phase)
		}
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *executor) decodeRow(columns []Column, payload []byte) (Row, error) {
	raw, err := protocol.DecodeDataRow(payload)
	if err != nil {
		return Row{}, err
	}
	values := make([]pgtype.Value, len(raw))
	for i, data := range raw {
		oid := uint32(0)
		if i < len(columns) {
			oid = columns[i].TypeOID
		}
		v, err := pgtype.Decode(e.catalog, oid, data)
		if err != nil {
			return Row{}, err
		}
		values[i] = v
	}
	return Row{columns: columns, values: values}, nil
}

// consume reads backend messages until ReadyForQuery, feeding response
// messages to handle. Asynchronous messages (notices, parameter changes,
// notifications) are absorbed here. A server ErrorResponse is captured and
// the stream is still drained through ReadyForQuery, so the channel stays
// usable afterwards. The caller abandoning ctx triggers an out-of-band
// CancelRequest followed by the same drain, so cancellation does not cost
// the connection.
func (e *executor) consume(ctx context.Context, handle func(t byte, payload []byte) error) error {
	recvCtx, stopWatch := e.watchCancel(ctx)
	defer stopWatch()

	var serverErr error
	for {
		t, payload, err := e.ch.Receive(recvCtx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}

		switch t {
		case protocol.MsgReadyForQuery:
			status, err := protocol.DecodeReadyForQuery(payload)
			if err != nil {
				return err
			}
			e.txStatus = status
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return serverErr
		case protocol.MsgErrorResponse:
			se := protocol.DecodeErrorResponse(payload)
			if serverErr == nil {
				serverErr = se
			}
			if se.Fatal() {
				e.ch.MarkDead(se)
				return se
			}
		case protocol.MsgNoticeResponse:
			// Notices are informational; surface them at debug level.
			notice := protocol.DecodeErrorResponse(payload)
			e.logger.Debug("server notice", String("message", notice.Message), String("severity", notice.Severity))
		case protocol.MsgParameterStatus:
			key, value, err := protocol.DecodeParameterStatus(payload)
			if err != nil {
				return err
			}
			e.ch.RecordParameter(key, value)
		case protocol.MsgNotificationResponse:
			n, err := protocol.DecodeNotification(payload)
			if err != nil {
				return err
			}
			if e.onNotification != nil {
				e.onNotification(n)
			}
		default:
			if serverErr != nil {
				// After an error the server discards the rest of the
				// pipeline; skip its partial output.
				continue
			}
			if err := handle(t, payload); err != nil {
				return err
			}
		}
	}
}

// watchCancel arms a watcher for the caller giving up on an in-flight
// statement. On ctx expiry it sends a CancelRequest on the out-of-band
// channel so the server aborts the statement, then lets the response drain
// through ReadyForQuery on the returned context, which is only force-failed
// if the server does not answer within the drain window.
func (e *executor) watchCancel(ctx context.Context) (context.Context, func()) {
	if ctx.Done() == nil {
		return ctx, func() {}
	}

	recvCtx, force := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cctx, done := context.WithTimeout(context.Background(), cancelRequestTimeout)
			if err := e.ch.Cancel(cctx); err != nil {
				e.logger.Warn("cancel request failed", Error("error", err))
			}
			done()
			select {
			case <-time.After(cancelDrainTimeout):
				force()
			case <-stopped:
			}
		case <-stopped:
		}
	}()
	return recvCtx, func() {
		close(stopped)
		force()
	}
}

func columnsFromFields(fields []protocol.FieldDescription) []Column {
	columns := make([]Column, len(fields))
	for i, f := range fields {
		columns[i] = Column{Name: f.Name, TypeOID: f.DataType}
	}
	return columns
}
