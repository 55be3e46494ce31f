package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgerrcode"

	"github.com/justjake/pgfront/pkg/pgwire"
)

// queryCanceler hands the cancel registry a stable function that aborts
// whatever handler call is in flight. The registry callback runs on the
// cancel connection's goroutine, so the slot is mutex-guarded.
type queryCanceler struct {
	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

func newQueryCanceler() *queryCanceler {
	return &queryCanceler{}
}

func (q *queryCanceler) fire() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel(queryCancelErr)
	}
}

func (q *queryCanceler) install(cancel context.CancelCauseFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancel = cancel
}

func (q *queryCanceler) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancel = nil
}

// queryContext builds the context for one handler invocation: bounded by the
// query timeout and abortable by a matching CancelRequest.
func (s *Session) queryContext() (context.Context, func()) {
	ctx := s.ctx
	stopTimeout := func() {}
	if qt := s.service.opts.QueryTimeout; qt > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt)
		stopTimeout = cancel
	}
	qctx, cancelCause := context.WithCancelCause(ctx)
	s.queryCancel.install(cancelCause)
	cleanup := func() {
		s.queryCancel.clear()
		cancelCause(nil)
		stopTimeout()
	}
	return qctx, cleanup
}

// handlerErr converts a handler failure into the wire error, mapping
// cancellation and timeout to SQLSTATE 57014.
func (s *Session) handlerErr(qctx context.Context, err error) *pgwire.Err {
	if cause := context.Cause(qctx); cause != nil {
		if errors.Is(cause, queryCancelErr) {
			return pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.QueryCanceled,
				"canceling statement due to user request", err)
		}
		if errors.Is(cause, context.DeadlineExceeded) {
			return pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.QueryCanceled,
				"canceling statement due to statement timeout", err)
		}
	}
	return pgwire.AsErr(err)
}

// recoverToErr converts a handler panic into a fatal XX000 error value.
func recoverToErr(r any) *pgwire.Err {
	return pgwire.NewErr(pgwire.ErrorFatal, pgerrcode.InternalError,
		fmt.Sprintf("handler panicked: %v", r), nil)
}

// errHandlerFatal terminates the session after a fatal error was reported.
var errHandlerFatal = errors.New("fatal handler error")

// reportExtendedErr sends a handler failure on the extended-query path.
// Recoverable errors enter skip-until-Sync; fatal ones (handler panics)
// terminate the session.
func (s *Session) reportExtendedErr(qctx context.Context, err error) error {
	pgErr := s.handlerErr(qctx, err)
	if pgErr.Severity == string(pgwire.ErrorFatal) {
		s.sendError(pgErr)
		return errHandlerFatal
	}
	s.extendedError(pgErr)
	return nil
}

// runSimpleQuery processes one Query message: it hands the full SQL string to
// the simple-query handler and streams the per-statement responses back.
// Every path ends with ReadyForQuery.
func (s *Session) runSimpleQuery(sql string) error {
	start := time.Now()
	qctx, cleanup := s.queryContext()

	err := func() (err error) {
		defer cleanup()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("simple query handler panicked", "panic", r)
				s.sendError(recoverToErr(r))
				err = errHandlerFatal
			}
		}()

		if s.service.handlers.SimpleQuery == nil {
			s.sendError(pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.FeatureNotSupported,
				"simple query protocol not supported", nil))
			return nil
		}

		responses, err := s.service.handlers.SimpleQuery.HandleSimpleQuery(qctx, s, sql)
		if err != nil {
			s.sendError(s.handlerErr(qctx, err))
			return nil
		}

		for _, response := range responses {
			done, err := s.sendSimpleResponse(qctx, response)
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
		return nil
	}()

	s.service.metrics.RecordQuery(s.databaseName, s.userName, "simple", time.Since(start).Seconds(), err == nil)
	if err != nil {
		return err
	}
	return s.sendReadyForQuery()
}

// sendSimpleResponse emits one statement's response. done reports that the
// rest of the batch must be skipped (an error response).
func (s *Session) sendSimpleResponse(qctx context.Context, response Response) (done bool, err error) {
	switch response := response.(type) {
	case *QueryResponse:
		if err := s.sendRowSet(response, 0, nil); err != nil {
			return false, err
		}
		return false, nil

	case *ExecutionResponse:
		return false, s.writer.Send(&pgwire.CommandComplete{CommandTag: []byte(response.Tag)})

	case *EmptyResponse:
		return false, s.writer.Send(&pgwire.EmptyQueryResponse{})

	case *ErrorResponse:
		s.sendError(response.Err)
		return true, nil

	case *TransactionStart:
		s.txStatus = pgwire.TxInTransaction
		return false, s.writer.Send(&pgwire.CommandComplete{CommandTag: []byte(response.Tag)})

	case *TransactionEnd:
		s.txStatus = pgwire.TxIdle
		return false, s.writer.Send(&pgwire.CommandComplete{CommandTag: []byte(response.Tag)})

	case *CopyInResponse:
		failed, err := s.runCopyIn(qctx, response)
		return failed, err

	case *CopyOutResponse:
		return false, s.runCopyOut(qctx, response)

	case *CopyBothResponse:
		return s.runCopyBoth(qctx, response)

	default:
		return false, fmt.Errorf("unknown response type %T", response)
	}
}

// sendRowSet streams up to maxRows DataRows and the completion message.
// maxRows zero streams everything. Used by both protocols: the simple path
// (portal nil) sends RowDescription first; the extended path passes the
// portal for suspension and sends no RowDescription, which Describe supplies.
func (s *Session) sendRowSet(response *QueryResponse, maxRows uint32, portal *Portal) error {
	if portal == nil {
		desc := rowDescription(response.Fields, portal)
		if err := s.writer.Send(desc); err != nil {
			return err
		}
	}

	var sent int64
	for {
		if maxRows > 0 && sent >= int64(maxRows) {
			// The portal stays live; the client resumes with another Execute.
			if portal != nil {
				portal.suspended = response.Rows
				portal.suspendedFields = response.Fields
			}
			return s.writer.Send(&pgwire.PortalSuspended{})
		}

		row, err := response.Rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := s.writer.Send(&pgwire.DataRow{Values: row}); err != nil {
			return err
		}
		sent++
	}

	response.Rows.Close()
	if portal != nil {
		portal.suspended = nil
		portal.suspendedFields = nil
	}

	tag := response.Tag
	if tag == "" {
		tag = SelectTag(sent)
	}
	return s.writer.Send(&pgwire.CommandComplete{CommandTag: []byte(tag)})
}

// rowDescription converts FieldInfos to the wire message, overriding the
// format codes with the portal's requested result formats when present.
func rowDescription(fields []FieldInfo, portal *Portal) *pgwire.RowDescription {
	desc := &pgwire.RowDescription{Fields: make([]pgwire.FieldDescription, len(fields))}
	for i, f := range fields {
		format := f.Format
		if portal != nil {
			format = portal.ResultFormat(i)
		}
		desc.Fields[i] = pgwire.FieldDescription{
			Name:                 f.Name,
			TableOID:             f.TableOID,
			TableAttributeNumber: f.ColumnAttr,
			DataTypeOID:          f.DataTypeOID,
			DataTypeSize:         f.DataTypeSize,
			TypeModifier:         f.TypeModifier,
			Format:               format,
		}
	}
	return desc
}

// handleExtendedMessage processes one extended-query message. In the
// skip-until-Sync substate every message except Sync is discarded without
// any reply, matching PostgreSQL's error recovery exactly.
func (s *Session) handleExtendedMessage(msg pgwire.FrontendMessage) error {
	if s.skipUntilSync {
		if _, ok := msg.(*pgwire.Sync); !ok {
			s.logger.Debug("skipping extended-query message until Sync", "type", fmt.Sprintf("%T", msg))
			return nil
		}
	}

	switch msg := msg.(type) {
	case *pgwire.Parse:
		return s.handleParse(msg)
	case *pgwire.Bind:
		return s.handleBind(msg)
	case *pgwire.Describe:
		return s.handleDescribe(msg)
	case *pgwire.Execute:
		return s.handleExecute(msg)
	case *pgwire.Close:
		return s.handleClose(msg)
	case *pgwire.Flush:
		return s.handleFlush()
	case *pgwire.Sync:
		return s.handleSync()
	default:
		return fmt.Errorf("unexpected extended-query message %T", msg)
	}
}

// extendedError reports an extended-query error and enters skip-until-Sync.
func (s *Session) extendedError(pgErr *pgwire.Err) {
	s.sendError(pgErr)
	s.skipUntilSync = true
}

func (s *Session) handleParse(msg *pgwire.Parse) error {
	if s.service.handlers.QueryParser == nil {
		s.extendedError(pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.FeatureNotSupported,
			"extended query protocol not supported", nil))
		return nil
	}

	qctx, cleanup := s.queryContext()
	defer cleanup()

	var parsed ParsedQuery
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverToErr(r)
			}
		}()
		parsed, err = s.service.handlers.QueryParser.ParseQuery(qctx, msg.Query, msg.ParameterOIDs)
		return err
	}()
	if err != nil {
		return s.reportExtendedErr(qctx, err)
	}

	oids := parsed.ParameterOIDs
	if len(oids) == 0 {
		oids = msg.ParameterOIDs
	}
	s.store.PutStatement(&StoredStatement{
		Name:          msg.Name,
		Query:         msg.Query,
		Parsed:        parsed.Statement,
		ParameterOIDs: oids,
	})
	return s.writer.Send(&pgwire.ParseComplete{})
}

func (s *Session) handleBind(msg *pgwire.Bind) error {
	stmt, pgErr := s.store.GetStatement(msg.PreparedStatement)
	if pgErr != nil {
		s.extendedError(pgErr)
		return nil
	}

	if len(msg.Parameters) != len(stmt.ParameterOIDs) {
		s.extendedError(pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.ProtocolViolation,
			fmt.Sprintf("bind message supplies %d parameters, but prepared statement %q requires %d",
				len(msg.Parameters), stmt.Name, len(stmt.ParameterOIDs)), nil))
		return nil
	}
	if n := len(msg.ParameterFormatCodes); n > 1 && n != len(msg.Parameters) {
		s.extendedError(pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.ProtocolViolation,
			fmt.Sprintf("bind message has %d parameter formats but %d parameters",
				n, len(msg.Parameters)), nil))
		return nil
	}

	s.store.PutPortal(&Portal{
		Name:             msg.DestinationPortal,
		Statement:        stmt,
		ParameterFormats: msg.ParameterFormatCodes,
		Parameters:       msg.Parameters,
		ResultFormats:    msg.ResultFormatCodes,
	})
	return s.writer.Send(&pgwire.BindComplete{})
}

func (s *Session) handleDescribe(msg *pgwire.Describe) error {
	handler := s.service.handlers.ExtendedQuery
	if handler == nil {
		s.extendedError(pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.FeatureNotSupported,
			"extended query protocol not supported", nil))
		return nil
	}

	qctx, cleanup := s.queryContext()
	defer cleanup()

	switch msg.ObjectType {
	case pgwire.ObjectTypePreparedStatement:
		stmt, pgErr := s.store.GetStatement(msg.Name)
		if pgErr != nil {
			s.extendedError(pgErr)
			return nil
		}
		desc, err := describeStatement(qctx, handler, s, stmt)
		if err != nil {
			return s.reportExtendedErr(qctx, err)
		}
		oids := desc.ParameterOIDs
		if len(oids) == 0 {
			oids = stmt.ParameterOIDs
		}
		if err := s.writer.Send(&pgwire.ParameterDescription{ParameterOIDs: oids}); err != nil {
			return err
		}
		if desc.Fields == nil {
			return s.writer.Send(&pgwire.NoData{})
		}
		return s.writer.Send(rowDescription(desc.Fields, nil))

	case pgwire.ObjectTypePortal:
		portal, pgErr := s.store.GetPortal(msg.Name)
		if pgErr != nil {
			s.extendedError(pgErr)
			return nil
		}
		fields, err := describePortal(qctx, handler, s, portal)
		if err != nil {
			return s.reportExtendedErr(qctx, err)
		}
		// Describe on a portal never replies ParameterDescription.
		if fields == nil {
			return s.writer.Send(&pgwire.NoData{})
		}
		return s.writer.Send(rowDescription(fields, portal))

	default:
		return fmt.Errorf("invalid describe target %q", msg.ObjectType)
	}
}

func describeStatement(ctx context.Context, handler ExtendedQueryHandler, client ClientInfo, stmt *StoredStatement) (desc StatementDescription, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverToErr(r)
		}
	}()
	return handler.DescribeStatement(ctx, client, stmt)
}

func describePortal(ctx context.Context, handler ExtendedQueryHandler, client ClientInfo, portal *Portal) (fields []FieldInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverToErr(r)
		}
	}()
	return handler.DescribePortal(ctx, client, portal)
}

func (s *Session) handleExecute(msg *pgwire.Execute) error {
	handler := s.service.handlers.ExtendedQuery
	if handler == nil {
		s.extendedError(pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.FeatureNotSupported,
			"extended query protocol not supported", nil))
		return nil
	}

	portal, pgErr := s.store.GetPortal(msg.Portal)
	if pgErr != nil {
		s.extendedError(pgErr)
		return nil
	}

	start := time.Now()
	qctx, cleanup := s.queryContext()
	defer cleanup()

	// A suspended portal resumes its stream without re-executing.
	if portal.suspended != nil {
		response := &QueryResponse{Fields: portal.suspendedFields, Rows: portal.suspended}
		if err := s.sendRowSet(response, msg.MaxRows, portal); err != nil {
			return err
		}
		return nil
	}

	var response Response
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverToErr(r)
			}
		}()
		response, err = handler.DoQuery(qctx, s, portal)
		return err
	}()
	s.service.metrics.RecordQuery(s.databaseName, s.userName, "extended", time.Since(start).Seconds(), err == nil)
	if err != nil {
		return s.reportExtendedErr(qctx, err)
	}

	switch response := response.(type) {
	case *QueryResponse:
		return s.sendRowSet(response, msg.MaxRows, portal)

	case *ExecutionResponse:
		return s.writer.Send(&pgwire.CommandComplete{CommandTag: []byte(response.Tag)})

	case *EmptyResponse:
		return s.writer.Send(&pgwire.EmptyQueryResponse{})

	case *ErrorResponse:
		s.extendedError(response.Err)
		return nil

	case *TransactionStart:
		s.txStatus = pgwire.TxInTransaction
		return s.writer.Send(&pgwire.CommandComplete{CommandTag: []byte(response.Tag)})

	case *TransactionEnd:
		s.txStatus = pgwire.TxIdle
		return s.writer.Send(&pgwire.CommandComplete{CommandTag: []byte(response.Tag)})

	case *CopyInResponse:
		// A copy initiated by Execute still ends with the ReadyForQuery
		// driven by the following Sync.
		failed, err := s.runCopyIn(qctx, response)
		if err != nil {
			return err
		}
		if failed {
			s.skipUntilSync = true
		}
		return nil

	case *CopyOutResponse:
		return s.runCopyOut(qctx, response)

	case *CopyBothResponse:
		failed, err := s.runCopyBoth(qctx, response)
		if err != nil {
			return err
		}
		if failed {
			s.skipUntilSync = true
		}
		return nil

	default:
		return fmt.Errorf("unknown response type %T", response)
	}
}

func (s *Session) handleClose(msg *pgwire.Close) error {
	switch msg.ObjectType {
	case pgwire.ObjectTypePreparedStatement:
		s.store.RemoveStatement(msg.Name)
	case pgwire.ObjectTypePortal:
		s.store.RemovePortal(msg.Name)
	}
	return s.writer.Send(&pgwire.CloseComplete{})
}

func (s *Session) handleFlush() error {
	if hook, ok := s.service.handlers.ExtendedQuery.(FlushHook); ok {
		if err := hook.OnFlush(s.ctx, s); err != nil {
			return err
		}
	}
	return s.writer.Flush()
}

func (s *Session) handleSync() error {
	s.skipUntilSync = false
	// The unnamed portal does not survive a sync point unless rebound.
	s.store.RemoveUnnamedPortal()
	if hook, ok := s.service.handlers.ExtendedQuery.(SyncHook); ok {
		if err := hook.OnSync(s.ctx, s); err != nil {
			return err
		}
	}
	return s.sendReadyForQuery()
}
