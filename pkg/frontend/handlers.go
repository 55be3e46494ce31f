// Package frontend implements the per-connection state machine of a
// PostgreSQL-compatible server: startup negotiation and TLS upgrade,
// authentication, the simple- and extended-query protocols, the COPY
// sub-protocol, cancellation and termination. Query execution is delegated
// to the Handlers the embedder supplies.
package frontend

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/justjake/pgfront/pkg/params"
	"github.com/justjake/pgfront/pkg/pgwire"
)

// ClientInfo exposes connection facts to handlers.
type ClientInfo interface {
	// PID is the process ID reported in BackendKeyData.
	PID() uint32
	// User is the startup "user" parameter.
	User() string
	// Database is the startup "database" parameter, defaulted to User.
	Database() string
	// StartupParameter returns any startup parameter by name.
	StartupParameter(name string) string
	// IsSecure reports whether the connection is TLS-wrapped.
	IsSecure() bool
	// TxStatus is the current transaction indicator.
	TxStatus() pgwire.TxStatus
}

// AuthSource supplies credentials for startup authentication.
type AuthSource interface {
	// Lookup returns the secret for a user. Return ErrUnknownUser for
	// unknown users; the session converts it to a FATAL 28000
	// "role ... does not exist" error.
	Lookup(ctx context.Context, user, database string) (UserSecret, error)
}

// ServerParameterProvider returns the ParameterStatus pairs to emit after a
// successful authentication. Returned values overlay params.BaseParameterStatuses.
type ServerParameterProvider interface {
	ServerParameters(ctx context.Context, client ClientInfo) params.ParameterStatuses
}

// QueryParser turns SQL into an opaque parsed statement. The parameter type
// hints come from Parse; zero or missing entries mean "infer".
type QueryParser interface {
	ParseQuery(ctx context.Context, sql string, typeHints []uint32) (ParsedQuery, error)
}

// ParsedQuery is the parser's output stored on a prepared statement.
type ParsedQuery struct {
	// Statement is opaque to this library and handed back on execution.
	Statement any
	// ParameterOIDs lists the inferred parameter types, one per placeholder.
	ParameterOIDs []uint32
}

// SimpleQueryHandler executes a simple-protocol query string, which may
// contain multiple statements. Responses are emitted in order.
type SimpleQueryHandler interface {
	HandleSimpleQuery(ctx context.Context, client ClientInfo, sql string) ([]Response, error)
}

// StatementDescription is the reply to Describe on a prepared statement.
type StatementDescription struct {
	ParameterOIDs []uint32
	// Fields is nil when the statement returns no row set (NoData).
	Fields []FieldInfo
}

// ExtendedQueryHandler executes bound portals.
type ExtendedQueryHandler interface {
	// DoQuery executes a bound portal and returns a single response.
	DoQuery(ctx context.Context, client ClientInfo, portal *Portal) (Response, error)

	// DescribeStatement reports a statement's parameter types and row shape.
	DescribeStatement(ctx context.Context, client ClientInfo, stmt *StoredStatement) (StatementDescription, error)

	// DescribePortal reports a portal's row shape; nil means NoData.
	DescribePortal(ctx context.Context, client ClientInfo, portal *Portal) ([]FieldInfo, error)
}

// FlushHook and SyncHook are optional extensions of ExtendedQueryHandler.
type FlushHook interface {
	OnFlush(ctx context.Context, client ClientInfo) error
}

type SyncHook interface {
	OnSync(ctx context.Context, client ClientInfo) error
}

// CopyMetadata describes an initiated COPY.
type CopyMetadata struct {
	// OverallFormat is 0 for text, 1 for binary.
	OverallFormat byte
	// ColumnFormats has one format code per copied column.
	ColumnFormats []int16
}

// CopySink receives copy-in chunks pushed by the client.
type CopySink interface {
	// Write consumes one CopyData payload.
	Write(ctx context.Context, data []byte) error
	// Close finishes the copy. ok is false when the client sent CopyFail or
	// the connection failed; the sink should discard partial state then.
	// On success it returns the number of rows copied for the command tag.
	Close(ctx context.Context, ok bool) (rows int64, err error)
}

// CopySource produces copy-out chunks pulled by the connection, giving the
// stream natural backpressure.
type CopySource interface {
	// Next returns the next CopyData payload, or io.EOF when exhausted.
	Next(ctx context.Context) ([]byte, error)
	// Rows is the row count for the trailing CommandComplete tag.
	Rows() int64
	Close()
}

// CopyHandler implements the COPY sub-protocol.
type CopyHandler interface {
	OnCopyIn(ctx context.Context, client ClientInfo, meta CopyMetadata) (CopySink, error)
	OnCopyOut(ctx context.Context, client ClientInfo, sql string) (CopyMetadata, CopySource, error)
}

// ErrorHandler may rewrite errors before they reach the wire, e.g. to mask
// internal detail or adjust SQLSTATEs.
type ErrorHandler interface {
	OnError(client ClientInfo, err *pgwire.Err) *pgwire.Err
}

// Handlers bundles everything a server needs. AuthSource, QueryParser,
// SimpleQuery and ExtendedQuery are required unless the matching protocol
// path is unused; the rest are optional.
type Handlers struct {
	AuthSource       AuthSource
	ServerParameters ServerParameterProvider
	QueryParser      QueryParser
	SimpleQuery      SimpleQueryHandler
	ExtendedQuery    ExtendedQueryHandler
	Copy             CopyHandler
	Error            ErrorHandler
}

// FieldInfo describes one result column, mirroring RowDescription.
type FieldInfo struct {
	Name         string
	TableOID     uint32
	ColumnAttr   uint16
	DataTypeOID  uint32
	DataTypeSize int16
	TypeModifier int32
	Format       int16
}

// TextColumn is a FieldInfo shortcut for a text-format column of the given OID.
func TextColumn(name string, oid uint32) FieldInfo {
	size := int16(-1)
	switch oid {
	case pgtype.BoolOID:
		size = 1
	case pgtype.Int2OID:
		size = 2
	case pgtype.Int4OID, pgtype.Float4OID:
		size = 4
	case pgtype.Int8OID, pgtype.Float8OID:
		size = 8
	}
	return FieldInfo{Name: name, DataTypeOID: oid, DataTypeSize: size, TypeModifier: -1}
}

// RowSource is a pull-based stream of result rows. Each row is a slice of
// wire-format values (nil = SQL NULL), one per described field.
type RowSource interface {
	// Next returns the next row or io.EOF when the result is exhausted.
	Next() ([][]byte, error)
	Close()
}

// rowSlice adapts a materialized row set to RowSource.
type rowSlice struct {
	rows [][][]byte
	pos  int
}

func (r *rowSlice) Next() ([][]byte, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

func (r *rowSlice) Close() {}

// SliceRows wraps pre-computed rows in a RowSource.
func SliceRows(rows [][][]byte) RowSource {
	return &rowSlice{rows: rows}
}
