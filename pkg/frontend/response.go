package frontend

import (
	"fmt"

	"github.com/justjake/pgfront/pkg/pgwire"
)

// Response is one element of a handler's reply stream. The concrete types
// are QueryResponse, ExecutionResponse, EmptyResponse, ErrorResponse,
// TransactionStart, TransactionEnd, CopyInResponse, CopyOutResponse and
// CopyBothResponse.
type Response interface {
	isResponse()
}

// Tag is a CommandComplete tag such as "SELECT 3" or "INSERT 0 1".
type Tag string

// SelectTag formats the tag for a SELECT returning rows rows.
func SelectTag(rows int64) Tag {
	return Tag(fmt.Sprintf("SELECT %d", rows))
}

// InsertTag formats the INSERT tag; the protocol fixes the OID part at 0.
func InsertTag(rows int64) Tag {
	return Tag(fmt.Sprintf("INSERT 0 %d", rows))
}

// CommandTag formats "<COMMAND> <rows>" tags (UPDATE, DELETE, MOVE, FETCH, COPY).
func CommandTag(command string, rows int64) Tag {
	return Tag(fmt.Sprintf("%s %d", command, rows))
}

// QueryResponse streams a row set: RowDescription, DataRows, CommandComplete.
type QueryResponse struct {
	Fields []FieldInfo
	Rows   RowSource
	// Tag defaults to "SELECT <count>" when empty.
	Tag Tag
}

func (*QueryResponse) isResponse() {}

// ExecutionResponse reports a row-less command: CommandComplete only.
type ExecutionResponse struct {
	Tag Tag
}

func (*ExecutionResponse) isResponse() {}

// EmptyResponse answers an empty query string with EmptyQueryResponse.
type EmptyResponse struct{}

func (*EmptyResponse) isResponse() {}

// ErrorResponse reports a statement error. In a simple-query batch the
// remaining statements are not processed.
type ErrorResponse struct {
	Err *pgwire.Err
}

func (*ErrorResponse) isResponse() {}

// TransactionStart reports that the statement opened a transaction block.
// It updates the status stamped on subsequent ReadyForQuery messages and
// emits CommandComplete with the given tag (normally "BEGIN").
type TransactionStart struct {
	Tag Tag
}

func (*TransactionStart) isResponse() {}

// TransactionEnd reports that the statement closed a transaction block
// ("COMMIT", "ROLLBACK").
type TransactionEnd struct {
	Tag Tag
}

func (*TransactionEnd) isResponse() {}

// CopyInResponse switches the connection into copy-in mode.
type CopyInResponse struct {
	Metadata CopyMetadata
	// Tag names the command for CommandComplete, normally "COPY".
	Tag string
}

func (*CopyInResponse) isResponse() {}

// CopyOutResponse switches the connection into copy-out mode and streams
// Source to the client.
type CopyOutResponse struct {
	Metadata CopyMetadata
	Source   CopySource
	Tag      string
}

func (*CopyOutResponse) isResponse() {}

// CopyBothResponse switches the connection into copy-both mode. The source
// is streamed to the client first, then incoming CopyData is pushed to the
// sink until the client finishes. Streaming replication, the usual user of
// this mode, is not implemented; this covers protocol-level compatibility.
type CopyBothResponse struct {
	Metadata CopyMetadata
	Source   CopySource
	Sink     CopySink
	Tag      string
}

func (*CopyBothResponse) isResponse() {}
