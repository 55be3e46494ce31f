package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/justjake/pgfront/pkg/frontend"
	"github.com/justjake/pgfront/pkg/pgval"
	"github.com/justjake/pgfront/pkg/pgwire"
)

// memEngine is a deliberately small data engine: one key/value table plus a
// handful of recognized statements. It implements every handler interface so
// the demo exercises the whole protocol surface.
type memEngine struct {
	mu    sync.RWMutex
	kv    map[string]string
	users map[string]string
}

func newMemEngine(users map[string]string) *memEngine {
	return &memEngine{
		kv:    make(map[string]string),
		users: users,
	}
}

// --- frontend.AuthSource ---

func (e *memEngine) Lookup(ctx context.Context, user, database string) (frontend.UserSecret, error) {
	password, ok := e.users[user]
	if !ok {
		return frontend.UserSecret{}, frontend.ErrUnknownUser
	}
	return frontend.NewUserSecret(user, password), nil
}

// --- frontend.QueryParser ---

// memStatement is the parsed form this engine stores on prepared statements.
type memStatement struct {
	kind string // "select1", "get", "set", "list", "empty"
}

var (
	selectOneRe = regexp.MustCompile(`(?i)^select\s+1$`)
	getRe       = regexp.MustCompile(`(?i)^select\s+value\s+from\s+kv\s+where\s+key\s*=\s*\$1$`)
	setRe       = regexp.MustCompile(`(?i)^insert\s+into\s+kv\s+values\s*\(\s*\$1\s*,\s*\$2\s*\)$`)
	listRe      = regexp.MustCompile(`(?i)^select\s+key\s*,\s*value\s+from\s+kv$`)
)

func (e *memEngine) ParseQuery(ctx context.Context, sql string, typeHints []uint32) (frontend.ParsedQuery, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(sql), ";")
	switch {
	case trimmed == "":
		return frontend.ParsedQuery{Statement: &memStatement{kind: "empty"}}, nil
	case selectOneRe.MatchString(trimmed):
		return frontend.ParsedQuery{Statement: &memStatement{kind: "select1"}}, nil
	case getRe.MatchString(trimmed):
		return frontend.ParsedQuery{
			Statement:     &memStatement{kind: "get"},
			ParameterOIDs: []uint32{pgtype.TextOID},
		}, nil
	case setRe.MatchString(trimmed):
		return frontend.ParsedQuery{
			Statement:     &memStatement{kind: "set"},
			ParameterOIDs: []uint32{pgtype.TextOID, pgtype.TextOID},
		}, nil
	case listRe.MatchString(trimmed):
		return frontend.ParsedQuery{Statement: &memStatement{kind: "list"}}, nil
	default:
		return frontend.ParsedQuery{}, pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.SyntaxError,
			fmt.Sprintf("unrecognized statement: %s", trimmed), nil)
	}
}

// --- frontend.SimpleQueryHandler ---

func (e *memEngine) HandleSimpleQuery(ctx context.Context, client frontend.ClientInfo, sql string) ([]frontend.Response, error) {
	var responses []frontend.Response
	for _, stmt := range strings.Split(sql, ";") {
		stmt = strings.TrimSpace(stmt)
		switch {
		case stmt == "":
			if len(responses) == 0 {
				responses = append(responses, &frontend.EmptyResponse{})
			}
		case strings.EqualFold(stmt, "begin"):
			responses = append(responses, &frontend.TransactionStart{Tag: "BEGIN"})
		case strings.EqualFold(stmt, "commit"):
			responses = append(responses, &frontend.TransactionEnd{Tag: "COMMIT"})
		case strings.EqualFold(stmt, "rollback"):
			responses = append(responses, &frontend.TransactionEnd{Tag: "ROLLBACK"})
		case strings.HasPrefix(strings.ToLower(stmt), "copy kv from stdin"):
			responses = append(responses, &frontend.CopyInResponse{
				Metadata: frontend.CopyMetadata{OverallFormat: 0, ColumnFormats: []int16{0, 0}},
				Tag:      "COPY",
			})
		case strings.HasPrefix(strings.ToLower(stmt), "copy kv to stdout"):
			responses = append(responses, &frontend.CopyOutResponse{
				Metadata: frontend.CopyMetadata{OverallFormat: 0, ColumnFormats: []int16{0, 0}},
				Source:   e.newCopySource(),
				Tag:      "COPY",
			})
		default:
			parsed, err := e.ParseQuery(ctx, stmt, nil)
			if err != nil {
				responses = append(responses, &frontend.ErrorResponse{Err: pgwire.AsErr(err)})
				return responses, nil
			}
			response, err := e.execute(ctx, parsed.Statement.(*memStatement), nil)
			if err != nil {
				responses = append(responses, &frontend.ErrorResponse{Err: pgwire.AsErr(err)})
				return responses, nil
			}
			responses = append(responses, response)
		}
	}
	return responses, nil
}

// --- frontend.ExtendedQueryHandler ---

func (e *memEngine) DoQuery(ctx context.Context, client frontend.ClientInfo, portal *frontend.Portal) (frontend.Response, error) {
	stmt, ok := portal.Statement.Parsed.(*memStatement)
	if !ok {
		return nil, fmt.Errorf("portal holds unknown statement type %T", portal.Statement.Parsed)
	}

	args := make([]string, len(portal.Parameters))
	for i, raw := range portal.Parameters {
		if raw == nil {
			continue
		}
		v, err := pgval.Decode(portal.Statement.ParameterOIDs[i], portal.ParameterFormat(i), raw)
		if err != nil {
			return nil, pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.InvalidTextRepresentation,
				fmt.Sprintf("parameter $%d: %v", i+1, err), err)
		}
		args[i], _ = v.(string)
	}

	return e.execute(ctx, stmt, args)
}

func (e *memEngine) DescribeStatement(ctx context.Context, client frontend.ClientInfo, stmt *frontend.StoredStatement) (frontend.StatementDescription, error) {
	mem, ok := stmt.Parsed.(*memStatement)
	if !ok {
		return frontend.StatementDescription{}, fmt.Errorf("unknown statement type %T", stmt.Parsed)
	}
	return frontend.StatementDescription{
		ParameterOIDs: stmt.ParameterOIDs,
		Fields:        e.fieldsFor(mem),
	}, nil
}

func (e *memEngine) DescribePortal(ctx context.Context, client frontend.ClientInfo, portal *frontend.Portal) ([]frontend.FieldInfo, error) {
	mem, ok := portal.Statement.Parsed.(*memStatement)
	if !ok {
		return nil, fmt.Errorf("unknown statement type %T", portal.Statement.Parsed)
	}
	return e.fieldsFor(mem), nil
}

func (e *memEngine) fieldsFor(stmt *memStatement) []frontend.FieldInfo {
	switch stmt.kind {
	case "select1":
		return []frontend.FieldInfo{frontend.TextColumn("?column?", pgtype.Int4OID)}
	case "get":
		return []frontend.FieldInfo{frontend.TextColumn("value", pgtype.TextOID)}
	case "list":
		return []frontend.FieldInfo{
			frontend.TextColumn("key", pgtype.TextOID),
			frontend.TextColumn("value", pgtype.TextOID),
		}
	default:
		return nil
	}
}

func (e *memEngine) execute(ctx context.Context, stmt *memStatement, args []string) (frontend.Response, error) {
	switch stmt.kind {
	case "empty":
		return &frontend.EmptyResponse{}, nil

	case "select1":
		one, err := pgval.EncodeText(pgtype.Int4OID, int32(1))
		if err != nil {
			return nil, err
		}
		return &frontend.QueryResponse{
			Fields: e.fieldsFor(stmt),
			Rows:   frontend.SliceRows([][][]byte{{one}}),
		}, nil

	case "get":
		if len(args) != 1 {
			return nil, fmt.Errorf("get requires 1 parameter")
		}
		e.mu.RLock()
		value, ok := e.kv[args[0]]
		e.mu.RUnlock()
		var rows [][][]byte
		if ok {
			rows = [][][]byte{{[]byte(value)}}
		}
		return &frontend.QueryResponse{
			Fields: e.fieldsFor(stmt),
			Rows:   frontend.SliceRows(rows),
		}, nil

	case "set":
		if len(args) != 2 {
			return nil, fmt.Errorf("set requires 2 parameters")
		}
		e.mu.Lock()
		e.kv[args[0]] = args[1]
		e.mu.Unlock()
		return &frontend.ExecutionResponse{Tag: frontend.InsertTag(1)}, nil

	case "list":
		e.mu.RLock()
		keys := make([]string, 0, len(e.kv))
		for k := range e.kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rows := make([][][]byte, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, [][]byte{[]byte(k), []byte(e.kv[k])})
		}
		e.mu.RUnlock()
		return &frontend.QueryResponse{
			Fields: e.fieldsFor(stmt),
			Rows:   frontend.SliceRows(rows),
		}, nil

	default:
		return nil, fmt.Errorf("unknown statement kind %q", stmt.kind)
	}
}

// --- frontend.CopyHandler ---

// copySink parses tab-separated copy-in rows into the table.
type copySink struct {
	engine *memEngine
	buf    bytes.Buffer
	rows   int64
}

func (e *memEngine) OnCopyIn(ctx context.Context, client frontend.ClientInfo, meta frontend.CopyMetadata) (frontend.CopySink, error) {
	return &copySink{engine: e}, nil
}

func (c *copySink) Write(ctx context.Context, data []byte) error {
	c.buf.Write(data)
	for {
		line, err := c.buf.ReadString('\n')
		if err != nil {
			// Partial line; keep it for the next chunk.
			c.buf.WriteString(line)
			return nil
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" || line == `\.` {
			continue
		}
		key, value, ok := strings.Cut(line, "\t")
		if !ok {
			return fmt.Errorf("malformed copy row %q", line)
		}
		c.engine.mu.Lock()
		c.engine.kv[key] = value
		c.engine.mu.Unlock()
		c.rows++
	}
}

func (c *copySink) Close(ctx context.Context, ok bool) (int64, error) {
	if !ok {
		return 0, nil
	}
	return c.rows, nil
}

func (e *memEngine) OnCopyOut(ctx context.Context, client frontend.ClientInfo, sql string) (frontend.CopyMetadata, frontend.CopySource, error) {
	return frontend.CopyMetadata{OverallFormat: 0, ColumnFormats: []int16{0, 0}},
		e.newCopySource(), nil
}

// copySource emits the table as one tab-separated line per chunk.
type copySource struct {
	lines []string
	pos   int
}

func (e *memEngine) newCopySource() frontend.CopySource {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.kv))
	for k := range e.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"\t"+e.kv[k]+"\n")
	}
	return &copySource{lines: lines}
}

func (c *copySource) Next(ctx context.Context) ([]byte, error) {
	if c.pos >= len(c.lines) {
		return nil, io.EOF
	}
	line := c.lines[c.pos]
	c.pos++
	return []byte(line), nil
}

func (c *copySource) Rows() int64 {
	return int64(len(c.lines))
}

func (c *copySource) Close() {}
