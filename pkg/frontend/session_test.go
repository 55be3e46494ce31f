package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justjake/pgfront/pkg/pgwire"
)

// testEngine implements every handler interface with canned behavior for the
// protocol-flow tests.
type testEngine struct {
	copied []string
	// sleeping closes when a SLEEP query is inside the handler, so cancel
	// tests know the query is in flight.
	sleeping chan struct{}
}

func (e *testEngine) Lookup(ctx context.Context, user, database string) (UserSecret, error) {
	if user == "tom" {
		return NewUserSecret("tom", "pencil"), nil
	}
	return UserSecret{}, ErrUnknownUser
}

func (e *testEngine) ParseQuery(ctx context.Context, sql string, typeHints []uint32) (ParsedQuery, error) {
	trimmed := strings.TrimSpace(sql)
	switch {
	case strings.HasPrefix(trimmed, "SELEC "):
		return ParsedQuery{}, pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.SyntaxError,
			fmt.Sprintf("syntax error at or near %q", "SELEC"), nil)
	case strings.Contains(trimmed, "$1"):
		return ParsedQuery{Statement: trimmed, ParameterOIDs: []uint32{pgtype.Int4OID}}, nil
	default:
		return ParsedQuery{Statement: trimmed}, nil
	}
}

func (e *testEngine) HandleSimpleQuery(ctx context.Context, client ClientInfo, sql string) ([]Response, error) {
	switch strings.TrimSpace(sql) {
	case "SELECT 1":
		return []Response{&QueryResponse{
			Fields: []FieldInfo{TextColumn("?column?", pgtype.Int4OID)},
			Rows:   SliceRows([][][]byte{{[]byte("1")}}),
		}}, nil
	case "BEGIN":
		return []Response{&TransactionStart{Tag: "BEGIN"}}, nil
	case "COMMIT":
		return []Response{&TransactionEnd{Tag: "COMMIT"}}, nil
	case "BOOM":
		return []Response{&ErrorResponse{Err: pgwire.NewErr(pgwire.ErrorSeverity,
			pgerrcode.DivisionByZero, "division by zero", nil)}}, nil
	case "PANIC":
		panic("kaboom")
	case "SLEEP":
		close(e.sleeping)
		<-ctx.Done()
		return nil, ctx.Err()
	case "":
		return []Response{&EmptyResponse{}}, nil
	case "COPY t FROM STDIN":
		return []Response{&CopyInResponse{
			Metadata: CopyMetadata{OverallFormat: 0, ColumnFormats: []int16{0}},
			Tag:      "COPY",
		}}, nil
	case "COPY t TO STDOUT":
		return []Response{&CopyOutResponse{
			Metadata: CopyMetadata{OverallFormat: 0, ColumnFormats: []int16{0}},
			Source:   &staticCopySource{chunks: []string{"a\n", "b\n"}},
			Tag:      "COPY",
		}}, nil
	default:
		return []Response{&ErrorResponse{Err: pgwire.NewErr(pgwire.ErrorSeverity,
			pgerrcode.SyntaxError, "unrecognized statement", nil)}}, nil
	}
}

func (e *testEngine) DoQuery(ctx context.Context, client ClientInfo, portal *Portal) (Response, error) {
	fields := []FieldInfo{TextColumn("?column?", pgtype.Int4OID)}
	if len(portal.Parameters) == 1 {
		return &QueryResponse{
			Fields: fields,
			Rows:   SliceRows([][][]byte{{portal.Parameters[0]}}),
			Tag:    SelectTag(1),
		}, nil
	}
	if portal.Statement.Query == "SELECT series" {
		rows := make([][][]byte, 5)
		for i := range rows {
			rows[i] = [][]byte{[]byte(fmt.Sprintf("%d", i))}
		}
		return &QueryResponse{Fields: fields, Rows: SliceRows(rows)}, nil
	}
	return &QueryResponse{Fields: fields, Rows: SliceRows([][][]byte{{[]byte("1")}})}, nil
}

func (e *testEngine) DescribeStatement(ctx context.Context, client ClientInfo, stmt *StoredStatement) (StatementDescription, error) {
	return StatementDescription{
		ParameterOIDs: stmt.ParameterOIDs,
		Fields:        []FieldInfo{TextColumn("?column?", pgtype.Int4OID)},
	}, nil
}

func (e *testEngine) DescribePortal(ctx context.Context, client ClientInfo, portal *Portal) ([]FieldInfo, error) {
	return []FieldInfo{TextColumn("?column?", pgtype.Int4OID)}, nil
}

func (e *testEngine) OnCopyIn(ctx context.Context, client ClientInfo, meta CopyMetadata) (CopySink, error) {
	return &collectSink{engine: e}, nil
}

func (e *testEngine) OnCopyOut(ctx context.Context, client ClientInfo, sql string) (CopyMetadata, CopySource, error) {
	return CopyMetadata{ColumnFormats: []int16{0}}, &staticCopySource{chunks: []string{"a\n"}}, nil
}

type collectSink struct {
	engine *testEngine
	rows   int64
}

func (c *collectSink) Write(ctx context.Context, data []byte) error {
	for line := range strings.Lines(string(data)) {
		line = strings.TrimSuffix(line, "\n")
		if line != "" {
			c.engine.copied = append(c.engine.copied, line)
			c.rows++
		}
	}
	return nil
}

func (c *collectSink) Close(ctx context.Context, ok bool) (int64, error) {
	if !ok {
		c.engine.copied = nil
		return 0, nil
	}
	return c.rows, nil
}

type staticCopySource struct {
	chunks []string
	pos    int
}

func (s *staticCopySource) Next(ctx context.Context) ([]byte, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return []byte(chunk), nil
}

func (s *staticCopySource) Rows() int64 { return int64(len(s.chunks)) }
func (s *staticCopySource) Close()      {}

// testServer wires a Service over net.Pipe and returns a pgproto3 client.
type testServer struct {
	service *Service
	engine  *testEngine
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	engine := &testEngine{sleeping: make(chan struct{})}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := Handlers{
		AuthSource:    engine,
		QueryParser:   engine,
		SimpleQuery:   engine,
		ExtendedQuery: engine,
		Copy:          engine,
	}
	return &testServer{
		service: NewService(logger, opts, handlers, nil),
		engine:  engine,
	}
}

func (ts *testServer) connect(t *testing.T) *pgproto3.Frontend {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })
	go ts.service.ServeConn(context.Background(), serverConn)
	return pgproto3.NewFrontend(clientConn, clientConn)
}

func sendAll(t *testing.T, fe *pgproto3.Frontend, msgs ...pgproto3.FrontendMessage) {
	t.Helper()
	for _, msg := range msgs {
		fe.Send(msg)
	}
	require.NoError(t, fe.Flush())
}

func receive[T pgproto3.BackendMessage](t *testing.T, fe *pgproto3.Frontend) T {
	t.Helper()
	msg, err := fe.Receive()
	require.NoError(t, err)
	typed, ok := msg.(T)
	require.True(t, ok, "expected %T, got %#v", *new(T), msg)
	return typed
}

// startupTrust performs a trust-auth startup and returns the backend key.
func startupTrust(t *testing.T, fe *pgproto3.Frontend) *pgproto3.BackendKeyData {
	t.Helper()
	sendAll(t, fe, &pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "tom", "database": "x"},
	})

	receive[*pgproto3.AuthenticationOk](t, fe)

	var keyData *pgproto3.BackendKeyData
	for {
		msg, err := fe.Receive()
		require.NoError(t, err)
		switch msg := msg.(type) {
		case *pgproto3.ParameterStatus:
		case *pgproto3.BackendKeyData:
			copied := *msg
			keyData = &copied
		case *pgproto3.ReadyForQuery:
			assert.Equal(t, byte('I'), msg.TxStatus)
			require.NotNil(t, keyData, "BackendKeyData must precede ReadyForQuery")
			return keyData
		default:
			t.Fatalf("unexpected startup message %#v", msg)
		}
	}
}

func trustOptions() Options {
	return Options{
		AuthMethodFor: func(user, database string) AuthMethod { return AuthMethodTrust },
	}
}

func TestSessionTrustStartupAndSimpleQuery(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe, &pgproto3.Query{String: "SELECT 1"})

	rowDesc := receive[*pgproto3.RowDescription](t, fe)
	require.Len(t, rowDesc.Fields, 1)
	assert.Equal(t, []byte("?column?"), rowDesc.Fields[0].Name)
	assert.Equal(t, uint32(pgtype.Int4OID), rowDesc.Fields[0].DataTypeOID)

	row := receive[*pgproto3.DataRow](t, fe)
	assert.Equal(t, [][]byte{[]byte("1")}, row.Values)

	complete := receive[*pgproto3.CommandComplete](t, fe)
	assert.Equal(t, []byte("SELECT 1"), complete.CommandTag)

	ready := receive[*pgproto3.ReadyForQuery](t, fe)
	assert.Equal(t, byte('I'), ready.TxStatus)
}

func TestSessionParameterStatusSet(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	sendAll(t, fe, &pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "tom", "application_name": "psql"},
	})
	receive[*pgproto3.AuthenticationOk](t, fe)

	statuses := map[string]string{}
	for {
		msg, err := fe.Receive()
		require.NoError(t, err)
		if ps, ok := msg.(*pgproto3.ParameterStatus); ok {
			statuses[ps.Name] = ps.Value
			continue
		}
		if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
			break
		}
	}

	assert.Equal(t, "on", statuses["integer_datetimes"])
	assert.Equal(t, "UTF8", statuses["server_encoding"])
	assert.Equal(t, "psql", statuses["application_name"])
	assert.NotEmpty(t, statuses["server_version"])
	assert.NotEmpty(t, statuses["TimeZone"])
}

func TestSessionCleartextAuth(t *testing.T) {
	ts := newTestServer(t, Options{
		AuthMethodFor: func(user, database string) AuthMethod { return AuthMethodCleartext },
	})
	fe := ts.connect(t)
	sendAll(t, fe, &pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "tom"},
	})

	receive[*pgproto3.AuthenticationCleartextPassword](t, fe)
	sendAll(t, fe, &pgproto3.PasswordMessage{Password: "pencil"})
	receive[*pgproto3.AuthenticationOk](t, fe)
}

func TestSessionCleartextAuthBadPassword(t *testing.T) {
	ts := newTestServer(t, Options{
		AuthMethodFor: func(user, database string) AuthMethod { return AuthMethodCleartext },
	})
	fe := ts.connect(t)
	sendAll(t, fe, &pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "tom"},
	})
	receive[*pgproto3.AuthenticationCleartextPassword](t, fe)
	sendAll(t, fe, &pgproto3.PasswordMessage{Password: "crayon"})

	errResp := receive[*pgproto3.ErrorResponse](t, fe)
	assert.Equal(t, "FATAL", errResp.Severity)
	assert.Equal(t, pgerrcode.InvalidPassword, errResp.Code)
}

func TestSessionMD5Auth(t *testing.T) {
	ts := newTestServer(t, Options{
		AuthMethodFor: func(user, database string) AuthMethod { return AuthMethodMD5 },
	})
	fe := ts.connect(t)
	sendAll(t, fe, &pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "tom"},
	})

	md5Req := receive[*pgproto3.AuthenticationMD5Password](t, fe)
	sendAll(t, fe, &pgproto3.PasswordMessage{
		Password: md5Response("tom", "pencil", md5Req.Salt),
	})
	receive[*pgproto3.AuthenticationOk](t, fe)
}

func TestSessionUnknownUser(t *testing.T) {
	ts := newTestServer(t, Options{
		AuthMethodFor: func(user, database string) AuthMethod { return AuthMethodCleartext },
	})
	fe := ts.connect(t)
	sendAll(t, fe, &pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "mallory"},
	})

	errResp := receive[*pgproto3.ErrorResponse](t, fe)
	assert.Equal(t, pgerrcode.InvalidAuthorizationSpecification, errResp.Code)
}

func TestSessionExtendedQueryHappyPath(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe,
		&pgproto3.Parse{Name: "s1", Query: "SELECT $1::int", ParameterOIDs: []uint32{pgtype.Int4OID}},
		&pgproto3.Bind{DestinationPortal: "p1", PreparedStatement: "s1", Parameters: [][]byte{[]byte("42")}},
		&pgproto3.Describe{ObjectType: 'P', Name: "p1"},
		&pgproto3.Execute{Portal: "p1"},
		&pgproto3.Sync{},
	)

	receive[*pgproto3.ParseComplete](t, fe)
	receive[*pgproto3.BindComplete](t, fe)
	receive[*pgproto3.RowDescription](t, fe)
	row := receive[*pgproto3.DataRow](t, fe)
	assert.Equal(t, [][]byte{[]byte("42")}, row.Values)
	complete := receive[*pgproto3.CommandComplete](t, fe)
	assert.Equal(t, []byte("SELECT 1"), complete.CommandTag)
	ready := receive[*pgproto3.ReadyForQuery](t, fe)
	assert.Equal(t, byte('I'), ready.TxStatus)
}

func TestSessionDescribeStatement(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe,
		&pgproto3.Parse{Name: "s1", Query: "SELECT $1::int"},
		&pgproto3.Describe{ObjectType: 'S', Name: "s1"},
		&pgproto3.Sync{},
	)

	receive[*pgproto3.ParseComplete](t, fe)
	paramDesc := receive[*pgproto3.ParameterDescription](t, fe)
	assert.Equal(t, []uint32{pgtype.Int4OID}, paramDesc.ParameterOIDs)
	receive[*pgproto3.RowDescription](t, fe)
	receive[*pgproto3.ReadyForQuery](t, fe)
}

// TestSessionExtendedQueryErrorRecovery exercises skip-until-Sync: after a
// parse error, the server must stay silent until Sync.
func TestSessionExtendedQueryErrorRecovery(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe,
		&pgproto3.Parse{Name: "bad", Query: "SELEC 1"},
		&pgproto3.Bind{DestinationPortal: "p", PreparedStatement: "bad"},
		&pgproto3.Execute{Portal: "p"},
		&pgproto3.Sync{},
	)

	errResp := receive[*pgproto3.ErrorResponse](t, fe)
	assert.Equal(t, pgerrcode.SyntaxError, errResp.Code)

	// The very next message must be the Sync-triggered ReadyForQuery: no
	// BindComplete, no second ErrorResponse.
	ready := receive[*pgproto3.ReadyForQuery](t, fe)
	assert.Equal(t, byte('I'), ready.TxStatus)

	// The connection is usable again.
	sendAll(t, fe, &pgproto3.Query{String: "SELECT 1"})
	receive[*pgproto3.RowDescription](t, fe)
	receive[*pgproto3.DataRow](t, fe)
	receive[*pgproto3.CommandComplete](t, fe)
	receive[*pgproto3.ReadyForQuery](t, fe)
}

func TestSessionBindParameterCountMismatch(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe,
		&pgproto3.Parse{Name: "s1", Query: "SELECT $1::int"},
		&pgproto3.Bind{DestinationPortal: "p1", PreparedStatement: "s1"},
		&pgproto3.Sync{},
	)

	receive[*pgproto3.ParseComplete](t, fe)
	errResp := receive[*pgproto3.ErrorResponse](t, fe)
	assert.Equal(t, pgerrcode.ProtocolViolation, errResp.Code)
	receive[*pgproto3.ReadyForQuery](t, fe)
}

func TestSessionPortalSuspended(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	// Flush forces the replies out without ending the batch.
	sendAll(t, fe,
		&pgproto3.Parse{Name: "s", Query: "SELECT series"},
		&pgproto3.Bind{DestinationPortal: "p", PreparedStatement: "s"},
		&pgproto3.Describe{ObjectType: 'P', Name: "p"},
		&pgproto3.Execute{Portal: "p", MaxRows: 2},
		&pgproto3.Flush{},
	)
	receive[*pgproto3.ParseComplete](t, fe)
	receive[*pgproto3.BindComplete](t, fe)
	receive[*pgproto3.RowDescription](t, fe)
	receive[*pgproto3.DataRow](t, fe)
	receive[*pgproto3.DataRow](t, fe)
	receive[*pgproto3.PortalSuspended](t, fe)

	// Resume the suspended portal; 3 rows remain.
	sendAll(t, fe, &pgproto3.Execute{Portal: "p", MaxRows: 2}, &pgproto3.Flush{})
	receive[*pgproto3.DataRow](t, fe)
	receive[*pgproto3.DataRow](t, fe)
	receive[*pgproto3.PortalSuspended](t, fe)

	sendAll(t, fe, &pgproto3.Execute{Portal: "p", MaxRows: 0}, &pgproto3.Sync{})
	receive[*pgproto3.DataRow](t, fe)
	complete := receive[*pgproto3.CommandComplete](t, fe)
	assert.Equal(t, []byte("SELECT 1"), complete.CommandTag)
	receive[*pgproto3.ReadyForQuery](t, fe)
}

func TestSessionClosePortalAndStatement(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe,
		&pgproto3.Parse{Name: "s", Query: "SELECT 1"},
		&pgproto3.Bind{DestinationPortal: "p", PreparedStatement: "s"},
		&pgproto3.Close{ObjectType: 'P', Name: "p"},
		&pgproto3.Close{ObjectType: 'S', Name: "s"},
		&pgproto3.Execute{Portal: "p"},
		&pgproto3.Sync{},
	)

	receive[*pgproto3.ParseComplete](t, fe)
	receive[*pgproto3.BindComplete](t, fe)
	receive[*pgproto3.CloseComplete](t, fe)
	receive[*pgproto3.CloseComplete](t, fe)
	errResp := receive[*pgproto3.ErrorResponse](t, fe)
	assert.Equal(t, pgerrcode.InvalidCursorName, errResp.Code)
	receive[*pgproto3.ReadyForQuery](t, fe)
}

func TestSessionTransactionStatus(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe, &pgproto3.Query{String: "BEGIN"})
	receive[*pgproto3.CommandComplete](t, fe)
	ready := receive[*pgproto3.ReadyForQuery](t, fe)
	assert.Equal(t, byte('T'), ready.TxStatus)

	// An error inside the transaction fails it.
	sendAll(t, fe, &pgproto3.Query{String: "BOOM"})
	receive[*pgproto3.ErrorResponse](t, fe)
	ready = receive[*pgproto3.ReadyForQuery](t, fe)
	assert.Equal(t, byte('E'), ready.TxStatus)

	sendAll(t, fe, &pgproto3.Query{String: "COMMIT"})
	receive[*pgproto3.CommandComplete](t, fe)
	ready = receive[*pgproto3.ReadyForQuery](t, fe)
	assert.Equal(t, byte('I'), ready.TxStatus)
}

func TestSessionHandlerPanicBecomesInternalError(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe, &pgproto3.Query{String: "PANIC"})
	errResp := receive[*pgproto3.ErrorResponse](t, fe)
	assert.Equal(t, "FATAL", errResp.Severity)
	assert.Equal(t, pgerrcode.InternalError, errResp.Code)
	assert.Contains(t, errResp.Message, "kaboom")

	// A panic is fatal: the server closes without ReadyForQuery.
	_, err := fe.Receive()
	assert.Error(t, err)
}

func TestSessionEmptyQuery(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe, &pgproto3.Query{String: ""})
	receive[*pgproto3.EmptyQueryResponse](t, fe)
	receive[*pgproto3.ReadyForQuery](t, fe)
}

func TestSessionCopyIn(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe, &pgproto3.Query{String: "COPY t FROM STDIN"})
	receive[*pgproto3.CopyInResponse](t, fe)

	sendAll(t, fe,
		&pgproto3.CopyData{Data: []byte("one\n")},
		&pgproto3.CopyData{Data: []byte("two\n")},
		&pgproto3.CopyDone{},
	)

	complete := receive[*pgproto3.CommandComplete](t, fe)
	assert.Equal(t, []byte("COPY 2"), complete.CommandTag)
	receive[*pgproto3.ReadyForQuery](t, fe)
	assert.Equal(t, []string{"one", "two"}, ts.engine.copied)
}

func TestSessionCopyInFail(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe, &pgproto3.Query{String: "COPY t FROM STDIN"})
	receive[*pgproto3.CopyInResponse](t, fe)

	sendAll(t, fe,
		&pgproto3.CopyData{Data: []byte("one\n")},
		&pgproto3.CopyFail{Message: "client aborted"},
	)

	errResp := receive[*pgproto3.ErrorResponse](t, fe)
	assert.Equal(t, pgerrcode.QueryCanceled, errResp.Code)
	assert.Contains(t, errResp.Message, "client aborted")
	receive[*pgproto3.ReadyForQuery](t, fe)
	assert.Empty(t, ts.engine.copied)
}

func TestSessionCopyOut(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe, &pgproto3.Query{String: "COPY t TO STDOUT"})
	receive[*pgproto3.CopyOutResponse](t, fe)
	chunk := receive[*pgproto3.CopyData](t, fe)
	assert.Equal(t, []byte("a\n"), chunk.Data)
	chunk = receive[*pgproto3.CopyData](t, fe)
	assert.Equal(t, []byte("b\n"), chunk.Data)
	receive[*pgproto3.CopyDone](t, fe)
	complete := receive[*pgproto3.CommandComplete](t, fe)
	assert.Equal(t, []byte("COPY 2"), complete.CommandTag)
	receive[*pgproto3.ReadyForQuery](t, fe)
}

func TestSessionCancelRequest(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	keyData := startupTrust(t, fe)

	// Start a query that blocks until canceled.
	sendAll(t, fe, &pgproto3.Query{String: "SLEEP"})
	<-ts.engine.sleeping

	// A second connection delivers the cancel key.
	canceler := ts.connect(t)
	sendAll(t, canceler, &pgproto3.CancelRequest{
		ProcessID: keyData.ProcessID,
		SecretKey: keyData.SecretKey,
	})

	errResp := receive[*pgproto3.ErrorResponse](t, fe)
	assert.Equal(t, pgerrcode.QueryCanceled, errResp.Code)
	assert.Contains(t, errResp.Message, "user request")
	receive[*pgproto3.ReadyForQuery](t, fe)
}

func TestSessionCancelRequestUnknownKey(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	keyData := startupTrust(t, fe)

	// Park a query so a matching cancel would be observable.
	sendAll(t, fe, &pgproto3.Query{String: "SLEEP"})
	<-ts.engine.sleeping

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })
	done := make(chan struct{})
	go func() {
		ts.service.ServeConn(context.Background(), serverConn)
		close(done)
	}()

	wire, err := (&pgwire.CancelRequest{ProcessID: keyData.ProcessID, SecretKey: 0}).Encode(nil)
	require.NoError(t, err)
	_, err = clientConn.Write(wire)
	require.NoError(t, err)

	// No reply: the connection just closes.
	buf := make([]byte, 1)
	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = clientConn.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	<-done

	// The original session is untouched and still responsive after a real
	// cancel arrives.
	canceler := ts.connect(t)
	sendAll(t, canceler, &pgproto3.CancelRequest{
		ProcessID: keyData.ProcessID,
		SecretKey: keyData.SecretKey,
	})
	receive[*pgproto3.ErrorResponse](t, fe)
	receive[*pgproto3.ReadyForQuery](t, fe)
}

func TestSessionTerminate(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)
	startupTrust(t, fe)

	sendAll(t, fe, &pgproto3.Terminate{})

	_, err := fe.Receive()
	assert.Error(t, err, "server must close without replying to Terminate")
}

func TestSessionSSLRequestDeclinedWithoutTLS(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })
	go ts.service.ServeConn(context.Background(), serverConn)

	wire, err := (&pgwire.SSLRequest{}).Encode(nil)
	require.NoError(t, err)
	_, err = clientConn.Write(wire)
	require.NoError(t, err)

	answer := make([]byte, 1)
	_, err = io.ReadFull(clientConn, answer)
	require.NoError(t, err)
	assert.Equal(t, byte('N'), answer[0])

	// Startup continues in plaintext on the same connection.
	fe := pgproto3.NewFrontend(clientConn, clientConn)
	startupTrust(t, fe)
}

func TestSessionRequireTLSRejectsPlaintext(t *testing.T) {
	opts := trustOptions()
	opts.RequireTLS = true
	ts := newTestServer(t, opts)
	fe := ts.connect(t)

	sendAll(t, fe, &pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "tom"},
	})

	errResp := receive[*pgproto3.ErrorResponse](t, fe)
	assert.Equal(t, "FATAL", errResp.Severity)
	assert.Equal(t, pgerrcode.ProtocolViolation, errResp.Code)
}

func TestSessionMissingUser(t *testing.T) {
	ts := newTestServer(t, trustOptions())
	fe := ts.connect(t)

	sendAll(t, fe, &pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"database": "x"},
	})

	errResp := receive[*pgproto3.ErrorResponse](t, fe)
	assert.Equal(t, pgerrcode.InvalidAuthorizationSpecification, errResp.Code)
}

func TestSessionStartupTimeout(t *testing.T) {
	opts := trustOptions()
	opts.StartupTimeout = 50 * time.Millisecond
	ts := newTestServer(t, opts)

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })
	done := make(chan struct{})
	go func() {
		ts.service.ServeConn(context.Background(), serverConn)
		close(done)
	}()

	// Send nothing; the server must give up on its own.
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not time out waiting for startup")
	}

	buf := make([]byte, 1)
	_, err := clientConn.Read(buf)
	assert.True(t, errors.Is(err, io.EOF) || err != nil)
}
