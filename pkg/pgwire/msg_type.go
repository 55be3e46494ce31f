package pgwire

// MsgType represents a PostgreSQL wire protocol message type byte.
type MsgType byte

// MsgLookup is a lookup table from MsgType to T.
// It uses [256]T so that indexing by a byte is always in-bounds, allowing
// the compiler to eliminate bounds checks entirely. The unused entries cost
// only a few KB total across all tables.
type MsgLookup[T any] [256]T

// Get returns the value for the given message type.
func (t *MsgLookup[T]) Get(m MsgType) T {
	return t[m]
}

// Client (frontend) message types
const (
	MsgClientBind      MsgType = 'B'
	MsgClientClose     MsgType = 'C'
	MsgClientCopyData  MsgType = 'd'
	MsgClientCopyDone  MsgType = 'c'
	MsgClientCopyFail  MsgType = 'f'
	MsgClientDescribe  MsgType = 'D'
	MsgClientExecute   MsgType = 'E'
	MsgClientFlush     MsgType = 'H'
	MsgClientFunc      MsgType = 'F'
	MsgClientParse     MsgType = 'P'
	MsgClientPassword  MsgType = 'p' // Also SASL responses
	MsgClientQuery     MsgType = 'Q'
	MsgClientSync      MsgType = 'S'
	MsgClientTerminate MsgType = 'X'
)

// Server (backend) message types
const (
	MsgServerAuth                     MsgType = 'R'
	MsgServerBackendKeyData           MsgType = 'K'
	MsgServerBindComplete             MsgType = '2'
	MsgServerCloseComplete            MsgType = '3'
	MsgServerCommandComplete          MsgType = 'C'
	MsgServerCopyBothResponse         MsgType = 'W'
	MsgServerCopyData                 MsgType = 'd'
	MsgServerCopyDone                 MsgType = 'c'
	MsgServerCopyInResponse           MsgType = 'G'
	MsgServerCopyOutResponse          MsgType = 'H'
	MsgServerDataRow                  MsgType = 'D'
	MsgServerEmptyQueryResponse       MsgType = 'I'
	MsgServerErrorResponse            MsgType = 'E'
	MsgServerNegotiateProtocolVersion MsgType = 'v'
	MsgServerNoData                   MsgType = 'n'
	MsgServerNoticeResponse           MsgType = 'N'
	MsgServerNotificationResponse     MsgType = 'A'
	MsgServerParameterDescription     MsgType = 't'
	MsgServerParameterStatus          MsgType = 'S'
	MsgServerParseComplete            MsgType = '1'
	MsgServerPortalSuspended          MsgType = 's'
	MsgServerReadyForQuery            MsgType = 'Z'
	MsgServerRowDescription           MsgType = 'T'
)

// Authentication message subtypes, carried in the first int32 of an 'R' body.
const (
	authTypeOk                = 0
	authTypeCleartextPassword = 3
	authTypeMD5Password       = 5
	authTypeGSS               = 7
	authTypeGSSContinue       = 8
	authTypeSASL              = 10
	authTypeSASLContinue      = 11
	authTypeSASLFinal         = 12
)

// MsgIsClient indicates whether a message type can be sent by the client (frontend).
var MsgIsClient = MsgLookup[bool]{
	'B': true, // Bind
	'C': true, // Close
	'c': true, // CopyDone
	'd': true, // CopyData
	'D': true, // Describe
	'E': true, // Execute
	'f': true, // CopyFail
	'F': true, // FunctionCall
	'H': true, // Flush
	'P': true, // Parse
	'p': true, // PasswordMessage / SASL
	'Q': true, // Query
	'S': true, // Sync
	'X': true, // Terminate
}

// MsgName returns a human-readable name for the message type.
var MsgName = MsgLookup[string]{
	// Client messages
	'B': "Bind",
	'f': "CopyFail",
	'F': "FunctionCall",
	'P': "Parse",
	'p': "PasswordMessage",
	'Q': "Query",
	'X': "Terminate",

	// Shared type bytes; which meaning applies depends on direction.
	'C': "Close/CommandComplete",
	'c': "CopyDone",
	'd': "CopyData",
	'D': "Describe/DataRow",
	'E': "Execute/ErrorResponse",
	'H': "Flush/CopyOutResponse",
	'S': "Sync/ParameterStatus",

	// Server-only messages
	'1': "ParseComplete",
	'2': "BindComplete",
	'3': "CloseComplete",
	'A': "NotificationResponse",
	'G': "CopyInResponse",
	'I': "EmptyQueryResponse",
	'K': "BackendKeyData",
	'n': "NoData",
	'N': "NoticeResponse",
	'R': "Authentication",
	's': "PortalSuspended",
	't': "ParameterDescription",
	'T': "RowDescription",
	'v': "NegotiateProtocolVersion",
	'W': "CopyBothResponse",
	'Z': "ReadyForQuery",
}

// Close/Describe target bytes.
const (
	ObjectTypePreparedStatement byte = 'S'
	ObjectTypePortal            byte = 'P'
)

// Format codes for parameter and result values.
const (
	TextFormat   int16 = 0
	BinaryFormat int16 = 1
)
