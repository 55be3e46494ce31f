package pgwire

import (
	"github.com/jackc/pgio"
)

// FieldDescription describes one column of a result set.
type FieldDescription struct {
	Name                 string
	TableOID             uint32
	TableAttributeNumber uint16
	DataTypeOID          uint32
	DataTypeSize         int16
	TypeModifier         int32
	Format               int16
}

// RowDescription describes the columns of the rows that follow.
type RowDescription struct {
	Fields []FieldDescription
}

func (*RowDescription) Backend() {}

func (dst *RowDescription) Decode(data []byte) error {
	r := newFieldReader(data)
	n := int(r.int16())
	if n < 0 {
		return invalidMessageFormatErr("RowDescription")
	}
	dst.Fields = make([]FieldDescription, 0, n)
	for range n {
		var fd FieldDescription
		fd.Name = r.cstring()
		fd.TableOID = r.uint32()
		fd.TableAttributeNumber = uint16(r.int16())
		fd.DataTypeOID = r.uint32()
		fd.DataTypeSize = r.int16()
		fd.TypeModifier = r.int32()
		fd.Format = r.int16()
		dst.Fields = append(dst.Fields, fd)
	}
	return r.finish("RowDescription")
}

func (src *RowDescription) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerRowDescription)
	dst = pgio.AppendInt16(dst, int16(len(src.Fields)))
	for _, fd := range src.Fields {
		dst = append(dst, fd.Name...)
		dst = append(dst, 0)
		dst = pgio.AppendUint32(dst, fd.TableOID)
		dst = pgio.AppendUint16(dst, fd.TableAttributeNumber)
		dst = pgio.AppendUint32(dst, fd.DataTypeOID)
		dst = pgio.AppendInt16(dst, fd.DataTypeSize)
		dst = pgio.AppendInt32(dst, fd.TypeModifier)
		dst = pgio.AppendInt16(dst, fd.Format)
	}
	return finishMessage(dst, sp)
}

// DataRow carries one result row. A nil value is SQL NULL (wire length -1);
// an empty non-nil slice is a zero-length value.
type DataRow struct {
	Values [][]byte
}

func (*DataRow) Backend() {}

func (dst *DataRow) Decode(data []byte) error {
	r := newFieldReader(data)
	n := int(r.int16())
	if n < 0 {
		return invalidMessageFormatErr("DataRow")
	}
	dst.Values = make([][]byte, 0, n)
	for range n {
		vlen := int(r.int32())
		if vlen == -1 {
			dst.Values = append(dst.Values, nil)
			continue
		}
		v := r.bytes(vlen)
		if v == nil {
			v = []byte{}
		}
		dst.Values = append(dst.Values, v)
	}
	return r.finish("DataRow")
}

func (src *DataRow) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerDataRow)
	dst = pgio.AppendInt16(dst, int16(len(src.Values)))
	for _, v := range src.Values {
		if v == nil {
			dst = pgio.AppendInt32(dst, -1)
			continue
		}
		dst = pgio.AppendInt32(dst, int32(len(v)))
		dst = append(dst, v...)
	}
	return finishMessage(dst, sp)
}

// CommandComplete carries the command tag, e.g. "SELECT 3" or "INSERT 0 1".
type CommandComplete struct {
	CommandTag []byte
}

func (*CommandComplete) Backend() {}

func (dst *CommandComplete) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.CommandTag = []byte(r.cstring())
	return r.finish("CommandComplete")
}

func (src *CommandComplete) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerCommandComplete)
	dst = append(dst, src.CommandTag...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}

// EmptyQueryResponse replaces CommandComplete for an empty query string.
type EmptyQueryResponse struct{}

func (*EmptyQueryResponse) Backend() {}

func (dst *EmptyQueryResponse) Decode(data []byte) error {
	return decodeEmptyBody("EmptyQueryResponse", data)
}

func (src *EmptyQueryResponse) Encode(dst []byte) ([]byte, error) {
	return encodeEmptyBody(dst, MsgServerEmptyQueryResponse)
}

// ReadyForQuery signals the server is ready for a new query cycle.
// TxStatus is 'I', 'T', or 'E'.
type ReadyForQuery struct {
	TxStatus byte
}

func (*ReadyForQuery) Backend() {}

func (dst *ReadyForQuery) Decode(data []byte) error {
	if len(data) != 1 {
		return invalidMessageLenErr("ReadyForQuery", 1, len(data))
	}
	dst.TxStatus = data[0]
	return nil
}

func (src *ReadyForQuery) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerReadyForQuery)
	dst = append(dst, src.TxStatus)
	return finishMessage(dst, sp)
}

// ParameterStatus reports the current value of a server parameter.
type ParameterStatus struct {
	Name  string
	Value string
}

func (*ParameterStatus) Backend() {}

func (dst *ParameterStatus) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.Name = r.cstring()
	dst.Value = r.cstring()
	return r.finish("ParameterStatus")
}

func (src *ParameterStatus) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerParameterStatus)
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	dst = append(dst, src.Value...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}

// BackendKeyData gives the client the key it needs to issue CancelRequest.
type BackendKeyData struct {
	ProcessID uint32
	SecretKey uint32
}

func (*BackendKeyData) Backend() {}

func (dst *BackendKeyData) Decode(data []byte) error {
	if len(data) != 8 {
		return invalidMessageLenErr("BackendKeyData", 8, len(data))
	}
	r := newFieldReader(data)
	dst.ProcessID = r.uint32()
	dst.SecretKey = r.uint32()
	return r.finish("BackendKeyData")
}

func (src *BackendKeyData) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerBackendKeyData)
	dst = pgio.AppendUint32(dst, src.ProcessID)
	dst = pgio.AppendUint32(dst, src.SecretKey)
	return finishMessage(dst, sp)
}

// NotificationResponse delivers a NOTIFY payload.
type NotificationResponse struct {
	PID     uint32
	Channel string
	Payload string
}

func (*NotificationResponse) Backend() {}

func (dst *NotificationResponse) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.PID = r.uint32()
	dst.Channel = r.cstring()
	dst.Payload = r.cstring()
	return r.finish("NotificationResponse")
}

func (src *NotificationResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerNotificationResponse)
	dst = pgio.AppendUint32(dst, src.PID)
	dst = append(dst, src.Channel...)
	dst = append(dst, 0)
	dst = append(dst, src.Payload...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}

// ErrorResponse reports an error as a sequence of tagged fields terminated by
// a zero byte. Severity, Code and Message are always present.
type ErrorResponse struct {
	Severity            string
	SeverityUnlocalized string
	Code                string
	Message             string
	Detail              string
	Hint                string
	Position            int32
	InternalPosition    int32
	InternalQuery       string
	Where               string
	SchemaName          string
	TableName           string
	ColumnName          string
	DataTypeName        string
	ConstraintName      string
	File                string
	Line                int32
	Routine             string

	// UnknownFields preserves any field tags this implementation does not
	// model, so re-encoding loses nothing.
	UnknownFields map[byte]string
}

func (*ErrorResponse) Backend() {}

func (dst *ErrorResponse) Decode(data []byte) error {
	return dst.decodeFields(data, "ErrorResponse")
}

func (src *ErrorResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerErrorResponse)
	dst = src.appendFields(dst)
	return finishMessage(dst, sp)
}

// NoticeResponse has the same layout as ErrorResponse with a different type byte.
type NoticeResponse ErrorResponse

func (*NoticeResponse) Backend() {}

func (dst *NoticeResponse) Decode(data []byte) error {
	return (*ErrorResponse)(dst).decodeFields(data, "NoticeResponse")
}

func (src *NoticeResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerNoticeResponse)
	dst = (*ErrorResponse)(src).appendFields(dst)
	return finishMessage(dst, sp)
}

func (dst *ErrorResponse) decodeFields(data []byte, messageType string) error {
	*dst = ErrorResponse{}
	r := newFieldReader(data)
	for {
		tag := r.byte()
		if r.err != nil {
			return invalidMessageFormatErr(messageType)
		}
		if tag == 0 {
			break
		}
		value := r.cstring()
		if r.err != nil {
			return invalidMessageFormatErr(messageType)
		}
		switch tag {
		case 'S':
			dst.Severity = value
		case 'V':
			dst.SeverityUnlocalized = value
		case 'C':
			dst.Code = value
		case 'M':
			dst.Message = value
		case 'D':
			dst.Detail = value
		case 'H':
			dst.Hint = value
		case 'P':
			dst.Position = parseInt32Field(value)
		case 'p':
			dst.InternalPosition = parseInt32Field(value)
		case 'q':
			dst.InternalQuery = value
		case 'W':
			dst.Where = value
		case 's':
			dst.SchemaName = value
		case 't':
			dst.TableName = value
		case 'c':
			dst.ColumnName = value
		case 'd':
			dst.DataTypeName = value
		case 'n':
			dst.ConstraintName = value
		case 'F':
			dst.File = value
		case 'L':
			dst.Line = parseInt32Field(value)
		case 'R':
			dst.Routine = value
		default:
			if dst.UnknownFields == nil {
				dst.UnknownFields = make(map[byte]string)
			}
			dst.UnknownFields[tag] = value
		}
	}
	return nil
}

func (src *ErrorResponse) appendFields(dst []byte) []byte {
	appendField := func(tag byte, value string) {
		if value == "" {
			return
		}
		dst = append(dst, tag)
		dst = append(dst, value...)
		dst = append(dst, 0)
	}
	appendInt := func(tag byte, value int32) {
		if value == 0 {
			return
		}
		appendField(tag, formatInt32Field(value))
	}

	appendField('S', src.Severity)
	appendField('V', src.SeverityUnlocalized)
	appendField('C', src.Code)
	appendField('M', src.Message)
	appendField('D', src.Detail)
	appendField('H', src.Hint)
	appendInt('P', src.Position)
	appendInt('p', src.InternalPosition)
	appendField('q', src.InternalQuery)
	appendField('W', src.Where)
	appendField('s', src.SchemaName)
	appendField('t', src.TableName)
	appendField('c', src.ColumnName)
	appendField('d', src.DataTypeName)
	appendField('n', src.ConstraintName)
	appendField('F', src.File)
	appendInt('L', src.Line)
	appendField('R', src.Routine)
	for tag, value := range src.UnknownFields {
		appendField(tag, value)
	}
	dst = append(dst, 0)
	return dst
}
