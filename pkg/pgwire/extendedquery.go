package pgwire

import (
	"github.com/jackc/pgio"
)

// Parse creates a prepared statement. An empty Name targets the unnamed
// statement slot. ParameterOIDs may be shorter than the statement's actual
// parameter count; zero entries ask the server to infer the type.
type Parse struct {
	Name          string
	Query         string
	ParameterOIDs []uint32
}

func (*Parse) Frontend() {}

func (dst *Parse) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.Name = r.cstring()
	dst.Query = r.cstring()
	n := int(r.int16())
	if n < 0 {
		return invalidMessageFormatErr("Parse")
	}
	dst.ParameterOIDs = make([]uint32, 0, n)
	for range n {
		dst.ParameterOIDs = append(dst.ParameterOIDs, r.uint32())
	}
	return r.finish("Parse")
}

func (src *Parse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgClientParse)
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	dst = append(dst, src.Query...)
	dst = append(dst, 0)
	dst = pgio.AppendInt16(dst, int16(len(src.ParameterOIDs)))
	for _, oid := range src.ParameterOIDs {
		dst = pgio.AppendUint32(dst, oid)
	}
	return finishMessage(dst, sp)
}

// Bind creates a portal from a prepared statement plus parameter values.
// A nil entry in Parameters is SQL NULL (wire length -1).
type Bind struct {
	DestinationPortal    string
	PreparedStatement    string
	ParameterFormatCodes []int16
	Parameters           [][]byte
	ResultFormatCodes    []int16
}

func (*Bind) Frontend() {}

func (dst *Bind) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.DestinationPortal = r.cstring()
	dst.PreparedStatement = r.cstring()

	nFormats := int(r.int16())
	if nFormats < 0 {
		return invalidMessageFormatErr("Bind")
	}
	dst.ParameterFormatCodes = make([]int16, 0, nFormats)
	for range nFormats {
		dst.ParameterFormatCodes = append(dst.ParameterFormatCodes, r.int16())
	}

	nParams := int(r.int16())
	if nParams < 0 {
		return invalidMessageFormatErr("Bind")
	}
	dst.Parameters = make([][]byte, 0, nParams)
	for range nParams {
		n := int(r.int32())
		if n == -1 {
			dst.Parameters = append(dst.Parameters, nil)
			continue
		}
		dst.Parameters = append(dst.Parameters, r.bytes(n))
	}

	nResults := int(r.int16())
	if nResults < 0 {
		return invalidMessageFormatErr("Bind")
	}
	dst.ResultFormatCodes = make([]int16, 0, nResults)
	for range nResults {
		dst.ResultFormatCodes = append(dst.ResultFormatCodes, r.int16())
	}
	return r.finish("Bind")
}

func (src *Bind) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgClientBind)
	dst = append(dst, src.DestinationPortal...)
	dst = append(dst, 0)
	dst = append(dst, src.PreparedStatement...)
	dst = append(dst, 0)
	dst = pgio.AppendInt16(dst, int16(len(src.ParameterFormatCodes)))
	for _, f := range src.ParameterFormatCodes {
		dst = pgio.AppendInt16(dst, f)
	}
	dst = pgio.AppendInt16(dst, int16(len(src.Parameters)))
	for _, p := range src.Parameters {
		if p == nil {
			dst = pgio.AppendInt32(dst, -1)
			continue
		}
		dst = pgio.AppendInt32(dst, int32(len(p)))
		dst = append(dst, p...)
	}
	dst = pgio.AppendInt16(dst, int16(len(src.ResultFormatCodes)))
	for _, f := range src.ResultFormatCodes {
		dst = pgio.AppendInt16(dst, f)
	}
	return finishMessage(dst, sp)
}

// Describe asks for a description of a prepared statement ('S') or portal ('P').
type Describe struct {
	ObjectType byte
	Name       string
}

func (*Describe) Frontend() {}

func (dst *Describe) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.ObjectType = r.byte()
	dst.Name = r.cstring()
	if err := r.finish("Describe"); err != nil {
		return err
	}
	if dst.ObjectType != ObjectTypePreparedStatement && dst.ObjectType != ObjectTypePortal {
		return invalidMessageFormatErr("Describe")
	}
	return nil
}

func (src *Describe) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgClientDescribe)
	dst = append(dst, src.ObjectType)
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}

// Execute runs a portal. MaxRows zero means "all rows".
type Execute struct {
	Portal  string
	MaxRows uint32
}

func (*Execute) Frontend() {}

func (dst *Execute) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.Portal = r.cstring()
	dst.MaxRows = r.uint32()
	return r.finish("Execute")
}

func (src *Execute) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgClientExecute)
	dst = append(dst, src.Portal...)
	dst = append(dst, 0)
	dst = pgio.AppendUint32(dst, src.MaxRows)
	return finishMessage(dst, sp)
}

// Close destroys a prepared statement ('S') or portal ('P').
type Close struct {
	ObjectType byte
	Name       string
}

func (*Close) Frontend() {}

func (dst *Close) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.ObjectType = r.byte()
	dst.Name = r.cstring()
	if err := r.finish("Close"); err != nil {
		return err
	}
	if dst.ObjectType != ObjectTypePreparedStatement && dst.ObjectType != ObjectTypePortal {
		return invalidMessageFormatErr("Close")
	}
	return nil
}

func (src *Close) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgClientClose)
	dst = append(dst, src.ObjectType)
	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}

// Sync ends an extended-query batch and requests ReadyForQuery.
type Sync struct{}

func (*Sync) Frontend() {}

func (dst *Sync) Decode(data []byte) error {
	return decodeEmptyBody("Sync", data)
}

func (src *Sync) Encode(dst []byte) ([]byte, error) {
	return encodeEmptyBody(dst, MsgClientSync)
}

// Flush asks the server to deliver pending output without ending the batch.
type Flush struct{}

func (*Flush) Frontend() {}

func (dst *Flush) Decode(data []byte) error {
	return decodeEmptyBody("Flush", data)
}

func (src *Flush) Encode(dst []byte) ([]byte, error) {
	return encodeEmptyBody(dst, MsgClientFlush)
}

// ParseComplete acknowledges a Parse.
type ParseComplete struct{}

func (*ParseComplete) Backend() {}

func (dst *ParseComplete) Decode(data []byte) error {
	return decodeEmptyBody("ParseComplete", data)
}

func (src *ParseComplete) Encode(dst []byte) ([]byte, error) {
	return encodeEmptyBody(dst, MsgServerParseComplete)
}

// BindComplete acknowledges a Bind.
type BindComplete struct{}

func (*BindComplete) Backend() {}

func (dst *BindComplete) Decode(data []byte) error {
	return decodeEmptyBody("BindComplete", data)
}

func (src *BindComplete) Encode(dst []byte) ([]byte, error) {
	return encodeEmptyBody(dst, MsgServerBindComplete)
}

// CloseComplete acknowledges a Close.
type CloseComplete struct{}

func (*CloseComplete) Backend() {}

func (dst *CloseComplete) Decode(data []byte) error {
	return decodeEmptyBody("CloseComplete", data)
}

func (src *CloseComplete) Encode(dst []byte) ([]byte, error) {
	return encodeEmptyBody(dst, MsgServerCloseComplete)
}

// PortalSuspended reports that Execute stopped at its row limit with rows
// remaining in the portal.
type PortalSuspended struct{}

func (*PortalSuspended) Backend() {}

func (dst *PortalSuspended) Decode(data []byte) error {
	return decodeEmptyBody("PortalSuspended", data)
}

func (src *PortalSuspended) Encode(dst []byte) ([]byte, error) {
	return encodeEmptyBody(dst, MsgServerPortalSuspended)
}

// ParameterDescription lists the type OIDs of a statement's parameters.
type ParameterDescription struct {
	ParameterOIDs []uint32
}

func (*ParameterDescription) Backend() {}

func (dst *ParameterDescription) Decode(data []byte) error {
	r := newFieldReader(data)
	n := int(r.int16())
	if n < 0 {
		return invalidMessageFormatErr("ParameterDescription")
	}
	dst.ParameterOIDs = make([]uint32, 0, n)
	for range n {
		dst.ParameterOIDs = append(dst.ParameterOIDs, r.uint32())
	}
	return r.finish("ParameterDescription")
}

func (src *ParameterDescription) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerParameterDescription)
	dst = pgio.AppendInt16(dst, int16(len(src.ParameterOIDs)))
	for _, oid := range src.ParameterOIDs {
		dst = pgio.AppendUint32(dst, oid)
	}
	return finishMessage(dst, sp)
}

// NoData reports that a described statement or portal returns no row set.
type NoData struct{}

func (*NoData) Backend() {}

func (dst *NoData) Decode(data []byte) error {
	return decodeEmptyBody("NoData", data)
}

func (src *NoData) Encode(dst []byte) ([]byte, error) {
	return encodeEmptyBody(dst, MsgServerNoData)
}

func decodeEmptyBody(messageType string, data []byte) error {
	if len(data) != 0 {
		return invalidMessageLenErr(messageType, 0, len(data))
	}
	return nil
}

func encodeEmptyBody(dst []byte, t MsgType) ([]byte, error) {
	dst, sp := beginMessage(dst, t)
	return finishMessage(dst, sp)
}
