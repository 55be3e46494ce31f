package pgwire

import (
	"strconv"

	"github.com/jackc/pgio"
)

// CopyData carries a chunk of COPY payload in either direction.
type CopyData struct {
	Data []byte
}

func (*CopyData) Frontend() {}
func (*CopyData) Backend()  {}

func (dst *CopyData) Decode(data []byte) error {
	dst.Data = data
	return nil
}

func (src *CopyData) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgServerCopyData)
	dst = append(dst, src.Data...)
	return finishMessage(dst, sp)
}

// CopyDone ends a COPY data stream successfully.
type CopyDone struct{}

func (*CopyDone) Frontend() {}
func (*CopyDone) Backend()  {}

func (dst *CopyDone) Decode(data []byte) error {
	return decodeEmptyBody("CopyDone", data)
}

func (src *CopyDone) Encode(dst []byte) ([]byte, error) {
	return encodeEmptyBody(dst, MsgServerCopyDone)
}

// CopyFail aborts a COPY FROM STDIN with a client-supplied reason.
type CopyFail struct {
	Message string
}

func (*CopyFail) Frontend() {}

func (dst *CopyFail) Decode(data []byte) error {
	r := newFieldReader(data)
	dst.Message = r.cstring()
	return r.finish("CopyFail")
}

func (src *CopyFail) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, MsgClientCopyFail)
	dst = append(dst, src.Message...)
	dst = append(dst, 0)
	return finishMessage(dst, sp)
}

// CopyInResponse starts copy-in mode. OverallFormat is 0 (text) or 1 (binary);
// ColumnFormatCodes has one entry per copied column.
type CopyInResponse struct {
	OverallFormat     byte
	ColumnFormatCodes []int16
}

func (*CopyInResponse) Backend() {}

func (dst *CopyInResponse) Decode(data []byte) error {
	return decodeCopyResponse(data, "CopyInResponse", &dst.OverallFormat, &dst.ColumnFormatCodes)
}

func (src *CopyInResponse) Encode(dst []byte) ([]byte, error) {
	return encodeCopyResponse(dst, MsgServerCopyInResponse, src.OverallFormat, src.ColumnFormatCodes)
}

// CopyOutResponse starts copy-out mode.
type CopyOutResponse struct {
	OverallFormat     byte
	ColumnFormatCodes []int16
}

func (*CopyOutResponse) Backend() {}

func (dst *CopyOutResponse) Decode(data []byte) error {
	return decodeCopyResponse(data, "CopyOutResponse", &dst.OverallFormat, &dst.ColumnFormatCodes)
}

func (src *CopyOutResponse) Encode(dst []byte) ([]byte, error) {
	return encodeCopyResponse(dst, MsgServerCopyOutResponse, src.OverallFormat, src.ColumnFormatCodes)
}

// CopyBothResponse starts copy-both mode (used by streaming replication).
type CopyBothResponse struct {
	OverallFormat     byte
	ColumnFormatCodes []int16
}

func (*CopyBothResponse) Backend() {}

func (dst *CopyBothResponse) Decode(data []byte) error {
	return decodeCopyResponse(data, "CopyBothResponse", &dst.OverallFormat, &dst.ColumnFormatCodes)
}

func (src *CopyBothResponse) Encode(dst []byte) ([]byte, error) {
	return encodeCopyResponse(dst, MsgServerCopyBothResponse, src.OverallFormat, src.ColumnFormatCodes)
}

func decodeCopyResponse(data []byte, messageType string, format *byte, formatCodes *[]int16) error {
	r := newFieldReader(data)
	*format = r.byte()
	n := int(r.int16())
	if n < 0 {
		return invalidMessageFormatErr(messageType)
	}
	*formatCodes = make([]int16, 0, n)
	for range n {
		*formatCodes = append(*formatCodes, r.int16())
	}
	return r.finish(messageType)
}

func encodeCopyResponse(dst []byte, t MsgType, format byte, formatCodes []int16) ([]byte, error) {
	dst, sp := beginMessage(dst, t)
	dst = append(dst, format)
	dst = pgio.AppendInt16(dst, int16(len(formatCodes)))
	for _, fc := range formatCodes {
		dst = pgio.AppendInt16(dst, fc)
	}
	return finishMessage(dst, sp)
}

func parseInt32Field(s string) int32 {
	n, _ := strconv.ParseInt(s, 10, 32)
	return int32(n)
}

func formatInt32Field(n int32) string {
	return strconv.FormatInt(int64(n), 10)
}
