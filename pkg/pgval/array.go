package pgval

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/jackc/pgio"
)

// Arrays are supported in a single dimension, which covers the common
// parameter and result shapes. Elements are encoded with the element type's
// scalar codec.

// encodeTextArray renders `{e1,e2,...}` with libpq quoting: an element is
// quoted when it is empty, spells NULL, or contains braces, commas, quotes,
// backslashes or whitespace; backslash and quote are escaped inside quotes.
func encodeTextArray(elemOID uint32, v any) ([]byte, error) {
	elems, err := asSlice(v)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, elem := range elems {
		if i > 0 {
			sb.WriteByte(',')
		}
		if elem == nil {
			sb.WriteString("NULL")
			continue
		}
		text, err := EncodeText(elemOID, elem)
		if err != nil {
			return nil, err
		}
		sb.WriteString(quoteArrayElement(string(text)))
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

func quoteArrayElement(s string) string {
	if s != "" && !strings.EqualFold(s, "NULL") && !strings.ContainsAny(s, `{},"\ `+"\t\n\r") {
		return s
	}
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('"')
	return sb.String()
}

// decodeTextArray parses a 1-D array literal into []any.
func decodeTextArray(elemOID uint32, data []byte) (any, error) {
	s := string(data)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, fmt.Errorf("pgval: invalid array literal %q", s)
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return []any{}, nil
	}

	var out []any
	pos := 0
	for {
		elemText, isNull, next, err := parseArrayElement(inner, pos)
		if err != nil {
			return nil, err
		}
		if isNull {
			out = append(out, nil)
		} else {
			v, err := DecodeText(elemOID, []byte(elemText))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		if next >= len(inner) {
			return out, nil
		}
		if inner[next] != ',' {
			return nil, fmt.Errorf("pgval: invalid array literal separator at %d", next)
		}
		pos = next + 1
	}
}

// parseArrayElement reads one element starting at pos, returning its text,
// whether it is NULL, and the index of the following separator or end.
func parseArrayElement(s string, pos int) (text string, isNull bool, next int, err error) {
	if pos < len(s) && s[pos] == '"' {
		var sb strings.Builder
		i := pos + 1
		for i < len(s) {
			switch s[i] {
			case '\\':
				if i+1 >= len(s) {
					return "", false, 0, fmt.Errorf("pgval: dangling escape in array literal")
				}
				sb.WriteByte(s[i+1])
				i += 2
			case '"':
				return sb.String(), false, i + 1, nil
			default:
				sb.WriteByte(s[i])
				i++
			}
		}
		return "", false, 0, fmt.Errorf("pgval: unterminated quoted array element")
	}

	end := pos
	for end < len(s) && s[end] != ',' {
		end++
	}
	raw := s[pos:end]
	if strings.EqualFold(raw, "NULL") {
		return "", true, end, nil
	}
	return raw, false, end, nil
}

// encodeBinaryArray renders the array send format: dimension count, null
// flag, element OID, per-dimension length and lower bound, then elements.
func encodeBinaryArray(elemOID uint32, v any) ([]byte, error) {
	elems, err := asSlice(v)
	if err != nil {
		return nil, err
	}
	hasNull := int32(0)
	for _, e := range elems {
		if e == nil {
			hasNull = 1
			break
		}
	}

	dst := pgio.AppendInt32(nil, 1) // one dimension
	dst = pgio.AppendInt32(dst, hasNull)
	dst = pgio.AppendUint32(dst, elemOID)
	dst = pgio.AppendInt32(dst, int32(len(elems)))
	dst = pgio.AppendInt32(dst, 1) // lower bound
	for _, e := range elems {
		if e == nil {
			dst = pgio.AppendInt32(dst, -1)
			continue
		}
		eb, err := EncodeBinary(elemOID, e)
		if err != nil {
			return nil, err
		}
		dst = pgio.AppendInt32(dst, int32(len(eb)))
		dst = append(dst, eb...)
	}
	return dst, nil
}

func decodeBinaryArray(elemOID uint32, data []byte) (any, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("pgval: array binary value too short")
	}
	ndim := int32(binary.BigEndian.Uint32(data[0:]))
	wireElemOID := binary.BigEndian.Uint32(data[8:])
	if wireElemOID != elemOID {
		return nil, fmt.Errorf("pgval: array element oid %d does not match %d", wireElemOID, elemOID)
	}
	switch ndim {
	case 0:
		return []any{}, nil
	case 1:
	default:
		return nil, fmt.Errorf("pgval: only one-dimensional arrays are supported, got %d", ndim)
	}
	if len(data) < 20 {
		return nil, fmt.Errorf("pgval: array binary value too short")
	}
	count := int(int32(binary.BigEndian.Uint32(data[12:])))
	if count < 0 {
		return nil, fmt.Errorf("pgval: negative array length")
	}

	out := make([]any, 0, count)
	pos := 20
	for range count {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("pgval: array binary value truncated")
		}
		elen := int(int32(binary.BigEndian.Uint32(data[pos:])))
		pos += 4
		if elen == -1 {
			out = append(out, nil)
			continue
		}
		if elen < 0 || pos+elen > len(data) {
			return nil, fmt.Errorf("pgval: array binary value truncated")
		}
		v, err := DecodeBinary(elemOID, data[pos:pos+elen])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		pos += elen
	}
	return out, nil
}

func asSlice(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	case []int64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	case []int32:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	default:
		return nil, conversionErr(v, "array")
	}
}
