package pgval

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// EncodeText renders v in the text format for the given OID.
func EncodeText(oid uint32, v any) ([]byte, error) {
	if elem, ok := elementOID[oid]; ok {
		return encodeTextArray(elem, v)
	}
	switch oid {
	case pgtype.BoolOID:
		b, err := asBool(v)
		if err != nil {
			return nil, err
		}
		if b {
			return []byte("t"), nil
		}
		return []byte("f"), nil

	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, n, 10), nil

	case pgtype.Float4OID:
		f, err := asFloat64(v)
		if err != nil {
			return nil, err
		}
		return appendFloatText(nil, f, 32), nil

	case pgtype.Float8OID:
		f, err := asFloat64(v)
		if err != nil {
			return nil, err
		}
		return appendFloatText(nil, f, 64), nil

	case pgtype.NumericOID:
		s, err := asNumericString(v)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil

	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.JSONOID, pgtype.JSONBOID:
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil

	case pgtype.ByteaOID:
		b, err := asBytes(v)
		if err != nil {
			return nil, err
		}
		dst := make([]byte, 2+hex.EncodedLen(len(b)))
		dst[0], dst[1] = '\\', 'x'
		hex.Encode(dst[2:], b)
		return dst, nil

	case pgtype.DateOID:
		t, err := asTime(v)
		if err != nil {
			return nil, err
		}
		return []byte(t.Format("2006-01-02")), nil

	case pgtype.TimeOID:
		t, err := asTime(v)
		if err != nil {
			return nil, err
		}
		return appendTimeOfDayText(nil, t), nil

	case pgtype.TimestampOID:
		t, err := asTime(v)
		if err != nil {
			return nil, err
		}
		return appendTimestampText(nil, t, false), nil

	case pgtype.TimestamptzOID:
		t, err := asTime(v)
		if err != nil {
			return nil, err
		}
		return appendTimestampText(nil, t.UTC(), true), nil

	case pgtype.UUIDOID:
		return encodeUUIDText(v)

	default:
		return nil, unsupportedOIDErr(oid)
	}
}

// DecodeText parses the text format for the given OID into a canonical Go
// value: bool, int16/int32/int64, float32/float64, string, []byte,
// time.Time, or []any for arrays.
func DecodeText(oid uint32, data []byte) (any, error) {
	if elem, ok := elementOID[oid]; ok {
		return decodeTextArray(elem, data)
	}
	s := string(data)
	switch oid {
	case pgtype.BoolOID:
		switch s {
		case "t", "true":
			return true, nil
		case "f", "false":
			return false, nil
		}
		return nil, fmt.Errorf("pgval: invalid bool text %q", s)

	case pgtype.Int2OID:
		n, err := strconv.ParseInt(s, 10, 16)
		return int16(n), err

	case pgtype.Int4OID:
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err

	case pgtype.Int8OID:
		return strconv.ParseInt(s, 10, 64)

	case pgtype.Float4OID:
		f, err := parseFloatText(s, 32)
		return float32(f), err

	case pgtype.Float8OID:
		return parseFloatText(s, 64)

	case pgtype.NumericOID:
		if err := validateNumericText(s); err != nil {
			return nil, err
		}
		return s, nil

	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.JSONOID, pgtype.JSONBOID:
		return s, nil

	case pgtype.ByteaOID:
		if len(s) < 2 || s[0] != '\\' || s[1] != 'x' {
			return nil, fmt.Errorf("pgval: bytea text must be \\x-prefixed hex")
		}
		return hex.DecodeString(s[2:])

	case pgtype.DateOID:
		return time.ParseInLocation("2006-01-02", s, time.UTC)

	case pgtype.TimeOID:
		return parseTimeOfDayText(s)

	case pgtype.TimestampOID:
		return parseTimestampText(s, false)

	case pgtype.TimestamptzOID:
		return parseTimestampText(s, true)

	case pgtype.UUIDOID:
		return decodeUUIDText(s)

	default:
		return nil, unsupportedOIDErr(oid)
	}
}

// appendFloatText matches libpq's shortest-round-trip float output, with
// Infinity/-Infinity/NaN spelled the PostgreSQL way.
func appendFloatText(dst []byte, f float64, bits int) []byte {
	switch {
	case math.IsInf(f, 1):
		return append(dst, "Infinity"...)
	case math.IsInf(f, -1):
		return append(dst, "-Infinity"...)
	case math.IsNaN(f):
		return append(dst, "NaN"...)
	}
	return strconv.AppendFloat(dst, f, 'g', -1, bits)
}

func parseFloatText(s string, bits int) (float64, error) {
	switch s {
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	case "NaN":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, bits)
}
