package pgval

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgio"
	"github.com/jackc/pgx/v5/pgtype"
)

// EncodeBinary renders v in the binary (send/recv) format for the given OID.
func EncodeBinary(oid uint32, v any) ([]byte, error) {
	if elem, ok := elementOID[oid]; ok {
		return encodeBinaryArray(elem, v)
	}
	switch oid {
	case pgtype.BoolOID:
		b, err := asBool(v)
		if err != nil {
			return nil, err
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case pgtype.Int2OID:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, fmt.Errorf("pgval: %d out of int2 range", n)
		}
		return pgio.AppendInt16(nil, int16(n)), nil

	case pgtype.Int4OID:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("pgval: %d out of int4 range", n)
		}
		return pgio.AppendInt32(nil, int32(n)), nil

	case pgtype.Int8OID:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		return pgio.AppendInt64(nil, n), nil

	case pgtype.Float4OID:
		f, err := asFloat64(v)
		if err != nil {
			return nil, err
		}
		return pgio.AppendUint32(nil, math.Float32bits(float32(f))), nil

	case pgtype.Float8OID:
		f, err := asFloat64(v)
		if err != nil {
			return nil, err
		}
		return pgio.AppendUint64(nil, math.Float64bits(f)), nil

	case pgtype.NumericOID:
		s, err := asNumericString(v)
		if err != nil {
			return nil, err
		}
		return encodeNumericBinary(s)

	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.JSONOID:
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil

	case pgtype.JSONBOID:
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		// jsonb binary format is a version byte followed by the json text.
		dst := make([]byte, 0, len(s)+1)
		dst = append(dst, 1)
		return append(dst, s...), nil

	case pgtype.ByteaOID:
		return asBytes(v)

	case pgtype.DateOID:
		t, err := asTime(v)
		if err != nil {
			return nil, err
		}
		return pgio.AppendInt32(nil, daysSincePostgresEpoch(t)), nil

	case pgtype.TimeOID:
		t, err := asTime(v)
		if err != nil {
			return nil, err
		}
		return pgio.AppendInt64(nil, microsSinceMidnight(t)), nil

	case pgtype.TimestampOID, pgtype.TimestamptzOID:
		t, err := asTime(v)
		if err != nil {
			return nil, err
		}
		return pgio.AppendInt64(nil, microsSincePostgresEpoch(t)), nil

	case pgtype.UUIDOID:
		return encodeUUIDBinary(v)

	default:
		return nil, unsupportedOIDErr(oid)
	}
}

// DecodeBinary parses the binary format for the given OID.
func DecodeBinary(oid uint32, data []byte) (any, error) {
	if elem, ok := elementOID[oid]; ok {
		return decodeBinaryArray(elem, data)
	}
	switch oid {
	case pgtype.BoolOID:
		if len(data) != 1 {
			return nil, binaryLenErr("bool", 1, len(data))
		}
		return data[0] != 0, nil

	case pgtype.Int2OID:
		if len(data) != 2 {
			return nil, binaryLenErr("int2", 2, len(data))
		}
		return int16(binary.BigEndian.Uint16(data)), nil

	case pgtype.Int4OID:
		if len(data) != 4 {
			return nil, binaryLenErr("int4", 4, len(data))
		}
		return int32(binary.BigEndian.Uint32(data)), nil

	case pgtype.Int8OID:
		if len(data) != 8 {
			return nil, binaryLenErr("int8", 8, len(data))
		}
		return int64(binary.BigEndian.Uint64(data)), nil

	case pgtype.Float4OID:
		if len(data) != 4 {
			return nil, binaryLenErr("float4", 4, len(data))
		}
		return math.Float32frombits(binary.BigEndian.Uint32(data)), nil

	case pgtype.Float8OID:
		if len(data) != 8 {
			return nil, binaryLenErr("float8", 8, len(data))
		}
		return math.Float64frombits(binary.BigEndian.Uint64(data)), nil

	case pgtype.NumericOID:
		return decodeNumericBinary(data)

	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.JSONOID:
		return string(data), nil

	case pgtype.JSONBOID:
		if len(data) < 1 || data[0] != 1 {
			return nil, fmt.Errorf("pgval: unknown jsonb binary version")
		}
		return string(data[1:]), nil

	case pgtype.ByteaOID:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil

	case pgtype.DateOID:
		if len(data) != 4 {
			return nil, binaryLenErr("date", 4, len(data))
		}
		days := int32(binary.BigEndian.Uint32(data))
		return postgresEpoch.AddDate(0, 0, int(days)), nil

	case pgtype.TimeOID:
		if len(data) != 8 {
			return nil, binaryLenErr("time", 8, len(data))
		}
		micros := int64(binary.BigEndian.Uint64(data))
		return timeOfDayFromMicros(micros), nil

	case pgtype.TimestampOID, pgtype.TimestamptzOID:
		if len(data) != 8 {
			return nil, binaryLenErr("timestamp", 8, len(data))
		}
		micros := int64(binary.BigEndian.Uint64(data))
		return postgresEpoch.Add(time.Duration(micros) * time.Microsecond), nil

	case pgtype.UUIDOID:
		return decodeUUIDBinary(data)

	default:
		return nil, unsupportedOIDErr(oid)
	}
}

func binaryLenErr(typ string, want, got int) error {
	return fmt.Errorf("pgval: %s binary value must be %d bytes, not %d", typ, want, got)
}
