// Package pgval encodes and decodes PostgreSQL field values in the text and
// binary wire formats, by type OID. Text output matches libpq exactly:
// booleans are t/f, bytea is \x-prefixed hex, NULL is the wire-level length
// sentinel -1 and never an encoded string.
//
// The supported scalar set is bool, int2/4/8, float4/8, numeric,
// text/varchar/bpchar, bytea, date/time/timestamp/timestamptz, uuid,
// json/jsonb, and single-dimensional arrays of each.
package pgval

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// Format codes used in Bind and RowDescription.
const (
	TextFormat   int16 = 0
	BinaryFormat int16 = 1
)

// elementOID maps a supported 1-D array OID to its element OID.
var elementOID = map[uint32]uint32{
	pgtype.BoolArrayOID:        pgtype.BoolOID,
	pgtype.Int2ArrayOID:        pgtype.Int2OID,
	pgtype.Int4ArrayOID:        pgtype.Int4OID,
	pgtype.Int8ArrayOID:        pgtype.Int8OID,
	pgtype.Float4ArrayOID:      pgtype.Float4OID,
	pgtype.Float8ArrayOID:      pgtype.Float8OID,
	pgtype.NumericArrayOID:     pgtype.NumericOID,
	pgtype.TextArrayOID:        pgtype.TextOID,
	pgtype.VarcharArrayOID:     pgtype.VarcharOID,
	pgtype.BPCharArrayOID:      pgtype.BPCharOID,
	pgtype.ByteaArrayOID:       pgtype.ByteaOID,
	pgtype.DateArrayOID:        pgtype.DateOID,
	pgtype.TimeArrayOID:        pgtype.TimeOID,
	pgtype.TimestampArrayOID:   pgtype.TimestampOID,
	pgtype.TimestamptzArrayOID: pgtype.TimestamptzOID,
	pgtype.UUIDArrayOID:        pgtype.UUIDOID,
	pgtype.JSONArrayOID:        pgtype.JSONOID,
	pgtype.JSONBArrayOID:       pgtype.JSONBOID,
}

// ElementOID returns the element type of a supported array OID.
func ElementOID(arrayOID uint32) (uint32, bool) {
	elem, ok := elementOID[arrayOID]
	return elem, ok
}

// IsSupported reports whether this package can code values of the given OID.
func IsSupported(oid uint32) bool {
	if _, ok := elementOID[oid]; ok {
		return true
	}
	switch oid {
	case pgtype.BoolOID, pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID,
		pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID,
		pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID,
		pgtype.ByteaOID, pgtype.DateOID, pgtype.TimeOID,
		pgtype.TimestampOID, pgtype.TimestamptzOID,
		pgtype.UUIDOID, pgtype.JSONOID, pgtype.JSONBOID:
		return true
	}
	return false
}

// TypeSize returns the RowDescription size field for the OID: the fixed byte
// width, or -1 for variable-length types.
func TypeSize(oid uint32) int16 {
	switch oid {
	case pgtype.BoolOID:
		return 1
	case pgtype.Int2OID:
		return 2
	case pgtype.Int4OID, pgtype.Float4OID, pgtype.DateOID:
		return 4
	case pgtype.Int8OID, pgtype.Float8OID, pgtype.TimeOID,
		pgtype.TimestampOID, pgtype.TimestamptzOID:
		return 8
	case pgtype.UUIDOID:
		return 16
	default:
		return -1
	}
}

// Encode renders v in the requested format. A nil v encodes SQL NULL and
// returns a nil slice, which the message layer writes as length -1.
func Encode(oid uint32, format int16, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch format {
	case TextFormat:
		return EncodeText(oid, v)
	case BinaryFormat:
		return EncodeBinary(oid, v)
	default:
		return nil, fmt.Errorf("pgval: unknown format code %d", format)
	}
}

// Decode parses wire bytes in the given format. A nil data slice is SQL NULL
// and decodes to nil.
func Decode(oid uint32, format int16, data []byte) (any, error) {
	if data == nil {
		return nil, nil
	}
	switch format {
	case TextFormat:
		return DecodeText(oid, data)
	case BinaryFormat:
		return DecodeBinary(oid, data)
	default:
		return nil, fmt.Errorf("pgval: unknown format code %d", format)
	}
}

func unsupportedOIDErr(oid uint32) error {
	return fmt.Errorf("pgval: unsupported type oid %d", oid)
}
