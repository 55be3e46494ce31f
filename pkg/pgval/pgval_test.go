package pgval

import (
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextEncodingMatchesLibpq(t *testing.T) {
	tests := []struct {
		name string
		oid  uint32
		v    any
		want string
	}{
		{"bool true", pgtype.BoolOID, true, "t"},
		{"bool false", pgtype.BoolOID, false, "f"},
		{"int2", pgtype.Int2OID, int16(-7), "-7"},
		{"int4", pgtype.Int4OID, int32(123456), "123456"},
		{"int8", pgtype.Int8OID, int64(-9007199254740993), "-9007199254740993"},
		{"float8", pgtype.Float8OID, 1.5, "1.5"},
		{"float8 inf", pgtype.Float8OID, math.Inf(1), "Infinity"},
		{"text", pgtype.TextOID, "héllo", "héllo"},
		{"bytea", pgtype.ByteaOID, []byte{0xde, 0xad, 0xbe, 0xef}, `\xdeadbeef`},
		{"bytea empty", pgtype.ByteaOID, []byte{}, `\x`},
		{"numeric", pgtype.NumericOID, "-12.340", "-12.340"},
		{"uuid", pgtype.UUIDOID, "A0EEBC99-9C0B-4EF8-BB6D-6BB9BD380A11", "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11"},
		{"json", pgtype.JSONOID, `{"a":1}`, `{"a":1}`},
		{"date", pgtype.DateOID, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), "2024-02-29"},
		{"time", pgtype.TimeOID, time.Date(0, 1, 1, 13, 37, 42, 500000000, time.UTC), "13:37:42.5"},
		{"timestamp", pgtype.TimestampOID, time.Date(2024, 2, 29, 13, 37, 42, 0, time.UTC), "2024-02-29 13:37:42"},
		{"timestamptz", pgtype.TimestamptzOID, time.Date(2024, 2, 29, 13, 37, 42, 0, time.UTC), "2024-02-29 13:37:42+00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeText(tt.oid, tt.v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestNullIsWireLevelNotText(t *testing.T) {
	got, err := Encode(pgtype.TextOID, TextFormat, nil)
	require.NoError(t, err)
	assert.Nil(t, got, "NULL must be the length -1 sentinel, never an encoded string")

	v, err := Decode(pgtype.TextOID, TextFormat, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTextRoundTrips(t *testing.T) {
	tests := []struct {
		name string
		oid  uint32
		v    any
	}{
		{"bool", pgtype.BoolOID, true},
		{"int2", pgtype.Int2OID, int16(42)},
		{"int4", pgtype.Int4OID, int32(-1)},
		{"int8", pgtype.Int8OID, int64(1) << 60},
		{"float4", pgtype.Float4OID, float32(0.25)},
		{"float8", pgtype.Float8OID, -2.5},
		{"numeric", pgtype.NumericOID, "0.5"},
		{"text", pgtype.TextOID, "a,b\"c\\d"},
		{"bytea", pgtype.ByteaOID, []byte{0, 1, 2}},
		{"uuid", pgtype.UUIDOID, "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11"},
		{"date", pgtype.DateOID, time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"timestamp", pgtype.TimestampOID, time.Date(2024, 2, 29, 13, 37, 42, 123456000, time.UTC)},
		{"timestamptz", pgtype.TimestamptzOID, time.Date(2024, 2, 29, 13, 37, 42, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := EncodeText(tt.oid, tt.v)
			require.NoError(t, err)
			got, err := DecodeText(tt.oid, wire)
			require.NoError(t, err)
			assert.Equal(t, tt.v, got)
		})
	}
}

func TestBinaryRoundTrips(t *testing.T) {
	tests := []struct {
		name string
		oid  uint32
		v    any
	}{
		{"bool", pgtype.BoolOID, false},
		{"int2", pgtype.Int2OID, int16(-32768)},
		{"int4", pgtype.Int4OID, int32(2147483647)},
		{"int8", pgtype.Int8OID, int64(-1)},
		{"float4", pgtype.Float4OID, float32(3.5)},
		{"float8", pgtype.Float8OID, -0.125},
		{"numeric", pgtype.NumericOID, "12345.678"},
		{"numeric zero", pgtype.NumericOID, "0"},
		{"numeric small", pgtype.NumericOID, "0.00001"},
		{"numeric nan", pgtype.NumericOID, "NaN"},
		{"text", pgtype.TextOID, "hello"},
		{"jsonb", pgtype.JSONBOID, `{"k":[1,2]}`},
		{"bytea", pgtype.ByteaOID, []byte{9, 8, 7}},
		{"uuid", pgtype.UUIDOID, "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11"},
		{"date", pgtype.DateOID, time.Date(1969, 7, 20, 0, 0, 0, 0, time.UTC)},
		{"timestamp", pgtype.TimestampOID, time.Date(2024, 2, 29, 13, 37, 42, 123456000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := EncodeBinary(tt.oid, tt.v)
			require.NoError(t, err)
			got, err := DecodeBinary(tt.oid, wire)
			require.NoError(t, err)
			assert.Equal(t, tt.v, got)
		})
	}
}

func TestNumericBinaryLayout(t *testing.T) {
	// 12345.678 = digits [1 2345 6780], weight 1, dscale 3.
	wire, err := EncodeBinary(pgtype.NumericOID, "12345.678")
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x00, 0x03, // ndigits
		0x00, 0x01, // weight
		0x00, 0x00, // sign positive
		0x00, 0x03, // dscale
		0x00, 0x01, // 1
		0x09, 0x29, // 2345
		0x1a, 0x7c, // 6780
	}, wire)
}

func TestArrayTextEncoding(t *testing.T) {
	tests := []struct {
		name string
		oid  uint32
		v    any
		want string
	}{
		{"ints", pgtype.Int4ArrayOID, []any{int32(1), int32(2), int32(3)}, "{1,2,3}"},
		{"empty", pgtype.TextArrayOID, []any{}, "{}"},
		{"null element", pgtype.Int4ArrayOID, []any{int32(1), nil}, "{1,NULL}"},
		{"quoted comma", pgtype.TextArrayOID, []any{"a,b"}, `{"a,b"}`},
		{"quoted braces", pgtype.TextArrayOID, []any{"{x}"}, `{"{x}"}`},
		{"quoted quote and backslash", pgtype.TextArrayOID, []any{`say "hi" \now`}, `{"say \"hi\" \\now"}`},
		{"literal NULL string quoted", pgtype.TextArrayOID, []any{"NULL"}, `{"NULL"}`},
		{"empty string quoted", pgtype.TextArrayOID, []any{""}, `{""}`},
		{"bools", pgtype.BoolArrayOID, []any{true, false}, "{t,f}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeText(tt.oid, tt.v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestArrayTextRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		oid  uint32
		v    []any
	}{
		{"ints", pgtype.Int4ArrayOID, []any{int32(1), nil, int32(-3)}},
		{"strings", pgtype.TextArrayOID, []any{"plain", "with,comma", `with"quote`, `with\backslash`, "", "NULL value"}},
		{"empty", pgtype.TextArrayOID, []any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := EncodeText(tt.oid, tt.v)
			require.NoError(t, err)
			got, err := DecodeText(tt.oid, wire)
			require.NoError(t, err)
			assert.Equal(t, tt.v, got)
		})
	}
}

func TestArrayBinaryRoundTrip(t *testing.T) {
	v := []any{int64(1), nil, int64(300)}
	wire, err := EncodeBinary(pgtype.Int8ArrayOID, v)
	require.NoError(t, err)
	got, err := DecodeBinary(pgtype.Int8ArrayOID, wire)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestElementOID(t *testing.T) {
	elem, ok := ElementOID(pgtype.Int4ArrayOID)
	require.True(t, ok)
	assert.Equal(t, uint32(pgtype.Int4OID), elem)

	_, ok = ElementOID(pgtype.Int4OID)
	assert.False(t, ok)
}

func TestUnsupportedOID(t *testing.T) {
	_, err := EncodeText(999999, "x")
	assert.ErrorContains(t, err, "unsupported type oid")
	assert.False(t, IsSupported(999999))
	assert.True(t, IsSupported(uint32(pgtype.NumericOID)))
}
