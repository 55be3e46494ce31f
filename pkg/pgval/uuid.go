package pgval

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// UUIDs pass through as their canonical 36-character text form or raw
// 16-byte binary form; no parsing beyond format validation is needed.

func encodeUUIDText(v any) ([]byte, error) {
	switch u := v.(type) {
	case string:
		if err := validateUUIDText(u); err != nil {
			return nil, err
		}
		return []byte(strings.ToLower(u)), nil
	case [16]byte:
		return []byte(formatUUID(u[:])), nil
	case []byte:
		if len(u) != 16 {
			return nil, fmt.Errorf("pgval: uuid bytes must be 16 long")
		}
		return []byte(formatUUID(u)), nil
	default:
		return nil, conversionErr(v, "uuid")
	}
}

func encodeUUIDBinary(v any) ([]byte, error) {
	switch u := v.(type) {
	case string:
		return parseUUIDText(u)
	case [16]byte:
		out := make([]byte, 16)
		copy(out, u[:])
		return out, nil
	case []byte:
		if len(u) != 16 {
			return nil, fmt.Errorf("pgval: uuid bytes must be 16 long")
		}
		return u, nil
	default:
		return nil, conversionErr(v, "uuid")
	}
}

func decodeUUIDText(s string) (any, error) {
	if err := validateUUIDText(s); err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func decodeUUIDBinary(data []byte) (any, error) {
	if len(data) != 16 {
		return nil, binaryLenErr("uuid", 16, len(data))
	}
	return formatUUID(data), nil
}

func validateUUIDText(s string) error {
	if _, err := parseUUIDText(s); err != nil {
		return err
	}
	return nil
}

func parseUUIDText(s string) ([]byte, error) {
	if len(s) != 36 || s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return nil, fmt.Errorf("pgval: invalid uuid text %q", s)
	}
	compact := s[0:8] + s[9:13] + s[14:18] + s[19:23] + s[24:36]
	out, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("pgval: invalid uuid text %q", s)
	}
	return out, nil
}

func formatUUID(b []byte) string {
	h := hex.EncodeToString(b)
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}
