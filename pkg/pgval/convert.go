package pgval

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Conversion helpers from the loose any values handlers produce to the
// concrete type each encoder needs.

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, conversionErr(v, "bool")
	}
	return b, nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	default:
		return 0, conversionErr(v, "integer")
	}
}

func asFloat64(v any) (float64, error) {
	switch f := v.(type) {
	case float32:
		return float64(f), nil
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	case int64:
		return float64(f), nil
	default:
		return 0, conversionErr(v, "float")
	}
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", conversionErr(v, "string")
	}
}

func asBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, conversionErr(v, "bytes")
	}
}

func asTime(v any) (time.Time, error) {
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, conversionErr(v, "time.Time")
	}
	return t, nil
}

// asNumericString normalizes a numeric value to its decimal text form.
func asNumericString(v any) (string, error) {
	switch n := v.(type) {
	case string:
		if err := validateNumericText(n); err != nil {
			return "", err
		}
		return n, nil
	case int:
		return fmt.Sprintf("%d", n), nil
	case int64:
		return fmt.Sprintf("%d", n), nil
	case *big.Rat:
		// Scale to the exact decimal expansion when finite.
		s := n.FloatString(numericRatScale(n))
		if strings.Contains(s, ".") {
			s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
		}
		return s, nil
	default:
		return "", conversionErr(v, "numeric")
	}
}

// numericRatScale picks enough decimal places to represent rat exactly when
// its denominator is of the form 2^a*5^b, else a generous fixed scale.
func numericRatScale(rat *big.Rat) int {
	den := new(big.Int).Set(rat.Denom())
	scale := 0
	two, five, ten := big.NewInt(2), big.NewInt(5), big.NewInt(10)
	mod := new(big.Int)
	for {
		if mod.Mod(den, ten); mod.Sign() == 0 {
			den.Div(den, ten)
			scale++
			continue
		}
		if mod.Mod(den, two); mod.Sign() == 0 {
			den.Div(den, two)
			scale++
			continue
		}
		if mod.Mod(den, five); mod.Sign() == 0 {
			den.Div(den, five)
			scale++
			continue
		}
		break
	}
	if den.Cmp(big.NewInt(1)) != 0 {
		return 32
	}
	return scale
}

func conversionErr(v any, want string) error {
	return fmt.Errorf("pgval: cannot encode %T as %s", v, want)
}
