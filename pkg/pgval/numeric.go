package pgval

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/jackc/pgio"
)

// numeric binary layout: ndigits, weight, sign, dscale as int16, then
// ndigits base-10000 digits. weight is the power of 10000 of the first digit.
const (
	numericSignPositive = 0x0000
	numericSignNegative = 0x4000
	numericSignNaN      = 0xC000
)

// validateNumericText accepts a plain decimal string ("-12.340", "0", "NaN").
// Scientific notation is normalized away by the producer; the wire text
// format for numeric is always plain decimal.
func validateNumericText(s string) error {
	if s == "NaN" {
		return nil
	}
	rest := s
	if strings.HasPrefix(rest, "-") || strings.HasPrefix(rest, "+") {
		rest = rest[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(rest, ".")
	if intPart == "" && (!hasFrac || fracPart == "") {
		return fmt.Errorf("pgval: invalid numeric text %q", s)
	}
	for _, part := range []string{intPart, fracPart} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return fmt.Errorf("pgval: invalid numeric text %q", s)
			}
		}
	}
	return nil
}

// encodeNumericBinary converts plain decimal text into the base-10000 wire
// representation.
func encodeNumericBinary(s string) ([]byte, error) {
	if s == "NaN" {
		dst := pgio.AppendInt16(nil, 0)
		dst = pgio.AppendInt16(dst, 0)
		dst = pgio.AppendUint16(dst, numericSignNaN)
		return pgio.AppendInt16(dst, 0), nil
	}
	if err := validateNumericText(s); err != nil {
		return nil, err
	}

	sign := uint16(numericSignPositive)
	switch {
	case strings.HasPrefix(s, "-"):
		sign = numericSignNegative
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	dscale := len(fracPart)

	// Pad so both parts split evenly into 4-digit groups aligned on the
	// decimal point.
	intPad := (4 - len(intPart)%4) % 4
	intPart = strings.Repeat("0", intPad) + intPart
	fracPad := (4 - len(fracPart)%4) % 4
	fracPart = fracPart + strings.Repeat("0", fracPad)

	var digits []int16
	for i := 0; i < len(intPart); i += 4 {
		digits = append(digits, digitGroupValue(intPart[i:i+4]))
	}
	weight := len(digits) - 1
	for i := 0; i < len(fracPart); i += 4 {
		digits = append(digits, digitGroupValue(fracPart[i:i+4]))
	}

	// Strip leading zero groups, adjusting the weight.
	for len(digits) > 0 && digits[0] == 0 {
		digits = digits[1:]
		weight--
	}
	// Strip trailing zero groups; dscale already records the display scale.
	for len(digits) > 0 && digits[len(digits)-1] == 0 {
		digits = digits[:len(digits)-1]
	}
	if len(digits) == 0 {
		weight = 0
		sign = numericSignPositive
	}

	dst := pgio.AppendInt16(nil, int16(len(digits)))
	dst = pgio.AppendInt16(dst, int16(weight))
	dst = pgio.AppendUint16(dst, sign)
	dst = pgio.AppendInt16(dst, int16(dscale))
	for _, d := range digits {
		dst = pgio.AppendInt16(dst, d)
	}
	return dst, nil
}

// decodeNumericBinary renders the wire representation back to plain decimal
// text with exactly dscale fractional digits, round-tripping the text form.
func decodeNumericBinary(data []byte) (any, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("pgval: numeric binary value too short")
	}
	ndigits := int(int16(binary.BigEndian.Uint16(data[0:])))
	weight := int(int16(binary.BigEndian.Uint16(data[2:])))
	sign := binary.BigEndian.Uint16(data[4:])
	dscale := int(int16(binary.BigEndian.Uint16(data[6:])))
	if ndigits < 0 || dscale < 0 || len(data) != 8+2*ndigits {
		return nil, fmt.Errorf("pgval: malformed numeric binary value")
	}
	if sign == numericSignNaN {
		return "NaN", nil
	}

	digit := func(i int) int {
		// Digit groups beyond ndigits are zero by definition.
		if i < 0 || i >= ndigits {
			return 0
		}
		return int(int16(binary.BigEndian.Uint16(data[8+2*i:])))
	}

	var sb strings.Builder
	if sign == numericSignNegative {
		sb.WriteByte('-')
	} else if sign != numericSignPositive {
		return nil, fmt.Errorf("pgval: unknown numeric sign %#x", sign)
	}

	if weight < 0 {
		sb.WriteByte('0')
	} else {
		for i := 0; i <= weight; i++ {
			if i == 0 {
				fmt.Fprintf(&sb, "%d", digit(i))
			} else {
				fmt.Fprintf(&sb, "%04d", digit(i))
			}
		}
	}

	if dscale > 0 {
		sb.WriteByte('.')
		// Group weight+k holds the digits at decimal positions 4(k-1)+1..4k
		// after the point; digit() fills zeros outside the stored range.
		var frac strings.Builder
		for k := 1; frac.Len() < dscale; k++ {
			fmt.Fprintf(&frac, "%04d", digit(weight+k))
		}
		sb.WriteString(frac.String()[:dscale])
	}
	return sb.String(), nil
}

func digitGroupValue(group string) int16 {
	var v int16
	for i := 0; i < len(group); i++ {
		v = v*10 + int16(group[i]-'0')
	}
	return v
}
