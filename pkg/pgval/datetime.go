package pgval

import (
	"fmt"
	"strings"
	"time"
)

// postgresEpoch is 2000-01-01 00:00:00 UTC, the zero point of the binary
// date and timestamp formats (integer_datetimes).
var postgresEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func daysSincePostgresEpoch(t time.Time) int32 {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int32(t.Sub(postgresEpoch).Hours() / 24)
}

func microsSincePostgresEpoch(t time.Time) int64 {
	return int64(t.Sub(postgresEpoch) / time.Microsecond)
}

func microsSinceMidnight(t time.Time) int64 {
	h, m, s := t.Clock()
	return (int64(h)*3600+int64(m)*60+int64(s))*1_000_000 + int64(t.Nanosecond())/1000
}

func timeOfDayFromMicros(micros int64) time.Time {
	return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(micros) * time.Microsecond)
}

// appendTimeOfDayText renders HH:MM:SS with up to six fractional digits,
// trailing zeros trimmed, matching libpq.
func appendTimeOfDayText(dst []byte, t time.Time) []byte {
	dst = t.AppendFormat(dst, "15:04:05")
	return appendFractionText(dst, t.Nanosecond())
}

// appendTimestampText renders "YYYY-MM-DD HH:MM:SS[.ffffff][+00]".
func appendTimestampText(dst []byte, t time.Time, withZone bool) []byte {
	dst = t.AppendFormat(dst, "2006-01-02 15:04:05")
	dst = appendFractionText(dst, t.Nanosecond())
	if withZone {
		dst = append(dst, "+00"...)
	}
	if t.Year() <= 0 {
		dst = append(dst, " BC"...)
	}
	return dst
}

func appendFractionText(dst []byte, nanos int) []byte {
	micros := nanos / 1000
	if micros == 0 {
		return dst
	}
	s := fmt.Sprintf(".%06d", micros)
	return append(dst, strings.TrimRight(s, "0")...)
}

func parseTimeOfDayText(s string) (time.Time, error) {
	for _, layout := range []string{"15:04:05.999999", "15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("pgval: invalid time text %q", s)
}

func parseTimestampText(s string, withZone bool) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
	}
	if withZone {
		layouts = []string{
			"2006-01-02 15:04:05.999999-07",
			"2006-01-02 15:04:05-07",
			"2006-01-02 15:04:05.999999-07:00",
			"2006-01-02 15:04:05-07:00",
		}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			if withZone {
				t = t.UTC()
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("pgval: invalid timestamp text %q", s)
}
