package params

import (
	"testing"
)

func TestMerged(t *testing.T) {
	merged := Merged(ParameterStatuses{
		ParamServerVersion: "99.0",
		"custom_guc":       "on",
	})

	if merged[ParamServerVersion] != "99.0" {
		t.Errorf("override lost: got %q", merged[ParamServerVersion])
	}
	if merged["custom_guc"] != "on" {
		t.Errorf("extra parameter lost")
	}
	if merged[ParamIntegerDatetimes] != "on" {
		t.Errorf("base parameter lost: got %q", merged[ParamIntegerDatetimes])
	}

	// The base set must not be mutated by the overlay.
	if BaseParameterStatuses[ParamServerVersion] == "99.0" {
		t.Error("Merged mutated BaseParameterStatuses")
	}
}

func TestBaseParameterStatusesCoversDriverNeeds(t *testing.T) {
	for _, name := range []string{
		ParamServerVersion,
		ParamServerEncoding,
		ParamClientEncoding,
		ParamDateStyle,
		ParamIntegerDatetimes,
		ParamStandardConformingStrings,
		ParamIntervalStyle,
		ParamTimeZone,
	} {
		if BaseParameterStatuses[name] == "" {
			t.Errorf("missing base parameter %q", name)
		}
	}
}
