package params

// https://www.postgresql.org/docs/current/protocol-flow.html#PROTOCOL-ASYNC
//
// ParameterStatus messages will be generated whenever the active value changes
// for any of the parameters the backend believes the frontend should know
// about. The server sends the initial set right after authentication, before
// BackendKeyData and the first ReadyForQuery.
type ParameterStatuses map[string]string

// At present there is a hard-wired set of parameters for which ParameterStatus
// will be generated. They are:
const (
	ParamApplicationName            = "application_name"
	ParamScramIterations            = "scram_iterations"
	ParamClientEncoding             = "client_encoding"
	ParamSearchPath                 = "search_path"
	ParamDateStyle                  = "DateStyle"
	ParamServerEncoding             = "server_encoding"
	ParamDefaultTransactionReadOnly = "default_transaction_read_only"
	ParamServerVersion              = "server_version"
	ParamInHotStandby               = "in_hot_standby"
	ParamSessionAuthorization       = "session_authorization"
	ParamIntegerDatetimes           = "integer_datetimes"
	ParamStandardConformingStrings  = "standard_conforming_strings"
	ParamIntervalStyle              = "IntervalStyle"
	ParamTimeZone                   = "TimeZone"
	ParamIsSuperuser                = "is_superuser"
)

// BaseParameterStatuses is the minimum set a server should report so that
// drivers configure their codecs correctly.
var BaseParameterStatuses = ParameterStatuses{
	ParamServerVersion:             "17.0",
	ParamServerEncoding:            "UTF8",
	ParamClientEncoding:            "UTF8",
	ParamDateStyle:                 "ISO, MDY",
	ParamIntegerDatetimes:          "on",
	ParamStandardConformingStrings: "on",
	ParamIntervalStyle:             "postgres",
	ParamTimeZone:                  "UTC",
}

// Merged overlays overrides on the base set without mutating either map.
func Merged(overrides ParameterStatuses) ParameterStatuses {
	merged := make(ParameterStatuses, len(BaseParameterStatuses)+len(overrides))
	for k, v := range BaseParameterStatuses {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
