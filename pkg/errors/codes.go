package errors

// Code identifies the class of a failure. The set is closed: transport
// adapters map these to their own status systems.
type Code string

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeNotFound              Code = "NOT_FOUND"
	CodeForbidden             Code = "FORBIDDEN"
	CodeConflict              Code = "CONFLICT"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeDependencyUnavailable Code = "DEPENDENCY_UNAVAILABLE"
)
