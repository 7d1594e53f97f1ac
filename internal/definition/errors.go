package definition

import "strings"

// Code identifies a startup validation failure.
type Code string

const (
	CodeMalformedInput        Code = "DEF_MALFORMED_INPUT"
	CodeMissingField          Code = "DEF_MISSING_FIELD"
	CodeDuplicateSiblingID    Code = "DEF_DUPLICATE_SIBLING_ID"
	CodeSchemaVersionMismatch Code = "DEF_SCHEMA_VERSION_MISMATCH"
	CodeUnlockInvalid         Code = "DEF_UNLOCK_INVALID"
	CodeUnlockPathUnresolved  Code = "DEF_UNLOCK_PATH_UNRESOLVED"
	CodeTargetRefInvalid      Code = "DEF_TARGET_REF_INVALID"
	CodeTargetRefUnresolved   Code = "DEF_TARGET_REF_UNRESOLVED"
)

// Issue is one startup validation finding: a stable machine code, a
// JSON-pointer-style path into the content pack, a human message, and a
// remediation hint.
type Issue struct {
	Code    Code
	Path    string
	Message string
	Hint    string
}

func (i Issue) Error() string {
	if i.Path == "" {
		return string(i.Code) + ": " + i.Message
	}
	return string(i.Code) + " at " + i.Path + ": " + i.Message
}

// ValidationError aggregates every issue found while loading and
// validating a content pack. Initialization never completes partially:
// callers either get a fully validated Definition or a ValidationError
// naming everything wrong with the input.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.Error()
	}
	return "definition validation failed:\n" + strings.Join(parts, "\n")
}

// Unwrap exposes each issue as a standalone error, compatible with
// errors.Is/errors.As over the aggregate via the stdlib's multi-error
// convention.
func (e *ValidationError) Unwrap() []error {
	out := make([]error, len(e.Issues))
	for i, issue := range e.Issues {
		out[i] = issue
	}
	return out
}
