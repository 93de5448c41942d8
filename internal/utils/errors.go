package utils

import "fmt"

// ErrorKind classifies a TranscodeError per the conversion contract's error
// taxonomy. Container-frame kinds abort the whole conversion; block-local
// kinds are recovered by the caller (logged, then a fallback path taken).
type ErrorKind int

const (
	// KindTruncatedInput means a read would exceed the input buffer.
	KindTruncatedInput ErrorKind = iota
	// KindBadMagic means the header signature did not match.
	KindBadMagic
	// KindBadVersionString means the version string failed validation.
	KindBadVersionString
	// KindUnsupportedVersion means the binary_version/user_version pair is
	// not a recognized Bethesda version.
	KindUnsupportedVersion
	// KindAlreadyLittleEndian means the input is valid but already PC-form.
	KindAlreadyLittleEndian
	// KindBlockBoundsExceeded means computed block offsets overrun the buffer.
	KindBlockBoundsExceeded
	// KindSchemaMiss means a block's type name has no schema entry.
	// Block-local: recovered by a bulk 32-bit swap fallback.
	KindSchemaMiss
	// KindExpanderParseFailure means a packed-geometry/skin/Havok expander
	// failed mid-block. Block-local: recovered by same-size conversion.
	KindExpanderParseFailure
	// KindInternalInvariantViolation means the layout planner produced
	// inconsistent sizes. Fatal.
	KindInternalInvariantViolation
)

// String returns a stable, lowercase identifier for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTruncatedInput:
		return "truncated_input"
	case KindBadMagic:
		return "bad_magic"
	case KindBadVersionString:
		return "bad_version_string"
	case KindUnsupportedVersion:
		return "unsupported_version"
	case KindAlreadyLittleEndian:
		return "already_little_endian"
	case KindBlockBoundsExceeded:
		return "block_bounds_exceeded"
	case KindSchemaMiss:
		return "schema_miss"
	case KindExpanderParseFailure:
		return "expander_parse_failure"
	case KindInternalInvariantViolation:
		return "internal_invariant_violation"
	default:
		return "unknown"
	}
}

// Fatal reports whether an error of this kind must abort the whole
// conversion, as opposed to being recoverable at the single-block level.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindSchemaMiss, KindExpanderParseFailure:
		return false
	default:
		return true
	}
}

// TranscodeError is a structured, contextual error carrying an ErrorKind.
type TranscodeError struct {
	Kind    ErrorKind
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *TranscodeError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
}

// Unwrap provides compatibility with errors.Unwrap().
func (e *TranscodeError) Unwrap() error {
	return e.Cause
}

// WrapError creates a contextual, kind-tagged error. Returns nil when cause
// is nil, so call sites can compose it directly with a fallible operation's
// own error return.
func WrapError(kind ErrorKind, context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &TranscodeError{
		Kind:    kind,
		Context: context,
		Cause:   cause,
	}
}

// NewError creates a kind-tagged error without an underlying cause.
func NewError(kind ErrorKind, context string) error {
	return &TranscodeError{Kind: kind, Context: context}
}
