package dal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass is the broad category of a resolution failure.
type ErrorClass string

const (
	// ErrorClassNotFound indicates that a partition, segment, application or tag is absent.
	ErrorClassNotFound ErrorClass = "not-found"

	// ErrorClassBadConfiguration indicates structurally invalid configuration data.
	// Examples: duplicated application ids, a segment included twice, circular references.
	ErrorClassBadConfiguration ErrorClass = "bad-configuration"

	// ErrorClassIncompatibleTag indicates that no hw/sw tag satisfies a host.
	ErrorClassIncompatibleTag ErrorClass = "incompatible-tag"

	// ErrorClassEnvironmentBuildFailure indicates that no program, package and tag
	// combination yields a runnable environment.
	ErrorClassEnvironmentBuildFailure ErrorClass = "environment-build-failure"
)

// ConfigError is a classified configuration error carrying the offending object.
type ConfigError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Object is the UID of the object that caused the error.
	Object string `json:"object,omitempty"`

	// ObjectClass is the class of Object.
	ObjectClass string `json:"object_class,omitempty"`

	// Chain is the object path that led to the error (cycles, ancestor paths).
	Chain []string `json:"chain,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	if e.Object != "" {
		if e.ObjectClass != "" {
			fmt.Fprintf(&b, " (object=%s@%s)", e.Object, e.ObjectClass)
		} else {
			fmt.Fprintf(&b, " (object=%s)", e.Object)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *ConfigError with the same class and code.
func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*ConfigError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *ConfigError {
	return &ConfigError{
		Class:   ErrorClassNotFound,
		Code:    ErrCodeNotFound,
		Message: message,
		Err:     err,
	}
}

// NewBadConfigurationError creates a new bad-configuration error.
func NewBadConfigurationError(message string, err error) *ConfigError {
	return &ConfigError{
		Class:   ErrorClassBadConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewIncompatibleTagError creates a new incompatible-tag error.
func NewIncompatibleTagError(message string, err error) *ConfigError {
	return &ConfigError{
		Class:   ErrorClassIncompatibleTag,
		Code:    ErrCodeBadTag,
		Message: message,
		Err:     err,
	}
}

// NewEnvironmentError creates a new environment-build-failure error.
func NewEnvironmentError(message string, err error) *ConfigError {
	return &ConfigError{
		Class:   ErrorClassEnvironmentBuildFailure,
		Message: message,
		Err:     err,
	}
}

// WithCode sets the error code.
func (e *ConfigError) WithCode(code string) *ConfigError {
	e.Code = code
	return e
}

// WithObject records the offending object.
func (e *ConfigError) WithObject(o Object) *ConfigError {
	if o != nil {
		e.Object = o.UID()
		e.ObjectClass = o.Class()
	}
	return e
}

// WithObjectID records the offending object by id only.
func (e *ConfigError) WithObjectID(id, class string) *ConfigError {
	e.Object = id
	e.ObjectClass = class
	return e
}

// WithChain records the path of objects that led to the error.
func (e *ConfigError) WithChain(chain []string) *ConfigError {
	e.Chain = append([]string(nil), chain...)
	return e
}

// WithDetail adds a detail field to the error context.
func (e *ConfigError) WithDetail(key string, value interface{}) *ConfigError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *ConfigError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsNotFound returns true if the error is classified as not-found.
func IsNotFound(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassNotFound
}

// IsBadConfiguration returns true if the error is classified as bad configuration.
func IsBadConfiguration(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassBadConfiguration
}

// IsIncompatibleTag returns true if the error is classified as an incompatible tag.
func IsIncompatibleTag(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassIncompatibleTag
}

// IsEnvironmentBuildFailure returns true if the error is an environment build failure.
func IsEnvironmentBuildFailure(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassEnvironmentBuildFailure
}

// ErrorCode returns the code of the first *ConfigError in the chain, or "".
func ErrorCode(err error) string {
	var e *ConfigError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether any *ConfigError in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *ConfigError
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// Error codes.
const (
	ErrCodeNotFound                 = "NOT_FOUND"
	ErrCodeCircularDependency       = "CIRCULAR_DEPENDENCY"
	ErrCodeSegmentIncludedTwice     = "SEGMENT_INCLUDED_MULTIPLE_TIMES"
	ErrCodeDuplicatedApplicationID  = "DUPLICATED_APPLICATION_ID"
	ErrCodeCannotCreateSegConfig    = "CANNOT_CREATE_SEG_CONFIG"
	ErrCodeNoDefaultHost            = "NO_DEFAULT_HOST"
	ErrCodeBadTemplateSegment       = "BAD_TEMPLATE_SEGMENT"
	ErrCodeCannotFindSegment        = "CANNOT_FIND_SEGMENT"
	ErrCodeSegmentDisabled          = "SEGMENT_DISABLED"
	ErrCodeStaleHandle              = "STALE_HANDLE"
	ErrCodeBadTag                   = "BAD_TAG"
	ErrCodeBadProgramInfo           = "BAD_PROGRAM_INFO"
	ErrCodeBadApplicationInfo       = "BAD_APPLICATION_INFO"
	ErrCodeSubstitutionFailed       = "SUBSTITUTION_FAILED"
	ErrCodeSubstitutionLimit        = "SUBSTITUTION_LIMIT"
	ErrCodeMaxIterations            = "MAX_ITERATIONS"
	ErrCodeCannotGetParents         = "CANNOT_GET_PARENTS"
	ErrCodeNoConfigVersion          = "NO_CONFIG_VERSION"
	ErrCodeInvalidDocument          = "INVALID_DOCUMENT"
	ErrCodeUnknownClass             = "UNKNOWN_CLASS"
	ErrCodeDanglingReference        = "DANGLING_REFERENCE"
	ErrCodeBadPartition             = "BAD_PARTITION"
	ErrCodeAmbiguousApplicationPath = "AMBIGUOUS_APPLICATION_PATH"
)
