package comfyerr

import (
	"fmt"
	"strings"
)

// Kind identifies which part of the subsystem raised a domain error.
type Kind string

const (
	KindConfig        Kind = "config"
	KindWorkflow      Kind = "workflow"
	KindUtils         Kind = "utils"
	KindServices      Kind = "services"
	KindModelResolver Kind = "model_resolver"
)

// Kinds lists every domain error kind.
var Kinds = []Kind{KindConfig, KindWorkflow, KindUtils, KindServices, KindModelResolver}

// Reason is a kind-specific failure code. Each kind has its own closed set.
type Reason string

// config reasons
const (
	ReasonInvalidConfig    Reason = "INVALID_CONFIG"
	ReasonMissingConfig    Reason = "MISSING_CONFIG"
	ReasonConfigParseError Reason = "CONFIG_PARSE_ERROR"
	ReasonRegistryError    Reason = "REGISTRY_ERROR"
)

// workflow reasons
const (
	ReasonInvalidParams    Reason = "INVALID_PARAMS"
	ReasonMissingComponent Reason = "MISSING_COMPONENT"
	ReasonMissingEncoder   Reason = "MISSING_ENCODER"
	ReasonUnsupportedModel Reason = "UNSUPPORTED_MODEL"
)

// utils reasons
const (
	ReasonConnectionError    Reason = "CONNECTION_ERROR"
	ReasonDetectionFailed    Reason = "DETECTION_FAILED"
	ReasonInvalidModelFormat Reason = "INVALID_MODEL_FORMAT"
	ReasonNoBuilderFound     Reason = "NO_BUILDER_FOUND"
	ReasonInvalidFilename    Reason = "INVALID_FILENAME"
)

// services reasons
const (
	ReasonInvalidArgs      Reason = "INVALID_ARGS"
	ReasonInvalidAuth      Reason = "INVALID_AUTH"
	ReasonPermissionDenied Reason = "PERMISSION_DENIED"
	ReasonConnectionFailed Reason = "CONNECTION_FAILED"
	ReasonUploadFailed     Reason = "UPLOAD_FAILED"
	ReasonExecutionFailed  Reason = "EXECUTION_FAILED"
	ReasonModelNotFound    Reason = "MODEL_NOT_FOUND"
	ReasonEmptyResult      Reason = "EMPTY_RESULT"
	ReasonImageFetchFailed Reason = "IMAGE_FETCH_FAILED"
)

// model resolver reasons (MODEL_NOT_FOUND, CONNECTION_ERROR, PERMISSION_DENIED and
// INVALID_FILENAME are shared with other kinds)
const (
	ReasonComponentUnavailable Reason = "COMPONENT_UNAVAILABLE"
	ReasonModelFetchFailed     Reason = "MODEL_FETCH_FAILED"
)

var reasonsByKind = map[Kind][]Reason{
	KindConfig: {
		ReasonInvalidConfig,
		ReasonMissingConfig,
		ReasonConfigParseError,
		ReasonRegistryError,
	},
	KindWorkflow: {
		ReasonInvalidConfig,
		ReasonInvalidParams,
		ReasonMissingComponent,
		ReasonMissingEncoder,
		ReasonUnsupportedModel,
	},
	KindUtils: {
		ReasonConnectionError,
		ReasonDetectionFailed,
		ReasonInvalidModelFormat,
		ReasonNoBuilderFound,
		ReasonInvalidFilename,
	},
	KindServices: {
		ReasonInvalidArgs,
		ReasonInvalidAuth,
		ReasonInvalidConfig,
		ReasonPermissionDenied,
		ReasonConnectionFailed,
		ReasonUploadFailed,
		ReasonExecutionFailed,
		ReasonModelNotFound,
		ReasonEmptyResult,
		ReasonImageFetchFailed,
	},
	KindModelResolver: {
		ReasonModelNotFound,
		ReasonComponentUnavailable,
		ReasonInvalidFilename,
		ReasonConnectionError,
		ReasonPermissionDenied,
		ReasonModelFetchFailed,
	},
}

// AllReasons returns the closed reason set of a kind.
func AllReasons(kind Kind) []Reason {
	return append([]Reason(nil), reasonsByKind[kind]...)
}

// IsKnownReason reports whether reason belongs to the reason set of kind.
func IsKnownReason(kind Kind, reason Reason) bool {
	for _, r := range reasonsByKind[kind] {
		if r == reason {
			return true
		}
	}
	return false
}

// Error is the internal domain error raised by builders, resolvers and services.
// It never leaves the gateway; Handle turns it into a NormalizedError.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s error [%s]", e.Kind, e.Reason)
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail returns e after setting a single detail entry.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Wrap attaches the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func newError(kind Kind, reason Reason, message string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Details: details}
}

func NewConfigError(reason Reason, message string, details map[string]interface{}) *Error {
	return newError(KindConfig, reason, message, details)
}

func NewWorkflowError(reason Reason, message string, details map[string]interface{}) *Error {
	return newError(KindWorkflow, reason, message, details)
}

func NewUtilsError(reason Reason, message string, details map[string]interface{}) *Error {
	return newError(KindUtils, reason, message, details)
}

func NewServicesError(reason Reason, message string, details map[string]interface{}) *Error {
	return newError(KindServices, reason, message, details)
}

func NewModelResolverError(reason Reason, message string, details map[string]interface{}) *Error {
	return newError(KindModelResolver, reason, message, details)
}
