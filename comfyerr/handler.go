package comfyerr

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// reasonTypes maps every (kind, reason) pair to a normalized type.
var reasonTypes = map[Kind]map[Reason]ErrorType{
	KindConfig: {
		ReasonInvalidConfig:    TypeBizError,
		ReasonMissingConfig:    TypeBizError,
		ReasonConfigParseError: TypeBizError,
		ReasonRegistryError:    TypeBizError,
	},
	KindWorkflow: {
		ReasonInvalidConfig:    TypeWorkflowError,
		ReasonInvalidParams:    TypeWorkflowError,
		ReasonMissingComponent: TypeWorkflowError,
		ReasonMissingEncoder:   TypeModelError,
		ReasonUnsupportedModel: TypeModelNotFound,
	},
	KindUtils: {
		ReasonConnectionError:    TypeServiceUnavailable,
		ReasonDetectionFailed:    TypeBizError,
		ReasonInvalidModelFormat: TypeModelError,
		ReasonNoBuilderFound:     TypeWorkflowError,
		ReasonInvalidFilename:    TypeBizError,
	},
	KindServices: {
		ReasonInvalidArgs:      TypeBizError,
		ReasonInvalidAuth:      TypeInvalidAPIKey,
		ReasonInvalidConfig:    TypeBizError,
		ReasonPermissionDenied: TypePermissionDenied,
		ReasonConnectionFailed: TypeServiceUnavailable,
		ReasonUploadFailed:     TypeUploadFailed,
		ReasonExecutionFailed:  TypeBizError,
		ReasonModelNotFound:    TypeModelNotFound,
		ReasonEmptyResult:      TypeEmptyResult,
		ReasonImageFetchFailed: TypeBizError,
	},
	KindModelResolver: {
		ReasonModelNotFound:        TypeModelNotFound,
		ReasonComponentUnavailable: TypeModelNotFound,
		ReasonInvalidFilename:      TypeBizError,
		ReasonConnectionError:      TypeServiceUnavailable,
		ReasonPermissionDenied:     TypePermissionDenied,
		ReasonModelFetchFailed:     TypeServiceUnavailable,
	},
}

// kindDefaults is the fallback type of each kind for reasons without a table entry.
var kindDefaults = map[Kind]ErrorType{
	KindConfig:        TypeBizError,
	KindWorkflow:      TypeWorkflowError,
	KindUtils:         TypeBizError,
	KindServices:      TypeServiceUnavailable,
	KindModelResolver: TypeModelError,
}

// TypeFor returns the normalized type for a domain error kind and reason.
func TypeFor(kind Kind, reason Reason) ErrorType {
	if t, ok := reasonTypes[kind][reason]; ok {
		return t
	}
	if t, ok := kindDefaults[kind]; ok {
		return t
	}
	return TypeBizError
}

// Handle converts any error into a *NormalizedError. It never returns nil: a nil
// input is reported as an unknown business error.
func Handle(err error) error {
	var ne *NormalizedError
	if errors.As(err, &ne) {
		out := *ne
		out.Provider = Provider
		if out.Type == "" || !knownTypes[out.Type] {
			out.Type = TypeBizError
		}
		out.Details = copyDetails(ne.Details)
		return &out
	}

	var de *Error
	if errors.As(err, &de) {
		details := copyDetails(de.Details)
		if details == nil {
			details = make(map[string]interface{})
		}
		details["kind"] = string(de.Kind)
		details["reason"] = string(de.Reason)
		if de.Err != nil {
			details["cause"] = de.Err.Error()
		}
		msg := de.Message
		if msg == "" {
			msg = string(de.Reason)
		}
		slog.Debug("normalized domain error", "kind", de.Kind, "reason", de.Reason, "message", msg)
		return &NormalizedError{
			Type:     TypeFor(de.Kind, de.Reason),
			Message:  msg,
			Details:  details,
			Provider: Provider,
		}
	}

	return &NormalizedError{
		Type:     TypeBizError,
		Message:  parseMessage(err),
		Details:  rawDetails(err),
		Provider: Provider,
	}
}

// HandleValue normalizes a value that is not necessarily an error, such as the
// result of recover().
func HandleValue(v interface{}) error {
	switch val := v.(type) {
	case nil:
		return Handle(nil)
	case error:
		return Handle(val)
	case string:
		return Handle(errors.New(val))
	default:
		return Handle(fmt.Errorf("%v", val))
	}
}

func parseMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "unknown error"
	}
	return msg
}

func rawDetails(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	return map[string]interface{}{"originalError": fmt.Sprintf("%T", err)}
}

func copyDetails(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
