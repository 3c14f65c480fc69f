package comfyerr

import "fmt"

// Provider is the identifier every normalized error carries.
const Provider = "comfyui"

// ErrorType is the caller-facing error classification.
type ErrorType string

const (
	TypeBizError           ErrorType = "ComfyUIBizError"
	TypeServiceUnavailable ErrorType = "ComfyUIServiceUnavailable"
	TypeWorkflowError      ErrorType = "ComfyUIWorkflowError"
	TypeModelError         ErrorType = "ComfyUIModelError"
	TypeModelNotFound      ErrorType = "ModelNotFound"
	TypeUploadFailed       ErrorType = "ComfyUIUploadFailed"
	TypeEmptyResult        ErrorType = "ComfyUIEmptyResult"
	TypeInvalidAPIKey      ErrorType = "InvalidProviderAPIKey"
	TypePermissionDenied   ErrorType = "PermissionDenied"
)

var knownTypes = map[ErrorType]bool{
	TypeBizError:           true,
	TypeServiceUnavailable: true,
	TypeWorkflowError:      true,
	TypeModelError:         true,
	TypeModelNotFound:      true,
	TypeUploadFailed:       true,
	TypeEmptyResult:        true,
	TypeInvalidAPIKey:      true,
	TypePermissionDenied:   true,
}

// NormalizedError is the only error shape returned across the gateway boundary.
type NormalizedError struct {
	Type     ErrorType              `json:"errorType"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Provider string                 `json:"provider"`
}

func (e *NormalizedError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Provider, e.Message)
}

// Is matches another NormalizedError with the same Type, so callers can write
// errors.Is(err, &comfyerr.NormalizedError{Type: comfyerr.TypeModelNotFound}).
func (e *NormalizedError) Is(target error) bool {
	t, ok := target.(*NormalizedError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// TypeOf returns the normalized type of err, or "" if err is not normalized.
func TypeOf(err error) ErrorType {
	if ne, ok := err.(*NormalizedError); ok {
		return ne.Type
	}
	return ""
}
