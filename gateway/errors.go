package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/richinsley/comfyflow/client"
	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/richinsley/comfyflow/graphapi"
)

// serviceError turns a client or transport failure into a domain error.
// Domain errors pass through; anything unrecognized gets the fallback reason.
func serviceError(err error, fallback comfyerr.Reason, message string) error {
	var de *comfyerr.Error
	var ne *comfyerr.NormalizedError
	if errors.As(err, &de) || errors.As(err, &ne) {
		return err
	}

	var rejected *client.PromptRejectedError
	if errors.As(err, &rejected) {
		return comfyerr.NewServicesError(comfyerr.ReasonExecutionFailed, rejected.Error(), map[string]interface{}{
			"statusCode": rejected.StatusCode,
			"errorType":  rejected.Response.Error.Type,
			"nodeErrors": rejected.Response.NodeErrors,
		}).Wrap(err)
	}

	var herr *client.HTTPError
	if errors.As(err, &herr) {
		details := map[string]interface{}{"statusCode": herr.StatusCode, "path": herr.Path}
		switch herr.StatusCode {
		case http.StatusUnauthorized:
			return comfyerr.NewServicesError(comfyerr.ReasonInvalidAuth, "backend rejected the credentials", details).Wrap(err)
		case http.StatusForbidden:
			return comfyerr.NewServicesError(comfyerr.ReasonPermissionDenied, "backend denied access", details).Wrap(err)
		}
		return comfyerr.NewServicesError(fallback, message, details).Wrap(err)
	}

	var xerr *client.ExecutionError
	if errors.As(err, &xerr) {
		details := map[string]interface{}{"promptId": xerr.PromptID, "stopReason": string(xerr.Reason)}
		if x := xerr.Exception; x != nil {
			details["nodeId"] = x.NodeID
			details["nodeType"] = x.NodeType
			details["exceptionType"] = x.ExceptionType
			details["exceptionMessage"] = x.ExceptionMessage
		}
		reason := comfyerr.ReasonExecutionFailed
		if xerr.Reason == client.QueuedItemStoppedReasonDisconnected {
			reason = comfyerr.ReasonConnectionFailed
		}
		return comfyerr.NewServicesError(reason, xerr.Error(), details).Wrap(err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return comfyerr.NewServicesError(comfyerr.ReasonConnectionFailed, message+": "+err.Error(), nil).Wrap(err)
	}
	return comfyerr.NewServicesError(fallback, message, nil).Wrap(err)
}

// definitionError maps a mismatch between a graph and the server's node
// definitions. An unavailable combo value usually is a model file that is not
// installed.
func definitionError(err error) error {
	var derr *graphapi.DefinitionError
	if !errors.As(err, &derr) {
		return comfyerr.NewWorkflowError(comfyerr.ReasonInvalidConfig, "graph is invalid", nil).Wrap(err)
	}
	details := map[string]interface{}{"nodeId": derr.NodeID, "classType": derr.ClassType}
	if derr.Input != "" {
		details["input"] = derr.Input
	}
	switch derr.Problem {
	case graphapi.MissingClass, graphapi.MissingInput:
		return comfyerr.NewWorkflowError(comfyerr.ReasonInvalidConfig, derr.Error(), details).Wrap(err)
	}
	var combo *graphapi.ComboValueError
	if errors.As(err, &combo) {
		details["value"] = combo.Value
		return comfyerr.NewModelResolverError(comfyerr.ReasonModelNotFound, derr.Error(), details).Wrap(err)
	}
	return comfyerr.NewWorkflowError(comfyerr.ReasonInvalidParams, derr.Error(), details).Wrap(err)
}
