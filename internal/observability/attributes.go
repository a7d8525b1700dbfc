// Package observability provides metrics for the HTTP surface, the lifecycle
// core and the callback dispatcher.
package observability

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"simgateway/internal/apperrors"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrAction  = "action"
	attrOutcome = "outcome"
	attrFrom    = "from"
	attrTo      = "to"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	// Normalize paths with IDs to reduce cardinality
	// /api/run/abc123 -> /api/run/{jobId}
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func actionAttr(action string) attribute.KeyValue {
	return attribute.String(attrAction, action)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func fromAttr(status string) attribute.KeyValue {
	return attribute.String(attrFrom, status)
}

func toAttr(status string) attribute.KeyValue {
	return attribute.String(attrTo, status)
}

// normalizePath replaces the job ID segment of /api/<resource>/<id> with a placeholder.
func normalizePath(path string) string {
	const prefix = "/api/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	parts := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 3)
	if len(parts) < 2 || parts[1] == "" {
		return path
	}
	return prefix + parts[0] + "/{jobId}"
}

// OutcomeOf classifies an operation error for the outcome attribute.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrRemoteUnavailable):
		return "remote_unavailable"
	case errors.Is(err, apperrors.ErrTransfer):
		return "transfer_error"
	case errors.Is(err, apperrors.ErrRender):
		return "render_error"
	case errors.Is(err, apperrors.ErrActionNotFound):
		return "action_not_found"
	default:
		return "error"
	}
}
