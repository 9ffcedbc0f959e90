package natsengine

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/patseev/caliban/errors"
)

// mapNATSError converts NATS errors to GraphQL errors with appropriate error codes
func mapNATSError(err error, operation string) error {
	if err == nil {
		return nil
	}

	switch {
	case stderrors.Is(err, nats.ErrTimeout):
		return &gqlerror.Error{
			Message: "Query timeout - please try again",
			Extensions: map[string]interface{}{
				"code":      "TIMEOUT",
				"operation": operation,
			},
		}

	case stderrors.Is(err, nats.ErrNoResponders):
		return &gqlerror.Error{
			Message: "Service unavailable - no responders for query",
			Extensions: map[string]interface{}{
				"code":      "SERVICE_UNAVAILABLE",
				"operation": operation,
			},
		}

	case stderrors.Is(err, nats.ErrConnectionClosed):
		return &gqlerror.Error{
			Message: "Connection closed - please retry",
			Extensions: map[string]interface{}{
				"code":      "CONNECTION_CLOSED",
				"operation": operation,
			},
		}

	case stderrors.Is(err, context.DeadlineExceeded):
		return &gqlerror.Error{
			Message: "Query timeout exceeded",
			Extensions: map[string]interface{}{
				"code":      "DEADLINE_EXCEEDED",
				"operation": operation,
			},
		}

	case stderrors.Is(err, context.Canceled):
		return &gqlerror.Error{
			Message: "Query cancelled",
			Extensions: map[string]interface{}{
				"code":      "CANCELLED",
				"operation": operation,
			},
		}
	}

	if errors.IsTransient(err) {
		return &gqlerror.Error{
			Message: fmt.Sprintf("Temporary error: %s", err.Error()),
			Extensions: map[string]interface{}{
				"code":      "TRANSIENT_ERROR",
				"operation": operation,
				"retryable": true,
			},
		}
	}

	if errors.IsInvalid(err) {
		return &gqlerror.Error{
			Message: fmt.Sprintf("Invalid input: %s", err.Error()),
			Extensions: map[string]interface{}{
				"code":      "INVALID_INPUT",
				"operation": operation,
			},
		}
	}

	if errors.IsFatal(err) {
		return &gqlerror.Error{
			Message: "Internal server error",
			Extensions: map[string]interface{}{
				"code":      "INTERNAL_ERROR",
				"operation": operation,
			},
		}
	}

	return &gqlerror.Error{
		Message: fmt.Sprintf("Query failed: %s", err.Error()),
		Extensions: map[string]interface{}{
			"code":      "QUERY_ERROR",
			"operation": operation,
		},
	}
}

// mapJSONError converts JSON unmarshaling errors to GraphQL errors
func mapJSONError(err error, operation string) error {
	if err == nil {
		return nil
	}

	switch e := err.(type) {
	case *json.SyntaxError:
		return &gqlerror.Error{
			Message: "Invalid response format from service",
			Extensions: map[string]interface{}{
				"code":      "INVALID_RESPONSE",
				"operation": operation,
				"offset":    e.Offset,
			},
		}

	case *json.UnmarshalTypeError:
		return &gqlerror.Error{
			Message: fmt.Sprintf("Invalid response type: expected %s, got %s", e.Type, e.Value),
			Extensions: map[string]interface{}{
				"code":      "INVALID_RESPONSE_TYPE",
				"operation": operation,
				"field":     e.Field,
			},
		}
	}

	return &gqlerror.Error{
		Message: "Failed to parse service response",
		Extensions: map[string]interface{}{
			"code":      "PARSE_ERROR",
			"operation": operation,
		},
	}
}
