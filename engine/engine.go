// Package engine defines the boundary between the gateway's transports and
// the query-execution backend. Transports hand a Request to an Engine and
// receive either a single Response or a named field bound to a stream of
// values; how results are computed is entirely the engine's concern.
package engine

import (
	"context"
	"encoding/json"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Request is one client-issued GraphQL operation.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// Options carries connection-wide execution toggles. They are passed through
// to the engine unchanged for every operation on a connection.
type Options struct {
	// SkipValidation bypasses engine-side document validation.
	SkipValidation bool
	// EnableIntrospection allows introspection queries.
	EnableIntrospection bool
}

// Response is the engine's answer to a single-result operation, or one
// rendered item of a subscription. Execution failures ride in Errors next to
// whatever partial Data is available; they are never transport errors.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors gqlerror.List   `json:"errors,omitempty"`
}

// StreamEvent is one element of a subscription stream. Exactly one of the
// following holds: Value carries a produced item (with optional field-level
// Errors), or Err reports a terminal stream failure. After an event with a
// non-nil Err the stream channel is closed.
type StreamEvent struct {
	Value  json.RawMessage
	Errors gqlerror.List
	Err    error
}

// Result is the outcome of handing a Request to an Engine. Either Response
// is set (single result) or Field and Events are set (streaming result).
type Result struct {
	// Response holds the complete result of a query or mutation.
	Response *Response

	// Field names the single subscription field the stream is bound to.
	Field string
	// Events delivers produced items until exhaustion, failure, or the
	// caller's context is canceled. The engine closes the channel.
	Events <-chan StreamEvent
}

// Streaming reports whether the result binds a field to an item stream.
func (r *Result) Streaming() bool {
	return r.Events != nil
}

// Engine executes GraphQL operations. Implementations must honor ctx
// cancellation: a canceled context stops stream production and closes the
// Events channel.
type Engine interface {
	Execute(ctx context.Context, req Request, opts Options) (*Result, error)
}

// ErrorResponse builds a Response carrying a single error message and no
// data, for reporting engine-level failures inside the response body.
func ErrorResponse(err error) *Response {
	if err == nil {
		return &Response{}
	}
	if gqlErr, ok := err.(*gqlerror.Error); ok {
		return &Response{Errors: gqlerror.List{gqlErr}}
	}
	return &Response{Errors: gqlerror.List{&gqlerror.Error{Message: err.Error()}}}
}

// SingleResult wraps a Response as a non-streaming Result.
func SingleResult(resp *Response) *Result {
	return &Result{Response: resp}
}

// StreamResult binds field to an event channel as a streaming Result.
func StreamResult(field string, events <-chan StreamEvent) *Result {
	return &Result{Field: field, Events: events}
}
