package graphql

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/patseev/caliban/engine"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeGraphQL = "application/graphql"
)

// serveHTTP handles the stateless single-shot path: one request, one
// execution, one JSON response. Malformed requests get 400; execution
// failures get 200 with the errors in the response body.
func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	var err error

	switch r.Method {
	case http.MethodGet:
		req, err = requestFromQueryParams(r)
	case http.MethodPost:
		req, err = requestFromBody(r, s.config.MaxRequestSize)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		s.metrics.errored("http_request")
		writeErrorResponse(w, status, err.Error())
		return
	}
	if req.Query == "" {
		writeErrorResponse(w, http.StatusBadRequest, "missing query")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.ExecutionTimeout())
	defer cancel()

	result, err := s.engine.Execute(ctx, req, s.opts)
	if err != nil {
		// Engine failures surface in-band, not as HTTP errors.
		s.metrics.errored("execute")
		writeJSON(w, http.StatusOK, engine.ErrorResponse(err))
		return
	}
	if result.Streaming() {
		writeErrorResponse(w, http.StatusBadRequest,
			"subscriptions require a WebSocket connection")
		return
	}

	s.metrics.operationStarted("single")
	writeJSON(w, http.StatusOK, result.Response)
}

// requestFromBody decodes a POST body. application/graphql carries the raw
// query text; everything else is treated as the standard JSON request shape.
func requestFromBody(r *http.Request, maxSize int64) (engine.Request, error) {
	var req engine.Request

	body := http.MaxBytesReader(nil, r.Body, maxSize)
	data, err := io.ReadAll(body)
	if err != nil {
		return req, err
	}

	if mediaType(r.Header.Get("Content-Type")) == contentTypeGraphQL {
		req.Query = string(data)
		return req, nil
	}

	if err := json.Unmarshal(data, &req); err != nil {
		return req, err
	}
	return req, nil
}

// requestFromQueryParams decodes a GET request. The variables and
// extensions parameters, when present, are JSON objects.
func requestFromQueryParams(r *http.Request) (engine.Request, error) {
	var req engine.Request
	params := r.URL.Query()

	req.Query = params.Get("query")
	req.OperationName = params.Get("operationName")

	if raw := params.Get("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
			return req, err
		}
	}
	if raw := params.Get("extensions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Extensions); err != nil {
			return req, err
		}
	}
	return req, nil
}

// mediaType strips any parameters ("; charset=utf-8") from a Content-Type
// header value.
func mediaType(contentType string) string {
	for i := 0; i < len(contentType); i++ {
		if contentType[i] == ';' {
			return contentType[:i]
		}
	}
	return contentType
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, &engine.Response{
		Errors: gqlerror.List{{Message: message}},
	})
}
