package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patseev/caliban/engine"
)

func newHTTPServer(t *testing.T, cfg Config, eng engine.Engine) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewServer(cfg, eng, logger, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(s.handleEndpoint))
	t.Cleanup(ts.Close)
	return ts
}

func echoEngine() *fakeEngine {
	return &fakeEngine{executeFn: func(_ context.Context, req engine.Request, _ engine.Options) (*engine.Result, error) {
		data, _ := json.Marshal(map[string]any{
			"query":     req.Query,
			"variables": req.Variables,
		})
		return engine.SingleResult(&engine.Response{Data: data}), nil
	}}
}

func decodeResponse(t *testing.T, resp *http.Response) engine.Response {
	t.Helper()
	defer resp.Body.Close()
	var body engine.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHTTPPostJSON(t *testing.T) {
	ts := newHTTPServer(t, Config{}, echoEngine())

	payload := `{"query":"{ hello }","variables":{"n":1}}`
	resp, err := http.Post(ts.URL, contentTypeJSON, strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeJSON, resp.Header.Get("Content-Type"))

	body := decodeResponse(t, resp)
	assert.JSONEq(t, `{"query":"{ hello }","variables":{"n":1}}`, string(body.Data))
	assert.Empty(t, body.Errors)
}

func TestHTTPPostRawGraphQL(t *testing.T) {
	ts := newHTTPServer(t, Config{}, echoEngine())

	resp, err := http.Post(ts.URL, contentTypeGraphQL+"; charset=utf-8",
		strings.NewReader("{ hello }"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeResponse(t, resp)
	assert.JSONEq(t, `{"query":"{ hello }","variables":null}`, string(body.Data))
}

func TestHTTPGetWithVariables(t *testing.T) {
	ts := newHTTPServer(t, Config{}, echoEngine())

	params := url.Values{}
	params.Set("query", "query($n: Int) { echo(n: $n) }")
	params.Set("variables", `{"n":42}`)

	resp, err := http.Get(ts.URL + "?" + params.Encode())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeResponse(t, resp)
	assert.JSONEq(t, `{"query":"query($n: Int) { echo(n: $n) }","variables":{"n":42}}`, string(body.Data))
}

func TestHTTPMalformedRequests(t *testing.T) {
	ts := newHTTPServer(t, Config{}, echoEngine())

	tests := []struct {
		name string
		do   func() (*http.Response, error)
	}{
		{"invalid JSON body", func() (*http.Response, error) {
			return http.Post(ts.URL, contentTypeJSON, strings.NewReader("{not json"))
		}},
		{"missing query in body", func() (*http.Response, error) {
			return http.Post(ts.URL, contentTypeJSON, strings.NewReader(`{"operationName":"x"}`))
		}},
		{"missing query param", func() (*http.Response, error) {
			return http.Get(ts.URL)
		}},
		{"invalid variables param", func() (*http.Response, error) {
			return http.Get(ts.URL + "?query=%7Bx%7D&variables=not-json")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.do()
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			body := decodeResponse(t, resp)
			require.NotEmpty(t, body.Errors)
		})
	}
}

func TestHTTPEngineFailureReturns200WithErrors(t *testing.T) {
	eng := &fakeEngine{executeFn: func(context.Context, engine.Request, engine.Options) (*engine.Result, error) {
		return nil, io.ErrUnexpectedEOF
	}}
	ts := newHTTPServer(t, Config{}, eng)

	resp, err := http.Post(ts.URL, contentTypeJSON, strings.NewReader(`{"query":"{ x }"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeResponse(t, resp)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), body.Errors[0].Message)
	assert.Empty(t, body.Data)
}

func TestHTTPSubscriptionRejected(t *testing.T) {
	eng := &fakeEngine{executeFn: func(ctx context.Context, _ engine.Request, _ engine.Options) (*engine.Result, error) {
		events := make(chan engine.StreamEvent)
		close(events)
		return engine.StreamResult("ticks", events), nil
	}}
	ts := newHTTPServer(t, Config{}, eng)

	resp, err := http.Post(ts.URL, contentTypeJSON,
		strings.NewReader(`{"query":"subscription { ticks }"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeResponse(t, resp)
	require.NotEmpty(t, body.Errors)
	assert.Contains(t, body.Errors[0].Message, "WebSocket")
}

func TestHTTPMethodNotAllowed(t *testing.T) {
	ts := newHTTPServer(t, Config{}, echoEngine())

	req, err := http.NewRequest(http.MethodDelete, ts.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET, POST", resp.Header.Get("Allow"))
}

func TestHTTPBodyTooLarge(t *testing.T) {
	ts := newHTTPServer(t, Config{MaxRequestSize: 64}, echoEngine())

	big := `{"query":"` + strings.Repeat("x", 256) + `"}`
	resp, err := http.Post(ts.URL, contentTypeJSON, bytes.NewReader([]byte(big)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
