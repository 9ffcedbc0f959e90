package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

func TestResponseMarshalShape(t *testing.T) {
	resp := &Response{
		Data: json.RawMessage(`{"hello":"world"}`),
	}

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"hello":"world"}}`, string(out))
}

func TestResponseMarshalWithErrors(t *testing.T) {
	resp := &Response{
		Data:   json.RawMessage(`{"partial":1}`),
		Errors: gqlerror.List{&gqlerror.Error{Message: "field failed"}},
	}

	out, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Contains(t, decoded, "data")
	errs, ok := decoded["errors"].([]any)
	require.True(t, ok)
	require.Len(t, errs, 1)
	first, ok := errs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "field failed", first["message"])
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse(errors.New("boom"))
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "boom", resp.Errors[0].Message)
	assert.Nil(t, resp.Data)

	gqlErr := &gqlerror.Error{Message: "typed", Extensions: map[string]any{"code": "TIMEOUT"}}
	resp = ErrorResponse(gqlErr)
	require.Len(t, resp.Errors, 1)
	assert.Same(t, gqlErr, resp.Errors[0])

	resp = ErrorResponse(nil)
	assert.Empty(t, resp.Errors)
}

func TestResultStreaming(t *testing.T) {
	single := SingleResult(&Response{Data: json.RawMessage(`1`)})
	assert.False(t, single.Streaming())

	events := make(chan StreamEvent)
	close(events)
	stream := StreamResult("ticks", events)
	assert.True(t, stream.Streaming())
	assert.Equal(t, "ticks", stream.Field)
}
