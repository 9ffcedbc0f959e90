//go:build integration
// +build integration

package natsengine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/patseev/caliban/engine"
	"github.com/patseev/caliban/engine/natsengine"
	"github.com/patseev/caliban/natsclient"
)

// startNATSContainer starts a NATS container and returns the container and connection URL
func startNATSContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForLog("Server is ready"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	natsURL := fmt.Sprintf("nats://%s:%s", host, port.Port())
	return container, natsURL
}

func newEngine(t *testing.T, nc *nats.Conn) *natsengine.Engine {
	t.Helper()

	client := &natsclient.Client{}
	client.SetConnection(nc)

	eng, err := natsengine.New(client, natsengine.Config{
		RequestSubject: "graphql.execute",
		Timeout:        "3s",
	}, nil)
	require.NoError(t, err)
	return eng
}

// TestIntegration_QueryRoundTrip tests a query answered over request/reply
func TestIntegration_QueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	natsContainer, natsURL := startNATSContainer(t, ctx)
	defer natsContainer.Terminate(ctx)

	nc, err := nats.Connect(natsURL)
	require.NoError(t, err)
	defer nc.Close()

	// Mock execution service
	_, err = nc.Subscribe("graphql.execute", func(msg *nats.Msg) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(msg.Data, &req)

		reply := map[string]any{
			"data": map[string]any{"echo": req.Query},
		}
		data, _ := json.Marshal(reply)
		msg.Respond(data)
	})
	require.NoError(t, err)
	nc.Flush()

	eng := newEngine(t, nc)

	queryCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := eng.Execute(queryCtx, engine.Request{Query: "{ echo }"}, engine.Options{})
	require.NoError(t, err)
	require.False(t, result.Streaming())
	assert.JSONEq(t, `{"echo":"{ echo }"}`, string(result.Response.Data))
	assert.Empty(t, result.Response.Errors)
}

// TestIntegration_SubscriptionStream tests the stream handshake and item flow
func TestIntegration_SubscriptionStream(t *testing.T) {
	ctx := context.Background()
	natsContainer, natsURL := startNATSContainer(t, ctx)
	defer natsContainer.Terminate(ctx)

	nc, err := nats.Connect(natsURL)
	require.NoError(t, err)
	defer nc.Close()

	const streamSubject = "graphql.stream.test-op"

	// Mock execution service: announce the stream, then publish items
	_, err = nc.Subscribe("graphql.execute", func(msg *nats.Msg) {
		reply := map[string]any{
			"stream": map[string]string{
				"field":   "ticks",
				"subject": streamSubject,
			},
		}
		data, _ := json.Marshal(reply)
		msg.Respond(data)

		go func() {
			for i := 1; i <= 3; i++ {
				item, _ := json.Marshal(map[string]any{"value": i})
				nc.Publish(streamSubject, item)
			}
			done, _ := json.Marshal(map[string]any{"done": true})
			nc.Publish(streamSubject, done)
		}()
	})
	require.NoError(t, err)
	nc.Flush()

	eng := newEngine(t, nc)

	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := eng.Execute(opCtx, engine.Request{Query: "subscription { ticks }"}, engine.Options{})
	require.NoError(t, err)
	require.True(t, result.Streaming())
	assert.Equal(t, "ticks", result.Field)

	var values []string
	for ev := range result.Events {
		require.NoError(t, ev.Err)
		values = append(values, string(ev.Value))
	}
	assert.Equal(t, []string{"1", "2", "3"}, values)
}

// TestIntegration_SubscriptionCancel tests that canceling the operation
// context ends the stream
func TestIntegration_SubscriptionCancel(t *testing.T) {
	ctx := context.Background()
	natsContainer, natsURL := startNATSContainer(t, ctx)
	defer natsContainer.Terminate(ctx)

	nc, err := nats.Connect(natsURL)
	require.NoError(t, err)
	defer nc.Close()

	const streamSubject = "graphql.stream.cancel-op"

	_, err = nc.Subscribe("graphql.execute", func(msg *nats.Msg) {
		reply := map[string]any{
			"stream": map[string]string{
				"field":   "ticks",
				"subject": streamSubject,
			},
		}
		data, _ := json.Marshal(reply)
		msg.Respond(data)
	})
	require.NoError(t, err)
	nc.Flush()

	eng := newEngine(t, nc)

	opCtx, cancel := context.WithCancel(ctx)
	result, err := eng.Execute(opCtx, engine.Request{Query: "subscription { ticks }"}, engine.Options{})
	require.NoError(t, err)
	require.True(t, result.Streaming())

	cancel()

	select {
	case _, ok := <-result.Events:
		assert.False(t, ok, "events channel must close on cancellation")
	case <-time.After(3 * time.Second):
		t.Fatal("events channel did not close after cancellation")
	}
}

// TestIntegration_StreamFailure tests that a service-reported stream error
// surfaces as a terminal event
func TestIntegration_StreamFailure(t *testing.T) {
	ctx := context.Background()
	natsContainer, natsURL := startNATSContainer(t, ctx)
	defer natsContainer.Terminate(ctx)

	nc, err := nats.Connect(natsURL)
	require.NoError(t, err)
	defer nc.Close()

	const streamSubject = "graphql.stream.failing-op"

	_, err = nc.Subscribe("graphql.execute", func(msg *nats.Msg) {
		reply := map[string]any{
			"stream": map[string]string{
				"field":   "ticks",
				"subject": streamSubject,
			},
		}
		data, _ := json.Marshal(reply)
		msg.Respond(data)

		go func() {
			item, _ := json.Marshal(map[string]any{"value": 1})
			nc.Publish(streamSubject, item)
			failure, _ := json.Marshal(map[string]any{"error": "resolver panic"})
			nc.Publish(streamSubject, failure)
		}()
	})
	require.NoError(t, err)
	nc.Flush()

	eng := newEngine(t, nc)

	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := eng.Execute(opCtx, engine.Request{Query: "subscription { ticks }"}, engine.Options{})
	require.NoError(t, err)

	ev, ok := <-result.Events
	require.True(t, ok)
	require.NoError(t, ev.Err)
	assert.Equal(t, "1", string(ev.Value))

	ev, ok = <-result.Events
	require.True(t, ok)
	require.Error(t, ev.Err)
	assert.Equal(t, "resolver panic", ev.Err.Error())

	_, ok = <-result.Events
	assert.False(t, ok, "stream must close after a terminal error")
}

// TestIntegration_NoResponders tests error mapping when no execution service
// is listening
func TestIntegration_NoResponders(t *testing.T) {
	ctx := context.Background()
	natsContainer, natsURL := startNATSContainer(t, ctx)
	defer natsContainer.Terminate(ctx)

	nc, err := nats.Connect(natsURL)
	require.NoError(t, err)
	defer nc.Close()

	eng := newEngine(t, nc)

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = eng.Execute(queryCtx, engine.Request{Query: "{ x }"}, engine.Options{})
	require.Error(t, err)

	gqlErr, ok := err.(*gqlerror.Error)
	require.True(t, ok)
	assert.Equal(t, "SERVICE_UNAVAILABLE", gqlErr.Extensions["code"])
}
