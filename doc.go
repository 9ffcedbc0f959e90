// Package caliban provides a GraphQL gateway that executes operations over
// NATS and serves long-lived subscriptions to clients over WebSocket.
//
// # Architecture
//
// The gateway is a thin, stateful transport in front of a stateless
// execution service:
//
//	┌──────────────────────────────────────┐
//	│           HTTP / WebSocket           │  single-shot queries,
//	│        (gateway/graphql server)      │  graphql-ws subscriptions
//	└──────────────────┬───────────────────┘
//	                   ↓ engine.Engine
//	┌──────────────────────────────────────┐
//	│          NATS request/reply          │  one subject per service;
//	│         (engine/natsengine)          │  per-operation stream subjects
//	└──────────────────────────────────────┘
//
// Every WebSocket connection runs a small set of goroutines: an inbound
// dispatcher decoding protocol messages, a single outbound drain writing
// frames from an unbounded multiplexer queue, an optional keep-alive loop,
// and one task per in-flight operation. Operation tasks are tracked in a
// per-connection registry keyed by the client-chosen id so a stop message
// can cancel exactly the right task.
//
// # Protocol
//
// Sockets speak the graphql-ws subprotocol. The client sends
// connection_init, start{id, payload}, stop{id}, and connection_terminate;
// the server answers with connection_ack, ka heartbeats, and per-operation
// data, error, and complete messages. Execution failures travel inside data
// payloads as GraphQL errors; only an undecodable frame fails the
// connection itself.
//
// # Packages
//
// Transport:
//   - gateway/graphql: HTTP endpoint, socket sessions, protocol framing
//
// Execution:
//   - engine: the transport/executor boundary (Engine, Request, Result)
//   - engine/natsengine: NATS-backed engine with stream subjects
//
// Infrastructure:
//   - natsclient: NATS connection management
//   - metric: Prometheus metrics registry and serving
//   - errors: structured error classification
//   - pkg/queue: unbounded FIFO for frame multiplexing
//   - pkg/retry: retry policies
//
// # Binary
//
// Build and run the gateway:
//
//	go build -o bin/caliban ./cmd/caliban
//	./bin/caliban --config configs/gateway.json
//
// The execution service is any NATS responder on the configured request
// subject; subscriptions hand back a per-operation stream subject the
// service publishes items to until done.
package caliban
