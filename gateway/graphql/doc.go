// Package graphql implements the GraphQL gateway endpoint.
//
// A single path serves two transports. Plain HTTP requests (GET with query
// parameters, POST with a JSON body or a raw application/graphql body) run
// one execution and return one JSON response. WebSocket upgrades speak the
// graphql-ws subprotocol: the client initializes the connection with
// connection_init, starts operations with start{id, payload}, and cancels
// them with stop{id}; the server answers with connection_ack, optional ka
// heartbeats, and per-operation data, error, and complete messages.
//
// Each connection runs one inbound dispatcher goroutine, one outbound drain
// goroutine, an optional keep-alive loop, and one goroutine per in-flight
// operation. All socket writes funnel through an unbounded per-connection
// queue so concurrent operations never interleave frames.
//
// Execution is delegated to an engine.Engine; this package knows the wire
// protocol and nothing about schemas or resolvers.
package graphql
