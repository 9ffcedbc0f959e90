package graphql

import (
	"encoding/json"
)

// Subprotocol is the WebSocket subprotocol negotiated during the upgrade.
const Subprotocol = "graphql-ws"

// Client → server message types. Any other type is a deliberate no-op.
const (
	MsgConnectionInit      = "connection_init"
	MsgConnectionTerminate = "connection_terminate"
	MsgStart               = "start"
	MsgStop                = "stop"
)

// Server → client message types.
const (
	MsgConnectionAck = "connection_ack"
	MsgKeepAlive     = "ka"
	MsgData          = "data"
	MsgError         = "error"
	MsgComplete      = "complete"
)

// OperationMessage is the discriminated protocol message exchanged as JSON
// text frames over the socket. ID and Payload are present depending on Type.
type OperationMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// errorPayload is the payload of an "error" message scoped to one operation.
type errorPayload struct {
	Message string `json:"message"`
}

// frameKind discriminates outbound frames on the multiplexer queue.
type frameKind int

const (
	// frameText is a JSON-encoded protocol message.
	frameText frameKind = iota
	// frameClose is a WebSocket close control frame.
	frameClose
	// frameEnd is the end-of-stream marker: draining it completes the
	// outbound stream and closes the socket.
	frameEnd
)

// frame is one unit on the outbound multiplexer queue.
type frame struct {
	kind frameKind
	data []byte
}

// textFrame encodes msg as a text frame. Encoding an OperationMessage cannot
// fail; the payload is already raw JSON.
func textFrame(msg OperationMessage) frame {
	data, _ := json.Marshal(msg)
	return frame{kind: frameText, data: data}
}

// ackMessage is the acknowledgment sent in response to connection_init.
func ackMessage() OperationMessage {
	return OperationMessage{Type: MsgConnectionAck}
}

// kaMessage is a single keep-alive heartbeat.
func kaMessage() OperationMessage {
	return OperationMessage{Type: MsgKeepAlive}
}

// dataMessage wraps an execution payload for the given operation id.
func dataMessage(id string, payload json.RawMessage) OperationMessage {
	return OperationMessage{ID: id, Type: MsgData, Payload: payload}
}

// errorMessage reports a subscription-stream failure scoped to one id.
func errorMessage(id, message string) OperationMessage {
	payload, _ := json.Marshal(errorPayload{Message: message})
	return OperationMessage{ID: id, Type: MsgError, Payload: payload}
}

// completeMessage signals graceful termination of the operation's stream.
func completeMessage(id string) OperationMessage {
	return OperationMessage{ID: id, Type: MsgComplete}
}
