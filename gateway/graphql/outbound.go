package graphql

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/patseev/caliban/errors"
	"github.com/patseev/caliban/pkg/queue"
)

// writeTimeout bounds a single WebSocket write before the connection is
// considered dead.
const writeTimeout = 10 * time.Second

// frameWriter is the subset of *websocket.Conn the drain loop needs.
// Narrowed for testability.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// outbound is the per-connection outbound multiplexer. Producers (the
// dispatcher, the keep-alive loop, every streaming task) enqueue frames
// concurrently; a single drain goroutine performs all socket writes, so
// frames are never interleaved and per-producer order is preserved.
//
// The queue is unbounded: a slow client grows the queue rather than
// blocking or dropping. Memory is bounded only by the client lagging.
type outbound struct {
	q *queue.Queue[frame]
}

func newOutbound() *outbound {
	return &outbound{q: queue.New[frame]()}
}

// send enqueues one protocol message. Enqueueing after the stream has ended
// is a silent no-op: late frames from a racing producer have nowhere to go.
func (o *outbound) send(msg OperationMessage) {
	_ = o.q.Push(textFrame(msg))
}

// terminate enqueues the close handshake followed by the end-of-stream
// marker. Frames already queued ahead of it still flush first.
func (o *outbound) terminate() {
	_ = o.q.Push(frame{kind: frameClose})
	_ = o.q.Push(frame{kind: frameEnd})
}

// close ends the stream without a close frame. Used when the socket is
// already gone.
func (o *outbound) close() {
	o.q.Close()
}

// depth reports the number of frames waiting to be written.
func (o *outbound) depth() int {
	return o.q.Len()
}

// drain is the single consumer loop. It writes queued frames to w until the
// end-of-stream marker is drained, the queue is closed, the context is
// canceled, or a write fails. Exactly one drain runs per connection.
func (o *outbound) drain(ctx context.Context, w frameWriter) error {
	for {
		f, err := o.q.Pop(ctx)
		if err != nil {
			// Queue closed or context canceled: nothing left to flush.
			return nil
		}

		switch f.kind {
		case frameText:
			_ = w.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := w.WriteMessage(websocket.TextMessage, f.data); err != nil {
				return errors.WrapTransient(err, "outbound", "drain",
					"socket write failed")
			}
		case frameClose:
			_ = w.SetWriteDeadline(time.Now().Add(writeTimeout))
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := w.WriteMessage(websocket.CloseMessage, msg); err != nil {
				return errors.WrapTransient(err, "outbound", "drain",
					"close frame write failed")
			}
		case frameEnd:
			return nil
		}
	}
}
