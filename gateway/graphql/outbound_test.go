package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patseev/caliban/errors"
)

// recordingWriter captures frames the drain loop would write to the socket.
type recordingWriter struct {
	mu     sync.Mutex
	frames []recordedFrame
	err    error
}

type recordedFrame struct {
	messageType int
	data        []byte
}

func (w *recordingWriter) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	w.frames = append(w.frames, recordedFrame{messageType: messageType, data: buf})
	return nil
}

func (w *recordingWriter) SetWriteDeadline(time.Time) error { return nil }

func (w *recordingWriter) recorded() []recordedFrame {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]recordedFrame, len(w.frames))
	copy(out, w.frames)
	return out
}

func TestOutboundPreservesOrder(t *testing.T) {
	o := newOutbound()
	for i := 0; i < 10; i++ {
		o.send(dataMessage(fmt.Sprintf("%d", i), nil))
	}
	o.close()

	w := &recordingWriter{}
	require.NoError(t, o.drain(context.Background(), w))

	frames := w.recorded()
	require.Len(t, frames, 10)
	for i, f := range frames {
		assert.Equal(t, websocket.TextMessage, f.messageType)
		assert.Contains(t, string(f.data), fmt.Sprintf(`"id":"%d"`, i))
	}
}

func TestOutboundTerminateStopsAtEndMarker(t *testing.T) {
	o := newOutbound()
	o.send(ackMessage())
	o.terminate()
	// Enqueued behind the end marker, must never reach the socket
	o.send(kaMessage())

	w := &recordingWriter{}
	require.NoError(t, o.drain(context.Background(), w))

	frames := w.recorded()
	require.Len(t, frames, 2)
	assert.Equal(t, websocket.TextMessage, frames[0].messageType)
	assert.Equal(t, websocket.CloseMessage, frames[1].messageType)
	assert.Equal(t, 1, o.depth())
}

func TestOutboundCloseFlushesPending(t *testing.T) {
	o := newOutbound()
	o.send(ackMessage())
	o.send(kaMessage())
	o.close()

	w := &recordingWriter{}
	require.NoError(t, o.drain(context.Background(), w))
	assert.Len(t, w.recorded(), 2)
}

func TestOutboundSendAfterCloseIsNoOp(t *testing.T) {
	o := newOutbound()
	o.close()
	o.send(ackMessage())

	w := &recordingWriter{}
	require.NoError(t, o.drain(context.Background(), w))
	assert.Empty(t, w.recorded())
}

func TestOutboundWriteFailure(t *testing.T) {
	o := newOutbound()
	o.send(ackMessage())

	w := &recordingWriter{err: fmt.Errorf("broken pipe")}
	err := o.drain(context.Background(), w)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestOutboundDrainStopsOnContextCancel(t *testing.T) {
	o := newOutbound()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- o.drain(ctx, &recordingWriter{})
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not stop on context cancellation")
	}
}

func TestOutboundConcurrentProducers(t *testing.T) {
	o := newOutbound()

	const producers = 8
	const perProducer = 50

	// Marshal on the test goroutine; require.NoError must not run in a
	// producer.
	payloads := make([]json.RawMessage, perProducer)
	for i := range payloads {
		payloads[i] = mustJSON(t, map[string]int{"seq": i})
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				o.send(dataMessage(fmt.Sprintf("p%d", p), payloads[i]))
			}
		}(p)
	}
	wg.Wait()
	o.close()

	w := &recordingWriter{}
	require.NoError(t, o.drain(context.Background(), w))
	assert.Len(t, w.recorded(), producers*perProducer)
}
