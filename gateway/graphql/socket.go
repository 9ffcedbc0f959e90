package graphql

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/patseev/caliban/engine"
	"github.com/patseev/caliban/errors"
)

// session owns one upgraded WebSocket connection: the inbound dispatcher
// loop, the keep-alive loop, the operation registry, and the outbound
// multiplexer. All writes to the socket go through the multiplexer's single
// drain goroutine.
type session struct {
	id        string
	conn      *websocket.Conn
	engine    engine.Engine
	opts      engine.Options
	keepAlive time.Duration

	out      *outbound
	registry *operationRegistry
	logger   *slog.Logger
	metrics  *metrics

	// wg tracks the keep-alive loop and every operation task so
	// teardown can wait for them.
	wg     sync.WaitGroup
	kaOnce sync.Once
}

func newSession(conn *websocket.Conn, eng engine.Engine, opts engine.Options,
	keepAlive time.Duration, logger *slog.Logger, m *metrics) *session {
	id := uuid.NewString()
	return &session{
		id:        id,
		conn:      conn,
		engine:    eng,
		opts:      opts,
		keepAlive: keepAlive,
		out:       newOutbound(),
		registry:  newOperationRegistry(),
		logger:    logger.With("session", id),
		metrics:   m,
	}
}

// run services the connection until the client disconnects, sends an
// undecodable frame, or the parent context is canceled. It blocks for the
// lifetime of the connection.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.metrics.connectionOpened()
	s.logger.Info("connection opened", "remote", s.conn.RemoteAddr().String())

	// The read loop blocks in ReadMessage; closing the socket is the only
	// way to unblock it when the parent context tears the session down.
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	// The drain loop deliberately outlives ctx: frames queued before
	// teardown (the close handshake in particular) still flush. It stops
	// when the end-of-stream marker is drained, the queue is closed, or
	// a write fails. Completing the outbound stream closes the socket, so
	// a client that never echoes the close frame cannot hold the read
	// loop open.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		if err := s.out.drain(context.Background(), s.conn); err != nil {
			s.logger.Debug("outbound drain stopped", "error", err)
		}
		_ = s.conn.Close()
	}()

	err := s.readLoop(ctx)

	// Teardown: stop producers first, then end the outbound stream, then
	// close the socket.
	cancel()
	s.registry.cancelAll()
	s.wg.Wait()
	s.out.close()
	<-writeDone
	_ = s.conn.Close()

	s.metrics.connectionClosed()
	if err != nil {
		s.logger.Warn("connection closed", "error", err)
		return
	}
	s.logger.Info("connection closed")
}

// readLoop is the inbound dispatcher: it decodes protocol messages from the
// socket one at a time and dispatches on type. Unknown message types are
// ignored; a frame that is not valid JSON fails the whole connection.
func (s *session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				return nil
			}
			// A locally closed socket is teardown, not a transport
			// failure: the watcher or the drain goroutine closed it.
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.WrapTransient(err, "session", "readLoop",
				"socket read failed")
		}

		var msg OperationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.metrics.errored("decode")
			return errors.WrapInvalid(err, "session", "readLoop",
				"undecodable protocol frame")
		}
		s.metrics.messageReceived(msg.Type)

		switch msg.Type {
		case MsgConnectionInit:
			s.out.send(ackMessage())
			s.metrics.frameSent(MsgConnectionAck)
			if s.keepAlive > 0 {
				s.startKeepAlive(ctx)
			}

		case MsgConnectionTerminate:
			// Close handshake only: live operations and the
			// keep-alive loop keep running until the socket
			// actually closes.
			s.out.terminate()

		case MsgStart:
			s.startOperation(ctx, msg.ID, msg.Payload)

		case MsgStop:
			if cancel, ok := s.registry.remove(msg.ID); ok {
				cancel()
			}

		default:
			// Per protocol, anything else is a no-op.
		}
	}
}

// startKeepAlive starts the heartbeat loop at most once per connection. The
// first ka is sent immediately after the ack, then one per interval until
// the connection tears down.
func (s *session) startKeepAlive(ctx context.Context) {
	s.kaOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			ticker := time.NewTicker(s.keepAlive)
			defer ticker.Stop()

			s.out.send(kaMessage())
			s.metrics.frameSent(MsgKeepAlive)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.out.send(kaMessage())
					s.metrics.frameSent(MsgKeepAlive)
				}
			}
		}()
	})
}
