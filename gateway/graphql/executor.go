package graphql

import (
	"context"
	"encoding/json"

	"github.com/patseev/caliban/engine"
	"github.com/patseev/caliban/errors"
)

// startOperation handles a start message: it decodes the request, records a
// cancellation handle under the operation id, and runs the engine call in
// its own task so the dispatcher never blocks on execution.
//
// An undecodable start payload is dropped without failing the connection.
// If the id is already in use the previous handle is overwritten without
// being canceled; the client owns id hygiene.
func (s *session) startOperation(ctx context.Context, id string, payload json.RawMessage) {
	var req engine.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Debug("dropping undecodable start payload", "operation", id)
		s.metrics.errored("start_payload")
		return
	}

	opCtx, cancel := context.WithCancel(ctx)
	if replaced := s.registry.add(id, cancel); replaced {
		s.logger.Warn("operation id reused, previous handle replaced",
			"operation", id)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(opCtx, cancel, id, req)
	}()
}

// execute performs one engine call and routes the outcome:
//
//   - engine failure: an execution payload carrying the errors, then
//     complete. Execution failures never fail the connection.
//   - single result: the full response payload, then complete.
//   - stream: one data frame per emitted value, then complete on graceful
//     exhaustion or error on stream failure.
//
// Cancellation is not failure: once the operation's context is canceled,
// nothing further is sent for this id.
func (s *session) execute(ctx context.Context, cancel context.CancelFunc, id string, req engine.Request) {
	result, err := s.engine.Execute(ctx, req, s.opts)
	if err != nil {
		s.registry.remove(id)
		cancel()
		if errors.IsCancellation(err) || ctx.Err() != nil {
			return
		}
		s.metrics.errored("execute")
		data, _ := json.Marshal(engine.ErrorResponse(err))
		s.out.send(dataMessage(id, data))
		s.out.send(completeMessage(id))
		s.metrics.frameSent(MsgData)
		s.metrics.frameSent(MsgComplete)
		return
	}

	if !result.Streaming() {
		s.registry.remove(id)
		cancel()
		if ctx.Err() != nil {
			return
		}
		s.metrics.operationStarted("single")
		data, _ := json.Marshal(result.Response)
		s.out.send(dataMessage(id, data))
		s.out.send(completeMessage(id))
		s.metrics.frameSent(MsgData)
		s.metrics.frameSent(MsgComplete)
		return
	}

	s.metrics.operationStarted("stream")
	s.forward(ctx, id, result)
}

// forward pumps stream events into the outbound multiplexer until the
// stream ends or the operation is canceled. On exit it removes the
// operation's registry entry and releases its context; remove-and-fetch is
// atomic, so the handle is invoked exactly once even when racing a stop.
func (s *session) forward(ctx context.Context, id string, result *engine.Result) {
	defer s.metrics.operationEnded()
	defer func() {
		if cancel, ok := s.registry.remove(id); ok {
			cancel()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-result.Events:
			if ctx.Err() != nil {
				return
			}
			if !ok {
				s.out.send(completeMessage(id))
				s.metrics.frameSent(MsgComplete)
				return
			}
			if ev.Err != nil {
				if errors.IsCancellation(ev.Err) {
					return
				}
				s.metrics.errored("stream")
				s.out.send(errorMessage(id, ev.Err.Error()))
				s.metrics.frameSent(MsgError)
				return
			}
			s.out.send(dataMessage(id, streamPayload(result.Field, ev)))
			s.metrics.frameSent(MsgData)
		}
	}
}

// streamPayload shapes one stream event as an execution payload: the value
// nested under the subscription's root field, plus any field errors.
func streamPayload(field string, ev engine.StreamEvent) json.RawMessage {
	var resp engine.Response
	if field != "" {
		obj := map[string]json.RawMessage{field: ev.Value}
		resp.Data, _ = json.Marshal(obj)
	} else {
		resp.Data = ev.Value
	}
	resp.Errors = ev.Errors
	data, _ := json.Marshal(&resp)
	return data
}
