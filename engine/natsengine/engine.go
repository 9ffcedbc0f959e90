// Package natsengine executes GraphQL operations by delegating to an
// execution service over NATS request/reply.
//
// Queries and mutations are one request and one reply on the configured
// subject. Subscriptions use the same handshake, but the reply carries a
// stream descriptor instead of data: a per-operation NATS subject the
// service publishes items to until the subscription ends. The engine
// subscribes to that subject and adapts it to the engine.Engine stream
// contract; unsubscribing on context cancellation tells the service side to
// stop producing.
package natsengine

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/patseev/caliban/engine"
	"github.com/patseev/caliban/errors"
	"github.com/patseev/caliban/natsclient"
	"github.com/patseev/caliban/pkg/retry"
)

// wireRequest is the payload sent to the execution service.
type wireRequest struct {
	Query               string         `json:"query"`
	OperationName       string         `json:"operationName,omitempty"`
	Variables           map[string]any `json:"variables,omitempty"`
	Extensions          map[string]any `json:"extensions,omitempty"`
	SkipValidation      bool           `json:"skipValidation,omitempty"`
	EnableIntrospection bool           `json:"enableIntrospection"`
}

// wireReply is the service's answer. Either Data/Errors hold a complete
// result, or Stream describes where subscription items will be published.
type wireReply struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors gqlerror.List   `json:"errors,omitempty"`
	Stream *wireStream     `json:"stream,omitempty"`
}

type wireStream struct {
	Field   string `json:"field"`
	Subject string `json:"subject"`
}

// wireItem is one message on a stream subject. Value carries an item; Done
// marks graceful exhaustion; Error reports a terminal stream failure.
type wireItem struct {
	Value  json.RawMessage `json:"value,omitempty"`
	Errors gqlerror.List   `json:"errors,omitempty"`
	Done   bool            `json:"done,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Config holds the engine configuration.
type Config struct {
	// RequestSubject is the request/reply subject of the execution
	// service.
	RequestSubject string `json:"request_subject"`

	// Timeout bounds one request/reply round trip. Duration string;
	// empty selects the default.
	Timeout string `json:"timeout,omitempty"`

	// StreamBuffer is the channel buffer for inbound stream messages.
	StreamBuffer int `json:"stream_buffer,omitempty"`

	timeout time.Duration
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.RequestSubject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"request_subject is required")
	}

	if c.Timeout == "" {
		c.timeout = 5 * time.Second
	} else {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil || d <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"timeout must be a positive duration")
		}
		c.timeout = d
	}

	if c.StreamBuffer < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"stream_buffer must not be negative")
	}
	if c.StreamBuffer == 0 {
		c.StreamBuffer = 64
	}

	return nil
}

// RequestTimeout returns the parsed round-trip timeout.
func (c *Config) RequestTimeout() time.Duration { return c.timeout }

// Engine is a NATS-backed engine.Engine.
type Engine struct {
	client *natsclient.Client
	config Config
	logger *slog.Logger
	retry  retry.Config
}

// New creates a NATS-backed execution engine.
func New(client *natsclient.Client, config Config, logger *slog.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Engine", "New", "config validation")
	}
	if client == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "Engine", "New",
			"NATS client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Only no-responder failures retry; anything else either executed or
	// must surface immediately.
	retryCfg := retry.DefaultConfig()
	retryCfg.InitialDelay = 50 * time.Millisecond
	retryCfg.MaxDelay = time.Second

	return &Engine{
		client: client,
		config: config,
		logger: logger.With("component", "natsengine"),
		retry:  retryCfg,
	}, nil
}

// Execute implements engine.Engine.
func (e *Engine) Execute(ctx context.Context, req engine.Request, opts engine.Options) (*engine.Result, error) {
	conn := e.client.GetConnection()
	if conn == nil {
		return nil, mapNATSError(
			errors.WrapTransient(errors.ErrNoConnection, "Engine", "Execute",
				"NATS connection not available"),
			req.OperationName)
	}

	payload, err := json.Marshal(wireRequest{
		Query:               req.Query,
		OperationName:       req.OperationName,
		Variables:           req.Variables,
		Extensions:          req.Extensions,
		SkipValidation:      opts.SkipValidation,
		EnableIntrospection: opts.EnableIntrospection,
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Engine", "Execute", "marshal request")
	}

	msg, err := retry.DoWithResult(ctx, e.retry, func() (*nats.Msg, error) {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout(ctx))
		defer cancel()

		m, reqErr := conn.RequestWithContext(reqCtx, e.config.RequestSubject, payload)
		if reqErr == nil {
			return m, nil
		}
		if stderrors.Is(reqErr, nats.ErrNoResponders) {
			// The service may be mid-restart
			return nil, reqErr
		}
		return nil, retry.NonRetryable(reqErr)
	})
	if err != nil {
		var nre *retry.NonRetryableError
		if stderrors.As(err, &nre) {
			err = nre.Err
		}
		return nil, mapNATSError(err, req.OperationName)
	}

	var reply wireReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, mapJSONError(err, req.OperationName)
	}

	if reply.Stream == nil {
		return engine.SingleResult(&engine.Response{
			Data:   reply.Data,
			Errors: reply.Errors,
		}), nil
	}

	return e.subscribe(ctx, conn, reply.Stream, req.OperationName)
}

// subscribe attaches to the stream subject announced by the service and
// adapts its messages to the engine stream contract.
func (e *Engine) subscribe(ctx context.Context, conn *nats.Conn, stream *wireStream, operation string) (*engine.Result, error) {
	if stream.Subject == "" || stream.Field == "" {
		return nil, errors.WrapInvalid(errors.ErrSubscriptionFailed, "Engine", "subscribe",
			"stream descriptor missing field or subject")
	}

	msgCh := make(chan *nats.Msg, e.config.StreamBuffer)
	sub, err := conn.ChanSubscribe(stream.Subject, msgCh)
	if err != nil {
		return nil, mapNATSError(
			errors.WrapTransient(err, "Engine", "subscribe", "stream subscription failed"),
			operation)
	}

	e.logger.Debug("stream attached",
		"operation", operation,
		"field", stream.Field,
		"subject", stream.Subject)

	events := make(chan engine.StreamEvent)
	go e.pump(ctx, sub, msgCh, events, operation)

	return engine.StreamResult(stream.Field, events), nil
}

// pump forwards stream messages until the service signals done or error, or
// the operation's context is canceled. It owns the subscription and the
// events channel.
func (e *Engine) pump(ctx context.Context, sub *nats.Subscription, msgCh chan *nats.Msg,
	events chan<- engine.StreamEvent, operation string) {
	defer close(events)
	defer func() {
		if err := sub.Unsubscribe(); err != nil &&
			!stderrors.Is(err, nats.ErrConnectionClosed) {
			e.logger.Debug("unsubscribe failed", "operation", operation, "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case m, ok := <-msgCh:
			if !ok {
				return
			}

			var item wireItem
			if err := json.Unmarshal(m.Data, &item); err != nil {
				e.emit(ctx, events, engine.StreamEvent{
					Err: mapJSONError(err, operation),
				})
				return
			}

			switch {
			case item.Error != "":
				e.emit(ctx, events, engine.StreamEvent{
					Err: stderrors.New(item.Error),
				})
				return
			case item.Done:
				return
			default:
				if !e.emit(ctx, events, engine.StreamEvent{
					Value:  item.Value,
					Errors: item.Errors,
				}) {
					return
				}
			}
		}
	}
}

// emit delivers one event unless the context goes first.
func (e *Engine) emit(ctx context.Context, events chan<- engine.StreamEvent, ev engine.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// timeout bounds one round trip by the context deadline when it is tighter
// than the configured timeout.
func (e *Engine) timeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return e.config.timeout
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return time.Nanosecond
	}
	if remaining < e.config.timeout {
		return remaining
	}
	return e.config.timeout
}
