package onepassword

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/op-bridge/errors"
	"github.com/wippyai/op-bridge/ffi"
)

const tracerName = "github.com/wippyai/op-bridge/onepassword"

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	tp   trace.TracerProvider
	sync bool
}

// WithSyncCalls routes invocations through the blocking entry point.
func WithSyncCalls() Option {
	return func(o *clientOptions) { o.sync = true }
}

// WithTracerProvider sets the provider for client spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *clientOptions) { o.tp = tp }
}

// session is the native client shared by every Client handle.
type session struct {
	bridge  *ffi.Bridge
	tracer  trace.Tracer
	log     *zap.Logger
	id      uint64
	uuid    uuid.UUID
	sync    bool
	refs    atomic.Int64
	release sync.Once
}

// Client is a handle to a native client. Clone hands out more handles; the
// native client is released when the last one is closed. A Client is safe
// for concurrent use.
type Client struct {
	s      *session
	closed atomic.Bool
}

// NewClient validates the core's contract and creates a native client.
func NewClient(ctx context.Context, bridge *ffi.Bridge, cfg ClientConfig, opts ...Option) (*Client, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bridge.Validate()

	s := &session{
		bridge: bridge,
		tracer: o.tp.Tracer(tracerName),
		uuid:   uuid.New(),
		sync:   o.sync,
	}

	ctx, span := s.tracer.Start(ctx, "onepassword.NewClient",
		trace.WithAttributes(attribute.String("session.id", s.uuid.String())))
	defer span.End()

	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "encode client config")
	}

	var out *ffi.Buffer
	if s.sync {
		out, err = bridge.ClientIDSync(payload)
	} else {
		out, err = bridge.ClientID(ctx, payload)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	text := out.String()
	out.Release()

	s.id, err = strconv.ParseUint(text, 10, 64)
	if err != nil {
		err = errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Cause(err).
			Detail("client id %q is not an unsigned integer", text).
			Build()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// the core created something; hand it back
		bridge.FreeClient(text)
		return nil, err
	}

	s.log = Logger().With(zap.String("session", s.uuid.String()), zap.Uint64("client_id", s.id))
	s.refs.Store(1)
	span.SetAttributes(attribute.Int64("client.id", int64(s.id)))
	span.SetStatus(codes.Ok, "")
	s.log.Info("client created", zap.String("integration", cfg.IntegrationName), zap.Bool("sync", s.sync))

	return &Client{s: s}, nil
}

// ID returns the native client id.
func (c *Client) ID() uint64 {
	return c.s.id
}

// SessionID identifies the native client in logs and traces.
func (c *Client) SessionID() uuid.UUID {
	return c.s.uuid
}

// Clone returns a new handle to the same native client.
func (c *Client) Clone() (*Client, error) {
	if c.closed.Load() {
		return nil, errors.Closed(errors.PhaseClient, "client")
	}
	for {
		n := c.s.refs.Load()
		if n <= 0 {
			return nil, errors.Closed(errors.PhaseClient, "client")
		}
		if c.s.refs.CompareAndSwap(n, n+1) {
			return &Client{s: c.s}, nil
		}
	}
}

// Close drops this handle. Closing the last handle releases the native
// client. Close is idempotent per handle.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.s.refs.Add(-1) > 0 {
		return nil
	}
	c.s.release.Do(func() {
		c.s.bridge.FreeClient(strconv.FormatUint(c.s.id, 10))
		c.s.log.Info("client released")
	})
	return nil
}

func (c *Client) check() error {
	if c.closed.Load() || c.s.refs.Load() <= 0 {
		return errors.Closed(errors.PhaseClient, "client")
	}
	return nil
}

// invoke sends one invocation and decodes its JSON result into T.
func invoke[T any](ctx context.Context, c *Client, p parameters, attrs ...attribute.KeyValue) (T, error) {
	var zero T
	if err := c.check(); err != nil {
		return zero, err
	}
	s := c.s

	attrs = append(attrs,
		attribute.String("session.id", s.uuid.String()),
		attribute.Bool("sync", s.sync))
	ctx, span := s.tracer.Start(ctx, "onepassword."+p.Name, trace.WithAttributes(attrs...))
	defer span.End()

	payload, err := encodeInvocation(s.id, p)
	if err != nil {
		return zero, err
	}

	var out *ffi.Buffer
	if s.sync {
		out, err = s.bridge.InvokeSync(payload)
	} else {
		out, err = s.bridge.Invoke(ctx, payload)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	defer out.Release()

	v, err := decodeResult[T](p.Name, out.Bytes())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("undecodable result", zap.String("invocation", p.Name), zap.Error(err))
		return zero, err
	}
	span.SetStatus(codes.Ok, "")
	return v, nil
}
