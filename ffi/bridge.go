package ffi

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	opbridge "github.com/wippyai/op-bridge"
)

const tracerName = "github.com/wippyai/op-bridge/ffi"

// Entry names used for spans, logs and metric labels.
const (
	EntryInitClient     = "init_client"
	EntryInitClientSync = "init_client_sync"
	EntryReleaseClient  = "release_client"
	EntryInvoke         = "invoke"
	EntryInvokeSync     = "invoke_sync"
)

// Bridge exposes the entry points of the native core. The contract is
// validated once, before the first entry point reaches the library. A
// failed validation poisons the bridge: every entry point panics.
//
// A Bridge is safe for concurrent use.
type Bridge struct {
	lib            opbridge.Library
	metrics        *Metrics
	tracer         trace.Tracer
	validateErr    error
	validateOnce   sync.Once
	skipValidation bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithMetrics records calls into m.
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithTracerProvider sets the provider spans are created from. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Bridge) { b.tracer = tp.Tracer(tracerName) }
}

// WithSkipValidation disables the contract gate. Only for tools that
// inspect a library without calling into it.
func WithSkipValidation() Option {
	return func(b *Bridge) { b.skipValidation = true }
}

// New creates a bridge over lib.
func New(lib opbridge.Library, opts ...Option) *Bridge {
	b := &Bridge{lib: lib}
	for _, opt := range opts {
		opt(b)
	}
	if b.tracer == nil {
		b.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	return b
}

// Library returns the underlying native library.
func (b *Bridge) Library() opbridge.Library {
	return b.lib
}

// Check runs the contract validation once and returns its result.
func (b *Bridge) Check() error {
	b.validateOnce.Do(func() {
		if b.skipValidation {
			return
		}
		b.validateErr = CheckContract(b.lib)
		if b.validateErr != nil {
			Logger().Error("native library contract mismatch", zap.Error(b.validateErr))
		} else {
			Logger().Debug("native library contract validated",
				zap.Uint32("version", ExpectedContractVersion))
		}
	})
	return b.validateErr
}

// Validate panics if the contract validation failed.
func (b *Bridge) Validate() {
	if err := b.Check(); err != nil {
		panic(err)
	}
}

// Version returns the contract version reported by the library.
func (b *Bridge) Version() uint32 {
	return b.lib.ContractVersion()
}

// Invoke sends payload to the async invocation entry point.
func (b *Bridge) Invoke(ctx context.Context, payload []byte) (*Buffer, error) {
	return b.async(ctx, EntryInvoke, payload, b.lib.Invoke)
}

// InvokeSync sends payload to the blocking invocation entry point.
func (b *Bridge) InvokeSync(payload []byte) (*Buffer, error) {
	b.Validate()

	_, span := b.tracer.Start(context.Background(), "ffi."+EntryInvokeSync,
		trace.WithAttributes(attribute.Int("payload.bytes", len(payload))))
	defer span.End()

	start := time.Now()
	outcome := OutcomePanic
	defer func() { b.metrics.observe(EntryInvokeSync, outcome, start) }()

	in := FromBytes(b.lib, payload)
	defer in.Release()

	raw, err := rustCall(b.lib, ErrorConverter{}, func(s *opbridge.CallStatus) opbridge.RawBuffer {
		return b.lib.InvokeSync(in.IntoRaw(), s)
	})
	outcome = outcomeOf(err)
	if err != nil {
		recordError(span, EntryInvokeSync, err)
		return nil, err
	}

	out := Adopt(b.lib, raw)
	span.SetAttributes(attribute.Int("result.bytes", int(out.Len())))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// ClientID creates a native client from a serialized configuration and
// returns the buffer holding its id.
func (b *Bridge) ClientID(ctx context.Context, config []byte) (*Buffer, error) {
	return b.async(ctx, EntryInitClient, config, b.lib.InitClient)
}

// ClientIDSync is ClientID that blocks until the native side completes.
func (b *Bridge) ClientIDSync(config []byte) (*Buffer, error) {
	return b.async(context.Background(), EntryInitClientSync, config, b.lib.InitClient)
}

// FreeClient releases the native client with the given id. Release has no
// error channel: a failure is a native panic.
func (b *Bridge) FreeClient(id string) {
	b.Validate()

	_, span := b.tracer.Start(context.Background(), "ffi."+EntryReleaseClient)
	defer span.End()

	start := time.Now()
	outcome := OutcomePanic
	defer func() { b.metrics.observe(EntryReleaseClient, outcome, start) }()

	buf := FromString(b.lib, id)
	defer buf.Release()

	mustCall(b.lib, func(s *opbridge.CallStatus) struct{} {
		b.lib.ReleaseClient(buf.IntoRaw(), s)
		return struct{}{}
	})
	outcome = OutcomeOK
	Logger().Debug("released native client", zap.String("client_id", id))
}

func (b *Bridge) async(
	ctx context.Context,
	entry string,
	payload []byte,
	start func(opbridge.RawBuffer) opbridge.FutureHandle,
) (*Buffer, error) {
	b.Validate()

	ctx, span := b.tracer.Start(ctx, "ffi."+entry,
		trace.WithAttributes(attribute.Int("payload.bytes", len(payload))))
	defer span.End()

	began := time.Now()
	outcome := OutcomePanic
	defer func() { b.metrics.observe(entry, outcome, began) }()

	in := FromBytes(b.lib, payload)
	defer in.Release()

	fut := NewFuture(b.lib, b.lib.BufferFutures(), start(in.IntoRaw()), ErrorConverter{})

	raw, err := fut.Await(ctx)
	outcome = outcomeOf(err)
	if err != nil {
		recordError(span, entry, err)
		return nil, err
	}

	out := Adopt(b.lib, raw)
	span.SetAttributes(attribute.Int("result.bytes", int(out.Len())))
	span.SetStatus(codes.Ok, "")
	Logger().Debug("native call completed",
		zap.String("entry", entry),
		zap.Duration("elapsed", time.Since(began)),
		zap.Uint32("result_bytes", out.Len()))
	return out, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

func recordError(span trace.Span, entry string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	fields := []zap.Field{zap.String("entry", entry), zap.Error(err)}
	if code, ok := ErrorCode(err); ok {
		fields = append(fields, zap.Int32("code", code))
	}
	Logger().Debug("native call failed", fields...)
}
