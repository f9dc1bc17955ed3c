package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // opening the native library
	PhaseLink     Phase = "link"     // resolving exported symbols
	PhaseValidate Phase = "validate" // contract version and checksum gate
	PhaseCall     Phase = "call"     // synchronous native call
	PhaseAlloc    Phase = "alloc"    // buffer allocation, growth and release
	PhaseFuture   Phase = "future"   // async completion bridge
	PhaseDecode   Phase = "decode"   // native payload to Go
	PhaseEncode   Phase = "encode"   // Go to native payload
	PhaseClient   Phase = "client"   // domain client lifecycle
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindMissingSymbol    Kind = "missing_symbol"
	KindChecksumMismatch Kind = "checksum_mismatch"
	KindVersionMismatch  Kind = "version_mismatch"
	KindPanic            Kind = "panic"
	KindProtocol         Kind = "protocol"
	KindInvalidVariant   Kind = "invalid_variant"
	KindInvalidData      Kind = "invalid_data"
	KindOutOfBounds      Kind = "out_of_bounds"
	KindOverflow         Kind = "overflow"
	KindUnsupported      Kind = "unsupported"
	KindNotInitialized   Kind = "not_initialized"
	KindInvalidInput     Kind = "invalid_input"
	KindInstantiation    Kind = "instantiation"
	KindClosed           Kind = "closed"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Symbol string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Symbol != "" {
		b.WriteString(" at ")
		b.WriteString(e.Symbol)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Symbol sets the native symbol the error refers to
func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// MissingSymbol creates an error for a single unresolved export
func MissingSymbol(name string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindMissingSymbol,
		Symbol: name,
		Detail: "symbol not exported by the native library",
	}
}

// ChecksumMismatch creates an error for a symbol whose checksum differs
// from the one the bindings were generated against
func ChecksumMismatch(symbol string, expected, actual uint16) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindChecksumMismatch,
		Symbol: symbol,
		Detail: fmt.Sprintf("expected checksum %d, library reports %d", expected, actual),
		Value:  actual,
	}
}

// VersionMismatch creates a contract version mismatch error
func VersionMismatch(expected, actual uint32) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindVersionMismatch,
		Detail: fmt.Sprintf("expected contract version %d, library reports %d", expected, actual),
		Value:  actual,
	}
}

// Panic creates the error raised for a native-side panic
func Panic(phase Phase, msg string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPanic,
		Detail: msg,
	}
}

// Protocol creates an error for a violation of the call protocol
func Protocol(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindProtocol,
		Detail: detail,
	}
}

// InvalidVariant creates an error for an unknown discriminant
func InvalidVariant(phase Phase, disc int32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidVariant,
		Detail: fmt.Sprintf("unknown discriminant %d", disc),
		Value:  disc,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) outside native memory", offset, uint64(offset)+uint64(length)),
		Value:  offset,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, value any, limit string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("value %v overflows %s", value, limit),
		Value:  value,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingSymbolsError is returned when a backend cannot resolve every
// required export of the native library
type MissingSymbolsError struct {
	Library string
	Symbols []string
}

// NewMissingSymbolsError creates an error from the list of unresolved names
func NewMissingSymbolsError(library string, symbols []string) *MissingSymbolsError {
	return &MissingSymbolsError{
		Library: library,
		Symbols: append([]string(nil), symbols...),
	}
}

func (e *MissingSymbolsError) Error() string {
	if len(e.Symbols) == 0 {
		return "[link] missing_symbol: no symbols specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d native symbol(s)", len(e.Symbols)))
	if e.Library != "" {
		b.WriteString(" in ")
		b.WriteString(e.Library)
	}
	b.WriteByte(':')

	// Group by family prefix for cleaner output
	byFamily := make(map[string][]string)
	var order []string
	for _, sym := range e.Symbols {
		family := symbolFamily(sym)
		if _, exists := byFamily[family]; !exists {
			order = append(order, family)
		}
		byFamily[family] = append(byFamily[family], sym)
	}

	for _, family := range order {
		b.WriteString("\n  ")
		b.WriteString(family)
		b.WriteString(":\n")
		for _, sym := range byFamily[family] {
			b.WriteString("    - ")
			b.WriteString(sym)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingSymbolsError) Is(target error) bool {
	if _, ok := target.(*MissingSymbolsError); ok {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Phase == PhaseLink && t.Kind == KindMissingSymbol
	}
	return false
}

func symbolFamily(name string) string {
	switch {
	case strings.Contains(name, "_checksum_"):
		return "checksums"
	case strings.Contains(name, "_rustbuffer_"):
		return "buffers"
	case strings.Contains(name, "_rust_future_"):
		return "futures"
	case strings.Contains(name, "_fn_func_"):
		return "functions"
	default:
		return "other"
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Closed creates an error for use after close
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate native module",
		Cause:  cause,
	}
}

// Load creates a library loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}
