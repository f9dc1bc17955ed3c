package onepassword

import "go.uber.org/zap/zapcore"

const redacted = "[REDACTED]"

// Secret holds a resolved secret value. It never prints, marshals or logs
// its content; use Expose to read it.
type Secret string

func (s Secret) Expose() string {
	return string(s)
}

func (s Secret) String() string {
	return redacted
}

func (s Secret) GoString() string {
	return "onepassword.Secret(" + redacted + ")"
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// MarshalLogObject keeps the value out of zap output.
func (s Secret) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("redacted", true)
	enc.AddInt("length", len(s))
	return nil
}
