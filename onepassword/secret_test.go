package onepassword

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2")

	outputs := map[string]string{
		"%s":  fmt.Sprintf("%s", s),
		"%v":  fmt.Sprintf("%v", s),
		"%+v": fmt.Sprintf("%+v", struct{ S Secret }{s}),
		"%#v": fmt.Sprintf("%#v", s),
	}
	b, err := json.Marshal(map[string]Secret{"pw": s})
	if err != nil {
		t.Fatal(err)
	}
	outputs["json"] = string(b)

	for name, out := range outputs {
		if strings.Contains(out, "hunter2") {
			t.Errorf("%s leaked the secret: %s", name, out)
		}
		if !strings.Contains(out, redacted) {
			t.Errorf("%s = %q, want %s", name, out, redacted)
		}
	}

	if s.Expose() != "hunter2" {
		t.Fatalf("Expose() = %q", s.Expose())
	}
}

func TestSecret_Unmarshal(t *testing.T) {
	var s Secret
	if err := json.Unmarshal([]byte(`"hunter2"`), &s); err != nil {
		t.Fatal(err)
	}
	if s.Expose() != "hunter2" {
		t.Fatalf("Expose() = %q", s.Expose())
	}
}

func TestSecret_Logging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	log.Info("resolved", zap.Object("secret", Secret("hunter2")), zap.Stringer("plain", Secret("hunter2")))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("%d log entries", len(entries))
	}
	fields := entries[0].ContextMap()
	if strings.Contains(fmt.Sprint(fields), "hunter2") {
		t.Fatalf("log fields leaked the secret: %v", fields)
	}
	obj, ok := fields["secret"].(map[string]any)
	if !ok || obj["redacted"] != true || obj["length"] != 7 {
		t.Fatalf("secret field = %#v", fields["secret"])
	}
}
