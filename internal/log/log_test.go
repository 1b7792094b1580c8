package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestMaskPAN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"4242424242424242", "****4242"},
		{"4242 4242 4242 1881", "****1881"},
		{"12", "****"},
		{"", "****"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := MaskPAN(tt.in); got != tt.want {
				t.Errorf("MaskPAN(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactCardAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", true)

	logger.Info("payment received",
		"card_number", "4000000000000002",
		"cvv", "123",
		"note", "customer read 4111111111111111 aloud",
		"amount", "45.50",
	)

	out := buf.String()
	for _, leaked := range []string{"4000000000000002", "4111111111111111", `"123"`} {
		if strings.Contains(out, leaked) {
			t.Errorf("log output leaked %q: %s", leaked, out)
		}
	}
	if !strings.Contains(out, "****0002") {
		t.Errorf("expected masked card number in output: %s", out)
	}
	if !strings.Contains(out, "45.50") {
		t.Errorf("expected non-card attributes to pass through: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug {
		t.Error("expected debug level")
	}
	if ParseLevel("warning") != slog.LevelWarn {
		t.Error("expected warn level")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("expected info level for unknown input")
	}
}
