package telegram

import (
	"testing"

	logx "hourkeep/pkg/logx"
)

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{ChatID: 1, Offline: true}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing chat_id")
	}
	if _, err := New(Config{Token: "123:abc", ChatID: 1, Offline: true}, logx.Nop()); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	got := escapeMarkdown("9:00 AM - 10:00 AM (missed!)")
	want := `9:00 AM \- 10:00 AM \(missed\!\)`
	if got != want {
		t.Fatalf("escapeMarkdown = %q, want %q", got, want)
	}
}
