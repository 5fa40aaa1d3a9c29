package app

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"hourkeep/internal/config"
	"hourkeep/internal/transport"
	logx "hourkeep/pkg/logx"
)

// The default console channel must write to stderr: one-shot results
// (-missed, -export) own stdout.
func TestBuildChannelsConsoleWritesToStderr(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stderr
	os.Stderr = w
	channels, buildErr := buildChannels(&config.Config{}, logx.Nop())
	os.Stderr = orig
	if buildErr != nil {
		t.Fatalf("buildChannels: %v", buildErr)
	}
	if len(channels) != 1 || channels[0].Name() != "console" {
		t.Fatalf("default channels = %v", channels)
	}

	n := transport.Notification{Title: "Accountability reminder", Body: "2 missed hours"}
	if err := channels[0].Send(context.Background(), n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(out), "Accountability reminder") {
		t.Fatalf("reminder missing from stderr stream: %q", out)
	}
}

func TestMapAnalysisConfig(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := mapAnalysisConfig(&config.Config{
		Analysis: config.AnalysisConfig{Enabled: true},
	}); err == nil {
		t.Fatal("expected error when enabled without a key")
	}

	got, err := mapAnalysisConfig(&config.Config{
		Analysis: config.AnalysisConfig{Enabled: true, APIKey: "k1", Model: "gemini-2.0-flash"},
	})
	if err != nil {
		t.Fatalf("mapAnalysisConfig: %v", err)
	}
	if !got.Enabled || got.APIKey != "k1" {
		t.Fatalf("config = %+v", got)
	}

	t.Setenv("GEMINI_API_KEY", "k2")
	got, err = mapAnalysisConfig(&config.Config{
		Analysis: config.AnalysisConfig{Enabled: true},
	})
	if err != nil {
		t.Fatalf("env fallback: %v", err)
	}
	if got.APIKey != "k2" {
		t.Fatalf("APIKey = %q, want env fallback", got.APIKey)
	}
}
