package cmdrunner

import (
	"context"
	"testing"
	"time"
)

func TestRun_Success(t *testing.T) {
	res, err := Run(context.Background(), Options{Command: "echo hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("Stdout = %q", res.Stdout)
	}
	if res.TimedOut {
		t.Fatalf("TimedOut should be false")
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), Options{Command: "exit 7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 7 {
		t.Fatalf("ExitCode = %d, want 7", res.ExitCode)
	}
}

func TestRun_Timeout(t *testing.T) {
	res, err := Run(context.Background(), Options{
		Command: "sleep 5",
		Timeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut=true")
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	if _, err := Run(context.Background(), Options{Command: "  "}); err == nil {
		t.Fatalf("expected error for empty command")
	}
}
