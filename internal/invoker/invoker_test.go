package invoker

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mstavros/corebot/internal/config"
)

func shAgent(script string) config.AgentConfig {
	return config.AgentConfig{
		Binary:              "/bin/sh",
		Args:                []string{"-c", script},
		Timeout:             5 * time.Second,
		GraceShutdown:       200 * time.Millisecond,
		MaxOutputBytes:      1024 * 1024,
		InterimNoticeWindow: 3 * time.Second,
	}
}

func TestInvokeReturnsResultText(t *testing.T) {
	script := `
printf '{"type":"system","subtype":"init"}\n'
printf '{"type":"assistant","message":{"content":[{"type":"tool_use","name":"search"}]}}\n'
printf '{"type":"result","result":"final answer"}\n'
`
	inv := New(shAgent(script), nil, nil)
	var notified []string
	text, rec, err := inv.Invoke(context.Background(), Envelope{RequestID: "r1", ChannelID: "c1"}, func(name string) {
		notified = append(notified, name)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "final answer" {
		t.Errorf("expected final answer, got %q", text)
	}
	if rec.Outcome != OutcomeOK {
		t.Errorf("expected outcome ok, got %s", rec.Outcome)
	}
	if len(notified) != 1 || notified[0] != "search" {
		t.Errorf("expected one interim notice for search, got %v", notified)
	}
}

func TestInvokeThrottlesRepeatedToolUse(t *testing.T) {
	script := `
printf '{"type":"assistant","message":{"content":[{"type":"tool_use","name":"search"}]}}\n'
printf '{"type":"assistant","message":{"content":[{"type":"tool_use","name":"search"}]}}\n'
printf '{"type":"result","result":"done"}\n'
`
	inv := New(shAgent(script), nil, nil)
	var notified []string
	_, _, err := inv.Invoke(context.Background(), Envelope{RequestID: "r2", ChannelID: "c1"}, func(name string) {
		notified = append(notified, name)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notified) != 1 {
		t.Errorf("expected exactly one notice within the throttle window, got %d: %v", len(notified), notified)
	}
}

func TestInvokeThrottlesAcrossDistinctTools(t *testing.T) {
	script := `
printf '{"type":"assistant","message":{"content":[{"type":"tool_use","name":"search"}]}}\n'
printf '{"type":"assistant","message":{"content":[{"type":"tool_use","name":"fetch"}]}}\n'
printf '{"type":"result","result":"done"}\n'
`
	inv := New(shAgent(script), nil, nil)
	var notified []string
	_, _, err := inv.Invoke(context.Background(), Envelope{RequestID: "r9", ChannelID: "c1"}, func(name string) {
		notified = append(notified, name)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notified) != 1 || notified[0] != "search" {
		t.Errorf("expected only the first tool to notify within the window, got %v", notified)
	}
}

func TestInvokeAcceptsTopLevelContent(t *testing.T) {
	script := `
printf '{"type":"assistant","content":[{"type":"tool_use","name":"brave_web_search"}]}\n'
printf '{"type":"result","result":"found it"}\n'
`
	inv := New(shAgent(script), nil, nil)
	var notified []string
	text, _, err := inv.Invoke(context.Background(), Envelope{RequestID: "r10", ChannelID: "c1"}, func(name string) {
		notified = append(notified, name)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "found it" {
		t.Errorf("expected result text, got %q", text)
	}
	if len(notified) != 1 || notified[0] != "brave_web_search" {
		t.Errorf("expected one notice for brave_web_search, got %v", notified)
	}
}

func TestInvokeNonZeroExitWithoutResult(t *testing.T) {
	script := `
printf '{"type":"system","subtype":"init"}\n'
exit 1
`
	inv := New(shAgent(script), nil, nil)
	text, rec, err := inv.Invoke(context.Background(), Envelope{RequestID: "r3", ChannelID: "c1"}, nil)
	if err == nil {
		t.Fatal("expected error for invocation without a result event")
	}
	if rec.Outcome != OutcomeNonZeroExit {
		t.Errorf("expected outcome nonzero_exit, got %s", rec.Outcome)
	}
	if text != "" {
		t.Errorf("expected empty text, got %q", text)
	}
}

func TestInvokeFallsBackToAssistantTextWithoutResult(t *testing.T) {
	script := `
printf '{"type":"system","subtype":"init"}\n'
printf '{"type":"assistant","message":{"content":[{"type":"text","text":"Here is "}]}}\n'
printf '{"type":"assistant","message":{"content":[{"type":"text","text":"the answer."}]}}\n'
`
	inv := New(shAgent(script), nil, nil)
	text, rec, err := inv.Invoke(context.Background(), Envelope{RequestID: "r8", ChannelID: "c1"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Here is the answer." {
		t.Errorf("expected concatenated assistant text, got %q", text)
	}
	if rec.Outcome != OutcomeOK {
		t.Errorf("expected outcome ok, got %s", rec.Outcome)
	}
}

func TestInvokeTimeout(t *testing.T) {
	cfg := shAgent("sleep 5")
	cfg.Timeout = 100 * time.Millisecond
	cfg.GraceShutdown = 50 * time.Millisecond
	inv := New(cfg, nil, nil)

	_, rec, err := inv.Invoke(context.Background(), Envelope{RequestID: "r4", ChannelID: "c1"}, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if rec.Outcome != OutcomeTimeout {
		t.Errorf("expected outcome timeout, got %s", rec.Outcome)
	}
}

func TestInvokeOversize(t *testing.T) {
	big := strings.Repeat("x", 2048)
	script := fmt.Sprintf(`printf '{"type":"result","result":"%s"}\n'`, big)
	cfg := shAgent(script)
	cfg.MaxOutputBytes = 64
	inv := New(cfg, nil, nil)

	_, rec, err := inv.Invoke(context.Background(), Envelope{RequestID: "r5", ChannelID: "c1"}, nil)
	if err == nil {
		t.Fatal("expected oversize error")
	}
	if rec.Outcome != OutcomeOversize {
		t.Errorf("expected outcome oversize, got %s", rec.Outcome)
	}
}

func TestInvokeSkipsMalformedLinesButKeepsResult(t *testing.T) {
	script := `
printf 'not json at all\n'
printf '{"type":"result","result":"recovered"}\n'
`
	inv := New(shAgent(script), nil, nil)
	text, rec, err := inv.Invoke(context.Background(), Envelope{RequestID: "r6", ChannelID: "c1"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "recovered" {
		t.Errorf("expected recovered text despite malformed line, got %q", text)
	}
	if rec.Outcome != OutcomeOK {
		t.Errorf("expected outcome ok, got %s", rec.Outcome)
	}
}

func TestInvokeContextCanceled(t *testing.T) {
	cfg := shAgent("sleep 5")
	cfg.GraceShutdown = 50 * time.Millisecond
	inv := New(cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, rec, err := inv.Invoke(ctx, Envelope{RequestID: "r7", ChannelID: "c1"}, nil)
	if err == nil {
		t.Fatal("expected error on cancellation")
	}
	if rec.Outcome != OutcomeCanceled {
		t.Errorf("expected outcome canceled, got %s", rec.Outcome)
	}
}
