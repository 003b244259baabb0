package contextasm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/mstavros/corebot/internal/observability"
	"github.com/mstavros/corebot/pkg/models"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Output: io.Discard})
}

func TestAssemble_SectionOrderAndMarkers(t *testing.T) {
	a := New(testLogger())
	out := a.Assemble(context.Background(), Input{
		ChannelID:   "chan-1",
		UserText:    "what's the weather",
		IdentityRef: "You are a helpful assistant.",
	})

	order := []string{markerIdentity, markerBuffer, markerMemory, markerKnowledge, markerSkill, markerRequest}
	last := -1
	for _, marker := range order {
		idx := strings.Index(out, marker)
		if idx < 0 {
			t.Fatalf("missing marker %q in envelope:\n%s", marker, out)
		}
		if idx <= last {
			t.Fatalf("marker %q out of order", marker)
		}
		last = idx
	}
	if !strings.Contains(out, "what's the weather") {
		t.Error("expected user request text present in envelope")
	}
}

type failingKnowledge struct{}

func (failingKnowledge) Snippet(ctx context.Context, channelID, text string) (string, error) {
	return "", errors.New("unavailable")
}

func TestAssemble_DegradesOnKnowledgeFailure(t *testing.T) {
	a := New(testLogger(), WithKnowledgeSource(failingKnowledge{}))
	out := a.Assemble(context.Background(), Input{ChannelID: "chan-1", UserText: "hello"})

	knowledgeIdx := strings.Index(out, markerKnowledge)
	skillIdx := strings.Index(out, markerSkill)
	if knowledgeIdx < 0 || skillIdx < 0 {
		t.Fatal("expected both markers present even on degraded knowledge source")
	}
	between := strings.TrimSpace(out[knowledgeIdx+len(markerKnowledge) : skillIdx])
	if between != "" {
		t.Errorf("expected empty knowledge section on failure, got %q", between)
	}
}

func TestAssemble_NeverFailsWithoutOptionalSources(t *testing.T) {
	a := New(testLogger())
	out := a.Assemble(context.Background(), Input{ChannelID: "chan-1", UserText: "hi"})
	if out == "" {
		t.Fatal("expected non-empty envelope")
	}
}

func TestAssemble_IncludesSkillBlock(t *testing.T) {
	a := New(testLogger())
	out := a.Assemble(context.Background(), Input{
		ChannelID: "chan-1",
		Skill: &SkillContext{
			Name:         "weather",
			Instructions: "Fetch the forecast and summarise it.",
			Data:         `{"temp_f": 72}`,
		},
	})
	if !strings.Contains(out, "weather") || !strings.Contains(out, "temp_f") {
		t.Errorf("expected skill block content present, got:\n%s", out)
	}
}

func TestPackBuffer_CapsToMaxMessages(t *testing.T) {
	var history []*models.Message
	for i := 0; i < 20; i++ {
		history = append(history, &models.Message{Role: models.RoleUser, Content: "msg"})
	}
	out := packBuffer(history, packOptions{maxMessages: 10, maxToolResultChars: 2000})
	if len(out) != 10 {
		t.Errorf("expected 10 messages, got %d", len(out))
	}
}

func TestPackBuffer_TruncatesOversizedToolResults(t *testing.T) {
	big := strings.Repeat("x", 5000)
	history := []*models.Message{
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{Content: big}}},
	}
	out := packBuffer(history, packOptions{maxMessages: 10, maxToolResultChars: 100})
	if len(out[0].ToolResults[0].Content) > 130 {
		t.Errorf("expected tool result truncated, got length %d", len(out[0].ToolResults[0].Content))
	}
}
