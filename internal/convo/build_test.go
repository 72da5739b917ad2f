package convo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/youruser/gchat/internal/document"
	"github.com/youruser/gchat/internal/expand"
	"github.com/youruser/gchat/internal/project"
)

func newTestBuilder(t *testing.T, defaultLevel int, defaultTemp float64) *Builder {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	r, err := project.NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	return New(expand.New(r), defaultLevel, defaultTemp)
}

func turnsFrom(text string) []document.Turn {
	return document.Parse(text)
}

func TestBuildMessages(t *testing.T) {
	b := newTestBuilder(t, 3, 1.0)

	conv := b.Build(turnsFrom(
		"USER PROMPT:\nfirst\n\nGROK RESPONSE:\nanswer\n\nUSER PROMPT:\nsecond\n"))

	if len(conv.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(conv.Messages))
	}
	wantRoles := []string{"user", "assistant", "user"}
	wantBodies := []string{"first", "answer", "second"}
	for i := range conv.Messages {
		if conv.Messages[i].Role != wantRoles[i] {
			t.Errorf("message %d role = %q, want %q", i, conv.Messages[i].Role, wantRoles[i])
		}
		if conv.Messages[i].Content != wantBodies[i] {
			t.Errorf("message %d content = %q, want %q", i, conv.Messages[i].Content, wantBodies[i])
		}
	}
}

func TestBuildSkipsEmptyTurns(t *testing.T) {
	b := newTestBuilder(t, 3, 1.0)

	conv := b.Build(turnsFrom(
		"USER PROMPT:\nquestion\n\nGROK RESPONSE:\nanswer\n\nUSER PROMPT:\n\n"))
	if len(conv.Messages) != 2 {
		t.Fatalf("empty trailing turn should be skipped, got %d messages", len(conv.Messages))
	}
}

func TestBuildDefaultsApply(t *testing.T) {
	b := newTestBuilder(t, 2, 0.4)

	conv := b.Build(turnsFrom("USER PROMPT:\nno overrides here\n"))
	if conv.Level != 2 {
		t.Errorf("Level = %d, want default 2", conv.Level)
	}
	if conv.Temperature != 0.4 {
		t.Errorf("Temperature = %g, want default 0.4", conv.Temperature)
	}
}

func TestBuildLastOverrideWinsAcrossHistory(t *testing.T) {
	b := newTestBuilder(t, 0, 1.0)

	// L2 in turn 1, nothing in turn 2, L4 in turn 3: L4 wins.
	conv := b.Build(turnsFrom(
		"USER PROMPT:\nstart @t:L2\n\nGROK RESPONSE:\nok\n\n" +
			"USER PROMPT:\nmiddle\n\nGROK RESPONSE:\nok\n\n" +
			"USER PROMPT:\nend @t:L4\n"))

	if conv.Level != 4 {
		t.Errorf("Level = %d, want 4", conv.Level)
	}
	if got := expand.LevelTokens(conv.Level); got != 8192 {
		t.Errorf("effective tokens = %d, want 8192", got)
	}
}

func TestBuildEarlierOverrideRemainsInForce(t *testing.T) {
	b := newTestBuilder(t, 0, 1.0)

	// An override set turns ago stays authoritative when nothing later
	// overrides it, even across override-free turns.
	conv := b.Build(turnsFrom(
		"USER PROMPT:\nstart @t:L1 @p:0.2\n\nGROK RESPONSE:\nok\n\n" +
			"USER PROMPT:\nplain turn\n\nGROK RESPONSE:\nok\n\n" +
			"USER PROMPT:\nContinue.\n"))

	if conv.Level != 1 {
		t.Errorf("Level = %d, want 1", conv.Level)
	}
	if conv.Temperature != 0.2 {
		t.Errorf("Temperature = %g, want 0.2", conv.Temperature)
	}
}

func TestBuildOverrideKindsAreIndependent(t *testing.T) {
	b := newTestBuilder(t, 0, 1.0)

	conv := b.Build(turnsFrom(
		"USER PROMPT:\n@t:L2 @p:0.5 first\n\nGROK RESPONSE:\nok\n\n" +
			"USER PROMPT:\n@p:0.9 second\n"))

	if conv.Level != 2 {
		t.Errorf("Level = %d, want 2 (not overridden later)", conv.Level)
	}
	if conv.Temperature != 0.9 {
		t.Errorf("Temperature = %g, want 0.9", conv.Temperature)
	}
}

func TestBuildAssistantTurnsNotExpanded(t *testing.T) {
	b := newTestBuilder(t, 3, 1.0)

	conv := b.Build(turnsFrom(
		"USER PROMPT:\nquestion\n\nGROK RESPONSE:\ntry @f:notes.txt yourself\n\nUSER PROMPT:\nContinue.\n"))

	if !strings.Contains(conv.Messages[1].Content, "@f:notes.txt") {
		t.Errorf("assistant turn was expanded: %q", conv.Messages[1].Content)
	}
	if strings.Contains(conv.Messages[1].Content, "Contents of") {
		t.Errorf("assistant turn was expanded: %q", conv.Messages[1].Content)
	}
}

func TestBuildExpandsUserTurns(t *testing.T) {
	b := newTestBuilder(t, 3, 1.0)

	conv := b.Build(turnsFrom("USER PROMPT:\nSummarize @f:notes.txt @t:L1\n"))

	want := "Summarize Contents of notes.txt:\n```\nhello\n```"
	if conv.Messages[0].Content != want {
		t.Errorf("content =\n%q\nwant\n%q", conv.Messages[0].Content, want)
	}
	if conv.Level != 1 {
		t.Errorf("Level = %d, want 1", conv.Level)
	}
}

func TestBuildCollectsWarnings(t *testing.T) {
	b := newTestBuilder(t, 3, 1.0)

	conv := b.Build(turnsFrom("USER PROMPT:\n@f:missing.txt @t:L99\n"))
	if len(conv.Warnings) != 2 {
		t.Errorf("warnings = %v, want 2", conv.Warnings)
	}
}
