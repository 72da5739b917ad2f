package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/youruser/gchat/internal/convo"
	"github.com/youruser/gchat/internal/document"
	"github.com/youruser/gchat/internal/exchange"
	"github.com/youruser/gchat/internal/expand"
	"github.com/youruser/gchat/internal/llm"
	"github.com/youruser/gchat/internal/notify"
	"github.com/youruser/gchat/internal/project"
)

type scriptedCaller struct {
	t       *testing.T
	replies []*llm.Reply
	errs    []error
	calls   [][]llm.Message
	budgets []int
}

func (s *scriptedCaller) Chat(_ context.Context, messages []llm.Message, maxTokens int, _ float64) (*llm.Reply, error) {
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	s.calls = append(s.calls, snapshot)
	s.budgets = append(s.budgets, maxTokens)

	i := len(s.calls) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.replies) {
		s.t.Fatal("unexpected extra API call")
	}
	return s.replies[i], nil
}

// commitCounter counts writes by watching the file's content change.
func newTestSession(t *testing.T, chatText string, caller exchange.Caller, opts exchange.Options) (*Session, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	chatFile := filepath.Join(root, "gchat.md")
	if err := os.WriteFile(chatFile, []byte(chatText), 0644); err != nil {
		t.Fatal(err)
	}

	resolver, err := project.NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	expander := expand.New(resolver)
	builder := convo.New(expander, 3, 1.0)
	orch := exchange.New(caller, expander, resolver, opts)
	return New(chatFile, builder, orch, notify.Discard{}), chatFile
}

func TestProcessEndToEnd(t *testing.T) {
	chat := "USER PROMPT:\nSummarize @f:notes.txt @t:L1\n\nGROK RESPONSE:\nA summary.\n\nUSER PROMPT:\nContinue.\n"
	caller := &scriptedCaller{t: t, replies: []*llm.Reply{{Content: "Gladly, more detail."}}}
	sess, chatFile := newTestSession(t, chat, caller, exchange.Options{})

	committed, err := sess.Process(context.Background())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !committed {
		t.Fatal("expected a commit")
	}

	// The earlier turn's placeholders expand into the sent history and the
	// earlier @t:L1 override is still authoritative.
	if len(caller.calls) != 1 {
		t.Fatalf("got %d calls", len(caller.calls))
	}
	sent := caller.calls[0]
	if want := "Summarize Contents of notes.txt:\n```\nhello\n```"; sent[0].Content != want {
		t.Errorf("first message =\n%q\nwant\n%q", sent[0].Content, want)
	}
	if sent[len(sent)-1].Content != "Continue." {
		t.Errorf("last message = %q", sent[len(sent)-1].Content)
	}
	if caller.budgets[0] != 1024 {
		t.Errorf("max tokens = %d, want 1024", caller.budgets[0])
	}

	// The committed document keeps raw placeholders and gains the response
	// plus a fresh empty user section.
	data, err := os.ReadFile(chatFile)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "@f:notes.txt") {
		t.Error("original placeholder should stay raw in the document")
	}
	if !strings.Contains(text, "Gladly, more detail.") {
		t.Error("response missing from document")
	}
	if !strings.HasSuffix(text, document.UserMarker+"\n") {
		t.Errorf("document should end with an empty user section:\n%s", text)
	}
	if document.HasPendingUserTurn(document.Parse(text)) {
		t.Error("committed document should not be pending")
	}
}

func TestProcessNoPendingTurn(t *testing.T) {
	chat := "USER PROMPT:\nq\n\nGROK RESPONSE:\na\n\nUSER PROMPT:\n"
	caller := &scriptedCaller{t: t}
	sess, chatFile := newTestSession(t, chat, caller, exchange.Options{})

	committed, err := sess.Process(context.Background())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if committed {
		t.Error("nothing to do, nothing should be committed")
	}
	if len(caller.calls) != 0 {
		t.Errorf("no API calls expected, got %d", len(caller.calls))
	}

	data, _ := os.ReadFile(chatFile)
	if string(data) != chat {
		t.Error("document should be untouched")
	}
}

func TestProcessSingleCommitAcrossRetries(t *testing.T) {
	chat := "USER PROMPT:\nlong question\n"
	caller := &scriptedCaller{t: t, replies: []*llm.Reply{
		{Content: "part", Truncated: true},
		{Content: "part", Truncated: true},
		{Content: "complete answer"},
	}}
	sess, chatFile := newTestSession(t, chat, caller, exchange.Options{AutoIncreaseTokens: true})

	committed, err := sess.Process(context.Background())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !committed {
		t.Fatal("expected a commit")
	}
	if len(caller.calls) != 3 {
		t.Fatalf("got %d calls, want 3", len(caller.calls))
	}

	// Exactly one reconciled mutation: one new response section.
	data, _ := os.ReadFile(chatFile)
	if got := strings.Count(string(data), document.AssistantMarker); got != 1 {
		t.Errorf("document has %d response sections, want 1", got)
	}
	if !strings.Contains(string(data), "complete answer") {
		t.Error("only the final response should be committed")
	}
	if strings.Count(string(data), "part") != 0 {
		t.Error("intermediate attempts must not leak into the document")
	}
}

func TestProcessFileRequestCommitsAmendedPrompt(t *testing.T) {
	chat := "USER PROMPT:\nWhat does the note say?\n"
	caller := &scriptedCaller{t: t, replies: []*llm.Reply{
		{Content: "GROK REQUESTS FILES: notes.txt"},
		{Content: "It says hello."},
	}}
	sess, chatFile := newTestSession(t, chat, caller, exchange.Options{AutoFileRequests: true})

	committed, err := sess.Process(context.Background())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !committed {
		t.Fatal("expected a commit")
	}

	data, _ := os.ReadFile(chatFile)
	text := string(data)
	if !strings.Contains(text, "What does the note say?\n\n@f:notes.txt") {
		t.Errorf("appended placeholder missing from committed prompt:\n%s", text)
	}
	if !strings.Contains(text, "It says hello.") {
		t.Error("final response missing")
	}
	if strings.Contains(text, "GROK REQUESTS FILES") {
		t.Error("intermediate file request must not leak into the document")
	}
}

func TestProcessTransportErrorLeavesDocumentUntouched(t *testing.T) {
	chat := "USER PROMPT:\nhello\n"
	caller := &scriptedCaller{t: t, errs: []error{errors.New("dial tcp: connection refused")}}
	sess, chatFile := newTestSession(t, chat, caller, exchange.Options{})

	committed, err := sess.Process(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if committed {
		t.Error("failed cycle must not commit")
	}

	data, _ := os.ReadFile(chatFile)
	if string(data) != chat {
		t.Error("document must be left untouched so the user can retry")
	}
}
