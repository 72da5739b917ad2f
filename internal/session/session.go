// Package session ties the pipeline together for one document: read, parse,
// build, exchange, commit. The document text is read once at cycle start and
// written at most once at cycle end.
package session

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/youruser/gchat/internal/convo"
	"github.com/youruser/gchat/internal/document"
	"github.com/youruser/gchat/internal/exchange"
	"github.com/youruser/gchat/internal/llm"
	"github.com/youruser/gchat/internal/notify"
)

// Session processes cycles for a single chat document. Cycles are strictly
// sequential; the watch loop must not start a new one while Process runs.
type Session struct {
	chatFile     string
	builder      *convo.Builder
	orchestrator *exchange.Orchestrator
	notifier     notify.Notifier
}

// New creates a Session for chatFile.
func New(chatFile string, builder *convo.Builder, orch *exchange.Orchestrator, notifier notify.Notifier) *Session {
	return &Session{
		chatFile:     chatFile,
		builder:      builder,
		orchestrator: orch,
		notifier:     notifier,
	}
}

// Process runs at most one cycle. It returns true when the document was
// committed. A document with no pending user turn is a no-op, which makes
// Process safe to call on every change event, including our own commit.
func (s *Session) Process(ctx context.Context) (bool, error) {
	raw, err := os.ReadFile(s.chatFile)
	if err != nil {
		return false, err
	}
	text := string(raw)

	turns := document.Parse(text)
	if !document.HasPendingUserTurn(turns) {
		log.Debug().Int("turns", len(turns)).Msg("no pending user prompt")
		return false, nil
	}

	conv := s.builder.Build(turns)
	for _, w := range conv.Warnings {
		log.Warn().Msg(w)
	}

	var contents []string
	for _, m := range conv.Messages {
		contents = append(contents, m.Content)
	}
	s.notifier.Thinking(fmt.Sprintf("Grok is thinking... (~%d prompt tokens)", llm.EstimateTokens(contents...)))

	userBody := strings.TrimSpace(turns[len(turns)-1].Body)
	outcome, err := s.orchestrator.Run(ctx, conv, userBody)
	if err != nil {
		s.notifier.Done(false, "Grok failed to respond.")
		return false, err
	}
	for _, w := range outcome.Warnings {
		log.Warn().Msg(w)
	}

	committed := document.Commit(text, turns, outcome.UserBody, outcome.Response)
	if err := os.WriteFile(s.chatFile, []byte(committed), 0644); err != nil {
		s.notifier.Done(false, "Grok has thought, but the chat file could not be written.")
		return false, err
	}

	log.Info().Int("calls", outcome.Calls).Msg("cycle committed")
	s.notifier.Done(true, "Grok has thought.")
	return true, nil
}
