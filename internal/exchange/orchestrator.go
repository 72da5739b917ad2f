// Package exchange drives the retry/chaining state machine for one processing
// cycle: it calls the API, inspects the reply for truncation or a file
// request, and loops until a final response can be committed. All state here
// is in-memory and dies with the cycle; the document sees exactly one update.
package exchange

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/youruser/gchat/internal/convo"
	"github.com/youruser/gchat/internal/expand"
	"github.com/youruser/gchat/internal/llm"
	"github.com/youruser/gchat/internal/project"
)

// FileRequestMarker prefixes a reply in which the model asks for additional
// project files. The reply body must be exactly this marker followed by a
// comma-separated relative path list on a single line; anything else, prose
// included, makes it a normal response.
const FileRequestMarker = "GROK REQUESTS FILES: "

// TruncationWarning is prepended to a response that was still truncated when
// no further token increase was possible.
const TruncationWarning = "[warning: response truncated at max_tokens]"

// Caller is the API collaborator consumed by the orchestrator.
type Caller interface {
	Chat(ctx context.Context, messages []llm.Message, maxTokens int, temperature float64) (*llm.Reply, error)
}

// Options control the two independent retry loops.
type Options struct {
	AutoIncreaseTokens bool
	AutoFileRequests   bool
}

// Orchestrator runs exchanges. One instance may serve many cycles; per-cycle
// state lives entirely inside Run.
type Orchestrator struct {
	caller   Caller
	expander *expand.Expander
	resolver *project.Resolver
	opts     Options
}

// New creates an Orchestrator.
func New(caller Caller, expander *expand.Expander, resolver *project.Resolver, opts Options) *Orchestrator {
	return &Orchestrator{
		caller:   caller,
		expander: expander,
		resolver: resolver,
		opts:     opts,
	}
}

// Outcome is the reconciled result of one cycle, ready for a single commit.
type Outcome struct {
	// Response is the final assistant text, with a truncation warning line
	// prepended when applicable.
	Response string
	// UserBody is the raw user turn body, with any model-requested @f:
	// placeholder lines appended, so replaying the document reproduces the
	// same conversation.
	UserBody string
	// Warnings collects non-fatal issues from chained expansions.
	Warnings []string
	// Calls is the number of API attempts made.
	Calls int
}

// Run executes the state machine for one cycle. Transport failures abort the
// cycle with an error and no outcome; every other path produces exactly one
// outcome.
func (o *Orchestrator) Run(ctx context.Context, conv convo.Conversation, userBody string) (*Outcome, error) {
	messages := o.assemble(conv)

	startLevel := expand.ClampLevel(conv.Level)
	level := startLevel
	appended := map[string]bool{} // root-relative paths already supplied this cycle
	out := &Outcome{UserBody: userBody}

	for {
		reply, err := o.caller.Chat(ctx, messages, expand.LevelTokens(level), conv.Temperature)
		if err != nil {
			return nil, err
		}
		out.Calls++

		if reply.Truncated {
			if o.opts.AutoIncreaseTokens && level < expand.MaxLevel {
				level++
				log.Info().Int("level", level).Msg("response truncated, retrying with larger budget")
				continue
			}
			log.Warn().Int("level", level).Msg("response truncated at final token level")
			out.Response = TruncationWarning + "\n\n" + strings.TrimSpace(reply.Content)
			return out, nil
		}

		requested, ok := o.parseFileRequest(reply.Content)
		if ok && o.opts.AutoFileRequests {
			paths := o.validateRequested(requested, appended)
			if len(paths) > 0 {
				fragment := o.appendFiles(paths, appended, out)
				messages[len(messages)-1].Content += "\n\n" + fragment
				level = startLevel
				continue
			}
			log.Warn().Strs("requested", requested).Msg("file request contained nothing new or valid, treating as normal response")
		}

		out.Response = strings.TrimSpace(reply.Content)
		return out, nil
	}
}

// assemble converts the built conversation to API messages, prepending the
// file-request protocol instructions when chaining is enabled.
func (o *Orchestrator) assemble(conv convo.Conversation) []llm.Message {
	var messages []llm.Message
	if o.opts.AutoFileRequests {
		messages = append(messages, llm.Message{Role: "system", Content: fileRequestPrompt})
	}
	for _, m := range conv.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

// parseFileRequest classifies a reply body. It returns the requested relative
// paths and true only for an exact match of the file-request pattern: the
// marker at the very start and a single-line path list with nothing after it.
func (o *Orchestrator) parseFileRequest(body string) ([]string, bool) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, FileRequestMarker) {
		return nil, false
	}
	list := trimmed[len(FileRequestMarker):]
	if strings.ContainsAny(list, "\r\n") {
		return nil, false
	}

	var paths []string
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return nil, false
	}
	return paths, true
}

// validateRequested filters a model-originated path list down to contained,
// existing, not-yet-appended files. Offending entries are dropped silently
// (logged, never surfaced to the model or user as a security detail).
func (o *Orchestrator) validateRequested(requested []string, appended map[string]bool) []string {
	var valid []string
	seen := map[string]bool{}
	for _, p := range requested {
		abs, err := o.resolver.ValidateRequested(p)
		if err != nil {
			log.Warn().Str("path", p).Err(err).Msg("dropping requested file")
			continue
		}
		rel := o.resolver.Rel(abs)
		if appended[rel] || seen[rel] {
			continue
		}
		seen[rel] = true
		valid = append(valid, rel)
	}
	return valid
}

// appendFiles turns validated paths into @f: placeholder lines, records them
// in the novelty set and the committed user body, and returns the expanded
// fragment for the message list.
func (o *Orchestrator) appendFiles(paths []string, appended map[string]bool, out *Outcome) string {
	var lines []string
	for _, rel := range paths {
		appended[rel] = true
		lines = append(lines, "@f:"+rel)
	}
	raw := strings.Join(lines, "\n")
	out.UserBody = strings.TrimRight(out.UserBody, "\n") + "\n\n" + raw

	res := o.expander.Expand(raw)
	out.Warnings = append(out.Warnings, res.Warnings...)
	log.Info().Strs("files", paths).Int("attempt", out.Calls).Msg("supplying requested files")
	return strings.TrimSpace(res.Text)
}

// fileRequestPrompt teaches the model the chaining protocol. Sent only when
// auto file requests are enabled.
const fileRequestPrompt = "You are assisting inside a software project. " +
	"If you need to see additional project files before answering, reply with exactly:\n" +
	"GROK REQUESTS FILES: relative/path/one, relative/path/two\n" +
	"The reply must contain nothing else: no prose, no code fences, a single line, " +
	"paths relative to the project root. The files will be appended to the " +
	"conversation and the question asked again. Otherwise, answer normally."
