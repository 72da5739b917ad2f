// Package convo converts parsed document turns into the ordered message list
// for one API exchange, resolving generation overrides across the history.
package convo

import (
	"strings"

	"github.com/youruser/gchat/internal/document"
	"github.com/youruser/gchat/internal/expand"
)

// Message is one (role, text) pair sent to the API.
type Message struct {
	Role    string
	Content string
}

// Conversation is the fully expanded exchange input. Level and Temperature
// are the effective values after last-override-wins resolution over the whole
// history, falling back to the configured defaults.
type Conversation struct {
	Messages    []Message
	Level       int
	Temperature float64
	Warnings    []string
}

// Builder expands user turns and assembles conversations.
type Builder struct {
	expander    *expand.Expander
	defaultLvl  int
	defaultTemp float64
}

// New creates a Builder with the process-wide defaults for token level and
// temperature.
func New(expander *expand.Expander, defaultLevel int, defaultTemp float64) *Builder {
	return &Builder{
		expander:    expander,
		defaultLvl:  expand.ClampLevel(defaultLevel),
		defaultTemp: defaultTemp,
	}
}

// Build runs the expander over every user turn and produces the ordered
// message list. Assistant turns pass through verbatim. An override found in
// any turn stays in force until a later turn overrides the same kind, no
// matter how many turns lie between.
func (b *Builder) Build(turns []document.Turn) Conversation {
	conv := Conversation{
		Level:       b.defaultLvl,
		Temperature: b.defaultTemp,
	}

	var effective expand.Overrides
	for _, turn := range turns {
		body := strings.TrimSpace(turn.Body)
		if body == "" {
			continue
		}

		if turn.Role == document.RoleAssistant {
			conv.Messages = append(conv.Messages, Message{
				Role:    string(document.RoleAssistant),
				Content: body,
			})
			continue
		}

		res := b.expander.Expand(body)
		effective = effective.Merge(res.Overrides)
		conv.Warnings = append(conv.Warnings, res.Warnings...)
		conv.Messages = append(conv.Messages, Message{
			Role:    string(document.RoleUser),
			Content: strings.TrimSpace(res.Text),
		})
	}

	if effective.Level != nil {
		conv.Level = *effective.Level
	}
	if effective.Temperature != nil {
		conv.Temperature = *effective.Temperature
	}
	return conv
}
