// Package document parses the chat file into typed turns and provides the
// single write path back to it. The document is the only persistent store:
// every processing cycle re-derives the full conversation from its text.
package document

import (
	"strings"
)

// Turn markers. A marker must occupy a whole line to start a new turn;
// anything else is body text.
const (
	UserMarker      = "USER PROMPT:"
	AssistantMarker = "GROK RESPONSE:"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one contiguous region of the document.
type Turn struct {
	Role    Role
	Body    string // raw text between this turn's marker and the next
	Ordinal int    // position in document, starting at 0
	start   int    // byte offset of the marker line (or 0 for an implicit leading turn)
}

// Parse splits the document text into ordered turns.
//
// Text before the first marker is tolerated as an implicit user turn, and
// consecutive same-role markers each start their own turn. Parse never fails:
// a document with no markers at all is a single user turn.
func Parse(text string) []Turn {
	var turns []Turn

	appendTurn := func(role Role, start int) {
		turns = append(turns, Turn{Role: role, Ordinal: len(turns), start: start})
	}

	var body strings.Builder
	flushBody := func() {
		if len(turns) > 0 {
			turns[len(turns)-1].Body = body.String()
		}
		body.Reset()
	}

	offset := 0
	for offset <= len(text) {
		var line string
		nl := strings.IndexByte(text[offset:], '\n')
		if nl == -1 {
			line = text[offset:]
		} else {
			line = text[offset : offset+nl]
		}

		switch strings.TrimRight(line, "\r") {
		case UserMarker:
			flushBody()
			appendTurn(RoleUser, offset)
		case AssistantMarker:
			flushBody()
			appendTurn(RoleAssistant, offset)
		default:
			if len(turns) == 0 && strings.TrimSpace(line) != "" {
				// Content before any marker: treat as an implicit user turn.
				appendTurn(RoleUser, 0)
			}
			if len(turns) > 0 {
				body.WriteString(line)
				body.WriteByte('\n')
			}
		}

		if nl == -1 {
			break
		}
		offset += nl + 1
	}
	flushBody()

	return turns
}

// HasPendingUserTurn reports whether the last turn is a user turn with a
// non-whitespace body. This is the sole trigger for starting a cycle.
func HasPendingUserTurn(turns []Turn) bool {
	if len(turns) == 0 {
		return false
	}
	last := turns[len(turns)-1]
	return last.Role == RoleUser && strings.TrimSpace(last.Body) != ""
}

// Initial returns the content of a freshly created chat document: a single
// empty user section ready for editing.
func Initial() string {
	return UserMarker + "\n\n"
}

// Commit re-serializes the document with a reconciled trailing region:
// everything from the last user turn's marker to end-of-document is replaced
// by the (possibly amended) user body, the assistant response, and a new
// empty user section. It is the only mutation the pipeline performs.
func Commit(text string, turns []Turn, userBody, response string) string {
	cut := len(text)
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			cut = turns[i].start
			break
		}
	}

	var b strings.Builder
	b.WriteString(text[:cut])
	if cut > 0 && !strings.HasSuffix(text[:cut], "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(UserMarker + "\n")
	b.WriteString(strings.TrimSpace(userBody))
	b.WriteString("\n\n" + AssistantMarker + "\n")
	b.WriteString(strings.TrimSpace(response))
	b.WriteString("\n\n" + UserMarker + "\n")
	return b.String()
}
