// Package expand replaces placeholders embedded in a user prompt with file
// contents or directory listings, and extracts per-turn generation overrides.
//
// Recognized forms (an optional single space may precede the colon):
//
//	@f:<path-expr>  file/glob/directory inclusion
//	@d:<path-expr>  directory tree listing
//	@t:L<n>         max-tokens level override, n in 0..5
//	@p:<float>      temperature override
package expand

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/youruser/gchat/internal/project"
)

// Token level bounds. Level n buys 512 * 2^n response tokens.
const (
	MinLevel = 0
	MaxLevel = 5
)

// LevelTokens maps a token level to its max_tokens budget.
func LevelTokens(level int) int {
	return 512 << level
}

// ClampLevel forces a level into the supported range.
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// Overrides carries the per-turn generation parameters extracted from
// placeholders. Nil fields mean "not set in this turn".
type Overrides struct {
	Level       *int
	Temperature *float64
}

// Merge overlays o with later-turn overrides, implementing last-wins.
func (o Overrides) Merge(later Overrides) Overrides {
	out := o
	if later.Level != nil {
		out.Level = later.Level
	}
	if later.Temperature != nil {
		out.Temperature = later.Temperature
	}
	return out
}

// Result is the outcome of one expansion pass over one turn.
type Result struct {
	Text      string
	Overrides Overrides
	Warnings  []string
}

type placeholderKind int

const (
	fileInclude placeholderKind = iota
	dirTree
	tokenLevel
	temperature
)

type placeholder struct {
	kind       placeholderKind
	arg        string
	start, end int
}

var placeholderRe = regexp.MustCompile(`@([fdtp]) ?:(\S+)`)

// scan finds every recognized placeholder in text in reading order.
func scan(text string) []placeholder {
	var found []placeholder
	for _, m := range placeholderRe.FindAllStringSubmatchIndex(text, -1) {
		var kind placeholderKind
		switch text[m[2]:m[3]] {
		case "f":
			kind = fileInclude
		case "d":
			kind = dirTree
		case "t":
			kind = tokenLevel
		case "p":
			kind = temperature
		}
		found = append(found, placeholder{
			kind:  kind,
			arg:   text[m[4]:m[5]],
			start: m[0],
			end:   m[1],
		})
	}
	return found
}

var levelRe = regexp.MustCompile(`^L(\d+)$`)

// Expander expands placeholders against a project-rooted resolver.
type Expander struct {
	res *project.Resolver
}

// New creates an Expander using res for all filesystem placeholders.
func New(res *project.Resolver) *Expander {
	return &Expander{res: res}
}

// Expand performs one pass over a turn's raw text. Failed placeholders are
// left verbatim with a warning; text with no placeholder syntax is returned
// unchanged.
func (e *Expander) Expand(text string) Result {
	placeholders := scan(text)
	if len(placeholders) == 0 {
		return Result{Text: text}
	}

	res := Result{}
	var b strings.Builder
	last := 0

	for _, p := range placeholders {
		b.WriteString(text[last:p.start])
		last = p.end
		original := text[p.start:p.end]

		switch p.kind {
		case fileInclude:
			expanded, err := e.expandFiles(p.arg)
			if err != nil {
				res.warnf("could not expand %s: %v", original, err)
				b.WriteString(original)
				continue
			}
			b.WriteString(expanded)

		case dirTree:
			expanded, err := e.expandTree(p.arg)
			if err != nil {
				res.warnf("could not expand %s: %v", original, err)
				b.WriteString(original)
				continue
			}
			b.WriteString(expanded)

		case tokenLevel:
			m := levelRe.FindStringSubmatch(p.arg)
			if m == nil {
				res.warnf("malformed token level %s (want @t:L0..L%d)", original, MaxLevel)
				b.WriteString(original)
				continue
			}
			level, err := strconv.Atoi(m[1])
			if err != nil {
				res.warnf("malformed token level %s: %v", original, err)
				b.WriteString(original)
				continue
			}
			if level > MaxLevel {
				res.warnf("token level L%d clamped to L%d", level, MaxLevel)
				level = MaxLevel
			}
			res.Overrides.Level = &level

		case temperature:
			temp, err := strconv.ParseFloat(p.arg, 64)
			if err != nil {
				res.warnf("malformed temperature %s", original)
				b.WriteString(original)
				continue
			}
			res.Overrides.Temperature = &temp
		}
	}
	b.WriteString(text[last:])

	res.Text = b.String()
	return res
}

// expandFiles renders each resolved file's contents as a labeled fenced block,
// concatenated in sorted path order.
func (e *Expander) expandFiles(expr string) (string, error) {
	paths, err := e.res.ResolveFiles(expr)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		log.Debug().Str("file", e.res.Rel(path)).Int("bytes", len(data)).Msg("including file")
		fmt.Fprintf(&b, "Contents of %s:\n```\n%s\n```\n",
			e.res.Rel(path), strings.TrimRight(string(data), "\n"))
	}
	return b.String(), nil
}

// expandTree renders a directory listing as a labeled fenced block.
func (e *Expander) expandTree(expr string) (string, error) {
	dir, err := e.res.ResolveDir(expr)
	if err != nil {
		return "", err
	}
	tree, err := e.res.Tree(dir)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Contents of directory %s:\n```\n%s```\n", e.res.Rel(dir), tree), nil
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
