package chat

import (
	"context"
	"html/template"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"agency-chat/internal/models"
	"agency-chat/internal/repositories"
)

// MentionLimit caps the candidates offered by the picker.
const MentionLimit = 5

var mentionPattern = regexp.MustCompile(`@\[([^\]\n]+)\]\(([^)\s]+)\)`)

// FormatMention renders the stored mention token, trailing space included.
func FormatMention(c models.MentionCandidate) string {
	return "@[" + c.DisplayName + "](" + c.ID + ") "
}

// ActiveMention finds the mention being typed at cursor. start and cursor
// are rune offsets; start points at the '@'.
func ActiveMention(text string, cursor int) (start int, query string, ok bool) {
	runes := []rune(text)
	if cursor < 0 || cursor > len(runes) {
		cursor = len(runes)
	}
	before := runes[:cursor]

	// The trigger is the last '@' that opens a word; an '@' inside a word
	// (an email address) is part of the query.
	at := -1
	for i := len(before) - 1; i >= 0; i-- {
		if before[i] == '@' && (i == 0 || unicode.IsSpace(before[i-1])) {
			at = i
			break
		}
	}
	if at < 0 {
		return 0, "", false
	}

	q := string(before[at+1:])
	if strings.ContainsRune(q, '\n') {
		return 0, "", false
	}
	return at, q, true
}

// SpliceMention replaces text[start:cursor] with the token for c and
// returns the new text and the cursor placed right after the token.
func SpliceMention(text string, start, cursor int, c models.MentionCandidate) (string, int) {
	runes := []rune(text)
	if cursor > len(runes) {
		cursor = len(runes)
	}
	if start < 0 || start > cursor {
		start = cursor
	}
	token := []rune(FormatMention(c))

	out := make([]rune, 0, len(runes)-(cursor-start)+len(token))
	out = append(out, runes[:start]...)
	out = append(out, token...)
	out = append(out, runes[cursor:]...)
	return string(out), start + len(token)
}

// Segment is a piece of message text. MentionID is set for mention links.
type Segment struct {
	Text      string
	MentionID string
}

func (s Segment) IsMention() bool { return s.MentionID != "" }

// ParseMentions splits content into plain text and mention segments.
func ParseMentions(content string) []Segment {
	matches := mentionPattern.FindAllStringSubmatchIndex(content, -1)
	segments := make([]Segment, 0, 2*len(matches)+1)
	last := 0
	for _, m := range matches {
		if m[0] > last {
			segments = append(segments, Segment{Text: content[last:m[0]]})
		}
		segments = append(segments, Segment{
			Text:      content[m[2]:m[3]],
			MentionID: content[m[4]:m[5]],
		})
		last = m[1]
	}
	if last < len(content) {
		segments = append(segments, Segment{Text: content[last:]})
	}
	return segments
}

// RenderMentionsHTML escapes content and turns mention tokens into profile links.
func RenderMentionsHTML(content string) template.HTML {
	var b strings.Builder
	for _, s := range ParseMentions(content) {
		if !s.IsMention() {
			b.WriteString(template.HTMLEscapeString(s.Text))
			continue
		}
		b.WriteString(`<a href="/profiles/`)
		b.WriteString(template.HTMLEscapeString(url.PathEscape(s.MentionID)))
		b.WriteString(`" class="mention">`)
		b.WriteString(template.HTMLEscapeString(s.Text))
		b.WriteString(`</a>`)
	}
	return template.HTML(b.String())
}

// PlainMentions replaces mention tokens with "@name".
func PlainMentions(content string) string {
	return mentionPattern.ReplaceAllString(content, "@$1")
}

// MentionedIDs lists the distinct profile ids mentioned in content.
func MentionedIDs(content string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range ParseMentions(content) {
		if s.IsMention() && !seen[s.MentionID] {
			seen[s.MentionID] = true
			out = append(out, s.MentionID)
		}
	}
	return out
}

// MentionDirectory answers picker searches from the profiles table.
type MentionDirectory struct {
	profiles repositories.ProfileRepository
}

func NewMentionDirectory(profiles repositories.ProfileRepository) *MentionDirectory {
	return &MentionDirectory{profiles: profiles}
}

// Search matches display names case-insensitively, never returns the viewer
// and caps the result at MentionLimit.
func (d *MentionDirectory) Search(ctx context.Context, viewerID, query string) ([]models.MentionCandidate, error) {
	return d.profiles.SearchProfiles(ctx, strings.TrimSpace(query), viewerID, MentionLimit)
}

// MentionSearcher is the picker's view of a directory, already bound to a viewer.
type MentionSearcher interface {
	SearchMentions(ctx context.Context, query string) ([]models.MentionCandidate, error)
}

// Key is a navigation key understood by MentionPicker.
type Key string

const (
	KeyDown   Key = "ArrowDown"
	KeyUp     Key = "ArrowUp"
	KeyEnter  Key = "Enter"
	KeyEscape Key = "Escape"
)

// KeyResult tells the composer what the picker did with a key press.
type KeyResult struct {
	Handled bool
	Text    string
	Cursor  int
}

// MentionPicker is the keyboard-driven candidate list shown while a
// mention is being typed.
type MentionPicker struct {
	searcher    MentionSearcher
	open        bool
	start       int
	candidates  []models.MentionCandidate
	highlighted int
}

func NewMentionPicker(searcher MentionSearcher) *MentionPicker {
	return &MentionPicker{searcher: searcher}
}

// OnInput re-evaluates the picker after the text or cursor changed.
func (p *MentionPicker) OnInput(ctx context.Context, text string, cursor int) error {
	start, query, ok := ActiveMention(text, cursor)
	if !ok {
		p.close()
		return nil
	}
	candidates, err := p.searcher.SearchMentions(ctx, query)
	if err != nil {
		p.close()
		return err
	}
	if len(candidates) > MentionLimit {
		candidates = candidates[:MentionLimit]
	}
	p.open = true
	p.start = start
	p.candidates = candidates
	p.highlighted = 0
	return nil
}

// HandleKey applies a key press. Unhandled keys fall through to the composer.
func (p *MentionPicker) HandleKey(key Key, text string, cursor int) KeyResult {
	if !p.open || len(p.candidates) == 0 {
		return KeyResult{Text: text, Cursor: cursor}
	}
	n := len(p.candidates)
	switch key {
	case KeyDown:
		p.highlighted = (p.highlighted + 1) % n
	case KeyUp:
		p.highlighted = (p.highlighted - 1 + n) % n
	case KeyEnter:
		return p.Select(p.highlighted, text, cursor)
	case KeyEscape:
		p.close()
	default:
		return KeyResult{Text: text, Cursor: cursor}
	}
	return KeyResult{Handled: true, Text: text, Cursor: cursor}
}

// Select commits candidate i and closes the picker.
func (p *MentionPicker) Select(i int, text string, cursor int) KeyResult {
	if !p.open || i < 0 || i >= len(p.candidates) {
		return KeyResult{Text: text, Cursor: cursor}
	}
	newText, newCursor := SpliceMention(text, p.start, cursor, p.candidates[i])
	p.close()
	return KeyResult{Handled: true, Text: newText, Cursor: newCursor}
}

func (p *MentionPicker) Open() bool { return p.open }

func (p *MentionPicker) Highlighted() int { return p.highlighted }

func (p *MentionPicker) Candidates() []models.MentionCandidate {
	return append([]models.MentionCandidate(nil), p.candidates...)
}

func (p *MentionPicker) close() {
	p.open = false
	p.candidates = nil
	p.highlighted = 0
}
