// Package mention encodes and decodes inline @-mention tokens embedded in
// comment text. The wire form is `@[Display Name](userId)`, stored verbatim
// inside the comment content.
package mention

import "strings"

// Match is a single decoded mention token.
type Match struct {
	DisplayName string
	UserID      string
	// Start and End delimit the token inside the scanned string, half-open.
	Start int
	End   int
}

// Segment is a run of content, either plain text or a mention chip.
type Segment struct {
	Text    string
	Mention *Match
}

// Encode renders a mention token for the given display name and user id.
func Encode(displayName, userID string) string {
	return "@[" + displayName + "](" + userID + ")"
}

// Decode scans content left to right and returns every well-formed mention
// token in document order. Matches never overlap. A bare `@name` without the
// bracket/paren form is not a mention.
func Decode(content string) []Match {
	var matches []Match
	i := 0
	for i < len(content) {
		at := strings.Index(content[i:], "@[")
		if at < 0 {
			break
		}
		start := i + at
		rest := content[start+2:]
		closeBracket := strings.IndexByte(rest, ']')
		if closeBracket < 0 {
			break
		}
		if closeBracket+1 >= len(rest) || rest[closeBracket+1] != '(' {
			i = start + 2
			continue
		}
		after := rest[closeBracket+2:]
		closeParen := strings.IndexByte(after, ')')
		if closeParen < 0 {
			i = start + 2
			continue
		}
		name := rest[:closeBracket]
		userID := after[:closeParen]
		end := start + 2 + closeBracket + 2 + closeParen + 1
		if userID == "" {
			i = start + 2
			continue
		}
		matches = append(matches, Match{
			DisplayName: name,
			UserID:      userID,
			Start:       start,
			End:         end,
		})
		i = end
	}
	return matches
}

// ExtractIDs returns the user ids of every mention token in content, in
// order of appearance. Duplicates are preserved: mentioning someone twice is
// an authorial choice, not noise.
func ExtractIDs(content string) []string {
	matches := Decode(content)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.UserID)
	}
	return ids
}

// Segments splits content into an ordered list of plain-text and mention
// runs, suitable for rendering mention chips with the surrounding text
// spliced back in.
func Segments(content string) []Segment {
	matches := Decode(content)
	if len(matches) == 0 {
		if content == "" {
			return nil
		}
		return []Segment{{Text: content}}
	}

	var segments []Segment
	cursor := 0
	for i := range matches {
		m := matches[i]
		if m.Start > cursor {
			segments = append(segments, Segment{Text: content[cursor:m.Start]})
		}
		segments = append(segments, Segment{Text: content[m.Start:m.End], Mention: &matches[i]})
		cursor = m.End
	}
	if cursor < len(content) {
		segments = append(segments, Segment{Text: content[cursor:]})
	}
	return segments
}
