// Package typeahead detects an in-progress @mention before the cursor, resolves candidates for it
// and drives the suggestion menu that turns a selection into a mention node.
package typeahead

import (
	"regexp"
	"unicode/utf8"
)

// MaxQueryLength bounds the number of query characters after a trigger.
const MaxQueryLength = 75

// punctuation may not appear in a query. The set is written for use inside a character class.
const punctuation = `\.,\+\*\?\$@\|#\{\}\(\)\^\-\[\]\\/!%'"~=<>_:;`

// space also covers the non-breaking space editors insert around inline nodes.
const space = `\s\x{00A0}`

var (
	// A query is a run of valid characters; a single '.', '-', '_' or '\'' may follow any of them
	// so "j.doe" and "o'brien" stay queryable. The rune bound is checked after matching.
	mentionPattern = regexp.MustCompile(
		`(^|[` + space + `(])(@((?:[^` + punctuation + space + `](?:[.\-_'])?){0,75}))$`,
	)
	slashPattern = regexp.MustCompile(
		`(^|[` + space + `(])(/((?:[^` + punctuation + space + `]){0,75}))$`,
	)
)

// Match is a trigger found at the end of the text before the cursor.
type Match struct {
	// LeadOffset is the rune offset of the trigger character.
	LeadOffset int `json:"leadOffset"`
	// MatchingQuery is the text typed after the trigger.
	MatchingQuery string `json:"matchingQuery"`
	// ReplaceableSpan is the trigger plus the query; a committed mention replaces exactly this.
	ReplaceableSpan string `json:"replaceableSpan"`
}

// SpanLength is the length of the replaceable span in runes.
func (m *Match) SpanLength() int {
	return utf8.RuneCountInString(m.ReplaceableSpan)
}

// QueryLength is the length of the query in runes.
func (m *Match) QueryLength() int {
	return utf8.RuneCountInString(m.MatchingQuery)
}

// MatchMention looks for an @mention trigger ending at the end of text. A slash command match
// takes precedence: whenever the slash pattern matches, no mention is reported.
func MatchMention(text string) *Match {
	if MatchSlash(text) != nil {
		return nil
	}
	return find(mentionPattern, text)
}

// MatchSlash looks for a /command trigger ending at the end of text.
func MatchSlash(text string) *Match {
	return find(slashPattern, text)
}

func find(pattern *regexp.Regexp, text string) *Match {
	loc := pattern.FindStringSubmatchIndex(text)
	if loc == nil || utf8.RuneCountInString(text[loc[6]:loc[7]]) > MaxQueryLength {
		return nil
	}
	return &Match{
		LeadOffset:      utf8.RuneCountInString(text[:loc[4]]),
		MatchingQuery:   text[loc[6]:loc[7]],
		ReplaceableSpan: text[loc[4]:loc[5]],
	}
}
