// Package enrich prepends speaker and time context to message text before
// embedding, so vectors capture who said what, where, and when.
package enrich

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Platform mention tokens: <@id> and <@!id> are user mentions, <@&id> is a
// role mention, <#id> is a channel mention.
var (
	userMentionRe    = regexp.MustCompile(`<@!?(\d+)>`)
	roleMentionRe    = regexp.MustCompile(`<@&\d+>`)
	channelMentionRe = regexp.MustCompile(`<#\d+>`)
)

// Resolver maps member ids to display names. Unknown ids fall back to a
// generic placeholder.
type Resolver interface {
	ResolveMember(id int64) (string, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(id int64) (string, bool)

func (f ResolverFunc) ResolveMember(id int64) (string, bool) { return f(id) }

// CleanMentions replaces raw mention tokens with readable names.
func CleanMentions(content string, resolver Resolver) string {
	content = userMentionRe.ReplaceAllStringFunc(content, func(match string) string {
		idStr := userMentionRe.FindStringSubmatch(match)[1]
		var id int64
		fmt.Sscanf(idStr, "%d", &id)
		if resolver != nil {
			if name, ok := resolver.ResolveMember(id); ok {
				return "@" + name
			}
		}
		return "@User#" + idStr
	})
	content = roleMentionRe.ReplaceAllString(content, "@role")
	content = channelMentionRe.ReplaceAllString(content, "#channel")
	return content
}

// Message enriches a single message:
//
//	[<author> in #<channel> @ YYYY-MM-DD HH:MM]: content
//
// channelName may be empty, which drops the "in #..." part.
func Message(content, authorName string, ts time.Time, channelName string, resolver Resolver) string {
	content = CleanMentions(content, resolver)
	timeStr := ts.UTC().Format("2006-01-02 15:04")
	if channelName != "" {
		return fmt.Sprintf("[%s in #%s @ %s]: %s", authorName, channelName, timeStr, content)
	}
	return fmt.Sprintf("[%s @ %s]: %s", authorName, timeStr, content)
}

// Line is one message of a session to enrich.
type Line struct {
	Content    string
	AuthorName string
	Timestamp  time.Time
}

// Session enriches a whole session. The channel appears once in a header
// rather than on every line.
func Session(lines []Line, channelName string, resolver Resolver) string {
	enriched := make([]string, len(lines))
	for i, l := range lines {
		enriched[i] = Message(l.Content, l.AuthorName, l.Timestamp, "", resolver)
	}
	body := strings.Join(enriched, "\n")
	if channelName != "" && len(lines) > 1 {
		return fmt.Sprintf("Conversation in #%s:\n%s", channelName, body)
	}
	return body
}

// Preview truncates enriched text for point payloads, on a rune boundary.
func Preview(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
