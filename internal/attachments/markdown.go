package attachments

import (
	"strings"
)

// SplitMarkdown chunks a markdown document heading-aware: the text under
// each heading is chunked on its own, and every resulting chunk carries the
// heading path ("Guide > Setup > Linux") so retrieval can show where in the
// document a hit came from. Text before the first heading gets an empty
// context.
func (c *Chunker) SplitMarkdown(text string) []Chunk {
	sections := splitHeadings(text)
	var out []Chunk
	for _, sec := range sections {
		for _, chunk := range c.Split(sec.body) {
			chunk.Index = len(out)
			chunk.HeadingContext = sec.path
			out = append(out, chunk)
		}
	}
	return out
}

type mdSection struct {
	path string
	body string
}

func splitHeadings(text string) []mdSection {
	var sections []mdSection
	// Heading titles by level, levels are 1-based.
	trail := make([]string, 0, 6)
	var body strings.Builder
	inFence := false

	flush := func() {
		if strings.TrimSpace(body.String()) != "" {
			sections = append(sections, mdSection{
				path: strings.Join(trail, " > "),
				body: body.String(),
			})
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		level, title := headingOf(trimmed)
		if level == 0 || inFence {
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}
		flush()
		if level <= len(trail) {
			trail = trail[:level-1]
		}
		for len(trail) < level-1 {
			trail = append(trail, "")
		}
		trail = append(trail, title)
	}
	flush()
	return sections
}

// headingOf returns the ATX heading level and title, or 0 for a non-heading.
func headingOf(line string) (int, string) {
	if !strings.HasPrefix(line, "#") {
		return 0, ""
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, ""
	}
	return level, strings.TrimSpace(line[level:])
}
