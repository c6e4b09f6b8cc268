package chunker

import (
	"regexp"
	"strings"
)

var headingLine = regexp.MustCompile(`^(#+)\s+(.+)$`)

type section struct {
	header *string
	level  int
	body   string
}

// splitSections partitions text on markdown heading lines. Content before
// the first heading forms a section without a header. Sections whose body is
// blank are dropped.
func splitSections(text string) []section {
	var (
		out     []section
		current section
		lines   []string
	)
	emit := func() {
		body := strings.TrimSpace(strings.Join(lines, "\n"))
		if body != "" {
			current.body = body
			out = append(out, current)
		}
		lines = lines[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		m := headingLine.FindStringSubmatch(strings.TrimRight(line, " \t\r"))
		if m == nil {
			lines = append(lines, line)
			continue
		}
		emit()
		header := strings.TrimSpace(m[2])
		current = section{header: &header, level: len(m[1])}
	}
	emit()
	return out
}
