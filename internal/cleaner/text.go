package cleaner

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	horizontalSpace = regexp.MustCompile(`[\t\f\v\r \x{00A0}\x{2009}\x{202F}]+`)
	excessNewlines  = regexp.MustCompile(`\n{3,}`)
)

// paragraphElements end a paragraph; lineElements end a line.
var (
	paragraphElements = map[atom.Atom]bool{
		atom.P: true, atom.Blockquote: true, atom.Pre: true, atom.Ul: true, atom.Ol: true,
		atom.Dl: true, atom.Table: true, atom.Section: true, atom.Article: true,
		atom.Main: true, atom.Figure: true, atom.Hr: true, atom.Address: true,
		atom.Form: true, atom.Fieldset: true, atom.Details: true,
	}
	lineElements = map[atom.Atom]bool{
		atom.Div: true, atom.Li: true, atom.Tr: true, atom.Dt: true, atom.Dd: true,
		atom.Caption: true, atom.Figcaption: true, atom.Summary: true, atom.Legend: true,
	}
	cellElements = map[atom.Atom]bool{atom.Td: true, atom.Th: true}
)

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	default:
		return 0
	}
}

// extractText renders the selection as text, keeping block boundaries as
// newlines. Headings become markdown heading lines when markHeadings is set.
func extractText(sel *goquery.Selection, markHeadings bool) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeNode(&b, n, markHeadings)
	}
	return b.String()
}

func writeNode(b *strings.Builder, n *html.Node, markHeadings bool) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		if n.DataAtom == atom.Br {
			b.WriteByte('\n')
			return
		}
		if level := headingLevel(n.DataAtom); level > 0 {
			var inner strings.Builder
			writeChildren(&inner, n, markHeadings)
			heading := strings.Join(strings.Fields(inner.String()), " ")
			if heading == "" {
				return
			}
			b.WriteString("\n\n")
			if markHeadings {
				b.WriteString(strings.Repeat("#", level))
				b.WriteByte(' ')
			}
			b.WriteString(heading)
			b.WriteString("\n\n")
			return
		}
	}

	switch {
	case paragraphElements[n.DataAtom]:
		b.WriteString("\n\n")
		writeChildren(b, n, markHeadings)
		b.WriteString("\n\n")
	case lineElements[n.DataAtom]:
		startLine(b)
		writeChildren(b, n, markHeadings)
		b.WriteByte('\n')
	case cellElements[n.DataAtom]:
		writeChildren(b, n, markHeadings)
		b.WriteByte(' ')
	default:
		writeChildren(b, n, markHeadings)
	}
}

func startLine(b *strings.Builder) {
	if s := b.String(); s != "" && s[len(s)-1] != '\n' {
		b.WriteByte('\n')
	}
}

func writeChildren(b *strings.Builder, n *html.Node, markHeadings bool) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		writeNode(b, child, markHeadings)
	}
}

// NormalizeWhitespace collapses horizontal whitespace runs to one space, trims
// every line, reduces three or more consecutive newlines to a single blank
// line and trims the result.
func NormalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// RemoveRepeatedLines drops every line longer than ten characters that occurs
// at least minOccurrences times in text. Comparison is on trimmed lines.
func RemoveRepeatedLines(text string, minOccurrences int) string {
	if minOccurrences <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	counts := make(map[string]int, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if utf8.RuneCountInString(trimmed) > 10 {
			counts[trimmed]++
		}
	}
	repeated := make(map[string]struct{})
	for line, n := range counts {
		if n >= minOccurrences {
			repeated[line] = struct{}{}
		}
	}
	if len(repeated) == 0 {
		return text
	}
	kept := lines[:0]
	for _, line := range lines {
		if _, drop := repeated[strings.TrimSpace(line)]; drop {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// IsSubstantial applies the default thresholds: at least 100 characters, 20
// words and a mean word length of 3.
func IsSubstantial(text string) bool {
	d := DefaultConfig()
	return isSubstantial(text, d.MinContentLength, d.MinWords, d.MinAvgWordLength)
}

func isSubstantial(text string, minLen, minWords int, minAvg float64) bool {
	if runeLen(text) < minLen {
		return false
	}
	words := strings.Fields(text)
	if len(words) < minWords || len(words) == 0 {
		return false
	}
	total := 0
	for _, w := range words {
		total += utf8.RuneCountInString(w)
	}
	return float64(total)/float64(len(words)) >= minAvg
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
