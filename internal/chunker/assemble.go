package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

const (
	paragraphSep = "\n\n"
	sentenceSep  = " "
)

// unit is the smallest piece the packer places into a chunk. sep is written
// between the unit and its predecessor in the same chunk. A unit with
// breakBefore starts a new chunk unless the open one is still undersized.
type unit struct {
	text        string
	sep         string
	breakBefore bool
}

// draft is a chunk under construction. Its text is overlap + overlapSep + body.
type draft struct {
	overlap    string
	overlapSep string
	body       string
	firstSep   string
	lastUnit   string
}

func (d draft) text() string {
	if d.overlap == "" {
		return d.body
	}
	return d.overlap + d.overlapSep + d.body
}

func (d draft) size() int {
	return utf8.RuneCountInString(d.text())
}

// appendDraft glues next onto d, dropping next's overlap.
func appendDraft(d, next draft) draft {
	d.body = d.body + next.firstSep + next.body
	d.lastUnit = next.lastUnit
	return d
}

func appendedSize(d, next draft) int {
	return d.size() + utf8.RuneCountInString(next.firstSep) + utf8.RuneCountInString(next.body)
}

// units breaks a section body into paragraphs. Paragraphs longer than limit
// are broken into sentences, oversized sentences into words and oversized
// words into rune pieces, so no unit exceeds limit.
func units(text string, limit int) []unit {
	var out []unit
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if runeLen(para) <= limit {
			out = append(out, unit{text: para, sep: paragraphSep})
			continue
		}
		first := len(out)
		for i, sentence := range splitSentences(para) {
			sep := sentenceSep
			if i == 0 {
				sep = paragraphSep
			}
			out = appendBounded(out, sentence, sep, limit)
		}
		if first < len(out) {
			out[first].breakBefore = true
		}
	}
	return out
}

func appendBounded(out []unit, sentence, sep string, limit int) []unit {
	if runeLen(sentence) <= limit {
		return append(out, unit{text: sentence, sep: sep})
	}
	for i, word := range strings.Fields(sentence) {
		wordSep := sentenceSep
		if i == 0 {
			wordSep = sep
		}
		if runeLen(word) <= limit {
			out = append(out, unit{text: word, sep: wordSep})
			continue
		}
		runes := []rune(word)
		for start := 0; start < len(runes); start += limit {
			end := min(start+limit, len(runes))
			pieceSep := ""
			if start == 0 {
				pieceSep = wordSep
			}
			out = append(out, unit{text: string(runes[start:end]), sep: pieceSep})
		}
	}
	return out
}

// splitSentences cuts after '.', '!' or '?' when followed by whitespace.
func splitSentences(para string) []string {
	var out []string
	start := 0
	runes := []rune(para)
	for i := 0; i < len(runes)-1; i++ {
		if !isSentenceEnd(runes[i]) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// pack accumulates units greedily into drafts of at most MaxChunkSize runes.
// When a unit does not fit, the next draft is seeded with the tail of the
// previous draft's last unit, shortened so the new draft still fits. A draft
// still below MinChunkSize is topped up with the head of the unit that does
// not fit, so only the final draft can be undersized.
func (c *Chunker) pack(us []unit) []draft {
	maxSize, minSize := c.cfg.MaxChunkSize, c.cfg.MinChunkSize
	var (
		out  []draft
		cur  draft
		size int
		open bool
	)
	flush := func() {
		if open {
			out = append(out, cur)
		}
		cur, size, open = draft{}, 0, false
	}
	start := func(u unit, seed string) {
		cur = draft{firstSep: u.sep, body: u.text, lastUnit: u.text}
		size = runeLen(u.text)
		if seed != "" {
			cur.overlap, cur.overlapSep = seed, u.sep
			size += runeLen(seed) + runeLen(u.sep)
		}
		open = true
	}
	add := func(u unit) {
		cur.body += u.sep + u.text
		cur.lastUnit = u.text
		size += runeLen(u.sep) + runeLen(u.text)
	}

	for i := 0; i < len(us); i++ {
		u := us[i]
		if !open {
			start(u, "")
			continue
		}
		if u.breakBefore && size >= minSize {
			flush()
			start(u, "")
			continue
		}
		sepSize, uSize := runeLen(u.sep), runeLen(u.text)
		if size+sepSize+uSize <= maxSize {
			add(u)
			continue
		}
		if room := maxSize - size - sepSize; size < minSize && room > 0 {
			head, rest, restSep := cutUnit(u.text, room, minSize-size-sepSize)
			add(unit{text: head, sep: u.sep})
			us[i] = unit{text: rest, sep: restSep}
			i--
			continue
		}
		last := cur.lastUnit
		flush()
		start(u, overlapTail(last, min(c.cfg.Overlap, maxSize-uSize-sepSize)))
	}
	flush()
	return out
}

// cutUnit splits s so that head holds at most room runes. It prefers the last
// whitespace boundary that still leaves at least want runes in head and cuts
// inside a word otherwise. restSep is the separator that rejoins the halves.
func cutUnit(s string, room, want int) (head, rest, restSep string) {
	runes := []rune(s)
	if room >= len(runes) {
		return s, "", ""
	}
	for i := room; i > 0 && i >= want; i-- {
		if !unicode.IsSpace(runes[i]) {
			continue
		}
		head = strings.TrimRightFunc(string(runes[:i]), unicode.IsSpace)
		rest = strings.TrimLeftFunc(string(runes[i:]), unicode.IsSpace)
		if head != "" && rest != "" && runeLen(head) >= want {
			return head, rest, sentenceSep
		}
		break
	}
	head, rest = string(runes[:room]), string(runes[room:])
	trimmedHead := strings.TrimRightFunc(head, unicode.IsSpace)
	trimmedRest := strings.TrimLeftFunc(rest, unicode.IsSpace)
	if trimmedHead == "" || trimmedRest == "" || (trimmedHead == head && trimmedRest == rest) {
		return head, rest, ""
	}
	return trimmedHead, trimmedRest, sentenceSep
}

// overlapTail returns up to n trailing runes of s without leading whitespace.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[len(runes)-n:]
	}
	return strings.TrimLeftFunc(string(runes), unicode.IsSpace)
}

// settle applies the final-chunk rule: a short last chunk joins its
// predecessor when the result fits, and a section that yields a single short
// chunk yields nothing.
func (c *Chunker) settle(ds []draft) []draft {
	n := len(ds)
	switch {
	case n == 0:
		return nil
	case n == 1 && ds[0].size() < c.cfg.MinChunkSize:
		return nil
	case n > 1 && ds[n-1].size() < c.cfg.MinChunkSize && appendedSize(ds[n-2], ds[n-1]) <= c.cfg.MaxChunkSize:
		ds[n-2] = appendDraft(ds[n-2], ds[n-1])
		ds = ds[:n-1]
	}
	return ds
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
