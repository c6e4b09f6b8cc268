// Package cleaner strips structural and boilerplate noise from raw markup and
// yields normalized text plus a substantiality signal.
package cleaner

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

// Region names reported in Result.Region.
const (
	RegionMain     = "main"
	RegionBody     = "body"
	RegionDocument = "document"
	RegionFallback = "fallback"
	RegionRaw      = "raw"
)

// Result describes one cleaning pass.
type Result struct {
	Text            string
	Region          string
	Fallback        bool
	RemovedElements int
}

// Cleaner is stateless after construction and safe for concurrent use.
type Cleaner struct {
	cfg      Config
	patterns []*regexp.Regexp
	logger   *zap.Logger
}

// New compiles the configured boilerplate patterns.
func New(cfg Config, logger *zap.Logger) (*Cleaner, error) {
	cfg = cfg.withDefaults()
	patterns, err := compilePatterns(cfg.BoilerplatePatterns)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{cfg: cfg, patterns: patterns, logger: logger}, nil
}

// Config returns the effective configuration.
func (c *Cleaner) Config() Config {
	return c.cfg
}

// CleanHTML is Clean without the diagnostics.
func (c *Cleaner) CleanHTML(raw string) string {
	return c.Clean(raw).Text
}

// Clean removes denylisted elements, extracts the main content region, strips
// boilerplate patterns and normalizes whitespace. Markup that yields no text
// degrades to a whole-document fallback instead of failing.
//
// The result is plain text with entities decoded, so "&lt;nav&gt;" comes back
// as "<nav>". Feeding it to Clean again would parse that as markup; cleaned
// text is re-cleaned with CleanText, or CleanDocument with corpus.SourceText.
func (c *Cleaner) Clean(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return Result{Region: RegionDocument}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		c.logger.Debug("markup parse failed, using raw text", zap.Error(err))
		return Result{Text: c.CleanText(raw), Region: RegionRaw, Fallback: true}
	}

	removed := c.removeChrome(doc)
	region, sel := c.mainRegion(doc)
	text := c.CleanText(extractText(sel, c.cfg.MarkHeadings))
	if text != "" {
		return Result{Text: text, Region: region, RemovedElements: removed}
	}

	c.logger.Debug("main region produced no text, falling back", zap.String("region", region))
	return Result{
		Text:            c.fallback(raw),
		Region:          RegionFallback,
		Fallback:        true,
		RemovedElements: removed,
	}
}

// CleanText applies boilerplate removal and whitespace normalization to text
// that has already been extracted from its container format.
func (c *Cleaner) CleanText(text string) string {
	for _, re := range c.patterns {
		text = re.ReplaceAllString(text, "")
	}
	return NormalizeWhitespace(text)
}

// CleanDocument fills in the cleaned fields of doc from its RawMarkup. Text
// sources skip markup parsing. Repeated lines are removed before the quality
// indicators are computed.
func (c *Cleaner) CleanDocument(doc corpus.Document, kind corpus.SourceKind) corpus.Document {
	var text string
	switch kind {
	case corpus.SourceText, corpus.SourcePDF:
		text = c.CleanText(doc.RawMarkup)
	default:
		res := c.Clean(doc.RawMarkup)
		text = res.Text
		doc.UsedFallback = res.Fallback
	}
	text = NormalizeWhitespace(RemoveRepeatedLines(text, c.cfg.MinLineOccurrences))

	doc.CleanedText = text
	doc.WordCount = len(strings.Fields(text))
	doc.CharCount = runeLen(text)
	doc.IsSubstantial = c.IsSubstantial(text)
	return doc
}

// IsSubstantial reports whether text looks like prose rather than residual
// navigation tokens.
func (c *Cleaner) IsSubstantial(text string) bool {
	return isSubstantial(text, c.cfg.MinContentLength, c.cfg.MinWords, c.cfg.MinAvgWordLength)
}

func (c *Cleaner) removeChrome(doc *goquery.Document) int {
	removed := removeComments(doc.Selection)
	for _, selector := range c.cfg.RemoveSelectors {
		sel := doc.Find(selector)
		removed += sel.Length()
		sel.Remove()
	}
	return removed
}

func (c *Cleaner) mainRegion(doc *goquery.Document) (string, *goquery.Selection) {
	for _, selector := range c.cfg.MainSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return RegionMain, sel
		}
	}
	if body := doc.Find("body").First(); body.Length() > 0 {
		return RegionBody, body
	}
	return RegionDocument, doc.Selection
}

// fallback re-parses the original markup and keeps everything except
// scripts and styles.
func (c *Cleaner) fallback(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return c.CleanText(raw)
	}
	doc.Find("script, style, noscript, template").Remove()
	return c.CleanText(extractText(doc.Selection, c.cfg.MarkHeadings))
}

func removeComments(sel *goquery.Selection) int {
	var comments []*html.Node
	for _, root := range sel.Nodes {
		collectComments(root, &comments)
	}
	for _, n := range comments {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	return len(comments)
}

func collectComments(n *html.Node, out *[]*html.Node) {
	if n.Type == html.CommentNode {
		*out = append(*out, n)
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectComments(child, out)
	}
}
