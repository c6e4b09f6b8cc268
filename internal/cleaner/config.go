package cleaner

import (
	"fmt"
	"regexp"
)

// Config controls which markup is dropped, where the main content is looked
// up, and which boilerplate text is stripped afterwards.
type Config struct {
	// RemoveSelectors are CSS selectors for non-content chrome.
	RemoveSelectors []string `mapstructure:"remove_selectors"`
	// MainSelectors are probed in order to locate the main content region.
	MainSelectors []string `mapstructure:"main_selectors"`
	// BoilerplatePatterns are case-insensitive regular expressions removed
	// from the extracted text.
	BoilerplatePatterns []string `mapstructure:"boilerplate_patterns"`
	// MarkHeadings renders h1-h6 as markdown heading lines.
	MarkHeadings bool `mapstructure:"mark_headings"`

	MinContentLength   int     `mapstructure:"min_content_length"`
	MinWords           int     `mapstructure:"min_words"`
	MinAvgWordLength   float64 `mapstructure:"min_avg_word_length"`
	MinLineOccurrences int     `mapstructure:"min_line_occurrences"`
}

// DefaultRemoveSelectors lists the element categories that never carry
// document content: navigation, footers, header chrome, consent banners,
// breadcrumbs, sidebars, ads, social widgets and scripts.
var DefaultRemoveSelectors = []string{
	"nav", "footer", "header", "aside",
	"script", "style", "noscript", "template", "iframe", "svg",
	".navigation", ".nav", ".menu", "[role='navigation']",
	".cookie-banner", ".cookie-notice", ".cookie-consent", "#cookie-banner", "#cookie-consent",
	".consent-banner", "#consent",
	".breadcrumb", ".breadcrumbs", "[aria-label='breadcrumb']",
	".sidebar", ".aside",
	".advertisement", ".ads", ".ad",
	".social-media", ".social-links", ".share-buttons", ".sharing",
}

// DefaultMainSelectors are the semantic main-content containers.
var DefaultMainSelectors = []string{"main", "article", "[role='main']"}

// DefaultBoilerplatePatterns covers cookie, privacy and imprint notices plus
// copyright lines, in German and English.
var DefaultBoilerplatePatterns = []string{
	`Kontakt\s*\|\s*Impressum\s*\|\s*Datenschutz`,
	`Diese Seite verwendet Cookies`,
	`Cookie[s]?[\s-]*(Richtlinie|Policy|Hinweis|Notice)`,
	`Datenschutz[\s-]*(erklärung|hinweis|bestimmungen)?`,
	`Impressum`,
	`©\s*\d{4}.*Universität`,
	`Alle Rechte vorbehalten`,
	`Um unsere Webseite.*zu verbessern`,
	`This (web)?site uses cookies`,
	`All rights reserved\.?`,
	`Privacy Policy`,
	`(©|\(c\)|Copyright)\s*\d{4}[^\n]*`,
}

// DefaultConfig returns the cleaner defaults.
func DefaultConfig() Config {
	return Config{
		RemoveSelectors:     append([]string(nil), DefaultRemoveSelectors...),
		MainSelectors:       append([]string(nil), DefaultMainSelectors...),
		BoilerplatePatterns: append([]string(nil), DefaultBoilerplatePatterns...),
		MarkHeadings:        true,
		MinContentLength:    100,
		MinWords:            20,
		MinAvgWordLength:    3,
		MinLineOccurrences:  3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RemoveSelectors == nil {
		c.RemoveSelectors = d.RemoveSelectors
	}
	if c.MainSelectors == nil {
		c.MainSelectors = d.MainSelectors
	}
	if c.BoilerplatePatterns == nil {
		c.BoilerplatePatterns = d.BoilerplatePatterns
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = d.MinContentLength
	}
	if c.MinWords <= 0 {
		c.MinWords = d.MinWords
	}
	if c.MinAvgWordLength <= 0 {
		c.MinAvgWordLength = d.MinAvgWordLength
	}
	if c.MinLineOccurrences <= 0 {
		c.MinLineOccurrences = d.MinLineOccurrences
	}
	return c
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?im)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile boilerplate pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
