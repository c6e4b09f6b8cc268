// Package pdf provides PDF text extraction backends and the URL-derived
// metadata attached to PDF chunks.
package pdf

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

// ErrDisabled is returned when no extraction backend is configured.
var ErrDisabled = errors.New("pdf extraction disabled")

// MethodNone marks a result that no backend produced.
const MethodNone = "none"

// Disabled is the extractor selected when PDF support is off.
type Disabled struct{}

// Extract always fails with ErrDisabled.
func (Disabled) Extract(_ context.Context, rawURL string) (corpus.PDFContent, error) {
	return corpus.PDFContent{
		URL:              rawURL,
		Title:            Filename(rawURL),
		ExtractionMethod: MethodNone,
		Error:            ErrDisabled.Error(),
	}, ErrDisabled
}

// ExtractorFunc adapts a function to corpus.PDFExtractor.
type ExtractorFunc func(ctx context.Context, url string) (corpus.PDFContent, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, url string) (corpus.PDFContent, error) {
	return f(ctx, url)
}

var studyPrograms = []struct{ key, name string }{
	{"bwl", "Betriebswirtschaftslehre"},
	{"vwl", "Volkswirtschaftslehre"},
	{"winfo", "Wirtschaftsinformatik"},
	{"sowi", "Sozialwissenschaften"},
	{"gesundheitsoekonomie", "Gesundheitsökonomie"},
	{"wirtschaftspaedagogik", "Wirtschaftspädagogik"},
}

// Filename returns the last path segment of rawURL.
func Filename(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	return path.Base(strings.TrimRight(p, "/"))
}

// Title prefers the document title and falls back to the file name without
// its extension.
func Title(content corpus.PDFContent) string {
	if t := strings.TrimSpace(content.Title); t != "" {
		return t
	}
	name := Filename(content.URL)
	if trimmed := strings.TrimSuffix(name, path.Ext(name)); trimmed != "" {
		return trimmed
	}
	return name
}

// MetadataFromURL derives study program, document type and degree from
// well-known URL fragments.
func MetadataFromURL(rawURL string) map[string]string {
	md := map[string]string{
		"url":      rawURL,
		"filename": Filename(rawURL),
	}
	lower := strings.ToLower(rawURL)
	for _, p := range studyPrograms {
		if strings.Contains(lower, p.key) {
			md["study_program"] = p.name
			break
		}
	}
	switch {
	case strings.Contains(lower, "pruefungsordnung"), strings.Contains(lower, "po-"), strings.Contains(lower, "po_"):
		md["document_type"] = "Prüfungsordnung"
	case strings.Contains(lower, "modulhandbuch"):
		md["document_type"] = "Modulhandbuch"
	case strings.Contains(lower, "studienordnung"):
		md["document_type"] = "Studienordnung"
	case strings.Contains(lower, "verlaufsplan"):
		md["document_type"] = "Verlaufsplan"
	}
	switch {
	case strings.Contains(lower, "bachelor"):
		md["degree"] = "Bachelor"
	case strings.Contains(lower, "master"):
		md["degree"] = "Master"
	}
	return md
}
