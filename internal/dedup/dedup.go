// Package dedup classifies cleaned documents as unique, exact duplicates or
// near duplicates of previously accepted documents.
//
// Exact duplicates are detected through a SHA-256 digest of the lowercased,
// trimmed text. Near duplicates are detected by comparing word shingles
// against every stored fingerprint with Jaccard similarity. The comparison is
// a linear scan per document.
package dedup

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	"github.com/JakeFAU/corpus-refinery/internal/hash/sha256"
)

// Kind is the classification outcome.
type Kind int

// Classification outcomes.
const (
	Unique Kind = iota
	ExactDuplicate
	NearDuplicate
)

func (k Kind) String() string {
	switch k {
	case ExactDuplicate:
		return "exact_duplicate"
	case NearDuplicate:
		return "near_duplicate"
	default:
		return "unique"
	}
}

// Verdict is returned by Classify. Similarity and MatchedURL are only set for
// near duplicates; exact duplicates report MatchedURL when known.
type Verdict struct {
	Kind       Kind    `json:"kind"`
	Similarity float64 `json:"similarity,omitempty"`
	MatchedURL string  `json:"matched_url,omitempty"`
}

// IsDuplicate reports whether the document was rejected.
func (v Verdict) IsDuplicate() bool {
	return v.Kind != Unique
}

// Reason renders the verdict as a rejection reason string, for example
// "near_duplicate_0.87".
func (v Verdict) Reason() string {
	if v.Kind == NearDuplicate {
		return fmt.Sprintf("near_duplicate_%.2f", v.Similarity)
	}
	return v.Kind.String()
}

// Config holds the similarity parameters.
type Config struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	ShingleSize         int     `mapstructure:"shingle_size"`
	PrefixChars         int     `mapstructure:"prefix_chars"`
}

// DefaultConfig returns threshold 0.85, 3-word shingles and a 5000 character
// stored prefix.
func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.85, ShingleSize: 3, PrefixChars: 5000}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup similarity_threshold must be in (0, 1], got %v", c.SimilarityThreshold)
	}
	if c.ShingleSize <= 0 {
		return fmt.Errorf("dedup shingle_size must be positive, got %d", c.ShingleSize)
	}
	if c.PrefixChars <= 0 {
		return fmt.Errorf("dedup prefix_chars must be positive, got %d", c.PrefixChars)
	}
	return nil
}

// Fingerprint is the stored summary of an accepted document.
type Fingerprint struct {
	URL           string `json:"url"`
	ContentHash   string `json:"content_hash"`
	ShingleDigest uint64 `json:"shingle_digest"`
	Prefix        string `json:"-"`
	WordCount     int    `json:"word_count"`

	shingles ShingleSet
}

// Stats summarises the deduplicator state.
type Stats struct {
	TotalSeen           int     `json:"total_seen"`
	UniqueURLs          int     `json:"unique_urls"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	ShingleSize         int     `json:"shingle_size"`
}

// Deduplicator owns the seen-hash set and the fingerprint store. All methods
// are safe for concurrent use; Classify calls are serialized.
type Deduplicator struct {
	cfg    Config
	logger *zap.Logger

	mu           sync.RWMutex
	seen         map[string]string // content hash -> first accepted URL
	fingerprints []Fingerprint
	byURL        map[string]int
}

// New constructs a Deduplicator. Zero config fields take their defaults.
func New(cfg Config, logger *zap.Logger) *Deduplicator {
	d := DefaultConfig()
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = d.SimilarityThreshold
	}
	if cfg.ShingleSize <= 0 {
		cfg.ShingleSize = d.ShingleSize
	}
	if cfg.PrefixChars <= 0 {
		cfg.PrefixChars = d.PrefixChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		cfg:    cfg,
		logger: logger,
		seen:   make(map[string]string),
		byURL:  make(map[string]int),
	}
}

// ContentHash returns the exact-duplicate key for text.
func ContentHash(text string) string {
	return sha256.SumString(strings.ToLower(strings.TrimSpace(text)))
}

// Classify checks text against the store. On a unique verdict the document's
// hash and fingerprint are stored under url, replacing any earlier
// fingerprint for the same URL.
func (d *Deduplicator) Classify(text, url string) Verdict {
	hash := ContentHash(text)
	shingles := Shingles(text, d.cfg.ShingleSize)

	d.mu.Lock()
	defer d.mu.Unlock()

	if matched, ok := d.seen[hash]; ok {
		return Verdict{Kind: ExactDuplicate, Similarity: 1, MatchedURL: matched}
	}

	for i := range d.fingerprints {
		fp := &d.fingerprints[i]
		sim := Jaccard(shingles, fp.shingles)
		if sim >= d.cfg.SimilarityThreshold {
			d.logger.Info("near-duplicate detected",
				zap.String("url", url),
				zap.String("matched_url", fp.URL),
				zap.Float64("similarity", sim),
			)
			return Verdict{Kind: NearDuplicate, Similarity: sim, MatchedURL: fp.URL}
		}
	}

	prefix := truncateRunes(text, d.cfg.PrefixChars)
	stored := Shingles(prefix, d.cfg.ShingleSize)
	fp := Fingerprint{
		URL:           url,
		ContentHash:   hash,
		ShingleDigest: stored.Digest(),
		Prefix:        prefix,
		WordCount:     len(strings.Fields(text)),
		shingles:      stored,
	}
	d.seen[hash] = url
	if idx, ok := d.byURL[url]; ok {
		d.fingerprints[idx] = fp
	} else {
		d.byURL[url] = len(d.fingerprints)
		d.fingerprints = append(d.fingerprints, fp)
	}
	return Verdict{Kind: Unique}
}

// Deduplicate classifies docs in input order. Duplicates are returned with
// DuplicateReason set.
func (d *Deduplicator) Deduplicate(docs []corpus.Document) (unique, duplicates []corpus.Document) {
	for _, doc := range docs {
		v := d.Classify(doc.CleanedText, doc.URL)
		if v.IsDuplicate() {
			doc.DuplicateReason = v.Reason()
			duplicates = append(duplicates, doc)
			continue
		}
		unique = append(unique, doc)
	}
	d.logger.Info("deduplicated batch",
		zap.Int("unique", len(unique)),
		zap.Int("duplicates", len(duplicates)),
		zap.Int("total", len(docs)),
	)
	return unique, duplicates
}

// Fingerprint returns the stored fingerprint for url.
func (d *Deduplicator) Fingerprint(url string) (Fingerprint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx, ok := d.byURL[url]
	if !ok {
		return Fingerprint{}, false
	}
	return d.fingerprints[idx], true
}

// Stats returns counts and parameters.
func (d *Deduplicator) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Stats{
		TotalSeen:           len(d.seen),
		UniqueURLs:          len(d.byURL),
		SimilarityThreshold: d.cfg.SimilarityThreshold,
		ShingleSize:         d.cfg.ShingleSize,
	}
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
