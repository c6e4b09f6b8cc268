package dedup

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ShingleSet is a set of word n-grams.
type ShingleSet map[string]struct{}

// Shingles lowercases and trims text, splits it on whitespace and returns the
// set of all contiguous n-word sequences. Texts with fewer than n words yield
// an empty set.
func Shingles(text string, n int) ShingleSet {
	if n <= 0 {
		n = 1
	}
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	out := make(ShingleSet)
	for i := 0; i+n <= len(words); i++ {
		out[strings.Join(words[i:i+n], " ")] = struct{}{}
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets are identical (1.0).
func Jaccard(a, b ShingleSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for s := range small {
		if _, ok := large[s]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Digest returns an order-independent xxhash64 of the set.
func (s ShingleSet) Digest() uint64 {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := xxhash.New()
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
