// Package dedupe drops candidates that repeat a story already known from the
// recent corpus or from earlier in the same batch.
package dedupe

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/TobiSchelling/NewsDesk/internal/news"
)

// DefaultThreshold is the Dice score above which two texts are one story.
const DefaultThreshold = 0.6

const minTokenRunes = 3

// TokenSet is the set of significant tokens of a text.
type TokenSet map[string]struct{}

// Tokenize lowercases text, removes everything except Arabic script, Latin
// letters, digits and whitespace, and returns the set of tokens longer than
// two characters.
func Tokenize(text string) TokenSet {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case r >= '0' && r <= '9':
			return r
		case r >= 0x0600 && r <= 0x06FF:
			return r
		case unicode.Is(unicode.Latin, r):
			return r
		default:
			return -1
		}
	}, strings.ToLower(text))

	set := make(TokenSet)
	for _, tok := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(tok) >= minTokenRunes {
			set[tok] = struct{}{}
		}
	}
	return set
}

// Similarity is the Dice coefficient 2|A∩B|/(|A|+|B|), or 0 when either set
// is empty.
func Similarity(a, b TokenSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

// Stats counts what one Dedupe call removed.
type Stats struct {
	Input       int
	ExactDrops  int
	CorpusDrops int
	BatchDrops  int
}

// Accepted is the number of candidates that survived.
func (s Stats) Accepted() int {
	return s.Input - s.ExactDrops - s.CorpusDrops - s.BatchDrops
}

// Deduplicator removes exact and near duplicates.
type Deduplicator struct {
	threshold float64
}

// New returns a Deduplicator; a threshold outside (0, 1] selects the default.
func New(threshold float64) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Deduplicator{threshold: threshold}
}

// Dedupe keeps, in input order, the candidates whose id is not in knownIDs
// and whose text scores no more than the threshold against every recent item
// and every candidate accepted before it.
func (d *Deduplicator) Dedupe(candidates []news.Candidate, recent []news.ExistingItem, knownIDs map[string]struct{}) ([]news.Candidate, Stats) {
	stats := Stats{Input: len(candidates)}

	corpus := make([]TokenSet, len(recent))
	for i, item := range recent {
		corpus[i] = Tokenize(item.Text())
	}

	accepted := make([]news.Candidate, 0, len(candidates))
	acceptedTokens := make([]TokenSet, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))

	for _, c := range candidates {
		if _, ok := knownIDs[c.ID]; ok {
			stats.ExactDrops++
			continue
		}
		if _, ok := seen[c.ID]; ok {
			stats.ExactDrops++
			continue
		}
		seen[c.ID] = struct{}{}

		tokens := Tokenize(c.Text())
		if d.matchesAny(tokens, corpus) {
			stats.CorpusDrops++
			continue
		}
		if d.matchesAny(tokens, acceptedTokens) {
			stats.BatchDrops++
			continue
		}

		accepted = append(accepted, c)
		acceptedTokens = append(acceptedTokens, tokens)
	}
	return accepted, stats
}

func (d *Deduplicator) matchesAny(tokens TokenSet, against []TokenSet) bool {
	for _, other := range against {
		if Similarity(tokens, other) > d.threshold {
			return true
		}
	}
	return false
}
