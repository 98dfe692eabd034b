package search

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/pders01/newsync/internal/storage"
)

// Lister supplies the records a Scanner searches.
type Lister interface {
	All() ([]storage.NewsRecord, error)
}

// Scanner searches the cached collection directly, without an index. It is
// used when the bleve index is disabled.
type Scanner struct {
	store Lister
}

func NewScanner(store Lister) *Scanner {
	return &Scanner{store: store}
}

// Search scores every record and returns the best limit matches.
func (s *Scanner) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	records, err := s.store.All()
	if err != nil {
		return nil, err
	}

	var results []*Result
	for _, r := range records {
		if result := scoreRecord(r, terms); result != nil {
			results = append(results, result)
		}
	}

	// stable so equal scores keep the store's newest-first order
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func scoreRecord(r storage.NewsRecord, terms []string) *Result {
	var matches []Match
	var totalScore float64

	if titleScore := scoreField(r.Title, terms, 4.0); titleScore > 0 {
		matches = append(matches, Match{
			Field:  "title",
			Text:   r.Title,
			Weight: titleScore,
		})
		totalScore += titleScore
	}

	if introScore := scoreField(r.Introduction, terms, 2.0); introScore > 0 {
		matches = append(matches, Match{
			Field:  "introduction",
			Text:   findBestSnippet(r.Introduction, terms, 150),
			Weight: introScore,
		})
		totalScore += introScore
	}

	if totalScore == 0 {
		return nil
	}
	return &Result{Record: r, Score: totalScore, Matches: matches}
}

// scoreField calculates relevance score for a field
func scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}

	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	matchedTerms := 0

	for _, term := range terms {
		if strings.Contains(lower, term) {
			score += 2.0
			matchedTerms++
		}

		for _, word := range words {
			switch {
			case word == term:
				score += 1.5
				matchedTerms++
			case strings.HasPrefix(word, term) || strings.HasSuffix(word, term):
				score += 1.0
				matchedTerms++
			case strings.Contains(word, term):
				score += 0.5
				matchedTerms++
			}
		}
	}

	if len(terms) > 1 && matchedTerms > 1 {
		score *= 1.0 + float64(matchedTerms)/float64(len(terms))
	}

	tf := float64(matchedTerms) / float64(len(words))
	score *= 1.0 + math.Log(1.0+tf)

	return score * weight
}

// findBestSnippet finds the window of text holding the most search terms
func findBestSnippet(text string, terms []string, maxLength int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	windowSize := maxLength / 8 // approximate words per snippet
	if windowSize >= len(words) {
		return truncate(text, maxLength)
	}

	bestScore := 0
	bestStart := 0
	for i := 0; i <= len(words)-windowSize; i++ {
		window := strings.ToLower(strings.Join(words[i:i+windowSize], " "))
		score := 0
		for _, term := range terms {
			if strings.Contains(window, term) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestStart = i
		}
	}

	return truncate(strings.Join(words[bestStart:bestStart+windowSize], " "), maxLength)
}

// tokenize breaks text into lower-case terms of two or more characters
func tokenize(text string) []string {
	var terms []string
	current := strings.Builder{}

	flush := func() {
		if term := current.String(); len([]rune(term)) > 1 {
			terms = append(terms, term)
		}
		current.Reset()
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			flush()
		}
	}
	flush()

	return terms
}

// truncate limits text to maxLen runes with an ellipsis
func truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-1]) + "…"
}
