package search

import "github.com/pders01/newsync/internal/storage"

// Searcher defines the minimal search API used by the CLI.
type Searcher interface {
	Search(query string, limit int) ([]*Result, error)
}

// Result is one matching record.
type Result struct {
	Record  storage.NewsRecord
	Score   float64
	Matches []Match
}

// Match represents where text was found
type Match struct {
	Field  string // "title", "introduction"
	Text   string // matched text snippet
	Weight float64
}

// DebugStatser provides lightweight stats for visibility/debugging.
type DebugStatser interface {
	DocCount() (int, error)
}
