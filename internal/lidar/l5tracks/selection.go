package l5tracks

import "fmt"

// Scoring rule names accepted by GraphConfig.SelectionScoring.
const (
	ScoringMostRecent        = "most_recent"
	ScoringMostConnected     = "most_connected"
	ScoringHighestConfidence = "highest_confidence"
)

// Scorer ranks nodes when choosing the selected hypothesis of a clique or
// component. Better must be a strict ordering: it reports whether a should
// be preferred over b.
type Scorer interface {
	Better(a, b *GraphNode) bool
}

// ScorerFunc adapts an ordinary function to the Scorer interface.
type ScorerFunc func(a, b *GraphNode) bool

// Better calls f(a, b).
func (f ScorerFunc) Better(a, b *GraphNode) bool { return f(a, b) }

// MostRecent prefers the latest timestamp, then the most compatibility
// edges, then the lowest node id.
var MostRecent Scorer = ScorerFunc(func(a, b *GraphNode) bool {
	if a.TimestampNanos() != b.TimestampNanos() {
		return a.TimestampNanos() > b.TimestampNanos()
	}
	if a.EdgeCount() != b.EdgeCount() {
		return a.EdgeCount() > b.EdgeCount()
	}
	return a.ID < b.ID
})

// MostConnected prefers the most compatibility edges, then the latest
// timestamp, then the lowest node id.
var MostConnected Scorer = ScorerFunc(func(a, b *GraphNode) bool {
	if a.EdgeCount() != b.EdgeCount() {
		return a.EdgeCount() > b.EdgeCount()
	}
	if a.TimestampNanos() != b.TimestampNanos() {
		return a.TimestampNanos() > b.TimestampNanos()
	}
	return a.ID < b.ID
})

// HighestConfidence prefers the front-end confidence, then the latest
// timestamp, then the lowest node id.
var HighestConfidence Scorer = ScorerFunc(func(a, b *GraphNode) bool {
	if a.Box.Confidence != b.Box.Confidence {
		return a.Box.Confidence > b.Box.Confidence
	}
	if a.TimestampNanos() != b.TimestampNanos() {
		return a.TimestampNanos() > b.TimestampNanos()
	}
	return a.ID < b.ID
})

// ScorerByName resolves a selection_scoring value. An empty name selects
// the default, most_recent.
func ScorerByName(name string) (Scorer, error) {
	switch name {
	case "", ScoringMostRecent:
		return MostRecent, nil
	case ScoringMostConnected:
		return MostConnected, nil
	case ScoringHighestConfidence:
		return HighestConfidence, nil
	default:
		return nil, fmt.Errorf("%w: unknown selection scoring %q", ErrConfiguration, name)
	}
}
