package models

import "fmt"

// SearchLimit bounds one analysis. Exactly one field may be set.
type SearchLimit struct {
	Depth      int   `json:"depth,omitempty"`
	Nodes      int64 `json:"nodes,omitempty"`
	MoveTimeMS int64 `json:"movetime_ms,omitempty"`
	Infinite   bool  `json:"infinite,omitempty"`
}

// Validate checks that exactly one limit is set and that it is positive.
func (l SearchLimit) Validate() error {
	set := 0
	if l.Depth != 0 {
		set++
	}
	if l.Nodes != 0 {
		set++
	}
	if l.MoveTimeMS != 0 {
		set++
	}
	if l.Infinite {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one search limit must be set, got %d", set)
	}
	if l.Depth < 0 || l.Nodes < 0 || l.MoveTimeMS < 0 {
		return fmt.Errorf("search limit must be positive")
	}
	return nil
}

// AnalysisRequest is a position to analyse: a base FEN (empty or "startpos"
// for the initial position), moves played from it in UCI notation, a search
// limit and engine option overrides.
type AnalysisRequest struct {
	FEN     string            `json:"fen"`
	Moves   []string          `json:"moves,omitempty"`
	Limit   SearchLimit       `json:"limit"`
	Options map[string]string `json:"options,omitempty"`
}

// Job represents a chess position analysis job queued on the broker
type Job struct {
	ID       string          `json:"id"`
	Request  AnalysisRequest `json:"request"`
	Priority int             `json:"priority,omitempty"`
	BatchID  string          `json:"batch_id,omitempty"`
}
