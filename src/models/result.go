package models

// Score is a centipawn or mate-in-N score from the side to move.
// Exactly one of CP and Mate is set.
type Score struct {
	CP         *int `json:"cp,omitempty"`
	Mate       *int `json:"mate,omitempty"`
	LowerBound bool `json:"lowerbound,omitempty"`
	UpperBound bool `json:"upperbound,omitempty"`
}

// AnalysisUpdate is one info line of a running search. Nil fields were not
// reported by the engine, which is different from a reported zero.
type AnalysisUpdate struct {
	Depth    *int     `json:"depth,omitempty"`
	SelDepth *int     `json:"seldepth,omitempty"`
	MultiPV  *int     `json:"multipv,omitempty"`
	Score    *Score   `json:"score,omitempty"`
	Nodes    *int64   `json:"nodes,omitempty"`
	NPS      *int64   `json:"nps,omitempty"`
	TimeMS   *int64   `json:"time_ms,omitempty"`
	PV       []string `json:"pv,omitempty"`
}

// ResultStatus is the terminal state of a session.
type ResultStatus string

const (
	StatusDone      ResultStatus = "done"
	StatusCancelled ResultStatus = "cancelled"
	StatusFailed    ResultStatus = "failed"
)

// ErrorTag says why a session did not complete normally.
type ErrorTag string

const (
	ErrMalformedRequest  ErrorTag = "malformed_request"
	ErrProcessExited     ErrorTag = "process_exited"
	ErrHandshakeTimeout  ErrorTag = "handshake_timeout"
	ErrWatchdogTimeout   ErrorTag = "watchdog_timeout"
	ErrSuperseded        ErrorTag = "superseded"
	ErrCancelled         ErrorTag = "cancelled"
	ErrRelayDisconnected ErrorTag = "relay_disconnected"
	ErrOffline           ErrorTag = "offline"
)

// AnalysisResult is the last message of every session.
type AnalysisResult struct {
	Status   ResultStatus `json:"status"`
	BestMove string       `json:"best_move,omitempty"`
	Ponder   string       `json:"ponder,omitempty"`
	NoMove   bool         `json:"no_move,omitempty"` // no legal move at the root
	Error    ErrorTag     `json:"error,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// Result represents the summarized analysis the broker keeps per job
type Result struct {
	JobID     string       `json:"job_id"`
	Status    ResultStatus `json:"status"`
	BestMove  string       `json:"best_move,omitempty"`
	Ponder    string       `json:"ponder,omitempty"`
	NoMove    bool         `json:"no_move,omitempty"`
	Score     *Score       `json:"score,omitempty"`
	Depth     int          `json:"depth"`
	Nodes     int64        `json:"nodes"`
	NodesPerS int64        `json:"nodes_per_s"`
	PV        []string     `json:"pv,omitempty"` // principal variation
	Time      int64        `json:"time_ms"`
	Updates   int          `json:"updates"`
	Error     string       `json:"error,omitempty"`
}
