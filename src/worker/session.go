package worker

import (
	"fmt"
	"time"

	"github.com/jacokyle01/remote-uci/src/models"
	"github.com/jacokyle01/remote-uci/src/uci"
)

// SessionState is the lifecycle state of one analysis request.
type SessionState int

const (
	StateQueued SessionState = iota
	StateActive
	StateStopping
	StateDone
	StateCancelled
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateFailed
}

// OnEngine reports whether the session currently owns the engine.
func (s SessionState) OnEngine() bool {
	return s == StateActive || s == StateStopping
}

var transitions = map[SessionState][]SessionState{
	StateQueued:   {StateActive, StateCancelled, StateFailed},
	StateActive:   {StateStopping, StateDone, StateCancelled, StateFailed},
	StateStopping: {StateDone, StateCancelled, StateFailed},
}

// stopReason records why a search was told to stop. It decides what the
// eventual bestmove turns into.
type stopReason int

const (
	stopNone stopReason = iota
	stopPreempted
	stopCancelled
	stopDisconnected
)

// search is the engine-facing form of a validated request.
type search struct {
	fen      string
	moves    []string
	limit    uci.Limit
	settings []Setting
}

type session struct {
	id      string
	epoch   uint64
	req     models.AnalysisRequest
	search  search
	state   SessionState
	reason  stopReason
	seq     uint64
	started time.Time
}

func newSession(id string, epoch uint64, req models.AnalysisRequest, s search) *session {
	return &session{id: id, epoch: epoch, req: req, search: s, state: StateQueued}
}

// transition moves the session to next if the state machine allows it.
func (s *session) transition(next SessionState) error {
	for _, allowed := range transitions[s.state] {
		if allowed == next {
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("session %s: illegal transition %s -> %s", s.id, s.state, next)
}

func (s *session) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// outcome turns the search's bestmove into the terminal state and result.
func (s *session) outcome(bm uci.BestMove) (SessionState, models.AnalysisResult) {
	switch s.reason {
	case stopCancelled:
		return StateCancelled, models.AnalysisResult{Status: models.StatusCancelled, Error: models.ErrCancelled}
	case stopDisconnected:
		return StateCancelled, models.AnalysisResult{Status: models.StatusCancelled, Error: models.ErrRelayDisconnected}
	}
	res := models.AnalysisResult{Status: models.StatusDone, NoMove: bm.None}
	if !bm.None {
		res.BestMove = bm.Move
		res.Ponder = bm.Ponder
	}
	return StateDone, res
}

func updateFromInfo(info uci.Info) models.AnalysisUpdate {
	u := models.AnalysisUpdate{
		Depth:    info.Depth,
		SelDepth: info.SelDepth,
		MultiPV:  info.MultiPV,
		Nodes:    info.Nodes,
		NPS:      info.NPS,
		TimeMS:   info.Time,
		PV:       info.PV,
	}
	if info.Score != nil {
		v := info.Score.Value
		sc := &models.Score{LowerBound: info.Score.LowerBound, UpperBound: info.Score.UpperBound}
		if info.Score.Mate {
			sc.Mate = &v
		} else {
			sc.CP = &v
		}
		u.Score = sc
	}
	return u
}
