package uci

import (
	"errors"
	"fmt"
	"strings"
)

// Commands without arguments.
const (
	CmdUCI     = "uci"
	CmdIsReady = "isready"
	CmdNewGame = "ucinewgame"
	CmdStop    = "stop"
	CmdQuit    = "quit"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// LimitKind selects which go parameter bounds a search.
type LimitKind int

const (
	LimitDepth LimitKind = iota + 1
	LimitNodes
	LimitMoveTime
	LimitInfinite
)

// Limit bounds a search. Value is plies, nodes or milliseconds
// depending on Kind and is ignored for LimitInfinite.
type Limit struct {
	Kind  LimitKind
	Value int64
}

var errLineBreak = errors.New("uci: argument contains a line break")

// Go builds the go command for l. Exactly one limit is ever emitted.
func Go(l Limit) (string, error) {
	switch l.Kind {
	case LimitDepth:
		if l.Value <= 0 {
			return "", fmt.Errorf("uci: depth must be positive, got %d", l.Value)
		}
		return fmt.Sprintf("go depth %d", l.Value), nil
	case LimitNodes:
		if l.Value <= 0 {
			return "", fmt.Errorf("uci: nodes must be positive, got %d", l.Value)
		}
		return fmt.Sprintf("go nodes %d", l.Value), nil
	case LimitMoveTime:
		if l.Value <= 0 {
			return "", fmt.Errorf("uci: movetime must be positive, got %d", l.Value)
		}
		return fmt.Sprintf("go movetime %d", l.Value), nil
	case LimitInfinite:
		return "go infinite", nil
	}
	return "", fmt.Errorf("uci: unknown limit kind %d", l.Kind)
}

// Position builds "position fen <fen> [moves ...]".
func Position(fen string, moves []string) (string, error) {
	if strings.ContainsAny(fen, "\r\n") {
		return "", errLineBreak
	}
	var b strings.Builder
	b.WriteString("position fen ")
	b.WriteString(strings.TrimSpace(fen))
	if len(moves) > 0 {
		b.WriteString(" moves")
		for _, m := range moves {
			if strings.ContainsAny(m, " \r\n") {
				return "", fmt.Errorf("uci: invalid move %q", m)
			}
			b.WriteString(" ")
			b.WriteString(m)
		}
	}
	return b.String(), nil
}

// SetOption builds a setoption command. An empty value presses a button.
func SetOption(name, value string) (string, error) {
	if strings.ContainsAny(name+value, "\r\n") {
		return "", errLineBreak
	}
	if value == "" {
		return "setoption name " + name, nil
	}
	return "setoption name " + name + " value " + value, nil
}
