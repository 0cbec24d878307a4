package worker

import (
	"fmt"
	"strings"

	"github.com/corentings/chess"

	"github.com/jacokyle01/remote-uci/src/uci"
)

// normalizePosition validates a base position and the moves played from it.
// It returns the FEN to send and the moves in canonical lower-case UCI form.
func normalizePosition(fen string, moves []string) (string, []string, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		fen = uci.StartFEN
	}

	opt, err := chess.FEN(fen)
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid fen %q: %v", ErrMalformedRequest, fen, err)
	}
	game := chess.NewGame(opt)
	base := game.Position().String()

	out := make([]string, 0, len(moves))
	for i, mv := range moves {
		mv = strings.ToLower(strings.TrimSpace(mv))
		m := findMove(game.ValidMoves(), mv)
		if m == nil {
			return "", nil, fmt.Errorf("%w: illegal move %q at ply %d", ErrMalformedRequest, mv, i+1)
		}
		if err := game.Move(m); err != nil {
			return "", nil, fmt.Errorf("%w: move %q: %v", ErrMalformedRequest, mv, err)
		}
		out = append(out, mv)
	}
	return base, out, nil
}

// checkVariantPosition is the only check done for non-standard variants,
// whose rules the chess library does not know.
func checkVariantPosition(fen string, moves []string) (string, []string, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		fen = uci.StartFEN
	}
	if _, err := uci.Position(fen, moves); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if len(strings.Fields(fen)) < 4 {
		return "", nil, fmt.Errorf("%w: invalid fen %q", ErrMalformedRequest, fen)
	}
	return fen, moves, nil
}

func findMove(valid []*chess.Move, uciMove string) *chess.Move {
	for _, m := range valid {
		if m.String() == uciMove {
			return m
		}
	}
	return nil
}
