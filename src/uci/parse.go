package uci

import (
	"strconv"
	"strings"
)

// Message is one parsed line of engine output.
type Message interface {
	message()
}

// ID is an "id name X" or "id author X" line.
type ID struct {
	Field string
	Value string
}

// UCIOK ends the uci handshake.
type UCIOK struct{}

// ReadyOK answers isready.
type ReadyOK struct{}

// Score is a centipawn or mate score from the side to move.
type Score struct {
	Mate       bool
	Value      int
	LowerBound bool
	UpperBound bool
}

// Info is an "info" line. Nil fields were absent from the line.
type Info struct {
	Depth    *int
	SelDepth *int
	MultiPV  *int
	Score    *Score
	Nodes    *int64
	NPS      *int64
	Time     *int64
	PV       []string
	String   string
}

// Empty reports whether the line carried no search data at all,
// as with "info string ..." or "info currmove ...".
func (i Info) Empty() bool {
	return i.Depth == nil && i.SelDepth == nil && i.MultiPV == nil &&
		i.Score == nil && i.Nodes == nil && i.NPS == nil && i.Time == nil &&
		len(i.PV) == 0
}

// BestMove terminates a search. None is set for "bestmove (none)"
// and "bestmove 0000", which engines send when the root has no legal move.
type BestMove struct {
	Move   string
	Ponder string
	None   bool
}

// Unrecognized is anything else. Engines may print vendor lines freely.
type Unrecognized struct {
	Line string
}

func (ID) message()           {}
func (Option) message()       {}
func (UCIOK) message()        {}
func (ReadyOK) message()      {}
func (Info) message()         {}
func (BestMove) message()     {}
func (Unrecognized) message() {}

// Parse classifies a single line of engine output. It never fails:
// lines it cannot make sense of come back as Unrecognized.
func Parse(line string) Message {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Unrecognized{Line: line}
	}

	switch fields[0] {
	case "id":
		if len(fields) >= 2 && (fields[1] == "name" || fields[1] == "author") {
			return ID{Field: fields[1], Value: strings.Join(fields[2:], " ")}
		}
	case "option":
		if opt, ok := parseOption(fields[1:]); ok {
			return opt
		}
	case "uciok":
		return UCIOK{}
	case "readyok":
		return ReadyOK{}
	case "info":
		return parseInfo(fields[1:])
	case "bestmove":
		if bm, ok := parseBestMove(fields[1:]); ok {
			return bm
		}
	}

	return Unrecognized{Line: line}
}

var optionKeywords = map[string]bool{
	"name": true, "type": true, "default": true, "min": true, "max": true, "var": true,
}

func parseOption(t []string) (Option, bool) {
	var opt Option
	if len(t) < 4 || t[0] != "name" {
		return opt, false
	}

	i := 1
	var name []string
	for ; i < len(t) && t[i] != "type"; i++ {
		name = append(name, t[i])
	}
	if len(name) == 0 || i+1 >= len(t) {
		return opt, false
	}
	opt.Name = strings.Join(name, " ")
	opt.Type = OptionType(t[i+1])
	i += 2

	for i < len(t) {
		key := t[i]
		i++
		var value []string
		for ; i < len(t) && !optionKeywords[t[i]]; i++ {
			value = append(value, t[i])
		}
		v := strings.Join(value, " ")

		switch key {
		case "default":
			opt.HasDefault = true
			if v != "<empty>" {
				opt.Default = v
			}
		case "min":
			opt.Min = parseInt64(v)
		case "max":
			opt.Max = parseInt64(v)
		case "var":
			opt.Vars = append(opt.Vars, v)
		}
	}

	return opt, true
}

var infoKeywords = map[string]bool{
	"depth": true, "seldepth": true, "multipv": true, "score": true,
	"nodes": true, "nps": true, "time": true, "pv": true, "string": true,
	"currmove": true, "currmovenumber": true, "hashfull": true, "tbhits": true,
	"sbhits": true, "cpuload": true, "wdl": true, "refutation": true, "currline": true,
}

func parseInfo(t []string) Message {
	var info Info

	for i := 0; i < len(t); i++ {
		switch t[i] {
		case "depth":
			info.Depth = intAt(t, &i)
		case "seldepth":
			info.SelDepth = intAt(t, &i)
		case "multipv":
			info.MultiPV = intAt(t, &i)
		case "nodes":
			info.Nodes = int64At(t, &i)
		case "nps":
			info.NPS = int64At(t, &i)
		case "time":
			info.Time = int64At(t, &i)
		case "score":
			info.Score = scoreAt(t, &i)
		case "pv":
			info.PV = movesAt(t, &i)
		case "refutation", "currline":
			movesAt(t, &i)
		case "string":
			info.String = strings.Join(t[i+1:], " ")
			i = len(t)
		case "currmove", "currmovenumber", "hashfull", "tbhits", "sbhits", "cpuload":
			if i+1 < len(t) {
				i++
			}
		case "wdl":
			i = min(i+3, len(t)-1)
		}
	}

	return info
}

func scoreAt(t []string, i *int) *Score {
	if *i+2 >= len(t) {
		return nil
	}
	kind := t[*i+1]
	if kind != "cp" && kind != "mate" {
		return nil
	}
	v, err := strconv.Atoi(t[*i+2])
	if err != nil {
		return nil
	}
	*i += 2

	s := &Score{Mate: kind == "mate", Value: v}
	for *i+1 < len(t) {
		switch t[*i+1] {
		case "lowerbound":
			s.LowerBound = true
		case "upperbound":
			s.UpperBound = true
		default:
			return s
		}
		*i++
	}
	return s
}

func movesAt(t []string, i *int) []string {
	var moves []string
	for *i+1 < len(t) && !infoKeywords[t[*i+1]] {
		moves = append(moves, t[*i+1])
		*i++
	}
	return moves
}

func intAt(t []string, i *int) *int {
	if *i+1 >= len(t) {
		return nil
	}
	v, err := strconv.Atoi(t[*i+1])
	if err != nil {
		return nil
	}
	*i++
	return &v
}

func int64At(t []string, i *int) *int64 {
	if *i+1 >= len(t) {
		return nil
	}
	v := parseInt64(t[*i+1])
	if v != nil {
		*i++
	}
	return v
}

func parseInt64(s string) *int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseBestMove(t []string) (BestMove, bool) {
	if len(t) == 0 {
		return BestMove{}, false
	}

	bm := BestMove{Move: t[0]}
	if bm.Move == "(none)" || bm.Move == "0000" {
		return BestMove{None: true}, true
	}
	if len(t) >= 3 && t[1] == "ponder" && t[2] != "(none)" && t[2] != "0000" {
		bm.Ponder = t[2]
	}
	return bm, true
}
