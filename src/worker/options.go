package worker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jacokyle01/remote-uci/src/models"
	"github.com/jacokyle01/remote-uci/src/uci"
)

// Limits caps resources a remote request may ask for. Zero means no cap.
type Limits struct {
	MaxThreads int
	MaxHash    int // MiB
}

func (l Limits) clamp(name, value string) string {
	var limit int
	switch strings.ToLower(name) {
	case "threads":
		limit = l.MaxThreads
	case "hash":
		limit = l.MaxHash
	}
	if limit <= 0 {
		return value
	}
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && v > limit {
		return strconv.Itoa(limit)
	}
	return value
}

// prepareSearch validates a request and turns it into what the engine needs.
// caps may be nil before the first handshake, in which case option checks
// are deferred to activation.
func prepareSearch(req models.AnalysisRequest, caps *uci.Capabilities, baseline []Setting, lim Limits) (search, error) {
	if err := req.Limit.Validate(); err != nil {
		return search{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	settings, err := resolveSettings(caps, baseline, req.Options, lim)
	if err != nil {
		return search{}, err
	}

	normalize := normalizePosition
	for _, st := range settings {
		if strings.EqualFold(st.Name, "UCI_Variant") && !strings.EqualFold(st.Value, "chess") {
			normalize = checkVariantPosition
		}
	}
	fen, moves, err := normalize(req.FEN, req.Moves)
	if err != nil {
		return search{}, err
	}

	return search{fen: fen, moves: moves, limit: toUCILimit(req.Limit), settings: settings}, nil
}

func toUCILimit(l models.SearchLimit) uci.Limit {
	switch {
	case l.Depth > 0:
		return uci.Limit{Kind: uci.LimitDepth, Value: int64(l.Depth)}
	case l.Nodes > 0:
		return uci.Limit{Kind: uci.LimitNodes, Value: l.Nodes}
	case l.MoveTimeMS > 0:
		return uci.Limit{Kind: uci.LimitMoveTime, Value: l.MoveTimeMS}
	}
	return uci.Limit{Kind: uci.LimitInfinite}
}

// resolveSettings overlays request overrides on the provider baseline.
// Overrides must name declared, settable options; spin values are clamped.
// Baseline entries the engine rejects are dropped.
func resolveSettings(caps *uci.Capabilities, baseline []Setting, overrides map[string]string, lim Limits) ([]Setting, error) {
	var out []Setting
	index := map[string]int{}
	put := func(st Setting) {
		key := strings.ToLower(st.Name)
		if i, ok := index[key]; ok {
			out[i] = st
			return
		}
		index[key] = len(out)
		out = append(out, st)
	}

	for _, st := range baseline {
		st.Value = lim.clamp(st.Name, st.Value)
		if caps != nil {
			opt, ok := caps.Lookup(st.Name)
			if !ok {
				continue
			}
			v, err := opt.Normalize(st.Value)
			if err != nil {
				continue
			}
			st = Setting{Name: opt.Name, Value: v}
		}
		put(st)
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := lim.clamp(name, overrides[name])
		if caps == nil {
			if strings.ContainsAny(name+value, "\r\n") {
				return nil, fmt.Errorf("%w: option %q contains a line break", ErrMalformedRequest, name)
			}
			put(Setting{Name: name, Value: value})
			continue
		}
		opt, ok := caps.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown option %q", ErrMalformedRequest, name)
		}
		v, err := opt.Normalize(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}
		put(Setting{Name: opt.Name, Value: v})
	}
	return out, nil
}

// optionState tracks what has been set on the engine, in order, so that a
// restarted engine can be brought back to the same configuration.
type optionState struct {
	order  []string
	values map[string]Setting
}

func newOptionState(initial []Setting) *optionState {
	o := &optionState{values: map[string]Setting{}}
	for _, st := range initial {
		o.set(st)
	}
	return o
}

func (o *optionState) set(st Setting) {
	key := strings.ToLower(st.Name)
	if _, ok := o.values[key]; !ok {
		o.order = append(o.order, key)
	}
	o.values[key] = st
}

func (o *optionState) remove(name string) {
	key := strings.ToLower(name)
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.order {
		if k == key {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

func (o *optionState) settings() []Setting {
	out := make([]Setting, 0, len(o.order))
	for _, k := range o.order {
		out = append(out, o.values[k])
	}
	return out
}

// apply records desired as the engine configuration and returns the
// setoption commands needed to get there. Options no longer desired go
// back to their declared default.
func (o *optionState) apply(desired []Setting, caps *uci.Capabilities) []Setting {
	var changes []Setting
	want := map[string]bool{}
	for _, st := range desired {
		key := strings.ToLower(st.Name)
		want[key] = true
		if cur, ok := o.values[key]; ok && cur.Value == st.Value {
			continue
		}
		o.set(st)
		changes = append(changes, st)
	}

	for _, st := range o.settings() {
		if want[strings.ToLower(st.Name)] {
			continue
		}
		o.remove(st.Name)
		if opt, ok := caps.Lookup(st.Name); ok && opt.HasDefault && opt.Overridable() && opt.Default != st.Value {
			changes = append(changes, Setting{Name: opt.Name, Value: opt.Default})
		}
	}
	return changes
}
