package stats

import (
	"sort"
	"strings"

	"github.com/jdziat/logqueue/pkg/core"
)

// Config is the vocabulary the engine ranks against.
type Config struct {
	Levels      []string // Recognized levels, in tie-break order
	ErrorLevels []string // Levels counted by the errors facet
	TopIPs      int      // Length of the cross-job top IP list
}

// DefaultConfig returns the standard level vocabulary.
func DefaultConfig() Config {
	return Config{
		Levels:      []string{"CRITICAL", "ERROR", "WARN", "WARNING", "INFO", "DEBUG", "TRACE"},
		ErrorLevels: []string{"ERROR", "CRITICAL"},
		TopIPs:      core.TopIPLimit,
	}
}

// Engine aggregates statistics records. It is immutable and safe for
// concurrent use.
type Engine struct {
	levels  []string
	rank    map[string]int
	isError map[string]bool
	topIPs  int
}

// NewEngine creates an Engine from a copy of cfg.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		levels:  make([]string, 0, len(cfg.Levels)),
		rank:    make(map[string]int, len(cfg.Levels)),
		isError: make(map[string]bool, len(cfg.ErrorLevels)),
		topIPs:  cfg.TopIPs,
	}
	for _, l := range cfg.Levels {
		l = strings.ToUpper(l)
		if _, dup := e.rank[l]; dup {
			continue
		}
		e.rank[l] = len(e.levels)
		e.levels = append(e.levels, l)
	}
	for _, l := range cfg.ErrorLevels {
		e.isError[strings.ToUpper(l)] = true
	}
	if e.topIPs <= 0 {
		e.topIPs = DefaultConfig().TopIPs
	}
	return e
}

// Levels returns the recognized level vocabulary.
func (e *Engine) Levels() []string {
	return append([]string(nil), e.levels...)
}

// tally accumulates counts per key and remembers first-encounter order.
type tally struct {
	order  []string
	counts map[string]int64
}

func newTally() *tally {
	return &tally{counts: make(map[string]int64)}
}

func (t *tally) add(key string, n int64) {
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
	}
	t.counts[key] += n
}

func (t *tally) total() int64 {
	var sum int64
	for _, n := range t.counts {
		sum += n
	}
	return sum
}

// Single summarizes one record. A nil record yields zero totals and a level
// list holding every recognized level at count zero.
func (e *Engine) Single(raw *core.RawStats) core.View {
	view := core.EmptyView()
	levels := newTally()
	for _, l := range e.levels {
		levels.add(l, 0)
	}
	if raw == nil {
		view.Levels.Details = e.levelDetails(levels)
		return view
	}

	for _, c := range raw.LevelDistribution {
		levels.add(strings.ToUpper(c.Key), nonNegative(c.Count))
	}
	view.Levels = core.LevelFacet{Total: levels.total(), Details: e.levelDetails(levels)}
	view.Errors = e.errorFacet(levels)

	keywords := newTally()
	for _, c := range raw.KeywordFrequency {
		keywords.add(c.Key, nonNegative(c.Count))
	}
	view.Keywords = keywordFacet(keywords)

	top := make([]core.IPCount, len(raw.TopIPs))
	for i, ip := range raw.TopIPs {
		top[i] = core.IPCount{Address: ip.Address, Count: nonNegative(ip.Count)}
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	view.IPs = core.IPFacet{Unique: nonNegative(raw.UniqueIPs), Top: top}
	return view
}

// Many folds records into one view. Empty input yields zero totals and
// empty lists; levels appear only when observed with a positive count.
func (e *Engine) Many(raws []core.RawStats) core.View {
	view := core.EmptyView()
	if len(raws) == 0 {
		return view
	}

	levels, keywords, ips := newTally(), newTally(), newTally()
	for i := range raws {
		r := &raws[i]
		for _, c := range r.LevelDistribution {
			if c.Count > 0 {
				levels.add(strings.ToUpper(c.Key), c.Count)
			}
		}
		for _, c := range r.KeywordFrequency {
			keywords.add(c.Key, nonNegative(c.Count))
		}
		for _, c := range r.IPOccurrences {
			ips.add(c.Key, nonNegative(c.Count))
		}
	}

	view.Levels = core.LevelFacet{Total: levels.total(), Details: e.levelDetails(levels)}
	view.Errors = e.errorFacet(levels)
	view.Keywords = keywordFacet(keywords)

	top := make([]core.IPCount, 0, len(ips.order))
	for _, addr := range ips.order {
		top = append(top, core.IPCount{Address: addr, Count: ips.counts[addr]})
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > e.topIPs {
		top = top[:e.topIPs]
	}
	view.IPs = core.IPFacet{Unique: int64(len(ips.order)), Top: top}
	return view
}

// levelOrder sorts recognized levels by enumeration and unrecognized ones
// after them by first encounter.
func (e *Engine) levelOrder(t *tally) []string {
	keys := append([]string(nil), t.order...)
	pos := func(k string) int {
		if r, ok := e.rank[k]; ok {
			return r
		}
		return len(e.levels)
	}
	sort.SliceStable(keys, func(i, j int) bool { return pos(keys[i]) < pos(keys[j]) })
	return keys
}

func (e *Engine) levelDetails(t *tally) []core.LevelDetail {
	out := make([]core.LevelDetail, 0, len(t.order))
	for _, k := range e.levelOrder(t) {
		out = append(out, core.LevelDetail{Type: k, Count: t.counts[k]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func (e *Engine) errorFacet(levels *tally) core.ErrorFacet {
	f := core.ErrorFacet{Details: []core.LevelDetail{}}
	for _, k := range e.levelOrder(levels) {
		n := levels.counts[k]
		if !e.isError[k] || n <= 0 {
			continue
		}
		f.Total += n
		f.Details = append(f.Details, core.LevelDetail{Type: k, Count: n})
	}
	sort.SliceStable(f.Details, func(i, j int) bool { return f.Details[i].Count > f.Details[j].Count })
	return f
}

func keywordFacet(t *tally) core.KeywordFacet {
	f := core.KeywordFacet{Matches: make([]core.KeywordDetail, 0, len(t.order))}
	for _, k := range t.order {
		f.Matches = append(f.Matches, core.KeywordDetail{Word: k, Count: t.counts[k]})
		f.Total += t.counts[k]
	}
	sort.SliceStable(f.Matches, func(i, j int) bool { return f.Matches[i].Count > f.Matches[j].Count })
	return f
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
