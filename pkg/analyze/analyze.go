// Package analyze is the reference log analyzer the worker runs on each
// uploaded file. It produces the per-job statistics record.
package analyze

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/jdziat/logqueue/pkg/core"
)

// DefaultKeywords are counted when no keyword list is configured.
var DefaultKeywords = []string{"error", "exception", "failed", "timeout", "refused", "denied", "fatal", "panic"}

// ipv4Regex matches dotted-quad addresses.
var ipv4Regex = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])\.){3}(?:25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])\b`)

// maxLineSize bounds a single scanned line.
const maxLineSize = 1 << 20

// Config selects what the analyzer counts.
type Config struct {
	Levels   []string // Level names detected per line, first match wins
	Keywords []string
	TopIPs   int // Length of the ranked IP list, default core.TopIPLimit
}

// Result is the outcome of analyzing one file.
type Result struct {
	Stats          core.RawStats
	ProcessedLines int64 // Non-empty lines read
	ValidEntries   int64 // Lines carrying a recognized level
}

// Analyzer scans log text line by line.
type Analyzer struct {
	levelRe   *regexp.Regexp
	keywordRe *regexp.Regexp
	topIPs    int
}

// New builds an Analyzer. Empty fields fall back to the standard levels,
// DefaultKeywords and a top list of core.TopIPLimit.
func New(cfg Config) *Analyzer {
	levels := cfg.Levels
	if len(levels) == 0 {
		levels = []string{"CRITICAL", "ERROR", "WARNING", "WARN", "INFO", "DEBUG", "TRACE"}
	}
	keywords := cfg.Keywords
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	a := &Analyzer{
		levelRe:   alternation(levels),
		keywordRe: alternation(keywords),
		topIPs:    cfg.TopIPs,
	}
	if a.topIPs <= 0 {
		a.topIPs = core.TopIPLimit
	}
	return a
}

// alternation builds a case-insensitive whole-word matcher, longest first so
// that WARNING wins over WARN.
func alternation(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

type counter struct {
	index map[string]int
	out   core.Counts
}

func newCounter() *counter {
	return &counter{index: make(map[string]int), out: core.Counts{}}
}

func (c *counter) add(key string) {
	if i, ok := c.index[key]; ok {
		c.out[i].Count++
		return
	}
	c.index[key] = len(c.out)
	c.out = append(c.out, core.Count{Key: key, Count: 1})
}

// Analyze reads r to the end.
func (a *Analyzer) Analyze(ctx context.Context, r io.Reader) (Result, error) {
	var res Result
	levels, keywords, ips := newCounter(), newCounter(), newCounter()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		res.ProcessedLines++
		if res.ProcessedLines%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}

		if m := a.levelRe.FindString(line); m != "" {
			levels.add(strings.ToUpper(m))
			res.ValidEntries++
		}
		for _, m := range a.keywordRe.FindAllString(line, -1) {
			keywords.add(strings.ToLower(m))
		}
		for _, ip := range ipv4Regex.FindAllString(line, -1) {
			ips.add(ip)
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("analyze: read: %w", err)
	}

	top := make([]core.IPCount, len(ips.out))
	for i, c := range ips.out {
		top[i] = core.IPCount{Address: c.Key, Count: c.Count}
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > a.topIPs {
		top = top[:a.topIPs]
	}

	res.Stats = core.RawStats{
		LevelDistribution: levels.out,
		KeywordFrequency:  keywords.out,
		UniqueIPs:         int64(len(ips.out)),
		TopIPs:            top,
		IPOccurrences:     ips.out,
	}
	return res, nil
}
