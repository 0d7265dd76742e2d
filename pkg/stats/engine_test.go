package stats

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/logqueue/pkg/analyze"
	"github.com/jdziat/logqueue/pkg/core"
)

func levelTypes(details []core.LevelDetail) []string {
	out := make([]string, len(details))
	for i, d := range details {
		out[i] = d.Type
	}
	return out
}

func sumLevels(details []core.LevelDetail) int64 {
	var n int64
	for _, d := range details {
		n += d.Count
	}
	return n
}

func TestSingle_Absent(t *testing.T) {
	e := NewEngine(DefaultConfig())

	v := e.Single(nil)

	assert.Zero(t, v.Errors.Total)
	assert.Empty(t, v.Errors.Details)
	assert.Zero(t, v.IPs.Unique)
	assert.Empty(t, v.IPs.Top)
	assert.Zero(t, v.Keywords.Total)
	assert.Empty(t, v.Keywords.Matches)
	assert.Zero(t, v.Levels.Total)

	require.Len(t, v.Levels.Details, 7)
	assert.Equal(t, []string{"CRITICAL", "ERROR", "WARN", "WARNING", "INFO", "DEBUG", "TRACE"}, levelTypes(v.Levels.Details))
	for _, d := range v.Levels.Details {
		assert.Zero(t, d.Count)
	}
}

func TestMany_Empty(t *testing.T) {
	e := NewEngine(DefaultConfig())

	for _, in := range [][]core.RawStats{nil, {}} {
		v := e.Many(in)
		assert.Equal(t, core.EmptyView(), v)
		assert.NotNil(t, v.Levels.Details)
		assert.Empty(t, v.Levels.Details, "no zero-fill across jobs")
	}
}

func TestSingle_NormalizesAndRanksLevels(t *testing.T) {
	e := NewEngine(DefaultConfig())

	v := e.Single(&core.RawStats{
		LevelDistribution: core.Counts{
			{Key: "info", Count: 10},
			{Key: "error", Count: 3},
			{Key: "Critical", Count: 3},
			{Key: "warn", Count: 0},
			{Key: "INFO", Count: 2},
		},
	})

	assert.Equal(t, int64(18), v.Levels.Total)
	assert.Equal(t, v.Levels.Total, sumLevels(v.Levels.Details))
	require.Len(t, v.Levels.Details, 7)
	assert.Equal(t, core.LevelDetail{Type: "INFO", Count: 12}, v.Levels.Details[0])
	// Equal counts keep enumeration order.
	assert.Equal(t, core.LevelDetail{Type: "CRITICAL", Count: 3}, v.Levels.Details[1])
	assert.Equal(t, core.LevelDetail{Type: "ERROR", Count: 3}, v.Levels.Details[2])
	assert.Equal(t, []string{"WARN", "WARNING", "DEBUG", "TRACE"}, levelTypes(v.Levels.Details[3:]))

	assert.Equal(t, int64(6), v.Errors.Total)
	assert.Equal(t, []core.LevelDetail{{Type: "CRITICAL", Count: 3}, {Type: "ERROR", Count: 3}}, v.Errors.Details)
}

func TestSingle_UnrecognizedLevelsKeepTotalConsistent(t *testing.T) {
	e := NewEngine(DefaultConfig())

	v := e.Single(&core.RawStats{
		LevelDistribution: core.Counts{{Key: "notice", Count: 4}, {Key: "fatal", Count: 0}, {Key: "error", Count: 1}},
	})

	assert.Equal(t, int64(5), v.Levels.Total)
	assert.Equal(t, v.Levels.Total, sumLevels(v.Levels.Details))
	require.Len(t, v.Levels.Details, 9)
	assert.Equal(t, core.LevelDetail{Type: "NOTICE", Count: 4}, v.Levels.Details[0])
	assert.Equal(t, core.LevelDetail{Type: "ERROR", Count: 1}, v.Levels.Details[1])
	assert.Equal(t, "FATAL", v.Levels.Details[8].Type)
}

func TestSingle_KeywordsAndIPs(t *testing.T) {
	e := NewEngine(DefaultConfig())

	v := e.Single(&core.RawStats{
		KeywordFrequency: core.Counts{{Key: "timeout", Count: 2}, {Key: "refused", Count: 5}, {Key: "denied", Count: 2}, {Key: "panic", Count: 0}},
		UniqueIPs:        3,
		TopIPs:           []core.IPCount{{Address: "10.0.0.1", Count: 1}, {Address: "10.0.0.2", Count: 7}, {Address: "10.0.0.3", Count: 1}},
	})

	assert.Equal(t, int64(9), v.Keywords.Total)
	assert.Equal(t, []core.KeywordDetail{
		{Word: "refused", Count: 5},
		{Word: "timeout", Count: 2},
		{Word: "denied", Count: 2},
		{Word: "panic", Count: 0},
	}, v.Keywords.Matches)

	assert.Equal(t, int64(3), v.IPs.Unique)
	assert.Equal(t, []core.IPCount{
		{Address: "10.0.0.2", Count: 7},
		{Address: "10.0.0.1", Count: 1},
		{Address: "10.0.0.3", Count: 1},
	}, v.IPs.Top)
}

func TestMany_MergesLevels(t *testing.T) {
	e := NewEngine(DefaultConfig())

	v := e.Many([]core.RawStats{
		{LevelDistribution: core.Counts{{Key: "ERROR", Count: 3}, {Key: "info", Count: 2}}},
		{LevelDistribution: core.Counts{{Key: "Error", Count: 1}, {Key: "WARN", Count: 4}}},
	})

	assert.Equal(t, []core.LevelDetail{
		{Type: "ERROR", Count: 4},
		{Type: "WARN", Count: 4},
		{Type: "INFO", Count: 2},
	}, v.Levels.Details)
	assert.Equal(t, int64(10), v.Levels.Total)
	assert.Equal(t, int64(4), v.Errors.Total)
	assert.Equal(t, []core.LevelDetail{{Type: "ERROR", Count: 4}}, v.Errors.Details)
}

func TestMany_DropsNonPositiveLevels(t *testing.T) {
	e := NewEngine(DefaultConfig())

	v := e.Many([]core.RawStats{
		{LevelDistribution: core.Counts{{Key: "DEBUG", Count: 0}, {Key: "INFO", Count: -3}, {Key: "TRACE", Count: 1}}},
	})

	assert.Equal(t, []core.LevelDetail{{Type: "TRACE", Count: 1}}, v.Levels.Details)
	assert.Equal(t, int64(1), v.Levels.Total)
}

func TestMany_MergesIPOccurrences(t *testing.T) {
	e := NewEngine(DefaultConfig())

	v := e.Many([]core.RawStats{
		{IPOccurrences: core.Counts{{Key: "1.2.3.4", Count: 5}}},
		{IPOccurrences: core.Counts{{Key: "1.2.3.4", Count: 3}, {Key: "5.6.7.8", Count: 10}}},
	})

	assert.Equal(t, int64(2), v.IPs.Unique)
	assert.Equal(t, []core.IPCount{
		{Address: "5.6.7.8", Count: 10},
		{Address: "1.2.3.4", Count: 8},
	}, v.IPs.Top)
}

func TestMany_TopIPsTruncatedAfterFold(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// 9.9.9.9 is small in every record but largest once merged.
	var raws []core.RawStats
	for i := 0; i < 4; i++ {
		raws = append(raws, core.RawStats{IPOccurrences: core.Counts{
			{Key: "9.9.9.9", Count: 3},
			{Key: "10.0.0." + string(rune('1'+i)), Count: 5},
			{Key: "10.0.1." + string(rune('1'+i)), Count: 4},
		}})
	}

	v := e.Many(raws)
	assert.Equal(t, int64(9), v.IPs.Unique)
	require.Len(t, v.IPs.Top, 5)
	assert.Equal(t, core.IPCount{Address: "9.9.9.9", Count: 12}, v.IPs.Top[0])
}

func TestMany_OrderIndependentTotals(t *testing.T) {
	e := NewEngine(DefaultConfig())
	a := core.RawStats{
		LevelDistribution: core.Counts{{Key: "ERROR", Count: 2}, {Key: "INFO", Count: 9}},
		KeywordFrequency:  core.Counts{{Key: "timeout", Count: 4}},
		IPOccurrences:     core.Counts{{Key: "1.1.1.1", Count: 3}},
	}
	b := core.RawStats{
		LevelDistribution: core.Counts{{Key: "critical", Count: 1}, {Key: "INFO", Count: 1}},
		KeywordFrequency:  core.Counts{{Key: "refused", Count: 1}, {Key: "timeout", Count: 1}},
		IPOccurrences:     core.Counts{{Key: "2.2.2.2", Count: 7}, {Key: "1.1.1.1", Count: 1}},
	}

	ab := e.Many([]core.RawStats{a, b})
	ba := e.Many([]core.RawStats{b, a})

	assert.Equal(t, ab.Levels, ba.Levels)
	assert.Equal(t, ab.Errors, ba.Errors)
	assert.Equal(t, ab.IPs, ba.IPs)
	assert.Equal(t, ab.Keywords.Total, ba.Keywords.Total)
	assert.ElementsMatch(t, ab.Keywords.Matches, ba.Keywords.Matches)
}

// Many over one record matches Single for keywords and IPs. Levels differ:
// Single zero-fills the recognized vocabulary while Many lists only observed
// levels.
func TestMany_SingleElementMatchesSingle(t *testing.T) {
	e := NewEngine(DefaultConfig())
	raw := core.RawStats{
		LevelDistribution: core.Counts{{Key: "ERROR", Count: 2}},
		KeywordFrequency:  core.Counts{{Key: "timeout", Count: 3}, {Key: "refused", Count: 3}, {Key: "oom", Count: 8}},
		UniqueIPs:         2,
		TopIPs:            []core.IPCount{{Address: "5.6.7.8", Count: 10}, {Address: "1.2.3.4", Count: 8}},
		IPOccurrences:     core.Counts{{Key: "1.2.3.4", Count: 8}, {Key: "5.6.7.8", Count: 10}},
	}

	single := e.Single(&raw)
	many := e.Many([]core.RawStats{raw})

	assert.Equal(t, single.Keywords, many.Keywords)
	assert.Equal(t, single.IPs, many.IPs)
	assert.Equal(t, single.Errors, many.Errors)

	assert.Len(t, single.Levels.Details, 7)
	assert.Len(t, many.Levels.Details, 1)
	assert.Equal(t, single.Levels.Total, many.Levels.Total)
}

// Records written by the worker carry the analyzer's top list, which must
// survive a single-record fold unchanged.
func TestMany_SingleElementMatchesSingle_AnalyzedLog(t *testing.T) {
	var b strings.Builder
	hits := []int{1, 4, 2, 7, 3, 3, 5}
	for i, n := range hits {
		for j := 0; j < n; j++ {
			fmt.Fprintf(&b, "ERROR timeout from 10.0.0.%d\n", i+1)
		}
	}
	res, err := analyze.New(analyze.Config{}).Analyze(context.Background(), strings.NewReader(b.String()))
	require.NoError(t, err)
	require.Len(t, res.Stats.IPOccurrences, 7)

	e := NewEngine(DefaultConfig())
	single := e.Single(&res.Stats)
	many := e.Many([]core.RawStats{res.Stats})

	assert.Equal(t, single.IPs, many.IPs)
	assert.Equal(t, single.Keywords, many.Keywords)
	assert.Equal(t, int64(7), many.IPs.Unique)
	assert.Equal(t, []core.IPCount{
		{Address: "10.0.0.4", Count: 7},
		{Address: "10.0.0.7", Count: 5},
		{Address: "10.0.0.2", Count: 4},
		{Address: "10.0.0.5", Count: 3},
		{Address: "10.0.0.6", Count: 3},
	}, many.IPs.Top)
}

func TestEngine_CustomVocabulary(t *testing.T) {
	e := NewEngine(Config{Levels: []string{"fatal", "err", "ok"}, ErrorLevels: []string{"FATAL", "ERR"}})

	v := e.Single(nil)
	assert.Equal(t, []string{"FATAL", "ERR", "OK"}, levelTypes(v.Levels.Details))

	v = e.Single(&core.RawStats{LevelDistribution: core.Counts{{Key: "ok", Count: 1}, {Key: "err", Count: 2}, {Key: "ERROR", Count: 5}}})
	assert.Equal(t, int64(2), v.Errors.Total)
	assert.Equal(t, []string{"FATAL", "ERR", "OK"}, e.Levels())
}

func TestNewEngine_CopiesConfig(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg)
	cfg.Levels[0] = "MUTATED"

	assert.Equal(t, "CRITICAL", e.Levels()[0])
}

func TestView_ListInvariants(t *testing.T) {
	e := NewEngine(DefaultConfig())
	v := e.Many([]core.RawStats{
		{
			LevelDistribution: core.Counts{{Key: "INFO", Count: 3}, {Key: "ERROR", Count: 7}, {Key: "DEBUG", Count: 5}},
			KeywordFrequency:  core.Counts{{Key: "a", Count: 1}, {Key: "b", Count: 9}, {Key: "c", Count: 4}},
		},
	})

	for i := 1; i < len(v.Levels.Details); i++ {
		assert.GreaterOrEqual(t, v.Levels.Details[i-1].Count, v.Levels.Details[i].Count)
	}
	for i := 1; i < len(v.Keywords.Matches); i++ {
		assert.GreaterOrEqual(t, v.Keywords.Matches[i-1].Count, v.Keywords.Matches[i].Count)
	}
	assert.Equal(t, v.Levels.Total, sumLevels(v.Levels.Details))
	assert.Equal(t, v.Errors.Total, sumLevels(v.Errors.Details))
}
