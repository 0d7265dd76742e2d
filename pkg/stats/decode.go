package stats

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jdziat/logqueue/pkg/core"
)

// ErrMalformed is returned for statistics payloads of an unexpected shape.
var ErrMalformed = errors.New("stats: malformed statistics payload")

// Record is a stored statistics row with its JSON columns undecoded.
type Record struct {
	JobID             string
	LevelDistribution []byte
	KeywordFrequency  []byte
	UniqueIPs         int64
	TopIPs            []byte
	IPOccurrences     []byte
	CreatedAt         time.Time
}

// DecodeRecord validates a stored row and converts it to core.RawStats.
func DecodeRecord(r Record) (core.RawStats, error) {
	raw := core.RawStats{JobID: r.JobID, UniqueIPs: nonNegative(r.UniqueIPs), CreatedAt: r.CreatedAt}
	var err error
	if raw.LevelDistribution, err = DecodeCounts(r.LevelDistribution); err != nil {
		return raw, fmt.Errorf("job %s level_distribution: %w", r.JobID, err)
	}
	if raw.KeywordFrequency, err = DecodeCounts(r.KeywordFrequency); err != nil {
		return raw, fmt.Errorf("job %s keyword_frequency: %w", r.JobID, err)
	}
	if raw.TopIPs, err = DecodeTopIPs(r.TopIPs); err != nil {
		return raw, fmt.Errorf("job %s top_ips: %w", r.JobID, err)
	}
	if raw.IPOccurrences, err = DecodeCounts(r.IPOccurrences); err != nil {
		return raw, fmt.Errorf("job %s ip_occurrences: %w", r.JobID, err)
	}
	return raw, nil
}

// DecodeCounts decodes a JSON object of key to count, keeping key order.
// Counts may be integral numbers or numeric strings; negative counts become
// zero. Repeated keys are summed at their first position. Empty input and
// null decode to an empty mapping.
func DecodeCounts(data []byte) (core.Counts, error) {
	out := core.Counts{}
	if isNull(data) {
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: expected object", ErrMalformed)
	}

	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		key, _ := tok.(string)

		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		n, err := parseCount(v)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrMalformed, key, err)
		}

		if i, seen := index[key]; seen {
			out[i].Count += n
			continue
		}
		index[key] = len(out)
		out = append(out, core.Count{Key: key, Count: n})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

// DecodeTopIPs decodes a JSON array of {ip|address, count} objects.
func DecodeTopIPs(data []byte) ([]core.IPCount, error) {
	out := []core.IPCount{}
	if isNull(data) {
		return out, nil
	}

	var entries []struct {
		IP      string `json:"ip"`
		Address string `json:"address"`
		Count   any    `json:"count"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, e := range entries {
		addr := e.Address
		if addr == "" {
			addr = e.IP
		}
		if addr == "" {
			return nil, fmt.Errorf("%w: entry without address", ErrMalformed)
		}
		n, err := parseCount(e.Count)
		if err != nil {
			return nil, fmt.Errorf("%w: ip %q: %v", ErrMalformed, addr, err)
		}
		out = append(out, core.IPCount{Address: addr, Count: n})
	}
	return out, nil
}

// EncodeCounts encodes counts as a JSON object in their stored order.
func EncodeCounts(c core.Counts) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(e.Key)
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(e.Count, 10))
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// EncodeTopIPs encodes a ranked IP list as [{"ip":..,"count":..}].
func EncodeTopIPs(ips []core.IPCount) []byte {
	type entry struct {
		IP    string `json:"ip"`
		Count int64  `json:"count"`
	}
	entries := make([]entry, len(ips))
	for i, ip := range ips {
		entries[i] = entry{IP: ip.Address, Count: ip.Count}
	}
	data, _ := json.Marshal(entries)
	return data
}

func isNull(data []byte) bool {
	s := bytes.TrimSpace(data)
	return len(s) == 0 || bytes.Equal(s, []byte("null"))
}

func parseCount(v any) (int64, error) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0, fmt.Errorf("count has type %T", v)
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return nonNegative(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, fmt.Errorf("count %q is not an integer", s)
	}
	if f < 0 {
		return 0, nil
	}
	if f >= math.MaxInt64 {
		return 0, fmt.Errorf("count %q overflows", s)
	}
	return int64(f), nil
}
