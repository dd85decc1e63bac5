package usage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// DailyUsage is aggregated usage for one calendar day.
type DailyUsage struct {
	Date         string // YYYY-MM-DD
	InputTokens  int
	OutputTokens int
	CachedTokens int
	ModelsUsed   []string
}

// TotalTokens returns the day's combined token count.
func (d DailyUsage) TotalTokens() int {
	return d.InputTokens + d.OutputTokens + d.CachedTokens
}

// FilterOptions narrows which log entries a report covers.
type FilterOptions struct {
	Since    time.Time
	Until    time.Time
	Provider string
}

func (o FilterOptions) matches(e Entry) bool {
	if o.Provider != "" && e.Provider != o.Provider {
		return false
	}
	if !o.Since.IsZero() && e.Timestamp.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && e.Timestamp.After(o.Until) {
		return false
	}
	return true
}

// LoadEntries reads the JSONL log at path, skipping unparseable lines.
// A missing file yields no entries.
func LoadEntries(path string, opts FilterOptions) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open usage log: %w", err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if opts.matches(e) {
			out = append(out, e)
		}
	}
	return out, scanner.Err()
}

// AggregateDaily groups entries by local calendar day, oldest first.
func AggregateDaily(entries []Entry) []DailyUsage {
	byDay := make(map[string]*DailyUsage)
	models := make(map[string]map[string]bool)

	for _, e := range entries {
		date := e.Timestamp.Local().Format("2006-01-02")
		day, ok := byDay[date]
		if !ok {
			day = &DailyUsage{Date: date}
			byDay[date] = day
			models[date] = make(map[string]bool)
		}
		day.InputTokens += e.InputTokens
		day.OutputTokens += e.OutputTokens
		day.CachedTokens += e.CachedTokens
		if e.Model != "" {
			models[date][e.Model] = true
		}
	}

	out := make([]DailyUsage, 0, len(byDay))
	for date, day := range byDay {
		for m := range models[date] {
			day.ModelsUsed = append(day.ModelsUsed, m)
		}
		sort.Strings(day.ModelsUsed)
		out = append(out, *day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
